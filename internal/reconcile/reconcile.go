// Package reconcile writes normalized documents against what is already
// stored, using either an idempotent upsert or a field-level merge.
package reconcile

import (
	"context"
	"fmt"

	"github.com/agentworkforce/graphsync/internal/docstore"
)

type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeDuplicate
	OutcomeModified
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeModified:
		return "modified"
	case OutcomeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

type Result struct {
	Outcome Outcome
	// Changed lists the fields written by a merge, sorted.
	Changed []string
}

// RecordError is a failure confined to one record. The run continues.
type RecordError struct {
	ID  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("record %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

type Reconciler interface {
	Apply(ctx context.Context, doc docstore.Document) (Result, error)
}

// UpsertPolicy suits append-only logs: a record already stored is counted as
// a duplicate and not compared.
type UpsertPolicy struct {
	Store      docstore.Store
	Collection docstore.Collection
	Validator  *Validator
}

func (p *UpsertPolicy) Apply(ctx context.Context, doc docstore.Document) (Result, error) {
	id := p.Collection.KeyOf(doc)
	if err := p.Validator.Validate(doc); err != nil {
		return Result{}, &RecordError{ID: id, Err: err}
	}
	inserted, err := p.Store.Upsert(ctx, p.Collection, doc)
	if err != nil {
		return Result{}, &RecordError{ID: id, Err: err}
	}
	if inserted {
		return Result{Outcome: OutcomeInserted}, nil
	}
	return Result{Outcome: OutcomeDuplicate}, nil
}

// MergePolicy suits mutable records: only the fields that changed since the
// stored version are written.
type MergePolicy struct {
	Store      docstore.Store
	Collection docstore.Collection
	Validator  *Validator
}

func (p *MergePolicy) Apply(ctx context.Context, doc docstore.Document) (Result, error) {
	id := p.Collection.KeyOf(doc)
	if err := p.Validator.Validate(doc); err != nil {
		return Result{}, &RecordError{ID: id, Err: err}
	}
	stored, found, err := p.Store.FindOne(ctx, p.Collection, id)
	if err != nil {
		return Result{}, &RecordError{ID: id, Err: err}
	}
	if !found {
		if err := p.Store.Insert(ctx, p.Collection, doc); err != nil {
			return Result{}, &RecordError{ID: id, Err: err}
		}
		return Result{Outcome: OutcomeInserted}, nil
	}
	changed, names := Diff(stored, doc)
	if len(names) == 0 {
		return Result{Outcome: OutcomeUnchanged}, nil
	}
	if err := p.Store.UpdateFields(ctx, p.Collection, id, changed); err != nil {
		return Result{}, &RecordError{ID: id, Err: err}
	}
	return Result{Outcome: OutcomeModified, Changed: names}, nil
}
