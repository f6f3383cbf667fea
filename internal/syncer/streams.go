package syncer

import (
	"context"
	"strings"

	"github.com/agentworkforce/graphsync/internal/docstore"
	"github.com/agentworkforce/graphsync/internal/graph"
	"github.com/agentworkforce/graphsync/internal/normalize"
	"github.com/agentworkforce/graphsync/internal/pager"
	"github.com/agentworkforce/graphsync/internal/reconcile"
	"go.uber.org/zap"
)

type StreamID string

const (
	StreamPrincipals StreamID = "principals"
	StreamSignIns    StreamID = "sign_ins"
	StreamAudits     StreamID = "audits"
)

// AllStreams is the order streams run in when none are selected.
var AllStreams = []StreamID{StreamPrincipals, StreamSignIns, StreamAudits}

func ParseStreamID(value string) (StreamID, bool) {
	id := StreamID(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range AllStreams {
		if id == known {
			return id, true
		}
	}
	return "", false
}

type streamInfo struct {
	ID StreamID
	// CheckpointKey is the stream's "type" in the checkpoint collection.
	CheckpointKey string
	Collection    docstore.Collection
	Query         pager.Query
	Schema        reconcile.Schema
	// Merge selects field-level reconciliation instead of upsert.
	Merge bool
}

// Ordered streams are filtered by timestamp and must arrive newest first.
func (i streamInfo) Ordered() bool {
	return i.Query.FilterField != ""
}

// observed is one decoded record, with normalization deferred.
type observed struct {
	ID        string
	Timestamp string
	Normalize func() docstore.Document
}

type pageVisit struct {
	Number      int
	Rejected    int
	RejectedIDs []string
	Records     []observed
}

type stream interface {
	info() streamInfo
	walk(ctx context.Context, fetcher pager.Fetcher, controller *pager.Controller, logger *zap.Logger, req pager.Request, visit func(pageVisit) error) error
}

type streamDef[T any] struct {
	streamInfo
	id        func(T) string
	timestamp func(T) string
	normalize func(T) docstore.Document
}

func (d streamDef[T]) info() streamInfo {
	return d.streamInfo
}

func (d streamDef[T]) walk(ctx context.Context, fetcher pager.Fetcher, controller *pager.Controller, logger *zap.Logger, req pager.Request, visit func(pageVisit) error) error {
	walker := pager.NewWalker[T](fetcher, controller, pager.WalkerOptions{Stream: string(d.ID), Logger: logger})
	return walker.Walk(ctx, req, func(page pager.Page[T]) error {
		records := make([]observed, 0, len(page.Records))
		for _, record := range page.Records {
			record := record
			obs := observed{
				ID:        d.id(record),
				Normalize: func() docstore.Document { return d.normalize(record) },
			}
			if d.timestamp != nil {
				obs.Timestamp = d.timestamp(record)
			}
			records = append(records, obs)
		}
		return visit(pageVisit{Number: page.Number, Rejected: page.Rejected, RejectedIDs: page.RejectedIDs, Records: records})
	})
}

func definitions(pageSize int) map[StreamID]stream {
	return map[StreamID]stream{
		StreamPrincipals: streamDef[graph.User]{
			streamInfo: streamInfo{
				ID:            StreamPrincipals,
				CheckpointKey: "users",
				Collection:    docstore.Collection{Name: "users", Key: normalize.PrincipalKey},
				// No timestamp filter: attribute changes do not move any
				// server-side timestamp, so every run is a full scan.
				Query:  pager.Query{Resource: graph.ResourceUsers, Select: graph.UserSelectFields, Top: pageSize},
				Schema: reconcile.SchemaPrincipal,
				Merge:  true,
			},
			id:        func(u graph.User) string { return u.ID },
			normalize: normalize.Principal,
		},
		StreamSignIns: streamDef[graph.SignIn]{
			streamInfo: streamInfo{
				ID:            StreamSignIns,
				CheckpointKey: "sign_in_logs",
				Collection:    docstore.Collection{Name: "sign_in_logs", Key: normalize.LogKey},
				Query:         pager.Query{Resource: graph.ResourceSignIns, FilterField: graph.FieldCreatedDateTime, Top: pageSize},
				Schema:        reconcile.SchemaSignIn,
			},
			id:        func(s graph.SignIn) string { return s.ID },
			timestamp: func(s graph.SignIn) string { return s.CreatedDateTime },
			normalize: normalize.SignIn,
		},
		StreamAudits: streamDef[graph.DirectoryAudit]{
			streamInfo: streamInfo{
				ID:            StreamAudits,
				CheckpointKey: "audit_logs",
				Collection:    docstore.Collection{Name: "audit_logs", Key: normalize.LogKey},
				Query:         pager.Query{Resource: graph.ResourceDirectoryAudits, FilterField: graph.FieldActivityDateTime, Top: pageSize},
				Schema:        reconcile.SchemaAudit,
			},
			id:        func(a graph.DirectoryAudit) string { return a.ID },
			timestamp: func(a graph.DirectoryAudit) string { return a.ActivityDateTime },
			normalize: normalize.Audit,
		},
	}
}

// CheckpointKeys maps streams to their key in the checkpoint collection.
func CheckpointKeys(ids ...StreamID) []string {
	defs := definitions(0)
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if def, ok := defs[id]; ok {
			keys = append(keys, def.info().CheckpointKey)
		}
	}
	return keys
}
