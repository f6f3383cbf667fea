// Package syncer runs the incremental sync of each stream: resume from the
// stored checkpoint, walk the remote pages, reconcile every record, then
// advance the checkpoint to the first record seen.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkforce/graphsync/internal/checkpoint"
	"github.com/agentworkforce/graphsync/internal/docstore"
	"github.com/agentworkforce/graphsync/internal/pager"
	"github.com/agentworkforce/graphsync/internal/reconcile"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrOrderViolation means a filtered stream delivered a record newer than its
// predecessor, so the first record is not known to be the newest and the
// checkpoint is left where it was.
var ErrOrderViolation = errors.New("records not in descending timestamp order")

// ErrUnusableTimestamp means the first record of a filtered stream had no
// parseable timestamp, so no checkpoint can be derived from it.
var ErrUnusableTimestamp = errors.New("first record has no usable timestamp")

// Observer receives run events, typically to export metrics.
type Observer interface {
	PageFetched(stream string)
	Throttled(stream string)
	RecordOutcome(stream, outcome string)
	RunFinished(stream, state string, at time.Time)
}

type Options struct {
	Store   docstore.Store
	Fetcher pager.Fetcher
	// Checkpoints defaults to a checkpoint store over Store.
	Checkpoints *checkpoint.Store
	Controller  pager.ControllerOptions
	// PageSize sets $top on every query when positive.
	PageSize int
	Logger   *zap.Logger
	Observer Observer
	Now      func() time.Time
}

type Syncer struct {
	store       docstore.Store
	fetcher     pager.Fetcher
	checkpoints *checkpoint.Store
	controller  pager.ControllerOptions
	logger      *zap.Logger
	observer    Observer
	now         func() time.Time
	streams     map[StreamID]stream
	reconcilers map[StreamID]reconcile.Reconciler
}

type Summary struct {
	Stream     StreamID
	RunID      string
	State      State
	Fetched    int
	Inserted   int
	Duplicates int
	Modified   int
	Unchanged  int
	Failed     int
	Pages      int
	Throttles  int
	FailedIDs  []string
	// StoredBefore is the collection size when the run started.
	StoredBefore int64
	// Checkpoint is the stream's stored checkpoint after the run, nil when
	// there is none.
	Checkpoint *checkpoint.Checkpoint
	// CheckpointAdvanced reports whether this run wrote Checkpoint.
	CheckpointAdvanced bool
	Err                error
	Duration           time.Duration
}

func New(opts Options) (*Syncer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	checkpoints := opts.Checkpoints
	if checkpoints == nil {
		checkpoints = checkpoint.NewStore(opts.Store)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Syncer{
		store:       opts.Store,
		fetcher:     opts.Fetcher,
		checkpoints: checkpoints,
		controller:  opts.Controller,
		logger:      logger,
		observer:    opts.Observer,
		now:         now,
		streams:     definitions(opts.PageSize),
		reconcilers: map[StreamID]reconcile.Reconciler{},
	}
	for id, def := range s.streams {
		info := def.info()
		validator, err := reconcile.NewValidator(info.Schema)
		if err != nil {
			return nil, err
		}
		if info.Merge {
			s.reconcilers[id] = &reconcile.MergePolicy{Store: s.store, Collection: info.Collection, Validator: validator}
		} else {
			s.reconcilers[id] = &reconcile.UpsertPolicy{Store: s.store, Collection: info.Collection, Validator: validator}
		}
	}
	return s, nil
}

// RunAll runs the given streams, or all of them, one after another. A
// failure in one stream does not stop the next.
func (s *Syncer) RunAll(ctx context.Context, ids ...StreamID) []Summary {
	if len(ids) == 0 {
		ids = AllStreams
	}
	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		summaries = append(summaries, s.Run(ctx, id))
	}
	return summaries
}

// Run performs one sync of a stream. Failures are reported in the summary;
// record-level failures leave State at StateDone.
func (s *Syncer) Run(ctx context.Context, id StreamID) Summary {
	run := &streamRun{
		syncer:  s,
		summary: Summary{Stream: id, RunID: uuid.NewString()},
		started: s.now(),
	}
	run.logger = s.logger.With(zap.String("stream", string(id)), zap.String("run_id", run.summary.RunID))

	def, ok := s.streams[id]
	if !ok {
		run.summary.Err = fmt.Errorf("unknown stream %q", id)
		run.summary.State = StateAborted
		return run.summary
	}
	run.info = def.info()
	run.reconciler = s.reconcilers[id]
	run.execute(ctx, def)

	if !run.summary.CheckpointAdvanced {
		run.summary.Checkpoint = run.previous
	}
	run.summary.State = run.machine.state
	run.summary.Duration = s.now().Sub(run.started)
	if s.observer != nil {
		s.observer.RunFinished(string(id), run.summary.State.String(), s.now())
	}
	fields := []zap.Field{
		zap.String("state", run.summary.State.String()),
		zap.Int("fetched", run.summary.Fetched),
		zap.Int("inserted", run.summary.Inserted),
		zap.Int("duplicates", run.summary.Duplicates),
		zap.Int("modified", run.summary.Modified),
		zap.Int("unchanged", run.summary.Unchanged),
		zap.Int("failed", run.summary.Failed),
		zap.Int("pages", run.summary.Pages),
		zap.Int("throttles", run.summary.Throttles),
		zap.Bool("checkpoint_advanced", run.summary.CheckpointAdvanced),
		zap.Duration("duration", run.summary.Duration),
	}
	if run.summary.Err != nil {
		run.logger.Error("stream run finished with error", append(fields, zap.Error(run.summary.Err))...)
	} else {
		run.logger.Info("stream run finished", fields...)
	}
	return run.summary
}

type streamRun struct {
	syncer     *Syncer
	info       streamInfo
	reconciler reconcile.Reconciler
	logger     *zap.Logger
	machine    machine
	summary    Summary
	started    time.Time

	previous      *checkpoint.Checkpoint
	candidate     *checkpoint.Checkpoint
	tracked       int
	lastTimestamp time.Time
	// hold keeps the stored checkpoint when the run cannot vouch for its
	// first record.
	hold bool
}

func (r *streamRun) execute(ctx context.Context, def stream) {
	if !r.enter(StateLoadingCheckpoint) {
		return
	}
	previous, err := r.loadCheckpoint(ctx)
	if err != nil {
		r.abort(err)
		return
	}
	r.previous = previous

	if !r.enter(StatePaginating) {
		return
	}
	controllerOpts := r.syncer.controller
	if controllerOpts.Logger == nil {
		controllerOpts.Logger = r.logger
	}
	onThrottle := controllerOpts.OnThrottle
	controllerOpts.OnThrottle = func(wait time.Duration) {
		r.summary.Throttles++
		if r.syncer.observer != nil {
			r.syncer.observer.Throttled(string(r.info.ID))
		}
		if onThrottle != nil {
			onThrottle(wait)
		}
	}
	controller := pager.NewController(controllerOpts)
	req := pager.Begin(r.info.Query, previous)
	r.logger.Info("fetching", zap.String("request", req.Link))

	err = def.walk(ctx, r.syncer.fetcher, controller, r.logger, req, func(page pageVisit) error {
		return r.visitPage(ctx, page)
	})
	if err != nil {
		r.abort(err)
		return
	}

	if !r.enter(StateFinalizing) {
		return
	}
	r.finalize(ctx)
}

func (r *streamRun) loadCheckpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	if err := r.syncer.store.EnsureCollection(ctx, r.info.Collection); err != nil {
		return nil, fmt.Errorf("ensure collection %s: %w", r.info.Collection.Name, err)
	}
	count, err := r.syncer.store.Count(ctx, r.info.Collection)
	if err != nil {
		return nil, fmt.Errorf("count %s: %w", r.info.Collection.Name, err)
	}
	r.summary.StoredBefore = count
	r.logger.Info("stored documents", zap.String("collection", r.info.Collection.Name), zap.Int64("count", count))

	cp, ok, err := r.syncer.checkpoints.Read(ctx, r.info.CheckpointKey)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	if !ok {
		r.logger.Info("no checkpoint, fetching everything")
		return nil, nil
	}
	r.logger.Info("resuming from checkpoint",
		zap.String("last_fetch_timestamp", cp.FilterValue()),
		zap.String("last_record_id", cp.LastRecordID),
	)
	return &cp, nil
}

func (r *streamRun) visitPage(ctx context.Context, page pageVisit) error {
	r.summary.Pages++
	if r.syncer.observer != nil {
		r.syncer.observer.PageFetched(string(r.info.ID))
	}
	if page.Rejected > 0 {
		r.summary.Failed += page.Rejected
		r.summary.FailedIDs = append(r.summary.FailedIDs, page.RejectedIDs...)
		r.observe("failed", page.Rejected)
	}
	r.logger.Debug("page fetched", zap.Int("page", page.Number), zap.Int("records", len(page.Records)))

	for _, record := range page.Records {
		if !r.enter(StateNormalizing) {
			return r.summary.Err
		}
		r.summary.Fetched++
		r.track(record)
		doc := record.Normalize()

		if !r.enter(StateReconciling) {
			return r.summary.Err
		}
		r.reconcile(ctx, record.ID, doc)
	}
	if !r.enter(StatePaginating) {
		return r.summary.Err
	}
	return nil
}

// track captures the checkpoint candidate from the first record of the run
// and checks that filtered streams keep arriving newest first.
func (r *streamRun) track(record observed) {
	r.tracked++
	if !r.info.Ordered() {
		if r.candidate == nil {
			r.candidate = &checkpoint.Checkpoint{
				Stream:             r.info.CheckpointKey,
				LastFetchTimestamp: r.started,
				LastRecordID:       record.ID,
			}
		}
		return
	}
	ts, err := checkpoint.ParseTimestamp(record.Timestamp)
	if err != nil {
		if r.tracked == 1 {
			r.hold = true
			r.summary.Err = fmt.Errorf("%w: record %s has %q", ErrUnusableTimestamp, record.ID, record.Timestamp)
			r.logger.Error("first record has no usable timestamp, checkpoint will not advance",
				zap.String("record_id", record.ID), zap.Error(r.summary.Err))
			return
		}
		r.logger.Warn("record has no usable timestamp",
			zap.String("record_id", record.ID), zap.String("timestamp", record.Timestamp), zap.Error(err))
		return
	}
	if r.candidate == nil {
		r.candidate = &checkpoint.Checkpoint{
			Stream:             r.info.CheckpointKey,
			LastFetchTimestamp: ts,
			LastRecordID:       record.ID,
		}
		r.lastTimestamp = ts
		return
	}
	if ts.After(r.lastTimestamp) && !r.hold {
		r.hold = true
		r.summary.Err = fmt.Errorf("%w: record %s at %s follows %s",
			ErrOrderViolation, record.ID, checkpoint.FormatTimestamp(ts), checkpoint.FormatTimestamp(r.lastTimestamp))
		r.logger.Error("ordering assumption violated, checkpoint will not advance",
			zap.String("record_id", record.ID), zap.Error(r.summary.Err))
	}
	r.lastTimestamp = ts
}

func (r *streamRun) reconcile(ctx context.Context, id string, doc docstore.Document) {
	result, err := r.reconciler.Apply(ctx, doc)
	if err != nil {
		r.summary.Failed++
		r.summary.FailedIDs = append(r.summary.FailedIDs, id)
		r.observe("failed", 1)
		r.logger.Error("record write failed", zap.String("record_id", id), zap.Error(err))
		return
	}
	switch result.Outcome {
	case reconcile.OutcomeInserted:
		r.summary.Inserted++
	case reconcile.OutcomeDuplicate:
		r.summary.Duplicates++
	case reconcile.OutcomeModified:
		r.summary.Modified++
		r.logger.Info("record modified", zap.String("record_id", id), zap.Strings("fields", result.Changed))
	case reconcile.OutcomeUnchanged:
		r.summary.Unchanged++
	}
	r.observe(result.Outcome.String(), 1)
}

func (r *streamRun) finalize(ctx context.Context) {
	switch {
	case r.hold:
		r.logger.Warn("checkpoint left unchanged", zap.Error(r.summary.Err))
	case r.candidate == nil:
		r.logger.Info("no records observed, checkpoint left unchanged")
	default:
		r.candidate.UpdatedAt = r.syncer.now()
		if err := r.syncer.checkpoints.Write(ctx, *r.candidate); err != nil {
			r.abort(fmt.Errorf("write checkpoint: %w", err))
			return
		}
		r.summary.Checkpoint = r.candidate
		r.summary.CheckpointAdvanced = true
		r.logger.Info("checkpoint advanced",
			zap.String("last_fetch_timestamp", r.candidate.FilterValue()),
			zap.String("last_record_id", r.candidate.LastRecordID),
		)
	}
	r.enter(StateDone)
}

func (r *streamRun) enter(next State) bool {
	if err := r.machine.to(next); err != nil {
		r.summary.Err = err
		r.machine.state = StateAborted
		return false
	}
	return true
}

func (r *streamRun) abort(err error) {
	if r.machine.to(StateAborted) != nil {
		r.machine.state = StateAborted
	}
	r.summary.Err = err
}

func (r *streamRun) observe(outcome string, n int) {
	if r.syncer.observer == nil {
		return
	}
	for i := 0; i < n; i++ {
		r.syncer.observer.RecordOutcome(string(r.info.ID), outcome)
	}
}
