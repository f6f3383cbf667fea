package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/agentworkforce/graphsync/internal/config"
	"github.com/agentworkforce/graphsync/internal/docstore"
	"github.com/agentworkforce/graphsync/internal/graph"
	"github.com/agentworkforce/graphsync/internal/metrics"
	"github.com/agentworkforce/graphsync/internal/pager"
	"github.com/agentworkforce/graphsync/internal/syncer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type runOptions struct {
	Streams         []string
	MetricsTextfile string
	PageSize        int
}

func newRunCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync the selected streams once",
		Long: `Sync principals, sign-ins and audits into the document store.

Each stream resumes from its stored checkpoint. Streams run one after another
and a failure in one does not stop the others. Record-level failures are
logged and summarized but do not change the exit code.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Streams, "stream", "s", nil, "stream to sync (principals|sign_ins|audits); repeatable, default all")
	cmd.Flags().StringVar(&opts.MetricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file after the run")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "page size ($top) override")

	return cmd
}

func runSync(cmd *cobra.Command, rootOpts *rootOptions, opts *runOptions) error {
	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	if opts.MetricsTextfile != "" {
		cfg.Metrics.Textfile = opts.MetricsTextfile
	}
	if opts.PageSize > 0 {
		cfg.Sync.PageSize = opts.PageSize
	}
	if len(opts.Streams) > 0 {
		cfg.Sync.Streams = opts.Streams
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	streams, err := parseStreams(cfg.Sync.Streams)
	if err != nil {
		return configError(err)
	}
	logger, err := rootOpts.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := buildClient(cfg)
	if err != nil {
		return configError(err)
	}
	store, err := docstore.BuildFromDSN(ctx, cfg.Store.DSN, docstore.Options{Database: cfg.Store.Database})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close failed", zap.Error(err))
		}
	}()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}

	recorder := metrics.NewRecorder()
	s, err := syncer.New(syncer.Options{
		Store:   store,
		Fetcher: client,
		Controller: pager.ControllerOptions{
			PageDelay:          cfg.Sync.PageDelay,
			DefaultRetryAfter:  cfg.Sync.DefaultRetryAfter,
			MaxThrottleRetries: cfg.Sync.MaxThrottleRetries,
		},
		PageSize: cfg.Sync.PageSize,
		Logger:   logger,
		Observer: recorder,
	})
	if err != nil {
		return err
	}

	logger.Info("sync starting", zap.Strings("streams", streamNames(streams)))
	summaries := s.RunAll(ctx, streams...)

	if cfg.Metrics.Textfile != "" {
		if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Error("metrics textfile write failed", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
		}
	}
	if err := writeSummaries(cmd.OutOrStdout(), rootOpts.Output, summaries); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sync interrupted: %w", err)
	}
	return nil
}

func buildClient(cfg *config.Config) (*graph.Client, error) {
	tokens, err := graph.ClientCredentials(graph.ClientCredentialsOptions{
		TenantID:     cfg.Graph.TenantID,
		ClientID:     cfg.Graph.ClientID,
		ClientSecret: cfg.Graph.ClientSecret,
		TokenURL:     cfg.Graph.TokenURL,
	})
	if err != nil {
		return nil, err
	}
	return graph.NewClient(graph.ClientOptions{
		BaseURL:       cfg.Graph.BaseURL,
		TokenProvider: tokens,
		HTTPClient:    &http.Client{Timeout: cfg.Graph.Timeout},
		UserAgent:     "graphsync/" + version,
		MaxRetries:    cfg.Graph.MaxRetries,
	})
}

func parseStreams(values []string) ([]syncer.StreamID, error) {
	var ids []syncer.StreamID
	seen := map[syncer.StreamID]bool{}
	for _, value := range values {
		id, ok := syncer.ParseStreamID(value)
		if !ok {
			return nil, fmt.Errorf("unknown stream %q", value)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func streamNames(ids []syncer.StreamID) []string {
	if len(ids) == 0 {
		ids = syncer.AllStreams
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, string(id))
	}
	return names
}

type summaryView struct {
	Stream             string   `json:"stream"`
	RunID              string   `json:"runId"`
	State              string   `json:"state"`
	Fetched            int      `json:"fetched"`
	Inserted           int      `json:"inserted"`
	Duplicates         int      `json:"duplicates"`
	Modified           int      `json:"modified"`
	Unchanged          int      `json:"unchanged"`
	Failed             int      `json:"failed"`
	Pages              int      `json:"pages"`
	Throttles          int      `json:"throttles"`
	FailedIDs          []string `json:"failedIds,omitempty"`
	StoredBefore       int64    `json:"storedBefore"`
	Checkpoint         string   `json:"checkpoint,omitempty"`
	CheckpointAdvanced bool     `json:"checkpointAdvanced"`
	Error              string   `json:"error,omitempty"`
	DurationMs         int64    `json:"durationMs"`
}

func viewOf(s syncer.Summary) summaryView {
	view := summaryView{
		Stream:             string(s.Stream),
		RunID:              s.RunID,
		State:              s.State.String(),
		Fetched:            s.Fetched,
		Inserted:           s.Inserted,
		Duplicates:         s.Duplicates,
		Modified:           s.Modified,
		Unchanged:          s.Unchanged,
		Failed:             s.Failed,
		Pages:              s.Pages,
		Throttles:          s.Throttles,
		FailedIDs:          s.FailedIDs,
		StoredBefore:       s.StoredBefore,
		CheckpointAdvanced: s.CheckpointAdvanced,
		DurationMs:         s.Duration.Milliseconds(),
	}
	if s.Checkpoint != nil {
		view.Checkpoint = s.Checkpoint.FilterValue()
	}
	if s.Err != nil {
		view.Error = s.Err.Error()
	}
	return view
}

func writeSummaries(w io.Writer, output string, summaries []syncer.Summary) error {
	views := make([]summaryView, 0, len(summaries))
	for _, s := range summaries {
		views = append(views, viewOf(s))
	}
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	for _, v := range views {
		fmt.Fprintf(w, "%s: %s (fetched %d, inserted %d, duplicates %d, modified %d, unchanged %d, failed %d, pages %d)\n",
			v.Stream, v.State, v.Fetched, v.Inserted, v.Duplicates, v.Modified, v.Unchanged, v.Failed, v.Pages)
		if v.Checkpoint != "" {
			marker := "kept"
			if v.CheckpointAdvanced {
				marker = "advanced"
			}
			fmt.Fprintf(w, "  checkpoint %s (%s)\n", v.Checkpoint, marker)
		}
		if len(v.FailedIDs) > 0 {
			fmt.Fprintf(w, "  failed ids: %s\n", strings.Join(v.FailedIDs, ", "))
		}
		if v.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", v.Error)
		}
	}
	return nil
}
