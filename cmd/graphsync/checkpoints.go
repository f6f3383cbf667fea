package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentworkforce/graphsync/internal/checkpoint"
	"github.com/agentworkforce/graphsync/internal/docstore"
	"github.com/agentworkforce/graphsync/internal/syncer"
	"github.com/spf13/cobra"
)

func newCheckpointsCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints",
		Short: "Show the stored checkpoint of every stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return configError(err)
			}
			ctx := cmd.Context()
			store, err := docstore.BuildFromDSN(ctx, cfg.Store.DSN, docstore.Options{Database: cfg.Store.Database})
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer store.Close()
			if err := store.Ping(ctx); err != nil {
				return fmt.Errorf("failed to connect to store: %w", err)
			}

			checkpoints, err := checkpoint.NewStore(store).List(ctx, syncer.CheckpointKeys(syncer.AllStreams...)...)
			if err != nil {
				return err
			}
			return writeCheckpoints(cmd, rootOpts.Output, checkpoints)
		},
	}
}

type checkpointView struct {
	Stream             string `json:"type"`
	LastFetchTimestamp string `json:"lastFetchTimestamp"`
	LastRecordID       string `json:"lastLogId,omitempty"`
	UpdatedAt          string `json:"updatedAt,omitempty"`
}

func writeCheckpoints(cmd *cobra.Command, output string, checkpoints []checkpoint.Checkpoint) error {
	w := cmd.OutOrStdout()
	views := make([]checkpointView, 0, len(checkpoints))
	for _, cp := range checkpoints {
		view := checkpointView{
			Stream:             cp.Stream,
			LastFetchTimestamp: cp.FilterValue(),
			LastRecordID:       cp.LastRecordID,
		}
		if !cp.UpdatedAt.IsZero() {
			view.UpdatedAt = cp.UpdatedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, view)
	}
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	if len(views) == 0 {
		fmt.Fprintln(w, "no checkpoints stored")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(w, "%-12s %s %s\n", v.Stream, v.LastFetchTimestamp, v.LastRecordID)
	}
	return nil
}
