package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	ghadapter "github.com/devlens/devlens/internal/adapters/github"
	"github.com/devlens/devlens/internal/inference"
	"github.com/devlens/devlens/internal/pipeline"
)

var (
	ingestProject string
	ingestToken   string
	ingestSince   time.Duration
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <owner> <repo>",
	Short: "Backfill a project timeline from a GitHub repository",
	Args:  cobra.ExactArgs(2),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProject, "project", "", "project id (defaults to owner/repo)")
	ingestCmd.Flags().StringVar(&ingestToken, "token", "", "GitHub token (falls back to unauthenticated)")
	ingestCmd.Flags().DurationVar(&ingestSince, "since", 720*time.Hour, "how far back to fetch")
}

func runIngest(cmd *cobra.Command, args []string) error {
	owner, repo := args[0], args[1]
	if ingestProject == "" {
		ingestProject = owner + "/" + repo
	}

	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	inferrer := inference.New(cfg.Inference, a.oracles.Completer)
	pipe := pipeline.New(cfg.Pipeline, cfg.Inference, cfg.DefaultProjectID,
		a.timeline, a.graph, a.oracles.Embedder, inferrer, nil)
	pipe.Start(ctx)

	adapter := ghadapter.New(ingestToken, owner, repo)
	since := time.Now().Add(-ingestSince)
	events, err := adapter.FetchWindow(ctx, ingestProject, since)
	if err != nil {
		pipe.Stop()
		return fmt.Errorf("fetch %s/%s: %w", owner, repo, err)
	}

	accepted := 0
	for _, event := range events {
		if err := pipe.Submit(ctx, event); err != nil {
			logger.WithError(err).WithField("event_id", event.ID).Warn("Event rejected")
			continue
		}
		accepted++
	}
	pipe.Stop()

	fmt.Printf("Fetched %d events from %s/%s since %s, accepted %d\n",
		len(events), owner, repo, since.Format(time.RFC3339), accepted)
	return nil
}
