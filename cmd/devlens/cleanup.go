package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupProject string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply retention policies and age demotions to a project timeline",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().StringVar(&cleanupProject, "project", "", "project id (defaults to the configured project)")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	project := cleanupProject
	if project == "" {
		project = cfg.DefaultProjectID
	}

	report, err := a.timeline.Cleanup(ctx, project)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", project, err)
	}

	fmt.Printf("Examined %d entries: deleted %d, demoted %d\n",
		report.Examined, report.Deleted, report.Demoted)
	return nil
}
