package tasks

import (
	"context"
	"log/slog"
)

type IngestSourcesTask struct {
	Task
	runner IngestRunner
}

func NewIngestSourcesTask(runner IngestRunner) *IngestSourcesTask {
	return &IngestSourcesTask{
		Task:   NewTask(TaskTypeIngestSources, "all"),
		runner: runner,
	}
}

// Execute runs one ingestion pass. Per-source failures are reported in the
// summary and never fail the task.
func (t *IngestSourcesTask) Execute(ctx context.Context) error {
	summary := t.runner.RunAll(ctx)

	slog.Info("Task completed",
		"type", "IngestSources",
		"sources", len(summary.Reports),
		"ingested", summary.Ingested,
		"duplicates", summary.Duplicates,
		"errors", summary.Errors,
		"failed_sources", summary.Failed,
		"skipped_sources", summary.Skipped,
		"duration", t.GetDuration())

	return ctx.Err()
}
