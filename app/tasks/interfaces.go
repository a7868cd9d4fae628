package tasks

import (
	"context"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/digest"
	"github.com/lysyi3m/concierge/app/ingest"
)

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the API to queue background work.
//
//	scheduler, err := NewScheduler(configCache, sourceRepo, ingester, sender, opts)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.EnqueueIngest()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueIngest() error
}

type IngestRunner interface {
	RunAll(ctx context.Context) ingest.Summary
}

type DigestRunner interface {
	Run(ctx context.Context, kind database.DigestKind) (digest.Result, error)
}
