package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/source"
)

// SyncSourceConfigTask mirrors a YAML source config into the sources table.
// A nil config marks a previously configured source inactive.
type SyncSourceConfigTask struct {
	Task
	SourceName   string
	SourceConfig *source.Config
	sourceRepo   database.SourceRepository
}

func NewSyncSourceConfigTask(sourceName string, sourceConfig *source.Config, sourceRepo database.SourceRepository) *SyncSourceConfigTask {
	return &SyncSourceConfigTask{
		Task:         NewTask(TaskTypeSyncSourceConfig, sourceName),
		SourceName:   sourceName,
		SourceConfig: sourceConfig,
		sourceRepo:   sourceRepo,
	}
}

func (t *SyncSourceConfigTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if t.SourceConfig == nil {
		return t.deactivate()
	}

	_, err := t.sourceRepo.UpsertSource(
		t.SourceConfig.Name,
		string(t.SourceConfig.Kind),
		t.SourceConfig.URL,
		t.SourceConfig.Settings.Enabled)
	if err != nil {
		return fmt.Errorf("failed to sync source config to database: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncSourceConfig",
		"source", t.SourceName,
		"enabled", t.SourceConfig.Settings.Enabled,
		"duration", t.GetDuration())

	return nil
}

func (t *SyncSourceConfigTask) deactivate() error {
	src, err := t.sourceRepo.GetSource(t.SourceName)
	if err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}
	if src == nil {
		return nil
	}

	if _, err := t.sourceRepo.UpsertSource(src.Name, src.Kind, src.URL, false); err != nil {
		return fmt.Errorf("failed to deactivate source: %w", err)
	}

	slog.Info("Task completed",
		"type", "SyncSourceConfig",
		"source", t.SourceName,
		"enabled", false,
		"duration", t.GetDuration())

	return nil
}
