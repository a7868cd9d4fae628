package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/concierge/app/database"
)

type SendDigestTask struct {
	Task
	Kind   database.DigestKind
	runner DigestRunner
}

func NewSendDigestTask(kind database.DigestKind, runner DigestRunner) *SendDigestTask {
	return &SendDigestTask{
		Task:   NewTask(TaskTypeSendDigest, string(kind)),
		Kind:   kind,
		runner: runner,
	}
}

func (t *SendDigestTask) Execute(ctx context.Context) error {
	result, err := t.runner.Run(ctx, t.Kind)
	if err != nil {
		return fmt.Errorf("failed to send %s digest: %w", t.Kind, err)
	}

	slog.Info("Task completed",
		"type", "SendDigest",
		"kind", string(t.Kind),
		"recipients", result.Recipients,
		"sent", result.Sent,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", t.GetDuration())

	return nil
}
