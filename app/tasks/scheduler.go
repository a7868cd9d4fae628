package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/source"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const (
	DefaultIngestCron        = "0 */6 * * *"
	DefaultMorningDigestCron = "0 8 * * *"
	DefaultAfternoonCron     = "0 15 * * *"
	DefaultTaskTimeout       = 5 * time.Minute
	DefaultQueueSize         = 300
)

type SchedulerOptions struct {
	IngestCron    string
	MorningCron   string
	AfternoonCron string
	Location      *time.Location
	TaskTimeout   time.Duration
	QueueSize     int
	WatchConfigs  bool
}

// Scheduler feeds a bounded queue from cron triggers. A single worker drains
// the queue, so tasks never overlap and at most one ingestion runs at a time.
// Failed tasks are logged and not retried; the next trigger runs them again.
type Scheduler struct {
	configCache  *source.ConfigCache
	sourceRepo   database.SourceRepository
	ingester     IngestRunner
	sender       DigestRunner
	cron         *cron.Cron
	opts         SchedulerOptions
	ingestQueued atomic.Bool
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan TaskInterface
}

func NewScheduler(configCache *source.ConfigCache, sourceRepo database.SourceRepository,
	ingester IngestRunner, sender DigestRunner, opts SchedulerOptions) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = DefaultTaskTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		configCache: configCache,
		sourceRepo:  sourceRepo,
		ingester:    ingester,
		sender:      sender,
		cron:        cron.New(cron.WithLocation(opts.Location)),
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
		taskQueue:   make(chan TaskInterface, opts.QueueSize),
	}

	triggers := []struct {
		name string
		spec string
		fn   func()
	}{
		{"ingest", opts.IngestCron, s.enqueueIngest},
		{"morning digest", opts.MorningCron, func() { s.enqueueDigest(database.DigestMorning) }},
		{"afternoon digest", opts.AfternoonCron, func() { s.enqueueDigest(database.DigestAfternoon) }},
	}

	for _, trigger := range triggers {
		if trigger.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(trigger.spec, trigger.fn); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid %s schedule '%s': %w", trigger.name, trigger.spec, err)
		}
	}

	return s, nil
}

func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.worker()

	s.enqueueStartupTasks()
	s.cron.Start()

	if s.opts.WatchConfigs && s.configCache != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			err := s.configCache.Watch(s.ctx, source.DefaultWatchDebounce, func(name string, config *source.Config) {
				if err := s.EnqueueTask(NewSyncSourceConfigTask(name, config, s.sourceRepo)); err != nil {
					slog.Warn("Failed to enqueue SyncSourceConfigTask", "source", name, "error", err)
				}
			})
			if err != nil {
				slog.Warn("Source configuration watcher stopped", "error", err)
			}
		}()
	}
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	select {
	case s.taskQueue <- task:
		return nil
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueIngest queues an ingestion pass unless one is already waiting.
func (s *Scheduler) EnqueueIngest() error {
	if !s.ingestQueued.CompareAndSwap(false, true) {
		slog.Debug("Ingestion already queued, skipping trigger")
		return nil
	}

	if err := s.EnqueueTask(NewIngestSourcesTask(s.ingester)); err != nil {
		s.ingestQueued.Store(false)
		return err
	}
	return nil
}

func (s *Scheduler) enqueueStartupTasks() {
	if s.configCache != nil {
		sourceConfigs := s.configCache.GetConfigs()
		slog.Debug("Processing source configurations", "count", len(sourceConfigs))

		for _, sourceConfig := range sourceConfigs {
			syncTask := NewSyncSourceConfigTask(sourceConfig.Name, sourceConfig, s.sourceRepo)
			if err := s.EnqueueTask(syncTask); err != nil {
				slog.Warn("Failed to enqueue SyncSourceConfigTask", "source", sourceConfig.Name, "error", err)
			}
		}
	}

	s.enqueueIngest()
}

func (s *Scheduler) enqueueIngest() {
	if err := s.EnqueueIngest(); err != nil {
		slog.Warn("Failed to enqueue IngestSourcesTask", "error", err)
	}
}

func (s *Scheduler) enqueueDigest(kind database.DigestKind) {
	if s.sender == nil {
		return
	}
	if err := s.EnqueueTask(NewSendDigestTask(kind, s.sender)); err != nil {
		slog.Warn("Failed to enqueue SendDigestTask", "kind", string(kind), "error", err)
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(task TaskInterface) {
	if task.GetType() == TaskTypeIngestSources {
		s.ingestQueued.Store(false)
	}

	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, s.opts.TaskTimeout)
	defer cancel()

	if err := task.Execute(taskCtx); err != nil {
		slog.Error("Task execution failed", "type", string(task.GetType()), "target", task.GetTarget(), "id", task.GetID(), "duration", task.GetDuration(), "error", err)
	}
}
