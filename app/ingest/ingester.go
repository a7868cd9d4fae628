package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/event"
	"github.com/lysyi3m/concierge/app/metrics"
	"github.com/lysyi3m/concierge/app/source"
)

type AdapterProvider interface {
	Adapter(kind source.Kind) (source.Adapter, error)
}

type ConfigProvider interface {
	GetConfig(name string) (*source.Config, bool)
}

// Ingester pulls candidates from every active source and stores the new
// ones. Sources are processed one at a time.
type Ingester struct {
	sources  database.SourceRepository
	events   database.EventRepository
	adapters AdapterProvider
	configs  ConfigProvider
	filterer *source.Filterer
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewIngester wires the orchestrator. configs and m may be nil.
func NewIngester(sources database.SourceRepository, events database.EventRepository, adapters AdapterProvider, configs ConfigProvider, m *metrics.Metrics) *Ingester {
	return &Ingester{
		sources:  sources,
		events:   events,
		adapters: adapters,
		configs:  configs,
		filterer: source.NewFilterer(),
		metrics:  m,
		now:      time.Now,
	}
}

// RunAll ingests every active source. A failing source never prevents the
// remaining sources from running.
func (in *Ingester) RunAll(ctx context.Context) Summary {
	var summary Summary

	sources, err := in.sources.GetSources(true)
	if err != nil {
		slog.Error("Database error", "operation", "get_active_sources", "error", err)
		return summary
	}

	for _, src := range sources {
		if ctx.Err() != nil {
			slog.Warn("Ingestion interrupted", "remaining", len(sources)-len(summary.Reports))
			break
		}
		summary = summary.With(in.process(ctx, src))
	}

	slog.Info("Ingestion completed",
		"sources", len(summary.Reports),
		"ingested", summary.Ingested,
		"duplicates", summary.Duplicates,
		"errors", summary.Errors,
		"failed", summary.Failed,
		"skipped", summary.Skipped)

	return summary
}

// RunSource ingests a single source by name regardless of its active flag.
func (in *Ingester) RunSource(ctx context.Context, name string) (Report, error) {
	src, err := in.sources.GetSource(name)
	if err != nil {
		return Report{}, fmt.Errorf("failed to get source: %w", err)
	}
	if src == nil {
		return Report{}, fmt.Errorf("source '%s': %w", name, database.ErrNotFound)
	}

	return in.process(ctx, *src), nil
}

// Import stores candidates that were obtained outside the adapters, such as
// events entered through the API.
func (in *Ingester) Import(ctx context.Context, src database.Source, candidates []event.RawCandidate) Report {
	report := Report{Source: src.Name, Kind: src.Kind, Candidates: len(candidates)}
	started := in.now()

	report = in.store(ctx, src, candidates, report)
	report.Stage = StageDone
	report.Duration = in.now().Sub(started)

	in.observe(report)
	return report
}

func (in *Ingester) process(ctx context.Context, src database.Source) Report {
	report := Report{Source: src.Name, Kind: src.Kind}
	started := in.now()

	report = in.run(ctx, src, report)
	report.Duration = in.now().Sub(started)

	switch {
	case report.Skipped():
		slog.Info("Source skipped", "source", src.Name, "kind", src.Kind, "reason", report.Err)
		return report
	case report.Failed():
		slog.Error("Source ingestion failed", "source", src.Name, "stage", report.FailedAt, "error", report.Err)
	default:
		if err := in.sources.UpdateLastFetched(src.ID, started); err != nil {
			slog.Error("Database error", "operation", "update_last_fetched", "source", src.Name, "error", err)
		}

		slog.Info("Source ingested",
			"source", src.Name,
			"kind", src.Kind,
			"duration", report.Duration,
			"candidates", report.Candidates,
			"ingested", report.Ingested,
			"duplicates", report.Duplicates,
			"merged", report.Merged,
			"errors", report.Errors)
	}

	in.observe(report)
	return report
}

func (in *Ingester) run(ctx context.Context, src database.Source, report Report) Report {
	report.Stage = StageFetching

	kind, err := source.ParseKind(src.Kind)
	if err != nil {
		return report.fail(StageFetching, err)
	}

	adapter, err := in.adapters.Adapter(kind)
	if err != nil {
		return report.fail(StageFetching, err)
	}

	cfg := in.configFor(src, kind)

	data, err := adapter.Fetch(ctx, cfg)
	if errors.Is(err, source.ErrSourceSkipped) {
		return report.skip(err)
	}
	if err != nil {
		return report.fail(StageFetching, err)
	}

	report.Stage = StageParsing
	candidates, err := adapter.Parse(data, cfg)
	if err != nil {
		return report.fail(StageParsing, err)
	}

	candidates = in.filterer.Run(candidates, cfg)
	report.Candidates = len(candidates)

	report = in.store(ctx, src, candidates, report)
	report.Stage = StageDone
	return report
}

// store normalizes candidates and writes each one in its own statement, so
// a storage fault only skips that candidate.
func (in *Ingester) store(ctx context.Context, src database.Source, candidates []event.RawCandidate, report Report) Report {
	report.Stage = StageNormalizing
	events := make([]event.Event, 0, len(candidates))
	for _, candidate := range candidates {
		events = append(events, event.Normalize(candidate))
	}

	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}

		if ev.HasFingerprint() {
			report.Stage = StageDeduplicating
			exists, err := in.events.ExistsByFingerprint(ev.Fingerprint)
			if err != nil {
				slog.Error("Database error", "operation", "check_fingerprint", "source", src.Name, "error", err)
				report.Errors++
				continue
			}
			if exists {
				report.Duplicates++
				if in.mergeDuplicate(src, ev) {
					report.Merged++
				}
				continue
			}
		}

		report.Stage = StageStoring
		_, inserted, err := in.events.InsertEvent(src.ID, ev)
		if err != nil {
			slog.Error("Database error", "operation", "insert_event", "source", src.Name, "title", ev.Title, "error", err)
			report.Errors++
			continue
		}

		if !inserted {
			// Stored by a concurrent writer after the existence check.
			report.Duplicates++
			if in.mergeDuplicate(src, ev) {
				report.Merged++
			}
			continue
		}
		report.Ingested++
	}

	return report
}

// mergeDuplicate fills empty optional fields of the stored event from a
// later arrival. Failures are logged and leave the stored event unchanged.
func (in *Ingester) mergeDuplicate(src database.Source, arrival event.Event) bool {
	stored, err := in.events.GetEventByFingerprint(arrival.Fingerprint)
	if err != nil {
		slog.Error("Database error", "operation", "get_event_by_fingerprint", "source", src.Name, "error", err)
		return false
	}
	if stored == nil {
		return false
	}

	merged, changed := event.FillMissing(stored.Event, arrival)
	if !changed {
		return false
	}

	if err := in.events.UpdateEventDetails(stored.ID, merged); err != nil {
		slog.Error("Database error", "operation", "update_event_details", "source", src.Name, "error", err)
		return false
	}

	slog.Debug("Duplicate event enriched", "source", src.Name, "event_id", stored.ID, "title", stored.Title)
	return true
}

func (in *Ingester) configFor(src database.Source, kind source.Kind) *source.Config {
	if in.configs != nil {
		if cfg, ok := in.configs.GetConfig(src.Name); ok {
			return cfg
		}
	}
	return source.DefaultConfig(src.Name, kind, src.URL)
}

func (in *Ingester) observe(report Report) {
	if in.metrics == nil {
		return
	}
	in.metrics.ObserveSource(report.Source, report.Ingested, report.Duplicates, report.Errors, string(report.FailedAt), report.Duration)
}
