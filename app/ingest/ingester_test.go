package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/event"
	"github.com/lysyi3m/concierge/app/metrics"
	"github.com/lysyi3m/concierge/app/source"
)

type fakeAdapter struct {
	candidates []event.RawCandidate
	fetchErr   error
	parseErr   error
	fetches    int
}

func (a *fakeAdapter) Fetch(ctx context.Context, cfg *source.Config) ([]byte, error) {
	a.fetches++
	if a.fetchErr != nil {
		return nil, a.fetchErr
	}
	return []byte("raw"), nil
}

func (a *fakeAdapter) Parse(data []byte, cfg *source.Config) ([]event.RawCandidate, error) {
	if a.parseErr != nil {
		return nil, a.parseErr
	}
	return a.candidates, nil
}

type fakeConfigs map[string]*source.Config

func (f fakeConfigs) GetConfig(name string) (*source.Config, bool) {
	cfg, ok := f[name]
	return cfg, ok
}

type testEnv struct {
	sources  *database.SourceRepo
	events   *database.EventRepo
	registry *source.Registry
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatal(err)
	}

	return testEnv{
		sources:  database.NewSourceRepository(db),
		events:   database.NewEventRepository(db),
		registry: source.NewRegistry(source.RegistryOptions{}),
	}
}

func (env testEnv) ingester(configs ConfigProvider) *Ingester {
	return NewIngester(env.sources, env.events, env.registry, configs, metrics.New())
}

func at(hour int) *time.Time {
	t := time.Date(2025, 3, 15, hour, 0, 0, 0, time.UTC)
	return &t
}

func TestRunAllIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindRSS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "Career Fair", Start: at(15), Location: "Main Hall"},
		{Title: "Thesis Defense", Start: at(10)},
		{Title: "career fair ", Start: at(15), Location: "main hall"},
	}})
	env.sources.UpsertSource("news", "rss", "https://example.edu/news.rss", true)

	ingester := env.ingester(nil)

	first := ingester.RunAll(context.Background())
	if first.Ingested != 2 || first.Duplicates != 1 {
		t.Errorf("Expected first run to ingest 2 with 1 duplicate, got %d and %d", first.Ingested, first.Duplicates)
	}

	second := ingester.RunAll(context.Background())
	if second.Ingested != 0 || second.Duplicates != 3 {
		t.Errorf("Expected second run to ingest 0 with 3 duplicates, got %d and %d", second.Ingested, second.Duplicates)
	}

	count, _ := env.events.GetEventCount()
	if count != 2 {
		t.Errorf("Expected 2 stored events, got %d", count)
	}

	report := second.Reports[0]
	if report.Stage != StageDone || report.FailedAt != "" {
		t.Errorf("Expected run to finish, got stage %s failed at %s", report.Stage, report.FailedAt)
	}
}

func TestRunAllIsolatesFailures(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindTelegram, &fakeAdapter{fetchErr: errors.New("connection refused")})
	env.registry.Register(source.KindWebpage, &fakeAdapter{parseErr: errors.New("no content")})
	env.registry.Register(source.KindRSS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "Spring Mixer", Start: at(18)},
	}})

	env.sources.UpsertSource("a-chat", "telegram", "-1", true)
	env.sources.UpsertSource("b-page", "webpage", "https://example.edu/page", true)
	env.sources.UpsertSource("c-news", "rss", "https://example.edu/news.rss", true)
	env.sources.UpsertSource("d-bogus", "carrier-pigeon", "", true)

	summary := env.ingester(nil).RunAll(context.Background())

	if len(summary.Reports) != 4 {
		t.Fatalf("Expected 4 reports, got %d", len(summary.Reports))
	}
	if summary.Failed != 3 || summary.Ingested != 1 {
		t.Errorf("Expected 3 failures and 1 ingested event, got %d and %d", summary.Failed, summary.Ingested)
	}

	expected := map[string]Stage{
		"a-chat":  StageFetching,
		"b-page":  StageParsing,
		"c-news":  "",
		"d-bogus": StageFetching,
	}
	for _, report := range summary.Reports {
		if report.FailedAt != expected[report.Source] {
			t.Errorf("%s: expected failure at %q, got %q", report.Source, expected[report.Source], report.FailedAt)
		}
		if report.Failed() && report.Err == nil {
			t.Errorf("%s: expected error to be recorded", report.Source)
		}
	}

	failed, _ := env.sources.GetSource("a-chat")
	if failed.LastFetchedAt != nil {
		t.Error("Expected last fetched to stay unset for a failed source")
	}

	ok, _ := env.sources.GetSource("c-news")
	if ok.LastFetchedAt == nil {
		t.Error("Expected last fetched to be set for a successful source")
	}
}

func TestRunAllSkipsUnreachableSources(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindRSS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "Spring Mixer", Start: at(18)},
	}})

	env.sources.UpsertSource("club-chat", "telegram", "-100123", true)
	env.sources.UpsertSource("Manual", "manual", "", true)
	env.sources.UpsertSource("news", "rss", "https://example.edu/news.rss", true)

	summary := env.ingester(nil).RunAll(context.Background())

	if summary.Skipped != 2 || summary.Failed != 0 || summary.Ingested != 1 {
		t.Errorf("Expected 2 skipped, 0 failed and 1 ingested, got %d, %d and %d", summary.Skipped, summary.Failed, summary.Ingested)
	}

	for _, report := range summary.Reports {
		if report.Source == "news" {
			continue
		}
		if !report.Skipped() || !errors.Is(report.Err, source.ErrSourceSkipped) {
			t.Errorf("%s: expected skipped report, got stage %s with error %v", report.Source, report.Stage, report.Err)
		}
	}

	for _, name := range []string{"club-chat", "Manual"} {
		src, _ := env.sources.GetSource(name)
		if src.LastFetchedAt != nil {
			t.Errorf("%s: expected last fetched to stay unset for a skipped source", name)
		}
	}
}

func TestRunAllSkipsInactiveSources(t *testing.T) {
	env := newTestEnv(t)
	adapter := &fakeAdapter{}
	env.registry.Register(source.KindRSS, adapter)
	env.sources.UpsertSource("paused", "rss", "https://example.edu/news.rss", false)

	summary := env.ingester(nil).RunAll(context.Background())
	if len(summary.Reports) != 0 || adapter.fetches != 0 {
		t.Errorf("Expected inactive source to be skipped, got %d reports and %d fetches", len(summary.Reports), adapter.fetches)
	}
}

func TestDuplicateFillsMissingFields(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindICS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "Demo Day", Start: at(16), Location: "Atrium"},
	}})
	env.registry.Register(source.KindTelegram, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "demo day", Start: at(16), Location: "atrium", RSVPLink: "https://example.edu/rsvp", End: at(18)},
	}})
	env.sources.UpsertSource("calendar", "ics", "https://example.edu/cal.ics", true)
	env.sources.UpsertSource("chat", "telegram", "-1", true)

	summary := env.ingester(nil).RunAll(context.Background())
	if summary.Ingested != 1 || summary.Duplicates != 1 {
		t.Fatalf("Expected 1 ingested and 1 duplicate, got %d and %d", summary.Ingested, summary.Duplicates)
	}
	if summary.Reports[1].Merged != 1 {
		t.Errorf("Expected the duplicate to be merged, got %d", summary.Reports[1].Merged)
	}

	stored, err := env.events.GetEventByFingerprint(event.Fingerprint("Demo Day", *at(16), "Atrium"))
	if err != nil || stored == nil {
		t.Fatalf("Expected stored event, got %v, %v", stored, err)
	}
	if stored.Title != "Demo Day" || stored.SourceName != "calendar" {
		t.Errorf("Expected original record to be kept, got %s from %s", stored.Title, stored.SourceName)
	}
	if stored.RSVPLink != "https://example.edu/rsvp" || stored.EndTime == nil {
		t.Errorf("Expected RSVP link and end time to be filled, got %q and %v", stored.RSVPLink, stored.EndTime)
	}
}

func TestRunAllAppliesSourceFilters(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindRSS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "Career Fair", Start: at(15)},
		{Title: "CANCELLED Career Fair", Start: at(15)},
	}})
	env.sources.UpsertSource("news", "rss", "https://example.edu/news.rss", true)

	configs := fakeConfigs{"news": {
		Name: "news",
		Kind: source.KindRSS,
		URL:  "https://example.edu/news.rss",
		Filters: []source.ConfigFilter{
			{Field: "title", Excludes: []string{"cancelled"}},
		},
	}}

	summary := env.ingester(configs).RunAll(context.Background())
	if summary.Ingested != 1 || summary.Reports[0].Candidates != 1 {
		t.Errorf("Expected filtered candidate to be dropped, got %d ingested from %d candidates", summary.Ingested, summary.Reports[0].Candidates)
	}
}

func TestStoresCandidatesWithoutFingerprint(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindRSS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "", Start: at(9)},
		{Title: "No start"},
	}})
	env.sources.UpsertSource("news", "rss", "https://example.edu/news.rss", true)

	ingester := env.ingester(nil)

	report := ingester.RunAll(context.Background()).Reports[0]
	if report.Ingested != 1 || report.Errors != 1 {
		t.Errorf("Expected 1 ingested and 1 storage error, got %d and %d", report.Ingested, report.Errors)
	}
	if report.Failed() {
		t.Errorf("Expected storage faults not to fail the source, got %v", report.Err)
	}

	again := ingester.RunAll(context.Background()).Reports[0]
	if again.Ingested != 1 || again.Duplicates != 0 {
		t.Errorf("Expected fingerprint-less event to bypass dedup, got %d ingested and %d duplicates", again.Ingested, again.Duplicates)
	}
}

func TestRunSource(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(source.KindRSS, &fakeAdapter{candidates: []event.RawCandidate{
		{Title: "Spring Mixer", Start: at(18)},
	}})
	env.sources.UpsertSource("news", "rss", "https://example.edu/news.rss", false)

	ingester := env.ingester(nil)

	report, err := ingester.RunSource(context.Background(), "news")
	if err != nil {
		t.Fatal(err)
	}
	if report.Ingested != 1 {
		t.Errorf("Expected 1 ingested event, got %d", report.Ingested)
	}

	if _, err := ingester.RunSource(context.Background(), "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestImport(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.sources.UpsertSource("Manual", "manual", "", true)
	src, _ := env.sources.GetSourceByID(id)

	ingester := env.ingester(nil)
	candidate := event.RawCandidate{Title: "Office Hours", Start: at(13), Tag: "mandatory"}

	report := ingester.Import(context.Background(), *src, []event.RawCandidate{candidate})
	if report.Ingested != 1 {
		t.Fatalf("Expected 1 ingested event, got %d", report.Ingested)
	}

	report = ingester.Import(context.Background(), *src, []event.RawCandidate{candidate})
	if report.Duplicates != 1 {
		t.Errorf("Expected duplicate on second import, got %d", report.Duplicates)
	}

	events, _ := env.events.GetEvents(database.EventFilter{})
	if len(events) != 1 || events[0].Tag != event.TagRequired {
		t.Errorf("Expected one Required event, got %+v", events)
	}
}

func TestCalendarFileEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	ics := strings.ReplaceAll(`BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Concierge//Test//EN
BEGIN:VEVENT
UID:ns101@example.edu
DTSTAMP:20250101T000000Z
DTSTART:20250310T170000Z
SUMMARY:NS101 Recitation
END:VEVENT
BEGIN:VEVENT
UID:ethics@example.edu
DTSTAMP:20250101T000000Z
DTSTART:20250312T190000Z
DTEND:20250312T200000Z
SUMMARY:Guest Lecture: AI Ethics
DESCRIPTION:Join at https://zoom.us/j/123
END:VEVENT
END:VCALENDAR
`, "\n", "\r\n")

	path := filepath.Join(t.TempDir(), "calendar.ics")
	if err := os.WriteFile(path, []byte(ics), 0644); err != nil {
		t.Fatal(err)
	}

	env.sources.UpsertSource("Imported Calendar", "ics", "file://"+path, true)

	summary := env.ingester(nil).RunAll(context.Background())
	if summary.Ingested != 1 || summary.Failed != 0 {
		t.Fatalf("Expected 1 ingested event and no failures, got %d and %d (%v)", summary.Ingested, summary.Failed, summary.Reports[0].Err)
	}

	events, err := env.events.GetEvents(database.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("Expected 1 stored event, got %d", len(events))
	}

	ev := events[0]
	if ev.Title != "Guest Lecture: AI Ethics" || !ev.IsVirtual || ev.MeetingLink != "https://zoom.us/j/123" {
		t.Errorf("Unexpected stored event %+v", ev.Event)
	}
	if ev.Tag != event.TagGeneral {
		t.Errorf("Expected tag General, got %s", ev.Tag)
	}
	if len(ev.Fingerprint) != 64 {
		t.Errorf("Expected 64 character fingerprint, got %q", ev.Fingerprint)
	}
}

func TestSummaryWith(t *testing.T) {
	summary := Summary{}.
		With(Report{Source: "a", Stage: StageDone, Ingested: 2, Duplicates: 1}).
		With(Report{Source: "b", Stage: StageFailed, FailedAt: StageFetching}).
		With(Report{Source: "c", Stage: StageDone, Ingested: 1, Errors: 1}).
		With(Report{Source: "d", Stage: StageSkipped})

	if summary.Ingested != 3 || summary.Duplicates != 1 || summary.Errors != 1 || summary.Failed != 1 || summary.Skipped != 1 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if len(summary.Reports) != 4 {
		t.Errorf("Expected 4 reports, got %d", len(summary.Reports))
	}
}
