package digest

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/metrics"
)

// Result folds the outcome of one digest run.
type Result struct {
	Kind       database.DigestKind
	Recipients int
	Sent       int
	Skipped    int
	Failed     int
}

type Sender struct {
	users    database.UserRepository
	logs     database.DigestLogRepository
	events   database.EventRepository
	sink     Sink
	renderer *Renderer
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewSender(users database.UserRepository, logs database.DigestLogRepository, events database.EventRepository, sink Sink, m *metrics.Metrics) *Sender {
	return &Sender{
		users:    users,
		logs:     logs,
		events:   events,
		sink:     sink,
		renderer: NewRenderer(),
		metrics:  m,
		now:      time.Now,
	}
}

// Run sends the digest of the given kind to every opted-in user.
func (s *Sender) Run(ctx context.Context, kind database.DigestKind) (Result, error) {
	result := Result{Kind: kind}

	schedule, err := ScheduleFor(kind)
	if err != nil {
		return result, err
	}

	recipients, err := s.users.GetDigestRecipients(kind)
	if err != nil {
		return result, err
	}
	result.Recipients = len(recipients)

	now := s.now().UTC()
	window := NewWindow(now, schedule.Hours)

	upcoming, err := s.events.GetEvents(database.EventFilter{From: window.From, To: window.To})
	if err != nil {
		return result, err
	}

	for _, user := range recipients {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tags, err := s.users.GetSubscriptions(user.ID)
		if err != nil {
			slog.Error("Failed to load subscriptions", "user", user.Email, "error", err)
			s.record(user, kind, 0, err)
			result.Failed++
			continue
		}

		events := Select(upcoming, window, tags)
		if len(events) == 0 && !schedule.SendEmpty {
			result.Skipped++
			continue
		}

		msg, err := s.renderer.Render(schedule, user, events, now)
		if err == nil {
			err = s.sink.Send(ctx, msg)
		}
		s.record(user, kind, len(events), err)

		if err != nil {
			slog.Error("Failed to send digest", "kind", kind, "user", user.Email, "error", err)
			result.Failed++
			continue
		}

		slog.Info("Digest sent", "kind", kind, "user", user.Email, "events", len(events))
		result.Sent++
	}

	return result, nil
}

// Select returns the events whose start falls inside the window and whose
// tag is among tags. An empty tag list selects every tag.
func Select(events []database.Event, window Window, tags []string) []database.Event {
	var selected []database.Event
	for _, ev := range events {
		if !window.Contains(ev.StartTime) {
			continue
		}
		if len(tags) > 0 && !slices.Contains(tags, string(ev.Tag)) {
			continue
		}
		selected = append(selected, ev)
	}

	slices.SortStableFunc(selected, func(a, b database.Event) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return selected
}

func (s *Sender) record(user database.User, kind database.DigestKind, count int, sendErr error) {
	entry := database.DigestLog{
		UserID:     user.ID,
		Kind:       kind,
		EventCount: count,
		Success:    sendErr == nil,
		SentAt:     s.now().UTC(),
	}
	if sendErr != nil {
		entry.ErrorMessage = sendErr.Error()
	}

	if err := s.logs.LogDigest(entry); err != nil {
		slog.Error("Database error", "operation", "log_digest", "user", user.Email, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ObserveDigest(string(kind), sendErr == nil)
	}
}
