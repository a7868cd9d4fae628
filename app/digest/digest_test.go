package digest

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/event"
	"github.com/lysyi3m/concierge/app/metrics"
)

var now = time.Date(2025, 3, 15, 8, 0, 0, 0, time.UTC)

func stored(title string, start time.Time, tag event.Tag) database.Event {
	return database.Event{Event: event.Event{Title: title, StartTime: start, Tag: tag}}
}

func TestWindowContainsBoundaries(t *testing.T) {
	w := NewWindow(now, 24)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"at start", now, true},
		{"at end", now.Add(24 * time.Hour), true},
		{"inside", now.Add(time.Hour), true},
		{"before", now.Add(-time.Second), false},
		{"after", now.Add(24*time.Hour + time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.t); got != tt.want {
				t.Errorf("Expected Contains=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestScheduleFor(t *testing.T) {
	s, err := ScheduleFor(database.DigestAfternoon)
	if err != nil {
		t.Fatal(err)
	}
	if s.Hours != 9 || s.SendEmpty {
		t.Errorf("Expected 9h afternoon digest skipping empty sends, got %+v", s)
	}

	if _, err := ScheduleFor("noon"); err == nil {
		t.Error("Expected error for unknown digest kind")
	}
}

func TestSelectFiltersAndOrders(t *testing.T) {
	events := []database.Event{
		stored("Late", now.Add(5*time.Hour), event.TagSocial),
		stored("Early", now.Add(time.Hour), event.TagCareer),
		stored("Outside", now.Add(30*time.Hour), event.TagCareer),
		stored("Past", now.Add(-time.Hour), event.TagCareer),
	}
	w := NewWindow(now, 24)

	all := Select(events, w, nil)
	if len(all) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(all))
	}
	if all[0].Title != "Early" || all[1].Title != "Late" {
		t.Errorf("Expected events ordered by start, got %s, %s", all[0].Title, all[1].Title)
	}

	career := Select(events, w, []string{"Career"})
	if len(career) != 1 || career[0].Title != "Early" {
		t.Errorf("Expected only the Career event, got %+v", career)
	}
}

func TestTagColor(t *testing.T) {
	if TagColor(event.TagRequired) != "#dc3545" {
		t.Errorf("Expected #dc3545 for Required, got %s", TagColor(event.TagRequired))
	}
	if TagColor("Workshop") != defaultTagColor {
		t.Errorf("Expected default colour for unknown tag, got %s", TagColor("Workshop"))
	}
}

func TestRenderUsesRecipientTimezone(t *testing.T) {
	end := now.Add(2 * time.Hour)
	ev := stored("Career Fair", now.Add(time.Hour), event.TagCareer)
	ev.EndTime = &end
	ev.Location = "Hall B"
	ev.RSVPLink = "https://example.com/rsvp"

	user := database.User{Email: "ana@example.com", Name: "Ana", Timezone: "America/Los_Angeles"}
	msg, err := NewRenderer().Render(Morning, user, []database.Event{ev}, now)
	if err != nil {
		t.Fatal(err)
	}

	if msg.To != user.Email || msg.Subject != Morning.Subject {
		t.Errorf("Expected addressed message, got to=%q subject=%q", msg.To, msg.Subject)
	}
	// 09:00 UTC is 02:00 PDT.
	if !strings.Contains(msg.Text, "2:00 AM - 3:00 AM") {
		t.Errorf("Expected local time range in text, got:\n%s", msg.Text)
	}
	for _, want := range []string{"Hi Ana", "Career Fair", "Hall B", "RSVP: https://example.com/rsvp", "1 hour from now"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("Expected text to contain %q, got:\n%s", want, msg.Text)
		}
	}
	if !strings.Contains(msg.HTML, "#28a745") {
		t.Error("Expected Career colour in HTML body")
	}
}

func TestRenderEmpty(t *testing.T) {
	msg, err := NewRenderer().Render(Morning, database.User{Email: "x@example.com", Timezone: "bogus/zone"}, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(msg.Text, "No events scheduled") {
		t.Errorf("Expected empty notice, got:\n%s", msg.Text)
	}
	if !strings.Contains(msg.Text, "Hi there") {
		t.Errorf("Expected generic greeting, got:\n%s", msg.Text)
	}
}

func TestSMTPSinkNotConfigured(t *testing.T) {
	sink := NewSMTPSink(SMTPConfig{})
	err := sink.Send(context.Background(), Message{To: "a@example.com"})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Expected ErrNotConfigured, got %v", err)
	}
}

func TestSMTPSinkSend(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotBody string
	)
	sink := NewSMTPSink(SMTPConfig{Host: "mail.example.com", From: "digest@example.com", Username: "u", Password: "p"})
	sink.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotBody = addr, to, string(msg)
		return nil
	}

	err := sink.Send(context.Background(), Message{To: "ana@example.com", Subject: "Hello", Text: "plain body", HTML: "<p>html body</p>"})
	if err != nil {
		t.Fatal(err)
	}

	if gotAddr != "mail.example.com:587" {
		t.Errorf("Expected default port 587, got %s", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "ana@example.com" {
		t.Errorf("Expected single recipient, got %v", gotTo)
	}
	for _, want := range []string{"Subject: Hello", "multipart/alternative", "text/plain", "text/html", "plain body", "<p>html body</p>"} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("Expected message to contain %q", want)
		}
	}
}

type fakeSink struct {
	sent []Message
	err  error
}

func (s *fakeSink) Send(ctx context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type senderEnv struct {
	users  *database.UserRepo
	events *database.EventRepo
	source int64
}

func newSenderEnv(t *testing.T) senderEnv {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatal(err)
	}

	sources := database.NewSourceRepository(db)
	id, err := sources.UpsertSource("Campus", "ics", "https://example.com/cal.ics", true)
	if err != nil {
		t.Fatal(err)
	}

	return senderEnv{
		users:  database.NewUserRepository(db),
		events: database.NewEventRepository(db),
		source: id,
	}
}

func (env senderEnv) addEvent(t *testing.T, title string, start time.Time, tag event.Tag) {
	t.Helper()
	ev := event.Event{Title: title, StartTime: start, Tag: tag, Fingerprint: event.Fingerprint(title, start, "")}
	if _, _, err := env.events.InsertEvent(env.source, ev); err != nil {
		t.Fatal(err)
	}
}

func (env senderEnv) addUser(t *testing.T, email string, morning, afternoon bool) *database.User {
	t.Helper()
	user, _, err := env.users.CreateUser(database.User{Email: email, Digest08Enabled: morning, Digest15Enabled: afternoon, Timezone: "UTC"})
	if err != nil {
		t.Fatal(err)
	}
	return user
}

func (env senderEnv) sender(sink Sink) *Sender {
	s := NewSender(env.users, env.users, env.events, sink, metrics.New())
	s.now = func() time.Time { return now }
	return s
}

func TestSenderMorningSendsToSubscribers(t *testing.T) {
	env := newSenderEnv(t)
	env.addEvent(t, "Career Fair", now.Add(2*time.Hour), event.TagCareer)
	env.addEvent(t, "Game Night", now.Add(10*time.Hour), event.TagSocial)
	env.addEvent(t, "Next Week", now.Add(7*24*time.Hour), event.TagSocial)

	all := env.addUser(t, "all@example.com", true, true)
	careerOnly := env.addUser(t, "career@example.com", true, false)
	env.addUser(t, "none@example.com", false, false)
	if _, err := env.users.AddSubscription(careerOnly.ID, "Career"); err != nil {
		t.Fatal(err)
	}

	sink := &fakeSink{}
	result, err := env.sender(sink).Run(context.Background(), database.DigestMorning)
	if err != nil {
		t.Fatal(err)
	}

	if result.Recipients != 2 || result.Sent != 2 || result.Failed != 0 {
		t.Errorf("Expected 2 recipients and 2 sends, got %+v", result)
	}

	logs, err := env.users.GetDigestLogs(all.ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].EventCount != 2 || !logs[0].Success {
		t.Errorf("Expected one successful log with 2 events, got %+v", logs)
	}

	logs, _ = env.users.GetDigestLogs(careerOnly.ID, 10)
	if len(logs) != 1 || logs[0].EventCount != 1 {
		t.Errorf("Expected one log with 1 event for career subscriber, got %+v", logs)
	}
}

func TestSenderAfternoonSkipsEmpty(t *testing.T) {
	env := newSenderEnv(t)
	env.addEvent(t, "Tomorrow", now.Add(20*time.Hour), event.TagSocial)
	user := env.addUser(t, "a@example.com", true, true)

	sink := &fakeSink{}
	result, err := env.sender(sink).Run(context.Background(), database.DigestAfternoon)
	if err != nil {
		t.Fatal(err)
	}

	if result.Sent != 0 || result.Skipped != 1 {
		t.Errorf("Expected skipped empty afternoon digest, got %+v", result)
	}
	if len(sink.sent) != 0 {
		t.Errorf("Expected no messages, got %d", len(sink.sent))
	}
	if logs, _ := env.users.GetDigestLogs(user.ID, 10); len(logs) != 0 {
		t.Errorf("Expected no log for skipped digest, got %d", len(logs))
	}
}

func TestSenderLogsSinkFailure(t *testing.T) {
	env := newSenderEnv(t)
	user := env.addUser(t, "a@example.com", true, false)

	result, err := env.sender(NewSMTPSink(SMTPConfig{})).Run(context.Background(), database.DigestMorning)
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 1 {
		t.Errorf("Expected 1 failure, got %+v", result)
	}

	logs, _ := env.users.GetDigestLogs(user.ID, 10)
	if len(logs) != 1 || logs[0].Success || logs[0].ErrorMessage == "" {
		t.Errorf("Expected failed log entry with message, got %+v", logs)
	}
}
