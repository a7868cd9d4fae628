package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/event"
	"github.com/lysyi3m/concierge/app/ingest"
	"github.com/lysyi3m/concierge/app/metrics"
	"github.com/lysyi3m/concierge/app/source"
	"github.com/lysyi3m/concierge/app/tasks"
)

var testNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeScheduler struct {
	ingests int
	err     error
}

func (s *fakeScheduler) Start()                                     {}
func (s *fakeScheduler) Stop()                                      {}
func (s *fakeScheduler) EnqueueTask(task tasks.TaskInterface) error { return s.err }
func (s *fakeScheduler) EnqueueIngest() error {
	if s.err != nil {
		return s.err
	}
	s.ingests++
	return nil
}

type testServer struct {
	router    *gin.Engine
	sources   *database.SourceRepo
	events    *database.EventRepo
	users     *database.UserRepo
	scheduler *fakeScheduler
}

func newTestServer(t *testing.T) testServer {
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
	events := database.NewEventRepository(db)
	users := database.NewUserRepository(db)
	m := metrics.New()
	ingester := ingest.NewIngester(sources, events, source.NewRegistry(source.RegistryOptions{}), nil, m)
	scheduler := &fakeScheduler{}

	handler := NewHandler(sources, events, users, ingester, source.NewConfigCache(t.TempDir()),
		scheduler, m, NewGenerator("http://localhost:8080", "test"), "test")
	handler.now = func() time.Time { return testNow }

	return testServer{
		router:    NewServer(handler),
		sources:   sources,
		events:    events,
		users:     users,
		scheduler: scheduler,
	}
}

func (s testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s testServer) addEvent(t *testing.T, sourceName, title string, start time.Time, tag event.Tag) int64 {
	t.Helper()

	sourceID, err := s.sources.UpsertSource(sourceName, "ics", "https://example.com/"+sourceName+".ics", true)
	if err != nil {
		t.Fatal(err)
	}
	ev := event.Event{Title: title, StartTime: start, Tag: tag, Timezone: "UTC", Fingerprint: event.Fingerprint(title, start, "")}
	id, _, err := s.events.InsertEvent(sourceID, ev)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestIndexAndHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decode(t, w)["service"] != "Concierge" {
		t.Error("Expected service name in index")
	}

	w = s.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decode(t, w)["status"] != "ok" {
		t.Error("Expected ok health status")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected Go runtime metrics in output")
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodOptions, "/api/events", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS header")
	}
}

func TestListEvents(t *testing.T) {
	s := newTestServer(t)
	s.addEvent(t, "campus", "Career Fair", testNow.Add(24*time.Hour), event.TagCareer)
	s.addEvent(t, "campus", "Game Night", testNow.Add(48*time.Hour), event.TagSocial)
	s.addEvent(t, "club", "Far Away", testNow.Add(30*24*time.Hour), event.TagSocial)
	s.addEvent(t, "club", "Yesterday", testNow.Add(-24*time.Hour), event.TagSocial)

	tests := []struct {
		name     string
		path     string
		code     int
		expected int
	}{
		{"default window", "/api/events", http.StatusOK, 2},
		{"tag filter", "/api/events?tag=career", http.StatusOK, 1},
		{"wide window", "/api/events?days=60", http.StatusOK, 3},
		{"source filter", "/api/events?days=60&source=club", http.StatusOK, 1},
		{"unknown source", "/api/events?source=nope", http.StatusNotFound, -1},
		{"invalid days", "/api/events?days=zero", http.StatusBadRequest, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, http.MethodGet, tt.path, nil)
			if w.Code != tt.code {
				t.Fatalf("Expected %d, got %d: %s", tt.code, w.Code, w.Body.String())
			}
			if tt.expected < 0 {
				return
			}
			if total := decode(t, w)["total"].(float64); int(total) != tt.expected {
				t.Errorf("Expected %d events, got %v", tt.expected, total)
			}
		})
	}
}

func TestGetEvent(t *testing.T) {
	s := newTestServer(t)
	id := s.addEvent(t, "campus", "Career Fair", testNow.Add(time.Hour), event.TagCareer)

	w := s.do(t, http.MethodGet, "/api/events/"+itoa(id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["title"] != "Career Fair" || body["source"] != "campus" {
		t.Errorf("Unexpected event body: %v", body)
	}

	if w := s.do(t, http.MethodGet, "/api/events/999", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing event, got %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/events/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid id, got %d", w.Code)
	}
}

func TestCreateEventDeduplicates(t *testing.T) {
	s := newTestServer(t)

	body := map[string]interface{}{
		"title":      "Mandatory Orientation",
		"start_time": "2025-03-20T17:00:00Z",
		"location":   "Main Hall",
	}

	w := s.do(t, http.MethodPost, "/api/events", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode(t, w)
	ev := created["event"].(map[string]interface{})
	if ev["tag"] != "Required" {
		t.Errorf("Expected classified Required tag, got %v", ev["tag"])
	}
	if ev["source"] != ManualSourceName {
		t.Errorf("Expected Manual source, got %v", ev["source"])
	}
	if len(ev["fingerprint"].(string)) != 64 {
		t.Errorf("Expected 64 char fingerprint, got %v", ev["fingerprint"])
	}

	body["title"] = "  mandatory ORIENTATION "
	body["rsvp_link"] = "https://example.com/rsvp"
	w = s.do(t, http.MethodPost, "/api/events", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for duplicate, got %d: %s", w.Code, w.Body.String())
	}
	dup := decode(t, w)
	if dup["duplicate"] != true {
		t.Error("Expected duplicate flag")
	}
	if dup["event"].(map[string]interface{})["rsvp_link"] != "https://example.com/rsvp" {
		t.Error("Expected duplicate to fill the missing RSVP link")
	}

	if count, _ := s.events.GetEventCount(); count != 1 {
		t.Errorf("Expected 1 stored event, got %d", count)
	}
}

func TestCreateEventValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"start_time": "2025-03-20T17:00:00Z"}},
		{"missing start", map[string]interface{}{"title": "Event"}},
		{"bad start", map[string]interface{}{"title": "Event", "start_time": "someday"}},
		{"bad timezone", map[string]interface{}{"title": "Event", "start_time": "2025-03-20 17:00", "timezone": "Mars/Base"}},
		{"blank title", map[string]interface{}{"title": "   ", "start_time": "2025-03-20T17:00:00Z"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/api/events", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestCreateEventParsesLocalTime(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/events", map[string]interface{}{
		"title":      "Study Group",
		"start_time": "2025-03-20 17:00",
		"timezone":   "America/New_York",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	ev := decode(t, w)["event"].(map[string]interface{})
	if ev["start_time"] != "2025-03-20T21:00:00Z" {
		t.Errorf("Expected start converted to UTC, got %v", ev["start_time"])
	}
}

func TestSources(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/sources", map[string]interface{}{
		"name": "club-feed",
		"kind": "feed",
		"url":  "https://example.com/club.ics",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["kind"] != "ics" {
		t.Error("Expected feed alias to resolve to ics")
	}

	if w := s.do(t, http.MethodPost, "/api/sources", map[string]interface{}{"name": "x", "kind": "fax", "url": "u"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown kind, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/sources", map[string]interface{}{"name": "x", "kind": "rss"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing URL, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/sources", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if decode(t, w)["total"].(float64) != 1 {
		t.Error("Expected one source")
	}
}

func TestTriggerIngest(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/ingest", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if s.scheduler.ingests != 1 {
		t.Errorf("Expected one enqueued ingestion, got %d", s.scheduler.ingests)
	}
}

func TestTagsAndStats(t *testing.T) {
	s := newTestServer(t)
	s.addEvent(t, "campus", "Career Fair", testNow.Add(time.Hour), event.TagCareer)
	s.addEvent(t, "campus", "Old Social", testNow.Add(-time.Hour), event.TagSocial)

	w := s.do(t, http.MethodGet, "/api/tags", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	tags := decode(t, w)
	if len(tags["tags"].([]interface{})) != 2 {
		t.Errorf("Expected 2 tags, got %v", tags["tags"])
	}
	if tags["colors"].(map[string]interface{})["Career"] != "#28a745" {
		t.Errorf("Expected Career colour, got %v", tags["colors"])
	}

	w = s.do(t, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	stats := decode(t, w)
	if stats["events"].(float64) != 2 || stats["upcoming_events"].(float64) != 1 {
		t.Errorf("Unexpected stats: %v", stats)
	}
}

func TestUsersAndSubscriptions(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/users", map[string]interface{}{"email": "Ana@Example.com", "name": "Ana"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	user := decode(t, w)
	if user["email"] != "ana@example.com" || user["digest_08_enabled"] != true || user["digest_15_enabled"] != false {
		t.Errorf("Unexpected user body: %v", user)
	}
	if user["timezone"] != database.DefaultUserTimezone {
		t.Errorf("Expected default timezone, got %v", user["timezone"])
	}
	id := itoa(int64(user["id"].(float64)))

	if w := s.do(t, http.MethodPost, "/api/users", map[string]interface{}{"email": "ana@example.com"}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate email, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/users", map[string]interface{}{"email": "not-an-email"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid email, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, "/api/users/"+id+"/subscriptions", nil)
	if w.Code != http.StatusOK || decode(t, w)["all"] != true {
		t.Fatalf("Expected no subscriptions meaning all tags, got %d: %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, "/api/users/"+id+"/subscriptions", map[string]interface{}{"tag": "jobs"})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if decode(t, w)["tag"] != "Career" {
		t.Error("Expected subscription tag to be canonicalized")
	}

	if w := s.do(t, http.MethodPost, "/api/users/"+id+"/subscriptions", map[string]interface{}{"tag": "Career"}); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for existing subscription, got %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/users/999/subscriptions", map[string]interface{}{"tag": "Career"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown user, got %d", w.Code)
	}
}

func TestEventsFeed(t *testing.T) {
	s := newTestServer(t)
	s.addEvent(t, "campus", "Career Fair", testNow.Add(time.Hour), event.TagCareer)

	w := s.do(t, http.MethodGet, "/feeds/events.rss", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("Content-Type"), "application/xml") {
		t.Errorf("Expected XML content type, got %s", w.Header().Get("Content-Type"))
	}
	if w.Header().Get("X-Feed-Items") != "1" {
		t.Errorf("Expected 1 feed item, got %s", w.Header().Get("X-Feed-Items"))
	}
	if !strings.Contains(w.Body.String(), "<title>Career Fair</title>") {
		t.Error("Expected event title in feed")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
