package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/digest"
	"github.com/lysyi3m/concierge/app/event"
	"github.com/lysyi3m/concierge/app/metrics"
	"github.com/lysyi3m/concierge/app/source"
	"github.com/lysyi3m/concierge/app/tasks"
)

const (
	defaultEventDays = 7
	maxEventDays     = 365
	feedEventDays    = 30
)

func NewHandler(sourceRepo database.SourceRepository, eventRepo database.EventRepository,
	userRepo database.UserRepository, importer Importer, configCache *source.ConfigCache,
	scheduler tasks.TaskSchedulerInterface, m *metrics.Metrics, generator GeneratorInterface, version string) *Handler {
	return &Handler{
		sourceRepo:  sourceRepo,
		eventRepo:   eventRepo,
		userRepo:    userRepo,
		importer:    importer,
		configCache: configCache,
		scheduler:   scheduler,
		metrics:     m,
		generator:   generator,
		version:     version,
		now:         time.Now,
	}
}

func (h *Handler) GetIndex(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "Concierge",
		"version":     h.version,
		"description": "Event aggregation from calendars, chats and announcements with deduplication and daily digests",
		"endpoints": map[string]string{
			"events":        "/api/events?tag=<tag>&days=7&source=<name>",
			"today":         "/api/events/today",
			"event":         "/api/events/<id>",
			"create_event":  "/api/events (POST)",
			"sources":       "/api/sources",
			"ingest":        "/api/ingest (POST)",
			"tags":          "/api/tags",
			"stats":         "/api/stats",
			"users":         "/api/users (POST)",
			"subscriptions": "/api/users/<id>/subscriptions",
			"feed":          "/feeds/events.rss",
			"health":        "/health",
			"metrics":       "/metrics",
		},
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": h.now().In(time.Local).Format(time.RFC3339),
	}

	sourceCount, err := h.sourceRepo.GetSourceCount(false)
	if err != nil {
		slog.Error("Database error", "operation", "get_source_count", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "Database error"})
		return
	}
	health["sources"] = sourceCount

	if eventCount, err := h.eventRepo.GetEventCount(); err == nil {
		health["events"] = eventCount
	}

	if h.configCache != nil {
		health["loaded_configurations"] = h.configCache.GetConfigCount()
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetMetrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

func (h *Handler) ListEvents(c *gin.Context) {
	days := defaultEventDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxEventDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("days must be between 1 and %d", maxEventDays)})
			return
		}
		days = parsed
	}

	now := h.now().UTC()
	filter := database.EventFilter{From: now, To: now.AddDate(0, 0, days)}

	if tag := event.CanonicalTag(c.Query("tag")); tag != "" {
		filter.Tags = []string{string(tag)}
	}

	if name := c.Query("source"); name != "" {
		src, err := h.sourceRepo.GetSource(name)
		if err != nil {
			slog.Error("Database error", "operation", "get_source", "source", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		if src == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		filter.SourceID = src.ID
	}

	h.respondEvents(c, filter, gin.H{"days": days})
}

func (h *Handler) ListTodayEvents(c *gin.Context) {
	now := h.now().In(time.Local)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 0, 1).Add(-time.Second)

	h.respondEvents(c, database.EventFilter{From: start, To: end}, gin.H{"date": start.Format("2006-01-02")})
}

func (h *Handler) respondEvents(c *gin.Context, filter database.EventFilter, extra gin.H) {
	events, err := h.eventRepo.GetEvents(filter)
	if err != nil {
		slog.Error("Database error", "operation", "get_events", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	response := gin.H{
		"events": newEventResponses(events),
		"total":  len(events),
	}
	for k, v := range extra {
		response[k] = v
	}

	c.JSON(http.StatusOK, response)
}

func (h *Handler) GetEvent(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	ev, err := h.eventRepo.GetEvent(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_event", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if ev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event not found"})
		return
	}

	c.JSON(http.StatusOK, newEventResponse(*ev))
}

// CreateEvent stores a manually entered event. The event goes through the
// same normalization and deduplication as ingested ones.
func (h *Handler) CreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	loc := time.Local
	if req.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(req.Timezone); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid timezone '%s'", req.Timezone)})
			return
		}
	}

	start, err := parseRequestTime(req.StartTime, loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_time", "details": err.Error()})
		return
	}

	candidate := event.RawCandidate{
		Title:       req.Title,
		Description: req.Description,
		Start:       &start,
		Timezone:    req.Timezone,
		Location:    req.Location,
		IsVirtual:   req.IsVirtual,
		MeetingLink: req.MeetingLink,
		Tag:         req.Tag,
		RSVPLink:    req.RSVPLink,
		WhyMatters:  req.WhyMatters,
	}

	if req.EndTime != "" {
		end, err := parseRequestTime(req.EndTime, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_time", "details": err.Error()})
			return
		}
		candidate.End = &end
	}

	if candidate.Tag == "" {
		candidate.Tag = string(event.ClassifyTag(req.Title, req.Description))
	}

	normalized := event.Normalize(candidate)
	if normalized.Title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title must not be blank"})
		return
	}

	sourceID, err := h.sourceRepo.UpsertSource(ManualSourceName, string(source.KindManual), "", true)
	if err != nil {
		slog.Error("Database error", "operation", "upsert_source", "source", ManualSourceName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	src := database.Source{ID: sourceID, Name: ManualSourceName, Kind: string(source.KindManual), Active: true}
	report := h.importer.Import(c.Request.Context(), src, []event.RawCandidate{candidate})
	if report.Errors > 0 || report.Failed() {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store event"})
		return
	}

	stored, err := h.eventRepo.GetEventByFingerprint(normalized.Fingerprint)
	if err != nil || stored == nil {
		slog.Error("Database error", "operation", "get_event_by_fingerprint", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	status := http.StatusCreated
	if report.Ingested == 0 {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"created":   report.Ingested > 0,
		"duplicate": report.Duplicates > 0,
		"event":     newEventResponse(*stored),
	})
}

func (h *Handler) ListSources(c *gin.Context) {
	sources, err := h.sourceRepo.GetSources(false)
	if err != nil {
		slog.Error("Database error", "operation", "get_sources", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	items := make([]map[string]interface{}, 0, len(sources))
	for _, src := range sources {
		info := map[string]interface{}{
			"id":              src.ID,
			"name":            src.Name,
			"kind":            src.Kind,
			"url":             src.URL,
			"active":          src.Active,
			"last_fetched_at": src.LastFetchedAt,
			"created_at":      src.CreatedAt,
			"configured":      false,
		}

		if h.configCache != nil {
			if sourceConfig, ok := h.configCache.GetConfig(src.Name); ok {
				info["configured"] = true
				info["timeout"] = sourceConfig.TimeoutDuration().String()
				info["filters"] = len(sourceConfig.Filters)
			}
		}

		items = append(items, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": items,
		"total":   len(items),
	})
}

func (h *Handler) CreateSource(c *gin.Context) {
	var req createSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	kind, err := source.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.URL == "" && kind != source.KindManual {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("url is required for kind '%s'", kind)})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	name := strings.TrimSpace(req.Name)
	id, err := h.sourceRepo.UpsertSource(name, string(kind), req.URL, active)
	if err != nil {
		slog.Error("Database error", "operation", "upsert_source", "source", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":     id,
		"name":   name,
		"kind":   kind,
		"url":    req.URL,
		"active": active,
	})
}

func (h *Handler) TriggerIngest(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is not running"})
		return
	}

	if err := h.scheduler.EnqueueIngest(); err != nil {
		slog.Error("Error enqueueing ingest task", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to enqueue ingestion", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Ingestion enqueued",
	})
}

func (h *Handler) ListTags(c *gin.Context) {
	tags, err := h.eventRepo.GetTags()
	if err != nil {
		slog.Error("Database error", "operation", "get_tags", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if tags == nil {
		tags = []string{}
	}

	colors := make(map[string]string, len(tags))
	for _, tag := range tags {
		colors[tag] = digest.TagColor(event.Tag(tag))
	}

	c.JSON(http.StatusOK, gin.H{
		"tags":   tags,
		"known":  event.Tags,
		"colors": colors,
	})
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{}

	counts := []struct {
		key string
		get func() (int, error)
	}{
		{"events", h.eventRepo.GetEventCount},
		{"upcoming_events", func() (int, error) { return h.eventRepo.GetUpcomingEventCount(h.now()) }},
		{"sources", func() (int, error) { return h.sourceRepo.GetSourceCount(false) }},
		{"active_sources", func() (int, error) { return h.sourceRepo.GetSourceCount(true) }},
		{"users", h.userRepo.GetUserCount},
	}

	for _, count := range counts {
		value, err := count.get()
		if err != nil {
			slog.Error("Database error", "operation", "get_stats", "stat", count.key, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		stats[count.key] = value
	}

	if tags, err := h.eventRepo.GetTags(); err == nil {
		stats["tags"] = len(tags)
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid timezone '%s'", req.Timezone)})
			return
		}
	}

	user := database.User{
		Email:           strings.ToLower(strings.TrimSpace(req.Email)),
		Name:            req.Name,
		Digest08Enabled: req.Digest08Enabled == nil || *req.Digest08Enabled,
		Digest15Enabled: req.Digest15Enabled != nil && *req.Digest15Enabled,
		Timezone:        req.Timezone,
		TelegramChatID:  req.TelegramChatID,
	}

	created, ok, err := h.userRepo.CreateUser(user)
	if err != nil {
		slog.Error("Database error", "operation", "create_user", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "User already exists"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":                created.ID,
		"email":             created.Email,
		"name":              created.Name,
		"digest_08_enabled": created.Digest08Enabled,
		"digest_15_enabled": created.Digest15Enabled,
		"timezone":          created.Timezone,
		"created_at":        created.CreatedAt,
	})
}

func (h *Handler) ListSubscriptions(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	tags, err := h.userRepo.GetSubscriptions(user.ID)
	if err != nil {
		slog.Error("Database error", "operation", "get_subscriptions", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if tags == nil {
		tags = []string{}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": user.ID,
		"tags":    tags,
		"all":     len(tags) == 0,
	})
}

func (h *Handler) AddSubscription(c *gin.Context) {
	user, ok := h.loadUser(c)
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	tag := event.CanonicalTag(req.Tag)
	if tag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Tag must not be blank"})
		return
	}

	added, err := h.userRepo.AddSubscription(user.ID, string(tag))
	if err != nil {
		slog.Error("Database error", "operation", "add_subscription", "user_id", user.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"user_id": user.ID,
		"tag":     tag,
		"created": added,
	})
}

func (h *Handler) GetEventsFeed(c *gin.Context) {
	now := h.now().UTC()
	events, err := h.eventRepo.GetEvents(database.EventFilter{From: now, To: now.AddDate(0, 0, feedEventDays)})
	if err != nil {
		slog.Error("Database error", "operation", "get_events", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(events, now)
	if err != nil {
		slog.Error("RSS generation error", "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(events)))

	c.String(http.StatusOK, rss)
}

func (h *Handler) loadUser(c *gin.Context) (*database.User, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	user, err := h.userRepo.GetUser(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_user", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return nil, false
	}

	return user, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}

// parseRequestTime accepts RFC 3339 and falls back to the formats dateparse
// understands, reading zone-less values in loc.
func parseRequestTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty time")
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}

	t, err := dateparse.ParseIn(raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
	}
	return t.UTC(), nil
}
