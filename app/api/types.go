package api

import (
	"context"
	"time"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/event"
	"github.com/lysyi3m/concierge/app/ingest"
	"github.com/lysyi3m/concierge/app/metrics"
	"github.com/lysyi3m/concierge/app/source"
	"github.com/lysyi3m/concierge/app/tasks"
)

type GeneratorInterface interface {
	Run(events []database.Event, now time.Time) (string, error)
}

var _ GeneratorInterface = (*Generator)(nil)

type Importer interface {
	Import(ctx context.Context, src database.Source, candidates []event.RawCandidate) ingest.Report
}

type Handler struct {
	sourceRepo  database.SourceRepository
	eventRepo   database.EventRepository
	userRepo    database.UserRepository
	importer    Importer
	configCache *source.ConfigCache
	scheduler   tasks.TaskSchedulerInterface
	metrics     *metrics.Metrics
	generator   GeneratorInterface
	version     string
	now         func() time.Time
}

// ManualSourceName is the source that owns events entered through the API.
const ManualSourceName = "Manual"

type createEventRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	StartTime   string `json:"start_time" binding:"required"`
	EndTime     string `json:"end_time"`
	Timezone    string `json:"timezone"`
	Location    string `json:"location"`
	IsVirtual   bool   `json:"is_virtual"`
	MeetingLink string `json:"meeting_link"`
	Tag         string `json:"tag"`
	RSVPLink    string `json:"rsvp_link"`
	WhyMatters  string `json:"why_matters"`
}

type createSourceRequest struct {
	Name   string `json:"name" binding:"required"`
	Kind   string `json:"kind" binding:"required"`
	URL    string `json:"url"`
	Active *bool  `json:"active"`
}

type createUserRequest struct {
	Email           string `json:"email" binding:"required,email"`
	Name            string `json:"name"`
	Digest08Enabled *bool  `json:"digest_08_enabled"`
	Digest15Enabled *bool  `json:"digest_15_enabled"`
	Timezone        string `json:"timezone"`
	TelegramChatID  string `json:"telegram_chat_id"`
}

type subscriptionRequest struct {
	Tag string `json:"tag" binding:"required"`
}

type eventResponse struct {
	ID            int64      `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	Timezone      string     `json:"timezone"`
	Location      string     `json:"location,omitempty"`
	IsVirtual     bool       `json:"is_virtual"`
	MeetingLink   string     `json:"meeting_link,omitempty"`
	Tag           string     `json:"tag"`
	RSVPLink      string     `json:"rsvp_link,omitempty"`
	WhyMatters    string     `json:"why_matters,omitempty"`
	Source        string     `json:"source"`
	SourceEventID string     `json:"source_event_id,omitempty"`
	Fingerprint   string     `json:"fingerprint,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newEventResponse(ev database.Event) eventResponse {
	return eventResponse{
		ID:            ev.ID,
		Title:         ev.Title,
		Description:   ev.Description,
		StartTime:     ev.StartTime,
		EndTime:       ev.EndTime,
		Timezone:      ev.Timezone,
		Location:      ev.Location,
		IsVirtual:     ev.IsVirtual,
		MeetingLink:   ev.MeetingLink,
		Tag:           string(ev.Tag),
		RSVPLink:      ev.RSVPLink,
		WhyMatters:    ev.WhyMatters,
		Source:        ev.SourceName,
		SourceEventID: ev.SourceEventID,
		Fingerprint:   ev.Fingerprint,
		CreatedAt:     ev.CreatedAt,
	}
}

func newEventResponses(events []database.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, newEventResponse(ev))
	}
	return out
}
