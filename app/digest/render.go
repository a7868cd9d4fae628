package digest

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lysyi3m/concierge/app/database"
	"github.com/lysyi3m/concierge/app/event"
)

var tagColors = map[event.Tag]string{
	event.TagRequired: "#dc3545",
	event.TagCareer:   "#28a745",
	event.TagCapstone: "#007bff",
	event.TagSocial:   "#ffc107",
	event.TagDeadline: "#fd7e14",
}

const defaultTagColor = "#6c757d"

func TagColor(tag event.Tag) string {
	if color, ok := tagColors[tag]; ok {
		return color
	}
	return defaultTagColor
}

// Item is an event prepared for display in one recipient's timezone.
type Item struct {
	Title       string
	When        string
	Relative    string
	Location    string
	IsVirtual   bool
	MeetingLink string
	RSVPLink    string
	WhyMatters  string
	Tag         string
	TagColor    string
}

type view struct {
	Name     string
	Subject  string
	Date     string
	Items    []Item
	Timezone string
}

const textLayout = `Hi {{if .Name}}{{.Name}}{{else}}there{{end}},

{{.Date}}

{{if .Items}}Here are your upcoming events ({{.Timezone}}):
{{range .Items}}
- {{.Title}}{{if .Tag}} [{{.Tag}}]{{end}}
  {{.When}} ({{.Relative}})
{{- if .Location}}
  Location: {{.Location}}{{end}}
{{- if .MeetingLink}}
  Join: {{.MeetingLink}}{{end}}
{{- if .RSVPLink}}
  RSVP: {{.RSVPLink}}{{end}}
{{- if .WhyMatters}}
  Why it matters: {{.WhyMatters}}{{end}}
{{end}}{{else}}No events scheduled in this window.
{{end}}`

const htmlLayout = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #212529;">
<h2>{{.Subject}}</h2>
<p style="color: #6c757d;">{{.Date}}</p>
<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}}, here is what is coming up ({{.Timezone}}).</p>
{{if .Items}}{{range .Items}}
<div style="border-left: 4px solid {{.TagColor}}; padding: 8px 12px; margin-bottom: 12px;">
  <strong>{{.Title}}</strong>{{if .Tag}} <span style="background: {{.TagColor}}; color: #fff; padding: 2px 6px; border-radius: 4px; font-size: 12px;">{{.Tag}}</span>{{end}}<br>
  {{.When}} <em>({{.Relative}})</em><br>
  {{if .Location}}{{.Location}}<br>{{end}}
  {{if .MeetingLink}}<a href="{{.MeetingLink}}">Join meeting</a><br>{{end}}
  {{if .RSVPLink}}<a href="{{.RSVPLink}}">RSVP</a><br>{{end}}
  {{if .WhyMatters}}<small>{{.WhyMatters}}</small>{{end}}
</div>
{{end}}{{else}}
<p>No events scheduled in this window.</p>
{{end}}
</body>
</html>`

type Renderer struct {
	text *texttemplate.Template
	html *htmltemplate.Template
}

func NewRenderer() *Renderer {
	return &Renderer{
		text: texttemplate.Must(texttemplate.New("digest.txt").Parse(textLayout)),
		html: htmltemplate.Must(htmltemplate.New("digest.html").Parse(htmlLayout)),
	}
}

// Render builds the message for one recipient. Times are shown in the
// recipient's timezone, falling back to UTC when it cannot be loaded.
func (r *Renderer) Render(schedule Schedule, user database.User, events []database.Event, now time.Time) (Message, error) {
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil || user.Timezone == "" {
		loc = time.UTC
	}

	v := view{
		Name:     user.Name,
		Subject:  schedule.Subject,
		Date:     now.In(loc).Format("Monday, January 2"),
		Timezone: loc.String(),
	}

	for _, ev := range events {
		v.Items = append(v.Items, Item{
			Title:       ev.Title,
			When:        formatWhen(ev, loc),
			Relative:    humanize.RelTime(ev.StartTime, now, "ago", "from now"),
			Location:    ev.Location,
			IsVirtual:   ev.IsVirtual,
			MeetingLink: ev.MeetingLink,
			RSVPLink:    ev.RSVPLink,
			WhyMatters:  ev.WhyMatters,
			Tag:         string(ev.Tag),
			TagColor:    TagColor(ev.Tag),
		})
	}

	var text, html bytes.Buffer
	if err := r.text.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("failed to render text digest: %w", err)
	}
	if err := r.html.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("failed to render HTML digest: %w", err)
	}

	return Message{
		To:      user.Email,
		Subject: schedule.Subject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func formatWhen(ev database.Event, loc *time.Location) string {
	start := ev.StartTime.In(loc)
	when := start.Format("Mon Jan 2, 3:04 PM")

	if ev.EndTime != nil {
		end := ev.EndTime.In(loc)
		if end.YearDay() == start.YearDay() && end.Year() == start.Year() {
			when += " - " + end.Format("3:04 PM")
		} else {
			when += " - " + end.Format("Mon Jan 2, 3:04 PM")
		}
	}

	if ev.IsVirtual {
		when += " (virtual)"
	}
	return strings.TrimSpace(when)
}
