package api

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/lysyi3m/concierge/app/database"
)

// Generator renders stored events as an RSS 2.0 channel.
type Generator struct {
	baseURL string
	version string
}

func NewGenerator(baseURL, version string) *Generator {
	return &Generator{baseURL: strings.TrimRight(baseURL, "/"), version: version}
}

func (g *Generator) Run(events []database.Event, now time.Time) (string, error) {
	var buf bytes.Buffer

	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	buf.WriteString("\n")
	buf.WriteString(`<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">`)
	buf.WriteString("\n  <channel>\n")

	g.writeElement(&buf, "title", "Upcoming Events", 4)
	g.writeElement(&buf, "link", g.baseURL+"/", 4)
	g.writeElement(&buf, "description", "Events aggregated from calendars, chats and announcements", 4)

	buf.WriteString(fmt.Sprintf("    <atom:link href=\"%s\" rel=\"self\" type=\"application/rss+xml\" />\n",
		html.EscapeString(g.baseURL+"/feeds/events.rss")))

	g.writeElement(&buf, "lastBuildDate", now.Format(time.RFC1123Z), 4)
	g.writeElement(&buf, "generator", fmt.Sprintf("Concierge/%s", g.version), 4)

	for _, ev := range events {
		g.writeItem(&buf, ev)
	}

	buf.WriteString("  </channel>\n</rss>")

	return buf.String(), nil
}

func (g *Generator) writeItem(buf *bytes.Buffer, ev database.Event) {
	buf.WriteString("    <item>\n")

	guid := ev.Fingerprint
	if guid == "" {
		guid = fmt.Sprintf("event-%d", ev.ID)
	}
	buf.WriteString("      <guid isPermaLink=\"false\">")
	xml.EscapeText(buf, []byte(guid))
	buf.WriteString("</guid>\n")

	g.writeElement(buf, "title", ev.Title, 6)

	link := ev.RSVPLink
	if link == "" {
		link = ev.MeetingLink
	}
	if link == "" {
		link = fmt.Sprintf("%s/api/events/%d", g.baseURL, ev.ID)
	}
	g.writeElement(buf, "link", link, 6)

	g.writeElement(buf, "description", g.describe(ev), 6)
	g.writeElement(buf, "pubDate", ev.StartTime.Format(time.RFC1123Z), 6)

	if ev.Tag != "" {
		g.writeElement(buf, "category", string(ev.Tag), 6)
	}
	if ev.SourceName != "" {
		g.writeElement(buf, "source", ev.SourceName, 6)
	}

	buf.WriteString("    </item>\n")
}

func (g *Generator) describe(ev database.Event) string {
	var parts []string

	when := ev.StartTime.In(time.Local).Format("Mon Jan 2, 2006 3:04 PM MST")
	if ev.EndTime != nil {
		when += " - " + ev.EndTime.In(time.Local).Format("3:04 PM MST")
	}
	parts = append(parts, when)

	if ev.Location != "" {
		parts = append(parts, "Location: "+ev.Location)
	}
	if ev.IsVirtual && ev.MeetingLink != "" {
		parts = append(parts, "Join: "+ev.MeetingLink)
	}
	if ev.Description != "" {
		parts = append(parts, ev.Description)
	}
	if ev.WhyMatters != "" {
		parts = append(parts, "Why it matters: "+ev.WhyMatters)
	}

	return strings.Join(parts, "\n")
}

func (g *Generator) writeElement(buf *bytes.Buffer, tag, content string, indent int) {
	if content == "" {
		return
	}

	for i := 0; i < indent; i++ {
		buf.WriteByte(' ')
	}

	buf.WriteString("<")
	buf.WriteString(tag)
	buf.WriteString(">")
	xml.EscapeText(buf, []byte(content))
	buf.WriteString("</")
	buf.WriteString(tag)
	buf.WriteString(">\n")
}
