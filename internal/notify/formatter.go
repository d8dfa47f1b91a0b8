package notify

import (
	"fmt"
	"time"
)

// EventType tags a notification event.
type EventType string

const (
	EventStreamStarted   EventType = "stream_started"
	EventStreamEnded     EventType = "stream_ended"
	EventNewVideo        EventType = "new_video"
	EventNewShort        EventType = "new_short"
	EventMonitoringError EventType = "monitoring_error"
	EventTest            EventType = "test"
)

// Embed colors per event category.
const (
	colorLive    = 0x57F287 // green
	colorEnded   = 0x95A5A6 // grey
	colorVideo   = 0xFF0000 // youtube red
	colorShort   = 0xFEE75C // yellow
	colorError   = 0xED4245 // alert red
	colorNeutral = 0x5865F2 // blurple
)

// Event carries the context an event tag is formatted with.
type Event struct {
	Type      EventType
	EventID   string
	Channel   string // normalized @handle
	Title     string // content title, when known
	URL       string // shortened (or original) content link
	Shortened bool   // whether URL went through a shortener
	Thumbnail string
	Reason    string // monitoring_error detail
}

// Embed is a Discord message embed.
type Embed struct {
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	URL         string          `json:"url,omitempty"`
	Color       int             `json:"color,omitempty"`
	Timestamp   string          `json:"timestamp,omitempty"`
	Thumbnail   *EmbedThumbnail `json:"thumbnail,omitempty"`
	Footer      *EmbedFooter    `json:"footer,omitempty"`
}

// EmbedThumbnail is the thumbnail part of an embed.
type EmbedThumbnail struct {
	URL string `json:"url"`
}

// EmbedFooter is the footer part of an embed.
type EmbedFooter struct {
	Text string `json:"text"`
}

// Message is a Discord webhook payload.
type Message struct {
	Username string  `json:"username,omitempty"`
	Content  string  `json:"content,omitempty"`
	Embeds   []Embed `json:"embeds,omitempty"`
}

// Format maps an event to its webhook message. One deterministic template
// per event tag; unknown tags degrade to a minimal generic message.
func Format(event Event) *Message {
	now := time.Now().UTC().Format(time.RFC3339)

	embed := Embed{
		Timestamp: now,
		Color:     colorNeutral,
	}
	if event.Thumbnail != "" {
		embed.Thumbnail = &EmbedThumbnail{URL: event.Thumbnail}
	}
	if event.EventID != "" {
		embed.Footer = &EmbedFooter{Text: event.EventID}
	}

	msg := &Message{Username: "TubeAlert"}

	switch event.Type {
	case EventStreamStarted:
		embed.Title = fmt.Sprintf("🔴 %s is live!", event.Channel)
		embed.Description = describeContent(event, "Streaming now")
		embed.URL = event.URL
		embed.Color = colorLive
		msg.Content = fmt.Sprintf("%s just went live", event.Channel)

	case EventStreamEnded:
		embed.Title = fmt.Sprintf("⏹️ %s finished streaming", event.Channel)
		embed.Description = fmt.Sprintf("The stream on %s has ended.", event.Channel)
		embed.Color = colorEnded

	case EventNewVideo:
		embed.Title = fmt.Sprintf("🎬 New video from %s", event.Channel)
		embed.Description = describeContent(event, "New upload")
		embed.URL = event.URL
		embed.Color = colorVideo
		msg.Content = fmt.Sprintf("%s uploaded a new video", event.Channel)

	case EventNewShort:
		embed.Title = fmt.Sprintf("⚡ New short from %s", event.Channel)
		embed.Description = describeContent(event, "New short")
		embed.URL = event.URL
		embed.Color = colorShort
		msg.Content = fmt.Sprintf("%s posted a new short", event.Channel)

	case EventMonitoringError:
		embed.Title = fmt.Sprintf("⚠️ Monitoring stopped for %s", event.Channel)
		embed.Description = fmt.Sprintf(
			"Monitoring of %s was stopped after repeated failures: %s", event.Channel, event.Reason)
		embed.Color = colorError

	case EventTest:
		embed.Title = "✅ Webhook test"
		embed.Description = fmt.Sprintf("Test notification for %s. Delivery works.", orDefault(event.Channel, "this webhook"))
		embed.Color = colorNeutral

	default:
		embed.Title = fmt.Sprintf("Notification for %s", orDefault(event.Channel, "unknown channel"))
		embed.Description = fmt.Sprintf("Event: %s", event.Type)
	}

	msg.Embeds = []Embed{embed}
	return msg
}

func describeContent(event Event, fallbackTitle string) string {
	title := orDefault(event.Title, fallbackTitle)
	if event.URL == "" {
		return fmt.Sprintf("**%s** on %s", title, event.Channel)
	}
	link := event.URL
	if !event.Shortened {
		link += " (link not shortened)"
	}
	return fmt.Sprintf("**%s** on %s\n%s", title, event.Channel, link)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
