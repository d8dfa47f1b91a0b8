package db

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentType is an independently polled content category for a channel.
type ContentType string

const (
	ContentLive   ContentType = "live"
	ContentVideos ContentType = "videos"
	ContentShorts ContentType = "shorts"
)

// ValidContentTypes maps every recognized content type.
var ValidContentTypes = map[ContentType]bool{
	ContentLive:   true,
	ContentVideos: true,
	ContentShorts: true,
}

// AllContentTypes lists every content type in canonical order.
func AllContentTypes() []ContentType {
	return []ContentType{ContentLive, ContentVideos, ContentShorts}
}

// ErrInvalidHandle is returned when a channel handle cannot be normalized.
var ErrInvalidHandle = errors.New("invalid channel handle")

// NormalizeHandle canonicalizes a channel handle to the "@name" form.
// It returns an error for empty or whitespace-only input.
func NormalizeHandle(handle string) (string, error) {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	if h == "" {
		return "", fmt.Errorf("%w: handle is empty", ErrInvalidHandle)
	}
	if strings.ContainsAny(h, " \t/?#") {
		return "", fmt.Errorf("%w: %q contains invalid characters", ErrInvalidHandle, handle)
	}
	return "@" + h, nil
}

// LastKnownState is the per-channel snapshot change detection diffs against.
// It is mutated only by the owning monitoring instance and persisted after
// every mutation.
type LastKnownState struct {
	Live          bool    `json:"live"`
	LatestVideoID *string `json:"latest_video_id,omitempty"`
	LatestShortID *string `json:"latest_short_id,omitempty"`
}

// ChannelConfig is the durable per-channel monitoring configuration.
type ChannelConfig struct {
	ChannelHandle  string         `json:"channel_handle"`
	WebhookURL     string         `json:"webhook_url"`
	ContentTypes   []ContentType  `json:"content_types"`
	PollInterval   time.Duration  `json:"monitor_interval_ms"`
	LastKnownState LastKnownState `json:"last_known_states"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Validate checks that the config is complete and internally consistent.
func (c *ChannelConfig) Validate() error {
	if !strings.HasPrefix(c.ChannelHandle, "@") || len(c.ChannelHandle) < 2 {
		return fmt.Errorf("channel_handle must be a non-empty @handle")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if len(c.ContentTypes) == 0 {
		return fmt.Errorf("content_types must not be empty")
	}
	for _, ct := range c.ContentTypes {
		if !ValidContentTypes[ct] {
			return fmt.Errorf("unknown content type %q", ct)
		}
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("monitor_interval_ms must be positive")
	}
	return nil
}

// HasContentType reports whether ct is in the subscribed set.
func (c *ChannelConfig) HasContentType(ct ContentType) bool {
	for _, t := range c.ContentTypes {
		if t == ct {
			return true
		}
	}
	return false
}

// Equal reports whether two configs describe the same monitoring setup.
// LastKnownState and timestamps are excluded from the comparison.
func (c *ChannelConfig) Equal(other *ChannelConfig) bool {
	if other == nil {
		return false
	}
	if c.ChannelHandle != other.ChannelHandle ||
		c.WebhookURL != other.WebhookURL ||
		c.PollInterval != other.PollInterval ||
		len(c.ContentTypes) != len(other.ContentTypes) {
		return false
	}
	for i := range c.ContentTypes {
		if c.ContentTypes[i] != other.ContentTypes[i] {
			return false
		}
	}
	return true
}
