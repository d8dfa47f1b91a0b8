package source

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/log"
)

// Method records which lookup strategy served a result.
type Method string

const (
	MethodAPI      Method = "api"
	MethodFallback Method = "fallback"
	MethodNone     Method = "none"
)

// LiveResult is the answer to "is this channel live right now".
type LiveResult struct {
	IsLive       bool   `json:"is_live"`
	URL          string `json:"url,omitempty"`
	Title        string `json:"title,omitempty"`
	Thumbnail    string `json:"thumbnail,omitempty"`
	SourceMethod Method `json:"source_method"`
}

// ContentItem is a single video or short, newest first in listings.
type ContentItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	URL         string    `json:"url"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
}

// ListResult is an ordered listing of recent content, newest first.
type ListResult struct {
	Items        []ContentItem `json:"items"`
	SourceMethod Method        `json:"source_method"`
}

// Source answers content queries for a channel handle. Implementations
// are pure queries and hold no per-channel state.
type Source interface {
	IsLive(ctx context.Context, handle string) (*LiveResult, error)
	LatestVideos(ctx context.Context, handle string, limit int) (*ListResult, error)
	LatestShorts(ctx context.Context, handle string, limit int) (*ListResult, error)
}

// FallbackSource composes a primary API strategy with a scraping fallback.
// Any primary error falls through to the fallback; if both strategies fail
// the zero result is returned without an error, so callers cannot tell
// "no content" apart from "lookup failed". That conflation is deliberate.
type FallbackSource struct {
	primary  Source // may be nil when no API key is configured
	fallback Source
}

// NewFallbackSource creates a composed source. primary may be nil.
func NewFallbackSource(primary, fallback Source) *FallbackSource {
	return &FallbackSource{primary: primary, fallback: fallback}
}

// IsLive queries live status, API first.
func (s *FallbackSource) IsLive(ctx context.Context, handle string) (*LiveResult, error) {
	if s.primary != nil {
		result, err := s.primary.IsLive(ctx, handle)
		if err == nil {
			return result, nil
		}
		log.Warn("api live lookup failed, trying fallback",
			zap.String("handle", handle),
			zap.Error(err),
		)
	}

	result, err := s.fallback.IsLive(ctx, handle)
	if err != nil {
		log.Warn("fallback live lookup failed, treating channel as offline",
			zap.String("handle", handle),
			zap.Error(err),
		)
		return &LiveResult{IsLive: false, SourceMethod: MethodNone}, nil
	}
	return result, nil
}

// LatestVideos lists recent uploads, API first.
func (s *FallbackSource) LatestVideos(ctx context.Context, handle string, limit int) (*ListResult, error) {
	if s.primary != nil {
		result, err := s.primary.LatestVideos(ctx, handle, limit)
		if err == nil {
			return result, nil
		}
		log.Warn("api video lookup failed, trying fallback",
			zap.String("handle", handle),
			zap.Error(err),
		)
	}

	result, err := s.fallback.LatestVideos(ctx, handle, limit)
	if err != nil {
		log.Warn("fallback video lookup failed, returning empty listing",
			zap.String("handle", handle),
			zap.Error(err),
		)
		return &ListResult{SourceMethod: MethodNone}, nil
	}
	return result, nil
}

// LatestShorts lists recent shorts, API first.
func (s *FallbackSource) LatestShorts(ctx context.Context, handle string, limit int) (*ListResult, error) {
	if s.primary != nil {
		result, err := s.primary.LatestShorts(ctx, handle, limit)
		if err == nil {
			return result, nil
		}
		log.Warn("api shorts lookup failed, trying fallback",
			zap.String("handle", handle),
			zap.Error(err),
		)
	}

	result, err := s.fallback.LatestShorts(ctx, handle, limit)
	if err != nil {
		log.Warn("fallback shorts lookup failed, returning empty listing",
			zap.String("handle", handle),
			zap.Error(err),
		)
		return &ListResult{SourceMethod: MethodNone}, nil
	}
	return result, nil
}

// WatchURL returns the canonical watch URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ShortURL returns the canonical shorts URL for a video id.
func ShortURL(videoID string) string {
	return "https://www.youtube.com/shorts/" + videoID
}
