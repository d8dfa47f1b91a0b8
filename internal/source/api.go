package source

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// APISource implements Source using the YouTube Data API v3.
// Handle-to-channel-id resolution is cached for the process lifetime.
type APISource struct {
	service *youtube.Service
	limiter *rate.Limiter

	mu         sync.Mutex
	channelIDs map[string]string // handle -> channel id
}

// NewAPISource creates an API-backed source. qps bounds outgoing API calls.
func NewAPISource(ctx context.Context, apiKey string, qps float64) (*APISource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key required")
	}

	service, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	if qps <= 0 {
		qps = 5
	}

	return &APISource{
		service:    service,
		limiter:    rate.NewLimiter(rate.Limit(qps), 1),
		channelIDs: make(map[string]string),
	}, nil
}

// IsLive checks live status via a search for active live broadcasts.
func (s *APISource) IsLive(ctx context.Context, handle string) (*LiveResult, error) {
	channelID, err := s.resolveChannelID(ctx, handle)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.service.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search live broadcasts for %s: %w", handle, err)
	}

	result := &LiveResult{SourceMethod: MethodAPI}
	if len(resp.Items) == 0 {
		return result, nil
	}

	item := resp.Items[0]
	result.IsLive = true
	if item.Id != nil {
		result.URL = WatchURL(item.Id.VideoId)
	}
	if item.Snippet != nil {
		result.Title = item.Snippet.Title
		if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.High != nil {
			result.Thumbnail = item.Snippet.Thumbnails.High.Url
		}
	}
	return result, nil
}

// LatestVideos lists the channel's uploads playlist, newest first.
func (s *APISource) LatestVideos(ctx context.Context, handle string, limit int) (*ListResult, error) {
	channelID, err := s.resolveChannelID(ctx, handle)
	if err != nil {
		return nil, err
	}
	return s.listPlaylist(ctx, uploadsPlaylistID(channelID), limit, WatchURL)
}

// LatestShorts lists the channel's shorts playlist, newest first.
// YouTube exposes shorts under the UUSH-prefixed variant of the uploads
// playlist id.
func (s *APISource) LatestShorts(ctx context.Context, handle string, limit int) (*ListResult, error) {
	channelID, err := s.resolveChannelID(ctx, handle)
	if err != nil {
		return nil, err
	}
	return s.listPlaylist(ctx, shortsPlaylistID(channelID), limit, ShortURL)
}

func (s *APISource) listPlaylist(ctx context.Context, playlistID string, limit int, urlFor func(string) string) (*ListResult, error) {
	if limit <= 0 {
		limit = 5
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := s.service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
		PlaylistId(playlistID).
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list playlist %s: %w", playlistID, err)
	}

	result := &ListResult{SourceMethod: MethodAPI}
	for _, item := range resp.Items {
		if item.ContentDetails == nil || item.ContentDetails.VideoId == "" {
			continue
		}
		ci := ContentItem{
			ID:  item.ContentDetails.VideoId,
			URL: urlFor(item.ContentDetails.VideoId),
		}
		if item.Snippet != nil {
			ci.Title = item.Snippet.Title
			if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.High != nil {
				ci.Thumbnail = item.Snippet.Thumbnails.High.Url
			}
			if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
				ci.PublishedAt = t
			}
		}
		result.Items = append(result.Items, ci)
	}
	return result, nil
}

// resolveChannelID converts an @handle to a channel id via the Channels
// endpoint, memoizing successful lookups.
func (s *APISource) resolveChannelID(ctx context.Context, handle string) (string, error) {
	s.mu.Lock()
	if id, ok := s.channelIDs[handle]; ok {
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := s.service.Channels.List([]string{"id"}).
		ForHandle(strings.TrimPrefix(handle, "@")).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("resolve channel %s: %w", handle, err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("channel %s not found", handle)
	}

	id := resp.Items[0].Id
	s.mu.Lock()
	s.channelIDs[handle] = id
	s.mu.Unlock()
	return id, nil
}

// uploadsPlaylistID derives the uploads playlist id from a channel id
// (UC... -> UU...).
func uploadsPlaylistID(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UU" + channelID[2:]
	}
	return channelID
}

// shortsPlaylistID derives the shorts-only playlist id (UC... -> UUSH...).
func shortsPlaylistID(channelID string) string {
	if strings.HasPrefix(channelID, "UC") {
		return "UUSH" + channelID[2:]
	}
	return channelID
}
