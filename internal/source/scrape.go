package source

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"time"
)

const defaultBaseURL = "https://www.youtube.com"

// maxScrapeBytes caps how much of a channel page is read. Watch pages are
// large but the markers appear early; 2 MiB is comfortably past them.
const maxScrapeBytes = 2 << 20

var (
	videoIDPattern   = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
	isLivePattern    = regexp.MustCompile(`"isLive":\s*true`)
	liveBadgePattern = regexp.MustCompile(`"style":"LIVE"|BADGE_STYLE_TYPE_LIVE_NOW`)
	canonicalPattern = regexp.MustCompile(`<link rel="canonical" href="(https://www\.youtube\.com/watch\?v=[A-Za-z0-9_-]{11})"`)
	ogTitlePattern   = regexp.MustCompile(`<meta property="og:title" content="([^"]*)"`)
	ogImagePattern   = regexp.MustCompile(`<meta property="og:image" content="([^"]*)"`)
)

// ScrapeSource implements Source by fetching public channel pages and
// pattern-extracting the canonical fields. Every extraction is fallible;
// the result shape is always the canonical one.
type ScrapeSource struct {
	client  *http.Client
	baseURL string
}

// NewScrapeSource creates a scraping source with the given request timeout.
func NewScrapeSource(timeout time.Duration) *ScrapeSource {
	return &ScrapeSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: defaultBaseURL,
	}
}

// NewScrapeSourceWithClient creates a scraping source against a custom
// client and base URL, for tests.
func NewScrapeSourceWithClient(client *http.Client, baseURL string) *ScrapeSource {
	return &ScrapeSource{client: client, baseURL: baseURL}
}

// IsLive fetches the channel's /live page and looks for live markers.
func (s *ScrapeSource) IsLive(ctx context.Context, handle string) (*LiveResult, error) {
	body, err := s.fetch(ctx, fmt.Sprintf("%s/%s/live", s.baseURL, handle))
	if err != nil {
		return nil, err
	}

	result := &LiveResult{SourceMethod: MethodFallback}

	if !isLivePattern.Match(body) && !liveBadgePattern.Match(body) {
		return result, nil
	}

	result.IsLive = true
	if m := canonicalPattern.FindSubmatch(body); m != nil {
		result.URL = string(m[1])
	} else if m := videoIDPattern.FindSubmatch(body); m != nil {
		result.URL = WatchURL(string(m[1]))
	}
	if m := ogTitlePattern.FindSubmatch(body); m != nil {
		result.Title = html.UnescapeString(string(m[1]))
	}
	if m := ogImagePattern.FindSubmatch(body); m != nil {
		result.Thumbnail = string(m[1])
	}
	return result, nil
}

// LatestVideos extracts video ids from the channel's /videos tab.
func (s *ScrapeSource) LatestVideos(ctx context.Context, handle string, limit int) (*ListResult, error) {
	return s.listTab(ctx, handle, "videos", limit, WatchURL)
}

// LatestShorts extracts video ids from the channel's /shorts tab.
func (s *ScrapeSource) LatestShorts(ctx context.Context, handle string, limit int) (*ListResult, error) {
	return s.listTab(ctx, handle, "shorts", limit, ShortURL)
}

func (s *ScrapeSource) listTab(ctx context.Context, handle, tab string, limit int, urlFor func(string) string) (*ListResult, error) {
	if limit <= 0 {
		limit = 5
	}

	body, err := s.fetch(ctx, fmt.Sprintf("%s/%s/%s", s.baseURL, handle, tab))
	if err != nil {
		return nil, err
	}

	result := &ListResult{SourceMethod: MethodFallback}
	seen := make(map[string]bool)
	for _, m := range videoIDPattern.FindAllSubmatch(body, -1) {
		id := string(m[1])
		if seen[id] {
			continue
		}
		seen[id] = true
		result.Items = append(result.Items, ContentItem{
			ID:  id,
			URL: urlFor(id),
		})
		if len(result.Items) >= limit {
			break
		}
	}
	return result, nil
}

func (s *ScrapeSource) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept-Language", "en")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScrapeBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return body, nil
}
