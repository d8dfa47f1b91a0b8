package source

import (
	"context"
	"errors"
	"testing"
)

type fixedSource struct {
	live    *LiveResult
	listing *ListResult
	err     error
	calls   int
}

func (f *fixedSource) IsLive(ctx context.Context, handle string) (*LiveResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.live, nil
}

func (f *fixedSource) LatestVideos(ctx context.Context, handle string, limit int) (*ListResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

func (f *fixedSource) LatestShorts(ctx context.Context, handle string, limit int) (*ListResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.listing, nil
}

func TestFallbackPrefersPrimary(t *testing.T) {
	primary := &fixedSource{live: &LiveResult{IsLive: true, SourceMethod: MethodAPI}}
	fallback := &fixedSource{live: &LiveResult{IsLive: false, SourceMethod: MethodFallback}}
	src := NewFallbackSource(primary, fallback)

	result, err := src.IsLive(context.Background(), "@example")
	if err != nil {
		t.Fatalf("IsLive returned error: %v", err)
	}
	if !result.IsLive || result.SourceMethod != MethodAPI {
		t.Fatalf("result = %+v, want primary's answer", result)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0 when primary succeeds", fallback.calls)
	}
}

func TestFallbackOnPrimaryError(t *testing.T) {
	primary := &fixedSource{err: errors.New("quota exceeded")}
	fallback := &fixedSource{live: &LiveResult{IsLive: true, SourceMethod: MethodFallback}}
	src := NewFallbackSource(primary, fallback)

	result, err := src.IsLive(context.Background(), "@example")
	if err != nil {
		t.Fatalf("IsLive returned error: %v", err)
	}
	if !result.IsLive || result.SourceMethod != MethodFallback {
		t.Fatalf("result = %+v, want fallback's answer", result)
	}
}

func TestFallbackWithoutPrimary(t *testing.T) {
	fallback := &fixedSource{listing: &ListResult{
		Items:        []ContentItem{{ID: "abc12345678", URL: WatchURL("abc12345678")}},
		SourceMethod: MethodFallback,
	}}
	src := NewFallbackSource(nil, fallback)

	result, err := src.LatestVideos(context.Background(), "@example", 1)
	if err != nil {
		t.Fatalf("LatestVideos returned error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(result.Items))
	}
}

func TestBothStrategiesFailingFailsClosed(t *testing.T) {
	primary := &fixedSource{err: errors.New("api down")}
	fallback := &fixedSource{err: errors.New("scrape blocked")}
	src := NewFallbackSource(primary, fallback)

	// Lookup failure is indistinguishable from "no content": zero result,
	// no error.
	live, err := src.IsLive(context.Background(), "@example")
	if err != nil {
		t.Fatalf("IsLive returned error: %v", err)
	}
	if live.IsLive || live.SourceMethod != MethodNone {
		t.Fatalf("live = %+v, want offline zero result", live)
	}

	videos, err := src.LatestVideos(context.Background(), "@example", 5)
	if err != nil {
		t.Fatalf("LatestVideos returned error: %v", err)
	}
	if len(videos.Items) != 0 || videos.SourceMethod != MethodNone {
		t.Fatalf("videos = %+v, want empty zero result", videos)
	}

	shorts, err := src.LatestShorts(context.Background(), "@example", 5)
	if err != nil {
		t.Fatalf("LatestShorts returned error: %v", err)
	}
	if len(shorts.Items) != 0 || shorts.SourceMethod != MethodNone {
		t.Fatalf("shorts = %+v, want empty zero result", shorts)
	}
}

func TestCanonicalURLs(t *testing.T) {
	if got := WatchURL("abc12345678"); got != "https://www.youtube.com/watch?v=abc12345678" {
		t.Fatalf("WatchURL = %q", got)
	}
	if got := ShortURL("abc12345678"); got != "https://www.youtube.com/shorts/abc12345678" {
		t.Fatalf("ShortURL = %q", got)
	}
}
