package shortener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

const longURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

func TestShortenFirstSuccessWins(t *testing.T) {
	var secondCalled atomic.Bool

	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("https://tinyurl.com/abc"))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondCalled.Store(true)
		w.Write([]byte("https://is.gd/def"))
	}))
	defer second.Close()

	chain := NewChainWithProviders(5*time.Second, []Provider{
		TinyURL(first.URL),
		TinyURL(second.URL),
	})

	result := chain.Shorten(context.Background(), longURL)
	if !result.Succeeded {
		t.Fatalf("Succeeded = false, want true: %+v", result)
	}
	if result.ShortURL != "https://tinyurl.com/abc" {
		t.Fatalf("ShortURL = %q, want first provider's answer", result.ShortURL)
	}
	if result.Provider != "tinyurl" {
		t.Fatalf("Provider = %q, want tinyurl", result.Provider)
	}
	if secondCalled.Load() {
		t.Fatal("second provider called although the first succeeded")
	}
}

func TestShortenSkipsFailingProviders(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("https://is.gd/def"))
	}))
	defer working.Close()

	chain := NewChainWithProviders(5*time.Second, []Provider{
		TinyURL(failing.URL),
		TinyURL(working.URL),
	})

	result := chain.Shorten(context.Background(), longURL)
	if !result.Succeeded {
		t.Fatalf("Succeeded = false, want fallthrough to second provider: %+v", result)
	}
	if result.ShortURL != "https://is.gd/def" {
		t.Fatalf("ShortURL = %q, want second provider's answer", result.ShortURL)
	}
}

func TestShortenRejectsInvalidShortURLs(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"relative url", "/abc"},
		{"wrong scheme", "ftp://short.example/abc"},
		{"echoes input", longURL},
		{"garbage", "error: rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			chain := NewChainWithProviders(5*time.Second, []Provider{TinyURL(server.URL)})
			result := chain.Shorten(context.Background(), longURL)
			if result.Succeeded {
				t.Fatalf("Succeeded = true for body %q, want rejection", tt.body)
			}
		})
	}
}

func TestShortenExhaustionReturnsIdentity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	chain := NewChainWithProviders(5*time.Second, []Provider{
		TinyURL(server.URL),
		IsGd(server.URL),
	})

	result := chain.Shorten(context.Background(), longURL)
	if result.Succeeded {
		t.Fatal("Succeeded = true after exhaustion, want false")
	}
	if result.ShortURL != longURL {
		t.Fatalf("ShortURL = %q, want identity fallback %q", result.ShortURL, longURL)
	}
	if result.Provider != "" {
		t.Fatalf("Provider = %q, want empty on exhaustion", result.Provider)
	}
}

func TestShortenWithNoProviders(t *testing.T) {
	chain := NewChainWithProviders(time.Second, nil)
	result := chain.Shorten(context.Background(), longURL)
	if result.Succeeded || result.ShortURL != longURL {
		t.Fatalf("result = %+v, want identity fallback", result)
	}
}
