package shortener

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/log"
)

// maxResponseBytes caps shortener response bodies; real responses are tiny.
const maxResponseBytes = 64 << 10

// Result is the outcome of a shorten attempt. When no provider succeeds,
// ShortURL carries the original URL and Succeeded is false.
type Result struct {
	Succeeded bool   `json:"succeeded"`
	ShortURL  string `json:"short_url"`
	Provider  string `json:"provider,omitempty"`
}

// Provider is a single shortening service: a request builder plus an
// adapter mapping its raw response body to a canonical URL or failure.
type Provider struct {
	Name    string
	Request func(ctx context.Context, longURL string) (*http.Request, error)
	Adapt   func(body []byte) (string, error)
}

// Chain tries an ordered list of providers until one yields a valid
// shortened URL.
type Chain struct {
	providers []Provider
	client    *http.Client
	timeout   time.Duration
}

// NewChain creates a chain over the default provider list.
func NewChain(timeout time.Duration) *Chain {
	return NewChainWithProviders(timeout, DefaultProviders())
}

// NewChainWithProviders creates a chain over an explicit provider list,
// for tests and custom deployments.
func NewChainWithProviders(timeout time.Duration, providers []Provider) *Chain {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Chain{
		providers: providers,
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
	}
}

// Shorten rewrites longURL through the first provider that succeeds.
// A notification must never be blocked on shortening, so exhaustion
// returns the original URL with Succeeded=false rather than an error.
func (c *Chain) Shorten(ctx context.Context, longURL string) Result {
	for _, p := range c.providers {
		short, err := c.tryProvider(ctx, p, longURL)
		if err != nil {
			log.Debug("shortener provider failed",
				zap.String("provider", p.Name),
				zap.Error(err),
			)
			continue
		}
		return Result{Succeeded: true, ShortURL: short, Provider: p.Name}
	}

	log.Warn("all shortener providers exhausted, using original url",
		zap.String("url", longURL),
	)
	return Result{Succeeded: false, ShortURL: longURL}
}

func (c *Chain) tryProvider(ctx context.Context, p Provider, longURL string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := p.Request(attemptCtx, longURL)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	short, err := p.Adapt(body)
	if err != nil {
		return "", fmt.Errorf("adapt response: %w", err)
	}

	if err := validateShortURL(short, longURL); err != nil {
		return "", err
	}
	return short, nil
}

// validateShortURL requires an absolute http(s) URL different from the input.
func validateShortURL(short, longURL string) error {
	if short == longURL {
		return fmt.Errorf("provider returned the input url")
	}
	u, err := url.Parse(short)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", short, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unexpected scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q is not absolute", short)
	}
	return nil
}
