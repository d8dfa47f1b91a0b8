package shortener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// DefaultProviders returns the built-in provider chain in priority order.
func DefaultProviders() []Provider {
	return []Provider{
		TinyURL("https://tinyurl.com/api-create.php"),
		IsGd("https://is.gd/create.php"),
		VGd("https://v.gd/create.php"),
		CleanURI("https://cleanuri.com/api/v1/shorten"),
		Ulvis("https://ulvis.net/api.php"),
	}
}

// TinyURL responds with the shortened URL as a plain text body.
func TinyURL(endpoint string) Provider {
	return Provider{
		Name: "tinyurl",
		Request: func(ctx context.Context, longURL string) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				endpoint+"?url="+url.QueryEscape(longURL), nil)
		},
		Adapt: func(body []byte) (string, error) {
			short := strings.TrimSpace(string(body))
			if short == "" {
				return "", fmt.Errorf("empty response")
			}
			return short, nil
		},
	}
}

// IsGd responds with {"shorturl": "..."} in JSON mode.
func IsGd(endpoint string) Provider {
	return Provider{
		Name:    "isgd",
		Request: jsonCreateRequest(endpoint),
		Adapt:   shorturlFieldAdapter,
	}
}

// VGd is API-compatible with is.gd.
func VGd(endpoint string) Provider {
	return Provider{
		Name:    "vgd",
		Request: jsonCreateRequest(endpoint),
		Adapt:   shorturlFieldAdapter,
	}
}

// CleanURI takes a form POST and responds with {"result_url": "..."}.
func CleanURI(endpoint string) Provider {
	return Provider{
		Name: "cleanuri",
		Request: func(ctx context.Context, longURL string) (*http.Request, error) {
			form := url.Values{"url": {longURL}}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				endpoint, strings.NewReader(form.Encode()))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			return req, nil
		},
		Adapt: func(body []byte) (string, error) {
			var resp struct {
				ResultURL string `json:"result_url"`
				Error     string `json:"error"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", err
			}
			if resp.Error != "" {
				return "", fmt.Errorf("provider error: %s", resp.Error)
			}
			if resp.ResultURL == "" {
				return "", fmt.Errorf("missing result_url")
			}
			return resp.ResultURL, nil
		},
	}
}

// Ulvis responds with {"success": bool, "data": {"url": "..."}}.
func Ulvis(endpoint string) Provider {
	return Provider{
		Name: "ulvis",
		Request: func(ctx context.Context, longURL string) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet,
				endpoint+"?type=json&url="+url.QueryEscape(longURL), nil)
		},
		Adapt: func(body []byte) (string, error) {
			var resp struct {
				Success bool `json:"success"`
				Data    struct {
					URL string `json:"url"`
				} `json:"data"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				return "", err
			}
			if !resp.Success || resp.Data.URL == "" {
				return "", fmt.Errorf("provider reported failure")
			}
			return resp.Data.URL, nil
		},
	}
}

func jsonCreateRequest(endpoint string) func(ctx context.Context, longURL string) (*http.Request, error) {
	return func(ctx context.Context, longURL string) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet,
			endpoint+"?format=json&url="+url.QueryEscape(longURL), nil)
	}
}

func shorturlFieldAdapter(body []byte) (string, error) {
	var resp struct {
		ShortURL string `json:"shorturl"`
		ErrMsg   string `json:"errormessage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.ErrMsg != "" {
		return "", fmt.Errorf("provider error: %s", resp.ErrMsg)
	}
	if resp.ShortURL == "" {
		return "", fmt.Errorf("missing shorturl")
	}
	return resp.ShortURL, nil
}
