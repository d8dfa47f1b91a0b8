package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tubealert/tubealert/internal/log"
)

// Sender delivers formatted messages to a webhook URL. Delivery is
// at-most-once: any non-2xx outcome is logged and reported as failure,
// never retried.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a webhook sender with the given request timeout.
func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sender{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendResult contains the result of a webhook delivery.
type SendResult struct {
	Success    bool
	StatusCode int
	Error      string
}

// Send posts the message to webhookURL. Success is any 2xx status.
func (s *Sender) Send(ctx context.Context, webhookURL string, msg *Message) *SendResult {
	body, err := json.Marshal(msg)
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("marshal message: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return &SendResult{Error: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed",
			zap.String("url", webhookURL),
			zap.Error(err),
		)
		return &SendResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	// Read and discard body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	result := &SendResult{StatusCode: resp.StatusCode}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result.Success = true
		return result
	}

	result.Error = fmt.Sprintf("HTTP %d", resp.StatusCode)
	log.Warn("webhook delivery rejected",
		zap.String("url", webhookURL),
		zap.Int("status", resp.StatusCode),
	)
	return result
}
