// Package webhook posts stored earthquake events to configured HTTP
// targets, signed with HMAC-SHA256 so receivers can verify origin.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const userAgent = "quakefeed/1.0"

// Target is one webhook destination.
type Target struct {
	Name   string // human-readable, for logs
	URL    string
	Secret string
}

// DeliveryResult describes one delivery attempt.
type DeliveryResult struct {
	URL          string
	StatusCode   int // 0 if the request never completed
	Success      bool
	ErrorMessage string
	ResponseTime time.Duration
}

// Sender posts payloads to webhook targets. Safe for concurrent use.
type Sender struct {
	client  *http.Client
	timeout time.Duration
}

// SenderOption configures the Sender.
type SenderOption func(*Sender)

// WithTimeout sets the per-request timeout. Default 10s.
func WithTimeout(d time.Duration) SenderOption {
	return func(s *Sender) { s.timeout = d }
}

// NewSender creates a Sender.
func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	s.client = &http.Client{Timeout: s.timeout}
	return s
}

// Send posts the payload to one target.
func (s *Sender) Send(ctx context.Context, target Target, payload []byte) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{URL: target.URL}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to create request: %v", err)
		result.ResponseTime = time.Since(start)
		return result
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature-256", Sign(target.Secret, payload))
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("request failed: %v", err)
		result.ResponseTime = time.Since(start)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	result.ResponseTime = time.Since(start)
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
	}
	return result
}

// SendAll posts the payload to every target concurrently and returns the
// results in target order.
func (s *Sender) SendAll(ctx context.Context, targets []Target, payload []byte) []DeliveryResult {
	if len(targets) == 0 {
		return []DeliveryResult{}
	}

	results := make([]DeliveryResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			results[i] = s.Send(ctx, t, payload)
		}(i, target)
	}
	wg.Wait()
	return results
}
