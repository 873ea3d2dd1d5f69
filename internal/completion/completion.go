// Package completion calls the upstream chat completion API.
package completion

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUpstreamTimeout means the upstream did not answer in time. Whatever
	// it may have generated is unknown and counts as zero consumption.
	ErrUpstreamTimeout = errors.New("upstream completion timed out")
	// ErrUpstreamUnavailable is returned while the upstream circuit is open.
	ErrUpstreamUnavailable = errors.New("upstream completion service unavailable")
	// ErrNotConfigured means no API key was provided.
	ErrNotConfigured = errors.New("upstream completion service not configured")
)

// UpstreamError is a non-2xx answer from the upstream.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages  []Message
	MaxTokens int
}

// Usage is the token accounting reported by the upstream.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type Response struct {
	Message string
	Model   string
	Usage   Usage
}

// Completer produces a chat completion.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	Configured() bool
}
