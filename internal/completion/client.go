package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aman-churiwal/chat-gateway/internal/circuitbreaker"
	"github.com/rs/zerolog/log"
)

const maxErrorBody = 512

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	Timeout        time.Duration
	Temperature    float64
	CircuitBreaker circuitbreaker.Config
	HTTPClient     *http.Client
}

// Client talks to an OpenAI-compatible /chat/completions endpoint. Calls are
// wrapped in a circuit breaker so a failing upstream is not hammered.
type Client struct {
	apiKey         string
	endpoint       string
	model          string
	temperature    float64
	timeout        time.Duration
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}

	return &Client{
		apiKey:         cfg.APIKey,
		endpoint:       strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		model:          cfg.Model,
		temperature:    cfg.Temperature,
		timeout:        cfg.Timeout,
		httpClient:     cfg.HTTPClient,
		circuitBreaker: circuitbreaker.New(cfg.CircuitBreaker),
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete sends the conversation upstream. Any error means nothing should be
// charged for the request.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp *Response
	var callerErr error
	err = c.circuitBreaker.Call(func() error {
		r, err := c.do(ctx, body)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				callerErr = err
				return circuitbreaker.Ignore(err)
			}
			// Client mistakes are not upstream failures.
			var upErr *UpstreamError
			if errors.As(err, &upErr) && upErr.StatusCode < 500 && upErr.StatusCode != http.StatusTooManyRequests {
				callerErr = err
				return nil
			}
			return err
		}
		resp = r
		return nil
	})

	switch {
	case callerErr != nil:
		return nil, callerErr
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		log.Warn().Msg("Upstream circuit breaker open")
		return nil, ErrUpstreamUnavailable
	case err != nil:
		return nil, err
	}

	log.Info().
		Str("model", resp.Model).
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Int64("total_tokens", resp.Usage.TotalTokens).
		Msg("Upstream completion finished")

	return resp, nil
}

func (c *Client) do(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, &UpstreamError{StatusCode: httpResp.StatusCode, Body: string(msg)}
	}

	var parsed chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrUpstreamTimeout
		}
		return nil, fmt.Errorf("failed to decode upstream response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("upstream response has no choices")
	}

	return &Response{
		Message: parsed.Choices[0].Message.Content,
		Model:   parsed.Model,
		Usage:   parsed.Usage,
	}, nil
}

// Returns circuit breaker metrics
func (c *Client) CircuitBreakerMetrics() circuitbreaker.Metrics {
	return c.circuitBreaker.Metrics()
}

// Manually resets the circuit breaker
func (c *Client) ResetCircuitBreaker() {
	c.circuitBreaker.Reset()
}
