package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/leeineian/tunequiz/sys"
	"golang.org/x/time/rate"
)

const (
	MsgAIStatus      = "Completion service returned %d: %s"
	MsgAINoChoices   = "Completion service returned no choices"
	defaultAITimeout = 5 * time.Second
)

// CompletionClient talks to an OpenRouter-compatible chat completions endpoint.
type CompletionClient struct {
	endpoint string
	token    string
	model    string
	timeout  time.Duration
	client   *http.Client
	limiter  *rate.Limiter
	disabled bool
}

type CompletionOption func(*CompletionClient)

func WithCompletionTimeout(d time.Duration) CompletionOption {
	return func(c *CompletionClient) { c.timeout = d }
}

func WithCompletionHTTPClient(h *http.Client) CompletionOption {
	return func(c *CompletionClient) { c.client = h }
}

func WithCompletionLimiter(l *rate.Limiter) CompletionOption {
	return func(c *CompletionClient) { c.limiter = l }
}

// WithCompletionDisabled turns every request into ErrServiceUnavailable.
func WithCompletionDisabled(disabled bool) CompletionOption {
	return func(c *CompletionClient) { c.disabled = disabled }
}

func NewCompletionClient(endpoint, token, model string, opts ...CompletionOption) *CompletionClient {
	c := &CompletionClient{
		endpoint: endpoint,
		token:    token,
		model:    model,
		timeout:  defaultAITimeout,
		client:   http.DefaultClient,
		limiter:  rate.NewLimiter(rate.Limit(1), 3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Enabled reports whether requests will be attempted at all.
func (c *CompletionClient) Enabled() bool {
	return c != nil && !c.disabled && c.token != "" && c.model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Role    string  `json:"role"`
		} `json:"message"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
}

// Ask sends one system prompt and one user message and returns the first choice.
func (c *CompletionClient) Ask(ctx context.Context, systemPrompt, query string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("%w: completion service not configured", ErrServiceUnavailable)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		sys.LogScore(MsgAIStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
		return "", fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		sys.LogScore(MsgAINoChoices)
		return "", fmt.Errorf("%w: no choices", ErrProtocolViolation)
	}
	return *parsed.Choices[0].Message.Content, nil
}
