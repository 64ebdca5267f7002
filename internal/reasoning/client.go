// Package reasoning implements the reasoning gateway: sanitized prompts to an
// OpenAI-compatible chat completions endpoint, tolerant parsing of the sectioned
// response and pluggable confidence scoring.
package reasoning

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clinical-trial-matcher/internal/domain"
	"github.com/clinical-trial-matcher/pkg/resilience"
	"github.com/sashabaranov/go-openai"
)

// Completion is the text returned for one chat request
type Completion struct {
	Content    string
	Model      string
	TokensUsed int
}

// Completer sends one chat request to the reasoning upstream
type Completer interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (*Completion, error)
}

// ChatClient is a Completer backed by go-openai with a configurable base URL
type ChatClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

type retryAfterKey struct{}

// retryAfterHolder receives the Retry-After header of a 429 for one call
type retryAfterHolder struct {
	mu    sync.Mutex
	value time.Duration
}

// retryAfterDoer captures Retry-After from rate-limited responses, which go-openai
// does not expose on its error types.
type retryAfterDoer struct {
	base *http.Client
}

func (d *retryAfterDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.base.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if holder, ok := req.Context().Value(retryAfterKey{}).(*retryAfterHolder); ok {
		holder.mu.Lock()
		holder.value = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		holder.mu.Unlock()
	}
	return resp, nil
}

// NewChatClient creates a chat client for cfg
func NewChatClient(cfg domain.ReasoningConfig) *ChatClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &retryAfterDoer{base: &http.Client{Timeout: timeout}}

	return &ChatClient{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Complete sends messages and returns the first choice
func (c *ChatClient) Complete(ctx context.Context, messages []openai.ChatCompletionMessage) (*Completion, error) {
	holder := &retryAfterHolder{}
	ctx = context.WithValue(ctx, retryAfterKey{}, holder)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		holder.mu.Lock()
		retryAfter := holder.value
		holder.mu.Unlock()
		return nil, classifyError(err, retryAfter)
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewUpstreamError(domain.KindReasoningParse, domain.UpstreamReasoning, "complete", nil).
			WithContext("reason", "no choices")
	}

	model := resp.Model
	if model == "" {
		model = c.model
	}
	return &Completion{
		Content:    resp.Choices[0].Message.Content,
		Model:      model,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// Model returns the configured model name
func (c *ChatClient) Model() string {
	return c.model
}

// classifyError maps go-openai and transport errors onto the shared taxonomy.
// The upstream message is kept only as the unrendered cause.
func classifyError(err error, retryAfter time.Duration) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	var kind domain.ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = domain.KindAuthentication
	case status == http.StatusTooManyRequests:
		kind = domain.KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		kind = domain.KindTimeout
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		kind = domain.KindValidation
	case status >= 500:
		kind = domain.KindServiceUnavailable
	case status != 0:
		kind = domain.KindUpstream
	default:
		kind = domain.KindServiceUnavailable
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			kind = domain.KindTimeout
		}
	}

	upErr := domain.NewUpstreamError(kind, domain.UpstreamReasoning, "complete", err)
	upErr.StatusCode = status
	upErr.RetryAfter = retryAfter
	return upErr
}
