// Package llm wraps the Anthropic Messages API for the agent loop. The
// client caches an API key and refreshes it once through a credential
// provider when the API answers 401; a second 401 is fatal to the caller.
package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// callTimeout bounds one Messages API call. No retry on timeout; the agent
// loop surfaces the error.
const callTimeout = 120 * time.Second

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// CredentialProvider supplies a fresh API key, typically by fetching it
// from the control-plane credential broker.
type CredentialProvider interface {
	Provide(ctx context.Context) (string, error)
}

// StaticCredentialProvider returns a fixed key. Useful in tests and for
// workers configured with a local key.
type StaticCredentialProvider string

// Provide implements CredentialProvider.
func (p StaticCredentialProvider) Provide(context.Context) (string, error) {
	if p == "" {
		return "", errors.New("no API key configured")
	}
	return string(p), nil
}

// ChatRequest is one Messages call.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []anthropic.MessageParam
	Tools     []anthropic.ToolUnionParam
	MaxTokens int64
}

// ChatResponse carries the raw response blocks plus usage.
type ChatResponse struct {
	StopReason   string
	Content      []anthropic.ContentBlockUnion
	InputTokens  int64
	OutputTokens int64
}

// Client is a Messages API client with key caching and one-shot refresh.
type Client struct {
	baseURL  string
	provider CredentialProvider

	mu     sync.Mutex
	apiKey string
}

// NewClient creates a Client. apiKey may be empty; the first call then
// fetches one from the provider.
func NewClient(baseURL, apiKey string, provider CredentialProvider) *Client {
	return &Client{
		baseURL:  baseURL,
		provider: provider,
		apiKey:   apiKey,
	}
}

// Chat issues one non-streaming Messages call.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	key, err := c.currentKey(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.call(ctx, key, req)
	if err == nil {
		return resp, nil
	}
	if !isUnauthorized(err) || c.provider == nil {
		return nil, err
	}

	// One-shot refresh: the broker may have rotated the key underneath us
	// (worker re-register). A second 401 propagates as fatal.
	key, err = c.refreshKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh API key after 401: %w", err)
	}
	resp, err = c.call(ctx, key, req)
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("authentication failed after key refresh: %w", err)
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, key string, req ChatRequest) (*ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  req.Messages,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = req.Tools
	}

	opts := []option.RequestOption{option.WithAPIKey(key)}
	if c.baseURL != "" {
		opts = append(opts, option.WithBaseURL(c.baseURL))
	}
	client := anthropic.NewClient(opts...)

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	msg, err := client.Messages.New(callCtx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	return &ChatResponse{
		StopReason:   string(msg.StopReason),
		Content:      msg.Content,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// currentKey returns the cached key, fetching one from the provider when
// empty.
func (c *Client) currentKey(ctx context.Context) (string, error) {
	c.mu.Lock()
	key := c.apiKey
	c.mu.Unlock()
	if key != "" {
		return key, nil
	}
	if c.provider == nil {
		return "", errors.New("no API key and no credential provider configured")
	}
	return c.refreshKey(ctx)
}

func (c *Client) refreshKey(ctx context.Context) (string, error) {
	key, err := c.provider.Provide(ctx)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
	return key, nil
}

// isUnauthorized reports whether the error is an API 401.
func isUnauthorized(err error) bool {
	var apiErr *anthropic.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 401
}
