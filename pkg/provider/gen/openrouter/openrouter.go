// Package openrouter implements the [gen.Provider] interface against the
// OpenRouter chat-completions API, including true token streaming over SSE.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/reverie/pkg/provider/gen"
)

const (
	defaultBaseURL       = "https://openrouter.ai/api/v1"
	defaultModel         = "openrouter/auto"
	defaultTimeout       = 25 * time.Second
	defaultStreamTimeout = 60 * time.Second
)

var _ gen.Provider = (*Client)(nil)

// Client talks to OpenRouter (or any OpenAI-compatible chat endpoint).
type Client struct {
	baseURL string
	apiKey  string
	model   string
	referer string
	title   string

	hc            *http.Client
	timeout       time.Duration
	streamTimeout time.Duration
	logger        *slog.Logger
}

// Option is a functional option for [NewClient].
type Option func(*Client)

// WithBaseURL points the client at a different OpenAI-compatible base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel selects the model to request.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// for app attribution.
func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		c.referer = referer
		c.title = title
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

// WithTimeouts overrides the blocking and streaming request timeouts.
func WithTimeouts(blocking, streaming time.Duration) Option {
	return func(c *Client) {
		if blocking > 0 {
			c.timeout = blocking
		}
		if streaming > 0 {
			c.streamTimeout = streaming
		}
	}
}

// WithLogger overrides the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates an OpenRouter client. The API key is required.
func NewClient(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: openrouter: missing API key", gen.ErrConfig)
	}
	c := &Client{
		baseURL:       defaultBaseURL,
		apiKey:        apiKey,
		model:         defaultModel,
		hc:            http.DefaultClient,
		timeout:       defaultTimeout,
		streamTimeout: defaultStreamTimeout,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (c *Client) messages(req gen.Request) []chatMessage {
	msgs := make([]chatMessage, 0, len(req.History)+1)
	if req.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.History {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	if len(msgs) == 0 && req.Prompt != "" {
		msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})
	}
	return msgs
}

func (c *Client) newRequest(ctx context.Context, req gen.Request, stream bool) (*http.Request, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    c.messages(req),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	}
	if len(payload.Messages) == 0 {
		return nil, fmt.Errorf("%w: openrouter: empty request", gen.ErrConfig)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openrouter: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gen.ErrConfig, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		httpReq.Header.Set("X-Title", c.title)
	}
	return httpReq, nil
}

// Complete performs one blocking chat completion.
func (c *Client) Complete(ctx context.Context, req gen.Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newRequest(ctx, req, false)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", gen.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", gen.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode body: %w", gen.ErrProtocol, err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("%w: %s", gen.ErrProtocol, decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", gen.ErrProtocol)
	}
	return decoded.Choices[0].Message.Content, nil
}

// Stream starts a streaming chat completion. Chunks carry content deltas as
// they arrive; a stream failure after the first byte surfaces as a final
// chunk with FinishReason "error".
func (c *Client) Stream(ctx context.Context, req gen.Request) (<-chan gen.Chunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)

	httpReq, err := c.newRequest(ctx, req, true)
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", gen.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d: %s", gen.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	out := make(chan gen.Chunk)
	go func() {
		defer close(out)
		defer cancel()
		defer resp.Body.Close()

		err := gen.ReadSSE(resp.Body, func(data string) error {
			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				c.logger.Debug("skipping malformed stream event", "error", err)
				return nil
			}
			if ev.Error != nil {
				return fmt.Errorf("%w: %s", gen.ErrProtocol, ev.Error.Message)
			}
			if len(ev.Choices) == 0 {
				return nil
			}
			choice := ev.Choices[0]
			if choice.Delta.Content != "" || choice.FinishReason != "" {
				out <- gen.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
			}
			return nil
		})
		if err != nil {
			out <- gen.Chunk{Text: err.Error(), FinishReason: "error"}
		}
	}()
	return out, nil
}
