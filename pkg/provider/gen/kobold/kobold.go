// Package kobold implements the [gen.Provider] interface against the
// KoboldAI /api/v1/generate completion endpoint.
package kobold

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/reverie/pkg/provider/gen"
)

// DefaultEndpoint is the public KoboldCpp demo endpoint used when no
// endpoint is configured.
const DefaultEndpoint = "https://koboldai-koboldcpp-tiefighter.hf.space/api/v1/generate"

// Default sampling parameters for requests that leave them unset.
const (
	defaultMaxLength   = 220
	defaultTemperature = 0.78
	defaultTopP        = 0.9
	defaultRepPen      = 1.05
	defaultTimeout     = 25 * time.Second
)

var _ gen.Provider = (*Client)(nil)

// Client talks to a KoboldAI-compatible generate endpoint.
type Client struct {
	endpoint string
	hc       *http.Client
	timeout  time.Duration
}

// Option is a functional option for [NewClient].
type Option func(*Client)

// WithEndpoint overrides the generate endpoint URL.
func WithEndpoint(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.endpoint = url
		}
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

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a Kobold client for [DefaultEndpoint] unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		hc:       http.DefaultClient,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type generateRequest struct {
	Prompt       string   `json:"prompt"`
	MaxLength    int      `json:"max_length"`
	Temperature  float64  `json:"temperature"`
	TopP         float64  `json:"top_p"`
	RepPen       float64  `json:"rep_pen"`
	DoSample     bool     `json:"do_sample"`
	StopSequence []string `json:"stop_sequence,omitempty"`
}

type generateResponse struct {
	Results []struct {
		Text string `json:"text"`
	} `json:"results"`
	Text string `json:"text"`
}

// Complete sends the compiled prompt and returns the generated continuation.
func (c *Client) Complete(ctx context.Context, req gen.Request) (string, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = req.System
	}
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: empty prompt", gen.ErrConfig)
	}

	payload := generateRequest{
		Prompt:       prompt,
		MaxLength:    defaultMaxLength,
		Temperature:  defaultTemperature,
		TopP:         defaultTopP,
		RepPen:       defaultRepPen,
		DoSample:     !req.DisableSampling,
		StopSequence: req.Stop,
	}
	if req.MaxTokens > 0 {
		payload.MaxLength = req.MaxTokens
	}
	if req.Temperature > 0 {
		payload.Temperature = req.Temperature
	}
	if req.TopP > 0 {
		payload.TopP = req.TopP
	}
	if req.RepetitionPenalty > 0 {
		payload.RepPen = req.RepetitionPenalty
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("kobold: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", gen.ErrConfig, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %w", gen.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", gen.ErrNetwork, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode body: %w", gen.ErrProtocol, err)
	}

	switch {
	case len(decoded.Results) > 0 && decoded.Results[0].Text != "":
		return decoded.Results[0].Text, nil
	case decoded.Text != "":
		return decoded.Text, nil
	}
	return "", fmt.Errorf("%w: no generated text in response", gen.ErrProtocol)
}

// Stream emulates streaming over the blocking endpoint: the full completion
// arrives as a single chunk followed by channel close.
func (c *Client) Stream(ctx context.Context, req gen.Request) (<-chan gen.Chunk, error) {
	text, err := c.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make(chan gen.Chunk, 1)
	out <- gen.Chunk{Text: text, FinishReason: "stop"}
	close(out)
	return out, nil
}
