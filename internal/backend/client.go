package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"qabot/internal/normalize"
)

// maxResponseBody bounds how much of a backend reply is read.
const maxResponseBody = 1 << 20

// StatusError reports a non-2xx reply from a backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: status %d", e.Backend, e.Code)
}

// Client issues generate and probe calls against every supported dialect.
// One instance is shared by the router and the prober.
type Client struct {
	httpc  *http.Client
	log    *slog.Logger
	openai map[string]openai.Client // keyed by descriptor name
}

// NewClient builds a client for the given descriptor set. OpenAI-dialect
// descriptors get a dedicated SDK client bound to their base URL.
func NewClient(set *Set, log *slog.Logger) *Client {
	c := &Client{
		httpc:  &http.Client{}, // per-call timeouts come from the context
		log:    log,
		openai: make(map[string]openai.Client),
	}
	for _, d := range set.List() {
		if d.Dialect == DialectOpenAI {
			c.openai[d.Name] = openai.NewClient(
				option.WithAPIKey(d.APIKey),
				option.WithBaseURL(d.BaseURL),
			)
		}
	}
	return c
}

// Generate sends the prompt to one backend and returns the normalized
// completion text. The descriptor's declared timeout bounds the call on top
// of any caller deadline.
func (c *Client) Generate(ctx context.Context, d Descriptor, p Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	c.log.Debug("calling backend", "backend", d.Name, "dialect", d.Dialect, "timeout", d.Timeout)
	if d.Dialect == DialectOpenAI {
		return c.generateOpenAI(ctx, d, p)
	}
	return c.generateHTTP(ctx, d, p)
}

type nativeOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

type nativeRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options *nativeOptions `json:"options,omitempty"`
}

type cloudRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

func (c *Client) generateHTTP(ctx context.Context, d Descriptor, p Prompt) (string, error) {
	path, payload := generatePayload(d, p)

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Backend: d.Name, Code: resp.StatusCode, Body: trim(raw)}
	}
	return normalize.Extract(raw)
}

func generatePayload(d Descriptor, p Prompt) (string, any) {
	model := p.Model
	if model == "" {
		model = d.Model
	}
	if d.Dialect == DialectCloud {
		return "/v1/generate", cloudRequest{
			Model:       model,
			Prompt:      p.Text,
			MaxTokens:   p.MaxTokens,
			Temperature: p.Temperature,
		}
	}
	// native and public speak the Ollama shape
	var opts *nativeOptions
	if p.MaxTokens > 0 || p.Temperature != nil {
		opts = &nativeOptions{NumPredict: p.MaxTokens, Temperature: p.Temperature}
	}
	return "/api/generate", nativeRequest{
		Model:   model,
		Prompt:  p.Text,
		Stream:  false,
		Options: opts,
	}
}

func (c *Client) generateOpenAI(ctx context.Context, d Descriptor, p Prompt) (string, error) {
	cli, ok := c.openai[d.Name]
	if !ok {
		return "", fmt.Errorf("no openai client for backend %s", d.Name)
	}
	model := p.Model
	if model == "" {
		model = d.Model
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(p.Text),
					},
				},
			},
		},
	}
	if p.Temperature != nil {
		params.Temperature = openai.Float(*p.Temperature)
	}
	if p.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.MaxTokens))
	}
	resp, err := cli.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", &normalize.NormalizationError{Reason: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

// Probe issues a lightweight readiness call against one backend. For the
// public dialect any HTTP reply counts as alive; other dialects require 2xx.
func (c *Client) Probe(ctx context.Context, d Descriptor) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+probePath(d.Dialect), nil)
	if err != nil {
		return err
	}
	if d.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.APIKey)
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if d.Dialect == DialectPublic {
		return nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Backend: d.Name, Code: resp.StatusCode}
	}
	return nil
}

func probePath(d Dialect) string {
	switch d {
	case DialectCloud:
		return "/v1/models"
	case DialectOpenAI:
		return "/models"
	case DialectPublic:
		return "/api/generate"
	default:
		return "/api/tags"
	}
}

func trim(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
