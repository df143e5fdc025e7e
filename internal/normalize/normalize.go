// Package normalize maps heterogeneous backend reply payloads onto one
// canonical completion text.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrErrorPayload marks a success-status response whose body carries an
// error field. Callers treat it like any other backend failure.
var ErrErrorPayload = errors.New("backend returned error payload")

// NormalizationError reports a payload that could not be mapped to a
// completion text.
type NormalizationError struct {
	Reason  string
	Snippet string
}

func (e *NormalizationError) Error() string {
	if e.Snippet == "" {
		return "normalize: " + e.Reason
	}
	return fmt.Sprintf("normalize: %s: %q", e.Reason, e.Snippet)
}

const snippetLen = 120

// chunk covers the field names used across the supported dialects. Ollama
// uses "response", the cloud dialect "completion", other providers "text"
// or "answer", OpenAI-compatible APIs a choices array.
type chunk struct {
	Response   string          `json:"response"`
	Completion string          `json:"completion"`
	Text       string          `json:"text"`
	Answer     string          `json:"answer"`
	Error      json.RawMessage `json:"error"`
	Done       *bool           `json:"done"`
	Choices    []struct {
		Text    string `json:"text"`
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c chunk) text() string {
	for _, s := range []string{c.Response, c.Completion, c.Text, c.Answer} {
		if s != "" {
			return s
		}
	}
	for _, ch := range c.Choices {
		if ch.Message.Content != "" {
			return ch.Message.Content
		}
		if ch.Text != "" {
			return ch.Text
		}
	}
	return ""
}

// Extract returns the completion text carried by a backend response body.
// Streamed NDJSON chunk lines are concatenated. A body with an error field
// fails with ErrErrorPayload; an unparseable body fails with
// NormalizationError.
func Extract(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", &NormalizationError{Reason: "empty body"}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var b strings.Builder
	decoded := false
	for {
		var c chunk
		if err := dec.Decode(&c); err != nil {
			if decoded && b.Len() > 0 {
				// Truncated stream: keep what was already concatenated.
				break
			}
			return "", &NormalizationError{Reason: "invalid json", Snippet: snippet(trimmed)}
		}
		decoded = true
		if msg := errorMessage(c.Error); msg != "" {
			return "", fmt.Errorf("%w: %s", ErrErrorPayload, msg)
		}
		b.WriteString(c.text())
		if !dec.More() {
			break
		}
	}

	if b.Len() == 0 {
		return "", &NormalizationError{Reason: "no completion field", Snippet: snippet(trimmed)}
	}
	return b.String(), nil
}

// errorMessage renders the error field, which providers send either as a
// string or as an object with a message.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

func snippet(b []byte) string {
	if len(b) > snippetLen {
		b = b[:snippetLen]
	}
	return string(b)
}
