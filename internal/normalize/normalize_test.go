package normalize

import (
	"errors"
	"testing"
)

func TestExtractFieldShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"ollama response", `{"response":"4","done":true}`, "4"},
		{"cloud completion", `{"completion":"four"}`, "four"},
		{"bare text", `{"text":"answer text"}`, "answer text"},
		{"answer field", `{"answer":"42"}`, "42"},
		{"openai chat", `{"choices":[{"message":{"content":"hello"}}]}`, "hello"},
		{"openai legacy", `{"choices":[{"text":"hi"}]}`, "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract([]byte(tt.body))
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractConcatenatesStreamedChunks(t *testing.T) {
	body := `{"response":"The ","done":false}
{"response":"answer ","done":false}
{"response":"is 4.","done":true}`

	got, err := Extract([]byte(body))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got != "The answer is 4." {
		t.Errorf("got %q", got)
	}
}

func TestExtractKeepsTruncatedStream(t *testing.T) {
	body := `{"response":"partial ","done":false}
{"response":"chun`

	got, err := Extract([]byte(body))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if got != "partial " {
		t.Errorf("got %q", got)
	}
}

func TestExtractErrorPayload(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"string error", `{"error":"model not found"}`},
		{"object error", `{"error":{"message":"quota exceeded","type":"rate_limit"}}`},
		{"error beside text", `{"response":"x","error":"model not found"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.body))
			if !errors.Is(err, ErrErrorPayload) {
				t.Errorf("expected ErrErrorPayload, got %v", err)
			}
		})
	}
}

func TestExtractUnparseable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace", "   \n"},
		{"html", "<html>gateway timeout</html>"},
		{"no completion field", `{"status":"ok"}`},
		{"null", `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract([]byte(tt.body))
			var ne *NormalizationError
			if !errors.As(err, &ne) {
				t.Errorf("expected NormalizationError, got %v", err)
			}
		})
	}
}
