package backend

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"qabot/internal/config"
)

// Dialect identifies the request/response schema a backend speaks.
type Dialect string

const (
	// DialectNative is the self-hosted Ollama-style API (/api/generate).
	DialectNative Dialect = "native"
	// DialectCloud is a bearer-authenticated /v1/generate API.
	DialectCloud Dialect = "cloud"
	// DialectOpenAI is an OpenAI-compatible chat completions API.
	DialectOpenAI Dialect = "openai"
	// DialectPublic is a best-effort unauthenticated fallback.
	DialectPublic Dialect = "public"
)

// Tier orders backends by trust: lower is preferred.
type Tier int

const (
	TierSelfHosted Tier = iota
	TierCloud
	TierPublic
)

func (t Tier) String() string {
	switch t {
	case TierSelfHosted:
		return "self-hosted"
	case TierCloud:
		return "cloud"
	case TierPublic:
		return "public"
	default:
		return "unknown"
	}
}

// Descriptor describes one candidate inference backend. Immutable after load.
type Descriptor struct {
	Name    string
	BaseURL string
	Dialect Dialect
	APIKey  string
	Model   string
	Timeout time.Duration
	Tier    Tier
}

// Prompt is the outbound request. Created per incoming question; immutable.
type Prompt struct {
	Text        string
	Model       string // optional override of the configured default
	Temperature *float64
	MaxTokens   int
}

// Answer is the canonical result returned to callers.
type Answer struct {
	Text     string
	Backend  string
	Latency  time.Duration
	Degraded bool // served by a backend other than the top-priority one
	Cached   bool
}

// ConfigError reports an unusable backend configuration. Fatal at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "backend config: " + e.Reason
}

// Set is the validated, priority-ordered list of backend candidates.
type Set struct {
	descriptors []Descriptor
	model       string
}

// Load builds the descriptor set from configuration in descending trust
// order. Invalid candidates are dropped with a warning; an empty resulting
// set fails with ConfigError.
func Load(cfg config.Config, log *slog.Logger) (*Set, error) {
	candidates := []Descriptor{
		{
			Name:    "self-hosted",
			BaseURL: cfg.OllamaURL,
			Dialect: DialectNative,
			Model:   cfg.ModelName,
			Timeout: cfg.OllamaTimeout,
			Tier:    TierSelfHosted,
		},
		{
			Name:    "cloud",
			BaseURL: cfg.CloudURL,
			Dialect: Dialect(cfg.CloudDialect),
			APIKey:  cfg.CloudAPIKey,
			Model:   cfg.ModelName,
			Timeout: cfg.CloudTimeout,
			Tier:    TierCloud,
		},
		{
			Name:    "public-fallback",
			BaseURL: cfg.FallbackURL,
			Dialect: DialectPublic,
			Model:   cfg.ModelName,
			Timeout: cfg.FallbackTimeout,
			Tier:    TierPublic,
		},
	}

	s := &Set{model: cfg.ModelName}
	for _, d := range candidates {
		if d.BaseURL == "" {
			// Tier not configured for this deployment.
			continue
		}
		if err := validate(d); err != nil {
			log.Warn("dropping invalid backend", "backend", d.Name, "err", err)
			continue
		}
		d.BaseURL = strings.TrimRight(d.BaseURL, "/")
		if d.Timeout <= 0 {
			d.Timeout = defaultTimeout(d.Tier)
		}
		s.descriptors = append(s.descriptors, d)
	}
	if len(s.descriptors) == 0 {
		return nil, &ConfigError{Reason: "no usable backends configured"}
	}
	return s, nil
}

func validate(d Descriptor) error {
	u, err := url.Parse(d.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base url %q", d.BaseURL)
	}
	switch d.Dialect {
	case DialectNative, DialectCloud, DialectOpenAI, DialectPublic:
		return nil
	default:
		return fmt.Errorf("unknown dialect %q", d.Dialect)
	}
}

func defaultTimeout(t Tier) time.Duration {
	if t == TierPublic {
		return 10 * time.Second
	}
	return 30 * time.Second
}

// List returns the descriptors ordered by descending trust. This order is
// the default failover order. The returned slice must not be modified.
func (s *Set) List() []Descriptor {
	return s.descriptors
}

// Primary returns the top-priority descriptor.
func (s *Set) Primary() Descriptor {
	return s.descriptors[0]
}

// Model returns the configured default model name.
func (s *Set) Model() string {
	return s.model
}
