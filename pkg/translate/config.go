// Package translate implements P-Translate: the Anthropic-to-OpenAI
// translating proxy (spec §4.1). Grounded on the teacher's
// pkg/providers/anthropic and pkg/providers/openai language models, which
// already do one-shot Anthropic<->OpenAI conversion; this package
// generalizes that into a persistent, streaming, bidirectional proxy.
package translate

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonnyhoo/ccproxy-core/pkg/telemetry"
	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// Dialect selects which upstream shape P-Translate speaks.
type Dialect string

const (
	DialectChat      Dialect = "chat"
	DialectResponses Dialect = "responses"
)

// Config is the fully-resolved configuration a caller must supply; no
// ambient defaults are read from the environment inside the core (spec §9
// DESIGN NOTES: "require callers to pass fully-resolved TranslateConfig").
type Config struct {
	// TargetBaseURL is the upstream OpenAI-compatible base URL, already
	// normalized (trailing slash and /v1 suffix stripped, spec §6).
	TargetBaseURL string

	// APIKey is sent as "Authorization: Bearer <APIKey>" upstream.
	APIKey string

	// Dialect selects Chat Completions or Responses API upstream.
	Dialect Dialect

	// UseResponsesFallback allows one fallback attempt to the Responses API
	// when Dialect is DialectChat and upstream fails before headers are
	// sent (spec §4.1).
	UseResponsesFallback bool

	// Verbose surfaces dropped/unknown SSE events and retry/fallback
	// decisions as log lines.
	Verbose bool

	// TimeoutMs bounds a single upstream request; default 120000 (spec §5).
	TimeoutMs int

	// Port to bind on 127.0.0.1; 0 picks an ephemeral port (spec §6).
	Port int

	Telemetry *telemetry.Settings
}

// resolved applies defaults at the boundary (spec §9 DESIGN NOTES).
func (c Config) resolved() Config {
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 120_000
	}
	if c.Dialect == "" {
		c.Dialect = DialectChat
	}
	if c.Telemetry == nil {
		c.Telemetry = telemetry.DefaultSettings()
	}
	return c
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// stableSessionID is generated once per process and shared by every request,
// enabling upstream prompt caching in Responses mode (spec §4.1 "Headers").
func newStableSessionID() string {
	return uuid.NewString()
}

func newToolMap() *toolname.Map { return toolname.NewMap() }
