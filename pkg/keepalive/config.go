// Package keepalive implements P-Keepalive: a long-lived daemon that
// forwards client requests to an upstream, captures the cacheable prompt
// prefix of each request, and periodically pings the upstream to keep that
// prefix warm in the provider's prompt cache (spec §4.3). Grounded on the
// teacher's examples/chi-server for the HTTP surface, generalized from a
// one-shot request handler into a process that outlives any single request
// and owns background timers.
package keepalive

import "time"

// Config is the fully-resolved configuration for one P-Keepalive instance.
type Config struct {
	// UpstreamBaseURL is the provider base URL every request forwards to.
	UpstreamBaseURL string

	// APIKey/AnthropicVersion/AnthropicBeta are sent upstream on both
	// forwarded requests and keepalive pings.
	APIKey           string
	AnthropicVersion string
	AnthropicBeta    string

	// Port to bind on 127.0.0.1.
	Port int

	// KeepaliveInterval is how long after the last client activity the
	// daemon sends a keepalive ping (spec §4.3 default 240s).
	KeepaliveInterval time.Duration

	// AutoExitInterval is how long the daemon waits with no client or ping
	// activity before shutting itself down (spec §4.3 default 600s).
	AutoExitInterval time.Duration

	// StatsPath is the temp-dir JSON file stats are persisted to.
	StatsPath string

	// PIDPath is the temp-dir PID file path used for single-instance
	// ownership (spec §4.3 "Process model").
	PIDPath string

	Verbose bool
}

func (c Config) resolved() Config {
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = 240 * time.Second
	}
	if c.AutoExitInterval <= 0 {
		c.AutoExitInterval = 600 * time.Second
	}
	return c
}
