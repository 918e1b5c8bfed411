// Package sanitize implements P-Sanitize: a transparent pass-through proxy
// that rewrites tool names to a conservative alphabet/length before they
// reach an upstream with stricter naming rules, and reverses the rewrite on
// the way back (spec §4.2). Grounded on the teacher's examples/fiber-server,
// generalized from a single fixed route into a byte-for-byte passthrough
// with one narrow, best-effort interception point.
package sanitize

// Config is the fully-resolved configuration for one P-Sanitize instance.
type Config struct {
	// TargetBaseURL is the upstream base URL every request is forwarded to.
	TargetBaseURL string

	// Port to bind on 127.0.0.1.
	Port int

	// WarnOnSanitize logs the first rename of each tool name to stderr
	// without blocking the request (spec §4.2).
	WarnOnSanitize bool

	Verbose bool
}

func (c Config) resolved() Config { return c }
