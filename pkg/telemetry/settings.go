// Package telemetry wires optional OpenTelemetry tracing into the proxy.
// Adapted near-verbatim from the teacher's pkg/telemetry, retargeted from
// "AI SDK operation" spans to "proxy request" spans; the only span the proxy
// starts is P-Translate's ccproxy.translate. Telemetry is opt-in and defaults to a no-op
// tracer, exactly as in the teacher.
package telemetry

import "go.opentelemetry.io/otel/trace"

// Settings configures telemetry for one proxy component.
type Settings struct {
	// IsEnabled controls whether telemetry is active. Defaults to false.
	IsEnabled bool

	// FunctionID groups spans by component (e.g. "p-translate").
	FunctionID string

	// Tracer is a custom tracer. If nil, the global tracer is used.
	Tracer trace.Tracer
}

// DefaultSettings returns disabled telemetry settings.
func DefaultSettings() *Settings {
	return &Settings{IsEnabled: false}
}
