// Package routing implements P-Routing: inspects each Anthropic request,
// classifies it into a scenario, and re-targets it to a per-scenario
// upstream (spec §4.4). Grounded on the teacher's examples/echo-server for
// the HTTP surface — echo's explicit HTTPErrorHandler and middleware chain
// fit a component whose whole job is deciding "where does this request go"
// before handing off, unlike the translating/streaming components.
package routing

// Scenario is one of the four classification outcomes (spec §4.4
// "Detection").
type Scenario string

const (
	ScenarioDefault     Scenario = "default"
	ScenarioBackground  Scenario = "background"
	ScenarioThink       Scenario = "think"
	ScenarioLongContext Scenario = "longContext"
)

// RouteTarget is where a scenario's traffic goes: either another
// CLIProxy-style provider path on the same in-chain proxy, or a distinct
// profile with its own base URL and auth token (spec §4.4 "Routing").
type RouteTarget struct {
	// BaseURL is the upstream to forward to. Empty means "use the entry
	// profile's own upstream" (the default route).
	BaseURL string

	// ProviderPrefix, when set, is appended as "/api/provider/<name>" on
	// BaseURL instead of forwarding to a bare path - the "same downstream
	// proxy, different prefix" case.
	ProviderPrefix string

	// AuthHeader names the header the profile's token is injected under
	// (e.g. "x-api-key" or "anthropic-api-key").
	AuthHeader string
	AuthToken  string

	// ProfileName, when set, names a profile the Server's ProfileStore
	// resolves BaseURL/AuthHeader/AuthToken from at request time instead
	// of the static fields above - the "distinct profile read from disk"
	// case (spec §4.4 "Routing"), kept live across profile-file edits.
	ProfileName string
}

// Config is the fully-resolved configuration for one P-Routing instance.
type Config struct {
	Port int

	// Default is the entry profile's own upstream, used for the "default"
	// scenario and for any non-POST/non-/v1/messages request (spec §4.4:
	// "Non-POST and non-/v1/messages requests are forwarded unchanged to
	// the default upstream").
	Default RouteTarget

	// Scenarios maps a non-default scenario to its target. A scenario
	// absent from this map falls back to Default.
	Scenarios map[Scenario]RouteTarget

	// LongContextEnabled gates the longContext scenario entirely (spec
	// §4.4: "optional; may be disabled").
	LongContextEnabled bool

	// LongContextThreshold is the estimated-token cutoff (spec §4.4
	// default 60000).
	LongContextThreshold int

	// ProfilesDir is watched for per-profile JSON files read by any
	// RouteTarget naming a ProfileName.
	ProfilesDir string

	Verbose bool
}

func (c Config) resolved() Config {
	if c.LongContextThreshold <= 0 {
		c.LongContextThreshold = 60_000
	}
	if c.Scenarios == nil {
		c.Scenarios = map[Scenario]RouteTarget{}
	}
	return c
}

// targetFor returns the resolved target for scenario, falling back to
// Default when the scenario has no explicit mapping.
func (c Config) targetFor(s Scenario) RouteTarget {
	if s == ScenarioDefault {
		return c.Default
	}
	if t, ok := c.Scenarios[s]; ok {
		return t
	}
	return c.Default
}
