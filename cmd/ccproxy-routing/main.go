// Command ccproxy-routing launches P-Routing standalone.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/routing"
)

func main() {
	cfg := routing.Config{
		Port: envInt("CCPROXY_PORT", 8790),
		Default: routing.RouteTarget{
			BaseURL: requireEnv("CCPROXY_DEFAULT_BASE_URL"),
		},
		Scenarios:            scenariosFromEnv(),
		LongContextEnabled:   envBool("CCPROXY_LONG_CONTEXT_ENABLED"),
		LongContextThreshold: envInt("CCPROXY_LONG_CONTEXT_THRESHOLD", 60_000),
		ProfilesDir:          os.Getenv("CCPROXY_PROFILES_DIR"),
		Verbose:              envBool("CCPROXY_VERBOSE"),
	}

	srv, err := routing.New(cfg)
	if err != nil {
		log.Fatalf("ccproxy-routing: %v", err)
	}

	registry := lifetime.NewRegistry()
	untrack := registry.Track(srv.Lifetime())
	defer untrack()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		registry.StopAll()
	}()

	if err := srv.Run(); err != nil {
		log.Fatalf("ccproxy-routing: %v", err)
	}
}

// scenariosFromEnv reads one optional route per scenario, each either a
// same-proxy provider prefix ("CCPROXY_ROUTE_<SCENARIO>_PREFIX") or a
// distinct profile name ("CCPROXY_ROUTE_<SCENARIO>_PROFILE") resolved live
// from CCPROXY_PROFILES_DIR (spec §4.4 "Routing").
func scenariosFromEnv() map[routing.Scenario]routing.RouteTarget {
	scenarios := map[routing.Scenario]routing.RouteTarget{
		routing.ScenarioBackground:  {},
		routing.ScenarioThink:       {},
		routing.ScenarioLongContext: {},
	}
	out := map[routing.Scenario]routing.RouteTarget{}
	for scenario := range scenarios {
		prefixKey := "CCPROXY_ROUTE_" + envKeySuffix(scenario) + "_PREFIX"
		profileKey := "CCPROXY_ROUTE_" + envKeySuffix(scenario) + "_PROFILE"
		target := routing.RouteTarget{
			ProviderPrefix: os.Getenv(prefixKey),
			ProfileName:    os.Getenv(profileKey),
		}
		if target.ProviderPrefix != "" || target.ProfileName != "" {
			out[scenario] = target
		}
	}
	return out
}

func envKeySuffix(s routing.Scenario) string {
	switch s {
	case routing.ScenarioBackground:
		return "BACKGROUND"
	case routing.ScenarioThink:
		return "THINK"
	case routing.ScenarioLongContext:
		return "LONG_CONTEXT"
	default:
		return "DEFAULT"
	}
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("ccproxy-routing: %s is required", name)
	}
	return v
}

func envBool(name string) bool {
	v, _ := strconv.ParseBool(os.Getenv(name))
	return v
}

func envInt(name string, def int) int {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return def
	}
	return v
}
