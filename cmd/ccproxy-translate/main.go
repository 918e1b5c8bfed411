// Command ccproxy-translate launches P-Translate standalone. Environment
// wiring lives here, not in pkg/translate, per spec §9's DESIGN NOTES:
// "the core should accept wiring explicitly ... env-var population belongs
// to the CLI front-end, outside the core."
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/translate"
)

func main() {
	cfg := translate.Config{
		TargetBaseURL:        requireEnv("CCPROXY_TARGET_BASE_URL"),
		APIKey:               os.Getenv("CCPROXY_API_KEY"),
		Dialect:              translate.Dialect(envOr("CCPROXY_DIALECT", string(translate.DialectChat))),
		UseResponsesFallback: envBool("CCPROXY_RESPONSES_FALLBACK"),
		Verbose:              envBool("CCPROXY_VERBOSE"),
		Port:                 envInt("CCPROXY_PORT", 8787),
	}

	srv := translate.New(cfg)

	registry := lifetime.NewRegistry()
	untrack := registry.Track(srv.Lifetime())
	defer untrack()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("ccproxy-translate: %v", err)
	}
	registry.StopAll()
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("ccproxy-translate: %s is required", name)
	}
	return v
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
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
