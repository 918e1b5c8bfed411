// Command ccproxy-sanitize launches P-Sanitize standalone.
package main

import (
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/sanitize"
)

func main() {
	cfg := sanitize.Config{
		TargetBaseURL:  requireEnv("CCPROXY_TARGET_BASE_URL"),
		Port:           envInt("CCPROXY_PORT", 8788),
		WarnOnSanitize: envBool("CCPROXY_WARN_ON_SANITIZE"),
		Verbose:        envBool("CCPROXY_VERBOSE"),
	}

	srv := sanitize.New(cfg)

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
		log.Fatalf("ccproxy-sanitize: %v", err)
	}
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("ccproxy-sanitize: %s is required", name)
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
