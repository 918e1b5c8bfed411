// Command ccproxy-keepalive launches P-Keepalive standalone. It owns the
// PID-file single-daemon-per-port protocol (spec §4.3 "Process model") that
// pkg/keepalive deliberately leaves to the caller, so tests can build a
// Server without touching the filesystem's daemon-ownership state.
package main

import (
	"context"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/keepalive"
)

// detachEnvVar marks a re-exec'd child as already detached, so it runs the
// daemon instead of forking again (spec §4.3 "Process model": "the daemon
// detaches from the invoking parent; the parent may exit").
const detachEnvVar = "CCPROXY_KEEPALIVE_DETACHED"

func main() {
	if os.Getenv(detachEnvVar) != "1" {
		detach()
		return
	}
	run()
}

// detach re-execs the current binary in a new session with stdio
// redirected to the daemon's log file, then exits so the invoking client
// can proceed without waiting on the daemon's lifetime.
func detach() {
	logPath := filepath.Join(os.TempDir(), "ccproxy-keepalive-"+strconv.Itoa(envInt("CCPROXY_PORT", 8789))+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("ccproxy-keepalive: open log file: %v", err)
	}
	defer logFile.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), detachEnvVar+"=1")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		log.Fatalf("ccproxy-keepalive: detach: %v", err)
	}
	log.Printf("ccproxy-keepalive: detached daemon pid %d, logging to %s", cmd.Process.Pid, logPath)
}

func run() {
	port := envInt("CCPROXY_PORT", 8789)
	pidPath := filepath.Join(os.TempDir(), "ccproxy-keepalive-"+strconv.Itoa(port)+".pid")
	statsPath := filepath.Join(os.TempDir(), "ccproxy-keepalive-"+strconv.Itoa(port)+".stats.json")

	cfg := keepalive.Config{
		UpstreamBaseURL:   requireEnv("CCPROXY_UPSTREAM_BASE_URL"),
		APIKey:            os.Getenv("CCPROXY_API_KEY"),
		AnthropicVersion:  envOr("CCPROXY_ANTHROPIC_VERSION", "2023-06-01"),
		AnthropicBeta:     os.Getenv("CCPROXY_ANTHROPIC_BETA"),
		Port:              port,
		KeepaliveInterval: envDuration("CCPROXY_KEEPALIVE_MS", 240*time.Second),
		AutoExitInterval:  envDuration("CCPROXY_AUTOEXIT_MS", 600*time.Second),
		StatsPath:         statsPath,
		PIDPath:           pidPath,
		Verbose:           envBool("CCPROXY_VERBOSE"),
	}

	// spec §4.3 "Process model": a second launch for the same port finds a
	// live owner and exits cleanly so the client reuses it.
	ok, err := keepalive.AcquirePIDFile(pidPath, port, cfg.UpstreamBaseURL)
	if err != nil {
		log.Fatalf("ccproxy-keepalive: %v", err)
	}
	if !ok {
		log.Printf("ccproxy-keepalive: daemon already running on :%d, exiting", port)
		return
	}

	srv := keepalive.New(cfg)

	registry := lifetime.NewRegistry()
	untrack := registry.Track(srv.Lifetime())
	defer untrack()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("ccproxy-keepalive: %v", err)
	}
	registry.StopAll()
}

func requireEnv(name string) string {
	v := os.Getenv(name)
	if v == "" {
		log.Fatalf("ccproxy-keepalive: %s is required", name)
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

func envDuration(name string, def time.Duration) time.Duration {
	v, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		return def
	}
	return time.Duration(v) * time.Millisecond
}
