package keepalive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonnyhoo/ccproxy-core/internal/httpclient"
	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
)

// Server is P-Keepalive: a transparent forwarder in front of the remote
// Anthropic endpoint that captures the cacheable prefix of client traffic
// and keeps it warm with idle pings (spec §4.3).
type Server struct {
	cfg      Config
	client   *httpclient.Client
	stats    *Stats
	pinger   *pinger
	lifetime *lifetime.Lifetime
	router   chi.Router
	httpSrv  *http.Server
}

// New builds a Server bound to cfg. Acquiring the PID file is the caller's
// responsibility (see cmd/ccproxy-keepalive) so tests can construct a Server
// without touching the filesystem's daemon-ownership state.
func New(cfg Config) *Server {
	cfg = cfg.resolved()

	headers := map[string]string{"anthropic-version": cfg.AnthropicVersion}
	if cfg.AnthropicBeta != "" {
		headers["anthropic-beta"] = cfg.AnthropicBeta
	}
	if cfg.APIKey != "" {
		headers["x-api-key"] = cfg.APIKey
	}
	client := httpclient.New(httpclient.Config{BaseURL: cfg.UpstreamBaseURL, Headers: headers, Timeout: forwardTimeout})

	stats := NewStats(cfg.StatsPath)
	if err := stats.Load(); err != nil && cfg.Verbose {
		log.Printf("[keepalive] stats load: %v", err)
	}

	s := &Server{cfg: cfg, client: client, stats: stats, lifetime: lifetime.New()}
	s.pinger = newPinger(cfg, client, stats, s.shutdown)

	s.lifetime.OnStop(client.CloseIdleConnections)
	s.lifetime.OnStop(s.pinger.Stop)
	s.lifetime.OnStop(func() { _ = stats.Flush() })
	s.lifetime.OnStop(func() { releasePIDFile(cfg.PIDPath) })

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}}))
	r.Use(limitRequestBody)

	r.Get("/health", s.handleHealth)
	r.Get("/_health", s.handleInternalHealth)
	r.Get("/_stats", s.handleStats)
	r.Post("/_stop", s.handleStop)
	r.Post("/v1/messages", s.handleMessages)
	r.Post("/*", s.handleForward)

	s.router = r
	go s.debouncedPersist()
	return s
}

// Lifetime exposes the server's owning lifetime.
func (s *Server) Lifetime() *lifetime.Lifetime { return s.lifetime }

// maxRequestBodyBytes caps incoming client bodies (spec §2: "Client body
// >10 MB -> 413-equivalent early abort").
const maxRequestBodyBytes = 10 * 1024 * 1024

// limitRequestBody caps the request body at maxRequestBodyBytes before any
// handler reads it; a body that overruns the limit surfaces as a read error
// from http.MaxBytesReader, which bodyLimitStatus maps to 413.
func limitRequestBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		next.ServeHTTP(w, r)
	})
}

// bodyLimitStatus reports the 413 status for a body-too-large read error, or
// 0 if err isn't one.
func bodyLimitStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return 0
}

// Run binds and serves on 127.0.0.1:<cfg.Port> until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router}
	s.lifetime.OnStop(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	})

	log.Printf("🚀 Keepalive daemon on :%d -> %s", s.cfg.Port, s.cfg.UpstreamBaseURL)

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		s.lifetime.Stop()
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// shutdown flushes stats, removes the PID file, and exits (spec §4.3
// "Auto-exit": "flush stats, remove the PID file, exit(0)").
func (s *Server) shutdown() {
	s.lifetime.Stop()
}

// debouncedPersist flushes dirty stats every 30s (spec §4.3 "Persistence":
// "Writes are debounced at 30 s").
func (s *Server) debouncedPersist() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if s.lifetime.Stopped() {
			return
		}
		if err := s.stats.FlushIfDirty(); err != nil && s.cfg.Verbose {
			log.Printf("[keepalive] stats flush: %v", err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "cache-keepalive", "status": "ok", "upstream": s.cfg.UpstreamBaseURL,
	})
}

func (s *Server) handleInternalHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service":    "cache-keepalive",
		"status":     "ok",
		"upstream":   s.cfg.UpstreamBaseURL,
		"stats":      s.stats.StatsSnapshot(),
		"accounting": s.stats.Snapshot(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":      s.stats.StatsSnapshot(),
		"accounting": s.stats.Snapshot(),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopping"})
	go s.shutdown()
}

// handleMessages forwards the request verbatim, capturing the cacheable
// prefix and draining usage from the SSE response on the way through (spec
// §4.3 "Prefix capture").
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		if s := bodyLimitStatus(err); s != 0 {
			status = s
		}
		http.Error(w, err.Error(), status)
		return
	}

	var req protocol.AnthropicRequest
	if err := json.Unmarshal(body, &req); err == nil && req.Model != "" {
		hash := cacheablePrefixHash(&req)
		s.stats.RecordPrefix(req.Model, hash, time.Now())

		systemJSON, _ := json.Marshal(req.SystemText())
		toolsJSON, _ := json.Marshal(req.Tools)
		s.pinger.NotifyActivity(&capturedPrefix{
			Model: req.Model, System: systemJSON, Tools: toolsJSON, Headers: forwardHeaders(r),
		})
	} else {
		s.pinger.NotifyActivity(nil)
	}

	s.forward(w, r, body)
}

// handleForward forwards any other POST verbatim (spec §4.3 "Endpoints":
// "POST /v1/messages (and any other POST): forward verbatim").
func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		status := http.StatusBadRequest
		if s := bodyLimitStatus(err); s != 0 {
			status = s
		}
		http.Error(w, err.Error(), status)
		return
	}
	s.pinger.NotifyActivity(nil)
	s.forward(w, r, body)
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), forwardTimeout)
	defer cancel()

	resp, err := s.client.Do(ctx, httpclient.Request{
		Method: r.Method, Path: r.URL.Path, Headers: forwardHeaders(r), Body: body,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	var model string
	if r.URL.Path == "/v1/messages" {
		var probe struct {
			Model string `json:"model"`
		}
		_ = json.Unmarshal(body, &probe)
		model = probe.Model
	}

	if model == "" {
		_, _ = io.Copy(w, resp.Body)
		return
	}

	tee := io.TeeReader(resp.Body, w)
	drainPingUsage(&http.Response{Body: io.NopCloser(tee)}, model, s.stats)
}

func forwardHeaders(r *http.Request) map[string]string {
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	return headers
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
