package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jonnyhoo/ccproxy-core/internal/httpclient"
	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/internal/perr"
	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
	"github.com/jonnyhoo/ccproxy-core/pkg/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// Server is P-Translate: a long-lived HTTP server that accepts Anthropic
// Messages API requests and forwards them, translated, to an OpenAI-compatible
// upstream (spec §4.1). Grounded on the teacher's examples/gin-server, whose
// single-model, single-route shape generalizes here into a persistent proxy
// with retry, trim, and chain-state policy layered on top.
type Server struct {
	cfg      Config
	client   *httpclient.Client
	sess     *session
	tracer   trace.Tracer
	lifetime *lifetime.Lifetime
	engine   *gin.Engine
}

// New builds a Server bound to cfg. No network I/O happens until Run.
func New(cfg Config) *Server {
	cfg = cfg.resolved()

	client := httpclient.New(httpclient.Config{
		BaseURL: cfg.TargetBaseURL,
		Headers: map[string]string{"Authorization": "Bearer " + cfg.APIKey},
		Timeout: cfg.timeout(),
	})

	s := &Server{
		cfg:      cfg,
		client:   client,
		sess:     newSession(),
		tracer:   telemetry.GetTracer(cfg.Telemetry),
		lifetime: lifetime.New(),
	}
	s.lifetime.OnStop(client.CloseIdleConnections)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(limitRequestBody)
	r.GET("/", s.handleRoot)
	r.GET("/v1/models", s.handleModels)
	r.POST("/v1/messages", s.handleMessages)
	r.POST("/v1/messages/count_tokens", s.handleCountTokens)
	// spec §6: an optional "/api/provider/<name>" prefix is stripped before
	// routing, letting one launcher multiplex several translate instances.
	r.NoRoute(s.handlePrefixed)
	s.engine = r

	return s
}

// Lifetime exposes the server's owning lifetime so a launcher can register
// it with a process-wide registry.
func (s *Server) Lifetime() *lifetime.Lifetime { return s.lifetime }

// maxRequestBodyBytes caps incoming client bodies (spec §2: "Client body
// >10 MB -> 413-equivalent early abort").
const maxRequestBodyBytes = 10 * 1024 * 1024

// limitRequestBody caps the request body at maxRequestBodyBytes before any
// handler reads it; a body that overruns the limit surfaces as a read error
// from http.MaxBytesReader, which bodyLimitStatus maps to 413.
func limitRequestBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodyBytes)
	c.Next()
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

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "dialect": string(s.cfg.Dialect)})
}

func (s *Server) handlePrefixed(c *gin.Context) {
	path := c.Request.URL.Path
	const marker = "/api/provider/"
	idx := strings.Index(path, marker)
	if idx == -1 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	rest := path[idx+len(marker):]
	if slash := strings.Index(rest, "/"); slash != -1 {
		c.Request.URL.Path = rest[slash:]
		s.engine.HandleContext(c)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func (s *Server) handleModels(c *gin.Context) {
	var upstream protocol.ModelsListResponse
	resp, err := s.client.Do(c.Request.Context(), httpclient.Request{Method: http.MethodGet, Path: "/v1/models"})
	if err != nil {
		s.writeError(c, perr.Wrap(perr.TypeProxy, http.StatusBadGateway, "fetching models", err))
		return
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		s.writeError(c, perr.New(perr.TypeAPI, resp.StatusCode, string(body)))
		return
	}
	if err := json.Unmarshal(body, &upstream); err != nil {
		s.writeError(c, perr.Wrap(perr.TypeProxy, http.StatusBadGateway, "decoding models response", err))
		return
	}

	out := protocol.AnthropicModelsResponse{HasMore: false}
	for _, m := range upstream.Data {
		out.Data = append(out.Data, protocol.AnthropicModel{Type: "model", ID: m.ID, DisplayName: m.ID})
	}
	if len(out.Data) > 0 {
		out.FirstID = out.Data[0].ID
		out.LastID = out.Data[len(out.Data)-1].ID
	}
	c.JSON(http.StatusOK, out)
}

// handleCountTokens returns a conservative estimate (spec §4.1 names this a
// "best-effort" endpoint many upstreams don't support natively): four
// characters per token over the flattened request text.
func (s *Server) handleCountTokens(c *gin.Context) {
	var req protocol.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		if s := bodyLimitStatus(err); s != 0 {
			status = s
		}
		s.writeError(c, perr.Wrap(perr.TypeProxy, status, "invalid request body", err))
		return
	}
	total := len(req.SystemText())
	for _, m := range req.Messages {
		blocks, _ := protocol.DecodeAnthropicBlocks(m.Content)
		total += len(blocksToPlainText(blocks))
	}
	c.JSON(http.StatusOK, gin.H{"input_tokens": total/4 + 1})
}

func (s *Server) handleMessages(c *gin.Context) {
	var req protocol.AnthropicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		status := http.StatusBadRequest
		if s := bodyLimitStatus(err); s != 0 {
			status = s
		}
		s.writeError(c, perr.Wrap(perr.TypeProxy, status, "invalid request body", err))
		return
	}

	ctx, span := s.tracer.Start(c.Request.Context(), "ccproxy.translate")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	if req.Stream {
		s.streamMessages(c, &req)
		return
	}
	s.synthesizeMessages(c, &req)
}

func (s *Server) streamMessages(c *gin.Context, req *protocol.AnthropicRequest) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	w := ssechunk.NewWriter(c.Writer)

	resp, messageID, err := s.forwardWithPolicy(c.Request.Context(), req, true)
	if err != nil {
		s.writeStreamError(w, err)
		return
	}
	defer resp.Body.Close()

	if s.cfg.Dialect == DialectResponses {
		s.pumpResponsesStream(c.Request.Context(), resp.Body, req.Model, messageID, w)
		return
	}
	s.pumpChatStream(c.Request.Context(), resp.Body, req.Model, messageID, w)
}

func (s *Server) pumpChatStream(ctx context.Context, body io.Reader, model, messageID string, w *ssechunk.Writer) {
	sm := newChatStateMachine(model, messageID, s.sess.toolMap)
	dec := ssechunk.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				if ssechunk.IsDone(ev) {
					continue
				}
				var chunk protocol.ChatStreamChunk
				if json.Unmarshal([]byte(ev.Data), &chunk) == nil {
					if s.cfg.Verbose {
						log.Printf("[debug] chat chunk: %s", ev.Data)
					}
					_ = sm.HandleChunk(chunk, w)
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	if ev, ok := dec.Flush(); ok && s.cfg.Verbose {
		log.Printf("[debug] dropped trailing partial event: %q", ev.Data)
	}
	_ = sm.Finish(w)
}

func (s *Server) pumpResponsesStream(ctx context.Context, body io.Reader, model, messageID string, w *ssechunk.Writer) {
	sm := newResponsesStateMachine(model, messageID)
	dec := ssechunk.NewDecoder()
	buf := make([]byte, 4096)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				var wireEvent protocol.ResponsesStreamEvent
				if json.Unmarshal([]byte(ev.Data), &wireEvent) == nil {
					if wireEvent.Type == "response.completed" && wireEvent.Response != nil {
						s.sess.setLastResponseID(wireEvent.Response.ID)
					}
					_ = sm.HandleEvent(wireEvent, w)
				}
			}
		}
		if readErr != nil {
			break
		}
	}
	if ev, ok := dec.Flush(); ok && s.cfg.Verbose {
		log.Printf("[debug] dropped trailing partial event: %q", ev.Data)
	}
	_ = sm.Finish(w)
}

func (s *Server) synthesizeMessages(c *gin.Context, req *protocol.AnthropicRequest) {
	resp, messageID, err := s.forwardWithPolicy(c.Request.Context(), req, true)
	if err != nil {
		s.writeError(c, toProxyError(err))
		return
	}
	defer resp.Body.Close()

	var out *protocol.AnthropicResponse
	if s.cfg.Dialect == DialectResponses {
		out, err = synthesizeResponsesResponse(resp.Body, req.Model, messageID)
	} else {
		out, err = synthesizeChatResponse(resp.Body, req.Model, messageID, s.sess.toolMap)
	}
	if err != nil {
		s.writeError(c, perr.Wrap(perr.TypeProxy, http.StatusBadGateway, "decoding upstream stream", err))
		return
	}
	c.JSON(http.StatusOK, out)
}

// unauthorizedRetryDelay is how long forwardWithPolicy waits before its
// single retry of a 401 (spec §4.1: "On a 401, retry exactly once after
// 500 ms").
const unauthorizedRetryDelay = 500 * time.Millisecond

// forwardWithPolicy builds the upstream request and applies the proxy's
// targeted remediation policy, returning the raw upstream streaming body.
// Upstream is always asked to stream (spec §4.1: the proxy requests SSE even
// for a non-streaming client call so both paths share one translator).
//
// Each remediation - dialect fallback, a bare 401, a stale response chain,
// and a context-window overflow - gets exactly one retry (spec §4.1: "one
// targeted remediation retry"), tracked independently so a request that
// trips more than one of them in sequence still only pays for each once.
func (s *Server) forwardWithPolicy(ctx context.Context, req *protocol.AnthropicRequest, forceStream bool) (*http.Response, string, error) {
	messageID := "msg_" + uuid.NewString()
	messages := req.Messages

	var triedDialectFallback, tried401, triedChainReset, triedTrim bool

	for {
		working := *req
		working.Messages = messages

		httpReq, err := s.buildUpstreamRequest(&working, forceStream)
		if err != nil {
			return nil, "", err
		}

		outcome, err := sendWithRetry(ctx, s.client, httpReq, s.cfg.Verbose)
		if err != nil {
			if !triedDialectFallback && s.cfg.UseResponsesFallback && s.cfg.Dialect == DialectChat {
				triedDialectFallback = true
				s.cfg.Dialect = DialectResponses
				continue
			}
			return nil, "", err
		}

		if outcome.response.StatusCode < 400 {
			return outcome.response, messageID, nil
		}
		body, _ := io.ReadAll(outcome.response.Body)
		outcome.response.Body.Close()
		bodyStr := string(body)

		if outcome.response.StatusCode == http.StatusUnauthorized && !tried401 {
			tried401 = true
			if s.cfg.Verbose {
				log.Printf("[debug] 401 from upstream, retrying once after %s", unauthorizedRetryDelay)
			}
			if err := sleepOrCancel(ctx, unauthorizedRetryDelay); err != nil {
				return nil, "", err
			}
			continue
		}
		if s.cfg.Dialect == DialectResponses && looksLikeStaleChain(bodyStr) && !triedChainReset {
			triedChainReset = true
			s.sess.clearChain()
			continue
		}
		if looksLikeContextOverflow(bodyStr) && !triedTrim {
			triedTrim = true
			s.sess.clearChain()
			messages = trimMessages(messages)
			if s.cfg.Verbose {
				log.Printf("[debug] context overflow, trimmed to %d messages", len(messages))
			}
			continue
		}
		return nil, "", perr.New(perr.TypeAPI, outcome.response.StatusCode, bodyStr)
	}
}

// sleepOrCancel sleeps for d or returns ctx.Err() if ctx is cancelled first.
func sleepOrCancel(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Server) buildUpstreamRequest(req *protocol.AnthropicRequest, forceStream bool) (httpclient.Request, error) {
	var path string
	var body []byte
	var err error

	if s.cfg.Dialect == DialectResponses {
		path = "/v1/responses"
		var out *protocol.ResponsesRequest
		out, err = buildResponsesRequest(req, s.sess, forceStream)
		if err == nil {
			body, err = json.Marshal(out)
		}
	} else {
		path = "/v1/chat/completions"
		var out *protocol.ChatRequest
		out, err = buildChatRequest(req, s.sess.toolMap, forceStream)
		if err == nil {
			body, err = json.Marshal(out)
		}
	}
	if err != nil {
		return httpclient.Request{}, fmt.Errorf("build upstream request: %w", err)
	}
	return httpclient.Request{Method: http.MethodPost, Path: path, Body: body}, nil
}

func toProxyError(err error) *perr.ProxyError {
	if pe, ok := err.(*perr.ProxyError); ok {
		return pe
	}
	return perr.Wrap(perr.TypeProxy, http.StatusBadGateway, "forwarding request", err)
}

func (s *Server) writeError(c *gin.Context, err *perr.ProxyError) {
	env := err.ToEnvelope()
	env.Error.Type = perr.AnthropicErrorType(err.StatusCode)
	c.JSON(err.StatusCode, env)
}

func (s *Server) writeStreamError(w *ssechunk.Writer, err error) {
	pe := toProxyError(err)
	env := pe.ToEnvelope()
	env.Error.Type = perr.AnthropicErrorType(pe.StatusCode)
	body, _ := json.Marshal(env)
	_ = w.WriteEvent("error", string(body))
}

// Run binds and serves until ctx is cancelled or the listener errors.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	srv := &http.Server{Addr: addr, Handler: s.engine}
	s.lifetime.OnStop(func() { _ = srv.Close() })

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

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
