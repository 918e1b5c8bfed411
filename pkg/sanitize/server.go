package sanitize

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/jonnyhoo/ccproxy-core/internal/httpclient"
	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// maxRequestBodyBytes caps incoming client bodies (spec §2: "Client body
// >10 MB -> 413-equivalent early abort").
const maxRequestBodyBytes = 10 * 1024 * 1024

// Server is P-Sanitize.
type Server struct {
	cfg      Config
	client   *httpclient.Client
	toolMap  *toolname.Map
	lifetime *lifetime.Lifetime
	app      *fiber.App
}

// New builds a Server bound to cfg.
func New(cfg Config) *Server {
	cfg = cfg.resolved()

	client := httpclient.New(httpclient.Config{BaseURL: cfg.TargetBaseURL})

	s := &Server{
		cfg:      cfg,
		client:   client,
		toolMap:  toolname.NewMap(),
		lifetime: lifetime.New(),
	}
	s.lifetime.OnStop(client.CloseIdleConnections)

	app := fiber.New(fiber.Config{
		AppName:               "ccproxy-sanitize",
		DisableStartupMessage: true,
		// spec §2: client bodies over 10 MiB abort early with a 413-equivalent
		// rather than fiber's own default 4 MiB limit.
		BodyLimit: maxRequestBodyBytes,
	})
	app.Post("/v1/messages", s.handleMessages)
	app.Use(s.handlePassthrough)
	s.app = app

	return s
}

// Lifetime exposes the server's owning lifetime.
func (s *Server) Lifetime() *lifetime.Lifetime { return s.lifetime }

// Run binds and serves on 127.0.0.1:<cfg.Port>.
func (s *Server) Run() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	log.Printf("🚀 Sanitize server on :%d", s.cfg.Port)
	s.lifetime.OnStop(func() { _ = s.app.Shutdown() })
	return s.app.Listen(addr)
}

// handlePassthrough forwards every request byte-for-byte (spec §4.2: "binds
// a loopback port and forwards every request byte-for-byte" except the
// /v1/messages rewrite path).
func (s *Server) handlePassthrough(c *fiber.Ctx) error {
	headers := map[string]string{}
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})

	resp, err := s.client.Do(c.Context(), httpclient.Request{
		Method: c.Method(), Path: c.Path(), Headers: headers, Body: c.Body(),
	})
	if err != nil {
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Response().Header.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)
	// fasthttp reads the stream after this handler returns and closes it
	// once drained, so the body must not be closed here.
	return c.SendStream(resp.Body)
}

// handleMessages rewrites tool names on the way in and reverses them on the
// way out (spec §4.2).
func (s *Server) handleMessages(c *fiber.Ctx) error {
	var renamed int
	body := RewriteRequestBody(c.Body(), s.toolMap, func(from, to string) {
		renamed++
		if s.cfg.WarnOnSanitize {
			log.Printf("[sanitize] renamed tool %q -> %q", from, to)
		}
	})

	headers := map[string]string{}
	c.Request().Header.VisitAll(func(k, v []byte) {
		headers[string(k)] = string(v)
	})

	resp, err := s.client.Do(c.Context(), httpclient.Request{
		Method: http.MethodPost, Path: "/v1/messages", Headers: headers, Body: body,
	})
	if err != nil {
		return c.Status(http.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Response().Header.Add(k, v)
		}
	}
	c.Status(resp.StatusCode)

	// The body is read after this handler returns; SendStream and pumpSSE
	// each close it once drained.
	if !strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return c.SendStream(resp.Body)
	}

	return s.pumpSSE(c, resp.Body)
}

// pumpSSE rewrites content_block_start "tool_use" events back to their
// original names as it relays the upstream stream (spec §4.2: "Non-tool SSE
// lines are passed through verbatim"), writing and flushing each decoded
// event as it arrives rather than buffering the whole response, so a
// long-running stream stays live on the wire instead of appearing to hang
// until it completes (spec §2: "preserving streaming semantics").
func (s *Server) pumpSSE(c *fiber.Ctx, body io.ReadCloser) error {
	c.Context().SetBodyStreamWriter(func(bw *bufio.Writer) {
		defer body.Close()
		w := ssechunk.NewWriter(bw)
		dec := ssechunk.NewDecoder()

		buf := make([]byte, 4096)
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				for _, ev := range dec.Feed(buf[:n]) {
					data := ev.Data
					if ev.Name == "content_block_start" {
						data = string(RewriteContentBlockStartEvent([]byte(data), s.toolMap))
					}
					_ = w.WriteEvent(ev.Name, data)
					_ = bw.Flush()
				}
			}
			if readErr != nil {
				break
			}
		}
		if ev, ok := dec.Flush(); ok {
			_ = w.WriteEvent(ev.Name, ev.Data)
			_ = bw.Flush()
		}
	})
	return nil
}
