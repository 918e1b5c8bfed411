package routing

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"

	"github.com/jonnyhoo/ccproxy-core/internal/httpclient"
	"github.com/jonnyhoo/ccproxy-core/internal/lifetime"
	"github.com/jonnyhoo/ccproxy-core/pkg/protocol"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// maxRequestBodyBytes caps incoming client bodies (spec §2: "Client body
// >10 MB -> 413-equivalent early abort").
const maxRequestBodyBytes = 10 * 1024 * 1024

// Server is P-Routing: classifies each request and forwards it to the
// matching scenario's upstream (spec §4.4).
type Server struct {
	cfg      Config
	profiles *ProfileStore
	lifetime *lifetime.Lifetime
	echo     *echo.Echo

	mu      sync.Mutex
	clients map[string]*httpclient.Client
}

// New builds a Server bound to cfg.
func New(cfg Config) (*Server, error) {
	cfg = cfg.resolved()

	profiles, err := NewProfileStore(cfg.ProfilesDir)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		profiles: profiles,
		lifetime: lifetime.New(),
		clients:  map[string]*httpclient.Client{},
	}
	s.lifetime.OnStop(profiles.Close)
	s.lifetime.OnStop(s.closeClients)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// spec §2: client bodies over 10 MiB abort early with a 413-equivalent.
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", maxRequestBodyBytes/(1024*1024))))
	e.HTTPErrorHandler = s.errorHandler

	e.Any("/*", s.handle)
	s.echo = e

	return s, nil
}

// Lifetime exposes the server's owning lifetime.
func (s *Server) Lifetime() *lifetime.Lifetime { return s.lifetime }

// Run binds and serves on 127.0.0.1:<cfg.Port>.
func (s *Server) Run() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	log.Printf("🚀 Routing server on :%d", s.cfg.Port)
	s.lifetime.OnStop(func() { _ = s.echo.Close() })
	err := s.echo.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := http.StatusBadGateway
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
	}
	_ = c.JSON(status, map[string]string{"error": err.Error()})
}

// handle classifies POST /v1/messages and forwards to the matching
// scenario's target; everything else goes to the default upstream
// unchanged (spec §4.4 "Routing": "Non-POST and non-/v1/messages requests
// are forwarded unchanged to the default upstream").
func (s *Server) handle(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	target := s.cfg.Default
	if c.Request().Method == http.MethodPost && c.Request().URL.Path == "/v1/messages" {
		var req protocol.AnthropicRequest
		if err := json.Unmarshal(body, &req); err == nil {
			scenario := Classify(&req, s.cfg)
			target = s.cfg.targetFor(scenario)
			if s.cfg.Verbose {
				log.Printf("[routing] %s -> %s", scenario, target.BaseURL)
			}
		}
	}
	if target.ProfileName != "" {
		if resolved, ok := s.profiles.Resolve(target.ProfileName); ok {
			target.BaseURL, target.AuthHeader, target.AuthToken = resolved.BaseURL, resolved.AuthHeader, resolved.AuthToken
		}
	}

	return s.forward(c, target, body)
}

func (s *Server) forward(c echo.Context, target RouteTarget, body []byte) error {
	client := s.clientFor(target.BaseURL)

	headers := make(map[string]string, len(c.Request().Header))
	for k := range c.Request().Header {
		headers[k] = c.Request().Header.Get(k)
	}
	if target.AuthHeader != "" && target.AuthToken != "" {
		headers[target.AuthHeader] = target.AuthToken
	}

	path := c.Request().URL.Path
	if target.ProviderPrefix != "" {
		path = "/api/provider/" + target.ProviderPrefix + path
	}

	resp, err := client.Do(c.Request().Context(), httpclient.Request{
		Method: c.Request().Method, Path: path, Headers: headers, Body: body,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	for k, vs := range resp.Header {
		for _, v := range vs {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)
	_, err = io.Copy(c.Response(), resp.Body)
	return err
}

// clientFor returns a pooled client for baseURL, building one on first use
// (spec §5 "Shared-resource policy": connections pooled per component and
// destroyed on stop - here, per distinct upstream).
func (s *Server) clientFor(baseURL string) *httpclient.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[baseURL]; ok {
		return c
	}
	c := httpclient.New(httpclient.Config{BaseURL: baseURL})
	s.clients[baseURL] = c
	return c
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.CloseIdleConnections()
	}
}
