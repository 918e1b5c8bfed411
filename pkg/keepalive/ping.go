package keepalive

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/jonnyhoo/ccproxy-core/internal/httpclient"
	"github.com/jonnyhoo/ccproxy-core/pkg/ssechunk"
)

// forwardTimeout bounds each upstream forward and keepalive ping (spec §5:
// "P-Keepalive's forward timeout is 30 s").
const forwardTimeout = 30 * time.Second

// capturedPrefix is the most recently forwarded request's cacheable shape,
// replayed verbatim (minus messages) on the next keepalive ping.
type capturedPrefix struct {
	Model   string          `json:"model,omitempty"`
	System  json.RawMessage `json:"system,omitempty"`
	Tools   json.RawMessage `json:"tools,omitempty"`
	Headers map[string]string
}

// pinger owns the single-slot keepalive timer and the independent auto-exit
// timer (spec §4.3 "Keepalive ping" / "Auto-exit"). Both timers are reset by
// client activity; the keepalive timer is also re-armed after each of its own
// fires, so pings continue autonomously while the daemon sits idle, and a
// successful ping resets the auto-exit timer.
type pinger struct {
	cfg    Config
	client *httpclient.Client
	stats  *Stats

	mu      sync.Mutex
	prefix  *capturedPrefix
	keepT   *time.Timer
	exitT   *time.Timer
	onExit  func()
	stopped bool
}

func newPinger(cfg Config, client *httpclient.Client, stats *Stats, onExit func()) *pinger {
	p := &pinger{cfg: cfg, client: client, stats: stats, onExit: onExit}
	p.keepT = time.AfterFunc(cfg.KeepaliveInterval, p.fireKeepalive)
	p.exitT = time.AfterFunc(cfg.AutoExitInterval, p.fireAutoExit)
	return p
}

// NotifyActivity resets both timers and, when prefix is non-nil, records it
// as the shape to replay on the next ping (spec §4.3: "every request from
// the client schedules a keepalive ... in the future").
func (p *pinger) NotifyActivity(prefix *capturedPrefix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if prefix != nil {
		p.prefix = prefix
	}
	p.keepT.Reset(p.cfg.KeepaliveInterval)
	p.exitT.Reset(p.cfg.AutoExitInterval)
}

// Stop cancels both timers, used on shutdown.
func (p *pinger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.keepT.Stop()
	p.exitT.Stop()
}

func (p *pinger) fireKeepalive() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	prefix := p.prefix
	p.mu.Unlock()

	if prefix != nil {
		p.sendPing(prefix)
	}

	p.mu.Lock()
	if !p.stopped {
		p.keepT.Reset(p.cfg.KeepaliveInterval)
	}
	p.mu.Unlock()
}

func (p *pinger) sendPing(prefix *capturedPrefix) {
	body := map[string]any{
		"model":     prefix.Model,
		"max_tokens": 1,
		"stream":    true,
		"messages": []map[string]any{
			{"role": "user", "content": "ping"},
		},
	}
	if len(prefix.System) > 0 {
		body["system"] = prefix.System
	}
	if len(prefix.Tools) > 0 {
		body["tools"] = prefix.Tools
	}
	data, err := json.Marshal(body)
	if err != nil {
		p.stats.RecordPing(false)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()

	resp, err := p.client.Do(ctx, httpclient.Request{
		Method: http.MethodPost, Path: "/v1/messages", Headers: prefix.Headers, Body: data,
	})
	if err != nil {
		if p.cfg.Verbose {
			log.Printf("[keepalive] ping error: %v", err)
		}
		p.stats.RecordPing(false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.stats.RecordPing(false)
		return
	}
	p.stats.RecordPing(true)
	p.mu.Lock()
	if !p.stopped {
		p.exitT.Reset(p.cfg.AutoExitInterval)
	}
	p.mu.Unlock()
	drainPingUsage(resp, prefix.Model, p.stats)
}

// drainPingUsage consumes the ping's SSE body to extract usage, the same
// accounting path forwarded client requests use (spec §4.3 "Prefix
// capture": "Token usage is extracted from the upstream SSE").
func drainPingUsage(resp *http.Response, model string, stats *Stats) {
	dec := ssechunk.NewDecoder()
	buf := make([]byte, 4096)
	var input, output, cacheRead, cacheCreate int
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				i, o, cr, cc := parseUsageEvent(ev)
				input += i
				output += o
				cacheRead += cr
				cacheCreate += cc
			}
		}
		if err != nil {
			break
		}
	}
	stats.RecordUsage(model, input, output, cacheRead, cacheCreate)
}

func (p *pinger) fireAutoExit() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.onExit != nil {
		p.onExit()
	}
}
