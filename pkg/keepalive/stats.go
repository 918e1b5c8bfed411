package keepalive

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// pricing holds USD-per-1M-token constants (spec §4.3 "Accounting").
var pricing = struct {
	Input      float64
	CacheRead  float64
	CacheWrite float64
	Output     float64
}{Input: 3.0, CacheRead: 0.3, CacheWrite: 3.75, Output: 15.0}

// prefixChange is one entry in the bounded ring of recent cacheable-prefix
// transitions (spec §3 "Cacheable prefix").
type prefixChange struct {
	Timestamp string `json:"timestamp"`
	FromHash  string `json:"fromHash"`
	ToHash    string `json:"toHash"`
	Model     string `json:"model"`
}

// modelStats is the per-model counter breakdown (spec §4.3 "Endpoints",
// GET /_stats).
type modelStats struct {
	Requests                 int `json:"requests"`
	InputTokens              int `json:"inputTokens"`
	OutputTokens             int `json:"outputTokens"`
	CacheReadTokens          int `json:"cacheReadTokens"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens"`
}

const prefixRingCapacity = 20

// Stats is P-Keepalive's cumulative accounting state, safe for concurrent
// use. Every field the spec calls additive-on-merge is a plain counter;
// Load adds them together and bounds the ring afterward (spec §4.3
// "Persistence").
type Stats struct {
	mu sync.Mutex

	PrefixChanges int             `json:"prefixChanges"`
	Ring          []prefixChange  `json:"ring"`
	ByModel       map[string]*modelStats `json:"byModel"`

	PingsOK     int `json:"pingsOk"`
	PingsErr    int `json:"pingsErr"`

	lastPrefixHash string
	path           string
	dirty          bool
}

// NewStats returns an empty Stats bound to path for persistence.
func NewStats(path string) *Stats {
	return &Stats{ByModel: make(map[string]*modelStats), path: path}
}

// RecordPrefix updates the last-seen cacheable-prefix hash for model,
// appending a ring entry when it changes (spec §3/§4.3 "Prefix capture").
func (s *Stats) RecordPrefix(model, hash string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hash == s.lastPrefixHash {
		return
	}
	from := s.lastPrefixHash
	s.lastPrefixHash = hash
	s.PrefixChanges++
	s.Ring = append(s.Ring, prefixChange{
		Timestamp: now.UTC().Format(time.RFC3339), FromHash: from, ToHash: hash, Model: model,
	})
	if len(s.Ring) > prefixRingCapacity {
		s.Ring = s.Ring[len(s.Ring)-prefixRingCapacity:]
	}
	s.dirty = true
}

// RecordUsage adds one request's token usage to the per-model breakdown
// (spec §4.3: usage fields extracted from message_start/message_delta).
func (s *Stats) RecordUsage(model string, inputTokens, outputTokens, cacheReadTokens, cacheCreationTokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.ByModel[model]
	if !ok {
		m = &modelStats{}
		s.ByModel[model] = m
	}
	m.Requests++
	m.InputTokens += inputTokens
	m.OutputTokens += outputTokens
	m.CacheReadTokens += cacheReadTokens
	m.CacheCreationInputTokens += cacheCreationTokens
	s.dirty = true
}

// RecordPing records the outcome of one keepalive ping.
func (s *Stats) RecordPing(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.PingsOK++
	} else {
		s.PingsErr++
	}
	s.dirty = true
}

// totals sums per-model counters without holding the lock across callers.
func (s *Stats) totals() (inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int) {
	for _, m := range s.ByModel {
		inputTokens += m.InputTokens
		outputTokens += m.OutputTokens
		cacheReadTokens += m.CacheReadTokens
		cacheWriteTokens += m.CacheCreationInputTokens
	}
	return
}

// Accounting is the derived cost/savings snapshot (spec §4.3 "Accounting").
type Accounting struct {
	SavingsUSD float64 `json:"savingsUsd"`
	OverheadUSD float64 `json:"overheadUsd"`
	PingCostUSD float64 `json:"pingCostUsd"`
	HitRate     float64 `json:"hitRate"`
}

// Snapshot computes the current Accounting figures.
func (s *Stats) Snapshot() Accounting {
	s.mu.Lock()
	defer s.mu.Unlock()

	inputTokens, _, cacheRead, cacheWrite := s.totals()
	savings := float64(cacheRead) * (pricing.Input - pricing.CacheRead) / 1e6
	overhead := float64(cacheWrite) * (pricing.CacheWrite - pricing.Input) / 1e6
	pingCost := float64(s.PingsOK+s.PingsErr) * 50_000 * pricing.CacheRead / 1e6

	denom := cacheRead + cacheWrite + inputTokens
	hitRate := 0.0
	if denom > 0 {
		hitRate = float64(cacheRead) / float64(denom)
	}

	return Accounting{SavingsUSD: savings, OverheadUSD: overhead, PingCostUSD: pingCost, HitRate: hitRate}
}

// persistShape is the on-disk JSON shape, a flattened view of Stats plus its
// unexported fields made explicit.
type persistShape struct {
	PrefixChanges  int                     `json:"prefixChanges"`
	Ring           []prefixChange          `json:"ring"`
	ByModel        map[string]*modelStats  `json:"byModel"`
	PingsOK        int                     `json:"pingsOk"`
	PingsErr       int                     `json:"pingsErr"`
	LastPrefixHash string                  `json:"lastPrefixHash"`
}

// Load reads and merges a previously persisted stats file, if present (spec
// §4.3 "Persistence": "reloaded from a temp-dir JSON on startup and merged").
func (s *Stats) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var loaded persistShape
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.PrefixChanges += loaded.PrefixChanges
	s.PingsOK += loaded.PingsOK
	s.PingsErr += loaded.PingsErr
	if s.lastPrefixHash == "" {
		s.lastPrefixHash = loaded.LastPrefixHash
	}
	for model, m := range loaded.ByModel {
		existing, ok := s.ByModel[model]
		if !ok {
			existing = &modelStats{}
			s.ByModel[model] = existing
		}
		existing.Requests += m.Requests
		existing.InputTokens += m.InputTokens
		existing.OutputTokens += m.OutputTokens
		existing.CacheReadTokens += m.CacheReadTokens
		existing.CacheCreationInputTokens += m.CacheCreationInputTokens
	}
	s.Ring = append(loaded.Ring, s.Ring...)
	if len(s.Ring) > prefixRingCapacity {
		s.Ring = s.Ring[len(s.Ring)-prefixRingCapacity:]
	}
	return nil
}

// Flush writes the current stats to disk unconditionally.
func (s *Stats) Flush() error {
	s.mu.Lock()
	shape := persistShape{
		PrefixChanges: s.PrefixChanges, Ring: s.Ring, ByModel: s.ByModel,
		PingsOK: s.PingsOK, PingsErr: s.PingsErr, LastPrefixHash: s.lastPrefixHash,
	}
	s.dirty = false
	s.mu.Unlock()

	data, err := json.MarshalIndent(shape, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// FlushIfDirty writes to disk only when something changed since the last
// flush, used by the debounced persistence loop (spec §4.3: "Writes are
// debounced at 30s").
func (s *Stats) FlushIfDirty() error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.Flush()
}

// Snapshot JSON shapes for the /_stats and /_health endpoints (spec §4.3).
type statsSnapshot struct {
	PrefixChanges int                    `json:"prefixChanges"`
	Ring          []prefixChange         `json:"ring"`
	ByModel       map[string]*modelStats `json:"byModel"`
	PingsOK       int                    `json:"pingsOk"`
	PingsErr      int                    `json:"pingsErr"`
}

// StatsSnapshot renders the GET /_stats body.
func (s *Stats) StatsSnapshot() statsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return statsSnapshot{
		PrefixChanges: s.PrefixChanges, Ring: append([]prefixChange{}, s.Ring...),
		ByModel: s.ByModel, PingsOK: s.PingsOK, PingsErr: s.PingsErr,
	}
}
