package translate

import (
	"strings"
	"sync"

	"github.com/jonnyhoo/ccproxy-core/pkg/toolname"
)

// session holds the per-instance state P-Translate needs across requests in
// Responses mode: lastResponseId and the tool-name map (spec §3 "Session
// chain state"). In practice single-writer (the controlling CLI makes one
// request at a time, spec §5), but guarded regardless.
type session struct {
	mu              sync.Mutex
	lastResponseID  string
	toolMap         *toolname.Map
	stableSessionID string
}

func newSession() *session {
	return &session{
		toolMap:         newToolMap(),
		stableSessionID: newStableSessionID(),
	}
}

func (s *session) setLastResponseID(id string) {
	s.mu.Lock()
	s.lastResponseID = id
	s.mu.Unlock()
}

func (s *session) getLastResponseID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponseID
}

// clearChain drops the chained response id, per spec §3: cleared on
// context-overflow errors, on any error matching a "stale response id"
// pattern, and explicitly by callers.
func (s *session) clearChain() {
	s.mu.Lock()
	s.lastResponseID = ""
	s.mu.Unlock()
}

var staleChainPattern = []string{
	"response with id",
	"not found",
	"previous_response_id",
}

// looksLikeStaleChain reports whether an upstream error body matches the
// "stale response id" pattern spec §3/§9 describes. Open Question decision
// (see DESIGN.md): the chain resets only on this specific match, not on every
// >=400 response, so an unrelated transient 5xx doesn't discard a still-valid
// chain.
func looksLikeStaleChain(body string) bool {
	lower := strings.ToLower(body)
	for _, needle := range staleChainPattern {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
