// Package toolname implements the deterministic tool-name sanitization
// algorithm shared by P-Translate and P-Sanitize (spec §3 "Tool-name mapping",
// §4.2). Grounded on the teacher's pkg/providerutils/tool converter's
// name-shaping helpers, generalized from format-conversion into a full
// shorten/restore mapping with an explicit Map type rather than the
// teacher's stateless converter functions, since the spec requires inverting
// the rewrite on every echoed tool-call identifier.
package toolname

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

const maxLen = 64

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]*$`)
var invalidChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)
var repeatedSeparator = regexp.MustCompile(`[_-]{2,}`)
var mcpPrefix = "mcp__"

// IsValid reports whether name already satisfies the conservative alphabet
// and length constraints, meaning sanitization is a no-op (spec §8
// idempotence property).
func IsValid(name string) bool {
	return len(name) > 0 && len(name) <= maxLen && validName.MatchString(name) && !strings.Contains(name, "__")
}

// Sanitize shortens name if needed, deterministically, per spec §3:
//
//   - mcp__* names collapse to "mcp_<12hex>" (MD5 prefix of the full name).
//   - Others normalize unsupported characters to "_"; if still over-length,
//     truncate to "<prefix>_<6hex>".
//
// changed reports whether the output differs from the input.
func Sanitize(name string) (sanitized string, changed bool) {
	if IsValid(name) {
		return name, false
	}

	if strings.HasPrefix(name, mcpPrefix) {
		sum := md5.Sum([]byte(name))
		return "mcp_" + hex.EncodeToString(sum[:])[:12], true
	}

	normalized := invalidChar.ReplaceAllString(name, "_")
	if normalized == "" || !isAlphaOrUnderscore(normalized[0]) {
		normalized = "_" + normalized
	}
	// Normalizing independent invalid characters can leave adjacent
	// separators (e.g. "calc()" -> "calc__"), which itself fails IsValid -
	// collapse any run of two or more into one before re-checking length.
	normalized = repeatedSeparator.ReplaceAllString(normalized, "_")

	if len(normalized) <= maxLen {
		return normalized, normalized != name
	}

	sum := md5.Sum([]byte(name))
	suffix := hex.EncodeToString(sum[:])[:6]
	prefixLen := maxLen - len(suffix) - 1
	if prefixLen < 0 {
		prefixLen = 0
	}
	if prefixLen > len(normalized) {
		prefixLen = len(normalized)
	}
	result := repeatedSeparator.ReplaceAllString(fmt.Sprintf("%s_%s", normalized[:prefixLen], suffix), "_")
	return result, true
}

func isAlphaOrUnderscore(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// Map is a process-lifetime short->original tool-name mapping. Safe for
// concurrent use; spec §5 notes P-Translate's map is single-writer in
// practice (the controlling CLI makes one request at a time) but the mutex
// keeps it correct regardless.
type Map struct {
	mu       sync.RWMutex
	toOrig   map[string]string
}

// NewMap creates an empty mapping.
func NewMap() *Map {
	return &Map{toOrig: make(map[string]string)}
}

// Apply sanitizes name, records the mapping if it changed, and returns the
// (possibly unchanged) short name to send upstream. The mapping never loses
// an original (spec §3 invariant): once recorded, a short name always
// resolves back to the same original.
func (m *Map) Apply(name string) string {
	short, changed := Sanitize(name)
	if !changed {
		return name
	}
	m.mu.Lock()
	m.toOrig[short] = name
	m.mu.Unlock()
	return short
}

// Restore resolves a short name back to its original, or returns short
// unchanged if it was never rewritten.
func (m *Map) Restore(short string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if orig, ok := m.toOrig[short]; ok {
		return orig
	}
	return short
}

// Len reports how many names have been rewritten.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toOrig)
}
