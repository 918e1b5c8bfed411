package toolname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_ValidNameUnchanged(t *testing.T) {
	got, changed := Sanitize("read_file")
	assert.False(t, changed)
	assert.Equal(t, "read_file", got)
}

func TestSanitize_McpPrefixCollapsesToHash(t *testing.T) {
	got, changed := Sanitize("mcp__filesystem__read_file")
	require.True(t, changed)
	assert.True(t, strings.HasPrefix(got, "mcp_"))
	assert.Len(t, got, len("mcp_")+12)

	// Deterministic: same input always produces the same short name.
	again, _ := Sanitize("mcp__filesystem__read_file")
	assert.Equal(t, got, again)
}

func TestSanitize_InvalidCharsReplaced(t *testing.T) {
	got, changed := Sanitize("weird.tool/name")
	require.True(t, changed)
	assert.True(t, IsValid(got))
}

func TestSanitize_AdjacentInvalidCharsCollapseToSingleSeparator(t *testing.T) {
	got, changed := Sanitize("calc()")
	require.True(t, changed)
	assert.True(t, IsValid(got), "output of Sanitize must always pass IsValid, got %q", got)
	assert.NotContains(t, got, "__")
}

func TestSanitize_OverLongNameTruncatedWithHashSuffix(t *testing.T) {
	long := strings.Repeat("a", 100)
	got, changed := Sanitize(long)
	require.True(t, changed)
	assert.LessOrEqual(t, len(got), 64)
	assert.True(t, IsValid(got))
}

func TestSanitize_Idempotent(t *testing.T) {
	for _, name := range []string{"read_file", "mcp__fs__read", strings.Repeat("x", 90), "a.b.c"} {
		first, _ := Sanitize(name)
		second, changed := Sanitize(first)
		assert.False(t, changed, "sanitizing an already-sanitized name must be a no-op: %q -> %q", name, first)
		assert.Equal(t, first, second)
	}
}

func TestMap_RestoreRoundTrip(t *testing.T) {
	m := NewMap()
	short := m.Apply("mcp__filesystem__read_file")
	assert.NotEqual(t, "mcp__filesystem__read_file", short)
	assert.Equal(t, "mcp__filesystem__read_file", m.Restore(short))
	assert.Equal(t, 1, m.Len())
}

func TestMap_ApplyUnchangedNameNotTracked(t *testing.T) {
	m := NewMap()
	short := m.Apply("read_file")
	assert.Equal(t, "read_file", short)
	assert.Equal(t, 0, m.Len())
	// Restoring a name that was never rewritten returns it unchanged.
	assert.Equal(t, "read_file", m.Restore("read_file"))
}
