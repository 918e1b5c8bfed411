package keepalive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats_RecordPrefix_OnlyChangesIncrementCounter(t *testing.T) {
	s := NewStats("")
	now := time.Now()

	s.RecordPrefix("claude-3", "abc123", now)
	s.RecordPrefix("claude-3", "abc123", now)
	s.RecordPrefix("claude-3", "def456", now)

	assert.Equal(t, 2, s.PrefixChanges)
	require.Len(t, s.Ring, 2)
	assert.Equal(t, "abc123", s.Ring[0].ToHash)
	assert.Equal(t, "def456", s.Ring[1].ToHash)
	assert.Equal(t, "abc123", s.Ring[1].FromHash)
}

func TestStats_RecordPrefix_RingBoundedAt20(t *testing.T) {
	s := NewStats("")
	for i := 0; i < 25; i++ {
		s.RecordPrefix("claude-3", string(rune('a'+i)), time.Now())
	}
	assert.Len(t, s.Ring, prefixRingCapacity)
	assert.Equal(t, 25, s.PrefixChanges)
}

func TestStats_Snapshot_AccountingFormulas(t *testing.T) {
	s := NewStats("")
	s.RecordUsage("claude-3", 1_000_000, 0, 2_000_000, 500_000)
	s.RecordPing(true)
	s.RecordPing(false)

	acc := s.Snapshot()

	wantSavings := 2_000_000.0 * (pricing.Input - pricing.CacheRead) / 1e6
	wantOverhead := 500_000.0 * (pricing.CacheWrite - pricing.Input) / 1e6
	wantPingCost := 2.0 * 50_000 * pricing.CacheRead / 1e6
	wantHitRate := 2_000_000.0 / (2_000_000.0 + 500_000.0 + 1_000_000.0)

	assert.InDelta(t, wantSavings, acc.SavingsUSD, 1e-9)
	assert.InDelta(t, wantOverhead, acc.OverheadUSD, 1e-9)
	assert.InDelta(t, wantPingCost, acc.PingCostUSD, 1e-9)
	assert.InDelta(t, wantHitRate, acc.HitRate, 1e-9)
}

func TestStats_Snapshot_ZeroDenominatorHitRateIsZero(t *testing.T) {
	s := NewStats("")
	assert.Equal(t, 0.0, s.Snapshot().HitRate)
}

func TestStats_LoadMergesAdditively(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")

	first := NewStats(path)
	first.RecordUsage("claude-3", 10, 20, 30, 40)
	first.RecordPing(true)
	require.NoError(t, first.Flush())

	second := NewStats(path)
	second.RecordUsage("claude-3", 1, 2, 3, 4)
	require.NoError(t, second.Load())

	m := second.ByModel["claude-3"]
	require.NotNil(t, m)
	assert.Equal(t, 11, m.InputTokens)
	assert.Equal(t, 22, m.OutputTokens)
	assert.Equal(t, 1, second.PingsOK)
}

func TestStats_LoadMissingFileIsNotAnError(t *testing.T) {
	s := NewStats(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.NoError(t, s.Load())
}

func TestStats_FlushIfDirtyOnlyWritesWhenDirty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stats.json")
	s := NewStats(path)

	require.NoError(t, s.FlushIfDirty())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean stats must not be written")

	s.RecordPing(true)
	require.NoError(t, s.FlushIfDirty())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
