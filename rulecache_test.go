package rdns

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// P1/P2: LookupDepthOrdered returns candidates most-specific first.
func TestRuleCacheLookupDepthOrdered(t *testing.T) {
	c := NewRuleCache(0, "")
	c.Insert("example.com", "up-a", "groupA")
	c.Insert("sub.example.com", "up-b", "groupB")

	hits := c.LookupDepthOrdered("host.sub.example.com")
	require.Len(t, hits, 2)
	require.Equal(t, "sub.example.com", hits[0].MatchedDomain)
	require.Equal(t, "example.com", hits[1].MatchedDomain)
	require.Greater(t, hits[0].Depth, hits[1].Depth)
}

func TestRuleCacheLookupMiss(t *testing.T) {
	c := NewRuleCache(0, "")
	require.Empty(t, c.LookupDepthOrdered("nowhere.test"))
}

func TestRuleCacheInsertEmptyMatchedDomainIsNoop(t *testing.T) {
	c := NewRuleCache(0, "")
	c.Insert("", "up-a", "final")
	require.Equal(t, 0, c.Size())
}

func TestRuleCacheClear(t *testing.T) {
	c := NewRuleCache(0, "")
	c.Insert("example.com", "up-a", "groupA")
	require.Equal(t, 1, c.Size())
	c.Clear()
	require.Equal(t, 0, c.Size())
}

// Rule-cache insertion never evicts, even past a configured size: the
// config-derived working set is assumed small relative to capacity
// (spec.md §4.2.1).
func TestRuleCacheNeverEvicts(t *testing.T) {
	c := NewRuleCache(1, "")
	c.Insert("a.com", "up-a", "groupA")
	c.Insert("b.com", "up-b", "groupB")
	require.Equal(t, 2, c.Size())
}

// P9: the root "." is never a legal surviving rule-cache key, and any key
// that is no longer exact-or-suffix of a live list entry is dropped.
func TestRuleCacheValidateAgainstDropsRootAndStale(t *testing.T) {
	c := NewRuleCache(0, "")
	c.Insert(".", "up-a", "groupA")
	c.Insert("example.com", "up-b", "groupB")
	c.Insert("stale.test", "up-c", "groupC")

	kept, dropped := c.ValidateAgainst(func(key string) bool {
		return key == "example.com"
	})

	require.Equal(t, 2, dropped)
	require.Len(t, kept, 1)
	require.Equal(t, "up-b", kept["example.com"])
	require.Equal(t, 1, c.Size())
}

// P6: a flush/load round trip must reproduce the same matched-domain ->
// upstream pairs.
func TestRuleCacheFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "rule_cache.txt")

	c := NewRuleCache(0, file)
	c.Insert("example.com", "up-a", "groupA")
	c.Insert("sub.example.org", "up-b", "groupB")
	require.NoError(t, c.FlushToFile())

	loaded := NewRuleCache(0, file)
	require.NoError(t, loaded.LoadFromFile())
	require.Equal(t, 2, loaded.Size())

	hits := loaded.LookupDepthOrdered("example.com")
	require.Len(t, hits, 1)
	require.Equal(t, "up-a", hits[0].Upstream)
	require.Equal(t, "groupA", hits[0].CacheID)
}

func TestRuleCacheLoadFromFileMissingIsNotError(t *testing.T) {
	c := NewRuleCache(0, filepath.Join(t.TempDir(), "does-not-exist.txt"))
	require.NoError(t, c.LoadFromFile())
	require.Equal(t, 0, c.Size())
}
