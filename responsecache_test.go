package rdns

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func aResponse(name string, ttl uint32) *dns.Msg {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	resp := new(dns.Msg)
	resp.SetReply(q)
	rr := &dns.A{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   []byte{93, 184, 216, 34},
	}
	resp.Answer = append(resp.Answer, rr)
	return resp
}

func TestResponseCacheLookupMiss(t *testing.T) {
	c := NewResponseCache(10, 0, 0, "")
	_, ok := c.Lookup("groupA", "example.com", "up-a", "www.example.com.")
	require.False(t, ok)
}

func TestResponseCacheInsertAndLookup(t *testing.T) {
	c := NewResponseCache(10, 0, 0, "")
	resp := aResponse("www.example.com.", 300)
	c.Insert("groupA", "example.com", "up-a", "www.example.com.", resp, 300)

	got, ok := c.Lookup("groupA", "example.com", "up-a", "www.example.com.")
	require.True(t, ok)
	require.Len(t, got.Answer, 1)
}

// P5: TTL is clamped into [minTTL, maxTTL] at insert time.
func TestResponseCacheTTLClamp(t *testing.T) {
	c := NewResponseCache(10, 60, 120, "")
	resp := aResponse("www.example.com.", 5)
	c.Insert("groupA", "example.com", "up-a", "www.example.com.", resp, 5)

	got, ok := c.Lookup("groupA", "example.com", "up-a", "www.example.com.")
	require.True(t, ok)
	require.InDelta(t, 60, got.Answer[0].Header().Ttl, 1)

	resp2 := aResponse("other.example.com.", 10000)
	c.Insert("groupA", "example.com", "up-a", "other.example.com.", resp2, 10000)
	got2, ok := c.Lookup("groupA", "example.com", "up-a", "other.example.com.")
	require.True(t, ok)
	require.InDelta(t, 120, got2.Answer[0].Header().Ttl, 1)
}

func TestResponseCacheExpiredEntryIsMiss(t *testing.T) {
	c := NewResponseCache(10, 0, 0, "")
	resp := aResponse("www.example.com.", 0)
	c.Insert("groupA", "example.com", "up-a", "www.example.com.", resp, 0)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Lookup("groupA", "example.com", "up-a", "www.example.com.")
	require.False(t, ok)
}

func TestResponseCacheEvictsEarliestExpiry(t *testing.T) {
	c := NewResponseCache(1, 0, 0, "")
	c.Insert("groupA", "example.com", "up-a", "soon.example.com.", aResponse("soon.example.com.", 1), 1)
	c.Insert("groupA", "example.com", "up-a", "later.example.com.", aResponse("later.example.com.", 300), 300)

	_, ok := c.Lookup("groupA", "example.com", "up-a", "soon.example.com.")
	require.False(t, ok, "the earlier-expiring entry should have been evicted")
	_, ok = c.Lookup("groupA", "example.com", "up-a", "later.example.com.")
	require.True(t, ok)
}

func TestResponseCacheCleanupExpired(t *testing.T) {
	c := NewResponseCache(10, 0, 0, "")
	c.Insert("groupA", "example.com", "up-a", "www.example.com.", aResponse("www.example.com.", 0), 0)
	time.Sleep(5 * time.Millisecond)
	c.CleanupExpired()
	_, ok := c.entries[responseCacheKey("groupA", "example.com", "up-a", "www.example.com.")]
	require.False(t, ok)
}

// Invariant 1 (spec.md §3): every surviving response-cache entry must
// identify a live rule-cache entry.
func TestResponseCacheValidateAgainstDropsOrphans(t *testing.T) {
	c := NewResponseCache(10, 0, 0, "")
	c.Insert("groupA", "example.com", "up-a", "www.example.com.", aResponse("www.example.com.", 300), 300)
	c.Insert("groupB", "stale.test", "up-b", "www.stale.test.", aResponse("www.stale.test.", 300), 300)

	dropped := c.ValidateAgainst(map[string]string{"example.com": "up-a"})
	require.Equal(t, 1, dropped)

	_, ok := c.Lookup("groupA", "example.com", "up-a", "www.example.com.")
	require.True(t, ok)
	_, ok = c.Lookup("groupB", "stale.test", "up-b", "www.stale.test.")
	require.False(t, ok)
}

// ResponseCache.ValidateAgainst must also drop an entry whose upstream no
// longer matches the kept pair, even if the matched-domain key is present.
func TestResponseCacheValidateAgainstUpstreamMismatch(t *testing.T) {
	c := NewResponseCache(10, 0, 0, "")
	c.Insert("groupA", "example.com", "old-up", "www.example.com.", aResponse("www.example.com.", 300), 300)

	dropped := c.ValidateAgainst(map[string]string{"example.com": "new-up"})
	require.Equal(t, 1, dropped)
}

func TestResponseCacheFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "response_cache.txt")

	c := NewResponseCache(10, 0, 0, file)
	c.Insert("groupA", "example.com", "up-a", "www.example.com.", aResponse("www.example.com.", 300), 300)
	require.NoError(t, c.FlushToFile())

	loaded := NewResponseCache(10, 0, 0, file)
	require.NoError(t, loaded.LoadFromFile())

	cands := loaded.WarmupCandidates()
	require.Len(t, cands, 1)
	require.Equal(t, "www.example.com.", cands[0].Qname)

	// Placeholder entries aren't servable until a live query refreshes them.
	_, ok := loaded.Lookup("groupA", "example.com", "up-a", "www.example.com.")
	require.False(t, ok)
}
