package rdns

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// ResponseCacheEntry is one cached answer, keyed by the 4-tuple
// (cache-id, matched-domain, upstream, qname). Message is nil for entries
// just reloaded from disk at cold start, which carry only enough
// information (qname, remaining TTL) to seed the warm-up pass; they become
// servable again only once a live query refreshes them.
type ResponseCacheEntry struct {
	CacheID       string
	MatchedDomain string
	Upstream      string
	Qname         string
	ExpireAt      time.Time
	InsertedAt    time.Time
	Message       *dns.Msg
}

func responseCacheKey(cacheID, matchedDomain, upstream, qname string) string {
	return cacheID + "\x00" + matchedDomain + "\x00" + upstream + "\x00" + strings.ToLower(qname)
}

// ResponseCache caches full query responses, TTL-clamped to [MinTTL,
// MaxTTL], evicting the entry with the earliest expiry once over capacity
// (spec.md §4.2.2). Guarded by an RWMutex, matching the teacher's cache.go
// concurrency style.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*ResponseCacheEntry
	order   []string // insertion order, oldest first, for the persisted file
	size    int
	minTTL  uint32
	maxTTL  uint32
	file    string
	metrics *cacheMetrics
}

func NewResponseCache(size int, minTTL, maxTTL uint32, file string) *ResponseCache {
	return &ResponseCache{
		entries: map[string]*ResponseCacheEntry{},
		size:    size,
		minTTL:  minTTL,
		maxTTL:  maxTTL,
		file:    file,
		metrics: newCacheMetrics("response"),
	}
}

// Lookup returns a servable cached response, if any, for the given 4-tuple.
// Placeholder entries (Message == nil) reloaded from disk but not yet
// refreshed never count as a hit.
func (c *ResponseCache) Lookup(cacheID, matchedDomain, upstream, qname string) (*dns.Msg, bool) {
	c.mu.RLock()
	e, ok := c.entries[responseCacheKey(cacheID, matchedDomain, upstream, qname)]
	hit := ok && e.Message != nil && !time.Now().After(e.ExpireAt)
	var resp *dns.Msg
	var remaining uint32
	if hit {
		resp = e.Message.Copy()
		remaining = uint32(time.Until(e.ExpireAt).Seconds())
	}
	c.mu.RUnlock()

	if !hit {
		c.metrics.miss.Add(1)
		return nil, false
	}
	c.metrics.hit.Add(1)
	for _, rr := range resp.Answer {
		rr.Header().Ttl = remaining
	}
	return resp, true
}

// Insert clamps originalTTL into [minTTL, maxTTL] (when those are nonzero)
// and stores msg, evicting the entry with the earliest expiry if the cache
// is at capacity.
func (c *ResponseCache) Insert(cacheID, matchedDomain, upstream, qname string, msg *dns.Msg, originalTTL uint32) {
	ttl := originalTTL
	if c.minTTL > 0 && ttl < c.minTTL {
		ttl = c.minTTL
	}
	if c.maxTTL > 0 && ttl > c.maxTTL {
		ttl = c.maxTTL
	}

	key := responseCacheKey(cacheID, matchedDomain, upstream, qname)
	now := time.Now()
	entry := &ResponseCacheEntry{
		CacheID:       cacheID,
		MatchedDomain: matchedDomain,
		Upstream:      upstream,
		Qname:         qname,
		ExpireAt:      now.Add(time.Duration(ttl) * time.Second),
		InsertedAt:    now,
		Message:       msg.Copy(),
	}

	c.mu.Lock()
	if _, exists := c.entries[key]; !exists && c.size > 0 && len(c.entries) >= c.size {
		c.evictEarliestLocked()
	}
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = entry
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.entries.Set(int64(n))
}

func (c *ResponseCache) evictEarliestLocked() {
	var earliestKey string
	var earliest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.ExpireAt.Before(earliest) {
			earliest = e.ExpireAt
			earliestKey = k
			first = false
		}
	}
	if earliestKey != "" {
		delete(c.entries, earliestKey)
		c.removeFromOrderLocked(earliestKey)
	}
}

func (c *ResponseCache) removeFromOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// CleanupExpired drops every entry whose expiry has already passed.
func (c *ResponseCache) CleanupExpired() {
	c.mu.Lock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.ExpireAt) {
			delete(c.entries, k)
			c.removeFromOrderLocked(k)
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.entries.Set(int64(n))
}

// ValidateAgainst drops any entry whose (matched-domain, upstream) pair is
// not among kept (the matched-domain -> upstream pairs that survived the
// rule cache's own ValidateAgainst pass), enforcing invariant 1 of
// spec.md §3: every response-cache entry identifies a live rule-cache
// entry. Returns the number dropped.
func (c *ResponseCache) ValidateAgainst(kept map[string]string) int {
	c.mu.Lock()
	dropped := 0
	for k, e := range c.entries {
		if up, ok := kept[e.MatchedDomain]; !ok || up != e.Upstream {
			delete(c.entries, k)
			c.removeFromOrderLocked(k)
			dropped++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()
	c.metrics.entries.Set(int64(n))
	return dropped
}

// WarmupCandidate names one query the warm-up pass should re-issue.
type WarmupCandidate struct {
	Qname string
}

// WarmupCandidates returns every unexpired placeholder entry (Message ==
// nil, i.e. loaded from disk but not yet refreshed by a live query).
func (c *ResponseCache) WarmupCandidates() []WarmupCandidate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	var out []WarmupCandidate
	for _, e := range c.entries {
		if e.Message == nil && now.Before(e.ExpireAt) {
			out = append(out, WarmupCandidate{Qname: e.Qname})
		}
	}
	return out
}

// FlushToFile persists the cache as pipe-delimited lines
// "|<cache-id>|<matched-domain>|<upstream-name>|<qname>|<remaining-ttl>|<ip-list-or-NODATA>|",
// sorted by insertion order.
func (c *ResponseCache) FlushToFile() error {
	if c.file == "" {
		return nil
	}
	c.mu.RLock()
	lines := make([]string, 0, len(c.order))
	now := time.Now()
	for _, k := range c.order {
		e, ok := c.entries[k]
		if !ok || now.After(e.ExpireAt) {
			continue
		}
		remaining := uint32(e.ExpireAt.Sub(now).Seconds())
		ipField := "NODATA"
		if e.Message != nil {
			ips := extractIPs(e.Message)
			if len(ips) > 0 {
				strs := make([]string, len(ips))
				for i, ip := range ips {
					strs[i] = ip.String()
				}
				ipField = strings.Join(strs, ",")
			}
		}
		lines = append(lines, fmt.Sprintf("|%s|%s|%s|%s|%d|%s|",
			e.CacheID, e.MatchedDomain, e.Upstream, e.Qname, remaining, ipField))
	}
	c.mu.RUnlock()
	return os.WriteFile(c.file, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// LoadFromFile repopulates the cache with placeholder entries (Message ==
// nil) from a file written by FlushToFile, skipping anything whose
// remaining TTL has already elapsed. Placeholders are only used to drive
// the warm-up pass; see WarmupCandidates.
func (c *ResponseCache) LoadFromFile() error {
	if c.file == "" {
		return nil
	}
	f, err := os.Open(c.file)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	entries := map[string]*ResponseCacheEntry{}
	var order []string
	now := time.Now()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.Trim(strings.TrimSpace(sc.Text()), "|")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 6 {
			continue
		}
		remaining, err := strconv.Atoi(parts[4])
		if err != nil || remaining <= 0 {
			continue
		}
		key := responseCacheKey(parts[0], parts[1], parts[2], parts[3])
		entries[key] = &ResponseCacheEntry{
			CacheID:       parts[0],
			MatchedDomain: parts[1],
			Upstream:      parts[2],
			Qname:         parts[3],
			ExpireAt:      now.Add(time.Duration(remaining) * time.Second),
			InsertedAt:    now,
		}
		order = append(order, key)
	}
	if err := sc.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = entries
	c.order = order
	c.mu.Unlock()
	c.metrics.entries.Set(int64(len(entries)))
	return nil
}
