package rdns

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

// ruleCacheEntry records which upstream a previously-matched domain routed
// to, and the cache-id (the pipeline uses the upstream name) it was stored
// under, so the response cache can be keyed consistently with it.
type ruleCacheEntry struct {
	Upstream string
	CacheID  string
}

// RuleCacheHit is one candidate returned by LookupDepthOrdered, ordered
// from the most specific (deepest) match to the least.
type RuleCacheHit struct {
	MatchedDomain string
	Depth         int
	Upstream      string
	CacheID       string
}

// RuleCache remembers, for names previously resolved by the rule engine,
// which matched-domain/upstream pair they resolved to, so that repeat
// queries for names under the same matched domain can skip rule
// evaluation entirely. Guarded by an RWMutex matching the teacher's
// lru-cache.go concurrency style. Insertion never evicts: spec.md §4.2.1
// assumes the config-derived working set (a handful of matched domains per
// group) is small relative to any configured capacity, so size is carried
// only for parity with the response cache's constructor and otherwise
// unused here.
type RuleCache struct {
	mu      sync.RWMutex
	entries map[string]ruleCacheEntry
	size    int
	file    string
	metrics *cacheMetrics
}

func NewRuleCache(size int, file string) *RuleCache {
	return &RuleCache{
		entries: map[string]ruleCacheEntry{},
		size:    size,
		file:    file,
		metrics: newCacheMetrics("rule"),
	}
}

// LookupDepthOrdered returns every cache entry whose matched-domain is a
// suffix of qname (including the root entry "."), most specific first.
// Because entries are keyed by an exact matched-domain string, this is a
// direct map probe per candidate suffix rather than a trie walk.
func (c *RuleCache) LookupDepthOrdered(qname string) []RuleCacheHit {
	c.mu.RLock()
	labels := splitLabels(strings.ToLower(qname))
	var hits []RuleCacheHit
	for i := 0; i < len(labels); i++ {
		name := strings.Join(labels[i:], ".")
		if e, ok := c.entries[name]; ok {
			hits = append(hits, RuleCacheHit{MatchedDomain: name, Depth: len(labels) - i, Upstream: e.Upstream, CacheID: e.CacheID})
		}
	}
	if e, ok := c.entries["."]; ok {
		hits = append(hits, RuleCacheHit{MatchedDomain: ".", Depth: 0, Upstream: e.Upstream, CacheID: e.CacheID})
	}
	c.mu.RUnlock()

	if len(hits) > 0 {
		c.metrics.hit.Add(1)
	} else {
		c.metrics.miss.Add(1)
	}
	return hits
}

// Insert records a rule-cache entry for matchedDomain. A matchedDomain of
// "" (the final rule never caches) is a no-op. Insertion never evicts,
// per spec.md §4.2.1.
func (c *RuleCache) Insert(matchedDomain, upstream, cacheID string) {
	if matchedDomain == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[matchedDomain] = ruleCacheEntry{Upstream: upstream, CacheID: cacheID}
	c.metrics.entries.Set(int64(len(c.entries)))
}

func (c *RuleCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]ruleCacheEntry{}
	c.metrics.entries.Set(0)
}

func (c *RuleCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ValidateAgainst drops the root "." (never a legal rule-cache key, P9) and
// every entry whose key isn't exact-or-suffix of some name in a list
// referenced by a live non-servers/non-final group, per isValid. The
// surviving entries are returned as matched-domain -> upstream-name pairs,
// for the response cache's own validation pass (spec.md §4.2.3 step 4).
// Called once at cold start before warm-up begins.
func (c *RuleCache) ValidateAgainst(isValid func(key string) bool) (kept map[string]string, dropped int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept = map[string]string{}
	for k, e := range c.entries {
		if k == "." || !isValid(k) {
			delete(c.entries, k)
			dropped++
			continue
		}
		kept[k] = e.Upstream
	}
	c.metrics.entries.Set(int64(len(c.entries)))
	return kept, dropped
}

// FlushToFile persists the cache as pipe-delimited lines
// "|<cache-id>|<matched-domain>|<upstream-name>|", sorted by matched-domain.
func (c *RuleCache) FlushToFile() error {
	if c.file == "" {
		return nil
	}
	c.mu.RLock()
	domains := make([]string, 0, len(c.entries))
	for domain := range c.entries {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	lines := make([]string, 0, len(domains))
	for _, domain := range domains {
		e := c.entries[domain]
		lines = append(lines, fmt.Sprintf("|%s|%s|%s|", e.CacheID, domain, e.Upstream))
	}
	c.mu.RUnlock()
	return os.WriteFile(c.file, []byte(strings.Join(lines, "\n")+"\n"), 0o644)
}

// LoadFromFile repopulates the cache from a file written by FlushToFile. A
// missing file is not an error: it just means a cold start.
func (c *RuleCache) LoadFromFile() error {
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

	entries := map[string]ruleCacheEntry{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.Trim(strings.TrimSpace(sc.Text()), "|")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		entries[parts[1]] = ruleCacheEntry{CacheID: parts[0], Upstream: parts[2]}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.metrics.entries.Set(int64(len(entries)))
	return nil
}
