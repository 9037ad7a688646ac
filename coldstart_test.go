package rdns

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newColdStartEngine(t *testing.T, listFile string) *RuleEngine {
	t.Helper()
	cfg := &Config{
		Timeout: time.Second,
		Lists: map[string]*DomainListSpec{
			"a": {Name: "a", Kind: ListKindDomain, File: listFile},
		},
		Upstreams: map[string]*UpstreamSpec{
			"up-a": {Name: "up-a", Address: "rcode://noerror"},
		},
		Groups: []RuleGroupSpec{{Name: "g1", Rules: []string{"a,up-a"}}},
	}
	e, err := NewRuleEngine(cfg, NewDispatcher())
	require.NoError(t, err)
	return e
}

// P9: the persisted root "." entry and any entry no longer covered by a
// live list are dropped at cold start; only the surviving entries seed the
// response-cache validation pass.
func TestColdStartDropsRootAndStaleRuleCacheEntries(t *testing.T) {
	listFile := writeListFile(t, "example.com")
	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "rule_cache.txt")
	responseFile := filepath.Join(dir, "response_cache.txt")

	seed := NewRuleCache(0, ruleFile)
	seed.Insert(".", "up-a", "final")
	seed.Insert("example.com", "up-a", "g1")
	seed.Insert("stale.test", "up-a", "g1")
	require.NoError(t, seed.FlushToFile())

	seedResp := NewResponseCache(0, 0, 0, responseFile)
	seedResp.Insert("g1", "example.com", "up-a", "www.example.com.", aResponse("www.example.com.", 300), 300)
	seedResp.Insert("g1", "stale.test", "up-a", "www.stale.test.", aResponse("www.stale.test.", 300), 300)
	require.NoError(t, seedResp.FlushToFile())

	engine := newColdStartEngine(t, listFile)
	ruleCache := NewRuleCache(0, ruleFile)
	responseCache := NewResponseCache(0, 0, 0, responseFile)
	pipeline := NewPipeline(engine, ruleCache, responseCache)
	cs := NewColdStart(pipeline, ruleCache, responseCache, engine, ColdStartSpec{Enabled: false})

	require.NoError(t, cs.Run(context.Background()))

	require.Equal(t, 1, ruleCache.Size())
	hits := ruleCache.LookupDepthOrdered("www.example.com")
	require.Len(t, hits, 1)
	require.Equal(t, "example.com", hits[0].MatchedDomain)

	cands := responseCache.WarmupCandidates()
	require.Len(t, cands, 1)
	require.Equal(t, "www.example.com.", cands[0].Qname)
}

// When nothing in the rule cache survives validation, the response cache
// is never even loaded from disk (spec.md §4.2.3's early stop).
func TestColdStartSkipsResponseCacheWhenRuleCacheEmpties(t *testing.T) {
	listFile := writeListFile(t, "example.com")
	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "rule_cache.txt")
	responseFile := filepath.Join(dir, "response_cache.txt")

	seed := NewRuleCache(0, ruleFile)
	seed.Insert(".", "up-a", "final")
	seed.Insert("stale.test", "up-a", "g1")
	require.NoError(t, seed.FlushToFile())

	seedResp := NewResponseCache(0, 0, 0, responseFile)
	seedResp.Insert("g1", "stale.test", "up-a", "www.stale.test.", aResponse("www.stale.test.", 300), 300)
	require.NoError(t, seedResp.FlushToFile())

	engine := newColdStartEngine(t, listFile)
	ruleCache := NewRuleCache(0, ruleFile)
	responseCache := NewResponseCache(0, 0, 0, responseFile)
	pipeline := NewPipeline(engine, ruleCache, responseCache)
	cs := NewColdStart(pipeline, ruleCache, responseCache, engine, ColdStartSpec{Enabled: false})

	require.NoError(t, cs.Run(context.Background()))

	require.Equal(t, 0, ruleCache.Size())
	require.Empty(t, responseCache.WarmupCandidates())
}

// With warm-up enabled, surviving response-cache placeholders get
// re-resolved through the pipeline and become servable without a live
// round trip.
func TestColdStartWarmUpRefreshesPlaceholders(t *testing.T) {
	listFile := writeListFile(t, "example.com")
	dir := t.TempDir()
	ruleFile := filepath.Join(dir, "rule_cache.txt")
	responseFile := filepath.Join(dir, "response_cache.txt")

	seed := NewRuleCache(0, ruleFile)
	seed.Insert("example.com", "up-a", "up-a")
	require.NoError(t, seed.FlushToFile())

	seedResp := NewResponseCache(0, 0, 0, responseFile)
	seedResp.Insert("up-a", "example.com", "up-a", "www.example.com.", aResponse("www.example.com.", 300), 300)
	require.NoError(t, seedResp.FlushToFile())

	engine := newColdStartEngine(t, listFile)
	ruleCache := NewRuleCache(0, ruleFile)
	responseCache := NewResponseCache(0, 0, 0, responseFile)
	pipeline := NewPipeline(engine, ruleCache, responseCache)
	cs := NewColdStart(pipeline, ruleCache, responseCache, engine, ColdStartSpec{Enabled: true, Parallel: 2, Timeout: 2000})

	require.NoError(t, cs.Run(context.Background()))

	_, ok := responseCache.Lookup("up-a", "example.com", "up-a", "www.example.com.")
	require.True(t, ok, "warm-up should have re-resolved the placeholder via the pipeline")
}
