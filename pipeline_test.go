package rdns

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func newTestPipeline(t *testing.T, groups []RuleGroupSpec, lists map[string]string) (*Pipeline, *RuleCache, *ResponseCache) {
	t.Helper()
	cfg := &Config{
		Timeout:   2 * time.Second,
		Lists:     map[string]*DomainListSpec{},
		Upstreams: map[string]*UpstreamSpec{},
		Groups:    groups,
	}
	for name, file := range lists {
		cfg.Lists[name] = &DomainListSpec{Name: name, Kind: ListKindDomain, File: file}
	}
	cfg.Upstreams["up-a"] = &UpstreamSpec{Name: "up-a", Address: "rcode://refused"}
	cfg.Upstreams["lan-up"] = &UpstreamSpec{Name: "lan-up", Address: "rcode://noerror"}

	engine, err := NewRuleEngine(cfg, NewDispatcher())
	require.NoError(t, err)

	ruleCache := NewRuleCache(0, "")
	responseCache := NewResponseCache(0, 0, 0, "")
	return NewPipeline(engine, ruleCache, responseCache), ruleCache, responseCache
}

func TestPipelineMalformedQueryGetsNoResponse(t *testing.T) {
	p, _, _ := newTestPipeline(t, nil, nil)
	q := new(dns.Msg)
	resp, err := p.Handle(q, ClientInfo{})
	require.Nil(t, resp)
	require.Error(t, err)
	require.IsType(t, &MalformedQueryError{}, err)
}

// S4: a group match fills both caches; a subsequent identical query is
// served from the response cache rather than re-evaluating rules.
func TestPipelineCacheFillThenHit(t *testing.T) {
	list := writeListFile(t, "example.com")
	groups := []RuleGroupSpec{{Name: "g1", Rules: []string{"a,up-a"}}}
	p, ruleCache, responseCache := newTestPipeline(t, groups, map[string]string{"a": list})

	require.Equal(t, 0, ruleCache.Size())
	resp1, err := p.Handle(newQuery("www.example.com"), ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeRefused, resp1.Rcode)
	require.Equal(t, 1, ruleCache.Size())

	_, ok := responseCache.Lookup("up-a", "example.com", "up-a", "www.example.com.")
	require.True(t, ok)

	resp2, err := p.Handle(newQuery("www.example.com"), ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, resp1.Rcode, resp2.Rcode)
	require.Equal(t, 1, ruleCache.Size(), "a cache hit must not insert a second entry")
}

// S5 / P7: a servers-group match bypasses both cache levels entirely and
// is never written back into either cache.
func TestPipelineServersOverrideBypassesCache(t *testing.T) {
	groups := []RuleGroupSpec{{Name: "servers", Rules: []string{"lan,lan-up"}}}
	p, ruleCache, responseCache := newTestPipeline(t, groups, nil)

	resp, err := p.Handle(newQuery("anything.test"), ClientInfo{Listener: "lan"})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeSuccess, resp.Rcode)
	require.Equal(t, 0, ruleCache.Size())
	_, ok := responseCache.Lookup("", "", "lan-up", "anything.test.")
	require.False(t, ok)
}

// S6: a group routed to the rcode:// transport produces a synthesized
// reply with no network I/O, and (being an ordinary group match) is still
// cacheable like any other group rule.
func TestPipelineRCODEGroupIsCached(t *testing.T) {
	list := writeListFile(t, "blocked.test")
	groups := []RuleGroupSpec{{Name: "g1", Rules: []string{"a,up-a"}}}
	p, ruleCache, _ := newTestPipeline(t, groups, map[string]string{"a": list})

	resp, err := p.Handle(newQuery("host.blocked.test"), ClientInfo{})
	require.NoError(t, err)
	require.Equal(t, dns.RcodeRefused, resp.Rcode)
	require.Equal(t, 1, ruleCache.Size())
}

// P1/S5 companion: a listener absent from the servers group falls through
// group/final/default evaluation to the arbitrary-but-deterministic
// fallback:<u> branch, since both up-a and lan-up are configured upstreams
// (spec.md §4.1).
func TestPipelineUnmatchedListenerStillRoutesByName(t *testing.T) {
	groups := []RuleGroupSpec{{Name: "servers", Rules: []string{"lan,lan-up"}}}
	p, ruleCache, _ := newTestPipeline(t, groups, nil)

	resp, err := p.Handle(newQuery("anything.test"), ClientInfo{Listener: "wan"})
	require.NoError(t, err)
	require.NotNil(t, resp)
	// fallback picks the lexicographically first upstream name ("lan-up"
	// sorts before "up-a"), and the result is cached under "." since the
	// fallback selection has no matched domain.
	require.Equal(t, 1, ruleCache.Size())
	hits := ruleCache.LookupDepthOrdered("anything.test")
	require.Len(t, hits, 1)
	require.Equal(t, "lan-up", hits[0].Upstream)
	require.Equal(t, "lan-up", hits[0].CacheID)
}
