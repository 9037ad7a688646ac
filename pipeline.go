package rdns

import (
	"strings"

	"github.com/miekg/dns"
)

// defaultResponseTTL is substituted when a response carries no TTL-bearing
// record at all, matching spec.md §4.4 step 7's "default 300 if none".
const defaultResponseTTL = 300

// Pipeline orchestrates one query end to end: parse, servers-group check,
// two-level cache lookup, rule evaluation and dispatch on a miss, cache
// fill. Grounded on spec.md §4.4 and the original's process_request.
type Pipeline struct {
	engine        *RuleEngine
	ruleCache     *RuleCache
	responseCache *ResponseCache
}

func NewPipeline(engine *RuleEngine, ruleCache *RuleCache, responseCache *ResponseCache) *Pipeline {
	return &Pipeline{engine: engine, ruleCache: ruleCache, responseCache: responseCache}
}

// HandleRaw unpacks raw wire-format bytes, resolves the query, and packs
// the response back to wire format. cmd/rdnsd's listeners do not use it:
// they receive already-parsed messages from dns.Server and call Handle.
func (p *Pipeline) HandleRaw(raw []byte, ci ClientInfo) ([]byte, error) {
	q := new(dns.Msg)
	if err := q.Unpack(raw); err != nil {
		return nil, err
	}
	resp, err := p.Handle(q, ci)
	if err != nil {
		return nil, err
	}
	return resp.Pack()
}

// Handle resolves q to a response:
//  1. a servers-group match routes by listener name, bypassing both
//     caches entirely (spec.md §4.4 step 2);
//  2. otherwise, the rule cache is probed depth-first for a previously
//     matched domain, and each hit's response cache entry is checked;
//  3. on a full miss, the rule engine evaluates groups/final/default and
//     dispatches; every selection except servers/final matches is written
//     back into both caches (spec.md §3 invariant 3, §4.4 steps 6-7).
func (p *Pipeline) Handle(q *dns.Msg, ci ClientInfo) (*dns.Msg, error) {
	qname := qName(q)
	if qname == "" {
		return nil, &MalformedQueryError{Reason: "empty query section"}
	}

	if upstream, ok := p.engine.MatchServers(ci.Listener); ok {
		up, exists := p.engine.upstreams[upstream]
		if !exists {
			return nil, &NoMatchError{Qname: qname}
		}
		return p.engine.dispatch(up, q)
	}

	for _, hit := range p.ruleCache.LookupDepthOrdered(qname) {
		if resp, ok := p.responseCache.Lookup(hit.CacheID, hit.MatchedDomain, hit.Upstream, qname); ok {
			return resp, nil
		}
	}

	sel, resp, err := p.engine.Route(q, ci)
	if err != nil {
		return nil, err
	}

	if !uncacheableRuleKind(sel.RuleKind) {
		cacheID := sel.Upstream
		ruleCacheKey := sel.MatchedDomain
		if ruleCacheKey == "" {
			ruleCacheKey = "."
		}
		p.ruleCache.Insert(ruleCacheKey, sel.Upstream, cacheID)
		ttl, ok := minTTL(resp)
		if !ok {
			ttl = defaultResponseTTL
		}
		p.responseCache.Insert(cacheID, ruleCacheKey, sel.Upstream, qname, resp, ttl)
	}
	return resp, nil
}

// uncacheableRuleKind reports whether a selection must bypass both caches.
// Only servers-group and final-rule matches are excluded (spec.md §3
// invariant 3, §4.4 steps 6-7); default-order and arbitrary-fallback
// selections are cached like any group match.
func uncacheableRuleKind(ruleKind string) bool {
	return strings.HasPrefix(ruleKind, "servers:") || strings.HasPrefix(ruleKind, "final:")
}
