package rdns

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Selection records which rule matched a query and the kind of rule it
// was, so the pipeline can decide whether the result is cacheable.
// RuleKind is one of "group:<name>", "servers:<upstream>",
// "final:<upstream>", "default:<upstream>" or "fallback:<upstream>"; only
// "servers:"/"final:" results are excluded from caching (spec.md §3
// invariant 3, §4.4 steps 6-7).
type Selection struct {
	Upstream      string
	MatchedDomain string
	RuleKind      string
}

// defaultFallbackOrder is the hard-coded upstream search order used when no
// group, servers rule, or final rule produced a match. This mirrors the
// original implementation's handle_no_match, which searches this exact,
// fixed list of conventional upstream names rather than consulting
// configuration (spec.md §9 Open Question, resolved in DESIGN.md).
var defaultFallbackOrder = []string{"default_dns", "cn_dns", "direct_dns", "global_dns"}

// RuleEngine implements the split-horizon routing decision of spec.md §4.1:
// MatchServers maps a listener to its servers-group upstream (the pipeline
// calls it ahead of the caches), and Route walks the ordered rule groups,
// then the final rule, then the hard-coded default order, dispatching to
// whichever upstream wins and returning both the routing decision and the
// response it produced.
type RuleEngine struct {
	lists     map[string]*DomainList
	upstreams map[string]*UpstreamSpec
	groups    []RuleGroupSpec
	final     *FinalRuleSpec
	finalCIDR *DomainList

	dispatcher *Dispatcher
	hitLogger  *HitLogger
	timeout    time.Duration
	metrics    *routerMetrics
}

// NewRuleEngine builds a RuleEngine from a resolved Config. Domain lists are
// loaded eagerly; a missing or malformed list file is a hard configuration
// error, since rule matching can't proceed without it.
func NewRuleEngine(cfg *Config, dispatcher *Dispatcher) (*RuleEngine, error) {
	e := &RuleEngine{
		lists:      map[string]*DomainList{},
		upstreams:  cfg.Upstreams,
		groups:     cfg.Groups,
		final:      cfg.Final,
		dispatcher: dispatcher,
		hitLogger:  NewHitLogger(),
		timeout:    cfg.Timeout,
		metrics:    newRouterMetrics("default"),
	}
	for name, spec := range cfg.Lists {
		l, err := NewDomainList(*spec)
		if err != nil {
			return nil, &ConfigError{Section: "lists." + name, Err: err}
		}
		e.lists[name] = l
	}
	if cfg.Final != nil && cfg.Final.IPCIDR != "" {
		e.finalCIDR = e.lists[cfg.Final.IPCIDR]
	}
	return e, nil
}

func (e *RuleEngine) String() string { return "rule-engine" }

// DomainKeyValid reports whether key (a persisted rule-cache matched-domain)
// is still exact-or-suffix of some name in a list referenced by a live
// non-servers/non-final group, per spec.md §4.2.1 validate_against. Used by
// ColdStart to decide which persisted rule-cache entries survive a reload
// of the configuration.
func (e *RuleEngine) DomainKeyValid(key string) bool {
	labels := splitLabels(strings.ToLower(key))
	if len(labels) == 0 {
		return false
	}
	for _, g := range e.groups {
		if g.Name == "servers" || g.Name == "final" {
			continue
		}
		for _, rule := range g.Rules {
			listName, _, err := parseRule(rule)
			if err != nil {
				continue
			}
			list, ok := e.lists[listName]
			if !ok {
				continue
			}
			// key is exact-or-suffix of a list name iff its reversed labels
			// form a path from the trie root.
			list.set.mu.RLock()
			cur, found := list.set.root, true
			for i := len(labels) - 1; i >= 0 && found; i-- {
				cur, found = cur[labels[i]]
			}
			list.set.mu.RUnlock()
			if found {
				return true
			}
		}
	}
	return false
}

// MatchServers reports the upstream, if any, that the "servers" rule group
// assigns to listenerName. This check happens before any cache lookup
// (spec.md §4.4 step 2), so it is exposed separately from Route.
func (e *RuleEngine) MatchServers(listenerName string) (upstream string, ok bool) {
	if listenerName == "" {
		return "", false
	}
	for _, g := range e.groups {
		if g.Name != "servers" {
			continue
		}
		for _, rule := range g.Rules {
			key, up, err := parseRule(rule)
			if err == nil && key == listenerName {
				return up, true
			}
		}
	}
	return "", false
}

// parseRule splits a "key,upstream" rule string, matching the original's
// parse_rule_string.
func parseRule(rule string) (key, upstream string, err error) {
	parts := strings.SplitN(rule, ",", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed rule %q", rule)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// Route resolves q to an upstream and dispatches it, walking groups in
// declaration order and falling through to the final rule and then the
// hard-coded default order. The servers group is not consulted here; the
// pipeline checks it separately, ahead of any cache lookup. Records a
// router metric bucketed by rule-kind on success, or the failure counter
// when no route could be resolved at all.
func (e *RuleEngine) Route(q *dns.Msg, ci ClientInfo) (Selection, *dns.Msg, error) {
	sel, resp, err := e.route(q, ci)
	if err != nil {
		e.metrics.failure.Add(1)
	} else {
		e.metrics.route.Add(sel.RuleKind, 1)
	}
	return sel, resp, err
}

func (e *RuleEngine) route(q *dns.Msg, ci ClientInfo) (Selection, *dns.Msg, error) {
	qname := qName(q)

	for _, g := range e.groups {
		if g.Name == "servers" || g.Name == "final" {
			continue
		}
		listName, upstream, matched, ok := e.bestMatchInGroup(qname, g)
		if !ok {
			continue
		}
		up, exists := e.upstreams[upstream]
		if !exists {
			return Selection{}, nil, fmt.Errorf("group %q: unknown upstream %q", g.Name, upstream)
		}
		ruleKind := "group:" + g.Name
		e.logHit(listName, qname, ruleKind)
		resp, err := e.dispatch(up, q)
		return Selection{Upstream: upstream, MatchedDomain: matched, RuleKind: ruleKind}, resp, err
	}

	return e.routeFinal(q, ci)
}

// bestMatchInGroup evaluates every rule in g against qname and returns the
// match with the greatest depth, breaking ties in favor of the
// later-declared rule (P1/P2: "best match in group", "ties favor group
// declaration order").
func (e *RuleEngine) bestMatchInGroup(qname string, g RuleGroupSpec) (listName, upstream, matched string, ok bool) {
	bestDepth := -1
	bestIdx := -1
	for idx, rule := range g.Rules {
		rListName, rUpstream, err := parseRule(rule)
		if err != nil {
			continue
		}
		list, exists := e.lists[rListName]
		if !exists {
			continue
		}
		depth, m, hit := list.MatchDepth(qname)
		if !hit {
			continue
		}
		if depth > bestDepth || (depth == bestDepth && idx >= bestIdx) {
			bestDepth, bestIdx = depth, idx
			listName, upstream, matched, ok = rListName, rUpstream, m, true
		}
	}
	return
}

func (e *RuleEngine) logHit(listName, qname, ruleKind string) {
	l, ok := e.lists[listName]
	if !ok || l.HitFile == "" {
		return
	}
	e.hitLogger.Record(listName, l.HitFile, ruleKind, qname)
}

func (e *RuleEngine) dispatch(up *UpstreamSpec, q *dns.Msg) (*dns.Msg, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()
	return e.dispatcher.Dispatch(ctx, up, q)
}

// routeFinal implements the final rule: query the primary upstream, check
// whether any returned address falls within a CN-tagged CIDR block, and
// keep that response if so; otherwise re-query through the fallback
// upstream and use its response instead. The final rule is never cached
// (MatchedDomain stays empty) since its outcome depends on live upstream
// data, not on the queried name alone.
func (e *RuleEngine) routeFinal(q *dns.Msg, ci ClientInfo) (Selection, *dns.Msg, error) {
	if e.final == nil {
		return e.routeDefault(q, ci)
	}
	primary, ok := e.upstreams[e.final.Primary]
	if !ok {
		return e.routeDefault(q, ci)
	}

	resp, err := e.dispatch(primary, q)
	if err == nil && resp != nil && e.isDomestic(resp) {
		e.writeFinalOutput(qName(q))
		return Selection{Upstream: e.final.Primary, RuleKind: "final:" + e.final.Primary}, resp, nil
	}

	if e.final.Fallback == "" {
		if err != nil {
			return Selection{}, nil, err
		}
		e.writeFinalOutput(qName(q))
		return Selection{Upstream: e.final.Primary, RuleKind: "final:" + e.final.Primary}, resp, nil
	}

	fallback, ok := e.upstreams[e.final.Fallback]
	if !ok {
		return Selection{}, nil, &NoMatchError{Qname: qName(q)}
	}
	fresp, ferr := e.dispatch(fallback, q)
	e.writeFinalOutput(qName(q))
	return Selection{Upstream: e.final.Fallback, RuleKind: "final:" + e.final.Fallback}, fresp, ferr
}

// isDomestic reports whether resp carries at least one address inside a
// CN-tagged CIDR entry of the final rule's ipcidr list.
func (e *RuleEngine) isDomestic(resp *dns.Msg) bool {
	if e.finalCIDR == nil {
		return false
	}
	cidrs := e.finalCIDR.CIDRs()
	if cidrs == nil {
		return false
	}
	for _, ip := range extractIPs(resp) {
		if cidrs.ContainsCountry(ip, "CN") {
			return true
		}
	}
	return false
}

func (e *RuleEngine) writeFinalOutput(qname string) {
	if e.final == nil || e.final.Output == "" || qname == "" {
		return
	}
	f, err := os.OpenFile(e.final.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		Log.WithError(err).Warn("failed to open final rule output file")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(stripTrailingDot(qname) + "\n"); err != nil {
		Log.WithError(err).Warn("failed to write final rule output file")
	}
}

// routeDefault searches the hard-coded default upstream order, falling back
// to any configured upstream (arbitrary but deterministic: sorted by name)
// when none of those conventional names exist, per spec.md §4.1's
// "fallback:<u>" rule kind. Only erroring when no upstream is configured at
// all.
func (e *RuleEngine) routeDefault(q *dns.Msg, ci ClientInfo) (Selection, *dns.Msg, error) {
	for _, name := range defaultFallbackOrder {
		up, ok := e.upstreams[name]
		if !ok {
			continue
		}
		resp, err := e.dispatch(up, q)
		return Selection{Upstream: name, RuleKind: "default:" + name}, resp, err
	}

	names := make([]string, 0, len(e.upstreams))
	for name := range e.upstreams {
		names = append(names, name)
	}
	if len(names) == 0 {
		return Selection{}, nil, &NoMatchError{Qname: qName(q)}
	}
	sort.Strings(names)
	name := names[0]
	resp, err := e.dispatch(e.upstreams[name], q)
	return Selection{Upstream: name, RuleKind: "fallback:" + name}, resp, err
}
