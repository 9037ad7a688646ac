package rdns

import "expvar"

// getVarMap returns (creating if necessary) the expvar.Map for a named
// sub-component, namespaced as "rdns.<base>.<id>.<name>". Mirrors the
// teacher's vars.go helpers, rebased onto this module's own prefix.
func getVarMap(base, id, name string) *expvar.Map {
	key := "rdns." + base + "." + id + "." + name
	m := expvar.Get(key)
	if m == nil {
		return expvar.NewMap(key)
	}
	return m.(*expvar.Map)
}

func getVarInt(base, id, name string) *expvar.Int {
	key := "rdns." + base + "." + id + "." + name
	v := expvar.Get(key)
	if v == nil {
		return expvar.NewInt(key)
	}
	return v.(*expvar.Int)
}

// cacheMetrics tracks the counters common to both cache levels, matching
// the teacher's CacheMetrics (cache.go).
type cacheMetrics struct {
	hit     *expvar.Int
	miss    *expvar.Int
	entries *expvar.Int
}

func newCacheMetrics(id string) *cacheMetrics {
	return &cacheMetrics{
		hit:     getVarInt("cache", id, "hit"),
		miss:    getVarInt("cache", id, "miss"),
		entries: getVarInt("cache", id, "entries"),
	}
}

// routerMetrics tracks rule-engine routing outcomes, matching the
// teacher's RouterMetrics (router.go): a hit count per rule-kind bucket
// and a failure count for queries that resolve to no upstream at all.
type routerMetrics struct {
	route   *expvar.Map
	failure *expvar.Int
}

func newRouterMetrics(id string) *routerMetrics {
	return &routerMetrics{
		route:   getVarMap("router", id, "route"),
		failure: getVarInt("router", id, "failure"),
	}
}
