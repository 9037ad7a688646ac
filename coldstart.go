package rdns

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ColdStart validates persisted caches against the live configuration and
// then re-resolves every surviving response-cache placeholder, bounded to
// a configurable level of concurrency. Grounded on the original's
// warm_up_queries (main.rs) and spec.md §4.2.4.
type ColdStart struct {
	pipeline      *Pipeline
	ruleCache     *RuleCache
	responseCache *ResponseCache
	engine        *RuleEngine
	spec          ColdStartSpec
}

func NewColdStart(p *Pipeline, ruleCache *RuleCache, responseCache *ResponseCache, engine *RuleEngine, spec ColdStartSpec) *ColdStart {
	return &ColdStart{pipeline: p, ruleCache: ruleCache, responseCache: responseCache, engine: engine, spec: spec}
}

// Run loads the persisted rule cache, validates it against the live
// configuration (spec.md §4.2.3 steps 1-3), and — unless nothing survived —
// loads and validates the response cache against the surviving rule-cache
// entries before warming it up, if enabled.
func (c *ColdStart) Run(ctx context.Context) error {
	if err := c.ruleCache.LoadFromFile(); err != nil {
		Log.WithError(err).Warn("cold start: failed to load rule cache")
	}

	kept, dropped := c.ruleCache.ValidateAgainst(c.engine.DomainKeyValid)
	if dropped > 0 {
		Log.WithField("dropped", dropped).Info("cold start: dropped stale rule-cache entries")
	}
	if len(kept) == 0 {
		c.ruleCache.Clear()
		return nil
	}

	if err := c.responseCache.LoadFromFile(); err != nil {
		Log.WithError(err).Warn("cold start: failed to load response cache")
	}
	rdropped := c.responseCache.ValidateAgainst(kept)
	if rdropped > 0 {
		Log.WithField("dropped", rdropped).Info("cold start: dropped stale response-cache entries")
	}

	if !c.spec.Enabled {
		return nil
	}
	return c.warmUp(ctx)
}

// warmUp re-issues an A query for every surviving placeholder entry, using
// the literal listener name "rule" (matching the original's
// forward_with_listener(&request, "rule")), bounded to spec.Parallel
// concurrent in-flight queries, each capped at spec.Timeout. Failures are
// counted but never abort the pass or get retried — a slow or dead
// upstream just means that one name stays cold.
func (c *ColdStart) warmUp(ctx context.Context) error {
	candidates := c.responseCache.WarmupCandidates()
	if len(candidates) == 0 {
		return nil
	}

	parallel := c.spec.Parallel
	if parallel <= 0 {
		parallel = 10
	}
	timeout := time.Duration(c.spec.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	var succeeded, failed int32
	for _, cand := range candidates {
		cand := cand
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			done := make(chan error, 1)
			go func() {
				_, err := c.pipeline.Handle(newQuery(cand.Qname), ClientInfo{Listener: "rule"})
				done <- err
			}()

			select {
			case err := <-done:
				if err != nil {
					atomic.AddInt32(&failed, 1)
				} else {
					atomic.AddInt32(&succeeded, 1)
				}
			case <-qctx.Done():
				atomic.AddInt32(&failed, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	Log.WithField("succeeded", succeeded).WithField("failed", failed).Info("cold start: warm-up complete")
	return nil
}
