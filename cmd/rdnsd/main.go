// Command rdnsd is the thin process scaffolding around the rdns package:
// it loads a configuration file, binds a UDP and TCP listener per
// configured listener, and feeds received queries into the query
// pipeline. None of the routing, caching or dispatch logic lives here;
// this file only exists to make the module a runnable binary, mirroring
// the teacher's own cmd/routedns/main.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	rdns "github.com/cresky-github/creskydns"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var validateOnly bool

	cmd := &cobra.Command{
		Use:   "rdnsd",
		Short: "split-horizon, rule-driven recursive DNS forwarder",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rdns.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if validateOnly {
				fmt.Println("configuration OK")
				return nil
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "rdnsd.toml", "path to configuration file")
	cmd.Flags().BoolVar(&validateOnly, "validate", false, "validate the configuration and exit without serving")
	return cmd
}

func run(ctx context.Context, cfg *rdns.Config) error {
	dispatcher := rdns.NewDispatcher()
	engine, err := rdns.NewRuleEngine(cfg, dispatcher)
	if err != nil {
		return err
	}

	var ruleCacheSize, responseCacheSize int
	var ruleCacheFile, responseCacheFile string
	var minTTL, maxTTL uint32
	if cfg.RuleCache != nil {
		ruleCacheSize, ruleCacheFile = cfg.RuleCache.Size, cfg.RuleCache.Output
	}
	if cfg.ResponseCache != nil {
		responseCacheSize, responseCacheFile = cfg.ResponseCache.Size, cfg.ResponseCache.Output
		minTTL, maxTTL = cfg.ResponseCache.MinTTL, cfg.ResponseCache.MaxTTL
	}

	ruleCache := rdns.NewRuleCache(ruleCacheSize, ruleCacheFile)
	responseCache := rdns.NewResponseCache(responseCacheSize, minTTL, maxTTL, responseCacheFile)
	pipeline := rdns.NewPipeline(engine, ruleCache, responseCache)

	if cfg.ResponseCache != nil && cfg.ResponseCache.ColdStart != nil {
		cs := rdns.NewColdStart(pipeline, ruleCache, responseCache, engine, *cfg.ResponseCache.ColdStart)
		if err := cs.Run(ctx); err != nil {
			rdns.Log.WithError(err).Warn("cold start failed")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	servers := make([]*dns.Server, 0, len(cfg.Listeners)*2)
	for _, l := range cfg.Listeners {
		l := l
		addr := net.JoinHostPort("", fmt.Sprintf("%d", l.Port))
		mux := dns.NewServeMux()
		mux.HandleFunc(".", handler(pipeline, l.Name))

		udp := &dns.Server{Addr: addr, Net: "udp", Handler: mux}
		tcp := &dns.Server{Addr: addr, Net: "tcp", Handler: mux}
		servers = append(servers, udp, tcp)

		g.Go(func() error { return udp.ListenAndServe() })
		g.Go(func() error { return tcp.ListenAndServe() })
	}

	if cfg.RuleCache != nil {
		interval := flushInterval(cfg.RuleCache.Interval)
		g.Go(func() error { return flushPeriodically(gctx, interval, nil, ruleCache.FlushToFile) })
	}
	if cfg.ResponseCache != nil {
		interval := flushInterval(cfg.ResponseCache.Interval)
		g.Go(func() error { return flushPeriodically(gctx, interval, responseCache.CleanupExpired, responseCache.FlushToFile) })
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, s := range servers {
		s.ShutdownContext(shutdownCtx)
	}
	ruleCache.FlushToFile()
	responseCache.FlushToFile()

	return g.Wait()
}

// flushDefaultInterval is substituted when a cache declares no interval (or
// an unparseable one), so a misconfigured or absent interval still gets a
// periodic flush rather than none at all.
const flushDefaultInterval = 5 * time.Minute

// flushInterval resolves a CacheSpec's configured interval string to a
// Duration, substituting flushDefaultInterval when it's empty or invalid.
func flushInterval(raw string) time.Duration {
	d, err := rdns.ParseInterval(raw)
	if err != nil || d <= 0 {
		return flushDefaultInterval
	}
	return d
}

// flushPeriodically runs cleanup (if non-nil; the rule cache has no TTL of
// its own and passes nil) followed by flush every interval, matching
// spec.md §4.2.5's per-cache flush task. Flush failures are logged and
// never abort the task.
func flushPeriodically(ctx context.Context, interval time.Duration, cleanup func(), flush func() error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if cleanup != nil {
				cleanup()
			}
			if err := flush(); err != nil {
				rdns.Log.WithError(err).Warn("periodic cache flush failed")
			}
		}
	}
}

func handler(p *rdns.Pipeline, listenerName string) dns.HandlerFunc {
	return func(w dns.ResponseWriter, r *dns.Msg) {
		ci := rdns.ClientInfo{Listener: listenerName}
		switch addr := w.RemoteAddr().(type) {
		case *net.UDPAddr:
			ci.SourceIP = addr.IP
		case *net.TCPAddr:
			ci.SourceIP = addr.IP
		}

		resp, err := p.Handle(r, ci)
		if err != nil {
			rdns.Log.WithError(err).WithField("listener", listenerName).Warn("query failed")
			var malformed *rdns.MalformedQueryError
			if errors.As(err, &malformed) {
				// spec.md §7: malformed input gets no response at all.
				return
			}
			resp = new(dns.Msg)
			resp.SetRcode(r, dns.RcodeServerFailure)
		}
		resp.Id = r.Id
		_ = w.WriteMsg(resp)
	}
}
