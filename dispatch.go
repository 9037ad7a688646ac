package rdns

import (
	"context"
	"expvar"
	"fmt"
	"net/url"
	"time"

	"github.com/miekg/dns"
)

// Dispatcher forwards a query to whichever of the six transports an
// upstream's endpoint URI names: plain UDP/TCP, DNS-over-TLS, DNS-over-
// HTTPS, DNS-over-QUIC, or a synthetic rcode:// response. Every transport
// here makes exactly one attempt per call; none retries or keeps a
// connection pool, matching spec.md §7's "no local retry" requirement
// (the teacher's pipeline.go/dotclient.go connection-reuse machinery is
// deliberately not carried over for this reason).
type Dispatcher struct {
	bootstrap *bootstrapResolver
	sent      *expvar.Map
	failed    *expvar.Map
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		bootstrap: newBootstrapResolver(),
		sent:      getVarMap("dispatcher", "default", "sent"),
		failed:    getVarMap("dispatcher", "default", "failed"),
	}
}

func (d *Dispatcher) String() string { return "dispatcher" }

// Dispatch sends q to up and returns its response, or an error if the
// upstream's scheme isn't one of udp/tcp/tls/https/doq/quic/rcode, or the
// combination it names is unsupported (DoQ chained through SOCKS5).
func (d *Dispatcher) Dispatch(ctx context.Context, up *UpstreamSpec, q *dns.Msg) (*dns.Msg, error) {
	if up == nil || up.Address == "" {
		return nil, fmt.Errorf("upstream has no address configured")
	}
	u, err := url.Parse(up.Address)
	if err != nil {
		return nil, fmt.Errorf("upstream %q: invalid address %q: %w", up.Name, up.Address, err)
	}

	var resp *dns.Msg
	switch u.Scheme {
	case "udp":
		resp, err = d.dispatchUDP(ctx, u.Host, q)
	case "tcp":
		resp, err = d.dispatchTCP(ctx, u.Host, up, q)
	case "tls":
		resp, err = d.dispatchTLS(ctx, u, up, q)
	case "https":
		resp, err = d.dispatchHTTPS(ctx, u, up, q)
	case "doq", "quic":
		resp, err = d.dispatchQUIC(ctx, u, up, q)
	case "rcode":
		return dispatchRCODE(u, q)
	default:
		return nil, &UnsupportedTransportError{Scheme: u.Scheme}
	}

	if err != nil {
		d.failed.Add(u.Scheme, 1)
	} else {
		d.sent.Add(u.Scheme, 1)
	}
	return resp, err
}

// dialerFor returns a direct dialer, or one chaining through up.Proxy if
// set. Only stream transports (TCP, DoT, DoH) may chain through a proxy;
// callers for UDP/QUIC never pass an upstream with Proxy set, since that
// combination is rejected before reaching here.
func (d *Dispatcher) dialerFor(up *UpstreamSpec, timeout time.Duration) Dialer {
	if up.Proxy == "" {
		return directDialer{timeout: timeout}
	}
	return newSocks5Dialer(up.Proxy, timeout)
}
