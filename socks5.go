package rdns

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/txthinking/socks5"
)

// Dialer is the minimal interface the stream transports (TCP, DoT, DoH)
// need to open a connection, letting dispatch_tcp.go/dispatch_tls.go/
// dispatch_https.go share the same socks5-or-direct dial path.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// directDialer dials straight out, used when an upstream names no proxy.
type directDialer struct{ timeout time.Duration }

func (d directDialer) Dial(network, address string) (net.Conn, error) {
	return net.DialTimeout(network, address, d.timeout)
}

// socks5Dialer chains a connection through a SOCKS5 proxy, adapted from
// the teacher's socks5.go. Resolution of the upstream's hostname happens
// once, locally, the first time Dial is called, so the plaintext hostname
// isn't leaked to the proxy on every query; re-resolution never happens
// for the lifetime of the dialer since the spec's upstreams are static for
// a process's lifetime.
type socks5Dialer struct {
	client *socks5.Client

	once sync.Once
	addr string
}

// newSocks5Dialer builds a dialer that chains through the SOCKS5 proxy at
// proxyAddr. A malformed proxyAddr is reported at dial time via Dial
// instead of here, matching the teacher's best-effort construction.
func newSocks5Dialer(proxyAddr string, timeout time.Duration) *socks5Dialer {
	secs := int(timeout.Seconds())
	if secs == 0 {
		secs = 5
	}
	client, _ := socks5.NewClient(proxyAddr, "", "", secs, secs)
	return &socks5Dialer{client: client}
}

func (d *socks5Dialer) Dial(network, address string) (net.Conn, error) {
	d.once.Do(func() {
		d.addr = address
		host, port, err := net.SplitHostPort(address)
		if err != nil {
			Log.WithError(err).Warn("socks5: failed to parse upstream address")
			return
		}
		if net.ParseIP(host) != nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
		if err != nil || len(ips) == 0 {
			Log.WithError(err).WithField("host", host).Warn("socks5: failed to resolve upstream locally, forwarding hostname to proxy")
			return
		}
		d.addr = net.JoinHostPort(ips[0].String(), port)
	})
	if d.client == nil {
		return nil, &UnsupportedTransportError{Scheme: "socks5", Reason: "proxy client not initialized"}
	}
	return d.client.Dial(network, d.addr)
}
