package rdns

import (
	"context"
	"crypto/tls"
	"net"
	"net/url"

	"github.com/miekg/dns"
)

// dispatchTLS sends q over DNS-over-TLS: a length-prefixed message on a TLS
// connection, with the server name resolved through the upstream's
// bootstrap addresses when its endpoint names a hostname rather than an IP
// literal, optionally chained through a SOCKS5 proxy. Grounded on the
// teacher's dotclient.go (dns.DialWithTLS), adapted to dial through an
// arbitrary Dialer instead of always dialing directly, and to resolve SNI
// via bootstrap instead of the system resolver.
func (d *Dispatcher) dispatchTLS(ctx context.Context, u *url.URL, up *UpstreamSpec, q *dns.Msg) (*dns.Msg, error) {
	host, port, err := net.SplitHostPort(addressWithDefault(u.Host, DoTPort))
	if err != nil {
		return nil, err
	}

	serverName := host
	ip, err := d.bootstrap.Resolve(ctx, host, up.Bootstrap)
	if err != nil {
		return nil, err
	}
	dialAddr := net.JoinHostPort(ip.String(), port)

	timeout := timeoutFromContext(ctx)
	dialer := d.dialerFor(up, timeout)
	rawConn, err := dialWithContext(ctx, dialer, "tcp", dialAddr)
	if err != nil {
		return nil, err
	}
	defer rawConn.Close()
	if dl, ok := ctx.Deadline(); ok {
		rawConn.SetDeadline(dl)
	}

	tlsConn := tls.Client(rawConn, &tls.Config{ServerName: serverName})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, err
	}

	dc := &dns.Conn{Conn: tlsConn}
	if err := dc.WriteMsg(q); err != nil {
		return nil, err
	}
	resp, err := dc.ReadMsg()
	if err != nil {
		return nil, &QueryTimeoutError{Upstream: u.Host}
	}
	return resp, nil
}
