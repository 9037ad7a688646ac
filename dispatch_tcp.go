package rdns

import (
	"context"
	"net"
	"time"

	"github.com/miekg/dns"
)

// dispatchTCP sends q over a 2-byte length-prefixed TCP connection,
// optionally chained through the upstream's SOCKS5 proxy. Grounded on the
// teacher's dnsclient.go, simplified to one dial, one exchange, one close
// per call (no connection reuse/pipelining).
func (d *Dispatcher) dispatchTCP(ctx context.Context, host string, up *UpstreamSpec, q *dns.Msg) (*dns.Msg, error) {
	addr := addressWithDefault(host, PlainDNSPort)
	timeout := timeoutFromContext(ctx)

	dialer := d.dialerFor(up, timeout)
	conn, err := dialWithContext(ctx, dialer, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	dc := &dns.Conn{Conn: conn}
	if err := dc.WriteMsg(q); err != nil {
		return nil, err
	}
	resp, err := dc.ReadMsg()
	if err != nil {
		return nil, &QueryTimeoutError{Upstream: addr}
	}
	return resp, nil
}

// dialWithContext dials through dialer, honoring ctx's deadline for
// dialers (direct or SOCKS5) that don't take a context themselves.
func dialWithContext(ctx context.Context, dialer Dialer, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func timeoutFromContext(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 5 * time.Second
}
