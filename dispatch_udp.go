package rdns

import (
	"context"
	"net"

	"github.com/miekg/dns"
)

// dispatchUDP sends q over plain UDP and reads exactly one reply. No SOCKS5
// chaining is supported on this transport (spec.md §4.3 restricts chaining
// to the stream transports); upstreams naming a proxy here are a
// configuration error callers are expected to have already rejected.
func (d *Dispatcher) dispatchUDP(ctx context.Context, host string, q *dns.Msg) (*dns.Msg, error) {
	addr := addressWithDefault(host, PlainDNSPort)
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", addr)
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
