package rdns

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
)

type bootstrapCacheEntry struct {
	ip       net.IP
	expireAt time.Time
}

const bootstrapCacheTTL = 30 * time.Second

// bootstrapResolver resolves the hostname portion of an upstream endpoint
// URI via a list of plain-UDP bootstrap addresses, trying each in turn and
// keeping the first success, silently falling back to the system resolver
// if none answer. The short-TTL cache is the optional optimization
// spec.md §9 explicitly permits but doesn't mandate.
type bootstrapResolver struct {
	mu    sync.Mutex
	cache map[string]bootstrapCacheEntry
}

func newBootstrapResolver() *bootstrapResolver {
	return &bootstrapResolver{cache: map[string]bootstrapCacheEntry{}}
}

// Resolve returns an address for host: itself if it's already an IP
// literal, the first bootstrap address to answer, or the system resolver's
// answer if bootstrap is empty or every entry fails.
func (b *bootstrapResolver) Resolve(ctx context.Context, host string, bootstrap []string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip, nil
	}

	b.mu.Lock()
	e, cached := b.cache[host]
	b.mu.Unlock()
	if cached && time.Now().Before(e.expireAt) {
		return e.ip, nil
	}

	for _, addr := range bootstrap {
		ip, err := queryBootstrapA(ctx, addr, host)
		if err == nil && ip != nil {
			b.mu.Lock()
			b.cache[host] = bootstrapCacheEntry{ip: ip, expireAt: time.Now().Add(bootstrapCacheTTL)}
			b.mu.Unlock()
			return ip, nil
		}
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil || len(ips) == 0 {
		return nil, err
	}
	return ips[0], nil
}

func queryBootstrapA(ctx context.Context, addr, host string) (net.IP, error) {
	addr = addressWithDefault(addr, PlainDNSPort)
	conn, err := (&net.Dialer{}).DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	dc := &dns.Conn{Conn: conn}
	if err := dc.WriteMsg(newQuery(host)); err != nil {
		return nil, err
	}
	resp, err := dc.ReadMsg()
	if err != nil {
		return nil, err
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A, nil
		}
	}
	return nil, nil
}
