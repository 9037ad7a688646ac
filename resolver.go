package rdns

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// ClientInfo carries the per-query context the rule engine and dispatcher
// need but that isn't part of the DNS wire message itself: which listener
// the query arrived on and, when known, the originating address. The
// pipeline (Handle, HandleRaw) and the rule engine (Route) take one
// alongside the query, matching the ClientInfo-based Resolve signature used
// throughout the teacher pack (router.go, cache.go, dnsclient.go); the
// dispatcher's transports do not.
type ClientInfo struct {
	// Listener is the name of the listener the query arrived on, as
	// declared in the configuration. Used by the "servers" rule group,
	// which routes by listener rather than by queried name.
	Listener string
	// SourceIP is the address the query arrived from, when known.
	SourceIP net.IP
}

// Resolver resolves a DNS query to a response, mirroring the teacher's
// resolver.go contract. The dispatcher (Dispatch) and the rule engine
// (Route) use their own signatures and do not implement it.
type Resolver interface {
	fmt.Stringer
	Resolve(q *dns.Msg, ci ClientInfo) (*dns.Msg, error)
}
