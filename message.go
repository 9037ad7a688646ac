package rdns

import (
	"net"
	"strings"

	"github.com/miekg/dns"
)

// qName returns the lower-cased question name of q (trailing dot kept), or
// "" if q carries no question. Mirrors the teacher's message.go helper of the
// same name.
func qName(q *dns.Msg) string {
	if q == nil || len(q.Question) == 0 {
		return ""
	}
	return strings.ToLower(q.Question[0].Name)
}

// stripTrailingDot removes exactly one trailing "." from a fully-qualified
// name, as used when writing qnames to the final-rule output file.
func stripTrailingDot(name string) string {
	return strings.TrimSuffix(name, ".")
}

// rcodeResponse builds a synthetic reply to q carrying the given RCODE and
// no answer section, used by the rcode:// pseudo-transport. Per spec.md
// §4.3, the reply copies the request's id and opcode, carries the original
// questions, is never authoritative, and always advertises recursion
// support, regardless of what the request asked for.
func rcodeResponse(q *dns.Msg, rcode int) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(q, rcode)
	m.Authoritative = false
	m.RecursionAvailable = true
	return m
}

// nxdomain builds an NXDOMAIN reply to q. Mirrors the teacher's message.go.
func nxdomain(q *dns.Msg) *dns.Msg {
	return rcodeResponse(q, dns.RcodeNameError)
}

// minTTL returns the smallest TTL across the answer, authority and extra
// sections of m, skipping OPT pseudo-records. Returns ok=false if m has no
// TTL-bearing records at all. Grounded on the teacher's cache.go minTTL.
func minTTL(m *dns.Msg) (ttl uint32, ok bool) {
	first := true
	scan := func(rrs []dns.RR) {
		for _, rr := range rrs {
			if _, isOPT := rr.(*dns.OPT); isOPT {
				continue
			}
			h := rr.Header()
			if first || h.Ttl < ttl {
				ttl = h.Ttl
				first = false
			}
		}
	}
	scan(m.Answer)
	scan(m.Ns)
	scan(m.Extra)
	return ttl, !first
}

// extractIPs collects every A/AAAA address from the answer section of m, in
// order. Used by the final-rule country classification step.
func extractIPs(m *dns.Msg) []net.IP {
	var ips []net.IP
	if m == nil {
		return ips
	}
	for _, rr := range m.Answer {
		switch rr := rr.(type) {
		case *dns.A:
			ips = append(ips, rr.A)
		case *dns.AAAA:
			ips = append(ips, rr.AAAA)
		}
	}
	return ips
}

// newQuery builds an A-record query for name, used by the warm-up path.
func newQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	m.RecursionDesired = true
	return m
}
