package rdns

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/miekg/dns"
)

// rcodeByName maps the mnemonics spec.md §4.3's rcode:// pseudo-transport
// accepts to their wire RCODE values.
var rcodeByName = map[string]int{
	"noerror":  dns.RcodeSuccess,
	"formerr":  dns.RcodeFormatError,
	"servfail": dns.RcodeServerFailure,
	"nxdomain": dns.RcodeNameError,
	"notimp":   dns.RcodeNotImplemented,
	"refused":  dns.RcodeRefused,
}

// dispatchRCODE builds a synthetic reply carrying the RCODE named by u's
// host component, either a known mnemonic (e.g. "rcode://REFUSED") or a
// raw numeric code (e.g. "rcode://3"); an unrecognized numeric value falls
// back to SERVFAIL, per spec.md §4.3. This is the one transport the
// dispatcher's timeout/bootstrap/proxy plumbing never touches: no network
// I/O occurs at all.
func dispatchRCODE(u *url.URL, q *dns.Msg) (*dns.Msg, error) {
	name := strings.ToLower(u.Host)
	if rcode, ok := rcodeByName[name]; ok {
		return rcodeResponse(q, rcode), nil
	}
	if n, err := strconv.Atoi(name); err == nil {
		if n < 0 || n > 0xFFF {
			n = dns.RcodeServerFailure
		}
		return rcodeResponse(q, n), nil
	}
	return rcodeResponse(q, dns.RcodeServerFailure), nil
}
