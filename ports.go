package rdns

import (
	"net"
	"strings"
)

// Default ports per transport, matching spec.md §4.3 (note: this module's
// DoQ/DoH-over-QUIC defaults differ from the teacher's static_default_ports.go,
// which used 8853/1443; spec.md's own defaults are authoritative here).
const (
	PlainDNSPort = "53"
	DoTPort      = "853"
	DoHPort      = "443"
	DoQPort      = "784"
)

// addressWithDefault fills in defaultPort on addr if it names a bare
// host[:port] with no port. Grounded on the teacher's
// static_default_ports.go AddressWithDefault, adapted to fill in the default
// instead of calling os.Exit on a host with no port at all (the teacher's
// version treated "missing port" as fatal, which would abort on every
// address that omits a port rather than filling in the default).
func addressWithDefault(addr, defaultPort string) string {
	if addr == "" {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// No ":port" present at all; treat the whole string as a host.
		return net.JoinHostPort(addr, defaultPort)
	}
	if port == "" {
		return net.JoinHostPort(host, defaultPort)
	}
	return addr
}

// addressWithDefaultForHTTP fills in defaultPort on a DoH endpoint URL's
// host component, leaving the scheme and path untouched. Grounded on the
// teacher's AddressWithDefaultForHttp.
func addressWithDefaultForHTTP(addr, defaultPort string) string {
	if addr == "" || !strings.Contains(addr, "://") {
		return addressWithDefault(addr, defaultPort)
	}
	schemeSep := strings.Index(addr, "://")
	scheme := addr[:schemeSep+3]
	rest := addr[schemeSep+3:]
	pathSep := strings.IndexByte(rest, '/')
	host := rest
	path := ""
	if pathSep >= 0 {
		host, path = rest[:pathSep], rest[pathSep:]
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultPort)
	}
	return scheme + host + path
}
