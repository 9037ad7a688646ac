package rdns

import (
	"net/url"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func rcodeQuery(name string) *dns.Msg {
	m := new(dns.Msg)
	m.Id = 0x4242
	m.SetQuestion(dns.Fqdn(name), dns.TypeA)
	return m
}

func TestDispatchRCODEMnemonics(t *testing.T) {
	cases := map[string]int{
		"noerror":  dns.RcodeSuccess,
		"nxdomain": dns.RcodeNameError,
		"refused":  dns.RcodeRefused,
		"servfail": dns.RcodeServerFailure,
		"formerr":  dns.RcodeFormatError,
		"notimp":   dns.RcodeNotImplemented,
		"NXDOMAIN": dns.RcodeNameError,
	}
	for host, want := range cases {
		q := rcodeQuery("example.com.")
		u := &url.URL{Scheme: "rcode", Host: host}
		resp, err := dispatchRCODE(u, q)
		require.NoError(t, err)
		require.Equal(t, want, resp.Rcode)
	}
}

// P8: rcode:// produces no network I/O and still preserves the request's
// id and question section.
func TestDispatchRCODEPreservesQuery(t *testing.T) {
	q := rcodeQuery("example.com.")
	u := &url.URL{Scheme: "rcode", Host: "refused"}
	resp, err := dispatchRCODE(u, q)
	require.NoError(t, err)
	require.Equal(t, q.Id, resp.Id)
	require.Len(t, resp.Question, 1)
	require.Equal(t, "example.com.", resp.Question[0].Name)
	require.False(t, resp.Authoritative)
	require.True(t, resp.RecursionAvailable)
	require.Empty(t, resp.Answer)
}

// S6: rcode://3 must yield NXDOMAIN via the numeric path.
func TestDispatchRCODENumeric(t *testing.T) {
	q := rcodeQuery("example.com.")
	u := &url.URL{Scheme: "rcode", Host: "3"}
	resp, err := dispatchRCODE(u, q)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeNameError, resp.Rcode)
}

func TestDispatchRCODEUnknownNumericFallsBackToServfail(t *testing.T) {
	q := rcodeQuery("example.com.")
	u := &url.URL{Scheme: "rcode", Host: "99999"}
	resp, err := dispatchRCODE(u, q)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}

func TestDispatchRCODEUnknownMnemonicFallsBackToServfail(t *testing.T) {
	q := rcodeQuery("example.com.")
	u := &url.URL{Scheme: "rcode", Host: "bogus"}
	resp, err := dispatchRCODE(u, q)
	require.NoError(t, err)
	require.Equal(t, dns.RcodeServerFailure, resp.Rcode)
}
