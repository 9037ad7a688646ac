package rdns

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

const dohContentType = "application/dns-message"

// dispatchHTTPS sends q as a DNS-over-HTTPS request: a GET with the
// wire-format query base64url-encoded into a "dns" query parameter, per
// spec.md §4.3. up.Method is an opt-in expansion (SPEC_FULL.md §4.3): setting
// it to "POST" switches to a POST with the wire-format query as the body,
// but GET is the default and the only behavior an upstream configured
// exactly per spec.md gets. Grounded on the teacher's dohclient.go
// buildGetRequest/buildPostRequest, simplified to a one-shot http.Client
// call (no connection-reuse transport, no 0-RTT) and adapted to resolve the
// endpoint host through bootstrap rather than the system resolver.
func (d *Dispatcher) dispatchHTTPS(ctx context.Context, u *url.URL, up *UpstreamSpec, q *dns.Msg) (*dns.Msg, error) {
	endpoint := addressWithDefaultForHTTP(up.Address, DoHPort)
	pu, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	wire, err := q.Pack()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Transport: d.dohTransport(up, pu)}

	var req *http.Request
	if strings.EqualFold(up.Method, "POST") {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, pu.String(), bytes.NewReader(wire))
		if err == nil {
			req.Header.Set("Content-Type", dohContentType)
		}
	} else {
		query := pu.Query()
		query.Set("dns", base64.RawURLEncoding.EncodeToString(wire))
		getURL := *pu
		getURL.RawQuery = query.Encode()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, getURL.String(), nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", dohContentType)

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, &QueryTimeoutError{Upstream: pu.Host}
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh upstream %q: unexpected status %s", up.Name, httpResp.Status)
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, err
	}
	return resp, nil
}

// dohTransport builds an http.Transport whose DialContext resolves the
// endpoint's hostname via bootstrap before dialing; the system resolver is
// used only when bootstrap is empty or every bootstrap address fails.
// Grounded on the teacher's
// dohTcpTransport in dohclient.go.
func (d *Dispatcher) dohTransport(up *UpstreamSpec, pu *url.URL) *http.Transport {
	host := pu.Hostname()
	port := pu.Port()
	if port == "" {
		port = DoHPort
	}

	dialer := d.dialerFor(up, 0)
	return &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			ip, err := d.bootstrap.Resolve(ctx, host, up.Bootstrap)
			if err != nil {
				return nil, err
			}
			return dialWithContext(ctx, dialer, network, net.JoinHostPort(ip.String(), port))
		},
		DialTLSContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			ip, err := d.bootstrap.Resolve(ctx, host, up.Bootstrap)
			if err != nil {
				return nil, err
			}
			rawConn, err := dialWithContext(ctx, dialer, network, net.JoinHostPort(ip.String(), port))
			if err != nil {
				return nil, err
			}
			tlsConn := tls.Client(rawConn, &tls.Config{ServerName: host})
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				return nil, err
			}
			return tlsConn, nil
		},
	}
}
