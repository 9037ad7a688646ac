package rdns

import "fmt"

// QueryTimeoutError is returned by a dispatcher when an upstream does not
// answer within the configured per-query timeout.
type QueryTimeoutError struct {
	Upstream string
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query to upstream '%s' timed out", e.Upstream)
}

// MalformedQueryError is returned when a query can't be parsed or carries
// no question section at all. Per spec.md §7, this path never produces a
// response: the listener is expected to log it and drop the datagram.
type MalformedQueryError struct {
	Reason string
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query: %s", e.Reason)
}

// NoMatchError is returned when a query resolves to no configured upstream:
// no rule or final rule matched and no upstream is configured at all, or a
// final-rule fallback or servers-group rule names an upstream that does not
// exist.
type NoMatchError struct {
	Qname string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no route for query '%s'", e.Qname)
}

// UnsupportedTransportError is returned by the dispatcher when an upstream
// URI names a scheme the dispatcher does not implement, or a transport
// combination the spec forbids (DoQ chained through SOCKS5).
type UnsupportedTransportError struct {
	Scheme string
	Reason string
}

func (e *UnsupportedTransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("unsupported upstream '%s': %s", e.Scheme, e.Reason)
	}
	return fmt.Sprintf("unsupported upstream scheme '%s'", e.Scheme)
}

// ConfigError wraps a configuration validation failure with the offending
// section so operators can find it without a stack trace.
type ConfigError struct {
	Section string
	Err     error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Section, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
