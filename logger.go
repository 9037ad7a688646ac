package rdns

import "github.com/sirupsen/logrus"

// Log is the package-level logger, matching the teacher's convention of a
// single exported logrus instance that callers can reconfigure (level,
// formatter, output) before starting the forwarder.
var Log = logrus.StandardLogger()

// logger builds a contextual log entry for a query, tagging it with the
// listener it arrived on, the component handling it, and the question name
// when available. Mirrors the teacher's dnsclient.go/cache.go helper of the
// same name.
func logger(component string, ci ClientInfo, qname string) *logrus.Entry {
	fields := logrus.Fields{"component": component}
	if ci.Listener != "" {
		fields["listener"] = ci.Listener
	}
	if ci.SourceIP != nil {
		fields["client"] = ci.SourceIP.String()
	}
	if qname != "" {
		fields["qname"] = qname
	}
	return Log.WithFields(fields)
}
