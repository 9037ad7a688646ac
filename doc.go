// Package rdns implements a split-horizon, rule-driven recursive DNS
// forwarder: a rule engine chooses an upstream resolver for each query by
// matching the queried name against ordered domain lists and per-listener
// policies, a dispatcher forwards the query across whichever transport the
// chosen upstream implies (UDP, TCP, DoT, DoH, DoQ, or a synthetic RCODE),
// and a two-level cache accelerates repeat queries and survives restarts.
package rdns
