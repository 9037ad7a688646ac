package rdns

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DomainListKind names the role a domain list plays in a rule group: a
// plain domain-name list, or an IPCIDR country-classification list used
// only by the final rule.
type DomainListKind string

const (
	ListKindDomain DomainListKind = "domain"
	ListKindIPCIDR DomainListKind = "ipcidr"
)

// ListenerSpec declares one inbound listener.
type ListenerSpec struct {
	Name string `toml:"name"`
	Port int    `toml:"port"`
}

// DomainListSpec declares one named domain or IPCIDR list, file-backed with
// an optional reload interval. A zero Interval means "reload whenever the
// file's mtime changes"; a negative or absent reload policy (no Interval
// key at all) is represented by Interval == 0 as well, matching the
// original's "interval 0 reloads on every change" convention.
type DomainListSpec struct {
	Name     string         `toml:"name"`
	Kind     DomainListKind `toml:"type"`
	File     string         `toml:"file"`
	Interval string         `toml:"interval"`
	MaxMind  string         `toml:"maxmind_db"`
}

// UpstreamSpec declares one named upstream resolver.
type UpstreamSpec struct {
	Name      string   `toml:"name"`
	Address   string   `toml:"address"`
	Bootstrap []string `toml:"bootstrap"`
	Proxy     string   `toml:"proxy"`
	// Method selects the HTTP method a https:// upstream uses: "GET" (the
	// query is base64url-encoded into a "dns" query parameter) or "POST"
	// (the wire-format query is the request body). Defaults to "GET".
	Method string `toml:"method"`
}

// RuleGroupSpec is one "[[groups]]" table: a named, ordered set of
// "list,upstream" rule strings. Declared as a TOML array-of-tables (rather
// than a map of groups) so that Go's slice decoding preserves the order in
// which groups were written, which the rule engine's first-matching-group-
// then-longest-match-within-it semantics depend on.
type RuleGroupSpec struct {
	Name  string   `toml:"name"`
	Rules []string `toml:"rules"`
}

// FinalRuleSpec declares the catch-all final rule.
type FinalRuleSpec struct {
	Primary  string `toml:"primary"`
	Fallback string `toml:"fallback"`
	IPCIDR   string `toml:"ipcidr_list"`
	Output   string `toml:"output"`
}

// ColdStartSpec controls cache validation and warm-up at process start.
type ColdStartSpec struct {
	Enabled  bool `toml:"enabled"`
	Timeout  int  `toml:"timeout_ms"`
	Parallel int  `toml:"parallel"`
}

// CacheSpec declares one cache instance (the rule cache or the response
// cache).
type CacheSpec struct {
	Name      string         `toml:"name"`
	Size      int            `toml:"size"`
	MinTTL    uint32         `toml:"min_ttl"`
	MaxTTL    uint32         `toml:"max_ttl"`
	Output    string         `toml:"output"`
	Interval  string         `toml:"interval"`
	ColdStart *ColdStartSpec `toml:"cold_start"`
}

// tomlConfig is the raw shape read from disk, matching the teacher's
// cmd/routedns/config.go convention of a dedicated decode-only struct that
// gets turned into the library's runtime Config by Build().
type tomlConfig struct {
	TimeoutSecs int             `toml:"timeout_secs"`
	Listeners   []ListenerSpec  `toml:"listeners"`
	Lists       []DomainListSpec `toml:"lists"`
	Upstreams   []UpstreamSpec  `toml:"upstreams"`
	Groups      []RuleGroupSpec `toml:"groups"`
	Final       *FinalRuleSpec  `toml:"final"`
	RuleCache   *CacheSpec      `toml:"rule_cache"`
	ResponseCache *CacheSpec    `toml:"response_cache"`
}

// Config is the fully-resolved, library-facing configuration: the shape
// every other package in this module is built against. Unlike tomlConfig
// it can be constructed directly as a Go literal, which is what the test
// files do instead of round-tripping through a temp TOML file.
type Config struct {
	Timeout       time.Duration
	Listeners     []ListenerSpec
	Lists         map[string]*DomainListSpec
	Upstreams     map[string]*UpstreamSpec
	Groups        []RuleGroupSpec
	Final         *FinalRuleSpec
	RuleCache     *CacheSpec
	ResponseCache *CacheSpec
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Section: "file", Err: err}
	}
	var raw tomlConfig
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, &ConfigError{Section: "toml", Err: err}
	}
	return raw.build()
}

func (raw tomlConfig) build() (*Config, error) {
	cfg := &Config{
		Timeout:   time.Duration(raw.TimeoutSecs) * time.Second,
		Listeners: raw.Listeners,
		Lists:     map[string]*DomainListSpec{},
		Upstreams: map[string]*UpstreamSpec{},
		Groups:    raw.Groups,
		Final:     raw.Final,
		RuleCache: raw.RuleCache,
		ResponseCache: raw.ResponseCache,
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	for i := range raw.Lists {
		l := raw.Lists[i]
		if l.Kind == "" {
			l.Kind = ListKindDomain
		}
		cfg.Lists[l.Name] = &l
	}
	for i := range raw.Upstreams {
		u := raw.Upstreams[i]
		cfg.Upstreams[u.Name] = &u
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	seen := map[string]bool{}
	for _, l := range cfg.Listeners {
		if l.Name == "" {
			return &ConfigError{Section: "listeners", Err: fmt.Errorf("listener with empty name")}
		}
		if seen[l.Name] {
			return &ConfigError{Section: "listeners", Err: fmt.Errorf("duplicate listener name %q", l.Name)}
		}
		seen[l.Name] = true
		if l.Name != "rule" {
			if l.Port == 53 || l.Port < 1025 || l.Port > 65535 {
				return &ConfigError{Section: "listeners", Err: fmt.Errorf("listener %q: port %d outside 1025-65535", l.Name, l.Port)}
			}
		} else if l.Port != 53 && (l.Port < 1025 || l.Port > 65535) {
			return &ConfigError{Section: "listeners", Err: fmt.Errorf("rule listener: port %d invalid", l.Port)}
		}
	}
	for _, g := range cfg.Groups {
		for _, r := range g.Rules {
			if r == "" {
				return &ConfigError{Section: "groups", Err: fmt.Errorf("group %q: empty rule", g.Name)}
			}
		}
	}
	return nil
}

// ParseInterval parses the spec's duration shorthand: a trailing unit of
// s/m/h/d (seconds/minutes/hours/days) with no unit defaulting to seconds,
// matching the original's Config::parse_interval.
func ParseInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	unit := s[len(s)-1]
	numPart := s
	mult := time.Second
	switch unit {
	case 's':
		numPart, mult = s[:len(s)-1], time.Second
	case 'm':
		numPart, mult = s[:len(s)-1], time.Minute
	case 'h':
		numPart, mult = s[:len(s)-1], time.Hour
	case 'd':
		numPart, mult = s[:len(s)-1], 24*time.Hour
	default:
		numPart, mult = s, time.Second
	}
	var n int
	if _, err := fmt.Sscanf(numPart, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", s, err)
	}
	return time.Duration(n) * mult, nil
}
