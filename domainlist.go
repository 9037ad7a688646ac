package rdns

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlListFile is the shape a ".yaml"/".yml" domain or IPCIDR list file
// decodes into, an alternate to the spec's plain one-name-per-line format.
// Grounded in feng2208-adblocker's go.mod (also consistent with HydraDNS),
// per SPEC_FULL.md §2.
type yamlListFile struct {
	Entries []string `yaml:"entries"`
}

// node is one level of the reversed-label domain trie: a node keyed by the
// label at that depth. Grounded on the teacher's blocklistdb-domain.go
// DomainDB, generalized here to report the depth of the deepest matching
// node instead of a boolean hit, since the rule engine needs to compare
// matches across multiple lists within the same group (P1/P2).
type node map[string]node

// domainSet is a suffix trie over domain names, built from four entry
// forms (matching blocklistdb-domain.go):
//   - "example.com"        matches example.com and every subdomain of it
//   - ".example.com"       matches only subdomains of example.com
//   - "*.example.com"      same as ".example.com" (wildcard-only form)
//   - "."                  matches every name (depth 0)
type domainSet struct {
	mu   sync.RWMutex
	root node
}

func newDomainSet(entries []string) *domainSet {
	d := &domainSet{root: node{}}
	d.load(entries)
	return d
}

func (d *domainSet) load(entries []string) {
	root := node{}
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || strings.HasPrefix(e, "#") {
			continue
		}
		subdomainOnly := false
		switch {
		case e == ".":
			// match-all; falls through to the empty-label insert below
			e = ""
		case strings.HasPrefix(e, "*."):
			e = e[2:]
			subdomainOnly = true
		case strings.HasPrefix(e, "."):
			e = e[1:]
			subdomainOnly = true
		}
		insert(root, e, subdomainOnly)
	}
	d.mu.Lock()
	d.root = root
	d.mu.Unlock()
}

// insert walks the trie from the TLD inward (labels in reverse order),
// creating nodes as needed, and marks the terminal node: with the sentinel
// child key exactLabel when the bare name itself (and everything below it)
// matches, or with wildcardLabel meaning "subdomains only, not this exact
// name".
func insert(root node, name string, subdomainOnly bool) {
	if name == "" {
		if subdomainOnly {
			root[wildcardLabel] = node{}
		} else {
			root[exactLabel] = node{}
		}
		return
	}
	labels := splitLabels(name)
	cur := root
	for i := len(labels) - 1; i >= 0; i-- {
		lbl := labels[i]
		next, ok := cur[lbl]
		if !ok {
			next = node{}
			cur[lbl] = next
		}
		cur = next
	}
	if subdomainOnly {
		cur[wildcardLabel] = node{}
	} else {
		cur[exactLabel] = node{}
	}
}

// exactLabel/wildcardLabel are sentinel keys that can never collide with a
// real DNS label (labels cannot be empty or contain these characters),
// marking "this node's name matches exactly" vs "only subdomains of this
// node match".
const (
	exactLabel    = "=" // matches the name ending here, and everything below it
	wildcardLabel = "*" // matches only names strictly below here
)

func splitLabels(name string) []string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil
	}
	return strings.Split(name, ".")
}

// matchDepth reports whether qname matches the set and, if so, the number
// of labels in the matched suffix (0 for the match-all entry "."). When
// multiple entries could match, the deepest (most specific) wins, matching
// the rule engine's best-match-in-group requirement (P1).
func (d *domainSet) matchDepth(qname string) (depth int, matched string, ok bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	labels := splitLabels(strings.ToLower(qname))
	cur := d.root
	bestDepth := -1
	bestLabels := len(labels)

	// depth 0: the match-all entry, recorded at the root via exactLabel.
	if _, hit := cur[exactLabel]; hit {
		bestDepth = 0
	}

	for i := len(labels) - 1; i >= 0; i-- {
		next, ok := cur[labels[i]]
		if !ok {
			break
		}
		cur = next
		consumed := bestLabels - i
		if _, hit := cur[exactLabel]; hit {
			bestDepth = consumed
		}
		if _, hit := cur[wildcardLabel]; hit && consumed < len(labels) {
			bestDepth = consumed
		}
	}
	if bestDepth < 0 {
		return 0, "", false
	}
	if bestDepth == 0 {
		return 0, ".", true
	}
	return bestDepth, strings.Join(labels[len(labels)-bestDepth:], "."), true
}

// DomainList is a named, file-backed domain or IPCIDR list with mtime- and
// interval-gated reload, matching the original's should_reload policy:
// never loaded -> load now; interval == 0 -> reload on any mtime change;
// otherwise reload only once at least Interval has elapsed since the last
// load AND the file has changed.
type DomainList struct {
	Name     string
	Kind     DomainListKind
	File     string
	Interval time.Duration
	HitFile  string

	mu       sync.Mutex
	set      *domainSet
	cidrs    *CIDRList
	lastMod  time.Time
	lastLoad time.Time
}

func NewDomainList(spec DomainListSpec) (*DomainList, error) {
	interval, err := ParseInterval(spec.Interval)
	if err != nil {
		return nil, err
	}
	l := &DomainList{
		Name:     spec.Name,
		Kind:     spec.Kind,
		File:     spec.File,
		Interval: interval,
		HitFile:  hitFilePath(spec.Name, spec.File),
		set:      newDomainSet(nil),
	}
	if err := l.reload(); err != nil {
		return nil, err
	}
	// An ipcidr list naming a MaxMind database is populated from it at
	// construction, replacing any table read from File.
	if spec.Kind == ListKindIPCIDR && spec.MaxMind != "" {
		cidrs, err := LoadMaxMindCountryCIDRList(spec.MaxMind)
		if err != nil {
			return nil, err
		}
		l.cidrs = cidrs
	}
	return l, nil
}

// hitFilePath derives a list's hit file path automatically from its backing
// file's basename-stem, or "./<name>.hit.txt" if the list has no backing
// file. Hit logging is always on; there is no opt-in configuration key for
// it (spec.md §4.1).
func hitFilePath(name, file string) string {
	if file == "" {
		return "./" + name + ".hit.txt"
	}
	dir := filepath.Dir(file)
	base := filepath.Base(file)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+".hit.txt")
}

// MaybeReload re-reads the backing file if the reload policy says it's due.
// Safe to call on every lookup; it is cheap when nothing changed.
func (l *DomainList) MaybeReload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.File == "" {
		return nil
	}
	info, err := os.Stat(l.File)
	if err != nil {
		return err
	}
	if !l.lastLoad.IsZero() {
		if !info.ModTime().After(l.lastMod) {
			return nil
		}
		if l.Interval > 0 && time.Since(l.lastLoad) < l.Interval {
			return nil
		}
	}
	return l.doReload(info.ModTime())
}

func (l *DomainList) reload() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.File == "" {
		return nil
	}
	info, err := os.Stat(l.File)
	if err != nil {
		return err
	}
	return l.doReload(info.ModTime())
}

func (l *DomainList) doReload(modTime time.Time) error {
	var lines []string
	if strings.HasSuffix(l.File, ".yaml") || strings.HasSuffix(l.File, ".yml") {
		entries, err := loadYAMLListFile(l.File)
		if err != nil {
			return err
		}
		lines = entries
	} else {
		f, err := os.Open(l.File)
		if err != nil {
			return err
		}
		defer f.Close()

		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}
		if err := sc.Err(); err != nil {
			return err
		}
	}

	if l.Kind == ListKindIPCIDR {
		cidrs, err := ParseCIDRList(lines)
		if err != nil {
			return err
		}
		l.cidrs = cidrs
	} else {
		l.set.load(lines)
	}
	l.lastMod = modTime
	l.lastLoad = time.Now()
	return nil
}

// loadYAMLListFile reads a ".yaml"/".yml" list file's "entries" array,
// skipping blank strings. The decoded entries feed the same domain-set or
// CIDR-list parsing the plain-text format uses, so both shapes produce
// identical DomainList behavior.
func loadYAMLListFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yamlListFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		if strings.TrimSpace(e) != "" {
			lines = append(lines, e)
		}
	}
	return lines, nil
}

// MatchDepth matches qname against the list's domain set. Only meaningful
// for ListKindDomain lists.
func (l *DomainList) MatchDepth(qname string) (depth int, matched string, ok bool) {
	return l.set.matchDepth(qname)
}

// CIDRs returns the list's parsed CIDR table. Only meaningful for
// ListKindIPCIDR lists.
func (l *DomainList) CIDRs() *CIDRList {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cidrs
}
