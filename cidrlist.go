package rdns

import (
	"fmt"
	"net"
	"strings"

	maxminddb "github.com/oschwald/maxminddb-golang"
)

// cidrEntry is one parsed line of a "|<CIDR>|<country-code>|" list.
type cidrEntry struct {
	network *net.IPNet
	country string
}

// CIDRList holds the parsed IPv4 CIDR/country-code table used by the final
// rule's classification step. Only IPv4 entries participate; IPv6 entries
// are accepted (so a mixed list doesn't fail to parse) but never match,
// mirroring the original's ip_in_cidr, which only implements IPv4
// bitwise containment.
type CIDRList struct {
	entries []cidrEntry
}

// ParseCIDRList parses lines of the form "|1.2.3.0/24|CN|...|" (leading and
// trailing pipes optional, extra trailing fields ignored).
func ParseCIDRList(lines []string) (*CIDRList, error) {
	list := &CIDRList{}
	for _, line := range lines {
		line = strings.Trim(strings.TrimSpace(line), "|")
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			return nil, fmt.Errorf("malformed cidr list entry %q", line)
		}
		_, network, err := net.ParseCIDR(parts[0])
		if err != nil {
			// Skip IPv6 or malformed entries rather than failing the whole
			// list; the final rule only ever needs IPv4/CN matches.
			continue
		}
		if network.IP.To4() == nil {
			continue
		}
		list.entries = append(list.entries, cidrEntry{
			network: network,
			country: strings.ToUpper(parts[1]),
		})
	}
	return list, nil
}

// ContainsCountry reports whether ip falls within any entry tagged with the
// given (case-insensitive) country code.
func (l *CIDRList) ContainsCountry(ip net.IP, country string) bool {
	if l == nil || ip == nil {
		return false
	}
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	country = strings.ToUpper(country)
	for _, e := range l.entries {
		if e.country == country && e.network.Contains(v4) {
			return true
		}
	}
	return false
}

// LoadMaxMindCountryCIDRList builds a CIDRList from a MaxMind GeoLite2/GeoIP2
// Country database, as an alternate source for the same ipcidr list kind
// the flat-file format serves. Grounded on the teacher's geoip-db.go, which
// also walks a maxminddb.Reader's network iterator to build a lookup table
// ahead of time instead of querying the database per request.
func LoadMaxMindCountryCIDRList(path string) (*CIDRList, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	list := &CIDRList{}
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	networks := db.Networks(maxminddb.SkipAliasedNetworks)
	for networks.Next() {
		network, err := networks.Network(&record)
		if err != nil {
			return nil, err
		}
		if network.IP.To4() == nil || record.Country.ISOCode == "" {
			continue
		}
		list.entries = append(list.entries, cidrEntry{
			network: network,
			country: strings.ToUpper(record.Country.ISOCode),
		})
	}
	if err := networks.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
