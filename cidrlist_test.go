package rdns

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCIDRListContainsCountry(t *testing.T) {
	list, err := ParseCIDRList([]string{"|39.156.0.0/16|CN|", "|8.8.8.0/24|US|"})
	require.NoError(t, err)

	require.True(t, list.ContainsCountry(net.ParseIP("39.156.66.10"), "CN"))
	require.False(t, list.ContainsCountry(net.ParseIP("39.156.66.10"), "US"))
	require.False(t, list.ContainsCountry(net.ParseIP("8.8.8.8"), "CN"))
	require.False(t, list.ContainsCountry(net.ParseIP("2001:db8::1"), "CN"))
}

func TestParseCIDRListSkipsIPv6ButRejectsGarbage(t *testing.T) {
	list, err := ParseCIDRList([]string{"|2001:db8::/32|CN|"})
	require.NoError(t, err)
	require.Empty(t, list.entries, "IPv6 entries are parsed but never participate in matching")

	_, err = ParseCIDRList([]string{"not-a-cidr-line"})
	require.Error(t, err)
}
