// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhcplease

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	dir := t.TempDir()
	return New(func(port string) string {
		return filepath.Join(dir, port+".ack")
	})
}

func ackWithDUID(t *testing.T, duid []byte) *dhcpv4.DHCPv4 {
	t.Helper()
	mac, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	msg, err := dhcpv4.NewDiscovery(mac, dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.OptionClientIdentifier, duid)))
	require.NoError(t, err)
	return msg
}

func TestCacheSaveThenPriorDUIDRoundTrips(t *testing.T) {
	c := testCache(t)
	duid := []byte{0x00, 0x04, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05}

	require.NoError(t, c.Save("eth0", ackWithDUID(t, duid)))

	got, err := c.PriorDUID("eth0")
	require.NoError(t, err)
	require.Equal(t, duid, got)
}

func TestPriorDUIDIsNilWhenNothingCached(t *testing.T) {
	c := testCache(t)
	got, err := c.PriorDUID("never-seen")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSaveIgnoresNilAck(t *testing.T) {
	c := testCache(t)
	require.NoError(t, c.Save("eth0", nil))
	got, err := c.PriorDUID("eth0")
	require.NoError(t, err)
	require.Nil(t, got)
}
