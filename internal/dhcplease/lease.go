// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhcplease caches a port's most recent DHCPv4 ACK so a later
// bridge reconfiguration over that port can inherit its DHCP unique
// identifier (DUID), per spec.md §4.1 step 7 and original_source's
// _inherit_dhcp_unique_identifier (lib/vdsm/network/api.py). The original
// points dhclient at the port's lease file with -df; vnetd instead caches
// the raw ACK packet itself and extracts OptionClientIdentifier with
// insomniacslk/dhcp, avoiding a hand-rolled parse of dhclient's lease
// text format.
package dhcplease

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/insomniacslk/dhcp/dhcpv4"
)

// Cache persists and retrieves per-port DHCPv4 ACK packets on disk.
type Cache struct {
	pathFor func(port string) string
}

// New builds a Cache that stores each port's ACK under pathFor(port).
func New(pathFor func(port string) string) *Cache {
	return &Cache{pathFor: pathFor}
}

// Save records ack as the most recent lease seen on port, so a later
// reconfiguration of that port can inherit its DUID.
func (c *Cache) Save(port string, ack *dhcpv4.DHCPv4) error {
	if ack == nil {
		return nil
	}
	path := c.pathFor(port)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("dhcplease: create cache dir: %w", err)
	}
	if err := os.WriteFile(path, ack.ToBytes(), 0o600); err != nil {
		return fmt.Errorf("dhcplease: write lease cache for %s: %w", port, err)
	}
	return nil
}

// PriorDUID returns the DHCP Unique Identifier (option 61) from the most
// recently cached ACK on port. It returns (nil, nil) when no lease has
// been cached, since inheriting a DUID is best-effort (spec.md §4.1).
func (c *Cache) PriorDUID(port string) ([]byte, error) {
	raw, err := os.ReadFile(c.pathFor(port))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dhcplease: read lease cache for %s: %w", port, err)
	}

	ack, err := dhcpv4.FromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("dhcplease: parse cached lease for %s: %w", port, err)
	}

	duid := ack.GetOneOption(dhcpv4.OptionClientIdentifier)
	if len(duid) == 0 {
		return nil, nil
	}
	return duid, nil
}
