// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netsetup

import (
	r3diff "github.com/r3labs/diff/v3"

	"grimm.is/vnetd/internal/netmodel"
)

// bridgeAttrs is the subset of a network's bridge-level attrs compared
// when deciding keep_bridge (spec.md §4.4(a)): "the only differences
// between current and requested bridge-level attrs (ignoring
// bonding/nic/mtu/vlan) are empty." Bonding/nic/mtu/vlan are deliberately
// excluded from this struct so r3labs/diff never reports a difference on
// them.
type bridgeAttrs struct {
	IPv4Address string
	IPv4Netmask string
	IPv4Gateway string
	Bootproto   string
	IPv6Address string
	IPv6Gateway string
	Autoconf    bool
	DHCPv6      bool
	HostQos     *netmodel.HostQos
}

func bridgeAttrsFromRequest(n *netmodel.NetworkRequest) bridgeAttrs {
	a := bridgeAttrs{HostQos: n.HostQos}
	if n.IPv4 != nil {
		a.IPv4Address = n.IPv4.Address
		a.IPv4Netmask = n.IPv4.Netmask
		a.IPv4Gateway = n.IPv4.Gateway
		a.Bootproto = string(n.IPv4.Bootproto)
	}
	if n.IPv6 != nil {
		a.IPv6Address = n.IPv6.Address
		a.IPv6Gateway = n.IPv6.Gateway
		a.Autoconf = n.IPv6.Autoconf
		a.DHCPv6 = n.IPv6.DHCPv6
	}
	return a
}

func bridgeAttrsFromCurrent(cur *netmodel.NetworkRequest) bridgeAttrs {
	return bridgeAttrsFromRequest(cur)
}

// bridgeAttrsUnchanged reports whether requested and current bridge-level
// attrs are identical (keep_bridge's "empty differences" condition),
// using r3labs/diff/v3 for a structural comparison rather than
// hand-rolled field-by-field equality (SPEC_FULL.md domain-stack wiring).
func bridgeAttrsUnchanged(requested, current *netmodel.NetworkRequest) (bool, error) {
	changes, err := r3diff.Diff(bridgeAttrsFromCurrent(current), bridgeAttrsFromRequest(requested))
	if err != nil {
		return false, err
	}
	return len(changes) == 0, nil
}

// keepBridge computes spec.md §4.4(a)'s keep_bridge predicate: true iff
// the network is not marked for removal, is bridged, and its bridge-level
// attrs vs the currently-running ones are unchanged.
func keepBridge(requested *netmodel.NetworkRequest, current *netmodel.NetworkRequest) bool {
	if requested == nil || requested.Remove || !requested.Bridged {
		return false
	}
	if current == nil {
		return false
	}
	unchanged, err := bridgeAttrsUnchanged(requested, current)
	if err != nil {
		return false
	}
	return unchanged
}

// slavesToRemove computes spec.md §4.4(b)'s "slaves_to_remove = current -
// requested.nics" for a bond being edited.
func slavesToRemove(current, requestedNics []string) []string {
	want := make(map[string]bool, len(requestedNics))
	for _, n := range requestedNics {
		want[n] = true
	}
	var remove []string
	for _, c := range current {
		if !want[c] {
			remove = append(remove, c)
		}
	}
	return remove
}
