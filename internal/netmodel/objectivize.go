// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netmodel

import (
	"fmt"
	"strconv"

	vnerrors "grimm.is/vnetd/internal/errors"
)

// NetworkRequest is the flat attrs bag spec.md §6 describes for one entry
// of the setupNetworks `networks` map.
type NetworkRequest struct {
	Name string

	Bonding string // XOR Nic
	Nic     string

	Vlan   string // VLAN name
	VlanID int    // -1 if unset; resolved from snapshot when Vlan given without a tag

	Bridged bool

	MTU int

	IPv4 *IPv4Config
	IPv6 *IPv6Config

	HostQos *HostQos
	Custom  map[string]string

	Remove bool

	// PriorDUID is the DHCP Unique Identifier to inherit (spec.md §4.1
	// step 7), populated by the caller when a bridged DHCP network is
	// being reconfigured over an already-DHCP-leased port.
	PriorDUID []byte
}

// Objectivize builds the layered device chain for one NetworkRequest,
// per spec.md §4.1. snapshot supplies the state needed to resolve VLAN
// tags and to detect a NIC already enslaved to a bond.
func Objectivize(req *NetworkRequest, snapshot *NetInfoSnapshot) (*Device, error) {
	var top *Device

	switch {
	case req.Bonding != "":
		// 1. bonding given -> top = Bond (possibly pre-existing).
		top = &Device{Kind: KindBond, Name: req.Bonding}
		if bi, ok := snapshot.Bond(req.Bonding); ok {
			for _, s := range bi.Slaves {
				top.Slaves = append(top.Slaves, &Device{Kind: KindNic, Name: s})
			}
		}

	case req.Nic != "":
		// 2. nic given -> top = Nic; fail USED_NIC if already enslaved,
		// BAD_NIC if the device doesn't exist on the host at all (a gap
		// the original _objectivizeNetwork left unchecked, see
		// SPEC_FULL.md C1 supplement).
		if owner, enslaved := snapshot.NicBond(req.Nic); enslaved {
			return nil, vnerrors.Attr(
				vnerrors.Errorf(vnerrors.KindConflict, "nic %s is already enslaved to bond %s", req.Nic, owner),
				"code", CodeUsedNic,
			)
		}
		if !snapshot.HasNic(req.Nic) {
			if _, err := NicCarrierUp(req.Nic); err != nil {
				return nil, vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindValidation, "nic %s does not exist on the host: %v", req.Nic, err),
					"code", CodeBadNic,
				)
			}
		}
		top = &Device{Kind: KindNic, Name: req.Nic}
	}

	// 3. vlan given -> wrap top in Vlan, resolving the tag from the
	// snapshot when a name is given without one.
	if req.Vlan != "" || req.VlanID >= 0 {
		tag := req.VlanID
		name := req.Vlan
		if tag < 0 {
			resolved, ok := snapshot.VlanTag(name)
			if !ok {
				return nil, vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindValidation, "vlan %s has no tag and none is known from the kernel", name),
					"code", CodeBadParams,
				)
			}
			tag = resolved
		}
		if tag < 0 || tag > 4094 {
			return nil, vnerrors.Attr(
				vnerrors.Errorf(vnerrors.KindValidation, "vlan tag %d out of range [0, 4094]", tag),
				"code", CodeBadParams,
			)
		}
		if name == "" {
			if top == nil {
				return nil, vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindValidation, "vlan requested without an underlying device"),
					"code", CodeBadParams,
				)
			}
			name = fmt.Sprintf("%s.%d", top.Name, tag)
		}
		vlanDev := &Device{Kind: KindVlan, Name: name, Tag: tag, Port: top}
		top = vlanDev
	}

	// 4. bridge given -> wrap top in Bridge with port = top.
	if req.Bridged {
		bridgeName := req.Name
		top = &Device{Kind: KindBridge, Name: bridgeName, Port: top}
	}

	// 5. nothing built -> BAD_PARAMS.
	if top == nil {
		return nil, vnerrors.Attr(
			vnerrors.Errorf(vnerrors.KindValidation, "network %s defined without devices", req.Name),
			"code", CodeBadParams,
		)
	}

	// 6. attach IPv4/IPv6 to the top device.
	top.IPv4 = req.IPv4
	top.IPv6 = req.IPv6
	top.MTU = req.MTU
	top.HostQos = req.HostQos

	// inherit the DUID from the port's existing DHCP lease, mirroring
	// original_source's _inherit_dhcp_unique_identifier (BZ#1219429).
	if len(req.PriorDUID) > 0 && top.IPv4 != nil {
		top.IPv4.DUID = req.PriorDUID
	}

	return top, nil
}

// ParseBondOptions splits a "k=v k=v" string into a map, validating the
// syntax (spec.md §4.4 phase 0: "bond options parse").
func ParseBondOptions(raw string) (map[string]string, error) {
	opts := make(map[string]string)
	if raw == "" {
		return opts, nil
	}

	var key, val []rune
	inVal := false
	flush := func() error {
		if len(key) == 0 {
			return nil
		}
		if !inVal {
			return vnerrors.Attr(
				vnerrors.Errorf(vnerrors.KindValidation, "bond option %q missing '='", string(key)),
				"code", CodeBadBonding,
			)
		}
		opts[string(key)] = string(val)
		key, val, inVal = nil, nil, false
		return nil
	}

	for _, r := range raw + " " {
		switch {
		case r == ' ':
			if err := flush(); err != nil {
				return nil, err
			}
		case r == '=' && !inVal:
			inVal = true
		case inVal:
			val = append(val, r)
		default:
			key = append(key, r)
		}
	}
	return opts, nil
}

// ValidateVlanTag is a standalone check used by the canonicalize phase
// before objectivization, so a bad tag is reported against the right
// field even when no device chain has been built yet.
func ValidateVlanTag(tag string) (int, error) {
	n, err := strconv.Atoi(tag)
	if err != nil {
		return 0, vnerrors.Attr(
			vnerrors.Errorf(vnerrors.KindValidation, "vlan tag %q is not numeric", tag),
			"code", CodeBadParams,
		)
	}
	if n < 0 || n > 4094 {
		return 0, vnerrors.Attr(
			vnerrors.Errorf(vnerrors.KindValidation, "vlan tag %d out of range [0, 4094]", n),
			"code", CodeBadParams,
		)
	}
	return n, nil
}
