// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netsetup

import (
	"fmt"

	vnerrors "grimm.is/vnetd/internal/errors"
	"grimm.is/vnetd/internal/netmodel"
	"grimm.is/vnetd/internal/validation"
)

// canonicalizeAndValidate implements spec.md §4.4 Phase 0: normalize
// defaults (bridged=true when no IPv4/IPv6 config is given, bootproto=none
// when IPv4 is given without one; defaultRoute and the IPv6 booleans keep
// their zero values), then validate the request. The "already carries a
// network on the same VLAN" check compares the networks of this request
// with each other only; networks already on the host are not consulted.
// It mutates req in place (filling defaults) and returns the first
// validation error encountered.
func canonicalizeAndValidate(req *Request, snapshot *netmodel.NetInfoSnapshot, cfg bondModeChecker) error {
	vlanOwners := make(map[string]string) // "<iface>@<vlanID>" -> network name, for the "already carries a network on the same VLAN" check

	for name, n := range req.Networks {
		n.Name = name

		if n.Remove {
			if hasNonCustomAttr(n) {
				return badParams("network %s: remove=true must not coexist with any non-custom attribute", name)
			}
			continue
		}

		// Normalize defaults.
		if !n.Bridged && n.IPv4 == nil && n.IPv6 == nil {
			n.Bridged = true
		}
		if n.IPv4 != nil && n.IPv4.Bootproto == "" {
			n.IPv4.Bootproto = netmodel.BootprotoNone
		}

		if n.Bonding != "" && n.Nic != "" {
			return badParams("network %s: bonding and nic are mutually exclusive", name)
		}

		if n.VlanID < -1 {
			n.VlanID = -1
		}
		if n.VlanID >= 0 {
			if n.VlanID > 4094 {
				return vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindValidation, "network %s: vlan tag %d out of range [0, 4094]", name, n.VlanID),
					"code", CodeBadParams,
				)
			}
		}

		lowerIface := n.Bonding
		if lowerIface == "" {
			lowerIface = n.Nic
		}
		if lowerIface != "" {
			key := fmt.Sprintf("%s@%d", lowerIface, n.VlanID)
			if owner, exists := vlanOwners[key]; exists && owner != name {
				return badParams("network %s: %s already carries a network on vlan %d", name, lowerIface, n.VlanID)
			}
			vlanOwners[key] = name
		}
	}

	for name, b := range req.Bondings {
		b.Name = name
		if b.Remove {
			continue
		}
		if err := validation.ValidateInterfaceName(name); err != nil {
			return vnerrors.Attr(
				vnerrors.Wrapf(err, vnerrors.KindValidation, "bond name %s invalid", name),
				"code", CodeBadBonding,
			)
		}
		if len(b.Nics) == 0 {
			return vnerrors.Attr(
				vnerrors.Errorf(vnerrors.KindValidation, "bond %s: nics list must be non-empty unless remove=true", name),
				"code", CodeBadBonding,
			)
		}
		for _, nic := range b.Nics {
			if !snapshot.HasNic(nic) && !netmodel.NicExists(nic) {
				return vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindValidation, "bond %s: nic %s does not exist on the host", name, nic),
					"code", CodeBadNic,
				)
			}
		}
		opts, err := netmodel.ParseBondOptions(b.Options)
		if err != nil {
			return err
		}
		if mode, ok := opts["mode"]; ok && cfg != nil && !cfg.AllowedBondMode(mode) {
			return vnerrors.Attr(
				vnerrors.Errorf(vnerrors.KindValidation, "bond %s: mode %s not in whitelist", name, mode),
				"code", CodeBadBonding,
			)
		}
	}

	return nil
}

type bondModeChecker interface {
	AllowedBondMode(mode string) bool
}

func hasNonCustomAttr(n *netmodel.NetworkRequest) bool {
	return n.Bonding != "" || n.Nic != "" || n.Vlan != "" || n.VlanID >= 0 ||
		n.IPv4.IsSet() || n.IPv6.IsSet() || n.HostQos != nil
}

func badParams(format string, args ...any) error {
	return vnerrors.Attr(
		vnerrors.Errorf(vnerrors.KindValidation, format, args...),
		"code", CodeBadParams,
	)
}
