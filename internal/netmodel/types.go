// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netmodel is the typed device graph the setup reconciler (C4)
// builds and drives: a rooted chain from a physical NIC (or a Bond of
// NICs) upward through an optional VLAN and an optional Bridge, each
// variant exposing a uniform configure/remove contract.
package netmodel

import (
	"context"

	vnerrors "grimm.is/vnetd/internal/errors"
)

// Bootproto selects how an IPv4 address is obtained.
type Bootproto string

const (
	BootprotoNone   Bootproto = "none"
	BootprotoDHCP   Bootproto = "dhcp"
	BootprotoStatic Bootproto = "static"
)

// IPv4Config mirrors spec.md §3: address/netmask/gateway plus bootproto.
// It carries a netmask only: there is no prefix field on the request
// surface, and no prefix/netmask conversion or exclusivity check is done.
type IPv4Config struct {
	Address      string
	Netmask      string
	Gateway      string
	DefaultRoute bool
	Bootproto    Bootproto

	// DUID is the DHCP unique identifier inherited from a prior lease on
	// the device's underlying port, when one was cached (spec.md §4.1
	// step 7, internal/dhcplease). Empty when no inheritance applies.
	DUID []byte
}

// IsSet reports whether any IPv4 attribute was requested.
func (c *IPv4Config) IsSet() bool {
	return c != nil && (c.Address != "" || c.Bootproto == BootprotoDHCP)
}

// IPv6Config mirrors spec.md §3.
type IPv6Config struct {
	Address      string // address/prefixlen, e.g. "2001:db8::1/64"
	Gateway      string
	DefaultRoute bool
	Autoconf     bool
	DHCPv6       bool
}

// IsSet reports whether any IPv6 attribute was requested.
func (c *IPv6Config) IsSet() bool {
	return c != nil && (c.Address != "" || c.Autoconf || c.DHCPv6)
}

// Kind discriminates NetDevice variants.
type Kind int

const (
	KindNic Kind = iota
	KindVlan
	KindBond
	KindBridge
)

func (k Kind) String() string {
	switch k {
	case KindNic:
		return "nic"
	case KindVlan:
		return "vlan"
	case KindBond:
		return "bond"
	case KindBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// Device is the uniform shape shared by every NetDevice variant. Port is
// nil for a Nic (the bottom of the chain) and non-nil for Vlan/Bond(never,
// a Bond's children are Slaves not a Port)/Bridge.
type Device struct {
	Kind Kind
	Name string
	MTU  int

	IPv4 *IPv4Config
	IPv6 *IPv6Config

	// Port is the device directly beneath this one (Vlan's underlying
	// device, Bridge's single modeled port). Nil for Nic and Bond.
	Port *Device

	// Slaves holds a Bond's member NICs. Empty for every other Kind.
	Slaves []*Device

	// Tag is the VLAN tag, valid only when Kind == KindVlan.
	Tag int

	// BondOptions is the raw "k=v k=v" string, valid only when Kind == KindBond.
	BondOptions string

	// StpEnabled is valid only when Kind == KindBridge.
	StpEnabled bool

	// DestroyOnMasterRemoval marks a Bond implicitly created for one
	// network, to be torn down when that network is removed.
	DestroyOnMasterRemoval bool

	// HostQos is the QoS policy to apply to this device, if any.
	HostQos *HostQos
}

// HostQos is the host-level traffic policy attached to a device
// (spec.md glossary "QoS"). Shape generalized from the teacher's
// firewall QoSPolicy into a single per-device outbound class set.
type HostQos struct {
	// OutAverageLinkshare is the guaranteed share in bits/sec.
	OutAverageLinkshare uint64
	// OutMinLinkshare, if nonzero, is the minimum guaranteed rate.
	OutMinLinkshare uint64
	// OutUpperlimit, if nonzero, caps the class's rate.
	OutUpperlimit uint64
}

// Root walks Port links down to the Nic or Bond at the bottom of the chain.
func (d *Device) Root() *Device {
	cur := d
	for cur.Port != nil {
		cur = cur.Port
	}
	return cur
}

// Configurator is the minimal surface Device.Configure/Remove drive;
// satisfied by internal/configurator.Configurator. Declared here (rather
// than imported) to avoid an import cycle, since configurator depends on
// netmodel for the types it mutates.
type Configurator interface {
	SetIfaceMTU(ctx context.Context, name string, mtu int) error
	SetLinkUp(ctx context.Context, name string) error
	ApplyIPv4(ctx context.Context, name string, cfg *IPv4Config) error
	ApplyIPv6(ctx context.Context, name string, cfg *IPv6Config) error
	ConfigureBond(ctx context.Context, bond *Device) error
	EditBonding(ctx context.Context, bond *Device, removeSlaves []string) error
	RemoveBond(ctx context.Context, name string) error
	ConfigureVlan(ctx context.Context, vlan *Device) error
	RemoveVlan(ctx context.Context, name string) error
	ConfigureBridge(ctx context.Context, bridge *Device) error
	AddBridgePort(ctx context.Context, bridge, port string) error
	RemoveBridgePort(ctx context.Context, bridge, port string) error
	RemoveBridge(ctx context.Context, name string) error
	ConfigureLibvirtNetwork(ctx context.Context, name string, topDevice string) error
	RemoveLibvirtNetwork(ctx context.Context, name string) error
	ConfigureQoS(ctx context.Context, qos *HostQos, dev string) error
	RemoveQoS(ctx context.Context, dev string) error
}

// Configure applies this device's settings to the kernel, recursing into
// its Port first so children are configured before parents (spec.md §4.1:
// "configure() on a device recursively configures its port first").
func (d *Device) Configure(ctx context.Context, c Configurator) error {
	if d.Port != nil {
		if err := d.Port.Configure(ctx, c); err != nil {
			return err
		}
	}

	switch d.Kind {
	case KindNic:
		// Nics are assumed to already exist; only link-level attributes
		// are configured.
	case KindVlan:
		if err := c.ConfigureVlan(ctx, d); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "configure vlan %s", d.Name)
		}
	case KindBond:
		if err := c.ConfigureBond(ctx, d); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "configure bond %s", d.Name)
		}
	case KindBridge:
		if err := c.ConfigureBridge(ctx, d); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "configure bridge %s", d.Name)
		}
		if d.Port != nil {
			if err := c.AddBridgePort(ctx, d.Name, d.Port.Name); err != nil {
				return vnerrors.Wrapf(err, vnerrors.KindInternal, "attach port %s to bridge %s", d.Port.Name, d.Name)
			}
		}
	}

	if d.MTU > 0 {
		if err := c.SetIfaceMTU(ctx, d.Name, d.MTU); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "set mtu on %s", d.Name)
		}
	}
	if err := c.SetLinkUp(ctx, d.Name); err != nil {
		return vnerrors.Wrapf(err, vnerrors.KindInternal, "bring up %s", d.Name)
	}
	if d.IPv4.IsSet() {
		if err := c.ApplyIPv4(ctx, d.Name, d.IPv4); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "apply ipv4 on %s", d.Name)
		}
	}
	if d.IPv6.IsSet() {
		if err := c.ApplyIPv6(ctx, d.Name, d.IPv6); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "apply ipv6 on %s", d.Name)
		}
	}
	if d.HostQos != nil {
		if err := c.ConfigureQoS(ctx, d.HostQos, d.Name); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "apply qos on %s", d.Name)
		}
	}
	return nil
}

// Remove tears this device down, then its Port, the reverse of Configure
// (spec.md §4.1: "remove() performs the reverse order"). QoS is not removed
// here: it is attached only to a chain's top device, and removing it is the
// caller's job, done once after the whole chain is gone (testable property
// 4; original_source's _delNetwork calls removeQoS exactly once, guarded by
// "if a backing device still exists").
func (d *Device) Remove(ctx context.Context, c Configurator) error {
	switch d.Kind {
	case KindVlan:
		if err := c.RemoveVlan(ctx, d.Name); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "remove vlan %s", d.Name)
		}
	case KindBond:
		if err := c.RemoveBond(ctx, d.Name); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "remove bond %s", d.Name)
		}
	case KindBridge:
		if err := c.RemoveBridge(ctx, d.Name); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "remove bridge %s", d.Name)
		}
	}

	if d.Port != nil {
		return d.Port.Remove(ctx, c)
	}
	return nil
}
