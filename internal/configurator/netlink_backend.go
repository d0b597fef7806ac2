// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package configurator

import (
	"context"
	"fmt"
	"net"

	"github.com/vishvananda/netlink"

	"grimm.is/vnetd/internal/logging"
	"grimm.is/vnetd/internal/netmodel"
)

// NetlinkBackend mutates kernel networking state directly via
// vishvananda/netlink, the default configurator backend (spec.md §4.2).
type NetlinkBackend struct {
	logger *logging.Logger
}

func NewNetlinkBackend(logger *logging.Logger) *NetlinkBackend {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &NetlinkBackend{logger: logger.WithComponent("configurator.netlink")}
}

func (b *NetlinkBackend) Name() string { return "netlink" }

func (b *NetlinkBackend) CurrentMTU(name string) (int, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return 0, err
	}
	return link.Attrs().MTU, nil
}

func (b *NetlinkBackend) SetIfaceMTU(ctx context.Context, name string, mtu int) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("configurator: link %s not found: %w", name, err)
	}
	return netlink.LinkSetMTU(link, mtu)
}

func (b *NetlinkBackend) SetLinkUp(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("configurator: link %s not found: %w", name, err)
	}
	return netlink.LinkSetUp(link)
}

func (b *NetlinkBackend) ApplyIPv4(ctx context.Context, name string, cfg *netmodel.IPv4Config) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("configurator: link %s not found: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err == nil {
		for _, a := range addrs {
			netlink.AddrDel(link, &a)
		}
	}

	if cfg == nil || cfg.Address == "" {
		return nil
	}

	ip := net.ParseIP(cfg.Address)
	if ip == nil {
		return fmt.Errorf("configurator: invalid ipv4 address %q", cfg.Address)
	}
	mask := net.IPMask(net.ParseIP(cfg.Netmask).To4())
	if cfg.Netmask == "" {
		mask = net.CIDRMask(24, 32)
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: mask}}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("configurator: add address %s/%s to %s: %w", cfg.Address, cfg.Netmask, name, err)
	}

	if cfg.Gateway != "" && cfg.DefaultRoute {
		gw := net.ParseIP(cfg.Gateway)
		route := &netlink.Route{LinkIndex: link.Attrs().Index, Gw: gw}
		if err := netlink.RouteAdd(route); err != nil {
			return fmt.Errorf("configurator: add default route via %s on %s: %w", cfg.Gateway, name, err)
		}
	}
	return nil
}

func (b *NetlinkBackend) ApplyIPv6(ctx context.Context, name string, cfg *netmodel.IPv6Config) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("configurator: link %s not found: %w", name, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V6)
	if err == nil {
		for _, a := range addrs {
			if a.IP.IsLinkLocalUnicast() {
				continue
			}
			netlink.AddrDel(link, &a)
		}
	}

	if cfg == nil || cfg.Address == "" {
		return nil
	}

	ip, ipnet, err := net.ParseCIDR(cfg.Address)
	if err != nil {
		return fmt.Errorf("configurator: invalid ipv6 address %q: %w", cfg.Address, err)
	}
	addr := &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: ipnet.Mask}}
	if err := netlink.AddrAdd(link, addr); err != nil {
		return fmt.Errorf("configurator: add ipv6 address %s to %s: %w", cfg.Address, name, err)
	}
	return nil
}

func (b *NetlinkBackend) ConfigureBond(ctx context.Context, bond *netmodel.Device) error {
	la := netlink.NewLinkAttrs()
	la.Name = bond.Name
	link := &netlink.Bond{LinkAttrs: la}
	link.Mode = netlink.StringToBondMode("balance-rr")

	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("configurator: create bond %s: %w", bond.Name, err)
	}
	for _, slave := range bond.Slaves {
		slaveLink, err := netlink.LinkByName(slave.Name)
		if err != nil {
			return fmt.Errorf("configurator: slave %s not found: %w", slave.Name, err)
		}
		if err := netlink.LinkSetDown(slaveLink); err != nil {
			return fmt.Errorf("configurator: bring down slave %s: %w", slave.Name, err)
		}
		if err := netlink.LinkSetBondSlave(slaveLink, link); err != nil {
			return fmt.Errorf("configurator: enslave %s to %s: %w", slave.Name, bond.Name, err)
		}
	}
	return netlink.LinkSetUp(link)
}

func (b *NetlinkBackend) EditBonding(ctx context.Context, bond *netmodel.Device, removeSlaves []string) error {
	bondLink, err := netlink.LinkByName(bond.Name)
	if err != nil {
		return fmt.Errorf("configurator: bond %s not found: %w", bond.Name, err)
	}
	for _, name := range removeSlaves {
		slaveLink, err := netlink.LinkByName(name)
		if err != nil {
			b.logger.Warn("slave to remove no longer exists", "slave", name)
			continue
		}
		if err := netlink.LinkSetNoMaster(slaveLink); err != nil {
			return fmt.Errorf("configurator: remove slave %s from %s: %w", name, bond.Name, err)
		}
	}
	for _, slave := range bond.Slaves {
		slaveLink, err := netlink.LinkByName(slave.Name)
		if err != nil {
			return fmt.Errorf("configurator: slave %s not found: %w", slave.Name, err)
		}
		if slaveLink.Attrs().MasterIndex == bondLink.Attrs().Index {
			continue
		}
		if err := netlink.LinkSetDown(slaveLink); err != nil {
			return fmt.Errorf("configurator: bring down slave %s: %w", slave.Name, err)
		}
		if bondDev, ok := bondLink.(*netlink.Bond); ok {
			if err := netlink.LinkSetBondSlave(slaveLink, bondDev); err != nil {
				return fmt.Errorf("configurator: enslave %s to %s: %w", slave.Name, bond.Name, err)
			}
		}
	}
	return nil
}

func (b *NetlinkBackend) RemoveBond(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		b.logger.Warn("bond already absent", "bond", name)
		return nil
	}
	return netlink.LinkDel(link)
}

func (b *NetlinkBackend) ConfigureVlan(ctx context.Context, vlan *netmodel.Device) error {
	if vlan.Port == nil {
		return fmt.Errorf("configurator: vlan %s has no underlying device", vlan.Name)
	}
	parent, err := netlink.LinkByName(vlan.Port.Name)
	if err != nil {
		return fmt.Errorf("configurator: vlan parent %s not found: %w", vlan.Port.Name, err)
	}
	la := netlink.NewLinkAttrs()
	la.Name = vlan.Name
	la.ParentIndex = parent.Attrs().Index
	link := &netlink.Vlan{LinkAttrs: la, VlanId: vlan.Tag}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("configurator: create vlan %s: %w", vlan.Name, err)
	}
	return netlink.LinkSetUp(link)
}

func (b *NetlinkBackend) RemoveVlan(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		b.logger.Warn("vlan already absent", "vlan", name)
		return nil
	}
	return netlink.LinkDel(link)
}

func (b *NetlinkBackend) ConfigureBridge(ctx context.Context, bridge *netmodel.Device) error {
	if _, err := netlink.LinkByName(bridge.Name); err == nil {
		// Already exists in the kernel: do not recreate (spec.md §4.4(c)).
		return nil
	}
	la := netlink.NewLinkAttrs()
	la.Name = bridge.Name
	link := &netlink.Bridge{LinkAttrs: la}
	if err := netlink.LinkAdd(link); err != nil {
		return fmt.Errorf("configurator: create bridge %s: %w", bridge.Name, err)
	}
	return netlink.LinkSetUp(link)
}

func (b *NetlinkBackend) AddBridgePort(ctx context.Context, bridge, port string) error {
	bridgeLink, err := netlink.LinkByName(bridge)
	if err != nil {
		return fmt.Errorf("configurator: bridge %s not found: %w", bridge, err)
	}
	portLink, err := netlink.LinkByName(port)
	if err != nil {
		return fmt.Errorf("configurator: port %s not found: %w", port, err)
	}
	return netlink.LinkSetMaster(portLink, bridgeLink)
}

func (b *NetlinkBackend) RemoveBridgePort(ctx context.Context, bridge, port string) error {
	portLink, err := netlink.LinkByName(port)
	if err != nil {
		b.logger.Warn("bridge port already absent", "port", port)
		return nil
	}
	return netlink.LinkSetNoMaster(portLink)
}

func (b *NetlinkBackend) RemoveBridge(ctx context.Context, name string) error {
	link, err := netlink.LinkByName(name)
	if err != nil {
		b.logger.Warn("bridge already absent", "bridge", name)
		return nil
	}
	return netlink.LinkDel(link)
}

// ConfigureLibvirtNetwork/RemoveLibvirtNetwork are out of scope per
// spec.md §1 ("the low-level... RPC/JSON-API" collaborators are stated
// interfaces only); the netlink backend only logs the (de)registration and
// returns nil. No libvirt network is registered or removed by it.
func (b *NetlinkBackend) ConfigureLibvirtNetwork(ctx context.Context, name string, topDevice string) error {
	b.logger.Info("registering libvirt network", "network", name, "device", topDevice)
	return nil
}

func (b *NetlinkBackend) RemoveLibvirtNetwork(ctx context.Context, name string) error {
	b.logger.Info("deregistering libvirt network", "network", name)
	return nil
}

func (b *NetlinkBackend) ConfigureQoS(ctx context.Context, qos *netmodel.HostQos, dev string) error {
	return applyHostQos(b.logger, qos, dev)
}

func (b *NetlinkBackend) RemoveQoS(ctx context.Context, dev string) error {
	return removeHostQos(b.logger, dev)
}
