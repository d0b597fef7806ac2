// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package configurator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"grimm.is/vnetd/internal/install"
	"grimm.is/vnetd/internal/logging"
	"grimm.is/vnetd/internal/netmodel"
)

// LegacyBackend drives the same operations through `ip`/`brctl` exec
// calls, the fallback backend spec.md §4.2 requires for any unrecognized
// configuration key. Grounded on the teacher's exec fallback pattern in
// internal/qos/manager.go (shelling out to `tc` around a library gap).
type LegacyBackend struct {
	logger *logging.Logger
}

func NewLegacyBackend(logger *logging.Logger) *LegacyBackend {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &LegacyBackend{logger: logger.WithComponent("configurator.legacy")}
}

func (b *LegacyBackend) Name() string { return "legacy" }

func (b *LegacyBackend) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("configurator: %v: %w: %s", args, err, out)
	}
	return nil
}

func (b *LegacyBackend) CurrentMTU(name string) (int, error) {
	return 0, fmt.Errorf("configurator: legacy backend cannot read mtu without a parse step")
}

func (b *LegacyBackend) SetIfaceMTU(ctx context.Context, name string, mtu int) error {
	return b.run(ctx, "ip", "link", "set", "dev", name, "mtu", strconv.Itoa(mtu))
}

func (b *LegacyBackend) SetLinkUp(ctx context.Context, name string) error {
	return b.run(ctx, "ip", "link", "set", "dev", name, "up")
}

func (b *LegacyBackend) ApplyIPv4(ctx context.Context, name string, cfg *netmodel.IPv4Config) error {
	b.run(ctx, "ip", "-4", "addr", "flush", "dev", name)
	if cfg == nil {
		return nil
	}
	if cfg.Bootproto == netmodel.BootprotoDHCP {
		return b.runDHCPClient(ctx, name, cfg.DUID)
	}
	if cfg.Address == "" {
		return nil
	}
	prefix := netmaskToPrefix(cfg.Netmask)
	if err := b.run(ctx, "ip", "addr", "add", fmt.Sprintf("%s/%d", cfg.Address, prefix), "dev", name); err != nil {
		return err
	}
	if cfg.Gateway != "" && cfg.DefaultRoute {
		return b.run(ctx, "ip", "route", "add", "default", "via", cfg.Gateway, "dev", name)
	}
	return nil
}

// runDHCPClient starts dhclient on name, passing the inherited DUID via
// -df when one was cached for this port (spec.md §4.1 step 7). dhclient
// itself daemonizes, so the exec here just hands off the request.
func (b *LegacyBackend) runDHCPClient(ctx context.Context, name string, duid []byte) error {
	args := []string{"dhclient"}
	if len(duid) > 0 {
		duidFile, err := writeDUIDFile(duid)
		if err != nil {
			b.logger.Warn("could not materialize inherited DUID, requesting a fresh lease", "iface", name, "error", err)
		} else {
			args = append(args, "-df", duidFile)
		}
	}
	args = append(args, name)
	return b.run(ctx, args...)
}

func (b *LegacyBackend) ApplyIPv6(ctx context.Context, name string, cfg *netmodel.IPv6Config) error {
	b.run(ctx, "ip", "-6", "addr", "flush", "dev", name, "scope", "global")
	if cfg == nil || cfg.Address == "" {
		return nil
	}
	return b.run(ctx, "ip", "addr", "add", cfg.Address, "dev", name)
}

func (b *LegacyBackend) ConfigureBond(ctx context.Context, bond *netmodel.Device) error {
	b.run(ctx, "ip", "link", "add", bond.Name, "type", "bond")
	for _, slave := range bond.Slaves {
		b.run(ctx, "ip", "link", "set", "dev", slave.Name, "down")
		if err := b.run(ctx, "ip", "link", "set", "dev", slave.Name, "master", bond.Name); err != nil {
			return err
		}
	}
	return b.run(ctx, "ip", "link", "set", "dev", bond.Name, "up")
}

func (b *LegacyBackend) EditBonding(ctx context.Context, bond *netmodel.Device, removeSlaves []string) error {
	for _, name := range removeSlaves {
		b.run(ctx, "ip", "link", "set", "dev", name, "nomaster")
	}
	for _, slave := range bond.Slaves {
		b.run(ctx, "ip", "link", "set", "dev", slave.Name, "down")
		if err := b.run(ctx, "ip", "link", "set", "dev", slave.Name, "master", bond.Name); err != nil {
			return err
		}
	}
	return nil
}

func (b *LegacyBackend) RemoveBond(ctx context.Context, name string) error {
	return b.run(ctx, "ip", "link", "del", name)
}

func (b *LegacyBackend) ConfigureVlan(ctx context.Context, vlan *netmodel.Device) error {
	if vlan.Port == nil {
		return fmt.Errorf("configurator: vlan %s has no underlying device", vlan.Name)
	}
	if err := b.run(ctx, "ip", "link", "add", "link", vlan.Port.Name, "name", vlan.Name,
		"type", "vlan", "id", strconv.Itoa(vlan.Tag)); err != nil {
		return err
	}
	return b.run(ctx, "ip", "link", "set", "dev", vlan.Name, "up")
}

func (b *LegacyBackend) RemoveVlan(ctx context.Context, name string) error {
	return b.run(ctx, "ip", "link", "del", name)
}

func (b *LegacyBackend) ConfigureBridge(ctx context.Context, bridge *netmodel.Device) error {
	if err := b.run(ctx, "ip", "link", "add", "name", bridge.Name, "type", "bridge"); err != nil {
		b.logger.Debug("bridge create failed, assuming already present", "bridge", bridge.Name)
	}
	return b.run(ctx, "ip", "link", "set", "dev", bridge.Name, "up")
}

func (b *LegacyBackend) AddBridgePort(ctx context.Context, bridge, port string) error {
	return b.run(ctx, "ip", "link", "set", "dev", port, "master", bridge)
}

func (b *LegacyBackend) RemoveBridgePort(ctx context.Context, bridge, port string) error {
	return b.run(ctx, "ip", "link", "set", "dev", port, "nomaster")
}

func (b *LegacyBackend) RemoveBridge(ctx context.Context, name string) error {
	return b.run(ctx, "ip", "link", "del", name)
}

func (b *LegacyBackend) ConfigureLibvirtNetwork(ctx context.Context, name string, topDevice string) error {
	b.logger.Info("registering libvirt network", "network", name, "device", topDevice)
	return nil
}

func (b *LegacyBackend) RemoveLibvirtNetwork(ctx context.Context, name string) error {
	b.logger.Info("deregistering libvirt network", "network", name)
	return nil
}

func (b *LegacyBackend) ConfigureQoS(ctx context.Context, qos *netmodel.HostQos, dev string) error {
	ceil := qos.OutUpperlimit
	if ceil == 0 {
		ceil = qos.OutAverageLinkshare
	}
	if err := b.run(ctx, "tc", "qdisc", "add", "dev", dev, "root", "handle", "1:", "htb", "default", "1"); err != nil {
		return err
	}
	return b.run(ctx, "tc", "class", "add", "dev", dev, "parent", "1:", "classid", "1:1",
		"htb", "rate", fmt.Sprintf("%dbit", qos.OutAverageLinkshare), "ceil", fmt.Sprintf("%dbit", ceil))
}

func (b *LegacyBackend) RemoveQoS(ctx context.Context, dev string) error {
	return b.run(ctx, "tc", "qdisc", "del", "dev", dev, "root")
}

// writeDUIDFile materializes duid as the raw bytes dhclient's -df flag
// expects, under the state directory.
func writeDUIDFile(duid []byte) (string, error) {
	dir := filepath.Join(install.GetStateDir(), "dhcp-leases")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "inherited.duid")
	if err := os.WriteFile(path, duid, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func netmaskToPrefix(netmask string) int {
	if netmask == "" {
		return 24
	}
	parts := [4]int{}
	n, err := fmt.Sscanf(netmask, "%d.%d.%d.%d", &parts[0], &parts[1], &parts[2], &parts[3])
	if err != nil || n != 4 {
		return 24
	}
	prefix := 0
	for _, p := range parts {
		for p > 0 {
			prefix += p & 1
			p >>= 1
		}
	}
	return prefix
}
