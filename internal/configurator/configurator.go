// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package configurator implements the scoped, rollback-capable resource
// spec.md §4.2 describes: open under an optional in_rollback flag, apply
// device-level operations, then either commit on a clean close or walk an
// undo log in reverse on an abnormal one. Two backends share the same
// undo-log wrapper: a netlink-driven one (default) and a legacy
// exec-based one, selected by configuration key with unknown values
// falling back to legacy, per spec.md §4.2.
package configurator

import (
	"context"
	"fmt"

	"grimm.is/vnetd/internal/logging"
	"grimm.is/vnetd/internal/netmodel"
	"grimm.is/vnetd/internal/runningconfig"
)

// Backend is the concrete set of device mutations a configurator backend
// must provide: netmodel.Configurator plus Name(), which identifies the
// backend.
type Backend interface {
	netmodel.Configurator
	Name() string
}

// undoOp is one reversible action recorded during a scope.
type undoOp struct {
	description string
	undo        func(ctx context.Context) error
}

// Configurator is the scoped resource of spec.md §4.2. Callers Open it
// once per setupNetworks invocation, issue mutations through the
// netmodel.Configurator surface (which Configurator itself implements by
// delegating to Backend while recording undo steps), and Close it with
// the error (if any) that ended the scope.
type Configurator struct {
	backend    Backend
	store      *runningconfig.Store
	logger     *logging.Logger
	inRollback bool

	undoLog []undoOp
}

// Open begins a configurator scope. inRollback mirrors options._inRollback
// from the setup request: when true, certain validations (e.g. "bond
// already absent") are downgraded from errors to logged skips, per
// spec.md §4.4(b).
func Open(backend Backend, store *runningconfig.Store, logger *logging.Logger, inRollback bool) *Configurator {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Configurator{
		backend:    backend,
		store:      store,
		logger:     logger.WithComponent("configurator"),
		inRollback: inRollback,
	}
}

// InRollback reports whether this scope is itself a rollback retry.
func (c *Configurator) InRollback() bool { return c.inRollback }

// RunningConfig exposes the backing store so netsetup's _addNetwork/
// _delNetwork equivalents can record or erase entries (spec.md §4.3).
func (c *Configurator) RunningConfig() *runningconfig.Store { return c.store }

func (c *Configurator) record(description string, undo func(ctx context.Context) error) {
	c.undoLog = append(c.undoLog, undoOp{description: description, undo: undo})
}

// Close ends the scope. If scopeErr is nil, the scope commits (the undo
// log is simply discarded — the running-config has already been updated
// incrementally by the caller). If scopeErr is non-nil, every recorded op
// is undone in reverse order and scopeErr is returned unchanged so the
// caller can propagate it. Only ConfigureBond/ConfigureVlan/
// ConfigureBridge, AddBridgePort, ApplyIPv4/ApplyIPv6, ConfigureQoS,
// ConfigureLibvirtNetwork and SetIfaceMTU (when the backend reports the
// previous MTU) record an undo step; the Remove* operations, EditBonding
// and SetLinkUp record none, so a rollback does not restore what they
// removed or changed. Running-config entries written during the scope are
// not reverted either.
func (c *Configurator) Close(ctx context.Context, scopeErr error) error {
	if scopeErr == nil {
		c.undoLog = nil
		return nil
	}

	c.logger.Warn("rolling back configurator scope", "reason", scopeErr, "ops", len(c.undoLog))
	for i := len(c.undoLog) - 1; i >= 0; i-- {
		op := c.undoLog[i]
		if err := op.undo(ctx); err != nil {
			c.logger.Error("rollback step failed, continuing", "op", op.description, "error", err)
		}
	}
	c.undoLog = nil
	return scopeErr
}

// --- netmodel.Configurator implementation: delegate + record undo ---

func (c *Configurator) SetIfaceMTU(ctx context.Context, name string, mtu int) error {
	prev, _ := c.backend.(interface{ CurrentMTU(string) (int, error) })
	var prevMTU int
	if prev != nil {
		prevMTU, _ = prev.CurrentMTU(name)
	}
	if err := c.backend.SetIfaceMTU(ctx, name, mtu); err != nil {
		return err
	}
	if prevMTU > 0 {
		c.record(fmt.Sprintf("restore mtu %d on %s", prevMTU, name), func(ctx context.Context) error {
			return c.backend.SetIfaceMTU(ctx, name, prevMTU)
		})
	}
	return nil
}

func (c *Configurator) SetLinkUp(ctx context.Context, name string) error {
	return c.backend.SetLinkUp(ctx, name)
}

func (c *Configurator) ApplyIPv4(ctx context.Context, name string, cfg *netmodel.IPv4Config) error {
	if err := c.backend.ApplyIPv4(ctx, name, cfg); err != nil {
		return err
	}
	c.record(fmt.Sprintf("clear ipv4 on %s", name), func(ctx context.Context) error {
		return c.backend.ApplyIPv4(ctx, name, &netmodel.IPv4Config{})
	})
	return nil
}

func (c *Configurator) ApplyIPv6(ctx context.Context, name string, cfg *netmodel.IPv6Config) error {
	if err := c.backend.ApplyIPv6(ctx, name, cfg); err != nil {
		return err
	}
	c.record(fmt.Sprintf("clear ipv6 on %s", name), func(ctx context.Context) error {
		return c.backend.ApplyIPv6(ctx, name, &netmodel.IPv6Config{})
	})
	return nil
}

func (c *Configurator) ConfigureBond(ctx context.Context, bond *netmodel.Device) error {
	if err := c.backend.ConfigureBond(ctx, bond); err != nil {
		return err
	}
	c.record(fmt.Sprintf("remove bond %s", bond.Name), func(ctx context.Context) error {
		return c.backend.RemoveBond(ctx, bond.Name)
	})
	return nil
}

func (c *Configurator) EditBonding(ctx context.Context, bond *netmodel.Device, removeSlaves []string) error {
	return c.backend.EditBonding(ctx, bond, removeSlaves)
}

func (c *Configurator) RemoveBond(ctx context.Context, name string) error {
	return c.backend.RemoveBond(ctx, name)
}

func (c *Configurator) ConfigureVlan(ctx context.Context, vlan *netmodel.Device) error {
	if err := c.backend.ConfigureVlan(ctx, vlan); err != nil {
		return err
	}
	c.record(fmt.Sprintf("remove vlan %s", vlan.Name), func(ctx context.Context) error {
		return c.backend.RemoveVlan(ctx, vlan.Name)
	})
	return nil
}

func (c *Configurator) RemoveVlan(ctx context.Context, name string) error {
	return c.backend.RemoveVlan(ctx, name)
}

func (c *Configurator) ConfigureBridge(ctx context.Context, bridge *netmodel.Device) error {
	if err := c.backend.ConfigureBridge(ctx, bridge); err != nil {
		return err
	}
	c.record(fmt.Sprintf("remove bridge %s", bridge.Name), func(ctx context.Context) error {
		return c.backend.RemoveBridge(ctx, bridge.Name)
	})
	return nil
}

func (c *Configurator) AddBridgePort(ctx context.Context, bridge, port string) error {
	if err := c.backend.AddBridgePort(ctx, bridge, port); err != nil {
		return err
	}
	c.record(fmt.Sprintf("detach %s from bridge %s", port, bridge), func(ctx context.Context) error {
		return c.backend.RemoveBridgePort(ctx, bridge, port)
	})
	return nil
}

func (c *Configurator) RemoveBridgePort(ctx context.Context, bridge, port string) error {
	return c.backend.RemoveBridgePort(ctx, bridge, port)
}

func (c *Configurator) RemoveBridge(ctx context.Context, name string) error {
	return c.backend.RemoveBridge(ctx, name)
}

func (c *Configurator) ConfigureLibvirtNetwork(ctx context.Context, name string, topDevice string) error {
	if err := c.backend.ConfigureLibvirtNetwork(ctx, name, topDevice); err != nil {
		return err
	}
	c.record(fmt.Sprintf("deregister libvirt network %s", name), func(ctx context.Context) error {
		return c.backend.RemoveLibvirtNetwork(ctx, name)
	})
	return nil
}

func (c *Configurator) RemoveLibvirtNetwork(ctx context.Context, name string) error {
	return c.backend.RemoveLibvirtNetwork(ctx, name)
}

func (c *Configurator) ConfigureQoS(ctx context.Context, qos *netmodel.HostQos, dev string) error {
	if err := c.backend.ConfigureQoS(ctx, qos, dev); err != nil {
		return err
	}
	c.record(fmt.Sprintf("remove qos on %s", dev), func(ctx context.Context) error {
		return c.backend.RemoveQoS(ctx, dev)
	})
	return nil
}

func (c *Configurator) RemoveQoS(ctx context.Context, dev string) error {
	return c.backend.RemoveQoS(ctx, dev)
}

// Select returns the backend named by key, falling back to the legacy
// backend for any unrecognized value (spec.md §4.2: "an unknown value
// falls back to the traditional backend"). See select_linux.go/
// select_stub.go for the platform-specific "netlink" case.
func Select(key string, logger *logging.Logger) Backend {
	return selectBackend(key, logger)
}
