// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netsetup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"grimm.is/vnetd/internal/clock"
	"grimm.is/vnetd/internal/config"
	"grimm.is/vnetd/internal/configurator"
	"grimm.is/vnetd/internal/dhcplease"
	vnerrors "grimm.is/vnetd/internal/errors"
	"grimm.is/vnetd/internal/history"
	"grimm.is/vnetd/internal/install"
	"grimm.is/vnetd/internal/logging"
	"grimm.is/vnetd/internal/netmodel"
	"grimm.is/vnetd/internal/runningconfig"
)

// Reconciler is the C4 setup reconciler: the sole component permitted to
// mutate host networking state (spec.md §5: "only one setup reconciler
// may run at a time").
type Reconciler struct {
	Backend configurator.Backend
	Store   *runningconfig.Store
	Config  *config.Config
	Logger  *logging.Logger
	Clock   clock.Clock
	Libvirt netmodel.LibvirtNetworkLister

	// History, if set, records a before/after digest of every run for
	// post-incident debugging. It is supplemental to Store, which holds
	// the running-config itself (spec.md §6).
	History *history.Store

	// DHCPLeases, if set, caches per-port DHCPv4 ACKs so a bridge built
	// over an already-leased port inherits its DUID (spec.md §4.1 step 7).
	DHCPLeases *dhcplease.Cache

	// ClientLivenessPath is the file whose mtime the connectivity check
	// watches (spec.md §6: "P_VDSM_CLIENT_LOG").
	ClientLivenessPath string

	BeforeHook BeforeHookFunc
	AfterHook  AfterHookFunc
}

// New constructs a Reconciler with the given backend and store; cfg may
// be nil (config.Default() is used).
func New(backend configurator.Backend, store *runningconfig.Store, cfg *config.Config, logger *logging.Logger) *Reconciler {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Reconciler{
		Backend:    backend,
		Store:      store,
		Config:     cfg,
		Logger:     logger.WithComponent("netsetup"),
		Clock:      clock.Default,
		DHCPLeases: dhcplease.New(install.GetDHCPLeaseCacheFile),
	}
}

// SetupNetworks is the setupNetworks entry point (spec.md §4.4).
func (r *Reconciler) SetupNetworks(ctx context.Context, req Request) error {
	if req.Options == (Options{}) {
		req.Options = DefaultOptions()
	}

	// Phase 0: canonicalize & validate.
	snapshot := netmodel.NewNetInfoSnapshot()
	if err := snapshot.UpdateDevices(ctx, r.Libvirt); err != nil {
		return vnerrors.Wrap(err, vnerrors.KindInternal, "netsetup: initial snapshot for validation")
	}
	if err := canonicalizeAndValidate(&req, snapshot, r.Config); err != nil {
		return err
	}

	// Phase 1: pre-hook.
	if r.BeforeHook != nil {
		dict := HookDict{Networks: req.Networks, Bondings: req.Bondings, Options: req.Options}
		mutated, err := r.BeforeHook(dict)
		if err != nil {
			return vnerrors.Wrap(err, vnerrors.KindInternal, "netsetup: before_network_setup hook")
		}
		req.Networks, req.Bondings, req.Options = mutated.Networks, mutated.Bondings, mutated.Options
	}

	// Phase 2: snapshot (re-captured post-hook, since the hook may have
	// mutated the request but not kernel state — re-reading keeps this
	// explicit rather than assumed-fresh).
	if err := snapshot.UpdateDevices(ctx, r.Libvirt); err != nil {
		return vnerrors.Wrap(err, vnerrors.KindInternal, "netsetup: phase-2 snapshot")
	}

	connectivityStart := r.Clock.Now()
	runStart := r.Clock.Now()
	beforeHash := digestRequest(req.Networks, req.Bondings)

	// Phase 3: apply under configurator scope. Every mutation below goes
	// through cfgScope (not r.Backend directly) so a failure partway
	// through unwinds everything already applied in this call. The scope
	// stays open across the connectivity check below: a connectivity
	// failure is folded into the same terminal error Close sees, so a
	// lost-connection run rolls back exactly like a failed apply (spec.md
	// §4.4(d), §7: "the configurator scope then rolls every op back").
	cfgScope := configurator.Open(r.Backend, r.Store, r.Logger, req.Options.InRollback)
	terminalErr := r.apply(ctx, &req, snapshot, cfgScope)

	if terminalErr == nil && req.Options.ConnectivityCheck {
		timeout := time.Duration(req.Options.ConnectivityTimeout) * time.Second
		if timeout <= 0 {
			timeout = r.Config.ConnectivityTimeout()
		}
		if err := r.waitForConnectivity(ctx, connectivityStart, timeout); err != nil {
			terminalErr = vnerrors.Attr(
				vnerrors.Wrap(err, vnerrors.KindTimeout, "netsetup: connectivity check failed, rolling back"),
				"code", CodeLostConnection,
			)
		}
	}

	closeErr := cfgScope.Close(ctx, terminalErr)
	r.recordRun(runStart, beforeHash, closeErr, len(req.Networks), len(req.Bondings))
	if closeErr != nil {
		return closeErr
	}

	// Phase 4: post-hook.
	if r.AfterHook != nil {
		r.AfterHook(HookDict{Networks: req.Networks, Bondings: req.Bondings, Options: req.Options})
	}

	return nil
}

// apply implements Phase 3's strict ordering: remove networks, then
// bondings (remove/edit/add), then add missing networks. c is the
// configurator scope every mutation must go through so Close can roll
// back on failure.
func (r *Reconciler) apply(ctx context.Context, req *Request, snapshot *netmodel.NetInfoSnapshot, c netmodel.Configurator) error {
	if err := r.removeNetworks(ctx, req, snapshot, c); err != nil {
		return err
	}
	if err := r.reconcileBondings(ctx, req, snapshot, c); err != nil {
		return err
	}
	if err := r.addNetworks(ctx, req, snapshot, c); err != nil {
		return err
	}
	return nil
}

// removeNetworks implements spec.md §4.4(a).
func (r *Reconciler) removeNetworks(ctx context.Context, req *Request, snapshot *netmodel.NetInfoSnapshot, c netmodel.Configurator) error {
	for name, n := range req.Networks {
		present := r.networkPresent(name, snapshot)
		if !present {
			if n.Remove {
				return vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindNotFound, "network %s: remove requested but it doesn't exist", name),
					"code", CodeBadBridge,
				)
			}
			continue
		}

		if n.Remove {
			if err := r.delNetwork(ctx, name, n, snapshot, false, c); err != nil {
				return err
			}
			continue
		}

		current := r.currentNetworkRequest(name)
		keep := keepBridge(n, current)
		if keep {
			// keep_bridge: detach the port and below, leave the bridge.
			if err := r.delNetwork(ctx, name, n, snapshot, true, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// delNetwork implements _delNetwork: always deregister the libvirt
// network before destroying the underlying device, then remove the
// device chain (or, if keepBridge, only the port and below), and finally
// remove QoS last.
func (r *Reconciler) delNetwork(ctx context.Context, name string, n *netmodel.NetworkRequest, snapshot *netmodel.NetInfoSnapshot, keep bool, c netmodel.Configurator) error {
	device, err := netmodel.Objectivize(n, snapshot)
	if err != nil {
		return err
	}

	// Libvirt deregistration precedes kernel device removal (testable
	// property 4).
	if err := c.RemoveLibvirtNetwork(ctx, name); err != nil {
		return vnerrors.Wrapf(err, vnerrors.KindInternal, "deregister libvirt network %s", name)
	}

	backing := device.Root()

	if keep && device.Kind == netmodel.KindBridge {
		if device.Port != nil {
			if err := c.RemoveBridgePort(ctx, device.Name, device.Port.Name); err != nil {
				return vnerrors.Wrapf(err, vnerrors.KindInternal, "detach port from bridge %s", device.Name)
			}
			if err := device.Port.Remove(ctx, c); err != nil {
				return err
			}
		}
	} else {
		if err := device.Remove(ctx, c); err != nil {
			return err
		}
	}

	// QoS is removed last, once, so no device or network still marks it as
	// used while the chain is coming down (testable property 4). Guarded
	// on the backing NIC/bond still existing, mirroring original_source's
	// "if a backing device still exists" check.
	if netmodel.NicExists(backing.Name) {
		if err := c.RemoveQoS(ctx, device.Name); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "remove qos on %s", device.Name)
		}
	}

	if err := r.Store.DelNetwork(name); err != nil {
		r.Logger.Warn("failed to remove running-config entry", "network", name, "error", err)
	}
	return nil
}

// reconcileBondings implements spec.md §4.4(b): classify requested bonds
// into remove/edit/add.
func (r *Reconciler) reconcileBondings(ctx context.Context, req *Request, snapshot *netmodel.NetInfoSnapshot, c netmodel.Configurator) error {
	for name, b := range req.Bondings {
		existing, exists := snapshot.Bond(name)

		switch {
		case b.Remove:
			if !exists {
				if req.Options.InRollback {
					r.Logger.Info("bond already absent during rollback, skipping", "bond", name)
					continue
				}
				return vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindNotFound, "bond %s: remove requested but it doesn't exist", name),
					"code", CodeBadBonding,
				)
			}
			if r.bondHasUsers(name, req) {
				return vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindConflict, "bond %s still has assigned networks", name),
					"code", CodeUsedBond,
				)
			}
			if err := c.RemoveBond(ctx, name); err != nil {
				return vnerrors.Wrapf(err, vnerrors.KindInternal, "remove bond %s", name)
			}
			if err := r.Store.DelBonding(name); err != nil {
				r.Logger.Warn("failed to remove bonding running-config entry", "bond", name, "error", err)
			}

		case exists:
			remove := slavesToRemove(existing.Slaves, b.Nics)
			bondDev := bondDeviceFromRequest(b)
			if err := c.EditBonding(ctx, bondDev, remove); err != nil {
				return vnerrors.Wrapf(err, vnerrors.KindInternal, "edit bond %s", name)
			}
			if err := snapshot.UpdateDevices(ctx, r.Libvirt); err != nil {
				return vnerrors.Wrap(err, vnerrors.KindInternal, "netsetup: re-snapshot after bond edit")
			}
			if err := r.Store.AddBonding(name, bondingEntry(b)); err != nil {
				r.Logger.Warn("failed to persist bonding running-config entry", "bond", name, "error", err)
			}

		default:
			bondDev := bondDeviceFromRequest(b)
			if err := c.ConfigureBond(ctx, bondDev); err != nil {
				return vnerrors.Wrapf(err, vnerrors.KindInternal, "configure bond %s", name)
			}
			if err := r.Store.AddBonding(name, bondingEntry(b)); err != nil {
				r.Logger.Warn("failed to persist bonding running-config entry", "bond", name, "error", err)
			}
		}
	}
	return nil
}

func bondDeviceFromRequest(b *BondRequest) *netmodel.Device {
	dev := &netmodel.Device{Kind: netmodel.KindBond, Name: b.Name, BondOptions: b.Options}
	for _, nic := range b.Nics {
		dev.Slaves = append(dev.Slaves, &netmodel.Device{Kind: netmodel.KindNic, Name: nic})
	}
	return dev
}

func bondingEntry(b *BondRequest) runningconfig.BondEntry {
	return runningconfig.BondEntry{"nics": b.Nics, "options": b.Options}
}

func (r *Reconciler) bondHasUsers(bondName string, req *Request) bool {
	for _, n := range req.Networks {
		if n.Remove {
			continue
		}
		if n.Bonding == bondName {
			return true
		}
	}
	for _, entry := range r.Store.Networks() {
		bonding, ok := entry["bonding"].(string)
		if !ok || bonding != bondName {
			continue
		}
		if netName, ok := entry["name"].(string); ok {
			if pending, exists := req.Networks[netName]; exists && pending.Remove {
				continue
			}
		}
		return true
	}
	return false
}

// addNetworks implements spec.md §4.4(c).
func (r *Reconciler) addNetworks(ctx context.Context, req *Request, snapshot *netmodel.NetInfoSnapshot, c netmodel.Configurator) error {
	for name, n := range req.Networks {
		if n.Remove {
			continue
		}
		if err := r.addNetwork(ctx, name, n, req, snapshot, c); err != nil {
			if code, ok := vnerrors.GetAttributes(err)["code"].(netmodel.Code); ok && code == CodeFailedIfup {
				r.emergencyCleanup(ctx, name, n, snapshot, c)
			}
			return err
		}
	}
	return nil
}

// addNetwork implements _addNetwork: reject an empty name or a reference
// to an unknown bond, build the device chain, configure it, then apply QoS
// once the device is up. No prefix/netmask check is made here; requests
// carry a netmask only.
func (r *Reconciler) addNetwork(ctx context.Context, name string, n *netmodel.NetworkRequest, req *Request, snapshot *netmodel.NetInfoSnapshot, c netmodel.Configurator) error {
	if name == "" {
		return badParams("network name must not be empty")
	}

	if n.Bonding != "" {
		if _, existed := snapshot.Bond(n.Bonding); !existed {
			if _, addedNow := req.Bondings[n.Bonding]; !addedNow {
				return vnerrors.Attr(
					vnerrors.Errorf(vnerrors.KindValidation, "network %s references unknown bond %s", name, n.Bonding),
					"code", CodeBadBonding,
				)
			}
		}
	}

	if n.Bridged && n.IPv4 != nil && n.IPv4.Bootproto == netmodel.BootprotoDHCP && n.PriorDUID == nil {
		r.inheritDHCPDUID(n)
	}

	device, err := netmodel.Objectivize(n, snapshot)
	if err != nil {
		return err
	}

	bridgeKept := false
	if device.Kind == netmodel.KindBridge {
		if _, exists := snapshot.Bridge(device.Name); exists {
			bridgeKept = true
			// Bridge already exists in the kernel: configure the
			// port-below and push MTU, do not recreate (spec.md §4.4(c)).
			if device.Port != nil {
				if err := device.Port.Configure(ctx, c); err != nil {
					return failedIfup(name, err)
				}
				if err := c.AddBridgePort(ctx, device.Name, device.Port.Name); err != nil {
					return failedIfup(name, err)
				}
			}
			if device.MTU > 0 {
				if err := c.SetIfaceMTU(ctx, device.Name, device.MTU); err != nil {
					return failedIfup(name, err)
				}
			}
		} else if err := device.Configure(ctx, c); err != nil {
			return failedIfup(name, err)
		}
	} else if err := device.Configure(ctx, c); err != nil {
		return failedIfup(name, err)
	}

	if bridgeKept && n.HostQos != nil {
		// Device.Configure applies QoS on the path that actually runs;
		// the "bridge already exists" branch above skips it, so apply
		// explicitly once the device is confirmed up.
		if err := c.ConfigureQoS(ctx, n.HostQos, device.Name); err != nil {
			return vnerrors.Wrapf(err, vnerrors.KindInternal, "apply qos on network %s", name)
		}
	}

	return r.Store.AddNetwork(name, networkEntry(name, n))
}

// inheritDHCPDUID looks up a cached DHCP lease for the network's underlying
// port and, if found, carries its DUID forward so the new bridge's DHCP
// client reuses it (spec.md §4.1 step 7). Best-effort: a cache miss or
// read failure just means a fresh DUID will be negotiated.
func (r *Reconciler) inheritDHCPDUID(n *netmodel.NetworkRequest) {
	if r.DHCPLeases == nil {
		return
	}
	port := n.Bonding
	if port == "" {
		port = n.Nic
	}
	if port == "" {
		port = n.Vlan
	}
	if port == "" {
		return
	}
	duid, err := r.DHCPLeases.PriorDUID(port)
	if err != nil {
		r.Logger.Debug("no inherited DUID available", "port", port, "error", err)
		return
	}
	n.PriorDUID = duid
}

func failedIfup(name string, cause error) error {
	return vnerrors.Attr(
		vnerrors.Wrapf(cause, vnerrors.KindInternal, "network %s: failed to bring interface up", name),
		"code", CodeFailedIfup,
	)
}

// emergencyCleanup tears down the partial chain matching the requested
// attrs after a FAILED_IFUP, before the configurator scope re-raises and
// rolls the rest back (spec.md §4.4(c), §7).
func (r *Reconciler) emergencyCleanup(ctx context.Context, name string, n *netmodel.NetworkRequest, snapshot *netmodel.NetInfoSnapshot, c netmodel.Configurator) {
	device, err := netmodel.Objectivize(n, snapshot)
	if err != nil {
		return
	}
	if cerr := device.Remove(ctx, c); cerr != nil {
		r.Logger.Warn("emergency cleanup failed", "network", name, "error", cerr)
	}
}

func networkEntry(name string, n *netmodel.NetworkRequest) runningconfig.NetworkEntry {
	e := runningconfig.NetworkEntry{
		"name":    name,
		"bonding": n.Bonding,
		"nic":     n.Nic,
		"vlan":    n.Vlan,
		"vlanid":  n.VlanID,
		"bridged": n.Bridged,
		"mtu":     n.MTU,
	}
	if n.IPv4 != nil {
		e["ipv4_address"] = n.IPv4.Address
		e["ipv4_netmask"] = n.IPv4.Netmask
		e["ipv4_gateway"] = n.IPv4.Gateway
		e["bootproto"] = string(n.IPv4.Bootproto)
	}
	if n.IPv6 != nil {
		e["ipv6_address"] = n.IPv6.Address
		e["ipv6_gateway"] = n.IPv6.Gateway
		e["autoconf"] = n.IPv6.Autoconf
		e["dhcpv6"] = n.IPv6.DHCPv6
	}
	return e
}

func (r *Reconciler) networkPresent(name string, snapshot *netmodel.NetInfoSnapshot) bool {
	if _, ok := r.Store.Networks()[name]; ok {
		return true
	}
	if _, ok := snapshot.Network(name); ok {
		return true
	}
	if _, ok := snapshot.Bridge(name); ok {
		return true
	}
	return false
}

// currentNetworkRequest reconstructs a netmodel.NetworkRequest from the
// persisted running-config entry for name, used by keepBridge's
// structural diff.
func (r *Reconciler) currentNetworkRequest(name string) *netmodel.NetworkRequest {
	entry, ok := r.Store.Networks()[name]
	if !ok {
		return nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil
	}
	var raw struct {
		Bridged     bool   `json:"bridged"`
		IPv4Address string `json:"ipv4_address"`
		IPv4Netmask string `json:"ipv4_netmask"`
		IPv4Gateway string `json:"ipv4_gateway"`
		Bootproto   string `json:"bootproto"`
		IPv6Address string `json:"ipv6_address"`
		IPv6Gateway string `json:"ipv6_gateway"`
		Autoconf    bool   `json:"autoconf"`
		DHCPv6      bool   `json:"dhcpv6"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	return &netmodel.NetworkRequest{
		Name:    name,
		Bridged: raw.Bridged,
		IPv4: &netmodel.IPv4Config{
			Address:   raw.IPv4Address,
			Netmask:   raw.IPv4Netmask,
			Gateway:   raw.IPv4Gateway,
			Bootproto: netmodel.Bootproto(raw.Bootproto),
		},
		IPv6: &netmodel.IPv6Config{
			Address:  raw.IPv6Address,
			Gateway:  raw.IPv6Gateway,
			Autoconf: raw.Autoconf,
			DHCPv6:   raw.DHCPv6,
		},
	}
}

// waitForConnectivity implements spec.md §4.4(d): wait up to timeout for
// the client-liveness marker's mtime to advance past start.
func (r *Reconciler) waitForConnectivity(ctx context.Context, start time.Time, timeout time.Duration) error {
	if r.ClientLivenessPath == "" {
		return nil
	}
	deadline := r.Clock.Now().Add(timeout)
	for r.Clock.Now().Before(deadline) {
		info, err := os.Stat(r.ClientLivenessPath)
		if err == nil && info.ModTime().After(start) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.Clock.After(time.Second):
		}
	}
	return fmt.Errorf("netsetup: client liveness marker %s did not advance within %s", r.ClientLivenessPath, timeout)
}

// digestRequest hashes the requested networks/bondings so history entries
// can be correlated without storing the full request body.
func digestRequest(networks map[string]*netmodel.NetworkRequest, bondings map[string]*BondRequest) string {
	data, err := json.Marshal(struct {
		Networks map[string]*netmodel.NetworkRequest `json:"networks"`
		Bondings map[string]*BondRequest             `json:"bondings"`
	}{networks, bondings})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// digestRunningConfig hashes the persisted running-config after a run
// completes, giving history entries a real "after" snapshot digest.
func digestRunningConfig(store *runningconfig.Store) string {
	if store == nil {
		return ""
	}
	data, err := json.Marshal(struct {
		Networks map[string]runningconfig.NetworkEntry `json:"networks"`
		Bondings map[string]runningconfig.BondEntry    `json:"bondings"`
	}{store.Networks(), store.Bondings()})
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// recordRun appends an entry to the supplemental run history, if enabled.
// Failures are logged, not propagated: history is an audit trail, not the
// running-config itself.
func (r *Reconciler) recordRun(start time.Time, beforeHash string, runErr error, networksLen, bondingsLen int) {
	if r.History == nil {
		return
	}
	entry := history.Entry{
		Timestamp:   start,
		BeforeHash:  beforeHash,
		AfterHash:   digestRunningConfig(r.Store),
		Success:     runErr == nil,
		DurationMs:  r.Clock.Now().Sub(start).Milliseconds(),
		NetworksLen: networksLen,
		BondingsLen: bondingsLen,
	}
	if runErr != nil {
		if code, ok := vnerrors.GetAttributes(runErr)["code"].(netmodel.Code); ok {
			entry.ErrorCode = code.String()
		} else {
			entry.ErrorCode = "INTERNAL"
		}
	}
	if err := r.History.RecordRun(entry); err != nil {
		r.Logger.Warn("failed to record reconciler run history", "error", err)
	}
}
