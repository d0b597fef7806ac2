// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netsetup

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vnetd/internal/clock"
	"grimm.is/vnetd/internal/config"
	"grimm.is/vnetd/internal/logging"
	"grimm.is/vnetd/internal/netmodel"
	"grimm.is/vnetd/internal/runningconfig"
)

// fakeBackend is an in-memory configurator.Backend: it records every call
// instead of touching the kernel, so SetupNetworks' apply/rollback
// bookkeeping can be exercised without root or a network namespace. Real
// netlink mutation is already covered by netlink_backend_test.go; this
// fake only needs to behave like a Backend, not configure real links.
type fakeBackend struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{failOn: make(map[string]error)}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) record(op, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := op + ":" + name
	f.calls = append(f.calls, key)
	return f.failOn[key]
}

func (f *fakeBackend) hasCall(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == key {
			return true
		}
	}
	return false
}

func (f *fakeBackend) SetIfaceMTU(ctx context.Context, name string, mtu int) error {
	return f.record("SetIfaceMTU", name)
}
func (f *fakeBackend) SetLinkUp(ctx context.Context, name string) error {
	return f.record("SetLinkUp", name)
}
func (f *fakeBackend) ApplyIPv4(ctx context.Context, name string, cfg *netmodel.IPv4Config) error {
	return f.record("ApplyIPv4", name)
}
func (f *fakeBackend) ApplyIPv6(ctx context.Context, name string, cfg *netmodel.IPv6Config) error {
	return f.record("ApplyIPv6", name)
}
func (f *fakeBackend) ConfigureBond(ctx context.Context, bond *netmodel.Device) error {
	return f.record("ConfigureBond", bond.Name)
}
func (f *fakeBackend) EditBonding(ctx context.Context, bond *netmodel.Device, removeSlaves []string) error {
	return f.record("EditBonding", bond.Name)
}
func (f *fakeBackend) RemoveBond(ctx context.Context, name string) error {
	return f.record("RemoveBond", name)
}
func (f *fakeBackend) ConfigureVlan(ctx context.Context, vlan *netmodel.Device) error {
	return f.record("ConfigureVlan", vlan.Name)
}
func (f *fakeBackend) RemoveVlan(ctx context.Context, name string) error {
	return f.record("RemoveVlan", name)
}
func (f *fakeBackend) ConfigureBridge(ctx context.Context, bridge *netmodel.Device) error {
	return f.record("ConfigureBridge", bridge.Name)
}
func (f *fakeBackend) AddBridgePort(ctx context.Context, bridge, port string) error {
	return f.record("AddBridgePort", fmt.Sprintf("%s/%s", bridge, port))
}
func (f *fakeBackend) RemoveBridgePort(ctx context.Context, bridge, port string) error {
	return f.record("RemoveBridgePort", fmt.Sprintf("%s/%s", bridge, port))
}
func (f *fakeBackend) RemoveBridge(ctx context.Context, name string) error {
	return f.record("RemoveBridge", name)
}
func (f *fakeBackend) ConfigureLibvirtNetwork(ctx context.Context, name string, topDevice string) error {
	return f.record("ConfigureLibvirtNetwork", name)
}
func (f *fakeBackend) RemoveLibvirtNetwork(ctx context.Context, name string) error {
	return f.record("RemoveLibvirtNetwork", name)
}
func (f *fakeBackend) ConfigureQoS(ctx context.Context, qos *netmodel.HostQos, dev string) error {
	return f.record("ConfigureQoS", dev)
}
func (f *fakeBackend) RemoveQoS(ctx context.Context, dev string) error {
	return f.record("RemoveQoS", dev)
}

type fakeLibvirt struct{}

func (fakeLibvirt) ListNetworks(ctx context.Context) ([]*netmodel.LibvirtNetwork, error) {
	return nil, nil
}

func newTestReconciler(t *testing.T, backend *fakeBackend) *Reconciler {
	t.Helper()
	store, err := runningconfig.New(runningconfig.ModeUnified, t.TempDir(), nil)
	require.NoError(t, err)
	return &Reconciler{
		Backend: backend,
		Store:   store,
		Config:  config.Default(),
		Logger:  logging.New(logging.DefaultConfig()),
		Clock:   clock.Default,
		Libvirt: fakeLibvirt{},
	}
}

// TestSetupNetworksAppliesBridgeOverNicAndPersists is spec.md §8 scenario
// S1's shape: a plain nic wrapped in a bridge, no bond or vlan involved.
func TestSetupNetworksAppliesBridgeOverNicAndPersists(t *testing.T) {
	backend := newFakeBackend()
	r := newTestReconciler(t, backend)

	req := Request{
		Networks: map[string]*netmodel.NetworkRequest{
			"net0": {Nic: "lo", VlanID: -1, Bridged: true},
		},
		Options: Options{ConnectivityCheck: false},
	}

	require.NoError(t, r.SetupNetworks(context.Background(), req))

	assert.True(t, backend.hasCall("ConfigureBridge:net0"))
	assert.True(t, backend.hasCall("AddBridgePort:net0/lo"))
	_, persisted := r.Store.Networks()["net0"]
	assert.True(t, persisted, "network should be persisted to the running-config store")
}

// TestSetupNetworksRollsBackBondAndVlanOnFailedIfup covers spec.md §8
// scenarios S2/S3's bond+vlan+bridge chain and testable property 3: a
// failure partway through apply must undo everything already applied in
// the same call, not just the op that failed.
func TestSetupNetworksRollsBackBondAndVlanOnFailedIfup(t *testing.T) {
	backend := newFakeBackend()
	backend.failOn["ConfigureBridge:net0"] = errors.New("simulated ifup failure")
	r := newTestReconciler(t, backend)

	req := Request{
		Networks: map[string]*netmodel.NetworkRequest{
			"net0": {Bonding: "bond0", VlanID: 100, Bridged: true},
		},
		Bondings: map[string]*BondRequest{
			"bond0": {Nics: []string{"lo"}, Options: "mode=1"},
		},
		Options: Options{ConnectivityCheck: false},
	}

	err := r.SetupNetworks(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, CodeFailedIfup, codeOf(t, err))

	assert.True(t, backend.hasCall("RemoveBond:bond0"), "bond0 must be rolled back")
	assert.True(t, backend.hasCall("RemoveVlan:bond0.100"), "vlan100 must be rolled back")
	_, persisted := r.Store.Networks()["net0"]
	assert.False(t, persisted, "a network that never finished configuring must not be persisted")
}

// TestSetupNetworksRollsBackOnLostConnectivity is spec.md §8 scenario S4,
// verbatim: after a failed connectivity check, bond0/vlan100 must still be
// rolled back even though the configurator scope's apply phase itself
// succeeded cleanly.
func TestSetupNetworksRollsBackOnLostConnectivity(t *testing.T) {
	backend := newFakeBackend()
	r := newTestReconciler(t, backend)
	r.ClientLivenessPath = filepath.Join(t.TempDir(), "client.log") // never created, so its mtime never advances

	req := Request{
		Networks: map[string]*netmodel.NetworkRequest{
			"net0": {Bonding: "bond0", VlanID: 100, Bridged: true},
		},
		Bondings: map[string]*BondRequest{
			"bond0": {Nics: []string{"lo"}, Options: "mode=1"},
		},
		Options: Options{ConnectivityCheck: true, ConnectivityTimeout: 1},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.SetupNetworks(ctx, req)
	require.Error(t, err)
	assert.Equal(t, CodeLostConnection, codeOf(t, err))

	assert.True(t, backend.hasCall("RemoveBond:bond0"), "bond0 must be rolled back after a lost-connection run")
	assert.True(t, backend.hasCall("RemoveVlan:bond0.100"), "vlan100 must be rolled back after a lost-connection run")
	assert.True(t, backend.hasCall("RemoveBridge:net0"), "net0 must be rolled back after a lost-connection run")
}

// TestDelNetworkRemovesQoSOnceAfterFullChainRemoval is testable property 4:
// QoS removal happens once, after the whole device chain is gone, not at
// every level of the chain as it comes down.
func TestDelNetworkRemovesQoSOnceAfterFullChainRemoval(t *testing.T) {
	backend := newFakeBackend()
	r := newTestReconciler(t, backend)

	n := &netmodel.NetworkRequest{Name: "net0", Nic: "lo", Bridged: true}
	snapshot := netmodel.NewNetInfoSnapshot()
	snapshot.Nics["lo"] = true

	require.NoError(t, r.delNetwork(context.Background(), "net0", n, snapshot, false, backend))

	qosIdx, bridgeIdx := -1, -1
	for i, c := range backend.calls {
		switch c {
		case "RemoveQoS:net0":
			qosIdx = i
		case "RemoveBridge:net0":
			bridgeIdx = i
		}
	}
	require.NotEqual(t, -1, bridgeIdx, "bridge removal must have happened")
	require.NotEqual(t, -1, qosIdx, "qos removal must have happened")
	assert.Greater(t, qosIdx, bridgeIdx, "qos must be removed after the device chain, not before or during")

	count := 0
	for _, c := range backend.calls {
		if c == "RemoveQoS:net0" {
			count++
		}
	}
	assert.Equal(t, 1, count, "qos must be removed exactly once")
}
