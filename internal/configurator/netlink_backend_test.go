// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package configurator

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"grimm.is/vnetd/internal/logging"
	"grimm.is/vnetd/internal/netmodel"
	"grimm.is/vnetd/internal/testutil"
)

// inFreshNetns locks the calling goroutine to its OS thread, creates a new
// network namespace, switches into it for the duration of fn, and restores
// the original namespace on return. Mirrors how the teacher isolates
// netlink-touching tests from the host's real interfaces.
func inFreshNetns(t *testing.T, fn func()) {
	t.Helper()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	require.NoError(t, err)
	defer orig.Close()

	ns, err := netns.New()
	require.NoError(t, err)
	defer ns.Close()
	defer netns.Set(orig)

	fn()
}

// TestNetlinkBackendBridgeLifecycle exercises ConfigureBridge/SetIfaceMTU/
// RemoveBridge against a real kernel inside an isolated network namespace,
// so it never touches the host's actual interfaces.
func TestNetlinkBackendBridgeLifecycle(t *testing.T) {
	testutil.RequireVM(t)

	inFreshNetns(t, func() {
		b := NewNetlinkBackend(logging.New(logging.DefaultConfig()))
		ctx := context.Background()

		bridge := &netmodel.Device{Kind: netmodel.KindBridge, Name: "vnetdtb0"}
		require.NoError(t, b.ConfigureBridge(ctx, bridge))

		_, err := netlink.LinkByName(bridge.Name)
		require.NoError(t, err)

		require.NoError(t, b.SetIfaceMTU(ctx, bridge.Name, 1400))
		mtu, err := b.CurrentMTU(bridge.Name)
		require.NoError(t, err)
		require.Equal(t, 1400, mtu)

		require.NoError(t, b.RemoveBridge(ctx, bridge.Name))
		_, err = netlink.LinkByName(bridge.Name)
		require.Error(t, err)
	})
}

// TestNetlinkBackendRemoveBridgeIsIdempotent confirms removing an
// already-absent bridge is a no-op (spec.md §4.4 teardown is idempotent).
func TestNetlinkBackendRemoveBridgeIsIdempotent(t *testing.T) {
	testutil.RequireVM(t)

	inFreshNetns(t, func() {
		b := NewNetlinkBackend(logging.New(logging.DefaultConfig()))
		require.NoError(t, b.RemoveBridge(context.Background(), "vnetdnoexist0"))
	})
}
