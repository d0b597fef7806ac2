// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netsetup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"grimm.is/vnetd/internal/netmodel"
)

func TestKeepBridgeTrueWhenAttrsUnchanged(t *testing.T) {
	requested := &netmodel.NetworkRequest{
		Bridged: true,
		Bonding: "bond0",
		IPv4:    &netmodel.IPv4Config{Address: "10.0.0.1", Bootproto: netmodel.BootprotoNone},
	}
	current := &netmodel.NetworkRequest{
		Bridged: true,
		Bonding: "bond1", // bonding is excluded from the comparison
		IPv4:    &netmodel.IPv4Config{Address: "10.0.0.1", Bootproto: netmodel.BootprotoNone},
	}

	assert.True(t, keepBridge(requested, current))
}

func TestKeepBridgeFalseWhenIPChanged(t *testing.T) {
	requested := &netmodel.NetworkRequest{
		Bridged: true,
		IPv4:    &netmodel.IPv4Config{Address: "10.0.0.2"},
	}
	current := &netmodel.NetworkRequest{
		Bridged: true,
		IPv4:    &netmodel.IPv4Config{Address: "10.0.0.1"},
	}

	assert.False(t, keepBridge(requested, current))
}

func TestKeepBridgeFalseWhenNotBridgedOrRemoved(t *testing.T) {
	current := &netmodel.NetworkRequest{Bridged: true}

	assert.False(t, keepBridge(&netmodel.NetworkRequest{Bridged: false}, current))
	assert.False(t, keepBridge(&netmodel.NetworkRequest{Bridged: true, Remove: true}, current))
	assert.False(t, keepBridge(&netmodel.NetworkRequest{Bridged: true}, nil))
}

func TestSlavesToRemove(t *testing.T) {
	current := []string{"eth0", "eth1", "eth2"}
	requested := []string{"eth0", "eth2"}

	assert.ElementsMatch(t, []string{"eth1"}, slavesToRemove(current, requested))
}

func TestSlavesToRemoveEmptyWhenUnchanged(t *testing.T) {
	current := []string{"eth0", "eth1"}
	assert.Empty(t, slavesToRemove(current, current))
}
