// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vnerrors "grimm.is/vnetd/internal/errors"
)

func TestObjectivizeNicOnly(t *testing.T) {
	snapshot := NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true
	req := &NetworkRequest{Name: "net0", Nic: "eth0", VlanID: -1}

	dev, err := Objectivize(req, snapshot)
	require.NoError(t, err)
	assert.Equal(t, KindNic, dev.Kind)
	assert.Equal(t, "eth0", dev.Name)
}

func TestObjectivizeNicAlreadyEnslavedFails(t *testing.T) {
	snapshot := NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true
	snapshot.Bonds["bond0"] = &BondInfo{Name: "bond0", Slaves: []string{"eth0"}}

	_, err := Objectivize(&NetworkRequest{Name: "net0", Nic: "eth0"}, snapshot)
	require.Error(t, err)
	assert.Equal(t, CodeUsedNic, vnerrorsCode(t, err))
}

func TestObjectivizeNicUnknownFailsBadNic(t *testing.T) {
	snapshot := NewNetInfoSnapshot()

	_, err := Objectivize(&NetworkRequest{Name: "net0", Nic: "ghost0"}, snapshot)
	require.Error(t, err)
	assert.Equal(t, CodeBadNic, vnerrorsCode(t, err))
}

func TestObjectivizeBondBridgeVlanChain(t *testing.T) {
	snapshot := NewNetInfoSnapshot()
	req := &NetworkRequest{
		Name:    "net0",
		Bonding: "bond0",
		VlanID:  10,
		Bridged: true,
		MTU:     1500,
	}

	dev, err := Objectivize(req, snapshot)
	require.NoError(t, err)
	require.Equal(t, KindBridge, dev.Kind)
	assert.Equal(t, "net0", dev.Name)
	assert.Equal(t, 1500, dev.MTU)

	vlan := dev.Port
	require.NotNil(t, vlan)
	assert.Equal(t, KindVlan, vlan.Kind)
	assert.Equal(t, 10, vlan.Tag)
	assert.Equal(t, "bond0.10", vlan.Name)

	bond := vlan.Port
	require.NotNil(t, bond)
	assert.Equal(t, KindBond, bond.Kind)
	assert.Equal(t, "bond0", bond.Name)
}

func TestObjectivizeVlanWithoutTagResolvesFromSnapshot(t *testing.T) {
	snapshot := NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true
	snapshot.Vlans["eth0.5"] = &VlanInfo{Name: "eth0.5", Iface: "eth0", Tag: 5}
	req := &NetworkRequest{Name: "net0", Nic: "eth0", Vlan: "eth0.5", VlanID: -1}

	dev, err := Objectivize(req, snapshot)
	require.NoError(t, err)
	assert.Equal(t, 5, dev.Tag)
}

func TestObjectivizeVlanWithoutTagUnknownFails(t *testing.T) {
	snapshot := NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true
	_, err := Objectivize(&NetworkRequest{Name: "net0", Nic: "eth0", Vlan: "eth0.5", VlanID: -1}, snapshot)
	require.Error(t, err)
	assert.Equal(t, CodeBadParams, vnerrorsCode(t, err))
}

func TestObjectivizeNothingBuiltFails(t *testing.T) {
	snapshot := NewNetInfoSnapshot()
	_, err := Objectivize(&NetworkRequest{Name: "net0", VlanID: -1}, snapshot)
	require.Error(t, err)
	assert.Equal(t, CodeBadParams, vnerrorsCode(t, err))
}

func TestParseBondOptions(t *testing.T) {
	opts, err := ParseBondOptions("mode=4 miimon=100")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"mode": "4", "miimon": "100"}, opts)
}

func TestParseBondOptionsMalformed(t *testing.T) {
	_, err := ParseBondOptions("mode")
	assert.Error(t, err)
}

func TestValidateVlanTag(t *testing.T) {
	tag, err := ValidateVlanTag("100")
	require.NoError(t, err)
	assert.Equal(t, 100, tag)

	_, err = ValidateVlanTag("not-a-number")
	assert.Error(t, err)

	_, err = ValidateVlanTag("5000")
	assert.Error(t, err)
}

// vnerrorsCode extracts the stable "code" attribute from err, failing the
// test if it isn't present.
func vnerrorsCode(t *testing.T, err error) Code {
	t.Helper()
	attrs := vnerrors.GetAttributes(err)
	code, ok := attrs["code"].(Code)
	require.True(t, ok, "error has no code attribute: %v", err)
	return code
}
