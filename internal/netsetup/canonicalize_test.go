// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package netsetup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vnerrors "grimm.is/vnetd/internal/errors"
	"grimm.is/vnetd/internal/netmodel"
)

func TestCanonicalizeDefaultsBridgedWhenNoIPConfigGiven(t *testing.T) {
	req := &Request{Networks: map[string]*netmodel.NetworkRequest{
		"net0": {Nic: "eth0"},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true

	require.NoError(t, canonicalizeAndValidate(req, snapshot, nil))
	assert.True(t, req.Networks["net0"].Bridged)
}

func TestCanonicalizeRejectsBondingAndNicTogether(t *testing.T) {
	req := &Request{Networks: map[string]*netmodel.NetworkRequest{
		"net0": {Nic: "eth0", Bonding: "bond0"},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()

	err := canonicalizeAndValidate(req, snapshot, nil)
	require.Error(t, err)
	assert.Equal(t, CodeBadParams, codeOf(t, err))
}

func TestCanonicalizeRejectsRemoveWithOtherAttrs(t *testing.T) {
	req := &Request{Networks: map[string]*netmodel.NetworkRequest{
		"net0": {Remove: true, Nic: "eth0"},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()

	err := canonicalizeAndValidate(req, snapshot, nil)
	require.Error(t, err)
	assert.Equal(t, CodeBadParams, codeOf(t, err))
}

func TestCanonicalizeRejectsOutOfRangeVlanTag(t *testing.T) {
	req := &Request{Networks: map[string]*netmodel.NetworkRequest{
		"net0": {Nic: "eth0", VlanID: 5000},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true

	err := canonicalizeAndValidate(req, snapshot, nil)
	require.Error(t, err)
	assert.Equal(t, CodeBadParams, codeOf(t, err))
}

func TestCanonicalizeBondRequiresExistingNics(t *testing.T) {
	req := &Request{Bondings: map[string]*BondRequest{
		"bond0": {Nics: []string{"ethX"}},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()

	err := canonicalizeAndValidate(req, snapshot, nil)
	require.Error(t, err)
	assert.Equal(t, CodeBadNic, codeOf(t, err))
}

func TestCanonicalizeBondRequiresNonEmptyNics(t *testing.T) {
	req := &Request{Bondings: map[string]*BondRequest{
		"bond0": {},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()

	err := canonicalizeAndValidate(req, snapshot, nil)
	require.Error(t, err)
	assert.Equal(t, CodeBadBonding, codeOf(t, err))
}

type fakeModeChecker struct{ allowed map[string]bool }

func (f fakeModeChecker) AllowedBondMode(mode string) bool { return f.allowed[mode] }

func TestCanonicalizeEnforcesBondModeWhitelist(t *testing.T) {
	req := &Request{Bondings: map[string]*BondRequest{
		"bond0": {Nics: []string{"eth0"}, Options: "mode=3"},
	}}
	snapshot := netmodel.NewNetInfoSnapshot()
	snapshot.Nics["eth0"] = true

	err := canonicalizeAndValidate(req, snapshot, fakeModeChecker{allowed: map[string]bool{"1": true}})
	require.Error(t, err)
	assert.Equal(t, CodeBadBonding, codeOf(t, err))
}

func codeOf(t *testing.T, err error) Code {
	t.Helper()
	code, ok := vnerrors.GetAttributes(err)["code"].(Code)
	require.True(t, ok, "error has no code attribute: %v", err)
	return code
}
