// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package runningconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnifiedModePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := New(ModeUnified, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNetwork("net0", NetworkEntry{"nic": "eth0"}))
	require.NoError(t, s.AddBonding("bond0", BondEntry{"nics": []any{"eth0", "eth1"}}))

	reopened, err := New(ModeUnified, dir, nil)
	require.NoError(t, err)
	assert.Contains(t, reopened.Networks(), "net0")
	assert.Contains(t, reopened.Bondings(), "bond0")
	assert.Equal(t, "eth0", reopened.Networks()["net0"]["nic"])
}

func TestUnifiedModeDelRemovesEntry(t *testing.T) {
	dir := t.TempDir()
	s, err := New(ModeUnified, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNetwork("net0", NetworkEntry{"nic": "eth0"}))
	require.NoError(t, s.DelNetwork("net0"))
	assert.NotContains(t, s.Networks(), "net0")

	reopened, err := New(ModeUnified, dir, nil)
	require.NoError(t, err)
	assert.NotContains(t, reopened.Networks(), "net0")
}

func TestLegacyModeIsNoopPassthrough(t *testing.T) {
	dir := t.TempDir()
	s, err := New(ModeLegacy, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNetwork("net0", NetworkEntry{"nic": "eth0"}))
	assert.Empty(t, s.Networks())
}

func TestNetworksReturnsSnapshotCopy(t *testing.T) {
	dir := t.TempDir()
	s, err := New(ModeUnified, dir, nil)
	require.NoError(t, err)
	require.NoError(t, s.AddNetwork("net0", NetworkEntry{"nic": "eth0"}))

	snap := s.Networks()
	snap["net1"] = NetworkEntry{"nic": "eth1"}
	assert.NotContains(t, s.Networks(), "net1")
}
