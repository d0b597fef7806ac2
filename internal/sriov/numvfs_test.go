// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package sriov

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistNumVFsWritesDecimalCount(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, nil, nil)

	// Persisted under the net name, not the PCI path (spec.md §8 scenario
	// S5: change_numvfs("0000:00:19.0", 4, "eth0") persists to
	// virtual_functions/eth0).
	require.NoError(t, c.persistNumVFs("eth0", 4))

	data, err := os.ReadFile(filepath.Join(dir, "virtual_functions", "eth0"))
	require.NoError(t, err)
	assert.Equal(t, "4", string(data))
}

func TestChangeNumVFsFailsWhenSysfsPathMissing(t *testing.T) {
	c := New(t.TempDir(), nil, nil)
	err := c.ChangeNumVFs(context.Background(), "0000:nonexistent:00.0", 2, "eth0", nil)
	assert.Error(t, err)
}
