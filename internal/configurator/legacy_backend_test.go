// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package configurator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetmaskToPrefix(t *testing.T) {
	assert.Equal(t, 24, netmaskToPrefix("255.255.255.0"))
	assert.Equal(t, 16, netmaskToPrefix("255.255.0.0"))
	assert.Equal(t, 8, netmaskToPrefix("255.0.0.0"))
	assert.Equal(t, 32, netmaskToPrefix("255.255.255.255"))
}

func TestNetmaskToPrefixDefaultsOnEmptyOrMalformed(t *testing.T) {
	assert.Equal(t, 24, netmaskToPrefix(""))
	assert.Equal(t, 24, netmaskToPrefix("not-a-netmask"))
}

func TestWriteDUIDFileWritesRawBytesUnderStateDir(t *testing.T) {
	t.Setenv("VNETD_STATE_DIR", t.TempDir())

	duid := []byte{0x00, 0x04, 0xde, 0xad, 0xbe, 0xef}
	path, err := writeDUIDFile(duid)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, duid, got)
	assert.Equal(t, "dhcp-leases", filepath.Base(filepath.Dir(path)))
}
