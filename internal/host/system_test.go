// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package host

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckKernelKnobMissing(t *testing.T) {
	assert.Error(t, checkKernelKnob(filepath.Join(t.TempDir(), "does-not-exist")))
}

func TestCheckKernelKnobPresent(t *testing.T) {
	assert.NoError(t, checkKernelKnob(t.TempDir()))
}

func TestGetDeviceIDNeverEmpty(t *testing.T) {
	assert.NotEmpty(t, GetDeviceID())
}
