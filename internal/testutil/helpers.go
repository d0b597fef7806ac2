// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package testutil

import (
	"os"
	"testing"
)

// RequireVM skips the test if the VNETD_VM_TEST environment variable is not
// set. Tests that create real netlink devices, write sysfs SR-IOV/bonding
// files, or otherwise touch live kernel state only run in that environment.
func RequireVM(t *testing.T) {
	t.Helper()
	if os.Getenv("VNETD_VM_TEST") == "" {
		t.Skip("Skipping test: requires VNETD_VM_TEST environment")
	}
}
