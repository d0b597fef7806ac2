// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package sriov implements the SR-IOV virtual-function count controller
// (spec.md §4.5), grounded line-for-line on original_source's
// lib/vdsm/network/api.py _update_numvfs/_persist_numvfs/change_numvfs.
package sriov

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"grimm.is/vnetd/internal/clock"
	"grimm.is/vnetd/internal/logging"
)

const sysfsSriovNumvfsFmt = "/sys/bus/pci/devices/%s/sriov_numvfs"

// LinkUpper brings a link up after a VF count change; satisfied by
// configurator.Backend.SetLinkUp in production wiring.
type LinkUpper interface {
	SetLinkUp(ctx context.Context, name string) error
}

// Controller changes PCI SR-IOV virtual function counts.
type Controller struct {
	runConfDir string
	clock      clock.Clock
	logger     *logging.Logger
}

// New creates a Controller persisting VF counts under
// <runConfDir>/virtual_functions (install.GetVirtualFunctionsDir()).
func New(runConfDir string, clk clock.Clock, logger *logging.Logger) *Controller {
	if clk == nil {
		clk = clock.Default
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Controller{runConfDir: runConfDir, clock: clk, logger: logger.WithComponent("sriov")}
}

// ChangeNumVFs implements spec.md §4.5's change_numvfs: write "0" then the
// new count to sysfs, wait for udev to settle, persist the count, then
// bring netName's link up.
func (c *Controller) ChangeNumVFs(ctx context.Context, pciPath string, numvfs int, netName string, linker LinkUpper) error {
	c.logger.Info("changing number of vfs", "pci_path", pciPath, "numvfs", numvfs)

	if err := c.updateNumVFs(pciPath, numvfs); err != nil {
		return fmt.Errorf("sriov: update numvfs on %s: %w", pciPath, err)
	}
	c.logger.Info("changing number of vfs succeeded", "pci_path", pciPath, "numvfs", numvfs)

	if err := c.persistNumVFs(netName, numvfs); err != nil {
		return fmt.Errorf("sriov: persist numvfs for %s: %w", netName, err)
	}

	if linker != nil {
		if err := linker.SetLinkUp(ctx, netName); err != nil {
			return fmt.Errorf("sriov: bring up %s after vf change: %w", netName, err)
		}
	}
	return nil
}

// updateNumVFs writes "0" then numvfs to sriov_numvfs — a nonzero write
// while the device still carries N>0 VFs returns EBUSY, so the count
// must always be cleared first (spec.md §4.5 step 2).
func (c *Controller) updateNumVFs(pciPath string, numvfs int) error {
	path := fmt.Sprintf(sysfsSriovNumvfsFmt, pciPath)
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteString("0"); err != nil {
		return fmt.Errorf("clear vfs: %w", err)
	}
	if _, err := f.WriteString(strconv.Itoa(numvfs)); err != nil {
		return fmt.Errorf("write new vf count: %w", err)
	}

	return c.waitForUdevEvents()
}

// waitForUdevEvents sleeps 0.5s before calling `udevadm settle` with a 10s
// timeout. The sleep is intentional (spec.md §4.5): settle only waits for
// currently-queued events, so the kernel must be given time to enqueue
// the new VF netdev events first.
func (c *Controller) waitForUdevEvents() error {
	c.clock.Sleep(500 * time.Millisecond)

	cmd := exec.Command("udevadm", "settle", "--timeout=10")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("udevadm settle: %w: %s", err, out)
	}
	return nil
}

// persistNumVFs writes the decimal VF count to
// <runConfDir>/virtual_functions/<device>, so a reboot can restore it.
func (c *Controller) persistNumVFs(device string, numvfs int) error {
	dir := filepath.Join(c.runConfDir, "virtual_functions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, device), []byte(strconv.Itoa(numvfs)), 0o644)
}
