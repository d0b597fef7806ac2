// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves the on-disk layout the daemon reads and writes:
// the P_VDSM-equivalent tree rooted at the state directory (running-config
// JSON, bond option JSON artifacts, SR-IOV VF persistence) plus the
// conventional config/log/run directories.
package install

import (
	"os"
	"path/filepath"

	"grimm.is/vnetd/internal/brand"
)

var (
	DefaultConfigDir string
	DefaultStateDir  string
	DefaultLogDir    string
	DefaultRunDir    string

	// Build-time path overrides (set via -ldflags), letting distributions
	// relocate the defaults back to /etc, /var, etc.
	BuildDefaultConfigDir = ""
	BuildDefaultStateDir  = ""
	BuildDefaultLogDir    = ""
	BuildDefaultRunDir    = ""
)

func init() {
	b := brand.Get()

	if BuildDefaultConfigDir != "" {
		DefaultConfigDir = BuildDefaultConfigDir
	} else {
		DefaultConfigDir = b.DefaultConfigDir
	}
	if BuildDefaultStateDir != "" {
		DefaultStateDir = BuildDefaultStateDir
	} else {
		DefaultStateDir = b.DefaultStateDir
	}
	if BuildDefaultLogDir != "" {
		DefaultLogDir = BuildDefaultLogDir
	} else {
		DefaultLogDir = b.DefaultLogDir
	}
	if BuildDefaultRunDir != "" {
		DefaultRunDir = BuildDefaultRunDir
	} else {
		DefaultRunDir = b.DefaultRunDir
	}
}

func envPrefix() string { return brand.Get().ConfigEnvPrefix }

// GetStateDir returns the state directory, checking env vars first.
// Priority: VNETD_STATE_DIR > VNETD_PREFIX/state > DefaultStateDir
func GetStateDir() string {
	if dir := os.Getenv(envPrefix() + "_STATE_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(envPrefix() + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "state")
	}
	return DefaultStateDir
}

// GetLogDir returns the log directory, checking env vars first.
func GetLogDir() string {
	if dir := os.Getenv(envPrefix() + "_LOG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(envPrefix() + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "log")
	}
	return DefaultLogDir
}

// GetConfigDir returns the config directory, checking env vars first.
func GetConfigDir() string {
	if dir := os.Getenv(envPrefix() + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(envPrefix() + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "config")
	}
	return DefaultConfigDir
}

// GetRunDir returns the runtime directory for the VF persistence tree and
// any sockets/PID files.
// Priority: VNETD_RUN_DIR > VNETD_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	if dir := os.Getenv(envPrefix() + "_RUN_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(envPrefix() + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, "run")
	}
	return DefaultRunDir
}

// GetNetConfDir returns <state>/netconf, holding networks/<name> and
// bondings/<name> running-config JSON files (spec.md §6).
func GetNetConfDir() string {
	return filepath.Join(GetStateDir(), "netconf")
}

// GetBondingDefaultsFile returns <state>/bonding-defaults.json (C6 output).
func GetBondingDefaultsFile() string {
	return filepath.Join(GetStateDir(), "bonding-defaults.json")
}

// GetBondingName2NumericFile returns <state>/bonding-name2numeric.json (C6 output).
func GetBondingName2NumericFile() string {
	return filepath.Join(GetStateDir(), "bonding-name2numeric.json")
}

// GetVirtualFunctionsDir returns <run>/virtual_functions, the SR-IOV VF
// count persistence tree written by change_numvfs (C5).
func GetVirtualFunctionsDir() string {
	return filepath.Join(GetRunDir(), "virtual_functions")
}

// GetClientLivenessMarker returns the path whose mtime the connectivity
// check (C4 phase 3d) watches for advancement.
func GetClientLivenessMarker() string {
	if path := os.Getenv(envPrefix() + "_CLIENT_LOG"); path != "" {
		return path
	}
	return filepath.Join(GetLogDir(), brand.Get().LowerName+"-client.log")
}

// GetHistoryDBPath returns the SQLite file backing the supplemental
// reconciler-run ledger (internal/history), adapted from the teacher's
// state.NewSQLiteStore convention.
func GetHistoryDBPath() string {
	return filepath.Join(GetStateDir(), "history.db")
}

// GetDHCPLeaseCacheFile returns <state>/dhcp-leases/<port>.ack, the raw
// DHCPv4 ACK packet vnetd caches per port so a later bridge reconfiguration
// can inherit the port's DHCP unique identifier (internal/dhcplease,
// spec.md §4.1 step 7, original_source's _inherit_dhcp_unique_identifier).
func GetDHCPLeaseCacheFile(port string) string {
	return filepath.Join(GetStateDir(), "dhcp-leases", port+".ack")
}
