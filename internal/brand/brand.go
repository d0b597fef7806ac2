// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package brand names the daemon and its on-disk layout, mirroring the way
// P_VDSM-rooted paths name the original storage/network persistence tree.
package brand

// Descriptor holds the directory defaults for one build of the daemon.
type Descriptor struct {
	BinaryName      string
	LowerName       string
	ConfigEnvPrefix string

	DefaultConfigDir string
	DefaultStateDir  string
	DefaultLogDir    string
	DefaultCacheDir  string
	DefaultRunDir    string
}

var current = Descriptor{
	BinaryName:      "vnetd",
	LowerName:       "vnetd",
	ConfigEnvPrefix: "VNETD",

	DefaultConfigDir: "/etc/vnetd",
	DefaultStateDir:  "/var/lib/vnetd",
	DefaultLogDir:    "/var/log/vnetd",
	DefaultCacheDir:  "/var/cache/vnetd",
	DefaultRunDir:    "/var/run/vnetd",
}

// Get returns the active brand descriptor.
func Get() Descriptor { return current }
