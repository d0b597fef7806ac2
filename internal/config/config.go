// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the daemon's own configuration (paths, monitor
// interval, connectivity-check defaults, bond mode whitelist), keeping
// the teacher's HCL-based loading style (hashicorp/hcl/v2, hclsimple,
// zclconf/go-cty) trimmed to this daemon's actual surface.
package config

import (
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	vnerrors "grimm.is/vnetd/internal/errors"
)

// Config is the daemon's top-level configuration.
type Config struct {
	SchemaVersion string `hcl:"schema_version,optional"`

	// StateDir/LogDir/RunDir/ConfigDir override internal/install's
	// resolved defaults when set.
	StateDir  string `hcl:"state_dir,optional"`
	LogDir    string `hcl:"log_dir,optional"`
	RunDir    string `hcl:"run_dir,optional"`

	// RunningConfigMode selects runningconfig.Mode: "unified" or "legacy".
	RunningConfigMode string `hcl:"running_config_mode,optional"`

	// ConfiguratorBackend selects configurator.Select's key: "netlink"
	// or "legacy" (anything else falls back to legacy).
	ConfiguratorBackend string `hcl:"configurator_backend,optional"`

	// ConnectivityCheck/ConnectivityTimeoutSeconds are the setup
	// reconciler's phase-3d defaults (spec.md §6).
	ConnectivityCheck          *bool `hcl:"connectivity_check,optional"`
	ConnectivityTimeoutSeconds int   `hcl:"connectivity_timeout_seconds,optional"`

	// MonitorIntervalSeconds is the domain monitor task tick interval,
	// the Go equivalent of irs.repo_stats_cache_refresh_timeout's sibling
	// knob (spec.md §4.8 loop body).
	MonitorIntervalSeconds int `hcl:"monitor_interval_seconds,optional"`

	// RefreshTimeSeconds is irs.repo_stats_cache_refresh_timeout itself:
	// how long a cached domain handle is trusted before being dropped
	// (spec.md §4.8 step 2).
	RefreshTimeSeconds int `hcl:"refresh_time_seconds,optional"`

	// BondModeWhitelist restricts which bonding `mode=` values Phase 0
	// validation accepts; empty means accept any kernel-supported mode.
	BondModeWhitelist []string `hcl:"bond_mode_whitelist,optional"`

	// LibvirtNetworkPrefix is prepended to libvirt network names
	// (mirrors the original "vdsm-" prefix convention).
	LibvirtNetworkPrefix string `hcl:"libvirt_network_prefix,optional"`
}

// Default returns the built-in configuration used when no config file is
// present.
func Default() *Config {
	connCheck := true
	return &Config{
		SchemaVersion:              "1.0",
		RunningConfigMode:          "unified",
		ConfiguratorBackend:        "netlink",
		ConnectivityCheck:          &connCheck,
		ConnectivityTimeoutSeconds: 4,
		MonitorIntervalSeconds:     10,
		RefreshTimeSeconds:         300,
		LibvirtNetworkPrefix:       "vdsm-",
	}
}

// ConnectivityTimeout returns ConnectivityTimeoutSeconds as a Duration.
func (c *Config) ConnectivityTimeout() time.Duration {
	return time.Duration(c.ConnectivityTimeoutSeconds) * time.Second
}

// MonitorInterval returns MonitorIntervalSeconds as a Duration.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSeconds) * time.Second
}

// RefreshTime returns RefreshTimeSeconds as a Duration.
func (c *Config) RefreshTime() time.Duration {
	return time.Duration(c.RefreshTimeSeconds) * time.Second
}

// LoadFile parses an HCL config file, starting from Default() so unset
// fields keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
		return nil, vnerrors.Wrapf(err, vnerrors.KindValidation, "parse config file %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural invariants (errors.KindValidation per the
// teacher's pattern).
func (c *Config) Validate() error {
	if c.ConnectivityTimeoutSeconds < 0 {
		return vnerrors.New(vnerrors.KindValidation, "connectivity_timeout_seconds must be >= 0")
	}
	if c.MonitorIntervalSeconds <= 0 {
		return vnerrors.New(vnerrors.KindValidation, "monitor_interval_seconds must be > 0")
	}
	switch c.RunningConfigMode {
	case "unified", "legacy":
	default:
		return vnerrors.Errorf(vnerrors.KindValidation, "unknown running_config_mode %q", c.RunningConfigMode)
	}
	return nil
}

// ConnectivityCheckEnabled returns the effective connectivityCheck option,
// defaulting to true when unset (spec.md §6: "connectivityCheck?: bool
// (default true)").
func (c *Config) ConnectivityCheckEnabled() bool {
	if c.ConnectivityCheck == nil {
		return true
	}
	return *c.ConnectivityCheck
}

// AllowedBondMode reports whether mode is acceptable per
// BondModeWhitelist; an empty whitelist allows everything.
func (c *Config) AllowedBondMode(mode string) bool {
	if len(c.BondModeWhitelist) == 0 {
		return true
	}
	for _, m := range c.BondModeWhitelist {
		if m == mode {
			return true
		}
	}
	return false
}
