// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package configurator

import "grimm.is/vnetd/internal/logging"

func selectBackend(key string, logger *logging.Logger) Backend {
	switch key {
	case "netlink":
		return NewNetlinkBackend(logger)
	default:
		return NewLegacyBackend(logger)
	}
}
