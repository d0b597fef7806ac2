// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !linux
// +build !linux

package configurator

import "grimm.is/vnetd/internal/logging"

// selectBackend on non-Linux platforms always returns the exec-based
// legacy backend; the netlink backend is Linux-only (it wraps Linux
// netlink sockets directly).
func selectBackend(key string, logger *logging.Logger) Backend {
	return NewLegacyBackend(logger)
}
