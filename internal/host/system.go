// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package host

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"bufio"
)

// MemoryInfo holds system memory statistics.
type MemoryInfo struct {
	TotalBytes     uint64
	FreeBytes      uint64
	AvailableBytes uint64
}

// GetMemoryInfo reads and parses /proc/meminfo.
func GetMemoryInfo() (*MemoryInfo, error) {
	file, err := os.Open("/proc/meminfo")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info := &MemoryInfo{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		// Field format: "Key: VALUE kB"
		val, _ := strconv.ParseUint(fields[1], 10, 64)
		valBytes := val * 1024

		switch fields[0] {
		case "MemTotal:":
			info.TotalBytes = valBytes
		case "MemFree:":
			info.FreeBytes = valBytes
		case "MemAvailable:":
			info.AvailableBytes = valBytes
		}
	}

	if info.AvailableBytes == 0 {
		info.AvailableBytes = info.FreeBytes
	}

	return info, nil
}

// GetDeviceID returns a unique identifier for this host.
func GetDeviceID() string {
	if data, err := os.ReadFile("/sys/class/dmi/id/product_uuid"); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}

	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id
		}
	}

	return "unknown-device"
}

// SystemRequirementError represents a missing system requirement.
type SystemRequirementError struct {
	Feature string
	Message string
	Fatal   bool
}

func (e *SystemRequirementError) Error() string {
	return fmt.Sprintf("%s: %s", e.Feature, e.Message)
}

// checkKernelKnob reports whether a /proc/sys knob this daemon depends on
// (rp_filter, forwarding, the bonding and 8021q module params) is present.
func checkKernelKnob(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("%s not present", path)
	}
	return nil
}

// VerifyNetworkSupport checks that the kernel exposes the facilities the
// setup reconciler (C1-C6) needs before the daemon starts reconciling:
// IPv4 forwarding control, the bonding and 8021q modules, and enough free
// memory to hold a netlink dump of a large interface count. Non-fatal
// findings are reported but do not block startup; fatal ones do.
func VerifyNetworkSupport() []SystemRequirementError {
	var errs []SystemRequirementError

	if err := checkKernelKnob("/proc/sys/net/ipv4/ip_forward"); err != nil {
		errs = append(errs, SystemRequirementError{
			Feature: "ip_forward",
			Message: err.Error(),
			Fatal:   true,
		})
		return errs
	}

	if err := checkKernelKnob("/sys/module/bonding"); err != nil {
		errs = append(errs, SystemRequirementError{
			Feature: "bonding",
			Message: "bonding module not loaded; bond devices cannot be created (modprobe bonding)",
			Fatal:   false,
		})
	}

	if err := checkKernelKnob("/sys/module/8021q"); err != nil {
		errs = append(errs, SystemRequirementError{
			Feature: "8021q",
			Message: "8021q module not loaded; VLAN devices cannot be created (modprobe 8021q)",
			Fatal:   false,
		})
	}

	if mem, err := GetMemoryInfo(); err == nil {
		if mem.AvailableBytes < 64*1024*1024 {
			errs = append(errs, SystemRequirementError{
				Feature: "Memory",
				Message: fmt.Sprintf("low available memory (%d MB, recommended >= 64 MB)", mem.AvailableBytes/1024/1024),
				Fatal:   false,
			})
		}
	}

	return errs
}
