// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package monitor implements the storage-domain monitor pool (spec.md
// §4.7, the C7 component) and the per-domain monitor task (§4.8, C8),
// grounded on original_source's vdsm/storage/domainMonitor.py and adapted
// onto the teacher's internal/monitor/service.go goroutine-per-target
// pattern (Service/monitorRoute became Pool/Task; tomb.Tomb replaces the
// stop-channel+WaitGroup pair for cooperative cancellation).
package monitor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is a point-in-time snapshot of a domain's health, mirroring
// Python's DomainMonitorStatus. It is copied by value on every read so a
// reader never observes a torn update mid-write.
type Status struct {
	Error         error
	CheckTime     time.Time
	Valid         bool
	ReadDelay     time.Duration
	DiskTotal     int64
	DiskFree      int64
	VGMDSize      int64
	VGMDFree      int64
	VGMDValid     bool
	VGMDBelowThreshold bool
	MasterValid   bool
	MasterMounted bool
	HasHostID     bool
	IsoPrefix     string
	Version       int
}

// Stats is the subset of a domain's statistics the task collects each
// tick (domain.getStats() in the original).
type Stats struct {
	DiskTotal          int64
	DiskFree           int64
	VGMetadataSize     int64
	VGMetadataFree     int64
	VGMetadataValid    bool
	VGMetadataBelowThreshold bool
}

// MasterStatus is the result of validating a domain's master version
// directory (domain.validateMaster() in the original).
type MasterStatus struct {
	Valid   bool
	Mounted bool
}

// Handle is a produced, live storage domain as the monitor task sees it.
// Every method is a cancellation point: callers pass ctx and must honor
// it so the task's cooperative cancellation (spec.md §5) actually works.
type Handle interface {
	IsISO(ctx context.Context) (bool, error)
	IsoImagesDir(ctx context.Context) (string, error)
	SelfTest(ctx context.Context) error
	ReadDelay(ctx context.Context) (time.Duration, error)
	Stats(ctx context.Context) (Stats, error)
	ValidateMaster(ctx context.Context) (MasterStatus, error)
	HasHostID(ctx context.Context, hostID int) (bool, error)
	Version(ctx context.Context) (int, error)
}

// Cache produces Handles for a given domain UUID, mirroring sdCache in
// the original. ManuallyRemoveDomain drops any cached handle for sdUUID
// so the next Produce call re-probes the domain (used to pick up
// domain upgrades per spec.md §4.8 step 2).
type Cache interface {
	Produce(ctx context.Context, sdUUID uuid.UUID) (Handle, error)
	ManuallyRemoveDomain(sdUUID uuid.UUID)
}

// HostIDManager acquires and releases the sanlock host-id lease for a
// domain on behalf of one (domain, hostID) pair, per spec.md §5 — the
// monitor task is the only component in this spec that touches it.
type HostIDManager interface {
	AcquireHostID(ctx context.Context, sdUUID uuid.UUID, hostID int) error
	ReleaseHostID(sdUUID uuid.UUID, hostID int) error
}

// StateChangeFunc is a subscriber to Pool's onDomainStateChange event.
// It runs on the emitting task's goroutine and must not block (spec.md
// §5); panics are recovered and logged by the pool.
type StateChangeFunc func(sdUUID uuid.UUID, valid bool)
