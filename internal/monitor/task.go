// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/tomb.v2"

	"grimm.is/vnetd/internal/clock"
	"grimm.is/vnetd/internal/logging"
)

// task is the per-domain monitor (C8): States Starting -> Probing <->
// Waiting -> Stopping -> Stopped, driven by t.Go(task.run). tomb.Tomb
// supplies Kill/Wait/Dying in place of a hand-rolled stop channel and
// WaitGroup.
type task struct {
	sdUUID   uuid.UUID
	hostID   int
	interval time.Duration
	refresh  time.Duration

	clock   clock.Clock
	cache   Cache
	hostIDs HostIDManager
	logger  *logging.Logger
	notify  StateChangeFunc

	poolDomain atomic.Bool
	t          tomb.Tomb

	mu     sync.RWMutex
	status Status

	domain      Handle
	isIsoDomain *bool
	isoPrefix   string
	lastRefresh time.Time
	firstChange bool
}

func newTask(sdUUID uuid.UUID, hostID int, poolDomain bool, interval, refresh time.Duration, c clock.Clock, cache Cache, hostIDs HostIDManager, logger *logging.Logger, notify StateChangeFunc) *task {
	tk := &task{
		sdUUID:      sdUUID,
		hostID:      hostID,
		interval:    interval,
		refresh:     refresh,
		clock:       c,
		cache:       cache,
		hostIDs:     hostIDs,
		logger:      logger,
		notify:      notify,
		firstChange: true,
		lastRefresh: c.Now(),
		status:      Status{Valid: true, CheckTime: c.Now()},
	}
	tk.poolDomain.Store(poolDomain)
	return tk
}

func (tk *task) start() {
	tk.t.Go(tk.run)
}

func (tk *task) stop() {
	tk.t.Kill(nil)
}

func (tk *task) wait() error {
	return tk.t.Wait()
}

func (tk *task) getStatus() Status {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return tk.status
}

func (tk *task) orPoolDomain(v bool) {
	if v {
		tk.poolDomain.Store(true)
	}
}

func (tk *task) run() error {
	ctx := tk.t.Context(context.Background())
	defer tk.shutdown()

	for {
		tk.tick(ctx)

		select {
		case <-tk.t.Dying():
			return tomb.ErrDying
		case <-tk.clock.After(tk.interval):
		}
	}
}

// tick implements _monitorDomain: a single probe-and-report cycle.
func (tk *task) tick(ctx context.Context) {
	next := Status{Valid: true}

	if tk.clock.Now().Sub(tk.lastRefresh) > tk.refresh {
		tk.cache.ManuallyRemoveDomain(tk.sdUUID)
		tk.lastRefresh = tk.clock.Now()
		tk.domain = nil
	}

	if err := tk.collect(ctx, &next); err != nil {
		tk.logger.Error("domain monitor collection failed", "domain", tk.sdUUID, "error", err)
		next.Error = err
	}
	next.Valid = next.Error == nil
	next.CheckTime = tk.clock.Now()

	prev := tk.getStatus()
	if tk.firstChange || prev.Valid != next.Valid {
		tk.notifySafe(next.Valid)
		tk.firstChange = false
	}

	if tk.isIsoDomain != nil && !*tk.isIsoDomain && next.Valid && !next.HasHostID {
		go tk.acquireHostID(ctx)
	}

	tk.mu.Lock()
	tk.status = next
	tk.mu.Unlock()
}

// collect runs steps 3-7 of spec.md §4.8's loop body: produce the
// domain handle if missing, resolve its ISO-ness, self-test, measure
// read delay, and gather stats. Any failure aborts the remaining steps
// and is reported to the caller, which records it as nextStatus.error.
func (tk *task) collect(ctx context.Context, next *Status) error {
	if tk.domain == nil {
		d, err := tk.cache.Produce(ctx, tk.sdUUID)
		if err != nil {
			return fmt.Errorf("produce domain %s: %w", tk.sdUUID, err)
		}
		tk.domain = d
	}

	if tk.isIsoDomain == nil {
		iso, err := tk.domain.IsISO(ctx)
		if err != nil {
			return fmt.Errorf("resolve ISO domain %s: %w", tk.sdUUID, err)
		}
		tk.isIsoDomain = &iso
		if iso {
			if prefix, err := tk.domain.IsoImagesDir(ctx); err == nil {
				tk.isoPrefix = prefix
			}
		}
	}

	if err := tk.domain.SelfTest(ctx); err != nil {
		return fmt.Errorf("selftest %s: %w", tk.sdUUID, err)
	}

	delay, err := tk.domain.ReadDelay(ctx)
	if err != nil {
		return fmt.Errorf("read delay %s: %w", tk.sdUUID, err)
	}
	next.ReadDelay = delay

	stats, err := tk.domain.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats %s: %w", tk.sdUUID, err)
	}
	next.DiskTotal = stats.DiskTotal
	next.DiskFree = stats.DiskFree
	next.VGMDSize = stats.VGMetadataSize
	next.VGMDFree = stats.VGMetadataFree
	next.VGMDValid = stats.VGMetadataValid
	next.VGMDBelowThreshold = stats.VGMetadataBelowThreshold

	master, err := tk.domain.ValidateMaster(ctx)
	if err != nil {
		return fmt.Errorf("validate master %s: %w", tk.sdUUID, err)
	}
	next.MasterValid = master.Valid
	next.MasterMounted = master.Mounted

	hasHostID, err := tk.domain.HasHostID(ctx, tk.hostID)
	if err != nil {
		return fmt.Errorf("has host id %s: %w", tk.sdUUID, err)
	}
	next.HasHostID = hasHostID
	next.IsoPrefix = tk.isoPrefix

	version, err := tk.domain.Version(ctx)
	if err != nil {
		return fmt.Errorf("version %s: %w", tk.sdUUID, err)
	}
	next.Version = version

	return nil
}

func (tk *task) notifySafe(valid bool) {
	defer func() {
		if r := recover(); r != nil {
			tk.logger.Warn("domain state change subscriber panicked", "domain", tk.sdUUID, "panic", r)
		}
	}()
	if tk.notify != nil {
		tk.notify(tk.sdUUID, valid)
	}
}

func (tk *task) acquireHostID(ctx context.Context) {
	if err := tk.hostIDs.AcquireHostID(ctx, tk.sdUUID, tk.hostID); err != nil {
		tk.logger.Debug("acquire host id request failed, will retry next tick", "domain", tk.sdUUID, "host_id", tk.hostID, "error", err)
	}
}

// shutdown implements the original's "release host id iff domain handle
// was produced and not an ISO domain" rule.
func (tk *task) shutdown() {
	if tk.domain == nil || tk.isIsoDomain == nil || *tk.isIsoDomain {
		return
	}
	if err := tk.hostIDs.ReleaseHostID(tk.sdUUID, tk.hostID); err != nil {
		tk.logger.Debug("release host id failed", "domain", tk.sdUUID, "host_id", tk.hostID, "error", err)
	}
}
