// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vnetd/internal/clock"
	"grimm.is/vnetd/internal/config"
	"grimm.is/vnetd/internal/logging"
)

type fakeHandle struct {
	mu      sync.Mutex
	failing bool
	isISO   bool
	hasHost bool
}

func (h *fakeHandle) IsISO(ctx context.Context) (bool, error)        { return h.isISO, nil }
func (h *fakeHandle) IsoImagesDir(ctx context.Context) (string, error) { return "/iso", nil }
func (h *fakeHandle) SelfTest(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failing {
		return errors.New("selftest failed")
	}
	return nil
}
func (h *fakeHandle) ReadDelay(ctx context.Context) (time.Duration, error) { return time.Millisecond, nil }
func (h *fakeHandle) Stats(ctx context.Context) (Stats, error)            { return Stats{DiskTotal: 100, DiskFree: 50}, nil }
func (h *fakeHandle) ValidateMaster(ctx context.Context) (MasterStatus, error) {
	return MasterStatus{Valid: true, Mounted: true}, nil
}
func (h *fakeHandle) HasHostID(ctx context.Context, hostID int) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hasHost, nil
}
func (h *fakeHandle) Version(ctx context.Context) (int, error) { return 4, nil }

func (h *fakeHandle) setFailing(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failing = v
}

type fakeCache struct {
	mu      sync.Mutex
	handles map[uuid.UUID]*fakeHandle
	removed int
}

func newFakeCache() *fakeCache { return &fakeCache{handles: make(map[uuid.UUID]*fakeHandle)} }

func (c *fakeCache) Produce(ctx context.Context, sdUUID uuid.UUID) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[sdUUID]
	if !ok {
		h = &fakeHandle{}
		c.handles[sdUUID] = h
	}
	return h, nil
}

func (c *fakeCache) ManuallyRemoveDomain(sdUUID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed++
}

type fakeHostIDs struct {
	mu        sync.Mutex
	acquired  int
	released  int
}

func (f *fakeHostIDs) AcquireHostID(ctx context.Context, sdUUID uuid.UUID, hostID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired++
	return nil
}

func (f *fakeHostIDs) ReleaseHostID(sdUUID uuid.UUID, hostID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func testPool(t *testing.T, mc *clock.MockClock) (*Pool, *fakeCache, *fakeHostIDs) {
	t.Helper()
	cache := newFakeCache()
	hostIDs := &fakeHostIDs{}
	cfg := config.Default()
	cfg.MonitorIntervalSeconds = 1
	cfg.RefreshTimeSeconds = 3600
	p := NewPool(cfg, cache, hostIDs, logging.New(logging.DefaultConfig()))
	p.clock = mc
	return p, cache, hostIDs
}

func TestStartMonitoringIsIdempotentAndOrsPoolDomain(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	p, _, _ := testPool(t, mc)
	id := uuid.New()

	p.StartMonitoring(id, 1, false)
	p.StartMonitoring(id, 1, true)

	p.mu.Lock()
	tk := p.tasks[id]
	p.mu.Unlock()
	require.NotNil(t, tk)
	assert.True(t, tk.poolDomain.Load())

	p.Close()
}

func TestGetMonitoredDomainsStatusReflectsValidity(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	p, cache, _ := testPool(t, mc)
	id := uuid.New()

	p.StartMonitoring(id, 1, true)

	require.Eventually(t, func() bool {
		for _, st := range p.GetMonitoredDomainsStatus() {
			return st.Valid
		}
		return false
	}, time.Second, time.Millisecond)

	cache.mu.Lock()
	h := cache.handles[id]
	cache.mu.Unlock()
	h.setFailing(true)

	mc.Advance(2 * time.Second)

	require.Eventually(t, func() bool {
		for _, st := range p.GetMonitoredDomainsStatus() {
			return !st.Valid
		}
		return false
	}, time.Second, time.Millisecond)

	p.Close()
}

func TestOnDomainStateChangeFiresOnTransitionNotEveryTick(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	p, _, _ := testPool(t, mc)
	id := uuid.New()

	var mu sync.Mutex
	var events []bool
	p.OnDomainStateChange(func(sdUUID uuid.UUID, valid bool) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, valid)
	})

	p.StartMonitoring(id, 1, true)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 1
	}, time.Second, time.Millisecond)

	mc.Advance(2 * time.Second)
	mc.Advance(2 * time.Second)

	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, len(events), "validity never changed, so no further events expected")
	mu.Unlock()

	p.Close()
}

func TestStopMonitoringReleasesHostIDWhenNotISO(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	p, _, hostIDs := testPool(t, mc)
	id := uuid.New()

	p.StartMonitoring(id, 7, true)
	require.Eventually(t, func() bool {
		for range p.GetMonitoredDomainsStatus() {
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	p.StopMonitoring([]uuid.UUID{id})

	hostIDs.mu.Lock()
	defer hostIDs.mu.Unlock()
	assert.Equal(t, 1, hostIDs.released)

	p.mu.Lock()
	_, stillThere := p.tasks[id]
	p.mu.Unlock()
	assert.False(t, stillThere)
}

func TestPoolMonitoredDomainsFiltersByFlag(t *testing.T) {
	mc := clock.NewMockClock(time.Unix(0, 0))
	p, _, _ := testPool(t, mc)
	poolID := uuid.New()
	nonPoolID := uuid.New()

	p.StartMonitoring(poolID, 1, true)
	p.StartMonitoring(nonPoolID, 1, false)

	assert.ElementsMatch(t, []uuid.UUID{poolID}, p.PoolMonitoredDomains())

	p.Close()
}
