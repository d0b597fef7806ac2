// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package monitor

import (
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/vnetd/internal/clock"
	"grimm.is/vnetd/internal/config"
	"grimm.is/vnetd/internal/logging"
)

var poolSizeGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "vnetd",
	Subsystem: "domain_monitor",
	Name:      "monitored_domains",
	Help:      "Number of storage domains currently monitored.",
})

func init() {
	prometheus.MustRegister(poolSizeGauge)
}

// Pool is the domain monitor pool (C7): one task per monitored domain,
// keyed by sdUUID. Pool owns no storage state itself; it only starts,
// stops, and fans out status reads across the tasks it tracks.
type Pool struct {
	interval time.Duration
	refresh  time.Duration
	clock    clock.Clock
	cache    Cache
	hostIDs  HostIDManager
	logger   *logging.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*task

	subMu       sync.RWMutex
	subscribers []StateChangeFunc
}

// NewPool builds a Pool using cfg's monitor_interval_seconds and
// refresh_time_seconds (spec.md §4.8 step 2's irs.repo_stats_cache_refresh_timeout).
func NewPool(cfg *config.Config, cache Cache, hostIDs HostIDManager, logger *logging.Logger) *Pool {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Pool{
		interval: cfg.MonitorInterval(),
		refresh:  cfg.RefreshTime(),
		clock:    clock.Default,
		cache:    cache,
		hostIDs:  hostIDs,
		logger:   logger.WithComponent("domain-monitor"),
		tasks:    make(map[uuid.UUID]*task),
	}
}

// StartMonitoring is idempotent: if sdUUID is already monitored, its
// poolDomain flag is OR'd with the new value and the call returns
// without touching the running task.
func (p *Pool) StartMonitoring(sdUUID uuid.UUID, hostID int, poolDomain bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tk, ok := p.tasks[sdUUID]; ok {
		tk.orPoolDomain(poolDomain)
		return
	}

	p.logger.Info("start monitoring", "domain", sdUUID)
	tk := newTask(sdUUID, hostID, poolDomain, p.interval, p.refresh, p.clock, p.cache, p.hostIDs, p.logger, p.emit)
	p.tasks[sdUUID] = tk
	tk.start()
	poolSizeGauge.Set(float64(len(p.tasks)))
}

// StopMonitoring stops the named monitors and blocks until they exit.
func (p *Pool) StopMonitoring(sdUUIDs []uuid.UUID) {
	want := make(map[uuid.UUID]bool, len(sdUUIDs))
	for _, id := range sdUUIDs {
		want[id] = true
	}

	p.mu.Lock()
	var targets []*task
	for id, tk := range p.tasks {
		if want[id] {
			targets = append(targets, tk)
		}
	}
	p.mu.Unlock()

	p.stopAndJoin(targets)
}

// Close stops every monitored domain.
func (p *Pool) Close() {
	p.logger.Info("stopping all domain monitors")
	p.mu.Lock()
	targets := make([]*task, 0, len(p.tasks))
	for _, tk := range p.tasks {
		targets = append(targets, tk)
	}
	p.mu.Unlock()

	p.stopAndJoin(targets)
}

// stopAndJoin implements the two-phase stop protocol spec.md §4.7
// requires: signal every target first, then join. Reversing the order
// would let a still-running monitor re-acquire a host-id another
// monitor just released.
func (p *Pool) stopAndJoin(targets []*task) {
	for _, tk := range targets {
		p.logger.Info("stop monitoring", "domain", tk.sdUUID)
		tk.stop()
	}

	for _, tk := range targets {
		if err := tk.wait(); err != nil {
			p.logger.Debug("monitor task exited", "domain", tk.sdUUID, "error", err)
		}

		p.mu.Lock()
		if cur, ok := p.tasks[tk.sdUUID]; ok && cur == tk {
			delete(p.tasks, tk.sdUUID)
		} else {
			p.logger.Warn("monitor removed while stopping", "domain", tk.sdUUID)
		}
		size := len(p.tasks)
		p.mu.Unlock()

		poolSizeGauge.Set(float64(size))
	}
}

// GetMonitoredDomainsStatus produces a lazy sequence of (sdUUID,
// Status) snapshots, matching the original's generator-based API.
func (p *Pool) GetMonitoredDomainsStatus() iter.Seq2[uuid.UUID, Status] {
	return func(yield func(uuid.UUID, Status) bool) {
		p.mu.Lock()
		tasks := make([]*task, 0, len(p.tasks))
		for _, tk := range p.tasks {
			tasks = append(tasks, tk)
		}
		p.mu.Unlock()

		for _, tk := range tasks {
			if !yield(tk.sdUUID, tk.getStatus()) {
				return
			}
		}
	}
}

// PoolMonitoredDomains returns the sdUUIDs monitored with poolDomain=true.
func (p *Pool) PoolMonitoredDomains() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []uuid.UUID
	for id, tk := range p.tasks {
		if tk.poolDomain.Load() {
			out = append(out, id)
		}
	}
	return out
}

// OnDomainStateChange registers a multi-subscriber callback for
// validity transitions. Subscribers run on the emitting task's
// goroutine and must not block.
func (p *Pool) OnDomainStateChange(fn StateChangeFunc) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}

func (p *Pool) emit(sdUUID uuid.UUID, valid bool) {
	p.subMu.RLock()
	subs := append([]StateChangeFunc(nil), p.subscribers...)
	p.subMu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Warn("domain state change subscriber panicked", "domain", sdUUID, "panic", r)
				}
			}()
			fn(sdUUID, valid)
		}()
	}
}
