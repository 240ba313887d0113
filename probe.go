package easel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// SystemStats is the backend's system report, already normalized.
type SystemStats struct {
	Version   string
	GPUName   string
	VRAMTotal int64 // bytes
	VRAMFree  int64 // bytes
}

// QueueInfo is the backend queue depth.
type QueueInfo struct {
	Running int
	Pending int
}

// Backend is the surface of the graph-execution client the probe needs.
type Backend interface {
	HealthCheck(ctx context.Context) error
	SystemStats(ctx context.Context) (SystemStats, error)
	ListModels(ctx context.Context, folder string) ([]string, error)
	Queue(ctx context.Context) (QueueInfo, error)
}

// NodeCatalog is the local node index surface the probe reads.
type NodeCatalog interface {
	Built() bool
	NodeCount() int
	Categories() []string
}

const defaultProbeRefresh = 300 * time.Second

// EnvironmentProbe produces EnvironmentSnapshots from the backend.
// Each sub-collection is independent: one API failure is recorded in
// the snapshot's Errors but never aborts the probe. Snapshots are
// cached for the refresh interval.
type EnvironmentProbe struct {
	client   Backend
	catalog  NodeCatalog
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cached *EnvironmentSnapshot
}

// ProbeOption configures an EnvironmentProbe.
type ProbeOption func(*EnvironmentProbe)

// WithProbeInterval sets the cache refresh interval (default 300s).
func WithProbeInterval(d time.Duration) ProbeOption {
	return func(p *EnvironmentProbe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeLogger sets a structured logger.
func WithProbeLogger(l *slog.Logger) ProbeOption {
	return func(p *EnvironmentProbe) { p.logger = l }
}

// NewEnvironmentProbe creates a probe over the given backend client and
// node catalog. catalog may be nil.
func NewEnvironmentProbe(client Backend, catalog NodeCatalog, opts ...ProbeOption) *EnvironmentProbe {
	p := &EnvironmentProbe{
		client:   client,
		catalog:  catalog,
		interval: defaultProbeRefresh,
		logger:   nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Snapshot returns the cached snapshot if younger than the refresh
// interval, otherwise re-collects.
func (p *EnvironmentProbe) Snapshot(ctx context.Context) EnvironmentSnapshot {
	p.mu.Lock()
	if p.cached != nil && time.Since(time.Unix(p.cached.CollectedAt, 0)) < p.interval {
		snap := *p.cached
		p.mu.Unlock()
		return snap
	}
	p.mu.Unlock()
	return p.Collect(ctx)
}

// Refresh forces a re-collect, replacing the cache.
func (p *EnvironmentProbe) Refresh(ctx context.Context) {
	p.Collect(ctx)
}

// Collect gathers a full snapshot. Never fails: the health check gates
// the remote sub-collectors, and every sub-collector failure lands in
// Errors. The remote collectors run concurrently.
func (p *EnvironmentProbe) Collect(ctx context.Context) EnvironmentSnapshot {
	snap := EnvironmentSnapshot{CollectedAt: NowUnix()}

	if err := p.client.HealthCheck(ctx); err != nil {
		snap.Errors = append(snap.Errors, fmt.Sprintf("health_check: %v", err))
	} else {
		snap.ConnectionOK = true
	}

	if snap.ConnectionOK {
		var (
			statsErr, modelsErr, queueErr error
			stats                         SystemStats
			models                        []string
			queue                         QueueInfo
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { stats, statsErr = p.client.SystemStats(gctx); return nil })
		g.Go(func() error { models, modelsErr = p.client.ListModels(gctx, "checkpoints"); return nil })
		g.Go(func() error { queue, queueErr = p.client.Queue(gctx); return nil })
		_ = g.Wait()

		if statsErr != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("system_stats: %v", statsErr))
		} else {
			snap.BackendVersion = stats.Version
			snap.GPUName = stats.GPUName
			snap.VRAMTotalMB = float64(stats.VRAMTotal) / (1024 * 1024)
			snap.VRAMFreeMB = float64(stats.VRAMFree) / (1024 * 1024)
		}
		if modelsErr != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("list_models: %v", modelsErr))
		} else {
			snap.CheckpointModels = models
		}
		if queueErr != nil {
			snap.Errors = append(snap.Errors, fmt.Sprintf("get_queue: %v", queueErr))
		} else {
			snap.QueueRunning = queue.Running
			snap.QueuePending = queue.Pending
		}
	}

	if p.catalog != nil && p.catalog.Built() {
		snap.NodeCount = p.catalog.NodeCount()
		snap.NodeCategories = p.catalog.Categories()
	}

	p.mu.Lock()
	p.cached = &snap
	p.mu.Unlock()

	p.logger.Debug("environment collected", "connected", snap.ConnectionOK, "errors", len(snap.Errors))
	return snap
}
