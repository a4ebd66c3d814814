package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor periodically inspects a pipeline's rolling latency window and
// raises an observability signal when sustained degradation is detected. It
// never mutates pipeline state; tuning is the pipeline's own job.
//
// Degradation is "sustained" when the window has wrapped at least once and
// its average exceeds the latency target. A single slow chunk cannot trip the
// monitor.
type Monitor struct {
	pipeline *Pipeline
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	done      chan struct{}
	stopped   bool
	lastAlert time.Time
}

// NewMonitor creates a monitor for p checking every interval. The monitor is
// inert until [Monitor.Start] is called.
func NewMonitor(p *Pipeline, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{
		pipeline: p,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start launches the background check loop. It returns immediately; the loop
// runs until ctx is cancelled or [Monitor.Stop] is called.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case <-ticker.C:
				m.check(ctx)
			}
		}
	}()
}

// Stop terminates the check loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	close(m.done)
}

// Stopped reports whether Stop has been called.
func (m *Monitor) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// check performs one degradation evaluation. Exported behaviour is a metric
// increment plus a warning log; no pipeline state changes.
func (m *Monitor) check(ctx context.Context) {
	if !m.pipeline.window.full() {
		return
	}
	avg, n := m.pipeline.window.average()
	target := m.pipeline.TargetLatency()
	if avg <= target {
		return
	}

	m.mu.Lock()
	m.lastAlert = m.now()
	m.mu.Unlock()

	m.pipeline.metrics.LatencyDegradations.Add(ctx, 1)
	slog.WarnContext(ctx, "sustained pipeline latency degradation",
		slog.Duration("window_avg", avg),
		slog.Duration("target", target),
		slog.Int("window_samples", n),
	)
}

// LastAlert returns the time of the most recent degradation signal, zero if
// none has been raised.
func (m *Monitor) LastAlert() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAlert
}
