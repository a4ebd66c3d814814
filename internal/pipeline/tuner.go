package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// latencyWindow is a fixed-capacity ring of recent end-to-end chunk latencies.
// Old samples are overwritten once the window is full.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  int
}

func newLatencyWindow(capacity int) *latencyWindow {
	if capacity <= 0 {
		capacity = defaultWindowSize
	}
	return &latencyWindow{samples: make([]time.Duration, capacity)}
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.filled < len(w.samples) {
		w.filled++
	}
}

// average returns the mean of the recorded samples and the sample count.
func (w *latencyWindow) average() (time.Duration, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.filled == 0 {
		return 0, 0
	}
	var sum time.Duration
	for i := 0; i < w.filled; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(w.filled), w.filled
}

// full reports whether the window has wrapped at least once.
func (w *latencyWindow) full() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.filled == len(w.samples)
}

// tune runs the bottleneck analysis for one over-target chunk and applies at
// most one corrective action. Actions are tried in order of least disruption:
//
//  1. Grow the bottleneck stage's worker pool (parallel stages only, bounded
//     by the ceiling).
//  2. Shrink the bottleneck stage's timeout (bounded by the floor).
//  3. Shrink the global batch-size parameter (bounded by minBatchSize).
//
// Every action is monotonic, so repeated tuning converges instead of
// oscillating. When all three knobs are exhausted the chunk is only logged.
func (p *Pipeline) tune(ctx context.Context, pc *Context) {
	stage, share := p.bottleneck(pc)
	if stage == nil {
		return
	}

	log := slog.With(
		slog.String("session_id", pc.SessionID),
		slog.String("stage", stage.Name),
		slog.Duration("total", pc.Total),
		slog.Duration("target", p.targetLatency),
		slog.Float64("share", share),
	)

	switch {
	case stage.grow(p.maxWorkers):
		log.InfoContext(ctx, "pipeline over target, grew bottleneck worker pool",
			slog.Int("workers", stage.currentWorkers()))
	case stage.shrinkTimeout(p.minStageTimeout):
		log.InfoContext(ctx, "pipeline over target, shrank bottleneck stage timeout",
			slog.Duration("timeout", stage.currentTimeout()))
	case p.shrinkBatch():
		log.InfoContext(ctx, "pipeline over target, shrank global batch size",
			slog.Int("batch_size", p.BatchSize()))
	default:
		log.DebugContext(ctx, "pipeline over target, all corrective actions exhausted")
	}
}

// bottleneck returns the stage with the largest latency share of the chunk,
// along with its share of the total. Returns nil when no stage recorded a
// duration.
func (p *Pipeline) bottleneck(pc *Context) (*stageState, float64) {
	breakdown := pc.Breakdown()

	var worst *stageState
	var worstDur time.Duration
	for name, dur := range breakdown {
		if dur > worstDur {
			if st, ok := p.byName[name]; ok {
				worst = st
				worstDur = dur
			}
		}
	}
	if worst == nil || pc.Total <= 0 {
		return nil, 0
	}
	return worst, float64(worstDur) / float64(pc.Total)
}

// shrinkBatch decrements the global batch size, bounded below by
// minBatchSize. Returns false when already at the minimum.
func (p *Pipeline) shrinkBatch() bool {
	for {
		cur := p.batchSize.Load()
		if cur <= minBatchSize {
			return false
		}
		if p.batchSize.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}
