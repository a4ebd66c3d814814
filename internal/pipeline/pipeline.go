// Package pipeline implements the latency-optimising multi-stage processing
// orchestrator at the heart of the transcription data path.
//
// A [Pipeline] holds an ordered list of named stages. Stages sharing a
// priority run concurrently; priority groups execute in ascending order. Each
// stage call is deadline-bound and produces a tagged [StageResult] — a stage
// timeout or failure never aborts the chunk, downstream stages observe the
// failure through the shared per-chunk [Context] and skip themselves.
//
// After every chunk the pipeline compares end-to-end latency against the
// configured target. When the target is exceeded, a bottleneck analysis picks
// the stage consuming the largest share of the budget and applies one capped
// corrective action (grow that stage's worker pool, shrink its timeout, or
// shrink the global batch size). All corrective actions are monotonic and
// bounded so a transient spike can never tune the pipeline into the ground.
//
// A background [Monitor] watches the rolling latency window and raises an
// observability signal on sustained degradation without mutating any state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kestrelaudio/verbatim/internal/observe"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

const (
	// defaultMaxWorkers is the hard ceiling a stage's worker pool can grow to.
	defaultMaxWorkers = 8

	// defaultMinStageTimeout is the floor below which a stage timeout is never
	// shrunk.
	defaultMinStageTimeout = 50 * time.Millisecond

	// defaultWindowSize is the number of recent chunk latencies kept for the
	// rolling-window analysis.
	defaultWindowSize = 32

	// defaultBatchSize is the initial global batch-size parameter. Consumers
	// read it via [Pipeline.BatchSize]; corrective actions may shrink it down
	// to minBatchSize.
	defaultBatchSize = 4
	minBatchSize     = 1

	// timeoutShrinkFactor is applied to a stage's timeout when the tuner
	// decides to shrink it.
	timeoutShrinkFactor = 0.8
)

// ErrSkipped is returned by a stage processor to indicate the stage chose not
// to run, typically because a required upstream result is missing. Skips are
// recorded as [StatusSkipped] rather than failures.
var ErrSkipped = errors.New("pipeline: stage skipped")

// StageStatus tags the outcome variant of a single stage execution.
type StageStatus int

const (
	// StatusOK means the processor returned without error before its deadline.
	StatusOK StageStatus = iota
	// StatusFailed means the processor returned an error.
	StatusFailed
	// StatusTimeout means the stage deadline elapsed before the processor
	// returned.
	StatusTimeout
	// StatusSkipped means the processor declined to run via [ErrSkipped].
	StatusSkipped
)

// String returns a human-readable status name, used as a metric attribute.
func (s StageStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// StageResult is the fixed-schema outcome of one stage execution. Exactly one
// of the success/failure variants applies, tagged by Status.
type StageResult struct {
	Status   StageStatus
	Err      error
	Duration time.Duration
}

// OK reports whether the stage completed successfully.
func (r StageResult) OK() bool { return r.Status == StatusOK }

// Processor is the unit of work a stage runs for each chunk. Implementations
// must honour ctx cancellation; the pipeline additionally guards against
// processors that do not by abandoning them at the deadline. Writes to state
// shared beyond the stage call must go through [Publish] so an abandoned
// processor cannot race with later stages.
type Processor interface {
	Process(ctx context.Context, pc *Context) error
}

// ProcessorFunc adapts a plain function to the [Processor] interface.
type ProcessorFunc func(ctx context.Context, pc *Context) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, pc *Context) error { return f(ctx, pc) }

// Stage describes one named step of the pipeline.
type Stage struct {
	// Name identifies the stage in results, logs, and metrics.
	Name string

	// Processor performs the stage's work.
	Processor Processor

	// Parallel marks the stage as safe to run with more than one worker.
	// Sequential stages (Parallel=false) are pinned to a single worker and
	// are never grown by the tuner.
	Parallel bool

	// Workers is the initial worker-pool size. Defaults to 1.
	Workers int

	// Timeout bounds a single execution. Defaults to 200ms.
	Timeout time.Duration

	// Priority orders execution: lower priorities run first, equal priorities
	// run concurrently.
	Priority int
}

// Context is the per-chunk state shared by all stages of one pipeline pass.
// It is created at pipeline entry and discarded after the chunk completes;
// it is never shared across chunks.
//
// The typed fields form the fixed schema of the data path: each stage writes
// the slot it owns and reads the slots of upstream stages. A nil slot means
// the upstream stage failed or was skipped.
type Context struct {
	SessionID  string
	ChunkIndex uint64
	Audio      types.AudioFrame
	IsFinal    bool
	EnqueuedAt time.Time

	// Fragment and Chunk are set by the transcription stage.
	Fragment *types.TranscriptFragment
	Chunk    *types.TranscriptionChunk

	// DisplayText and StabilityScore are set by the text-building stage.
	DisplayText    string
	StabilityScore float64

	// ValidationAction is the hallucination verdict ("allow", "review",
	// "filter", "block") set by the validation stage. ValidationType names
	// the dominant hallucination type when one was detected, and
	// CorrectedText carries the filtered replacement text.
	ValidationAction string
	ValidationType   string
	CorrectedText    string

	// Total is the end-to-end duration of the pass, set by [Pipeline.Run].
	Total time.Duration

	mu      sync.Mutex
	results map[string]StageResult
}

// NewContext creates a pipeline context for one chunk.
func NewContext(sessionID string, chunkIndex uint64, audio types.AudioFrame) *Context {
	return &Context{
		SessionID:  sessionID,
		ChunkIndex: chunkIndex,
		Audio:      audio,
		results:    make(map[string]StageResult),
	}
}

// setResult records the outcome of a stage. Safe for concurrent use by stages
// within the same priority group.
func (c *Context) setResult(stage string, r StageResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[stage] = r
}

// Result returns the recorded outcome of a stage, and whether the stage has
// run at all.
func (c *Context) Result(stage string) (StageResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[stage]
	return r, ok
}

// Succeeded reports whether the named stage ran and completed successfully.
// Downstream processors use it to tolerate missing upstream results.
func (c *Context) Succeeded(stage string) bool {
	r, ok := c.Result(stage)
	return ok && r.OK()
}

// Breakdown returns a copy of the per-stage latency breakdown.
func (c *Context) Breakdown() map[string]time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Duration, len(c.results))
	for name, r := range c.results {
		out[name] = r.Duration
	}
	return out
}

// stageState is the runtime state of one configured stage. The worker pool is
// a weighted semaphore created at the hard ceiling with the unused capacity
// reserved up front; growing the pool releases reserved capacity, which makes
// growth monotonic and bounded by construction.
type stageState struct {
	Stage

	pool *semaphore.Weighted

	mu      sync.Mutex
	workers int
	timeout time.Duration
}

// currentTimeout returns the stage's tuned timeout.
func (s *stageState) currentTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// currentWorkers returns the stage's tuned worker-pool size.
func (s *stageState) currentWorkers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workers
}

// grow widens the worker pool by one, bounded by maxWorkers. Returns false
// when the stage is sequential or already at the ceiling.
func (s *stageState) grow(maxWorkers int) bool {
	if !s.Parallel {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers >= maxWorkers {
		return false
	}
	s.workers++
	s.pool.Release(1)
	return true
}

// shrinkTimeout reduces the stage timeout by timeoutShrinkFactor, bounded
// below by floor. Returns false when the timeout is already at the floor.
func (s *stageState) shrinkTimeout(floor time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := time.Duration(float64(s.timeout) * timeoutShrinkFactor)
	if next < floor {
		next = floor
	}
	if next >= s.timeout {
		return false
	}
	s.timeout = next
	return true
}

// Pipeline executes stages against per-chunk contexts. Safe for concurrent
// use; multiple chunks may be in flight as long as per-stage worker pools
// permit.
type Pipeline struct {
	groups  [][]*stageState
	byName  map[string]*stageState
	metrics *observe.Metrics

	targetLatency   time.Duration
	maxWorkers      int
	minStageTimeout time.Duration

	window    *latencyWindow
	batchSize atomic.Int64
}

// Option is a functional option for configuring a Pipeline during construction.
type Option func(*Pipeline)

// WithTargetLatency sets the end-to-end latency target that triggers
// corrective tuning. Default is 400ms.
func WithTargetLatency(d time.Duration) Option {
	return func(p *Pipeline) { p.targetLatency = d }
}

// WithMaxWorkers sets the hard ceiling for any stage's worker pool. Default
// is 8.
func WithMaxWorkers(n int) Option {
	return func(p *Pipeline) { p.maxWorkers = n }
}

// WithMinStageTimeout sets the floor below which stage timeouts are never
// shrunk. Default is 50ms.
func WithMinStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.minStageTimeout = d }
}

// WithMetrics sets the metrics instance used for stage and pipeline latency
// recording. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithWindowSize sets the rolling latency window length. Default is 32.
func WithWindowSize(n int) Option {
	return func(p *Pipeline) { p.window = newLatencyWindow(n) }
}

// New constructs a Pipeline from the given stages. Stage defaults are applied
// (1 worker, 200ms timeout), then stages are grouped by priority in ascending
// order. Construction fails on duplicate stage names or a stage without a
// processor.
func New(stages []Stage, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		byName:          make(map[string]*stageState, len(stages)),
		targetLatency:   400 * time.Millisecond,
		maxWorkers:      defaultMaxWorkers,
		minStageTimeout: defaultMinStageTimeout,
	}
	p.batchSize.Store(defaultBatchSize)
	for _, o := range opts {
		o(p)
	}
	if p.window == nil {
		p.window = newLatencyWindow(defaultWindowSize)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	states := make([]*stageState, 0, len(stages))
	for _, st := range stages {
		if st.Name == "" {
			return nil, errors.New("pipeline: stage without a name")
		}
		if st.Processor == nil {
			return nil, fmt.Errorf("pipeline: stage %q has no processor", st.Name)
		}
		if _, dup := p.byName[st.Name]; dup {
			return nil, fmt.Errorf("pipeline: duplicate stage name %q", st.Name)
		}
		if st.Workers <= 0 {
			st.Workers = 1
		}
		if !st.Parallel {
			st.Workers = 1
		}
		if st.Workers > p.maxWorkers {
			st.Workers = p.maxWorkers
		}
		if st.Timeout <= 0 {
			st.Timeout = 200 * time.Millisecond
		}

		ss := &stageState{
			Stage:   st,
			pool:    semaphore.NewWeighted(int64(p.maxWorkers)),
			workers: st.Workers,
			timeout: st.Timeout,
		}
		// Reserve the capacity above the initial pool size. Growing the pool
		// later releases reserved units, so the ceiling holds by construction.
		if reserve := int64(p.maxWorkers - st.Workers); reserve > 0 {
			if err := ss.pool.Acquire(context.Background(), reserve); err != nil {
				return nil, fmt.Errorf("pipeline: reserving pool capacity for %q: %w", st.Name, err)
			}
		}
		states = append(states, ss)
		p.byName[st.Name] = ss
	}

	sort.SliceStable(states, func(i, j int) bool {
		return states[i].Priority < states[j].Priority
	})
	for i := 0; i < len(states); {
		j := i
		for j < len(states) && states[j].Priority == states[i].Priority {
			j++
		}
		p.groups = append(p.groups, states[i:j])
		i = j
	}

	return p, nil
}

// Run executes all stage groups against pc in priority order. Stage failures
// and timeouts are recorded in pc and never abort the pass; Run returns an
// error only when ctx itself is cancelled between groups.
//
// Global bound: a pass never takes longer than the sum of the per-group
// maximum timeouts, even when a processor ignores its deadline.
func (p *Pipeline) Run(ctx context.Context, pc *Context) error {
	start := time.Now()

	for _, group := range p.groups {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: cancelled before stage group: %w", err)
		}

		g := new(errgroup.Group)
		for _, st := range group {
			g.Go(func() error {
				p.runStage(ctx, st, pc)
				return nil
			})
		}
		_ = g.Wait()
	}

	pc.Total = time.Since(start)
	p.window.add(pc.Total)
	p.metrics.PipelineDuration.Record(ctx, pc.Total.Seconds())

	if pc.Total > p.targetLatency {
		p.tune(ctx, pc)
	}
	return nil
}

// execution guards the side effects of one stage call. Abandoning it flips a
// flag under the same mutex that serialises publishes, so once abandon returns
// no further write from that processor can land.
type execution struct {
	mu        sync.Mutex
	abandoned bool
}

func (e *execution) publish(fn func()) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.abandoned {
		return false
	}
	fn()
	return true
}

// abandon blocks until any in-flight publish completes.
func (e *execution) abandon() {
	e.mu.Lock()
	e.abandoned = true
	e.mu.Unlock()
}

// execKey carries the stage's execution guard in the processor context.
type execKey struct{}

// Publish runs fn if the surrounding stage execution is still live and
// reports whether it ran. Stage processors must route every write to state
// that outlives the call — context slots, session components — through
// Publish: a processor abandoned at its deadline then has its late writes
// dropped instead of racing with later stages. On a context without a stage
// execution, fn always runs.
func Publish(ctx context.Context, fn func()) bool {
	e, ok := ctx.Value(execKey{}).(*execution)
	if !ok {
		fn()
		return true
	}
	return e.publish(fn)
}

// runStage acquires a worker slot, executes the processor under its deadline,
// and records the tagged result. A processor that ignores its deadline is
// abandoned: its eventual return value is discarded and its remaining
// [Publish] calls are rejected.
func (p *Pipeline) runStage(ctx context.Context, st *stageState, pc *Context) {
	timeout := st.currentTimeout()

	if err := st.pool.Acquire(ctx, 1); err != nil {
		pc.setResult(st.Name, StageResult{Status: StatusFailed, Err: err})
		return
	}

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	exec := &execution{}
	procCtx := context.WithValue(stageCtx, execKey{}, exec)

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer st.pool.Release(1)
		defer cancel()
		done <- st.Processor.Process(procCtx, pc)
	}()

	var result StageResult
	select {
	case err := <-done:
		result.Duration = time.Since(start)
		switch {
		case err == nil:
			result.Status = StatusOK
		case errors.Is(err, ErrSkipped):
			result.Status = StatusSkipped
		case errors.Is(err, context.DeadlineExceeded):
			result.Status = StatusTimeout
			result.Err = err
		default:
			result.Status = StatusFailed
			result.Err = err
		}
	case <-stageCtx.Done():
		exec.abandon()
		result.Duration = time.Since(start)
		result.Status = StatusTimeout
		result.Err = stageCtx.Err()
	}

	pc.setResult(st.Name, result)
	p.metrics.RecordStage(ctx, st.Name, result.Status.String(), result.Duration.Seconds())
}

// BatchSize returns the current global batch-size parameter. Consumers that
// coalesce queued audio should read it per pass; corrective actions may
// shrink it.
func (p *Pipeline) BatchSize() int {
	return int(p.batchSize.Load())
}

// Workers returns the current worker-pool size of the named stage, or 0 for
// an unknown stage. Primarily useful for tests and diagnostics.
func (p *Pipeline) Workers(stage string) int {
	st, ok := p.byName[stage]
	if !ok {
		return 0
	}
	return st.currentWorkers()
}

// StageTimeout returns the current tuned timeout of the named stage, or 0 for
// an unknown stage.
func (p *Pipeline) StageTimeout(stage string) time.Duration {
	st, ok := p.byName[stage]
	if !ok {
		return 0
	}
	return st.currentTimeout()
}

// TargetLatency returns the configured end-to-end latency target.
func (p *Pipeline) TargetLatency() time.Duration { return p.targetLatency }
