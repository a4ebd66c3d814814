package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kestrelaudio/verbatim/internal/observe"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// testMetrics returns an isolated Metrics instance so tests do not pollute
// the global meter provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func testContext() *Context {
	return NewContext("sess-1", 1, types.AudioFrame{SampleRate: 16000})
}

func TestNew_Validation(t *testing.T) {
	noop := ProcessorFunc(func(context.Context, *Context) error { return nil })

	tests := []struct {
		name   string
		stages []Stage
	}{
		{"unnamed stage", []Stage{{Processor: noop}}},
		{"missing processor", []Stage{{Name: "a"}}},
		{"duplicate name", []Stage{{Name: "a", Processor: noop}, {Name: "a", Processor: noop}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.stages, WithMetrics(testMetrics(t))); err == nil {
				t.Error("New accepted invalid stage set")
			}
		})
	}
}

func TestRun_PriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) ProcessorFunc {
		return func(context.Context, *Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	p, err := New([]Stage{
		{Name: "third", Processor: record("third"), Priority: 30},
		{Name: "first", Processor: record("first"), Priority: 10},
		{Name: "second", Processor: record("second"), Priority: 20},
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := p.Run(context.Background(), testContext()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"first", "second", "third"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("execution order = %v, want %v", order, want)
		}
	}
}

func TestRun_SamePriorityRunsConcurrently(t *testing.T) {
	// Both stages block until the other has started. If they ran
	// sequentially this would deadlock, which the stage timeout converts
	// into a visible failure.
	aStarted := make(chan struct{})
	bStarted := make(chan struct{})

	waitFor := func(started chan<- struct{}, other <-chan struct{}) ProcessorFunc {
		return func(ctx context.Context, _ *Context) error {
			close(started)
			select {
			case <-other:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	p, err := New([]Stage{
		{Name: "a", Processor: waitFor(aStarted, bStarted), Parallel: true, Priority: 1, Timeout: time.Second},
		{Name: "b", Processor: waitFor(bStarted, aStarted), Parallel: true, Priority: 1, Timeout: time.Second},
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pc := testContext()
	if err := p.Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, name := range []string{"a", "b"} {
		if !pc.Succeeded(name) {
			r, _ := pc.Result(name)
			t.Errorf("stage %q did not succeed: status=%v err=%v", name, r.Status, r.Err)
		}
	}
}

func TestRun_TimeoutStageDoesNotHangPipeline(t *testing.T) {
	const stageTimeout = 30 * time.Millisecond

	// The processor ignores its context entirely.
	stuck := ProcessorFunc(func(context.Context, *Context) error {
		time.Sleep(2 * time.Second)
		return nil
	})
	after := ProcessorFunc(func(context.Context, *Context) error { return nil })

	p, err := New([]Stage{
		{Name: "stuck", Processor: stuck, Priority: 1, Timeout: stageTimeout},
		{Name: "after", Processor: after, Priority: 2, Timeout: 100 * time.Millisecond},
	}, WithMetrics(testMetrics(t)), WithTargetLatency(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pc := testContext()
	start := time.Now()
	if err := p.Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Run took %v, pipeline hung on a deadline-ignoring stage", elapsed)
	}

	r, ok := pc.Result("stuck")
	if !ok {
		t.Fatal("no result recorded for timed-out stage")
	}
	if r.Status != StatusTimeout {
		t.Errorf("status = %v, want %v", r.Status, StatusTimeout)
	}
	if !pc.Succeeded("after") {
		t.Error("downstream stage did not run after upstream timeout")
	}
}

func TestRun_AbandonedStageWritesAreDropped(t *testing.T) {
	// The processor ignores its deadline and only writes after being
	// released, long past the timeout. The publish must be rejected and the
	// shared context must stay untouched.
	release := make(chan struct{})
	finished := make(chan struct{})
	var latePublish atomic.Bool

	stuck := ProcessorFunc(func(ctx context.Context, pc *Context) error {
		defer close(finished)
		<-release
		if Publish(ctx, func() { pc.DisplayText = "late" }) {
			latePublish.Store(true)
		}
		return nil
	})

	p, err := New([]Stage{
		{Name: "stuck", Processor: stuck, Timeout: 20 * time.Millisecond},
	}, WithMetrics(testMetrics(t)), WithTargetLatency(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pc := testContext()
	if err := p.Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r, _ := pc.Result("stuck"); r.Status != StatusTimeout {
		t.Fatalf("status = %v, want %v", r.Status, StatusTimeout)
	}

	close(release)
	<-finished

	if latePublish.Load() {
		t.Error("abandoned stage reported a successful publish")
	}
	if pc.DisplayText != "" {
		t.Errorf("DisplayText = %q, late write landed on the shared context", pc.DisplayText)
	}
}

func TestPublish(t *testing.T) {
	// Without a stage execution in the context, Publish always runs.
	ran := false
	if !Publish(context.Background(), func() { ran = true }) {
		t.Error("Publish on a bare context reported rejection")
	}
	if !ran {
		t.Error("Publish on a bare context did not run the function")
	}

	// Inside a live stage, writes land normally.
	writer := ProcessorFunc(func(ctx context.Context, pc *Context) error {
		if !Publish(ctx, func() { pc.DisplayText = "on time" }) {
			return errors.New("publish rejected before the deadline")
		}
		return nil
	})
	p, err := New([]Stage{
		{Name: "writer", Processor: writer, Timeout: time.Second},
	}, WithMetrics(testMetrics(t)), WithTargetLatency(time.Hour))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pc := testContext()
	if err := p.Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !pc.Succeeded("writer") {
		r, _ := pc.Result("writer")
		t.Fatalf("writer stage: status=%v err=%v", r.Status, r.Err)
	}
	if pc.DisplayText != "on time" {
		t.Errorf("DisplayText = %q, want %q", pc.DisplayText, "on time")
	}
}

func TestRun_FailureIsContained(t *testing.T) {
	boom := errors.New("boom")
	failing := ProcessorFunc(func(context.Context, *Context) error { return boom })

	var downstreamSawFailure bool
	downstream := ProcessorFunc(func(_ context.Context, pc *Context) error {
		if !pc.Succeeded("transcribe") {
			downstreamSawFailure = true
			return ErrSkipped
		}
		return nil
	})

	p, err := New([]Stage{
		{Name: "transcribe", Processor: failing, Priority: 1},
		{Name: "correlate", Processor: downstream, Priority: 2},
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pc := testContext()
	if err := p.Run(context.Background(), pc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r, _ := pc.Result("transcribe")
	if r.Status != StatusFailed || !errors.Is(r.Err, boom) {
		t.Errorf("transcribe result = %+v, want failed with boom", r)
	}
	if !downstreamSawFailure {
		t.Error("downstream stage did not observe the upstream failure")
	}
	if r, _ := pc.Result("correlate"); r.Status != StatusSkipped {
		t.Errorf("correlate status = %v, want %v", r.Status, StatusSkipped)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	p, err := New([]Stage{
		{Name: "a", Processor: ProcessorFunc(func(context.Context, *Context) error { return nil })},
	}, WithMetrics(testMetrics(t)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Run(ctx, testContext()); err == nil {
		t.Error("Run with cancelled context returned nil error")
	}
}

func TestTune_GrowsWorkersThenTimeoutThenBatch(t *testing.T) {
	slow := ProcessorFunc(func(context.Context, *Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})

	p, err := New([]Stage{
		{Name: "slow", Processor: slow, Parallel: true, Workers: 1, Timeout: 100 * time.Millisecond},
	},
		WithMetrics(testMetrics(t)),
		WithTargetLatency(time.Nanosecond), // every chunk is over target
		WithMaxWorkers(3),
		WithMinStageTimeout(64*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Each over-target run applies exactly one corrective action:
	// 2 pool grows (1→3), then timeout shrinks (100→80→64ms), then batch
	// shrinks (4→1), then nothing.
	for i := 0; i < 12; i++ {
		if err := p.Run(context.Background(), testContext()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if got := p.Workers("slow"); got != 3 {
		t.Errorf("workers = %d, want ceiling 3", got)
	}
	if got := p.StageTimeout("slow"); got != 64*time.Millisecond {
		t.Errorf("timeout = %v, want floor 64ms", got)
	}
	if got := p.BatchSize(); got != minBatchSize {
		t.Errorf("batch size = %d, want %d", got, minBatchSize)
	}
}

func TestTune_SequentialStageNeverGrows(t *testing.T) {
	slow := ProcessorFunc(func(context.Context, *Context) error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})

	p, err := New([]Stage{
		{Name: "serial", Processor: slow, Parallel: false, Timeout: 100 * time.Millisecond},
	},
		WithMetrics(testMetrics(t)),
		WithTargetLatency(time.Nanosecond),
		WithMinStageTimeout(100*time.Millisecond), // timeout already at floor
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := p.Run(context.Background(), testContext()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if got := p.Workers("serial"); got != 1 {
		t.Errorf("sequential stage workers = %d, want 1", got)
	}
}

func TestLatencyWindow(t *testing.T) {
	w := newLatencyWindow(4)

	if avg, n := w.average(); avg != 0 || n != 0 {
		t.Errorf("empty window average = %v/%d, want 0/0", avg, n)
	}
	if w.full() {
		t.Error("empty window reports full")
	}

	for i := 0; i < 4; i++ {
		w.add(10 * time.Millisecond)
	}
	if !w.full() {
		t.Error("window not full after capacity inserts")
	}
	if avg, _ := w.average(); avg != 10*time.Millisecond {
		t.Errorf("average = %v, want 10ms", avg)
	}

	// Overwrite wraps: four 30ms samples replace the 10ms ones.
	for i := 0; i < 4; i++ {
		w.add(30 * time.Millisecond)
	}
	if avg, _ := w.average(); avg != 30*time.Millisecond {
		t.Errorf("average after wrap = %v, want 30ms", avg)
	}
}

func TestMonitor_SignalsSustainedDegradation(t *testing.T) {
	p, err := New([]Stage{
		{Name: "a", Processor: ProcessorFunc(func(context.Context, *Context) error { return nil })},
	},
		WithMetrics(testMetrics(t)),
		WithTargetLatency(50*time.Millisecond),
		WithWindowSize(4),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := NewMonitor(p, time.Minute)

	// Not full yet: no signal.
	p.window.add(200 * time.Millisecond)
	m.check(context.Background())
	if !m.LastAlert().IsZero() {
		t.Error("monitor alerted on a partially-filled window")
	}

	for i := 0; i < 4; i++ {
		p.window.add(200 * time.Millisecond)
	}
	m.check(context.Background())
	if m.LastAlert().IsZero() {
		t.Error("monitor did not alert on sustained degradation")
	}
}

func TestMonitor_NoSignalWhenHealthy(t *testing.T) {
	p, err := New([]Stage{
		{Name: "a", Processor: ProcessorFunc(func(context.Context, *Context) error { return nil })},
	},
		WithMetrics(testMetrics(t)),
		WithTargetLatency(time.Second),
		WithWindowSize(4),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m := NewMonitor(p, time.Minute)
	for i := 0; i < 4; i++ {
		p.window.add(time.Millisecond)
	}
	m.check(context.Background())
	if !m.LastAlert().IsZero() {
		t.Error("monitor alerted while under target")
	}
}

func TestRun_ConcurrentChunks(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	track := ProcessorFunc(func(context.Context, *Context) error {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			max := maxInFlight.Load()
			if cur <= max || maxInFlight.CompareAndSwap(max, cur) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return nil
	})

	p, err := New([]Stage{
		{Name: "work", Processor: track, Parallel: true, Workers: 2, Timeout: time.Second},
	}, WithMetrics(testMetrics(t)), WithTargetLatency(time.Hour), WithMaxWorkers(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Run(context.Background(), testContext())
		}()
	}
	wg.Wait()

	if got := maxInFlight.Load(); got > 2 {
		t.Errorf("max in-flight executions = %d, want ≤ worker pool size 2", got)
	}
}
