package backpressure

import (
	"sync"
	"testing"
	"time"

	"github.com/kestrelaudio/verbatim/internal/vad"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

func itemWithIndex(i uint64) Item {
	return Item{SessionID: "s1", ChunkIndex: i}
}

func TestQueue_OverflowEvictsOldest(t *testing.T) {
	q := NewQueue(4)

	for i := uint64(0); i < 5; i++ {
		q.Enqueue(itemWithIndex(i))
	}

	if q.Len() != 4 {
		t.Errorf("len = %d, want 4", q.Len())
	}
	if q.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", q.Dropped())
	}

	// The four most recent items (1..4) must remain, oldest first.
	for want := uint64(1); want <= 4; want++ {
		item, ok := q.Dequeue()
		if !ok {
			t.Fatalf("queue empty at index %d", want)
		}
		if item.ChunkIndex != want {
			t.Errorf("dequeued index %d, want %d", item.ChunkIndex, want)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("queue should be empty after draining")
	}
}

func TestQueue_EnqueueReportsEviction(t *testing.T) {
	q := NewQueue(2)
	if q.Enqueue(itemWithIndex(0)) {
		t.Error("enqueue into non-full queue reported eviction")
	}
	q.Enqueue(itemWithIndex(1))
	if !q.Enqueue(itemWithIndex(2)) {
		t.Error("enqueue into full queue did not report eviction")
	}
}

func TestQueue_DrainAll(t *testing.T) {
	q := NewQueue(8)
	for i := uint64(0); i < 3; i++ {
		q.Enqueue(itemWithIndex(i))
	}
	drained := q.DrainAll()
	if len(drained) != 3 {
		t.Fatalf("drained %d items, want 3", len(drained))
	}
	for i, item := range drained {
		if item.ChunkIndex != uint64(i) {
			t.Errorf("drained[%d].ChunkIndex = %d, want %d", i, item.ChunkIndex, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", q.Len())
	}
}

func TestQueue_ConcurrentProducersNeverBlock(t *testing.T) {
	q := NewQueue(8)
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := uint64(0); i < 100; i++ {
				q.Enqueue(itemWithIndex(i))
			}
		}()
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producers blocked on a full queue")
	}
	if q.Len() > q.Cap() {
		t.Errorf("len %d exceeds capacity %d", q.Len(), q.Cap())
	}
}

func TestGate_SpeechFramesPass(t *testing.T) {
	q := NewQueue(8)
	g := NewGate(q, "s1", 600*time.Millisecond)

	if !g.Offer(types.AudioFrame{}, vad.Decision{IsSpeech: true}) {
		t.Error("speech frame was gated out")
	}
	if q.Len() != 1 {
		t.Errorf("queue len = %d, want 1", q.Len())
	}
}

func TestGate_SilenceBeforeAnySpeechIsDropped(t *testing.T) {
	q := NewQueue(8)
	g := NewGate(q, "s1", 600*time.Millisecond)

	if g.Offer(types.AudioFrame{}, vad.Decision{IsSpeech: false}) {
		t.Error("silence frame passed before any speech was seen")
	}
	if g.GateDrops() != 1 {
		t.Errorf("gate drops = %d, want 1", g.GateDrops())
	}
}

func TestGate_VoiceTailBoundary(t *testing.T) {
	const tail = 600 * time.Millisecond

	base := time.Unix(1000, 0)
	clock := base
	q := NewQueue(8)
	g := NewGate(q, "s1", tail)
	g.now = func() time.Time { return clock }

	// Establish last_voice_time.
	g.Offer(types.AudioFrame{}, vad.Decision{IsSpeech: true})

	// Silence just inside the tail window passes.
	clock = base.Add(tail - time.Millisecond)
	if !g.Offer(types.AudioFrame{}, vad.Decision{IsSpeech: false}) {
		t.Error("silence frame inside the voice tail was dropped")
	}

	// Silence just past the window is gated out.
	clock = base.Add(tail + time.Millisecond)
	if g.Offer(types.AudioFrame{}, vad.Decision{IsSpeech: false}) {
		t.Error("silence frame past the voice tail passed")
	}

	if g.GateDrops() != 1 {
		t.Errorf("gate drops = %d, want 1", g.GateDrops())
	}
	if g.Admitted() != 2 {
		t.Errorf("admitted = %d, want 2", g.Admitted())
	}
}

func TestGate_ChunkIndexIsMonotonic(t *testing.T) {
	q := NewQueue(8)
	g := NewGate(q, "s1", time.Second)

	for i := 0; i < 5; i++ {
		g.Offer(types.AudioFrame{}, vad.Decision{IsSpeech: true})
	}
	var prev uint64
	for i := 0; i < 5; i++ {
		item, ok := q.Dequeue()
		if !ok {
			t.Fatal("queue exhausted early")
		}
		if i > 0 && item.ChunkIndex != prev+1 {
			t.Errorf("chunk index %d does not follow %d", item.ChunkIndex, prev)
		}
		prev = item.ChunkIndex
	}
}
