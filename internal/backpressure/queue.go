// Package backpressure provides the bounded frame queue sitting between the
// VAD gate and the pipeline orchestrator.
//
// The queue never blocks the audio producer: when full, the oldest item is
// evicted and counted as dropped. A [Gate] in front of the queue discards
// frames the VAD classified as silence, except within the post-speech voice
// tail window; gate drops and overflow drops are counted separately.
//
// Queue supports concurrent producers and consumers. Gate is owned by a
// single session driver and needs no locking.
package backpressure

import (
	"sync"
	"time"

	"github.com/kestrelaudio/verbatim/internal/vad"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 8

// Item is one queued audio frame together with its pipeline bookkeeping.
type Item struct {
	// Frame is the gated audio frame. Owned by the queue until dequeued.
	Frame types.AudioFrame

	// SessionID identifies the owning session.
	SessionID string

	// ChunkIndex is the monotonic per-session index assigned at enqueue time.
	ChunkIndex uint64

	// EnqueuedAt is when the item entered the queue; used for latency
	// breakdowns downstream.
	EnqueuedAt time.Time
}

// Queue is a fixed-capacity ring buffer with drop-oldest overflow semantics.
// All methods are safe for concurrent use.
type Queue struct {
	mu      sync.Mutex
	buf     []Item
	head    int // index of the oldest item
	size    int
	dropped uint64
}

// NewQueue creates a queue with the given capacity. Non-positive capacities
// fall back to [DefaultCapacity].
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]Item, capacity)}
}

// Enqueue inserts item, evicting the oldest entry first when the queue is
// full. It never blocks. Returns true when an eviction occurred.
func (q *Queue) Enqueue(item Item) (evicted bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == len(q.buf) {
		// Overwrite the oldest slot and advance the head.
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		evicted = true
	}
	tail := (q.head + q.size) % len(q.buf)
	q.buf[tail] = item
	q.size++
	return evicted
}

// Dequeue removes and returns the oldest item. The second return value is
// false when the queue is empty. It never blocks.
func (q *Queue) Dequeue() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return Item{}, false
	}
	item := q.buf[q.head]
	q.buf[q.head] = Item{} // release the frame reference
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return item, true
}

// DrainAll removes and returns every queued item, oldest first. Used during
// session finalization to flush remaining audio in one batch.
func (q *Queue) DrainAll() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, q.size)
	for q.size > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = Item{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	return out
}

// Len returns the current number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Dropped returns the total number of items evicted by overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Gate admits frames into a [Queue] based on the VAD decision. A frame passes
// if VAD says speech, or if it falls within the voice tail window after the
// most recent speech frame — trailing room tone carries utterance-final
// context the ASR needs.
//
// Gate is owned by its session's driver loop and is not safe for concurrent
// use.
type Gate struct {
	queue     *Queue
	sessionID string
	voiceTail time.Duration

	nextIndex     uint64
	lastVoiceAt   time.Time
	sawVoice      bool
	gateDrops     uint64
	admitted      uint64
	now           func() time.Time
}

// NewGate creates a gate feeding queue for the given session. voiceTail is
// the post-speech admission window; non-positive disables the tail entirely.
func NewGate(queue *Queue, sessionID string, voiceTail time.Duration) *Gate {
	return &Gate{
		queue:     queue,
		sessionID: sessionID,
		voiceTail: voiceTail,
		now:       time.Now,
	}
}

// Offer evaluates one frame against decision and enqueues it when admitted.
// Returns true when the frame entered the queue.
func (g *Gate) Offer(frame types.AudioFrame, decision vad.Decision) bool {
	now := g.now()

	if decision.IsSpeech {
		g.lastVoiceAt = now
		g.sawVoice = true
	} else if !g.inVoiceTail(now) {
		g.gateDrops++
		return false
	}

	g.queue.Enqueue(Item{
		Frame:      frame,
		SessionID:  g.sessionID,
		ChunkIndex: g.nextIndex,
		EnqueuedAt: now,
	})
	g.nextIndex++
	g.admitted++
	return true
}

// inVoiceTail reports whether now still falls within the post-speech window.
func (g *Gate) inVoiceTail(now time.Time) bool {
	if !g.sawVoice || g.voiceTail <= 0 {
		return false
	}
	return now.Sub(g.lastVoiceAt) <= g.voiceTail
}

// GateDrops returns the number of frames discarded by the gate (distinct from
// queue overflow drops).
func (g *Gate) GateDrops() uint64 { return g.gateDrops }

// Admitted returns the number of frames that passed the gate.
func (g *Gate) Admitted() uint64 { return g.admitted }
