// Package session implements the per-session transcription driver: the
// component that owns one audio stream end to end.
//
// A [Session] wires the adaptive VAD, the gated backpressure queue, the
// multi-stage pipeline, the correlation engine, the progressive text builder,
// and the hallucination validator into a single synchronous data path.
// Frames pushed into the session are VAD-classified and gated into the
// bounded queue; once enough audio has accumulated the queued frames are
// coalesced into one chunk and run through the pipeline. Results stream out
// through an [events.Sink] and, optionally, into a [persist.SegmentStore].
//
// The package also provides the [Manager] registry that creates, looks up,
// and finalizes sessions, and the [StoreGuard] that keeps sessions alive
// through storage outages.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kestrelaudio/verbatim/internal/backpressure"
	"github.com/kestrelaudio/verbatim/internal/config"
	"github.com/kestrelaudio/verbatim/internal/correct"
	"github.com/kestrelaudio/verbatim/internal/correlate"
	"github.com/kestrelaudio/verbatim/internal/events"
	"github.com/kestrelaudio/verbatim/internal/halluc"
	"github.com/kestrelaudio/verbatim/internal/observe"
	"github.com/kestrelaudio/verbatim/internal/pipeline"
	"github.com/kestrelaudio/verbatim/internal/resilience"
	"github.com/kestrelaudio/verbatim/internal/textbuild"
	"github.com/kestrelaudio/verbatim/internal/vad"
	"github.com/kestrelaudio/verbatim/pkg/persist"
	"github.com/kestrelaudio/verbatim/pkg/provider/asr"
	"github.com/kestrelaudio/verbatim/pkg/types"
)

// Pipeline stage names. Config stage tuning and latency breakdowns refer to
// these.
const (
	StageTranscribe = "transcribe"
	StageCorrelate  = "correlate"
	StageValidate   = "validate"
	StageTextBuild  = "textbuild"
)

// recentWindow bounds the per-session history of recent chunk texts,
// confidences, and flags fed to the hallucination validator.
const recentWindow = 8

// dedupLexicalFloor is the minimum lexical component of the best correlation
// before the overlap strip runs against the correlated chunk.
const dedupLexicalFloor = 0.5

// ErrFinalized is returned when frames are pushed into a session that has
// already been finalized.
var ErrFinalized = errors.New("session: already finalized")

// Deps bundles the collaborators a session needs. ASR and Sink are required;
// the rest default or stay disabled when nil.
type Deps struct {
	// ASR performs the transcription calls. Usually a [resilience.FailoverASR].
	ASR asr.Provider

	// Sink receives interim updates, confirmed segments, errors, and the
	// end-of-session metrics summary.
	Sink events.Sink

	// Store persists confirmed segments. Nil disables persistence.
	Store persist.SegmentStore

	// Corrector rewrites low-confidence final segments against the domain
	// vocabulary. Nil disables correction.
	Corrector *correct.Corrector

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to [slog.Default].
	Logger *slog.Logger
}

// Session drives one transcription stream. All methods are safe for
// concurrent use, but the data path is intentionally synchronous: PushFrame
// blocks while a coalesced batch runs through the pipeline, so at most one
// batch per session is ever in flight.
type Session struct {
	id           string
	language     string
	sampleRate   int
	vocabulary   []string
	correctFloor float64

	asr       asr.Provider
	retry     resilience.RetryPolicy
	sink      events.Sink
	store     persist.SegmentStore
	corrector *correct.Corrector
	metrics   *observe.Metrics
	log       *slog.Logger

	mu         sync.Mutex
	vad        *vad.Engine
	queue      *backpressure.Queue
	gate       *backpressure.Gate
	pipe       *pipeline.Pipeline
	monitor    *pipeline.Monitor
	correlator *correlate.Engine
	builder    *textbuild.Builder
	validator  *halluc.Validator

	startedAt    time.Time
	frames       uint64
	chunks       uint64
	flagged      uint64
	latencySum   time.Duration
	overflowSeen uint64
	prevDepth    int
	chunkSeq     uint64

	lastDecision  vad.Decision
	lastDetection halluc.Detection

	recentTexts []string
	recentConfs []float64
	recentFlags []bool

	finalized bool
	summary   events.SessionMetrics
}

// New creates a session for the given stream. cfg supplies the tuning knobs;
// deps supplies the collaborators.
func New(sessionID string, cfg config.Config, deps Deps) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session: empty session ID")
	}
	if deps.ASR == nil {
		return nil, errors.New("session: ASR provider is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("session: event sink is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	sampleRate := cfg.ASR.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	retry := resilience.DefaultRetryPolicy()
	if cfg.ASR.MaxRetries > 0 {
		retry.MaxAttempts = cfg.ASR.MaxRetries
	}

	queue := backpressure.NewQueue(cfg.Queue.Capacity)
	s := &Session{
		id:           sessionID,
		language:     cfg.ASR.Language,
		sampleRate:   sampleRate,
		vocabulary:   cfg.Correction.Vocabulary,
		correctFloor: cfg.Correction.ConfidenceFloor(),
		asr:          deps.ASR,
		retry:        retry,
		sink:         deps.Sink,
		store:        deps.Store,
		corrector:    deps.Corrector,
		metrics:      deps.Metrics,
		log:          deps.Logger.With(slog.String("session_id", sessionID)),
		vad: vad.NewEngine(vad.Config{
			SampleRate:    sampleRate,
			Sensitivity:   cfg.VAD.Sensitivity,
			MinSpeech:     cfg.VAD.MinSpeech(),
			MinSilence:    cfg.VAD.MinSilence(),
			FrameDuration: cfg.VAD.FrameDuration(),
		}),
		queue:      queue,
		gate:       backpressure.NewGate(queue, sessionID, cfg.VAD.VoiceTail()),
		correlator: correlate.NewEngine(),
		builder:    newBuilder(sessionID, cfg.Interim),
		validator:  newValidator(cfg.Hallucination),
		startedAt:  time.Now(),
	}

	pipe, err := s.buildPipeline(cfg.Pipeline, deps.Metrics)
	if err != nil {
		return nil, err
	}
	s.pipe = pipe

	// The latency monitor outlives individual pushes; it runs until Finalize
	// stops it.
	s.monitor = pipeline.NewMonitor(pipe, cfg.Pipeline.MonitorInterval())
	s.monitor.Start(context.Background())
	return s, nil
}

func newBuilder(sessionID string, cfg config.InterimConfig) *textbuild.Builder {
	opts := []textbuild.Option{
		textbuild.WithConfirmationDelay(cfg.ConfirmationDelay()),
		textbuild.WithHistoryLimit(cfg.HistoryDepth()),
	}
	if cfg.StabilityThreshold > 0 {
		opts = append(opts, textbuild.WithStabilityThreshold(cfg.StabilityThreshold))
	}
	return textbuild.NewBuilder(sessionID, opts...)
}

func newValidator(cfg config.HallucinationConfig) *halluc.Validator {
	var opts []halluc.Option
	if cfg.Strictness > 0 {
		opts = append(opts, halluc.WithStrictness(cfg.Strictness))
	}
	return halluc.NewValidator(opts...)
}

// buildPipeline assembles the four-stage pipeline. Transcription runs alone
// at priority 0; correlation and validation run concurrently at priority 1
// (each writes only its own context slots); text building runs last. Every
// stage routes its shared-state writes through [pipeline.Publish], so a stage
// abandoned at its deadline cannot race the stages behind it.
func (s *Session) buildPipeline(cfg config.PipelineConfig, metrics *observe.Metrics) (*pipeline.Pipeline, error) {
	stages := []pipeline.Stage{
		{
			Name:      StageTranscribe,
			Processor: pipeline.ProcessorFunc(s.transcribeStage),
			Parallel:  true,
			Workers:   1,
			Timeout:   5 * time.Second,
			Priority:  0,
		},
		{
			Name:      StageCorrelate,
			Processor: pipeline.ProcessorFunc(s.correlateStage),
			Timeout:   150 * time.Millisecond,
			Priority:  1,
		},
		{
			Name:      StageValidate,
			Processor: pipeline.ProcessorFunc(s.validateStage),
			Timeout:   150 * time.Millisecond,
			Priority:  1,
		},
		{
			Name:      StageTextBuild,
			Processor: pipeline.ProcessorFunc(s.textBuildStage),
			Timeout:   100 * time.Millisecond,
			Priority:  2,
		},
	}
	for i, st := range stages {
		tuning, ok := cfg.Stages[st.Name]
		if !ok {
			continue
		}
		if tuning.TimeoutMs > 0 {
			stages[i].Timeout = time.Duration(tuning.TimeoutMs) * time.Millisecond
		}
		if tuning.Workers > 0 {
			stages[i].Workers = tuning.Workers
		}
	}
	return pipeline.New(stages,
		pipeline.WithTargetLatency(cfg.TargetLatency()),
		pipeline.WithMetrics(metrics),
	)
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Pipeline exposes the session's pipeline for diagnostics.
func (s *Session) Pipeline() *pipeline.Pipeline { return s.pipe }

// PushFrame feeds one audio frame into the session. The frame is classified
// by the VAD and gated into the queue; when enough frames have accumulated
// the batch is processed inline, so the call may block for one pipeline pass.
func (s *Session) PushFrame(ctx context.Context, frame types.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}

	s.frames++
	s.metrics.FramesReceived.Add(ctx, 1)

	decision := s.vad.ProcessFrame(frame)
	s.lastDecision = decision

	if !s.gate.Offer(frame, decision) {
		s.metrics.RecordDrop(ctx, "gate")
		return nil
	}
	s.noteOverflow(ctx)
	s.syncQueueDepth(ctx)

	if s.queue.Len() >= s.pipe.BatchSize() {
		s.processBatch(ctx, false)
		s.syncQueueDepth(ctx)
	}
	return nil
}

// Flush processes any queued audio immediately without waiting for the batch
// threshold. Useful at utterance boundaries signalled by the transport.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrFinalized
	}
	if s.queue.Len() > 0 {
		s.processBatch(ctx, false)
		s.syncQueueDepth(ctx)
	}
	return nil
}

// Finalize drains the queue through one last final-marked pass, confirms the
// remaining interim text, persists and publishes the closing segment, and
// emits the end-of-session metrics summary. Finalize is idempotent; repeated
// calls return the cached summary.
func (s *Session) Finalize(ctx context.Context) (events.SessionMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return s.summary, nil
	}
	s.finalized = true
	s.monitor.Stop()

	// Drain everything still queued as one final pass so utterance-final
	// audio is transcribed with the final flag set.
	s.processBatch(ctx, true)
	s.syncQueueDepth(ctx)

	// Whatever interim text is still open becomes the closing segment.
	if open := strings.TrimSpace(s.builder.InterimText()); open != "" {
		s.confirmSegment(ctx, types.TranscriptionChunk{
			ChunkID:    fmt.Sprintf("%s-%d", s.id, s.chunkSeq),
			SessionID:  s.id,
			Index:      s.chunkSeq,
			Text:       open,
			Confidence: s.lastConfidence(),
			Timestamp:  time.Now(),
		})
	}

	s.summary = events.SessionMetrics{
		SessionID:       s.id,
		FramesReceived:  s.frames,
		FramesDropped:   s.gate.GateDrops() + s.queue.Dropped(),
		ChunksProcessed: s.chunks,
		Hallucinations:  s.flagged,
		Segments:        uint64(len(s.builder.Segments())),
		AverageLatency:  s.averageLatency(),
		Duration:        time.Since(s.startedAt),
	}
	if err := s.sink.PublishMetrics(ctx, s.summary); err != nil {
		s.log.Warn("publishing session metrics failed", slog.String("error", err.Error()))
	}
	return s.summary, nil
}

// ConfirmedText returns the append-only confirmed transcript so far.
func (s *Session) ConfirmedText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builder.ConfirmedText()
}

// Segments returns the confirmed segments in confirmation order.
func (s *Session) Segments() []types.TextSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builder.Segments()
}

// ─── Batch driver ───────────────────────────────────────────────────────────

// processBatch coalesces queued frames into one chunk and runs it through the
// pipeline. final=true drains the whole queue regardless of batch size and
// marks the pass as utterance-final. Caller holds s.mu.
func (s *Session) processBatch(ctx context.Context, final bool) {
	var items []backpressure.Item
	if final {
		items = s.queue.DrainAll()
	} else {
		for len(items) < s.pipe.BatchSize() {
			item, ok := s.queue.Dequeue()
			if !ok {
				break
			}
			items = append(items, item)
		}
	}
	if len(items) == 0 && !final {
		return
	}

	frame, enqueuedAt := coalesce(items, s.sampleRate)
	index := s.chunkSeq
	if len(items) > 0 {
		index = items[0].ChunkIndex
	}
	s.chunkSeq = index + 1

	ctx, span := observe.StartSpan(ctx, "session.batch")
	defer span.End()

	pc := pipeline.NewContext(s.id, index, frame)
	pc.IsFinal = final
	pc.EnqueuedAt = enqueuedAt

	if err := s.pipe.Run(ctx, pc); err != nil {
		s.reportError(ctx, "pipeline", err)
		return
	}
	s.afterPass(ctx, pc)
}

// afterPass folds one completed pipeline pass into the session state: metrics,
// the recent-chunk window, and final-segment confirmation. Caller holds s.mu.
func (s *Session) afterPass(ctx context.Context, pc *pipeline.Context) {
	if r, ok := pc.Result(StageTranscribe); ok && r.Status == pipeline.StatusFailed {
		s.reportError(ctx, "transcribe", r.Err)
	}
	if pc.Chunk == nil {
		return
	}

	s.chunks++
	s.latencySum += pc.Total
	kind := "interim"
	if pc.IsFinal {
		kind = "final"
	}
	s.metrics.RecordChunk(ctx, kind)

	det := s.lastDetection
	if det.IsHallucination {
		s.flagged++
	}
	s.pushRecent(pc.Chunk.Text, pc.Chunk.Confidence, det.IsHallucination)

	if pc.IsFinal && pc.ValidationAction != halluc.ActionBlock.String() {
		chunk := *pc.Chunk
		if pc.ValidationAction == halluc.ActionFilter.String() && pc.CorrectedText != "" {
			chunk.Text = pc.CorrectedText
		}
		s.confirmSegment(ctx, chunk)
	}
}

// confirmSegment runs the final-text path for one chunk: merge against the
// open interim, optional LLM correction, append to the confirmed transcript,
// persist, publish. Caller holds s.mu.
func (s *Session) confirmSegment(ctx context.Context, chunk types.TranscriptionChunk) {
	chunk.Text = s.correctFinal(ctx, chunk)

	seg, ok := s.builder.ApplyFinal(chunk)
	if !ok {
		return
	}

	if s.store != nil {
		fp := correlate.FingerprintOf(seg.Text).Vector()
		if err := s.store.SaveSegment(ctx, seg, fp); err != nil {
			s.reportError(ctx, "persist", err)
		}
	}

	if err := s.sink.PublishFinal(ctx, events.FinalUpdate{
		SessionID:     s.id,
		SegmentID:     seg.SegmentID,
		Text:          seg.Text,
		ConfirmedText: s.builder.ConfirmedText(),
		Confidence:    seg.Confidence,
		At:            seg.FinalizedAt,
	}); err != nil {
		s.log.Warn("publishing final update failed", slog.String("error", err.Error()))
	}
}

// correctFinal applies the LLM vocabulary correction to a final chunk when
// the corrector is wired and the chunk's confidence warrants it. Correction
// failures fall back to the uncorrected text.
func (s *Session) correctFinal(ctx context.Context, chunk types.TranscriptionChunk) string {
	if s.corrector == nil || len(s.vocabulary) == 0 {
		return chunk.Text
	}
	needsReview := s.lastDetection.Action == halluc.ActionReview
	if !needsReview && chunk.Confidence >= s.correctFloor {
		return chunk.Text
	}
	corrected, corrections, err := s.corrector.Correct(ctx, chunk.Text, s.vocabulary)
	if err != nil {
		s.log.Warn("vocabulary correction failed",
			slog.Uint64("chunk_index", chunk.Index),
			slog.String("error", err.Error()),
		)
		return chunk.Text
	}
	if len(corrections) > 0 {
		s.log.Debug("vocabulary correction applied",
			slog.Uint64("chunk_index", chunk.Index),
			slog.Int("corrections", len(corrections)),
		)
	}
	return corrected
}

// ─── Pipeline stages ────────────────────────────────────────────────────────

// transcribeStage calls the ASR backend with bounded retries and builds the
// chunk the downstream stages consume. Empty audio and empty transcripts skip
// the rest of the pass.
func (s *Session) transcribeStage(ctx context.Context, pc *pipeline.Context) error {
	if len(pc.Audio.Data) == 0 {
		return pipeline.ErrSkipped
	}

	req := asr.Request{
		Audio:      pc.Audio.Data,
		SampleRate: s.sampleRate,
		Language:   s.language,
		IsFinal:    pc.IsFinal,
	}

	var fragment *types.TranscriptFragment
	start := time.Now()
	err := resilience.Retry(ctx, s.retry, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			s.metrics.ASRRetries.Add(ctx, 1)
		}
		var callErr error
		fragment, callErr = s.asr.Transcribe(ctx, req)
		return callErr
	})
	s.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("session: transcription failed: %w", err)
	}

	text := strings.TrimSpace(fragment.Text)
	if text == "" {
		return pipeline.ErrSkipped
	}

	published := pipeline.Publish(ctx, func() {
		pc.Fragment = fragment
		pc.Chunk = &types.TranscriptionChunk{
			ChunkID:    fmt.Sprintf("%s-%d", pc.SessionID, pc.ChunkIndex),
			SessionID:  pc.SessionID,
			Index:      pc.ChunkIndex,
			Text:       text,
			Confidence: fragment.Confidence,
			Timestamp:  time.Now(),
			IsInterim:  !pc.IsFinal,
		}
	})
	if !published {
		return ctx.Err()
	}
	return nil
}

// correlateStage registers the chunk with the correlation window. The scored
// correlations stay cached inside the engine; the text-building stage reads
// the best one for the dedup merge.
func (s *Session) correlateStage(ctx context.Context, pc *pipeline.Context) error {
	if pc.Chunk == nil {
		return pipeline.ErrSkipped
	}
	var correlated int
	if !pipeline.Publish(ctx, func() {
		correlated = len(s.correlator.Observe(*pc.Chunk))
	}) {
		return ctx.Err()
	}
	if correlated > 0 {
		s.log.Debug("chunk correlated",
			slog.Uint64("chunk_index", pc.ChunkIndex),
			slog.Int("correlations", correlated),
		)
	}
	return nil
}

// validateStage runs the layered hallucination checks and records the
// verdict in the pass context. It never mutates the chunk; the text-building
// stage applies the filtered text.
func (s *Session) validateStage(ctx context.Context, pc *pipeline.Context) error {
	if pc.Chunk == nil {
		return pipeline.ErrSkipped
	}

	det := s.validator.Validate(pc.Chunk.Text, halluc.Context{
		Confidence:        pc.Chunk.Confidence,
		AudioDuration:     pc.Audio.DurationOf(),
		QualityScore:      s.lastDecision.QualityScore,
		NoiseLevel:        s.lastDecision.NoiseLevel,
		SpeakerConfidence: s.lastDecision.Confidence,
		RecentTexts:       s.recentTexts,
		RecentConfidences: s.recentConfs,
		RecentFlags:       s.countRecentFlags(),
	})

	published := pipeline.Publish(ctx, func() {
		pc.ValidationAction = det.Action.String()
		pc.ValidationType = string(det.Type)
		pc.CorrectedText = det.CorrectedText
		s.lastDetection = det
	})
	if !published {
		return ctx.Err()
	}

	if det.IsHallucination {
		s.metrics.RecordHallucination(ctx, string(det.Type), det.Action.String())
		s.log.Info("hallucination flagged",
			slog.Uint64("chunk_index", pc.ChunkIndex),
			slog.String("type", string(det.Type)),
			slog.String("action", det.Action.String()),
			slog.Float64("severity", det.Severity),
		)
	}
	return nil
}

// textBuildStage updates the interim display text for the pass and publishes
// the classified update. Final passes skip it; their text is confirmed by the
// driver after the pass completes.
func (s *Session) textBuildStage(ctx context.Context, pc *pipeline.Context) error {
	if pc.Chunk == nil || pc.IsFinal {
		return pipeline.ErrSkipped
	}
	if pc.ValidationAction == halluc.ActionBlock.String() {
		return pipeline.ErrSkipped
	}

	chunk := *pc.Chunk
	if pc.ValidationAction == halluc.ActionFilter.String() && pc.CorrectedText != "" {
		chunk.Text = pc.CorrectedText
	}

	var (
		up      textbuild.Update
		skipped bool
	)
	published := pipeline.Publish(ctx, func() {
		if prev, corr, ok := s.correlator.Best(chunk.ChunkID); ok && corr.Lexical >= dedupLexicalFloor {
			chunk.Text = correlate.StripOverlap(prev.Text, chunk.Text)
			if strings.TrimSpace(chunk.Text) == "" {
				skipped = true
				return
			}
		}
		// Each pass transcribes fresh audio, so the chunk extends the open
		// utterance rather than replacing it.
		if open := s.builder.InterimText(); open != "" {
			chunk.Text = open + " " + chunk.Text
		}
		up = s.builder.ApplyInterim(chunk)
		pc.DisplayText = up.DisplayText
		pc.StabilityScore = up.StabilityScore
	})
	if !published {
		return ctx.Err()
	}
	if skipped {
		return pipeline.ErrSkipped
	}

	if err := s.sink.PublishInterim(ctx, events.InterimUpdate{
		SessionID:      s.id,
		DisplayText:    up.DisplayText,
		Delta:          up.Delta,
		Strategy:       up.Strategy.String(),
		StabilityScore: up.StabilityScore,
		At:             time.Now(),
	}); err != nil {
		s.log.Warn("publishing interim update failed", slog.String("error", err.Error()))
	}
	return nil
}

// ─── Bookkeeping helpers ────────────────────────────────────────────────────

// coalesce concatenates the PCM of queued items into one frame. The earliest
// enqueue time is kept for the latency breakdown.
func coalesce(items []backpressure.Item, sampleRate int) (types.AudioFrame, time.Time) {
	if len(items) == 0 {
		return types.AudioFrame{SampleRate: sampleRate}, time.Time{}
	}
	total := 0
	for _, it := range items {
		total += len(it.Frame.Data)
	}
	data := make([]byte, 0, total)
	for _, it := range items {
		data = append(data, it.Frame.Data...)
	}
	return types.AudioFrame{
		Data:       data,
		SampleRate: sampleRate,
		Timestamp:  items[0].Frame.Timestamp,
	}, items[0].EnqueuedAt
}

// noteOverflow records queue evictions that happened since the last check.
func (s *Session) noteOverflow(ctx context.Context) {
	dropped := s.queue.Dropped()
	for ; s.overflowSeen < dropped; s.overflowSeen++ {
		s.metrics.RecordDrop(ctx, "overflow")
	}
}

// syncQueueDepth reconciles the shared queue-depth gauge with the session's
// current occupancy.
func (s *Session) syncQueueDepth(ctx context.Context) {
	depth := s.queue.Len()
	if delta := depth - s.prevDepth; delta != 0 {
		s.metrics.QueueDepth.Add(ctx, int64(delta))
	}
	s.prevDepth = depth
}

// pushRecent appends one chunk outcome to the bounded recent-chunk window.
func (s *Session) pushRecent(text string, confidence float64, flagged bool) {
	s.recentTexts = append(s.recentTexts, text)
	s.recentConfs = append(s.recentConfs, confidence)
	s.recentFlags = append(s.recentFlags, flagged)
	if len(s.recentTexts) > recentWindow {
		s.recentTexts = s.recentTexts[1:]
		s.recentConfs = s.recentConfs[1:]
		s.recentFlags = s.recentFlags[1:]
	}
}

func (s *Session) countRecentFlags() int {
	n := 0
	for _, f := range s.recentFlags {
		if f {
			n++
		}
	}
	return n
}

// lastConfidence returns the most recent chunk confidence, or a neutral 0.5
// when no chunk has been seen.
func (s *Session) lastConfidence() float64 {
	if len(s.recentConfs) == 0 {
		return 0.5
	}
	return s.recentConfs[len(s.recentConfs)-1]
}

func (s *Session) averageLatency() time.Duration {
	if s.chunks == 0 {
		return 0
	}
	return s.latencySum / time.Duration(s.chunks)
}

// reportError logs a non-fatal processing failure and publishes it on the
// control channel. Sessions never die on processing errors.
func (s *Session) reportError(ctx context.Context, kind string, err error) {
	if err == nil {
		return
	}
	s.log.Error("session processing error",
		slog.String("kind", kind),
		slog.String("error", err.Error()),
	)
	if pubErr := s.sink.PublishError(ctx, events.SessionError{
		SessionID: s.id,
		Type:      kind,
		Message:   err.Error(),
		At:        time.Now(),
	}); pubErr != nil {
		s.log.Warn("publishing session error failed", slog.String("error", pubErr.Error()))
	}
}
