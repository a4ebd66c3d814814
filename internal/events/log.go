package events

import (
	"context"
	"log/slog"
)

// Compile-time assertion that LogSink implements Sink.
var _ Sink = (*LogSink)(nil)

// LogSink writes every event to the structured log and nothing else. It is
// the default sink when no broker is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// PublishInterim implements Sink.
func (s *LogSink) PublishInterim(ctx context.Context, e InterimUpdate) error {
	s.logger.DebugContext(ctx, "interim update",
		slog.String("session_id", e.SessionID),
		slog.String("strategy", e.Strategy),
		slog.Float64("stability_score", e.StabilityScore),
		slog.Int("display_len", len(e.DisplayText)))
	return nil
}

// PublishFinal implements Sink.
func (s *LogSink) PublishFinal(ctx context.Context, e FinalUpdate) error {
	s.logger.InfoContext(ctx, "segment confirmed",
		slog.String("session_id", e.SessionID),
		slog.String("segment_id", e.SegmentID),
		slog.Float64("confidence", e.Confidence),
		slog.Int("text_len", len(e.Text)))
	return nil
}

// PublishError implements Sink.
func (s *LogSink) PublishError(ctx context.Context, e SessionError) error {
	s.logger.WarnContext(ctx, "session error",
		slog.String("session_id", e.SessionID),
		slog.String("type", e.Type),
		slog.String("message", e.Message))
	return nil
}

// PublishMetrics implements Sink.
func (s *LogSink) PublishMetrics(ctx context.Context, e SessionMetrics) error {
	s.logger.InfoContext(ctx, "session finished",
		slog.String("session_id", e.SessionID),
		slog.Uint64("frames_received", e.FramesReceived),
		slog.Uint64("frames_dropped", e.FramesDropped),
		slog.Uint64("chunks_processed", e.ChunksProcessed),
		slog.Uint64("hallucinations", e.Hallucinations),
		slog.Uint64("segments", e.Segments),
		slog.Duration("average_latency", e.AverageLatency),
		slog.Duration("duration", e.Duration))
	return nil
}

// Close implements Sink. It is a no-op.
func (s *LogSink) Close() error { return nil }
