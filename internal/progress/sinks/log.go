package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/zealywatch/internal/progress"
)

// LogSink writes each event as a structured log line. Security-relevant
// stages log at warn level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StageUnauthorized, progress.StageEviction, progress.StageWarning:
			level = zapcore.WarnLevel
		case progress.StageCheckDone, progress.StageCycleStart:
			level = zapcore.DebugLevel
		}
		if ce := s.logger.Check(level, "activity"); ce != nil {
			ce.Write(fields(evt)...)
		}
	}
	return nil
}

func fields(evt progress.Event) []zap.Field {
	out := []zap.Field{
		zap.String("stage", string(evt.Stage)),
		zap.Time("ts", evt.TS),
	}
	if evt.HasCycle() {
		out = append(out, zap.Stringer("cycle_id", evt.CycleUUID()))
	}
	if evt.URL != "" {
		out = append(out, zap.String("url", evt.URL))
	}
	if evt.Source != "" {
		out = append(out, zap.String("source", evt.Source))
	}
	if evt.Kind != "" {
		out = append(out, zap.String("kind", evt.Kind))
	}
	if evt.Outcome != "" {
		out = append(out, zap.String("outcome", string(evt.Outcome)))
	}
	if evt.Failures > 0 {
		out = append(out, zap.Int("failures", evt.Failures))
	}
	if evt.Dur > 0 {
		out = append(out, zap.Duration("dur", evt.Dur))
	}
	if evt.ChatID != 0 {
		out = append(out, zap.Int64("chat_id", evt.ChatID))
	}
	if evt.Command != "" {
		out = append(out, zap.String("command", evt.Command))
	}
	if evt.Stage == progress.StageCycleDone {
		out = append(out,
			zap.Int("checked", evt.Tally.Checked),
			zap.Int("changed", evt.Tally.Changed),
			zap.Int("failed", evt.Tally.Failed),
		)
	}
	if evt.Note != "" {
		out = append(out, zap.String("note", evt.Note))
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
