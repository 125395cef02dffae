package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mikeyg42/person-detector/internal/events"
	"github.com/mikeyg42/person-detector/internal/metrics"
)

// LineSource yields raw log lines, blocking until one is available.
type LineSource interface {
	Next(ctx context.Context) (string, error)
}

// Processor handles one parsed event.
type Processor interface {
	Process(ctx context.Context, ev events.RecordingCompleted) *Run
}

// Watch reads lines from src until ctx is cancelled, handing every
// recording-completed event to proc. Events are processed strictly one after
// another and no line is read while a run is in progress. A run in flight
// when ctx is cancelled still completes, including cleanup.
func Watch(ctx context.Context, src LineSource, parser *events.Parser, proc Processor, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	runCtx := context.WithoutCancel(ctx)

	for {
		line, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("read recording log: %w", err)
		}

		ev, ok, err := parser.Parse(line)
		if err != nil {
			metrics.ParseErrors.Inc()
			logger.Error("Skipping malformed recording line", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		safeProcess(runCtx, proc, ev, logger)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// safeProcess keeps a panicking run from ending the watch loop.
func safeProcess(ctx context.Context, proc Processor, ev events.RecordingCompleted, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Run panicked",
				zap.String("recording_id", ev.RecordingID),
				zap.String("camera", ev.CameraName),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	proc.Process(ctx, ev)
}
