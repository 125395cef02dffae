package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mikeyg42/person-detector/internal/events"
)

// sliceSource yields its lines, then cancels the watch.
type sliceSource struct {
	lines  []string
	cancel context.CancelFunc
	err    error
}

func (s *sliceSource) Next(ctx context.Context) (string, error) {
	if len(s.lines) == 0 {
		if s.err != nil {
			return "", s.err
		}
		s.cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type recordingProcessor struct {
	seen  []events.RecordingCompleted
	panic bool
	hook  func(ctx context.Context)
}

func (p *recordingProcessor) Process(ctx context.Context, ev events.RecordingCompleted) *Run {
	p.seen = append(p.seen, ev)
	if p.hook != nil {
		p.hook(ctx)
	}
	if p.panic {
		p.panic = false
		panic("boom")
	}
	return &Run{Event: ev}
}

func eventLine(recordingID string) string {
	return "1589027445.1 2020-05-09 12:30:45.100 INFO Camera[AA:BB|Garage] STOPPING motionRecording id:" + recordingID
}

func TestWatchDispatchesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{cancel: cancel, lines: []string{
		"1589027440.0 2020-05-09 12:30:40.000 INFO Camera[AA:BB|Garage] STARTING motionRecording id:rec1",
		eventLine("rec1"),
		"1589027446.0 2020-05-09 12:30:46 INFO Camera[broken] STOPPING motionRecording id:x",
		eventLine("rec2"),
	}}
	proc := &recordingProcessor{}
	core, logs := observer.New(zapcore.InfoLevel)

	err := Watch(ctx, src, events.NewParser(time.UTC), proc, zap.New(core))
	require.NoError(t, err)

	require.Len(t, proc.seen, 2)
	assert.Equal(t, "rec1", proc.seen[0].RecordingID)
	assert.Equal(t, "rec2", proc.seen[1].RecordingID)

	malformed := logs.FilterMessage("Skipping malformed recording line").All()
	require.Len(t, malformed, 1)
	assert.Equal(t, zapcore.ErrorLevel, malformed[0].Level)
}

func TestWatchContinuesAfterFailedRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := newHarness(t, "person: 10%\n")
	h.fetcher.fail["rec1"] = errors.New("connection refused")

	src := &sliceSource{cancel: cancel, lines: []string{eventLine("rec1"), eventLine("rec2")}}
	require.NoError(t, Watch(ctx, src, events.NewParser(time.UTC), h.orch, nil))

	assert.Equal(t, []string{"rec1", "rec2"}, h.fetcher.ids)
	assert.Len(t, h.detector.inputs, 1)
	h.assertClean(t)
}

func TestWatchRecoversFromPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &sliceSource{cancel: cancel, lines: []string{eventLine("rec1"), eventLine("rec2")}}
	proc := &recordingProcessor{panic: true}
	core, logs := observer.New(zapcore.ErrorLevel)

	require.NoError(t, Watch(ctx, src, events.NewParser(time.UTC), proc, zap.New(core)))
	assert.Len(t, proc.seen, 2)
	assert.Equal(t, 1, logs.FilterMessage("Run panicked").Len())
}

func TestWatchFinishesRunInFlight(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runCtxErr error
	proc := &recordingProcessor{hook: func(runCtx context.Context) {
		cancel()
		runCtxErr = runCtx.Err()
	}}
	src := &sliceSource{cancel: cancel, lines: []string{eventLine("rec1"), eventLine("rec2")}}

	require.NoError(t, Watch(ctx, src, events.NewParser(time.UTC), proc, nil))
	assert.NoError(t, runCtxErr)
	// Shutdown is honoured between events.
	assert.Len(t, proc.seen, 1)
}

func TestWatchReadError(t *testing.T) {
	src := &sliceSource{err: errors.New("permission denied")}

	err := Watch(context.Background(), src, events.NewParser(time.UTC), &recordingProcessor{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
