// Package pipeline drives one recording-completed event through download,
// detection, evaluation, archiving, notification and cleanup.
package pipeline

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mikeyg42/person-detector/internal/archive"
	"github.com/mikeyg42/person-detector/internal/detector"
	"github.com/mikeyg42/person-detector/internal/events"
	"github.com/mikeyg42/person-detector/internal/metrics"
	"github.com/mikeyg42/person-detector/internal/notification"
)

// Stage names a state of a run.
type Stage string

const (
	StageFetching   Stage = "fetching"
	StageDetecting  Stage = "detecting"
	StageEvaluating Stage = "evaluating"
	StageArchiving  Stage = "archiving"
	StageSnapshot   Stage = "snapshot"
	StageNotifying  Stage = "notifying"
	StageSkipping   Stage = "skipping"
	StageCleaningUp Stage = "cleaning_up"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeNotified      Outcome = "notified"
	OutcomeNotifyFailed  Outcome = "notify_failed"
	OutcomeNotDetected   Outcome = "not_detected"
	OutcomeFetchFailed   Outcome = "fetch_failed"
	OutcomeDetectFailed  Outcome = "detect_failed"
	OutcomeReportInvalid Outcome = "report_invalid"
)

type Fetcher interface {
	Download(ctx context.Context, recordingID, dest string) error
}

type Detector interface {
	Detect(ctx context.Context, input string) (detector.Result, error)
	// Scratch lists every file the detector may leave behind.
	Scratch() []string
}

type Evaluator interface {
	EvaluateFile(path string) (detector.Decision, error)
}

type Archiver interface {
	Archive(ctx context.Context, annotated, original, cameraName string, eventTime time.Time) (string, error)
	URL(ctx context.Context, archived string) (string, error)
}

type SnapshotLocator interface {
	Locate(cameraID, recordingID string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, note notification.Notification) error
}

// Deps are the collaborators a run sequences.
type Deps struct {
	Fetcher   Fetcher
	Detector  Detector
	Evaluator Evaluator
	Archiver  Archiver
	Snapshots SnapshotLocator
	Notifier  Notifier
}

// Run is the record of one processed event.
type Run struct {
	ID          string
	Event       events.RecordingCompleted
	Stages      []Stage
	Outcome     Outcome
	Decision    detector.Decision
	ArchivePath string
	SnapshotErr error
	ArchiveErr  error
	NotifyErr   error
	// Err is the failure that ended the run early, if any.
	Err error
}

// Orchestrator processes events one at a time. It is not safe for
// concurrent use; runs share the scratch recording path.
type Orchestrator struct {
	deps          Deps
	recordingPath string
	logger        *zap.Logger
}

// New creates an Orchestrator that downloads every recording to
// recordingPath.
func New(deps Deps, recordingPath string, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, recordingPath: recordingPath, logger: logger}
}

// Process runs the full state machine for ev. Failures are logged and
// recorded on the returned Run; they never escape. Scratch files are removed
// before Process returns.
func (o *Orchestrator) Process(ctx context.Context, ev events.RecordingCompleted) *Run {
	run := &Run{ID: uuid.NewString(), Event: ev}
	log := o.logger.With(
		zap.String("run_id", run.ID),
		zap.String("recording_id", ev.RecordingID),
		zap.String("camera", ev.CameraName),
		zap.String("camera_id", ev.CameraID))

	log.Info("New recording", zap.Time("event_time", ev.EventTime))

	defer func() {
		o.cleanup(log, run)
		metrics.RunsTotal.WithLabelValues(string(run.Outcome)).Inc()
		log.Info("Run finished", zap.String("outcome", string(run.Outcome)), zap.Any("stages", run.Stages))
	}()

	// Fetching
	run.enter(StageFetching)
	start := time.Now()
	err := o.deps.Fetcher.Download(ctx, ev.RecordingID, o.recordingPath)
	metrics.ObserveStage(string(StageFetching), start)
	if err != nil {
		log.Error("Fetch failed, skipping recording", zap.String("stage", string(StageFetching)), zap.Error(err))
		run.fail(OutcomeFetchFailed, err)
		return run
	}

	// Detecting
	run.enter(StageDetecting)
	start = time.Now()
	res, err := o.deps.Detector.Detect(ctx, o.recordingPath)
	metrics.ObserveStage(string(StageDetecting), start)
	if err != nil {
		var derr *detector.Error
		if errors.As(err, &derr) && derr.Stderr != "" {
			log = log.With(zap.String("stderr", derr.Stderr))
		}
		log.Error("Detection failed", zap.String("stage", string(StageDetecting)), zap.Error(err))
		run.fail(OutcomeDetectFailed, err)
		return run
	}

	// Evaluating
	run.enter(StageEvaluating)
	decision, err := o.deps.Evaluator.EvaluateFile(res.ReportPath)
	if err != nil {
		outcome := OutcomeReportInvalid
		if !errors.As(err, new(*detector.ReportParseError)) {
			// An unreadable report is the detector's failure.
			outcome = OutcomeDetectFailed
		}
		log.Error("Could not evaluate detection report", zap.String("stage", string(StageEvaluating)), zap.Error(err))
		run.fail(outcome, err)
		return run
	}
	run.Decision = decision

	if !decision.Detected {
		run.enter(StageSkipping)
		log.Info("Person NOT FOUND in recording")
		run.Outcome = OutcomeNotDetected
		return run
	}
	log.Info("Person detected", zap.Int("confidence", decision.Confidence))

	// Archiving: both side effects below are best effort.
	run.enter(StageArchiving)
	videoURL := o.archive(ctx, log, run, res)

	run.enter(StageSnapshot)
	image, err := o.deps.Snapshots.Locate(ev.CameraID, ev.RecordingID)
	if err != nil {
		run.SnapshotErr = err
		metrics.StageFailures.WithLabelValues(string(StageSnapshot)).Inc()
		if errors.Is(err, archive.ErrSnapshotNotFound) || errors.Is(err, archive.ErrUnknownCamera) {
			log.Warn("Notification image was not found", zap.Error(err))
		} else {
			log.Error("Snapshot lookup failed", zap.Error(err))
		}
	} else {
		log.Info("Notification image found", zap.String("image", image))
	}

	// Notifying
	run.enter(StageNotifying)
	start = time.Now()
	err = o.deps.Notifier.Notify(ctx, notification.Notification{
		ImagePath:  image,
		CameraName: ev.CameraName,
		EventTime:  ev.EventTime,
		VideoURL:   videoURL,
	})
	metrics.ObserveStage(string(StageNotifying), start)
	if err != nil {
		run.NotifyErr = err
		metrics.StageFailures.WithLabelValues(string(StageNotifying)).Inc()
		log.Error("Notification failed", zap.String("stage", string(StageNotifying)), zap.Error(err))
		run.Outcome = OutcomeNotifyFailed
		return run
	}

	run.Outcome = OutcomeNotified
	return run
}

// archive stores the annotated video and returns a link to it ("" if none).
func (o *Orchestrator) archive(ctx context.Context, log *zap.Logger, run *Run, res detector.Result) string {
	start := time.Now()
	defer metrics.ObserveStage(string(StageArchiving), start)

	if res.VideoPath == "" {
		run.ArchiveErr = &archive.Error{Op: "copy", Err: errors.New("detector produced no annotated video")}
		metrics.StageFailures.WithLabelValues(string(StageArchiving)).Inc()
		log.Error("Archive failed", zap.String("stage", string(StageArchiving)), zap.Error(run.ArchiveErr))
		return ""
	}

	ev := run.Event
	path, err := o.deps.Archiver.Archive(ctx, res.VideoPath, o.recordingPath, ev.CameraName, ev.EventTime)
	run.ArchivePath = path
	if err != nil {
		run.ArchiveErr = err
		metrics.StageFailures.WithLabelValues(string(StageArchiving)).Inc()
		log.Error("Archive failed", zap.String("stage", string(StageArchiving)), zap.Error(err))
	} else {
		log.Info("Result video archived", zap.String("path", path))
	}
	if path == "" {
		return ""
	}

	link, err := o.deps.Archiver.URL(ctx, path)
	if err != nil {
		log.Warn("No link for archived video", zap.Error(err))
		return ""
	}
	return link
}

// cleanup removes the downloaded recording and the detector's artifacts.
func (o *Orchestrator) cleanup(log *zap.Logger, run *Run) {
	run.enter(StageCleaningUp)
	paths := append([]string{o.recordingPath, o.recordingPath + ".part"}, o.deps.Detector.Scratch()...)
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove scratch file", zap.String("path", p), zap.Error(err))
		}
	}
}

func (r *Run) enter(s Stage) { r.Stages = append(r.Stages, s) }

func (r *Run) fail(outcome Outcome, err error) {
	r.Outcome = outcome
	r.Err = err
}
