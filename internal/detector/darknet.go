// Package detector runs the external object-detection engine over a
// recording and decides from its report whether a person was seen.
package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Config describes the darknet install. Binary, DataFile, CfgFile and
// Weights are resolved relative to Dir by the engine itself.
type Config struct {
	Dir        string
	Binary     string
	DataFile   string
	CfgFile    string
	Weights    string
	Threshold  float64
	ReportFile string
	OutputFile string
	Timeout    time.Duration
}

// Result locates the engine's artifacts for one input.
type Result struct {
	ReportPath string
	// VideoPath is empty when the engine did not write an annotated video.
	VideoPath string
}

// Error is a detector failure: the process could not be started, exited
// non-zero, timed out, or left no report behind.
type Error struct {
	Op       string
	Input    string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("detector %s %s: %v", e.Op, e.Input, e.Err)
	if e.ExitCode != 0 {
		msg += " (exit " + strconv.Itoa(e.ExitCode) + ")"
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Darknet invokes the YOLO darknet demo detector.
type Darknet struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Darknet invoker. A nil logger discards output.
func New(cfg Config, logger *zap.Logger) *Darknet {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReportFile == "" {
		cfg.ReportFile = "result.txt"
	}
	if cfg.OutputFile == "" {
		cfg.OutputFile = "result.avi"
	}
	return &Darknet{cfg: cfg, logger: logger}
}

// ReportPath is where the engine's stdout report is written.
func (d *Darknet) ReportPath() string { return filepath.Join(d.cfg.Dir, d.cfg.ReportFile) }

// VideoPath is where the engine writes its annotated video.
func (d *Darknet) VideoPath() string { return filepath.Join(d.cfg.Dir, d.cfg.OutputFile) }

// Scratch lists the files a run leaves behind in the engine directory.
func (d *Darknet) Scratch() []string {
	return []string{d.ReportPath(), d.VideoPath()}
}

// Args builds the engine command line for input.
func (d *Darknet) Args(input string) []string {
	return []string{
		"detector", "demo",
		d.cfg.DataFile, d.cfg.CfgFile, d.cfg.Weights,
		input,
		"-i", "0",
		"-thresh", strconv.FormatFloat(d.cfg.Threshold, 'f', -1, 64),
		"-out_filename", d.cfg.OutputFile,
	}
}

// Detect runs the engine on input and waits for it to exit. The engine's
// stdout becomes the report.
func (d *Darknet) Detect(ctx context.Context, input string) (Result, error) {
	fail := func(op string, exit int, stderr string, err error) (Result, error) {
		return Result{}, &Error{Op: op, Input: input, ExitCode: exit, Stderr: stderr, Err: err}
	}

	abs, err := filepath.Abs(input)
	if err != nil {
		return fail("resolve", 0, "", err)
	}

	// Stale artifacts from an earlier run must not pass for this one.
	for _, p := range d.Scratch() {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fail("prepare", 0, "", err)
		}
	}

	report, err := os.Create(d.ReportPath())
	if err != nil {
		return fail("prepare", 0, "", err)
	}
	defer report.Close()

	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	stderr := &tailBuffer{limit: 4096}
	cmd := exec.CommandContext(ctx, d.cfg.Binary, d.Args(abs)...)
	cmd.Dir = d.cfg.Dir
	cmd.Stdout = report
	cmd.Stderr = stderr
	cmd.WaitDelay = 5 * time.Second

	d.logger.Info("Running detection", zap.String("input", abs), zap.String("engine", d.cfg.Binary))
	start := time.Now()

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail("run", 0, stderr.String(), fmt.Errorf("timed out after %s", d.cfg.Timeout))
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fail("run", exitErr.ExitCode(), stderr.String(), err)
		}
		return fail("start", 0, stderr.String(), err)
	}

	if _, err := os.Stat(d.ReportPath()); err != nil {
		return fail("report", 0, stderr.String(), err)
	}

	res := Result{ReportPath: d.ReportPath()}
	if _, err := os.Stat(d.VideoPath()); err == nil {
		res.VideoPath = d.VideoPath()
	} else {
		d.logger.Warn("Detector wrote no annotated video", zap.String("path", d.VideoPath()))
	}

	d.logger.Info("Detection finished",
		zap.String("report", res.ReportPath),
		zap.Duration("took", time.Since(start)))
	return res, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string { return string(b.buf) }
