package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/person-detector/internal/metrics"
)

const defaultPollInterval = time.Second

// Tailer follows an append-only log file line by line. It keeps its own read
// offset and reopens the file from the start when it is truncated or
// replaced. After a read error it reopens the same file at the saved offset.
// A Tailer is not safe for concurrent use.
type Tailer struct {
	path       string
	poll       time.Duration
	fromStart  bool
	logger     *zap.Logger
	newBackOff func() backoff.BackOff

	file    *os.File
	reader  *bufio.Reader
	info    os.FileInfo
	offset  int64
	pending strings.Builder
	opened  bool
	resume  bool
}

// TailOption configures a Tailer.
type TailOption func(*Tailer)

// WithPollInterval sets how long Next sleeps when no new data is available.
func WithPollInterval(d time.Duration) TailOption {
	return func(t *Tailer) {
		if d > 0 {
			t.poll = d
		}
	}
}

// WithFromStart makes the first open read the file from the beginning
// instead of from its current end.
func WithFromStart(v bool) TailOption {
	return func(t *Tailer) { t.fromStart = v }
}

func WithLogger(l *zap.Logger) TailOption {
	return func(t *Tailer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithReopenBackOff replaces the policy used while waiting for a missing
// log file to reappear.
func WithReopenBackOff(f func() backoff.BackOff) TailOption {
	return func(t *Tailer) { t.newBackOff = f }
}

// NewTailer creates a Tailer for path. The file is opened lazily by Next.
func NewTailer(path string, opts ...TailOption) *Tailer {
	t := &Tailer{
		path:   path,
		poll:   defaultPollInterval,
		logger: zap.NewNop(),
		newBackOff: func() backoff.BackOff {
			ebo := backoff.NewExponentialBackOff()
			ebo.InitialInterval = time.Second
			ebo.MaxInterval = 30 * time.Second
			ebo.MaxElapsedTime = 0
			return ebo
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Next blocks until a complete line is available and returns it without its
// line terminator. It only returns an error when ctx is done or the file
// cannot be read at all.
func (t *Tailer) Next(ctx context.Context) (string, error) {
	for {
		if t.file == nil {
			if err := t.open(ctx); err != nil {
				return "", err
			}
		}

		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		if err == nil {
			t.pending.WriteString(chunk)
			line := t.pending.String()
			t.pending.Reset()
			return strings.TrimRight(line, "\r\n"), nil
		}
		if !errors.Is(err, io.EOF) {
			t.logger.Warn("Read failed, reopening log",
				zap.String("path", t.path),
				zap.Int64("offset", t.offset),
				zap.Error(err))
			// Keep offset and the partial line so open() can continue where
			// this handle stopped.
			t.pending.WriteString(chunk)
			_ = t.Close()
			t.resume = true
			metrics.LogReopens.WithLabelValues("read_error").Inc()
			continue
		}
		t.pending.WriteString(chunk)

		if t.checkRotation() {
			continue
		}

		if err := sleep(ctx, t.poll); err != nil {
			return "", err
		}
	}
}

// Offset is the number of bytes consumed from the current file.
func (t *Tailer) Offset() int64 { return t.offset }

// Close releases the underlying file handle.
func (t *Tailer) Close() error {
	if t.file == nil {
		return nil
	}
	err := t.file.Close()
	t.file = nil
	t.reader = nil
	return err
}

// checkRotation compares the open handle with what is at path now. It returns
// true when the reader was reset and should be read again immediately.
func (t *Tailer) checkRotation() bool {
	st, err := os.Stat(t.path)
	switch {
	case err != nil:
		// Rotated away and not yet recreated; open() waits for it.
		t.logger.Info("Log file disappeared, waiting for it to return", zap.String("path", t.path))
		t.closeFile()
		metrics.LogReopens.WithLabelValues("missing").Inc()
		return true
	case !os.SameFile(t.info, st):
		t.logger.Info("Log file replaced, reopening from start", zap.String("path", t.path))
		t.closeFile()
		metrics.LogReopens.WithLabelValues("replaced").Inc()
		return true
	case st.Size() < t.offset:
		t.logger.Info("Log file truncated, reading from start",
			zap.String("path", t.path),
			zap.Int64("size", st.Size()),
			zap.Int64("offset", t.offset))
		if _, err := t.file.Seek(0, io.SeekStart); err != nil {
			t.closeFile()
		} else {
			t.reader.Reset(t.file)
			t.offset = 0
			t.pending.Reset()
		}
		metrics.LogReopens.WithLabelValues("truncated").Inc()
		return true
	}
	return false
}

func (t *Tailer) open(ctx context.Context) error {
	op := func() error {
		f, err := os.Open(t.path)
		if err != nil {
			return err
		}
		st, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}

		var offset int64
		resumed := t.resume && t.info != nil && os.SameFile(t.info, st) && st.Size() >= t.offset
		switch {
		case resumed:
			offset, err = f.Seek(t.offset, io.SeekStart)
		case !t.opened && !t.fromStart:
			offset, err = f.Seek(0, io.SeekEnd)
		}
		if err != nil {
			f.Close()
			return err
		}

		t.file = f
		t.info = st
		t.offset = offset
		t.reader = bufio.NewReader(f)
		if !resumed {
			t.pending.Reset()
		}
		t.opened = true
		t.resume = false
		return nil
	}

	notify := func(err error, wait time.Duration) {
		t.logger.Warn("Cannot open log file, retrying",
			zap.String("path", t.path),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(t.newBackOff(), ctx), notify); err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	t.logger.Debug("Log file opened", zap.String("path", t.path), zap.Int64("offset", t.offset))
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		_ = t.file.Close()
	}
	t.file = nil
	t.reader = nil
	t.pending.Reset()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
