// Package archive stores annotated detection videos in a dated tree and
// locates NVR snapshots for notifications.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Error is an archive failure (filesystem, copy, remux or mirror upload).
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Remuxer merges the video stream of one file with the audio of another.
type Remuxer interface {
	Remux(ctx context.Context, videoPath, audioPath, dest string) error
}

// Mirror copies archived files to secondary storage and can hand out links.
type Mirror interface {
	Upload(ctx context.Context, key, filePath string) error
	URL(ctx context.Context, key string) (string, error)
}

// Archiver places annotated videos under <root>/recordings/YYYY/MM/DD.
type Archiver struct {
	root    string
	baseURL string
	remuxer Remuxer
	mirror  Mirror
	logger  *zap.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithRemuxer enables merging the original recording's audio into the copy.
func WithRemuxer(r Remuxer) Option {
	return func(a *Archiver) { a.remuxer = r }
}

// WithMirror uploads every archived video to m after it is written.
func WithMirror(m Mirror) Option {
	return func(a *Archiver) { a.mirror = m }
}

// WithBaseURL sets the public URL that serves the archive root.
func WithBaseURL(u string) Option {
	return func(a *Archiver) { a.baseURL = strings.TrimRight(u, "/") }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an Archiver rooted at root.
func New(root string, opts ...Option) *Archiver {
	a := &Archiver{root: root, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Key is the archive-relative, slash-separated name for an event's video.
func Key(cameraName string, eventTime time.Time, ext string) string {
	return path.Join("recordings",
		eventTime.Format("2006"), eventTime.Format("01"), eventTime.Format("02"),
		eventTime.Format("15_04_05")+"_"+cameraName+ext)
}

// Destination is the local path Archive writes for the event.
func (a *Archiver) Destination(cameraName string, eventTime time.Time, ext string) string {
	return filepath.Join(a.root, filepath.FromSlash(Key(cameraName, eventTime, ext)))
}

// Archive copies annotated into the dated tree and, when a Remuxer is set,
// replaces the copy with one carrying original's audio. On a remux or mirror
// failure the returned path still points at the video-only copy.
func (a *Archiver) Archive(ctx context.Context, annotated, original, cameraName string, eventTime time.Time) (string, error) {
	ext := filepath.Ext(annotated)
	dest := a.Destination(cameraName, eventTime, ext)

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", &Error{Op: "mkdir", Path: filepath.Dir(dest), Err: err}
	}
	if err := copyFile(annotated, dest); err != nil {
		return "", &Error{Op: "copy", Path: dest, Err: err}
	}
	a.logger.Info("Copied result video", zap.String("dest", dest))

	if a.remuxer != nil && original != "" {
		merged := strings.TrimSuffix(dest, ext) + ".merge" + ext
		if err := a.remuxer.Remux(ctx, dest, original, merged); err != nil {
			_ = os.Remove(merged)
			return dest, &Error{Op: "remux", Path: dest, Err: err}
		}
		if err := os.Rename(merged, dest); err != nil {
			_ = os.Remove(merged)
			return dest, &Error{Op: "remux", Path: dest, Err: err}
		}
		a.logger.Debug("Merged original audio into result video", zap.String("dest", dest))
	}

	if a.mirror != nil {
		key := Key(cameraName, eventTime, ext)
		if err := a.mirror.Upload(ctx, key, dest); err != nil {
			return dest, &Error{Op: "mirror", Path: key, Err: err}
		}
	}

	return dest, nil
}

// URL returns a link to an archived file: a mirror link when a Mirror is
// configured, otherwise baseURL joined with the path relative to the root.
// It returns "" when neither is available.
func (a *Archiver) URL(ctx context.Context, archived string) (string, error) {
	rel, err := filepath.Rel(a.root, archived)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", &Error{Op: "url", Path: archived, Err: fmt.Errorf("outside archive root %s", a.root)}
	}
	key := filepath.ToSlash(rel)

	if a.mirror != nil {
		u, err := a.mirror.URL(ctx, key)
		if err != nil {
			return "", &Error{Op: "url", Path: key, Err: err}
		}
		return u, nil
	}
	if a.baseURL == "" {
		return "", nil
	}
	return a.baseURL + "/" + escapePath(key), nil
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
