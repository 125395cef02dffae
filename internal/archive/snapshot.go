package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrSnapshotNotFound means neither today's nor yesterday's meta folder
	// has a thumbnail for the recording.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrUnknownCamera means the camera id has no registry entry.
	ErrUnknownCamera = errors.New("camera not in registry")
)

// CameraRegistry maps NVR camera ids to the camera's video directory. It is
// built once at startup and never mutated.
type CameraRegistry struct {
	paths map[string]string
	names map[string]string
}

// NewCameraRegistry copies entries into a new registry.
func NewCameraRegistry(entries map[string]string) CameraRegistry {
	paths := make(map[string]string, len(entries))
	for id, p := range entries {
		paths[id] = p
	}
	return CameraRegistry{paths: paths}
}

// Path returns the video directory for cameraID.
func (r CameraRegistry) Path(cameraID string) (string, bool) {
	p, ok := r.paths[cameraID]
	return p, ok
}

func (r CameraRegistry) Len() int { return len(r.paths) }

// WithNames returns a copy of r that also knows the configured display name
// of each camera.
func (r CameraRegistry) WithNames(names map[string]string) CameraRegistry {
	named := make(map[string]string, len(names))
	for id, n := range names {
		if n != "" {
			named[id] = n
		}
	}
	return CameraRegistry{paths: r.paths, names: named}
}

// Label is "<name> (<id>)" for named cameras and the bare id otherwise.
func (r CameraRegistry) Label(cameraID string) string {
	if n, ok := r.names[cameraID]; ok {
		return n + " (" + cameraID + ")"
	}
	return cameraID
}

// SnapshotLocator finds the NVR's full-size thumbnail for a recording.
type SnapshotLocator struct {
	registry CameraRegistry
	now      func() time.Time
}

// NewSnapshotLocator uses now as the clock (time.Now when nil).
func NewSnapshotLocator(registry CameraRegistry, now func() time.Time) *SnapshotLocator {
	if now == nil {
		now = time.Now
	}
	return &SnapshotLocator{registry: registry, now: now}
}

// SnapshotPath builds <camera path>/YYYY/MM/DD/meta/<recording>_full.jpg.
func SnapshotPath(cameraPath string, day time.Time, recordingID string) string {
	return filepath.Join(cameraPath, day.Format("2006"), day.Format("01"), day.Format("02"),
		"meta", recordingID+"_full.jpg")
}

// Locate checks today's folder first, then yesterday's.
func (l *SnapshotLocator) Locate(cameraID, recordingID string) (string, error) {
	cameraPath, ok := l.registry.Path(cameraID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}

	today := l.now()
	for _, day := range []time.Time{today, today.AddDate(0, 0, -1)} {
		p := SnapshotPath(cameraPath, day, recordingID)
		if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: camera %s recording %s", ErrSnapshotNotFound, l.registry.Label(cameraID), recordingID)
}
