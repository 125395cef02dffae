package archive

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o644))
}

func TestSnapshotPath(t *testing.T) {
	day := time.Date(2020, 5, 9, 0, 0, 0, 0, time.UTC)
	assert.Equal(t,
		filepath.Join("/videos/cam1", "2020", "05", "09", "meta", "rec123_full.jpg"),
		SnapshotPath("/videos/cam1", day, "rec123"))
}

func TestLocate(t *testing.T) {
	camDir := t.TempDir()
	now := time.Date(2020, 5, 10, 0, 0, 5, 0, time.UTC)
	reg := NewCameraRegistry(map[string]string{"AA:BB": camDir})
	loc := NewSnapshotLocator(reg, func() time.Time { return now })

	testCases := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{"today", func(t *testing.T) string {
			p := SnapshotPath(camDir, now, "today1")
			touch(t, p)
			return p
		}},
		{"yesterday", func(t *testing.T) string {
			p := SnapshotPath(camDir, now.AddDate(0, 0, -1), "late1")
			touch(t, p)
			return p
		}},
		{"today preferred", func(t *testing.T) string {
			touch(t, SnapshotPath(camDir, now.AddDate(0, 0, -1), "both1"))
			p := SnapshotPath(camDir, now, "both1")
			touch(t, p)
			return p
		}},
	}

	ids := map[string]string{"today": "today1", "yesterday": "late1", "today preferred": "both1"}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			want := tc.setup(t)
			got, err := loc.Locate("AA:BB", ids[tc.name])
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLocateNotFound(t *testing.T) {
	camDir := t.TempDir()
	now := time.Date(2020, 5, 10, 12, 0, 0, 0, time.UTC)
	loc := NewSnapshotLocator(NewCameraRegistry(map[string]string{"AA:BB": camDir}), func() time.Time { return now })

	// Two days old is out of range.
	touch(t, SnapshotPath(camDir, now.AddDate(0, 0, -2), "old1"))

	_, err := loc.Locate("AA:BB", "old1")
	assert.True(t, errors.Is(err, ErrSnapshotNotFound))

	_, err = loc.Locate("CC:DD", "old1")
	assert.True(t, errors.Is(err, ErrUnknownCamera))
}

func TestCameraRegistryIsCopied(t *testing.T) {
	entries := map[string]string{"a": "/a"}
	reg := NewCameraRegistry(entries)
	entries["b"] = "/b"

	assert.Equal(t, 1, reg.Len())
	_, ok := reg.Path("b")
	assert.False(t, ok)
}

func TestSnapshotNotFoundNamesCamera(t *testing.T) {
	reg := NewCameraRegistry(map[string]string{"AA:BB": t.TempDir()}).
		WithNames(map[string]string{"AA:BB": "Garage"})
	assert.Equal(t, 1, reg.Len())

	_, err := NewSnapshotLocator(reg, nil).Locate("AA:BB", "rec1")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.Contains(t, err.Error(), "camera Garage (AA:BB) recording rec1")
}
