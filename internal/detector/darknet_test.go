package detector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine writes an executable shell script standing in for darknet.
func fakeEngine(t *testing.T, body string) Config {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "darknet")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return Config{
		Dir:        dir,
		Binary:     bin,
		DataFile:   "./cfg/coco.data",
		CfgFile:    "./cfg/yolov3.cfg",
		Weights:    "./yolov3.weights",
		Threshold:  0.25,
		ReportFile: "result.txt",
		OutputFile: "result.avi",
		Timeout:    10 * time.Second,
	}
}

func TestDarknetArgs(t *testing.T) {
	d := New(Config{
		DataFile:   "./cfg/coco.data",
		CfgFile:    "./cfg/yolov3.cfg",
		Weights:    "./yolov3.weights",
		Threshold:  0.25,
		OutputFile: "result.avi",
	}, nil)

	assert.Equal(t, []string{
		"detector", "demo", "./cfg/coco.data", "./cfg/yolov3.cfg", "./yolov3.weights",
		"/tmp/recording.mp4", "-i", "0", "-thresh", "0.25", "-out_filename", "result.avi",
	}, d.Args("/tmp/recording.mp4"))
}

func TestDarknetDetect(t *testing.T) {
	cfg := fakeEngine(t, `echo "args: $*"
echo "person: 92%"
echo video > result.avi`)
	d := New(cfg, nil)

	res, err := d.Detect(context.Background(), filepath.Join(t.TempDir(), "recording.mp4"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.Dir, "result.txt"), res.ReportPath)
	assert.Equal(t, filepath.Join(cfg.Dir, "result.avi"), res.VideoPath)

	report, err := os.ReadFile(res.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "person: 92%")
	assert.Contains(t, string(report), "-out_filename result.avi")

	decision, err := NewEvaluator("person", 80, nil).EvaluateFile(res.ReportPath)
	require.NoError(t, err)
	assert.True(t, decision.Detected)
}

func TestDarknetDetectWithoutVideo(t *testing.T) {
	cfg := fakeEngine(t, `echo "car: 50%"`)
	d := New(cfg, nil)

	// Leftovers from an earlier run must not be reported.
	require.NoError(t, os.WriteFile(d.VideoPath(), []byte("stale"), 0o644))

	res, err := d.Detect(context.Background(), "recording.mp4")
	require.NoError(t, err)
	assert.Empty(t, res.VideoPath)
	assert.NoFileExists(t, d.VideoPath())
}

func TestDarknetDetectExitCode(t *testing.T) {
	cfg := fakeEngine(t, `echo "Couldn't open file: ./cfg/coco.data" >&2
exit 3`)
	d := New(cfg, nil)

	_, err := d.Detect(context.Background(), "recording.mp4")
	require.Error(t, err)

	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "run", derr.Op)
	assert.Equal(t, 3, derr.ExitCode)
	assert.Contains(t, derr.Stderr, "Couldn't open file")
}

func TestDarknetDetectTimeout(t *testing.T) {
	cfg := fakeEngine(t, `exec sleep 5`)
	cfg.Timeout = 100 * time.Millisecond
	d := New(cfg, nil)

	start := time.Now()
	_, err := d.Detect(context.Background(), "recording.mp4")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)

	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.True(t, strings.Contains(derr.Error(), "timed out"))
}

func TestDarknetMissingBinary(t *testing.T) {
	d := New(Config{Dir: t.TempDir(), Binary: "/nonexistent/darknet"}, nil)

	_, err := d.Detect(context.Background(), "recording.mp4")
	var derr *Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "start", derr.Op)
}

func TestDarknetScratch(t *testing.T) {
	d := New(Config{Dir: "/opt/darknet"}, nil)
	assert.Equal(t, []string{"/opt/darknet/result.txt", "/opt/darknet/result.avi"}, d.Scratch())
}
