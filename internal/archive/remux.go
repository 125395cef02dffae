package archive

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// FFmpegRemuxer copies the video stream of one input and re-encodes the
// audio of another into a single container.
type FFmpegRemuxer struct {
	Binary string
	logger *zap.Logger
}

// NewFFmpegRemuxer uses binary, or "ffmpeg" from PATH when empty.
func NewFFmpegRemuxer(binary string, logger *zap.Logger) *FFmpegRemuxer {
	if binary == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegRemuxer{Binary: binary, logger: logger}
}

// Args returns the ffmpeg arguments (without the program name).
func (r *FFmpegRemuxer) Args(videoPath, audioPath, dest string) []string {
	video := ffmpeg.Input(videoPath).Video()
	audio := ffmpeg.Input(audioPath).Audio()
	// Silent stops Compile from printing through the standard log package.
	cmd := ffmpeg.Output([]*ffmpeg.Stream{video, audio}, dest, ffmpeg.KwArgs{
		"c:v": "copy",
		"c:a": "aac",
	}).OverWriteOutput().Silent(true).Compile()
	return cmd.Args[1:]
}

func (r *FFmpegRemuxer) Remux(ctx context.Context, videoPath, audioPath, dest string) error {
	args := r.Args(videoPath, audioPath, dest)
	r.logger.Debug("Running ffmpeg", zap.String("binary", r.Binary), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[len(msg)-512:]
		}
		return fmt.Errorf("ffmpeg remux failed: %w: %s", err, msg)
	}
	return nil
}
