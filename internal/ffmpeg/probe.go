package ffmpeg

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/floostack/transcoder/ffmpeg"
)

// ProbeResult holds the technical details of a video file.
type ProbeResult struct {
	Duration time.Duration
	Width    int
	Height   int
	Codec    string
}

// Probe inspects the file at path using ffprobe, returning the details
// of its container and first video stream.
func (runner *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	t := ffmpeg.
		New(&ffmpeg.Config{
			FfmpegBinPath:  runner.config.FfmpegBinPath,
			FfprobeBinPath: runner.config.FfprobeBinPath,
		}).
		Input(path).
		WithContext(&ctx)

	metadata, err := t.GetMetadata()
	if err != nil {
		return nil, fmt.Errorf("failed to extract file metadata information using ffprobe: %w", err)
	}

	result := &ProbeResult{}
	if format := metadata.GetFormat(); format != nil {
		result.Duration = parseSeconds(format.GetDuration())
	}

	for _, stream := range metadata.GetStreams() {
		if stream.GetCodecType() != "video" {
			continue
		}

		result.Codec = stream.GetCodecName()
		result.Width = stream.GetWidth()
		result.Height = stream.GetHeight()
		break
	}

	return result, nil
}

// FormattedDuration renders the duration as HH:MM:SS.ss.
func (result *ProbeResult) FormattedDuration() string {
	return FormatDuration(result.Duration)
}

// Dimensions renders the frame size as WxH, or an empty string when the
// file had no video stream.
func (result *ProbeResult) Dimensions() string {
	if result.Width == 0 || result.Height == 0 {
		return ""
	}

	return fmt.Sprintf("%dx%d", result.Width, result.Height)
}

func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}

	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d.Seconds()

	return fmt.Sprintf("%02d:%02d:%05.2f", hours, minutes, seconds)
}

func parseSeconds(value string) time.Duration {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}
