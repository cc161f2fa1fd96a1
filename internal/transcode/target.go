package transcode

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/floostack/transcoder/ffmpeg"
)

const (
	audioMarker   = "comsom"
	hdExtension   = ".m2ts"
	keyframeEvery = 15
	bFrames       = 2
)

// Target is one of the web video formats every video is encoded to.
type Target struct {
	Label      string
	Ext        string
	Format     string
	VideoCodec string
	AudioCodec string
}

var (
	WebM = Target{Label: "WebM", Ext: "webm", Format: "webm", VideoCodec: "libvpx", AudioCodec: "libvorbis"}
	MP4  = Target{Label: "MP4", Ext: "mp4", Format: "mp4", VideoCodec: "libx264", AudioCodec: "aac"}
	Ogg  = Target{Label: "Ogg", Ext: "ogv", Format: "ogg", VideoCodec: "libtheora", AudioCodec: "libvorbis"}

	// Targets in the order they are encoded.
	Targets = []Target{WebM, MP4, Ogg}
)

// VideoPath is the site-root relative path of the target's encode of the
// video with the given identity.
func (target Target) VideoPath(stem string) string {
	return filepath.ToSlash(filepath.Join("videos", stem+"."+target.Ext))
}

func (target Target) String() string { return target.Label }

// videoPlan holds everything about an encode which depends on the
// source rather than on the target.
type videoPlan struct {
	filter    string
	aspect    string
	withAudio bool
	metadata  map[string]string
	bitrate   string
	threads   int
}

func newVideoPlan(config VideoConfig, filename string, title string, authors []string) videoPlan {
	plan := videoPlan{
		aspect:    "4:3",
		withAudio: hasAudioMarker(filename),
		bitrate:   config.Bitrate,
		threads:   config.Threads,
		metadata:  map[string]string{},
	}

	scale := "512:384"
	if strings.EqualFold(filepath.Ext(filename), hdExtension) {
		scale = "512:288"
		plan.aspect = "16:9"
	}
	plan.filter = watermarkFilter(scale, config.Watermark)

	if title != "" {
		plan.metadata["title"] = title
	}
	if len(authors) > 0 {
		plan.metadata["author"] = strings.Join(authors, ", ")
	}

	return plan
}

// hasAudioMarker reports whether the filename opts the video in to
// keeping its audio track.
func hasAudioMarker(filename string) bool {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return slices.Contains(strings.Split(strings.ToLower(stem), "_"), audioMarker)
}

func watermarkFilter(scale string, watermark string) string {
	if watermark == "" {
		return "scale=" + scale
	}

	return fmt.Sprintf("movie=%s,scale=100:-1[wm];[in]scale=%s[base];[base][wm]overlay=5:H-h-5[out]", watermark, scale)
}

// passOptions builds the ffmpeg options for one pass of a two-pass
// encode. Audio is only ever encoded during the second pass.
func (plan videoPlan) passOptions(target Target, pass int, passLog string) *ffmpeg.Options {
	overwrite := true
	keyframes, bframes, threads := keyframeEvery, bFrames, plan.threads
	format, codec := target.Format, target.VideoCodec
	bitrate, aspect, filter := plan.bitrate, plan.aspect, plan.filter

	opts := &ffmpeg.Options{
		OutputFormat:     &format,
		Overwrite:        &overwrite,
		VideoCodec:       &codec,
		VideoBitRate:     &bitrate,
		KeyframeInterval: &keyframes,
		Bframe:           &bframes,
		Aspect:           &aspect,
		VideoFilter:      &filter,
		Threads:          &threads,
		ExtraArgs: map[string]interface{}{
			"-pass":        fmt.Sprint(pass),
			"-passlogfile": passLog,
		},
	}

	if pass == 2 && plan.withAudio {
		audioCodec := target.AudioCodec
		opts.AudioCodec = &audioCodec
		if target.AudioCodec == "aac" {
			strict := -2
			opts.Strict = &strict
		}
	} else {
		skip := true
		opts.SkipAudio = &skip
	}

	if pass == 2 && len(plan.metadata) > 0 {
		opts.Metadata = plan.metadata
	}

	return opts
}

func fastStartOptions() *ffmpeg.Options {
	overwrite := true
	copyCodec, flags, format := "copy", "+faststart", "mp4"
	return &ffmpeg.Options{
		Overwrite:    &overwrite,
		OutputFormat: &format,
		VideoCodec:   &copyCodec,
		AudioCodec:   &copyCodec,
		MovFlags:     &flags,
	}
}

func stillOptions(seek string) *ffmpeg.Options {
	overwrite := true
	frames, format := 1, "image2"
	opts := &ffmpeg.Options{
		Overwrite:    &overwrite,
		OutputFormat: &format,
		Vframes:      &frames,
	}
	if seek != "" {
		opts.SeekTime = &seek
	}

	return opts
}
