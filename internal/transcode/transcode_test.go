package transcode

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/disintegration/imaging"
	"github.com/floostack/transcoder"
	"github.com/floostack/transcoder/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEncoder struct {
	mock.Mock
}

func (m *mockEncoder) Run(ctx context.Context, input string, output string, opts transcoder.Options) error {
	return m.Called(input, output, opts).Error(0)
}

// writesOutput makes the mock behave like ffmpeg: stills are real images,
// everything else is opaque bytes.
func writesOutput(t *testing.T) func(mock.Arguments) {
	return func(args mock.Arguments) {
		output := args.String(1)
		require.NoError(t, os.MkdirAll(filepath.Dir(output), os.ModePerm))
		if strings.HasSuffix(output, ".jpg") {
			require.NoError(t, imaging.Save(imaging.New(64, 48, color.White), output))
			return
		}
		require.NoError(t, os.WriteFile(output, []byte("encoded"), 0o644))
	}
}

func outputEndsWith(suffix string) interface{} {
	return mock.MatchedBy(func(output string) bool { return strings.HasSuffix(output, suffix) })
}

func newDriver(t *testing.T, encoder Encoder) (*Driver, string, string) {
	root := t.TempDir()
	local, site := filepath.Join(root, "local_media"), filepath.Join(root, "site_media")
	photo := PhotoConfig{WebWidth: 64, WebHeight: 64, ThumbWidth: 16, ThumbHeight: 12, Quality: 80}
	return New(local, site, VideoConfig{Bitrate: "600k"}, photo, encoder, logger.Discard().Get("Transcode")), local, site
}

func videoItem(t *testing.T, name string) *media.Item {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("source"), 0o644))
	item, err := media.NewItem(path, media.Video)
	require.NoError(t, err)
	return item
}

func Test_Video_PartialSuccess(t *testing.T) {
	t.Parallel()
	encoder := &mockEncoder{}
	encoder.On("Run", mock.Anything, outputEndsWith(".webm"), mock.Anything).Return(errors.New("libvpx missing"))
	encoder.On("Run", mock.Anything, mock.Anything, mock.Anything).Run(writesOutput(t)).Return(nil)

	driver, _, site := newDriver(t, encoder)
	item := videoItem(t, "ana-k3g7qe5y.mov")

	derivatives, err := driver.Transcode(context.Background(), item, &metadata.Record{Title: "Larva"})
	require.NoError(t, err)

	assert.Empty(t, derivatives.Webm)
	assert.Equal(t, "videos/ana-k3g7qe5y.mp4", derivatives.Mp4)
	assert.Equal(t, "videos/ana-k3g7qe5y.ogv", derivatives.Ogg)
	assert.Equal(t, "videos/ana-k3g7qe5y.jpg", derivatives.LargeThumb)
	assert.Equal(t, "videos/thumbs/ana-k3g7qe5y.jpg", derivatives.Thumb)

	assert.FileExists(t, filepath.Join(site, "videos", "ana-k3g7qe5y.mp4"))
	assert.FileExists(t, filepath.Join(site, "videos", "ana-k3g7qe5y.ogv"))
	assert.FileExists(t, filepath.Join(site, "videos", "thumbs", "ana-k3g7qe5y.jpg"))
	assert.NoFileExists(t, filepath.Join(site, "videos", "ana-k3g7qe5y.webm"))
}

func Test_Video_PanicIsContained(t *testing.T) {
	t.Parallel()
	encoder := &mockEncoder{}
	encoder.On("Run", mock.Anything, outputEndsWith(".ogv"), mock.Anything).Panic("segfault")
	encoder.On("Run", mock.Anything, mock.Anything, mock.Anything).Run(writesOutput(t)).Return(nil)

	driver, _, _ := newDriver(t, encoder)
	derivatives, err := driver.Transcode(context.Background(), videoItem(t, "clip.avi"), &metadata.Record{})
	require.NoError(t, err)
	assert.NotEmpty(t, derivatives.Webm)
	assert.NotEmpty(t, derivatives.Mp4)
	assert.Empty(t, derivatives.Ogg)
}

func Test_Video_AllFormatsFail(t *testing.T) {
	t.Parallel()
	encoder := &mockEncoder{}
	encoder.On("Run", mock.Anything, outputEndsWith(".jpg"), mock.Anything).Run(writesOutput(t)).Return(nil)
	encoder.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("corrupt source"))

	driver, _, _ := newDriver(t, encoder)
	_, err := driver.Transcode(context.Background(), videoItem(t, "clip.avi"), &metadata.Record{})
	assert.ErrorIs(t, err, ErrNoDerivative)
}

func Test_Video_FastStartFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	encoder := &mockEncoder{}
	encoder.On("Run", mock.Anything, mock.MatchedBy(func(output string) bool {
		return strings.Contains(output, "site_media") && strings.HasSuffix(output, ".mp4")
	}), mock.Anything).Return(errors.New("moov atom not found"))
	encoder.On("Run", mock.Anything, mock.Anything, mock.Anything).Run(writesOutput(t)).Return(nil)

	driver, _, site := newDriver(t, encoder)
	derivatives, err := driver.Transcode(context.Background(), videoItem(t, "clip.mov"), &metadata.Record{})
	require.NoError(t, err)
	assert.Equal(t, "videos/clip.mp4", derivatives.Mp4)
	assert.FileExists(t, filepath.Join(site, "videos", "clip.mp4"))
}

func Test_PassOptions(t *testing.T) {
	t.Parallel()

	silent := newVideoPlan(VideoConfig{Bitrate: "600k", Watermark: "/wm.png"}, "clip_01.mov", "Larva", []string{"Ana", "Leo"})
	first := silent.passOptions(WebM, 1, "/tmp/log")
	assert.True(t, *first.SkipAudio)
	assert.Nil(t, first.AudioCodec)
	assert.Equal(t, "1", first.ExtraArgs["-pass"])
	assert.Equal(t, "4:3", *first.Aspect)
	assert.Contains(t, *first.VideoFilter, "[in]scale=512:384[base]")
	assert.Contains(t, *first.VideoFilter, "movie=/wm.png")
	assert.Nil(t, first.Metadata)

	second := silent.passOptions(WebM, 2, "/tmp/log")
	assert.True(t, *second.SkipAudio)
	assert.Equal(t, "Ana, Leo", second.Metadata["author"])
	assert.Equal(t, "Larva", second.Metadata["title"])

	loud := newVideoPlan(VideoConfig{Bitrate: "600k"}, "Mergulho_COMSOM_2.m2ts", "", nil)
	assert.Equal(t, "16:9", loud.aspect)
	assert.Equal(t, "scale=512:288", loud.filter)

	withAudio := loud.passOptions(MP4, 2, "/tmp/log")
	assert.Nil(t, withAudio.SkipAudio)
	assert.Equal(t, "aac", *withAudio.AudioCodec)
	assert.Equal(t, "libvorbis", *loud.passOptions(Ogg, 2, "/tmp/log").AudioCodec)
	assert.True(t, *loud.passOptions(MP4, 1, "/tmp/log").SkipAudio)

	var _ transcoder.Options = (*ffmpeg.Options)(nil)
}

func Test_HasAudioMarker(t *testing.T) {
	t.Parallel()
	assert.True(t, hasAudioMarker("polvo_comsom.mov"))
	assert.True(t, hasAudioMarker("a_ComSom_b.avi"))
	assert.False(t, hasAudioMarker("comsomething.mov"))
	assert.False(t, hasAudioMarker("polvo-comsom.mov"))
}

func Test_Photo(t *testing.T) {
	t.Parallel()
	encoder := &mockEncoder{}
	driver, local, site := newDriver(t, encoder)

	watermark := filepath.Join(t.TempDir(), "wm.png")
	require.NoError(t, imaging.Save(imaging.New(10, 4, color.Black), watermark))
	driver.photo.Watermark = watermark

	source := filepath.Join(t.TempDir(), "ana-k3g7qe5y.jpg")
	require.NoError(t, imaging.Save(imaging.New(200, 100, color.White), source))
	item, err := media.NewItem(source, media.Photo)
	require.NoError(t, err)

	derivatives, err := driver.Transcode(context.Background(), item, &metadata.Record{})
	require.NoError(t, err)
	assert.Equal(t, "photos/ana-k3g7qe5y.jpg", derivatives.Web)
	assert.Equal(t, "photos/thumbs/ana-k3g7qe5y.jpg", derivatives.Thumb)
	assert.FileExists(t, filepath.Join(local, "photos", "ana-k3g7qe5y.jpg"))
	assert.FileExists(t, filepath.Join(site, "photos", "thumbs", "ana-k3g7qe5y.jpg"))

	web, err := imaging.Open(filepath.Join(site, "photos", "ana-k3g7qe5y.jpg"))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(64, 32), web.Bounds().Size())
	encoder.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Photo_CorruptSource(t *testing.T) {
	t.Parallel()
	driver, _, _ := newDriver(t, &mockEncoder{})

	source := filepath.Join(t.TempDir(), "broken.jpg")
	require.NoError(t, os.WriteFile(source, []byte("not an image"), 0o644))
	item, err := media.NewItem(source, media.Photo)
	require.NoError(t, err)

	_, err = driver.Transcode(context.Background(), item, &metadata.Record{})
	assert.ErrorIs(t, err, ErrNoDerivative)
}
