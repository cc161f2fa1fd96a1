// Package transcode produces the web derivatives of source media: a
// resized, watermarked photo or three web video formats, plus the
// thumbnails shown in listings.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/floostack/transcoder"
)

var ErrNoDerivative = errors.New("no usable derivative was produced")

type (
	// Encoder runs a single ffmpeg invocation to completion.
	Encoder interface {
		Run(ctx context.Context, input string, output string, opts transcoder.Options) error
	}

	// Driver writes derivatives into the local staging tree and copies
	// them to the web-delivery tree.
	Driver struct {
		localRoot string
		siteRoot  string
		video     VideoConfig
		photo     PhotoConfig
		encoder   Encoder
		log       logger.Logger
	}
)

func New(localRoot string, siteRoot string, video VideoConfig, photo PhotoConfig, encoder Encoder, log logger.Logger) *Driver {
	return &Driver{
		localRoot: localRoot,
		siteRoot:  siteRoot,
		video:     video,
		photo:     photo,
		encoder:   encoder,
		log:       log,
	}
}

// Transcode produces the derivatives of the item. An error means that
// nothing usable was produced, and the item must not be catalogued.
func (driver *Driver) Transcode(ctx context.Context, item *media.Item, record *metadata.Record) (*metadata.Derivatives, error) {
	switch item.Kind {
	case media.Photo:
		return driver.transcodePhoto(item)
	case media.Video:
		return driver.transcodeVideo(ctx, item, record)
	}

	return nil, fmt.Errorf("cannot transcode %s", item)
}

func (driver *Driver) localPath(rel string) string {
	return filepath.Join(driver.localRoot, filepath.FromSlash(rel))
}

func (driver *Driver) sitePath(rel string) string {
	return filepath.Join(driver.siteRoot, filepath.FromSlash(rel))
}

// publish copies a derivative from the staging tree to the same relative
// location in the web-delivery tree.
func (driver *Driver) publish(rel string) error {
	return copyFile(driver.localPath(rel), driver.sitePath(rel))
}

func copyFile(from string, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(to), os.ModePerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(to), "."+filepath.Base(to)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to copy %s: %w", from, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), to)
}

func relativeName(dir string, stem string, ext string) string {
	return strings.Join([]string{dir, stem + ext}, "/")
}
