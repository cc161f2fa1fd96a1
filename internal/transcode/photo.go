package transcode

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/disintegration/imaging"
)

const (
	photoDir         = "photos"
	photoThumbDir    = "photos/thumbs"
	watermarkPadding = 5
)

// transcodePhoto resizes the photo to the web size and stamps the
// watermark in its bottom-left corner. Any failure here abandons the
// item; only the thumbnail is allowed to fail.
func (driver *Driver) transcodePhoto(item *media.Item) (*metadata.Derivatives, error) {
	img, err := imaging.Open(item.SourcePath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s: %w", ErrNoDerivative, item.Filename, err)
	}

	web := imaging.Fit(img, driver.photo.WebWidth, driver.photo.WebHeight, imaging.Lanczos)
	if driver.photo.Watermark != "" {
		mark, err := imaging.Open(driver.photo.Watermark)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open watermark: %w", ErrNoDerivative, err)
		}

		web = stamp(web, mark)
	}

	rel := photoDir + "/" + item.Filename
	output := driver.localPath(rel)
	if err := os.MkdirAll(filepath.Dir(output), os.ModePerm); err != nil {
		return nil, err
	}
	if err := imaging.Save(web, output, imaging.JPEGQuality(driver.photo.Quality)); err != nil {
		return nil, fmt.Errorf("%w: failed to save %s: %w", ErrNoDerivative, rel, err)
	}
	if err := driver.publish(rel); err != nil {
		return nil, fmt.Errorf("%w: failed to publish %s: %w", ErrNoDerivative, rel, err)
	}

	derivatives := &metadata.Derivatives{Web: rel}

	thumbRel := photoThumbDir + "/" + item.Filename
	if err := driver.writeThumbnail(item.SourcePath, thumbRel); err != nil {
		driver.log.Emit(logger.WARNING, "Failed to create thumbnail for %s: %v\n", item.Filename, err)
	} else {
		derivatives.Thumb = thumbRel
	}

	return derivatives, nil
}

func stamp(img *image.NRGBA, mark image.Image) *image.NRGBA {
	bounds := img.Bounds()
	markBounds := mark.Bounds()
	position := image.Pt(watermarkPadding, bounds.Dy()-markBounds.Dy()-watermarkPadding)

	return imaging.Overlay(img, mark, position, 1.0)
}
