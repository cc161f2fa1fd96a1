package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/disintegration/imaging"
)

const (
	videoDir      = "videos"
	videoThumbDir = "videos/thumbs"
	passLogDir    = ".passlog"
	stillSeek     = "00:00:01"
)

func (driver *Driver) transcodeVideo(ctx context.Context, item *media.Item, record *metadata.Record) (*metadata.Derivatives, error) {
	stem := item.Stem()
	plan := newVideoPlan(driver.video, item.Filename, record.Title, record.Authors)
	derivatives := &metadata.Derivatives{}

	succeeded := 0
	for _, target := range Targets {
		rel, err := driver.encodeTarget(ctx, item, target, plan)
		if err != nil {
			driver.log.Emit(logger.WARNING, "%s encode of %s failed: %v\n", target, item.Filename, err)
			continue
		}

		switch target {
		case WebM:
			derivatives.Webm = rel
		case MP4:
			derivatives.Mp4 = rel
		case Ogg:
			derivatives.Ogg = rel
		}
		succeeded++
	}

	// Stills come from the source so that they exist whichever formats
	// were produced.
	poster, thumb, err := driver.extractStills(ctx, item.SourcePath, stem)
	if err != nil {
		driver.log.Emit(logger.WARNING, "Failed to extract stills from %s: %v\n", item.Filename, err)
	}
	derivatives.LargeThumb = poster
	derivatives.Thumb = thumb

	if succeeded == 0 {
		return nil, fmt.Errorf("%w: every video format failed for %s", ErrNoDerivative, item.Filename)
	}

	driver.log.Emit(logger.SUCCESS, "Transcoded %s to %d/%d formats\n", item.Filename, succeeded, len(Targets))
	return derivatives, nil
}

// encodeTarget runs the two-pass encode of one format and publishes it.
// A panic inside the encode is contained to this format.
func (driver *Driver) encodeTarget(ctx context.Context, item *media.Item, target Target, plan videoPlan) (rel string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during %s encode: %v", target, r)
		}
	}()

	stem := item.Stem()
	rel = target.VideoPath(stem)
	output := driver.localPath(rel)
	passLog := filepath.Join(driver.localRoot, videoDir, passLogDir, stem+"-"+target.Ext)
	defer driver.removePassLogs(passLog)

	for pass := 1; pass <= 2; pass++ {
		driver.log.Emit(logger.DEBUG, "%s pass %d for %s\n", target, pass, item.Filename)
		if err := driver.encoder.Run(ctx, item.SourcePath, output, plan.passOptions(target, pass, passLog)); err != nil {
			return "", fmt.Errorf("pass %d: %w", pass, err)
		}
	}

	if target == MP4 {
		err := driver.encoder.Run(ctx, output, driver.sitePath(rel), fastStartOptions())
		if err == nil {
			return rel, nil
		}

		driver.log.Emit(logger.WARNING, "Fast start remux of %s failed, publishing as encoded: %v\n", rel, err)
	}

	if err := driver.publish(rel); err != nil {
		return "", fmt.Errorf("failed to publish %s: %w", rel, err)
	}

	return rel, nil
}

func (driver *Driver) removePassLogs(prefix string) {
	matches, _ := filepath.Glob(prefix + "*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

// extractStills grabs a single frame from the source as the poster, then
// shrinks it to the listing thumbnail. Both are published.
func (driver *Driver) extractStills(ctx context.Context, source string, stem string) (string, string, error) {
	posterRel := relativeName(videoDir, stem, ".jpg")
	posterPath := driver.localPath(posterRel)

	err := driver.encoder.Run(ctx, source, posterPath, stillOptions(stillSeek))
	if err != nil {
		// Clips shorter than the seek offset have no frame there
		if err = driver.encoder.Run(ctx, source, posterPath, stillOptions("")); err != nil {
			return "", "", fmt.Errorf("failed to grab frame: %w", err)
		}
	}

	if err := driver.publish(posterRel); err != nil {
		return "", "", fmt.Errorf("failed to publish poster: %w", err)
	}

	thumbRel := relativeName(videoThumbDir, stem, ".jpg")
	if err := driver.writeThumbnail(posterPath, thumbRel); err != nil {
		return posterRel, "", err
	}

	return posterRel, thumbRel, nil
}

func (driver *Driver) writeThumbnail(source string, rel string) error {
	img, err := imaging.Open(source, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", source, err)
	}

	thumb := imaging.Thumbnail(img, driver.photo.ThumbWidth, driver.photo.ThumbHeight, imaging.Lanczos)
	output := driver.localPath(rel)
	if err := os.MkdirAll(filepath.Dir(output), os.ModePerm); err != nil {
		return err
	}
	if err := imaging.Save(thumb, output, imaging.JPEGQuality(driver.photo.Quality)); err != nil {
		return fmt.Errorf("failed to save thumbnail %s: %w", rel, err)
	}

	return driver.publish(rel)
}
