package metadata

import (
	"context"
	"errors"
	"strings"

	"github.com/cebimar/cifonauta/internal/ffmpeg"
	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/pkg/logger"
)

type (
	prober interface {
		Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error)
	}

	// Extractor reads the descriptive fields of a media item from
	// wherever they live for its kind: embedded tag blocks for photos, the
	// sidecar dictionary and ffprobe for videos.
	Extractor struct {
		prober prober
		log    logger.Logger
	}
)

func NewExtractor(prober prober, log logger.Logger) *Extractor {
	return &Extractor{prober: prober, log: log}
}

// Extract never fails: metadata which cannot be read is logged and left
// blank so that ingestion can continue.
func (extractor *Extractor) Extract(ctx context.Context, item *media.Item) Raw {
	var raw Raw
	switch item.Kind {
	case media.Photo:
		raw = extractor.extractPhoto(item)
	case media.Video:
		raw = extractor.extractVideo(ctx, item)
	default:
		extractor.log.Warnf("Cannot extract metadata from %s\n", item)
	}

	extractor.log.Debugf("Extracted metadata for %s: %+v\n", item.Filename, raw)
	return raw
}

func (extractor *Extractor) extractPhoto(item *media.Item) Raw {
	var raw Raw

	if isJpeg(item.Filename) {
		datasets, err := readIptc(item.SourcePath)
		if err != nil {
			if errors.Is(err, errNoIptc) {
				extractor.log.Warnf("%s has no IPTC metadata\n", item.Filename)
			} else {
				extractor.log.Warnf("Failed to read IPTC metadata of %s: %v\n", item.Filename, err)
			}
		} else {
			applyIptc(&raw, datasets)
		}
	} else {
		extractor.log.Warnf("%s cannot carry IPTC metadata\n", item.Filename)
	}

	info, err := readExif(item.SourcePath)
	if err != nil {
		extractor.log.Warnf("Failed to read EXIF of %s: %v\n", item.Filename, err)
		return raw
	}

	raw.Date = info.Date
	raw.Geolocation = info.Geolocation
	raw.Latitude = info.Latitude
	raw.Longitude = info.Longitude

	return raw
}

func (extractor *Extractor) extractVideo(ctx context.Context, item *media.Item) Raw {
	raw := VideoTemplate()

	if item.Sidecar == "" {
		extractor.log.Warnf("%s has no sidecar, using defaults\n", item.Filename)
	} else if withSidecar, err := ApplySidecar(raw, item.Sidecar); err != nil {
		extractor.log.Warnf("Ignoring sidecar of %s: %v\n", item.Filename, err)
	} else {
		raw = withSidecar
	}

	probe, err := extractor.prober.Probe(ctx, item.SourcePath)
	if err != nil {
		extractor.log.Warnf("Failed to probe %s: %v\n", item.Filename, err)
		return raw
	}

	raw.Duration = probe.FormattedDuration()
	raw.Dimensions = probe.Dimensions()
	raw.Codec = probe.Codec

	return raw
}

// AuthorHint is the author string handed to the identity assigner.
func (raw Raw) AuthorHint() string {
	return strings.TrimSpace(raw.Author)
}

func isJpeg(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg")
}
