package metadata

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	iptc "github.com/dsoprea/go-iptc"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure"
	"golang.org/x/text/encoding/charmap"
)

// IPTC-IIM application record (record 2) datasets read from photos.
const (
	datasetObjectName          = 5
	datasetKeywords            = 25
	datasetSpecialInstructions = 40
	datasetByline              = 80
	datasetCity                = 90
	datasetSublocation         = 92
	datasetProvinceState       = 95
	datasetCountry             = 101
	datasetHeadline            = 105
	datasetCredit              = 110
	datasetSource              = 115
	datasetCopyright           = 116
	datasetCaption             = 120
)

var errNoIptc = errors.New("no IPTC block")

// readIptc returns the record 2 datasets of the JPEG at path, decoded to
// strings. Repeated datasets (keywords) keep every occurrence in order.
func readIptc(path string) (map[int][]string, error) {
	ec, err := jpegstructure.NewJpegMediaParser().ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JPEG structure: %w", err)
	}

	sl, ok := ec.(*jpegstructure.SegmentList)
	if !ok {
		return nil, errNoIptc
	}

	tags, err := sl.Iptc()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoIptc, err)
	}

	out := make(map[int][]string)
	for key, values := range tags {
		if key.RecordNumber != 2 {
			continue
		}

		for _, v := range values {
			out[int(key.DatasetNumber)] = append(out[int(key.DatasetNumber)], decodeIptcString(v))
		}
	}

	return out, nil
}

// applyIptc copies the datasets onto the raw field bag.
func applyIptc(raw *Raw, datasets map[int][]string) {
	first := func(dataset int) string {
		if v := datasets[dataset]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	raw.Title = first(datasetObjectName)
	raw.Tags = strings.Join(datasets[datasetKeywords], ", ")
	raw.Size = first(datasetSpecialInstructions)
	raw.Author = first(datasetByline)
	raw.City = first(datasetCity)
	raw.Sublocation = first(datasetSublocation)
	raw.State = first(datasetProvinceState)
	raw.Country = first(datasetCountry)
	raw.Taxon = first(datasetHeadline)
	raw.References = first(datasetCredit)
	raw.Source = first(datasetSource)
	raw.Rights = first(datasetCopyright)
	raw.Caption = first(datasetCaption)
}

// decodeIptcString treats the value as UTF-8 when it is valid UTF-8 and
// as ISO-8859-1 otherwise, which covers older captioning tools.
func decodeIptcString(data iptc.TagData) string {
	b := []byte(data)
	if utf8.Valid(b) {
		return strings.TrimRight(string(b), "\x00")
	}

	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}

	return strings.TrimRight(string(decoded), "\x00")
}
