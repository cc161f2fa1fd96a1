package metadata

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

type (
	dms [3]float64

	exifInfo struct {
		Date        string
		Geolocation string
		Latitude    string
		Longitude   string
	}
)

func readExif(path string) (*exifInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	info := &exifInfo{}
	if t, err := x.DateTime(); err == nil {
		info.Date = t.Format(dateLayout)
	}

	lat, latErr := readDms(x, exif.GPSLatitude)
	lon, lonErr := readDms(x, exif.GPSLongitude)
	if latErr == nil && lonErr == nil {
		latRef := readString(x, exif.GPSLatitudeRef, "N")
		lonRef := readString(x, exif.GPSLongitudeRef, "E")
		info.Geolocation, info.Latitude, info.Longitude = formatGps(lat, latRef, lon, lonRef)
	}

	return info, nil
}

func readDms(x *exif.Exif, field exif.FieldName) (dms, error) {
	var out dms
	tag, err := x.Get(field)
	if err != nil {
		return out, err
	}

	for i := range out {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return out, err
		}
		if den == 0 {
			return out, errors.New("zero denominator in GPS coordinate")
		}
		out[i] = float64(num) / float64(den)
	}

	return out, nil
}

func readString(x *exif.Exif, field exif.FieldName, fallback string) string {
	tag, err := x.Get(field)
	if err != nil {
		return fallback
	}

	v, err := tag.StringVal()
	if err != nil || strings.TrimSpace(v) == "" {
		return fallback
	}

	return strings.ToUpper(strings.TrimSpace(v))
}

func (d dms) decimal() float64 {
	return d[0] + d[1]/60 + d[2]/3600
}

// formatGps renders both coordinates as a degree/minute/second string and
// as signed decimal degrees (south and west negative).
func formatGps(lat dms, latRef string, lon dms, lonRef string) (string, string, string) {
	latDecimal, lonDecimal := lat.decimal(), lon.decimal()
	if latRef == "S" {
		latDecimal = -latDecimal
	}
	if lonRef == "W" {
		lonDecimal = -lonDecimal
	}

	geolocation := fmt.Sprintf("%s%s %s%s", dmsString(lat.decimal()), latRef, dmsString(lon.decimal()), lonRef)
	return geolocation, fmt.Sprintf("%.6f", latDecimal), fmt.Sprintf("%.6f", lonDecimal)
}

func dmsString(value float64) string {
	deg := math.Floor(value)
	minutes := (value - deg) * 60
	min := math.Floor(minutes)
	sec := (minutes - min) * 60

	// Rounding can carry the seconds up to 60
	if math.Round(sec*100)/100 >= 60 {
		sec = 0
		min++
	}
	if min >= 60 {
		min = 0
		deg++
	}

	return fmt.Sprintf(`%d°%d'%.2f"`, int(deg), int(min), sec)
}
