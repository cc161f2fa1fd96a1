package metadata

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	// UnknownDate is recorded for media whose capture date is unknown.
	UnknownDate = "1900-01-01 01:01:01"

	dateLayout = "2006-01-02 15:04:05"
)

// Raw is the bag of descriptive fields read from a media file before any
// cleanup. Multi-valued fields are still comma separated strings here.
type Raw struct {
	Title       string `mapstructure:"title"`
	Caption     string `mapstructure:"caption"`
	Notes       string `mapstructure:"notes"`
	Tags        string `mapstructure:"tags"`
	Author      string `mapstructure:"author"`
	Source      string `mapstructure:"source"`
	References  string `mapstructure:"references"`
	Taxon       string `mapstructure:"taxon"`
	Size        string `mapstructure:"size"`
	Rights      string `mapstructure:"rights"`
	Sublocation string `mapstructure:"sublocation"`
	City        string `mapstructure:"city"`
	State       string `mapstructure:"state"`
	Country     string `mapstructure:"country"`
	Date        string `mapstructure:"date"`
	Geolocation string `mapstructure:"geolocation"`
	Latitude    string `mapstructure:"latitude"`
	Longitude   string `mapstructure:"longitude"`

	Duration   string `mapstructure:"-"`
	Dimensions string `mapstructure:"-"`
	Codec      string `mapstructure:"-"`
}

// VideoTemplate returns the defaults a video starts from before its
// sidecar is applied. A fresh value is returned on every call.
func VideoTemplate() Raw {
	return Raw{Date: UnknownDate}
}

// ApplySidecar reads the sidecar dictionary at path and overlays its
// values onto a copy of base. Keys the sidecar does not mention keep the
// value from base; unknown keys are ignored.
func ApplySidecar(base Raw, path string) (Raw, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read sidecar %s: %w", path, err)
	}

	// YAML is a superset of JSON, so both sidecar flavours decode here
	values := make(map[string]any)
	if err := yaml.Unmarshal(contents, &values); err != nil {
		return base, fmt.Errorf("sidecar %s is corrupt: %w", path, err)
	}

	out := base
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(timeToStringHook, listToStringHook),
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return base, err
	}

	if err := decoder.Decode(lowerKeys(values)); err != nil {
		return base, fmt.Errorf("sidecar %s has unexpected values: %w", path, err)
	}

	return out, nil
}

func lowerKeys(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}

	return out
}

// listToStringHook accepts YAML sequences for multi-valued fields by
// joining them the same way embedded tags are joined.
func listToStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String || from.Kind() != reflect.Slice {
		return data, nil
	}

	items := reflect.ValueOf(data)
	parts := make([]string, 0, items.Len())
	for i := 0; i < items.Len(); i++ {
		if v := items.Index(i).Interface(); v != nil {
			parts = append(parts, fmt.Sprint(v))
		}
	}

	return strings.Join(parts, ", "), nil
}

func timeToStringHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}

	if t, ok := data.(time.Time); ok {
		return t.Format(dateLayout), nil
	}

	return data, nil
}
