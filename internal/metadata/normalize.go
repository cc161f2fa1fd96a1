package metadata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cebimar/cifonauta/internal/catalog"
)

var (
	// taxonPlaceholders are the informal "unknown species" markers which
	// are dropped from the end of a taxon name.
	taxonPlaceholders = map[string]struct{}{"sp": {}, "sp.": {}, "spp": {}, "spp.": {}}

	dateLayouts = []string{dateLayout, time.RFC3339, "2006:01:02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}
)

type (
	// Derivatives are the site-root relative paths of the files produced
	// for an item. Empty paths were not produced.
	Derivatives struct {
		Web        string
		Thumb      string
		LargeThumb string
		Webm       string
		Mp4        string
		Ogg        string
	}

	// Record is the cleaned up metadata of a media item, ready to be
	// written to the catalog.
	Record struct {
		Title       string
		Caption     string
		Notes       string
		Geolocation string
		Latitude    string
		Longitude   string
		Date        time.Time

		Authors    []string
		Sources    []string
		References []string
		Tags       []string
		Taxa       []string

		Size        string
		Rights      string
		Sublocation string
		City        string
		State       string
		Country     string

		Duration   string
		Dimensions string
		Codec      string

		IsPublic bool

		IdentityKey    string
		SourceFilepath string
		OldFilepath    string
		Timestamp      time.Time
		Derivatives    Derivatives

		// resolved holds the catalog references of the non-blank single
		// vocabulary values, filled by ResolveVocabulary.
		resolved map[catalog.Vocabulary]catalog.Ref
	}

	vocabularyStore interface {
		ResolveOrCreate(ctx context.Context, vocabulary catalog.Vocabulary, name string) (catalog.Ref, bool, error)
	}
)

// Normalize trims every field, splits the multi-valued ones and cleans
// up taxon names. It has no side effects.
func Normalize(raw Raw) Record {
	record := Record{
		Title:       clean(raw.Title),
		Caption:     clean(raw.Caption),
		Notes:       clean(raw.Notes),
		Geolocation: clean(raw.Geolocation),
		Latitude:    clean(raw.Latitude),
		Longitude:   clean(raw.Longitude),
		Date:        parseDate(raw.Date),

		Authors:    splitList(raw.Author),
		Sources:    splitList(raw.Source),
		References: splitList(raw.References),
		Tags:       splitList(raw.Tags),
		Taxa:       cleanTaxa(raw.Taxon),

		Size:        clean(raw.Size),
		Rights:      clean(raw.Rights),
		Sublocation: clean(raw.Sublocation),
		City:        clean(raw.City),
		State:       clean(raw.State),
		Country:     clean(raw.Country),

		Duration:   clean(raw.Duration),
		Dimensions: clean(raw.Dimensions),
		Codec:      clean(raw.Codec),
	}

	record.IsPublic = IsPublic(record.Title, record.Authors)
	return record
}

// IsPublic reports whether a record may be shown on the site: it must
// have a title and at least one author.
func IsPublic(title string, authors []string) bool {
	return strings.TrimSpace(title) != "" && len(authors) > 0
}

// Single returns the value of a single vocabulary field.
func (record *Record) Single(v catalog.Vocabulary) string {
	switch v {
	case catalog.Size:
		return record.Size
	case catalog.Rights:
		return record.Rights
	case catalog.Sublocation:
		return record.Sublocation
	case catalog.City:
		return record.City
	case catalog.State:
		return record.State
	case catalog.Country:
		return record.Country
	}

	panic(fmt.Sprintf("vocabulary %s is not single valued", v))
}

// Many returns the ordered values of a many-to-many vocabulary field.
func (record *Record) Many(v catalog.Vocabulary) []string {
	switch v {
	case catalog.Author:
		return record.Authors
	case catalog.Source:
		return record.Sources
	case catalog.Taxon:
		return record.Taxa
	case catalog.Tag:
		return record.Tags
	case catalog.Reference:
		return record.References
	}

	panic(fmt.Sprintf("vocabulary %s is not many-to-many", v))
}

// ResolveVocabulary resolves (creating when needed) every non-blank
// single vocabulary value against the catalog. Blank values are left
// unresolved and never reach the catalog.
func ResolveVocabulary(ctx context.Context, store vocabularyStore, record *Record) error {
	record.resolved = make(map[catalog.Vocabulary]catalog.Ref)
	for _, v := range catalog.SingleVocabularies {
		name := record.Single(v)
		if name == "" {
			continue
		}

		ref, _, err := store.ResolveOrCreate(ctx, v, name)
		if err != nil {
			return fmt.Errorf("failed to resolve %s %q: %w", v, name, err)
		}

		record.resolved[v] = ref
	}

	return nil
}

// Fields is the catalog column map for the record. Unresolved
// vocabulary columns and derivatives which were not produced are left
// out so that they are never stored as blank references.
func (record *Record) Fields() catalog.Fields {
	fields := catalog.Fields{
		"identity_key":     record.IdentityKey,
		"source_filepath":  record.SourceFilepath,
		"source_timestamp": record.Timestamp,
		"title":            record.Title,
		"caption":          record.Caption,
		"notes":            record.Notes,
		"geolocation":      record.Geolocation,
		"latitude":         record.Latitude,
		"longitude":        record.Longitude,
		"date":             record.Date,
		"is_public":        record.IsPublic,
	}

	optional := map[string]string{
		"old_filepath":   record.OldFilepath,
		"duration":       record.Duration,
		"dimensions":     record.Dimensions,
		"codec":          record.Codec,
		"web_filepath":   record.Derivatives.Web,
		"thumb_filepath": record.Derivatives.Thumb,
		"large_thumb":    record.Derivatives.LargeThumb,
		"webm_filepath":  record.Derivatives.Webm,
		"mp4_filepath":   record.Derivatives.Mp4,
		"ogg_filepath":   record.Derivatives.Ogg,
	}
	for column, value := range optional {
		if value != "" {
			fields[column] = value
		}
	}

	for v, ref := range record.resolved {
		fields[v.Column()] = ref.ID
	}

	return fields
}

func clean(value string) string {
	return strings.TrimSpace(value)
}

func splitList(value string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}

// cleanTaxa splits the taxon list and collapses "Genus sp." style names
// to the bare genus.
func cleanTaxa(value string) []string {
	taxa := splitList(value)
	for i, taxon := range taxa {
		tokens := strings.Fields(taxon)
		if len(tokens) < 2 {
			continue
		}

		if _, ok := taxonPlaceholders[strings.ToLower(tokens[len(tokens)-1])]; ok {
			taxa[i] = strings.Join(tokens[:len(tokens)-1], " ")
		}
	}

	return taxa
}

func parseDate(value string) time.Time {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t
		}
	}

	unknown, _ := time.ParseInLocation(dateLayout, UnknownDate, time.UTC)
	return unknown
}
