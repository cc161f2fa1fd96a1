package media

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Kind int

const (
	Unknown Kind = iota
	Photo
	Video
	Broken
)

const SidecarExtension = ".txt"

var (
	photoExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	}
	videoExtensions = map[string]struct{}{
		".avi": {}, ".mov": {}, ".mp4": {}, ".ogg": {}, ".ogv": {}, ".dv": {},
		".mpg": {}, ".mpeg": {}, ".flv": {}, ".m2ts": {}, ".wmv": {},
	}
)

func (k Kind) String() string {
	switch k {
	case Photo:
		return "photo"
	case Video:
		return "video"
	case Broken:
		return "broken"
	default:
		return "unknown"
	}
}

// Item is a single file discovered under the source tree. The SourcePath
// may be a symbolic link pointing at an archival original.
type Item struct {
	SourcePath string
	Filename   string
	Kind       Kind
	Timestamp  time.Time

	// Sidecar is the path of the companion dictionary file, or empty
	// when the item has none.
	Sidecar string
}

// KindForPath classifies a path by its extension, case-insensitively.
// Editor backups (trailing '~') and sidecar files are never media.
func KindForPath(path string) Kind {
	if strings.HasSuffix(path, "~") {
		return Unknown
	}

	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := photoExtensions[ext]; ok {
		return Photo
	}
	if _, ok := videoExtensions[ext]; ok {
		return Video
	}

	return Unknown
}

// NewItem inspects the file at path, which has already been classified
// as kind. A symlink whose target no longer exists yields an item of
// kind Broken and no error.
func NewItem(path string, kind Kind) (*Item, error) {
	item := &Item{SourcePath: path, Filename: filepath.Base(path), Kind: kind}

	linkInfo, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		if linkInfo.Mode()&fs.ModeSymlink != 0 && errors.Is(err, fs.ErrNotExist) {
			item.Kind = Broken
			return item, nil
		}

		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	item.Sidecar = FindSidecar(path)
	item.Timestamp = latestModTime(info.ModTime(), item.Sidecar)

	return item, nil
}

// Stem is the filename without its extension. Once the item has been
// through identity assignment this is its identity key.
func (item *Item) Stem() string {
	return strings.TrimSuffix(item.Filename, filepath.Ext(item.Filename))
}

func (item *Item) IdentityKey() string { return item.Stem() }

// IsLink reports whether the source path is a symbolic link.
func (item *Item) IsLink() bool {
	info, err := os.Lstat(item.SourcePath)
	return err == nil && info.Mode()&fs.ModeSymlink != 0
}

// Relocate points the item at a renamed source path (and sidecar).
func (item *Item) Relocate(path string, sidecar string) {
	item.SourcePath = path
	item.Filename = filepath.Base(path)
	item.Sidecar = sidecar
}

func (item *Item) String() string {
	return fmt.Sprintf("%s{%s}", item.Kind, item.SourcePath)
}

// FindSidecar returns the sidecar for the media file at path: the
// same-named .txt next to the file itself, or, when path is a symlink
// and no such file exists, the one next to the link's target. An empty
// string is returned when neither exists.
func FindSidecar(path string) string {
	candidate := SidecarPath(path)
	if fileExists(candidate) {
		return candidate
	}

	target, err := filepath.EvalSymlinks(path)
	if err != nil || target == path {
		return ""
	}

	candidate = SidecarPath(target)
	if fileExists(candidate) {
		return candidate
	}

	return ""
}

// SidecarPath is the co-located sidecar location for a media path.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + SidecarExtension
}

// NormalizeTimestamp drops precision the catalog cannot store so that
// timestamps read back from it compare equal to those read from disk.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func latestModTime(fileMod time.Time, sidecar string) time.Time {
	latest := fileMod
	if sidecar != "" {
		if info, err := os.Stat(sidecar); err == nil && info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}

	return NormalizeTimestamp(latest)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
