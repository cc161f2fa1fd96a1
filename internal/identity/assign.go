// Package identity gives newly ingested media files their permanent,
// collision-free names.
package identity

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/sqids/sqids-go"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	suffixAlphabet  = "k3g7qe5yzn8bh2xfmr4wvctp9a6jds"
	suffixMinLength = 8
	anonymousAuthor = "anon"

	maxAttempts = 10000
)

var ErrExhausted = errors.New("could not find a free identity")

type (
	catalogStore interface {
		IdentityKeys(ctx context.Context) ([]string, error)
		RegisterIdentity(ctx context.Context, name string) error
	}

	// Assigner renames files to '<author>-<suffix><ext>'. A name is free
	// when no file in the web-delivery tree and no entry in the catalog's
	// unique-name index uses it.
	Assigner struct {
		store    catalogStore
		siteRoot string
		encoder  *sqids.Sqids
		log      logger.Logger

		loaded     bool
		taken      map[string]struct{}
		registered map[string]struct{}
	}
)

func New(store catalogStore, siteRoot string, log logger.Logger) (*Assigner, error) {
	encoder, err := sqids.New(sqids.Options{Alphabet: suffixAlphabet, MinLength: suffixMinLength})
	if err != nil {
		return nil, fmt.Errorf("failed to create identity encoder: %w", err)
	}

	return &Assigner{store: store, siteRoot: siteRoot, encoder: encoder, log: log}, nil
}

// Load reads the registry of names already in use. It is called lazily
// by the first Assign and may be called again to refresh the registry.
func (assigner *Assigner) Load(ctx context.Context) error {
	keys, err := assigner.store.IdentityKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to load unique names: %w", err)
	}

	assigner.taken = make(map[string]struct{}, len(keys))
	assigner.registered = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		assigner.taken[k] = struct{}{}
		assigner.registered[k] = struct{}{}
	}

	err = filepath.WalkDir(assigner.siteRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		if !d.IsDir() {
			assigner.taken[stem(d.Name())] = struct{}{}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read web-delivery tree: %w", err)
	}

	assigner.loaded = true
	assigner.log.Emit(logger.DEBUG, "Identity registry holds %d names\n", len(assigner.taken))
	return nil
}

// Assign gives the item its permanent identity, renaming the file (and
// its co-located sidecar) on disk. The item is updated in place and the
// new path returned. Items whose name is already a registered identity
// are left alone.
func (assigner *Assigner) Assign(ctx context.Context, item *media.Item, authorHint string) (string, error) {
	if !assigner.loaded {
		if err := assigner.Load(ctx); err != nil {
			return "", err
		}
	}

	if _, ok := assigner.registered[item.Stem()]; ok {
		assigner.log.Emit(logger.DEBUG, "%s already carries identity %s\n", item.SourcePath, item.Stem())
		return item.SourcePath, nil
	}

	dir := filepath.Dir(item.SourcePath)
	ext := strings.ToLower(filepath.Ext(item.Filename))
	name, err := assigner.freeName(AuthorSlug(authorHint), item.Filename, dir, ext)
	if err != nil {
		return "", err
	}

	if err := assigner.store.RegisterIdentity(ctx, name); err != nil {
		return "", fmt.Errorf("failed to register identity %s: %w", name, err)
	}
	assigner.taken[name] = struct{}{}
	assigner.registered[name] = struct{}{}

	newPath := filepath.Join(dir, name+ext)
	if err := os.Rename(item.SourcePath, newPath); err != nil {
		return "", fmt.Errorf("failed to rename %s to %s: %w", item.SourcePath, newPath, err)
	}

	sidecar := item.Sidecar
	if sidecar != "" && sidecar == media.SidecarPath(item.SourcePath) {
		renamed := media.SidecarPath(newPath)
		if err := os.Rename(sidecar, renamed); err != nil {
			assigner.log.Emit(logger.ERROR, "Renamed %s but failed to rename its sidecar %s: %s\n", item.SourcePath, sidecar, err)
		} else {
			sidecar = renamed
		}
	}

	assigner.log.Emit(logger.NEW, "%s is now %s\n", item.Filename, filepath.Base(newPath))
	item.Relocate(newPath, sidecar)
	return newPath, nil
}

// freeName derives candidates from a checksum of the original filename
// and an attempt counter, so the same file always gets the same first
// candidate and each retry yields a different one.
func (assigner *Assigner) freeName(slug string, filename string, dir string, ext string) (string, error) {
	seed := uint64(crc32.ChecksumIEEE([]byte(filename)))
	for attempt := uint64(0); attempt < maxAttempts; attempt++ {
		suffix, err := assigner.encoder.Encode([]uint64{seed, attempt})
		if err != nil {
			return "", fmt.Errorf("failed to encode identity suffix: %w", err)
		}

		candidate := slug + "-" + suffix
		if _, ok := assigner.taken[candidate]; ok {
			continue
		}
		if _, err := os.Lstat(filepath.Join(dir, candidate+ext)); err == nil {
			continue
		}

		return candidate, nil
	}

	return "", fmt.Errorf("%w for %s", ErrExhausted, filename)
}

// AuthorSlug reduces the first author in a comma separated list to a
// lowercase ASCII slug. Blank input yields "anon".
func AuthorSlug(authors string) string {
	first, _, _ := strings.Cut(authors, ",")
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(stripMarks, strings.TrimSpace(first))
	if err != nil {
		plain = first
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(plain) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		} else {
			dash = true
		}
	}

	if b.Len() == 0 {
		return anonymousAuthor
	}

	return b.String()
}

func stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}
