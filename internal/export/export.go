// Package export writes the catalog's vocabulary to a static JSON file
// which the site's search forms use for autocompletion.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cebimar/cifonauta/internal/catalog"
	"github.com/cebimar/cifonauta/pkg/logger"
)

type (
	vocabularyStore interface {
		Vocabulary(ctx context.Context, vocabulary catalog.Vocabulary) ([]string, error)
	}

	Exporter struct {
		store vocabularyStore
		path  string
		log   logger.Logger
	}
)

// keys maps each exported JSON key to the vocabulary listing its values.
var keys = []struct {
	key        string
	vocabulary catalog.Vocabulary
}{
	{"tags", catalog.Tag},
	{"taxa", catalog.Taxon},
	{"sources", catalog.Source},
	{"authors", catalog.Author},
	{"rights", catalog.Rights},
	{"places", catalog.Sublocation},
	{"cities", catalog.City},
	{"states", catalog.State},
	{"countries", catalog.Country},
}

func New(store vocabularyStore, path string, log logger.Logger) *Exporter {
	return &Exporter{store: store, path: path, log: log}
}

// Export snapshots the vocabulary and replaces the autocomplete file with
// it. Readers of the file never observe a partial write.
func (exporter *Exporter) Export(ctx context.Context) error {
	snapshot := make(map[string][]string, len(keys))
	for _, k := range keys {
		names, err := exporter.store.Vocabulary(ctx, k.vocabulary)
		if err != nil {
			return fmt.Errorf("failed to read %s for export: %w", k.vocabulary, err)
		}

		snapshot[k.key] = names
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	if err := writeAtomically(exporter.path, encoded); err != nil {
		return fmt.Errorf("failed to write %s: %w", exporter.path, err)
	}

	exporter.log.Emit(logger.DEBUG, "Exported autocomplete vocabulary to %s\n", exporter.path)
	return nil
}

func writeAtomically(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
