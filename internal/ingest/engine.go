package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cebimar/cifonauta/internal/catalog"
	"github.com/cebimar/cifonauta/internal/http/itis"
	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/internal/runctx"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/google/uuid"
)

type (
	Filter int

	Options struct {
		SourceRoot  string
		MaxFiles    int
		Filter      Filter
		ForceUpdate bool
	}

	catalogStore interface {
		FindByDerivativePath(ctx context.Context, kind string, column catalog.PathColumn, path string) (*catalog.Record, error)
		CreateRecord(ctx context.Context, kind string, fields catalog.Fields, links catalog.Links) (uuid.UUID, error)
		UpdateRecord(ctx context.Context, id uuid.UUID, fields catalog.Fields, links catalog.Links) error
		ResolveOrCreate(ctx context.Context, vocabulary catalog.Vocabulary, name string) (catalog.Ref, bool, error)
		UpdateTaxon(ctx context.Context, taxon catalog.Ref, rank string, tsn string, parent *catalog.Ref) error
	}

	identityAssigner interface {
		Assign(ctx context.Context, item *media.Item, authorHint string) (string, error)
	}

	extractor interface {
		Extract(ctx context.Context, item *media.Item) metadata.Raw
	}

	transcoder interface {
		Transcode(ctx context.Context, item *media.Item, record *metadata.Record) (*metadata.Derivatives, error)
	}

	taxonomyResolver interface {
		Resolve(ctx context.Context, name string) (*itis.TaxonRef, bool)
	}

	exporter interface {
		Export(ctx context.Context) error
	}

	// Engine reconciles the source tree with the catalog. Files are
	// processed one at a time; a failure on one file never stops the
	// others, except when the catalog itself becomes unreachable.
	Engine struct {
		store      catalogStore
		identities identityAssigner
		extractor  extractor
		transcoder transcoder
		taxonomy   taxonomyResolver
		exporter   exporter
	}

	match struct {
		path string
		kind media.Kind
	}

	outcome int
)

const (
	AnyKind Filter = iota
	PhotosOnly
	VideosOnly
)

const (
	skipped outcome = iota
	created
	updated
	broken
)

func New(store catalogStore, identities identityAssigner, extractor extractor, transcoder transcoder, taxonomy taxonomyResolver, exporter exporter) *Engine {
	return &Engine{
		store:      store,
		identities: identities,
		extractor:  extractor,
		transcoder: transcoder,
		taxonomy:   taxonomy,
		exporter:   exporter,
	}
}

func (f Filter) accepts(kind media.Kind) bool {
	switch f {
	case PhotosOnly:
		return kind == media.Photo
	case VideosOnly:
		return kind == media.Video
	default:
		return kind == media.Photo || kind == media.Video
	}
}

// Reconcile walks the source tree and brings the catalog up to date with
// it. The returned error is only non-nil when the run had to be aborted;
// failures of individual files are logged and counted in the summary.
func (engine *Engine) Reconcile(ctx context.Context, run *runctx.Context, opts Options) (runctx.Summary, error) {
	log := run.Logger("Ingest")
	log.Emit(logger.INFO, "Reconciling %s (max %d files, force update %t)\n", opts.SourceRoot, opts.MaxFiles, opts.ForceUpdate)

	matches, err := engine.discover(run, opts)
	if err != nil {
		return run.Summary(), err
	}

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			log.Emit(logger.STOP, "Run cancelled, %d files left for the next run\n", len(matches)-run.Counts.Scanned-run.Counts.Broken)
			return run.Summary(), err
		}

		result, err := engine.processSafely(ctx, run, m, opts.ForceUpdate)
		if err != nil {
			if errors.Is(err, catalog.ErrUnavailable) {
				log.Emit(logger.FATAL, "Catalog is unavailable, aborting run: %v\n", err)
				return run.Summary(), err
			}

			run.Counts.Scanned++
			run.Counts.Failed++
			var trouble *Trouble
			if errors.As(err, &trouble) {
				log.Emit(logger.ERROR, "%s: %s %v\n", m.path, trouble.Type(), trouble.error)
			} else {
				log.Emit(logger.ERROR, "%s: %v\n", m.path, err)
			}
			continue
		}

		switch result {
		case broken:
			run.Counts.Broken++
			continue
		case created:
			run.Counts.Created++
		case updated:
			run.Counts.Updated++
		case skipped:
			run.Counts.Skipped++
		}
		run.Counts.Scanned++
	}

	if engine.exporter != nil {
		if err := engine.exporter.Export(ctx); err != nil {
			log.Emit(logger.WARNING, "Failed to export autocomplete vocabulary: %v\n", err)
		}
	}

	summary := run.Summary()
	log.Emit(logger.SUCCESS, "%s\n", summary)
	return summary, nil
}

// discover walks the source tree collecting up to MaxFiles media files;
// a limit of zero collects none.
// The walk always completes so that the number of discovered files is
// known even when the limit cuts the run short.
func (engine *Engine) discover(run *runctx.Context, opts Options) ([]match, error) {
	log := run.Logger("Ingest")
	matches := make([]match, 0)

	err := filepath.WalkDir(opts.SourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == opts.SourceRoot {
				return err
			}

			log.Emit(logger.WARNING, "Skipping %s: %v\n", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		kind := media.KindForPath(path)
		if !opts.Filter.accepts(kind) {
			return nil
		}

		run.Counts.Discovered++
		if len(matches) >= opts.MaxFiles {
			return nil
		}

		matches = append(matches, match{path: path, kind: kind})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source directory %s: %w", opts.SourceRoot, err)
	}

	if len(matches) < run.Counts.Discovered {
		log.Emit(logger.WARNING, "Found %d files, only the first %d will be processed\n", run.Counts.Discovered, len(matches))
	}

	return matches, nil
}

// processSafely converts a panic while processing a file into a trouble
// for that file.
func (engine *Engine) processSafely(ctx context.Context, run *runctx.Context, m match, force bool) (result outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newTrouble(UnknownFailure, m.path, fmt.Errorf("panic: %v", r))
		}
	}()

	return engine.process(ctx, run, m, force)
}

func (engine *Engine) process(ctx context.Context, run *runctx.Context, m match, force bool) (outcome, error) {
	log := run.Logger("Ingest")

	item, err := media.NewItem(m.path, m.kind)
	if err != nil {
		return skipped, newTrouble(ExtractionFailure, m.path, err)
	}

	if item.Kind == media.Broken {
		if err := os.Remove(item.SourcePath); err != nil {
			return skipped, newTrouble(UnknownFailure, m.path, fmt.Errorf("failed to remove broken link: %w", err))
		}

		log.Emit(logger.REMOVE, "Removed broken link %s\n", item.SourcePath)
		return broken, nil
	}

	existing, err := engine.lookup(ctx, item)
	if err != nil {
		return skipped, newTrouble(CatalogFailure, m.path, err)
	}

	switch {
	case existing == nil:
		return created, engine.create(ctx, run, item)
	case existing.Timestamp.Equal(item.Timestamp) && !force:
		log.Emit(logger.VERBOSE, "%s is up to date\n", item.Filename)
		return skipped, nil
	default:
		return updated, engine.update(ctx, run, item, existing)
	}
}

func (engine *Engine) create(ctx context.Context, run *runctx.Context, item *media.Item) error {
	log := run.Logger("Ingest")
	originalPath := item.SourcePath

	raw := engine.extractor.Extract(ctx, item)
	if _, err := engine.identities.Assign(ctx, item, raw.AuthorHint()); err != nil {
		return newTrouble(IdentityFailure, originalPath, err)
	}

	record, err := engine.prepare(ctx, run, item, raw)
	if err != nil {
		return err
	}
	record.OldFilepath = originalPath

	links, err := engine.links(ctx, run, record)
	if err != nil {
		return newTrouble(CatalogFailure, item.SourcePath, err)
	}

	id, err := engine.store.CreateRecord(ctx, item.Kind.String(), record.Fields(), links)
	if err != nil {
		return newTrouble(CatalogFailure, item.SourcePath, err)
	}

	log.Emit(logger.NEW, "Created %s %s (%s)\n", item.Kind, item.Stem(), id)
	return nil
}

func (engine *Engine) update(ctx context.Context, run *runctx.Context, item *media.Item, existing *catalog.Record) error {
	log := run.Logger("Ingest")

	raw := engine.extractor.Extract(ctx, item)
	record, err := engine.prepare(ctx, run, item, raw)
	if err != nil {
		return err
	}

	links, err := engine.links(ctx, run, record)
	if err != nil {
		return newTrouble(CatalogFailure, item.SourcePath, err)
	}

	if err := engine.store.UpdateRecord(ctx, existing.ID, record.Fields(), links); err != nil {
		return newTrouble(CatalogFailure, item.SourcePath, err)
	}

	log.Emit(logger.SUCCESS, "Updated %s %s (%s)\n", item.Kind, item.Stem(), existing.ID)
	return nil
}

// prepare normalizes the extracted metadata, produces the derivatives
// and resolves the single vocabulary references. Nothing is written to
// the catalog (beyond vocabulary entries) if the derivatives fail.
func (engine *Engine) prepare(ctx context.Context, run *runctx.Context, item *media.Item, raw metadata.Raw) (*metadata.Record, error) {
	record := metadata.Normalize(raw)
	record.IdentityKey = item.Stem()
	record.SourceFilepath = item.SourcePath
	record.Timestamp = item.Timestamp

	derivatives, err := engine.transcoder.Transcode(ctx, item, &record)
	if err != nil {
		return nil, newTrouble(TranscodeFailure, item.SourcePath, err)
	}
	record.Derivatives = *derivatives

	if err := metadata.ResolveVocabulary(ctx, engine.store, &record); err != nil {
		return nil, newTrouble(CatalogFailure, item.SourcePath, err)
	}

	run.Logger("Ingest").Emit(logger.DEBUG, "Metadata for %s: %+v\n", item.Filename, record)
	return &record, nil
}
