package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/cebimar/cifonauta/internal/catalog"
	"github.com/cebimar/cifonauta/internal/http/itis"
	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/internal/runctx"
	"github.com/cebimar/cifonauta/internal/transcode"
	"github.com/cebimar/cifonauta/pkg/logger"
)

type derivativeLookup struct {
	column catalog.PathColumn
	path   func(stem string) string
}

// videoLookups are tried in order; the first format with a record wins.
var videoLookups = []derivativeLookup{
	{column: catalog.WebmPath, path: transcode.WebM.VideoPath},
	{column: catalog.Mp4Path, path: transcode.MP4.VideoPath},
	{column: catalog.OggPath, path: transcode.Ogg.VideoPath},
}

// lookup finds the catalog record for the item by its derivative paths.
// A nil record means the item has never been catalogued.
func (engine *Engine) lookup(ctx context.Context, item *media.Item) (*catalog.Record, error) {
	kind := item.Kind.String()
	if item.Kind == media.Photo {
		return engine.store.FindByDerivativePath(ctx, kind, catalog.WebPath, "photos/"+item.Filename)
	}

	for _, l := range videoLookups {
		record, err := engine.store.FindByDerivativePath(ctx, kind, l.column, l.path(item.Stem()))
		if err != nil || record != nil {
			return record, err
		}
	}

	return nil, nil
}

// links resolves the many-to-many values of the record, in order. Every
// many-to-many vocabulary is present in the result so that stale links
// are cleared on update.
func (engine *Engine) links(ctx context.Context, run *runctx.Context, record *metadata.Record) (catalog.Links, error) {
	links := make(catalog.Links, len(catalog.ManyVocabularies))
	for _, v := range catalog.ManyVocabularies {
		refs := make([]catalog.Ref, 0)
		for _, name := range record.Many(v) {
			ref, isNew, err := engine.store.ResolveOrCreate(ctx, v, name)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve %s %q: %w", v, name, err)
			}

			if isNew && v == catalog.Taxon {
				if err := engine.enrichTaxon(ctx, run, ref); err != nil {
					return nil, err
				}
			}

			refs = append(refs, ref)
		}

		links[v] = refs
	}

	return links, nil
}

// enrichTaxon looks a newly created taxon up in the taxonomic authority
// and stores its rank and lineage. The lineage is created as taxa of its
// own where missing. Anything short of losing the catalog is logged and
// ignored: the bare name is enough for the record.
func (engine *Engine) enrichTaxon(ctx context.Context, run *runctx.Context, ref catalog.Ref) error {
	log := run.Logger("Taxonomy")
	if engine.taxonomy == nil {
		return nil
	}

	taxon, ok := engine.taxonomy.Resolve(ctx, ref.Name)
	if !ok {
		log.Emit(logger.WARNING, "No classification found for taxon %q\n", ref.Name)
		return nil
	}

	// Walk from the root of the lineage downwards so each parent exists
	// before its child points at it.
	ancestors := taxon.Ancestors()
	var parent *catalog.Ref
	for i := len(ancestors) - 1; i >= 0; i-- {
		ancestorRef, err := engine.storeTaxon(ctx, ancestors[i], nil, parent)
		if err != nil {
			return engine.swallowTaxonError(log, ancestors[i].Name, err)
		}

		parent = ancestorRef
	}

	if _, err := engine.storeTaxon(ctx, taxon, &ref, parent); err != nil {
		return engine.swallowTaxonError(log, ref.Name, err)
	}

	log.Emit(logger.SUCCESS, "Classified %q as %s (TSN %s)\n", ref.Name, taxon.Rank, taxon.TSN)
	return nil
}

func (engine *Engine) storeTaxon(ctx context.Context, taxon *itis.TaxonRef, ref *catalog.Ref, parent *catalog.Ref) (*catalog.Ref, error) {
	if ref == nil {
		resolved, _, err := engine.store.ResolveOrCreate(ctx, catalog.Taxon, taxon.Name)
		if err != nil {
			return nil, err
		}
		ref = &resolved
	}

	if err := engine.store.UpdateTaxon(ctx, *ref, taxon.Rank, taxon.TSN, parent); err != nil {
		return nil, err
	}

	return ref, nil
}

func (engine *Engine) swallowTaxonError(log logger.Logger, name string, err error) error {
	if errors.Is(err, catalog.ErrUnavailable) {
		return err
	}

	log.Emit(logger.WARNING, "Failed to store classification of %q: %v\n", name, err)
	return nil
}
