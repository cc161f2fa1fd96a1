// engine_test ensures that files in the source tree are reconciled with
// the catalog: created once, skipped when unchanged and updated when
// changed. Extraction, transcoding and the taxonomy service are mocked,
// the catalog is kept in memory.
package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cebimar/cifonauta/internal/catalog"
	"github.com/cebimar/cifonauta/internal/http/itis"
	"github.com/cebimar/cifonauta/internal/identity"
	"github.com/cebimar/cifonauta/internal/ingest"
	"github.com/cebimar/cifonauta/internal/media"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/internal/runctx"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

// allFiles is a limit no test tree reaches.
const allFiles = 20000

type (
	storedRecord struct {
		kind   string
		fields catalog.Fields
		links  catalog.Links
	}

	taxonUpdate struct {
		rank   string
		tsn    string
		parent *catalog.Ref
	}

	// memoryStore is a catalog kept in maps.
	memoryStore struct {
		records map[uuid.UUID]*storedRecord
		vocab   map[catalog.Vocabulary]map[string]catalog.Ref
		taxa    map[string]taxonUpdate
		names   map[string]struct{}
		nextID  int64

		failWith error
	}

	mockExtractor struct{ mock.Mock }

	mockTaxonomy struct{ mock.Mock }

	mockExporter struct{ mock.Mock }

	// fakeTranscoder reports the derivatives a successful transcode of
	// the item would produce, without producing them.
	fakeTranscoder struct {
		fail  map[string]error
		calls int
	}
)

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records: make(map[uuid.UUID]*storedRecord),
		vocab:   make(map[catalog.Vocabulary]map[string]catalog.Ref),
		taxa:    make(map[string]taxonUpdate),
		names:   make(map[string]struct{}),
	}
}

func (s *memoryStore) FindByDerivativePath(ctx context.Context, kind string, column catalog.PathColumn, path string) (*catalog.Record, error) {
	if s.failWith != nil {
		return nil, s.failWith
	}

	for id, r := range s.records {
		if r.kind == kind && r.fields[string(column)] == path {
			return &catalog.Record{
				ID:          id,
				Kind:        kind,
				IdentityKey: r.fields["identity_key"].(string),
				Timestamp:   r.fields["source_timestamp"].(time.Time),
			}, nil
		}
	}

	return nil, nil
}

func (s *memoryStore) CreateRecord(ctx context.Context, kind string, fields catalog.Fields, links catalog.Links) (uuid.UUID, error) {
	id := uuid.New()
	s.records[id] = &storedRecord{kind: kind, fields: fields, links: links}
	return id, nil
}

func (s *memoryStore) UpdateRecord(ctx context.Context, id uuid.UUID, fields catalog.Fields, links catalog.Links) error {
	r, ok := s.records[id]
	if !ok {
		return catalog.ErrRecordNotFound
	}
	for k, v := range fields {
		r.fields[k] = v
	}
	for k, v := range links {
		r.links[k] = v
	}
	return nil
}

func (s *memoryStore) ResolveOrCreate(ctx context.Context, vocabulary catalog.Vocabulary, name string) (catalog.Ref, bool, error) {
	if _, ok := s.vocab[vocabulary]; !ok {
		s.vocab[vocabulary] = make(map[string]catalog.Ref)
	}
	if ref, ok := s.vocab[vocabulary][name]; ok {
		return ref, false, nil
	}

	s.nextID++
	ref := catalog.Ref{ID: s.nextID, Name: name}
	s.vocab[vocabulary][name] = ref
	return ref, true, nil
}

func (s *memoryStore) UpdateTaxon(ctx context.Context, taxon catalog.Ref, rank string, tsn string, parent *catalog.Ref) error {
	s.taxa[taxon.Name] = taxonUpdate{rank: rank, tsn: tsn, parent: parent}
	return nil
}

func (s *memoryStore) IdentityKeys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(s.names))
	for k := range s.names {
		keys = append(keys, k)
	}
	return keys, nil
}

func (s *memoryStore) RegisterIdentity(ctx context.Context, name string) error {
	s.names[name] = struct{}{}
	return nil
}

func (s *memoryStore) identityKeys() []string {
	keys := make([]string, 0, len(s.records))
	for _, r := range s.records {
		keys = append(keys, r.fields["identity_key"].(string))
	}
	return keys
}

func (m *mockExtractor) Extract(ctx context.Context, item *media.Item) metadata.Raw {
	return m.Called(item.Kind).Get(0).(metadata.Raw)
}

func (m *mockTaxonomy) Resolve(ctx context.Context, name string) (*itis.TaxonRef, bool) {
	args := m.Called(name)
	ref, _ := args.Get(0).(*itis.TaxonRef)
	return ref, args.Bool(1)
}

func (m *mockExporter) Export(ctx context.Context) error {
	return m.Called().Error(0)
}

func (f *fakeTranscoder) Transcode(ctx context.Context, item *media.Item, record *metadata.Record) (*metadata.Derivatives, error) {
	f.calls++
	if err, ok := f.fail[item.Filename]; ok {
		return nil, err
	}

	stem := item.Stem()
	if item.Kind == media.Photo {
		return &metadata.Derivatives{Web: "photos/" + item.Filename, Thumb: "photos/thumbs/" + item.Filename}, nil
	}

	return &metadata.Derivatives{
		Webm:  "videos/" + stem + ".webm",
		Mp4:   "videos/" + stem + ".mp4",
		Ogg:   "videos/" + stem + ".ogv",
		Thumb: "videos/thumbs/" + stem + ".jpg",
	}, nil
}

type harness struct {
	root       string
	store      *memoryStore
	extractor  *mockExtractor
	taxonomy   *mockTaxonomy
	exporter   *mockExporter
	transcoder *fakeTranscoder
	engine     *ingest.Engine
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	h := &harness{
		root:       filepath.Join(dir, "source"),
		store:      newMemoryStore(),
		extractor:  &mockExtractor{},
		taxonomy:   &mockTaxonomy{},
		exporter:   &mockExporter{},
		transcoder: &fakeTranscoder{fail: map[string]error{}},
	}
	require.NoError(t, os.MkdirAll(h.root, os.ModePerm))

	assigner, err := identity.New(h.store, filepath.Join(dir, "site_media"), logger.Discard().Get("Identity"))
	require.NoError(t, err)

	raw := metadata.Raw{Title: "Larva", Author: "Ana Souza", Taxon: "Octopus sp."}
	h.extractor.On("Extract", mock.Anything).Return(raw)
	h.taxonomy.On("Resolve", mock.Anything).Return(nil, false)
	h.exporter.On("Export").Return(nil)

	h.engine = ingest.New(h.store, assigner, h.extractor, h.transcoder, h.taxonomy, h.exporter)
	return h
}

func (h *harness) write(t *testing.T, rel string) string {
	path := filepath.Join(h.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
	require.NoError(t, os.WriteFile(path, []byte(rel), 0o644))
	return path
}

func (h *harness) reconcile(t *testing.T, opts ingest.Options) runctx.Summary {
	opts.SourceRoot = h.root
	summary, err := h.engine.Reconcile(context.Background(), runctx.New(logger.Discard()), opts)
	require.NoError(t, err)
	return summary
}

func sourceFiles(t *testing.T, root string) []string {
	var names []string
	require.NoError(t, filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			names = append(names, filepath.Base(path))
		}
		return err
	}))
	return names
}

func Test_Reconcile_IsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "IMG_0001.JPG")
	h.write(t, "dives/clip 01.mov")
	h.write(t, "dives/clip 01.txt")
	h.write(t, "notes.txt")
	h.write(t, "IMG_0002.jpg~")

	first := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 2, first.Scanned)
	assert.Equal(t, 2, first.Created)
	assert.Equal(t, 0, first.Updated)
	assert.Len(t, h.store.records, 2)

	second := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 2, second.Scanned)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 2, second.Skipped)
	assert.Equal(t, 2, h.transcoder.calls)
	h.exporter.AssertNumberOfCalls(t, "Export", 2)
}

func Test_Reconcile_IdentityIsStable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "IMG_0001.jpg")
	h.write(t, "clip.avi")

	h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	keys := h.store.identityKeys()
	files := sourceFiles(t, h.root)
	for _, key := range keys {
		assert.True(t, strings.HasPrefix(key, "ana-souza-"), key)
	}

	forced := h.reconcile(t, ingest.Options{MaxFiles: allFiles, ForceUpdate: true})
	assert.Equal(t, 2, forced.Updated)
	assert.Equal(t, 0, forced.Created)
	assert.ElementsMatch(t, keys, h.store.identityKeys())
	assert.ElementsMatch(t, files, sourceFiles(t, h.root))
}

func Test_Reconcile_CreateRecordsOldPathAndLinks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	original := h.write(t, "IMG_0001.jpg")

	h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	require.Len(t, h.store.records, 1)
	for _, r := range h.store.records {
		assert.Equal(t, "photo", r.kind)
		assert.Equal(t, original, r.fields["old_filepath"])
		assert.Equal(t, true, r.fields["is_public"])
		assert.NotEqual(t, original, r.fields["source_filepath"])
		assert.Equal(t, []catalog.Ref{h.store.vocab[catalog.Taxon]["Octopus"]}, r.links[catalog.Taxon])
		assert.Len(t, r.links[catalog.Author], 1)
		assert.Empty(t, r.links[catalog.Tag])
		assert.Contains(t, r.links, catalog.Reference)
	}
}

func Test_Reconcile_UpdatesChangedFiles(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "clip.mov")
	h.reconcile(t, ingest.Options{MaxFiles: allFiles})

	files := sourceFiles(t, h.root)
	require.Len(t, files, 1)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(h.root, files[0]), later, later))

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Created)
	assert.Len(t, h.store.records, 1)
	for _, r := range h.store.records {
		assert.True(t, media.NormalizeTimestamp(later).Equal(r.fields["source_timestamp"].(time.Time)))
	}
}

func Test_Reconcile_RemovesBrokenLinks(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	link := filepath.Join(h.root, "gone.jpg")
	require.NoError(t, os.Symlink(filepath.Join(h.root, "missing", "gone.jpg"), link))

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 1, summary.Broken)
	assert.Equal(t, 0, summary.Scanned)
	assert.Equal(t, 0, summary.Created)
	assert.Empty(t, h.store.records)
	_, err := os.Lstat(link)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	h.extractor.AssertNotCalled(t, "Extract", mock.Anything)
}

func Test_Reconcile_MaxFilesAndFilters(t *testing.T) {
	t.Parallel()

	t.Run("max files", func(t *testing.T) {
		h := newHarness(t)
		for i := 0; i < 5; i++ {
			h.write(t, fmt.Sprintf("IMG_%d.jpg", i))
		}

		summary := h.reconcile(t, ingest.Options{MaxFiles: 2})
		assert.Equal(t, 5, summary.Discovered)
		assert.Equal(t, 2, summary.Scanned)
		assert.Equal(t, 2, summary.Created)
	})

	t.Run("zero limit processes nothing", func(t *testing.T) {
		h := newHarness(t)
		h.write(t, "IMG_1.jpg")
		h.write(t, "IMG_2.jpg")

		summary := h.reconcile(t, ingest.Options{MaxFiles: 0})
		assert.Equal(t, 2, summary.Discovered)
		assert.Equal(t, 0, summary.Scanned)
		assert.Equal(t, 0, summary.Created)
		assert.Empty(t, h.store.records)
		assert.ElementsMatch(t, []string{"IMG_1.jpg", "IMG_2.jpg"}, sourceFiles(t, h.root))
		h.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything)
	})

	t.Run("only videos", func(t *testing.T) {
		h := newHarness(t)
		h.write(t, "IMG_1.png")
		h.write(t, "clip.MPG")
		h.write(t, "clip2.m2ts")

		summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles, Filter: ingest.VideosOnly})
		assert.Equal(t, 2, summary.Created)
		for _, r := range h.store.records {
			assert.Equal(t, "video", r.kind)
		}
	})

	t.Run("only photos", func(t *testing.T) {
		h := newHarness(t)
		h.write(t, "IMG_1.gif")
		h.write(t, "clip.flv")

		summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles, Filter: ingest.PhotosOnly})
		assert.Equal(t, 1, summary.Created)
		assert.Equal(t, 1, summary.Discovered)
	})
}

func Test_Reconcile_TranscodeFailureLeavesCatalogUntouched(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "corrupt.mov")
	h.write(t, "fine.mov")

	h.engine = ingest.New(h.store, keepNameAssigner{}, h.extractor, &fakeTranscoder{fail: map[string]error{"corrupt.mov": errExpected}}, h.taxonomy, h.exporter)

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Created)
	assert.Len(t, h.store.records, 1)
}

func Test_Reconcile_PanicsAreIsolated(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "a.jpg")
	h.write(t, "b.mov")

	extractor := &mockExtractor{}
	extractor.On("Extract", media.Photo).Panic("bad tag block")
	extractor.On("Extract", media.Video).Return(metadata.Raw{})
	h.engine = ingest.New(h.store, keepNameAssigner{}, extractor, h.transcoder, h.taxonomy, h.exporter)

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Created)
}

func Test_Reconcile_AbortsWhenCatalogUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "a.jpg")
	h.write(t, "b.jpg")
	h.store.failWith = fmt.Errorf("%w: connection refused", catalog.ErrUnavailable)

	summary, err := h.engine.Reconcile(context.Background(), runctx.New(logger.Discard()), ingest.Options{SourceRoot: h.root, MaxFiles: allFiles})
	assert.ErrorIs(t, err, catalog.ErrUnavailable)
	assert.Equal(t, 0, summary.Scanned)
	h.exporter.AssertNotCalled(t, "Export")
}

func Test_Reconcile_StopsBetweenFilesWhenCancelled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "a.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.engine.Reconcile(ctx, runctx.New(logger.Discard()), ingest.Options{SourceRoot: h.root, MaxFiles: allFiles})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.records)
}

func Test_Reconcile_EnrichesNewTaxa(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "a.jpg")
	h.write(t, "b.jpg")

	taxonomy := &mockTaxonomy{}
	kingdom := &itis.TaxonRef{Name: "Animalia", Rank: "Kingdom", TSN: "202423"}
	phylum := &itis.TaxonRef{Name: "Mollusca", Rank: "Phylum", TSN: "69458", Parent: kingdom}
	taxonomy.On("Resolve", "Octopus").Return(&itis.TaxonRef{Name: "Octopus", Rank: "Genus", TSN: "82589", Parent: phylum}, true).Once()
	h.engine = ingest.New(h.store, keepNameAssigner{}, h.extractor, h.transcoder, taxonomy, h.exporter)

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 2, summary.Created)

	// Only the first file creates the taxon, so the authority is asked once
	taxonomy.AssertNumberOfCalls(t, "Resolve", 1)
	assert.Equal(t, "Genus", h.store.taxa["Octopus"].rank)
	assert.Equal(t, "82589", h.store.taxa["Octopus"].tsn)
	assert.Equal(t, "Mollusca", h.store.taxa["Octopus"].parent.Name)
	assert.Equal(t, "Animalia", h.store.taxa["Mollusca"].parent.Name)
	assert.Nil(t, h.store.taxa["Animalia"].parent)
}

func Test_Reconcile_TaxonomyMissIsNotFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "a.jpg")

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 1, summary.Created)
	assert.Empty(t, h.store.taxa)
	h.taxonomy.AssertCalled(t, "Resolve", "Octopus")
}

// keepNameAssigner leaves every file's name as it is, for tests which
// refer to files by their original name.
type keepNameAssigner struct{}

func (keepNameAssigner) Assign(ctx context.Context, item *media.Item, authorHint string) (string, error) {
	return item.SourcePath, nil
}

func Test_Reconcile_IdentityFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.write(t, "a.jpg")
	h.engine = ingest.New(h.store, erroringAssigner{}, h.extractor, h.transcoder, h.taxonomy, h.exporter)

	summary := h.reconcile(t, ingest.Options{MaxFiles: allFiles})
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, h.transcoder.calls)
	assert.Empty(t, h.store.records)
}

type erroringAssigner struct{}

func (erroringAssigner) Assign(ctx context.Context, item *media.Item, authorHint string) (string, error) {
	return "", errExpected
}
