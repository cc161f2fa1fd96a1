package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cebimar/cifonauta/internal/database"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type (
	// PathColumn names a derivative path column on the media table which
	// can be used to find an existing record.
	PathColumn string

	// Fields is a column-keyed set of values for a media record.
	Fields map[string]any

	// Links holds the ordered many-to-many references for a record. Every
	// vocabulary present in the map has its links replaced wholesale,
	// including vocabularies mapped to an empty slice.
	Links map[Vocabulary][]Ref

	Ref struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}

	Record struct {
		ID             uuid.UUID `db:"id"`
		Kind           string    `db:"kind"`
		IdentityKey    string    `db:"identity_key"`
		SourceFilepath string    `db:"source_filepath"`
		Timestamp      time.Time `db:"source_timestamp"`
		WebFilepath    string    `db:"web_filepath"`
		WebmFilepath   string    `db:"webm_filepath"`
		Mp4Filepath    string    `db:"mp4_filepath"`
		OggFilepath    string    `db:"ogg_filepath"`
		ThumbFilepath  string    `db:"thumb_filepath"`
	}

	Store struct {
		db  *sqlx.DB
		log logger.Logger
	}
)

const (
	WebPath  PathColumn = "web_filepath"
	WebmPath PathColumn = "webm_filepath"
	Mp4Path  PathColumn = "mp4_filepath"
	OggPath  PathColumn = "ogg_filepath"
)

var (
	psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	recordColumns = []string{
		"id", "kind", "identity_key", "source_filepath", "source_timestamp",
		"web_filepath", "webm_filepath", "mp4_filepath", "ogg_filepath", "thumb_filepath",
	}

	// writableColumns are the keys accepted in Fields.
	writableColumns = map[string]struct{}{
		"identity_key": {}, "source_filepath": {}, "old_filepath": {}, "source_timestamp": {},
		"title": {}, "caption": {}, "notes": {}, "geolocation": {}, "latitude": {}, "longitude": {},
		"date": {}, "is_public": {},
		"web_filepath": {}, "thumb_filepath": {}, "large_thumb": {},
		"webm_filepath": {}, "mp4_filepath": {}, "ogg_filepath": {},
		"duration": {}, "dimensions": {}, "codec": {},
		"size_id": {}, "rights_id": {}, "sublocation_id": {}, "city_id": {}, "state_id": {}, "country_id": {},
	}
)

func NewStore(db *sqlx.DB, log logger.Logger) *Store {
	return &Store{db: db, log: log}
}

// FindByDerivativePath returns the record of the given kind whose
// derivative column holds exactly path. A miss returns nil and no error.
func (store *Store) FindByDerivativePath(ctx context.Context, kind string, column PathColumn, path string) (*Record, error) {
	query, args, err := psql.
		Select(recordColumns...).
		From("media").
		Where(squirrel.Eq{"kind": kind, string(column): path}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to construct derivative lookup query: %w", err)
	}

	var record Record
	if err := store.db.GetContext(ctx, &record, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, classify(fmt.Errorf("failed to find %s with %s=%s: %w", kind, column, path, err))
	}

	return &record, nil
}

// CreateRecord inserts a new media record along with its many-to-many
// links. Both happen in a single transaction.
func (store *Store) CreateRecord(ctx context.Context, kind string, fields Fields, links Links) (uuid.UUID, error) {
	if err := validateFields(fields); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	values := maps.Clone(fields)
	if values == nil {
		values = Fields{}
	}
	values["id"] = id
	values["kind"] = kind

	query, args, err := psql.Insert("media").SetMap(values).ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to construct insert query: %w", err)
	}

	err = database.WrapTx(ctx, store.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert %s record: %w", kind, err)
		}

		return store.replaceLinks(ctx, tx, id, links)
	})
	if err != nil {
		return uuid.Nil, classify(err)
	}

	return id, nil
}

// UpdateRecord overwrites the given fields of an existing record and
// replaces its many-to-many links, transactionally. Columns absent from
// fields are left untouched.
func (store *Store) UpdateRecord(ctx context.Context, id uuid.UUID, fields Fields, links Links) error {
	if err := validateFields(fields); err != nil {
		return err
	}

	query, args, err := psql.
		Update("media").
		SetMap(fields).
		Set("updated_at", squirrel.Expr("current_timestamp")).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to construct update query: %w", err)
	}

	return classify(database.WrapTx(ctx, store.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update record %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}

		return store.replaceLinks(ctx, tx, id, links)
	}))
}

// ResolveOrCreate finds the vocabulary entry with the exact name given,
// creating it if none exists. The boolean result reports creation.
func (store *Store) ResolveOrCreate(ctx context.Context, vocabulary Vocabulary, name string) (Ref, bool, error) {
	table := vocabulary.Table()
	ref := Ref{Name: name}

	insert := fmt.Sprintf(`INSERT INTO %s(name) VALUES ($1) ON CONFLICT(name) DO NOTHING RETURNING id`, table)
	err := store.db.QueryRowxContext(ctx, insert, name).Scan(&ref.ID)
	if err == nil {
		store.log.Emit(logger.NEW, "Created %s %q\n", vocabulary, name)
		return ref, true, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return ref, false, classify(fmt.Errorf("failed to insert %s %q: %w", vocabulary, name, err))
	}

	selectQuery := fmt.Sprintf(`SELECT id FROM %s WHERE name = $1`, table)
	if err := store.db.GetContext(ctx, &ref.ID, selectQuery, name); err != nil {
		return ref, false, classify(fmt.Errorf("failed to find %s %q: %w", vocabulary, name, err))
	}

	return ref, false, nil
}

// UpdateTaxon stores the classification details of a taxon resolved
// against the taxonomic authority.
func (store *Store) UpdateTaxon(ctx context.Context, taxon Ref, rank string, tsn string, parent *Ref) error {
	var parentID *int64
	if parent != nil {
		parentID = &parent.ID
	}

	_, err := store.db.ExecContext(ctx,
		`UPDATE taxon SET rank = $1, tsn = $2, parent_id = $3 WHERE id = $4`,
		rank, tsn, parentID, taxon.ID,
	)
	if err != nil {
		return classify(fmt.Errorf("failed to update taxon %q: %w", taxon.Name, err))
	}

	return nil
}

// IdentityKeys lists every name recorded in the unique-name index.
func (store *Store) IdentityKeys(ctx context.Context) ([]string, error) {
	var names []string
	if err := store.db.SelectContext(ctx, &names, `SELECT name FROM unique_names`); err != nil {
		return nil, classify(fmt.Errorf("failed to list unique names: %w", err))
	}

	return names, nil
}

func (store *Store) RegisterIdentity(ctx context.Context, name string) error {
	_, err := store.db.ExecContext(ctx, `INSERT INTO unique_names(name) VALUES ($1) ON CONFLICT(name) DO NOTHING`, name)
	return classify(err)
}

// Vocabulary lists the names of every entry of a vocabulary, sorted.
func (store *Store) Vocabulary(ctx context.Context, vocabulary Vocabulary) ([]string, error) {
	query, args, err := psql.Select("name").From(vocabulary.Table()).OrderBy("name").ToSql()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0)
	if err := store.db.SelectContext(ctx, &names, query, args...); err != nil {
		return nil, classify(fmt.Errorf("failed to list %s: %w", vocabulary, err))
	}

	return names, nil
}

func (store *Store) replaceLinks(ctx context.Context, tx database.Queryable, id uuid.UUID, links Links) error {
	for vocabulary, refs := range links {
		if err := replaceManyToMany(ctx, tx, id, vocabulary, refs); err != nil {
			return err
		}
	}

	return nil
}

// replaceManyToMany clears the links between the record and the given
// vocabulary, then inserts the refs provided preserving their order.
// Duplicate refs keep their first position.
func replaceManyToMany(ctx context.Context, db database.Queryable, id uuid.UUID, vocabulary Vocabulary, refs []Ref) error {
	if vocabulary.IsSingle() {
		return fmt.Errorf("vocabulary %s is not many-to-many", vocabulary)
	}

	table, column := vocabulary.junctionTable(), vocabulary.junctionColumn()
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE media_id = $1`, table), id); err != nil {
		return fmt.Errorf("failed to clear %s links: %w", vocabulary, err)
	}

	if len(refs) == 0 {
		return nil
	}

	ids := make([]int64, len(refs))
	for i, ref := range refs {
		ids[i] = ref.ID
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s(media_id, %s, position)
		SELECT $1, v.id, v.ord FROM unnest($2::bigint[]) WITH ORDINALITY AS v(id, ord)
		ON CONFLICT(media_id, %s) DO NOTHING`, table, column, column)
	if _, err := db.ExecContext(ctx, insert, id, pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to insert %s links: %w", vocabulary, err)
	}

	return nil
}

func validateFields(fields Fields) error {
	for key := range fields {
		if _, ok := writableColumns[key]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, key)
		}
	}

	return nil
}
