package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cebimar/cifonauta/internal/catalog"
	"github.com/cebimar/cifonauta/internal/database"
	"github.com/cebimar/cifonauta/internal/export"
	"github.com/cebimar/cifonauta/internal/ffmpeg"
	"github.com/cebimar/cifonauta/internal/http/itis"
	"github.com/cebimar/cifonauta/internal/identity"
	"github.com/cebimar/cifonauta/internal/ingest"
	"github.com/cebimar/cifonauta/internal/metadata"
	"github.com/cebimar/cifonauta/internal/runctx"
	"github.com/cebimar/cifonauta/internal/transcode"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/gofrs/flock"
)

var ErrAlreadyRunning = errors.New("another run holds the lock")

type (
	// RunOptions are the per-invocation choices made on the command line.
	RunOptions struct {
		MaxFiles    int
		Filter      ingest.Filter
		ForceUpdate bool
		Watch       bool
	}

	// Cifonauta owns the resources of a single invocation: the run lock,
	// the database connection and the components built on top of it.
	Cifonauta struct {
		config CifonautaConfig
		logs   *logger.Manager
		log    logger.Logger
	}
)

func New(config CifonautaConfig, logs *logger.Manager) *Cifonauta {
	return &Cifonauta{config: config, logs: logs, log: logs.Get("Core")}
}

// Run performs a reconciliation of the source directory and, when asked
// to, keeps watching it for changes until the context is cancelled. The
// summary returned is that of the last completed run. Cancellation is
// not an error: files not reached are picked up by the next run.
func (c *Cifonauta) Run(ctx context.Context, opts RunOptions) (runctx.Summary, error) {
	if err := c.configureLogs(); err != nil {
		return runctx.Summary{}, err
	}
	defer c.logs.Close()

	lock, err := c.acquireLock()
	if err != nil {
		return runctx.Summary{}, err
	}
	defer lock.Unlock()

	c.log.Emit(logger.NEW, "Connecting to catalog database...\n")
	db := database.New(c.logs.Get("Database"))
	if err := db.Connect(c.config.Database); err != nil {
		return runctx.Summary{}, fmt.Errorf("failed to connect to catalog: %w", err)
	}
	defer db.Close()

	engine, err := c.buildEngine(catalog.NewStore(db.GetSqlxDb(), c.logs.Get("Catalog")))
	if err != nil {
		return runctx.Summary{}, err
	}

	ingestOpts := ingest.Options{
		SourceRoot:  c.config.SourceDir,
		MaxFiles:    opts.MaxFiles,
		Filter:      opts.Filter,
		ForceUpdate: opts.ForceUpdate,
	}

	summary, err := engine.Reconcile(ctx, runctx.New(c.logs), ingestOpts)
	if err != nil || !opts.Watch {
		return summary, c.settle(err)
	}

	// A forced update applies to the first run only
	ingestOpts.ForceUpdate = false
	err = ingest.Watch(ctx, c.config.SourceDir, c.config.Watch, c.logs.Get("Watch"), func(ctx context.Context) error {
		s, err := engine.Reconcile(ctx, runctx.New(c.logs), ingestOpts)
		summary = s
		return err
	})

	return summary, c.settle(err)
}

func (c *Cifonauta) configureLogs() error {
	status, err := logger.ParseStatus(c.config.LogLevel)
	if err != nil {
		return err
	}
	c.logs.SetMinStatus(status)

	if c.config.LogPath == "" {
		return nil
	}

	return c.logs.OpenFile(c.config.LogPath)
}

func (c *Cifonauta) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(c.config.LockPath), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(c.config.LockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", c.config.LockPath, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, c.config.LockPath)
	}

	return lock, nil
}

func (c *Cifonauta) buildEngine(store *catalog.Store) (*ingest.Engine, error) {
	identities, err := identity.New(store, c.config.SiteMediaDir, c.logs.Get("Identity"))
	if err != nil {
		return nil, err
	}

	runner := ffmpeg.NewRunner(c.config.Ffmpeg, c.logs.Get("FFmpeg"))
	return ingest.New(
		store,
		identities,
		metadata.NewExtractor(runner, c.logs.Get("Metadata")),
		transcode.New(c.config.LocalMediaDir, c.config.SiteMediaDir, c.config.Video, c.config.Photo, runner, c.logs.Get("Transcode")),
		itis.NewResolver(c.config.Itis, c.logs.Get("ITIS")),
		export.New(store, c.config.AutocompletePath, c.logs.Get("Export")),
	), nil
}

func (c *Cifonauta) settle(err error) error {
	if errors.Is(err, context.Canceled) {
		c.log.Emit(logger.STOP, "Interrupted, remaining files will be picked up by the next run\n")
		return nil
	}

	return err
}
