package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cebimar/cifonauta/internal"
	"github.com/cebimar/cifonauta/internal/ingest"
	"github.com/cebimar/cifonauta/internal/runctx"
	"github.com/cebimar/cifonauta/pkg/logger"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "cifonauta.yml"

type (
	// runFunc performs the reconciliation once the command line has been
	// parsed. configExplicit reports whether the operator named the
	// configuration file rather than relying on the default.
	runFunc func(ctx context.Context, configPath string, configExplicit bool, opts internal.RunOptions) (runctx.Summary, error)

	// usageError marks errors in the command line itself, as opposed to
	// failures of the run.
	usageError struct{ error }
)

func (e *usageError) Unwrap() error { return e.error }

func newRootCommand(run runFunc, out io.Writer) *cobra.Command {
	var (
		maxFiles    int
		forceUpdate bool
		onlyVideos  bool
		onlyPhotos  bool
		watch       bool
		configPath  string
	)

	rootCmd := &cobra.Command{
		Use:   "cifonauta",
		Short: "Reconcile the media archive with the Cifonauta catalog",
		Long: "Walks the source directory, assigns stable names to new media, extracts\n" +
			"their metadata, produces web derivatives and brings the catalog up to date.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{fmt.Errorf("unexpected arguments %q", args)}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if onlyVideos && onlyPhotos {
				return &usageError{errors.New("--only-videos and --only-photos cannot be used together")}
			}
			if maxFiles < 0 {
				return &usageError{fmt.Errorf("--n-max must not be negative, got %d", maxFiles)}
			}

			opts := internal.RunOptions{
				MaxFiles:    maxFiles,
				Filter:      ingest.AnyKind,
				ForceUpdate: forceUpdate,
				Watch:       watch,
			}
			switch {
			case onlyVideos:
				opts.Filter = ingest.VideosOnly
			case onlyPhotos:
				opts.Filter = ingest.PhotosOnly
			}

			summary, err := run(cmd.Context(), configPath, cmd.Flags().Changed("config"), opts)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, renderSummary(summary))
			return nil
		},
	}

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err}
	})

	flags := rootCmd.Flags()
	flags.IntVarP(&maxFiles, "n-max", "n", 20000, "Maximum number of files to process in this run")
	flags.BoolVarP(&forceUpdate, "force-update", "f", false, "Update every catalogued file even when unchanged")
	flags.BoolVarP(&onlyVideos, "only-videos", "v", false, "Only process videos")
	flags.BoolVarP(&onlyPhotos, "only-photos", "p", false, "Only process photos")
	flags.BoolVar(&watch, "watch", false, "Keep watching the source directory after the first run")
	flags.StringVarP(&configPath, "config", "c", defaultConfigPath, "Configuration file path")

	return rootCmd
}

// runReconciliation loads the configuration and performs the run. A
// missing default configuration file falls back to the environment.
func runReconciliation(ctx context.Context, configPath string, configExplicit bool, opts internal.RunOptions) (runctx.Summary, error) {
	logs := logger.NewManager(logger.INFO, color.Output)
	config := internal.CifonautaConfig{}

	var err error
	if _, statErr := os.Stat(configPath); errors.Is(statErr, os.ErrNotExist) && !configExplicit {
		logs.Get("Core").Emit(logger.INFO, "No %s found, configuring from the environment\n", configPath)
		err = config.LoadFromEnv()
	} else {
		err = config.LoadFromFile(configPath)
	}
	if err != nil {
		return runctx.Summary{}, err
	}

	return internal.New(config, logs).Run(ctx, opts)
}
