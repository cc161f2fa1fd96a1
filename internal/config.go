package internal

import (
	"fmt"
	"path/filepath"

	"github.com/cebimar/cifonauta/internal/database"
	"github.com/cebimar/cifonauta/internal/ffmpeg"
	"github.com/cebimar/cifonauta/internal/http/itis"
	"github.com/cebimar/cifonauta/internal/ingest"
	"github.com/cebimar/cifonauta/internal/transcode"
	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"
)

// CifonautaConfig is the struct used to contain the
// various user config supplied by file, or by
// environment variables.
type CifonautaConfig struct {
	SourceDir        string `yaml:"source_dir" env:"SOURCE_DIR" env-required:"true" validate:"required"`
	LocalMediaDir    string `yaml:"local_media_dir" env:"LOCAL_MEDIA_DIR" env-default:"local_media" validate:"required"`
	SiteMediaDir     string `yaml:"site_media_dir" env:"SITE_MEDIA_DIR" env-default:"site_media" validate:"required"`
	LogPath          string `yaml:"log_path" env:"LOG_PATH" env-default:"logs/cifonauta.log"`
	LogLevel         string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info" validate:"oneof=verbose debug info warn warning error"`
	LockPath         string `yaml:"lock_path" env:"LOCK_PATH" env-default:"cifonauta.lock" validate:"required"`
	AutocompletePath string `yaml:"autocomplete_path" env:"AUTOCOMPLETE_PATH" env-default:"site_media/js/autocomplete.json"`

	Database database.DatabaseConfig `yaml:"database"`
	Ffmpeg   ffmpeg.Config           `yaml:"ffmpeg"`
	Video    transcode.VideoConfig   `yaml:"video"`
	Photo    transcode.PhotoConfig   `yaml:"photo"`
	Itis     itis.Config             `yaml:"itis"`
	Watch    ingest.Config           `yaml:"watch"`
}

// LoadFromFile reads the YAML configuration at configPath, applying any
// environment overrides and defaults, and validates the result.
func (config *CifonautaConfig) LoadFromFile(configPath string) error {
	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s: %w", configPath, err)
	}

	return config.validate()
}

// LoadFromEnv is LoadFromFile for deployments without a configuration
// file.
func (config *CifonautaConfig) LoadFromEnv() error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	return config.validate()
}

func (config *CifonautaConfig) validate() error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if filepath.Clean(config.LocalMediaDir) == filepath.Clean(config.SiteMediaDir) {
		return fmt.Errorf("invalid configuration: local_media_dir and site_media_dir must differ")
	}

	return nil
}
