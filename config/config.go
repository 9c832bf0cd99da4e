// Package config reads the settings of a multialign run from JSON files or attribute maps.
package config

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/multialign/logging"
	"go.viam.com/multialign/multialign"
	"go.viam.com/multialign/registration"
	"go.viam.com/multialign/utils"
)

// Config is the full configuration of a run: the pairwise pipeline parameters, the
// orchestration options and the log level. All fields share one flat namespace.
type Config struct {
	registration.Config
	multialign.Options
	LogLevel string `json:"log_level,omitempty"`
}

// Default returns the default configuration for a voxel size.
func Default(voxelSize float64) Config {
	return Config{Config: registration.DefaultConfig(voxelSize)}
}

// Validate ensures all parts of the config are valid.
func (c Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	if c.Parallelism < 0 {
		return errors.Wrap(registration.ErrInvalidInput, utils.NewOutOfRangeError("parallelism", c.Parallelism, ">= 0").Error())
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return errors.Wrap(registration.ErrInvalidInput, err.Error())
		}
	}
	return nil
}

// Level returns the configured log level, INFO when unset.
func (c Config) Level() logging.Level {
	if c.LogLevel == "" {
		return logging.INFO
	}
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// Read reads a JSON config from the given file. Environment variables referenced as $VAR or
// ${VAR} are substituted before decoding.
func Read(filePath string) (*Config, error) {
	return ReadWithDefaults(filePath, Default(0))
}

// ReadWithDefaults is Read with the values used for fields absent from the file.
func ReadWithDefaults(filePath string, defaults Config) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return fromReader(bytes.NewReader(buf), defaults)
}

// FromReader decodes and validates a JSON config. Fields that are absent keep their defaults;
// unknown fields are rejected.
func FromReader(r io.Reader) (*Config, error) {
	return fromReader(r, Default(0))
}

func fromReader(r io.Reader, cfg Config) (*Config, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config from json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

// FromAttributes decodes an attribute map keyed by the JSON field names. Values absent from the
// map keep their defaults; unknown keys are rejected.
func FromAttributes(attributes map[string]interface{}) (*Config, error) {
	cfg := Default(0)
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:  "json",
		Squash:   true,
		Result:   &cfg,
		Metadata: &md,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(registration.ErrInvalidInput, err.Error())
	}
	if len(md.Unused) > 0 {
		sort.Strings(md.Unused)
		return nil, errors.Wrapf(registration.ErrInvalidInput, "unknown attributes: %s", strings.Join(md.Unused, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
