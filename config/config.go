// Package config loads the migrator configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/platforma-dev/migrator/log"
	"github.com/platforma-dev/migrator/render"
)

// RelativePath is the location of the configuration file below the XDG config directories.
const RelativePath = "migrator/config.yaml"

// Config is the migrator configuration.
type Config struct {
	Database       Database   `yaml:"database"`
	Migrations     Migrations `yaml:"migrations"`
	History        History    `yaml:"history"`
	ProductVersion string     `yaml:"product_version"`
	Log            Log        `yaml:"log"`
	Status         Status     `yaml:"status"`

	path string
}

// Database selects the target database.
type Database struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Migrations locates SQL migration files.
type Migrations struct {
	Dir string `yaml:"dir"`
}

// History configures the history table.
type History struct {
	Table string `yaml:"table"`
}

// Log configures logging. Type is one of text, json or tint.
type Log struct {
	Type  string `yaml:"type"`
	Level string `yaml:"level"`
}

// Status configures the periodic pending-migration check and its HTTP endpoint.
type Status struct {
	Schedule string `yaml:"schedule"`
	Address  string `yaml:"address"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database:       Database{Driver: "postgres"},
		Migrations:     Migrations{Dir: "migrations"},
		History:        History{Table: "migrations_history"},
		ProductVersion: "dev",
		Log:            Log{Type: "text", Level: "info"},
		Status:         Status{Schedule: "*/5 * * * *", Address: ":9090"},
	}
}

// DefaultPath returns the first existing configuration file in the XDG config
// directories, or "" when there is none.
func DefaultPath() string {
	path, err := xdg.SearchConfigFile(RelativePath)
	if err != nil {
		return ""
	}
	return path
}

// Load reads the configuration at path over the defaults. An empty path
// searches the XDG config directories; a missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed reading configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed parsing configuration file %s: %w", path, err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration file %s: %w", path, err)
	}

	return cfg, nil
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// Validate checks the values that can be checked without connecting anywhere.
func (c *Config) Validate() error {
	if _, err := render.DialectFor(c.Database.Driver); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}

	switch c.Log.Type {
	case "text", "json", "tint":
	default:
		return fmt.Errorf("log.type: unknown logger type %q", c.Log.Type)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}
