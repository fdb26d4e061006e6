// Package config loads pkgres configuration.
//
// Two formats are supported:
//   - pkgres.star: Starlark configuration whose configure() returns a dict
//   - pkgres.toml: declarative TOML configuration
//
// Configuration files are discovered by walking up from the working directory
// (stopping at the git root), or named explicitly through PKGRES_CONFIG or the
// -config flag.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config file names in priority order.
const (
	// ConfigStar is the Starlark config filename.
	ConfigStar = "pkgres.star"
	// ConfigTOML is the TOML config filename.
	ConfigTOML = "pkgres.toml"
)

// EnvConfig is the environment variable for specifying config file path.
const EnvConfig = "PKGRES_CONFIG"

// ErrConflict is returned when multiple config files exist in the same directory.
var ErrConflict = errors.New("multiple config files found in the same directory; use only one")

// Config represents the pkgres configuration.
type Config struct {
	// Resolver controls how manifests are read and which override fields apply.
	Resolver ResolverConfig `json:"resolver" toml:"resolver"`

	// Cache controls the persisted derived-fact cache.
	Cache CacheConfig `json:"cache" toml:"cache"`

	// Log controls logging.
	Log LogConfig `json:"log" toml:"log"`
}

// ResolverConfig configures package resolution.
type ResolverConfig struct {
	// ProjectManifest is the project-root manifest holding global overrides,
	// relative to the project root.
	ProjectManifest string `json:"project_manifest" toml:"project_manifest"`

	// Fields are the manifest fields read for overrides, lowest precedence first.
	Fields []string `json:"fields" toml:"fields"`

	// GlobalField is the project manifest field with project-wide overrides.
	GlobalField string `json:"global_field" toml:"global_field"`

	// Timeout bounds a single resolution (e.g., "10s").
	Timeout Duration `json:"timeout" toml:"timeout"`
}

// CacheConfig configures cache persistence.
type CacheConfig struct {
	// File is where derived facts are persisted between runs. Empty disables
	// persistence.
	File string `json:"file" toml:"file"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `json:"level" toml:"level"`

	// Format is "console", "json", or "auto" (console on a terminal).
	Format string `json:"format" toml:"format"`
}

// Duration wraps time.Duration for TOML/JSON string parsing.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	if d.Duration == 0 {
		return nil, nil
	}
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Resolver: ResolverConfig{
			ProjectManifest: "./package.json",
			Fields:          []string{"browserify", "browser", "react-native"},
			GlobalField:     "global-react-native",
			Timeout:         Duration{10 * time.Second},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Validate checks field values that cannot be expressed by types alone.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "auto", "console", "json":
	default:
		return fmt.Errorf("log.format must be auto, console, or json, got %q", c.Log.Format)
	}
	for i, f := range c.Resolver.Fields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("resolver.fields[%d] is empty", i)
		}
	}
	if c.Resolver.Timeout.Duration < 0 {
		return fmt.Errorf("resolver.timeout must not be negative")
	}
	return nil
}

// LoadConfig loads configuration from the specified path.
// The format is auto-detected based on file extension.
// Returns an error if the file doesn't exist or cannot be parsed.
func LoadConfig(path string) (*Config, error) {
	var (
		cfg *Config
		err error
	)
	switch ext := filepath.Ext(path); ext {
	case ".toml":
		cfg, err = LoadTOMLConfig(path)
	case ".star":
		cfg, err = LoadStarlarkConfig(path, DefaultStarlarkTimeout)
	default:
		return nil, fmt.Errorf("unsupported config file extension: %s (expected .star or .toml)", ext)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// DiscoverConfig searches for a configuration file.
//
// Resolution order:
//  1. If PKGRES_CONFIG is set, use that path
//  2. Walk up from startDir looking for pkgres.star or pkgres.toml
//
// If both files exist in the same directory, an error is returned.
// Returns the loaded config, the path to the config file, and any error.
// If no config is found, returns (DefaultConfig(), "", nil).
func DiscoverConfig(startDir string) (*Config, string, error) {
	if envPath := os.Getenv(EnvConfig); envPath != "" {
		cfg, err := LoadConfig(envPath)
		if err != nil {
			return nil, "", fmt.Errorf("loading config from %s: %w", EnvConfig, err)
		}
		return cfg, envPath, nil
	}

	if startDir == "" {
		var err error
		startDir, err = os.Getwd()
		if err != nil {
			return nil, "", fmt.Errorf("getting working directory: %w", err)
		}
	}

	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, "", fmt.Errorf("resolving path: %w", err)
	}

	gitRoot := findGitRoot(absDir)

	dir := absDir
	for {
		configPath, err := findConfigInDir(dir)
		if err != nil {
			return nil, "", err
		}
		if configPath != "" {
			cfg, err := LoadConfig(configPath)
			if err != nil {
				return nil, "", err
			}
			return cfg, configPath, nil
		}

		if gitRoot != "" && dir == gitRoot {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return DefaultConfig(), "", nil
}

// findConfigInDir returns the config file in dir, "" if there is none, or an
// error if there is more than one.
func findConfigInDir(dir string) (string, error) {
	starPath := filepath.Join(dir, ConfigStar)
	tomlPath := filepath.Join(dir, ConfigTOML)
	starExists := fileExists(starPath)
	tomlExists := fileExists(tomlPath)

	switch {
	case starExists && tomlExists:
		return "", fmt.Errorf("%w: found %s, %s in %s", ErrConflict, ConfigStar, ConfigTOML, dir)
	case starExists:
		return starPath, nil
	case tomlExists:
		return tomlPath, nil
	}
	return "", nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// findGitRoot finds the git repository root from a starting directory.
// Returns empty string if not in a git repository.
func findGitRoot(startDir string) string {
	dir := startDir
	for {
		if fileExists(filepath.Join(dir, ".git")) {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Merge merges the other config into this one.
// Non-zero values from other override values in c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Resolver.ProjectManifest != "" {
		c.Resolver.ProjectManifest = other.Resolver.ProjectManifest
	}
	if len(other.Resolver.Fields) > 0 {
		c.Resolver.Fields = append([]string(nil), other.Resolver.Fields...)
	}
	if other.Resolver.GlobalField != "" {
		c.Resolver.GlobalField = other.Resolver.GlobalField
	}
	if other.Resolver.Timeout.Duration != 0 {
		c.Resolver.Timeout = other.Resolver.Timeout
	}

	if other.Cache.File != "" {
		c.Cache.File = other.Cache.File
	}

	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
}
