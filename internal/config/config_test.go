package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoadTOMLConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "resolver config",
			content: `
[resolver]
project_manifest = "app/package.json"
fields = ["browser", "react-native"]
global_field = "rn-globals"
timeout = "3s"
`,
			check: func(t *testing.T, cfg *Config) {
				want := ResolverConfig{
					ProjectManifest: "app/package.json",
					Fields:          []string{"browser", "react-native"},
					GlobalField:     "rn-globals",
					Timeout:         Duration{3 * time.Second},
				}
				if diff := cmp.Diff(want, cfg.Resolver); diff != "" {
					t.Errorf("resolver mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name: "cache and log config",
			content: `
[cache]
file = ".pkgres/cache.json"

[log]
level = "debug"
format = "json"
`,
			check: func(t *testing.T, cfg *Config) {
				if cfg.Cache.File != ".pkgres/cache.json" {
					t.Errorf("cache.file = %q", cfg.Cache.File)
				}
				if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
					t.Errorf("log = %+v", cfg.Log)
				}
			},
		},
		{
			name:    "empty file keeps defaults",
			content: ``,
			check: func(t *testing.T, cfg *Config) {
				if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
					t.Errorf("config mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "invalid TOML",
			content: `[resolver`,
			wantErr: true,
		},
		{
			name: "invalid duration",
			content: `[resolver]
timeout = "soon"
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), ConfigTOML)
			writeFile(t, path, tt.content)

			cfg, err := LoadTOMLConfig(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadTOMLConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadStarlarkConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr error
		anyErr  bool
	}{
		{
			name: "full config",
			content: `
def configure():
    return {
        "resolver": {
            "fields": ["browser", "react-native"],
            "project_manifest": "./package.json",
            "timeout": "2s",
        },
        "cache": {"file": "/tmp/pkgres.json"},
        "log": {"level": "warn"},
    }
`,
			check: func(t *testing.T, cfg *Config) {
				if diff := cmp.Diff([]string{"browser", "react-native"}, cfg.Resolver.Fields); diff != "" {
					t.Errorf("fields mismatch (-want +got):\n%s", diff)
				}
				if cfg.Resolver.Timeout.Duration != 2*time.Second {
					t.Errorf("timeout = %v, want 2s", cfg.Resolver.Timeout.Duration)
				}
				if cfg.Resolver.GlobalField != "global-react-native" {
					t.Errorf("global_field = %q, want default", cfg.Resolver.GlobalField)
				}
				if cfg.Cache.File != "/tmp/pkgres.json" {
					t.Errorf("cache.file = %q", cfg.Cache.File)
				}
				if cfg.Log.Level != "warn" {
					t.Errorf("log.level = %q, want warn", cfg.Log.Level)
				}
			},
		},
		{
			name: "getenv and host_os",
			content: `
def configure():
    level = getenv("PKGRES_TEST_LEVEL", "info")
    fields = ["react-native"] if host_os != "" else []
    return {"log": {"level": level}, "resolver": {"fields": fields}}
`,
			env: map[string]string{"PKGRES_TEST_LEVEL": "debug"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Log.Level != "debug" {
					t.Errorf("log.level = %q, want debug", cfg.Log.Level)
				}
				if diff := cmp.Diff([]string{"react-native"}, cfg.Resolver.Fields); diff != "" {
					t.Errorf("fields mismatch (-want +got):\n%s", diff)
				}
			},
		},
		{
			name:    "missing configure",
			content: `x = 1`,
			wantErr: ErrConfigureNotFound,
		},
		{
			name: "configure returns list",
			content: `
def configure():
    return []
`,
			wantErr: ErrConfigureReturnType,
		},
		{
			name: "section of wrong type",
			content: `
def configure():
    return {"resolver": "browser"}
`,
			anyErr: true,
		},
		{
			name: "field of wrong type",
			content: `
def configure():
    return {"resolver": {"fields": [1]}}
`,
			anyErr: true,
		},
		{
			name:    "syntax error",
			content: `def configure(:`,
			anyErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(t.TempDir(), ConfigStar)
			writeFile(t, path, tt.content)

			cfg, err := LoadStarlarkConfig(path, DefaultStarlarkTimeout)
			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("LoadStarlarkConfig() error = %v, want %v", err, tt.wantErr)
				}
			case tt.anyErr:
				if err == nil {
					t.Fatal("LoadStarlarkConfig() succeeded, want error")
				}
			default:
				if err != nil {
					t.Fatalf("LoadStarlarkConfig() error = %v", err)
				}
				tt.check(t, cfg)
			}
		})
	}
}

func TestStarlarkTimeout(t *testing.T) {
	content := `
def configure():
    while True:
        pass
    return {}
`
	path := filepath.Join(t.TempDir(), ConfigStar)
	writeFile(t, path, content)

	start := time.Now()
	_, err := LoadStarlarkConfig(path, 100*time.Millisecond)
	elapsed := time.Since(start)

	if err == nil {
		t.Error("expected timeout error, got nil")
	}
	if elapsed > 2*time.Second {
		t.Errorf("timeout took too long: %v", elapsed)
	}
}

func TestDiscoverConfig(t *testing.T) {
	t.Setenv(EnvConfig, "")

	t.Run("walks up to parent", func(t *testing.T) {
		root := t.TempDir()
		if err := os.Mkdir(filepath.Join(root, ".git"), 0o755); err != nil {
			t.Fatal(err)
		}
		writeFile(t, filepath.Join(root, ConfigTOML), "[log]\nlevel = \"error\"\n")
		child := filepath.Join(root, "packages", "app")
		if err := os.MkdirAll(child, 0o755); err != nil {
			t.Fatal(err)
		}

		cfg, path, err := DiscoverConfig(child)
		if err != nil {
			t.Fatalf("DiscoverConfig() error = %v", err)
		}
		if path != filepath.Join(root, ConfigTOML) {
			t.Errorf("path = %q, want %q", path, filepath.Join(root, ConfigTOML))
		}
		if cfg.Log.Level != "error" {
			t.Errorf("log.level = %q, want error", cfg.Log.Level)
		}
	})

	t.Run("stops at git root", func(t *testing.T) {
		outer := t.TempDir()
		writeFile(t, filepath.Join(outer, ConfigTOML), "[log]\nlevel = \"error\"\n")
		repo := filepath.Join(outer, "repo")
		if err := os.MkdirAll(filepath.Join(repo, ".git"), 0o755); err != nil {
			t.Fatal(err)
		}

		cfg, path, err := DiscoverConfig(repo)
		if err != nil {
			t.Fatalf("DiscoverConfig() error = %v", err)
		}
		if path != "" {
			t.Errorf("path = %q, want none", path)
		}
		if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
			t.Errorf("config mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("conflict", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, ConfigTOML), "")
		writeFile(t, filepath.Join(dir, ConfigStar), "def configure():\n    return {}\n")

		if _, _, err := DiscoverConfig(dir); !errors.Is(err, ErrConflict) {
			t.Errorf("DiscoverConfig() error = %v, want ErrConflict", err)
		}
	})
}

func TestDiscoverConfigEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.star")
	writeFile(t, path, `def configure():
    return {"cache": {"file": "from-env.json"}}
`)
	t.Setenv(EnvConfig, path)

	other := t.TempDir()
	writeFile(t, filepath.Join(other, ConfigTOML), "[cache]\nfile = \"local.json\"\n")

	cfg, found, err := DiscoverConfig(other)
	if err != nil {
		t.Fatalf("DiscoverConfig() error = %v", err)
	}
	if found != path {
		t.Errorf("found = %q, want %q", found, path)
	}
	if cfg.Cache.File != "from-env.json" {
		t.Errorf("cache.file = %q, want from-env.json", cfg.Cache.File)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	badFormat := filepath.Join(dir, "bad.toml")
	writeFile(t, badFormat, "[log]\nformat = \"xml\"\n")
	if _, err := LoadConfig(badFormat); err == nil {
		t.Error("LoadConfig() accepted log.format = xml")
	}

	if _, err := LoadConfig(filepath.Join(dir, "pkgres.yaml")); err == nil {
		t.Error("LoadConfig() accepted unsupported extension")
	}

	good := filepath.Join(dir, "good.star")
	writeFile(t, good, "def configure():\n    return {}\n")
	if _, err := LoadConfig(good); err != nil {
		t.Errorf("LoadConfig() error = %v", err)
	}
}

func TestConfigMerge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(&Config{
		Resolver: ResolverConfig{Fields: []string{"react-native"}},
		Cache:    CacheConfig{File: "c.json"},
		Log:      LogConfig{Level: "debug"},
	})
	cfg.Merge(nil)

	want := DefaultConfig()
	want.Resolver.Fields = []string{"react-native"}
	want.Cache.File = "c.json"
	want.Log.Level = "debug"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestDuration(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 1m30s", d.Duration)
	}
	text, err := d.MarshalText()
	if err != nil || string(text) != "1m30s" {
		t.Errorf("MarshalText() = %q, %v", text, err)
	}
	if err := d.UnmarshalText(nil); err != nil || d.Duration != 0 {
		t.Errorf("UnmarshalText(nil) = %v, %v", d.Duration, err)
	}
}
