package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"go.starlark.net/starlark"
)

// DefaultStarlarkTimeout is the default execution timeout for Starlark config files.
const DefaultStarlarkTimeout = 5 * time.Second

// ErrConfigureNotFound is returned when pkgres.star doesn't define a configure() function.
var ErrConfigureNotFound = errors.New("pkgres.star must define a configure() function")

// ErrConfigureReturnType is returned when configure() doesn't return a dict.
var ErrConfigureReturnType = errors.New("configure() must return a dict")

// LoadStarlarkConfig loads a configuration from a Starlark file.
// The file must define a configure() function that returns a dict.
// The execution is sandboxed: no filesystem or network access, with a timeout.
func LoadStarlarkConfig(path string, timeout time.Duration) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	thread := &starlark.Thread{Name: path}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel("execution timeout")
		case <-done:
		}
	}()
	defer close(done)

	globals, err := starlark.ExecFile(thread, path, data, configPredeclared())
	if err != nil {
		return nil, fmt.Errorf("executing config %s: %w", path, err)
	}

	configureFn, ok := globals["configure"]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrConfigureNotFound)
	}
	fn, ok := configureFn.(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("%s: configure must be a function, got %s", path, configureFn.Type())
	}

	result, err := starlark.Call(thread, fn, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: calling configure(): %w", path, err)
	}

	dict, ok := result.(*starlark.Dict)
	if !ok {
		return nil, fmt.Errorf("%s: %w, got %s", path, ErrConfigureReturnType, result.Type())
	}

	return dictToConfig(dict)
}

// configPredeclared returns the sandboxed predeclared values for config files.
func configPredeclared() starlark.StringDict {
	return starlark.StringDict{
		"getenv":    starlark.NewBuiltin("getenv", builtinGetenv),
		"host_os":   starlark.String(runtime.GOOS),
		"host_arch": starlark.String(runtime.GOARCH),
	}
}

// builtinGetenv implements getenv(name, default="") -> string.
func builtinGetenv(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultVal starlark.String
	if err := starlark.UnpackArgs("getenv", args, kwargs, "name", &name, "default?", &defaultVal); err != nil {
		return nil, err
	}

	val := os.Getenv(name)
	if val == "" {
		return defaultVal, nil
	}
	return starlark.String(val), nil
}

// dictToConfig converts a Starlark dict to a Config struct.
func dictToConfig(d *starlark.Dict) (*Config, error) {
	cfg := DefaultConfig()

	sections := []struct {
		name  string
		parse func(*starlark.Dict, *Config) error
	}{
		{"resolver", parseResolverConfig},
		{"cache", parseCacheConfig},
		{"log", parseLogConfig},
	}
	for _, s := range sections {
		v, found, _ := d.Get(starlark.String(s.name))
		if !found {
			continue
		}
		section, ok := v.(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s must be a dict, got %s", s.name, v.Type())
		}
		if err := s.parse(section, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}

func parseResolverConfig(d *starlark.Dict, cfg *Config) error {
	if err := stringField(d, "project_manifest", &cfg.Resolver.ProjectManifest); err != nil {
		return err
	}
	if err := stringField(d, "global_field", &cfg.Resolver.GlobalField); err != nil {
		return err
	}

	if v, found, _ := d.Get(starlark.String("fields")); found {
		list, ok := v.(*starlark.List)
		if !ok {
			return fmt.Errorf("fields must be a list, got %s", v.Type())
		}
		cfg.Resolver.Fields = nil
		for i := 0; i < list.Len(); i++ {
			s, ok := starlark.AsString(list.Index(i))
			if !ok {
				return fmt.Errorf("fields[%d] must be a string", i)
			}
			cfg.Resolver.Fields = append(cfg.Resolver.Fields, s)
		}
	}

	var timeout string
	if err := stringField(d, "timeout", &timeout); err != nil {
		return err
	}
	if timeout != "" {
		dur, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
		cfg.Resolver.Timeout = Duration{dur}
	}
	return nil
}

func parseCacheConfig(d *starlark.Dict, cfg *Config) error {
	return stringField(d, "file", &cfg.Cache.File)
}

func parseLogConfig(d *starlark.Dict, cfg *Config) error {
	if err := stringField(d, "level", &cfg.Log.Level); err != nil {
		return err
	}
	return stringField(d, "format", &cfg.Log.Format)
}

// stringField copies d[key] into dst when present.
func stringField(d *starlark.Dict, key string, dst *string) error {
	v, found, _ := d.Get(starlark.String(key))
	if !found {
		return nil
	}
	s, ok := starlark.AsString(v)
	if !ok {
		return fmt.Errorf("%s must be a string, got %s", key, v.Type())
	}
	*dst = s
	return nil
}
