// Package pkgres implements the pkgres command, which reports how package.json
// manifests resolve their main module and redirect requires.
package pkgres

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/albertocavalcante/pkgres/internal/cache"
	"github.com/albertocavalcante/pkgres/internal/cli"
	"github.com/albertocavalcante/pkgres/internal/config"
	"github.com/albertocavalcante/pkgres/internal/fastfs"
	"github.com/albertocavalcante/pkgres/internal/logging"
	"github.com/albertocavalcante/pkgres/internal/pkg"
	"github.com/albertocavalcante/pkgres/internal/version"
)

const prog = "pkgres"

// Run executes pkgres with the given arguments.
// Returns exit code.
func Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return RunWithIO(ctx, args, os.Stdin, os.Stdout, os.Stderr)
}

// RunWithIO allows custom IO for embedding/testing.
func RunWithIO(ctx context.Context, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	var (
		root        string
		configPath  string
		cacheFile   string
		jsonOutput  bool
		verbose     bool
		versionFlag bool
	)

	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&root, "root", ".", "project root; the project manifest is read relative to it")
	fs.StringVar(&configPath, "config", "", "config file (default: discover pkgres.star or pkgres.toml)")
	fs.StringVar(&cacheFile, "cache", "", "persist derived facts to this file (overrides cache.file)")
	fs.BoolVar(&jsonOutput, "json", false, "write results as JSON")
	fs.BoolVar(&verbose, "v", false, "log at debug level")
	fs.BoolVar(&versionFlag, "version", false, "print version and exit")

	e := &env{}
	cmds := e.commands(ctx)

	fs.Usage = func() {
		cli.Usage(stderr, prog, cmds)
		cli.Writeln(stderr)
		cli.Writeln(stderr, "Flags:")
		fs.PrintDefaults()
		cli.Write(stderr, examples)
	}

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return cli.ExitOK
		}
		return cli.ExitError
	}

	if versionFlag {
		cli.Writef(stdout, "%s %s\n", prog, version.String())
		return cli.ExitOK
	}
	e.json = jsonOutput

	flagConfig := &config.Config{Cache: config.CacheConfig{File: cacheFile}}
	if verbose {
		flagConfig.Log.Level = "debug"
	}

	if err := e.setup(root, configPath, flagConfig, stderr); err != nil {
		cli.Writef(stderr, "%s: %v\n", prog, err)
		return cli.ExitError
	}
	defer e.close()

	return cli.Dispatch(prog, cmds, fs.Args(), stdout, stderr)
}

// env holds the state shared by subcommands.
type env struct {
	json bool

	cfg       *config.Config
	logger    *zap.Logger
	disk      *fastfs.Disk
	store     *cache.Store
	registry  *pkg.Registry
	cacheFile string
}

const examples = `
Examples:
  pkgres main node_modules/left-pad                # Resolved main module
  pkgres redirect . ./lib/node.js fs               # Apply browser overrides
  pkgres -json overrides node_modules/readable-stream
`

// setup loads configuration, applies flag overrides on top of it and builds
// the shared registry.
func (e *env) setup(root, configPath string, flagConfig *config.Config, stderr io.Writer) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}

	var cfg *config.Config
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, _, err = config.DiscoverConfig(absRoot)
	}
	if err != nil {
		return err
	}
	cfg.Merge(flagConfig)

	logger, err := logging.New(cfg.Log, stderr)
	if err != nil {
		return err
	}

	e.cfg = cfg
	e.logger = logger
	e.disk = fastfs.NewDisk(absRoot)
	e.store = cache.New()
	e.registry = pkg.NewRegistry(e.disk, e.store,
		pkg.WithProjectManifest(cfg.Resolver.ProjectManifest),
		pkg.WithOverrideFields(cfg.Resolver.Fields...),
		pkg.WithGlobalField(cfg.Resolver.GlobalField),
		pkg.WithLogger(logger),
	)

	if cfg.Cache.File != "" {
		e.cacheFile = e.disk.Abs(cfg.Cache.File)
		n, err := e.store.Load(e.cacheFile, e.fresh)
		if err != nil {
			logger.Warn("ignoring cache file", zap.String("path", e.cacheFile), zap.Error(err))
		} else {
			logger.Debug("loaded cache", zap.String("path", e.cacheFile), zap.Int("entries", n))
		}
	}
	return nil
}

// fresh accepts cached facts for manifests not modified since the facts were
// computed.
func (e *env) fresh(key string, computedAt time.Time) bool {
	mt, err := e.disk.ModTime(key)
	return err == nil && !mt.After(computedAt)
}

func (e *env) close() {
	if e.cacheFile != "" {
		if err := e.store.Save(e.cacheFile); err != nil {
			e.logger.Warn("saving cache", zap.String("path", e.cacheFile), zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

func (e *env) commands(ctx context.Context) []cli.Command {
	return []cli.Command{
		{
			Name:    "main",
			Summary: "print the resolved main module of a package",
			Run: func(args []string, stdout, stderr io.Writer) error {
				return e.runMain(ctx, args, stdout, stderr)
			},
		},
		{
			Name:    "redirect",
			Summary: "apply override tables to require specifiers",
			Run: func(args []string, stdout, stderr io.Writer) error {
				return e.runRedirect(ctx, args, stdout, stderr)
			},
		},
		{
			Name:    "name",
			Summary: "print the package name and whether it is a haste package",
			Run: func(args []string, stdout, stderr io.Writer) error {
				return e.runName(ctx, args, stdout, stderr)
			},
		},
		{
			Name:    "overrides",
			Summary: "print the merged override table used for requires",
			Run: func(args []string, stdout, stderr io.Writer) error {
				return e.runOverrides(ctx, args, stdout, stderr)
			},
		},
		{
			Name:    "watch",
			Summary: "print main modules again whenever their manifests change",
			Run: func(args []string, stdout, stderr io.Writer) error {
				return e.runWatch(ctx, args, stdout, stderr)
			},
		},
	}
}

// resolveContext bounds a single resolution by the configured timeout.
func (e *env) resolveContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := e.cfg.Resolver.Timeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// manifestPath turns a file or directory argument into an absolute,
// slash-separated manifest path.
func manifestPath(arg string) (string, error) {
	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		abs = filepath.Join(abs, "package.json")
	}
	return filepath.ToSlash(abs), nil
}

func newFlagSet(name, usage string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		cli.Writef(stderr, "Usage: %s %s %s\n", prog, name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// parse parses subcommand flags. Help exits successfully.
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return cli.ExitCodeError(cli.ExitOK)
		}
		return cli.ExitCodeError(cli.ExitError)
	}
	return nil
}

func (e *env) writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cli.WriteBytes(w, append(data, '\n'))
	return nil
}

type mainResult struct {
	Manifest string     `json:"manifest"`
	Main     pkg.Target `json:"main"`
}

func (e *env) runMain(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("main", "[-expect path] <manifest>", stderr)
	expect := fs.String("expect", "", "exit with a warning if the main module differs")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cli.ExitCodeError(cli.ExitError)
	}

	path, err := manifestPath(fs.Arg(0))
	if err != nil {
		return err
	}
	main, err := e.main(ctx, e.registry.Get(path))
	if err != nil {
		return err
	}

	if e.json {
		err = e.writeJSON(stdout, mainResult{Manifest: path, Main: main})
	} else {
		cli.Writeln(stdout, main.String())
	}
	if err != nil {
		return err
	}

	if *expect != "" && *expect != main.String() {
		cli.Writef(stderr, "%s main: %s resolves to %s, expected %s\n", prog, path, main, *expect)
		return cli.ExitCodeError(cli.ExitWarning)
	}
	return nil
}

func (e *env) main(ctx context.Context, p *pkg.Package) (pkg.Target, error) {
	ctx, cancel := e.resolveContext(ctx)
	defer cancel()
	return p.Main(ctx)
}

type redirectResult struct {
	Specifier string     `json:"specifier"`
	Target    pkg.Target `json:"target"`
}

func (e *env) runRedirect(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("redirect", "<manifest> <specifier>...", stderr)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return cli.ExitCodeError(cli.ExitError)
	}

	path, err := manifestPath(fs.Arg(0))
	if err != nil {
		return err
	}
	p := e.registry.Get(path)

	ctx, cancel := e.resolveContext(ctx)
	defer cancel()

	results := make([]redirectResult, 0, fs.NArg()-1)
	for _, spec := range fs.Args()[1:] {
		target, err := p.RedirectRequire(ctx, spec)
		if err != nil {
			return err
		}
		results = append(results, redirectResult{Specifier: spec, Target: target})
	}

	if e.json {
		return e.writeJSON(stdout, results)
	}
	for _, r := range results {
		cli.Writef(stdout, "%s -> %s\n", r.Specifier, r.Target)
	}
	return nil
}

type nameResult struct {
	Manifest string `json:"manifest"`
	Name     string `json:"name"`
	Haste    bool   `json:"haste"`
}

func (e *env) runName(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("name", "<manifest>", stderr)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cli.ExitCodeError(cli.ExitError)
	}

	path, err := manifestPath(fs.Arg(0))
	if err != nil {
		return err
	}
	p := e.registry.Get(path)

	ctx, cancel := e.resolveContext(ctx)
	defer cancel()

	name, err := p.Name(ctx)
	if err != nil {
		return err
	}
	haste, err := p.IsHaste(ctx)
	if err != nil {
		return err
	}

	if e.json {
		return e.writeJSON(stdout, nameResult{Manifest: path, Name: name, Haste: haste})
	}
	cli.Writef(stdout, "name: %s\nhaste: %t\n", name, haste)
	return nil
}

func (e *env) runOverrides(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("overrides", "<manifest>", stderr)
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cli.ExitCodeError(cli.ExitError)
	}

	path, err := manifestPath(fs.Arg(0))
	if err != nil {
		return err
	}
	p := e.registry.Get(path)

	ctx, cancel := e.resolveContext(ctx)
	defer cancel()

	table, err := p.RequireOverrides(ctx)
	if err != nil {
		return err
	}

	if e.json {
		return e.writeJSON(stdout, table)
	}
	for _, k := range table.Keys() {
		cli.Writef(stdout, "%s -> %s\n", k, table[k])
	}
	return nil
}

func (e *env) runWatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("watch", "[-n count] <manifest>...", stderr)
	limit := fs.Int("n", 0, "exit after this many changes (0: until interrupted)")
	if err := parse(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return cli.ExitCodeError(cli.ExitError)
	}

	w, err := fastfs.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	project := e.cfg.Resolver.ProjectManifest
	if err := w.Add(project, e.disk.Abs(project)); err != nil {
		return err
	}
	for _, arg := range fs.Args() {
		path, err := manifestPath(arg)
		if err != nil {
			return err
		}
		if err := w.Add(path, filepath.FromSlash(path)); err != nil {
			return err
		}
		p := e.registry.Get(path)
		if err := e.printMain(ctx, stdout, p); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-w.Errors:
				e.logger.Warn("watch error", zap.Error(err))
			}
		}
	}()

	changes := 0
	e.registry.Watch(ctx, w.Events, func(changed string) {
		for _, path := range e.registry.Paths() {
			if changed != project && changed != path {
				continue
			}
			if err := e.printMain(ctx, stdout, e.registry.Get(path)); err != nil {
				cli.Writef(stderr, "%s watch: %v\n", prog, err)
			}
		}
		changes++
		if *limit > 0 && changes >= *limit {
			cancel()
		}
	})
	return nil
}

func (e *env) printMain(ctx context.Context, w io.Writer, p *pkg.Package) error {
	main, err := e.main(ctx, p)
	if err != nil {
		return err
	}
	if e.json {
		return e.writeJSON(w, mainResult{Manifest: p.Path(), Main: main})
	}
	cli.Writef(w, "%s: %s\n", p.Path(), main)
	return nil
}
