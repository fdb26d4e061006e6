// Package cmdtest provides a testscript-based test harness for the pkgres CLI.
//
// It uses txtar format test files to specify input files and expected outputs,
// making it easy to write end-to-end CLI tests.
//
// Example test file (testdata/pkgres/browser_main.txtar):
//
//	# The browser string replaces main
//	exec pkgres main node_modules/widget
//	stdout '/node_modules/widget/browser.js$'
//
//	-- package.json --
//	{}
//	-- node_modules/widget/package.json --
//	{"main": "node.js", "browser": "./browser.js"}
package cmdtest

import (
	"os"
	"testing"

	"github.com/rogpeppe/go-internal/testscript"

	"github.com/albertocavalcante/pkgres/internal/cmd/pkgres"
)

// Run executes the testscript tests in the given directory.
func Run(t *testing.T, dir string) {
	testscript.Run(t, testscript.Params{
		Dir: dir,
		Setup: func(env *testscript.Env) error {
			// Keep a config from the caller's environment out of the scripts.
			env.Setenv("PKGRES_CONFIG", "")
			return nil
		},
	})
}

// Main is the TestMain function that should be called from test files.
// It registers pkgres as a testscript command.
func Main(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"pkgres": wrapRun(pkgres.Run),
	}))
}

// wrapRun wraps a Run(args []string) int function to func() int for testscript.
// The args are taken from os.Args[1:].
func wrapRun(run func(args []string) int) func() int {
	return func() int {
		return run(os.Args[1:])
	}
}
