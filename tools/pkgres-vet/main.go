// pkgres-vet runs the static checks the pkgres tree is held to: unchecked
// errors, nil dereferences found by SSA, and writes to struct fields that are
// never read.
//
// Usage:
//
//	go run ./tools/pkgres-vet ./...
//	go vet -vettool=$(which pkgres-vet) ./...
package main

import (
	"github.com/kisielk/errcheck/errcheck"
	"golang.org/x/tools/go/analysis/multichecker"
	"golang.org/x/tools/go/analysis/passes/nilness"
	"golang.org/x/tools/go/analysis/passes/unusedwrite"
)

func main() {
	multichecker.Main(
		errcheck.Analyzer,
		nilness.Analyzer,
		unusedwrite.Analyzer,
	)
}
