// Command pkgres reports how package.json manifests resolve their main module
// and redirect requires through browser and react-native override maps.
package main

import (
	"os"

	"github.com/albertocavalcante/pkgres/internal/cmd/pkgres"
)

func main() {
	os.Exit(pkgres.Run(os.Args[1:]))
}
