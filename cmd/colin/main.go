// colin prints what the loader makes of wasm images: declared memory,
// entry points, imports, exports and optionally disassembly.
package main

import (
	"log"
	"os"

	"github.com/spf13/pflag"
	"github.com/vitali2y/redshirt/boundary"
	clog "github.com/vitali2y/redshirt/log"
	"github.com/vitali2y/redshirt/loader"
)

var (
	fVerbose = pflag.BoolP("verbose", "v", false, "dump raw structures")
	fCode    = pflag.BoolP("code", "c", false, "disassemble function bodies")
)

func main() {
	pflag.Parse()

	if *fVerbose {
		clog.EnableDebug()
	}

	w := boundary.NewWasmInterface(clog.L)
	l := loader.NewLoader(clog.L, w.EnvModule(), nil)

	for _, path := range pflag.Args() {
		mod, err := l.LoadFile(path)
		if err != nil {
			log.Fatal(err)
		}

		if err := dump(os.Stdout, mod, *fVerbose, *fCode); err != nil {
			log.Fatal(err)
		}
	}
}
