package log

import (
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

func EnableDebug() {
	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
		return
	}

	L.SetLevel(hclog.Debug)
}

// Discard returns a logger that drops everything, used by tests that build
// many kernel instances.
func Discard() hclog.Logger {
	return hclog.NewNullLogger()
}
