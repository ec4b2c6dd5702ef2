package log

import (
	"io"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// L is the process-wide fallback logger. Kernel instances take their own
// logger through their config and only fall back to L when none is given.
var L hclog.Logger

func init() {
	L = hclog.New(&hclog.LoggerOptions{
		Name: "redshirt",
	})
	L.SetLevel(hclog.Info)

	if str := os.Getenv("TRACE"); str != "" {
		L.SetLevel(hclog.Trace)
	}
}

// New returns a named logger writing to out at the given level. An
// unparseable level falls back to info.
func New(name, level string, out io.Writer) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}

	if os.Getenv("TRACE") != "" {
		lvl = hclog.Trace
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  lvl,
		Output: out,
	})
}
