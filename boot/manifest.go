package boot

import (
	"io/ioutil"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Manifest describes what a hosted instance boots with.
//
//	[memory]
//	total = 1073741824
//	max_process = 67108864
//
//	[[process]]
//	native = "console"
//
//	[[process]]
//	name = "hello"
//	path = "hello.wasm"
//
//	[[interrupt]]
//	class = "timer"
//	interval = "100ms"
type Manifest struct {
	Memory     MemorySection    `toml:"memory"`
	Processes  []ProcessEntry   `toml:"process"`
	Interrupts []InterruptEntry `toml:"interrupt"`
}

type MemorySection struct {
	Total      uint64 `toml:"total"`
	MaxProcess uint64 `toml:"max_process"`
}

// ProcessEntry is either a wasm image on disk or one of the native
// providers, "console" or "random".
type ProcessEntry struct {
	Name   string `toml:"name"`
	Path   string `toml:"path"`
	Native string `toml:"native"`
}

// InterruptEntry raises an interrupt of Class every Interval.
type InterruptEntry struct {
	Class    string `toml:"class"`
	Interval string `toml:"interval"`

	period time.Duration
}

func (e *InterruptEntry) Period() time.Duration {
	return e.period
}

var ErrBadManifest = errors.New("bad manifest")

// ParseManifest decodes a manifest. Relative image paths are resolved
// against dir.
func ParseManifest(data []byte, dir string) (*Manifest, error) {
	var m Manifest

	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}

	for i := range m.Processes {
		p := &m.Processes[i]

		switch {
		case p.Native != "" && p.Path != "":
			return nil, errors.Wrapf(ErrBadManifest, "process %d has both native and path", i)
		case p.Native != "":
			if _, ok := natives[p.Native]; !ok {
				return nil, errors.Wrapf(ErrBadManifest, "unknown native program %q", p.Native)
			}
		case p.Path != "":
			if !filepath.IsAbs(p.Path) {
				p.Path = filepath.Join(dir, p.Path)
			}
		default:
			return nil, errors.Wrapf(ErrBadManifest, "process %d has neither native nor path", i)
		}
	}

	for i := range m.Interrupts {
		e := &m.Interrupts[i]

		if e.Class == "" {
			return nil, errors.Wrapf(ErrBadManifest, "interrupt %d has no class", i)
		}

		d, err := time.ParseDuration(e.Interval)
		if err != nil {
			return nil, errors.Wrapf(ErrBadManifest, "interrupt %s: %s", e.Class, err)
		}

		if d <= 0 {
			return nil, errors.Wrapf(ErrBadManifest, "interrupt %s: interval must be positive", e.Class)
		}

		e.period = d
	}

	return &m, nil
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseManifest(data, filepath.Dir(path))
}
