package loader

import (
	"bytes"
	"encoding/base64"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-interpreter/wagon/disasm"
	"github.com/go-interpreter/wagon/validate"
	"github.com/go-interpreter/wagon/wasm"
	"github.com/go-interpreter/wagon/wasm/operators"
	hclog "github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/memory"
	"golang.org/x/crypto/blake2b"
)

// HostModule is the only module guests may import from.
const HostModule = "env"

const DefaultCacheSize = 100

var (
	ErrNoStart       = errors.New("no _start function defined")
	ErrForeignImport = errors.New("import from a module other than env")

	// A module that grows its memory must declare a maximum; the declared
	// size is what the kernel reserves for it.
	ErrUnboundedMemory = errors.New("grow_memory without a declared memory maximum")
)

type LoaderCache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewLoaderCache(size int) (*LoaderCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}

	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}

	return &LoaderCache{cache: cache}, nil
}

func (l *LoaderCache) Lookup(key string) (*Module, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	val, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*Module), true
}

func (l *LoaderCache) Set(key string, m *Module) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache.Add(key, m)
}

func (l *LoaderCache) Len() int {
	return l.cache.Len()
}

// Module is a decoded and validated image.
type Module struct {
	Name   string
	Hash   string
	Module *wasm.Module

	// Memory is the declared size of the linear memory in bytes.
	Memory uint64

	// Start and OnMessage are function indices; OnMessage is -1 when the
	// module does not export on_message.
	Start     int64
	OnMessage int64
}

type Loader struct {
	L     hclog.Logger
	cache *LoaderCache
	env   *wasm.Module
}

// NewLoader returns a loader resolving imports against env. Modules are
// cached when cache is non-nil; cached modules reference env, so a cache
// must not be shared between loaders with different host modules.
func NewLoader(L hclog.Logger, env *wasm.Module, cache *LoaderCache) *Loader {
	return &Loader{
		L:     L,
		cache: cache,
		env:   env,
	}
}

// Cached reports how many decoded modules the loader holds.
func (l *Loader) Cached() int {
	if l.cache == nil {
		return 0
	}

	return l.cache.Len()
}

func (l *Loader) LoadFile(path string) (*Module, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return l.Load(name, data)
}

func (l *Loader) Load(name string, data []byte) (*Module, error) {
	sum := blake2b.Sum256(data)
	cacheKey := base64.URLEncoding.EncodeToString(sum[:])

	if l.cache != nil {
		l.L.Debug("looking for cached module", "key", cacheKey)

		if mod, ok := l.cache.Lookup(cacheKey); ok {
			if mod.Name == name {
				return mod, nil
			}

			cp := *mod
			cp.Name = name
			return &cp, nil
		}
	}

	mod, err := l.decode(name, bytes.NewReader(data))
	if err != nil {
		return nil, &kernel.LoadError{Image: name, Err: err}
	}

	mod.Hash = cacheKey

	if l.cache != nil {
		l.L.Debug("cached module", "key", cacheKey)
		l.cache.Set(cacheKey, mod)
	}

	return mod, nil
}

func (l *Loader) decode(name string, r io.Reader) (*Module, error) {
	m, err := wasm.ReadModule(r, l.importer)
	if err != nil {
		return nil, err
	}

	err = validate.VerifyModule(m)
	if err != nil {
		return nil, err
	}

	if !hasMaximum(m) {
		grows, err := growsMemory(m)
		if err != nil {
			return nil, err
		}

		if grows {
			return nil, ErrUnboundedMemory
		}
	}

	mod := &Module{
		Name:      name,
		Module:    m,
		Memory:    DeclaredMemory(m),
		OnMessage: -1,
	}

	if m.Export == nil {
		return nil, ErrNoStart
	}

	entry, ok := m.Export.Entries["_start"]
	if !ok || entry.Kind != wasm.ExternalFunction {
		return nil, ErrNoStart
	}

	mod.Start = int64(entry.Index)

	if entry, ok := m.Export.Entries["on_message"]; ok && entry.Kind == wasm.ExternalFunction {
		mod.OnMessage = int64(entry.Index)
	}

	l.L.Debug("module-loaded", "name", name, "memory", mod.Memory, "functions", len(m.FunctionIndexSpace))

	return mod, nil
}

func (l *Loader) importer(name string) (*wasm.Module, error) {
	if name == HostModule {
		return l.env, nil
	}

	return nil, errors.Wrapf(ErrForeignImport, "module %q", name)
}

func hasMaximum(m *wasm.Module) bool {
	if m.Memory == nil || len(m.Memory.Entries) == 0 {
		return false
	}

	return m.Memory.Entries[0].Limits.Flags&0x1 != 0
}

// growsMemory reports whether any function of m executes grow_memory.
func growsMemory(m *wasm.Module) (bool, error) {
	for i, fn := range m.FunctionIndexSpace {
		if fn.IsHost() || fn.Body == nil {
			continue
		}

		d, err := disasm.NewDisassembly(fn, m)
		if err != nil {
			return false, errors.Wrapf(err, "disassembling function %d", i)
		}

		for _, instr := range d.Code {
			if instr.Op.Code == operators.GrowMemory {
				return true, nil
			}
		}
	}

	return false, nil
}

// DeclaredMemory is the size of the first linear memory: its maximum when
// one is declared, its initial size otherwise.
func DeclaredMemory(m *wasm.Module) uint64 {
	if m.Memory == nil || len(m.Memory.Entries) == 0 {
		return 0
	}

	lim := m.Memory.Entries[0].Limits

	pages := uint64(lim.Initial)
	if lim.Flags&0x1 != 0 {
		pages = uint64(lim.Maximum)
	}

	return pages * memory.WasmPageSize
}
