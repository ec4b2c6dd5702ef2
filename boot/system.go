// Package boot assembles a hosted kernel instance from configuration and a
// manifest, and runs it.
package boot

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/do"
	"github.com/vitali2y/redshirt/boundary"
	"github.com/vitali2y/redshirt/config"
	"github.com/vitali2y/redshirt/iface"
	"github.com/vitali2y/redshirt/kernel"
	"github.com/vitali2y/redshirt/loader"
	"github.com/vitali2y/redshirt/log"
	"github.com/vitali2y/redshirt/memory"
	"github.com/vitali2y/redshirt/metrics"
	"github.com/vitali2y/redshirt/native"
	"github.com/vitali2y/redshirt/native/console"
	"github.com/vitali2y/redshirt/native/random"
)

type Options struct {
	// Destination of the console provider; stdout when nil.
	Console io.Writer

	// Entropy behind the randomness provider; crypto/rand when nil.
	Entropy io.Reader

	// Where log output goes; stderr when nil.
	LogOutput io.Writer

	// Called for every destroyed process, after the system's own
	// bookkeeping.
	OnExit func(kernel.ExitInfo)
}

var natives = map[string]func(o *Options) *native.Image{
	"console": func(o *Options) *native.Image { return console.Image(o.Console) },
	"random":  func(o *Options) *native.Image { return random.Image(o.Entropy) },
}

type System struct {
	ID uuid.UUID
	L  hclog.Logger

	Kernel   *kernel.Kernel
	Wasm     *boundary.WasmInterface
	Loader   *loader.Loader
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	injector *do.Injector
	manifest *Manifest
	opts     Options

	mu      sync.Mutex
	user    map[kernel.Pid]string
	allGone chan struct{}
	booted  bool
}

// New wires a system. Nothing runs until Boot and Run are called.
func New(cfg *config.Config, m *Manifest, opts Options) (*System, error) {
	if m == nil {
		m = &Manifest{}
	}

	c := *cfg
	if m.Memory.Total != 0 {
		c.TotalMemory = m.Memory.Total
	}
	if m.Memory.MaxProcess != 0 {
		c.MaxProcessMemory = m.Memory.MaxProcess
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	s := &System{
		ID:       uuid.New(),
		manifest: m,
		opts:     opts,
		user:     make(map[kernel.Pid]string),
		allGone:  make(chan struct{}),
	}

	i := do.New()
	s.injector = i

	do.ProvideValue(i, &c)

	do.Provide(i, func(i *do.Injector) (hclog.Logger, error) {
		cfg := do.MustInvoke[*config.Config](i)

		out := opts.LogOutput
		if out == nil {
			out = os.Stderr
		}

		return log.New("redshirt", cfg.LogLevel, out).With("boot", s.ID.String()), nil
	})

	do.Provide(i, func(i *do.Injector) (*prometheus.Registry, error) {
		return prometheus.NewRegistry(), nil
	})

	do.Provide(i, func(i *do.Injector) (*metrics.Metrics, error) {
		return metrics.New(do.MustInvoke[*prometheus.Registry](i)), nil
	})

	do.Provide(i, func(i *do.Injector) (memory.Allocator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return memory.NewArena(cfg.TotalMemory), nil
	})

	do.Provide(i, func(i *do.Injector) (*kernel.Kernel, error) {
		cfg := do.MustInvoke[*config.Config](i)

		return kernel.NewKernel(kernel.Config{
			Logger:           do.MustInvoke[hclog.Logger](i).Named("kernel"),
			Allocator:        do.MustInvoke[memory.Allocator](i),
			Metrics:          do.MustInvoke[*metrics.Metrics](i),
			MaxProcessMemory: cfg.MaxProcessMemory,
			ResolvedHistory:  cfg.ResolvedHistory,
			OnExit:           s.exited,
		})
	})

	do.Provide(i, func(i *do.Injector) (*boundary.WasmInterface, error) {
		return boundary.NewWasmInterface(do.MustInvoke[hclog.Logger](i).Named("wasm")), nil
	})

	do.Provide(i, func(i *do.Injector) (*loader.Loader, error) {
		cfg := do.MustInvoke[*config.Config](i)

		cache, err := loader.NewLoaderCache(cfg.LoaderCacheSize)
		if err != nil {
			return nil, err
		}

		w := do.MustInvoke[*boundary.WasmInterface](i)

		return loader.NewLoader(do.MustInvoke[hclog.Logger](i).Named("loader"), w.EnvModule(), cache), nil
	})

	var err error

	if s.L, err = do.Invoke[hclog.Logger](i); err != nil {
		return nil, err
	}
	if s.Kernel, err = do.Invoke[*kernel.Kernel](i); err != nil {
		return nil, err
	}
	if s.Wasm, err = do.Invoke[*boundary.WasmInterface](i); err != nil {
		return nil, err
	}
	if s.Loader, err = do.Invoke[*loader.Loader](i); err != nil {
		return nil, err
	}
	if s.Registry, err = do.Invoke[*prometheus.Registry](i); err != nil {
		return nil, err
	}
	if s.Metrics, err = do.Invoke[*metrics.Metrics](i); err != nil {
		return nil, err
	}

	return s, nil
}

// Boot spawns the processes of the manifest in order.
func (s *System) Boot() error {
	for _, p := range s.manifest.Processes {
		var (
			img kernel.Image
			err error
		)

		if p.Native != "" {
			img = natives[p.Native](&s.opts)
		} else {
			img, err = s.wasmImage(p)
			if err != nil {
				return err
			}
		}

		pid, err := s.Kernel.Spawn(img)
		if err != nil {
			return errors.Wrapf(err, "booting %s", img.Name())
		}

		if p.Native == "" {
			s.mu.Lock()
			s.user[pid] = img.Name()
			s.mu.Unlock()
		}

		s.L.Info("process-booted", "pid", pid, "name", img.Name())
	}

	s.mu.Lock()
	s.booted = true
	s.checkGone()
	s.mu.Unlock()

	return nil
}

func (s *System) wasmImage(p ProcessEntry) (kernel.Image, error) {
	mod, err := s.Loader.LoadFile(p.Path)
	if err != nil {
		return nil, err
	}

	if p.Name != "" {
		cp := *mod
		cp.Name = p.Name
		mod = &cp
	}

	return s.Wasm.Image(mod), nil
}

func (s *System) exited(info kernel.ExitInfo) {
	s.mu.Lock()
	if _, ok := s.user[info.Pid]; ok {
		delete(s.user, info.Pid)
		s.checkGone()
	}
	s.mu.Unlock()

	if info.Status == kernel.Faulted {
		s.L.Error("process-faulted", "pid", info.Pid, "name", info.Name, "error", info.Err)
	} else {
		s.L.Info("process-exited", "pid", info.Pid, "name", info.Name, "code", info.Code)
	}

	if s.opts.OnExit != nil {
		s.opts.OnExit(info)
	}
}

// checkGone closes allGone once every wasm process of the manifest is gone.
func (s *System) checkGone() {
	if !s.booted || len(s.user) > 0 {
		return
	}

	select {
	case <-s.allGone:
	default:
		close(s.allGone)
	}
}

// Run drives the kernel until every wasm process has exited, ctx ends or
// the kernel halts. Manifest interrupts are raised while it runs.
func (s *System) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	defer wg.Wait()

	for _, e := range s.manifest.Interrupts {
		wg.Add(1)
		go func(e InterruptEntry) {
			defer wg.Done()
			s.tick(ctx, e)
		}(e)
	}

	go func() {
		select {
		case <-s.allGone:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.Kernel.Run(ctx)

	select {
	case <-s.allGone:
		if errors.Cause(err) == context.Canceled {
			return s.drain()
		}
	default:
	}

	return err
}

// drain steps the kernel until it is idle so the providers handle what the
// exited programs queued last.
func (s *System) drain() error {
	for {
		res, err := s.Kernel.Step()
		if err != nil {
			return err
		}

		if res == kernel.Idle {
			return nil
		}
	}
}

// tick raises the interrupt of e every period with the tick count as a
// little endian u64.
func (s *System) tick(ctx context.Context, e InterruptEntry) {
	t := time.NewTicker(e.Period())
	defer t.Stop()

	class := iface.Interrupt(e.Class)

	var n uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n++

			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], n)

			s.Kernel.InjectInterrupt(class, buf[:])
		}
	}
}

func (s *System) Shutdown() error {
	return s.injector.Shutdown()
}
