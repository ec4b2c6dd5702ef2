package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"github.com/vitali2y/redshirt/boot"
	"github.com/vitali2y/redshirt/config"
)

var (
	fManifest  = pflag.StringP("manifest", "m", "", "boot manifest (TOML)")
	fMetrics   = pflag.String("metrics", "", "address to serve prometheus metrics on")
	fLogLevel  = pflag.StringP("log-level", "l", "", "log level")
	fMaxMemory = pflag.Uint64("max-process-memory", 0, "largest memory one image may declare")
	fTotal     = pflag.Uint64("total-memory", 0, "memory available to the whole instance")
)

func main() {
	cpuprofile := os.Getenv("CPUPROFILE")
	if cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		fmt.Printf("pprof: profiling started\n")
	}

	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	if *fManifest != "" {
		cfg.Manifest = *fManifest
	}
	if *fMetrics != "" {
		cfg.MetricsAddr = *fMetrics
	}
	if *fLogLevel != "" {
		cfg.LogLevel = *fLogLevel
	}
	if *fMaxMemory != 0 {
		cfg.MaxProcessMemory = *fMaxMemory
	}
	if *fTotal != 0 {
		cfg.TotalMemory = *fTotal
	}

	manifest := &boot.Manifest{}

	// bare image paths on the command line boot after the console
	if cfg.Manifest != "" {
		manifest, err = boot.LoadManifest(cfg.Manifest)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		manifest.Processes = append(manifest.Processes,
			boot.ProcessEntry{Native: "console"},
			boot.ProcessEntry{Native: "random"},
		)
	}

	for _, path := range pflag.Args() {
		manifest.Processes = append(manifest.Processes, boot.ProcessEntry{Path: path})
	}

	sys, err := boot.New(cfg, manifest, boot.Options{Console: os.Stdout})
	if err != nil {
		log.Fatal(err)
	}

	defer sys.Shutdown()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(sys.Registry, promhttp.HandlerOpts{}))

		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				sys.L.Error("metrics-server", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	forwardSignals(ctx, sys)

	err = sys.Boot()
	if err == nil {
		err = sys.Run(ctx)
	}

	if cpuprofile != "" {
		pprof.StopCPUProfile()
		fmt.Printf("pprof: profiling finished\n")
	}

	if err != nil && ctx.Err() == nil {
		log.Fatal(err)
	}
}
