// Command trojan runs either the client or server half of the proxy
// described by a YAML configuration file, following the same "ambient
// stack" the teacher repository wires into its own CLI entrypoint: pflag
// for flags, zap for structured logging, automaxprocs/automemlimit for
// container-aware runtime tuning, and graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/pflag"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/relayforge/trojan"
	"github.com/relayforge/trojan/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = pflag.StringP("config", "c", "", "path to the YAML configuration file")
		debugLog   = pflag.Bool("debug", false, "use a human-readable development logger instead of JSON")
		adminAddr  = pflag.String("admin", "", "optional address for the /metrics and /healthz endpoints")
		showVer    = pflag.Bool("version", false, "print the version and exit")
	)
	pflag.Parse()

	if *showVer {
		fmt.Println(version)
		return 0
	}
	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "trojan: -config is required")
		return 2
	}

	log, err := newLogger(*debugLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trojan: logger init: %v\n", err)
		return 1
	}
	defer log.Sync()

	undoMaxProcs, err := maxprocs.Set(maxprocs.Logger(func(f string, a ...any) { log.Sugar().Infof(f, a...) }))
	if err != nil {
		log.Warn("automaxprocs: could not adjust GOMAXPROCS", zap.Error(err))
	} else {
		defer undoMaxProcs()
	}
	if limit, err := memlimit.SetGoMemLimitWithOpts(memlimit.WithRatio(0.9)); err != nil {
		log.Debug("automemlimit: no cgroup memory limit detected", zap.Error(err))
	} else {
		log.Info("automemlimit: GOMEMLIMIT set from cgroup", zap.Int64("bytes", limit))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load configuration", zap.Error(err))
		return 1
	}
	if cfg.FastOpen {
		log.Info("fast_open is set but TCP Fast Open is not supported by this build; ignoring it")
	}

	ctx, shutdownFn := trojan.NewContext(context.Background(), cfg, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		shutdownFn()
	}()
	defer shutdownFn()

	var adminStop func()
	if *adminAddr != "" {
		var stopErr error
		adminStop, stopErr = startAdmin(ctx, *adminAddr)
		if stopErr != nil {
			log.Error("failed to start admin listener", zap.Error(stopErr))
			return 1
		}
		defer adminStop()
	}

	switch cfg.RunType {
	case config.RunClient:
		err = runClient(ctx, cfg)
	case config.RunServer:
		err = runServer(ctx, cfg)
	default:
		err = fmt.Errorf("unknown run_type %q", cfg.RunType)
	}
	if err != nil {
		log.Error("exited with error", zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// version is overwritten at build time via -ldflags, matching the
// teacher's own versioning convention.
var version = "dev"
