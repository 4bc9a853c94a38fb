// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/collector"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/config"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/control"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/credentials"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/delivery"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/engine"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/env"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/lock"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/logger"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/metrics"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/persistence"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/scheduler"
	"github.com/united-manufacturing-hub/heartbeat-agent/pkg/sentry"
)

// appVersion is set at build time with -ldflags "-X main.appVersion=...".
var appVersion string

const shutdownTimeout = 10 * time.Second

type flags struct {
	configPath  string
	dataDir     string
	metricsAddr string
	controlAddr string
	debug       bool
}

func main() {
	// Initialize the global logger first thing
	logger.Initialize()
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentCore)

	opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath, log)
	if err != nil {
		log.Errorf("Failed to load config: %v", err)
		os.Exit(1)
	}

	applyFlags(&cfg, opts)

	sentry.InitSentry(cfg.Version, cfg.SentryDSN)

	log.Infow("Starting heartbeat agent", "version", cfg.Version, "dataDir", cfg.DataDir)

	if err := run(cfg, opts.debug, log); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, log, "Heartbeat agent stopped: %w", err)
		os.Exit(1)
	}

	log.Info("Heartbeat agent stopped")
}

func parseFlags(args []string) (flags, error) {
	configPath, _ := env.GetAsString("HEARTBEAT_CONFIG", false, "")

	var opts flags

	flagSet := pflag.NewFlagSet("heartbeat-agent", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", configPath, "path to the YAML config file (env HEARTBEAT_CONFIG)")
	flagSet.StringVar(&opts.dataDir, "data-dir", "", "directory of the state database")
	flagSet.StringVar(&opts.metricsAddr, "metrics-addr", "", "listen address of the /metrics endpoint")
	flagSet.StringVar(&opts.controlAddr, "control-addr", "", "listen address of the local control API")
	flagSet.BoolVar(&opts.debug, "debug", false, "run the control API in debug mode")

	if err := flagSet.Parse(args); err != nil {
		return flags{}, err
	}

	if rest := flagSet.Args(); len(rest) > 0 {
		return flags{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	return opts, nil
}

// applyFlags lets explicit flags win over file and environment.
func applyFlags(cfg *config.AgentConfig, opts flags) {
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}

	if opts.metricsAddr != "" {
		cfg.MetricsAddr = opts.metricsAddr
	}

	if opts.controlAddr != "" {
		cfg.ControlAddr = opts.controlAddr
	}

	if appVersion != "" {
		cfg.Version = appVersion
	}
}

func run(cfg config.AgentConfig, debug bool, log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data dir %s: %w", cfg.DataDir, err)
	}

	backend, err := persistence.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}

	defer func() {
		if err := backend.Close(); err != nil {
			log.Warnf("Failed to close state database: %v", err)
		}
	}()

	store, err := credentials.New(ctx, backend)
	if err != nil {
		return err
	}

	seeded, err := store.Seed(ctx, cfg.Settings)
	if err != nil {
		return err
	}

	if seeded {
		log.Info("Seeded settings from the agent configuration")
	}

	snapshots := collector.New(cfg.Version)
	eng := engine.New(store, snapshots, delivery.NewClient(cfg.Version), lock.New(), cfg.Host)

	sched := scheduler.New(eng)
	eng.SetScheduler(sched)
	snapshots.RegisterDefaults(backend, sched)

	eng.Sync(ctx)

	metricsServer := metrics.SetupMetricsEndpoint(cfg.MetricsAddr)
	controlServer := control.NewServer(eng, cfg.ControlAddr, debug)

	sched.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(controlServer.Start)

	group.Go(func() error {
		<-groupCtx.Done()

		log.Info("Shutting down")
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warnf("Failed to stop metrics endpoint: %v", err)
		}

		return controlServer.Stop(shutdownCtx)
	})

	return group.Wait()
}
