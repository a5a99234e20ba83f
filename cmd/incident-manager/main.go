package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/broadcaster"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/circuitbreaker"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/config"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/domain"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/escalation"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/processor"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/routing"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage/embedded"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage/memory"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/internal/storage/remote"
	"github.com/LLM-Dev-Ops/incident-manager-sub003/pkg/logger"
)

const (
	exitOK             = 0
	exitConfigError    = 1
	exitStartupFailure = 2
	exitInterrupted    = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	storeBackend := flag.String("store-backend", "", "override store.backend (memory|embedded|remote)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitConfigError
	}
	if *storeBackend != "" {
		cfg.Store.Backend = *storeBackend
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
			return exitConfigError
		}
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	store, err := openStore(cfg.Store)
	if err != nil {
		log.Errorf("open store: %v", err)
		return exitStartupFailure
	}
	defer store.Close()

	bc := broadcaster.New(broadcaster.Config{
		FanoutCapacity:       cfg.WebSocket.BroadcastCapacity,
		SessionQueueCapacity: cfg.WebSocket.MaxPendingMessages,
		SessionTimeout:       cfg.WebSocket.SessionTimeout(),
		ReaperInterval:       30 * time.Second,
	}, log)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bc.Start(rootCtx)
	defer bc.Stop()

	evaluator := routing.NewEvaluator(log)
	defer evaluator.Close()
	breakers := circuitbreaker.NewRegistry(log)
	defaultBreakerCfg := cfg.CircuitBreaker.Presets["default"].ToBreakerConfig()

	notifier := &logNotifier{log: log}
	teams := &staticTeamRegistry{members: map[string][]string{}}
	schedules := &staticScheduleProvider{schedules: map[string]domain.OnCallSchedule{}}
	playbooks := &logPlaybookRunner{log: log}

	lookup := func(ctx context.Context, id string) (*domain.Incident, error) { return store.Get(ctx, id) }
	executor := escalation.NewLevelExecutor(notifier, teams, schedules, breakers, defaultBreakerCfg, log)
	escMgr := escalation.NewManager(executor, evaluator, lookup, log, cfg.Escalation.CheckInterval())
	go escMgr.Run(rootCtx)

	proc := processor.New(store, bc, evaluator, escMgr, playbooks, breakers, defaultBreakerCfg, domain.FingerprintConfig{}, log)

	if n, err := proc.Count(rootCtx, storage.IncidentFilter{}); err == nil {
		log.Infof("incident manager started (store backend=%s, %d incidents on record)", cfg.Store.Backend, n)
	} else {
		log.Infof("incident manager started (store backend=%s)", cfg.Store.Backend)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	if sig == syscall.SIGINT {
		log.Infof("received SIGINT, shutting down")
		return exitInterrupted
	}
	log.Infof("received %s, shutting down", sig)
	return exitOK
}

func openStore(cfg config.StoreConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "memory", "":
		return memory.New(), nil
	case "embedded":
		return embedded.Open(cfg.Path)
	case "remote":
		return remote.Open(cfg.URL, cfg.Prefix)
	default:
		return nil, fmt.Errorf("unrecognized store backend %q", cfg.Backend)
	}
}
