package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sadewadee/saori/internal/config"
	"github.com/sadewadee/saori/internal/logging"
	"github.com/sadewadee/saori/internal/module"
	"github.com/sadewadee/saori/internal/pool"
	"github.com/sadewadee/saori/internal/server"
	"github.com/sadewadee/saori/internal/websocket"
)

const defaultConfigPath = "saori.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve", "start":
		err = serve(os.Args[2:])
	case "worker":
		err = worker()
	case "decode":
		err = decodeCmd(os.Args[2:], os.Stdin, os.Stdout)
	case "call":
		err = callCmd(os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("saori v%s\n", module.Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "saori %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

// loadConfig reads path. A missing default config file falls back to
// the built-in defaults; a missing explicit one is an error.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

func serve(args []string) error {
	cfgPath, explicit := defaultConfigPath, false
	if len(args) > 0 {
		cfgPath, explicit = args[0], true
	}

	cfg, err := loadConfig(cfgPath, explicit)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}

	logger, closer := logging.New(cfg.Logging)
	if closer != nil {
		defer closer.Close()
	}
	logger.Info("saori starting", "version", module.Version, "module", cfg.Module.Name, "mode", cfg.Module.Mode)

	m := module.New(cfg.Module.Name, logger)
	if err := m.EnableBuiltins(cfg.Module.Functions); err != nil {
		return err
	}

	spawn, err := pool.NewSpawner(cfg.Module, cfg.Pool, m)
	if err != nil {
		return err
	}
	workerPool := pool.New(cfg.Pool, logger, spawn)
	if err := workerPool.Start(); err != nil {
		return fmt.Errorf("starting worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reload workers when the module changes on disk
	if cfg.Watch.Enabled && len(cfg.Watch.Paths) > 0 {
		watcher, err := pool.NewWatcher(cfg.Watch.Paths, cfg.Watch.Debounce.Duration(), logger, func() {
			if err := workerPool.Reload(); err != nil {
				logger.Error("reload failed", "error", err)
			}
		})
		if err != nil {
			workerPool.Stop()
			return err
		}
		go watcher.Run(ctx)
	}

	var wsHandler http.Handler
	var wsManager *websocket.Manager
	if cfg.WebSocket.Enabled {
		wsManager = websocket.NewManager(workerPool, cfg.WebSocket.MaxConnections, logger)
		wsHandler = websocket.NewHandler(cfg.WebSocket, cfg.Server.MaxBodyBytes, wsManager, logger)
	}

	srv := server.New(cfg, workerPool, wsHandler, logger)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// SIGUSR1 swaps in fresh workers
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGUSR1)
	go func() {
		for range reload {
			logger.Info("SIGUSR1 received, reloading workers")
			if err := workerPool.Reload(); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}()

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	logger.Info("saori ready", "address", cfg.Server.Address, "path", cfg.Server.Path)

	<-quit
	logger.Info("shutdown signal received")
	signal.Stop(reload)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if wsManager != nil {
		wsManager.CloseAll()
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := workerPool.Stop(); err != nil {
		logger.Error("pool shutdown error", "error", err)
	}

	logger.Info("saori stopped")
	return nil
}

// worker runs this binary as a process-mode module worker, speaking
// saori-wire frames on stdin and stdout. Logs go to stderr.
func worker() error {
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("SAORI_LOG_LEVEL"), "json")

	name := os.Getenv(pool.EnvModuleName)
	if name == "" {
		name = "saori"
	}
	m := module.New(name, logger)

	var functions []string
	if fns := os.Getenv(pool.EnvFunctions); fns != "" {
		functions = strings.Split(fns, ",")
	}
	if err := m.EnableBuiltins(functions); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return m.Serve(ctx, os.Stdin, os.Stdout)
}

func printUsage() {
	fmt.Println(`saori - SAORI/1.0 module host

Usage:
  saori <command> [options]

Commands:
  serve [config]       Start the gateway (default config: saori.yaml)
  start [config]       Alias for serve
  worker               Run as a process-mode module worker (stdin/stdout)
  decode [flags] [file|-]
                       Decode a captured SAORI request or response
      -o text|yaml     Output format (default text)
  call [flags] function [args...]
                       Run one EXECUTE request through the built-in module
      -charset NAME    Request charset (default UTF-8)
      -sender NAME     Sender header
      -security LEVEL  SecurityLevel header (Local or External)
      -o text|yaml|raw Output format (default text)
  version              Show version
  help                 Show this help

Signals:
  SIGUSR1              Graceful worker reload (zero-downtime)
  SIGINT/SIGTERM       Graceful shutdown

Examples:
  saori serve
  saori serve /etc/saori/saori.toml
  saori call -charset Shift_JIS join , a b c
  saori decode captured.bin
  kill -USR1 $(pidof saori)   # Reload workers`)
}
