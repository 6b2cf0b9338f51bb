// Command minerd supervises a quantus-node mining process from the terminal.
//
// It spawns the node with the configured chain and rewards address, follows
// its output, tracks sync progress against a bootnode reference, and applies
// safe-mode restarts around known-bad block ranges. The daemon runs until
// interrupted.
//
// Usage:
//
//	minerd [options]
//
// Run minerd --help for the full option list.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Quantus-Network/miner-console/config"
	"github.com/Quantus-Network/miner-console/internal/console"
	"github.com/Quantus-Network/miner-console/internal/log"
)

func main() {
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	c, err := console.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := c.Start(console.StartOptions{}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: starting node: %v\n", err)
		c.Close()
		os.Exit(1)
	}

	stopStatusLog := logStatus(c)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = serveMetrics(cfg.Metrics.Addr, c)
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Console.Info().Msg("shutting down")
	stopStatusLog()
	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsSrv.Shutdown(ctx)
		cancel()
	}
	if err := c.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// logStatus writes one log line per status snapshot until the returned
// stop func is called.
func logStatus(c *console.Console) func() {
	snaps, cancel := c.StatusStream()
	go func() {
		for s := range snaps {
			ev := log.Console.Info().
				Str("phase", s.Phase).
				Int("peers", s.Peers).
				Bool("is_syncing", s.IsSyncing).
				Bool("safe_mode", s.SafeMode)
			if s.Best != nil {
				ev = ev.Uint64("best", *s.Best)
			}
			if s.Highest != nil {
				ev = ev.Uint64("highest", *s.Highest)
			}
			ev.Msg("sync status")
		}
	}()
	return cancel
}

// serveMetrics exposes the prometheus registry on its own listener.
func serveMetrics(addr string, c *console.Console) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Metrics().Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Console.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Console.Info().Str("addr", addr).Msg("serving prometheus metrics")
	return srv
}
