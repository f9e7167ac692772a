// Command nestedsetd is the nestedset HTTP+WebSocket service daemon.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nestedset/api"
	"nestedset/config"
	"nestedset/nestedset"
	"nestedset/registry"
	"nestedset/sweep"
)

func main() {
	listen := flag.String("listen", "", "address to listen on (default: :7080)")
	dataDir := flag.String("data", "", "data directory (default: ./data)")
	tableName := flag.String("table", "nodes", "host table name")
	treeColumn := flag.String("tree-column", "tree", "tree discriminator column; empty disables multi-tree mode")
	flag.Parse()

	cfg := config.FromEnv()
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	log.Printf("nestedsetd starting...")
	log.Printf("  listen:         %s", cfg.Listen)
	log.Printf("  data:           %s", cfg.DataDir)
	log.Printf("  driver:         %s", cfg.Driver)
	log.Printf("  max_open:       %d", cfg.MaxOpen)
	log.Printf("  idle_ttl:       %s", cfg.IdleTTL)
	log.Printf("  sweep_interval: %s", cfg.SweepInterval)
	log.Printf("  auth:           %v", cfg.JWTSecret != "")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	reg := registry.New(registry.Config{
		DataDir: cfg.DataDir,
		MaxOpen: cfg.MaxOpen,
		IdleTTL: cfg.IdleTTL,
	})
	defer reg.Close()

	mode := nestedset.TreeDisabled
	if *treeColumn != "" {
		mode = nestedset.TreeEnabled{Column: *treeColumn}
	}
	schema := nestedset.Schema{
		Table:      *tableName,
		PrimaryKey: "id",
		Lft:        "lft",
		Rgt:        "rgt",
		Depth:      "depth",
		Tree:       mode,
	}

	var tokens *api.TokenService
	if cfg.JWTSecret != "" {
		tokens = api.NewTokenService([]byte(cfg.JWTSecret), "nestedsetd")
	}

	checker := sweep.New(discoverTargets(reg, schema, cfg.DataDir), cfg.SweepInterval)
	ctx, cancel := context.WithCancel(context.Background())
	checker.Start(ctx)
	defer cancel()

	handler := api.NewRouter(reg, schema, tokens)

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		close(done)
	}()

	log.Printf("nestedsetd listening on %s", cfg.Listen)
	log.Printf("routes are /{tenant}/{tree}/v1/...")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	<-done
	log.Println("nestedsetd stopped")
}

// discoverTargets seeds the background sweep with every tenant already
// present on disk when the process starts; tenants created afterward are
// picked up by the next process restart, matching the reference
// background worker's per-process (not dynamically reconfigured) job set.
func discoverTargets(reg *registry.Registry, schema nestedset.Schema, dataDir string) []sweep.Target {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil
	}
	var targets []sweep.Target
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		h, err := reg.Get(context.Background(), e.Name())
		if err != nil {
			continue
		}
		targets = append(targets, sweep.Target{
			Name:   e.Name(),
			Schema: schema,
			Repo:   h.Store,
		})
	}
	return targets
}
