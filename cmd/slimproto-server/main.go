package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/syncbeam/slimproto/internal/cli/jsonrpc"
	"github.com/syncbeam/slimproto/internal/cli/telnet"
	"github.com/syncbeam/slimproto/internal/logger"
	"github.com/syncbeam/slimproto/internal/slimproto/collab"
	"github.com/syncbeam/slimproto/internal/slimproto/server"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("warning: invalid log level, using default: %v\n", err)
	}
	log := logger.Logger().With("component", "cli")

	lru, err := collab.NewLRUCache(256)
	if err != nil {
		log.Error("failed to build power/volume cache", "error", err)
		os.Exit(1)
	}
	cache := collab.PowerVolumeCache{Cache: lru}

	presets := make(map[string][]string, len(cfg.players))
	offsets := make(map[string]int, len(cfg.players))
	for _, p := range cfg.players {
		if len(p.Presets) > 0 {
			presets[p.ID] = p.Presets
		}
		if p.SyncOffsetMS != 0 {
			offsets[p.ID] = p.SyncOffsetMS
		}
	}

	srv := server.New(server.Config{
		ListenAddr:  fmt.Sprintf("%s:%d", cfg.provider.BindIP, cfg.provider.SlimprotoPort),
		Presets:     presets,
		SyncOffsets: offsets,
	}, cache, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		log.Error("failed to start slimproto server", "error", err)
		os.Exit(1)
	}
	log.Info("slimproto server started", "addr", srv.Addr().String(), "version", version)

	var discovery *collab.UDPDiscovery
	if cfg.provider.EnableDiscovery {
		discovery = collab.NewUDPDiscovery()
		if err := discovery.Start(ctx, collab.DiscoveryConfig{
			BindIP:        cfg.provider.BindIP,
			SlimprotoPort: cfg.provider.SlimprotoPort,
			CLIPort:       cfg.provider.CLIPort,
			CLIJSONPort:   cfg.provider.CLIJSONPort,
			ServerName:    cfg.provider.ServerName,
			ServerID:      cfg.provider.ServerID,
		}); err != nil {
			log.Warn("failed to start discovery responder", "error", err)
			discovery = nil
		}
	}

	var telnetSrv *telnet.Server
	if cfg.provider.EnableTelnet {
		telnetSrv = telnet.New(srv.Orchestrator, log)
		addr := fmt.Sprintf("%s:%d", cfg.provider.BindIP, cfg.provider.CLIPort)
		if err := telnetSrv.Start(ctx, addr); err != nil {
			log.Warn("failed to start telnet CLI", "error", err)
			telnetSrv = nil
		}
	}

	var httpSrv *http.Server
	if cfg.provider.EnableJSONRPC {
		rpc := jsonrpc.New(srv.Orchestrator, log)
		httpSrv = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.provider.BindIP, cfg.provider.CLIJSONPort),
			Handler: rpc.Handler(),
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("jsonrpc server error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if discovery != nil {
			_ = discovery.Stop()
		}
		if telnetSrv != nil {
			_ = telnetSrv.Stop()
		}
		if httpSrv != nil {
			_ = httpSrv.Shutdown(shutdownCtx)
		}
		if err := srv.Stop(); err != nil {
			log.Error("slimproto server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
