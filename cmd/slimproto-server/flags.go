package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/syncbeam/slimproto/internal/config"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

type cliConfig struct {
	provider    config.Provider
	players     []config.Player
	showVersion bool
	logLevel    string
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("slimproto-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}
	materialize := config.RegisterFlags(fs, &cfg.provider)
	fs.BoolVar(&cfg.showVersion, "version", false, "print version and exit")
	fs.StringVar(&cfg.logLevel, "log.level", "info", "log level: debug|info|warn|error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.players = materialize()

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log.level %q", cfg.logLevel)
	}

	return cfg, nil
}
