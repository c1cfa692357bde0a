package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bdobrica/Kioku/common/version"
	"github.com/bdobrica/Kioku/internal/kioku/app"
	"github.com/bdobrica/Kioku/internal/kioku/config"
	"github.com/bdobrica/Kioku/internal/kioku/metrics"
	"github.com/bdobrica/Kioku/internal/kioku/observability"
)

func main() {
	fmt.Printf("Kioku conversational memory engine\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	observability.Setup(cfg.LogLevel, cfg.LogFormat,
		cfg.Telegram.Token, cfg.Matrix.AccessToken, cfg.Backend.APIKey)

	metrics.MustRegister()
	metrics.SetBuildInfo(version.Version, version.GitCommit)

	kioku, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialize Kioku", "err", err)
		os.Exit(1)
	}
	defer kioku.Stop()

	if err := kioku.Run(); err != nil {
		slog.Error("error running Kioku", "err", err)
		kioku.Stop()
		os.Exit(1)
	}
}
