// shotlog-agent captures the local screen on a fixed interval, keeps
// the capture folder under its size budget and ships batches of
// screenshots to the collection server, deleting local copies only
// once the server has confirmed them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strings"
	"syscall"
	"time"

	"github.com/shotlog/shotlog/internal/agent"
	"github.com/shotlog/shotlog/internal/capture"
	"github.com/shotlog/shotlog/internal/config"
	"github.com/shotlog/shotlog/internal/logging"
	"github.com/shotlog/shotlog/internal/uploader"
	"github.com/shotlog/shotlog/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to the agent configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("shotlog-agent %s\n", version.Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, config.ErrCreatedDefault) {
		fmt.Printf("%s has been created with default settings.\n", *configPath)
		fmt.Println("Please open it, edit it, then run the program again.")
		return nil
	}
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Format: cfg.LogFormat})
	principal := principalName()

	log.Info("shotlog agent started",
		"folder", cfg.ScreenshotFolder,
		"interval_seconds", cfg.IntervalSeconds,
		"max_folder_size_mb", cfg.MaxFolderSizeMB,
		"server_url", cfg.ServerURL,
		"proxy", cfg.TorSocksProxy,
		"batch_size", cfg.UploadBatchSize,
		"principal", principal,
	)

	var up agent.Uploader
	if cfg.ServerURL != "" && cfg.UploadPassword != "" {
		client, err := uploader.New(uploader.Options{
			ServerURL: cfg.ServerURL,
			Password:  cfg.UploadPassword,
			Username:  principal,
			ProxyURL:  cfg.TorSocksProxy,
		}, log)
		if err != nil {
			return fmt.Errorf("configuring uploader: %w", err)
		}
		up = client
	} else {
		log.Warn("server_url or upload_password not set, uploads disabled")
	}

	a := agent.New(agent.Options{
		Root:      cfg.ScreenshotFolder,
		Interval:  time.Duration(cfg.IntervalSeconds) * time.Second,
		BatchSize: cfg.UploadBatchSize,
		BudgetMB:  cfg.MaxFolderSizeMB,
	}, capture.NewRecorder(capture.Display{}), up, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// principalName is the identity the server files uploads under: the
// local account name, without the DOMAIN\ prefix Windows adds.
func principalName() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		name := u.Username
		if i := strings.LastIndexByte(name, '\\'); i >= 0 {
			name = name[i+1:]
		}
		return name
	}
	for _, key := range []string{"USER", "USERNAME"} {
		if name := os.Getenv(key); name != "" {
			return name
		}
	}
	return "unknown"
}
