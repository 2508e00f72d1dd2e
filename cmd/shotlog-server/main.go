// shotlog-server is the collection console: it ingests screenshot
// uploads from agents and serves the authenticated browsing UI, with a
// scheduled sweep bounding the collection tree.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shotlog/shotlog/internal/archive"
	"github.com/shotlog/shotlog/internal/config"
	"github.com/shotlog/shotlog/internal/console"
	"github.com/shotlog/shotlog/internal/logging"
	"github.com/shotlog/shotlog/internal/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "server.yaml", "path to the server configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	hashPassword := flag.String("hash-password", "",
		"print the hash of the given password for admin.password_hash, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("shotlog-server %s\n", version.Version)
		return nil
	}
	if *hashPassword != "" {
		hash, err := console.HashPassword(*hashPassword)
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	}

	cfg, err := config.LoadServer(*configPath)
	if errors.Is(err, config.ErrCreatedDefault) {
		fmt.Printf("%s has been created with default settings.\n", *configPath)
		fmt.Println("Set upload_password and admin.password_hash (see -hash-password), then run again.")
		return nil
	}
	if err != nil {
		return err
	}

	log := logging.New(logging.Options{File: cfg.LogFile, Level: cfg.LogLevel, Format: cfg.LogFormat})

	store, err := archive.New(cfg.RootFolder, log)
	if err != nil {
		return err
	}

	cons, err := console.New(store, console.Options{
		SiteName:          cfg.SiteName,
		UploadPassword:    cfg.UploadPassword,
		AdminUsername:     cfg.Admin.Username,
		AdminPasswordHash: cfg.Admin.PasswordHash,
		SessionTTL:        time.Duration(cfg.SessionTTLMinutes) * time.Minute,
	}, log)
	if err != nil {
		return err
	}

	if cfg.UploadPassword == "" {
		log.Warn("upload_password not set, ingest is disabled")
	}
	if cfg.Admin.PasswordHash == "" {
		log.Warn("admin.password_hash not set, console login is disabled")
	}

	// The sweep keeps the collection bounded and drops stale admin
	// sessions. Scheduled even with retention disabled so sessions
	// still get purged.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Retention.Schedule, func() {
		if n := cons.PurgeSessions(); n > 0 {
			log.Info("purged expired sessions", "count", n)
		}
		if cfg.Retention.MaxSizeMB > 0 {
			res := store.Sweep(cfg.Retention.MaxSizeMB)
			if res.Deleted > 0 {
				log.Info("collection sweep finished", "deleted", res.Deleted)
			}
		}
	}); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", cfg.Retention.Schedule, err)
	}
	sweeper.Start()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           cons,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	log.Info("collection console listening",
		"addr", cfg.ListenAddr,
		"root", store.Root(),
		"retention_mb", cfg.Retention.MaxSizeMB,
		"sweep", cfg.Retention.Schedule,
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("console server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown incomplete", "error", err)
	}
	// Let a sweep in flight finish before exiting.
	<-sweeper.Stop().Done()
	log.Info("server stopped")
	return nil
}
