package config

import (
	"os"
	"path/filepath"
)

// Config holds the agent settings, loaded once at startup.
type Config struct {
	IntervalSeconds  int     `yaml:"interval_seconds"`
	ScreenshotFolder string  `yaml:"screenshot_folder"`
	ServerURL        string  `yaml:"server_url"`
	UploadPassword   string  `yaml:"upload_password"`
	UploadBatchSize  int     `yaml:"upload_batch_size"`
	MaxFolderSizeMB  float64 `yaml:"max_folder_size_mb"` // <= 0 disables retention
	TorSocksProxy    string  `yaml:"tor_socks_proxy"`
	LogFile          string  `yaml:"log_file"`
	LogLevel         string  `yaml:"log_level"`  // "debug", "info", ...
	LogFormat        string  `yaml:"log_format"` // "text", "json"
}

// ServerConfig holds the collection console settings.
type ServerConfig struct {
	ListenAddr        string      `yaml:"listen_addr"`
	RootFolder        string      `yaml:"root_folder"`
	SiteName          string      `yaml:"site_name"`
	UploadPassword    string      `yaml:"upload_password"`
	Admin             AdminConfig `yaml:"admin"`
	SessionTTLMinutes int         `yaml:"session_ttl_minutes"`
	Retention         SweepConfig `yaml:"retention"`
	LogFile           string      `yaml:"log_file"`
	LogLevel          string      `yaml:"log_level"`
	LogFormat         string      `yaml:"log_format"`
}

// AdminConfig is the console login. PasswordHash is the salted
// iterated encoding printed by `shotlog-server -hash-password`.
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// SweepConfig bounds the collection root on the server side.
type SweepConfig struct {
	MaxSizeMB float64 `yaml:"max_size_mb"` // <= 0 disables the sweep
	Schedule  string  `yaml:"schedule"`    // cron spec, e.g. "@hourly"
}

// Default returns the agent settings the generated template starts
// from. An operator edit can still blank any of them; Load normalizes
// afterwards.
func Default() Config {
	return Config{
		IntervalSeconds:  10,
		ScreenshotFolder: defaultScreenshotFolder(),
		ServerURL:        "",
		UploadPassword:   "",
		UploadBatchSize:  10,
		MaxFolderSizeMB:  500,
		TorSocksProxy:    "socks5h://127.0.0.1:9050",
		LogFile:          "shotlog-agent.log",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// DefaultServer returns the console settings the generated template
// starts from.
func DefaultServer() ServerConfig {
	return ServerConfig{
		ListenAddr:        "127.0.0.1:5000",
		RootFolder:        "shotlog_data",
		SiteName:          "ShotLog",
		UploadPassword:    "",
		Admin:             AdminConfig{Username: "admin"},
		SessionTTLMinutes: 720,
		Retention:         SweepConfig{MaxSizeMB: 0, Schedule: "@hourly"},
		LogFile:           "shotlog-server.log",
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

func defaultScreenshotFolder() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("Pictures", "Security")
	}
	return filepath.Join(home, "Pictures", "Security")
}
