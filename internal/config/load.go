package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/shotlog/shotlog/internal/fs"
)

// ErrCreatedDefault reports that no config file existed, so a default
// template was written for the operator to edit. Both binaries treat
// it as "print instructions and exit cleanly".
var ErrCreatedDefault = errors.New("config file created from defaults")

// matches $(VAR_NAME)
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// replaces $(VAR) with os.Getenv(VAR)
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := mapEnvKey(envPattern.FindStringSubmatch(m)[1])
		return os.Getenv(key)
	})
}

// Load reads the agent config. When the file does not exist it writes
// a template populated with defaults and returns ErrCreatedDefault:
// running unconfigured is the one fatal startup condition.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeTemplate(path, "shotlog agent", Default()); werr != nil {
			return nil, fmt.Errorf("writing default config: %w", werr)
		}
		return nil, fmt.Errorf("%w: %s", ErrCreatedDefault, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Fields absent from the file keep their defaults.
	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

// LoadServer reads the console config, with the same bootstrap
// behavior as Load.
func LoadServer(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if werr := writeTemplate(path, "shotlog server", DefaultServer()); werr != nil {
			return nil, fmt.Errorf("writing default config: %w", werr)
		}
		return nil, fmt.Errorf("%w: %s", ErrCreatedDefault, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultServer()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}

	cfg.normalize()
	return &cfg, nil
}

func (c *Config) normalize() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = Default().IntervalSeconds
	}
	if c.UploadBatchSize <= 0 {
		c.UploadBatchSize = Default().UploadBatchSize
	}
	// A blanked folder falls back to the default, matching the
	// template bootstrap. MaxFolderSizeMB <= 0 stays as-is: that is
	// the documented way to disable retention.
	if c.ScreenshotFolder == "" {
		c.ScreenshotFolder = defaultScreenshotFolder()
	}
}

func (c *ServerConfig) normalize() {
	def := DefaultServer()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.RootFolder == "" {
		c.RootFolder = def.RootFolder
	}
	if c.SiteName == "" {
		c.SiteName = def.SiteName
	}
	if c.Admin.Username == "" {
		c.Admin.Username = def.Admin.Username
	}
	if c.SessionTTLMinutes <= 0 {
		c.SessionTTLMinutes = def.SessionTTLMinutes
	}
	if c.Retention.Schedule == "" {
		c.Retention.Schedule = def.Retention.Schedule
	}
}

func writeTemplate(path, title string, cfg any) error {
	body, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	data := append([]byte(fmt.Sprintf("# %s configuration. Edit and run again.\n", title)), body...)

	dir := filepath.Dir(path)
	if dir == "" {
		dir = "."
	}
	return fs.WriteFile(dir, filepath.Base(path), data)
}
