package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	appLog "autoshift/internal/log"
)

const (
	DefaultTargetURL     = "https://eservices.minnstate.edu/finance-student/timeWorked.do?campusid=071"
	DefaultDriverURLBase = "https://storage.googleapis.com/chrome-for-testing-public"
	DefaultListen        = "127.0.0.1:8080"
)

// ScheduleConfig controls unattended runs started by `autoshift serve`.
type ScheduleConfig struct {
	// Cron is a standard 5-field cron expression. Empty disables scheduled runs.
	Cron string `yaml:"cron" json:"cron"`
	// HorizonDays is the number of days, starting today, each scheduled run covers.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
}

// LogConfig mirrors internal/log.Options in YAML form.
type LogConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// StorePath is the shift workbook (.xlsx).
	StorePath string `yaml:"store_path" json:"store_path"`

	// DriverDir is where chromedriver is unpacked.
	DriverDir string `yaml:"driver_dir" json:"driver_dir"`

	// TargetURL is the timesheet page the automation opens.
	TargetURL string `yaml:"target_url" json:"target_url"`

	// DriverURLBase is the Chrome for Testing download root.
	DriverURLBase string `yaml:"driver_url_base" json:"driver_url_base"`

	// BrowserBinary overrides the platform default used to query the
	// installed Chrome version. Empty means auto-detect.
	BrowserBinary string `yaml:"browser_binary" json:"browser_binary"`

	Headless bool `yaml:"headless" json:"headless"`

	LoginTimeoutSec   int `yaml:"login_timeout_sec" json:"login_timeout_sec"`
	ElementTimeoutSec int `yaml:"element_timeout_sec" json:"element_timeout_sec"`
	BannerTimeoutSec  int `yaml:"banner_timeout_sec" json:"banner_timeout_sec"`
	ConfirmTimeoutSec int `yaml:"confirm_timeout_sec" json:"confirm_timeout_sec"`

	// Listen is the HTTP listen address for `autoshift serve`.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth protects every HTTP route except /health when set.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// BaseDir is the per-user data directory (~/AutoShift).
func BaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "AutoShift"
	}
	return filepath.Join(home, "AutoShift")
}

// DefaultPath is where the config lives when --config is not given.
func DefaultPath() string {
	return filepath.Join(BaseDir(), "config.yaml")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	base := BaseDir()
	return &Config{
		StorePath:         filepath.Join(base, "shift.xlsx"),
		DriverDir:         filepath.Join(base, "chrome-driver"),
		TargetURL:         DefaultTargetURL,
		DriverURLBase:     DefaultDriverURLBase,
		LoginTimeoutSec:   120,
		ElementTimeoutSec: 3,
		BannerTimeoutSec:  3,
		ConfirmTimeoutSec: 600,
		Listen:            DefaultListen,
		Schedule: ScheduleConfig{
			HorizonDays: 14,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Normalize replaces zero values with their defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.StorePath == "" {
		c.StorePath = def.StorePath
	}
	if c.DriverDir == "" {
		c.DriverDir = def.DriverDir
	}
	c.StorePath = ExpandHome(c.StorePath)
	c.DriverDir = ExpandHome(c.DriverDir)
	c.Log.File = ExpandHome(c.Log.File)
	if c.TargetURL == "" {
		c.TargetURL = def.TargetURL
	}
	if c.DriverURLBase == "" {
		c.DriverURLBase = def.DriverURLBase
	}
	c.DriverURLBase = strings.TrimRight(c.DriverURLBase, "/")
	if c.LoginTimeoutSec <= 0 {
		c.LoginTimeoutSec = def.LoginTimeoutSec
	}
	if c.ElementTimeoutSec <= 0 {
		c.ElementTimeoutSec = def.ElementTimeoutSec
	}
	if c.BannerTimeoutSec <= 0 {
		c.BannerTimeoutSec = def.BannerTimeoutSec
	}
	if c.ConfirmTimeoutSec <= 0 {
		c.ConfirmTimeoutSec = def.ConfirmTimeoutSec
	}
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Schedule.HorizonDays <= 0 {
		c.Schedule.HorizonDays = def.Schedule.HorizonDays
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
}

func (c *Config) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSec) * time.Second
}

func (c *Config) ElementTimeout() time.Duration {
	return time.Duration(c.ElementTimeoutSec) * time.Second
}

func (c *Config) BannerTimeout() time.Duration {
	return time.Duration(c.BannerTimeoutSec) * time.Second
}

func (c *Config) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSec) * time.Second
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Load reads the YAML config at path and fills in defaults.
//
// A missing file is not an error on first run: the defaults are written to
// path (0600) and returned. If that write fails the defaults are still
// returned alongside the error.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, fmt.Errorf("write default config: %w", err)
		}
		appLog.Info("wrote default config", "path", path)
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save normalizes cfg and writes it to path as YAML, mode 0600.
func Save(path string, cfg *Config) error {
	switch {
	case path == "":
		return errors.New("config path is empty")
	case cfg == nil:
		return errors.New("config is nil")
	}

	cfg.Normalize()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a half-written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".autoshift-*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name) // no-op once renamed

	_, werr := tmp.Write(data)
	if werr == nil {
		werr = tmp.Sync()
	}
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return werr
	}
	if err := os.Chmod(name, perm); err != nil {
		return err
	}
	return os.Rename(name, path)
}

// Save writes c to path.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
