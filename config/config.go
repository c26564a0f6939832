package config

import (
	"os"
	"time"

	"github.com/browserwing/domguard/pkg/logger"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

const (
	// PCUserAgent is the desktop Edge identity presented by default.
	PCUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/64.0.3282.140 Safari/537.36 Edge/17.17134"
	// MobileUserAgent is the Windows Phone Edge identity.
	MobileUserAgent = "Mozilla/5.0 (Windows Phone 10.0; Android 4.2.1; WebView/3.0) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) coc_coc_browser/64.118.222 " +
		"Chrome/52.0.2743.116 Mobile Safari/537.36 Edge/15.15063"
)

type Config struct {
	Debug       bool                 `json:"debug" toml:"debug"`
	Server      *ServerConfig        `json:"server" toml:"server"`
	Database    *DatabaseConfig      `json:"database" toml:"database"`
	Browser     *BrowserConfig       `json:"browser" toml:"browser"`
	Wait        *WaitConfig          `json:"wait" toml:"wait"`
	Diagnostics *DiagnosticsConfig   `json:"diagnostics" toml:"diagnostics"`
	Log         *logger.LoggerConfig `json:"log,omitempty" toml:"log,omitempty"`
}

type ServerConfig struct {
	Port string `json:"port" toml:"port"`
	Host string `json:"host" toml:"host"`
}

type DatabaseConfig struct {
	Path string `json:"path" toml:"path"`
}

// BrowserConfig is the session configuration record.
type BrowserConfig struct {
	BinPath     string `json:"bin_path" toml:"bin_path"`
	ControlURL  string `json:"control_url,omitempty" toml:"control_url,omitempty"` // remote Chrome, skips the launcher
	UserDataDir string `json:"user_data_dir" toml:"user_data_dir"`
	// Headless is nil when unset; the environment decides then.
	Headless    *bool          `json:"headless,omitempty" toml:"headless,omitempty"`
	UserAgent   string         `json:"user_agent" toml:"user_agent"`
	Extensions  []string       `json:"extensions,omitempty" toml:"extensions,omitempty"` // unpacked extension dirs
	LaunchArgs  []string       `json:"launch_args,omitempty" toml:"launch_args,omitempty"`
	Stealth     bool           `json:"stealth" toml:"stealth"`
	Preferences map[string]any `json:"preferences,omitempty" toml:"preferences,omitempty"` // dotted name -> value
}

type WaitConfig struct {
	PollIntervalMs    int   `json:"poll_interval_ms" toml:"poll_interval_ms"`
	DefaultTimeoutMs  int   `json:"default_timeout_ms" toml:"default_timeout_ms"`
	ActionTimeoutMs   int   `json:"action_timeout_ms" toml:"action_timeout_ms"`
	RetryAfterRefresh *bool `json:"retry_after_refresh,omitempty" toml:"retry_after_refresh,omitempty"`
}

func (w *WaitConfig) PollInterval() time.Duration {
	return millis(w.PollIntervalMs, 2*time.Second)
}

func (w *WaitConfig) DefaultTimeout() time.Duration {
	return millis(w.DefaultTimeoutMs, 10*time.Second)
}

func (w *WaitConfig) ActionTimeout() time.Duration {
	return millis(w.ActionTimeoutMs, 5*time.Second)
}

// RetryEnabled reports whether an action is retried once after a refresh
// recovered a missing element. Defaults to true.
func (w *WaitConfig) RetryEnabled() bool {
	return w.RetryAfterRefresh == nil || *w.RetryAfterRefresh
}

type DiagnosticsConfig struct {
	Dir          string `json:"dir" toml:"dir"`
	PageSnapshot bool   `json:"page_snapshot" toml:"page_snapshot"`
}

func millis(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

// commonChromePaths are probed when neither the config nor CHROME_BIN_PATH
// names a browser binary.
var commonChromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/bin/google-chrome-stable",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
	"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: &ServerConfig{
			Port: "8080",
			Host: "127.0.0.1",
		},
		Database: &DatabaseConfig{
			Path: "./logs/diagnostics.db",
		},
		Browser: &BrowserConfig{
			BinPath:     detectChromeBinPath(),
			UserDataDir: "./chrome_user_data",
			UserAgent:   PCUserAgent,
			LaunchArgs: []string{
				"disable-webgl",
				"no-sandbox",
				"disable-dev-shm-usage",
			},
			Preferences: map[string]any{
				"profile.default_content_setting_values.geolocation":   int64(2),
				"profile.default_content_setting_values.notifications": int64(2),
			},
		},
		Wait: &WaitConfig{
			PollIntervalMs:   2000,
			DefaultTimeoutMs: 10000,
			ActionTimeoutMs:  5000,
		},
		Diagnostics: &DiagnosticsConfig{
			Dir: "./logs",
		},
		Log: &logger.LoggerConfig{
			Level: "info",
			File:  "./logs/domguard.log",
		},
	}
}

func detectChromeBinPath() string {
	if envPath := os.Getenv("CHROME_BIN_PATH"); envPath != "" {
		return envPath
	}
	for _, p := range commonChromePaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load reads the TOML file at path. A missing file yields the defaults, which
// are also written to path so the operator has something to edit.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		cfg := Default()
		if os.IsNotExist(err) {
			if cfgData, mErr := toml.Marshal(cfg); mErr == nil {
				_ = os.WriteFile(path, cfgData, 0o644)
			}
		}
		applyEnv(cfg)
		return cfg, nil
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes TOML data and fills every missing section with defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	def := Default()
	if cfg.Server == nil {
		cfg.Server = def.Server
	}
	if cfg.Database == nil {
		cfg.Database = def.Database
	}
	if cfg.Browser == nil {
		cfg.Browser = def.Browser
	}
	if cfg.Browser.BinPath == "" {
		cfg.Browser.BinPath = def.Browser.BinPath
	}
	if cfg.Wait == nil {
		cfg.Wait = def.Wait
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = def.Diagnostics
	}
	if cfg.Diagnostics.Dir == "" {
		cfg.Diagnostics.Dir = def.Diagnostics.Dir
	}
	if cfg.Log == nil {
		cfg.Log = &logger.LoggerConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CHROME_BIN_PATH"); v != "" {
		cfg.Browser.BinPath = v
	}
	if v := os.Getenv("BROWSER_CONTROL_URL"); v != "" {
		cfg.Browser.ControlURL = v
	}
	if v := os.Getenv("BROWSER_USER_AGENT"); v != "" {
		cfg.Browser.UserAgent = v
	}
}
