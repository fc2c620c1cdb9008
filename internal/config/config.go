// Package config loads and validates scraper configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Captcha   CaptchaConfig   `mapstructure:"captcha"`
	Challenge ChallengeConfig `mapstructure:"challenge"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// ScraperConfig governs the orchestrator pool and its outputs.
type ScraperConfig struct {
	Parallel       int     `mapstructure:"parallel"`
	ReuseBrowser   bool    `mapstructure:"reuse_browser"`
	TasksPerSecond float64 `mapstructure:"tasks_per_second"`
	OutputDir      string  `mapstructure:"output_dir"`
	ScreenshotDir  string  `mapstructure:"screenshot_dir"`
}

// BrowserConfig configures Chrome sessions.
type BrowserConfig struct {
	Headless          bool     `mapstructure:"headless"`
	ExecPath          string   `mapstructure:"exec_path"`
	Proxies           []string `mapstructure:"proxies"`
	UserAgents        []string `mapstructure:"user_agents"`
	BlockResources    bool     `mapstructure:"block_resources"`
	NavTimeoutSeconds int      `mapstructure:"nav_timeout_seconds"`
	CloseGraceSeconds int      `mapstructure:"close_grace_seconds"`
	WindowWidth       int      `mapstructure:"window_width"`
	WindowHeight      int      `mapstructure:"window_height"`
}

// CaptchaConfig configures the 2Captcha solver and its browser extension.
type CaptchaConfig struct {
	APIKey              string `mapstructure:"api_key"`
	ExtensionDir        string `mapstructure:"extension_dir"`
	PollingSeconds      int    `mapstructure:"polling_seconds"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	SolveWhileWaiting   bool   `mapstructure:"solve_while_waiting"`
	ExtensionWorkingDir string `mapstructure:"extension_working_dir"`
}

// ChallengeConfig tunes the anti-bot interstitial wait. MaxWaitSeconds 0 waits indefinitely.
type ChallengeConfig struct {
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	MaxWaitSeconds int `mapstructure:"max_wait_seconds"`
}

// SourcesConfig holds per-site entry links.
type SourcesConfig struct {
	VesselFinder  SourceConfig `mapstructure:"vesselfinder"`
	MarineTraffic SourceConfig `mapstructure:"marinetraffic"`
}

// SourceConfig describes one site entry point.
type SourceConfig struct {
	Link string `mapstructure:"link"`
}

// StorageConfig sets where result files are written.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. A .env file in the working directory is honored.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("VOYAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 1800)
	v.SetDefault("scraper.parallel", 3)
	v.SetDefault("scraper.reuse_browser", true)
	v.SetDefault("scraper.tasks_per_second", 0)
	v.SetDefault("scraper.output_dir", "output")
	v.SetDefault("scraper.screenshot_dir", "screenshots")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.proxies", []string{})
	v.SetDefault("browser.user_agents", DefaultUserAgents)
	v.SetDefault("browser.block_resources", true)
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.close_grace_seconds", 5)
	v.SetDefault("browser.window_width", 1920)
	v.SetDefault("browser.window_height", 1080)
	v.SetDefault("captcha.api_key", "")
	v.SetDefault("captcha.extension_dir", "")
	v.SetDefault("captcha.extension_working_dir", "")
	v.SetDefault("captcha.polling_seconds", 10)
	v.SetDefault("captcha.timeout_seconds", 180)
	v.SetDefault("captcha.solve_while_waiting", true)
	v.SetDefault("challenge.poll_interval_ms", 3000)
	v.SetDefault("challenge.max_wait_seconds", 0)
	v.SetDefault("sources.vesselfinder.link", "https://www.vesselfinder.com/")
	v.SetDefault("sources.marinetraffic.link",
		"https://www.marinetraffic.com/en/ais/details/ships/shipid:202330/mmsi:235335000/imo:9241310/vessel:EVER_EAGLE")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
}

// bindLegacyEnv keeps the unprefixed variable names older deployments export.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"server.port":           {"VOYAGE_SERVER_PORT", "PORT"},
		"captcha.api_key":       {"VOYAGE_CAPTCHA_API_KEY", "CAPTCHA_SOLVER_API_KEY"},
		"scraper.parallel":      {"VOYAGE_SCRAPER_PARALLEL", "PARALLEL"},
		"scraper.reuse_browser": {"VOYAGE_SCRAPER_REUSE_BROWSER", "REUSE_BROWSER"},
		"scraper.output_dir":    {"VOYAGE_SCRAPER_OUTPUT_DIR", "OUTPUT_DIR"},
		"browser.headless":      {"VOYAGE_BROWSER_HEADLESS", "HEADLESS"},
		"browser.proxies":       {"VOYAGE_BROWSER_PROXIES", "PROXY"},
		"logging.development":   {"VOYAGE_LOGGING_DEVELOPMENT", "DEBUG"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// DefaultUserAgents is the pool sessions pick from when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("server.request_timeout_seconds must be > 0")
	}
	if c.Scraper.Parallel <= 0 {
		return fmt.Errorf("scraper.parallel must be > 0")
	}
	if c.Scraper.TasksPerSecond < 0 {
		return fmt.Errorf("scraper.tasks_per_second must be >= 0")
	}
	if strings.TrimSpace(c.Scraper.OutputDir) == "" && c.Storage.GCSBucket == "" {
		return fmt.Errorf("scraper.output_dir must be set when storage.gcs_bucket is empty")
	}
	if c.Browser.NavTimeoutSeconds <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.CloseGraceSeconds < 0 {
		return fmt.Errorf("browser.close_grace_seconds must be >= 0")
	}
	if c.Challenge.PollIntervalMs <= 0 {
		return fmt.Errorf("challenge.poll_interval_ms must be > 0")
	}
	if c.Challenge.MaxWaitSeconds < 0 {
		return fmt.Errorf("challenge.max_wait_seconds must be >= 0")
	}
	if c.Captcha.ExtensionDir != "" && c.Captcha.APIKey == "" {
		return fmt.Errorf("captcha.api_key must be set when captcha.extension_dir is set")
	}
	if c.Sources.VesselFinder.Link == "" || c.Sources.MarineTraffic.Link == "" {
		return fmt.Errorf("sources.*.link must be set")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// NavTimeout returns the per-navigation timeout.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSeconds) * time.Second
}

// CloseGrace returns how long a browser may take to exit before it is signalled.
func (c Config) CloseGrace() time.Duration {
	return time.Duration(c.Browser.CloseGraceSeconds) * time.Second
}

// RequestTimeout bounds one HTTP scrape request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ChallengePoll returns the interstitial poll interval.
func (c Config) ChallengePoll() time.Duration {
	return time.Duration(c.Challenge.PollIntervalMs) * time.Millisecond
}

// ChallengeMaxWait returns the optional interstitial cap; zero means no cap.
func (c Config) ChallengeMaxWait() time.Duration {
	return time.Duration(c.Challenge.MaxWaitSeconds) * time.Second
}

// CaptchaTimeout bounds one 2Captcha solve.
func (c Config) CaptchaTimeout() time.Duration {
	return time.Duration(c.Captcha.TimeoutSeconds) * time.Second
}

// CaptchaPolling is how often 2Captcha is polled for a result.
func (c Config) CaptchaPolling() time.Duration {
	return time.Duration(c.Captcha.PollingSeconds) * time.Second
}
