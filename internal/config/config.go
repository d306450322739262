package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for cdpgrab.
type Config struct {
	// CDP connection settings
	CDPHost string `yaml:"cdp_host"`
	CDPPort int    `yaml:"cdp_port"`

	// Default output destinations
	HTMLOutput       string `yaml:"html_output"`
	ScreenshotOutput string `yaml:"screenshot_output"`

	// Timing, in milliseconds
	ConnectTimeoutMS   int `yaml:"connect_timeout_ms"`
	CallTimeoutMS      int `yaml:"call_timeout_ms"`
	HTMLSettleMS       int `yaml:"html_settle_ms"`
	ScreenshotSettleMS int `yaml:"screenshot_settle_ms"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	// HTTP API (serve)
	BindAddr         string   `yaml:"bind_addr"`
	PortCandidates   []string `yaml:"port_candidates"`
	PortAutoFallback bool     `yaml:"port_auto_fallback"`
	CaptureDir       string   `yaml:"capture_dir"`

	// Optional ntfy-style endpoint notified after each capture
	NotifyURL string `yaml:"notify_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CDPHost:            "172.30.0.1",
		CDPPort:            9222,
		HTMLOutput:         filepath.Join(os.TempDir(), "page_content.html"),
		ScreenshotOutput:   filepath.Join(os.TempDir(), "browser_screenshots", "screenshot.png"),
		ConnectTimeoutMS:   10000,
		CallTimeoutMS:      30000,
		HTMLSettleMS:       2000,
		ScreenshotSettleMS: 3000,
		LogLevel:           "info",
		BindAddr:           "127.0.0.1:8190",
		PortCandidates:     []string{"127.0.0.1:8191", "127.0.0.1:8192"},
		PortAutoFallback:   true,
		CaptureDir:         "./captures",
	}
}

// Load reads configuration from an optional .env file, an optional YAML file
// named by CDP_CONFIG_FILE, and environment variables, in increasing priority.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := Default()
	if path := os.Getenv("CDP_CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.CDPHost = getEnvOrDefault("CDP_HOST", cfg.CDPHost)
	cfg.CDPPort = getEnvIntOrDefault("CDP_PORT", cfg.CDPPort)
	cfg.HTMLOutput = getEnvOrDefault("CDP_HTML_OUTPUT", cfg.HTMLOutput)
	cfg.ScreenshotOutput = getEnvOrDefault("CDP_SCREENSHOT_OUTPUT", cfg.ScreenshotOutput)
	cfg.ConnectTimeoutMS = getEnvIntOrDefault("CDP_CONNECT_TIMEOUT_MS", cfg.ConnectTimeoutMS)
	cfg.CallTimeoutMS = getEnvIntOrDefault("CDP_CALL_TIMEOUT_MS", cfg.CallTimeoutMS)
	cfg.HTMLSettleMS = getEnvIntOrDefault("CDP_HTML_SETTLE_MS", cfg.HTMLSettleMS)
	cfg.ScreenshotSettleMS = getEnvIntOrDefault("CDP_SCREENSHOT_SETTLE_MS", cfg.ScreenshotSettleMS)
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("CDP_LOG_LEVEL", cfg.LogLevel))
	cfg.LogFile = getEnvOrDefault("CDP_LOG_FILE", cfg.LogFile)
	cfg.BindAddr = getEnvOrDefault("CDP_BIND_ADDR", cfg.BindAddr)
	cfg.PortCandidates = getEnvListOrDefault("CDP_PORT_CANDIDATES", cfg.PortCandidates)
	cfg.PortAutoFallback = getEnvBoolOrDefault("CDP_PORT_AUTO_FALLBACK", cfg.PortAutoFallback)
	cfg.CaptureDir = getEnvOrDefault("CDP_CAPTURE_DIR", cfg.CaptureDir)
	cfg.NotifyURL = getEnvOrDefault("CDP_NOTIFY_URL", cfg.NotifyURL)

	cfg.normalize()
	return cfg, nil
}

// mergeFile overlays values present in a YAML file onto cfg.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) normalize() {
	if c.CallTimeoutMS < 100 {
		c.CallTimeoutMS = 100
	}
	if c.ConnectTimeoutMS < 100 {
		c.ConnectTimeoutMS = 100
	}
	if c.HTMLSettleMS < 0 {
		c.HTMLSettleMS = 0
	}
	if c.ScreenshotSettleMS < 0 {
		c.ScreenshotSettleMS = 0
	}
}

// CDPURL returns the HTTP base of the debugging host.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPHost + ":" + strconv.Itoa(c.CDPPort)
}

func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

func (c *Config) HTMLSettle() time.Duration {
	return time.Duration(c.HTMLSettleMS) * time.Millisecond
}

func (c *Config) ScreenshotSettle() time.Duration {
	return time.Duration(c.ScreenshotSettleMS) * time.Millisecond
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
