package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CDP_CONFIG_FILE", "CDP_HOST", "CDP_PORT", "CDP_HTML_OUTPUT", "CDP_SCREENSHOT_OUTPUT",
		"CDP_CONNECT_TIMEOUT_MS", "CDP_CALL_TIMEOUT_MS", "CDP_HTML_SETTLE_MS", "CDP_SCREENSHOT_SETTLE_MS",
		"CDP_LOG_LEVEL", "CDP_LOG_FILE", "CDP_BIND_ADDR", "CDP_PORT_CANDIDATES",
		"CDP_PORT_AUTO_FALLBACK", "CDP_CAPTURE_DIR", "CDP_NOTIFY_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.CDPURL(); got != "http://172.30.0.1:9222" {
		t.Fatalf("CDPURL() = %q", got)
	}
	if cfg.HTMLSettle() != 2*time.Second || cfg.ScreenshotSettle() != 3*time.Second {
		t.Fatalf("settle = %s/%s; want 2s/3s", cfg.HTMLSettle(), cfg.ScreenshotSettle())
	}
	if cfg.CallTimeout() != 30*time.Second || cfg.ConnectTimeout() != 10*time.Second {
		t.Fatalf("timeouts = %s/%s", cfg.CallTimeout(), cfg.ConnectTimeout())
	}
	if filepath.Base(cfg.HTMLOutput) != "page_content.html" {
		t.Fatalf("HTMLOutput = %q", cfg.HTMLOutput)
	}
	if filepath.Base(filepath.Dir(cfg.ScreenshotOutput)) != "browser_screenshots" {
		t.Fatalf("ScreenshotOutput = %q", cfg.ScreenshotOutput)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CDP_HOST", "127.0.0.1")
	t.Setenv("CDP_PORT", "9333")
	t.Setenv("CDP_HTML_SETTLE_MS", "0")
	t.Setenv("CDP_LOG_LEVEL", "DEBUG")
	t.Setenv("CDP_PORT_CANDIDATES", " 127.0.0.1:9001 , ,127.0.0.1:9002")
	t.Setenv("CDP_PORT_AUTO_FALLBACK", "false")
	t.Setenv("CDP_CALL_TIMEOUT_MS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.CDPURL(); got != "http://127.0.0.1:9333" {
		t.Fatalf("CDPURL() = %q", got)
	}
	if cfg.HTMLSettle() != 0 {
		t.Fatalf("HTMLSettle() = %s; want 0", cfg.HTMLSettle())
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("LogLevel = %q; want debug", cfg.LogLevel)
	}
	if len(cfg.PortCandidates) != 2 || cfg.PortCandidates[1] != "127.0.0.1:9002" {
		t.Fatalf("PortCandidates = %v", cfg.PortCandidates)
	}
	if cfg.PortAutoFallback {
		t.Fatal("PortAutoFallback = true; want false")
	}
	if cfg.CallTimeoutMS != 30000 {
		t.Fatalf("CallTimeoutMS = %d; want default on parse failure", cfg.CallTimeoutMS)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cdpgrab.yaml")
	data := "cdp_host: 10.0.0.5\ncdp_port: 9229\ncall_timeout_ms: 5\nscreenshot_settle_ms: -10\ncapture_dir: /srv/captures\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Setenv("CDP_CONFIG_FILE", path)
	t.Setenv("CDP_PORT", "9444")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CDPHost != "10.0.0.5" {
		t.Fatalf("CDPHost = %q; want file value", cfg.CDPHost)
	}
	if cfg.CDPPort != 9444 {
		t.Fatalf("CDPPort = %d; want env to win over file", cfg.CDPPort)
	}
	if cfg.CallTimeoutMS != 100 {
		t.Fatalf("CallTimeoutMS = %d; want floor 100", cfg.CallTimeoutMS)
	}
	if cfg.ScreenshotSettleMS != 0 {
		t.Fatalf("ScreenshotSettleMS = %d; want 0", cfg.ScreenshotSettleMS)
	}
	if cfg.CaptureDir != "/srv/captures" {
		t.Fatalf("CaptureDir = %q", cfg.CaptureDir)
	}
	if cfg.HTMLSettleMS != 2000 {
		t.Fatalf("HTMLSettleMS = %d; want default kept", cfg.HTMLSettleMS)
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CDP_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
