package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/voyage-scraper/internal/config"
	"github.com/JakeFAU/voyage-scraper/internal/voyage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Server:  config.ServerConfig{Port: 8080, RequestTimeoutSeconds: 60},
		Scraper: config.ScraperConfig{Parallel: 2, ReuseBrowser: true, OutputDir: t.TempDir(), ScreenshotDir: t.TempDir()},
		Browser: config.BrowserConfig{
			Headless:          true,
			UserAgents:        config.DefaultUserAgents,
			NavTimeoutSeconds: 30,
			CloseGraceSeconds: 1,
		},
		Challenge: config.ChallengeConfig{PollIntervalMs: 100},
		Sources: config.SourcesConfig{
			VesselFinder:  config.SourceConfig{Link: "https://vf.example/"},
			MarineTraffic: config.SourceConfig{Link: "https://mt.example/"},
		},
	}
}

func TestNewWiresLocalStack(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })

	require.Nil(t, a.Solver)
	require.NotNil(t, a.Notifications)
	require.Empty(t, a.Notifications.Messages())
	for _, source := range voyage.Sources() {
		require.True(t, a.Pipeline.Supports(source), source)
	}

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNewRejectsBadProxy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Browser.Proxies = []string{"://nope"}
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "browser config")
}

func TestNewPreparesCaptchaExtension(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "common"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "common", "config.js"),
		[]byte("export default { apiKey: null, autoSubmitForms: false, autoSolveTurnstile: false };"), 0o600))

	cfg := testConfig(t)
	cfg.Captcha = config.CaptchaConfig{
		APIKey:              "key-123",
		ExtensionDir:        src,
		ExtensionWorkingDir: filepath.Join(t.TempDir(), "ext"),
		SolveWhileWaiting:   true,
	}

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close(context.Background())) })
	require.NotNil(t, a.Solver)

	raw, err := os.ReadFile(filepath.Join(cfg.Captcha.ExtensionWorkingDir, "common", "config.js"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `apiKey: "key-123"`)
	require.Contains(t, string(raw), "autoSolveTurnstile: true")
}

func TestNewRejectsMissingExtension(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Captcha = config.CaptchaConfig{APIKey: "key", ExtensionDir: filepath.Join(t.TempDir(), "missing")}
	_, err := New(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "prepare captcha extension")
}
