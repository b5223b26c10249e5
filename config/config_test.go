package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/enrich"
	"linkedin-group-scraper/extract"
	"linkedin-group-scraper/group"
	"linkedin-group-scraper/ratelimit"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LINKEDIN_EMAIL", "")
	t.Setenv("LINKEDIN_PASSWORD", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config", "config.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	if diff := cmp.Diff(DefaultConfig(), *cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
	_, err = os.Stat(path)
	require.NoError(t, err)

	// The written file loads back to the same settings.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(*cfg, *again, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("reloaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
linkedin:
  email: someone@example.com
  password: from-file
captcha:
  mode: manual
  manual_timeout: 2m
pagination:
  max_iterations: 42
group:
  join_button_texts:
    - Unirse al grupo
output:
  csv_path: ./out/group.csv
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "someone@example.com", cfg.LinkedIn.Email)
	assert.Equal(t, "from-file", cfg.LinkedIn.Password)
	assert.Equal(t, "manual", cfg.Captcha.Mode)
	assert.Equal(t, 2*time.Minute, cfg.Captcha.ManualTimeout)
	assert.Equal(t, time.Second, cfg.Captcha.PollInterval)
	assert.Equal(t, 42, cfg.Pagination.MaxIterations)
	assert.Equal(t, 200*time.Millisecond, cfg.Pagination.ScrollPauseMin)
	assert.Equal(t, []string{"Unirse al grupo"}, cfg.Group.JoinButtonTexts)
	assert.Equal(t, "./out/group.csv", cfg.Output.CSVPath)
	assert.Equal(t, "./data/members.json", cfg.Output.JSONPath)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("LINKEDIN_EMAIL", "env@example.com")
	t.Setenv("LINKEDIN_PASSWORD", "from-env")
	t.Setenv("SCRAPER_BROWSER_HEADLESS", "false")
	t.Setenv("SCRAPER_LIMITS_DAILY_PROFILE_VISITS", "12")
	path := writeConfig(t, "linkedin:\n  email: file@example.com\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "env@example.com", cfg.LinkedIn.Email)
	assert.Equal(t, "from-env", cfg.LinkedIn.Password)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 12, cfg.Limits.DailyProfileVisits)
	assert.NoError(t, cfg.ValidateCredentials())
}

func TestLoadConfigRejectsInvalidSettings(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"captcha mode":   "captcha:\n  mode: solve-everything\n",
		"max_iterations": "pagination:\n  max_iterations: 0\n",
		"base_url":       "linkedin:\n  base_url: www.linkedin.com\n",
		"logging format": "logging:\n  format: xml\n",
		"pause":          "pagination:\n  scroll_pause_min: 2s\n  scroll_pause_max: 1s\n",
	}
	for want, body := range tests {
		_, err := LoadConfig(writeConfig(t, body))
		require.Error(t, err, want)
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(writeConfig(t, "captcha: [unterminated\n"))
	assert.Error(t, err)
}

func TestValidateCredentials(t *testing.T) {
	cfg := DefaultConfig()
	assert.ErrorContains(t, cfg.ValidateCredentials(), "email")

	cfg.LinkedIn.Email = "user@example.com"
	assert.ErrorContains(t, cfg.ValidateCredentials(), "password")

	cfg.LinkedIn.Password = "secret"
	assert.NoError(t, cfg.ValidateCredentials())
}

func TestDefaultsMatchComponentDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Empty(t, cmp.Diff(group.DefaultConfig(), cfg.NavigatorOptions()))
	assert.Empty(t, cmp.Diff(group.DefaultPaginationConfig(), cfg.PaginationOptions()))
	assert.Empty(t, cmp.Diff(extract.DefaultConfig(), cfg.ExtractOptions()))
	assert.Empty(t, cmp.Diff(enrich.DefaultConfig(), cfg.EnrichOptions()))
	assert.Empty(t, cmp.Diff(ratelimit.DefaultConfig(), cfg.RateLimitOptions()))
	assert.Equal(t, captcha.ModeHeuristic, cfg.CaptchaOptions().Mode)
}

func TestCaptchaOptionsFollowHeadless(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.CaptchaOptions().Headless)

	cfg.Browser.Headless = false
	assert.False(t, cfg.CaptchaOptions().Headless)
}

func TestRunnerOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enrich.Enabled = false

	opts := cfg.RunnerOptions()

	assert.False(t, opts.Enrich)
	assert.Equal(t, "./data/member_urls.json", opts.URLsPath)
	assert.Equal(t, "./data/members.csv", opts.CSVPath)
	assert.Equal(t, "./data/members.json", opts.JSONPath)
}
