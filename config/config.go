package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/enrich"
	"linkedin-group-scraper/extract"
	"linkedin-group-scraper/group"
	"linkedin-group-scraper/ratelimit"
)

// Config represents the application configuration
type Config struct {
	LinkedIn   LinkedInConfig   `yaml:"linkedin" mapstructure:"linkedin"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Stealth    StealthConfig    `yaml:"stealth" mapstructure:"stealth"`
	Group      GroupConfig      `yaml:"group" mapstructure:"group"`
	Pagination PaginationConfig `yaml:"pagination" mapstructure:"pagination"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Captcha    CaptchaConfig    `yaml:"captcha" mapstructure:"captcha"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Limits     LimitsConfig     `yaml:"limits" mapstructure:"limits"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

// LinkedInConfig contains LinkedIn-specific settings
type LinkedInConfig struct {
	Email    string `yaml:"email" mapstructure:"email"`
	Password string `yaml:"password" mapstructure:"password"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
	LoginURL string `yaml:"login_url" mapstructure:"login_url"`
}

// BrowserConfig contains browser automation settings
type BrowserConfig struct {
	Headless       bool          `yaml:"headless" mapstructure:"headless"`
	SlowMo         time.Duration `yaml:"slow_mo" mapstructure:"slow_mo"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	ExecutablePath string        `yaml:"executable_path" mapstructure:"executable_path"`
	ProfileDir     string        `yaml:"profile_dir" mapstructure:"profile_dir"`
	NoSandbox      bool          `yaml:"no_sandbox" mapstructure:"no_sandbox"`
}

// StealthConfig contains anti-bot detection settings
type StealthConfig struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled"`
	Jitter      float64           `yaml:"jitter" mapstructure:"jitter"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" mapstructure:"fingerprint"`
}

// FingerprintConfig for browser fingerprint masking
type FingerprintConfig struct {
	RandomUserAgent   bool     `yaml:"random_user_agent" mapstructure:"random_user_agent"`
	RandomViewport    bool     `yaml:"random_viewport" mapstructure:"random_viewport"`
	MinViewportWidth  int      `yaml:"min_viewport_width" mapstructure:"min_viewport_width"`
	MaxViewportWidth  int      `yaml:"max_viewport_width" mapstructure:"max_viewport_width"`
	MinViewportHeight int      `yaml:"min_viewport_height" mapstructure:"min_viewport_height"`
	MaxViewportHeight int      `yaml:"max_viewport_height" mapstructure:"max_viewport_height"`
	UserAgents        []string `yaml:"user_agents" mapstructure:"user_agents"`
}

// GroupConfig holds the locale variants used on group pages
type GroupConfig struct {
	JoinIfNeeded        bool          `yaml:"join_if_needed" mapstructure:"join_if_needed"`
	JoinButtonTexts     []string      `yaml:"join_button_texts" mapstructure:"join_button_texts"`
	ContinueButtonTexts []string      `yaml:"continue_button_texts" mapstructure:"continue_button_texts"`
	SearchPlaceholders  []string      `yaml:"search_placeholders" mapstructure:"search_placeholders"`
	Settle              time.Duration `yaml:"settle" mapstructure:"settle"`
}

// PaginationConfig controls member list expansion
type PaginationConfig struct {
	LoadMoreTexts  []string      `yaml:"load_more_texts" mapstructure:"load_more_texts"`
	MaxIterations  int           `yaml:"max_iterations" mapstructure:"max_iterations"`
	ScrollPauseMin time.Duration `yaml:"scroll_pause_min" mapstructure:"scroll_pause_min"`
	ScrollPauseMax time.Duration `yaml:"scroll_pause_max" mapstructure:"scroll_pause_max"`
	ClickPauseMin  time.Duration `yaml:"click_pause_min" mapstructure:"click_pause_min"`
	ClickPauseMax  time.Duration `yaml:"click_pause_max" mapstructure:"click_pause_max"`
}

// ExtractConfig holds the member list selectors
type ExtractConfig struct {
	ContainerSelector string   `yaml:"container_selector" mapstructure:"container_selector"`
	ItemSelector      string   `yaml:"item_selector" mapstructure:"item_selector"`
	LinkSelector      string   `yaml:"link_selector" mapstructure:"link_selector"`
	NameSelectors     []string `yaml:"name_selectors" mapstructure:"name_selectors"`
}

// CaptchaConfig selects how challenges are handled
type CaptchaConfig struct {
	Mode          string        `yaml:"mode" mapstructure:"mode"`
	GuessTiles    bool          `yaml:"guess_tiles" mapstructure:"guess_tiles"`
	ManualTimeout time.Duration `yaml:"manual_timeout" mapstructure:"manual_timeout"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	ReloadWaitMin time.Duration `yaml:"reload_wait_min" mapstructure:"reload_wait_min"`
	ReloadWaitMax time.Duration `yaml:"reload_wait_max" mapstructure:"reload_wait_max"`
}

// EnrichConfig controls profile visits
type EnrichConfig struct {
	Enabled           bool          `yaml:"enabled" mapstructure:"enabled"`
	Settle            time.Duration `yaml:"settle" mapstructure:"settle"`
	NameSelectors     []string      `yaml:"name_selectors" mapstructure:"name_selectors"`
	HeadlineSelectors []string      `yaml:"headline_selectors" mapstructure:"headline_selectors"`
	CountrySelectors  []string      `yaml:"country_selectors" mapstructure:"country_selectors"`
}

// LimitsConfig contains rate limiting settings
type LimitsConfig struct {
	ProfileVisitDelay   time.Duration `yaml:"profile_visit_delay" mapstructure:"profile_visit_delay"`
	GroupScrapeDelay    time.Duration `yaml:"group_scrape_delay" mapstructure:"group_scrape_delay"`
	DailyProfileVisits  int           `yaml:"daily_profile_visits" mapstructure:"daily_profile_visits"`
	DailyGroupScrapes   int           `yaml:"daily_group_scrapes" mapstructure:"daily_group_scrapes"`
	HourlyProfileVisits int           `yaml:"hourly_profile_visits" mapstructure:"hourly_profile_visits"`
	HourlyGroupScrapes  int           `yaml:"hourly_group_scrapes" mapstructure:"hourly_group_scrapes"`
	RandomizeDelay      bool          `yaml:"randomize_delay" mapstructure:"randomize_delay"`
	JitterPercent       float64       `yaml:"jitter_percent" mapstructure:"jitter_percent"`
}

// OutputConfig names the files a run writes
type OutputConfig struct {
	URLsPath string `yaml:"urls_path" mapstructure:"urls_path"`
	CSVPath  string `yaml:"csv_path" mapstructure:"csv_path"`
	JSONPath string `yaml:"json_path" mapstructure:"json_path"`
}

// StorageConfig contains database settings
type StorageConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

// LoadConfig loads configuration from file and environment variables. A
// missing file is created with the defaults.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// SCRAPER_BROWSER_HEADLESS=false overrides browser.headless
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := createDefaultConfig(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	overrideFromEnv(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the configuration used when no file sets a value.
func DefaultConfig() Config {
	g := group.DefaultConfig()
	p := group.DefaultPaginationConfig()
	x := extract.DefaultConfig()
	e := enrich.DefaultConfig()
	l := ratelimit.DefaultConfig()

	return Config{
		LinkedIn: LinkedInConfig{
			BaseURL:  "https://www.linkedin.com/",
			LoginURL: "https://www.linkedin.com/login",
		},
		Browser: BrowserConfig{
			Headless:   true,
			SlowMo:     100 * time.Millisecond,
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			ProfileDir: "./data/browser",
		},
		Stealth: StealthConfig{
			Enabled: true,
			Jitter:  2,
			Fingerprint: FingerprintConfig{
				RandomViewport:    true,
				MinViewportWidth:  1366,
				MaxViewportWidth:  1920,
				MinViewportHeight: 768,
				MaxViewportHeight: 1080,
			},
		},
		Group: GroupConfig{
			JoinIfNeeded:        g.JoinIfNeeded,
			JoinButtonTexts:     g.JoinButtonTexts,
			ContinueButtonTexts: g.ContinueButtonTexts,
			SearchPlaceholders:  g.SearchPlaceholders,
			Settle:              g.Settle,
		},
		Pagination: PaginationConfig{
			LoadMoreTexts:  p.LoadMoreTexts,
			MaxIterations:  p.MaxIterations,
			ScrollPauseMin: p.ScrollPauseMin,
			ScrollPauseMax: p.ScrollPauseMax,
			ClickPauseMin:  p.ClickPauseMin,
			ClickPauseMax:  p.ClickPauseMax,
		},
		Extract: ExtractConfig{
			ContainerSelector: x.ContainerSelector,
			ItemSelector:      x.ItemSelector,
			LinkSelector:      x.LinkSelector,
			NameSelectors:     x.NameSelectors,
		},
		Captcha: CaptchaConfig{
			Mode:          string(captcha.ModeHeuristic),
			GuessTiles:    true,
			ManualTimeout: 60 * time.Second,
			PollInterval:  time.Second,
			ReloadWaitMin: 10 * time.Second,
			ReloadWaitMax: 30 * time.Second,
		},
		Enrich: EnrichConfig{
			Enabled:           true,
			Settle:            e.Settle,
			NameSelectors:     e.NameSelectors,
			HeadlineSelectors: e.HeadlineSelectors,
			CountrySelectors:  e.CountrySelectors,
		},
		Limits: LimitsConfig{
			ProfileVisitDelay:   l.ProfileVisitDelay,
			GroupScrapeDelay:    l.GroupScrapeDelay,
			DailyProfileVisits:  l.DailyProfileVisits,
			DailyGroupScrapes:   l.DailyGroupScrapes,
			HourlyProfileVisits: l.HourlyProfileVisits,
			HourlyGroupScrapes:  l.HourlyGroupScrapes,
			RandomizeDelay:      l.RandomizeDelay,
			JitterPercent:       l.JitterPercent,
		},
		Output: OutputConfig{
			URLsPath: "./data/member_urls.json",
			CSVPath:  "./data/members.csv",
			JSONPath: "./data/members.json",
		},
		Storage: StorageConfig{
			Path: "./data/scraper.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("linkedin.email", "")
	v.SetDefault("linkedin.password", "")
	v.SetDefault("linkedin.base_url", d.LinkedIn.BaseURL)
	v.SetDefault("linkedin.login_url", d.LinkedIn.LoginURL)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.slow_mo", d.Browser.SlowMo)
	v.SetDefault("browser.user_agent", d.Browser.UserAgent)
	v.SetDefault("browser.executable_path", "")
	v.SetDefault("browser.profile_dir", d.Browser.ProfileDir)
	v.SetDefault("browser.no_sandbox", false)

	v.SetDefault("stealth.enabled", d.Stealth.Enabled)
	v.SetDefault("stealth.jitter", d.Stealth.Jitter)
	v.SetDefault("stealth.fingerprint.random_user_agent", d.Stealth.Fingerprint.RandomUserAgent)
	v.SetDefault("stealth.fingerprint.random_viewport", d.Stealth.Fingerprint.RandomViewport)
	v.SetDefault("stealth.fingerprint.min_viewport_width", d.Stealth.Fingerprint.MinViewportWidth)
	v.SetDefault("stealth.fingerprint.max_viewport_width", d.Stealth.Fingerprint.MaxViewportWidth)
	v.SetDefault("stealth.fingerprint.min_viewport_height", d.Stealth.Fingerprint.MinViewportHeight)
	v.SetDefault("stealth.fingerprint.max_viewport_height", d.Stealth.Fingerprint.MaxViewportHeight)
	v.SetDefault("stealth.fingerprint.user_agents", []string{})

	v.SetDefault("group.join_if_needed", d.Group.JoinIfNeeded)
	v.SetDefault("group.join_button_texts", d.Group.JoinButtonTexts)
	v.SetDefault("group.continue_button_texts", d.Group.ContinueButtonTexts)
	v.SetDefault("group.search_placeholders", d.Group.SearchPlaceholders)
	v.SetDefault("group.settle", d.Group.Settle)

	v.SetDefault("pagination.load_more_texts", d.Pagination.LoadMoreTexts)
	v.SetDefault("pagination.max_iterations", d.Pagination.MaxIterations)
	v.SetDefault("pagination.scroll_pause_min", d.Pagination.ScrollPauseMin)
	v.SetDefault("pagination.scroll_pause_max", d.Pagination.ScrollPauseMax)
	v.SetDefault("pagination.click_pause_min", d.Pagination.ClickPauseMin)
	v.SetDefault("pagination.click_pause_max", d.Pagination.ClickPauseMax)

	v.SetDefault("extract.container_selector", d.Extract.ContainerSelector)
	v.SetDefault("extract.item_selector", d.Extract.ItemSelector)
	v.SetDefault("extract.link_selector", d.Extract.LinkSelector)
	v.SetDefault("extract.name_selectors", d.Extract.NameSelectors)

	v.SetDefault("captcha.mode", d.Captcha.Mode)
	v.SetDefault("captcha.guess_tiles", d.Captcha.GuessTiles)
	v.SetDefault("captcha.manual_timeout", d.Captcha.ManualTimeout)
	v.SetDefault("captcha.poll_interval", d.Captcha.PollInterval)
	v.SetDefault("captcha.reload_wait_min", d.Captcha.ReloadWaitMin)
	v.SetDefault("captcha.reload_wait_max", d.Captcha.ReloadWaitMax)

	v.SetDefault("enrich.enabled", d.Enrich.Enabled)
	v.SetDefault("enrich.settle", d.Enrich.Settle)
	v.SetDefault("enrich.name_selectors", d.Enrich.NameSelectors)
	v.SetDefault("enrich.headline_selectors", d.Enrich.HeadlineSelectors)
	v.SetDefault("enrich.country_selectors", d.Enrich.CountrySelectors)

	v.SetDefault("limits.profile_visit_delay", d.Limits.ProfileVisitDelay)
	v.SetDefault("limits.group_scrape_delay", d.Limits.GroupScrapeDelay)
	v.SetDefault("limits.daily_profile_visits", d.Limits.DailyProfileVisits)
	v.SetDefault("limits.daily_group_scrapes", d.Limits.DailyGroupScrapes)
	v.SetDefault("limits.hourly_profile_visits", d.Limits.HourlyProfileVisits)
	v.SetDefault("limits.hourly_group_scrapes", d.Limits.HourlyGroupScrapes)
	v.SetDefault("limits.randomize_delay", d.Limits.RandomizeDelay)
	v.SetDefault("limits.jitter_percent", d.Limits.JitterPercent)

	v.SetDefault("output.urls_path", d.Output.URLsPath)
	v.SetDefault("output.csv_path", d.Output.CSVPath)
	v.SetDefault("output.json_path", d.Output.JSONPath)

	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
}

// createDefaultConfig creates a default configuration file. Credentials are
// left out; they come from LINKEDIN_EMAIL and LINKEDIN_PASSWORD.
func createDefaultConfig(configPath string) error {
	config := DefaultConfig()

	data, err := yaml.Marshal(&config)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv(v *viper.Viper) {
	if email := os.Getenv("LINKEDIN_EMAIL"); email != "" {
		v.Set("linkedin.email", email)
	}
	if password := os.Getenv("LINKEDIN_PASSWORD"); password != "" {
		v.Set("linkedin.password", password)
	}
}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	base, err := url.Parse(c.LinkedIn.BaseURL)
	if err != nil || !base.IsAbs() {
		return fmt.Errorf("linkedin base_url must be an absolute URL, got %q", c.LinkedIn.BaseURL)
	}
	switch captcha.Mode(c.Captcha.Mode) {
	case captcha.ModeSkip, captcha.ModeHeuristic, captcha.ModeManual:
	default:
		return fmt.Errorf("captcha mode must be one of skip, heuristic, manual, got %q", c.Captcha.Mode)
	}
	if c.Pagination.MaxIterations <= 0 {
		return fmt.Errorf("pagination max_iterations must be positive")
	}
	if c.Pagination.ScrollPauseMax < c.Pagination.ScrollPauseMin || c.Pagination.ClickPauseMax < c.Pagination.ClickPauseMin {
		return fmt.Errorf("pagination pause maximums must not be below their minimums")
	}
	if c.Limits.DailyProfileVisits <= 0 || c.Limits.HourlyProfileVisits <= 0 {
		return fmt.Errorf("profile visit limits must be positive")
	}
	if c.Limits.DailyGroupScrapes <= 0 || c.Limits.HourlyGroupScrapes <= 0 {
		return fmt.Errorf("group scrape limits must be positive")
	}
	if c.Output.URLsPath == "" || c.Output.CSVPath == "" || c.Output.JSONPath == "" {
		return fmt.Errorf("output paths are required")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

// ValidateCredentials checks that a login can be attempted.
func (c *Config) ValidateCredentials() error {
	if c.LinkedIn.Email == "" {
		return fmt.Errorf("linkedin email is required (set LINKEDIN_EMAIL)")
	}
	if c.LinkedIn.Password == "" {
		return fmt.Errorf("linkedin password is required (set LINKEDIN_PASSWORD)")
	}
	return nil
}
