package config

import (
	"linkedin-group-scraper/auth"
	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/enrich"
	"linkedin-group-scraper/extract"
	"linkedin-group-scraper/group"
	"linkedin-group-scraper/ratelimit"
	"linkedin-group-scraper/scraper"
	"linkedin-group-scraper/stealth"
)

// BrowserOptions converts the browser section for browser.Launch.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:   c.Browser.Headless,
		UserAgent:  c.Browser.UserAgent,
		Bin:        c.Browser.ExecutablePath,
		NoSandbox:  c.Browser.NoSandbox,
		ProfileDir: c.Browser.ProfileDir,
		SlowMotion: c.Browser.SlowMo,
	}
}

// StealthOptions converts the stealth section.
func (c *Config) StealthOptions() stealth.StealthConfig {
	fp := c.Stealth.Fingerprint
	return stealth.StealthConfig{
		Enabled: c.Stealth.Enabled,
		Jitter:  c.Stealth.Jitter,
		Fingerprint: stealth.FingerprintConfig{
			RandomUserAgent:   fp.RandomUserAgent,
			RandomViewport:    fp.RandomViewport,
			MinViewportWidth:  fp.MinViewportWidth,
			MaxViewportWidth:  fp.MaxViewportWidth,
			MinViewportHeight: fp.MinViewportHeight,
			MaxViewportHeight: fp.MaxViewportHeight,
			UserAgents:        fp.UserAgents,
		},
	}
}

// AuthOptions converts the credentials and login URL.
func (c *Config) AuthOptions() auth.Config {
	return auth.Config{
		Email:    c.LinkedIn.Email,
		Password: c.LinkedIn.Password,
		LoginURL: c.LinkedIn.LoginURL,
	}
}

// CaptchaOptions converts the captcha section.
func (c *Config) CaptchaOptions() captcha.Config {
	return captcha.Config{
		Mode:          captcha.Mode(c.Captcha.Mode),
		GuessTiles:    c.Captcha.GuessTiles,
		Headless:      c.Browser.Headless,
		ManualTimeout: c.Captcha.ManualTimeout,
		PollInterval:  c.Captcha.PollInterval,
		ReloadWaitMin: c.Captcha.ReloadWaitMin,
		ReloadWaitMax: c.Captcha.ReloadWaitMax,
	}
}

// NavigatorOptions converts the group section.
func (c *Config) NavigatorOptions() group.Config {
	return group.Config{
		JoinIfNeeded:        c.Group.JoinIfNeeded,
		JoinButtonTexts:     c.Group.JoinButtonTexts,
		ContinueButtonTexts: c.Group.ContinueButtonTexts,
		SearchPlaceholders:  c.Group.SearchPlaceholders,
		Settle:              c.Group.Settle,
	}
}

// PaginationOptions converts the pagination section.
func (c *Config) PaginationOptions() group.PaginationConfig {
	return group.PaginationConfig{
		LoadMoreTexts:  c.Pagination.LoadMoreTexts,
		MaxIterations:  c.Pagination.MaxIterations,
		ScrollPauseMin: c.Pagination.ScrollPauseMin,
		ScrollPauseMax: c.Pagination.ScrollPauseMax,
		ClickPauseMin:  c.Pagination.ClickPauseMin,
		ClickPauseMax:  c.Pagination.ClickPauseMax,
	}
}

// ExtractOptions converts the extract section. Links resolve against the
// LinkedIn base URL.
func (c *Config) ExtractOptions() extract.Config {
	return extract.Config{
		BaseURL:           c.LinkedIn.BaseURL,
		ContainerSelector: c.Extract.ContainerSelector,
		ItemSelector:      c.Extract.ItemSelector,
		LinkSelector:      c.Extract.LinkSelector,
		NameSelectors:     c.Extract.NameSelectors,
	}
}

// EnrichOptions converts the enrich section.
func (c *Config) EnrichOptions() enrich.Config {
	return enrich.Config{
		NameSelectors:     c.Enrich.NameSelectors,
		HeadlineSelectors: c.Enrich.HeadlineSelectors,
		CountrySelectors:  c.Enrich.CountrySelectors,
		Settle:            c.Enrich.Settle,
	}
}

// RateLimitOptions converts the limits section.
func (c *Config) RateLimitOptions() ratelimit.Config {
	return ratelimit.Config{
		ProfileVisitDelay:   c.Limits.ProfileVisitDelay,
		GroupScrapeDelay:    c.Limits.GroupScrapeDelay,
		DailyProfileVisits:  c.Limits.DailyProfileVisits,
		DailyGroupScrapes:   c.Limits.DailyGroupScrapes,
		HourlyProfileVisits: c.Limits.HourlyProfileVisits,
		HourlyGroupScrapes:  c.Limits.HourlyGroupScrapes,
		RandomizeDelay:      c.Limits.RandomizeDelay,
		JitterPercent:       c.Limits.JitterPercent,
	}
}

// RunnerOptions converts the enrich switch and output paths.
func (c *Config) RunnerOptions() scraper.Config {
	return scraper.Config{
		Enrich:   c.Enrich.Enabled,
		URLsPath: c.Output.URLsPath,
		CSVPath:  c.Output.CSVPath,
		JSONPath: c.Output.JSONPath,
	}
}
