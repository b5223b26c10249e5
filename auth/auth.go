package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/stealth"
)

const (
	emailSelector    = `input[name="session_key"]`
	passwordSelector = `input[name="session_password"]`
	submitSelector   = `button[type="submit"]`
)

// Login error banners, probed in order.
var errorSelectors = []string{
	".alert-error",
	".login__form-error",
	".form-error",
	"[data-test-id='error']",
}

// Failure reasons carried in the AUTH_FAILED message.
const (
	ReasonCredentials   = "credentials"
	ReasonFormMissing   = "form_missing"
	ReasonRejected      = "rejected"
	ReasonIndeterminate = "indeterminate"
)

// State of the session after a login attempt.
type State string

const (
	StateAuthenticated State = "authenticated"
	StateRejected      State = "rejected"
	StateIndeterminate State = "indeterminate"
)

// Config holds login settings
type Config struct {
	Email    string
	Password string
	LoginURL string
	// Settle is the pause between the post-submit checks and classification.
	Settle time.Duration
}

// Authenticator performs the login sequence on an already launched page.
type Authenticator struct {
	config  Config
	logger  *logrus.Logger
	captcha *captcha.Solver
	stealth *stealth.StealthManager
}

// LoginResult represents the result of a login attempt
type LoginResult struct {
	State State
	URL   string
	// Reused is set when the browser profile was already signed in.
	Reused  bool
	Captcha *captcha.Result
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(config Config, solver *captcha.Solver, sm *stealth.StealthManager, logger *logrus.Logger) *Authenticator {
	if config.LoginURL == "" {
		config.LoginURL = "https://www.linkedin.com/login"
	}
	if config.Settle <= 0 {
		config.Settle = 2 * time.Second
	}
	return &Authenticator{
		config:  config,
		logger:  logger,
		captcha: solver,
		stealth: sm,
	}
}

// Login drives the login form and classifies where the browser ended up.
// Any outcome other than StateAuthenticated is returned as an error wrapping
// models.ErrAuth, or models.ErrCaptchaUnresolved when a challenge blocked it.
func (a *Authenticator) Login(ctx context.Context, d browser.Driver) (*LoginResult, error) {
	if a.config.Email == "" || a.config.Password == "" {
		return nil, models.NewAuthError(ReasonCredentials, "email and password are required", nil)
	}

	a.logger.Info("Starting LinkedIn login process")

	if err := d.Navigate(ctx, a.config.LoginURL); err != nil {
		return nil, fmt.Errorf("failed to navigate to login page: %w", err)
	}
	a.waitStable(ctx, d)

	result := &LoginResult{}

	currentURL, err := d.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read login page URL: %w", err)
	}
	if isAuthenticatedURL(currentURL) {
		a.logger.WithField("url", currentURL).Info("Already logged in - detected by URL")
		result.State = StateAuthenticated
		result.URL = currentURL
		result.Reused = true
		return result, nil
	}

	if err := a.fillCredentials(ctx, d); err != nil {
		return nil, err
	}
	if err := a.submitLogin(ctx, d); err != nil {
		return nil, err
	}

	a.waitStable(ctx, d)

	captchaResult, err := a.captcha.Resolve(ctx, d)
	result.Captcha = captchaResult
	if err != nil {
		return result, fmt.Errorf("login blocked by captcha: %w", err)
	}

	if err := d.Sleep(ctx, a.config.Settle); err != nil {
		return result, err
	}

	return a.classify(ctx, d, result)
}

func (a *Authenticator) fillCredentials(ctx context.Context, d browser.Driver) error {
	a.logger.Info("Filling login credentials")

	if _, ok, err := d.Has(ctx, emailSelector); err != nil {
		return fmt.Errorf("failed to probe login form: %w", err)
	} else if !ok {
		return models.NewAuthError(ReasonFormMissing, "email field not found", nil)
	}

	if err := d.Sleep(ctx, a.stealth.Between(time.Second, 3*time.Second)); err != nil {
		return err
	}
	if err := d.Input(ctx, emailSelector, a.config.Email); err != nil {
		return fmt.Errorf("failed to input email: %w", err)
	}

	// Pause between email and password
	if err := d.Sleep(ctx, a.stealth.Between(time.Second, 2500*time.Millisecond)); err != nil {
		return err
	}
	if err := d.Input(ctx, passwordSelector, a.config.Password); err != nil {
		return fmt.Errorf("failed to input password: %w", err)
	}

	a.logger.Info("Credentials filled successfully")
	return nil
}

func (a *Authenticator) submitLogin(ctx context.Context, d browser.Driver) error {
	button, ok, err := d.Has(ctx, submitSelector)
	if err != nil {
		return fmt.Errorf("failed to probe login button: %w", err)
	}
	if !ok {
		return models.NewAuthError(ReasonFormMissing, "login button not found", nil)
	}

	// Human-like hesitation before clicking submit
	if err := d.Sleep(ctx, a.stealth.Between(1500*time.Millisecond, 3500*time.Millisecond)); err != nil {
		return err
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("failed to click login button: %w", err)
	}

	a.logger.Info("Login form submitted")
	return nil
}

func (a *Authenticator) classify(ctx context.Context, d browser.Driver, result *LoginResult) (*LoginResult, error) {
	currentURL, err := d.URL(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read post-login URL: %w", err)
	}
	result.URL = currentURL
	a.logger.WithField("url", currentURL).Info("Post-login URL")

	if isAuthenticatedURL(currentURL) {
		result.State = StateAuthenticated
		a.logger.Info("Login successful")
		return result, nil
	}

	if msg := loginError(ctx, d); msg != "" {
		result.State = StateRejected
		a.logger.WithField("message", msg).Error("Login rejected")
		return result, models.NewAuthError(ReasonRejected, msg, nil)
	}

	result.State = StateIndeterminate
	msg := "still on login page"
	if browser.PathUnder(currentURL, "/checkpoint") {
		msg = "checkpoint verification pending"
	}
	a.logger.WithField("url", currentURL).Warn("Login state could not be confirmed")
	return result, models.NewAuthError(ReasonIndeterminate, fmt.Sprintf("%s at %s", msg, currentURL), nil)
}

func (a *Authenticator) waitStable(ctx context.Context, d browser.Driver) {
	if err := d.WaitStable(ctx); err != nil {
		a.logger.WithError(err).Warn("Page did not settle, proceeding anyway")
	}
}

// isAuthenticatedURL reports whether url is a LinkedIn page outside the login
// and checkpoint flows.
func isAuthenticatedURL(url string) bool {
	if url == "" || strings.HasPrefix(url, "about:") {
		return false
	}
	return !browser.PathUnder(url, "/login", "/checkpoint", "/uas", "/authwall")
}

func loginError(ctx context.Context, d browser.Driver) string {
	for _, selector := range errorSelectors {
		el, ok, err := d.Has(ctx, selector)
		if err != nil || !ok {
			continue
		}
		text, err := el.Text(ctx)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return ""
}
