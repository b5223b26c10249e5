package browser

import (
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/models"
)

// Options controls how the browser process is launched.
type Options struct {
	Headless  bool
	UserAgent string
	// Bin is an explicit browser executable; empty lets rod download or locate one.
	Bin       string
	NoSandbox bool
	// ProfileDir is the browser user data directory, kept across runs.
	ProfileDir string
	SlowMotion time.Duration
}

// Session owns one browser process and its single page. It is exclusively
// owned by a run and must be closed on every exit path.
type Session struct {
	browser    *rod.Browser
	launcher   *launcher.Launcher
	profileDir string
	page       *Page
	logger     *logrus.Logger
}

// Launch starts a browser, opens one tab and arranges for JavaScript dialogs
// to be dismissed as they open.
func Launch(opts Options, logger *logrus.Logger) (*Session, error) {
	logger.WithField("headless", opts.Headless).Info("Initializing browser")

	l := launcher.New()
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	l = l.Leakless(false).
		Headless(opts.Headless).
		NoSandbox(opts.NoSandbox).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-features", "VizDisplayCompositor").
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-ipc-flooding-protection").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-default-apps").
		Set("disable-prompt-on-repost").
		Set("disable-hang-monitor").
		Set("disable-sync").
		Set("disable-dev-shm-usage")
	l.Delete("enable-automation")

	if opts.UserAgent != "" {
		l = l.Set("user-agent", opts.UserAgent)
	}

	// A stable profile keeps cookies, so a signed-in session is reused by the
	// next run.
	if opts.ProfileDir != "" {
		if err := os.MkdirAll(opts.ProfileDir, 0755); err != nil {
			return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to create user data directory", err)
		}
		l = l.UserDataDir(opts.ProfileDir)
	}

	controlURL, err := l.Launch()
	if err != nil {
		release(l, opts.ProfileDir)
		return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to launch browser", err)
	}

	b := rod.New().ControlURL(controlURL)
	if opts.SlowMotion > 0 {
		b = b.SlowMotion(opts.SlowMotion)
	}
	if err := b.Connect(); err != nil {
		release(l, opts.ProfileDir)
		return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to connect to browser", err)
	}

	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		release(l, opts.ProfileDir)
		return nil, models.NewScrapeError(models.ErrCodeBrowser, "failed to create page", err)
	}

	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		logger.WithField("message", e.Message).Debug("Dismissing JavaScript dialog")
		_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(page)
	})()

	logger.Info("Browser initialized successfully")
	return &Session{
		browser:    b,
		launcher:   l,
		profileDir: opts.ProfileDir,
		page:       NewPage(page),
		logger:     logger,
	}, nil
}

// release kills a started browser process. Without a profile dir the
// launcher's throwaway user data directory is removed too.
func release(l *launcher.Launcher, profileDir string) {
	if l.PID() == 0 {
		return
	}
	l.Kill()
	if profileDir == "" {
		l.Cleanup()
	}
}

// Page returns the session's only page.
func (s *Session) Page() *Page {
	return s.page
}

// Driver returns the session's page as a Driver.
func (s *Session) Driver() Driver {
	return s.page
}

// Close kills the browser. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser = nil
	if err != nil {
		release(s.launcher, s.profileDir)
		return fmt.Errorf("failed to close browser: %w", err)
	}
	if s.profileDir == "" {
		s.launcher.Cleanup()
	}
	s.logger.Info("Browser closed")
	return nil
}
