// Package scraper runs the whole pipeline for one group: login, member list,
// pagination, extraction, optional enrichment, output files and bookkeeping.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/auth"
	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/enrich"
	"linkedin-group-scraper/extract"
	"linkedin-group-scraper/group"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/ratelimit"
	"linkedin-group-scraper/sink"
	"linkedin-group-scraper/stealth"
	"linkedin-group-scraper/storage"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial"
	StatusEmpty     = "empty"
	StatusFailed    = "failed"
)

// Session is one launched browser with its single page.
type Session interface {
	Driver() browser.Driver
	Close() error
}

// SessionFactory launches the session for one run.
type SessionFactory func(ctx context.Context) (Session, error)

// BrowserSessions launches a real browser per run and applies stealth before
// anything is loaded.
func BrowserSessions(opts browser.Options, sm *stealth.StealthManager, logger *logrus.Logger) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		s, err := browser.Launch(opts, logger)
		if err != nil {
			return nil, err
		}
		if err := sm.ApplyStealth(s.Page().Rod()); err != nil {
			logger.WithError(err).Warn("Failed to apply some stealth features")
		}
		return s, nil
	}
}

// Store records runs and the members they found. *storage.Database
// implements it.
type Store interface {
	StartRun(ctx context.Context, groupURL, search string) (int64, error)
	FinishRun(ctx context.Context, id int64, summary storage.RunSummary) error
	UpsertMembers(ctx context.Context, groupURL string, records []models.MemberRecord) error
}

// Config holds the run-level switches and output locations.
type Config struct {
	Enrich   bool
	URLsPath string
	CSVPath  string
	JSONPath string
}

// Components are the stages a Runner drives. Enricher, Limiter and Store may
// be nil.
type Components struct {
	Authenticator *auth.Authenticator
	Captcha       *captcha.Solver
	Navigator     *group.Navigator
	Paginator     *group.Paginator
	Extractor     *extract.Extractor
	Enricher      *enrich.Enricher
	Limiter       enrich.Limiter
	Store         Store
}

// Request names the group to scrape.
type Request struct {
	GroupURL string
	// Search filters the member list when non-empty.
	Search     string
	SkipEnrich bool
}

// RunResult is the outcome of one run. Err holds the fatal cause of a failed
// run; Warnings hold what made a run partial.
type RunResult struct {
	RunID      int64
	GroupURL   string
	MembersURL string
	Status     string
	Members    []models.MemberRecord
	Found      int
	Enriched   int
	Visited    int
	Failures   []*models.ScrapeError
	Login      *auth.LoginResult
	Captcha    *captcha.Result
	Expand     group.ExpandResult
	Outputs    []string
	Warnings   []error
	Err        error
	Duration   time.Duration
}

// Runner executes scrape runs.
type Runner struct {
	config     Config
	sessions   SessionFactory
	components Components
	logger     *logrus.Logger
}

// NewRunner creates a new runner
func NewRunner(config Config, sessions SessionFactory, components Components, logger *logrus.Logger) *Runner {
	return &Runner{
		config:     config,
		sessions:   sessions,
		components: components,
		logger:     logger,
	}
}

// Run scrapes one group. It never panics on site failures; everything that
// went wrong is reported in the result.
func (r *Runner) Run(ctx context.Context, req Request) *RunResult {
	start := time.Now()
	res := &RunResult{GroupURL: req.GroupURL, Status: StatusRunning}
	log := r.logger.WithFields(logrus.Fields{
		"group_url": req.GroupURL,
		"search":    req.Search,
	})

	if err := validateGroupURL(req.GroupURL); err != nil {
		res.Status = StatusFailed
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	log.Info("Starting scrape run")
	r.startRun(ctx, req, res)
	defer r.finishRun(ctx, res, start)

	if err := r.scrape(ctx, req, res); err != nil {
		res.Status = StatusFailed
		res.Err = err
		log.WithError(err).Error("Scrape run failed")
		return res
	}

	switch {
	case res.Found == 0:
		res.Status = StatusEmpty
	case len(res.Warnings) > 0 || len(res.Failures) > 0:
		res.Status = StatusPartial
	default:
		res.Status = StatusCompleted
	}

	log.WithFields(logrus.Fields{
		"status":   res.Status,
		"found":    res.Found,
		"enriched": res.Enriched,
		"failed":   len(res.Failures),
	}).Info("Scrape run finished")
	return res
}

func (r *Runner) scrape(ctx context.Context, req Request, res *RunResult) error {
	c := r.components

	if c.Limiter != nil {
		if err := c.Limiter.WaitForPermission(ctx, ratelimit.ActionGroupScrape); err != nil {
			return fmt.Errorf("group scrape not permitted: %w", err)
		}
	}

	sess, err := r.sessions(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrBrowser) {
			err = models.NewScrapeError(models.ErrCodeBrowser, "failed to start browser session", err)
		}
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger.WithError(err).Warn("Failed to close browser session")
		}
	}()
	d := sess.Driver()

	login, err := c.Authenticator.Login(ctx, d)
	res.Login = login
	if err != nil {
		return err
	}

	membersURL, err := c.Navigator.OpenMembers(ctx, d, req.GroupURL, req.Search)
	if err != nil {
		return err
	}
	res.MembersURL = membersURL

	captchaResult, err := c.Captcha.Resolve(ctx, d)
	res.Captcha = captchaResult
	if err != nil {
		return fmt.Errorf("member list blocked by captcha: %w", err)
	}

	expand, err := c.Paginator.Expand(ctx, d)
	res.Expand = expand
	if err != nil {
		if !errors.Is(err, models.ErrPaginationLimit) {
			return err
		}
		res.Warnings = append(res.Warnings, err)
	}

	// Rows are read only once the list is fully expanded.
	html, err := d.HTML(ctx)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowser, "failed to read member list", err)
	}
	records, err := c.Extractor.Extract(html)
	if err != nil {
		return err
	}
	records = extract.Dedupe(records)
	res.Found = len(records)

	if err := sink.WriteURLs(models.ProfileURLs(records), r.config.URLsPath); err != nil {
		return err
	}
	res.Outputs = append(res.Outputs, r.config.URLsPath)

	if r.config.Enrich && !req.SkipEnrich && c.Enricher != nil && len(records) > 0 {
		records = r.enrich(ctx, d, records, res)
	}
	res.Members = records

	if err := sink.WriteCSV(records, r.config.CSVPath); err != nil {
		return err
	}
	if err := sink.WriteJSON(records, r.config.JSONPath); err != nil {
		return err
	}
	res.Outputs = append(res.Outputs, r.config.CSVPath, r.config.JSONPath)

	if c.Store != nil {
		if err := c.Store.UpsertMembers(context.WithoutCancel(ctx), req.GroupURL, records); err != nil {
			r.logger.WithError(err).Warn("Failed to store members")
			res.Warnings = append(res.Warnings, err)
		}
	}
	return nil
}

// enrich returns the records to write: enriched members in list order, and,
// when enrichment stopped early, the members it never got to as extracted.
func (r *Runner) enrich(ctx context.Context, d browser.Driver, records []models.MemberRecord, res *RunResult) []models.MemberRecord {
	er := r.components.Enricher.Enrich(ctx, d, records)
	res.Visited = er.Visited
	res.Enriched = len(er.Records)
	res.Failures = er.Failures

	enriched := make(map[string]models.MemberRecord, len(er.Records))
	for _, rec := range er.Records {
		enriched[rec.ProfileURL] = rec
	}
	failed := make(map[string]bool, len(er.Failures))
	for _, f := range er.Failures {
		failed[f.URL] = true
	}

	if er.Stopped != nil {
		res.Warnings = append(res.Warnings, fmt.Errorf("enrichment stopped: %w", er.Stopped))
	}

	out := make([]models.MemberRecord, 0, len(records))
	for _, rec := range records {
		if e, ok := enriched[rec.ProfileURL]; ok {
			out = append(out, e)
			continue
		}
		if er.Stopped != nil && !failed[rec.ProfileURL] {
			out = append(out, rec)
		}
	}
	return out
}

func (r *Runner) startRun(ctx context.Context, req Request, res *RunResult) {
	if r.components.Store == nil {
		return
	}
	id, err := r.components.Store.StartRun(ctx, req.GroupURL, req.Search)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to record run start")
		return
	}
	res.RunID = id
}

func (r *Runner) finishRun(ctx context.Context, res *RunResult, start time.Time) {
	res.Duration = time.Since(start)
	if r.components.Store == nil || res.RunID == 0 {
		return
	}

	summary := storage.RunSummary{
		Status:          res.Status,
		MembersFound:    res.Found,
		MembersEnriched: res.Enriched,
		ProfilesVisited: res.Visited,
	}
	switch {
	case res.Err != nil:
		summary.Error = res.Err.Error()
	case len(res.Warnings) > 0:
		summary.Error = errors.Join(res.Warnings...).Error()
	}

	if err := r.components.Store.FinishRun(context.WithoutCancel(ctx), res.RunID, summary); err != nil {
		r.logger.WithError(err).Warn("Failed to record run result")
	}
}

func validateGroupURL(groupURL string) error {
	u, err := url.Parse(groupURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid group URL %q: an absolute http(s) URL is required", groupURL)
	}
	return nil
}
