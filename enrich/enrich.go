// Package enrich visits member profiles and adds the fields only the profile
// page shows.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/captcha"
	"linkedin-group-scraper/extract"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/ratelimit"
)

// Config holds the profile selectors, each list tried in order.
type Config struct {
	NameSelectors     []string
	HeadlineSelectors []string
	CountrySelectors  []string
	// Settle is the pause after each profile navigation.
	Settle time.Duration
}

// DefaultConfig returns selectors for the current profile layout. The
// obfuscated utility class LinkedIn adds to the name heading changes between
// deploys, so only stable classes are used.
func DefaultConfig() Config {
	return Config{
		NameSelectors: []string{
			"h1.text-heading-xlarge",
			"h1.inline.t-24.v-align-middle.break-words",
			"h1",
		},
		HeadlineSelectors: []string{"div.text-body-medium.break-words"},
		CountrySelectors:  []string{"span.text-body-small.inline.t-black--light.break-words"},
		Settle:            2 * time.Second,
	}
}

// Limiter grants permission for each profile visit.
type Limiter interface {
	WaitForPermission(ctx context.Context, action ratelimit.ActionType) error
}

// Result of one Enrich call. Records holds only the members whose profile
// could be read, so it may be shorter than the input.
type Result struct {
	Records  []models.MemberRecord
	Failures []*models.ScrapeError
	Visited  int
	// Stopped is set when enrichment ended before the last member: a quota,
	// an unresolved captcha or cancellation.
	Stopped error
}

// Enricher handles profile enrichment
type Enricher struct {
	config  Config
	logger  *logrus.Logger
	limiter Limiter
	captcha *captcha.Solver
}

// NewEnricher creates a new enricher. limiter and solver may be nil.
func NewEnricher(config Config, limiter Limiter, solver *captcha.Solver, logger *logrus.Logger) *Enricher {
	if config.Settle <= 0 {
		config.Settle = 2 * time.Second
	}
	return &Enricher{
		config:  config,
		logger:  logger,
		limiter: limiter,
		captcha: solver,
	}
}

// Enrich visits every record's profile in order and overlays the fields found
// there. A failing profile is recorded in Failures and left out of Records.
func (e *Enricher) Enrich(ctx context.Context, d browser.Driver, records []models.MemberRecord) *Result {
	res := &Result{Records: make([]models.MemberRecord, 0, len(records))}

	for i, record := range records {
		log := e.logger.WithFields(logrus.Fields{
			"profile_url": record.ProfileURL,
			"progress":    i + 1,
			"total":       len(records),
		})

		if err := ctx.Err(); err != nil {
			res.Stopped = err
			break
		}
		if e.limiter != nil {
			if err := e.limiter.WaitForPermission(ctx, ratelimit.ActionProfileVisit); err != nil {
				log.WithError(err).Warn("Stopping enrichment")
				res.Stopped = err
				break
			}
		}

		res.Visited++
		fields, err := e.fetch(ctx, d, record.ProfileURL)
		if err != nil {
			if errors.Is(err, models.ErrCaptchaUnresolved) || ctx.Err() != nil {
				log.WithError(err).Error("Stopping enrichment")
				res.Stopped = err
				break
			}
			failure := models.NewItemFetchError(record.ProfileURL, "failed to read profile", err)
			res.Failures = append(res.Failures, failure)
			log.WithError(err).Warn("Skipping member")
			continue
		}

		record.Overlay(fields)
		res.Records = append(res.Records, record)
		log.Debug("Profile enriched")
	}

	e.logger.WithFields(logrus.Fields{
		"enriched": len(res.Records),
		"failed":   len(res.Failures),
		"visited":  res.Visited,
		"total":    len(records),
	}).Info("Enrichment finished")

	return res
}

func (e *Enricher) fetch(ctx context.Context, d browser.Driver, profileURL string) (models.MemberRecord, error) {
	var fields models.MemberRecord

	if err := d.Navigate(ctx, profileURL); err != nil {
		return fields, err
	}
	if err := d.WaitStable(ctx); err != nil {
		e.logger.WithError(err).Debug("Profile page did not settle")
	}
	if err := d.Sleep(ctx, e.config.Settle); err != nil {
		return fields, err
	}

	if e.captcha != nil {
		if _, err := e.captcha.Resolve(ctx, d); err != nil {
			return fields, err
		}
	}

	current, err := d.URL(ctx)
	if err != nil {
		return fields, err
	}
	if reason := unavailable(current); reason != "" {
		return fields, errors.New(reason)
	}

	fields.Name = e.probe(ctx, d, e.config.NameSelectors)
	fields.Headline = e.probe(ctx, d, e.config.HeadlineSelectors)
	fields.Country = e.probe(ctx, d, e.config.CountrySelectors)
	return fields, nil
}

// probe returns the cleaned text of the first selector with non-empty text.
func (e *Enricher) probe(ctx context.Context, d browser.Driver, selectors []string) *string {
	for _, sel := range selectors {
		el, ok, err := d.Has(ctx, sel)
		if err != nil || !ok {
			continue
		}
		text, err := el.Text(ctx)
		if err != nil {
			continue
		}
		if v := extract.CleanText(text); v != "" {
			return &v
		}
	}
	return nil
}

// unavailable explains why a landing URL cannot be a readable profile.
func unavailable(landing string) string {
	switch {
	case browser.PathUnder(landing, "/login", "/uas/login", "/authwall"):
		return "redirected to login"
	case browser.PathUnder(landing, "/in/unavailable", "/404"):
		return "profile unavailable"
	case browser.PathUnder(landing, "/checkpoint"):
		return "checkpoint page shown"
	default:
		return ""
	}
}
