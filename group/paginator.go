package group

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/stealth"
)

// PaginationConfig controls how the member listing is expanded.
type PaginationConfig struct {
	LoadMoreTexts []string
	// MaxIterations bounds the loop; zero means unbounded.
	MaxIterations  int
	ScrollPauseMin time.Duration
	ScrollPauseMax time.Duration
	ClickPauseMin  time.Duration
	ClickPauseMax  time.Duration
}

// DefaultPaginationConfig returns the pauses observed to let LinkedIn render
// lazily loaded rows.
func DefaultPaginationConfig() PaginationConfig {
	return PaginationConfig{
		LoadMoreTexts:  []string{"Show more results", "Afficher plus de résultats"},
		MaxIterations:  500,
		ScrollPauseMin: 200 * time.Millisecond,
		ScrollPauseMax: 500 * time.Millisecond,
		ClickPauseMin:  1500 * time.Millisecond,
		ClickPauseMax:  3 * time.Second,
	}
}

// ExpandResult summarises one Expand call.
type ExpandResult struct {
	Iterations  int
	Clicks      int
	ScrollCalls int
	// FixedPoint is false when the loop stopped on MaxIterations.
	FixedPoint bool
	Height     int
}

// Paginator loads every row of an infinite-scroll listing.
type Paginator struct {
	config  PaginationConfig
	logger  *logrus.Logger
	stealth *stealth.StealthManager
}

// NewPaginator creates a new paginator
func NewPaginator(config PaginationConfig, sm *stealth.StealthManager, logger *logrus.Logger) *Paginator {
	return &Paginator{
		config:  config,
		logger:  logger,
		stealth: sm,
	}
}

// Expand scrolls to the bottom and clicks the load-more control until the
// content height stops changing and no control is shown. When MaxIterations
// is reached first it returns the partial result with an error wrapping
// models.ErrPaginationLimit.
func (p *Paginator) Expand(ctx context.Context, d browser.Driver) (ExpandResult, error) {
	var res ExpandResult
	pattern := TextPattern(p.config.LoadMoreTexts)
	previousHeight := 0

	for {
		if p.config.MaxIterations > 0 && res.Iterations >= p.config.MaxIterations {
			p.logger.WithFields(logrus.Fields{
				"iterations": res.Iterations,
				"height":     previousHeight,
			}).Warn("Reached maximum pagination iterations")
			return res, models.NewScrapeError(models.ErrCodePaginationLimit,
				fmt.Sprintf("listing still growing after %d iterations", res.Iterations), nil)
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if _, err := d.Eval(ctx, browser.ScrollToBottomJS); err != nil {
			return res, models.NewScrapeError(models.ErrCodeBrowser, "failed to scroll listing", err)
		}
		res.ScrollCalls++
		if err := d.Sleep(ctx, p.stealth.Between(p.config.ScrollPauseMin, p.config.ScrollPauseMax)); err != nil {
			return res, err
		}

		button, found, err := d.HasText(ctx, "button", pattern)
		if err != nil {
			p.logger.WithError(err).Debug("Load-more probe failed")
			found = false
		}
		if found {
			if err := button.Click(ctx); err != nil {
				p.logger.WithError(err).Warn("Failed to click load-more button")
			} else {
				res.Clicks++
				p.logger.WithField("clicks", res.Clicks).Debug("Clicked load-more button")
				if err := d.Sleep(ctx, p.stealth.Between(p.config.ClickPauseMin, p.config.ClickPauseMax)); err != nil {
					return res, err
				}
			}
		}

		value, err := d.Eval(ctx, browser.ScrollHeightJS)
		if err != nil {
			return res, models.NewScrapeError(models.ErrCodeBrowser, "failed to read listing height", err)
		}
		height := value.Int()
		res.Iterations++
		res.Height = height

		if height == previousHeight && !found {
			res.FixedPoint = true
			p.logger.WithFields(logrus.Fields{
				"iterations": res.Iterations,
				"clicks":     res.Clicks,
				"height":     height,
			}).Info("Member list fully loaded")
			return res, nil
		}
		previousHeight = height
	}
}
