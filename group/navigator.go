// Package group opens a group's member listing and loads it completely.
package group

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/models"
)

// Config holds the locale variants and waits used to reach the member list.
type Config struct {
	JoinIfNeeded        bool
	JoinButtonTexts     []string
	ContinueButtonTexts []string
	SearchPlaceholders  []string
	// Settle is the pause after each navigation.
	Settle time.Duration
}

// DefaultConfig returns the English and French variants seen on LinkedIn.
func DefaultConfig() Config {
	return Config{
		JoinIfNeeded:        true,
		JoinButtonTexts:     []string{"Join group", "Rejoindre le groupe"},
		ContinueButtonTexts: []string{"Continue", "Continuer"},
		SearchPlaceholders:  []string{"Search members", "Chercher des membres"},
		Settle:              2 * time.Second,
	}
}

// Navigator handles group page navigation
type Navigator struct {
	config Config
	logger *logrus.Logger
}

// NewNavigator creates a new group navigator
func NewNavigator(config Config, logger *logrus.Logger) *Navigator {
	if config.Settle <= 0 {
		config.Settle = 2 * time.Second
	}
	return &Navigator{
		config: config,
		logger: logger,
	}
}

// MembersURL returns the member listing URL of a group. The group URL is
// treated as a directory, so ".../groups/123" and ".../groups/123/" both
// yield ".../groups/123/members/".
func MembersURL(groupURL string) string {
	u := strings.TrimSpace(groupURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimSuffix(u, "/")
	if strings.HasSuffix(u, "/members") {
		return u + "/"
	}
	return u + "/members/"
}

// OpenMembers navigates to the group, joins it when a join control is shown,
// opens the member listing and applies the optional search filter. It returns
// the URL the listing was opened at.
func (n *Navigator) OpenMembers(ctx context.Context, d browser.Driver, groupURL, search string) (string, error) {
	log := n.logger.WithField("group_url", groupURL)
	log.Info("Opening group")

	if err := n.navigate(ctx, d, groupURL); err != nil {
		return "", err
	}

	if n.config.JoinIfNeeded {
		if err := n.joinIfNeeded(ctx, d); err != nil {
			return "", err
		}
	}

	membersURL := MembersURL(groupURL)
	log.WithField("members_url", membersURL).Info("Opening member list")
	if err := n.navigate(ctx, d, membersURL); err != nil {
		return "", err
	}

	if search != "" {
		if err := n.applySearch(ctx, d, search); err != nil {
			return "", err
		}
	}

	return membersURL, nil
}

func (n *Navigator) navigate(ctx context.Context, d browser.Driver, url string) error {
	if err := d.Navigate(ctx, url); err != nil {
		return models.NewScrapeError(models.ErrCodeBrowser, "failed to open "+url, err)
	}
	if err := d.WaitStable(ctx); err != nil {
		n.logger.WithError(err).Debug("Page did not settle, proceeding anyway")
	}
	if err := d.Sleep(ctx, n.config.Settle); err != nil {
		return err
	}
	return n.handleLoginRedirect(ctx, d)
}

// handleLoginRedirect fails when the site bounced an unauthenticated session
// back to the login page.
func (n *Navigator) handleLoginRedirect(ctx context.Context, d browser.Driver) error {
	current, err := d.URL(ctx)
	if err != nil {
		return fmt.Errorf("failed to read current URL: %w", err)
	}
	if browser.PathUnder(current, "/login", "/uas/login", "/authwall") {
		return models.NewAuthError("session_lost", "redirected to "+current, nil)
	}
	return nil
}

func (n *Navigator) joinIfNeeded(ctx context.Context, d browser.Driver) error {
	join, ok, err := d.HasText(ctx, "button", TextPattern(n.config.JoinButtonTexts))
	if err != nil {
		n.logger.WithError(err).Debug("Join button probe failed")
		return nil
	}
	if !ok {
		return nil
	}

	n.logger.Info("Not a member yet, joining group")
	if err := join.Click(ctx); err != nil {
		n.logger.WithError(err).Warn("Failed to click join button")
		return nil
	}
	if err := d.Sleep(ctx, time.Second); err != nil {
		return err
	}

	cont, ok, err := d.HasText(ctx, "button", TextPattern(n.config.ContinueButtonTexts))
	if err != nil || !ok {
		return nil
	}
	if err := cont.Click(ctx); err != nil {
		n.logger.WithError(err).Warn("Failed to confirm join dialog")
	}
	return nil
}

func (n *Navigator) applySearch(ctx context.Context, d browser.Driver, search string) error {
	selectors := make([]string, 0, len(n.config.SearchPlaceholders))
	for _, p := range n.config.SearchPlaceholders {
		selectors = append(selectors, fmt.Sprintf(`input[placeholder=%q]`, p))
	}

	_, selector, ok := browser.HasAny(ctx, d, selectors)
	if !ok {
		return models.NewStructureError(strings.Join(selectors, ", "))
	}

	n.logger.WithFields(logrus.Fields{
		"search":   search,
		"selector": selector,
	}).Info("Filtering members")

	if err := d.Input(ctx, selector, search); err != nil {
		return fmt.Errorf("failed to type member search: %w", err)
	}
	if err := d.PressEnter(ctx); err != nil {
		return fmt.Errorf("failed to submit member search: %w", err)
	}
	if err := d.WaitStable(ctx); err != nil {
		n.logger.WithError(err).Debug("Page did not settle after search")
	}
	return d.Sleep(ctx, n.config.Settle)
}

// TextPattern builds a case-insensitive JavaScript regular expression
// matching text that contains any of texts.
func TextPattern(texts []string) string {
	quoted := make([]string, 0, len(texts))
	for _, t := range texts {
		quoted = append(quoted, regexp.QuoteMeta(strings.TrimSpace(t)))
	}
	return "/(" + strings.Join(quoted, "|") + ")/i"
}
