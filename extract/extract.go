// Package extract parses member rows out of a fully loaded group listing.
package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/models"
)

// Config holds the listing selectors. The defaults match the LinkedIn group
// members page.
type Config struct {
	BaseURL           string
	ContainerSelector string
	ItemSelector      string
	LinkSelector      string
	// NameSelectors are tried in order within each row.
	NameSelectors []string
}

// DefaultConfig returns the selectors of the current LinkedIn layout.
func DefaultConfig() Config {
	return Config{
		BaseURL:           "https://www.linkedin.com/",
		ContainerSelector: "ul.artdeco-list.groups-members-list__results-list",
		ItemSelector:      "li",
		LinkSelector:      "a.ui-entity-action-row__link",
		NameSelectors: []string{
			".artdeco-entity-lockup__title",
			".ui-entity-action-row__title",
		},
	}
}

// Extractor turns listing HTML into member records.
type Extractor struct {
	config    Config
	logger    *logrus.Logger
	base      *url.URL
	container cascadia.Selector
	item      cascadia.Selector
	link      cascadia.Selector
	names     []cascadia.Selector
}

// NewExtractor compiles the configured selectors.
func NewExtractor(config Config, logger *logrus.Logger) (*Extractor, error) {
	base, err := url.Parse(config.BaseURL)
	if err != nil || !base.IsAbs() {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}

	e := &Extractor{config: config, logger: logger, base: base}
	if e.container, err = cascadia.Compile(config.ContainerSelector); err != nil {
		return nil, fmt.Errorf("invalid container selector: %w", err)
	}
	if e.item, err = cascadia.Compile(config.ItemSelector); err != nil {
		return nil, fmt.Errorf("invalid item selector: %w", err)
	}
	if e.link, err = cascadia.Compile(config.LinkSelector); err != nil {
		return nil, fmt.Errorf("invalid link selector: %w", err)
	}
	for _, s := range config.NameSelectors {
		m, err := cascadia.Compile(s)
		if err != nil {
			return nil, fmt.Errorf("invalid name selector %q: %w", s, err)
		}
		e.names = append(e.names, m)
	}
	return e, nil
}

// Extract returns one record per listing row that carries a profile link.
// Rows without a link are skipped, rows without a name keep a nil Name. A
// missing list container is reported as a structure error; an empty
// container yields an empty, non-nil slice.
func (e *Extractor) Extract(html string) ([]models.MemberRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}

	container := doc.FindMatcher(e.container).First()
	if container.Length() == 0 {
		return nil, models.NewStructureError(e.config.ContainerSelector)
	}

	records := make([]models.MemberRecord, 0)
	skipped := 0
	container.ChildrenMatcher(e.item).Each(func(i int, row *goquery.Selection) {
		href, ok := row.FindMatcher(e.link).First().Attr("href")
		profileURL := ""
		if ok {
			profileURL = e.resolve(href)
		}
		if profileURL == "" {
			skipped++
			return
		}
		records = append(records, models.MemberRecord{
			ProfileURL: profileURL,
			Name:       models.StringPtr(e.name(row)),
		})
	})

	e.logger.WithFields(logrus.Fields{
		"members": len(records),
		"skipped": skipped,
	}).Info("Extracted member rows")

	return records, nil
}

func (e *Extractor) name(row *goquery.Selection) string {
	for _, m := range e.names {
		if text := CleanText(row.FindMatcher(m).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// resolve makes href absolute against the base URL and drops the query and
// fragment, which LinkedIn uses for tracking parameters only.
func (e *Extractor) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		e.logger.WithError(err).WithField("href", href).Debug("Skipping unparsable profile link")
		return ""
	}
	abs := e.base.ResolveReference(ref)
	abs.RawQuery = ""
	abs.Fragment = ""
	return abs.String()
}

// CleanText collapses runs of whitespace and trims the result.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Dedupe removes records sharing a profile URL. The first occurrence is kept
// in place and missing fields are filled from later duplicates.
func Dedupe(records []models.MemberRecord) []models.MemberRecord {
	out := make([]models.MemberRecord, 0, len(records))
	index := make(map[string]int, len(records))
	for _, r := range records {
		if i, seen := index[r.ProfileURL]; seen {
			out[i].FillMissing(r)
			continue
		}
		index[r.ProfileURL] = len(out)
		out = append(out, r)
	}
	return out
}
