package extract

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkedin-group-scraper/browser/browsertest"
	"linkedin-group-scraper/group"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/stealth"
)

func newExtractor(t *testing.T) *Extractor {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e, err := NewExtractor(DefaultConfig(), logger)
	require.NoError(t, err)
	return e
}

func fixtureRecords() []models.MemberRecord {
	return []models.MemberRecord{
		{ProfileURL: "https://www.linkedin.com/in/ada-lovelace-1815/", Name: models.StringPtr("Ada Lovelace")},
		{ProfileURL: "https://www.linkedin.com/in/grace-hopper/", Name: models.StringPtr("Grace Hopper")},
		{ProfileURL: "https://www.linkedin.com/in/alan-turing-1912/", Name: models.StringPtr("Alan Turing")},
	}
}

func listing(rows ...string) string {
	return `<html><body><ul class="artdeco-list groups-members-list__results-list">` +
		strings.Join(rows, "") + `</ul></body></html>`
}

func row(href, name string) string {
	return fmt.Sprintf(`<li><a class="ui-entity-action-row__link" href=%q><div class="artdeco-entity-lockup__title">%s</div></a></li>`, href, name)
}

func TestExtractFixture(t *testing.T) {
	html, err := os.ReadFile("testdata/members.html")
	require.NoError(t, err)

	got, err := newExtractor(t).Extract(string(html))

	require.NoError(t, err)
	if diff := cmp.Diff(fixtureRecords(), got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractWithCustomSelectors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	e, err := NewExtractor(Config{
		BaseURL:           "https://www.linkedin.com/",
		ContainerSelector: "div#members",
		ItemSelector:      "section.member",
		LinkSelector:      "a[href*='/in/']",
		NameSelectors:     []string{"span.title", "strong"},
	}, logger)
	require.NoError(t, err)

	got, err := e.Extract(`<div id="members">
		<section class="member"><a href="/in/ada/"><span class="title"> Ada  Lovelace </span></a></section>
		<section class="member"><a href="/in/grace/?trk=x"><strong>Grace Hopper</strong></a></section>
		<section class="ad"><a href="/in/sponsor/">Sponsored</a></section>
	</div>`)

	require.NoError(t, err)
	want := []models.MemberRecord{
		{ProfileURL: "https://www.linkedin.com/in/ada/", Name: models.StringPtr("Ada Lovelace")},
		{ProfileURL: "https://www.linkedin.com/in/grace/", Name: models.StringPtr("Grace Hopper")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractReturnsOneRecordPerRow(t *testing.T) {
	e := newExtractor(t)
	for _, n := range []int{0, 1, 7, 40} {
		rows := make([]string, 0, n)
		for i := 0; i < n; i++ {
			rows = append(rows, row(fmt.Sprintf("/in/member-%d/", i), fmt.Sprintf("Member %d", i)))
		}

		got, err := e.Extract(listing(rows...))

		require.NoError(t, err)
		require.NotNil(t, got)
		require.Len(t, got, n)
		for _, r := range got {
			assert.True(t, strings.HasPrefix(r.ProfileURL, "https://www.linkedin.com/in/member-"))
		}
	}
}

func TestExtractMissingContainer(t *testing.T) {
	got, err := newExtractor(t).Extract(`<html><body><p>You don't have access to this group.</p></body></html>`)

	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, models.ErrStructure))
}

func TestExtractPartialRows(t *testing.T) {
	html := listing(
		`<li><a class="ui-entity-action-row__link" href="/in/no-name/"></a></li>`,
		`<li><div class="artdeco-entity-lockup__title">No Link</div></li>`,
		`<li><a class="ui-entity-action-row__link" href="/in/fallback/"><span class="ui-entity-action-row__title">Fallback Title</span></a></li>`,
		`<li><a class="ui-entity-action-row__link" href="#">Anchor only</a></li>`,
	)

	got, err := newExtractor(t).Extract(html)

	require.NoError(t, err)
	want := []models.MemberRecord{
		{ProfileURL: "https://www.linkedin.com/in/no-name/"},
		{ProfileURL: "https://www.linkedin.com/in/fallback/", Name: models.StringPtr("Fallback Title")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractResolvesAgainstBaseURL(t *testing.T) {
	logger, _ := test.NewNullLogger()
	cfg := DefaultConfig()
	cfg.BaseURL = "https://fr.linkedin.com/"
	e, err := NewExtractor(cfg, logger)
	require.NoError(t, err)

	got, err := e.Extract(listing(row("in/relative/", "Relative"), row("//www.linkedin.com/in/scheme-relative/", "Scheme")))

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://fr.linkedin.com/in/relative/", got[0].ProfileURL)
	assert.Equal(t, "https://www.linkedin.com/in/scheme-relative/", got[1].ProfileURL)
}

func TestNewExtractorRejectsBadConfig(t *testing.T) {
	logger, _ := test.NewNullLogger()

	cfg := DefaultConfig()
	cfg.BaseURL = "/relative"
	_, err := NewExtractor(cfg, logger)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ContainerSelector = "ul[["
	_, err = NewExtractor(cfg, logger)
	assert.Error(t, err)
}

func TestDedupeKeepsFirstAndFillsMissing(t *testing.T) {
	in := []models.MemberRecord{
		{ProfileURL: "https://www.linkedin.com/in/a/"},
		{ProfileURL: "https://www.linkedin.com/in/b/", Name: models.StringPtr("B")},
		{ProfileURL: "https://www.linkedin.com/in/a/", Name: models.StringPtr("A")},
		{ProfileURL: "https://www.linkedin.com/in/b/", Name: models.StringPtr("B again")},
	}

	got := Dedupe(in)

	want := []models.MemberRecord{
		{ProfileURL: "https://www.linkedin.com/in/a/", Name: models.StringPtr("A")},
		{ProfileURL: "https://www.linkedin.com/in/b/", Name: models.StringPtr("B")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Dedupe() mismatch (-want +got):\n%s", diff)
	}
}

// The listing is rendered once and does not grow: the paginator must reach
// its fixed point before extraction sees all three rows.
func TestExpandThenExtract(t *testing.T) {
	html, err := os.ReadFile("testdata/members.html")
	require.NoError(t, err)

	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sm := stealth.NewStealthManager(stealth.StealthConfig{}, logger, rand.New(rand.NewSource(1)))
	d := browsertest.New("https://www.linkedin.com/groups/42/members/", string(html))
	d.Heights = []int{2400, 2400}

	res, err := group.NewPaginator(group.DefaultPaginationConfig(), sm, logger).Expand(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, res.FixedPoint)
	assert.Equal(t, 2, res.Iterations)
	assert.Zero(t, res.Clicks)

	page, err := d.HTML(context.Background())
	require.NoError(t, err)
	got, err := newExtractor(t).Extract(page)
	require.NoError(t, err)
	if diff := cmp.Diff(fixtureRecords(), got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}
