package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkedin-group-scraper/auth"
	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/browser/browsertest"
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

const (
	loginURL   = "https://www.linkedin.com/login"
	feedURL    = "https://www.linkedin.com/feed/"
	groupURL   = "https://www.linkedin.com/groups/4242/"
	membersURL = "https://www.linkedin.com/groups/4242/members/"

	adaURL   = "https://www.linkedin.com/in/ada-lovelace-1815/"
	graceURL = "https://www.linkedin.com/in/grace-hopper/"
	alanURL  = "https://www.linkedin.com/in/alan-turing-1912/"
)

type fakeSession struct {
	driver *browsertest.Driver
	closed int
}

func (s *fakeSession) Driver() browser.Driver { return s.driver }

func (s *fakeSession) Close() error {
	s.closed++
	return nil
}

type fakeLimiter struct {
	profileVisits int
	calls         []ratelimit.ActionType
}

func (l *fakeLimiter) WaitForPermission(_ context.Context, action ratelimit.ActionType) error {
	l.calls = append(l.calls, action)
	if action != ratelimit.ActionProfileVisit {
		return nil
	}
	if l.profileVisits <= 0 {
		return fmt.Errorf("%w: daily profile visits", ratelimit.ErrLimitReached)
	}
	l.profileVisits--
	return nil
}

type harness struct {
	t       *testing.T
	dir     string
	driver  *browsertest.Driver
	session *fakeSession
	limiter *fakeLimiter
	db      *storage.Database
	config  Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	fixture, err := os.ReadFile(filepath.Join("..", "extract", "testdata", "members.html"))
	require.NoError(t, err)

	d := browsertest.New("about:blank", "")
	d.Redirects = map[string]string{loginURL: feedURL}
	d.Pages = map[string]string{
		groupURL:   `<main><h1>Go Developers</h1></main>`,
		membersURL: string(fixture),
		adaURL:     profilePage("Ada Lovelace", "Analyst", "London"),
		graceURL:   profilePage("Grace Hopper", "Rear Admiral", "Arlington"),
		alanURL:    profilePage("Alan Turing", "Mathematician", "Wilmslow"),
	}
	d.Heights = []int{2400, 2400}

	logger, _ := test.NewNullLogger()
	dir := t.TempDir()
	db, err := storage.NewDatabase(filepath.Join(dir, "scraper.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &harness{
		t:       t,
		dir:     dir,
		driver:  d,
		session: &fakeSession{driver: d},
		limiter: &fakeLimiter{profileVisits: 100},
		db:      db,
		config: Config{
			Enrich:   true,
			URLsPath: filepath.Join(dir, "out", "member_urls.json"),
			CSVPath:  filepath.Join(dir, "out", "members.csv"),
			JSONPath: filepath.Join(dir, "out", "members.json"),
		},
	}
}

func profilePage(name, headline, country string) string {
	return fmt.Sprintf(`<main>
		<h1 class="text-heading-xlarge">%s</h1>
		<div class="text-body-medium break-words">%s</div>
		<span class="text-body-small inline t-black--light break-words">%s</span>
	</main>`, name, headline, country)
}

func (h *harness) runner(sessions SessionFactory) *Runner {
	h.t.Helper()
	logger, _ := test.NewNullLogger()
	sm := stealth.NewStealthManager(stealth.StealthConfig{}, logger, rand.New(rand.NewSource(3)))
	solver := captcha.NewSolver(captcha.Config{Mode: captcha.ModeSkip}, logger, sm)

	extractor, err := extract.NewExtractor(extract.DefaultConfig(), logger)
	require.NoError(h.t, err)

	if sessions == nil {
		sessions = func(context.Context) (Session, error) { return h.session, nil }
	}

	return NewRunner(h.config, sessions, Components{
		Authenticator: auth.NewAuthenticator(auth.Config{Email: "user@example.com", Password: "secret", LoginURL: loginURL}, solver, sm, logger),
		Captcha:       solver,
		Navigator:     group.NewNavigator(group.DefaultConfig(), logger),
		Paginator:     group.NewPaginator(group.DefaultPaginationConfig(), sm, logger),
		Extractor:     extractor,
		Enricher:      enrich.NewEnricher(enrich.DefaultConfig(), h.limiter, solver, logger),
		Limiter:       h.limiter,
		Store:         h.db,
	}, logger)
}

func enrichedRecords() []models.MemberRecord {
	return []models.MemberRecord{
		{ProfileURL: adaURL, Name: models.StringPtr("Ada Lovelace"), Headline: models.StringPtr("Analyst"), Country: models.StringPtr("London")},
		{ProfileURL: graceURL, Name: models.StringPtr("Grace Hopper"), Headline: models.StringPtr("Rear Admiral"), Country: models.StringPtr("Arlington")},
		{ProfileURL: alanURL, Name: models.StringPtr("Alan Turing"), Headline: models.StringPtr("Mathematician"), Country: models.StringPtr("Wilmslow")},
	}
}

func TestRunCompletesAndWritesOutputs(t *testing.T) {
	h := newHarness(t)

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL})

	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 3, res.Enriched)
	assert.Equal(t, membersURL, res.MembersURL)
	assert.True(t, res.Login.Reused)
	assert.True(t, res.Expand.FixedPoint)
	assert.Equal(t, 1, h.session.closed)

	if diff := cmp.Diff(enrichedRecords(), res.Members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}

	urls, err := sink.ReadURLs(h.config.URLsPath)
	require.NoError(t, err)
	assert.Equal(t, []string{adaURL, graceURL, alanURL}, urls)

	fromJSON, err := sink.ReadJSON(h.config.JSONPath)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(enrichedRecords(), fromJSON))

	fromCSV, err := sink.ReadCSV(h.config.CSVPath)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(enrichedRecords(), fromCSV))

	stored, err := h.db.MembersByGroup(context.Background(), groupURL)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(enrichedRecords(), stored))

	runs, err := h.db.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].ID)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, 3, runs[0].MembersFound)
	assert.Equal(t, 3, runs[0].ProfilesVisited)

	assert.Equal(t, []ratelimit.ActionType{
		ratelimit.ActionGroupScrape,
		ratelimit.ActionProfileVisit,
		ratelimit.ActionProfileVisit,
		ratelimit.ActionProfileVisit,
	}, h.limiter.calls)
}

func TestRunWithoutEnrichment(t *testing.T) {
	h := newHarness(t)

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL, SkipEnrich: true})

	require.NoError(t, res.Err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{adaURL, graceURL, alanURL}, models.ProfileURLs(res.Members))
	assert.Nil(t, res.Members[0].Headline)
	assert.NotContains(t, h.driver.Navigations, adaURL)

	data, err := os.ReadFile(h.config.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, "profile_url,name\n"+
		adaURL+",Ada Lovelace\n"+
		graceURL+",Grace Hopper\n"+
		alanURL+",Alan Turing\n", string(data))
}

func TestRunEmptyGroup(t *testing.T) {
	h := newHarness(t)
	h.driver.Pages[membersURL] = `<ul class="artdeco-list groups-members-list__results-list"></ul>`

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL})

	require.NoError(t, res.Err)
	assert.Equal(t, StatusEmpty, res.Status)
	assert.Empty(t, res.Members)

	data, err := os.ReadFile(h.config.JSONPath)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestRunFailsOnChangedLayout(t *testing.T) {
	h := newHarness(t)
	h.driver.Pages[membersURL] = `<main><div class="new-layout"></div></main>`

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL})

	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, models.ErrStructure))
	assert.Equal(t, 1, h.session.closed)
	_, err := os.Stat(h.config.CSVPath)
	assert.True(t, os.IsNotExist(err))

	runs, err := h.db.RecentRuns(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, models.ErrCodeStructure)
}

func TestRunFailsWhenLoginRejected(t *testing.T) {
	h := newHarness(t)
	h.driver.Redirects = nil
	h.driver.Pages[loginURL] = `<form>
		<input name="session_key"><input name="session_password">
		<button type="submit">Sign in</button>
	</form>`
	h.driver.OnClick = func(d *browsertest.Driver, _, _ string) error {
		d.SetHTML(`<div class="alert-error">Wrong email or password.</div>`)
		return nil
	}

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL})

	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, models.ErrAuth))
	assert.NotContains(t, h.driver.Navigations, groupURL)
	assert.Equal(t, 1, h.session.closed)
}

func TestRunPartialWhenEnrichmentStops(t *testing.T) {
	h := newHarness(t)
	h.limiter.profileVisits = 1

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL})

	require.NoError(t, res.Err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 1, res.Enriched)
	require.Len(t, res.Warnings, 1)
	assert.True(t, errors.Is(res.Warnings[0], ratelimit.ErrLimitReached))

	want := []models.MemberRecord{
		enrichedRecords()[0],
		{ProfileURL: graceURL, Name: models.StringPtr("Grace Hopper")},
		{ProfileURL: alanURL, Name: models.StringPtr("Alan Turing")},
	}
	if diff := cmp.Diff(want, res.Members); diff != "" {
		t.Errorf("members mismatch (-want +got):\n%s", diff)
	}
}

func TestRunPartialWhenProfileFails(t *testing.T) {
	h := newHarness(t)
	h.driver.NavigateErrors = map[string]error{graceURL: errors.New("net::ERR_CONNECTION_RESET")}

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL})

	require.NoError(t, res.Err)
	assert.Equal(t, StatusPartial, res.Status)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, graceURL, res.Failures[0].URL)
	assert.Equal(t, []string{adaURL, alanURL}, models.ProfileURLs(res.Members))
}

func TestRunPartialAtPaginationLimit(t *testing.T) {
	h := newHarness(t)
	h.driver.Heights = []int{1000, 2000, 3000, 4000}
	cfg := group.DefaultPaginationConfig()
	cfg.MaxIterations = 2

	r := h.runner(nil)
	logger, _ := test.NewNullLogger()
	r.components.Paginator = group.NewPaginator(cfg, stealth.NewStealthManager(stealth.StealthConfig{}, logger, rand.New(rand.NewSource(1))), logger)

	res := r.Run(context.Background(), Request{GroupURL: groupURL, SkipEnrich: true})

	require.NoError(t, res.Err)
	assert.Equal(t, StatusPartial, res.Status)
	assert.Equal(t, 3, res.Found)
	require.Len(t, res.Warnings, 1)
	assert.True(t, errors.Is(res.Warnings[0], models.ErrPaginationLimit))
}

func TestRunFailsWhenBrowserCannotStart(t *testing.T) {
	h := newHarness(t)
	sessions := func(context.Context) (Session, error) {
		return nil, errors.New("chrome not found")
	}

	res := h.runner(sessions).Run(context.Background(), Request{GroupURL: groupURL})

	assert.Equal(t, StatusFailed, res.Status)
	assert.True(t, errors.Is(res.Err, models.ErrBrowser))
	assert.Contains(t, res.Err.Error(), "chrome not found")
}

func TestRunRejectsInvalidGroupURL(t *testing.T) {
	h := newHarness(t)

	for _, in := range []string{"", "groups/4242", "ftp://www.linkedin.com/groups/4242/"} {
		res := h.runner(nil).Run(context.Background(), Request{GroupURL: in})
		assert.Equal(t, StatusFailed, res.Status, in)
		assert.Error(t, res.Err, in)
	}
	assert.Empty(t, h.driver.Navigations)

	runs, err := h.db.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunAppliesSearch(t *testing.T) {
	h := newHarness(t)
	h.driver.Pages[membersURL] = `<input placeholder="Search members">` + h.driver.Pages[membersURL]

	res := h.runner(nil).Run(context.Background(), Request{GroupURL: groupURL, Search: "compilers", SkipEnrich: true})

	require.NoError(t, res.Err)
	assert.Equal(t, map[string]string{`input[placeholder="Search members"]`: "compilers"}, h.driver.Inputs)
	assert.Equal(t, 1, h.driver.Enters)
	assert.Equal(t, 3, res.Found)
}
