package captcha

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/browser/browsertest"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/stealth"
)

const plainPage = `<html><body><h1>Feed</h1></body></html>`

func newSolver(t *testing.T, cfg Config) *Solver {
	t.Helper()
	logger, _ := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	sm := stealth.NewStealthManager(stealth.StealthConfig{Jitter: 2}, logger, rand.New(rand.NewSource(42)))
	return NewSolver(cfg, logger, sm)
}

func TestDetect(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		html  string
		found bool
	}{
		{"plain page", plainPage, false},
		{"recaptcha.net iframe", `<iframe src="https://www.recaptcha.net/recaptcha/api2/anchor?k=x"></iframe>`, true},
		{"hcaptcha iframe", `<iframe src="https://newassets.hcaptcha.com/captcha/v1/x"></iframe>`, true},
		{"reCAPTCHA title", `<iframe title="reCAPTCHA" src="about:blank"></iframe>`, true},
		{"challenge div", `<div class="challenge-dialog"></div>`, true},
		{"data-test-id", `<section data-test-id="captcha-internal"></section>`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := browsertest.New("https://www.linkedin.com/feed/", tt.html)
			marker, found := Detect(ctx, d)
			assert.Equal(t, tt.found, found)
			if tt.found {
				assert.NotEmpty(t, marker)
			}
		})
	}
}

func TestResolveAbsent(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/feed/", plainPage)
	res, err := newSolver(t, Config{}).Resolve(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, OutcomeAbsent, res.Outcome)
	assert.Empty(t, d.Sleeps)
}

func TestResolveSkipModeOnlyReports(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/", `<div id="captcha-internal"></div>`)
	res, err := newSolver(t, Config{Mode: ModeSkip}).Resolve(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, `div[id*="captcha"]`, res.Marker)
	assert.Empty(t, d.Clicks)
	assert.Zero(t, d.Reloads)
}

func TestResolveCheckboxClears(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/",
		`<iframe src="https://www.google.com/recaptcha/api2/anchor"></iframe>`)
	frame := browsertest.New("https://www.google.com/recaptcha/api2/anchor",
		`<div class="recaptcha-checkbox-border"></div>`)
	frame.OnClick = func(_ *browsertest.Driver, selector, _ string) error {
		if selector == checkboxSelector {
			d.SetHTML(plainPage)
		}
		return nil
	}
	d.Frames = map[string]*browsertest.Driver{recaptchaFrameSelector: frame}

	res, err := newSolver(t, Config{Mode: ModeHeuristic}).Resolve(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCleared, res.Outcome)
	assert.Equal(t, "checkbox", res.Strategy)
	assert.Equal(t, []string{"checkbox"}, res.Attempted)
	assert.Equal(t, []string{checkboxSelector}, frame.Clicks)
}

func TestCheckboxGuessesTilesAndVerifies(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/",
		`<iframe src="https://www.google.com/recaptcha/api2/anchor"></iframe>`+
			`<iframe src="https://www.google.com/recaptcha/api2/bframe"></iframe>`)
	anchor := browsertest.New("anchor", `<div class="recaptcha-checkbox-border"></div>`)
	challenge := browsertest.New("bframe", `
		<div class="rc-imageselect-desc-wrapper">Select all images with traffic lights</div>
		<table>
			<tr><td class="rc-image-tile-wrapper"><img src="1"></td><td class="rc-image-tile-wrapper"><img src="2"></td><td class="rc-image-tile-wrapper"><img src="3"></td></tr>
			<tr><td class="rc-image-tile-wrapper"><img src="4"></td><td class="rc-image-tile-wrapper"><img src="5"></td><td class="rc-image-tile-wrapper"><img src="6"></td></tr>
			<tr><td class="rc-image-tile-wrapper"><img src="7"></td><td class="rc-image-tile-wrapper"><img src="8"></td><td class="rc-image-tile-wrapper"><img src="9"></td></tr>
		</table>
		<button id="recaptcha-verify-button">Verify</button>`)
	d.Frames = map[string]*browsertest.Driver{
		recaptchaFrameSelector: anchor,
		challengeFrameSelector: challenge,
	}

	s := newSolver(t, Config{Mode: ModeHeuristic, GuessTiles: true})
	attempted, err := s.solveCheckbox(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, attempted)
	require.NotEmpty(t, challenge.Clicks)
	assert.Equal(t, verifySelector, challenge.Clicks[len(challenge.Clicks)-1])
	for _, c := range challenge.Clicks[:len(challenge.Clicks)-1] {
		assert.Equal(t, tileSelector, c)
	}
}

func TestSliderNeverReportsClearedWhileMarkersRemain(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/",
		`<div class="puzzle-wrapper"><div class="slider-track"></div></div>`)
	d.Boxes = map[string]browser.Box{sliderSelector: {X: 100, Y: 200, Width: 300, Height: 40}}

	s := newSolver(t, Config{Mode: ModeHeuristic, ManualTimeout: 3 * time.Second, PollInterval: time.Second})
	res, err := s.Resolve(context.Background(), d)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCaptchaUnresolved))
	assert.Equal(t, OutcomeUnresolved, res.Outcome)
	assert.Empty(t, res.Strategy)
	assert.Contains(t, res.Attempted, "puzzle")
	assert.Contains(t, res.Attempted, "reload")

	assert.Equal(t, 1, d.MouseDowns)
	assert.Equal(t, 1, d.MouseUps)
	require.GreaterOrEqual(t, len(d.MouseMoves), 16)
	start := d.MouseMoves[0]
	end := d.MouseMoves[len(d.MouseMoves)-1]
	assert.InDelta(t, 110, start[0], 1e-9)
	assert.InDelta(t, 220, start[1], 1e-9)
	assert.True(t, end[0] >= 100+300*0.8 && end[0] <= 100+300*0.95, "slider released at %v", end[0])

	assert.Equal(t, 1, d.Reloads)
	assert.Equal(t, 1, d.Backs)
	assert.Equal(t, 1, d.Forwards)
}

func TestDragPuzzleMovesToDropZone(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/",
		`<div id="puzzle"><div draggable="true">piece</div><div class="drop-slot"></div></div>`)
	d.Boxes = map[string]browser.Box{
		dragSelector:     {X: 0, Y: 0, Width: 20, Height: 20},
		dropZoneSelector: {X: 200, Y: 100, Width: 40, Height: 40},
	}

	attempted, err := newSolver(t, Config{}).solvePuzzle(context.Background(), d)

	require.NoError(t, err)
	assert.True(t, attempted)
	assert.Equal(t, [][2]float64{{10, 10}, {220, 120}}, d.MouseMoves)
}

func TestManualWaitClearedByHuman(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/", `<div class="captcha-container"></div>`)
	d.OnSleep = func(d *browsertest.Driver, _ time.Duration) {
		if len(d.Sleeps) == 3 {
			d.SetHTML(plainPage)
		}
	}

	res, err := newSolver(t, Config{Mode: ModeManual}).Resolve(context.Background(), d)

	require.NoError(t, err)
	assert.Equal(t, OutcomeManual, res.Outcome)
	assert.Empty(t, res.Attempted)
	assert.Len(t, d.Sleeps, 3)
}

func TestManualWaitTimesOut(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/", `<div class="captcha-container"></div>`)

	res, err := newSolver(t, Config{Mode: ModeManual}).Resolve(context.Background(), d)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrCaptchaUnresolved))
	assert.Equal(t, OutcomeUnresolved, res.Outcome)
	assert.Len(t, d.Sleeps, 60)
	assert.Equal(t, 60*time.Second, d.TotalSleep())
}

func TestHeadlessSkipsManualWait(t *testing.T) {
	for _, mode := range []Mode{ModeManual, ModeHeuristic} {
		t.Run(string(mode), func(t *testing.T) {
			d := browsertest.New("https://www.linkedin.com/checkpoint/", `<div class="captcha-container"></div>`)

			res, err := newSolver(t, Config{Mode: mode, Headless: true, ReloadWaitMin: time.Second, ReloadWaitMax: time.Second}).Resolve(context.Background(), d)

			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrCaptchaUnresolved))
			assert.Equal(t, OutcomeUnresolved, res.Outcome)
			assert.Less(t, d.TotalSleep(), 60*time.Second)
		})
	}
}

func TestResolveStopsOnCancelledContext(t *testing.T) {
	d := browsertest.New("https://www.linkedin.com/checkpoint/", `<div class="captcha-container"></div>`)
	ctx, cancel := context.WithCancel(context.Background())
	d.OnSleep = func(*browsertest.Driver, time.Duration) { cancel() }

	_, err := newSolver(t, Config{Mode: ModeManual}).Resolve(ctx, d)

	assert.ErrorIs(t, err, context.Canceled)
}

func TestTargetsFromInstruction(t *testing.T) {
	assert.Equal(t, []string{"traffic lights"}, TargetsFromInstruction("Select all images with Traffic Lights"))
	assert.Equal(t, []string{"cars", "buses"}, TargetsFromInstruction("Select all squares with cars or buses"))
	assert.Empty(t, TargetsFromInstruction("Click verify once there are none left"))
}

func TestClickProbability(t *testing.T) {
	assert.Equal(t, 0.3, ClickProbability([]string{"traffic lights"}))
	assert.Equal(t, 0.25, ClickProbability([]string{"cars"}))
	assert.Equal(t, 0.2, ClickProbability([]string{"boats"}))
}
