// Package captcha detects challenge pages and runs a few best-effort
// heuristics against them. Nothing here can reliably solve a captcha: a
// strategy only reports that it tried, and whether the challenge went away is
// always decided by detecting again.
package captcha

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"linkedin-group-scraper/browser"
	"linkedin-group-scraper/models"
	"linkedin-group-scraper/stealth"
)

// Markers are probed in order; the first match wins.
var Markers = []string{
	`iframe[src*="captcha"]`,
	`div[id*="captcha"]`,
	`div[class*="captcha"]`,
	`div[class*="challenge"]`,
	`div[class*="puzzle"]`,
	`canvas[id*="captcha"]`,
	`img[src*="captcha"]`,
	`[data-test-id*="captcha"]`,
	`.recaptcha-checkbox`,
	`#recaptcha`,
	`iframe[title*="reCAPTCHA"]`,
	`div[class*="hcaptcha"]`,
	`iframe[src*="hcaptcha"]`,
	`iframe[src*="recaptcha"]`,
}

const (
	recaptchaFrameSelector = `iframe[src*="recaptcha"]`
	checkboxSelector       = `.recaptcha-checkbox-border`
	challengeFrameSelector = `iframe[src*="bframe"]`
	instructionSelector    = `.rc-imageselect-desc-wrapper`
	tileSelector           = `.rc-image-tile-wrapper img`
	verifySelector         = `#recaptcha-verify-button`

	puzzleSelector   = `[class*="puzzle"], [id*="puzzle"]`
	sliderSelector   = `div[class*="slider"], input[type="range"]`
	dragSelector     = `[class*="drag"], [draggable="true"]`
	dropZoneSelector = `[class*="drop"], [class*="target"]`
)

// Mode selects how much the solver does once a challenge is detected.
type Mode string

const (
	ModeSkip      Mode = "skip"
	ModeHeuristic Mode = "heuristic"
	ModeManual    Mode = "manual"
)

// Outcome is the result of a Resolve call.
type Outcome string

const (
	OutcomeAbsent     Outcome = "absent"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeCleared    Outcome = "cleared"
	OutcomeManual     Outcome = "manual"
	OutcomeUnresolved Outcome = "unresolved"
)

// Config holds solver settings
type Config struct {
	Mode       Mode
	GuessTiles bool
	// Headless means no window is shown, so the manual wait is skipped.
	Headless      bool
	ManualTimeout time.Duration
	PollInterval  time.Duration
	ReloadWaitMin time.Duration
	ReloadWaitMax time.Duration
}

// Result describes what happened while handling a challenge.
type Result struct {
	Outcome Outcome
	// Marker is the selector that first detected the challenge.
	Marker string
	// Strategy names the heuristic that was running when the markers disappeared.
	Strategy string
	// Attempted lists the heuristics that actually acted on the page.
	Attempted []string
}

// Solver runs the detection and resolution flow.
type Solver struct {
	config  Config
	logger  *logrus.Logger
	stealth *stealth.StealthManager
}

type strategy struct {
	name string
	run  func(ctx context.Context, d browser.Driver) (bool, error)
}

// NewSolver creates a solver. Zero durations fall back to the defaults.
func NewSolver(config Config, logger *logrus.Logger, sm *stealth.StealthManager) *Solver {
	if config.Mode == "" {
		config.Mode = ModeHeuristic
	}
	if config.ManualTimeout <= 0 {
		config.ManualTimeout = 60 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.ReloadWaitMin <= 0 {
		config.ReloadWaitMin = 10 * time.Second
	}
	if config.ReloadWaitMax < config.ReloadWaitMin {
		config.ReloadWaitMax = 30 * time.Second
	}
	return &Solver{
		config:  config,
		logger:  logger,
		stealth: sm,
	}
}

// Detect reports whether any challenge marker is present on the current page.
func Detect(ctx context.Context, d browser.Driver) (string, bool) {
	_, marker, ok := browser.HasAny(ctx, d, Markers)
	return marker, ok
}

// Resolve checks the page for a challenge and, depending on the mode, tries
// the heuristics and then waits for a human. It returns an error wrapping
// models.ErrCaptchaUnresolved when the challenge is still present at the end.
func (s *Solver) Resolve(ctx context.Context, d browser.Driver) (*Result, error) {
	marker, found := Detect(ctx, d)
	if !found {
		return &Result{Outcome: OutcomeAbsent}, nil
	}

	res := &Result{Marker: marker}
	log := s.logger.WithFields(logrus.Fields{
		"marker": marker,
		"mode":   s.config.Mode,
	})
	log.Warn("Captcha detected")

	if s.config.Mode == ModeSkip {
		res.Outcome = OutcomeSkipped
		return res, nil
	}

	if s.config.Mode == ModeHeuristic {
		for _, st := range s.strategies() {
			log.WithField("strategy", st.name).Info("Trying captcha strategy")

			attempted, err := st.run(ctx, d)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			if err != nil {
				log.WithError(err).WithField("strategy", st.name).Warn("Captcha strategy failed")
			}
			if attempted {
				res.Attempted = append(res.Attempted, st.name)
			}

			if _, still := Detect(ctx, d); !still {
				res.Outcome = OutcomeCleared
				res.Strategy = st.name
				log.WithField("strategy", st.name).Info("Captcha markers gone")
				return res, nil
			}

			if err := d.Sleep(ctx, 2*time.Second); err != nil {
				return res, err
			}
		}
		log.WithField("attempted", res.Attempted).Warn("Captcha strategies exhausted")
	}

	if s.config.Headless {
		log.Warn("Captcha needs a human but the browser is headless, rerun with --headless=false to solve it")
		res.Outcome = OutcomeUnresolved
		return res, models.NewScrapeError(models.ErrCodeCaptchaUnresolved,
			fmt.Sprintf("captcha still present in headless browser (marker %s)", marker), nil)
	}

	cleared, err := s.waitForManualSolve(ctx, d)
	if err != nil {
		return res, err
	}
	if cleared {
		res.Outcome = OutcomeManual
		log.Info("Captcha cleared during manual wait")
		return res, nil
	}

	res.Outcome = OutcomeUnresolved
	return res, models.NewScrapeError(models.ErrCodeCaptchaUnresolved,
		fmt.Sprintf("captcha still present after %s (marker %s)", s.config.ManualTimeout, marker), nil)
}

func (s *Solver) strategies() []strategy {
	return []strategy{
		{name: "checkbox", run: s.solveCheckbox},
		{name: "puzzle", run: s.solvePuzzle},
		{name: "reload", run: s.bypassWithReload},
	}
}

// waitForManualSolve polls Detect every PollInterval until the markers are
// gone or ManualTimeout has elapsed.
func (s *Solver) waitForManualSolve(ctx context.Context, d browser.Driver) (bool, error) {
	s.logger.WithField("timeout", s.config.ManualTimeout).Warn("Please solve the captcha in the browser window")

	polls := int(math.Ceil(float64(s.config.ManualTimeout) / float64(s.config.PollInterval)))
	for i := 0; i < polls; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if _, still := Detect(ctx, d); !still {
			return true, nil
		}
		if err := d.Sleep(ctx, s.config.PollInterval); err != nil {
			return false, err
		}
	}
	_, still := Detect(ctx, d)
	return !still, nil
}

func (s *Solver) solveCheckbox(ctx context.Context, d browser.Driver) (bool, error) {
	frameEl, ok, err := d.Has(ctx, recaptchaFrameSelector)
	if err != nil || !ok {
		return false, err
	}
	frame, err := frameEl.Frame(ctx)
	if err != nil {
		return false, err
	}
	checkbox, ok, err := frame.Has(ctx, checkboxSelector)
	if err != nil || !ok {
		return false, err
	}
	if err := checkbox.Click(ctx); err != nil {
		return false, fmt.Errorf("failed to click recaptcha checkbox: %w", err)
	}
	if err := d.Sleep(ctx, 2*time.Second); err != nil {
		return true, err
	}

	challengeEl, ok, err := d.Has(ctx, challengeFrameSelector)
	if err != nil || !ok || !s.config.GuessTiles {
		return true, err
	}
	challenge, err := challengeEl.Frame(ctx)
	if err != nil {
		return true, err
	}
	return true, s.guessTiles(ctx, d, challenge)
}

func (s *Solver) guessTiles(ctx context.Context, d, frame browser.Driver) error {
	if err := d.Sleep(ctx, 3*time.Second); err != nil {
		return err
	}

	instructionEl, ok, err := frame.Has(ctx, instructionSelector)
	if err != nil || !ok {
		return err
	}
	instruction, err := instructionEl.Text(ctx)
	if err != nil {
		return err
	}
	targets := TargetsFromInstruction(instruction)
	s.logger.WithFields(logrus.Fields{
		"instruction": strings.TrimSpace(instruction),
		"targets":     targets,
	}).Debug("Image challenge")
	if len(targets) == 0 {
		return nil
	}

	tiles, err := frame.Elements(ctx, tileSelector)
	if err != nil {
		return err
	}
	p := ClickProbability(targets)
	rng := s.stealth.Rand()
	clicked := 0
	for _, tile := range tiles {
		if rng.Float64() >= p {
			continue
		}
		if err := tile.Click(ctx); err != nil {
			s.logger.WithError(err).Debug("Tile click failed")
			continue
		}
		clicked++
		if err := d.Sleep(ctx, s.stealth.Between(500*time.Millisecond, time.Second)); err != nil {
			return err
		}
	}
	s.logger.WithField("clicked", clicked).Debug("Guessed image tiles")

	verify, ok, err := frame.Has(ctx, verifySelector)
	if err != nil || !ok {
		return err
	}
	if err := verify.Click(ctx); err != nil {
		return err
	}
	return d.Sleep(ctx, 3*time.Second)
}

func (s *Solver) solvePuzzle(ctx context.Context, d browser.Driver) (bool, error) {
	if _, ok, err := d.Has(ctx, puzzleSelector); err != nil || !ok {
		return false, err
	}
	if slider, ok, err := d.Has(ctx, sliderSelector); err != nil {
		return false, err
	} else if ok {
		return s.slide(ctx, d, slider)
	}
	if drag, ok, err := d.Has(ctx, dragSelector); err != nil {
		return false, err
	} else if ok {
		return s.dragToDropZone(ctx, d, drag)
	}
	return false, nil
}

func (s *Solver) slide(ctx context.Context, d browser.Driver, slider browser.Element) (bool, error) {
	box, err := slider.Box(ctx)
	if err != nil {
		return false, err
	}
	rng := s.stealth.Rand()
	startX := box.X + 10
	startY := box.Y + box.Height/2
	endX := box.X + box.Width*(0.8+rng.Float64()*0.15)
	steps := 15 + rng.Intn(11)

	if err := d.MouseMove(ctx, startX, startY); err != nil {
		return false, err
	}
	if err := d.MouseDown(ctx); err != nil {
		return false, err
	}
	for _, p := range s.stealth.Path(startX, startY, endX, startY, steps)[1:] {
		if err := d.MouseMove(ctx, p.X, p.Y); err != nil {
			return true, err
		}
		if err := d.Sleep(ctx, s.stealth.Between(20*time.Millisecond, 50*time.Millisecond)); err != nil {
			return true, err
		}
	}
	if err := d.MouseUp(ctx); err != nil {
		return true, err
	}
	return true, d.Sleep(ctx, 2*time.Second)
}

func (s *Solver) dragToDropZone(ctx context.Context, d browser.Driver, drag browser.Element) (bool, error) {
	drop, ok, err := d.Has(ctx, dropZoneSelector)
	if err != nil || !ok {
		return false, err
	}
	from, err := drag.Box(ctx)
	if err != nil {
		return false, err
	}
	to, err := drop.Box(ctx)
	if err != nil {
		return false, err
	}
	fromX, fromY := from.Center()
	toX, toY := to.Center()

	if err := d.MouseMove(ctx, fromX, fromY); err != nil {
		return false, err
	}
	if err := d.MouseDown(ctx); err != nil {
		return false, err
	}
	if err := d.Sleep(ctx, s.stealth.Between(100*time.Millisecond, 300*time.Millisecond)); err != nil {
		return true, err
	}
	if err := d.MouseMove(ctx, toX, toY); err != nil {
		return true, err
	}
	if err := d.MouseUp(ctx); err != nil {
		return true, err
	}
	return true, d.Sleep(ctx, 2*time.Second)
}

// bypassWithReload waits, reloads and, if that did not help, walks back and
// forward through history.
func (s *Solver) bypassWithReload(ctx context.Context, d browser.Driver) (bool, error) {
	wait := s.stealth.Between(s.config.ReloadWaitMin, s.config.ReloadWaitMax)
	s.logger.WithField("wait", wait).Info("Waiting before reload")
	if err := d.Sleep(ctx, wait); err != nil {
		return false, err
	}
	if err := d.Reload(ctx); err != nil {
		return true, err
	}
	if err := d.Sleep(ctx, 5*time.Second); err != nil {
		return true, err
	}
	if _, still := Detect(ctx, d); !still {
		return true, nil
	}

	if err := d.Back(ctx); err != nil {
		return true, err
	}
	if err := d.Sleep(ctx, 3*time.Second); err != nil {
		return true, err
	}
	if err := d.Forward(ctx); err != nil {
		return true, err
	}
	return true, d.Sleep(ctx, 5*time.Second)
}

var commonTargets = []string{
	"traffic lights", "cars", "bicycles", "crosswalks", "buses",
	"motorcycles", "trucks", "fire hydrants", "parking meters",
	"boats", "bridges", "mountains", "trees", "flowers",
}

// TargetsFromInstruction returns the known object names mentioned in an
// image challenge instruction.
func TargetsFromInstruction(instruction string) []string {
	instruction = strings.ToLower(instruction)
	var targets []string
	for _, t := range commonTargets {
		if strings.Contains(instruction, t) {
			targets = append(targets, t)
		}
	}
	return targets
}

// ClickProbability is the chance of clicking any single tile for the given targets.
func ClickProbability(targets []string) float64 {
	joined := strings.Join(targets, " ")
	switch {
	case strings.Contains(joined, "traffic"):
		return 0.3
	case strings.Contains(joined, "vehicle"), strings.Contains(joined, "car"):
		return 0.25
	default:
		return 0.2
	}
}
