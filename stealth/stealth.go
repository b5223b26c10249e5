package stealth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/sirupsen/logrus"
)

// StealthManager masks automation indicators and supplies the randomized
// timing and pointer paths the rest of the scraper uses.
type StealthManager struct {
	config StealthConfig
	logger *logrus.Logger
	rng    *rand.Rand
}

// StealthConfig toggles page masking and sets pointer jitter.
type StealthConfig struct {
	Enabled     bool
	Fingerprint FingerprintConfig
	// Jitter is the maximum pixel deviation applied to each point of a pointer path.
	Jitter float64
}

// FingerprintConfig picks the user agent and viewport ranges to randomize.
type FingerprintConfig struct {
	RandomUserAgent   bool
	RandomViewport    bool
	MinViewportWidth  int
	MaxViewportWidth  int
	MinViewportHeight int
	MaxViewportHeight int
	UserAgents        []string
}

// Point is a pointer position in CSS pixels.
type Point struct {
	X float64
	Y float64
}

// NewStealthManager creates a new stealth manager. A nil rng is replaced by a
// time-seeded one.
func NewStealthManager(config StealthConfig, logger *logrus.Logger, rng *rand.Rand) *StealthManager {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &StealthManager{
		config: config,
		logger: logger,
		rng:    rng,
	}
}

// Rand returns the manager's random source.
func (s *StealthManager) Rand() *rand.Rand {
	return s.rng
}

type pageStep struct {
	name string
	run  func(*rod.Page) error
}

// ApplyStealth injects the stealth script and fingerprint overrides. It must
// run before the first navigation. Individual failures are logged, not returned.
func (s *StealthManager) ApplyStealth(page *rod.Page) error {
	if !s.config.Enabled {
		s.logger.Debug("Stealth disabled")
		return nil
	}

	steps := []pageStep{
		{"stealth script", func(p *rod.Page) error {
			_, err := p.EvalOnNewDocument(stealth.JS)
			return err
		}},
		{"user agent", s.applyFingerprintMasking},
	}
	if s.config.Fingerprint.RandomViewport {
		steps = append(steps, pageStep{"viewport", s.setRandomViewport})
	}

	var skipped []string
	for _, step := range steps {
		if err := step.run(page); err != nil {
			s.logger.WithError(err).WithField("feature", step.name).Warn("Stealth feature not applied")
			skipped = append(skipped, step.name)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"applied": len(steps) - len(skipped),
		"skipped": skipped,
	}).Info("Stealth applied to page")
	return nil
}

// Between returns a uniformly random duration in [min, max].
func (s *StealthManager) Between(min, max time.Duration) time.Duration {
	return Between(s.rng, min, max)
}

// Between returns a uniformly random duration in [min, max] drawn from rng.
func Between(rng *rand.Rand, min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rng.Int63n(int64(max-min)+1))
}

// Path returns a cubic Bezier pointer path of steps+1 points from (fromX, fromY)
// to (toX, toY). Intermediate points are jittered; the end points are exact.
func (s *StealthManager) Path(fromX, fromY, toX, toY float64, steps int) []Point {
	if steps < 1 {
		steps = 1
	}

	cp1X := fromX + (toX-fromX)*0.25
	cp1Y := fromY + (toY-fromY)*0.1 + s.rng.Float64()*10 - 5
	cp2X := fromX + (toX-fromX)*0.75
	cp2Y := fromY + (toY-fromY)*0.9 + s.rng.Float64()*10 - 5

	path := make([]Point, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := bezierPoint(fromX, fromY, cp1X, cp1Y, cp2X, cp2Y, toX, toY, t)
		if i > 0 && i < steps && s.config.Jitter > 0 {
			p.X += (s.rng.Float64()*2 - 1) * s.config.Jitter
		}
		path = append(path, p)
	}
	return path
}

func bezierPoint(p1x, p1y, cp1x, cp1y, cp2x, cp2y, p2x, p2y, t float64) Point {
	x := math.Pow(1-t, 3)*p1x + 3*math.Pow(1-t, 2)*t*cp1x + 3*(1-t)*math.Pow(t, 2)*cp2x + math.Pow(t, 3)*p2x
	y := math.Pow(1-t, 3)*p1y + 3*math.Pow(1-t, 2)*t*cp1y + 3*(1-t)*math.Pow(t, 2)*cp2y + math.Pow(t, 3)*p2y
	return Point{X: x, Y: y}
}

func (s *StealthManager) applyFingerprintMasking(page *rod.Page) error {
	if s.config.Fingerprint.RandomUserAgent && len(s.config.Fingerprint.UserAgents) > 0 {
		userAgent := s.config.Fingerprint.UserAgents[s.rng.Intn(len(s.config.Fingerprint.UserAgents))]
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: userAgent,
		}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
		s.logger.WithField("user_agent", userAgent).Debug("Set random user agent")
	}

	return nil
}

func (s *StealthManager) setRandomViewport(page *rod.Page) error {
	width, height := s.viewportSize()

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  width,
		Height: height,
	}); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"width":  width,
		"height": height,
	}).Debug("Set random viewport")

	return nil
}

func (s *StealthManager) viewportSize() (int, int) {
	fp := s.config.Fingerprint
	width := fp.MinViewportWidth
	if fp.MaxViewportWidth > fp.MinViewportWidth {
		width += s.rng.Intn(fp.MaxViewportWidth - fp.MinViewportWidth + 1)
	}
	height := fp.MinViewportHeight
	if fp.MaxViewportHeight > fp.MinViewportHeight {
		height += s.rng.Intn(fp.MaxViewportHeight - fp.MinViewportHeight + 1)
	}
	return width, height
}
