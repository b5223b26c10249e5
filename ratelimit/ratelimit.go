package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrLimitReached is returned when an hourly or daily quota is used up.
var ErrLimitReached = errors.New("rate limit reached")

// RateLimiter paces LinkedIn page visits and enforces hourly and daily quotas.
type RateLimiter struct {
	logger *logrus.Logger
	config Config
	rng    *rand.Rand

	mu             sync.Mutex
	limiters       map[ActionType]*rate.Limiter
	hourlyCounts   map[ActionType]int
	hourlyStart    map[ActionType]time.Time
	dailyCounts    map[ActionType]int
	lastActionTime map[ActionType]time.Time
	dailyResetTime time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Config defines rate limiting behavior
type Config struct {
	// Minimum spacing between two actions of the same type
	ProfileVisitDelay time.Duration `yaml:"profile_visit_delay"`
	GroupScrapeDelay  time.Duration `yaml:"group_scrape_delay"`

	// Daily limits
	DailyProfileVisits int `yaml:"daily_profile_visits"`
	DailyGroupScrapes  int `yaml:"daily_group_scrapes"`

	// Hourly limits
	HourlyProfileVisits int `yaml:"hourly_profile_visits"`
	HourlyGroupScrapes  int `yaml:"hourly_group_scrapes"`

	// Humanization
	RandomizeDelay bool    `yaml:"randomize_delay"`
	JitterPercent  float64 `yaml:"jitter_percent"`
}

// ActionType represents different types of LinkedIn actions
type ActionType string

const (
	ActionProfileVisit ActionType = "profile_visit"
	ActionGroupScrape  ActionType = "group_scrape"
)

// NewRateLimiter creates a new rate limiter with the given configuration
func NewRateLimiter(config Config, logger *logrus.Logger) *RateLimiter {
	rl := &RateLimiter{
		logger:         logger,
		config:         config,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		limiters:       make(map[ActionType]*rate.Limiter),
		hourlyCounts:   make(map[ActionType]int),
		hourlyStart:    make(map[ActionType]time.Time),
		dailyCounts:    make(map[ActionType]int),
		lastActionTime: make(map[ActionType]time.Time),
		now:            time.Now,
		sleep:          sleepContext,
	}
	rl.dailyResetTime = nextMidnight(rl.now())
	return rl
}

// Preload records actions performed earlier today, e.g. by a previous run,
// so they count against the daily quota.
func (rl *RateLimiter) Preload(action ActionType, count int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.resetWindows(action, rl.now())
	rl.dailyCounts[action] += count
}

// WaitForPermission waits until the action can be performed. It returns an
// error wrapping ErrLimitReached when a quota is exhausted, without waiting.
func (rl *RateLimiter) WaitForPermission(ctx context.Context, action ActionType) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.resetWindows(action, now)

	if err := rl.checkDailyLimits(action); err != nil {
		return err
	}
	if err := rl.checkHourlyLimits(action); err != nil {
		return err
	}

	reservation := rl.limiter(action).ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if rl.config.RandomizeDelay && delay > 0 {
		delay = rl.addJitter(delay)
	}

	if delay > 0 {
		rl.logger.WithFields(logrus.Fields{
			"action": string(action),
			"delay":  delay,
		}).Info("Rate limiting - waiting")

		if err := rl.sleep(ctx, delay); err != nil {
			reservation.CancelAt(now)
			return err
		}
	}

	rl.updateTracking(action)
	return nil
}

func (rl *RateLimiter) limiter(action ActionType) *rate.Limiter {
	if l, ok := rl.limiters[action]; ok {
		return l
	}
	limit := rate.Inf
	if d := rl.delayFor(action); d > 0 {
		limit = rate.Every(d)
	}
	l := rate.NewLimiter(limit, 1)
	rl.limiters[action] = l
	return l
}

func (rl *RateLimiter) delayFor(action ActionType) time.Duration {
	switch action {
	case ActionProfileVisit:
		return rl.config.ProfileVisitDelay
	case ActionGroupScrape:
		return rl.config.GroupScrapeDelay
	default:
		return 0
	}
}

// resetWindows clears counters whose hour or day has elapsed.
func (rl *RateLimiter) resetWindows(action ActionType, now time.Time) {
	if !now.Before(rl.dailyResetTime) {
		rl.dailyCounts = make(map[ActionType]int)
		rl.dailyResetTime = nextMidnight(now)
		rl.logger.Info("Daily rate limits reset")
	}
	if start, ok := rl.hourlyStart[action]; !ok || now.Sub(start) >= time.Hour {
		rl.hourlyStart[action] = now
		rl.hourlyCounts[action] = 0
	}
}

// checkDailyLimits ensures we don't exceed daily quotas
func (rl *RateLimiter) checkDailyLimits(action ActionType) error {
	var dailyLimit int
	switch action {
	case ActionProfileVisit:
		dailyLimit = rl.config.DailyProfileVisits
	case ActionGroupScrape:
		dailyLimit = rl.config.DailyGroupScrapes
	}

	if dailyLimit > 0 {
		current := rl.dailyCounts[action]
		if current >= dailyLimit {
			return fmt.Errorf("%w: daily limit for %s: %d/%d", ErrLimitReached, action, current, dailyLimit)
		}
	}
	return nil
}

// checkHourlyLimits ensures we don't exceed hourly quotas
func (rl *RateLimiter) checkHourlyLimits(action ActionType) error {
	var hourlyLimit int
	switch action {
	case ActionProfileVisit:
		hourlyLimit = rl.config.HourlyProfileVisits
	case ActionGroupScrape:
		hourlyLimit = rl.config.HourlyGroupScrapes
	}

	if hourlyLimit > 0 {
		current := rl.hourlyCounts[action]
		if current >= hourlyLimit {
			return fmt.Errorf("%w: hourly limit for %s: %d/%d", ErrLimitReached, action, current, hourlyLimit)
		}
	}
	return nil
}

// addJitter adds +/- JitterPercent of randomness to a delay
func (rl *RateLimiter) addJitter(delay time.Duration) time.Duration {
	if rl.config.JitterPercent <= 0 {
		return delay
	}

	jitter := float64(delay) * rl.config.JitterPercent / 100.0
	newDelay := float64(delay) + (rl.rng.Float64()*2-1)*jitter
	if newDelay < 0 {
		newDelay = 0
	}
	return time.Duration(newDelay)
}

func (rl *RateLimiter) updateTracking(action ActionType) {
	rl.lastActionTime[action] = rl.now()
	rl.hourlyCounts[action]++
	rl.dailyCounts[action]++
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns current rate limiting statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	stats := make(map[string]interface{})
	stats["daily_profile_visits"] = rl.dailyCounts[ActionProfileVisit]
	stats["hourly_profile_visits"] = rl.hourlyCounts[ActionProfileVisit]
	stats["daily_group_scrapes"] = rl.dailyCounts[ActionGroupScrape]
	stats["hourly_group_scrapes"] = rl.hourlyCounts[ActionGroupScrape]

	for action, lastTime := range rl.lastActionTime {
		stats["last_"+string(action)] = lastTime.Format(time.RFC3339)
	}
	stats["next_daily_reset"] = rl.dailyResetTime.Format(time.RFC3339)

	return stats
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() Config {
	return Config{
		ProfileVisitDelay:   8 * time.Second,
		GroupScrapeDelay:    60 * time.Second,
		DailyProfileVisits:  250,
		DailyGroupScrapes:   20,
		HourlyProfileVisits: 60,
		HourlyGroupScrapes:  5,
		RandomizeDelay:      true,
		JitterPercent:       20.0,
	}
}
