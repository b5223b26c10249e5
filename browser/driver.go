// Package browser defines the page-driving capability every stage of a run
// uses, and its go-rod implementation.
package browser

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/ysmood/gson"
)

// Scripts evaluated through Driver.Eval. The fake driver in browsertest
// recognises them by value.
const (
	ScrollToBottomJS = `() => window.scrollTo(0, document.body.scrollHeight)`
	ScrollHeightJS   = `() => document.body.scrollHeight`
)

// Box is an element's bounding box in CSS pixels.
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the middle point of the box.
func (b Box) Center() (float64, float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Element is a handle on one DOM node.
type Element interface {
	Click(ctx context.Context) error
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Box(ctx context.Context) (Box, error)
	// Frame returns a driver for the document of an iframe element.
	Frame(ctx context.Context) (Driver, error)
}

// Driver is the headless-browser capability set: navigation, non-waiting
// element lookup, input, script evaluation, content snapshots and pointer
// primitives. Lookups never wait; callers decide how long to pause.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	// WaitStable blocks until the page load event fired and the DOM stopped changing.
	WaitStable(ctx context.Context) error
	URL(ctx context.Context) (string, error)

	// Has returns the first element matching selector, if any.
	Has(ctx context.Context, selector string) (Element, bool, error)
	// HasText returns the first element matching selector whose text matches
	// the JavaScript regular expression pattern.
	HasText(ctx context.Context, selector, pattern string) (Element, bool, error)
	// Elements returns every element currently matching selector.
	Elements(ctx context.Context, selector string) ([]Element, error)

	Input(ctx context.Context, selector, value string) error
	PressEnter(ctx context.Context) error

	Eval(ctx context.Context, script string) (gson.JSON, error)
	HTML(ctx context.Context) (string, error)
	Sleep(ctx context.Context, d time.Duration) error

	Reload(ctx context.Context) error
	Back(ctx context.Context) error
	Forward(ctx context.Context) error

	MouseMove(ctx context.Context, x, y float64) error
	MouseDown(ctx context.Context) error
	MouseUp(ctx context.Context) error
}

// HasAny probes selectors in order and returns the first match.
func HasAny(ctx context.Context, d Driver, selectors []string) (Element, string, bool) {
	for _, sel := range selectors {
		el, ok, err := d.Has(ctx, sel)
		if err == nil && ok {
			return el, sel, true
		}
	}
	return nil, "", false
}

// PathUnder reports whether rawURL's path equals one of prefixes or lies below
// it. Matching whole segments keeps /in/loginova/ apart from /login.
func PathUnder(rawURL string, prefixes ...string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	for _, prefix := range prefixes {
		if u.Path == prefix || strings.HasPrefix(u.Path, prefix+"/") {
			return true
		}
	}
	return false
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
