// Package browsertest provides an in-memory browser.Driver for tests. CSS
// selectors are evaluated against the current HTML snapshot with goquery.
package browsertest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/ysmood/gson"

	"linkedin-group-scraper/browser"
)

// Driver is a scriptable fake. Zero values are usable; set the exported
// fields before handing it to the code under test.
type Driver struct {
	// Pages maps a URL to the HTML served after navigating to it.
	Pages map[string]string
	// Redirects maps a URL to the URL the page ends up on.
	Redirects map[string]string
	// NavigateErrors fails navigation to the given URLs.
	NavigateErrors map[string]error
	// Heights is returned, in order, by ScrollHeightJS; the last value repeats.
	Heights []int
	// EvalResults answers any other script.
	EvalResults map[string]interface{}
	// Frames maps an iframe selector to the driver of its document.
	Frames map[string]*Driver
	// Boxes maps a selector to the box its elements report.
	Boxes map[string]browser.Box

	// Hooks run after the corresponding action.
	OnNavigate func(d *Driver, url string)
	OnClick    func(d *Driver, selector, text string) error
	OnReload   func(d *Driver)
	// OnSleep runs after every Sleep call; tests use it to change the page over time.
	OnSleep func(d *Driver, dur time.Duration)

	CurrentURL  string
	CurrentHTML string

	// Recorded activity.
	Navigations []string
	Clicks      []string
	Inputs      map[string]string
	Enters      int
	ScrollCalls int
	HeightCalls int
	Sleeps      []time.Duration
	Reloads     int
	Backs       int
	Forwards    int
	MouseMoves  [][2]float64
	MouseDowns  int
	MouseUps    int
	StableWaits int
}

var _ browser.Driver = (*Driver)(nil)

// New returns a driver showing html at url.
func New(url, html string) *Driver {
	return &Driver{CurrentURL: url, CurrentHTML: html}
}

// SetHTML replaces the current document.
func (d *Driver) SetHTML(html string) {
	d.CurrentHTML = html
}

// TotalSleep sums every recorded Sleep.
func (d *Driver) TotalSleep() time.Duration {
	var total time.Duration
	for _, s := range d.Sleeps {
		total += s
	}
	return total
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Navigations = append(d.Navigations, url)
	if err := d.NavigateErrors[url]; err != nil {
		return err
	}
	final := url
	if to, ok := d.Redirects[url]; ok {
		final = to
	}
	d.CurrentURL = final
	if html, ok := d.Pages[final]; ok {
		d.CurrentHTML = html
	} else {
		d.CurrentHTML = "<html><body></body></html>"
	}
	if d.OnNavigate != nil {
		d.OnNavigate(d, url)
	}
	return nil
}

func (d *Driver) WaitStable(ctx context.Context) error {
	d.StableWaits++
	return ctx.Err()
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	return d.CurrentURL, ctx.Err()
}

func (d *Driver) find(selector string) (*goquery.Selection, error) {
	matcher, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(d.CurrentHTML))
	if err != nil {
		return nil, err
	}
	return doc.FindMatcher(matcher), nil
}

func (d *Driver) Has(ctx context.Context, selector string) (browser.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	sel, err := d.find(selector)
	if err != nil {
		return nil, false, err
	}
	if sel.Length() == 0 {
		return nil, false, nil
	}
	return &Element{driver: d, selector: selector, sel: sel.First()}, true, nil
}

func (d *Driver) HasText(ctx context.Context, selector, pattern string) (browser.Element, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	re, err := compileJSRegex(pattern)
	if err != nil {
		return nil, false, err
	}
	sel, err := d.find(selector)
	if err != nil {
		return nil, false, err
	}
	var match *goquery.Selection
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if re.MatchString(s.Text()) {
			match = s
			return false
		}
		return true
	})
	if match == nil {
		return nil, false, nil
	}
	return &Element{driver: d, selector: selector, sel: match}, true, nil
}

func (d *Driver) Elements(ctx context.Context, selector string) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := d.find(selector)
	if err != nil {
		return nil, err
	}
	out := make([]browser.Element, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, &Element{driver: d, selector: selector, sel: s})
	})
	return out, nil
}

// compileJSRegex accepts both "pattern" and "/pattern/flags".
func compileJSRegex(pattern string) (*regexp.Regexp, error) {
	if strings.HasPrefix(pattern, "/") {
		if end := strings.LastIndex(pattern, "/"); end > 0 {
			flags := pattern[end+1:]
			pattern = pattern[1:end]
			if strings.Contains(flags, "i") {
				pattern = "(?i)" + pattern
			}
		}
	}
	return regexp.Compile(pattern)
}

func (d *Driver) Input(ctx context.Context, selector, value string) error {
	sel, err := d.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("input %q not found", selector)
	}
	if d.Inputs == nil {
		d.Inputs = make(map[string]string)
	}
	d.Inputs[selector] = value
	return ctx.Err()
}

func (d *Driver) PressEnter(ctx context.Context) error {
	d.Enters++
	return ctx.Err()
}

func (d *Driver) Eval(ctx context.Context, script string) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.JSON{}, err
	}
	switch script {
	case browser.ScrollToBottomJS:
		d.ScrollCalls++
		return gson.New(nil), nil
	case browser.ScrollHeightJS:
		d.HeightCalls++
		if len(d.Heights) == 0 {
			return gson.New(0), nil
		}
		i := d.HeightCalls - 1
		if i >= len(d.Heights) {
			i = len(d.Heights) - 1
		}
		return gson.New(d.Heights[i]), nil
	}
	if v, ok := d.EvalResults[script]; ok {
		return gson.New(v), nil
	}
	return gson.New(nil), nil
}

func (d *Driver) HTML(ctx context.Context) (string, error) {
	return d.CurrentHTML, ctx.Err()
}

func (d *Driver) Sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.Sleeps = append(d.Sleeps, dur)
	if d.OnSleep != nil {
		d.OnSleep(d, dur)
	}
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	d.Reloads++
	if d.OnReload != nil {
		d.OnReload(d)
	}
	return ctx.Err()
}

func (d *Driver) Back(ctx context.Context) error {
	d.Backs++
	return ctx.Err()
}

func (d *Driver) Forward(ctx context.Context) error {
	d.Forwards++
	return ctx.Err()
}

func (d *Driver) MouseMove(ctx context.Context, x, y float64) error {
	d.MouseMoves = append(d.MouseMoves, [2]float64{x, y})
	return ctx.Err()
}

func (d *Driver) MouseDown(ctx context.Context) error {
	d.MouseDowns++
	return ctx.Err()
}

func (d *Driver) MouseUp(ctx context.Context) error {
	d.MouseUps++
	return ctx.Err()
}

// Element is a node of the fake document.
type Element struct {
	driver   *Driver
	selector string
	sel      *goquery.Selection
}

func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text := strings.TrimSpace(e.sel.Text())
	e.driver.Clicks = append(e.driver.Clicks, e.selector)
	if e.driver.OnClick != nil {
		return e.driver.OnClick(e.driver, e.selector, text)
	}
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return e.sel.Text(), ctx.Err()
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.sel.Attr(name)
	return v, ok, ctx.Err()
}

func (e *Element) Box(ctx context.Context) (browser.Box, error) {
	if b, ok := e.driver.Boxes[e.selector]; ok {
		return b, ctx.Err()
	}
	return browser.Box{X: 0, Y: 0, Width: 100, Height: 40}, ctx.Err()
}

func (e *Element) Frame(ctx context.Context) (browser.Driver, error) {
	if f, ok := e.driver.Frames[e.selector]; ok {
		return f, ctx.Err()
	}
	return nil, fmt.Errorf("no frame registered for %q", e.selector)
}
