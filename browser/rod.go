package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// inputTimeout bounds the wait for a form field to appear before typing into it.
const inputTimeout = 10 * time.Second

// Page adapts a *rod.Page to the Driver interface.
type Page struct {
	page *rod.Page
}

// NewPage wraps an existing rod page.
func NewPage(page *rod.Page) *Page {
	return &Page{page: page}
}

// Rod exposes the underlying page for callers that need rod directly.
func (p *Page) Rod() *rod.Page {
	return p.page
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) WaitStable(ctx context.Context) error {
	pg := p.page.Context(ctx)
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("failed to wait for page load: %w", err)
	}
	if err := pg.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		return fmt.Errorf("DOM did not settle: %w", err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("failed to read page info: %w", err)
	}
	return info.URL, nil
}

func (p *Page) Has(ctx context.Context, selector string) (Element, bool, error) {
	ok, el, err := p.page.Context(ctx).Has(selector)
	if err != nil || !ok {
		return nil, false, err
	}
	return &rodElement{el: el}, true, nil
}

func (p *Page) HasText(ctx context.Context, selector, pattern string) (Element, bool, error) {
	ok, el, err := p.page.Context(ctx).HasR(selector, pattern)
	if err != nil || !ok {
		return nil, false, err
	}
	return &rodElement{el: el}, true, nil
}

func (p *Page) Elements(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, err
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *Page) Input(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Timeout(inputTimeout).Element(selector)
	if err != nil {
		return fmt.Errorf("input %q not found: %w", selector, err)
	}
	el = el.Context(ctx)
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("failed to clear %q: %w", selector, err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("failed to type into %q: %w", selector, err)
	}
	return nil
}

func (p *Page) PressEnter(ctx context.Context) error {
	return p.page.Context(ctx).Keyboard.Type(input.Enter)
}

func (p *Page) Eval(ctx context.Context, script string) (gson.JSON, error) {
	res, err := p.page.Context(ctx).Eval(script)
	if err != nil {
		return gson.JSON{}, fmt.Errorf("script evaluation failed: %w", err)
	}
	return res.Value, nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("failed to read page HTML: %w", err)
	}
	return html, nil
}

func (p *Page) Sleep(ctx context.Context, d time.Duration) error {
	return Sleep(ctx, d)
}

func (p *Page) Reload(ctx context.Context) error {
	return p.page.Context(ctx).Reload()
}

func (p *Page) Back(ctx context.Context) error {
	return p.page.Context(ctx).NavigateBack()
}

func (p *Page) Forward(ctx context.Context) error {
	return p.page.Context(ctx).NavigateForward()
}

func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	return p.page.Context(ctx).Mouse.MoveTo(proto.Point{X: x, Y: y})
}

func (p *Page) MouseDown(ctx context.Context) error {
	return p.page.Context(ctx).Mouse.Down(proto.InputMouseButtonLeft, 1)
}

func (p *Page) MouseUp(ctx context.Context) error {
	return p.page.Context(ctx).Mouse.Up(proto.InputMouseButtonLeft, 1)
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

func (e *rodElement) Box(ctx context.Context) (Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if err != nil {
		return Box{}, err
	}
	if len(shape.Quads) == 0 {
		return Box{}, fmt.Errorf("element has no layout box")
	}
	r := shape.Box()
	return Box{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}, nil
}

func (e *rodElement) Frame(ctx context.Context) (Driver, error) {
	frame, err := e.el.Context(ctx).Frame()
	if err != nil {
		return nil, fmt.Errorf("failed to enter frame: %w", err)
	}
	return NewPage(frame), nil
}
