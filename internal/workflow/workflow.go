// Package workflow implements the fixed command sequences run against a
// single page: probe the title, let the page settle, then extract.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/cdpgrab/internal/cdp"
)

const (
	titleExpression = "document.title"
	htmlExpression  = "document.documentElement.outerHTML"
)

// State is a step of a workflow.
type State int

const (
	StateProbing State = iota
	StateTitled
	StateWaiting
	StateExtracting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateProbing:
		return "probing"
	case StateTitled:
		return "titled"
	case StateWaiting:
		return "waiting"
	case StateExtracting:
		return "extracting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Page is the command surface a workflow needs. *cdp.Session satisfies it.
type Page interface {
	EvaluateString(ctx context.Context, expression string) (string, error)
	CaptureScreenshot(ctx context.Context, opts cdp.ScreenshotOptions) (string, error)
}

// Outcome is what a workflow produced. Payload is UTF-8 markup for FetchHTML
// and base64 image data for CaptureScreenshot.
type Outcome struct {
	Title   string
	Payload string
	State   State
}

type machine struct {
	name  string
	state State
}

type options struct {
	onTitle func(title string)
}

// Option configures a workflow run.
type Option func(*options)

// WithTitleFunc registers fn to receive the page title as soon as the probe
// returns, before the settle wait.
func WithTitleFunc(fn func(title string)) Option {
	return func(o *options) { o.onTitle = fn }
}

func (m *machine) to(next State) {
	slog.Debug("workflow transition", "workflow", m.name, "from", m.state.String(), "to", next.String())
	m.state = next
}

func (m *machine) fail(out Outcome, err error) (Outcome, error) {
	m.to(StateFailed)
	out.State = StateFailed
	return out, err
}

// FetchHTML reads the title, waits settle, then returns the serialized document.
func FetchHTML(ctx context.Context, page Page, settle time.Duration, opts ...Option) (Outcome, error) {
	return run(ctx, "fetch-html", page, settle, opts, func(ctx context.Context) (string, error) {
		return page.EvaluateString(ctx, htmlExpression)
	})
}

// CaptureScreenshot reads the title, waits settle, then returns a full-page
// PNG as base64.
func CaptureScreenshot(ctx context.Context, page Page, settle time.Duration, opts ...Option) (Outcome, error) {
	return run(ctx, "capture-screenshot", page, settle, opts, func(ctx context.Context) (string, error) {
		return page.CaptureScreenshot(ctx, cdp.ScreenshotOptions{Format: "png", FullPage: true})
	})
}

func run(ctx context.Context, name string, page Page, settle time.Duration, opts []Option, extract func(context.Context) (string, error)) (Outcome, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	m := &machine{name: name, state: StateProbing}
	var out Outcome

	title, err := page.EvaluateString(ctx, titleExpression)
	if err != nil {
		return m.fail(out, fmt.Errorf("probe title: %w", err))
	}
	out.Title = title
	m.to(StateTitled)
	if o.onTitle != nil {
		o.onTitle(title)
	}

	m.to(StateWaiting)
	if err := sleep(ctx, settle); err != nil {
		return m.fail(out, fmt.Errorf("settle: %w", err))
	}

	m.to(StateExtracting)
	payload, err := extract(ctx)
	if err != nil {
		return m.fail(out, fmt.Errorf("extract: %w", err))
	}
	out.Payload = payload

	m.to(StateDone)
	out.State = StateDone
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
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
