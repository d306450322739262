package workflow

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/dgnsrekt/cdpgrab/internal/cdp"
	"github.com/dgnsrekt/cdpgrab/internal/config"
	"github.com/dgnsrekt/cdpgrab/internal/notify"
	"github.com/dgnsrekt/cdpgrab/internal/sink"
)

// Request names the page to capture and where to put the result.
type Request struct {
	Keyword string
	Output  string // empty means the configured default
}

// Result describes a completed capture.
type Result struct {
	Target cdp.Target
	Title  string
	Path   string
	Bytes  int64
	Chars  int // HTML only
}

// Runner performs one capture at a time: list targets, select one, open a
// session, run a workflow and write the payload.
type Runner struct {
	cfg       *config.Config
	directory *cdp.DirectoryClient
	notifier  *notify.Notifier
	out       io.Writer

	mu sync.Mutex
}

// NewRunner builds a runner. Progress lines are written to out (nil discards
// them). A nil httpClient uses http.DefaultClient.
func NewRunner(cfg *config.Config, httpClient *http.Client, out io.Writer) *Runner {
	if out == nil {
		out = io.Discard
	}
	return &Runner{
		cfg:       cfg,
		directory: cdp.NewDirectoryClient(cfg.CDPURL(), httpClient),
		notifier:  notify.New(cfg.NotifyURL, httpClient),
		out:       out,
	}
}

// Targets lists the debuggable targets of the configured host.
func (r *Runner) Targets(ctx context.Context) ([]cdp.Target, error) {
	return r.directory.List(ctx)
}

// FetchHTML saves the rendered markup of the selected page.
func (r *Runner) FetchHTML(ctx context.Context, req Request) (Result, error) {
	dest := req.Output
	if dest == "" {
		dest = r.cfg.HTMLOutput
	}
	var chars int
	res, err := r.execute(ctx, req.Keyword, r.cfg.HTMLSettle(), FetchHTML, func(payload string) (sink.Result, error) {
		chars = utf16Len(payload)
		return sink.WriteText(dest, payload)
	})
	if err != nil {
		return res, err
	}
	res.Chars = chars
	r.report(ctx, fmt.Sprintf("HTML saved: %s (%d chars)", res.Path, res.Chars))
	return res, nil
}

// CaptureScreenshot saves a full-page PNG of the selected page.
func (r *Runner) CaptureScreenshot(ctx context.Context, req Request) (Result, error) {
	dest := req.Output
	if dest == "" {
		dest = r.cfg.ScreenshotOutput
	}
	res, err := r.execute(ctx, req.Keyword, r.cfg.ScreenshotSettle(), CaptureScreenshot, func(payload string) (sink.Result, error) {
		return sink.WriteBase64(dest, payload)
	})
	if err != nil {
		return res, err
	}
	r.report(ctx, fmt.Sprintf("Screenshot saved: %s (%s)", res.Path, sink.HumanSize(res.Bytes)))
	return res, nil
}

// report prints the completion line and forwards it to the notifier. A failed
// notification does not fail the capture.
func (r *Runner) report(ctx context.Context, line string) {
	fmt.Fprintln(r.out, line)
	if err := r.notifier.Notify(ctx, line); err != nil {
		slog.Warn("capture notification failed", "error", err)
	}
}

type workflowFunc func(ctx context.Context, page Page, settle time.Duration, opts ...Option) (Outcome, error)

// utf16Len counts UTF-16 code units, the length a browser reports for a string.
func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func (r *Runner) execute(ctx context.Context, keyword string, settle time.Duration, flow workflowFunc, write func(string) (sink.Result, error)) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	targets, err := r.directory.List(ctx)
	if err != nil {
		return Result{}, err
	}
	t, err := cdp.SelectTarget(targets, keyword)
	if err != nil {
		return Result{}, err
	}
	res := Result{Target: t}
	if t.IsPage() {
		fmt.Fprintf(r.out, "Target found: %s\n", t)
	} else {
		fmt.Fprintf(r.out, "Target found (non-page): %s\n", t)
	}

	fmt.Fprintf(r.out, "Connecting to: %s\n", t.WebSocketDebuggerURL)
	sess, err := cdp.Open(ctx, t.WebSocketDebuggerURL,
		cdp.WithConnectTimeout(r.cfg.ConnectTimeout()),
		cdp.WithCallTimeout(r.cfg.CallTimeout()),
	)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			slog.Debug("session close failed", "target_id", t.ID, "error", err)
		}
	}()

	outcome, err := flow(ctx, sess, settle, WithTitleFunc(func(title string) {
		if title != "" {
			fmt.Fprintf(r.out, "Page title: %s\n", title)
		}
	}))
	res.Title = outcome.Title
	if err != nil {
		slog.Debug("workflow failed", "target_id", t.ID, "state", outcome.State.String(), "error", err)
		return res, err
	}

	written, err := write(outcome.Payload)
	if err != nil {
		return res, cdp.NewError(cdp.CodeSinkWrite, "write capture", err)
	}
	res.Path = written.Path
	res.Bytes = written.Bytes
	slog.Info("capture written", "target_id", t.ID, "path", res.Path, "bytes", res.Bytes)
	return res, nil
}
