package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/target"
)

// DirectoryTimeout bounds the single /json request.
const DirectoryTimeout = 5 * time.Second

// TargetTypePage is the target type of a visible browser tab.
const TargetTypePage = "page"

// Target is one debuggable context listed by the browser's /json endpoint.
type Target struct {
	ID                   target.ID `json:"id"`
	Type                 string    `json:"type"`
	Title                string    `json:"title"`
	URL                  string    `json:"url"`
	WebSocketDebuggerURL string    `json:"webSocketDebuggerUrl"`
}

// IsPage reports whether the target is a page-type target.
func (t Target) IsPage() bool { return t.Type == TargetTypePage }

func (t Target) String() string {
	return fmt.Sprintf("[%s] %s (%s)", t.Type, t.Title, t.URL)
}

// DirectoryClient lists targets from the debugging host's HTTP endpoint.
type DirectoryClient struct {
	httpBase string // e.g. "http://172.30.0.1:9222"
	client   *http.Client
	timeout  time.Duration
}

// NewDirectoryClient returns a client for httpBase. A nil httpClient means
// http.DefaultClient.
func NewDirectoryClient(httpBase string, httpClient *http.Client) *DirectoryClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DirectoryClient{
		httpBase: strings.TrimRight(httpBase, "/"),
		client:   httpClient,
		timeout:  DirectoryTimeout,
	}
}

// List fetches open targets in the order the browser reports them.
func (d *DirectoryClient) List(ctx context.Context) ([]Target, error) {
	listCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	endpoint := d.httpBase + "/json"
	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, NewError(CodeDirectoryUnavailable, "build directory request", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, NewError(CodeDirectoryUnavailable, "query "+endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, NewError(CodeDirectoryUnavailable, fmt.Sprintf("query %s: HTTP %d", endpoint, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewError(CodeDirectoryUnavailable, "read directory body", err)
	}

	var targets []Target
	if err := json.Unmarshal(body, &targets); err != nil {
		return nil, NewError(CodeDirectoryParse, "decode directory body", err)
	}
	slog.Debug("directory listed", "endpoint", endpoint, "count", len(targets))
	return targets, nil
}
