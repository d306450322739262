// Package notify posts plain-text capture notifications to an ntfy-style
// endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const sendTimeout = 5 * time.Second

// Notifier posts messages to one endpoint. The zero value and a nil
// *Notifier are disabled.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New returns a Notifier for endpoint. An empty endpoint disables it. A nil
// client uses http.DefaultClient.
func New(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: strings.TrimSpace(endpoint), client: client}
}

// Enabled reports whether messages will be sent.
func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// Notify sends message, bounded by a short timeout. It is a no-op when the
// notifier is disabled.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return Send(ctx, n.client, n.endpoint, message)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
