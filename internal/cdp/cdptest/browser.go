// Package cdptest provides a fake debugging host for tests: an HTTP /json
// directory plus WebSocket control endpoints driven by a caller-supplied
// handler.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Target mirrors one entry of the /json listing.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// Command is an inbound command frame.
type Command struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Handler is invoked for every command received on a control connection.
// It runs on that connection's read goroutine.
type Handler func(c *Conn, cmd Command)

// Conn is the server side of one control connection.
type Conn struct {
	TargetID string

	mu   sync.Mutex
	conn net.Conn
}

// Reply sends {"id":id,"result":result}.
func (c *Conn) Reply(id int64, result any) {
	c.SendJSON(map[string]any{"id": id, "result": result})
}

// ReplyError sends {"id":id,"error":{...}}.
func (c *Conn) ReplyError(id int64, code int64, message string) {
	c.SendJSON(map[string]any{"id": id, "error": map[string]any{"code": code, "message": message}})
}

// Event sends an unsolicited {"method":method,"params":params} frame.
func (c *Conn) Event(method string, params any) {
	c.SendJSON(map[string]any{"method": method, "params": params})
}

// SendJSON marshals v and writes it as a text frame.
func (c *Conn) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("cdptest: marshal: %v", err))
	}
	c.SendRaw(data)
}

// SendRaw writes data as a text frame. Write errors are ignored; the client
// may already have gone away.
func (c *Conn) SendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = wsutil.WriteServerText(c.conn, data)
}

// Browser is a fake debugging host.
type Browser struct {
	*httptest.Server

	handler Handler

	mu       sync.Mutex
	targets  []Target
	conns    map[net.Conn]struct{}
	dials    int
	commands []Command
}

// NewBrowser starts a fake host. It is closed automatically at test cleanup.
func NewBrowser(t testing.TB, handler Handler) *Browser {
	t.Helper()
	b := &Browser{
		handler: handler,
		targets: []Target{},
		conns:   make(map[net.Conn]struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json", b.serveDirectory)
	mux.HandleFunc("/json/list", b.serveDirectory)
	mux.HandleFunc("/devtools/page/", b.serveControl)
	b.Server = httptest.NewServer(mux)
	t.Cleanup(b.Close)
	return b
}

// AddTarget appends a target whose control endpoint points at this host.
func (b *Browser) AddTarget(typ, title, url string) Target {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := fmt.Sprintf("T%d", len(b.targets)+1)
	t := Target{
		ID:                   id,
		Type:                 typ,
		Title:                title,
		URL:                  url,
		WebSocketDebuggerURL: b.WSURL(id),
	}
	b.targets = append(b.targets, t)
	return t
}

// WSURL returns the control endpoint for a target id.
func (b *Browser) WSURL(id string) string {
	return "ws://" + strings.TrimPrefix(b.URL, "http://") + "/devtools/page/" + id
}

// Dials returns how many control connections were accepted.
func (b *Browser) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Commands returns every command received so far, in arrival order.
func (b *Browser) Commands() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Command, len(b.commands))
	copy(out, b.commands)
	return out
}

// Close drops open control connections and stops the server.
func (b *Browser) Close() {
	b.mu.Lock()
	for c := range b.conns {
		_ = c.Close()
	}
	b.mu.Unlock()
	b.Server.Close()
}

func (b *Browser) serveDirectory(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	data, err := json.Marshal(b.targets)
	b.mu.Unlock()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func (b *Browser) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	b.mu.Lock()
	b.dials++
	b.conns[conn] = struct{}{}
	b.mu.Unlock()

	c := &Conn{TargetID: strings.TrimPrefix(r.URL.Path, "/devtools/page/"), conn: conn}
	defer func() {
		b.mu.Lock()
		delete(b.conns, conn)
		b.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		b.mu.Lock()
		b.commands = append(b.commands, cmd)
		b.mu.Unlock()
		if b.handler != nil {
			b.handler(c, cmd)
		}
	}
}

// PageHandler answers Runtime.evaluate and Page.captureScreenshot the way a
// browser would: title for "document.title", html for any other expression,
// and png (already base64) for screenshots.
func PageHandler(title, html, png string) Handler {
	return func(c *Conn, cmd Command) {
		switch cmd.Method {
		case "Runtime.evaluate":
			var p struct {
				Expression string `json:"expression"`
			}
			_ = json.Unmarshal(cmd.Params, &p)
			value := html
			if p.Expression == "document.title" {
				value = title
			}
			c.Reply(cmd.ID, map[string]any{"result": map[string]any{"type": "string", "value": value}})
		case "Page.captureScreenshot":
			c.Reply(cmd.ID, map[string]any{"data": png})
		default:
			c.ReplyError(cmd.ID, -32601, "'"+cmd.Method+"' wasn't found")
		}
	}
}
