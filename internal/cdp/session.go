package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultCallTimeout    = 30 * time.Second
)

// Session is a minimal CDP client bound to one target's WebSocket endpoint.
// Replies are routed to waiters strictly by id, never by send order.
type Session struct {
	addr        string
	callTimeout time.Duration

	writeMu sync.Mutex
	conn    net.Conn
	src     io.Reader
	seq     atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan Reply // nil once the read loop has exited

	eventMu       sync.RWMutex
	eventSeq      int64
	eventHandlers map[string][]eventHandler

	closeOnce sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

type eventHandler struct {
	id int64
	fn func(params json.RawMessage)
}

// Reply is the inbound half of a command exchange.
type Reply struct {
	ID     int64
	Result json.RawMessage
	Error  *ReplyError
}

// ReplyError is the error object of a failed command.
type ReplyError struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ReplyError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Call is the handle returned by Send and consumed by Await.
type Call struct {
	ID     int64
	Method string
	ch     chan Reply
}

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

type sessionOptions struct {
	connectTimeout time.Duration
	callTimeout    time.Duration
}

// Option configures Open.
type Option func(*sessionOptions)

// WithConnectTimeout bounds the WebSocket handshake.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithCallTimeout sets the timeout Execute uses for each command.
func WithCallTimeout(d time.Duration) Option {
	return func(o *sessionOptions) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// Open dials the target's control endpoint and starts the read loop.
func Open(ctx context.Context, addr string, opts ...Option) (*Session, error) {
	o := sessionOptions{connectTimeout: DefaultConnectTimeout, callTimeout: DefaultCallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if addr == "" {
		return nil, NewError(CodeConnectFailed, "target has no control endpoint", nil)
	}

	dialCtx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	slog.Debug("session connecting", "ws_url", addr)
	conn, br, _, err := ws.Dial(dialCtx, addr)
	if err != nil {
		return nil, NewError(CodeConnectFailed, "dial "+addr, err)
	}

	s := &Session{
		addr:          addr,
		callTimeout:   o.callTimeout,
		conn:          conn,
		src:           conn,
		pending:       make(map[int64]chan Reply),
		eventHandlers: make(map[string][]eventHandler),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	// Frames that arrived together with the handshake response are buffered in br.
	if br != nil {
		s.src = io.MultiReader(br, conn)
	}
	go s.readLoop()
	return s, nil
}

// Addr returns the control endpoint the session is connected to.
func (s *Session) Addr() string { return s.addr }

// loopConn is what the read loop reads frames from. Writes made while
// answering control frames share the session write lock.
type loopConn struct{ s *Session }

func (c loopConn) Read(p []byte) (int, error) { return c.s.src.Read(p) }

func (c loopConn) Write(p []byte) (int, error) {
	c.s.writeMu.Lock()
	defer c.s.writeMu.Unlock()
	return c.s.conn.Write(p)
}

func (s *Session) readLoop() {
	defer close(s.loopDone)
	rw := loopConn{s: s}
	for {
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			select {
			case <-s.done:
			default:
				slog.Debug("session read loop exit", "ws_url", s.addr, "error", err)
			}
			s.failPending()
			return
		}
		s.dispatch(data)
	}
}

func (s *Session) dispatch(data []byte) {
	var msg struct {
		ID     int64           `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
		Result json.RawMessage `json:"result"`
		Error  *ReplyError     `json:"error"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		logFrame("session dropped undecodable frame", data, "error", err)
		return
	}
	logFrame("session frame received", data, "id", msg.ID, "method", msg.Method)

	switch {
	case msg.ID > 0:
		s.pendingMu.Lock()
		ch, ok := s.pending[msg.ID]
		if ok {
			delete(s.pending, msg.ID)
		}
		s.pendingMu.Unlock()
		if !ok {
			slog.Debug("session dropped reply without waiter", "id", msg.ID)
			return
		}
		ch <- Reply{ID: msg.ID, Result: msg.Result, Error: msg.Error}
	case msg.Method != "":
		s.dispatchEvent(msg.Method, msg.Params)
	}
}

func (s *Session) register(id int64) (chan Reply, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == nil {
		return nil, NewError(CodeSessionClosed, "session closed", nil)
	}
	ch := make(chan Reply, 1)
	s.pending[id] = ch
	return ch, nil
}

func (s *Session) deletePending(id int64) {
	s.pendingMu.Lock()
	delete(s.pending, id)
	s.pendingMu.Unlock()
}

func (s *Session) failPending() {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for _, ch := range s.pending {
		close(ch)
	}
	s.pending = nil
}

// Pending returns the number of commands still waiting for a reply.
func (s *Session) Pending() int {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	return len(s.pending)
}

// Send transmits a command and registers its waiter. The returned Call must
// be passed to Await.
func (s *Session) Send(ctx context.Context, method string, params any) (*Call, error) {
	id := s.seq.Add(1)
	ch, err := s.register(id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		s.deletePending(id)
		return nil, NewError(CodeCommandError, "marshal "+method, err)
	}

	s.writeMu.Lock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetWriteDeadline(deadline)
	}
	err = wsutil.WriteClientText(s.conn, data)
	_ = s.conn.SetWriteDeadline(time.Time{})
	s.writeMu.Unlock()
	if err != nil {
		s.deletePending(id)
		return nil, NewError(CodeSessionClosed, "send "+method, err)
	}

	slog.Debug("session command sent", "id", id, "method", method)
	return &Call{ID: id, Method: method, ch: ch}, nil
}

// Await blocks until the reply for call arrives, timeout elapses or ctx is
// done. A timeout <= 0 uses the session's call timeout. On timeout the waiter
// is removed and a late reply is dropped by the read loop.
func (s *Session) Await(ctx context.Context, call *Call, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = s.callTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply, ok := <-call.ch:
		if !ok {
			return nil, NewError(CodeSessionClosed, call.Method+": connection closed before reply", nil)
		}
		if reply.Error != nil {
			return nil, NewError(CodeCommandError, call.Method, reply.Error)
		}
		slog.Debug("session reply received", "id", call.ID, "method", call.Method, "bytes", len(reply.Result))
		return reply.Result, nil
	case <-timer.C:
		s.deletePending(call.ID)
		return nil, NewError(CodeCommandTimeout, fmt.Sprintf("%s (id %d): no reply within %s", call.Method, call.ID, timeout), nil)
	case <-ctx.Done():
		s.deletePending(call.ID)
		return nil, fmt.Errorf("%s (id %d): %w", call.Method, call.ID, ctx.Err())
	}
}

// Execute sends a command and waits for its reply using the call timeout.
func (s *Session) Execute(ctx context.Context, method string, params any) (json.RawMessage, error) {
	call, err := s.Send(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return s.Await(ctx, call, s.callTimeout)
}

// OnEvent registers a handler for a CDP event method (e.g.
// "Page.loadEventFired"). Handlers run on the read loop and must not block.
// Returns an unregister function.
func (s *Session) OnEvent(method string, fn func(params json.RawMessage)) func() {
	s.eventMu.Lock()
	s.eventSeq++
	id := s.eventSeq
	s.eventHandlers[method] = append(s.eventHandlers[method], eventHandler{id: id, fn: fn})
	s.eventMu.Unlock()
	return func() {
		s.eventMu.Lock()
		defer s.eventMu.Unlock()
		handlers := s.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				s.eventHandlers[method] = append(handlers[:i:i], handlers[i+1:]...)
				break
			}
		}
	}
}

func (s *Session) dispatchEvent(method string, params json.RawMessage) {
	s.eventMu.RLock()
	handlers := make([]eventHandler, len(s.eventHandlers[method]))
	copy(handlers, s.eventHandlers[method])
	s.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(params)
	}
}

// Close sends a close frame, releases the socket and waits for the read loop
// to exit. Pending waiters fail with SESSION_CLOSED. Safe to call repeatedly.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)

		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = wsutil.WriteClientMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		s.writeMu.Unlock()

		err = s.conn.Close()
		<-s.loopDone
		slog.Debug("session closed", "ws_url", s.addr)
	})
	return err
}
