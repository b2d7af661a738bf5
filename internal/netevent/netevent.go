// Package netevent turns guest HTTP requests and websockets into events.
// Every operation returns immediately; the outcome arrives later through
// the session's Sink.
package netevent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/p-arndt/rechenkasten/internal/metrics"
	"github.com/p-arndt/rechenkasten/internal/pool"
)

var (
	ErrTooManyRequests = errors.New("too many ongoing requests")
	ErrTooManySockets  = errors.New("too many websockets already open")
	ErrInvalidURL      = errors.New("invalid url")
	ErrUnknownSocket   = errors.New("unknown websocket")
	ErrClosed          = errors.New("network session closed")
)

// Limits bound what one computer may have in flight.
type Limits struct {
	MaxRequests     int
	MaxWebsockets   int
	Timeout         time.Duration
	MaxResponseSize int64
}

// Sink receives the events produced for one computer.
type Sink func(name string, args ...any)

// Client is shared by all computers. Limits can be swapped at runtime.
type Client struct {
	jobs    pool.Submitter
	http    *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger
	limits  atomic.Pointer[Limits]
}

func NewClient(jobs pool.Submitter, limits Limits, m *metrics.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		jobs:    jobs,
		http:    &http.Client{},
		metrics: m,
		logger:  logger,
	}
	c.SetLimits(limits)
	return c
}

func (c *Client) SetLimits(l Limits) {
	if l.Timeout <= 0 {
		l.Timeout = 20 * time.Second
	}
	c.limits.Store(&l)
}

func (c *Client) Limits() Limits { return *c.limits.Load() }

// NewSession opens the per-boot network state of one computer.
func (c *Client) NewSession(sink Sink) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		client:  c,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
		sockets: make(map[string]*socket),
	}
}

// Session is the network state of one boot. Close drops everything in
// flight; pending results are never delivered.
type Session struct {
	client *Client
	sink   Sink
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	requests    int
	socketSlots int
	sockets     map[string]*socket
	closed      bool
}

type socket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// CheckURL validates a guest supplied URL for HTTP requests.
func (s *Session) CheckURL(raw string) (*url.URL, error) {
	return checkURL(raw, "http", "https")
}

func checkURL(raw string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	for _, s := range schemes {
		if strings.EqualFold(u.Scheme, s) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
}

// OpenRequests is the number of HTTP requests in flight.
func (s *Session) OpenRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// OpenSockets counts websockets that are open or still connecting.
func (s *Session) OpenSockets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketSlots
}

func (s *Session) emit(name string, args ...any) {
	if s.ctx.Err() != nil {
		return
	}
	s.sink(name, args...)
}

// Request starts an HTTP request. GET is used when body is empty, POST
// otherwise. The result is an "http_success url body" or
// "http_failure url reason" event.
func (s *Session) Request(rawURL, body string) error {
	u, err := s.CheckURL(rawURL)
	if err != nil {
		return err
	}
	lim := s.client.Limits()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.requests >= lim.MaxRequests {
		s.mu.Unlock()
		return ErrTooManyRequests
	}
	s.requests++
	s.mu.Unlock()

	err = s.client.jobs.Submit(func(ctx context.Context) {
		defer s.releaseRequest()
		s.doRequest(ctx, u, body, lim)
	})
	if err != nil {
		s.releaseRequest()
		return fmt.Errorf("queue request: %w", err)
	}
	return nil
}

func (s *Session) releaseRequest() {
	s.mu.Lock()
	s.requests--
	s.mu.Unlock()
}

func (s *Session) doRequest(poolCtx context.Context, u *url.URL, body string, lim Limits) {
	ctx, cancel := context.WithTimeout(s.ctx, lim.Timeout)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	method := http.MethodGet
	var reader io.Reader
	if body != "" {
		method = http.MethodPost
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		s.fail(u, err.Error())
		return
	}
	resp, err := s.client.http.Do(req)
	if err != nil {
		s.fail(u, err.Error())
		return
	}
	defer resp.Body.Close()

	max := lim.MaxResponseSize
	if max <= 0 {
		max = 8 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, max+1))
	if err != nil {
		s.fail(u, err.Error())
		return
	}
	if int64(len(data)) > max {
		s.fail(u, "response too large")
		return
	}
	if resp.StatusCode >= 400 {
		s.fail(u, resp.Status)
		return
	}
	s.client.metrics.NetRequest("http", "success")
	s.emit("http_success", u.String(), string(data))
}

func (s *Session) fail(u *url.URL, reason string) {
	s.client.metrics.NetRequest("http", "failure")
	s.client.logger.Debug("netevent: request failed", "url", u.String(), "reason", reason)
	s.emit("http_failure", u.String(), reason)
}

// Websocket dials rawURL in the background. On success the guest gets
// "websocket_success url id", after which messages arrive as
// "websocket_message id data" until "websocket_closed id".
func (s *Session) Websocket(rawURL string) error {
	u, err := checkURL(rawURL, "ws", "wss")
	if err != nil {
		return err
	}
	lim := s.client.Limits()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.socketSlots >= lim.MaxWebsockets {
		s.mu.Unlock()
		return ErrTooManySockets
	}
	s.socketSlots++
	s.mu.Unlock()

	err = s.client.jobs.Submit(func(ctx context.Context) {
		s.dial(ctx, u, lim)
	})
	if err != nil {
		s.releaseSocket("")
		return fmt.Errorf("queue websocket: %w", err)
	}
	return nil
}

func (s *Session) dial(poolCtx context.Context, u *url.URL, lim Limits) {
	ctx, cancel := context.WithTimeout(s.ctx, lim.Timeout)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: lim.Timeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		s.releaseSocket("")
		s.client.metrics.NetRequest("websocket", "failure")
		s.emit("websocket_failure", u.String(), err.Error())
		return
	}

	id := uuid.NewString()[:8]
	sock := &socket{conn: conn}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.sockets[id] = sock
	s.mu.Unlock()

	s.client.metrics.NetRequest("websocket", "success")
	s.emit("websocket_success", u.String(), id)
	go s.readLoop(id, sock)
}

func (s *Session) readLoop(id string, sock *socket) {
	for {
		_, data, err := sock.conn.ReadMessage()
		if err != nil {
			if s.releaseSocket(id) {
				sock.conn.Close()
				s.emit("websocket_closed", id)
			}
			return
		}
		s.emit("websocket_message", id, string(data))
	}
}

// releaseSocket frees a socket slot. With a non-empty id it reports whether
// the socket was still registered.
func (s *Session) releaseSocket(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if _, ok := s.sockets[id]; !ok {
			return false
		}
		delete(s.sockets, id)
	}
	s.socketSlots--
	return true
}

func (s *Session) lookup(id string) (*socket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock, ok := s.sockets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSocket, id)
	}
	return sock, nil
}

// Send writes a text message to an open websocket.
func (s *Session) Send(id, data string) error {
	sock, err := s.lookup(id)
	if err != nil {
		return err
	}
	sock.writeMu.Lock()
	defer sock.writeMu.Unlock()
	if err := sock.conn.WriteMessage(websocket.TextMessage, []byte(data)); err != nil {
		return fmt.Errorf("websocket send: %w", err)
	}
	return nil
}

// CloseSocket closes a websocket. No "websocket_closed" event follows.
func (s *Session) CloseSocket(id string) error {
	sock, err := s.lookup(id)
	if err != nil {
		return err
	}
	if !s.releaseSocket(id) {
		return fmt.Errorf("%w: %s", ErrUnknownSocket, id)
	}
	sock.writeMu.Lock()
	sock.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	sock.writeMu.Unlock()
	return sock.conn.Close()
}

// Close cancels in-flight requests and closes every websocket.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	socks := s.sockets
	s.sockets = make(map[string]*socket)
	s.socketSlots -= len(socks)
	s.mu.Unlock()

	s.cancel()
	for _, sock := range socks {
		sock.conn.Close()
	}
}
