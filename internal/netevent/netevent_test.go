package netevent

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/rechenkasten/internal/metrics"
	"github.com/p-arndt/rechenkasten/internal/pool"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorded struct {
	name string
	args []any
}

func chanSink() (Sink, chan recorded) {
	ch := make(chan recorded, 16)
	return func(name string, args ...any) { ch <- recorded{name, args} }, ch
}

func waitEvent(t *testing.T, ch chan recorded) recorded {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
		return recorded{}
	}
}

func testClient(jobs pool.Submitter, lim Limits) *Client {
	return NewClient(jobs, lim, metrics.New(), testLogger())
}

func TestRequestSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		io.WriteString(w, r.Method+":"+string(body))
	}))
	defer srv.Close()

	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxRequests: 2, MaxResponseSize: 1024}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Request(srv.URL, ""))
	ev := waitEvent(t, ch)
	assert.Equal(t, "http_success", ev.name)
	assert.Equal(t, []any{srv.URL, "GET:"}, ev.args)

	require.NoError(t, s.Request(srv.URL, "hi"))
	ev = waitEvent(t, ch)
	assert.Equal(t, "POST:hi", ev.args[1])
	assert.Zero(t, s.OpenRequests())
}

func TestRequestFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxRequests: 1}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Request(srv.URL, ""))
	ev := waitEvent(t, ch)
	assert.Equal(t, "http_failure", ev.name)
	assert.Contains(t, ev.args[1], "404")
}

func TestRequestResponseTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 100))
	}))
	defer srv.Close()

	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxRequests: 1, MaxResponseSize: 10}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Request(srv.URL, ""))
	ev := waitEvent(t, ch)
	assert.Equal(t, "http_failure", ev.name)
	assert.Equal(t, "response too large", ev.args[1])
}

func TestRequestLimit(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := pool.New(pool.Config{Workers: 2}, testLogger())
	p.Start(context.Background())
	defer p.Stop()

	sink, _ := chanSink()
	s := testClient(p, Limits{MaxRequests: 1}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Request(srv.URL, ""))
	assert.Equal(t, 1, s.OpenRequests())
	assert.ErrorIs(t, s.Request(srv.URL, ""), ErrTooManyRequests)
}

func TestCheckURL(t *testing.T) {
	s := testClient(pool.Inline{}, Limits{}).NewSession(func(string, ...any) {})
	_, err := s.CheckURL("https://example.com/x")
	assert.NoError(t, err)
	_, err = s.CheckURL("ftp://example.com")
	assert.ErrorIs(t, err, ErrInvalidURL)
	_, err = s.CheckURL("/relative")
	assert.ErrorIs(t, err, ErrInvalidURL)
}

func TestClosedSessionDropsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "late")
	}))
	defer srv.Close()

	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxRequests: 1}).NewSession(sink)
	s.Close()

	assert.ErrorIs(t, s.Request(srv.URL, ""), ErrClosed)
	assert.Empty(t, ch)
}

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				return
			}
			conn.WriteMessage(mt, data)
		}
	}))
}

func TestWebsocketRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxWebsockets: 1}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Websocket(wsURL))
	ev := waitEvent(t, ch)
	require.Equal(t, "websocket_success", ev.name)
	id := ev.args[1].(string)
	assert.Equal(t, 1, s.OpenSockets())
	assert.ErrorIs(t, s.Websocket(wsURL), ErrTooManySockets)

	require.NoError(t, s.Send(id, "ping"))
	ev = waitEvent(t, ch)
	assert.Equal(t, "websocket_message", ev.name)
	assert.Equal(t, []any{id, "ping"}, ev.args)

	require.NoError(t, s.Send(id, "bye"))
	ev = waitEvent(t, ch)
	assert.Equal(t, "websocket_closed", ev.name)
	assert.Zero(t, s.OpenSockets())
	assert.ErrorIs(t, s.Send(id, "x"), ErrUnknownSocket)
}

func TestWebsocketCloseByGuest(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxWebsockets: 1}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Websocket(wsURL))
	id := waitEvent(t, ch).args[1].(string)

	require.NoError(t, s.CloseSocket(id))
	assert.Zero(t, s.OpenSockets())
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %s", ev.name)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebsocketDialFailure(t *testing.T) {
	sink, ch := chanSink()
	s := testClient(pool.Inline{}, Limits{MaxWebsockets: 1, Timeout: time.Second}).NewSession(sink)
	defer s.Close()

	require.NoError(t, s.Websocket("ws://127.0.0.1:1/nothing"))
	ev := waitEvent(t, ch)
	assert.Equal(t, "websocket_failure", ev.name)
	assert.Zero(t, s.OpenSockets())
}
