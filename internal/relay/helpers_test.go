package relay

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/coder/websocket"

	"github.com/philsphicas/stationsync/internal/protocol"
)

// wsURL converts an httptest.Server URL to a ws:// URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type tokenFunc func(ctx context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// stubCredential is an azcore.TokenCredential returning a fixed relay
// token, or err when set.
type stubCredential struct {
	token  string
	err    error
	scopes []string
}

func (c *stubCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	c.scopes = opts.Scopes
	if c.err != nil {
		return azcore.AccessToken{}, c.err
	}
	return azcore.AccessToken{Token: c.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

type requestFunc func(ctx context.Context, msg protocol.Message) protocol.Reply

func (f requestFunc) ServeRequest(ctx context.Context, msg protocol.Message) protocol.Reply {
	return f(ctx, msg)
}

type eventFunc func(ctx context.Context, msg protocol.Message)

func (f eventFunc) ServeEvent(ctx context.Context, msg protocol.Message) { f(ctx, msg) }

type frame struct {
	typ  websocket.MessageType
	data []byte
}

// serverConn is the relay side of one accepted client connection.
type serverConn struct {
	ws     *websocket.Conn
	query  string
	frames chan frame
	done   chan struct{}
}

func (sc *serverConn) next(t *testing.T) frame {
	t.Helper()
	select {
	case f, ok := <-sc.frames:
		if !ok {
			t.Fatal("client connection closed while waiting for a frame")
		}
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return frame{}
}

func (sc *serverConn) send(t *testing.T, typ websocket.MessageType, data string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.ws.Write(ctx, typ, []byte(data)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

// waitClosed waits until the client side of the connection is gone.
func (sc *serverConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-sc.done:
	case <-time.After(10 * time.Second):
		t.Fatal("client did not close the connection")
	}
}

// fakeRelay accepts WebSocket connections and hands them to the test.
type fakeRelay struct {
	srv     *httptest.Server
	accepts atomic.Int32
	conns   chan *serverConn
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	fr := &fakeRelay{conns: make(chan *serverConn, 16)}
	stop := make(chan struct{})
	fr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer ws.CloseNow()
		ws.SetReadLimit(64 << 20)
		fr.accepts.Add(1)

		sc := &serverConn{ws: ws, query: r.URL.RawQuery, frames: make(chan frame, 64), done: make(chan struct{})}
		go func() {
			defer close(sc.done)
			defer close(sc.frames)
			for {
				typ, data, err := ws.Read(context.Background())
				if err != nil {
					return
				}
				sc.frames <- frame{typ: typ, data: data}
			}
		}()
		fr.conns <- sc

		select {
		case <-sc.done:
		case <-stop:
		}
	}))
	t.Cleanup(func() {
		close(stop)
		fr.srv.Close()
	})
	return fr
}

func (fr *fakeRelay) url() string { return wsURL(fr.srv) }

// accept waits for the next client connection and consumes its auth
// message.
func (fr *fakeRelay) accept(t *testing.T) (*serverConn, protocol.Message) {
	t.Helper()
	var sc *serverConn
	select {
	case sc = <-fr.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a client connection")
	}
	f := sc.next(t)
	if f.typ != websocket.MessageText {
		t.Fatalf("first frame type = %v, want text", f.typ)
	}
	msg, err := protocol.Decode(f.data)
	if err != nil {
		t.Fatalf("decode first frame: %v", err)
	}
	return sc, msg
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (m *Manager) hasPendingTimer() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
