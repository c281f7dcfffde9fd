//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/philsphicas/stationsync/internal/protocol"
	"github.com/philsphicas/stationsync/internal/stations"
)

const testToken = "e2e-token"

var (
	buildOnce   sync.Once
	builtBinary string
	buildErr    error
)

func stationsyncBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, _ := os.Getwd()
		root := filepath.Dir(dir)
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
			root = dir
		}
		builtBinary = filepath.Join(root, "bin", "stationsync")
		cmd := exec.Command("go", "build", "-o", builtBinary, "./cmd/stationsync")
		cmd.Dir = root
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("build: %w\n%s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatalf("build stationsync: %v", buildErr)
	}
	return builtBinary
}

// fakeRelay accepts client sockets and hands them to the test.
type fakeRelay struct {
	srv   *httptest.Server
	conns chan *relayConn
}

// relayConn is the relay side of one client connection.
type relayConn struct {
	ws    *websocket.Conn
	query string
	done  chan struct{}
}

func startRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{conns: make(chan *relayConn, 8)}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := websocket.Accept(w, req, nil)
		if err != nil {
			return
		}
		ws.SetReadLimit(64 << 20)
		rc := &relayConn{ws: ws, query: req.URL.RawQuery, done: make(chan struct{})}
		r.conns <- rc
		<-rc.done
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) URL() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

// accept waits for the next client and checks its auth message.
func (r *fakeRelay) accept(t *testing.T, timeout time.Duration) *relayConn {
	t.Helper()
	select {
	case rc := <-r.conns:
		t.Cleanup(rc.close)
		msg := rc.readMessage(t)
		if msg.Type != protocol.TypeAuth {
			t.Fatalf("first message type = %q, want auth", msg.Type)
		}
		var auth protocol.AuthPayload
		if err := json.Unmarshal(msg.Payload, &auth); err != nil {
			t.Fatalf("decode auth payload: %v", err)
		}
		if auth.Token != testToken {
			t.Fatalf("auth token = %q, want %q", auth.Token, testToken)
		}
		return rc
	case <-time.After(timeout):
		t.Fatal("timed out waiting for the client to connect")
		return nil
	}
}

func (rc *relayConn) close() {
	select {
	case <-rc.done:
	default:
		close(rc.done)
		rc.ws.Close(websocket.StatusNormalClosure, "")
	}
}

func (rc *relayConn) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	data, err := protocol.Encode(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.ws.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func (rc *relayConn) read(t *testing.T) (websocket.MessageType, []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	typ, data, err := rc.ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return typ, data
}

func (rc *relayConn) readMessage(t *testing.T) protocol.Message {
	t.Helper()
	typ, data := rc.read(t)
	if typ != websocket.MessageText {
		t.Fatalf("got binary frame, want text")
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func (rc *relayConn) readFrame(t *testing.T) (protocol.FrameHeader, []byte) {
	t.Helper()
	typ, data := rc.read(t)
	if typ != websocket.MessageBinary {
		t.Fatalf("got text frame %s, want binary", data)
	}
	h, payload, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return h, payload
}

// request sends a request and returns the text response payload.
func (rc *relayConn) request(t *testing.T, id string, event protocol.RequestEvent, payload any) json.RawMessage {
	t.Helper()
	rc.send(t, requestMessage(t, id, event, payload))
	msg := rc.readMessage(t)
	if msg.Type != protocol.TypeResponse || msg.RequestID != id {
		t.Fatalf("got %+v, want response to %s", msg, id)
	}
	return msg.Payload
}

func requestMessage(t *testing.T, id string, event protocol.RequestEvent, payload any) protocol.Message {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return protocol.Message{Type: protocol.TypeRequest, RequestID: id, Event: string(event), Payload: data}
}

// fakeAPI serves the station list.
type fakeAPI struct {
	srv *httptest.Server

	mu    sync.Mutex
	list  []stations.Station
	calls int
}

func startAPI(t *testing.T, list ...stations.Station) *fakeAPI {
	t.Helper()
	a := &fakeAPI{list: list}
	a.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/stations" || req.Header.Get("Authorization") != testToken {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		a.mu.Lock()
		a.calls++
		body := map[string]any{"list": a.list}
		a.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(a.srv.Close)
	return a
}

func (a *fakeAPI) setList(list ...stations.Station) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.list = list
}

func (a *fakeAPI) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// testEnv is one isolated client installation.
type testEnv struct {
	dir     string
	dataDir string
	config  string
}

type envOptions struct {
	relayURL string
	apiURL   string
	extra    string
}

func newEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		dataDir: filepath.Join(dir, "data"),
		config:  filepath.Join(dir, "config.toml"),
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[relay]\nurl = %q\ntoken = %q\nping_interval = 0\n\n", opts.relayURL, testToken)
	if opts.apiURL != "" {
		fmt.Fprintf(&b, "[api]\nbase_url = %q\n\n", opts.apiURL)
	}
	fmt.Fprintf(&b, "[storage]\ndata_dir = %q\n\n", filepath.ToSlash(env.dataDir))
	b.WriteString(opts.extra)
	if err := os.WriteFile(env.config, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return env
}

type stationsyncProcess struct {
	cmd  *exec.Cmd
	logs *logBuffer
}

type logBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial string // incomplete line from previous Write
	waiters []logWaiter
}

type logWaiter struct {
	substr string
	ch     chan string
}

func (lb *logBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	data := lb.partial + string(p)
	lb.partial = ""

	for {
		i := strings.IndexByte(data, '\n')
		if i == -1 {
			lb.partial = data
			break
		}
		line := data[:i]
		data = data[i+1:]
		lb.lines = append(lb.lines, line)
		remaining := lb.waiters[:0]
		for _, w := range lb.waiters {
			if strings.Contains(line, w.substr) {
				select {
				case w.ch <- line:
				default:
				}
			} else {
				remaining = append(remaining, w)
			}
		}
		lb.waiters = remaining
	}
	return len(p), nil
}

func (lb *logBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return strings.Join(lb.lines, "\n")
}

func (lb *logBuffer) waitFor(substr string, timeout time.Duration) (string, bool) {
	ch := make(chan string, 1)

	lb.mu.Lock()
	for _, line := range lb.lines {
		if strings.Contains(line, substr) {
			lb.mu.Unlock()
			return line, true
		}
	}
	lb.waiters = append(lb.waiters, logWaiter{substr: substr, ch: ch})
	lb.mu.Unlock()

	select {
	case line := <-ch:
		return line, true
	case <-time.After(timeout):
		lb.mu.Lock()
		for i, w := range lb.waiters {
			if w.ch == ch {
				lb.waiters = append(lb.waiters[:i], lb.waiters[i+1:]...)
				break
			}
		}
		lb.mu.Unlock()
		return "", false
	}
}

// start runs stationsync with the env's config and extra args.
func (env *testEnv) start(t *testing.T, args ...string) *stationsyncProcess {
	t.Helper()
	binary := stationsyncBinary(t)

	cmd := exec.Command(binary, append([]string{"--config", env.config}, args...)...)
	cmd.Env = cleanEnv()

	logs := &logBuffer{}
	cmd.Stderr = logs // stationsync logs to stderr
	cmd.Stdout = os.Stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start stationsync %v: %v", args, err)
	}

	t.Cleanup(func() {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		cmd.Wait()
	})

	return &stationsyncProcess{cmd: cmd, logs: logs}
}

// run executes a short-lived stationsync command and returns its combined
// output.
func (env *testEnv) run(t *testing.T, timeout time.Duration, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, stationsyncBinary(t), append([]string{"--config", env.config}, args...)...)
	cmd.Env = cleanEnv()
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// cleanEnv drops STATIONSYNC_* overrides inherited from the caller.
func cleanEnv() []string {
	var env []string
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "STATIONSYNC_") {
			env = append(env, kv)
		}
	}
	return env
}

func waitForLog(t *testing.T, proc *stationsyncProcess, substr string, timeout time.Duration) string {
	t.Helper()
	line, ok := proc.logs.waitFor(substr, timeout)
	if !ok {
		t.Fatalf("timed out waiting for log: %q\nlogs:\n%s", substr, proc.logs.String())
	}
	return line
}

var addrRe = regexp.MustCompile(`addr=([^\s]+)`)

func waitForLogAddr(t *testing.T, proc *stationsyncProcess, substr string, timeout time.Duration) string {
	t.Helper()
	line := waitForLog(t, proc, substr, timeout)
	m := addrRe.FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("no addr= in log line: %s", line)
	}
	return m[1]
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
