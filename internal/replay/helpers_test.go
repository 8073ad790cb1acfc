package replay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/netconn"
	"github.com/funnyzak/replaytap/pkg/flow"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level  string
	msg    string
	fields []interface{}
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, fields []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, fields: fields})
}

func (l *recordingLogger) Debug(msg string, f ...interface{}) { l.add("debug", msg, f) }
func (l *recordingLogger) Info(msg string, f ...interface{})  { l.add("info", msg, f) }
func (l *recordingLogger) Warn(msg string, f ...interface{})  { l.add("warn", msg, f) }
func (l *recordingLogger) Error(msg string, f ...interface{}) { l.add("error", msg, f) }
func (l *recordingLogger) Fatal(msg string, f ...interface{}) { l.add("fatal", msg, f) }

func (l *recordingLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.level == level {
			n++
		}
	}
	return n
}

func (l *recordingLogger) has(level, msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level == level && e.msg == msg {
			return true
		}
	}
	return false
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates [][]*flow.Flow
}

func (n *recordingNotifier) Update(flows []*flow.Flow) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.updates = append(n.updates, flows)
}

func (n *recordingNotifier) calls() [][]*flow.Flow {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]*flow.Flow(nil), n.updates...)
}

type stubReader struct {
	flows []*flow.Flow
	err   error
	paths []string
}

func (r *stubReader) ReadFlowsFromPaths(paths []string) ([]*flow.Flow, error) {
	r.paths = paths
	return r.flows, r.err
}

// countingDialer records every connection attempt.
type countingDialer struct {
	mu    sync.Mutex
	dials []string
	next  ConnectionFactory
}

func (d *countingDialer) Connect(ctx context.Context, address string) (*flow.ServerConn, error) {
	d.mu.Lock()
	d.dials = append(d.dials, address)
	d.mu.Unlock()
	return d.next.Connect(ctx, address)
}

func (d *countingDialer) EstablishTLS(ctx context.Context, sc *flow.ServerConn, sni, host string) error {
	return d.next.EstablishTLS(ctx, sc, sni, host)
}

func (d *countingDialer) attempts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dials...)
}

func testDialer(t *testing.T) *countingDialer {
	t.Helper()
	d, err := netconn.New(netconn.Options{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    5 * time.Second,
		TLS:            config.TLSConfig{InsecureSkipVerify: true},
	})
	require.NoError(t, err)
	return &countingDialer{next: d}
}

type fixture struct {
	playback *ClientPlayback
	logger   *recordingLogger
	notifier *recordingNotifier
	hooks    *hooks.Channel
	dialer   *countingDialer
	reader   *stubReader
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	fx := &fixture{
		logger:   &recordingLogger{},
		notifier: &recordingNotifier{},
		hooks:    hooks.NewChannel(),
		dialer:   testDialer(t),
		reader:   &stubReader{},
	}
	opts := Options{
		Dialer:   fx.dialer,
		Hooks:    fx.hooks,
		Reader:   fx.reader,
		Notifier: fx.notifier,
		Mode:     config.Mode{Kind: config.ModeRegular},
	}
	if mutate != nil {
		mutate(&opts)
	}
	fx.playback = New(opts, fx.logger)
	return fx
}

func (fx *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	fx.playback.Start(ctx)
	t.Cleanup(func() {
		cancel()
		fx.playback.Wait()
	})
}

func (fx *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool { return fx.playback.Count() == 0 }, 5*time.Second, 5*time.Millisecond)
}

// newFlow builds a replayable flow for rawURL.
func newFlow(t *testing.T, method, rawURL string) *flow.Flow {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	path := u.RequestURI()
	return flow.NewHTTP(&flow.Request{
		Method:      method,
		Scheme:      u.Scheme,
		Host:        u.Hostname(),
		Port:        port,
		Path:        path,
		HTTPVersion: flow.HTTP11,
		Headers:     flow.NewHeaders("Host", u.Host, "User-Agent", "replaytap-test"),
		Content:     []byte{},
		Authority:   "captured-authority",
	})
}

// startProxy runs a minimal forward proxy. Plain requests are answered with
// their request-target as body; CONNECT is tunneled unless refused.
func startProxy(t *testing.T, refuse bool) (string, <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	seen := make(chan string, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveProxyConn(conn, refuse, seen)
		}
	}()
	return ln.Addr().String(), seen
}

func serveProxyConn(conn net.Conn, refuse bool, seen chan<- string) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	req, err := http.ReadRequest(br)
	if err != nil {
		return
	}
	seen <- req.Method + " " + req.RequestURI

	if req.Method != http.MethodConnect {
		body := req.RequestURI
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
		return
	}
	if refuse {
		io.WriteString(conn, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
		return
	}
	target, err := net.Dial("tcp", req.RequestURI)
	if err != nil {
		io.WriteString(conn, "HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n")
		return
	}
	defer target.Close()
	io.WriteString(conn, "HTTP/1.1 200 Connection established\r\n\r\n")
	go io.Copy(target, br)
	io.Copy(conn, target)
}
