package printer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/pkg/flow"
)

func init() {
	color.NoColor = true
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

func replayedFlow(body string) *flow.Flow {
	start := time.Date(2025, time.November, 7, 12, 0, 0, 0, time.UTC)
	f := flow.NewHTTP(&flow.Request{
		Method:         "POST",
		Scheme:         "https",
		Host:           "api.example.com",
		Port:           443,
		Path:           "/hello?q=1",
		HTTPVersion:    flow.HTTP11,
		Headers:        flow.NewHeaders("User-Agent", "test", "Authorization", "secret", "Connection", "keep-alive"),
		Content:        []byte("hi"),
		TimestampStart: start,
	})
	f.Response = &flow.Response{
		HTTPVersion:  flow.HTTP11,
		StatusCode:   201,
		Reason:       "Created",
		Headers:      flow.NewHeaders("Content-Type", "application/json"),
		Content:      []byte(body),
		TimestampEnd: start.Add(42 * time.Millisecond),
	}
	return f
}

func newTestConsole(t *testing.T, maxBody int) (*ConsolePrinter, *bytes.Buffer) {
	t.Helper()
	t.Setenv("REPLAYTAP_TEST_WIDTH", "80")
	p := NewConsolePrinter(noopLogger{}, &config.OutputConfig{MaxBodyBytes: maxBody})
	buf := &bytes.Buffer{}
	p.out = buf
	return p, buf
}

func TestConsolePrinter_PrintReplay(t *testing.T) {
	p, buf := newTestConsole(t, 0)

	if err := p.PrintReplay(replayedFlow(`{"ok":true}`)); err != nil {
		t.Fatalf("print replay failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		"Replay #",
		"Target: https://api.example.com:443",
		"Result: 201 Created",
		"Time: 42ms",
		"POST /hello?q=1 HTTP/1.1",
		"HTTP/1.1 201 Created",
		"\"ok\": true",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "secret") {
		t.Fatalf("sensitive header should be redacted")
	}
	if strings.Contains(out, "keep-alive") {
		t.Fatalf("hop-by-hop header should be skipped")
	}
}

func TestConsolePrinter_Failure(t *testing.T) {
	p, buf := newTestConsole(t, 0)
	f := replayedFlow("")
	f.Response = nil
	f.Error = flow.NewError("Cannot connect to server")

	if err := p.PrintReplay(f); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "failed: Cannot connect to server") {
		t.Fatalf("failure missing:\n%s", buf.String())
	}
}

func TestConsolePrinter_BodyTruncationAndBinary(t *testing.T) {
	p, buf := newTestConsole(t, 8)
	f := replayedFlow(strings.Repeat("abcdefgh", 4))
	f.Response.Headers = flow.NewHeaders("Content-Type", "text/plain")
	p.PrintReplay(f)
	if !strings.Contains(buf.String(), "[Body truncated: showing 8 B of 32 B]") {
		t.Fatalf("truncation notice missing:\n%s", buf.String())
	}

	buf.Reset()
	f = replayedFlow("")
	f.Response.Content = []byte{0xff, 0xfe, 0x00}
	p.PrintReplay(f)
	if !strings.Contains(buf.String(), "[Binary Body") {
		t.Fatalf("binary notice missing:\n%s", buf.String())
	}
}

func TestWrapText(t *testing.T) {
	p := NewConsolePrinter(noopLogger{}, nil)
	lines := p.wrapText("alpha beta gamma delta", 11)
	if len(lines) != 2 || lines[0] != "alpha beta" || lines[1] != "gamma delta" {
		t.Fatalf("unexpected wrap %q", lines)
	}
	if got := p.wrapText("", 10); len(got) != 1 || got[0] != "" {
		t.Fatalf("empty text should give one empty line, got %q", got)
	}
}

func TestFormatBody(t *testing.T) {
	text, ok := formatBody("application/x-www-form-urlencoded", []byte("b=2&a=1"))
	if !ok || text != "a = 1\nb = 2" {
		t.Fatalf("unexpected form rendering %q", text)
	}
	text, ok = formatBody("", []byte(`[1,2]`))
	if !ok || text != "[\n  1,\n  2\n]" {
		t.Fatalf("unexpected json rendering %q", text)
	}
	if _, ok := formatBody("application/octet-stream", []byte{0xff}); ok {
		t.Fatal("invalid utf-8 should be reported as binary")
	}
}

type failingPrinter struct{ calls int }

func (p *failingPrinter) PrintReplay(*flow.Flow) error {
	p.calls++
	return errors.New("closed")
}

func TestHookPrintsFinishedReplays(t *testing.T) {
	p := &failingPrinter{}
	h := NewHook(p, noopLogger{})
	f := replayedFlow("")
	ctx := context.Background()

	for _, phase := range []hooks.Phase{hooks.PhaseRequest, hooks.PhaseResponse, hooks.PhaseError} {
		if v := h.OnPhase(ctx, phase, f); !v.IsPass() {
			t.Fatalf("printer hook must always pass, got %v", v)
		}
	}
	if p.calls != 2 {
		t.Fatalf("expected response and error phases to print, got %d", p.calls)
	}
}
