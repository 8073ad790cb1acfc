package hooks

import (
	"context"
	"testing"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/pkg/flow"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

func testFlow(method, path string) *flow.Flow {
	f := flow.NewHTTP(&flow.Request{
		Method:      method,
		Scheme:      "https",
		Host:        "api.example.test",
		Port:        443,
		Path:        path,
		HTTPVersion: flow.HTTP11,
		Headers:     flow.NewHeaders("Host", "api.example.test", "X-Tenant", "blue"),
		Content:     []byte(`{"a":1}`),
	})
	f.IsReplay = flow.ReplayRequest
	return f
}

func TestChannelStopsAtFirstVerdict(t *testing.T) {
	var calls []string
	record := func(name string, v Verdict) Hook {
		return HookFunc(func(_ context.Context, phase Phase, _ *flow.Flow) Verdict {
			calls = append(calls, name+":"+string(phase))
			return v
		})
	}
	resp := &flow.Response{StatusCode: 418}
	ch := NewChannel(record("a", Pass()), nil, record("b", Substitute(resp)), record("c", Abort()))

	v := ch.Ask(context.Background(), PhaseRequest, testFlow("GET", "/"))
	if v.Response() != resp {
		t.Fatalf("expected substitute verdict, got %s", v)
	}
	if len(calls) != 2 || calls[0] != "a:request" || calls[1] != "b:request" {
		t.Fatalf("unexpected call order %v", calls)
	}
}

func TestChannelWithoutHooksPasses(t *testing.T) {
	v := NewChannel().Ask(context.Background(), PhaseResponse, testFlow("GET", "/"))
	if !v.IsPass() || v.Response() != nil || v.IsAbort() {
		t.Fatalf("expected pass, got %s", v)
	}
}

func TestVerdictAccessors(t *testing.T) {
	if Abort().Response() != nil || !Abort().IsAbort() {
		t.Fatal("abort carries no response")
	}
	if Substitute(nil).IsPass() {
		t.Fatal("substitute is not pass")
	}
}

func TestRulesRespondAndKill(t *testing.T) {
	rules, err := NewRules([]config.RuleConfig{
		{
			Name:    "stub-delete",
			Phase:   "request",
			When:    `request.method == "DELETE" && request.headers["x-tenant"] == "blue"`,
			Action:  "respond",
			Status:  202,
			Body:    "queued",
			Headers: map[string]string{"X-Stub": "1"},
		},
		{
			Name:   "kill-errors",
			Phase:  "response",
			When:   `response.present && response.status >= 500`,
			Action: "kill",
		},
	}, noopLogger{})
	if err != nil {
		t.Fatalf("NewRules: %v", err)
	}
	if rules.Len() != 2 {
		t.Fatalf("expected 2 rules, got %d", rules.Len())
	}

	ctx := context.Background()

	v := rules.OnPhase(ctx, PhaseRequest, testFlow("DELETE", "/items/1"))
	resp := v.Response()
	if resp == nil {
		t.Fatalf("expected substitute, got %s", v)
	}
	if resp.StatusCode != 202 || resp.Reason != "Accepted" || string(resp.Content) != "queued" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Headers.Get("x-stub") != "1" || resp.Headers.Get("content-length") != "6" {
		t.Fatalf("unexpected headers %v", resp.Headers)
	}

	if v := rules.OnPhase(ctx, PhaseRequest, testFlow("GET", "/items/1")); !v.IsPass() {
		t.Fatalf("GET should pass, got %s", v)
	}

	f := testFlow("GET", "/")
	if v := rules.OnPhase(ctx, PhaseResponse, f); !v.IsPass() {
		t.Fatalf("missing response should pass, got %s", v)
	}
	f.Response = &flow.Response{StatusCode: 503}
	if v := rules.OnPhase(ctx, PhaseResponse, f); !v.IsAbort() {
		t.Fatalf("5xx should be killed, got %s", v)
	}
	if v := rules.OnPhase(ctx, PhaseRequest, f); !v.IsPass() {
		t.Fatalf("response rule must not fire in request phase, got %s", v)
	}
}

func TestRulesRejectBadExpression(t *testing.T) {
	_, err := NewRules([]config.RuleConfig{{When: `request.method ==`, Action: "kill", Phase: "request"}}, noopLogger{})
	if err == nil {
		t.Fatal("expected compile error")
	}
	_, err = NewRules([]config.RuleConfig{{When: `"replay" + "tap"`, Action: "kill", Phase: "request"}}, noopLogger{})
	if err == nil {
		t.Fatal("expected non-bool expression to be rejected")
	}
}
