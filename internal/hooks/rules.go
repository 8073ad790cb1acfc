package hooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// Rule actions.
const (
	ActionRespond = "respond"
	ActionKill    = "kill"
)

type rule struct {
	name    string
	phase   Phase
	action  string
	status  int
	headers map[string]string
	body    string
	program *vm.Program
}

// Rules evaluates configured expressions against each replay and answers with
// a canned response or a kill when one matches.
type Rules struct {
	rules  []rule
	logger logger.Logger
}

// NewRules compiles every rule up front so that typos fail at startup.
func NewRules(cfgs []config.RuleConfig, log logger.Logger) (*Rules, error) {
	r := &Rules{logger: log}
	for i, cfg := range cfgs {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("rule-%d", i+1)
		}
		program, err := expr.Compile(cfg.When, expr.Env(ruleEnv(nil, PhaseRequest)), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("compile hook rule %s: %w", name, err)
		}
		r.rules = append(r.rules, rule{
			name:    name,
			phase:   Phase(strings.ToLower(cfg.Phase)),
			action:  strings.ToLower(cfg.Action),
			status:  cfg.Status,
			headers: cfg.Headers,
			body:    cfg.Body,
			program: program,
		})
	}
	return r, nil
}

// Len returns the number of compiled rules.
func (r *Rules) Len() int { return len(r.rules) }

// OnPhase implements Hook.
func (r *Rules) OnPhase(_ context.Context, phase Phase, f *flow.Flow) Verdict {
	if len(r.rules) == 0 {
		return Pass()
	}
	env := ruleEnv(f, phase)
	for _, rl := range r.rules {
		if rl.phase != phase {
			continue
		}
		out, err := expr.Run(rl.program, env)
		if err != nil {
			r.logger.Warn("Hook rule evaluation failed", "rule", rl.name, "error", err)
			continue
		}
		if matched, _ := out.(bool); !matched {
			continue
		}

		r.logger.Info("Hook rule matched", "rule", rl.name, "action", rl.action, "flow_id", f.ID)
		switch rl.action {
		case ActionKill:
			return Abort()
		case ActionRespond:
			return Substitute(rl.response())
		}
	}
	return Pass()
}

func (rl rule) response() *flow.Response {
	now := time.Now()
	resp := &flow.Response{
		HTTPVersion:    flow.HTTP11,
		StatusCode:     rl.status,
		Reason:         http.StatusText(rl.status),
		Content:        []byte(rl.body),
		TimestampStart: now,
		TimestampEnd:   now,
	}
	for name, value := range rl.headers {
		resp.Headers.Add(name, value)
	}
	if !resp.Headers.Has("Content-Length") {
		resp.Headers.Add("Content-Length", fmt.Sprint(len(rl.body)))
	}
	return resp
}

// ruleEnv exposes a flow to expressions. Every key is always present so that
// rules referencing the response compile and run in the request phase too.
func ruleEnv(f *flow.Flow, phase Phase) map[string]interface{} {
	req := map[string]interface{}{
		"method":       "",
		"scheme":       "",
		"host":         "",
		"port":         0,
		"path":         "",
		"url":          "",
		"http_version": "",
		"headers":      map[string]string{},
		"body":         "",
	}
	resp := map[string]interface{}{
		"present": false,
		"status":  0,
		"reason":  "",
		"headers": map[string]string{},
		"body":    "",
	}
	fl := map[string]interface{}{
		"id":        "",
		"type":      "",
		"is_replay": "",
		"phase":     string(phase),
		"error":     "",
	}

	if f == nil {
		return map[string]interface{}{"request": req, "response": resp, "flow": fl}
	}

	fl["id"] = f.ID
	fl["type"] = string(f.Type)
	fl["is_replay"] = f.IsReplay
	if f.Error != nil {
		fl["error"] = f.Error.Msg
	}
	if r := f.Request; r != nil {
		req["method"] = r.Method
		req["scheme"] = r.Scheme
		req["host"] = r.Host
		req["port"] = r.Port
		req["path"] = r.Path
		req["url"] = flow.HostPort(r.Scheme, r.Host, r.Port) + r.Path
		req["http_version"] = r.HTTPVersion
		req["headers"] = headerMap(r.Headers)
		req["body"] = string(r.Content)
	}
	if r := f.Response; r != nil {
		resp["present"] = true
		resp["status"] = r.StatusCode
		resp["reason"] = r.Reason
		resp["headers"] = headerMap(r.Headers)
		resp["body"] = string(r.Content)
	}
	return map[string]interface{}{"request": req, "response": resp, "flow": fl}
}

// headerMap lowercases names and keeps the first value of duplicates.
func headerMap(h flow.Headers) map[string]string {
	out := make(map[string]string, len(h))
	for _, field := range h {
		key := strings.ToLower(field.Name)
		if _, ok := out[key]; !ok {
			out[key] = field.Value
		}
	}
	return out
}
