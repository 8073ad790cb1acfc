// Package hooks dispatches replay phase events to observers that may pass,
// substitute a response, or abort the replay.
package hooks

import (
	"context"
	"sync"

	"github.com/funnyzak/replaytap/pkg/flow"
)

// Phase names a point in the replay protocol.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
	PhaseError    Phase = "error"
)

type verdictKind int

const (
	pass verdictKind = iota
	substitute
	abort
)

// Verdict is a hook's answer to a phase event.
type Verdict struct {
	kind     verdictKind
	response *flow.Response
}

// Pass lets the replay continue unchanged.
func Pass() Verdict { return Verdict{} }

// Substitute supplies a response in place of the network round trip.
func Substitute(resp *flow.Response) Verdict {
	return Verdict{kind: substitute, response: resp}
}

// Abort kills the replay.
func Abort() Verdict { return Verdict{kind: abort} }

// IsPass reports whether the verdict lets the replay continue.
func (v Verdict) IsPass() bool { return v.kind == pass }

// IsAbort reports whether the hook killed the replay.
func (v Verdict) IsAbort() bool { return v.kind == abort }

// Response returns the substitute response, or nil.
func (v Verdict) Response() *flow.Response {
	if v.kind != substitute {
		return nil
	}
	return v.response
}

func (v Verdict) String() string {
	switch v.kind {
	case substitute:
		return "substitute"
	case abort:
		return "abort"
	default:
		return "pass"
	}
}

// Hook observes replay phases.
type Hook interface {
	OnPhase(ctx context.Context, phase Phase, f *flow.Flow) Verdict
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, phase Phase, f *flow.Flow) Verdict

// OnPhase implements Hook.
func (fn HookFunc) OnPhase(ctx context.Context, phase Phase, f *flow.Flow) Verdict {
	return fn(ctx, phase, f)
}

// Channel calls hooks in registration order.
type Channel struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewChannel creates a channel with the given hooks.
func NewChannel(hooks ...Hook) *Channel {
	c := &Channel{}
	for _, h := range hooks {
		c.Register(h)
	}
	return c
}

// Register appends a hook. Nil hooks are ignored.
func (c *Channel) Register(h Hook) {
	if h == nil {
		return
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, h)
	c.mu.Unlock()
}

// Ask dispatches phase to every hook until one returns a non-pass verdict.
// Panics raised by hooks propagate to the caller.
func (c *Channel) Ask(ctx context.Context, phase Phase, f *flow.Flow) Verdict {
	c.mu.RLock()
	hooks := c.hooks
	c.mu.RUnlock()

	for _, h := range hooks {
		if v := h.OnPhase(ctx, phase, f); !v.IsPass() {
			return v
		}
	}
	return Pass()
}
