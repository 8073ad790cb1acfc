// Package replay re-issues captured HTTP requests against live servers, one at
// a time, in submission order.
package replay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// Validation messages returned by Check.
const (
	MsgLive            = "Can't replay live flow."
	MsgIntercepted     = "Can't replay intercepted flow."
	MsgNotHTTP         = "Can only replay HTTP flows."
	MsgMissingRequest  = "Can't replay flow with missing request."
	MsgMissingContent  = "Can't replay flow with missing content."
	MsgQueueCleared    = "Client replay queue cleared."
	upstreamRefusedMsg = "Upstream server refuses CONNECT request"
)

// ConnectionFactory opens server connections for the worker.
type ConnectionFactory interface {
	Connect(ctx context.Context, address string) (*flow.ServerConn, error)
	// EstablishTLS sends sni and verifies the certificate against it, or
	// against host when sni is empty.
	EstablishTLS(ctx context.Context, sc *flow.ServerConn, sni, host string) error
}

// FlowReader loads flows from capture files.
type FlowReader interface {
	ReadFlowsFromPaths(paths []string) ([]*flow.Flow, error)
}

// Notifier receives flows whose state changed outside of a replay.
type Notifier interface {
	Update(flows []*flow.Flow)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(flows []*flow.Flow)

// Update implements Notifier.
func (fn NotifierFunc) Update(flows []*flow.Flow) { fn(flows) }

// Options wires the playback engine.
type Options struct {
	Dialer   ConnectionFactory
	Hooks    *hooks.Channel
	Reader   FlowReader
	Notifier Notifier
	Mode     config.Mode
	// BodySizeLimit caps response bodies. Zero disables the check.
	BodySizeLimit int64
}

// Stats counts finished replays by outcome.
type Stats struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Killed    int64 `json:"killed"`
}

// ClientPlayback owns the replay queue and its worker.
type ClientPlayback struct {
	opts   Options
	logger logger.Logger
	queue  *queue

	startOnce sync.Once
	done      chan struct{}

	completed atomic.Int64
	failed    atomic.Int64
	killed    atomic.Int64
}

// New creates a ClientPlayback. Start must be called before flows are
// replayed.
func New(opts Options, log logger.Logger) *ClientPlayback {
	if opts.Hooks == nil {
		opts.Hooks = hooks.NewChannel()
	}
	if opts.Notifier == nil {
		opts.Notifier = NotifierFunc(func([]*flow.Flow) {})
	}
	return &ClientPlayback{
		opts:   opts,
		logger: log,
		queue:  newQueue(),
		done:   make(chan struct{}),
	}
}

// Check returns why f cannot be replayed, or "" when it can.
func (p *ClientPlayback) Check(f *flow.Flow) string {
	if f.Live() {
		return MsgLive
	}
	if f.Intercepted() {
		return MsgIntercepted
	}
	if f.Type != flow.TypeHTTP {
		return MsgNotHTTP
	}
	if f.Request == nil {
		return MsgMissingRequest
	}
	if f.Request.Content == nil {
		return MsgMissingContent
	}
	return ""
}

// StartReplay queues every replayable flow, in order, and skips the rest
// with a warning.
func (p *ClientPlayback) StartReplay(flows []*flow.Flow) {
	accepted := make([]*flow.Flow, 0, len(flows))
	for _, f := range flows {
		if msg := p.Check(f); msg != "" {
			p.logger.Warn(msg, "flow_id", f.ID)
			continue
		}

		f.Backup()
		f.IsReplay = flow.ReplayRequest
		f.Response = nil
		f.Error = nil
		if f.Request.HTTPVersion == flow.HTTP20 {
			downgrade(f.Request)
		}
		accepted = append(accepted, f)
	}

	// Observers snapshot the flows, so they must see them before the worker can
	// claim one.
	p.opts.Notifier.Update(accepted)
	p.queue.push(accepted...)
}

// downgrade rewrites an HTTP/2 request so it can be sent over HTTP/1.1. The
// host header always carries the request host, whatever :authority said.
func downgrade(r *flow.Request) {
	r.HTTPVersion = flow.HTTP11
	r.Headers.Remove(":authority")
	if r.Host != "" {
		r.Headers.Insert(0, "host", r.Host)
	}
}

// StopReplay clears the queue and reverts every flow that was still waiting.
// A flow already claimed by the worker is unaffected.
func (p *ClientPlayback) StopReplay() {
	drained := p.queue.drain()
	for _, f := range drained {
		f.Revert()
	}
	p.opts.Notifier.Update(drained)
	p.logger.Info(MsgQueueCleared, "flows", len(drained))
}

// Count returns the number of queued flows plus the one in flight.
func (p *ClientPlayback) Count() int {
	return p.queue.count()
}

// LoadFile reads the capture at path and queues its flows.
func (p *ClientPlayback) LoadFile(path string) error {
	flows, err := p.opts.Reader.ReadFlowsFromPaths([]string{path})
	if err != nil {
		return &CommandError{Msg: "Cannot load flows", Err: err}
	}
	p.StartReplay(flows)
	return nil
}

// Configure applies the client_replay option. All paths are read before any
// flow is queued.
func (p *ClientPlayback) Configure(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	flows, err := p.opts.Reader.ReadFlowsFromPaths(paths)
	if err != nil {
		return &OptionsError{Msg: "Cannot load client_replay flows", Err: err}
	}
	p.StartReplay(flows)
	return nil
}

// Stats returns outcome counters.
func (p *ClientPlayback) Stats() Stats {
	return Stats{
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Killed:    p.killed.Load(),
	}
}

// Start launches the worker. It stops once ctx is cancelled and the current
// replay, if any, has finished.
func (p *ClientPlayback) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

// Wait blocks until the worker has exited.
func (p *ClientPlayback) Wait() {
	<-p.done
}

func (p *ClientPlayback) run(ctx context.Context) {
	defer close(p.done)
	p.logger.Debug("Client replay worker started")
	for {
		f, err := p.queue.take(ctx)
		if err != nil {
			p.logger.Debug("Client replay worker stopped", "pending", p.queue.len())
			return
		}
		// Claimed replays run to completion.
		p.replay(context.WithoutCancel(ctx), f)
	}
}
