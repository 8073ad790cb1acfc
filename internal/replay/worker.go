package replay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/internal/netconn"
	"github.com/funnyzak/replaytap/internal/wire"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// Result tags how a replay attempt ended.
type Result int

const (
	Completed Result = iota
	Failed
	Killed
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Outcome is the result of one replay attempt.
type Outcome struct {
	Result Result
	Err    error
}

// replay runs the protocol for one claimed flow. It never panics.
func (p *ClientPlayback) replay(ctx context.Context, f *flow.Flow) (out Outcome) {
	req := f.Request
	authority := req.Authority
	var server *flow.ServerConn

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Unexpected error during client replay",
				"flow_id", f.ID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = Outcome{Result: Failed, Err: fmt.Errorf("panic: %v", r)}
		}

		req.Authority = authority
		p.record(out.Result)
		p.queue.done(f)
		if server.Connected() {
			server.Finish()
			_ = server.Close()
		}
	}()

	err := p.exchange(ctx, f, &server)

	var replayErr *ReplayError
	switch {
	case err == nil:
		return Outcome{Result: Completed}
	case errors.Is(err, errKilled):
		f.Response = nil
		p.logger.Info(flow.KilledMessage, "flow_id", f.ID)
		return Outcome{Result: Killed}
	case errors.As(err, &replayErr):
		f.Error = flow.NewError(replayErr.Error())
		p.logger.Warn("Client replay failed", "flow_id", f.ID, "error", replayErr.Error())
		p.opts.Hooks.Ask(ctx, hooks.PhaseError, f)
		return Outcome{Result: Failed, Err: err}
	default:
		p.logger.Error("Unexpected error during client replay", "flow_id", f.ID, "error", err)
		return Outcome{Result: Failed, Err: err}
	}
}

// exchange performs hooks and network I/O. *server is set as soon as a
// connection exists so the caller can release it on every path.
func (p *ClientPlayback) exchange(ctx context.Context, f *flow.Flow, server **flow.ServerConn) error {
	req := f.Request
	f.Response = nil

	verdict := p.opts.Hooks.Ask(ctx, hooks.PhaseRequest, f)
	if verdict.IsAbort() {
		return errKilled
	}
	if resp := verdict.Response(); resp != nil {
		f.Response = resp
	}

	if f.Response == nil {
		sc, err := p.connect(ctx, f, server)
		if err != nil {
			return err
		}

		raw, err := wire.AssembleRequest(req)
		if err != nil {
			return replayErrorf(err, "Cannot assemble request")
		}
		if _, err := sc.Conn().Write(raw); err != nil {
			return replayErrorf(err, "Cannot send request to %s", sc.Address)
		}
		now := time.Now()
		req.TimestampStart = now
		req.TimestampEnd = now

		if f.ServerConn != nil && f.ServerConn != sc {
			_ = f.ServerConn.Close()
		}
		f.ServerConn = sc

		resp, err := wire.ReadResponse(sc.Reader(), req, p.opts.BodySizeLimit)
		if err != nil {
			return replayErrorf(err, "Cannot read response from %s", sc.Address)
		}
		f.Response = resp
	}

	if p.opts.Hooks.Ask(ctx, hooks.PhaseResponse, f).IsAbort() {
		return errKilled
	}
	return nil
}

// connect opens the connection for f according to the replay mode and points
// the request authority at the right form.
func (p *ClientPlayback) connect(ctx context.Context, f *flow.Flow, server **flow.ServerConn) (*flow.ServerConn, error) {
	req := f.Request
	sni := netconn.ServerName(recordedSNI(f), req.Host)

	if mode := p.opts.Mode; mode.Upstream() {
		sc, err := p.opts.Dialer.Connect(ctx, mode.Address())
		if err != nil {
			return nil, replayErrorf(err, "Cannot connect to upstream proxy")
		}
		*server = sc

		if !req.Secure() {
			req.Authority = flow.HostPort(req.Scheme, req.Host, req.Port)
			return sc, nil
		}

		connectReq := wire.MakeConnectRequest(req.Host, req.Port)
		raw, err := wire.AssembleRequest(connectReq)
		if err != nil {
			return nil, replayErrorf(err, "Cannot assemble CONNECT request")
		}
		if _, err := sc.Conn().Write(raw); err != nil {
			return nil, replayErrorf(err, "Cannot send CONNECT request")
		}
		resp, err := wire.ReadResponse(sc.Reader(), connectReq, p.opts.BodySizeLimit)
		if err != nil {
			return nil, replayErrorf(err, "Cannot read CONNECT response")
		}
		if resp.StatusCode != 200 {
			return nil, &ReplayError{Msg: upstreamRefusedMsg}
		}
		if err := p.opts.Dialer.EstablishTLS(ctx, sc, sni, req.Host); err != nil {
			return nil, replayErrorf(err, "Cannot establish TLS")
		}
		req.Authority = ""
		return sc, nil
	}

	sc, err := p.opts.Dialer.Connect(ctx, req.Address())
	if err != nil {
		return nil, replayErrorf(err, "Cannot connect to server")
	}
	*server = sc
	if req.Secure() {
		if err := p.opts.Dialer.EstablishTLS(ctx, sc, sni, req.Host); err != nil {
			return nil, replayErrorf(err, "Cannot establish TLS")
		}
	}
	req.Authority = ""
	return sc, nil
}

func (p *ClientPlayback) record(r Result) {
	switch r {
	case Completed:
		p.completed.Add(1)
	case Failed:
		p.failed.Add(1)
	case Killed:
		p.killed.Add(1)
	}
}

func recordedSNI(f *flow.Flow) string {
	if f.ServerConn == nil {
		return ""
	}
	return f.ServerConn.SNI
}
