// Package flow models captured HTTP transactions and the state a replay
// mutates on them.
package flow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies the protocol of a flow.
type Type string

const (
	TypeHTTP      Type = "http"
	TypeTCP       Type = "tcp"
	TypeWebSocket Type = "websocket"
)

// ReplayRequest marks a flow whose request is being replayed.
const ReplayRequest = "request"

// KilledMessage is the error text used for flows aborted by a hook.
const KilledMessage = "Connection killed."

// Error describes why a flow did not complete.
type Error struct {
	Msg       string    `json:"msg"`
	Timestamp time.Time `json:"timestamp"`
}

// NewError stamps msg with the current time.
func NewError(msg string) *Error {
	return &Error{Msg: msg, Timestamp: time.Now()}
}

func (e *Error) Error() string {
	return e.Msg
}

// Flow is one captured or replayed transaction.
type Flow struct {
	ID         string      `json:"id"`
	Type       Type        `json:"type"`
	Request    *Request    `json:"request"`
	Response   *Response   `json:"response"`
	Error      *Error      `json:"error"`
	IsReplay   string      `json:"is_replay"`
	ServerConn *ServerConn `json:"server_conn"`

	live        atomic.Bool
	intercepted atomic.Bool

	mu     sync.Mutex
	backup *snapshot
}

type snapshot struct {
	request    *Request
	response   *Response
	err        *Error
	isReplay   string
	serverConn *ServerConn
}

// NewHTTP creates an HTTP flow with a fresh ID.
func NewHTTP(req *Request) *Flow {
	return &Flow{
		ID:      uuid.New().String(),
		Type:    TypeHTTP,
		Request: req,
	}
}

// Live reports whether the flow is currently being processed.
func (f *Flow) Live() bool { return f.live.Load() }

// SetLive toggles the live marker.
func (f *Flow) SetLive(v bool) { f.live.Store(v) }

// Intercepted reports whether the proxy is holding the flow.
func (f *Flow) Intercepted() bool { return f.intercepted.Load() }

// SetIntercepted is used by the intercepting proxy.
func (f *Flow) SetIntercepted(v bool) { f.intercepted.Store(v) }

// Backup saves the mutable state unless a backup already exists.
func (f *Flow) Backup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backup != nil {
		return
	}
	f.backup = &snapshot{
		request:    f.Request.Clone(),
		response:   f.Response.Clone(),
		err:        cloneError(f.Error),
		isReplay:   f.IsReplay,
		serverConn: f.ServerConn,
	}
}

// Modified reports whether a backup is held.
func (f *Flow) Modified() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backup != nil
}

// Revert restores the state saved by Backup and drops the backup.
func (f *Flow) Revert() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backup == nil {
		return
	}
	f.Request = f.backup.request
	f.Response = f.backup.response
	f.Error = f.backup.err
	f.IsReplay = f.backup.isReplay
	f.ServerConn = f.backup.serverConn
	f.backup = nil
}

func cloneError(e *Error) *Error {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
