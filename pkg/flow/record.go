package flow

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Record is the serialized form of a flow used by capture files and the
// capture database. Request content is base64 in JSON; null means the body
// was not captured.
type Record struct {
	ID          string      `json:"id"`
	Type        Type        `json:"type"`
	Intercepted bool        `json:"intercepted,omitempty"`
	IsReplay    string      `json:"is_replay,omitempty"`
	Request     *Request    `json:"request"`
	Response    *Response   `json:"response,omitempty"`
	Error       *Error      `json:"error,omitempty"`
	ServerConn  *ServerConn `json:"server_conn,omitempty"`
}

// ErrInvalidRecord is returned for records that cannot describe a flow.
var ErrInvalidRecord = errors.New("invalid flow record")

// ToRecord snapshots f.
func ToRecord(f *Flow) *Record {
	return &Record{
		ID:          f.ID,
		Type:        f.Type,
		Intercepted: f.Intercepted(),
		IsReplay:    f.IsReplay,
		Request:     f.Request.Clone(),
		Response:    f.Response.Clone(),
		Error:       cloneError(f.Error),
		ServerConn:  f.ServerConn.Clone(),
	}
}

// Flow rebuilds a flow. Missing IDs get a fresh one and a missing type means
// HTTP.
func (r *Record) Flow() (*Flow, error) {
	if r == nil {
		return nil, ErrInvalidRecord
	}
	typ := Type(strings.ToLower(string(r.Type)))
	switch typ {
	case "":
		typ = TypeHTTP
	case TypeHTTP, TypeTCP, TypeWebSocket:
	default:
		return nil, errors.Join(ErrInvalidRecord, errors.New("unknown flow type "+string(r.Type)))
	}
	if req := r.Request; req != nil {
		if req.Method == "" || req.Host == "" {
			return nil, errors.Join(ErrInvalidRecord, errors.New("request needs method and host"))
		}
		if req.Port <= 0 || req.Port > 65535 {
			req.Port = defaultPort(req.Scheme)
		}
		if req.Scheme == "" {
			req.Scheme = "http"
		}
		if req.HTTPVersion == "" {
			req.HTTPVersion = HTTP11
		}
	}

	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	f := &Flow{
		ID:         id,
		Type:       typ,
		Request:    r.Request.Clone(),
		Response:   r.Response.Clone(),
		Error:      cloneError(r.Error),
		IsReplay:   r.IsReplay,
		ServerConn: r.ServerConn.Clone(),
	}
	f.SetIntercepted(r.Intercepted)
	return f, nil
}

func defaultPort(scheme string) int {
	if strings.EqualFold(scheme, "https") {
		return 443
	}
	return 80
}
