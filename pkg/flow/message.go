package flow

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// HTTP protocol versions seen on captured flows.
const (
	HTTP10 = "HTTP/1.0"
	HTTP11 = "HTTP/1.1"
	HTTP20 = "HTTP/2.0"
)

// Request is a captured HTTP request.
type Request struct {
	Method      string  `json:"method"`
	Scheme      string  `json:"scheme"`
	Host        string  `json:"host"`
	Port        int     `json:"port"`
	Path        string  `json:"path"`
	HTTPVersion string  `json:"http_version"`
	Headers     Headers `json:"headers"`
	// Content is nil when the body was not captured.
	Content []byte `json:"content"`
	// Authority is the wire-level target. It is rewritten for the duration of
	// a replay and restored afterwards.
	Authority      string    `json:"authority"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`
}

// Address returns host:port.
func (r *Request) Address() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Secure reports whether the request targets a TLS origin.
func (r *Request) Secure() bool {
	return strings.EqualFold(r.Scheme, "https")
}

// HostPort formats the absolute-form authority scheme://host:port.
func HostPort(scheme, host string, port int) string {
	return strings.ToLower(scheme) + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	if r.Content != nil {
		c.Content = append([]byte{}, r.Content...)
	}
	return &c
}

// Response is an HTTP response, either received from a server or supplied by
// a hook.
type Response struct {
	HTTPVersion    string    `json:"http_version"`
	StatusCode     int       `json:"status_code"`
	Reason         string    `json:"reason"`
	Headers        Headers   `json:"headers"`
	Content        []byte    `json:"content"`
	TimestampStart time.Time `json:"timestamp_start"`
	TimestampEnd   time.Time `json:"timestamp_end"`
}

// Clone returns a deep copy.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	c := *r
	c.Headers = r.Headers.Clone()
	if r.Content != nil {
		c.Content = append([]byte{}, r.Content...)
	}
	return &c
}
