// Package wire serializes requests to HTTP/1 and parses HTTP/1 responses off
// a raw connection.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"strconv"
	"strings"

	"github.com/funnyzak/replaytap/pkg/flow"
	"golang.org/x/net/http/httpguts"
)

// ErrInvalidHeader is returned when a header cannot be written on the wire.
var ErrInvalidHeader = errors.New("invalid header field")

// AssembleRequest renders req as HTTP/1 bytes, head and body.
func AssembleRequest(req *flow.Request) ([]byte, error) {
	if req == nil {
		return nil, errors.New("cannot assemble nil request")
	}
	if !httpguts.ValidHeaderFieldName(req.Method) {
		return nil, fmt.Errorf("invalid method %q", req.Method)
	}

	version := req.HTTPVersion
	if version == "" || version == flow.HTTP20 {
		version = flow.HTTP11
	}

	var buf bytes.Buffer
	buf.WriteString(req.Method)
	buf.WriteByte(' ')
	buf.WriteString(requestTarget(req))
	buf.WriteByte(' ')
	buf.WriteString(version)
	buf.WriteString("\r\n")

	chunked := false
	framed := false
	for _, field := range req.Headers {
		if strings.HasPrefix(field.Name, ":") {
			continue
		}
		if !httpguts.ValidHeaderFieldName(field.Name) {
			return nil, fmt.Errorf("%w: name %q", ErrInvalidHeader, field.Name)
		}
		if !httpguts.ValidHeaderFieldValue(field.Value) {
			return nil, fmt.Errorf("%w: value of %q", ErrInvalidHeader, field.Name)
		}
		switch {
		case strings.EqualFold(field.Name, "Content-Length"):
			framed = true
		case strings.EqualFold(field.Name, "Transfer-Encoding"):
			framed = true
			chunked = chunked || isChunked(field.Value)
		}
		buf.WriteString(field.Name)
		buf.WriteString(": ")
		buf.WriteString(field.Value)
		buf.WriteString("\r\n")
	}
	if len(req.Content) > 0 && !framed {
		buf.WriteString("Content-Length: ")
		buf.WriteString(strconv.Itoa(len(req.Content)))
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")

	if chunked {
		cw := httputil.NewChunkedWriter(&buf)
		if len(req.Content) > 0 {
			if _, err := cw.Write(req.Content); err != nil {
				return nil, err
			}
		}
		if err := cw.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	} else {
		buf.Write(req.Content)
	}

	return buf.Bytes(), nil
}

// requestTarget picks the request-target form: authority-form for CONNECT,
// absolute-form when the authority carries a scheme, origin-form otherwise.
func requestTarget(req *flow.Request) string {
	if strings.EqualFold(req.Method, http.MethodConnect) {
		if req.Authority != "" {
			return req.Authority
		}
		return req.Address()
	}
	path := req.Path
	if path == "" {
		path = "/"
	}
	if strings.Contains(req.Authority, "://") {
		if path == "*" {
			return req.Authority
		}
		return req.Authority + path
	}
	return path
}

// MakeConnectRequest builds the CONNECT request sent to an upstream proxy to
// open a tunnel to host:port.
func MakeConnectRequest(host string, port int) *flow.Request {
	authority := net.JoinHostPort(host, strconv.Itoa(port))
	return &flow.Request{
		Method:      http.MethodConnect,
		Host:        host,
		Port:        port,
		HTTPVersion: flow.HTTP11,
		Authority:   authority,
		Headers:     flow.NewHeaders("Host", authority),
		Content:     []byte{},
	}
}

func isChunked(value string) bool {
	for _, coding := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(coding), "chunked") {
			return true
		}
	}
	return false
}
