package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/funnyzak/replaytap/pkg/flow"
)

var (
	// ErrBodyTooLarge is returned when a response body exceeds the limit.
	ErrBodyTooLarge = errors.New("HTTP body too large")
	// ErrMalformedResponse is returned for unparseable status lines or headers.
	ErrMalformedResponse = errors.New("malformed HTTP response")
)

// maxHeaderLines bounds the header block of a single response.
const maxHeaderLines = 1000

// ReadResponse reads one response to req from r. A limit of zero or less
// disables the body size check.
func ReadResponse(r *bufio.Reader, req *flow.Request, limit int64) (*flow.Response, error) {
	tp := textproto.NewReader(r)

	resp, err := readHead(tp)
	if err != nil {
		return nil, err
	}
	// Interim responses other than 101 precede the final one.
	for resp.StatusCode >= 100 && resp.StatusCode < 200 && resp.StatusCode != http.StatusSwitchingProtocols {
		if resp, err = readHead(tp); err != nil {
			return nil, err
		}
	}

	body, err := bodyReader(r, req, resp, limit)
	if err != nil {
		return nil, err
	}
	content, err := readBody(body, limit)
	if err != nil {
		return nil, err
	}
	resp.Content = content
	resp.TimestampEnd = time.Now()
	return resp, nil
}

func readHead(tp *textproto.Reader) (*flow.Response, error) {
	line, err := tp.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("server disconnected before sending a response: %w", io.ErrUnexpectedEOF)
		}
		return nil, err
	}
	resp := &flow.Response{TimestampStart: time.Now()}

	version, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(version, "HTTP/1.") {
		return nil, fmt.Errorf("%w: bad status line %q", ErrMalformedResponse, line)
	}
	code, reason, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return nil, fmt.Errorf("%w: bad status code %q", ErrMalformedResponse, code)
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return nil, fmt.Errorf("%w: bad status code %q", ErrMalformedResponse, code)
	}
	resp.HTTPVersion = version
	resp.StatusCode = status
	resp.Reason = reason

	for i := 0; ; i++ {
		if i > maxHeaderLines {
			return nil, fmt.Errorf("%w: too many headers", ErrMalformedResponse)
		}
		line, err := tp.ReadContinuedLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformedResponse, line)
		}
		resp.Headers.Add(name, strings.TrimSpace(value))
	}
	return resp, nil
}

func bodyReader(r *bufio.Reader, req *flow.Request, resp *flow.Response, limit int64) (io.Reader, error) {
	if !hasBody(req, resp) {
		return nil, nil
	}

	if te := resp.Headers.Get("Transfer-Encoding"); te != "" && isChunked(te) {
		return httputil.NewChunkedReader(r), nil
	}

	if values := resp.Headers.Values("Content-Length"); len(values) > 0 {
		size, err := contentLength(values)
		if err != nil {
			return nil, err
		}
		if limit > 0 && size > limit {
			return nil, fmt.Errorf("%w: limit is %d bytes, content length was advertised as %d bytes", ErrBodyTooLarge, limit, size)
		}
		return &exactReader{r: io.LimitReader(r, size), remaining: size}, nil
	}

	return r, nil
}

func hasBody(req *flow.Request, resp *flow.Response) bool {
	if req != nil {
		if strings.EqualFold(req.Method, http.MethodHead) {
			return false
		}
		if strings.EqualFold(req.Method, http.MethodConnect) && resp.StatusCode/100 == 2 {
			return false
		}
	}
	switch {
	case resp.StatusCode/100 == 1:
		return false
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotModified:
		return false
	}
	return true
}

func contentLength(values []string) (int64, error) {
	var size int64 = -1
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || n < 0 {
				return 0, fmt.Errorf("%w: invalid content-length %q", ErrMalformedResponse, v)
			}
			if size >= 0 && n != size {
				return 0, fmt.Errorf("%w: conflicting content-length values", ErrMalformedResponse)
			}
			size = n
		}
	}
	return size, nil
}

func readBody(body io.Reader, limit int64) ([]byte, error) {
	if body == nil {
		return []byte{}, nil
	}
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}
	content, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if limit > 0 && int64(len(content)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, limit)
	}
	return content, nil
}

// exactReader turns a premature EOF inside a Content-Length body into
// io.ErrUnexpectedEOF.
type exactReader struct {
	r         io.Reader
	remaining int64
}

func (e *exactReader) Read(p []byte) (int, error) {
	if e.remaining <= 0 {
		return 0, io.EOF
	}
	n, err := e.r.Read(p)
	e.remaining -= int64(n)
	if err == io.EOF && e.remaining > 0 {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}
