package printer

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
)

// ColorScheme color scheme
type ColorScheme struct {
	MethodGET      *color.Color
	MethodPOST     *color.Color
	MethodPUT      *color.Color
	MethodDELETE   *color.Color
	MethodPATCH    *color.Color
	HeaderKey      *color.Color
	HeaderValue    *color.Color
	Separator      *color.Color
	Timestamp      *color.Color
	BodyContent    *color.Color
	BinaryNotice   *color.Color
	TruncateNotice *color.Color
	Target         *color.Color
	StatusOK       *color.Color
	StatusRedirect *color.Color
	StatusError    *color.Color
}

// NewColorScheme creates a new color scheme
func NewColorScheme() *ColorScheme {
	return &ColorScheme{
		MethodGET:      color.New(color.FgBlue, color.Bold),
		MethodPOST:     color.New(color.FgGreen, color.Bold),
		MethodPUT:      color.New(color.FgYellow, color.Bold),
		MethodDELETE:   color.New(color.FgRed, color.Bold),
		MethodPATCH:    color.New(color.FgMagenta, color.Bold),
		HeaderKey:      color.New(color.FgCyan),
		HeaderValue:    color.New(color.FgWhite),
		Separator:      color.New(color.FgYellow, color.Bold),
		Timestamp:      color.New(color.FgHiBlack),
		BodyContent:    color.New(color.FgWhite),
		BinaryNotice:   color.New(color.FgHiRed, color.Bold),
		TruncateNotice: color.New(color.FgHiYellow, color.Bold),
		Target:         color.New(color.FgHiBlue),
		StatusOK:       color.New(color.FgGreen, color.Bold),
		StatusRedirect: color.New(color.FgCyan, color.Bold),
		StatusError:    color.New(color.FgRed, color.Bold),
	}
}

// Global replay counter
var replayCounter uint64

// ConsolePrinter console printer
type ConsolePrinter struct {
	colorScheme  *ColorScheme
	logger       logger.Logger
	maxBodyBytes int

	mu  sync.Mutex
	out io.Writer
}

// NewConsolePrinter creates a new console printer
func NewConsolePrinter(logger logger.Logger, cfg *config.OutputConfig) *ConsolePrinter {
	p := &ConsolePrinter{
		colorScheme: NewColorScheme(),
		logger:      logger,
		out:         os.Stdout,
	}
	if cfg != nil {
		p.maxBodyBytes = cfg.MaxBodyBytes
	}
	return p
}

// getTerminalWidth gets the current terminal width with fallback
func (p *ConsolePrinter) getTerminalWidth() int {
	if testWidth := os.Getenv("REPLAYTAP_TEST_WIDTH"); testWidth != "" {
		if width, err := strconv.Atoi(testWidth); err == nil {
			return clampWidth(width)
		}
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return clampWidth(width)
}

func clampWidth(width int) int {
	switch {
	case width < 40:
		return 40
	case width > 150:
		return 150
	default:
		return width
	}
}

// wrapText wraps text to fit within the specified width, preserving words
func (p *ConsolePrinter) wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{text}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	currentLine := words[0]
	currentWidth := utf8.RuneCountInString(currentLine)

	for _, word := range words[1:] {
		wordWidth := utf8.RuneCountInString(word)
		if currentWidth+1+wordWidth > maxWidth {
			lines = append(lines, currentLine)
			currentLine = word
			currentWidth = wordWidth
			continue
		}
		currentLine += " " + word
		currentWidth += 1 + wordWidth
	}

	return append(lines, currentLine)
}

// PrintReplay prints the replayed request and its outcome using raw HTTP
// message layout
func (p *ConsolePrinter) PrintReplay(f *flow.Flow) error {
	if f.Request == nil {
		return nil
	}
	replayNum := atomic.AddUint64(&replayCounter, 1)
	width := p.getTerminalWidth()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.printSummary(replayNum, f, width)
	p.printRequestLine(f.Request)
	p.printHeaders(f.Request.Headers, width)
	fmt.Fprintln(p.out)

	if resp := f.Response; resp != nil {
		p.printStatusLine(resp)
		p.printHeaders(resp.Headers, width)
		fmt.Fprintln(p.out)
		p.printBody(resp.Headers.Get("content-type"), resp.Content)
		fmt.Fprintln(p.out)
	}
	return nil
}

func (p *ConsolePrinter) printSummary(replayNum uint64, f *flow.Flow, width int) {
	separator := strings.Repeat("-", clampWidth(width))
	p.colorScheme.Separator.Fprintln(p.out, separator)
	p.colorScheme.Separator.Fprintf(p.out, "Replay #%d  ", replayNum)
	if ts := f.Request.TimestampStart; !ts.IsZero() {
		p.colorScheme.Timestamp.Fprint(p.out, ts.Format("2006-01-02T15:04:05-07:00"))
	}
	fmt.Fprintln(p.out)
	p.printMetadataLine(f)
	p.colorScheme.Separator.Fprintln(p.out, separator)
	fmt.Fprintln(p.out)
}

func (p *ConsolePrinter) printMetadataLine(f *flow.Flow) {
	req := f.Request
	fmt.Fprint(p.out, "Target: ")
	p.colorScheme.Target.Fprint(p.out, flow.HostPort(req.Scheme, req.Host, req.Port))

	fmt.Fprint(p.out, " | Result: ")
	switch {
	case f.Error != nil:
		p.colorScheme.StatusError.Fprint(p.out, "failed: "+f.Error.Msg)
	case f.Response != nil:
		p.statusColor(f.Response.StatusCode).Fprintf(p.out, "%d %s", f.Response.StatusCode, f.Response.Reason)
	default:
		p.colorScheme.StatusError.Fprint(p.out, "no response")
	}

	if f.Response != nil {
		fmt.Fprint(p.out, " | Size: ")
		p.colorScheme.BodyContent.Fprint(p.out, humanize.Bytes(uint64(len(f.Response.Content))))
	}
	if d := elapsed(f); d > 0 {
		fmt.Fprint(p.out, " | Time: ")
		p.colorScheme.BodyContent.Fprint(p.out, d.Round(100*time.Microsecond).String())
	}
	fmt.Fprintln(p.out)
}

func (p *ConsolePrinter) printRequestLine(req *flow.Request) {
	method := strings.ToUpper(req.Method)
	path := req.Path
	if path == "" {
		path = "/"
	}

	p.getMethodColor(method).Fprintf(p.out, "%s ", method)
	fmt.Fprintf(p.out, "%s %s\n", path, defaultProto(req.HTTPVersion))
}

func (p *ConsolePrinter) printStatusLine(resp *flow.Response) {
	fmt.Fprintf(p.out, "%s ", defaultProto(resp.HTTPVersion))
	p.statusColor(resp.StatusCode).Fprintf(p.out, "%d %s\n", resp.StatusCode, resp.Reason)
}

func defaultProto(proto string) string {
	if proto != "" {
		return proto
	}
	return flow.HTTP11
}

// printHeaders keeps the captured order
func (p *ConsolePrinter) printHeaders(headers flow.Headers, width int) {
	for _, field := range headers {
		lowerKey := strings.ToLower(field.Name)
		if shouldSkipHeader(lowerKey) {
			continue
		}
		value := field.Value
		if isSensitiveHeader(lowerKey) {
			value = "[REDACTED]"
		}
		p.printHeaderLine(field.Name, value, width)
	}
}

func (p *ConsolePrinter) printHeaderLine(key, value string, width int) {
	prefix := key + ": "
	available := width - utf8.RuneCountInString(prefix)
	if available < 20 {
		available = 20
	}

	wrappedValues := p.wrapText(value, available)

	p.colorScheme.HeaderKey.Fprint(p.out, prefix)
	p.colorScheme.HeaderValue.Fprintln(p.out, wrappedValues[0])

	indent := strings.Repeat(" ", utf8.RuneCountInString(prefix))
	for _, line := range wrappedValues[1:] {
		fmt.Fprint(p.out, indent)
		p.colorScheme.HeaderValue.Fprintln(p.out, line)
	}
}

func (p *ConsolePrinter) printBody(contentType string, body []byte) {
	bodySize := humanize.Bytes(uint64(len(body)))

	if len(body) == 0 {
		p.colorScheme.BodyContent.Fprintf(p.out, "[Empty Body - %s]\n", bodySize)
		return
	}

	truncated := false
	if p.maxBodyBytes > 0 && len(body) > p.maxBodyBytes {
		body = body[:p.maxBodyBytes]
		// don't cut a multi-byte rune in half
		for i := 1; i < utf8.UTFMax && len(body) > 0 && !utf8.Valid(body); i++ {
			body = body[:len(body)-1]
		}
		truncated = true
	}

	text, ok := formatBody(contentType, body)
	if !ok {
		p.colorScheme.BinaryNotice.Fprintf(p.out, "[Binary Body: %s, %s. Content skipped.]\n", contentType, bodySize)
		return
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" {
			fmt.Fprintln(p.out)
			continue
		}
		p.colorScheme.BodyContent.Fprintln(p.out, trimmed)
	}
	if truncated {
		p.colorScheme.TruncateNotice.Fprintf(p.out, "[Body truncated: showing %s of %s]\n",
			humanize.Bytes(uint64(len(body))), bodySize)
	}
}

func (p *ConsolePrinter) statusColor(code int) *color.Color {
	switch {
	case code >= 400:
		return p.colorScheme.StatusError
	case code >= 300:
		return p.colorScheme.StatusRedirect
	default:
		return p.colorScheme.StatusOK
	}
}

// getMethodColor gets the corresponding color based on HTTP method
func (p *ConsolePrinter) getMethodColor(method string) *color.Color {
	switch strings.ToUpper(method) {
	case "GET":
		return p.colorScheme.MethodGET
	case "POST":
		return p.colorScheme.MethodPOST
	case "PUT":
		return p.colorScheme.MethodPUT
	case "DELETE":
		return p.colorScheme.MethodDELETE
	case "PATCH":
		return p.colorScheme.MethodPATCH
	default:
		return color.New(color.FgWhite, color.Bold)
	}
}

var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
	"x-csrf-token":        true,
	"x-session-token":     true,
}

// isSensitiveHeader checks if it's sensitive header information
func isSensitiveHeader(key string) bool {
	return sensitiveHeaders[key]
}

var skipHeaders = map[string]bool{
	"connection":       true,
	"keep-alive":       true,
	"proxy-connection": true,
	"te":               true,
	"trailer":          true,
	"upgrade":          true,
}

// shouldSkipHeader checks if header should be skipped from display
func shouldSkipHeader(key string) bool {
	return skipHeaders[key]
}
