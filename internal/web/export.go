package web

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/funnyzak/replaytap/pkg/flow"
)

var exportFormats = []string{"csv", "json"}

// ExportFlows serializes flow snapshots into the desired format. JSON output
// is a capture file that can be replayed again.
func ExportFlows(data []*flow.Record, format string) ([]byte, string, string, error) {
	switch strings.ToLower(format) {
	case "json":
		buf, err := json.MarshalIndent(data, "", "  ")
		return buf, "application/json", "json", err
	case "csv":
		return exportCSV(data)
	default:
		return nil, "", "", fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportCSV(data []*flow.Record) ([]byte, string, string, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	headers := []string{
		"id", "timestamp", "method", "url", "http_version", "status_code",
		"is_replay", "error", "request_headers", "request_body_base64", "response_body_base64",
	}
	if err := writer.Write(headers); err != nil {
		return nil, "", "", err
	}

	for _, item := range data {
		var timestamp, method, url, version, reqHeaders, reqBody string
		if req := item.Request; req != nil {
			if !req.TimestampStart.IsZero() {
				timestamp = req.TimestampStart.UTC().Format(time.RFC3339)
			}
			method = req.Method
			url = flow.HostPort(req.Scheme, req.Host, req.Port) + req.Path
			version = req.HTTPVersion
			headersJSON, _ := json.Marshal(req.Headers)
			reqHeaders = string(headersJSON)
			reqBody = base64.StdEncoding.EncodeToString(req.Content)
		}

		var status, respBody string
		if resp := item.Response; resp != nil {
			status = strconv.Itoa(resp.StatusCode)
			respBody = base64.StdEncoding.EncodeToString(resp.Content)
		}

		var errMsg string
		if item.Error != nil {
			errMsg = item.Error.Msg
		}

		line := []string{
			item.ID, timestamp, method, url, version, status,
			item.IsReplay, errMsg, reqHeaders, reqBody, respBody,
		}
		if err := writer.Write(line); err != nil {
			return nil, "", "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", "", err
	}

	return buf.Bytes(), "text/csv", "csv", nil
}

func supportedFormat(format string) bool {
	for _, f := range exportFormats {
		if f == format {
			return true
		}
	}
	return false
}
