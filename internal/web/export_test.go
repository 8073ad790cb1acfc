package web

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/funnyzak/replaytap/internal/capture"
	"github.com/funnyzak/replaytap/pkg/flow"
)

func exportFixture() []*flow.Record {
	f := flow.NewHTTP(&flow.Request{
		Method:         "POST",
		Scheme:         "https",
		Host:           "example.com",
		Port:           443,
		Path:           "/hook?a=1",
		HTTPVersion:    flow.HTTP11,
		Headers:        flow.NewHeaders("Content-Type", "application/json"),
		Content:        []byte(`{"foo":"bar"}`),
		TimestampStart: time.Date(2025, time.November, 7, 12, 0, 0, 0, time.UTC),
	})
	f.IsReplay = flow.ReplayRequest
	f.Response = &flow.Response{StatusCode: 202, Reason: "Accepted", Content: []byte("ok")}

	failed := flow.NewHTTP(&flow.Request{Method: "GET", Scheme: "http", Host: "down.test", Port: 80, Path: "/", Content: []byte{}})
	failed.Error = flow.NewError("Cannot connect to server")

	return []*flow.Record{flow.ToRecord(f), flow.ToRecord(failed)}
}

func TestExportFlowsCSV(t *testing.T) {
	buf, contentType, ext, err := ExportFlows(exportFixture(), "CSV")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if contentType != "text/csv" || ext != "csv" {
		t.Fatalf("unexpected metadata: %s %s", contentType, ext)
	}

	rows, err := csv.NewReader(strings.NewReader(string(buf))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	first := rows[1]
	if first[1] != "2025-11-07T12:00:00Z" || first[3] != "https://example.com:443/hook?a=1" || first[5] != "202" || first[6] != "request" {
		t.Fatalf("unexpected row %v", first)
	}
	if rows[2][7] != "Cannot connect to server" || rows[2][5] != "" {
		t.Fatalf("unexpected error row %v", rows[2])
	}
}

func TestExportFlowsJSONIsReplayable(t *testing.T) {
	buf, contentType, _, err := ExportFlows(exportFixture(), "json")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type: %s", contentType)
	}

	records, err := capture.DecodeJSON(buf)
	if err != nil {
		t.Fatalf("exported JSON should decode as a capture: %v", err)
	}
	if len(records) != 2 || string(records[0].Request.Content) != `{"foo":"bar"}` {
		t.Fatalf("unexpected records %+v", records)
	}

	if _, _, _, err := ExportFlows(nil, "xml"); err == nil {
		t.Fatal("expected unsupported format to fail")
	}
}
