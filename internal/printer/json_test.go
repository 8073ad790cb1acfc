package printer

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestJSONPrinter_PrintReplay(t *testing.T) {
	p := NewJSONPrinter(noopLogger{})
	buf := &bytes.Buffer{}
	p.SetOutput(buf)

	if err := p.PrintReplay(replayedFlow(`{"ok":true}`)); err != nil {
		t.Fatalf("print replay failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if decoded["type"] != "replay" {
		t.Fatalf("unexpected type: %v", decoded["type"])
	}
	if decoded["duration_ms"] != float64(42) {
		t.Fatalf("unexpected duration: %v", decoded["duration_ms"])
	}
	if decoded["body_text"] != `{"ok":true}` {
		t.Fatalf("unexpected body text: %v", decoded["body_text"])
	}
	if decoded["flow"].(map[string]interface{})["response"] == nil {
		t.Fatal("flow snapshot missing response")
	}
}
