package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/funnyzak/replaytap/internal/config"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&config.LogConfig{Level: "debug"}, &config.OutputConfig{Mode: "json"}, &buf)

	log.Info("replay finished", "flow_id", "abc", "status", 200, "err", errors.New("boom"), 42, "ignored")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected json line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "replay finished" || entry["flow_id"] != "abc" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if entry["status"].(float64) != 200 {
		t.Fatalf("expected numeric status, got %v", entry["status"])
	}
	if entry["err"] != "boom" {
		t.Fatalf("expected error field, got %v", entry["err"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&config.LogConfig{Level: "warn"}, &config.OutputConfig{Mode: "json"}, &buf)
	log.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	log.Warn("shown")
	if buf.Len() == 0 {
		t.Fatal("warn should be written")
	}
}

func TestSilenceDiscardsConsole(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&config.LogConfig{Level: "info"}, &config.OutputConfig{Silence: true}, &buf)
	log.Error("nobody hears this")
	if buf.Len() != 0 {
		t.Fatalf("expected silence, got %q", buf.String())
	}
}

type recordingLogger struct {
	calls []string
}

func (r *recordingLogger) Debug(msg string, _ ...interface{}) { r.calls = append(r.calls, "debug:"+msg) }
func (r *recordingLogger) Info(msg string, _ ...interface{})  { r.calls = append(r.calls, "info:"+msg) }
func (r *recordingLogger) Warn(msg string, _ ...interface{})  { r.calls = append(r.calls, "warn:"+msg) }
func (r *recordingLogger) Error(msg string, _ ...interface{}) { r.calls = append(r.calls, "error:"+msg) }
func (r *recordingLogger) Fatal(msg string, _ ...interface{}) { r.calls = append(r.calls, "fatal:"+msg) }

func TestTeeFansOut(t *testing.T) {
	a, b := &recordingLogger{}, &recordingLogger{}
	log := Tee(a, b)
	log.Info("one")
	log.Warn("two")
	log.Fatal("three")

	if got := a.calls; len(got) != 3 || got[2] != "error:three" {
		t.Fatalf("first logger got %v", got)
	}
	if got := b.calls; len(got) != 3 || got[2] != "fatal:three" {
		t.Fatalf("last logger got %v", got)
	}
}
