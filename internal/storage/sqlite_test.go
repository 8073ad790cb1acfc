package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/hooks"
	"github.com/funnyzak/replaytap/pkg/flow"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) Fatal(string, ...interface{}) {}

func newTestStore(t *testing.T, maxRecords int) Store {
	t.Helper()
	cfg := &config.StorageConfig{
		Path:       filepath.Join(t.TempDir(), "captures.db"),
		MaxRecords: maxRecords,
	}
	store, err := New(cfg, noopLogger{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func fakeRecord(id, method, path string) *flow.Record {
	return &flow.Record{
		ID:   id,
		Type: flow.TypeHTTP,
		Request: &flow.Request{
			Method:         method,
			Scheme:         "https",
			Host:           "api.example.test",
			Port:           443,
			Path:           path,
			HTTPVersion:    flow.HTTP11,
			Headers:        flow.NewHeaders("User-Agent", "replaytap"),
			Content:        []byte("body"),
			TimestampStart: time.Now(),
		},
		Response: &flow.Response{StatusCode: 200, Content: []byte("ok")},
	}
}

func TestSQLiteStore_RecordAndGet(t *testing.T) {
	store := newTestStore(t, 100)
	rec, err := store.Record(fakeRecord("rec-1", "POST", "/hook"))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if rec.Seq == 0 {
		t.Fatal("expected sequence to be set")
	}

	got, err := store.Get("rec-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.Request.Method != "POST" || string(got.Request.Content) != "body" {
		t.Fatalf("unexpected record %+v", got.Request)
	}
	if got.Request.Headers.Get("user-agent") != "replaytap" {
		t.Fatalf("headers lost: %v", got.Request.Headers)
	}

	missing, err := store.Get("nope")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing id, got %v %v", missing, err)
	}
}

func TestSQLiteStore_RecordReplacesByID(t *testing.T) {
	store := newTestStore(t, 100)
	first, err := store.Record(fakeRecord("same", "GET", "/a"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.Record(fakeRecord("same", "PUT", "/b"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Seq != second.Seq {
		t.Fatalf("upsert should keep position, got %d and %d", first.Seq, second.Seq)
	}
	items, total, err := store.List(ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || items[0].Request.Method != "PUT" {
		t.Fatalf("expected single updated record, got %d %+v", total, items)
	}
}

func TestSQLiteStore_EmptyIDGetsGenerated(t *testing.T) {
	store := newTestStore(t, 10)
	rec := fakeRecord("", "GET", "/")
	rec.Type = ""
	stored, err := store.Record(rec)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID == "" || stored.Type != flow.TypeHTTP {
		t.Fatalf("defaults not applied: %+v", stored.Record)
	}
}

func TestSQLiteStore_ListFiltersAndPrune(t *testing.T) {
	store := newTestStore(t, 3)
	for i := 0; i < 5; i++ {
		method := "GET"
		if i%2 == 0 {
			method = "POST"
		}
		if _, err := store.Record(fakeRecord(fmt.Sprintf("id-%d", i), method, fmt.Sprintf("/path/%d", i))); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	items, total, err := store.List(ListOptions{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("expected pruning to keep 3 records, got %d", total)
	}
	if items[0].ID != "id-4" {
		t.Fatalf("expected newest first, got %s", items[0].ID)
	}

	posts, total, err := store.List(ListOptions{Method: "post"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(posts) != 2 {
		t.Fatalf("expected 2 POST records, got %d", total)
	}

	found, total, err := store.List(ListOptions{Search: "/PATH/3"})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || found[0].ID != "id-3" {
		t.Fatalf("search failed: %d %+v", total, found)
	}

	page, total, err := store.List(ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(page) != 1 || page[0].ID != "id-3" {
		t.Fatalf("pagination failed: %d %+v", total, page)
	}
}

func TestSQLiteStore_SnapshotKeepsCaptureOrder(t *testing.T) {
	store := newTestStore(t, 0)
	for _, id := range []string{"c", "a", "b"} {
		if _, err := store.Record(fakeRecord(id, "GET", "/"+id)); err != nil {
			t.Fatal(err)
		}
	}
	items, err := store.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, item := range items {
		order = append(order, item.ID)
	}
	if fmt.Sprint(order) != "[c a b]" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestHistoryRecordsReplayOutcomes(t *testing.T) {
	store := newTestStore(t, 10)
	h := NewHistory(store, noopLogger{})

	f := flow.NewHTTP(fakeRecord("", "GET", "/ok").Request)
	start := time.Now()
	f.Request.TimestampStart = start
	f.Response = &flow.Response{StatusCode: 204, TimestampEnd: start.Add(25 * time.Millisecond)}

	if v := h.OnPhase(context.Background(), hooks.PhaseRequest, f); !v.IsPass() {
		t.Fatal("history must pass")
	}
	h.OnPhase(context.Background(), hooks.PhaseResponse, f)

	f.Response = nil
	f.Error = flow.NewError("connection refused")
	h.OnPhase(context.Background(), hooks.PhaseError, f)

	replays, err := store.GetReplays(f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(replays) != 2 {
		t.Fatalf("expected 2 replays, got %d", len(replays))
	}
	var sawStatus, sawError bool
	for _, r := range replays {
		if r.StatusCode == 204 && r.DurationMs == 25 && r.URL == "https://api.example.test:443/ok" {
			sawStatus = true
		}
		if r.Error == "connection refused" {
			sawError = true
		}
	}
	if !sawStatus || !sawError {
		t.Fatalf("unexpected replays %+v", replays)
	}
}
