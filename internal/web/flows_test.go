package web

import (
	"strconv"
	"sync"
	"testing"

	"github.com/funnyzak/replaytap/pkg/flow"
)

func fakeFlow(method, path string) *flow.Flow {
	return flow.NewHTTP(&flow.Request{
		Method:  method,
		Scheme:  "http",
		Host:    "example.test",
		Port:    80,
		Path:    path,
		Headers: flow.NewHeaders("User-Agent", "replaytap"),
		Content: []byte{},
	})
}

func TestFlowView_PutAndEvict(t *testing.T) {
	view := NewFlowView(2)
	f1 := fakeFlow("GET", "/a")
	f2 := fakeFlow("POST", "/b")
	f3 := fakeFlow("GET", "/c")

	view.Put(f1)
	view.Put(f2)
	// overwrite oldest
	view.Put(f3)

	if _, ok := view.Flow(f1.ID); ok {
		t.Fatalf("expected oldest flow to be evicted")
	}
	if got, ok := view.Flow(f2.ID); !ok || got != f2 {
		t.Fatalf("expected to retrieve f2")
	}
	if view.Len() != 2 {
		t.Fatalf("expected 2 flows, got %d", view.Len())
	}
}

func TestFlowView_PutRefreshesSnapshot(t *testing.T) {
	view := NewFlowView(5)
	f := fakeFlow("GET", "/a")
	view.Put(f)

	f.Response = &flow.Response{StatusCode: 201}
	if rec, _ := view.Get(f.ID); rec.Response != nil {
		t.Fatalf("snapshot must not follow later mutations")
	}

	view.Put(f)
	if view.Len() != 1 {
		t.Fatalf("refresh must not add a second entry")
	}
	if rec, _ := view.Get(f.ID); rec.Response == nil || rec.Response.StatusCode != 201 {
		t.Fatalf("expected refreshed snapshot, got %+v", rec)
	}
}

func TestFlowView_ListFiltersAndPaging(t *testing.T) {
	view := NewFlowView(5)
	methods := []string{"GET", "POST", "GET", "PUT", "GET"}
	for i, m := range methods {
		view.Put(fakeFlow(m, "/p"+strconv.Itoa(i)))
	}

	items, total := view.List(ListOptions{Method: "get", Limit: 2})
	if total != 3 || len(items) != 2 {
		t.Fatalf("expected 2 of 3 GET flows, got %d of %d", len(items), total)
	}
	if items[0].Request.Path != "/p4" {
		t.Fatalf("listing should be newest first, got %s", items[0].Request.Path)
	}

	// search covers headers and is case-insensitive
	if _, total := view.List(ListOptions{Search: "P3"}); total != 1 {
		t.Fatalf("path search failed")
	}
	if _, total := view.List(ListOptions{Search: "REPLAYTAP"}); total != 5 {
		t.Fatalf("header search failed")
	}

	items, _ = view.List(ListOptions{Offset: 10})
	if len(items) != 0 {
		t.Fatalf("offset past end should be empty")
	}
}

func TestFlowView_ConcurrentAccess(t *testing.T) {
	view := NewFlowView(10)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			view.Put(fakeFlow("GET", "/p"+strconv.Itoa(i)))
		}(i)
		go func() {
			defer wg.Done()
			view.List(ListOptions{Method: "GET"})
		}()
	}
	wg.Wait()
	if view.Len() != 5 {
		t.Fatalf("expected 5 flows, got %d", view.Len())
	}
}
