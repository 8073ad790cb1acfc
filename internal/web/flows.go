package web

import (
	"strings"
	"sync"

	"github.com/funnyzak/replaytap/pkg/flow"
)

// ListOptions describes filters for querying the flow view.
type ListOptions struct {
	Search string
	Method string
	Limit  int
	Offset int
}

type viewEntry struct {
	flow   *flow.Flow
	record *flow.Record
}

// FlowView keeps the flows known to the service in a bounded buffer. Live
// flows are looked up by pointer for replay; listings read the last
// snapshot taken by Put so they never touch a flow the worker is mutating.
type FlowView struct {
	mu    sync.RWMutex
	max   int
	items []*viewEntry
	index map[string]*viewEntry
}

// NewFlowView creates a FlowView with the provided capacity.
func NewFlowView(max int) *FlowView {
	if max < 1 {
		max = 1
	}
	return &FlowView{
		max:   max,
		items: make([]*viewEntry, 0, min(max, 1024)),
		index: make(map[string]*viewEntry),
	}
}

// Put adds f or refreshes its snapshot. Callers must own f while it is
// snapshotted.
func (v *FlowView) Put(f *flow.Flow) *flow.Record {
	record := flow.ToRecord(f)

	v.mu.Lock()
	defer v.mu.Unlock()

	if entry, ok := v.index[f.ID]; ok {
		entry.flow = f
		entry.record = record
		return record
	}

	entry := &viewEntry{flow: f, record: record}
	if len(v.items) >= v.max {
		delete(v.index, v.items[0].record.ID)
		copy(v.items, v.items[1:])
		v.items[len(v.items)-1] = entry
	} else {
		v.items = append(v.items, entry)
	}
	v.index[f.ID] = entry
	return record
}

// Flow returns the live flow with the given id.
func (v *FlowView) Flow(id string) (*flow.Flow, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.index[id]
	if !ok {
		return nil, false
	}
	return entry.flow, true
}

// Get returns the last snapshot of a flow.
func (v *FlowView) Get(id string) (*flow.Record, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.index[id]
	if !ok {
		return nil, false
	}
	return entry.record, true
}

// Len returns the number of flows in the view.
func (v *FlowView) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.items)
}

// List returns filtered snapshots (newest first) along with the total count.
func (v *FlowView) List(opts ListOptions) ([]*flow.Record, int) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(opts.Search))
	method := strings.ToUpper(strings.TrimSpace(opts.Method))

	filtered := make([]*flow.Record, 0, len(v.items))
	for i := len(v.items) - 1; i >= 0; i-- {
		record := v.items[i].record

		if method != "" && (record.Request == nil || strings.ToUpper(record.Request.Method) != method) {
			continue
		}
		if search != "" && !matchesSearch(record, search) {
			continue
		}
		filtered = append(filtered, record)
	}

	total := len(filtered)

	limit := opts.Limit
	if limit <= 0 || limit > total {
		limit = total
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}

	end := offset + limit
	if end > total {
		end = total
	}

	return filtered[offset:end], total
}

func matchesSearch(record *flow.Record, term string) bool {
	req := record.Request
	if req == nil {
		return false
	}
	target := strings.ToLower(req.Host + " " + req.Path)
	if strings.Contains(target, term) {
		return true
	}

	for _, field := range req.Headers {
		if strings.Contains(strings.ToLower(field.Name), term) ||
			strings.Contains(strings.ToLower(field.Value), term) {
			return true
		}
	}
	return false
}
