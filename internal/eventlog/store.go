// Package eventlog keeps recent log entries in memory for the admin API.
package eventlog

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Entry is a single recorded log line.
type Entry struct {
	Seq     uint64                 `json:"seq"`
	Time    time.Time              `json:"time"`
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

// Change kinds passed to subscribers.
const (
	ChangeAdd   = "add"
	ChangeClear = "clear"
)

// ListOptions describes filters for querying entries.
type ListOptions struct {
	Level  string
	Search string
	Limit  int
	Offset int
}

// Store keeps recent entries using a bounded buffer. It implements
// logger.Logger so it can be teed with the console logger.
type Store struct {
	mu      sync.RWMutex
	max     int
	counter uint64
	items   []*Entry

	subMu       sync.RWMutex
	subscribers []func(kind string, e *Entry)
}

// NewStore creates a Store holding at most max entries.
func NewStore(max int) *Store {
	if max < 1 {
		max = 1
	}
	return &Store{
		max:   max,
		items: make([]*Entry, 0, min(max, 1024)),
	}
}

// Subscribe registers fn for every add and clear. fn runs on the logging
// goroutine and must not block.
func (s *Store) Subscribe(fn func(kind string, e *Entry)) {
	s.subMu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.subMu.Unlock()
}

// Add records an entry, dropping the oldest when full.
func (s *Store) Add(level, msg string, fields ...interface{}) *Entry {
	s.mu.Lock()
	s.counter++
	entry := &Entry{
		Seq:     s.counter,
		Time:    time.Now(),
		Level:   level,
		Message: msg,
		Fields:  fieldMap(fields),
	}
	if len(s.items) >= s.max {
		copy(s.items, s.items[1:])
		s.items[len(s.items)-1] = entry
	} else {
		s.items = append(s.items, entry)
	}
	s.mu.Unlock()

	s.notify(ChangeAdd, entry)
	return entry
}

// Clear drops every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = s.items[:0]
	s.mu.Unlock()

	s.notify(ChangeClear, nil)
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// List returns filtered entries (newest first) along with the total count.
func (s *Store) List(opts ListOptions) ([]*Entry, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level := strings.ToLower(strings.TrimSpace(opts.Level))
	search := strings.ToLower(strings.TrimSpace(opts.Search))

	filtered := make([]*Entry, 0, len(s.items))
	for i := len(s.items) - 1; i >= 0; i-- {
		item := s.items[i]
		if level != "" && item.Level != level {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Message), search) {
			continue
		}
		filtered = append(filtered, item)
	}

	total := len(filtered)
	offset := max(opts.Offset, 0)
	if offset > total {
		offset = total
	}
	end := total
	if opts.Limit > 0 && offset+opts.Limit < total {
		end = offset + opts.Limit
	}
	return filtered[offset:end], total
}

func (s *Store) notify(kind string, e *Entry) {
	s.subMu.RLock()
	subs := s.subscribers
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(kind, e)
	}
}

// Debug implements logger.Logger
func (s *Store) Debug(msg string, fields ...interface{}) { s.Add("debug", msg, fields...) }

// Info implements logger.Logger
func (s *Store) Info(msg string, fields ...interface{}) { s.Add("info", msg, fields...) }

// Warn implements logger.Logger
func (s *Store) Warn(msg string, fields ...interface{}) { s.Add("warn", msg, fields...) }

// Error implements logger.Logger
func (s *Store) Error(msg string, fields ...interface{}) { s.Add("error", msg, fields...) }

// Fatal implements logger.Logger. It records only; terminating is left to the
// console logger.
func (s *Store) Fatal(msg string, fields ...interface{}) { s.Add("fatal", msg, fields...) }

func fieldMap(fields []interface{}) map[string]interface{} {
	if len(fields) < 2 {
		return nil
	}
	out := make(map[string]interface{}, len(fields)/2)
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		switch v := fields[i+1].(type) {
		case error:
			out[key] = v.Error()
		case fmt.Stringer:
			out[key] = v.String()
		default:
			out[key] = v
		}
	}
	return out
}
