package flow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Headers is an order-preserving header list that allows duplicate names.
// Lookups are case-insensitive.
type Headers []Field

// NewHeaders builds Headers from alternating name/value pairs.
func NewHeaders(pairs ...string) Headers {
	h := make(Headers, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		h = append(h, Field{Name: pairs[i], Value: pairs[i+1]})
	}
	return h
}

// Get returns the first value for name, or "".
func (h Headers) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Has reports whether at least one field with name exists.
func (h Headers) Has(name string) bool {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return true
		}
	}
	return false
}

// Values returns every value for name in order.
func (h Headers) Values(name string) []string {
	var values []string
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values
}

// Set replaces all fields named name with a single field at the position of
// the first occurrence, or appends it.
func (h *Headers) Set(name, value string) {
	idx := -1
	out := (*h)[:0]
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			if idx >= 0 {
				continue
			}
			idx = len(out)
			f.Value = value
		}
		out = append(out, f)
	}
	if idx < 0 {
		out = append(out, Field{Name: name, Value: value})
	}
	*h = out
}

// Add appends a field.
func (h *Headers) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Insert places a field at index, clamped to the list bounds.
func (h *Headers) Insert(index int, name, value string) {
	if index < 0 {
		index = 0
	}
	if index > len(*h) {
		index = len(*h)
	}
	*h = append(*h, Field{})
	copy((*h)[index+1:], (*h)[index:])
	(*h)[index] = Field{Name: name, Value: value}
}

// Remove deletes every field named name and reports whether any existed.
func (h *Headers) Remove(name string) bool {
	removed := false
	out := (*h)[:0]
	for _, f := range *h {
		if strings.EqualFold(f.Name, name) {
			removed = true
			continue
		}
		out = append(out, f)
	}
	*h = out
	return removed
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// HTTPHeader converts to net/http form. Pseudo-headers are skipped.
func (h Headers) HTTPHeader() http.Header {
	out := make(http.Header, len(h))
	for _, f := range h {
		if strings.HasPrefix(f.Name, ":") {
			continue
		}
		out.Add(f.Name, f.Value)
	}
	return out
}

// MarshalJSON encodes the list as [[name, value], ...] to keep order.
func (h Headers) MarshalJSON() ([]byte, error) {
	pairs := make([][2]string, len(h))
	for i, f := range h {
		pairs[i] = [2]string{f.Name, f.Value}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON accepts [[name, value], ...].
func (h *Headers) UnmarshalJSON(data []byte) error {
	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("decode headers: %w", err)
	}
	out := make(Headers, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("header %d: expected [name, value] pair", i)
		}
		out = append(out, Field{Name: p[0], Value: p[1]})
	}
	*h = out
	return nil
}
