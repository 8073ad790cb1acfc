// Package capture loads captured flows from files on disk.
package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/internal/storage"
	"github.com/funnyzak/replaytap/pkg/flow"
	"gopkg.in/yaml.v3"
)

// ErrNoMatch is returned when a glob pattern matches no file.
var ErrNoMatch = errors.New("no capture files match")

// ReadError reports a capture file that could not be read or decoded.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// Reader decodes capture files. The format follows the file extension:
// .json/.jsonl/.ndjson hold JSON records (single objects, arrays, or one per
// line), .yaml/.yml hold YAML documents of the same shape, and
// .db/.sqlite/.sqlite3 are capture databases.
type Reader struct {
	log logger.Logger
}

// NewReader creates a Reader.
func NewReader(log logger.Logger) *Reader {
	return &Reader{log: log}
}

// ReadFlowsFromPaths expands every path (globs with ** allowed) and returns
// the flows of all files in order. Any failure aborts the whole read.
func (r *Reader) ReadFlowsFromPaths(paths []string) ([]*flow.Flow, error) {
	var flows []*flow.Flow
	for _, pattern := range paths {
		files, err := expand(pattern)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			loaded, err := r.ReadFile(file)
			if err != nil {
				return nil, err
			}
			r.log.Debug("Loaded capture file", "path", file, "flows", len(loaded))
			flows = append(flows, loaded...)
		}
	}
	return flows, nil
}

// ReadFile decodes a single capture file.
func (r *Reader) ReadFile(path string) ([]*flow.Flow, error) {
	var (
		records []*flow.Record
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		records, err = r.readDatabase(path)
	case ".yaml", ".yml":
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			records, err = DecodeYAML(data)
		}
	default:
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			records, err = DecodeJSON(data)
		}
	}
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}

	flows := make([]*flow.Flow, 0, len(records))
	for i, rec := range records {
		f, err := rec.Flow()
		if err != nil {
			return nil, &ReadError{Path: path, Err: fmt.Errorf("record %d: %w", i+1, err)}
		}
		flows = append(flows, f)
	}
	return flows, nil
}

func (r *Reader) readDatabase(path string) ([]*flow.Record, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	store, err := storage.New(&config.StorageConfig{Path: path}, r.log)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	items, err := store.Snapshot()
	if err != nil {
		return nil, err
	}
	records := make([]*flow.Record, 0, len(items))
	for _, item := range items {
		records = append(records, item.Record)
	}
	return records, nil
}

// DecodeJSON decodes a stream of JSON values, each a record or an array of
// records.
func DecodeJSON(data []byte) ([]*flow.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var records []*flow.Record
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid capture data: %w", err)
		}
		decoded, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, decoded...)
	}
	return records, nil
}

func decodeValue(raw json.RawMessage) ([]*flow.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var records []*flow.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("invalid capture data: %w", err)
		}
		for i, rec := range records {
			if rec == nil {
				return nil, fmt.Errorf("invalid capture data: element %d is null", i+1)
			}
		}
		return records, nil
	case '{':
		var rec flow.Record
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return nil, fmt.Errorf("invalid capture data: %w", err)
		}
		return []*flow.Record{&rec}, nil
	default:
		return nil, fmt.Errorf("invalid capture data: expected object or array, got %.20s", trimmed)
	}
}

// DecodeYAML decodes YAML documents shaped like the JSON format.
func DecodeYAML(data []byte) ([]*flow.Record, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var records []*flow.Record
	for {
		var doc interface{}
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid capture data: %w", err)
		}
		if doc == nil {
			continue
		}
		raw, err := json.Marshal(jsonCompatible(doc))
		if err != nil {
			return nil, fmt.Errorf("invalid capture data: %w", err)
		}
		decoded, err := decodeValue(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, decoded...)
	}
	return records, nil
}

// jsonCompatible turns YAML maps with non-string keys into JSON objects.
func jsonCompatible(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = jsonCompatible(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = jsonCompatible(val)
		}
		return t
	default:
		return v
	}
}

// expand resolves a glob. Plain paths are returned as-is so that a missing
// file surfaces as a read error.
func expand(pattern string) ([]string, error) {
	if !hasMeta(pattern) {
		return []string{pattern}, nil
	}
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, &ReadError{Path: pattern, Err: err}
	}
	if len(matches) == 0 {
		return nil, &ReadError{Path: pattern, Err: ErrNoMatch}
	}
	sort.Strings(matches)
	return matches, nil
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
