package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/pkg/flow"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName = "sqlite"
)

type sqliteStore struct {
	db  *sql.DB
	cfg *config.StorageConfig
	log logger.Logger
}

func newSQLiteStore(cfg *config.StorageConfig, log logger.Logger) (Store, error) {
	path := cfg.Path
	if path == "" {
		return nil, ErrEmptyPath
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("prepare sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", filepath.ToSlash(absPath))
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %s: %w", stmt, err)
		}
	}

	store := &sqliteStore{db: db, cfg: cfg, log: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *sqliteStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS flows (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    captured_ns INTEGER NOT NULL,
    type TEXT NOT NULL,
    method TEXT,
    scheme TEXT,
    host TEXT,
    port INTEGER,
    path TEXT,
    status_code INTEGER,
    record_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_flows_method ON flows(method);

CREATE TABLE IF NOT EXISTS replays (
    id TEXT PRIMARY KEY,
    flow_id TEXT NOT NULL,
    timestamp_ns INTEGER NOT NULL,
    method TEXT NOT NULL,
    url TEXT NOT NULL,
    status_code INTEGER,
    error TEXT,
    duration_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_replays_flow ON replays(flow_id, timestamp_ns DESC);
`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts rec, or replaces the stored copy when the ID already exists.
func (s *sqliteStore) Record(rec *flow.Record) (*StoredFlow, error) {
	if rec == nil {
		return nil, fmt.Errorf("flow record is nil")
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Type == "" {
		rec.Type = flow.TypeHTTP
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal flow: %w", err)
	}

	captured := time.Now().UTC()
	var method, scheme, host, path string
	var port, status int
	if req := rec.Request; req != nil {
		method, scheme, host, port, path = req.Method, req.Scheme, req.Host, req.Port, req.Path
		if !req.TimestampStart.IsZero() {
			captured = req.TimestampStart.UTC()
		}
	}
	if rec.Response != nil {
		status = rec.Response.StatusCode
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `INSERT INTO flows (
        id, captured_ns, type, method, scheme, host, port, path, status_code, record_json
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        captured_ns = excluded.captured_ns, type = excluded.type, method = excluded.method,
        scheme = excluded.scheme, host = excluded.host, port = excluded.port, path = excluded.path,
        status_code = excluded.status_code, record_json = excluded.record_json`,
		rec.ID, captured.UnixNano(), string(rec.Type), method, scheme, host, port, path, status, string(payload),
	)
	if err != nil {
		return nil, fmt.Errorf("insert flow: %w", err)
	}

	var seq int64
	if err = tx.QueryRowContext(ctx, "SELECT seq FROM flows WHERE id = ?", rec.ID).Scan(&seq); err != nil {
		return nil, fmt.Errorf("lookup flow: %w", err)
	}

	if err = s.prune(ctx, tx); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return &StoredFlow{Seq: seq, CapturedAt: captured, Record: rec}, nil
}

func (s *sqliteStore) prune(ctx context.Context, tx *sql.Tx) error {
	if s.cfg.MaxRecords <= 0 {
		return nil
	}
	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM flows").Scan(&count); err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	if excess := count - s.cfg.MaxRecords; excess > 0 {
		if _, err := tx.ExecContext(ctx, "DELETE FROM flows WHERE seq IN (SELECT seq FROM flows ORDER BY seq ASC LIMIT ?)", excess); err != nil {
			return fmt.Errorf("prune max records: %w", err)
		}
	}
	return nil
}

const selectFlows = "SELECT seq, captured_ns, record_json FROM flows "

func (s *sqliteStore) List(opts ListOptions) ([]*StoredFlow, int, error) {
	ctx := context.Background()
	where, args := buildFilters(opts)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM flows "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := strings.Builder{}
	query.WriteString(selectFlows)
	query.WriteString(where)
	query.WriteString(" ORDER BY seq DESC")

	listArgs := append([]interface{}{}, args...)
	if opts.Limit > 0 {
		offset := opts.Offset
		if offset < 0 {
			offset = 0
		}
		query.WriteString(" LIMIT ? OFFSET ?")
		listArgs = append(listArgs, opts.Limit, offset)
	}

	rows, err := s.db.QueryContext(ctx, query.String(), listArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []*StoredFlow
	for rows.Next() {
		record, err := scanStoredFlow(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// Iterate walks matching flows in capture order until fn returns false.
func (s *sqliteStore) Iterate(opts ListOptions, fn func(*StoredFlow) bool) error {
	ctx := context.Background()
	where, args := buildFilters(opts)

	rows, err := s.db.QueryContext(ctx, selectFlows+where+" ORDER BY seq ASC", args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanStoredFlow(rows)
		if err != nil {
			return err
		}
		if !fn(record) {
			break
		}
	}
	return rows.Err()
}

func (s *sqliteStore) Snapshot() ([]*StoredFlow, error) {
	var records []*StoredFlow
	err := s.Iterate(ListOptions{}, func(item *StoredFlow) bool {
		records = append(records, item)
		return true
	})
	return records, err
}

func (s *sqliteStore) Get(id string) (*StoredFlow, error) {
	row := s.db.QueryRowContext(context.Background(), selectFlows+"WHERE id = ?", id)
	record, err := scanStoredFlow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanStoredFlow(scanner interface {
	Scan(dest ...interface{}) error
}) (*StoredFlow, error) {
	var (
		seq     int64
		ts      int64
		payload string
	)
	if err := scanner.Scan(&seq, &ts, &payload); err != nil {
		return nil, err
	}
	var rec flow.Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("decode flow %d: %w", seq, err)
	}
	return &StoredFlow{Seq: seq, CapturedAt: time.Unix(0, ts).UTC(), Record: &rec}, nil
}

func buildFilters(opts ListOptions) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if method := strings.TrimSpace(opts.Method); method != "" {
		clauses = append(clauses, "UPPER(method) = UPPER(?)")
		args = append(args, method)
	}

	if search := strings.TrimSpace(strings.ToLower(opts.Search)); search != "" {
		like := fmt.Sprintf("%%%s%%", search)
		clauses = append(clauses, "(LOWER(host) LIKE ? OR LOWER(path) LIKE ?)")
		args = append(args, like, like)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// RecordReplay stores a replay outcome
func (s *sqliteStore) RecordReplay(data *ReplayRecord) (*ReplayRecord, error) {
	if data == nil {
		return nil, fmt.Errorf("replay data is nil")
	}
	if strings.TrimSpace(data.ID) == "" {
		data.ID = uuid.New().String()
	}
	ts := data.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	data.Timestamp = ts

	_, err := s.db.ExecContext(context.Background(), `INSERT INTO replays (
		id, flow_id, timestamp_ns, method, url, status_code, error, duration_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		data.ID, data.FlowID, ts.UnixNano(), data.Method, data.URL, data.StatusCode, data.Error, data.DurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("insert replay: %w", err)
	}
	return data, nil
}

// GetReplays retrieves all replays of a flow, newest first
func (s *sqliteStore) GetReplays(flowID string) ([]*ReplayRecord, error) {
	rows, err := s.db.QueryContext(context.Background(), `SELECT id, flow_id, timestamp_ns, method, url,
		status_code, error, duration_ms
		FROM replays WHERE flow_id = ? ORDER BY timestamp_ns DESC`, flowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ReplayRecord
	for rows.Next() {
		var (
			rec        ReplayRecord
			ts         int64
			statusCode sql.NullInt64
			errorMsg   sql.NullString
			duration   sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.FlowID, &ts, &rec.Method, &rec.URL, &statusCode, &errorMsg, &duration); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		rec.StatusCode = int(statusCode.Int64)
		rec.Error = errorMsg.String
		rec.DurationMs = duration.Int64
		result = append(result, &rec)
	}
	return result, rows.Err()
}
