//go:build !mips64 && !mips64le && !ppc64 && !s390x

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO required)
)

const schema = `
CREATE TABLE IF NOT EXISTS calls (
    id TEXT PRIMARY KEY,
    ts_start INTEGER NOT NULL,
    ts_end INTEGER,
    op TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'in_flight',
    reason TEXT,
    session_id TEXT,

    http_status INTEGER DEFAULT 0,
    duration_ms INTEGER DEFAULT 0,
    request_bytes INTEGER DEFAULT 0,
    file_name TEXT,

    record_count INTEGER DEFAULT 0,
    high_risk_count INTEGER DEFAULT 0,
    model_id TEXT,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_calls_ts_start ON calls(ts_start);
CREATE INDEX IF NOT EXISTS idx_calls_op_ts ON calls(op, ts_start);
CREATE INDEX IF NOT EXISTS idx_calls_status_ts ON calls(status, ts_start);
`

const callColumns = `id, ts_start, ts_end, op, status, reason, session_id,
	http_status, duration_ms, request_bytes, file_name,
	record_count, high_risk_count, model_id, error`

// SQLiteStore implements Store using SQLite with WAL mode.
type SQLiteStore struct {
	db      *sql.DB
	maxRows int
	pruneMu sync.Mutex
	logger  *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, maxRows int, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &SQLiteStore{
		db:      db,
		maxRows: maxRows,
		logger:  logger,
	}, nil
}

func (s *SQLiteStore) Insert(c *Call) error {
	_, err := s.db.Exec(`
		INSERT INTO calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.TSStart, c.TSEnd, c.Op, string(c.Status), string(c.Reason), c.SessionID,
		c.HTTPStatus, c.DurationMs, c.RequestBytes, c.FileName,
		c.RecordCount, c.HighRiskCount, c.ModelID, c.Error,
	)
	if err != nil {
		return fmt.Errorf("insert call: %w", err)
	}

	go s.maybePrune()
	return nil
}

func (s *SQLiteStore) Update(id string, upd CallUpdate) error {
	var sets []string
	var args []any

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.TSEnd != nil {
		add("ts_end", *upd.TSEnd)
	}
	if upd.Status != nil {
		add("status", string(*upd.Status))
	}
	if upd.Reason != nil {
		add("reason", string(*upd.Reason))
	}
	if upd.HTTPStatus != nil {
		add("http_status", *upd.HTTPStatus)
	}
	if upd.DurationMs != nil {
		add("duration_ms", *upd.DurationMs)
	}
	if upd.RecordCount != nil {
		add("record_count", *upd.RecordCount)
	}
	if upd.HighRiskCount != nil {
		add("high_risk_count", *upd.HighRiskCount)
	}
	if upd.ModelID != nil {
		add("model_id", *upd.ModelID)
	}
	if upd.Error != nil {
		add("error", *upd.Error)
	}

	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE calls SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("update call: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByID(id string) (*Call, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM calls WHERE id = ?`, id)

	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get call: %w", err)
	}
	return c, nil
}

func (s *SQLiteStore) List(opts ListOptions) ([]Call, error) {
	query := `SELECT ` + callColumns + ` FROM calls WHERE 1=1`
	var args []any

	if opts.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*opts.Status))
	}
	if opts.Op != "" {
		query += " AND op = ?"
		args = append(args, opts.Op)
	}
	if opts.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, opts.SessionID)
	}
	if opts.Window > 0 {
		query += " AND ts_start >= ?"
		args = append(args, time.Now().UnixMilli()-opts.Window.Milliseconds())
	}

	query += " ORDER BY ts_start DESC"

	// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := opts.Limit
		if limit <= 0 {
			limit = -1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()

	var calls []Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, *c)
	}
	return calls, rows.Err()
}

func (s *SQLiteStore) Overview(window time.Duration) (*Overview, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	row := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN status IN ('success', 'error') THEN duration_ms END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' AND substr(op, 1, 8) = 'predict_' THEN record_count ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'success' AND substr(op, 1, 8) = 'predict_' THEN high_risk_count ELSE 0 END), 0),
			COALESCE(SUM(request_bytes), 0)
		FROM calls
		WHERE ts_start >= ?
	`, cutoff)

	var o Overview
	var avgDur float64
	err := row.Scan(&o.TotalCalls, &o.SuccessCount, &o.ErrorCount, &o.RejectedCount, &avgDur,
		&o.RecordsPredicted, &o.HighRiskPredicted, &o.UploadedBytes)
	if err != nil {
		return nil, fmt.Errorf("overview query: %w", err)
	}

	o.AvgDurationMs = int(avgDur)
	if o.TotalCalls > 0 {
		o.SuccessRate = float64(o.SuccessCount) / float64(o.TotalCalls)
	}

	durations, err := s.durations(cutoff, "")
	if err != nil {
		return nil, err
	}
	o.P95DurationMs = percentileInt(durations, 0.95)

	return &o, nil
}

// durations returns completed call durations since cutoff, optionally for
// one op.
func (s *SQLiteStore) durations(cutoff int64, op string) ([]int, error) {
	query := `SELECT duration_ms FROM calls WHERE ts_start >= ? AND status IN ('success', 'error')`
	args := []any{cutoff}
	if op != "" {
		query += " AND op = ?"
		args = append(args, op)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("duration query: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var d int
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan duration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) OpStats(window time.Duration) ([]OpStat, error) {
	cutoff := time.Now().UnixMilli() - window.Milliseconds()

	rows, err := s.db.Query(`
		SELECT
			op,
			COUNT(*) AS call_count,
			AVG(CASE WHEN status = 'success' THEN 1.0 ELSE 0.0 END),
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'rejected' THEN 1 ELSE 0 END),
			COALESCE(AVG(CASE WHEN status IN ('success', 'error') THEN duration_ms END), 0),
			MAX(ts_start)
		FROM calls
		WHERE ts_start >= ? AND op != ''
		GROUP BY op
		ORDER BY call_count DESC, op ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("op stats query: %w", err)
	}

	var stats []OpStat
	for rows.Next() {
		var st OpStat
		var avgDur float64
		if err := rows.Scan(&st.Op, &st.CallCount, &st.SuccessRate, &st.ErrorCount,
			&st.RejectedCount, &avgDur, &st.LastCallAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan op stat: %w", err)
		}
		st.AvgDurationMs = int(avgDur)
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// A single connection is shared, so percentiles are queried after the
	// rollup rows are released.
	for i := range stats {
		durations, err := s.durations(cutoff, stats[i].Op)
		if err != nil {
			return nil, err
		}
		stats[i].DurationP95Ms = percentileInt(durations, 0.95)
	}
	return stats, nil
}

func (s *SQLiteStore) Series(opts SeriesOptions) ([]DataPoint, error) {
	points, cutoff, intervalMs := seriesBins(opts.Window, time.Now())

	baseWhere := "ts_start >= ?"
	args := []any{cutoff}
	if opts.Op != "" {
		baseWhere += " AND op = ?"
		args = append(args, opts.Op)
	}

	var query string
	switch opts.Metric {
	case MetricCallCount:
		query = `SELECT ts_start, 1 FROM calls WHERE ` + baseWhere
	case MetricErrorCount:
		query = `SELECT ts_start, 1 FROM calls WHERE ` + baseWhere + ` AND status = 'error'`
	case MetricDurationP95:
		query = `SELECT ts_start, duration_ms FROM calls WHERE ` + baseWhere + ` AND status IN ('success', 'error')`
	case MetricRecords:
		query = `SELECT ts_start, record_count FROM calls WHERE ` + baseWhere + ` AND status = 'success'`
	default:
		return points, nil
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("series query: %w", err)
	}
	defer rows.Close()

	binValues := make([][]float64, len(points))
	for rows.Next() {
		var tsStart int64
		var value float64
		if err := rows.Scan(&tsStart, &value); err != nil {
			return nil, fmt.Errorf("scan series row: %w", err)
		}
		if idx, ok := binIndex(tsStart, cutoff, intervalMs, len(points)); ok {
			binValues[idx] = append(binValues[idx], value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	fillSeries(points, opts.Metric, binValues)
	return points, nil
}

func (s *SQLiteStore) InFlightCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM calls WHERE status = 'in_flight'`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// maybePrune deletes the oldest rows once the table exceeds maxRows.
func (s *SQLiteStore) maybePrune() {
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM calls`).Scan(&count); err != nil {
		s.logger.Error("prune count query failed", "err", err)
		return
	}
	if count <= s.maxRows {
		return
	}

	toDelete := count - s.maxRows
	const batchSize = 500
	if toDelete > batchSize {
		toDelete = batchSize
	}

	_, err := s.db.Exec(`
		DELETE FROM calls WHERE id IN (
			SELECT id FROM calls ORDER BY ts_start ASC LIMIT ?
		)
	`, toDelete)
	if err != nil {
		s.logger.Error("prune failed", "err", err)
	} else {
		s.logger.Debug("pruned old calls", "deleted", toDelete)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (*Call, error) {
	var c Call
	var tsEnd sql.NullInt64
	var status string
	var reason, sessionID, fileName, modelID, errText sql.NullString

	err := row.Scan(
		&c.ID, &c.TSStart, &tsEnd, &c.Op, &status, &reason, &sessionID,
		&c.HTTPStatus, &c.DurationMs, &c.RequestBytes, &fileName,
		&c.RecordCount, &c.HighRiskCount, &modelID, &errText,
	)
	if err != nil {
		return nil, err
	}

	if tsEnd.Valid {
		c.TSEnd = &tsEnd.Int64
	}
	c.Status = Status(status)
	c.Reason = Reason(reason.String)
	c.SessionID = sessionID.String
	c.FileName = fileName.String
	c.ModelID = modelID.String
	c.Error = errText.String
	return &c, nil
}
