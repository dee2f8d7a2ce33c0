package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore persists audit records in an embedded SQLite database.
// Unlike the file and Kafka sinks it is also queryable, which the replay
// tool uses to reconstruct incident states.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Sink.
var _ Sink = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (or creates) the audit database at path and
// initializes the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing database handle and initializes the
// schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			at INTEGER NOT NULL,
			payload TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_audit_records_incident_id ON audit_records(incident_id, id);
	`)
	if err != nil {
		return fmt.Errorf("init audit schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	payload := ""
	if len(rec.Payload) > 0 {
		data, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		payload = string(data)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_records (incident_id, location, kind, at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		rec.IncidentID,
		rec.Location,
		string(rec.Kind),
		rec.Timestamp.UnixNano(),
		payload,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// ListByIncident returns an incident's records in append order.
func (s *SQLiteStore) ListByIncident(ctx context.Context, incidentID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id, location, kind, at, payload
		FROM audit_records
		WHERE incident_id = ?
		ORDER BY id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRecords(rows)
}

// Incidents returns the distinct incident IDs in the store, in first-seen
// order.
func (s *SQLiteStore) Incidents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incident_id FROM audit_records GROUP BY incident_id ORDER BY MIN(id) ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			rec     Record
			kind    string
			at      int64
			payload string
		)
		if err := rows.Scan(&rec.IncidentID, &rec.Location, &kind, &at, &payload); err != nil {
			return nil, err
		}
		rec.Kind = Kind(kind)
		rec.Timestamp = time.Unix(0, at).UTC()
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
