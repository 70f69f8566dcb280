// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wardenhq/warden/pkg/identity"

	_ "modernc.org/sqlite"
)

const incidentTable = "incidents"

// SQLiteLedger persists incidents in a SQLite database. It implements the
// same Ledger contract as MemoryLedger; writes go through transactions so
// two concurrent updates to one incident cannot interleave.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures schema.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// A single writer connection sidesteps SQLITE_BUSY under concurrent turns.
	db.SetMaxOpenConns(1)
	return NewSQLiteLedger(db)
}

// NewSQLiteLedger wraps an existing database handle and ensures schema.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if err := ensureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteLedger{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteLedger) Close() error { return s.db.Close() }

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			seq INTEGER NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			incident_json BLOB NOT NULL
		);`, incidentTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_seq ON %s(seq);`, incidentTable, incidentTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s(status);`, incidentTable, incidentTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Create implements Ledger.
func (s *SQLiteLedger) Create(ctx context.Context, title, description string, affectedSystems []string, createdBy string) (Incident, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Incident{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(seq) FROM %s", incidentTable)).Scan(&maxSeq); err != nil {
		return Incident{}, err
	}
	seq := maxSeq.Int64 + 1

	now := time.Now().UTC()
	inc := Incident{
		ID:              fmt.Sprintf("INC-%03d", seq),
		Title:           title,
		Description:     description,
		Priority:        PriorityP3,
		Status:          StatusOpen,
		AffectedSystems: append([]string(nil), affectedSystems...),
		CreatedAt:       now,
		CreatedBy:       createdBy,
		UpdatedAt:       now,
	}

	if err := insertIncident(ctx, tx, seq, inc); err != nil {
		return Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return Incident{}, err
	}
	return inc, nil
}

func insertIncident(ctx context.Context, tx *sql.Tx, seq int64, inc Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, seq, priority, status, updated_at, incident_json) VALUES (?, ?, ?, ?, ?, ?)", incidentTable),
		inc.ID, seq, string(inc.Priority), string(inc.Status), inc.UpdatedAt.UnixMilli(), payload)
	return err
}

// Get implements Ledger.
func (s *SQLiteLedger) Get(ctx context.Context, id string) (Incident, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT incident_json FROM %s WHERE id = ?", incidentTable), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return Incident{}, NotFound(id)
	}
	if err != nil {
		return Incident{}, err
	}
	var inc Incident
	if err := json.Unmarshal(payload, &inc); err != nil {
		return Incident{}, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return inc, nil
}

// UpdatePriority implements Ledger.
func (s *SQLiteLedger) UpdatePriority(ctx context.Context, id string, priority Priority) (bool, error) {
	return s.mutate(ctx, id, func(inc *Incident) {
		inc.Priority = priority
	})
}

// UpdateStatus implements Ledger.
func (s *SQLiteLedger) UpdateStatus(ctx context.Context, id string, status Status) (bool, error) {
	return s.mutate(ctx, id, func(inc *Incident) {
		inc.Status = status
	})
}

// mutate applies a read-modify-write under one transaction so the update
// cannot be lost to a concurrent writer.
func (s *SQLiteLedger) mutate(ctx context.Context, id string, apply func(*Incident)) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var payload []byte
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT incident_json FROM %s WHERE id = ?", incidentTable), id).Scan(&payload)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var inc Incident
	if err := json.Unmarshal(payload, &inc); err != nil {
		return false, fmt.Errorf("decode incident %s: %w", id, err)
	}
	apply(&inc)
	inc.UpdatedAt = time.Now().UTC()

	updated, err := json.Marshal(inc)
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET priority = ?, status = ?, updated_at = ?, incident_json = ? WHERE id = ?", incidentTable),
		string(inc.Priority), string(inc.Status), inc.UpdatedAt.UnixMilli(), updated, id); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ProjectForRole implements Ledger.
func (s *SQLiteLedger) ProjectForRole(ctx context.Context, id string, role identity.Role) (Projection, error) {
	inc, err := s.Get(ctx, id)
	if err != nil {
		return Projection{}, err
	}
	return Project(inc, role), nil
}

// ListProjected implements Ledger.
func (s *SQLiteLedger) ListProjected(ctx context.Context, role identity.Role) ([]Projection, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT incident_json FROM %s ORDER BY id", incidentTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Projection
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var inc Incident
		if err := json.Unmarshal(payload, &inc); err != nil {
			return nil, err
		}
		out = append(out, Project(inc, role))
	}
	return out, rows.Err()
}

// restore inserts a pre-built incident for seeding, skipping ids that are
// already present.
func (s *SQLiteLedger) restore(ctx context.Context, inc Incident) error {
	var seq int64
	if _, err := fmt.Sscanf(inc.ID, "INC-%d", &seq); err != nil {
		return fmt.Errorf("seed incident id %q is not INC-NNN", inc.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", incidentTable), inc.ID).Scan(&exists)
	if err == nil {
		return nil
	}
	if err != sql.ErrNoRows {
		return err
	}
	if err := insertIncident(ctx, tx, seq, inc); err != nil {
		return err
	}
	return tx.Commit()
}

var _ Ledger = (*SQLiteLedger)(nil)
var _ Ledger = (*MemoryLedger)(nil)
