//
// Tencent is pleased to support the open source community by making trpc-scriptflow available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-scriptflow is licensed under the Apache License Version 2.0.
//
//

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"trpc.group/trpc-go/trpc-scriptflow/policy"
	"trpc.group/trpc-go/trpc-scriptflow/task"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS runs (
    execution_folder TEXT PRIMARY KEY,
    user_query       TEXT NOT NULL,
    started_at       TIMESTAMP NOT NULL,
    finished_at      TIMESTAMP,
    state            TEXT,
    attempts         INTEGER NOT NULL DEFAULT 0,
    success          INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS attempt_errors (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_folder TEXT NOT NULL,
    attempt          INTEGER NOT NULL,
    kind             TEXT NOT NULL,
    message          TEXT NOT NULL,
    traceback        TEXT,
    analysis_note    TEXT,
    code             TEXT,
    recorded_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    execution_folder  TEXT NOT NULL,
    attempt           INTEGER NOT NULL,
    mode              TEXT NOT NULL,
    requires_approval INTEGER NOT NULL,
    reasoning         TEXT,
    recorded_at       TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attempt_errors_folder ON attempt_errors(execution_folder);
CREATE INDEX IF NOT EXISTS idx_decisions_folder ON decisions(execution_folder);
`

// SQLite is a Recorder persisting the audit trail in a SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) the audit database at path.
// ":memory:" gives an ephemeral database for tests.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// BeginRun implements Recorder.
func (s *SQLite) BeginRun(ctx context.Context, executionFolder, userQuery string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (execution_folder, user_query, started_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(execution_folder) DO UPDATE SET
		     user_query = excluded.user_query,
		     started_at = excluded.started_at,
		     finished_at = NULL, state = NULL, attempts = 0, success = 0`,
		executionFolder, userQuery, now().UTC())
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordError implements Recorder.
func (s *SQLite) RecordError(ctx context.Context, executionFolder string, rec task.ErrorRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempt_errors
		     (execution_folder, attempt, kind, message, traceback, analysis_note, code, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		executionFolder, rec.Attempt, string(rec.Kind), rec.Message,
		rec.Traceback, rec.AnalysisNote, rec.Code, now().UTC())
	if err != nil {
		return fmt.Errorf("record attempt error: %w", err)
	}
	return nil
}

// RecordDecision implements Recorder.
func (s *SQLite) RecordDecision(ctx context.Context, executionFolder string, attempt int, dec policy.Decision) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions
		     (execution_folder, attempt, mode, requires_approval, reasoning, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		executionFolder, attempt, string(dec.Mode), dec.RequiresApproval,
		dec.Reasoning, now().UTC())
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// RecordOutcome implements Recorder.
func (s *SQLite) RecordOutcome(ctx context.Context, executionFolder, state string, attempts int, success bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, state = ?, attempts = ?, success = ?
		 WHERE execution_folder = ?`,
		now().UTC(), state, attempts, success, executionFolder)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}
