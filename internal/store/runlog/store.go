package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tradefloor/internal/types"

	_ "modernc.org/sqlite"
)

// Store persists agent run traces in its own SQLite file, kept apart from
// the ledger database so diagnostic writes never contend with it. Traces are
// append-only and never consulted for financial correctness.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("run log path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			account TEXT NOT NULL,
			mode TEXT,
			outcome TEXT,
			summary TEXT,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_agent_runs_account ON agent_runs(account, started_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			state TEXT,
			tool TEXT,
			args TEXT,
			result TEXT,
			err_kind TEXT,
			err_detail TEXT,
			ts INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq ASC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) handle() (*sql.DB, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("run log store not initialized")
	}
	return db, nil
}

// BeginRun inserts the run header. Outcome stays empty until SealRun.
func (s *Store) BeginRun(ctx context.Context, rec types.RunRecord) error {
	if s == nil {
		return fmt.Errorf("run log store not initialized")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO agent_runs (run_id, account, mode, outcome, summary, started_at, created_at)
		VALUES (?, ?, ?, '', '', ?, ?)`,
		rec.RunID, rec.Account, string(rec.Mode), rec.StartedAt.UnixMilli(), time.Now().UnixMilli(),
	)
	return err
}

func (s *Store) AppendEvent(ctx context.Context, runID string, ev types.RunEvent) error {
	if s == nil {
		return fmt.Errorf("run log store not initialized")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, seq, state, tool, args, result, err_kind, err_detail, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.Seq, string(ev.State), ev.Tool, ev.Args, ev.Result, ev.ErrKind, ev.ErrDetail, ev.At.UnixMilli(),
	)
	return err
}

func (s *Store) SealRun(ctx context.Context, runID string, outcome types.RunOutcome, summary string, endedAt time.Time) error {
	if s == nil {
		return fmt.Errorf("run log store not initialized")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, `
		UPDATE agent_runs SET outcome = ?, summary = ?, ended_at = ? WHERE run_id = ?`,
		string(outcome), summary, endedAt.UnixMilli(), runID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// GetRun returns the run header plus its ordered events.
func (s *Store) GetRun(ctx context.Context, runID string) (types.RunRecord, bool, error) {
	if s == nil {
		return types.RunRecord{}, false, fmt.Errorf("run log store not initialized")
	}
	db, err := s.handle()
	if err != nil {
		return types.RunRecord{}, false, err
	}
	row := db.QueryRowContext(ctx, `
		SELECT run_id, account, mode, outcome, summary, started_at, ended_at
		FROM agent_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if err == sql.ErrNoRows {
		return types.RunRecord{}, false, nil
	}
	if err != nil {
		return types.RunRecord{}, false, err
	}
	events, err := s.listEvents(ctx, db, runID)
	if err != nil {
		return types.RunRecord{}, false, err
	}
	rec.Events = events
	return rec, true, nil
}

// ListRuns returns the newest runs for an account, events included.
func (s *Store) ListRuns(ctx context.Context, account string, limit int) ([]types.RunRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("run log store not initialized")
	}
	db, err := s.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, account, mode, outcome, summary, started_at, ended_at
		FROM agent_runs WHERE account = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		events, err := s.listEvents(ctx, db, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].Events = events
	}
	return out, nil
}

// LastRun returns the most recent run for an account, if any.
func (s *Store) LastRun(ctx context.Context, account string) (types.RunRecord, bool, error) {
	runs, err := s.ListRuns(ctx, account, 1)
	if err != nil {
		return types.RunRecord{}, false, err
	}
	if len(runs) == 0 {
		return types.RunRecord{}, false, nil
	}
	return runs[0], true, nil
}

// PurgeAccount drops all traces for an account. Called by account reset.
func (s *Store) PurgeAccount(ctx context.Context, account string) error {
	if s == nil {
		return fmt.Errorf("run log store not initialized")
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM run_events WHERE run_id IN (SELECT run_id FROM agent_runs WHERE account = ?)`,
		account); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `DELETE FROM agent_runs WHERE account = ?`, account)
	return err
}

func (s *Store) listEvents(ctx context.Context, db *sql.DB, runID string) ([]types.RunEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT seq, state, tool, args, result, err_kind, err_detail, ts
		FROM run_events WHERE run_id = ? ORDER BY seq ASC, id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []types.RunEvent
	for rows.Next() {
		var (
			ev                                         types.RunEvent
			state, tool, args, result, errKind, errDet sql.NullString
			ts                                         int64
		)
		if err := rows.Scan(&ev.Seq, &state, &tool, &args, &result, &errKind, &errDet, &ts); err != nil {
			return nil, err
		}
		ev.State = types.RunState(state.String)
		ev.Tool = tool.String
		ev.Args = args.String
		ev.Result = result.String
		ev.ErrKind = errKind.String
		ev.ErrDetail = errDet.String
		ev.At = time.UnixMilli(ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(scanner rowScanner) (types.RunRecord, error) {
	var (
		rec           types.RunRecord
		mode, outcome sql.NullString
		summary       sql.NullString
		started       int64
		ended         sql.NullInt64
	)
	if err := scanner.Scan(&rec.RunID, &rec.Account, &mode, &outcome, &summary, &started, &ended); err != nil {
		return rec, err
	}
	rec.Mode = types.Mode(mode.String)
	rec.Outcome = types.RunOutcome(outcome.String)
	rec.Summary = summary.String
	rec.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		rec.EndedAt = time.UnixMilli(ended.Int64)
	}
	return rec, nil
}
