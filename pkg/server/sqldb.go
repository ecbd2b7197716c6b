package server

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/crystal-mush/mushkeeper/pkg/dbck"
	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS dbck_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	started     INTEGER NOT NULL,
	duration_us INTEGER NOT NULL,
	full        INTEGER NOT NULL,
	db_top      INTEGER NOT NULL,
	findings    INTEGER NOT NULL,
	destroyed   INTEGER NOT NULL,
	orphans     INTEGER NOT NULL,
	truncations INTEGER NOT NULL,
	freelist    INTEGER NOT NULL,
	trimmed     INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS dbck_findings (
	run_id   INTEGER NOT NULL REFERENCES dbck_runs(id),
	seq      INTEGER NOT NULL,
	phase    TEXT NOT NULL,
	severity TEXT NOT NULL,
	object   INTEGER NOT NULL,
	location INTEGER NOT NULL,
	message  TEXT NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS dbck_findings_object ON dbck_findings(object);
`

// AuditDB keeps a SQLite history of dbck passes for the admin API.
type AuditDB struct {
	db      *sql.DB
	mu      sync.Mutex
	path    string
	timeout time.Duration
}

// RunRow is one recorded pass.
type RunRow struct {
	ID       int64         `json:"id"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Full     bool          `json:"full"`
	Top      int           `json:"db_top"`
	Findings int           `json:"findings"`
	Stats    dbck.Stats    `json:"stats"`
}

// FindingRow is one recorded finding.
type FindingRow struct {
	RunID    int64        `json:"run_id"`
	Phase    string       `json:"phase"`
	Severity string       `json:"severity"`
	Object   gamedb.DBRef `json:"object_ref"`
	Location gamedb.DBRef `json:"location"`
	Message  string       `json:"message"`
}

// OpenAuditDB opens a SQLite3 database, sets WAL mode and busy timeout and
// creates the audit tables.
func OpenAuditDB(path string, timeoutSec int) (*AuditDB, error) {
	if timeoutSec <= 0 {
		timeoutSec = 5
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: opening sqlite %s: %w", path, err)
	}
	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", timeoutSec*1000),
		auditSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: init %s: %w", path, err)
		}
	}
	return &AuditDB{db: db, path: path, timeout: time.Duration(timeoutSec) * time.Second}, nil
}

// Close closes the SQLite3 database connection.
func (a *AuditDB) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (a *AuditDB) Path() string { return a.path }

// Checkpoint forces a WAL checkpoint to flush all writes to the main database file.
func (a *AuditDB) Checkpoint() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Record stores a report and its findings in one transaction and returns
// the run id.
func (a *AuditDB) Record(r *dbck.Report) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("audit: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO dbck_runs (started, duration_us, full, db_top, findings, destroyed, orphans, truncations, freelist, trimmed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Started.UnixMicro(), r.Duration.Microseconds(), r.Full, r.Top, len(r.Findings),
		r.Stats.Destroyed, r.Stats.Orphans, r.Stats.Truncations, r.Stats.Freelist, r.Stats.Trimmed)
	if err != nil {
		return 0, fmt.Errorf("audit: insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("audit: run id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dbck_findings (run_id, seq, phase, severity, object, location, message) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("audit: prepare: %w", err)
	}
	defer stmt.Close()
	for i, f := range r.Findings {
		if _, err := stmt.ExecContext(ctx, id, i, f.Phase.String(), f.Severity.String(),
			int(f.ObjectRef), int(f.Location), f.Message); err != nil {
			return 0, fmt.Errorf("audit: insert finding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("audit: commit: %w", err)
	}
	return id, nil
}

// Runs returns up to limit recorded passes, newest first.
func (a *AuditDB) Runs(limit int) ([]RunRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.db.Query(
		`SELECT id, started, duration_us, full, db_top, findings, destroyed, orphans, truncations, freelist, trimmed
		 FROM dbck_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var started, dur int64
		if err := rows.Scan(&r.ID, &started, &dur, &r.Full, &r.Top, &r.Findings,
			&r.Stats.Destroyed, &r.Stats.Orphans, &r.Stats.Truncations, &r.Stats.Freelist, &r.Stats.Trimmed); err != nil {
			return nil, fmt.Errorf("audit: scan run: %w", err)
		}
		r.Started = time.UnixMicro(started)
		r.Duration = time.Duration(dur) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Findings returns the findings of one run in recorded order.
func (a *AuditDB) Findings(runID int64) ([]FindingRow, error) {
	return a.findings(`WHERE run_id = ? ORDER BY seq`, runID)
}

// History returns every recorded finding about obj, oldest first.
func (a *AuditDB) History(obj gamedb.DBRef) ([]FindingRow, error) {
	return a.findings(`WHERE object = ? ORDER BY run_id, seq`, int(obj))
}

func (a *AuditDB) findings(where string, arg any) ([]FindingRow, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rows, err := a.db.Query(`SELECT run_id, phase, severity, object, location, message FROM dbck_findings `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("audit: findings: %w", err)
	}
	defer rows.Close()

	var out []FindingRow
	for rows.Next() {
		var f FindingRow
		var obj, loc int
		if err := rows.Scan(&f.RunID, &f.Phase, &f.Severity, &obj, &loc, &f.Message); err != nil {
			return nil, fmt.Errorf("audit: scan finding: %w", err)
		}
		f.Object, f.Location = gamedb.DBRef(obj), gamedb.DBRef(loc)
		out = append(out, f)
	}
	return out, rows.Err()
}
