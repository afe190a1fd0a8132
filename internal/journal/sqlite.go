//go:build sqlite
// +build sqlite

package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"chrond/internal/config"
	logx "chrond/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteJournal struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg *config.JournalConfig, log logx.Logger) (Recorder, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("journal.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy, err := config.ParseDurationField("journal.busy_timeout", cfg.BusyTimeout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if busy > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	j := &sqliteJournal{db: db, log: log}
	if err := j.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *sqliteJournal) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, string(b))
	return err
}

func (j *sqliteJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *sqliteJournal) Record(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs(at, task, command, duration_ms, exit_code, timed_out, err, stderr)
		 VALUES(?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.Task, e.Command, e.DurationMS, e.ExitCode,
		boolInt(e.TimedOut), nullStr(e.Error), nullStr(e.Stderr),
	)
	return err
}

// Recent returns up to n entries, oldest first.
func (j *sqliteJournal) Recent(ctx context.Context, n int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT at, task, command, duration_ms, exit_code, timed_out, err, stderr
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			at         string
			timedOut   int
			errStr     sql.NullString
			stderrText sql.NullString
		)
		if err := rows.Scan(&at, &e.Task, &e.Command, &e.DurationMS, &e.ExitCode, &timedOut, &errStr, &stderrText); err != nil {
			return nil, err
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.At = t
		}
		e.TimedOut = timedOut != 0
		e.Error = errStr.String
		e.Stderr = stderrText.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Newest-first from the query; flip to oldest-first.
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
