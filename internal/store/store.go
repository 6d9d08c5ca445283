// Package store persists client command lists, the demandable-client allowlist, and the last
// recognition result in SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/vcd/internal/command"
	"github.com/rbright/vcd/internal/vcerr"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Store provides SQLite-backed daemon persistence.
type Store struct {
	sqlDB *sql.DB
}

// Open opens the store at path, creating the parent directory and schema as needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Reset drops every per-pid row. Pids from a previous daemon run are meaningless.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM commands`); err != nil {
		return fmt.Errorf("reset commands: %w", err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM demandable_clients`); err != nil {
		return fmt.Errorf("reset demandable clients: %w", err)
	}
	return nil
}

// SetCommands replaces the command list of (pid, group).
func (s *Store) SetCommands(ctx context.Context, pid int, group command.Group, cmds []command.Command) error {
	if pid <= 0 || !group.Valid() {
		return fmt.Errorf("set commands pid=%d group=%s: %w", pid, group, vcerr.ErrInvalidArgument)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set commands: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM commands WHERE pid = ? AND grp = ?`, pid, int(group)); err != nil {
		return fmt.Errorf("clear commands: %w", err)
	}
	for i, c := range cmds {
		if strings.TrimSpace(c.Text) == "" && c.Format != command.FormatExtraThenFixed {
			return fmt.Errorf("command %d text is required: %w", i, vcerr.ErrInvalidArgument)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO commands (
	pid,
	grp,
	seq,
	format,
	text,
	parameter,
	domain,
	key_code,
	modifier
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			pid,
			int(group),
			i,
			int(c.Format),
			c.Text,
			c.Parameter,
			c.Domain,
			c.Key,
			c.Modifier,
		)
		if err != nil {
			return fmt.Errorf("insert command %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set commands: %w", err)
	}
	return nil
}

// UnsetCommands removes the command list of (pid, group).
func (s *Store) UnsetCommands(ctx context.Context, pid int, group command.Group) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM commands WHERE pid = ? AND grp = ?`, pid, int(group)); err != nil {
		return fmt.Errorf("unset commands: %w", err)
	}
	return nil
}

// HasCommands reports whether (pid, group) has at least one stored command.
func (s *Store) HasCommands(ctx context.Context, pid int, group command.Group) (bool, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands WHERE pid = ? AND grp = ?`, pid, int(group)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count commands: %w", err)
	}
	return n > 0, nil
}

// Commands returns the stored list of (pid, group) in registration order.
func (s *Store) Commands(ctx context.Context, pid int, group command.Group) ([]command.Command, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT
	format,
	text,
	parameter,
	domain,
	key_code,
	modifier
FROM commands
WHERE pid = ? AND grp = ?
ORDER BY seq
`, pid, int(group))
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	cmds := []command.Command{}
	for rows.Next() {
		c := command.Command{PID: pid, Group: group}
		var format int
		if err := rows.Scan(&format, &c.Text, &c.Parameter, &c.Domain, &c.Key, &c.Modifier); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		c.Format = command.Format(format)
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return cmds, nil
}

// DeletePID drops every row owned by pid.
func (s *Store) DeletePID(ctx context.Context, pid int) error {
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM commands WHERE pid = ?`, pid); err != nil {
		return fmt.Errorf("delete commands of %d: %w", pid, err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM demandable_clients WHERE pid = ?`, pid); err != nil {
		return fmt.Errorf("delete demandable client %d: %w", pid, err)
	}
	return nil
}

// SetDemandable replaces the demandable-client allowlist.
func (s *Store) SetDemandable(ctx context.Context, pids []int) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set demandable: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM demandable_clients`); err != nil {
		return fmt.Errorf("clear demandable clients: %w", err)
	}
	for _, pid := range pids {
		if pid <= 0 {
			return fmt.Errorf("demandable pid %d: %w", pid, vcerr.ErrInvalidArgument)
		}
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO demandable_clients (pid) VALUES (?)`, pid); err != nil {
			return fmt.Errorf("insert demandable client %d: %w", pid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set demandable: %w", err)
	}
	return nil
}

// Demandable returns the allowlist in ascending pid order.
func (s *Store) Demandable(ctx context.Context) ([]int, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT pid FROM demandable_clients ORDER BY pid`)
	if err != nil {
		return nil, fmt.Errorf("list demandable clients: %w", err)
	}
	defer rows.Close()

	var pids []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("scan demandable client: %w", err)
		}
		pids = append(pids, pid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate demandable clients: %w", err)
	}
	return pids, nil
}

// SaveResult replaces the last-result snapshot.
func (s *Store) SaveResult(ctx context.Context, result command.Result) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO last_result (id, payload, saved_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at
`, string(payload), time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// LastResult returns the last saved result, or ErrNotFound when none was saved.
func (s *Store) LastResult(ctx context.Context) (command.Result, error) {
	var payload string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT payload FROM last_result WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return command.Result{}, fmt.Errorf("last result: %w", vcerr.ErrNotFound)
	}
	if err != nil {
		return command.Result{}, fmt.Errorf("load last result: %w", err)
	}

	var result command.Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return command.Result{}, fmt.Errorf("decode last result: %w", err)
	}
	return result, nil
}
