package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "pollbot/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// sortable fixed-width timestamps; RFC3339Nano trims zeros and breaks ORDER BY.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	defaultBusyTimeout = 5 * time.Second
	pruneEvery         = 100
)

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	puts atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), busy+5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.pruneExpired(ctx); err != nil {
		log.Debug("dedup prune failed", logx.Err(err))
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch(id, at, trigger, platform, target, question, attempts, ok, skipped, message_id, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.At.UTC().Format(timeLayout), r.Trigger, r.Platform, r.Target, nullStr(r.Question),
		r.Attempts, boolInt(r.OK), nullStr(r.Skipped), nullStr(r.MessageID), nullStr(r.Error), r.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentDispatches(ctx context.Context, limit int) ([]DispatchRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, trigger, platform, target, question, attempts, ok, skipped, message_id, err, took_ms
		 FROM dispatch ORDER BY at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var (
			r                                 DispatchRecord
			at                                string
			ok                                int
			question, skipped, msgID, errText sql.NullString
		)
		if err := rows.Scan(&r.ID, &at, &r.Trigger, &r.Platform, &r.Target, &question,
			&r.Attempts, &ok, &skipped, &msgID, &errText, &r.TookMS); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(timeLayout, at)
		r.OK = ok != 0
		r.Question = question.String
		r.Skipped = skipped.String
		r.MessageID = msgID.String
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, until.UnixMilli(),
	)
	if err == nil && s.puts.Add(1)%pruneEvery == 0 {
		if perr := s.pruneExpired(ctx); perr != nil {
			s.log.Debug("dedup prune failed", logx.Err(perr))
		}
	}
	return err
}

func (s *sqliteStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM dedup WHERE key = ?`, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqliteStore) pruneExpired(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup WHERE until < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
