package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"go.klb.dev/clipd/internal/history"
)

// SQLite is the durable backend: one row per entry keyed by (group, id),
// with payload representations in a side table. A successful Put is
// committed before it returns, so prior ids and ordering survive restart.
type SQLite struct {
	db  *sql.DB
	max int // per-group capacity, 0 = unlimited
}

// OpenSQLite opens (creating if needed) the history database at path.
func OpenSQLite(path string, maxEntries int) (*SQLite, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS entries (
  grp         TEXT    NOT NULL,
  id          INTEGER NOT NULL,
  created_at  INTEGER NOT NULL,
  origin      TEXT    NOT NULL,
  expiry_kind TEXT    NOT NULL,
  expiry_ttl  INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (grp, id)
);
CREATE TABLE IF NOT EXISTS items (
  grp  TEXT    NOT NULL,
  id   INTEGER NOT NULL,
  pos  INTEGER NOT NULL,
  mime TEXT    NOT NULL,
  data BLOB    NOT NULL,
  PRIMARY KEY (grp, id, pos),
  FOREIGN KEY (grp, id) REFERENCES entries(grp, id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_group ON entries(grp, id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &SQLite{db: db, max: maxEntries}, nil
}

func (s *SQLite) Put(group string, e history.Entry) (evicted []uint64, err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		`INSERT INTO entries (grp, id, created_at, origin, expiry_kind, expiry_ttl) VALUES (?,?,?,?,?,?)`,
		group, e.ID, e.CreatedAt.UnixNano(), string(e.Origin), string(e.Expiry.Kind), int64(e.Expiry.TTL),
	)
	if err != nil {
		return nil, err
	}
	for pos, it := range e.Items {
		if _, err = tx.Exec(
			`INSERT INTO items (grp, id, pos, mime, data) VALUES (?,?,?,?,?)`,
			group, e.ID, pos, it.MIME, it.Data,
		); err != nil {
			return nil, err
		}
	}

	if s.max > 0 {
		rows, qerr := tx.Query(
			`SELECT id FROM entries WHERE grp = ? ORDER BY id DESC LIMIT -1 OFFSET ?`,
			group, s.max,
		)
		if qerr != nil {
			err = qerr
			return nil, err
		}
		for rows.Next() {
			var id uint64
			if err = rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			evicted = append(evicted, id)
		}
		if err = rows.Close(); err != nil {
			return nil, err
		}
		for _, id := range evicted {
			if _, err = tx.Exec(`DELETE FROM entries WHERE grp = ? AND id = ?`, group, id); err != nil {
				return nil, err
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return evicted, nil
}

func (s *SQLite) Get(group string, id uint64) (history.Entry, bool, error) {
	row := s.db.QueryRow(
		`SELECT created_at, origin, expiry_kind, expiry_ttl FROM entries WHERE grp = ? AND id = ?`,
		group, id,
	)
	e := history.Entry{ID: id, Group: group}
	var createdNano, ttl int64
	var origin, kind string
	if err := row.Scan(&createdNano, &origin, &kind, &ttl); err != nil {
		if err == sql.ErrNoRows {
			return history.Entry{}, false, nil
		}
		return history.Entry{}, false, err
	}
	e.CreatedAt = time.Unix(0, createdNano)
	e.Origin = history.Origin(origin)
	e.Expiry = history.Expiry{Kind: history.ExpiryKind(kind), TTL: time.Duration(ttl)}

	items, err := s.loadItems(group, id)
	if err != nil {
		return history.Entry{}, false, err
	}
	e.Items = items
	return e, true, nil
}

func (s *SQLite) loadItems(group string, id uint64) ([]history.Item, error) {
	rows, err := s.db.Query(
		`SELECT mime, data FROM items WHERE grp = ? AND id = ? ORDER BY pos`,
		group, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []history.Item
	for rows.Next() {
		var it history.Item
		if err := rows.Scan(&it.MIME, &it.Data); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *SQLite) List(group string) ([]history.Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, origin, expiry_kind, expiry_ttl FROM entries WHERE grp = ? ORDER BY id DESC`,
		group,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []history.Entry
	for rows.Next() {
		e := history.Entry{Group: group}
		var createdNano, ttl int64
		var origin, kind string
		if err := rows.Scan(&e.ID, &createdNano, &origin, &kind, &ttl); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, createdNano)
		e.Origin = history.Origin(origin)
		e.Expiry = history.Expiry{Kind: history.ExpiryKind(kind), TTL: time.Duration(ttl)}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		items, err := s.loadItems(group, entries[i].ID)
		if err != nil {
			return nil, err
		}
		entries[i].Items = items
	}
	return entries, nil
}

func (s *SQLite) Remove(group string, id uint64) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM entries WHERE grp = ? AND id = ?`, group, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Groups() ([]history.GroupInfo, error) {
	rows, err := s.db.Query(
		`SELECT grp, COUNT(*), MAX(created_at) FROM entries GROUP BY grp ORDER BY MAX(created_at) DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []history.GroupInfo
	for rows.Next() {
		var g history.GroupInfo
		var lastNano int64
		if err := rows.Scan(&g.Name, &g.Entries, &lastNano); err != nil {
			return nil, err
		}
		g.LastActivity = time.Unix(0, lastNano)
		out = append(out, g)
	}
	return out, rows.Err()
}

// Flush checkpoints the WAL so committed entries reach the main database
// file before shutdown.
func (s *SQLite) Flush() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }
