package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"mangadexbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// One writer at a time; readers share it too.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Create(ctx context.Context, m Manga) error {
	if m.ID == "" {
		return errEmptyID
	}
	subs := dedupe(m.Subscribers)
	if len(subs) == 0 {
		return ErrNoSubscribers
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("create", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO manga(id, title, latest_update_id, baselined) VALUES(?,?,?,?) ON CONFLICT(id) DO NOTHING`,
		m.ID, m.Title, nullStr(m.LatestChapterID), m.Baselined)
	if err != nil {
		return unavailable("create", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return unavailable("create", err)
	} else if n == 0 {
		return ErrConflict
	}
	now := time.Now().UnixMilli()
	for _, sub := range subs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO manga_subscribers(manga_id, subscriber, added_at) VALUES(?,?,?)`,
			m.ID, sub, now); err != nil {
			return unavailable("create", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("create", err)
	}
	return nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (Manga, bool, error) {
	var (
		m      = Manga{ID: id}
		latest sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT title, latest_update_id, baselined FROM manga WHERE id = ?`, id).Scan(&m.Title, &latest, &m.Baselined)
	if errors.Is(err, sql.ErrNoRows) {
		return Manga{}, false, nil
	}
	if err != nil {
		return Manga{}, false, unavailable("get", err)
	}
	m.LatestChapterID = latest.String

	rows, err := s.db.QueryContext(ctx,
		`SELECT subscriber FROM manga_subscribers WHERE manga_id = ? ORDER BY added_at, subscriber`, id)
	if err != nil {
		return Manga{}, false, unavailable("get", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub string
		if err := rows.Scan(&sub); err != nil {
			return Manga{}, false, unavailable("get", err)
		}
		m.Subscribers = append(m.Subscribers, sub)
	}
	if err := rows.Err(); err != nil {
		return Manga{}, false, unavailable("get", err)
	}
	return m, true, nil
}

// List reads everything in one query so the scan never holds the connection
// while it talks to the upstream API.
func (s *sqliteStore) List(ctx context.Context) ([]Manga, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.title, m.latest_update_id, m.baselined, s.subscriber
		FROM manga m LEFT JOIN manga_subscribers s ON s.manga_id = m.id
		ORDER BY m.id, s.added_at, s.subscriber`)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []Manga
	for rows.Next() {
		var (
			id, title   string
			latest, sub sql.NullString
			baselined   bool
		)
		if err := rows.Scan(&id, &title, &latest, &baselined, &sub); err != nil {
			return nil, unavailable("list", err)
		}
		if len(out) == 0 || out[len(out)-1].ID != id {
			out = append(out, Manga{ID: id, Title: title, LatestChapterID: latest.String, Baselined: baselined})
		}
		if sub.Valid {
			last := &out[len(out)-1]
			last.Subscribers = append(last.Subscribers, sub.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (s *sqliteStore) AddSubscriber(ctx context.Context, id, sub string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO manga_subscribers(manga_id, subscriber, added_at)
		 SELECT id, ?, ? FROM manga WHERE id = ?
		 ON CONFLICT(manga_id, subscriber) DO NOTHING`,
		sub, time.Now().UnixMilli(), id)
	if err != nil {
		return unavailable("add subscriber", err)
	}
	return s.requireExists(ctx, id, "add subscriber")
}

func (s *sqliteStore) SetLatestChapter(ctx context.Context, id, chapterID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE manga SET latest_update_id = ?, baselined = 1 WHERE id = ?`, nullStr(chapterID), id)
	if err != nil {
		return unavailable("set latest", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("set latest", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) requireExists(ctx context.Context, id, op string) error {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM manga WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable(op, err)
	}
	return nil
}

func nullStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
