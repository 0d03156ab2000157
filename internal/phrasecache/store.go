// Package phrasecache keeps successful translations in a SQLite store so
// frequently used phrases still translate while offline.
package phrasecache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/salinlabs/salin-core/internal/config"
)

// Store is a SQLite-backed phrase cache. In ephemeral mode every lookup
// misses and every write is discarded.
type Store struct {
	db    *sql.DB
	cfg   config.PhraseCacheConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the phrase cache according to config.
func Open(ctx context.Context, cfg config.PhraseCacheConfig, log *slog.Logger) (*Store, error) {
	if cfg.Mode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("phrase cache vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("phrase cache prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS phrases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_text TEXT NOT NULL,
    source_lang TEXT NOT NULL,
    target_lang TEXT NOT NULL,
    translated_text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_used_at TIMESTAMP NOT NULL,
    use_count INTEGER NOT NULL DEFAULT 1,
    UNIQUE(source_text, source_lang, target_lang)
);
CREATE INDEX IF NOT EXISTS idx_phrases_last_used ON phrases(last_used_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the cached translation for a phrase and language pair,
// bumping its usage bookkeeping on a hit.
func (s *Store) Lookup(ctx context.Context, text, source, target string) (string, bool, error) {
	if s.db == nil {
		return "", false, nil
	}
	var translated string
	err := s.db.QueryRowContext(ctx,
		`SELECT translated_text FROM phrases
		 WHERE source_text = ? AND source_lang = ? AND target_lang = ?`,
		text, source, target).Scan(&translated)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE phrases SET last_used_at = ?, use_count = use_count + 1
		 WHERE source_text = ? AND source_lang = ? AND target_lang = ?`,
		s.clock().UTC(), text, source, target); err != nil {
		s.log.Warn("phrase cache usage update failed", slog.String("error", err.Error()))
	}
	return translated, true, nil
}

// Store writes a translation through to the cache, replacing any previous
// entry for the same phrase and language pair.
func (s *Store) Store(ctx context.Context, text, source, target, translated string) error {
	if s.db == nil {
		return nil
	}
	now := s.clock().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phrases(source_text, source_lang, target_lang, translated_text, created_at, last_used_at)
		 VALUES(?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_text, source_lang, target_lang)
		 DO UPDATE SET translated_text=excluded.translated_text, last_used_at=excluded.last_used_at`,
		text, source, target, translated, now, now)
	return err
}

// Prune applies retention: entries unused past the retention window go
// first, then the least recently used beyond the entry cap.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM phrases WHERE last_used_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxEntries > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM phrases WHERE id IN (
			SELECT id FROM phrases ORDER BY last_used_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxEntries)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Size reports the number of cached phrases.
func (s *Store) Size(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM phrases`).Scan(&n)
	return n, err
}
