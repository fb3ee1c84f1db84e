package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// RevisionIndex is the persistent remote-path → revision-token ledger: the
// record of what was last uploaded. Keys are case-normalized remote paths;
// values are either an opaque file revision token or the FolderRev sentinel.
// Backed by an embedded SQLite database so the daemon survives restarts.
//
// All methods are safe for concurrent use. The sync core additionally holds
// the sync lock around every mutation, so the internal mutex only guards
// against races between the workers and read-only callers (status, tests).
type RevisionIndex struct {
	mu     sync.Mutex
	db     *sql.DB
	logger *slog.Logger

	get    *sql.Stmt
	set    *sql.Stmt
	remove *sql.Stmt
}

// NormalizePath case-normalizes a remote path for use as a revision-index
// key: NFC Unicode normalization followed by lowercasing, matching the
// backend's case-insensitive path space.
func NormalizePath(remotePath string) string {
	return strings.ToLower(norm.NFC.String(remotePath))
}

// OpenRevisionIndex opens (or creates) the revision index database at
// dbPath, applying schema migrations. Use ":memory:" for tests.
func OpenRevisionIndex(dbPath string, logger *slog.Logger) (*RevisionIndex, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("remote: opening revision index: %w", err)
	}

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("remote: enabling WAL: %w", err)
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	idx := &RevisionIndex{db: db, logger: logger}
	if err := idx.prepare(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return idx, nil
}

func (r *RevisionIndex) prepare(ctx context.Context) error {
	var err error

	r.get, err = r.db.PrepareContext(ctx, `SELECT rev FROM revisions WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("remote: preparing get: %w", err)
	}

	r.set, err = r.db.PrepareContext(ctx,
		`INSERT INTO revisions (path, rev) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET rev = excluded.rev`)
	if err != nil {
		return fmt.Errorf("remote: preparing set: %w", err)
	}

	r.remove, err = r.db.PrepareContext(ctx, `DELETE FROM revisions WHERE path = ?`)
	if err != nil {
		return fmt.Errorf("remote: preparing remove: %w", err)
	}

	return nil
}

// Get returns the revision recorded for the remote path, or ok=false when
// the path is not tracked.
func (r *RevisionIndex) Get(remotePath string) (rev string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.get.QueryRow(NormalizePath(remotePath)).Scan(&rev)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			r.logger.Error("revision index read failed",
				slog.String("path", remotePath),
				slog.String("error", err.Error()),
			)
		}

		return "", false
	}

	return rev, true
}

// Set records a revision for the remote path. An empty rev removes the
// entry; FolderRev marks a folder.
func (r *RevisionIndex) Set(remotePath, rev string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := NormalizePath(remotePath)

	var err error
	if rev == "" {
		_, err = r.remove.Exec(key)
	} else {
		_, err = r.set.Exec(key, rev)
	}

	if err != nil {
		r.logger.Error("revision index write failed",
			slog.String("path", remotePath),
			slog.String("rev", rev),
			slog.String("error", err.Error()),
		)
	}
}

// All returns a snapshot of the full index keyed by case-normalized path.
func (r *RevisionIndex) All() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(`SELECT path, rev FROM revisions`)
	if err != nil {
		r.logger.Error("revision index enumeration failed", slog.String("error", err.Error()))
		return nil
	}
	defer rows.Close()

	out := make(map[string]string)

	for rows.Next() {
		var path, rev string
		if scanErr := rows.Scan(&path, &rev); scanErr != nil {
			r.logger.Error("revision index scan failed", slog.String("error", scanErr.Error()))
			continue
		}

		out[path] = rev
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("revision index iteration failed", slog.String("error", err.Error()))
	}

	return out
}

// Close releases the database handle.
func (r *RevisionIndex) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, stmt := range []*sql.Stmt{r.get, r.set, r.remove} {
		if stmt != nil {
			stmt.Close()
		}
	}

	return r.db.Close()
}
