// Package store persists playlists and tag associations in SQLite.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/tagtune/tagtune/internal/domain/playlist"
	"github.com/tagtune/tagtune/internal/domain/track"
)

// ErrNotFound is returned when a playlist or association does not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at path and applies
// the schema. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// The driver opens one connection per goroutine by default; a
	// single writer avoids SQLITE_BUSY on this embedded workload.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "failed to apply %s", pragma)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS playlists (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			title      TEXT NOT NULL,
			nfc_tag_id TEXT UNIQUE,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS tracks (
			playlist_id INTEGER NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
			number      INTEGER NOT NULL,
			filename    TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (playlist_id, number)
		);
	`)
	return errors.Wrap(err, "failed to migrate schema")
}

// CreatePlaylist inserts a playlist with its tracks and returns it with
// the assigned ID. Track numbers are assigned from position, 1-based.
func (s *Store) CreatePlaylist(ctx context.Context, title string, tracks []track.Track) (*playlist.Playlist, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO playlists (title, created_at) VALUES (?, ?)`,
		title, time.Now().Unix())
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert playlist")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read playlist id")
	}

	stored := make([]track.Track, 0, len(tracks))
	for i, tr := range tracks {
		tr.Number = i + 1
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracks (playlist_id, number, filename, duration_ms) VALUES (?, ?, ?, ?)`,
			id, tr.Number, tr.Filename, tr.Duration.Milliseconds()); err != nil {
			return nil, errors.Wrapf(err, "failed to insert track %d", tr.Number)
		}
		stored = append(stored, tr)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit playlist")
	}
	return &playlist.Playlist{ID: id, Title: title, Tracks: stored}, nil
}

// GetPlaylist returns the playlist with the given ID, tracks included.
func (s *Store) GetPlaylist(ctx context.Context, id int64) (*playlist.Playlist, error) {
	return s.getPlaylist(ctx, `SELECT id, title, nfc_tag_id FROM playlists WHERE id = ?`, id)
}

// GetPlaylistByNFC returns the playlist associated with the given tag.
func (s *Store) GetPlaylistByNFC(ctx context.Context, tagID string) (*playlist.Playlist, error) {
	return s.getPlaylist(ctx, `SELECT id, title, nfc_tag_id FROM playlists WHERE nfc_tag_id = ?`, tagID)
}

func (s *Store) getPlaylist(ctx context.Context, query string, arg any) (*playlist.Playlist, error) {
	var (
		pl    playlist.Playlist
		tagID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&pl.ID, &pl.Title, &tagID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to query playlist")
	}
	pl.NFCTagID = tagID.String

	tracks, err := s.loadTracks(ctx, pl.ID)
	if err != nil {
		return nil, err
	}
	pl.Tracks = tracks
	return &pl, nil
}

func (s *Store) loadTracks(ctx context.Context, playlistID int64) ([]track.Track, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT number, filename, duration_ms FROM tracks WHERE playlist_id = ? ORDER BY number`,
		playlistID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query tracks")
	}
	defer rows.Close()

	var tracks []track.Track
	for rows.Next() {
		var (
			tr         track.Track
			durationMs int64
		)
		if err := rows.Scan(&tr.Number, &tr.Filename, &durationMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan track")
		}
		tr.Duration = time.Duration(durationMs) * time.Millisecond
		tracks = append(tracks, tr)
	}
	return tracks, rows.Err()
}

// ListPlaylists returns all playlists without their tracks, ordered by
// creation. TrackCount is not populated; callers needing tracks fetch
// the playlist individually.
func (s *Store) ListPlaylists(ctx context.Context) ([]playlist.Playlist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, nfc_tag_id FROM playlists ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query playlists")
	}
	defer rows.Close()

	var out []playlist.Playlist
	for rows.Next() {
		var (
			pl    playlist.Playlist
			tagID sql.NullString
		)
		if err := rows.Scan(&pl.ID, &pl.Title, &tagID); err != nil {
			return nil, errors.Wrap(err, "failed to scan playlist")
		}
		pl.NFCTagID = tagID.String
		out = append(out, pl)
	}
	return out, rows.Err()
}

// DeletePlaylist removes a playlist and its tracks.
func (s *Store) DeletePlaylist(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete playlist")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateNFCTagAssociation binds a tag to a playlist. A tag previously
// bound to another playlist is moved; a playlist's previous tag is
// replaced.
func (s *Store) UpdateNFCTagAssociation(ctx context.Context, playlistID int64, tagID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// Release the tag from any other playlist first so the UNIQUE
	// constraint never fires on a rebind.
	if _, err := tx.ExecContext(ctx,
		`UPDATE playlists SET nfc_tag_id = NULL WHERE nfc_tag_id = ? AND id <> ?`,
		tagID, playlistID); err != nil {
		return errors.Wrap(err, "failed to release tag")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE playlists SET nfc_tag_id = ? WHERE id = ?`, tagID, playlistID)
	if err != nil {
		return errors.Wrap(err, "failed to bind tag")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return ErrNotFound
	}

	return errors.Wrap(tx.Commit(), "failed to commit association")
}
