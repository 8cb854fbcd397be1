// Package sqlite provides a SQLite-backed implementation of the session and token stores.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ewilliams-labs/mirror/internal/core/domain"
	"github.com/ewilliams-labs/mirror/internal/core/ports"
	_ "github.com/mattn/go-sqlite3" // Import the driver anonymously
)

// Adapter implements the storage port for SQLite
type Adapter struct {
	db *sql.DB
}

var _ ports.Store = (*Adapter)(nil)

// NewAdapter creates a connection and runs the schema migration
func NewAdapter(storagePath string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on a single connection.
	db.SetMaxOpenConns(1)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	adapter := &Adapter{db: db}

	// Auto-migrate on startup for local dev
	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return adapter, nil
}

// Close ensures the DB connection is closed gracefully
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Load returns the stored session, or an empty one when id is unknown.
func (a *Adapter) Load(ctx context.Context, id string) (domain.Session, error) {
	sess := domain.NewSession(id)

	var (
		device, topic, artist, genre, mood, lastQuery sql.NullString
		updatedAt                                     sql.NullTime
	)
	row := a.db.QueryRowContext(ctx, `
		SELECT active_device_id, current_song_topic, artist, genre, mood,
			last_recommendation_query, updated_at
		FROM sessions WHERE id = ?
	`, id)
	if err := row.Scan(&device, &topic, &artist, &genre, &mood, &lastQuery, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sess, nil
		}
		return domain.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	sess.ActiveDeviceID = device.String
	sess.Context.CurrentSongTopic = topic.String
	sess.Context.Artist = artist.String
	sess.Context.Genre = genre.String
	sess.Context.Mood = mood.String
	sess.Context.LastRecommendationQuery = lastQuery.String
	if updatedAt.Valid {
		sess.UpdatedAt = updatedAt.Time
	}

	suggestions, err := a.loadSuggestions(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	sess.Context.LastSuggestedSongs = suggestions

	history, err := a.loadHistory(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	sess.History.Entries = history

	return sess, nil
}

func (a *Adapter) loadSuggestions(ctx context.Context, sessionID string) ([]domain.Track, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT track_id, name, artist, artist_id, uri
		FROM session_suggestions
		WHERE session_id = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load suggestions: %w", err)
	}
	defer rows.Close()

	var tracks []domain.Track
	for rows.Next() {
		var t domain.Track
		var artistID sql.NullString
		if err := rows.Scan(&t.ID, &t.Name, &t.Artist, &artistID, &t.URI); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		t.ArtistID = artistID.String
		tracks = append(tracks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate suggestions: %w", err)
	}
	return tracks, nil
}

func (a *Adapter) loadHistory(ctx context.Context, sessionID string) ([]domain.Exchange, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT query, response
		FROM session_history
		WHERE session_id = ?
		ORDER BY position ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var entries []domain.Exchange
	for rows.Next() {
		var e domain.Exchange
		if err := rows.Scan(&e.Query, &e.Response); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}

// Save replaces the stored state of the session in one transaction.
func (a *Adapter) Save(ctx context.Context, s domain.Session) error {
	// 1. Start Transaction
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // auto-rollback if we error before commit

	updatedAt := s.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	// 2. Upsert the session row
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (
			id, active_device_id, current_song_topic, artist, genre, mood,
			last_recommendation_query, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			active_device_id=excluded.active_device_id,
			current_song_topic=excluded.current_song_topic,
			artist=excluded.artist,
			genre=excluded.genre,
			mood=excluded.mood,
			last_recommendation_query=excluded.last_recommendation_query,
			updated_at=excluded.updated_at;
	`,
		s.ID,
		nullString(s.ActiveDeviceID),
		nullString(s.Context.CurrentSongTopic),
		nullString(s.Context.Artist),
		nullString(s.Context.Genre),
		nullString(s.Context.Mood),
		nullString(s.Context.LastRecommendationQuery),
		updatedAt,
	); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	// 3. Replace suggestions and history wholesale
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_suggestions WHERE session_id = ?", s.ID); err != nil {
		return fmt.Errorf("failed to clear suggestions: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM session_history WHERE session_id = ?", s.ID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	stmtSuggestion, err := tx.PrepareContext(ctx, `
		INSERT INTO session_suggestions (session_id, position, track_id, name, artist, artist_id, uri)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmtSuggestion.Close()

	for i, t := range s.Context.LastSuggestedSongs {
		if _, err := stmtSuggestion.ExecContext(ctx, s.ID, i, t.ID, t.Name, t.Artist, nullString(t.ArtistID), t.URI); err != nil {
			return fmt.Errorf("failed to save suggestion %s: %w", t.ID, err)
		}
	}

	stmtHistory, err := tx.PrepareContext(ctx, `
		INSERT INTO session_history (session_id, position, query, response)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmtHistory.Close()

	for i, e := range s.History.Entries {
		if _, err := stmtHistory.ExecContext(ctx, s.ID, i, e.Query, e.Response); err != nil {
			return fmt.Errorf("failed to save history entry %d: %w", i, err)
		}
	}

	// 4. Commit Transaction
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("transaction commit failed: %w", err)
	}

	return nil
}

// GetToken returns domain.ErrNotFound when the session has no stored token.
func (a *Adapter) GetToken(ctx context.Context, sessionID string) (domain.Token, error) {
	var (
		tok       domain.Token
		refresh   sql.NullString
		tokenType sql.NullString
		expiry    sql.NullTime
	)
	row := a.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, token_type, expiry
		FROM tokens WHERE session_id = ?
	`, sessionID)
	if err := row.Scan(&tok.AccessToken, &refresh, &tokenType, &expiry); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Token{}, domain.ErrNotFound
		}
		return domain.Token{}, fmt.Errorf("failed to load token: %w", err)
	}
	tok.RefreshToken = refresh.String
	tok.TokenType = tokenType.String
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return tok, nil
}

// SaveToken upserts the session's token.
func (a *Adapter) SaveToken(ctx context.Context, sessionID string, tok domain.Token) error {
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry.UTC(), Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO tokens (session_id, access_token, refresh_token, token_type, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			access_token=excluded.access_token,
			refresh_token=COALESCE(excluded.refresh_token, tokens.refresh_token),
			token_type=excluded.token_type,
			expiry=excluded.expiry,
			updated_at=CURRENT_TIMESTAMP;
	`, sessionID, tok.AccessToken, nullString(tok.RefreshToken), nullString(tok.TokenType), expiry)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (a *Adapter) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		active_device_id TEXT,
		current_song_topic TEXT,
		artist TEXT,
		genre TEXT,
		mood TEXT,
		last_recommendation_query TEXT,
		updated_at DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS session_suggestions (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		track_id TEXT NOT NULL,
		name TEXT NOT NULL,
		artist TEXT NOT NULL,
		artist_id TEXT,
		uri TEXT NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS session_history (
		session_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		query TEXT NOT NULL,
		response TEXT NOT NULL,
		PRIMARY KEY (session_id, position),
		FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tokens (
		session_id TEXT PRIMARY KEY,
		access_token TEXT NOT NULL,
		refresh_token TEXT,
		token_type TEXT,
		expiry DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := a.db.Exec(query); err != nil {
		return err
	}

	// Columns added after the first release.
	if _, err := a.db.Exec("ALTER TABLE session_suggestions ADD COLUMN artist_id TEXT"); err != nil {
		if !isDuplicateColumnError(err) {
			return err
		}
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isDuplicateColumnError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists"))
}
