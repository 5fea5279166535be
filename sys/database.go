package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"
)

const (
	MsgDBTrackLookupFail  = "failed to read track metadata for %s: %w"
	MsgDBTrackSaveFail    = "failed to save track metadata for %s: %w"
	MsgDBGuildLookupFail  = "failed to read settings for guild %s: %w"
	MsgDBGuildSaveFail    = "failed to save settings for guild %s: %w"
	MsgDBTrackCachePurged = "Purged %d cached track metadata rows"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS track_metadata (
			track_id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			author TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			clip_count INTEGER NOT NULL,
			clip_length REAL NOT NULL,
			volume REAL NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// BotConfig helpers are used by the loader for command hash tracking.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// TrackMetadata is the cached result of an id lookup against the search service.
type TrackMetadata struct {
	TrackID  string
	Title    string
	Author   string
	URL      string
	Duration time.Duration
}

// GetTrackMetadata returns nil without error when the track has not been cached.
func GetTrackMetadata(ctx context.Context, trackID string) (*TrackMetadata, error) {
	var m TrackMetadata
	var durationMs int64
	err := DB.QueryRowContext(ctx,
		"SELECT track_id, title, author, url, duration_ms FROM track_metadata WHERE track_id = ?",
		trackID,
	).Scan(&m.TrackID, &m.Title, &m.Author, &m.URL, &durationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf(MsgDBTrackLookupFail, trackID, err)
	}
	m.Duration = time.Duration(durationMs) * time.Millisecond
	return &m, nil
}

func SetTrackMetadata(ctx context.Context, m *TrackMetadata) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO track_metadata (track_id, title, author, url, duration_ms) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			url = excluded.url,
			duration_ms = excluded.duration_ms,
			updated_at = CURRENT_TIMESTAMP
	`, m.TrackID, m.Title, m.Author, m.URL, m.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf(MsgDBTrackSaveFail, m.TrackID, err)
	}
	return nil
}

func ClearTrackMetadata(ctx context.Context) (int64, error) {
	res, err := DB.ExecContext(ctx, "DELETE FROM track_metadata")
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	LogDatabase(MsgDBTrackCachePurged, n)
	return n, nil
}

// GuildSettings are the per-guild game defaults applied when a session starts.
type GuildSettings struct {
	ClipCount  int
	ClipLength float64
	Volume     float64
}

// GetGuildSettings returns nil without error when the guild has no stored defaults.
func GetGuildSettings(ctx context.Context, guildID snowflake.ID) (*GuildSettings, error) {
	var s GuildSettings
	err := DB.QueryRowContext(ctx,
		"SELECT clip_count, clip_length, volume FROM guild_settings WHERE guild_id = ?",
		guildID.String(),
	).Scan(&s.ClipCount, &s.ClipLength, &s.Volume)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf(MsgDBGuildLookupFail, guildID, err)
	}
	return &s, nil
}

func SetGuildSettings(ctx context.Context, guildID snowflake.ID, s GuildSettings) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, clip_count, clip_length, volume) VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			clip_count = excluded.clip_count,
			clip_length = excluded.clip_length,
			volume = excluded.volume,
			updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), s.ClipCount, s.ClipLength, s.Volume)
	if err != nil {
		return fmt.Errorf(MsgDBGuildSaveFail, guildID, err)
	}
	return nil
}
