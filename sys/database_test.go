package sys

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) context.Context {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, InitDatabase(ctx, path+"?_journal_mode=WAL&_timeout=5000"))
	t.Cleanup(func() {
		CloseDatabase()
		DB = nil
	})
	return ctx
}

func TestBotConfig(t *testing.T) {
	ctx := openTestDB(t)

	v, err := GetBotConfig(ctx, "commands_hash")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetBotConfig(ctx, "commands_hash", "abc"))
	require.NoError(t, SetBotConfig(ctx, "commands_hash", "def"))

	v, err = GetBotConfig(ctx, "commands_hash")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}

func TestTrackMetadata(t *testing.T) {
	ctx := openTestDB(t)

	m, err := GetTrackMetadata(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Nil(t, m)

	want := &TrackMetadata{
		TrackID:  "dQw4w9WgXcQ",
		Title:    "Never Gonna Give You Up",
		Author:   "Rick Astley",
		URL:      "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Duration: 3*time.Minute + 33*time.Second,
	}
	require.NoError(t, SetTrackMetadata(ctx, want))

	got, err := GetTrackMetadata(ctx, want.TrackID)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want.Title = "Never Gonna Give You Up (Remastered)"
	require.NoError(t, SetTrackMetadata(ctx, want))
	got, err = GetTrackMetadata(ctx, want.TrackID)
	require.NoError(t, err)
	assert.Equal(t, want.Title, got.Title)

	require.NoError(t, SetTrackMetadata(ctx, &TrackMetadata{TrackID: "other", Title: "Other"}))
	n, err := ClearTrackMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err = GetTrackMetadata(ctx, want.TrackID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGuildSettings(t *testing.T) {
	ctx := openTestDB(t)
	guild := snowflake.ID(123456789012345678)

	s, err := GetGuildSettings(ctx, guild)
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, SetGuildSettings(ctx, guild, GuildSettings{ClipCount: 4, ClipLength: 6.5, Volume: 0.8}))
	s, err = GetGuildSettings(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, &GuildSettings{ClipCount: 4, ClipLength: 6.5, Volume: 0.8}, s)

	require.NoError(t, SetGuildSettings(ctx, guild, GuildSettings{ClipCount: 2, ClipLength: 3, Volume: 1.5}))
	s, err = GetGuildSettings(ctx, guild)
	require.NoError(t, err)
	assert.Equal(t, &GuildSettings{ClipCount: 2, ClipLength: 3, Volume: 1.5}, s)

	other, err := GetGuildSettings(ctx, snowflake.ID(1))
	require.NoError(t, err)
	assert.Nil(t, other)
}
