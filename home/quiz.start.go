package home

import (
	"context"
	"errors"
	"fmt"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/tunequiz/proc"
	"github.com/leeineian/tunequiz/proc/audio"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgStartFailed  = "[%s] Failed to start game: %v"
	MsgStartStarted = "[%s] Game started with %d tracks by %s"
	MsgSettingsLoad = "[%s] Failed to load guild settings: %v"
)

// interaction is what command and component events have in common.
type interaction interface {
	sys.MessageResponder
	DeferCreateMessage(ephemeral bool, opts ...rest.RequestOpt) error
	Client() *bot.Client
	ApplicationID() snowflake.ID
	Token() string
	GuildID() *snowflake.ID
	User() discord.User
}

func edit(e interaction, content string, components ...discord.LayoutComponent) {
	sys.EditResponse(e.Client(), e.ApplicationID(), e.Token(), content, components...)
}

// sessionFor replies on its own and returns false when no game runs in the event's guild.
func (g *Game) sessionFor(e interaction) (*proc.Session, bool) {
	guildID := e.GuildID()
	if guildID == nil {
		sys.Respond(e, "This command can only be used in a server channel.", true)
		return nil, false
	}
	s, ok := g.registry.Get(*guildID)
	if !ok {
		sys.Respond(e, "No game session is currently running in this server.", true)
		return nil, false
	}
	return s, true
}

// settingsFor merges the configured defaults with the guild's stored settings.
func (g *Game) settingsFor(ctx context.Context, guildID snowflake.ID) proc.SessionConfig {
	cfg := proc.SessionConfig{
		ClipCount:  g.cfg.ClipCount,
		ClipLength: g.cfg.ClipLength,
		Volume:     g.cfg.DefaultVolume,
		Shuffle:    g.cfg.ShuffleClips,
	}
	stored, err := sys.GetGuildSettings(ctx, guildID)
	if err != nil {
		sys.LogGame(MsgSettingsLoad, guildID, err)
		return cfg
	}
	if stored != nil {
		cfg.ClipCount = stored.ClipCount
		cfg.ClipLength = stored.ClipLength
		cfg.Volume = stored.Volume
	}
	return cfg
}

func (g *Game) handleStart(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		sys.Respond(event, "This command can only be used in a server channel.", true)
		return
	}
	if _, ok := g.registry.Get(*guildID); ok {
		sys.Respond(event, userMessage(proc.ErrSessionExists), true)
		return
	}
	channelID, ok := callerVoiceChannel(event.Client(), *guildID, event.User().ID)
	if !ok {
		sys.Respond(event, "Join a voice channel first.", true)
		return
	}

	data := event.SlashCommandInteractionData()
	input := data.String("url")
	ctx := sys.AppContext
	cfg := g.settingsFor(ctx, *guildID)
	if n, ok := data.OptInt("clips"); ok {
		cfg.ClipCount = n
	}
	if n, ok := data.OptInt("length"); ok {
		cfg.ClipLength = float64(n)
	}
	if b, ok := data.OptBool("shuffle"); ok {
		cfg.Shuffle = b
	}
	if err := cfg.Validate(); err != nil {
		sys.Respond(event, userMessage(err), true)
		return
	}

	_ = event.DeferCreateMessage(false)

	tracks, err := g.catalog.Resolve(ctx, input)
	if err != nil {
		edit(event, userMessage(err))
		return
	}
	if len(tracks) == 0 {
		edit(event, "That playlist has no playable songs.")
		return
	}

	s, err := g.startSession(ctx, event.Client(), *guildID, channelID, event.Channel().ID(), tracks, cfg)
	if err != nil {
		sys.LogGame(MsgStartFailed, *guildID, err)
		edit(event, userMessage(err))
		return
	}
	sys.LogGame(MsgStartStarted, *guildID, len(tracks), event.User().Username)

	g.playNextSong(ctx, event, s, fmt.Sprintf("Game started with **%d** songs!", len(tracks)))
}

// startSession joins voice and registers a new session for the guild.
func (g *Game) startSession(ctx context.Context, client *bot.Client, guildID, voiceID, textID snowflake.ID, tracks []string, cfg proc.SessionConfig) (*proc.Session, error) {
	conn, err := g.joinVoice(ctx, client, guildID, voiceID)
	if err != nil {
		return nil, fmt.Errorf("join voice: %w", err)
	}

	player := audio.NewVoicePlayer(ctx, conn)
	s, err := proc.NewSession(guildID, tracks, player, g.pipeline, cfg, proc.WithChannels(voiceID, textID))
	if err != nil {
		g.leaveVoice(guildID)
		return nil, err
	}
	if err := g.registry.Create(s); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// playNextSong prepares the next track and reports it. Terminal errors end the game.
func (g *Game) playNextSong(ctx context.Context, e interaction, s *proc.Session, header string) {
	prepCtx, cancel := context.WithTimeout(ctx, prepareTimeout)
	defer cancel()

	if header != "" {
		edit(e, header+"\n⏳ Preparing the next song...")
	}

	_, err := s.AdvanceToNextTrack(prepCtx)
	if err != nil && proc.IsTerminal(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		g.registry.Destroy(s.GuildID)
		edit(e, joinLines(header, userMessage(err)))
		return
	}
	if err != nil {
		edit(e, joinLines(header, userMessage(err)), controls(s, false)...)
		return
	}
	edit(e, joinLines(header, clipStatus(s)), controls(s, false)...)
}

func joinLines(a, b string) string {
	if a == "" {
		return b
	}
	return a + "\n" + b
}
