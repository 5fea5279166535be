package home

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/tunequiz/proc"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgGameCacheSweep  = "Cache sweep failed: %v"
	cacheSweepInterval = 10 * time.Minute
	componentPrefix    = "quiz:"
	maxHintCount       = 5
	defaultHintCount   = 4
	volumePercentMax   = 200
	prepareTimeout     = 5 * time.Minute
	lookupTimeout      = 10 * time.Second
)

// Game wires the quiz engine to Discord.
type Game struct {
	cfg      *sys.Config
	registry *proc.Registry
	pipeline *proc.ClipPipeline
	cache    *proc.AudioCache
	catalog  *proc.Catalog
	scorer   *proc.Scorer
	ai       *proc.CompletionClient

	mu      sync.Mutex
	client  *bot.Client
	conns   map[snowflake.ID]voiceLink
	guessed map[snowflake.ID]string
}

// NewGame builds the engine from cfg. The database must already be initialized.
func NewGame(cfg *sys.Config) (*Game, error) {
	downloader := &proc.YtdlpDownloader{Proxy: cfg.YoutubeProxy, ShowLog: cfg.DownloadLog}
	cache, err := proc.NewAudioCache(cfg.AudioCacheDir, downloader,
		proc.WithWatermarks(cfg.CacheHighMB<<20, cfg.CacheLowMB<<20))
	if err != nil {
		return nil, err
	}
	cache.CleanPartials()

	segments := proc.NewSegmentProvider(cfg.SegmentsURL, proc.WithSegmentTimeout(cfg.SegmentsTimeout))
	extractor := proc.NewExtractor(proc.WithFFmpegPath(cfg.FFmpegPath), proc.WithFFprobePath(cfg.FFprobePath))
	catalog := proc.NewCatalog(proc.NewSearcher(cfg.SearchProvider), downloader, proc.DBMetadataStore{})
	ai := proc.NewCompletionClient(cfg.AIEndpoint, cfg.AIToken, cfg.AIModel,
		proc.WithCompletionTimeout(cfg.AITimeout),
		proc.WithCompletionDisabled(cfg.NoAI),
	)

	g := &Game{
		cfg:      cfg,
		pipeline: proc.NewClipPipeline(cache, extractor, proc.NewSelector(segments, nil)),
		cache:    cache,
		catalog:  catalog,
		scorer:   proc.NewScorer(catalog.Searcher(), catalog, ai),
		ai:       ai,
		conns:    make(map[snowflake.ID]voiceLink),
		guessed:  make(map[snowflake.ID]string),
	}
	g.registry = proc.NewRegistry(func(guildID snowflake.ID) {
		g.clearGuessed(guildID)
		g.leaveVoice(guildID)
	})
	return g, nil
}

func (g *Game) Registry() *proc.Registry {
	return g.registry
}

func (g *Game) setClient(c *bot.Client) {
	g.mu.Lock()
	g.client = c
	g.mu.Unlock()
}

func (g *Game) currentClient() *bot.Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// Register adds the quiz commands, buttons, voice tracking and daemons to the loader.
// Daemons start after the first ready event, so the client is known by then.
func (g *Game) Register() {
	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		g.setClient(client)
	})

	rotator := proc.NewStatusRotator(
		proc.GamesStatus(g.registry),
		proc.CacheStatus(g.cache),
		proc.UptimeStatus(sys.StartupTime),
	)
	sys.RegisterDaemon(sys.LogInfo, func(ctx context.Context) (bool, func(), func()) {
		client := g.currentClient()
		if client == nil {
			return false, nil, nil
		}
		return true, func() { rotator.Run(ctx, client) }, nil
	})

	sys.RegisterDaemon(sys.LogGame, func(ctx context.Context) (bool, func(), func()) {
		return true, func() { <-ctx.Done() }, g.Shutdown
	})
	sys.RegisterDaemon(sys.LogAudio, func(ctx context.Context) (bool, func(), func()) {
		return true, func() { g.sweepCache(ctx) }, nil
	})

	for _, c := range g.commands() {
		sys.RegisterCommand(c.create, c.handler)
	}
	sys.RegisterComponentHandler(componentPrefix, g.handleButton)
	sys.RegisterVoiceStateUpdateHandler(g.onVoiceStateUpdate)
}

// Shutdown ends every game and leaves every voice channel.
func (g *Game) Shutdown() {
	g.registry.Shutdown()
}

func (g *Game) sweepCache(ctx context.Context) {
	ticker := time.NewTicker(cacheSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := g.cache.EnforceDiskBudget(); err != nil {
				sys.LogAudio(MsgGameCacheSweep, err)
			}
		}
	}
}

type command struct {
	create  discord.SlashCommandCreate
	handler func(event *events.ApplicationCommandInteractionCreate)
}

func (g *Game) commands() []command {
	adminPerm := discord.PermissionManageGuild
	guildOnly := []discord.InteractionContextType{discord.InteractionContextTypeGuild}

	return []command{
		{discord.SlashCommandCreate{
			Name:        "start",
			Description: "Start a guess-the-song game in your voice channel",
			Contexts:    guildOnly,
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "url",
					Description: "A YouTube playlist or video URL",
					Required:    true,
				},
				discord.ApplicationCommandOptionInt{
					Name:        "clips",
					Description: "Clips per song (default: server setting)",
					MinValue:    sys.IntPtr(proc.MinClipCount),
					MaxValue:    sys.IntPtr(proc.MaxClipCount),
				},
				discord.ApplicationCommandOptionInt{
					Name:        "length",
					Description: "Clip length in seconds (default: server setting)",
					MinValue:    sys.IntPtr(int(proc.MinClipLength)),
					MaxValue:    sys.IntPtr(int(proc.MaxClipLength)),
				},
				discord.ApplicationCommandOptionBool{
					Name:        "shuffle",
					Description: "Play the clips of a song out of order (default: true)",
				},
			},
		}, g.handleStart},
		{discord.SlashCommandCreate{
			Name:        "next",
			Description: "Play the next clip, or the next song once all clips were heard",
			Contexts:    guildOnly,
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionBool{
					Name:        "skip",
					Description: "Skip straight to the next song",
				},
			},
		}, g.handleNext},
		{discord.SlashCommandCreate{
			Name:        "guess",
			Description: "Guess the current song",
			Contexts:    guildOnly,
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "guess",
					Description: "Your guess for the current song",
					Required:    true,
				},
				discord.ApplicationCommandOptionBool{
					Name:        "ai",
					Description: "Let AI judge the guess (experimental)",
				},
			},
		}, g.handleGuess},
		{discord.SlashCommandCreate{
			Name:        "hint",
			Description: "List a few songs, one of which is playing",
			Contexts:    guildOnly,
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "count",
					Description: "How many songs to list (default: 4)",
					MinValue:    sys.IntPtr(1),
					MaxValue:    sys.IntPtr(maxHintCount),
				},
			},
		}, g.handleHint},
		{discord.SlashCommandCreate{
			Name:        "reveal",
			Description: "Reveal the current song",
			Contexts:    guildOnly,
		}, g.handleReveal},
		{discord.SlashCommandCreate{
			Name:        "replay",
			Description: "Replay the current clip",
			Contexts:    guildOnly,
		}, g.handleReplay},
		{discord.SlashCommandCreate{
			Name:        "fullsong",
			Description: "Play the whole current song",
			Contexts:    guildOnly,
		}, g.handleFullSong},
		{discord.SlashCommandCreate{
			Name:        "repick",
			Description: "Pick new clips from the current song",
			Contexts:    guildOnly,
		}, g.handleRepick},
		{discord.SlashCommandCreate{
			Name:        "volume",
			Description: "Set the playback volume",
			Contexts:    guildOnly,
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "level",
					Description: "Volume in percent, 100 is unchanged",
					Required:    true,
					MinValue:    sys.IntPtr(0),
					MaxValue:    sys.IntPtr(volumePercentMax),
				},
			},
		}, g.handleVolume},
		{discord.SlashCommandCreate{
			Name:        "add",
			Description: "Add a playlist or song to the running game",
			Contexts:    guildOnly,
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionString{
					Name:        "url",
					Description: "A YouTube playlist or video URL",
					Required:    true,
				},
			},
		}, g.handleAdd},
		{discord.SlashCommandCreate{
			Name:        "stop",
			Description: "End the game and leave the voice channel",
			Contexts:    guildOnly,
		}, g.handleStop},
		{discord.SlashCommandCreate{
			Name:                     "settings",
			Description:              "View or change this server's game defaults",
			Contexts:                 guildOnly,
			DefaultMemberPermissions: omit.New(&adminPerm),
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionInt{
					Name:        "clips",
					Description: "Clips per song",
					MinValue:    sys.IntPtr(proc.MinClipCount),
					MaxValue:    sys.IntPtr(proc.MaxClipCount),
				},
				discord.ApplicationCommandOptionInt{
					Name:        "length",
					Description: "Clip length in seconds",
					MinValue:    sys.IntPtr(int(proc.MinClipLength)),
					MaxValue:    sys.IntPtr(int(proc.MaxClipLength)),
				},
				discord.ApplicationCommandOptionInt{
					Name:        "volume",
					Description: "Default volume in percent",
					MinValue:    sys.IntPtr(0),
					MaxValue:    sys.IntPtr(volumePercentMax),
				},
			},
		}, g.handleSettings},
		{discord.SlashCommandCreate{
			Name:                     "cache",
			Description:              "Audio cache maintenance (Admin Only)",
			Contexts:                 guildOnly,
			DefaultMemberPermissions: omit.New(&adminPerm),
			Options: []discord.ApplicationCommandOption{
				discord.ApplicationCommandOptionSubCommand{
					Name:        "status",
					Description: "Show disk usage of the audio cache",
				},
				discord.ApplicationCommandOptionSubCommand{
					Name:        "purge",
					Description: "Delete all cached audio and track metadata",
				},
			},
		}, g.handleCache},
	}
}

// userMessage turns an engine error into text for players.
func userMessage(err error) string {
	switch {
	case errors.Is(err, proc.ErrPreparing):
		return "The next song is still being prepared, hang on."
	case errors.Is(err, proc.ErrNoMoreTracks):
		return "That was the last song. Thanks for playing!"
	case errors.Is(err, proc.ErrSessionFatal):
		return "Too many songs failed to load in a row, so the game has ended."
	case errors.Is(err, proc.ErrSessionClosed):
		return "This game has already ended."
	case errors.Is(err, proc.ErrSessionExists):
		return "A game is already running in this server."
	case errors.Is(err, proc.ErrNoMoreClips):
		return "No more clips for this song. Use `/next` to move on to the next song."
	case errors.Is(err, proc.ErrNoActiveClip):
		return "No song is currently playing."
	case errors.Is(err, proc.ErrNoPreviousClip):
		return "There is no earlier clip to go back to."
	case errors.Is(err, proc.ErrNoFullTrack):
		return "The full song is not available."
	case errors.Is(err, proc.ErrValidation):
		return "Invalid input: " + err.Error()
	case errors.Is(err, proc.ErrServiceUnavailable):
		return "An external service did not respond. Try again later."
	}
	return "Something went wrong: " + err.Error()
}
