package home

import (
	"fmt"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/tunequiz/proc"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgAdminSettingsSaved = "[%s] Settings saved by %s: %+v"
	MsgAdminSettingsFail  = "[%s] Failed to save settings: %v"
	MsgAdminPurged        = "Cache purged by %s: %d files, %d metadata rows"
	MsgAdminPurgeFail     = "Cache purge failed: %v"
)

func (g *Game) handleSettings(event *events.ApplicationCommandInteractionCreate) {
	guildID := event.GuildID()
	if guildID == nil {
		sys.Respond(event, "This command can only be used in a server channel.", true)
		return
	}
	ctx := sys.AppContext
	cfg := g.settingsFor(ctx, *guildID)

	data := event.SlashCommandInteractionData()
	clips, hasClips := data.OptInt("clips")
	length, hasLength := data.OptInt("length")
	volume, hasVolume := data.OptInt("volume")
	if !hasClips && !hasLength && !hasVolume {
		sys.Respond(event, settingsText("⚙️ Current settings", cfg), true)
		return
	}
	if hasClips {
		cfg.ClipCount = clips
	}
	if hasLength {
		cfg.ClipLength = float64(length)
	}
	if hasVolume {
		cfg.Volume = float64(volume) / 100
	}
	if err := cfg.Validate(); err != nil {
		sys.Respond(event, userMessage(err), true)
		return
	}

	stored := sys.GuildSettings{ClipCount: cfg.ClipCount, ClipLength: cfg.ClipLength, Volume: cfg.Volume}
	if err := sys.SetGuildSettings(ctx, *guildID, stored); err != nil {
		sys.LogDatabase(MsgAdminSettingsFail, *guildID, err)
		sys.Respond(event, "Failed to save settings.", true)
		return
	}
	sys.LogGame(MsgAdminSettingsSaved, *guildID, event.User().Username, stored)

	// A running game picks the new values up from its next song on.
	if s, ok := g.registry.Get(*guildID); ok {
		_ = s.SetClipCount(cfg.ClipCount)
		_ = s.SetClipLength(cfg.ClipLength)
		_ = s.SetVolume(cfg.Volume)
	}
	sys.Respond(event, settingsText("✅ Settings saved", cfg), false)
}

func settingsText(title string, cfg proc.SessionConfig) string {
	return fmt.Sprintf("%s\nClips per song: **%d**\nClip length: **%gs**\nVolume: **%.0f%%**",
		title, cfg.ClipCount, cfg.ClipLength, cfg.Volume*100)
}

func (g *Game) handleCache(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if data.SubCommandName == nil {
		return
	}

	switch *data.SubCommandName {
	case "status":
		bytes, files, err := g.cache.Usage()
		if err != nil {
			sys.Respond(event, "Failed to read the cache: "+err.Error(), true)
			return
		}
		sys.Respond(event, fmt.Sprintf("💾 **%d** cached songs using **%.1f MB** (limit %d MB, trimmed to %d MB).",
			files, float64(bytes)/(1<<20), g.cfg.CacheHighMB, g.cfg.CacheLowMB), true)
	case "purge":
		_ = event.DeferCreateMessage(true)
		removed, err := g.cache.Purge()
		if err != nil {
			sys.LogAudio(MsgAdminPurgeFail, err)
			edit(event, "Failed to purge the cache: "+err.Error())
			return
		}
		rows, err := sys.ClearTrackMetadata(sys.AppContext)
		if err != nil {
			sys.LogDatabase(MsgAdminPurgeFail, err)
		}
		sys.LogAudio(MsgAdminPurged, event.User().Username, removed, rows)
		edit(event, fmt.Sprintf("🗑️ Removed **%d** cached songs and **%d** metadata entries.", removed, rows))
	}
}
