package home

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/tunequiz/proc"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgPlayNextTrack = "[%s] Moving to next song (skip=%t)"
	MsgPlayVolume    = "[%s] Volume set to %d%%"
	MsgPlayAdded     = "[%s] Added %d tracks"
	MsgPlayStopped   = "[%s] Game stopped by %s"
	MsgPlayHintLoad  = "[%s] Hint lookup failed for %s: %v"
)

// busy rejects the interaction while the next song is being prepared.
func busy(e interaction, s *proc.Session) bool {
	if s.IsPreparing() {
		sys.Respond(e, userMessage(proc.ErrPreparing), true)
		return true
	}
	return false
}

// revealCurrent describes the current song, or returns "" when nothing was prepared yet.
func (g *Game) revealCurrent(ctx context.Context, s *proc.Session, prefix string) string {
	info, err := s.Reveal()
	if err != nil {
		return ""
	}
	return g.describe(ctx, info, prefix)
}

// describe looks the song up with a bounded wait; without metadata only the clip times are shown.
func (g *Game) describe(ctx context.Context, info proc.RevealInfo, prefix string) string {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()
	v, _ := g.catalog.Lookup(ctx, info.TrackID)
	return revealText(prefix, info, v)
}

func (g *Game) handleNext(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	skip, _ := event.SlashCommandInteractionData().OptBool("skip")

	if !skip {
		_, err := s.AdvanceToNextClip()
		if err == nil {
			sys.RespondWithComponents(event, clipStatus(s), false, controls(s, g.isGuessed(s))...)
			return
		}
		if !errors.Is(err, proc.ErrNoMoreClips) {
			sys.Respond(event, userMessage(err), true)
			return
		}
	}
	g.nextSong(event, s, skip)
}

// nextSong reveals the current song and moves the game on to another one.
func (g *Game) nextSong(e interaction, s *proc.Session, skipped bool) {
	sys.LogGame(MsgPlayNextTrack, s.GuildID, skipped)
	_ = e.DeferCreateMessage(false)

	ctx := sys.AppContext
	prefix := "The song was"
	if skipped {
		prefix = "Skipped! The song was"
	}
	header := g.revealCurrent(ctx, s, prefix)
	g.clearGuessed(s.GuildID)
	g.playNextSong(ctx, e, s, header)
}

func (g *Game) handleReveal(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	g.reveal(event, s)
}

func (g *Game) reveal(e interaction, s *proc.Session) {
	_ = e.DeferCreateMessage(false)
	text := g.revealCurrent(sys.AppContext, s, "The song is")
	if text == "" {
		edit(e, userMessage(proc.ErrNoActiveClip))
		return
	}
	g.markGuessed(s)
	edit(e, text+"\nUse `/next` to move on to the next song.", controls(s, true)...)
}

func (g *Game) handleReplay(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	if _, err := s.ReplayActiveClip(); err != nil {
		sys.Respond(event, userMessage(err), true)
		return
	}
	pos, total := s.ClipPosition()
	sys.Respond(event, fmt.Sprintf("🔁 Replaying clip **%d/%d**.", pos, total), false)
}

func (g *Game) handleFullSong(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	if err := s.PlayFullTrack(); err != nil {
		sys.Respond(event, userMessage(err), true)
		return
	}
	sys.Respond(event, "▶️ Playing the full song.", false)
}

func (g *Game) handleRepick(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(sys.AppContext, prepareTimeout)
	defer cancel()
	if err := s.Repick(ctx); err != nil {
		edit(event, userMessage(err))
		return
	}
	edit(event, "🎲 Picked new clips.\n"+clipStatus(s), controls(s, g.isGuessed(s))...)
}

func (g *Game) handleVolume(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok {
		return
	}
	level := event.SlashCommandInteractionData().Int("level")
	if err := s.SetVolume(float64(level) / 100); err != nil {
		sys.Respond(event, userMessage(err), true)
		return
	}
	sys.LogGame(MsgPlayVolume, s.GuildID, level)
	sys.Respond(event, fmt.Sprintf("🔊 Volume set to **%d%%**.", level), false)
}

func (g *Game) handleAdd(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok {
		return
	}
	input := event.SlashCommandInteractionData().String("url")
	_ = event.DeferCreateMessage(false)

	ids, err := g.catalog.Resolve(sys.AppContext, input)
	if err != nil {
		edit(event, userMessage(err))
		return
	}
	added, err := s.AddTracks(ids...)
	if err != nil {
		edit(event, userMessage(err))
		return
	}
	sys.LogGame(MsgPlayAdded, s.GuildID, added)
	edit(event, fmt.Sprintf("➕ Added **%d** new songs (%d skipped as duplicates). %d songs left.",
		added, len(ids)-added, s.Remaining()))
}

func (g *Game) handleStop(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok {
		return
	}
	info, revealErr := s.Reveal()
	_ = event.DeferCreateMessage(false)
	g.registry.Destroy(s.GuildID)
	sys.LogGame(MsgPlayStopped, s.GuildID, event.User().Username)

	text := ""
	if revealErr == nil {
		text = g.describe(sys.AppContext, info, "The last song was")
	}
	edit(event, joinLines("⏹️ Game stopped. Thanks for playing!", text))
}

func (g *Game) handleHint(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	count := defaultHintCount
	if n, ok := event.SlashCommandInteractionData().OptInt("count"); ok {
		count = min(max(n, 1), maxHintCount)
	}
	ids, err := s.HintCandidates(count)
	if err != nil {
		sys.Respond(event, userMessage(err), true)
		return
	}
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(sys.AppContext, lookupTimeout)
	defer cancel()

	var b strings.Builder
	b.WriteString("💡 The song is one of these:")
	for i, id := range ids {
		v, err := g.catalog.Lookup(ctx, id)
		if err != nil {
			sys.LogGame(MsgPlayHintLoad, s.GuildID, id, err)
			fmt.Fprintf(&b, "\n%d. *Unknown song*", i+1)
			continue
		}
		fmt.Fprintf(&b, "\n%d. **%s** by *%s*", i+1, v.Title, v.Author)
	}
	edit(event, b.String())
}
