package home

import (
	"fmt"
	"math"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/leeineian/tunequiz/proc"
)

const (
	buttonLastClip = componentPrefix + "last"
	buttonNextClip = componentPrefix + "next"
	buttonReplay   = componentPrefix + "replay"
	buttonNextSong = componentPrefix + "nextsong"
	buttonReveal   = componentPrefix + "reveal"
)

// FormatTimestamp renders seconds as mm:ss.d, with a leading hh: from one hour on.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	tenths := int64(math.Floor(seconds * 10))
	h := tenths / 36000
	m := tenths / 600 % 60
	s := tenths / 10 % 60
	d := tenths % 10
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d.%d", h, m, s, d)
	}
	return fmt.Sprintf("%02d:%02d.%d", m, s, d)
}

func formatWindows(windows []proc.Range) string {
	parts := make([]string, len(windows))
	for i, w := range windows {
		parts[i] = fmt.Sprintf("`%s - %s`", FormatTimestamp(w.Start), FormatTimestamp(w.End))
	}
	return strings.Join(parts, ", ")
}

func songLine(v *proc.Video) string {
	if v == nil {
		return "*No metadata found for this song.*"
	}
	return fmt.Sprintf("**%s** by *%s* (<%s>)", v.Title, v.Author, v.URL)
}

// revealText describes a track and where its clips came from.
func revealText(prefix string, info proc.RevealInfo, v *proc.Video) string {
	return fmt.Sprintf("%s %s\nClip timestamps are %s", prefix, songLine(v), formatWindows(info.Windows))
}

func clipStatus(s *proc.Session) string {
	pos, total := s.ClipPosition()
	return fmt.Sprintf("🎵 Playing clip **%d/%d**. Use `/guess` to name the song!", pos, total)
}

// controls builds the button row shown under game messages.
func controls(s *proc.Session, songGuessed bool) []discord.LayoutComponent {
	pos, total := s.ClipPosition()

	next := discord.NewPrimaryButton(fmt.Sprintf("Next clip (%d/%d)", min(pos+1, total), total), buttonNextClip).
		WithDisabled(pos >= total)
	nextSong := discord.NewSecondaryButton("Next song", buttonNextSong)
	if songGuessed {
		nextSong = discord.NewSuccessButton("Next song", buttonNextSong)
	}

	return []discord.LayoutComponent{
		discord.NewActionRow(
			discord.NewSecondaryButton("Last clip", buttonLastClip).WithDisabled(pos <= 1),
			next,
			discord.NewSecondaryButton("Replay", buttonReplay),
			nextSong,
			discord.NewDangerButton("Reveal", buttonReveal).WithDisabled(songGuessed),
		),
	}
}
