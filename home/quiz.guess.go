package home

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/tunequiz/proc"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgGuessScored  = "[%s] %s guessed %q: %.2f (match=%t)"
	MsgGuessVerdict = "[%s] %s guessed %q with AI: %s"
	guessTimeout    = 30 * time.Second
)

func (g *Game) markGuessed(s *proc.Session) {
	g.mu.Lock()
	g.guessed[s.GuildID] = s.CurrentTrackID()
	g.mu.Unlock()
}

// isGuessed reports whether the current track was already guessed or revealed.
func (g *Game) isGuessed(s *proc.Session) bool {
	id := s.CurrentTrackID()
	g.mu.Lock()
	defer g.mu.Unlock()
	return id != "" && g.guessed[s.GuildID] == id
}

func (g *Game) clearGuessed(guildID snowflake.ID) {
	g.mu.Lock()
	delete(g.guessed, guildID)
	g.mu.Unlock()
}

func percent(score float64) string {
	return fmt.Sprintf("%.2f%%", math.Round(score*10000)/100)
}

func (g *Game) handleGuess(event *events.ApplicationCommandInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}
	answerID := s.CurrentTrackID()
	if answerID == "" {
		sys.Respond(event, userMessage(proc.ErrNoActiveClip), true)
		return
	}

	data := event.SlashCommandInteractionData()
	guess := data.String("guess")
	useAI, _ := data.OptBool("ai")
	user := event.User().Username

	_ = event.DeferCreateMessage(false)
	ctx, cancel := context.WithTimeout(sys.AppContext, guessTimeout)
	defer cancel()

	if useAI {
		verdict := g.scorer.ScoreBoolean(ctx, guess, answerID)
		sys.LogGame(MsgGuessVerdict, s.GuildID, user, guess, verdict)
		switch verdict {
		case proc.VerdictCorrect:
			g.markGuessed(s)
			edit(event, "Your guess is correct!", controls(s, true)...)
			return
		case proc.VerdictIncorrect:
			edit(event, "Your guess is incorrect!", controls(s, false)...)
			return
		}
		sys.SendFollowup(event.Client(), event.ApplicationID(), event.Token(), "AI service is off for now.", false)
	}

	score, matched := g.scorer.Score(ctx, guess, answerID)
	sys.LogGame(MsgGuessScored, s.GuildID, user, guess, score, matched)
	if !matched {
		edit(event, "Your guess is incorrect.", controls(s, false)...)
		return
	}

	outcome := proc.ClassifyScore(score)
	if outcome == proc.OutcomeWrong {
		edit(event, fmt.Sprintf("Your guess is incorrect. (%s)", percent(score)), controls(s, false)...)
		return
	}

	g.markGuessed(s)
	song := g.revealCurrent(ctx, s, "The song is")
	var text string
	switch outcome {
	case proc.OutcomeExact:
		text = "Your guess is **COMPLETELY** correct🎉!"
	case proc.OutcomeCorrect:
		text = fmt.Sprintf("Your guess is correct! (%s)", percent(score))
	default:
		text = fmt.Sprintf("Your guess is mostly correct! (%s)", percent(score))
	}
	edit(event, joinLines(text, song), controls(s, true)...)
}
