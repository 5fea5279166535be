package home

import (
	"errors"

	"github.com/disgoorg/disgo/events"
	"github.com/leeineian/tunequiz/proc"
	"github.com/leeineian/tunequiz/sys"
)

func (g *Game) handleButton(event *events.ComponentInteractionCreate) {
	s, ok := g.sessionFor(event)
	if !ok || busy(event, s) {
		return
	}

	switch event.Data.CustomID() {
	case buttonLastClip:
		if _, err := s.ReturnToPreviousClip(); err != nil {
			sys.Respond(event, userMessage(err), true)
			return
		}
		sys.RespondWithComponents(event, "⏮️ "+clipStatus(s), false, controls(s, g.isGuessed(s))...)
	case buttonNextClip:
		_, err := s.AdvanceToNextClip()
		if errors.Is(err, proc.ErrNoMoreClips) {
			g.nextSong(event, s, false)
			return
		}
		if err != nil {
			sys.Respond(event, userMessage(err), true)
			return
		}
		sys.RespondWithComponents(event, clipStatus(s), false, controls(s, g.isGuessed(s))...)
	case buttonReplay:
		if _, err := s.ReplayActiveClip(); err != nil {
			sys.Respond(event, userMessage(err), true)
			return
		}
		sys.RespondWithComponents(event, "🔁 "+clipStatus(s), false, controls(s, g.isGuessed(s))...)
	case buttonNextSong:
		g.nextSong(event, s, !g.isGuessed(s))
	case buttonReveal:
		g.reveal(event, s)
	}
}
