package proc

import (
	"context"
	"fmt"
	"strings"

	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgScoreSearchFail = "Search for guess %q failed: %v"
	MsgScoreRank       = "Guess %q ranked %d/%d for %s"
	MsgScoreAIFail     = "AI verdict for %s unavailable: %v"

	// CorrectThreshold is the lowest score counted as a right answer.
	CorrectThreshold = 0.7
	// ConfidentThreshold separates "correct" from "mostly correct".
	ConfidentThreshold = 0.8

	guessJudgePrompt = "You judge a song guessing game. The user message has two lines: the real song title " +
		"and a player's guess. Titles may be written in different languages, scripts or romanizations, and " +
		"may include or omit the artist, featured artists or tags such as (Official Video). Reply with exactly " +
		"true if the guess names the same song, otherwise reply with exactly false."
)

type Verdict int

const (
	VerdictUnavailable Verdict = iota
	VerdictCorrect
	VerdictIncorrect
)

func (v Verdict) String() string {
	switch v {
	case VerdictCorrect:
		return "correct"
	case VerdictIncorrect:
		return "incorrect"
	}
	return "unavailable"
}

// Completer asks a text completion service one question.
type Completer interface {
	Ask(ctx context.Context, systemPrompt, query string) (string, error)
}

// TitleResolver finds the known title of a track.
type TitleResolver interface {
	Lookup(ctx context.Context, trackID string) (*Video, error)
}

// Scorer rates free-text guesses against the current track.
type Scorer struct {
	searcher VideoSearcher
	titles   TitleResolver
	ai       Completer
}

// NewScorer builds a scorer. ai may be nil, which makes every boolean verdict unavailable.
func NewScorer(searcher VideoSearcher, titles TitleResolver, ai Completer) *Scorer {
	return &Scorer{searcher: searcher, titles: titles, ai: ai}
}

// Score searches for guess and ranks where answerID appears in the results. The
// top hit scores 1, the last of n hits scores 1/n. The second value is false when
// the answer is absent or the search failed.
func (s *Scorer) Score(ctx context.Context, guess, answerID string) (float64, bool) {
	results, err := s.searcher.Search(ctx, guess)
	if err != nil {
		sys.LogScore(MsgScoreSearchFail, guess, err)
		return 0, false
	}
	return rankScore(results, answerID, guess)
}

func rankScore(results []Video, answerID, guess string) (float64, bool) {
	n := len(results)
	for i, r := range results {
		if r.ID == answerID {
			sys.LogScore(MsgScoreRank, guess, i+1, n, answerID)
			return float64(n-i) / float64(n), true
		}
	}
	return 0, false
}

// ScoreBoolean asks the completion service whether guess names the same song as answerID.
func (s *Scorer) ScoreBoolean(ctx context.Context, guess, answerID string) Verdict {
	if s.ai == nil {
		return VerdictUnavailable
	}
	if c, ok := s.ai.(*CompletionClient); ok && !c.Enabled() {
		return VerdictUnavailable
	}

	answer, err := s.titles.Lookup(ctx, answerID)
	if err != nil {
		sys.LogScore(MsgScoreAIFail, answerID, err)
		return VerdictUnavailable
	}

	reply, err := s.ai.Ask(ctx, guessJudgePrompt, fmt.Sprintf("Title: %s\nGuess: %s", answer.Title, guess))
	if err != nil {
		sys.LogScore(MsgScoreAIFail, answerID, err)
		return VerdictUnavailable
	}
	if strings.TrimSpace(reply) == "true" {
		return VerdictCorrect
	}
	return VerdictIncorrect
}

// GuessOutcome classifies a score the way players see it.
type GuessOutcome int

const (
	OutcomeWrong GuessOutcome = iota
	OutcomeMostlyCorrect
	OutcomeCorrect
	OutcomeExact
)

func ClassifyScore(score float64) GuessOutcome {
	switch {
	case score < CorrectThreshold:
		return OutcomeWrong
	case score == 1:
		return OutcomeExact
	case score > ConfidentThreshold:
		return OutcomeCorrect
	}
	return OutcomeMostlyCorrect
}
