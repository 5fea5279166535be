package proc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSearcher struct {
	results []Video
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]Video, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func videos(ids ...string) []Video {
	out := make([]Video, len(ids))
	for i, id := range ids {
		out[i] = Video{ID: id, Title: "Title " + id, Author: "Artist", URL: TrackURL(id)}
	}
	return out
}

type fakeCompleter struct {
	reply  string
	err    error
	prompt string
	query  string
}

func (f *fakeCompleter) Ask(ctx context.Context, systemPrompt, query string) (string, error) {
	f.prompt, f.query = systemPrompt, query
	return f.reply, f.err
}

type fakeTitles struct {
	video *Video
	err   error
}

func (f fakeTitles) Lookup(ctx context.Context, trackID string) (*Video, error) {
	return f.video, f.err
}

func TestScoreRanksByPosition(t *testing.T) {
	tests := []struct {
		name    string
		results []Video
		err     error
		want    float64
		matched bool
	}{
		{"Top Hit", videos("ans", "b", "c", "d"), nil, 1, true},
		{"Second Of Four", videos("a", "ans", "c", "d"), nil, 0.75, true},
		{"Last Of Five", videos("a", "b", "c", "d", "ans"), nil, 0.2, true},
		{"First Of Ten", videos("ans", "b", "c", "d", "e", "f", "g", "h", "i", "j"), nil, 1, true},
		{"Last Of Ten", videos("a", "b", "c", "d", "e", "f", "g", "h", "i", "ans"), nil, 0.1, true},
		{"Absent", videos("a", "b"), nil, 0, false},
		{"No Results", nil, nil, 0, false},
		{"Search Failed", nil, ErrServiceUnavailable, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{results: tt.results, err: tt.err}
			s := NewScorer(searcher, nil, nil)

			got, matched := s.Score(context.Background(), "my guess", "ans")
			assert.Equal(t, tt.matched, matched)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, []string{"my guess"}, searcher.queries)
		})
	}
}

func TestScoreBoolean(t *testing.T) {
	answer := &Video{ID: "ans", Title: "夜に駆ける"}

	tests := []struct {
		name   string
		titles fakeTitles
		ai     *fakeCompleter
		want   Verdict
	}{
		{"True", fakeTitles{video: answer}, &fakeCompleter{reply: "true"}, VerdictCorrect},
		{"True With Whitespace", fakeTitles{video: answer}, &fakeCompleter{reply: " true\n"}, VerdictCorrect},
		{"False", fakeTitles{video: answer}, &fakeCompleter{reply: "false"}, VerdictIncorrect},
		{"Anything Else", fakeTitles{video: answer}, &fakeCompleter{reply: "True."}, VerdictIncorrect},
		{"Ask Failed", fakeTitles{video: answer}, &fakeCompleter{err: ErrServiceUnavailable}, VerdictUnavailable},
		{"Lookup Failed", fakeTitles{err: errors.New("offline")}, &fakeCompleter{reply: "true"}, VerdictUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(&fakeSearcher{}, tt.titles, tt.ai)
			assert.Equal(t, tt.want, s.ScoreBoolean(context.Background(), "yoru ni kakeru", "ans"))
		})
	}
}

func TestScoreBooleanSendsTitleAndGuess(t *testing.T) {
	ai := &fakeCompleter{reply: "true"}
	s := NewScorer(&fakeSearcher{}, fakeTitles{video: &Video{ID: "ans", Title: "Idol"}}, ai)

	s.ScoreBoolean(context.Background(), "oshi no ko op", "ans")
	assert.Equal(t, guessJudgePrompt, ai.prompt)
	assert.Contains(t, ai.query, "Idol")
	assert.Contains(t, ai.query, "oshi no ko op")
}

func TestScoreBooleanUnavailableWithoutService(t *testing.T) {
	titles := fakeTitles{video: &Video{ID: "ans", Title: "Idol"}}

	s := NewScorer(&fakeSearcher{}, titles, nil)
	assert.Equal(t, VerdictUnavailable, s.ScoreBoolean(context.Background(), "idol", "ans"))

	disabled := NewCompletionClient("http://127.0.0.1:0", "token", "model", WithCompletionDisabled(true))
	s = NewScorer(&fakeSearcher{}, titles, disabled)
	assert.Equal(t, VerdictUnavailable, s.ScoreBoolean(context.Background(), "idol", "ans"))
}

func TestClassifyScore(t *testing.T) {
	tests := []struct {
		score float64
		want  GuessOutcome
	}{
		{0, OutcomeWrong},
		{0.69, OutcomeWrong},
		{0.7, OutcomeMostlyCorrect},
		{0.8, OutcomeMostlyCorrect},
		{0.81, OutcomeCorrect},
		{0.99, OutcomeCorrect},
		{1, OutcomeExact},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyScore(tt.score), "score %v", tt.score)
	}
}
