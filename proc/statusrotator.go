package proc

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgStatusRotated    = "Presence set to %q (next in %v)"
	MsgStatusUpdateFail = "Failed to update presence: %v"
	fallbackStatus      = "/start"
)

// StatusFunc produces one presence line, or "" when it has nothing to show.
type StatusFunc func() string

// StatusRotator cycles the bot's listening activity through a set of generators,
// never repeating the previous line when another one is available.
type StatusRotator struct {
	generators []StatusFunc
	rng        *rand.Rand
	last       string
	minWait    time.Duration
	maxWait    time.Duration
}

func NewStatusRotator(generators ...StatusFunc) *StatusRotator {
	return &StatusRotator{
		generators: generators,
		rng:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		minWait:    15 * time.Second,
		maxWait:    60 * time.Second,
	}
}

func (r *StatusRotator) interval() time.Duration {
	return r.minWait + time.Duration(r.rng.Int64N(int64(r.maxWait-r.minWait)+1))
}

// Next picks the line to show next.
func (r *StatusRotator) Next() string {
	var available []string
	for _, gen := range r.generators {
		if text := gen(); text != "" {
			available = append(available, text)
		}
	}
	if len(available) == 0 {
		available = []string{fallbackStatus}
	}

	choices := make([]string, 0, len(available))
	for _, s := range available {
		if s != r.last {
			choices = append(choices, s)
		}
	}
	if len(choices) == 0 {
		choices = available
	}
	r.last = choices[r.rng.IntN(len(choices))]
	return r.last
}

// Run updates the presence until ctx is done.
func (r *StatusRotator) Run(ctx context.Context, client *bot.Client) {
	for {
		next := r.interval()
		text := r.Next()
		if err := client.SetPresence(ctx,
			gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			gateway.WithListeningActivity(text),
		); err != nil {
			sys.LogWarn(MsgStatusUpdateFail, err)
		} else {
			sys.LogDebug(MsgStatusRotated, text, next)
		}

		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

// GamesStatus reports how many games the registry holds.
func GamesStatus(r *Registry) StatusFunc {
	return func() string {
		switch n := r.Len(); n {
		case 0:
			return ""
		case 1:
			return "1 game"
		default:
			return fmt.Sprintf("%d games", n)
		}
	}
}

// CacheStatus reports how many songs sit in the audio cache.
func CacheStatus(c *AudioCache) StatusFunc {
	return func() string {
		_, files, err := c.Usage()
		if err != nil || files == 0 {
			return ""
		}
		return fmt.Sprintf("%d cached songs", files)
	}
}

// UptimeStatus reports time since start.
func UptimeStatus(start time.Time) StatusFunc {
	return func() string {
		up := time.Since(start)
		return fmt.Sprintf("Uptime: %dh %dm", int(up.Hours()), int(up.Minutes())%60)
	}
}
