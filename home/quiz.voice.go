package home

import (
	"context"
	"net/http"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	"github.com/leeineian/tunequiz/sys"
)

const (
	MsgVoiceJoining   = "Joining channel %s in guild %s"
	MsgVoiceRetry     = "Retrying voice connection in %v (Attempt %d/%d)"
	MsgVoiceJoinFail  = "Failed to connect to voice in guild %s after %d attempts: %v"
	MsgVoiceDropped   = "Bot disconnected from voice in guild %s, ending game"
	voiceJoinAttempts = 5
	gameVoiceStatus   = "🎵 Guess the song!"
)

type voiceLink struct {
	conn      voice.Conn
	channelID snowflake.ID
}

// joinVoice opens a connection to channelID, retrying with exponential backoff.
func (g *Game) joinVoice(ctx context.Context, client *bot.Client, guildID, channelID snowflake.ID) (voice.Conn, error) {
	sys.LogVoice(MsgVoiceJoining, channelID, guildID)
	conn := client.VoiceManager.CreateConn(guildID)

	var lastErr error
	for i := range voiceJoinAttempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * time.Second
			sys.LogVoice(MsgVoiceRetry, backoff, i+1, voiceJoinAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				conn.Close(context.Background())
				return nil, ctx.Err()
			}
		}
		if err := conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		sys.LogVoice(MsgVoiceJoinFail, guildID, voiceJoinAttempts, lastErr)
		conn.Close(ctx)
		return nil, lastErr
	}

	g.mu.Lock()
	g.conns[guildID] = voiceLink{conn: conn, channelID: channelID}
	g.mu.Unlock()

	setVoiceStatus(client, channelID, gameVoiceStatus)
	return conn, nil
}

// leaveVoice runs after a session is destroyed.
func (g *Game) leaveVoice(guildID snowflake.ID) {
	g.mu.Lock()
	link, ok := g.conns[guildID]
	delete(g.conns, guildID)
	client := g.client
	g.mu.Unlock()
	if !ok {
		return
	}

	if client != nil {
		setVoiceStatus(client, link.channelID, "")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	link.conn.Close(ctx)
}

func setVoiceStatus(client *bot.Client, channelID snowflake.ID, status string) {
	route := rest.NewEndpoint(http.MethodPut, "/channels/"+channelID.String()+"/voice-status")
	_ = client.Rest.Do(route.Compile(nil), map[string]string{"status": status}, nil)
}

// onVoiceStateUpdate ends the game when the bot is disconnected from voice.
func (g *Game) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if event.VoiceState.UserID != event.Client().ID() || event.VoiceState.ChannelID != nil {
		return
	}
	guildID := event.VoiceState.GuildID
	if g.registry.Destroy(guildID) {
		sys.LogVoice(MsgVoiceDropped, guildID)
	}
}

// callerVoiceChannel returns the voice channel the invoking member is in.
func callerVoiceChannel(client *bot.Client, guildID, userID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := client.Caches.VoiceState(guildID, userID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}
