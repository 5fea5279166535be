package sys

import (
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

const (
	MsgRespondFail = "Failed to respond to interaction: %v"
	MsgEditFail    = "Failed to edit interaction response: %v"
)

// MessageResponder is satisfied by both command and component interaction events.
type MessageResponder interface {
	CreateMessage(messageCreate discord.MessageCreate, opts ...rest.RequestOpt) error
}

// Respond sends a plain text response, logging delivery failures instead of returning them.
func Respond(r MessageResponder, content string, ephemeral bool) {
	msg := discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(ephemeral).
		Build()
	if err := r.CreateMessage(msg); err != nil {
		LogError(MsgRespondFail, err)
	}
}

// RespondWithComponents is Respond with a set of layout components attached.
func RespondWithComponents(r MessageResponder, content string, ephemeral bool, components ...discord.LayoutComponent) {
	msg := discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(ephemeral).
		SetComponents(components...).
		Build()
	if err := r.CreateMessage(msg); err != nil {
		LogError(MsgRespondFail, err)
	}
}

// EditResponse replaces the content and components of a deferred interaction response.
// Passing no components clears any buttons left on the message.
func EditResponse(client *bot.Client, applicationID snowflake.ID, token string, content string, components ...discord.LayoutComponent) {
	update := discord.NewMessageUpdateBuilder().
		SetContent(content).
		SetComponents(components...).
		Build()
	if _, err := client.Rest.UpdateInteractionResponse(applicationID, token, update); err != nil {
		LogError(MsgEditFail, err)
	}
}

// SendFollowup posts an additional message after the initial interaction response.
func SendFollowup(client *bot.Client, applicationID snowflake.ID, token string, content string, ephemeral bool) {
	msg := discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(ephemeral).
		Build()
	if _, err := client.Rest.CreateFollowupMessage(applicationID, token, msg); err != nil {
		LogError(MsgRespondFail, err)
	}
}

func IntPtr(i int) *int {
	return &i
}
