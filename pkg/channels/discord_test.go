package channels

import (
	"strconv"
	"testing"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordMessage_ButtonsInRowsOfFive(t *testing.T) {
	var replies []bus.QuickReply
	for _, p := range []string{"1", "2", "3", "4", "5", "Other"} {
		replies = append(replies, bus.QuickReply{Title: p, Payload: "HAPPY:" + p})
	}

	send := discordMessage(bus.OutboundMessage{Content: "How happy?", QuickReplies: replies})

	assert.Equal(t, "How happy?", send.Content)
	require.Len(t, send.Components, 2)
	first := send.Components[0].(discordgo.ActionsRow)
	second := send.Components[1].(discordgo.ActionsRow)
	assert.Len(t, first.Components, 5)
	require.Len(t, second.Components, 1)
	assert.Equal(t, "HAPPY:Other", second.Components[0].(discordgo.Button).CustomID)
}

func TestDiscordMessage_NoReplies(t *testing.T) {
	send := discordMessage(bus.OutboundMessage{Content: "Thanks"})
	assert.Empty(t, send.Components)
}

func TestDiscordInbound(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in, ok := discordInbound(&discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		Content:   "Great place",
		Timestamp: ts,
		Author:    &discordgo.User{ID: "u1", Username: "ana"},
	})
	require.True(t, ok)

	assert.Equal(t, "u1", in.SenderID)
	assert.Equal(t, "c1", in.ChatID)
	assert.Equal(t, "m1", in.MessageID)
	assert.Equal(t, ts, in.Timestamp)
	assert.Equal(t, "ana", in.Metadata["username"])
}

func TestDiscordButtonPress(t *testing.T) {
	i := &discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "c1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1", Username: "ana"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "STAY:2"},
		Message: &discordgo.Message{Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				&discordgo.Button{Label: "0-1 years", CustomID: "STAY:1"},
				&discordgo.Button{Label: "1-2 years", CustomID: "STAY:2"},
			}},
		}},
	}

	in, ok := discordButtonPress(i)
	require.True(t, ok)
	assert.Equal(t, "u1", in.SenderID)
	assert.Equal(t, "c1", in.ChatID)
	assert.Equal(t, "1-2 years", in.Content)
	assert.Equal(t, "STAY:2", in.Payload)
	assert.True(t, in.Timestamp.IsZero(), "unparseable ids leave the arrival time to the channel")
}

// snowflake builds a Discord id created at t.
func snowflake(t time.Time) string {
	return strconv.FormatInt((t.UnixMilli()-1420070400000)<<22, 10)
}

func TestDiscordButtonPress_UsesSnowflakeTime(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	in, ok := discordButtonPress(&discordgo.Interaction{
		ID:        snowflake(at),
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "dm1",
		User:      &discordgo.User{ID: "u1"},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "HAPPY:4"},
	})
	require.True(t, ok)
	assert.True(t, at.Equal(in.Timestamp), "got %v", in.Timestamp)
}

func TestDiscord_IgnoresGuildChannels(t *testing.T) {
	_, ok := discordInbound(&discordgo.Message{
		ID:        "m1",
		ChannelID: "guild-chan-1",
		GuildID:   "g1",
		Content:   "4",
		Author:    &discordgo.User{ID: "u1"},
	})
	assert.False(t, ok)

	_, ok = discordButtonPress(&discordgo.Interaction{
		ID:        "i1",
		Type:      discordgo.InteractionMessageComponent,
		ChannelID: "guild-chan-1",
		GuildID:   "g1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "bob"}},
		Data:      discordgo.MessageComponentInteractionData{CustomID: "HAPPY:1"},
	})
	assert.False(t, ok)
}

func TestDiscordButtonPress_NoUser(t *testing.T) {
	_, ok := discordButtonPress(&discordgo.Interaction{
		Type: discordgo.InteractionMessageComponent,
		Data: discordgo.MessageComponentInteractionData{CustomID: "x"},
	})
	assert.False(t, ok)
}
