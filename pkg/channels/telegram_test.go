package channels

import (
	"testing"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/script"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramMessage_QuickRepliesBecomeKeyboard(t *testing.T) {
	msg, err := telegramMessage(bus.OutboundMessage{
		ChatID:  "42",
		Content: "How happy are you?",
		QuickReplies: []bus.QuickReply{
			{Title: "1", Payload: "HAPPY:1"},
			{Title: "2", Payload: "HAPPY:2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(42), msg.ChatID)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "1", markup.InlineKeyboard[0][0].Text)
	require.NotNil(t, markup.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "HAPPY:2", *markup.InlineKeyboard[1][0].CallbackData)
}

func TestTelegramMessage_Markdown(t *testing.T) {
	msg, err := telegramMessage(bus.OutboundMessage{ChatID: "-100", Content: "### done", Markdown: true})
	require.NoError(t, err)
	assert.Equal(t, tgbotapi.ModeMarkdown, msg.ParseMode)
	assert.Nil(t, msg.ReplyMarkup)
}

func TestTelegramMessage_InvalidChatID(t *testing.T) {
	_, err := telegramMessage(bus.OutboundMessage{ChatID: "abc", Content: "hi"})
	assert.Error(t, err)
}

func TestTelegramInbound_Text(t *testing.T) {
	in, ok := telegramInbound(&tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 1, UserName: "ana", FirstName: "Ana"},
		Chat:      &tgbotapi.Chat{ID: 42, Type: "private"},
		Date:      1700000000,
		Text:      "Great place",
	})
	require.True(t, ok)

	assert.Equal(t, bus.KindMessage, in.Kind)
	assert.Equal(t, "1|ana", in.SenderID)
	assert.Equal(t, "42", in.ChatID)
	assert.Equal(t, "7", in.MessageID)
	assert.Equal(t, "Great place", in.Content)
	assert.True(t, in.Timestamp.IsZero(), "stamped on arrival like callbacks")
	assert.Equal(t, "Ana", in.Metadata["first_name"])
}

func TestTelegramInbound_CommandsArePostbacks(t *testing.T) {
	tests := []struct {
		text    string
		payload string
		kind    bus.InboundKind
	}{
		{text: "/start", payload: script.PayloadGetStarted, kind: bus.KindPostback},
		{text: "/restart", payload: script.PayloadRestart, kind: bus.KindPostback},
		{text: "/help", kind: bus.KindMessage},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			in, ok := telegramInbound(&tgbotapi.Message{
				From:     &tgbotapi.User{ID: 1},
				Chat:     &tgbotapi.Chat{ID: 1, Type: "private"},
				Text:     tt.text,
				Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(tt.text)}},
			})
			require.True(t, ok)
			assert.Equal(t, tt.kind, in.Kind)
			assert.Equal(t, tt.payload, in.Payload)
		})
	}
}

func TestTelegramCallback_UsesButtonTitle(t *testing.T) {
	data := "STAY:2"
	cb := &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 1, FirstName: "Ana"},
		Data: data,
		Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 42, Type: "private"},
			ReplyMarkup: &tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{
				{tgbotapi.NewInlineKeyboardButtonData("0-1 years", "STAY:1")},
				{tgbotapi.NewInlineKeyboardButtonData("1-2 years", "STAY:2")},
			}},
		},
	}

	in, ok := telegramCallback(cb)
	require.True(t, ok)
	assert.True(t, in.Timestamp.IsZero())
	assert.Equal(t, bus.KindMessage, in.Kind)
	assert.Equal(t, "42", in.ChatID)
	assert.Equal(t, "1-2 years", in.Content)
	assert.Equal(t, "STAY:2", in.Payload)
	assert.Equal(t, "cb1", in.MessageID)
}

func TestTelegram_IgnoresGroupChats(t *testing.T) {
	group := &tgbotapi.Chat{ID: -100, Type: "supergroup"}

	_, ok := telegramInbound(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 1},
		Chat: group,
		Text: "4",
	})
	assert.False(t, ok)

	_, ok = telegramCallback(&tgbotapi.CallbackQuery{
		ID:      "cb1",
		From:    &tgbotapi.User{ID: 2},
		Data:    "HAPPY:1",
		Message: &tgbotapi.Message{Chat: group},
	})
	assert.False(t, ok)

	_, ok = telegramCallback(&tgbotapi.CallbackQuery{ID: "cb2", From: &tgbotapi.User{ID: 2}, Data: "HAPPY:1"})
	assert.False(t, ok, "inline callbacks have no chat")
}
