package channels

import (
	"fmt"
	"log"
	"strconv"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/config"
	"github.com/HKUDS/surveybot-go/pkg/script"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramCommands maps bot commands to survey postbacks.
var telegramCommands = map[string]string{
	"start":   script.PayloadGetStarted,
	"restart": script.PayloadRestart,
}

// TelegramChannel implements the Telegram channel.
type TelegramChannel struct {
	BaseChannel
	Config  *config.TelegramConfig
	bot     *tgbotapi.BotAPI
	running bool
}

// NewTelegramChannel creates a new TelegramChannel.
func NewTelegramChannel(cfg *config.TelegramConfig, messageBus *bus.MessageBus) *TelegramChannel {
	return &TelegramChannel{
		BaseChannel: BaseChannel{
			Config:    cfg,
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
	}
}

func (c *TelegramChannel) Name() string {
	return "telegram"
}

func (c *TelegramChannel) Start() error {
	if !c.Config.Enabled || c.Config.Token == "" {
		return nil
	}

	var err error
	c.bot, err = tgbotapi.NewBotAPI(c.Config.Token)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Printf("Telegram bot authorized on account %s", c.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.bot.GetUpdatesChan(u)
	c.running = true

	go func() {
		for update := range updates {
			if !c.running {
				break
			}
			if msg, ok := c.toInbound(update); ok {
				c.HandleMessage(c.Name(), msg)
			}
		}
	}()

	return nil
}

func (c *TelegramChannel) Stop() error {
	c.running = false
	if c.bot != nil {
		c.bot.StopReceivingUpdates()
	}
	return nil
}

func (c *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if c.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	reply, err := telegramMessage(msg)
	if err != nil {
		return err
	}
	if reply.Text == "" {
		return nil
	}

	_, err = c.bot.Send(reply)
	return err
}

// telegramMessage builds the API message, with quick replies as an inline keyboard.
func telegramMessage(msg bus.OutboundMessage) (tgbotapi.MessageConfig, error) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat ID: %s", msg.ChatID)
	}

	reply := tgbotapi.NewMessage(chatID, msg.Content)
	if msg.Markdown {
		reply.ParseMode = tgbotapi.ModeMarkdown
	}
	if len(msg.QuickReplies) > 0 {
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(msg.QuickReplies))
		for _, qr := range msg.QuickReplies {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(qr.Title, qr.Payload),
			))
		}
		reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	return reply, nil
}

func (c *TelegramChannel) toInbound(update tgbotapi.Update) (bus.InboundMessage, bool) {
	if update.CallbackQuery != nil {
		if c.bot != nil {
			// Stops the client's loading spinner on the button.
			if _, err := c.bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
				log.Printf("Telegram: failed to answer callback: %v", err)
			}
		}
		return telegramCallback(update.CallbackQuery)
	}
	if update.Message == nil {
		return bus.InboundMessage{}, false
	}
	return telegramInbound(update.Message)
}

// telegramPrivate reports whether chat is a one-to-one chat with the bot.
// Surveys are per user, so group chats are ignored.
func telegramPrivate(chat *tgbotapi.Chat) bool {
	return chat != nil && chat.IsPrivate()
}

func telegramSender(from *tgbotapi.User) (string, map[string]interface{}) {
	if from == nil {
		return "", map[string]interface{}{}
	}
	senderID := strconv.FormatInt(from.ID, 10)
	if from.UserName != "" {
		senderID = fmt.Sprintf("%s|%s", senderID, from.UserName)
	}
	return senderID, map[string]interface{}{
		"username":   from.UserName,
		"first_name": from.FirstName,
	}
}

// telegramInbound converts a private chat message. Callbacks carry no send
// time, so neither kind sets Timestamp: both are stamped on arrival.
func telegramInbound(msg *tgbotapi.Message) (bus.InboundMessage, bool) {
	if !telegramPrivate(msg.Chat) {
		return bus.InboundMessage{}, false
	}
	senderID, metadata := telegramSender(msg.From)
	metadata["message_id"] = msg.MessageID

	in := bus.InboundMessage{
		Kind:      bus.KindMessage,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID),
		Content:   msg.Text,
		Metadata:  metadata,
	}
	if msg.Caption != "" {
		in.Content = msg.Caption
	}

	if msg.IsCommand() {
		if payload, ok := telegramCommands[msg.Command()]; ok {
			in.Kind = bus.KindPostback
			in.Payload = payload
		}
	}
	return in, true
}

// telegramCallback turns an inline keyboard press into an answer carrying
// the button title as text and its data as payload.
func telegramCallback(cb *tgbotapi.CallbackQuery) (bus.InboundMessage, bool) {
	if cb.Message == nil || !telegramPrivate(cb.Message.Chat) {
		return bus.InboundMessage{}, false
	}
	senderID, metadata := telegramSender(cb.From)

	in := bus.InboundMessage{
		Kind:      bus.KindMessage,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(cb.Message.Chat.ID, 10),
		MessageID: cb.ID,
		Content:   cb.Data,
		Payload:   cb.Data,
		Metadata:  metadata,
	}
	if markup := cb.Message.ReplyMarkup; markup != nil {
		for _, row := range markup.InlineKeyboard {
			for _, button := range row {
				if button.CallbackData != nil && *button.CallbackData == cb.Data {
					in.Content = button.Text
				}
			}
		}
	}
	return in, true
}
