package channels

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/config"
	"github.com/bwmarrin/discordgo"
)

const (
	discordSendTimeout   = 10 * time.Second
	discordButtonsPerRow = 5
)

// DiscordChannel implements the Discord channel. Quick replies are sent as
// message buttons and come back as component interactions.
type DiscordChannel struct {
	BaseChannel
	Config  *config.DiscordConfig
	session *discordgo.Session
	running bool
}

// NewDiscordChannel creates a new DiscordChannel.
func NewDiscordChannel(cfg *config.DiscordConfig, messageBus *bus.MessageBus) *DiscordChannel {
	return &DiscordChannel{
		BaseChannel: BaseChannel{
			Config:    cfg,
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
	}
}

func (c *DiscordChannel) Name() string {
	return "discord"
}

func (c *DiscordChannel) Start() error {
	if !c.Config.Enabled || c.Config.Token == "" {
		return nil
	}

	session, err := discordgo.New("Bot " + c.Config.Token)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	session.AddHandler(c.handleMessage)
	session.AddHandler(c.handleInteraction)

	if err := session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	c.session = session
	c.running = true

	if session.State != nil && session.State.User != nil {
		log.Printf("Discord bot connected as %s", session.State.User.Username)
	}
	return nil
}

func (c *DiscordChannel) Stop() error {
	c.running = false
	if c.session == nil {
		return nil
	}
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (c *DiscordChannel) Send(msg bus.OutboundMessage) error {
	if !c.running || c.session == nil {
		return fmt.Errorf("discord bot not running")
	}
	if msg.ChatID == "" {
		return fmt.Errorf("channel ID is empty")
	}
	if msg.Content == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordSendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSendComplex(msg.ChatID, discordMessage(msg))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send message timeout: %w", ctx.Err())
	}
}

// discordMessage lays the quick replies out as rows of buttons.
func discordMessage(msg bus.OutboundMessage) *discordgo.MessageSend {
	send := &discordgo.MessageSend{Content: msg.Content}

	var row []discordgo.MessageComponent
	for _, qr := range msg.QuickReplies {
		row = append(row, discordgo.Button{
			Label:    qr.Title,
			Style:    discordgo.PrimaryButton,
			CustomID: qr.Payload,
		})
		if len(row) == discordButtonsPerRow {
			send.Components = append(send.Components, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		send.Components = append(send.Components, discordgo.ActionsRow{Components: row})
	}
	return send
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	msg, ok := discordInbound(m.Message)
	if !ok {
		return
	}
	if !c.HandleMessage(c.Name(), msg) {
		log.Printf("Discord message from unauthorized user: %s", m.Author.ID)
	}
}

// discordInbound converts a direct message. Surveys are per user, so guild
// channel messages are ignored.
func discordInbound(m *discordgo.Message) (bus.InboundMessage, bool) {
	if m.GuildID != "" {
		return bus.InboundMessage{}, false
	}
	return bus.InboundMessage{
		Kind:      bus.KindMessage,
		SenderID:  m.Author.ID,
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		Metadata: map[string]interface{}{
			"username": m.Author.Username,
		},
	}, true
}

func (c *DiscordChannel) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	// Acknowledge the press; the next question arrives as a new message.
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("Discord: failed to acknowledge interaction: %v", err)
	}

	msg, ok := discordButtonPress(i.Interaction)
	if !ok {
		return
	}
	if !c.HandleMessage(c.Name(), msg) {
		log.Printf("Discord interaction from unauthorized user: %s", msg.SenderID)
	}
}

// discordButtonPress turns a button press in a direct message into an answer
// carrying the button label as text and its custom id as payload. The press
// is stamped with the interaction's snowflake time, the same platform clock
// as typed messages.
func discordButtonPress(i *discordgo.Interaction) (bus.InboundMessage, bool) {
	if i.GuildID != "" {
		return bus.InboundMessage{}, false
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return bus.InboundMessage{}, false
	}

	payload := i.MessageComponentData().CustomID
	msg := bus.InboundMessage{
		Kind:      bus.KindMessage,
		SenderID:  user.ID,
		ChatID:    i.ChannelID,
		MessageID: i.ID,
		Content:   payload,
		Payload:   payload,
		Metadata: map[string]interface{}{
			"username": user.Username,
		},
	}
	if ts, err := discordgo.SnowflakeTimestamp(i.ID); err == nil {
		msg.Timestamp = ts
	}
	if i.Message != nil {
		if label := discordButtonLabel(i.Message.Components, payload); label != "" {
			msg.Content = label
		}
	}
	return msg, true
}

func discordButtonLabel(components []discordgo.MessageComponent, customID string) string {
	for _, component := range components {
		var children []discordgo.MessageComponent
		switch row := component.(type) {
		case *discordgo.ActionsRow:
			children = row.Components
		case discordgo.ActionsRow:
			children = row.Components
		}
		for _, child := range children {
			switch b := child.(type) {
			case *discordgo.Button:
				if b.CustomID == customID {
					return b.Label
				}
			case discordgo.Button:
				if b.CustomID == customID {
					return b.Label
				}
			}
		}
	}
	return ""
}
