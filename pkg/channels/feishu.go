package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/config"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
)

const feishuCardTitle = "Survey"

// FeishuChannel implements the Feishu channel.
type FeishuChannel struct {
	BaseChannel
	Config   *config.FeishuConfig
	client   *lark.Client
	wsClient *larkws.Client
	cancel   context.CancelFunc
}

// NewFeishuChannel creates a new FeishuChannel.
func NewFeishuChannel(cfg *config.FeishuConfig, messageBus *bus.MessageBus) *FeishuChannel {
	return &FeishuChannel{
		BaseChannel: BaseChannel{
			Config:    cfg,
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
	}
}

func (c *FeishuChannel) Name() string {
	return "feishu"
}

func (c *FeishuChannel) Start() error {
	if !c.Config.Enabled || c.Config.AppID == "" || c.Config.AppSecret == "" {
		return nil
	}

	// API client for sending, WebSocket client for receiving.
	c.client = lark.NewClient(c.Config.AppID, c.Config.AppSecret)

	handler := larkdispatcher.NewEventDispatcher(c.Config.VerificationToken, c.Config.EncryptKey).
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			msg, ok := feishuInbound(event)
			if !ok {
				return nil
			}
			if !c.HandleMessage(c.Name(), msg) {
				log.Printf("Feishu message from unauthorized user: %s", msg.SenderID)
			}
			return nil
		})

	c.wsClient = larkws.NewClient(
		c.Config.AppID,
		c.Config.AppSecret,
		larkws.WithEventHandler(handler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		log.Println("Starting Feishu WebSocket client...")
		if err := c.wsClient.Start(ctx); err != nil {
			log.Printf("Feishu WebSocket error: %v", err)
		}
	}()

	log.Println("Feishu bot started")
	return nil
}

func (c *FeishuChannel) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *FeishuChannel) Send(msg bus.OutboundMessage) error {
	if c.client == nil {
		return fmt.Errorf("feishu client not initialized")
	}

	receiveIDType := larkim.ReceiveIdTypeOpenId
	if strings.HasPrefix(msg.ChatID, "oc_") {
		receiveIDType = larkim.ReceiveIdTypeChatId
	}

	contentJSON, err := feishuCard(msg)
	if err != nil {
		return err
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(receiveIDType).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(msg.ChatID).
			MsgType(larkim.MsgTypeInteractive).
			Content(contentJSON).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(context.Background(), req)
	if err != nil {
		return err
	}
	if !resp.Success() {
		return fmt.Errorf("feishu error: %d %s", resp.Code, resp.Msg)
	}
	return nil
}

// feishuCard renders the message as an interactive card with the options listed.
func feishuCard(msg bus.OutboundMessage) (string, error) {
	card := map[string]interface{}{
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"header": map[string]interface{}{
			"title": map[string]interface{}{
				"tag":     "plain_text",
				"content": feishuCardTitle,
			},
			"template": "blue",
		},
		"elements": []interface{}{
			map[string]interface{}{
				"tag": "div",
				"text": map[string]interface{}{
					"tag":     "lark_md",
					"content": WithOptions(msg.Content, msg.QuickReplies),
				},
			},
		},
	}
	data, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("marshal feishu card: %w", err)
	}
	return string(data), nil
}

func feishuInbound(event *larkim.P2MessageReceiveV1) (bus.InboundMessage, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil || event.Event.Sender == nil {
		return bus.InboundMessage{}, false
	}
	m := event.Event.Message
	sender := event.Event.Sender
	if m.ChatId == nil || sender.SenderId == nil || sender.SenderId.OpenId == nil {
		return bus.InboundMessage{}, false
	}
	// Surveys are per user; only one-to-one chats are handled.
	if larkcore.StringValue(m.ChatType) != "p2p" {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		Kind:      bus.KindMessage,
		SenderID:  *sender.SenderId.OpenId,
		ChatID:    *m.ChatId,
		Content:   feishuText(larkcore.StringValue(m.Content)),
		MessageID: larkcore.StringValue(m.MessageId),
		Timestamp: feishuTime(larkcore.StringValue(m.CreateTime)),
	}
	return msg, true
}

// feishuText extracts the text of a message body, which is JSON like {"text":"..."}.
func feishuText(content string) string {
	var body struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &body); err == nil && body.Text != "" {
		return strings.TrimSpace(body.Text)
	}
	return content
}

// feishuTime parses a millisecond timestamp string. Unparseable values give zero time.
func feishuTime(ms string) time.Time {
	v, err := strconv.ParseInt(ms, 10, 64)
	if err != nil || v <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(v)
}
