package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/config"

	openapi "github.com/alibabacloud-go/darabonba-openapi/v2/client"
	dingtalkoauth2 "github.com/alibabacloud-go/dingtalk/oauth2_1_0"
	dingtalkrobot "github.com/alibabacloud-go/dingtalk/robot_1_0"
	util "github.com/alibabacloud-go/tea-utils/v2/service"
	"github.com/alibabacloud-go/tea/tea"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/chatbot"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/logger"
)

// dingTalkMarkdownTitle is shown in the conversation list for markdown messages.
const dingTalkMarkdownTitle = "Survey report"

type DingTalkChannel struct {
	BaseChannel
	Config       *config.DingTalkConfig
	streamClient *client.StreamClient
	robotClient  *dingtalkrobot.Client
	oauthClient  *dingtalkoauth2.Client

	tokenMu       sync.RWMutex
	accessToken   string
	tokenExpireAt time.Time
}

func NewDingTalkChannel(cfg *config.DingTalkConfig, messageBus *bus.MessageBus) *DingTalkChannel {
	return &DingTalkChannel{
		BaseChannel: BaseChannel{
			Config:    cfg,
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
	}
}

func (c *DingTalkChannel) Name() string {
	return "dingtalk"
}

func (c *DingTalkChannel) Start() error {
	if !c.Config.Enabled || c.Config.ClientID == "" || c.Config.AppSecret == "" {
		return nil
	}

	apiConfig := &openapi.Config{
		Protocol: tea.String("https"),
		RegionId: tea.String("central"),
	}

	robotClient, err := dingtalkrobot.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk robot client: %v", err)
	}
	c.robotClient = robotClient

	oauthClient, err := dingtalkoauth2.NewClient(apiConfig)
	if err != nil {
		return fmt.Errorf("failed to init dingtalk oauth client: %v", err)
	}
	c.oauthClient = oauthClient

	logger.SetLogger(logger.NewStdTestLogger())
	c.streamClient = client.NewStreamClient(client.WithAppCredential(client.NewAppCredentialConfig(c.Config.ClientID, c.Config.AppSecret)))
	c.streamClient.RegisterChatBotCallbackRouter(c.onChatReceive)

	go func() {
		log.Println("Starting DingTalk Stream Client...")
		if err := c.streamClient.Start(context.Background()); err != nil {
			log.Printf("DingTalk Stream Client error: %v", err)
		}
	}()

	log.Println("DingTalk bot started")
	return nil
}

func (c *DingTalkChannel) Stop() error {
	if c.streamClient != nil {
		c.streamClient.Close()
	}
	return nil
}

func (c *DingTalkChannel) getAccessToken() (string, error) {
	c.tokenMu.RLock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt) {
		defer c.tokenMu.RUnlock()
		return c.accessToken, nil
	}
	c.tokenMu.RUnlock()

	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	// Double check
	if c.accessToken != "" && time.Now().Before(c.tokenExpireAt) {
		return c.accessToken, nil
	}

	req := &dingtalkoauth2.GetAccessTokenRequest{
		AppKey:    tea.String(c.Config.ClientID),
		AppSecret: tea.String(c.Config.AppSecret),
	}
	resp, err := c.oauthClient.GetAccessToken(req)
	if err != nil {
		return "", err
	}

	if resp.Body == nil || resp.Body.AccessToken == nil {
		return "", fmt.Errorf("failed to get access token, response body is empty")
	}

	c.accessToken = *resp.Body.AccessToken
	// ExpireIn is seconds. Buffer it by 60s
	expireIn := tea.Int64Value(resp.Body.ExpireIn)
	c.tokenExpireAt = time.Now().Add(time.Duration(expireIn-60) * time.Second)

	return c.accessToken, nil
}

func (c *DingTalkChannel) onChatReceive(ctx context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
	msg, ok := dingTalkInbound(data)
	if !ok {
		log.Printf("[DingTalk] Ignoring group or empty message")
		return nil, nil
	}

	if !c.HandleMessage(c.Name(), msg) {
		log.Printf("[DingTalk] Message from unauthorized user: %s (Allowed: %v)", msg.SenderID, c.Config.AllowFrom)
	}
	return nil, nil
}

// dingTalkInbound converts a single chat robot callback, keyed by the
// sender's staff id. Surveys are per user, so group chats are ignored.
func dingTalkInbound(data *chatbot.BotCallbackDataModel) (bus.InboundMessage, bool) {
	content := strings.TrimSpace(data.Text.Content)
	senderID := data.SenderStaffId
	if senderID == "" {
		senderID = data.SenderId
	}
	// conversationType: "1" for single chat, "2" for group chat
	if content == "" || senderID == "" || data.ConversationType == "2" {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		Kind:      bus.KindMessage,
		SenderID:  senderID,
		ChatID:    senderID,
		MessageID: data.MsgId,
		Content:   content,
		Metadata: map[string]interface{}{
			"sender_name": data.SenderNick,
		},
	}
	if data.CreateAt > 0 {
		msg.Timestamp = time.UnixMilli(data.CreateAt)
	}
	return msg, true
}

// dingTalkPayload picks the robot message template and its parameters.
func dingTalkPayload(msg bus.OutboundMessage) (msgKey string, param string, err error) {
	content := WithOptions(msg.Content, msg.QuickReplies)

	var body interface{}
	if msg.Markdown {
		msgKey = "sampleMarkdown"
		body = map[string]string{"title": dingTalkMarkdownTitle, "text": content}
	} else {
		msgKey = "sampleText"
		body = map[string]string{"content": content}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", "", fmt.Errorf("marshal dingtalk message: %w", err)
	}
	return msgKey, string(data), nil
}

func (c *DingTalkChannel) Send(msg bus.OutboundMessage) error {
	if c.robotClient == nil {
		return fmt.Errorf("dingtalk client not initialized")
	}
	if msg.Content == "" {
		log.Printf("[DingTalk] Skipping empty message")
		return nil
	}

	token, err := c.getAccessToken()
	if err != nil {
		return fmt.Errorf("failed to get access token: %v", err)
	}

	msgKey, param, err := dingTalkPayload(msg)
	if err != nil {
		return err
	}

	// Conversation ids start with "cid"; anything else is a staff id.
	if strings.HasPrefix(msg.ChatID, "cid") {
		if err := c.sendGroup(token, msg.ChatID, msgKey, param); err != nil {
			return fmt.Errorf("failed to send dingtalk group message: %v", err)
		}
		return nil
	}

	if err := c.sendOTO(token, msg.ChatID, msgKey, param); err != nil {
		return fmt.Errorf("failed to send dingtalk message (OTO): %v", err)
	}
	return nil
}

func (c *DingTalkChannel) sendOTO(token, userID, msgKey, param string) error {
	headers := &dingtalkrobot.BatchSendOTOHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	req := &dingtalkrobot.BatchSendOTORequest{
		RobotCode: tea.String(c.Config.RobotCode),
		UserIds:   []*string{tea.String(userID)},
		MsgKey:    tea.String(msgKey),
		MsgParam:  tea.String(param),
	}

	_, err := c.robotClient.BatchSendOTOWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}

func (c *DingTalkChannel) sendGroup(token, conversationID, msgKey, param string) error {
	headers := &dingtalkrobot.OrgGroupSendHeaders{
		XAcsDingtalkAccessToken: tea.String(token),
	}

	req := &dingtalkrobot.OrgGroupSendRequest{
		RobotCode:          tea.String(c.Config.RobotCode),
		OpenConversationId: tea.String(conversationID),
		MsgKey:             tea.String(msgKey),
		MsgParam:           tea.String(param),
	}

	_, err := c.robotClient.OrgGroupSendWithOptions(req, headers, &util.RuntimeOptions{})
	return err
}
