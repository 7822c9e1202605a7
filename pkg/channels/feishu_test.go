package channels

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestFeishuCard_ListsOptions(t *testing.T) {
	content, err := feishuCard(bus.OutboundMessage{
		Content:      "Ready?",
		QuickReplies: []bus.QuickReply{{Title: "Yes", Payload: "START_SURVEY"}},
	})
	require.NoError(t, err)

	var card struct {
		Elements []struct {
			Text struct {
				Tag     string `json:"tag"`
				Content string `json:"content"`
			} `json:"text"`
		} `json:"elements"`
	}
	require.NoError(t, json.Unmarshal([]byte(content), &card))
	require.Len(t, card.Elements, 1)
	assert.Equal(t, "lark_md", card.Elements[0].Text.Tag)
	assert.Equal(t, "Ready?\n\n1. Yes", card.Elements[0].Text.Content)
}

func TestFeishuInbound(t *testing.T) {
	event := &larkim.P2MessageReceiveV1{Event: &larkim.P2MessageReceiveV1Data{
		Sender: &larkim.EventSender{SenderId: &larkim.UserId{OpenId: strPtr("ou_1")}},
		Message: &larkim.EventMessage{
			MessageId:  strPtr("om_1"),
			ChatId:     strPtr("oc_1"),
			ChatType:   strPtr("p2p"),
			Content:    strPtr(`{"text":" 2 "}`),
			CreateTime: strPtr("1700000000000"),
		},
	}}

	in, ok := feishuInbound(event)
	require.True(t, ok)
	assert.Equal(t, "ou_1", in.SenderID)
	assert.Equal(t, "oc_1", in.ChatID)
	assert.Equal(t, "om_1", in.MessageID)
	assert.Equal(t, "2", in.Content)
	assert.Equal(t, time.UnixMilli(1700000000000), in.Timestamp)
}

func TestFeishuInbound_Incomplete(t *testing.T) {
	_, ok := feishuInbound(&larkim.P2MessageReceiveV1{})
	assert.False(t, ok)
}

func TestFeishuInbound_IgnoresGroupChats(t *testing.T) {
	_, ok := feishuInbound(&larkim.P2MessageReceiveV1{Event: &larkim.P2MessageReceiveV1Data{
		Sender: &larkim.EventSender{SenderId: &larkim.UserId{OpenId: strPtr("ou_2")}},
		Message: &larkim.EventMessage{
			ChatId:   strPtr("oc_group"),
			ChatType: strPtr("group"),
			Content:  strPtr(`{"text":"1"}`),
		},
	}})
	assert.False(t, ok)
}

func TestFeishuText(t *testing.T) {
	assert.Equal(t, "hello", feishuText(`{"text":"hello"}`))
	assert.Equal(t, `{"title":"x"}`, feishuText(`{"title":"x"}`))
	assert.True(t, feishuTime("bad").IsZero())
}
