package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/config"
)

const (
	// WorkplaceWebhookPath is where the platform delivers webhook events.
	WorkplaceWebhookPath = "/webhook"
	// WorkplaceGroupPrefix marks chat ids that are group feeds rather than users.
	WorkplaceGroupPrefix = "group:"

	workplaceSignatureHeader = "X-Hub-Signature"
	workplaceTimeout         = 10 * time.Second
	workplaceLookupTimeout   = 3 * time.Second
	workplaceLookupBackoff   = 5 * time.Minute
	workplaceMaxBody         = 1 << 20
)

// WorkplaceChannel implements the Workplace/Messenger platform channel.
// Events arrive on a webhook served by the gateway; messages are sent
// through the Graph API.
type WorkplaceChannel struct {
	BaseChannel
	Config *config.WorkplaceConfig
	client *http.Client

	namesMu sync.RWMutex
	names   map[string]string
	// failed holds when a user's name may be looked up again.
	failed map[string]time.Time
	now    func() time.Time
}

// NewWorkplaceChannel creates a new WorkplaceChannel.
func NewWorkplaceChannel(cfg *config.WorkplaceConfig, messageBus *bus.MessageBus) *WorkplaceChannel {
	return &WorkplaceChannel{
		BaseChannel: BaseChannel{
			Config:    cfg,
			Bus:       messageBus,
			AllowFrom: cfg.AllowFrom,
		},
		Config: cfg,
		client: &http.Client{Timeout: workplaceTimeout},
		names:  make(map[string]string),
		failed: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (c *WorkplaceChannel) Name() string {
	return "workplace"
}

// Start is a no-op; the webhook is served by the gateway.
func (c *WorkplaceChannel) Start() error {
	if c.Config.Enabled {
		log.Printf("Workplace webhook ready on %s", WorkplaceWebhookPath)
	}
	return nil
}

func (c *WorkplaceChannel) Stop() error {
	c.client.CloseIdleConnections()
	return nil
}

// WebhookPath returns the path the gateway mounts the channel on.
func (c *WorkplaceChannel) WebhookPath() string {
	return WorkplaceWebhookPath
}

type workplaceQuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

type workplaceSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text         string                `json:"text"`
		QuickReplies []workplaceQuickReply `json:"quick_replies,omitempty"`
	} `json:"message"`
}

type workplaceFeedPost struct {
	Message    string `json:"message"`
	Formatting string `json:"formatting,omitempty"`
}

type workplaceError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *WorkplaceChannel) Send(msg bus.OutboundMessage) error {
	if msg.Content == "" {
		return nil
	}
	if c.Config.AccessToken == "" {
		return fmt.Errorf("workplace access token not configured")
	}

	if group, ok := strings.CutPrefix(msg.ChatID, WorkplaceGroupPrefix); ok {
		post := workplaceFeedPost{Message: msg.Content}
		if msg.Markdown {
			post.Formatting = "MARKDOWN"
		}
		return c.post(context.Background(), "/"+url.PathEscape(group)+"/feed", post)
	}

	var req workplaceSendRequest
	req.Recipient.ID = msg.ChatID
	req.Message.Text = msg.Content
	for _, qr := range msg.QuickReplies {
		req.Message.QuickReplies = append(req.Message.QuickReplies, workplaceQuickReply{
			ContentType: "text",
			Title:       qr.Title,
			Payload:     qr.Payload,
		})
	}
	return c.post(context.Background(), "/me/messages", req)
}

func (c *WorkplaceChannel) endpoint(path string, query url.Values) string {
	query.Set("access_token", c.Config.AccessToken)
	return strings.TrimRight(c.Config.GraphAPI, "/") + path + "?" + query.Encode()
}

func (c *WorkplaceChannel) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal graph request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, url.Values{}), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("graph request %s: %w", path, err)
	}
	defer resp.Body.Close()

	return graphError(path, resp)
}

func graphError(path string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	var apiErr workplaceError
	if err := json.NewDecoder(io.LimitReader(resp.Body, workplaceMaxBody)).Decode(&apiErr); err == nil && apiErr.Error != nil {
		return fmt.Errorf("graph %s failed: %d %s (code %d)", path, resp.StatusCode, apiErr.Error.Message, apiErr.Error.Code)
	}
	return fmt.Errorf("graph %s failed: %s", path, resp.Status)
}

// lookupName returns the user's first name, asking the Graph API once per
// user. A failed lookup is not retried for workplaceLookupBackoff, so a slow
// Graph API costs at most one short request per user while the webhook waits.
func (c *WorkplaceChannel) lookupName(ctx context.Context, userID string) string {
	c.namesMu.RLock()
	name, ok := c.names[userID]
	retryAt, failed := c.failed[userID]
	c.namesMu.RUnlock()
	if ok {
		return name
	}
	if failed && c.now().Before(retryAt) {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, workplaceLookupTimeout)
	defer cancel()

	name, err := c.fetchName(ctx, userID)

	c.namesMu.Lock()
	defer c.namesMu.Unlock()
	if err != nil {
		log.Printf("Workplace: failed to look up name of %s: %v", userID, err)
		c.failed[userID] = c.now().Add(workplaceLookupBackoff)
		return ""
	}
	delete(c.failed, userID)
	c.names[userID] = name
	return name
}

func (c *WorkplaceChannel) fetchName(ctx context.Context, userID string) (string, error) {
	if c.Config.AccessToken == "" {
		return "", fmt.Errorf("access token not configured")
	}

	path := "/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path, url.Values{"fields": {"first_name,name"}}), nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", graphError(path, resp)
	}

	var profile struct {
		FirstName string `json:"first_name"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, workplaceMaxBody)).Decode(&profile); err != nil {
		return "", fmt.Errorf("decode profile: %w", err)
	}
	if profile.FirstName != "" {
		return profile.FirstName, nil
	}
	return profile.Name, nil
}

type workplaceUpdate struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []workplaceEvent `json:"messaging"`
	} `json:"entry"`
}

type workplaceEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Timestamp int64 `json:"timestamp"`
	Message   *struct {
		Mid        string `json:"mid"`
		Text       string `json:"text"`
		IsEcho     bool   `json:"is_echo"`
		QuickReply *struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
	Postback *struct {
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

// workplaceInbound converts a messaging event. Echoes of the bot's own
// messages and unsupported events are skipped.
func workplaceInbound(ev workplaceEvent) (bus.InboundMessage, bool) {
	if ev.Sender.ID == "" {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		SenderID: ev.Sender.ID,
		ChatID:   ev.Sender.ID,
		Metadata: map[string]interface{}{},
	}
	if ev.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(ev.Timestamp)
	}

	switch {
	case ev.Message != nil:
		if ev.Message.IsEcho {
			return bus.InboundMessage{}, false
		}
		msg.Kind = bus.KindMessage
		msg.MessageID = ev.Message.Mid
		msg.Content = ev.Message.Text
		if ev.Message.QuickReply != nil {
			msg.Payload = ev.Message.QuickReply.Payload
		}
	case ev.Postback != nil:
		msg.Kind = bus.KindPostback
		msg.Content = ev.Postback.Title
		msg.Payload = ev.Postback.Payload
	default:
		return bus.InboundMessage{}, false
	}
	return msg, true
}

// ServeHTTP handles webhook verification (GET) and event delivery (POST).
func (c *WorkplaceChannel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		c.handleVerify(w, r)
	case http.MethodPost:
		c.handleEvents(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *WorkplaceChannel) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || c.Config.VerifyToken == "" || q.Get("hub.verify_token") != c.Config.VerifyToken {
		log.Println("Workplace: failed webhook validation, check the verify token")
		w.WriteHeader(http.StatusForbidden)
		return
	}
	log.Println("Workplace: validating webhook")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, q.Get("hub.challenge"))
}

func (c *WorkplaceChannel) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, workplaceMaxBody))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !ValidSignature(c.Config.AppSecret, r.Header.Get(workplaceSignatureHeader), body) {
		log.Println("Workplace: rejected webhook with an invalid signature")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	var update workplaceUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if update.Object != "page" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	for _, entry := range update.Entry {
		for _, ev := range entry.Messaging {
			msg, ok := workplaceInbound(ev)
			if !ok {
				continue
			}
			if !c.IsAllowed(msg.SenderID) {
				log.Printf("Workplace message from unauthorized user: %s", msg.SenderID)
				continue
			}
			if name := c.lookupName(r.Context(), msg.SenderID); name != "" {
				msg.Metadata["first_name"] = name
			}
			c.HandleMessage(c.Name(), msg)
		}
	}

	// The platform retries unless it gets a 200 quickly.
	w.WriteHeader(http.StatusOK)
}

// ValidSignature checks an "sha1=<hex>" HMAC of body keyed with secret.
func ValidSignature(secret, header string, body []byte) bool {
	if secret == "" {
		return true
	}
	algo, sig, ok := strings.Cut(header, "=")
	if !ok || algo != "sha1" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
