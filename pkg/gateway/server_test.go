package gateway

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/HKUDS/surveybot-go/pkg/survey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInbound struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (r *recordingInbound) PublishInbound(msg bus.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	s := NewServer(&recordingInbound{})

	rec := serve(s.Handler(), http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_StartPublishesRestart(t *testing.T) {
	in := &recordingInbound{}
	s := NewServer(in, WithChannels(func(name string) bool { return name == "telegram" }))

	rec := serve(s.Handler(), http.MethodPost, "/start/telegram/42")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"restarting","session":"telegram:42"}`, rec.Body.String())

	require.Len(t, in.msgs, 1)
	assert.Equal(t, bus.KindPostback, in.msgs[0].Kind)
	assert.Equal(t, script.PayloadRestart, in.msgs[0].Payload)
	assert.Equal(t, "telegram:42", in.msgs[0].SessionKey())
}

func TestServer_StartRejectsUnknownChannel(t *testing.T) {
	in := &recordingInbound{}
	s := NewServer(in, WithChannels(func(name string) bool { return name == "telegram" }))

	assert.Equal(t, http.StatusNotFound, serve(s.Handler(), http.MethodPost, "/start/slack/42").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(s.Handler(), http.MethodGet, "/start/telegram/42").Code)
	assert.Empty(t, in.msgs)
}

func TestServer_MetricsAndWebhooks(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("metrics")) })
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hook " + r.Method)) })
	s := NewServer(&recordingInbound{}, WithMetrics(metrics), WithWebhook("/webhook", hook))

	assert.Equal(t, "metrics", serve(s.Handler(), http.MethodGet, "/metrics").Body.String())
	assert.Equal(t, "hook GET", serve(s.Handler(), http.MethodGet, "/webhook?hub.mode=subscribe").Body.String())
	assert.Equal(t, "hook POST", serve(s.Handler(), http.MethodPost, "/webhook").Body.String())
}

func TestServer_NoMetricsByDefault(t *testing.T) {
	s := NewServer(&recordingInbound{})
	assert.Equal(t, http.StatusNotFound, serve(s.Handler(), http.MethodGet, "/metrics").Code)
}

func TestServer_Surveys(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tracker := survey.NewTracker(survey.NewMemoryStore(),
		survey.WithClock(func() time.Time { return start }),
		survey.WithIDGenerator(func() string { return "s1" }),
	)
	_, err := tracker.RecordOutgoing("telegram:42", "How happy?", survey.StageOf("happiness"))
	require.NoError(t, err)

	s := NewServer(&recordingInbound{}, WithSurveys(tracker.List))
	rec := serve(s.Handler(), http.MethodGet, "/surveys")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []surveyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "telegram:42", got[0].UserID)
	assert.Equal(t, 1, got[0].Messages)
	assert.Equal(t, "happiness", got[0].Stage)
	assert.True(t, start.Equal(got[0].StartedAt))
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s := NewServer(&recordingInbound{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
