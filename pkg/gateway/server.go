package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/HKUDS/surveybot-go/pkg/bus"
	"github.com/HKUDS/surveybot-go/pkg/script"
	"github.com/HKUDS/surveybot-go/pkg/survey"
)

const shutdownTimeout = 5 * time.Second

// InboundPublisher accepts events for the survey loop.
type InboundPublisher interface {
	PublishInbound(msg bus.InboundMessage)
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithWebhook mounts a channel webhook handler.
func WithWebhook(path string, h http.Handler) Option {
	return func(s *Server) { s.webhooks[path] = h }
}

// WithChannels restricts /start to channels for which known returns true.
func WithChannels(known func(name string) bool) Option {
	return func(s *Server) { s.knownChannel = known }
}

// WithSurveys serves the active surveys on GET /surveys.
func WithSurveys(list func() []*survey.Survey) Option {
	return func(s *Server) { s.surveys = list }
}

// Server is the HTTP side of the bot: health, metrics, operator actions and webhooks.
type Server struct {
	inbound      InboundPublisher
	metrics      http.Handler
	webhooks     map[string]http.Handler
	knownChannel func(string) bool
	surveys      func() []*survey.Survey
	handler      http.Handler
}

// NewServer creates a new Server.
func NewServer(inbound InboundPublisher, opts ...Option) *Server {
	s := &Server{
		inbound:  inbound,
		webhooks: make(map[string]http.Handler),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /start/{channel}/{chatID}", s.handleStart)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.surveys != nil {
		mux.HandleFunc("GET /surveys", s.handleSurveys)
	}
	for path, h := range s.webhooks {
		mux.Handle(path, h)
	}
	s.handler = mux
	return s
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Gateway listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Println("Gateway shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("gateway shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startResponse struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// handleStart asks the loop to restart the survey for a chat.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	channel := r.PathValue("channel")
	chatID := r.PathValue("chatID")
	if channel == "" || chatID == "" {
		badRequest(w, "channel and chat id are required")
		return
	}
	if s.knownChannel != nil && !s.knownChannel(channel) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("channel %q is not running", channel)})
		return
	}

	s.inbound.PublishInbound(bus.InboundMessage{
		Channel:   channel,
		Kind:      bus.KindPostback,
		SenderID:  "gateway",
		ChatID:    chatID,
		Payload:   script.PayloadRestart,
		Timestamp: time.Now(),
	})
	log.Printf("Gateway: survey restart requested for %s:%s", channel, chatID)

	writeJSON(w, http.StatusAccepted, startResponse{
		Status:  "restarting",
		Session: bus.SessionKey(channel, chatID),
	})
}

type surveyResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	StartedAt time.Time `json:"started_at"`
	Messages  int       `json:"messages"`
	Stage     string    `json:"stage,omitempty"`
}

func (s *Server) handleSurveys(w http.ResponseWriter, r *http.Request) {
	active := s.surveys()
	out := make([]surveyResponse, 0, len(active))
	for _, sv := range active {
		resp := surveyResponse{
			ID:        sv.ID(),
			UserID:    sv.UserID(),
			StartedAt: sv.StartTime(),
			Messages:  len(sv.Messages()),
		}
		if last, ok := sv.MostRecent(survey.Outgoing); ok {
			resp.Stage = last.Stage().String()
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Gateway: failed to write response: %v", err)
	}
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
