package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"chasingclaw/internal/domain"
	"chasingclaw/internal/infra/config"
	"chasingclaw/internal/infra/middleware"
	"chasingclaw/internal/security"
	"chasingclaw/internal/usecase/cronjob"
)

const (
	maxRequestBody   = 1 << 20
	historyLimit     = 100
	callbackType     = "chasingclaw.webhook.callback"
	defaultCallbackT = 10 * time.Second
)

// Requester sends an inbound message and waits for the reply.
type Requester interface {
	Request(ctx context.Context, msg domain.InboundMessage) (domain.OutboundMessage, error)
}

// HistoryStore reads and resets session histories.
type HistoryStore interface {
	History(key string) ([]domain.Message, error)
	Clear(key string) error
}

// CronAdmin is the job management surface exposed over HTTP.
type CronAdmin interface {
	AddJob(ctx context.Context, req cronjob.AddJobRequest) (*domain.CronJob, error)
	ListJobs(includeDisabled bool) []domain.CronJob
	EnableJob(ctx context.Context, id string, enabled bool) (*domain.CronJob, error)
	RemoveJob(ctx context.Context, id string) (bool, error)
	RunJob(ctx context.Context, id string, force bool) (bool, error)
	Status() cronjob.Status
}

// HTTPDeps holds the collaborators of the HTTP channel. Cron may be nil.
type HTTPDeps struct {
	Bus      Requester
	Sessions HistoryStore
	Cron     CronAdmin
	Logger   *slog.Logger
	Client   *http.Client // callback client; nil = default with CallbackTimeout
	Location *time.Location
}

// HTTPChannel serves the webui chat API, the generic webhook and the cron
// admin API.
type HTTPChannel struct {
	cfg    config.HTTPChannelConfig
	deps   HTTPDeps
	client *http.Client

	// validateURL guards outgoing callbacks.
	validateURL func(ctx context.Context, rawURL string) error

	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// NewHTTPChannel creates the HTTP channel.
func NewHTTPChannel(cfg config.HTTPChannelConfig, deps HTTPDeps) *HTTPChannel {
	timeout := cfg.CallbackTimeout
	if timeout <= 0 {
		timeout = defaultCallbackT
	}
	client := deps.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	return &HTTPChannel{
		cfg:    cfg,
		deps:   deps,
		client: client,
		validateURL: func(ctx context.Context, rawURL string) error {
			return security.ValidateURL(ctx, rawURL, nil)
		},
	}
}

// Name implements domain.Channel.
func (h *HTTPChannel) Name() string { return "http" }

// Addr returns the bound listen address once started.
func (h *HTTPChannel) Addr() string { return h.boundAddr }

// Handler builds the router. The rate limiter's janitor stops with ctx.
func (h *HTTPChannel) Handler(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxRequestBody))
	r.Use(middleware.RateLimit(ctx, middleware.RateLimitConfig{
		RequestsPerMin: h.cfg.RatePerMinute,
		BurstSize:      h.cfg.Burst,
	}))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Post("/chat", h.handleChat)
		r.Get("/history", h.handleHistory)
		r.Delete("/history", h.handleClearHistory)

		r.Get("/webhook", h.handleWebhookCheck)
		r.Post("/webhook", h.handleWebhook)

		r.Route("/cron", func(r chi.Router) {
			r.Use(h.requireCron)
			r.Get("/jobs", h.handleCronList)
			r.Post("/jobs", h.handleCronAdd)
			r.Post("/toggle", h.handleCronToggle)
			r.Post("/remove", h.handleCronRemove)
			r.Post("/run", h.handleCronRun)
		})
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: domain.CodeNotFound})
	})
	return r
}

// Start begins serving. Non-blocking.
func (h *HTTPChannel) Start(ctx context.Context) error {
	ctx, h.cancel = context.WithCancel(ctx)

	h.server = &http.Server{
		Addr:              h.cfg.Addr,
		Handler:           h.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		h.cancel()
		return domain.WrapOp("HTTPChannel.Start", err)
	}
	h.boundAddr = ln.Addr().String()

	go func() {
		h.deps.Logger.Info("http channel started", "addr", h.boundAddr)
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.deps.Logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	if h.cancel != nil {
		h.cancel()
	}
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

// Send delivers an out-of-band reply (e.g. from a cron job) to the
// configured webhook callback URL.
func (h *HTTPChannel) Send(ctx context.Context, msg domain.OutboundMessage) error {
	if h.cfg.CallbackURL == "" {
		return domain.NewDomainError("HTTPChannel.Send", domain.ErrInvalidInput, "no webhook callback url configured")
	}
	res := h.postCallback(ctx, h.cfg.CallbackURL, callbackPayload{
		Type:      callbackType,
		SessionID: msg.ChatID,
		Reply:     msg.Content,
		IsError:   msg.IsError,
	})
	if !res.OK {
		return domain.NewDomainError("HTTPChannel.Send", domain.ErrProviderError, res.Error)
	}
	return nil
}

func (h *HTTPChannel) requireCron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Cron == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "cron service is disabled"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"ok": true}
	if h.deps.Cron != nil {
		body["cron"] = h.deps.Cron.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type historyItem struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type chatResponse struct {
	SessionID string        `json:"sessionId"`
	Reply     string        `json:"reply"`
	History   []historyItem `json:"history,omitempty"`
}

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, domain.NewDomainError("chat", domain.ErrInvalidInput, "message is required"))
		return
	}
	chatID := strings.TrimSpace(req.SessionID)
	if chatID == "" {
		chatID = uuid.NewString()
	}

	out, err := h.deps.Bus.Request(r.Context(), domain.InboundMessage{
		Channel:   domain.ChannelWebUI,
		ChatID:    chatID,
		Content:   message,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"request_id": chimw.GetReqID(r.Context())},
	})
	if err != nil {
		h.deps.Logger.Warn("chat request failed", "session", domain.SessionKey(domain.ChannelWebUI, chatID), "error", err)
		writeError(w, err)
		return
	}

	history, err := h.history(domain.ChannelWebUI, chatID)
	if err != nil {
		h.deps.Logger.Warn("history read failed", "error", err)
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: chatID, Reply: out.Content, History: history})
}

// historyKey reads sessionId and the optional channel from the query.
func historyKey(r *http.Request) (channel, chatID string, err error) {
	chatID = strings.TrimSpace(r.URL.Query().Get("sessionId"))
	if chatID == "" {
		return "", "", domain.NewDomainError("history", domain.ErrInvalidInput, "sessionId is required")
	}
	channel = strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		channel = domain.ChannelWebUI
	}
	return channel, chatID, nil
}

func (h *HTTPChannel) handleHistory(w http.ResponseWriter, r *http.Request) {
	channel, chatID, err := historyKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	history, err := h.history(channel, chatID)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []historyItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": history})
}

// handleClearHistory drops the messages of one session. Unknown sessions
// answer 404.
func (h *HTTPChannel) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	channel, chatID, err := historyKey(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Sessions.Clear(domain.SessionKey(channel, chatID)); err != nil {
		writeError(w, err)
		return
	}
	h.deps.Logger.Info("session cleared", "channel", channel, "chat_id", chatID)
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true, "sessionId": chatID})
}

func (h *HTTPChannel) history(channel, chatID string) ([]historyItem, error) {
	msgs, err := h.deps.Sessions.History(domain.SessionKey(channel, chatID))
	if err != nil {
		return nil, err
	}
	if len(msgs) > historyLimit {
		msgs = msgs[len(msgs)-historyLimit:]
	}
	items := make([]historyItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, historyItem{Role: m.Role, Content: m.Content, Error: m.Error, Timestamp: m.Timestamp})
	}
	return items, nil
}

// handleWebhookCheck answers availability probes from webhook providers.
func (h *HTTPChannel) handleWebhookCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

type webhookRequest struct {
	SessionID   string `json:"sessionId"`
	ChatID      string `json:"chatid"`
	Message     string `json:"message"`
	Content     string `json:"content"`
	CallbackURL string `json:"callbackUrl"`
}

type callbackPayload struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
	Reply     string `json:"reply"`
	IsError   bool   `json:"isError,omitempty"`
}

type callbackResult struct {
	OK     bool   `json:"ok"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

type webhookResponse struct {
	OK        bool            `json:"ok"`
	SessionID string          `json:"sessionId"`
	Reply     string          `json:"reply"`
	Callback  *callbackResult `json:"callback,omitempty"`
}

func (h *HTTPChannel) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		message = strings.TrimSpace(req.Content)
	}
	if message == "" {
		writeError(w, domain.NewDomainError("webhook", domain.ErrInvalidInput, "message is required"))
		return
	}
	chatID := strings.TrimSpace(req.SessionID)
	if chatID == "" {
		chatID = strings.TrimSpace(req.ChatID)
	}
	if chatID == "" {
		chatID = uuid.NewString()
	}
	callbackURL := strings.TrimSpace(req.CallbackURL)
	if callbackURL == "" {
		callbackURL = h.cfg.CallbackURL
	}

	out, err := h.deps.Bus.Request(r.Context(), domain.InboundMessage{
		Channel:   domain.ChannelWebhook,
		ChatID:    chatID,
		Content:   message,
		Timestamp: time.Now(),
		Metadata:  map[string]string{"request_id": chimw.GetReqID(r.Context())},
	})
	if err != nil {
		h.deps.Logger.Warn("webhook request failed", "session", domain.SessionKey(domain.ChannelWebhook, chatID), "error", err)
		writeError(w, err)
		return
	}

	resp := webhookResponse{OK: true, SessionID: chatID, Reply: out.Content}
	if callbackURL != "" {
		var res callbackResult
		if sameEndpoint(callbackURL, r) {
			res = callbackResult{Error: "callback url cannot be the webhook endpoint itself"}
		} else {
			res = h.postCallback(r.Context(), callbackURL, callbackPayload{
				Type:      callbackType,
				SessionID: chatID,
				Message:   message,
				Reply:     out.Content,
			})
		}
		if !res.OK {
			h.deps.Logger.Warn("webhook callback failed", "url", callbackURL, "status", res.Status, "error", res.Error)
		}
		resp.Callback = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPChannel) postCallback(ctx context.Context, rawURL string, payload callbackPayload) callbackResult {
	if err := h.validateURL(ctx, rawURL); err != nil {
		return callbackResult{Error: err.Error()}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return callbackResult{Error: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return callbackResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return callbackResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	res := callbackResult{Status: resp.StatusCode, OK: resp.StatusCode >= 200 && resp.StatusCode < 300}
	if !res.OK {
		res.Error = fmt.Sprintf("callback returned HTTP %d", resp.StatusCode)
	}
	return res
}

// sameEndpoint reports whether rawURL points back at the current request.
func sameEndpoint(rawURL string, r *http.Request) bool {
	current := "://" + r.Host + r.URL.Path
	return strings.HasSuffix(strings.TrimRight(rawURL, "/"), strings.TrimRight(current, "/"))
}
