package platform

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"automove/internal/bus"
	"automove/internal/domain"
	"automove/internal/routing"
	"automove/internal/scheduler"

	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

// Closer starts and cancels the manual closing transition.
type Closer interface {
	MoveToClosing(ctx context.Context, channelID string) (scheduler.Task, error)
	CancelPending(channelID string) bool
}

// WebhookConfig configures the webhook ingress.
type WebhookConfig struct {
	Path   string // reply endpoint (default: /events/reply)
	Secret string // HMAC secret for X-Signature-256, empty disables verification
	Queue  *bus.Queue
	Closer Closer // optional, enables {path}/close
	Logger *slog.Logger
}

// Webhook lets hosts other than Discord push reply events over HTTP.
type Webhook struct {
	path   string
	secret string
	queue  *bus.Queue
	closer Closer
	logger *slog.Logger
}

// ReplyPayload is the JSON body of a reply notification.
type ReplyPayload struct {
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	FromStaff bool   `json:"from_staff"`
	Anonymous bool   `json:"anonymous"`
	System    bool   `json:"system,omitempty"`
}

// ClosePayload is the JSON body of a closing request.
type ClosePayload struct {
	ChannelID string `json:"channel_id"`
}

func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/events/reply"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Webhook{
		path:   cfg.Path,
		secret: cfg.Secret,
		queue:  cfg.Queue,
		closer: cfg.Closer,
		logger: cfg.Logger,
	}
}

// RegisterRoutes mounts the webhook endpoints on r.
func (w *Webhook) RegisterRoutes(r chi.Router) {
	r.Post(w.path, w.handleReply)
	if w.closer != nil {
		r.Post(w.path+"/close", w.handleClose)
		r.Delete(w.path+"/close/{channelID}", w.handleCancel)
	}
}

func (w *Webhook) handleReply(rw http.ResponseWriter, r *http.Request) {
	var payload ReplyPayload
	if !w.decode(rw, r, &payload) {
		return
	}
	if payload.ChannelID == "" {
		respondError(rw, http.StatusBadRequest, "channel_id is required")
		return
	}

	ev := domain.ReplyEvent{
		Source:    "webhook",
		ChannelID: payload.ChannelID,
		SenderID:  payload.SenderID,
		Role:      payload.role(),
		Anonymous: payload.Anonymous,
		Timestamp: time.Now(),
	}

	w.logger.Info("webhook reply received",
		"channel_id", ev.ChannelID,
		"sender_id", ev.SenderID,
		"role", ev.Role,
	)

	if !w.queue.Publish(ev) {
		respondError(rw, http.StatusServiceUnavailable, "reply queue unavailable")
		return
	}
	respondJSON(rw, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (w *Webhook) handleClose(rw http.ResponseWriter, r *http.Request) {
	var payload ClosePayload
	if !w.decode(rw, r, &payload) {
		return
	}
	if payload.ChannelID == "" {
		respondError(rw, http.StatusBadRequest, "channel_id is required")
		return
	}

	task, err := w.closer.MoveToClosing(r.Context(), payload.ChannelID)
	switch {
	case errors.Is(err, routing.ErrClosingNotConfigured):
		respondError(rw, http.StatusConflict, "closing category is not configured")
		return
	case errors.Is(err, routing.ErrNotTicket):
		respondError(rw, http.StatusUnprocessableEntity, "channel is not a ticket channel")
		return
	case errors.Is(err, domain.ErrChannelNotFound):
		respondError(rw, http.StatusNotFound, "channel not found")
		return
	case err != nil:
		w.logger.Error("closing request failed", "channel_id", payload.ChannelID, "err", err)
		respondError(rw, http.StatusInternalServerError, "closing request failed")
		return
	}
	respondJSON(rw, http.StatusAccepted, task)
}

func (w *Webhook) handleCancel(rw http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if !w.closer.CancelPending(channelID) {
		respondError(rw, http.StatusNotFound, "no pending closing move")
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

// decode reads and verifies the body. It writes the error response itself.
func (w *Webhook) decode(rw http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(rw, http.StatusBadRequest, "unreadable body")
		return false
	}

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			respondError(rw, http.StatusUnauthorized, "missing signature")
			return false
		}
		if !verifyHMAC(body, w.secret, sig) {
			respondError(rw, http.StatusForbidden, "invalid signature")
			return false
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		respondError(rw, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (p ReplyPayload) role() domain.Role {
	switch {
	case p.System:
		return domain.RoleSystem
	case p.FromStaff:
		return domain.RoleStaff
	default:
		return domain.RoleUser
	}
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func respondJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func respondError(rw http.ResponseWriter, status int, msg string) {
	respondJSON(rw, status, map[string]string{"error": msg})
}
