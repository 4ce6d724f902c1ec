package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/restockly/notification-service-go/internal/notify"
	"github.com/restockly/notification-service-go/internal/shop"
	"github.com/restockly/notification-service-go/internal/subscriber"
	"github.com/restockly/notification-service-go/internal/template"
)

// Notifier runs one dispatch cycle. Satisfied by *notify.Service.
type Notifier interface {
	Notify(ctx context.Context, sess shop.Session, updates []notify.InventoryUpdate) ([]string, error)
	LastNotified() []string
}

type Handler struct {
	shops     shop.Repository
	subs      subscriber.Repository
	templates template.Repository
	notifier  Notifier
	logger    *log.Logger
}

func NewHandler(shops shop.Repository, subs subscriber.Repository, templates template.Repository, notifier Notifier, logger *log.Logger) *Handler {
	return &Handler{
		shops:     shops,
		subs:      subs,
		templates: templates,
		notifier:  notifier,
		logger:    logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// InventoryWebhook is the pipeline entry point. Once the payload
// parses, the response is always 200 so the webhook source does not
// retry-storm on business-logic failures. A missing shop parameter is a
// silent no-op; a missing session is the one fatal condition.
func (h *Handler) InventoryWebhook(w http.ResponseWriter, r *http.Request) {
	shopDomain := r.URL.Query().Get("shop")
	if shopDomain == "" {
		writeJSON(w, http.StatusOK, map[string]any{"message": "Inventory update received"})
		return
	}

	sess, err := h.shops.SessionFor(r.Context(), shopDomain)
	if err != nil {
		if errors.Is(err, shop.ErrNoSession) {
			h.logger.Printf("webhook for %s rejected: %v", shopDomain, err)
		} else {
			h.logger.Printf("webhook session lookup for %s: %v", shopDomain, err)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Error processing webhook"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Error processing webhook"})
		return
	}

	updates, err := parseInventoryUpdates(body)
	if err != nil {
		h.logger.Printf("webhook payload for %s unparseable: %v", shopDomain, err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "Error processing webhook"})
		return
	}

	// Pipeline failures are logged, never surfaced: an error response
	// here would only trigger platform redelivery of the same event.
	if _, err := h.notifier.Notify(r.Context(), sess, updates); err != nil {
		h.logger.Printf("notification cycle for %s: %v", shopDomain, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":      "Inventory update processed",
		"receivedData": updates,
		"shop":         shopDomain,
	})
}

// LastNotified is the operator/debug surface: the addresses emailed by
// the most recent cycle, not persisted across restarts.
func (h *Handler) LastNotified(w http.ResponseWriter, r *http.Request) {
	notified := h.notifier.LastNotified()
	if notified == nil {
		notified = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"lastNotifiedUsers": notified})
}

// parseInventoryUpdates accepts either a single inventory-update object
// or an array of them, preserving order.
func parseInventoryUpdates(body []byte) ([]notify.InventoryUpdate, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.New("empty body")
	}

	if trimmed[0] == '[' {
		var updates []notify.InventoryUpdate
		if err := json.Unmarshal(trimmed, &updates); err != nil {
			return nil, err
		}
		return updates, nil
	}

	var single notify.InventoryUpdate
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []notify.InventoryUpdate{single}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
