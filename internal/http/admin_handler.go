package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/restockly/notification-service-go/internal/shop"
	"github.com/restockly/notification-service-go/internal/subscriber"
	"github.com/restockly/notification-service-go/internal/template"
)

// Admin surface consumed by the merchant dashboard: subscriber list and
// flag management, shop settings, stored email template.

func (h *Handler) ListSubscribers(w http.ResponseWriter, r *http.Request) {
	shopDomain := r.URL.Query().Get("shop")
	if shopDomain == "" {
		http.Error(w, "shop is required", http.StatusBadRequest)
		return
	}

	subs, err := h.subs.ListByShop(r.Context(), shopDomain)
	if err != nil {
		h.logger.Printf("list subscribers for %s: %v", shopDomain, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if subs == nil {
		subs = []subscriber.Subscriber{}
	}

	settings, err := h.shops.SettingsFor(r.Context(), shopDomain)
	if err != nil {
		h.logger.Printf("load settings for %s: %v", shopDomain, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users":        subs,
		"shopSettings": settings,
	})
}

type createSubscriberRequest struct {
	Email            string `json:"email"`
	ProductID        string `json:"productId"`
	VariantID        string `json:"variantId"`
	Shop             string `json:"shop"`
	AutoEmailEnabled bool   `json:"autoEmailEnabled"`
}

func (h *Handler) CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req createSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.ProductID == "" || req.VariantID == "" || req.Shop == "" {
		http.Error(w, "email, productId, variantId and shop are required", http.StatusBadRequest)
		return
	}

	created, err := h.subs.Create(r.Context(), subscriber.Subscriber{
		Email:            req.Email,
		ProductID:        req.ProductID,
		VariantID:        req.VariantID,
		Shop:             req.Shop,
		AutoEmailEnabled: req.AutoEmailEnabled,
	})
	if err != nil {
		if errors.Is(err, subscriber.ErrDuplicate) {
			http.Error(w, "subscription already exists", http.StatusConflict)
			return
		}
		h.logger.Printf("create subscriber: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

type updateFlagRequest struct {
	Email     string `json:"email"`
	ProductID string `json:"productId"`
	VariantID string `json:"variantId"`
	Shop      string `json:"shop"`
	EmailSent *int   `json:"emailSent"`
}

// UpdateSubscriberFlag sets or resets the one-shot notified flag for a
// subscription row, matched by the full key.
func (h *Handler) UpdateSubscriberFlag(w http.ResponseWriter, r *http.Request) {
	var req updateFlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.ProductID == "" || req.VariantID == "" || req.Shop == "" || req.EmailSent == nil {
		http.Error(w, "email, productId, variantId, shop and emailSent are required", http.StatusBadRequest)
		return
	}
	if *req.EmailSent != 0 && *req.EmailSent != 1 {
		http.Error(w, "emailSent must be 0 or 1", http.StatusBadRequest)
		return
	}

	err := h.subs.UpdateEmailFlag(r.Context(), subscriber.Key{
		Email:     req.Email,
		ProductID: req.ProductID,
		VariantID: req.VariantID,
		Shop:      req.Shop,
	}, *req.EmailSent)
	if err != nil {
		if errors.Is(err, subscriber.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("update email flag: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	shopDomain := r.URL.Query().Get("shop")
	if shopDomain == "" {
		http.Error(w, "shop is required", http.StatusBadRequest)
		return
	}

	settings, err := h.shops.SettingsFor(r.Context(), shopDomain)
	if err != nil {
		h.logger.Printf("load settings for %s: %v", shopDomain, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) SaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings shop.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if settings.Shop == "" {
		http.Error(w, "shop is required", http.StatusBadRequest)
		return
	}

	if err := h.shops.SaveSettings(r.Context(), settings); err != nil {
		h.logger.Printf("save settings for %s: %v", settings.Shop, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	shopDomain := r.URL.Query().Get("shop")
	if shopDomain == "" {
		http.Error(w, "shop is required", http.StatusBadRequest)
		return
	}

	tmpl, err := h.templates.ForShop(r.Context(), shopDomain)
	if err != nil {
		if errors.Is(err, template.ErrNotFound) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		h.logger.Printf("load template for %s: %v", shopDomain, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tmpl)
}

func (h *Handler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var tmpl template.EmailTemplate
	if err := json.NewDecoder(r.Body).Decode(&tmpl); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if tmpl.Shop == "" || tmpl.Subject == "" || tmpl.HTML == "" {
		http.Error(w, "shop, subject and htmlTemplate are required", http.StatusBadRequest)
		return
	}

	if err := h.templates.Save(r.Context(), tmpl); err != nil {
		h.logger.Printf("save template for %s: %v", tmpl.Shop, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
