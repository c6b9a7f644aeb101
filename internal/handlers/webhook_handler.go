package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/greenvest/backend/internal/services"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Payment-Signature"

// WebhookHandler terminates payment provider webhook deliveries and hands
// the raw body to the settlement processor.
type WebhookHandler struct {
	webhooks *services.WebhookService
}

func NewWebhookHandler(webhooks *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// HandlePaymentWebhook receives a payment provider event
// @Summary Payment provider webhook
// @Description Verify the HMAC signature and settle the referenced payment intent. Replayed deliveries are acknowledged without effect.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Payment-Signature header string true "Hex HMAC-SHA256 of the request body"
// @Success 200 {object} object{received=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /webhooks/payments [post]
func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		services.SendErrorResponse(w, "Missing signature header", http.StatusBadRequest, nil)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		services.SendErrorResponse(w, "Unable to read request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.webhooks.HandleEvent(r.Context(), body, signature); err != nil {
		log.Printf("[WEBHOOK] Event rejected: %v", err)
		services.SendServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"received": true})
}
