package handler

import (
	"encoding/json"
	"io"
	"marketplace-checkout/internal/dto"
	"marketplace-checkout/internal/model"
	"marketplace-checkout/internal/monitoring"
	"marketplace-checkout/internal/signature"
	"marketplace-checkout/internal/webhook"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

var signatureHeaders = []string{"X-Signature", "Paddle-Signature"}

type WebhookHandler struct {
	verifier   signature.Verifier
	dispatcher webhook.Dispatcher
	log        *zap.Logger
}

func NewWebhookHandler(verifier signature.Verifier, dispatcher webhook.Dispatcher, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Receive answers every method itself so the CORS headers and the JSON
// error bodies are the same on all paths.
func (h *WebhookHandler) Receive(c echo.Context) (err error) {
	header := c.Response().Header()
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Signature, Paddle-Signature")

	defer func() {
		if r := recover(); r != nil {
			h.log.Error("webhook handler panic", zap.Any("panic", r), zap.Stack("stack"))
			monitoring.WebhookRejections.WithLabelValues("panic").Inc()
			err = internalError(c)
		}
	}()

	req := c.Request()
	switch req.Method {
	case http.MethodOptions:
		return c.NoContent(http.StatusOK)
	case http.MethodPost:
	default:
		monitoring.WebhookRejections.WithLabelValues("method").Inc()
		return c.JSON(http.StatusMethodNotAllowed, &dto.ErrorResponse{Error: "Method not allowed"})
	}

	sig := signatureFrom(req.Header)
	if sig == "" {
		monitoring.WebhookRejections.WithLabelValues("missing_signature").Inc()
		return c.JSON(http.StatusBadRequest, &dto.ErrorResponse{Error: "Missing signature"})
	}

	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		h.log.Error("read webhook body", zap.Error(err))
		return internalError(c)
	}

	var payload model.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.log.Error("decode webhook payload", zap.Error(err))
		monitoring.WebhookRejections.WithLabelValues("malformed").Inc()
		return internalError(c)
	}

	if !h.verifier.Verify(string(body), sig) {
		h.log.Warn("webhook signature rejected", zap.String("alert_name", string(payload.AlertName)))
		monitoring.WebhookRejections.WithLabelValues("invalid_signature").Inc()
		return c.JSON(http.StatusUnauthorized, &dto.ErrorResponse{Error: "Invalid signature"})
	}

	if err := h.dispatcher.Dispatch(req.Context(), &payload); err != nil {
		h.log.Error("dispatch webhook",
			zap.String("alert_name", string(payload.AlertName)),
			zap.String("alert_id", payload.AlertID),
			zap.Error(err),
		)
		return internalError(c)
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func signatureFrom(header http.Header) string {
	for _, name := range signatureHeaders {
		if v := header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func internalError(c echo.Context) error {
	return c.JSON(http.StatusInternalServerError, &dto.ErrorResponse{Error: "Internal server error"})
}
