package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	nh "github.com/fatflowers/entitlement/internal/app/service/notification_handler"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/response"
	"github.com/fatflowers/entitlement/pkg/types"
)

// handleWebhook answers 400 for payloads the vendor must not redeliver and 500
// for failures it should retry.
func handleWebhook(h *nh.NotificationHandler, provider types.PaymentProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, h.Logger).With("provider", provider)
		body, err := c.GetRawData()
		if err != nil || len(body) == 0 {
			log.Warnw("webhook_empty_body", "error", err)
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, "empty body"))
			return
		}

		res, err := h.HandleNotification(c.Request.Context(), provider, body)
		switch {
		case errors.Is(err, nh.ErrMalformedNotification):
			c.JSON(http.StatusBadRequest, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
		case err != nil:
			log.Errorw("webhook_handle_error", "error", err.Error())
			c.JSON(http.StatusInternalServerError, response.ErrorT[any](response.APIResponseCodeError, "notification not processed"))
		default:
			c.JSON(http.StatusOK, response.OKT(res))
		}
	}
}

// @Summary      Apple Webhook
// @Description  Handles App Store Server Notifications V2. The body is {"signedPayload": "<JWS>"} or an already unwrapped notification.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body string true "App Store Server Notification V2"
// @Success      200  {object}  handlers.RespNotificationResult
// @Failure      400  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /api/v1/webhook/apple [post]
func ApiAppleWebhook(h *nh.NotificationHandler) gin.HandlerFunc {
	return handleWebhook(h, types.PaymentProviderApple)
}

// @Summary      Google Play Webhook
// @Description  Handles Real-time developer notifications pushed by Cloud Pub/Sub.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        payload body notification_handler.PubSubPushRequest true "Pub/Sub push message"
// @Success      200  {object}  handlers.RespNotificationResult
// @Failure      400  {object}  handlers.RespOK
// @Failure      500  {object}  handlers.RespOK
// @Router       /api/v1/webhook/google [post]
func ApiGoogleWebhook(h *nh.NotificationHandler) gin.HandlerFunc {
	return handleWebhook(h, types.PaymentProviderGoogle)
}

// RegisterWebhookRoutes mounts the vendor endpoints; googleAuth runs before the Google handler.
func RegisterWebhookRoutes(r gin.IRouter, h *nh.NotificationHandler, googleAuth ...gin.HandlerFunc) {
	r.POST("/apple", ApiAppleWebhook(h))
	r.POST("/google", append(googleAuth, ApiGoogleWebhook(h))...)
}
