package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	subsvc "github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/internal/app/service/transaction"
	"github.com/fatflowers/entitlement/pkg/logctx"
	"github.com/fatflowers/entitlement/pkg/response"
)

const identityConflictMessage = "This purchase is already linked to another account. Please contact support."

// @Summary      Validate Purchase
// @Description  Validates an in-app purchase proof right after buying and opens a short trial window until the store confirms the charge.
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        request body transaction.VerifyPurchaseRequest true "Purchase proof"
// @Success      200  {object}  transaction.VerifyPurchaseResult
// @Failure      400  {object}  response.ClientError
// @Failure      401  {object}  response.ClientError
// @Failure      404  {object}  response.ClientError
// @Failure      409  {object}  response.ClientError
// @Router       /api/v1/subscription/validate [post]
func ApiValidatePurchase(mgr transaction.TransactionManager, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(logctx.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, response.Fail("unauthenticated"))
			return
		}
		var req transaction.VerifyPurchaseRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.Fail(err.Error()))
			return
		}

		res, err := mgr.VerifyPurchase(c.Request.Context(), userID, &req)
		switch {
		case errors.Is(err, transaction.ErrMissingField):
			c.JSON(http.StatusBadRequest, response.Fail(err.Error()))
		case errors.Is(err, transaction.ErrUserNotFound):
			c.JSON(http.StatusNotFound, response.Fail("user not found"))
		case errors.Is(err, identity.ErrIdentityConflict):
			c.JSON(http.StatusConflict, response.Fail(identityConflictMessage))
		case err != nil:
			logctx.FromGin(c, base).Errorw("purchase_validation_failed", "error", err)
			c.JSON(http.StatusInternalServerError, response.Fail("internal error"))
		default:
			c.JSON(http.StatusOK, res)
		}
	}
}

// @Summary      Get Subscription
// @Description  Returns the caller's subscription record and whether it currently grants access.
// @Tags         Subscription
// @Produce      json
// @Success      200  {object}  types.UserSubscriptionInfo
// @Failure      401  {object}  response.ClientError
// @Failure      404  {object}  response.ClientError
// @Router       /api/v1/subscription [get]
func ApiGetSubscription(sub *subsvc.Service, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(logctx.UserIDKey)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, response.Fail("unauthenticated"))
			return
		}
		u, err := sub.Get(c.Request.Context(), userID)
		if errors.Is(err, identity.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, response.Fail("user not found"))
			return
		}
		if err != nil {
			logctx.FromGin(c, base).Errorw("subscription_lookup_failed", "error", err)
			c.JSON(http.StatusInternalServerError, response.Fail("internal error"))
			return
		}
		c.JSON(http.StatusOK, u.Subscription.Info(time.Now()))
	}
}

func RegisterSubscriptionRoutes(r gin.IRouter, mgr transaction.TransactionManager, sub *subsvc.Service, log *zap.SugaredLogger) {
	r.POST("/validate", ApiValidatePurchase(mgr, log))
	r.GET("", ApiGetSubscription(sub, log))
}
