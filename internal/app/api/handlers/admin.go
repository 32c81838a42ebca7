package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fatflowers/entitlement/internal/app/service/identity"
	"github.com/fatflowers/entitlement/internal/app/service/statistics"
	subsvc "github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/pkg/response"
	"github.com/fatflowers/entitlement/pkg/types"
)

// @Summary      List Subscriptions (Admin)
// @Description  Retrieves a paginated and filterable list of users with their subscription records.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body subscription.ScanSubscriptionsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListSubscriptions
// @Router       /api/v1/admin/list_subscriptions [post]
func ApiListSubscriptions(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subsvc.ScanSubscriptionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := sub.Scan(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Get Subscription Statistics (Admin)
// @Description  Counts subscriptions by status, platform and entitlement, and daily transitions and notifications.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body statistics.SubscriptionStatisticRequest true "Statistic request parameters"
// @Success      200  {object}  handlers.RespSubscriptionStatistic
// @Router       /api/v1/admin/get_subscription_statistic [post]
func ApiGetSubscriptionStatistic(svc *statistics.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req statistics.SubscriptionStatisticRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		res, err := svc.GetSubscriptionStatistic(c.Request.Context(), &req)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

type RecoverSubscriptionRequest struct {
	UserID     string                   `json:"user_id"`
	Status     types.SubscriptionStatus `json:"status"`
	EndDate    *time.Time               `json:"end_date"`
	OperatorID string                   `json:"operator_id"`
}

// @Summary      Recover Subscription (Admin)
// @Description  Sets a subscription status and end date directly, bypassing the transition rules. Every recovery is logged with its operator.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Param        request body handlers.RecoverSubscriptionRequest true "Recovery request"
// @Success      200  {object}  handlers.RespSubscriptionInfo
// @Router       /api/v1/admin/recover_subscription [post]
func ApiRecoverSubscription(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RecoverSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, err.Error()))
			return
		}
		if req.UserID == "" || req.Status == "" || req.OperatorID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id or status or operator_id"))
			return
		}
		if !req.Status.Valid() {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid status"))
			return
		}
		change, err := sub.Recover(c.Request.Context(), req.UserID, req.Status, req.EndDate, req.OperatorID)
		if errors.Is(err, identity.ErrUserNotFound) {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeNotFound, "user not found"))
			return
		}
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(change.After.Info(time.Now())))
	}
}

func RegisterAdminRoutes(r gin.IRouter, sub *subsvc.Service, stats *statistics.Service) {
	r.POST("/list_subscriptions", ApiListSubscriptions(sub))
	r.POST("/get_subscription_statistic", ApiGetSubscriptionStatistic(stats))
	r.POST("/recover_subscription", ApiRecoverSubscription(sub))
	r.GET("/subscription_logs", ApiListSubscriptionLogs(sub))
}
