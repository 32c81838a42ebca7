package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	subsvc "github.com/fatflowers/entitlement/internal/app/service/subscription"
	"github.com/fatflowers/entitlement/pkg/response"
)

// @Summary      List Subscription Logs (Admin)
// @Description  Returns the audit trail of one user's subscription, newest first.
// @Tags         Admin
// @Produce      json
// @Param        user_id  query  string  true   "User ID"
// @Param        from     query  int     false  "Offset"
// @Param        size     query  int     false  "Page size"
// @Success      200  {object}  handlers.RespSubscriptionLogs
// @Router       /api/v1/admin/subscription_logs [get]
func ApiListSubscriptionLogs(sub *subsvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "missing user_id"))
			return
		}
		from := 0
		if v := c.Query("from"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				from = n
			}
		}
		size := 100
		if v := c.Query("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				size = n
			} else {
				c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeBadRequest, "invalid size"))
				return
			}
		}

		rows, err := sub.ListLogs(c.Request.Context(), userID, from, size)
		if err != nil {
			c.JSON(http.StatusOK, response.ErrorT[any](response.APIResponseCodeError, err.Error()))
			return
		}
		c.JSON(http.StatusOK, response.OKT(rows))
	}
}
