package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/config"
	"github.com/fatflowers/entitlement/pkg/logctx"
)

// ErrNoSession means the session id is unknown or expired.
var ErrNoSession = errors.New("session not found")

// Sessions reads sessions written by the identity service into Redis hashes
// keyed sessions:<sid> with the fields user_id and expires_at.
type Sessions struct {
	client *goredis.Client
	now    func() time.Time
}

func NewSessions(client *goredis.Client) *Sessions {
	return &Sessions{client: client, now: time.Now}
}

func sessionKey(sid string) string {
	return "sessions:" + sid
}

// UserID resolves a session id to its user.
func (s *Sessions) UserID(ctx context.Context, sid string) (string, error) {
	fields, err := s.client.HGetAll(ctx, sessionKey(sid)).Result()
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}
	userID := fields["user_id"]
	if userID == "" {
		return "", ErrNoSession
	}
	if raw := fields["expires_at"]; raw != "" {
		expiresAt, err := parseExpiry(raw)
		if err != nil {
			return "", fmt.Errorf("session expires_at: %w", err)
		}
		if !expiresAt.After(s.now()) {
			return "", ErrNoSession
		}
	}
	return userID, nil
}

// parseExpiry accepts unix seconds or RFC 3339.
func parseExpiry(raw string) (time.Time, error) {
	if sec, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.Parse(time.RFC3339, raw)
}

func sessionID(c *gin.Context, cookieName string) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil {
			return v
		}
	}
	return ""
}

// SessionAuth rejects requests without a live session and exposes the user id
// under "user_id" in gin.Context and the request context.
func SessionAuth(sessions *Sessions, cfg *config.Config, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, base)
		sid := sessionID(c, cfg.Session.CookieName)
		if sid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthenticated"})
			return
		}

		userID, err := sessions.UserID(c.Request.Context(), sid)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				log.Errorw("session_lookup_failed", "error", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthenticated"})
			return
		}

		c.Set(logctx.UserIDKey, userID)
		ctx := context.WithValue(c.Request.Context(), logctx.UserIDKey, userID) //nolint:staticcheck
		c.Request = c.Request.WithContext(ctx)
		setLogger(c, log.With("user_id", userID))

		c.Next()
	}
}

// AdminAuth guards admin routes with HTTP basic auth when credentials are configured.
func AdminAuth(cfg *config.Config, log *zap.SugaredLogger) gin.HandlerFunc {
	if cfg.Admin.Username == "" {
		log.Warnw("admin routes are not protected: admin.username is empty")
		return func(c *gin.Context) { c.Next() }
	}
	return gin.BasicAuth(gin.Accounts{cfg.Admin.Username: cfg.Admin.Password})
}

// PushTokenAuth guards a push endpoint with a shared token passed as the "token"
// query parameter, the way Pub/Sub push subscriptions are configured.
func PushTokenAuth(token string, log *zap.SugaredLogger) gin.HandlerFunc {
	if token == "" {
		log.Warnw("push endpoint is not protected: webhook.google_push_token is empty")
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		got := c.Query("token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			logctx.FromGin(c, log).Warnw("push_token_rejected", "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "unauthenticated"})
			return
		}
		c.Next()
	}
}
