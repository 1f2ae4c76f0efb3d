package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/contentforge/contentforge/pkg/models"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	currentUserKey  = "current_user"
)

// AuthProvider yields the authenticated user for a request. JWT issuance,
// password hashing and OAuth flows live behind this boundary.
type AuthProvider interface {
	CurrentUser(ctx context.Context, r *http.Request) (*models.User, error)
}

// requestIDMiddleware assigns each request an id, echoes it in the response
// header and threads it through logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// authMiddleware resolves the current user and aborts with 401 when the
// provider rejects the request.
func authMiddleware(auth AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.CurrentUser(c.Request.Context(), c.Request)
		if err != nil || user == nil {
			writeError(c, newAPIError(http.StatusUnauthorized, CodeAuth, "authentication required"))
			return
		}
		if !user.IsActive {
			writeError(c, newAPIError(http.StatusForbidden, CodeForbidden, "account is deactivated"))
			return
		}
		c.Set(currentUserKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	if v, ok := c.Get(currentUserKey); ok {
		if u, ok := v.(*models.User); ok {
			return u
		}
	}
	return nil
}

// loggingMiddleware logs one line per request with latency and status.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("Request handled",
			"request_id", requestID(c),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
