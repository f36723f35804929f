package http

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"opsbot/internal/shared/logging"
	id "opsbot/internal/shared/utils/id"

	"github.com/gin-gonic/gin"
)

func resolveLogID(r *http.Request) string {
	for _, header := range []string{"X-Log-Id", "X-Request-Id", "X-Correlation-Id"} {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return value
		}
	}
	return ""
}

// logIDMiddleware tags the request context with a log id and logs the call.
func logIDMiddleware(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		logID := resolveLogID(c.Request)
		if logID == "" {
			logID = id.NewLogID()
		}
		c.Request = c.Request.WithContext(id.WithLogID(c.Request.Context(), logID))
		c.Header("X-Log-Id", logID)
		c.Next()
		logging.WithLogID(logger, logID).Info("%s %s -> %d", c.Request.Method, c.FullPath(), c.Writer.Status())
	}
}

func jsonMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost || c.Request.Method == http.MethodPut {
			contentType := c.ContentType()
			if contentType != "" && contentType != "application/json" {
				c.AbortWithStatusJSON(http.StatusUnsupportedMediaType, errorBody("Content-Type must be application/json"))
				return
			}
		}
		c.Next()
	}
}

// adminAuth requires "Authorization: Bearer <token>".
func adminAuth(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody("admin API is disabled"))
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody("invalid admin token"))
			return
		}
		c.Next()
	}
}

func errorBody(message string) gin.H {
	return gin.H{"error": message}
}
