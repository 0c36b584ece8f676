package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/framewell/studio-qc-backend/internal/platform/logger"
	"github.com/framewell/studio-qc-backend/internal/services"
)

const workerSecretHeader = "X-Worker-Secret"

// WorkerAuthMiddleware gates the machine-to-machine endpoints the external
// deep-analysis worker calls.
type WorkerAuthMiddleware struct {
	log  *logger.Logger
	auth services.WorkerAuthenticator
}

func NewWorkerAuthMiddleware(log *logger.Logger, auth services.WorkerAuthenticator) *WorkerAuthMiddleware {
	return &WorkerAuthMiddleware{log: log.With("Middleware", "WorkerAuthMiddleware"), auth: auth}
}

func (wm *WorkerAuthMiddleware) RequireWorkerSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !wm.auth.Verify(c.GetHeader(workerSecretHeader)) {
			wm.log.Warn("Worker request rejected", "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"message": "missing or invalid worker secret", "code": "unauthorized"},
			})
			return
		}
		c.Next()
	}
}
