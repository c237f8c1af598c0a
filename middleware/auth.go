// Package middleware provides request filters and security checks for the
// REST surface.
// File: middleware/auth.go
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"go-score-hub/logger"
	"go-score-hub/models"
	"go-score-hub/services"
)

// Context keys set by AuthRequired.
const (
	ContextJudgeID = "judgeID"
	ContextRole    = "role"
)

// AuthRequired validates the caller's token against the identity service for
// the session named in the route, then caches the validated identity in the
// cookie session so subsequent requests in the same browser session skip the
// bcrypt check.
//
// The token travels as `Authorization: Bearer <token>` or a `token` query
// parameter; the judge as `judge_id`.
func AuthRequired(identity services.IdentityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("sessionId")
		sess := sessions.Default(c)

		judgeID := c.Query("judge_id")
		token := bearerToken(c)

		if judgeID == "" || token == "" {
			// fall back to the cached identity for this scoring session
			cachedJudge, _ := sess.Get("judge_id").(string)
			cachedRole, _ := sess.Get("role").(string)
			cachedSession, _ := sess.Get("session_id").(string)
			if cachedJudge != "" && cachedSession == sessionID {
				c.Set(ContextJudgeID, cachedJudge)
				c.Set(ContextRole, models.Role(cachedRole))
				c.Next()
				return
			}
			logger.Warn.Printf("[AuthRequired] no credentials and no cached identity for session=%s", sessionID)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token and judge_id required"})
			return
		}

		role, err := identity.Validate(token, sessionID, judgeID)
		if err != nil {
			logger.Warn.Printf("[AuthRequired] rejected judge=%s session=%s: %v", judgeID, sessionID, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		sess.Set("judge_id", judgeID)
		sess.Set("role", string(role))
		sess.Set("session_id", sessionID)
		if err := sess.Save(); err != nil {
			logger.Warn.Printf("[AuthRequired] session save failed: %v", err)
		}

		c.Set(ContextJudgeID, judgeID)
		c.Set(ContextRole, role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// Identity pulls the validated identity out of the gin context.
func Identity(c *gin.Context) (judgeID string, role models.Role) {
	judgeID = c.GetString(ContextJudgeID)
	if v, ok := c.Get(ContextRole); ok {
		role, _ = v.(models.Role)
	}
	return judgeID, role
}
