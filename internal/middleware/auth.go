package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"play-rewards/internal/auth"
	"play-rewards/internal/models"
	"play-rewards/internal/services/rewards"
)

const (
	contextClaimsKey = "jwtClaims"
	contextUserKey   = "sessionUser"
)

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func JWT(manager *auth.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := manager.Parse(token)
		if err != nil {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}
		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(contextClaimsKey)
		if !exists {
			abort(c, http.StatusUnauthorized, "missing claims")
			return
		}
		claims, ok := value.(*auth.Claims)
		if !ok || claims.Role != role {
			abort(c, http.StatusForbidden, "insufficient permissions")
			return
		}
		c.Next()
	}
}

func ClaimsFromContext(c *gin.Context) *auth.Claims {
	value, exists := c.Get(contextClaimsKey)
	if !exists {
		return nil
	}
	claims, _ := value.(*auth.Claims)
	return claims
}

// SessionAuthenticator resolves a player session token.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// Session authenticates players by session token. The token is read from the
// session_token query or form field, a JSON body field of the same name, the
// X-Session-Token header or a bearer Authorization header. A missing or
// unknown token is answered with 401 and the success=false envelope, unlike
// business-rule failures which stay on 200.
func Session(authenticator SessionAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authenticator.Authenticate(c.Request.Context(), sessionToken(c))
		if err != nil {
			if errors.Is(err, rewards.ErrUnauthorized) {
				abort(c, http.StatusUnauthorized, "Unauthorized: invalid or missing session token")
				return
			}
			abort(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		c.Set(contextUserKey, user)
		c.Next()
	}
}

func UserFromContext(c *gin.Context) *models.User {
	value, exists := c.Get(contextUserKey)
	if !exists {
		return nil
	}
	user, _ := value.(*models.User)
	return user
}

func sessionToken(c *gin.Context) string {
	if v := c.Query("session_token"); v != "" {
		return v
	}
	if v := c.GetHeader("X-Session-Token"); v != "" {
		return v
	}
	if v, ok := bearerToken(c); ok {
		return v
	}
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return ""
	}
	if c.ContentType() == binding.MIMEJSON {
		// ShouldBindBodyWith caches the body so handlers can bind it again.
		var body struct {
			SessionToken string `json:"session_token"`
		}
		if err := c.ShouldBindBodyWith(&body, binding.JSON); err == nil {
			return body.SessionToken
		}
		return ""
	}
	return c.PostForm("session_token")
}

func bearerToken(c *gin.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if h == "" {
		return "", false
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
