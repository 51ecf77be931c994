package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// emailContextKey — ключ email аутентифицированного пользователя в gin-контексте.
const emailContextKey = "auth_email"

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func emailFromContext(c *gin.Context) string {
	return c.GetString(emailContextKey)
}

// requireAuth пропускает только запросы с живым токеном.
func (h *Handler) requireAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}
	email, err := h.auth.Verify(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "Unauthorized"})
		return
	}
	c.Set(emailContextKey, email)
	c.Next()
}

// optionalAuth подставляет email, если токен есть и валиден; анонимные
// запросы проходят дальше без email.
func (h *Handler) optionalAuth(c *gin.Context) {
	token := bearerToken(c)
	if token == "" {
		c.Next()
		return
	}
	if email, err := h.auth.Verify(c.Request.Context(), token); err == nil {
		c.Set(emailContextKey, email)
	}
	c.Next()
}
