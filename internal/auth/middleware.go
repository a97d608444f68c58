package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ResultKey is the gin context key holding the caller's *Result.
const ResultKey = "auth_result"

// Middleware provides authentication middleware for the gin API. A nil
// service disables it.
type Middleware struct {
	service *Service
}

func NewMiddleware(s *Service) *Middleware { return &Middleware{service: s} }

func (m *Middleware) Enabled() bool { return m != nil && m.service != nil }

// GinAuth returns a Gin middleware function for authentication
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		result, err := m.authenticate(c.Request)
		if err != nil || !result.Success {
			c.Header("WWW-Authenticate", `Basic realm="taskexec"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Authentication required",
			})
			return
		}
		c.Set(ResultKey, result)
		c.Next()
	}
}

// GinRequirePermission returns a Gin middleware that requires specific permissions
func (m *Middleware) GinRequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		v, exists := c.Get(ResultKey)
		result, ok := v.(*Result)
		if !exists || !ok || !result.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_required",
				"message": "Authentication required",
			})
			return
		}
		if !HasPermission(result.Roles, resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "permission_denied",
				"message": "Insufficient permissions",
			})
			return
		}
		c.Next()
	}
}

// GinLogin exchanges credentials in the JSON body for a token.
func (m *Middleware) GinLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "authentication is disabled"})
			return
		}
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
			return
		}
		if req.Method == "" {
			req.Method = AuthMethodBasic
		}
		result, err := m.service.Authenticate(c.Request.Context(), req)
		if err != nil || !result.Success {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "authentication_failed",
				"message": "Invalid credentials",
			})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// authenticate extracts and validates authentication from HTTP request
func (m *Middleware) authenticate(r *http.Request) (*Result, error) {
	// Try Authorization header first (Bearer token)
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return m.service.Authenticate(r.Context(), LoginRequest{Method: AuthMethodJWT, Token: token})
		}
	}
	if username, password, ok := r.BasicAuth(); ok {
		return m.service.Authenticate(r.Context(), LoginRequest{
			Method:   AuthMethodBasic,
			Username: username,
			Password: password,
		})
	}
	// client credentials from query params
	q := r.URL.Query()
	if id, secret := q.Get("client_id"), q.Get("client_secret"); id != "" && secret != "" {
		return m.service.Authenticate(r.Context(), LoginRequest{
			Method:       AuthMethodClientSecret,
			ClientID:     id,
			ClientSecret: secret,
		})
	}
	return &Result{Success: false}, ErrInvalidCredentials
}
