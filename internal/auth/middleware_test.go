package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter(t *testing.T, m *Middleware) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/login", m.GinLogin())
	api := r.Group("/api", m.GinAuth())
	api.POST("/run", m.GinRequirePermission(ResourceCommand, ActionRun), func(c *gin.Context) {
		c.String(http.StatusOK, "ran")
	})
	api.GET("/commands", m.GinRequirePermission(ResourceCommand, ActionRead), func(c *gin.Context) {
		c.String(http.StatusOK, "listed")
	})
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareDisabled(t *testing.T) {
	r := testRouter(t, NewMiddleware(nil))
	w := do(r, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMiddlewareBasicAndPermissions(t *testing.T) {
	s, err := NewService(testConfig(t))
	require.NoError(t, err)
	r := testRouter(t, NewMiddleware(s))

	w := do(r, httptest.NewRequest(http.MethodPost, "/api/run", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodPost, "/api/run", nil)
	req.SetBasicAuth("alice", "s3cret")
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/run", nil)
	req.SetBasicAuth("victor", "s3cret")
	w = do(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/commands", nil)
	req.SetBasicAuth("victor", "s3cret")
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, httptest.NewRequest(http.MethodGet, "/api/commands?client_id=ci&client_secret=ci-secret", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddlewareLoginThenBearer(t *testing.T) {
	s, err := NewService(testConfig(t))
	require.NoError(t, err)
	r := testRouter(t, NewMiddleware(s))

	w := do(r, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, w.Code)
	var res Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Token)

	req := httptest.NewRequest(http.MethodPost, "/api/run", nil)
	req.Header.Set("Authorization", "Bearer "+res.Token.Value)
	w = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ran", w.Body.String())

	w = do(r, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"bad"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
