package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func authTestRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guarded", RequireAPIKey(key), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func doGet(r *gin.Engine, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if apiKey != "" {
		req.Header.Set("X-API-KEY", apiKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// TestRequireAPIKey_DisabledWhenUnconfigured tests the development profile
func TestRequireAPIKey_DisabledWhenUnconfigured(t *testing.T) {
	r := authTestRouter("")

	w := doGet(r, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = doGet(r, "anything")
	assert.Equal(t, http.StatusOK, w.Code)
}

// TestRequireAPIKey_MissingHeader tests the 401 path
func TestRequireAPIKey_MissingHeader(t *testing.T) {
	w := doGet(authTestRouter("secret"), "")

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")
}

// TestRequireAPIKey_WrongKey tests the 403 path
func TestRequireAPIKey_WrongKey(t *testing.T) {
	w := doGet(authTestRouter("secret"), "not-the-secret")

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "FORBIDDEN")
}

// TestRequireAPIKey_CorrectKey tests the pass-through path
func TestRequireAPIKey_CorrectKey(t *testing.T) {
	w := doGet(authTestRouter("secret"), "secret")

	assert.Equal(t, http.StatusOK, w.Code)
}
