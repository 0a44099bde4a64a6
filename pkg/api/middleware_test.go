package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestContext(method, target string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(method, target, nil)
	return c, rec
}

func TestBearerAuth_RejectsMissingToken(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/pending")
	bearerAuth("secret")(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_RejectsWrongToken(t *testing.T) {
	c, rec := newTestContext(http.MethodGet, "/pending")
	c.Request.Header.Set("Authorization", "Bearer wrong")
	bearerAuth("secret")(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerAuth_AllowsMatchingToken(t *testing.T) {
	c, _ := newTestContext(http.MethodGet, "/pending")
	c.Request.Header.Set("Authorization", "Bearer secret")
	bearerAuth("secret")(c)
	assert.False(t, c.IsAborted())
}
