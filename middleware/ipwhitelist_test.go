package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newWhitelistRouter(ips []string) *gin.Engine {
	r := gin.New()
	r.Use(IPWhitelist(ips))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func whitelistStatus(r *gin.Engine, remoteAddr string) int {
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist_EmptyListAllowsAll(t *testing.T) {
	r := newWhitelistRouter(nil)
	assert.Equal(t, http.StatusOK, whitelistStatus(r, "203.0.113.9:1234"))
}

func TestIPWhitelist_AllowsListedIP(t *testing.T) {
	r := newWhitelistRouter([]string{"192.0.2.10"})
	assert.Equal(t, http.StatusOK, whitelistStatus(r, "192.0.2.10:5555"))
}

func TestIPWhitelist_RejectsUnlistedIP(t *testing.T) {
	r := newWhitelistRouter([]string{"192.0.2.10"})
	assert.Equal(t, http.StatusForbidden, whitelistStatus(r, "198.51.100.7:5555"))
}
