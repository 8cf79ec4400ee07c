package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"backend/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func corsRouter(cfg *config.CORSConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS(cfg))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return router
}

func doCORSRequest(router *gin.Engine, method, origin string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCORS(t *testing.T) {
	t.Run("未配置来源时放行任意来源", func(t *testing.T) {
		router := corsRouter(&config.CORSConfig{})
		w := doCORSRequest(router, http.MethodGet, "https://example.com")
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("允许列表内的来源原样返回", func(t *testing.T) {
		router := corsRouter(&config.CORSConfig{AllowOrigins: []string{"https://studio.example.com"}})
		w := doCORSRequest(router, http.MethodGet, "https://studio.example.com")
		assert.Equal(t, "https://studio.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("列表外来源不返回允许头", func(t *testing.T) {
		router := corsRouter(&config.CORSConfig{AllowOrigins: []string{"https://studio.example.com"}})
		w := doCORSRequest(router, http.MethodGet, "https://evil.example.com")
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("预检请求直接204", func(t *testing.T) {
		router := corsRouter(&config.CORSConfig{})
		w := doCORSRequest(router, http.MethodOptions, "https://example.com")
		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("自定义方法列表生效", func(t *testing.T) {
		router := corsRouter(&config.CORSConfig{AllowMethods: []string{"GET", "POST"}})
		w := doCORSRequest(router, http.MethodGet, "")
		assert.Equal(t, "GET, POST", w.Header().Get("Access-Control-Allow-Methods"))
	})
}
