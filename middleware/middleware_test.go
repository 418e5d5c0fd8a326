package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func doGet(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTraceID_Generated(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	var seen string
	r.GET("/x", func(c *gin.Context) {
		seen = GetTraceID(c)
		c.Status(http.StatusOK)
	})

	w := doGet(r, "/x", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(TraceIDHeader))
}

func TestTraceID_Propagated(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	incoming := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	w := doGet(r, "/x", map[string]string{TraceIDHeader: incoming})
	assert.Equal(t, incoming, w.Header().Get(TraceIDHeader))
}

func TestTraceID_MalformedReplaced(t *testing.T) {
	r := gin.New()
	r.Use(TraceID())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r, "/x", map[string]string{TraceIDHeader: "not-a-uuid"})
	got := w.Header().Get(TraceIDHeader)
	assert.NotEmpty(t, got)
	assert.NotEqual(t, "not-a-uuid", got)
}

func TestRecovery_Returns500(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := doGet(r, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}

func TestLogger_DoesNotAlterResponse(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "fine") })

	w := doGet(r, "/ok", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fine", w.Body.String())
}

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(rate.Limit(100), 5))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := doGet(r, "/x", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimit_BlocksBeyondBurst(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(rate.Limit(0.001), 2))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	doGet(r, "/x", nil)
	doGet(r, "/x", nil)
	w := doGet(r, "/x", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimit_SkipsStreamPaths(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(rate.Limit(0.001), 1, "/events"))
	r.GET("/events", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 5; i++ {
		w := doGet(r, "/events", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestAdminAuth_ValidKey(t *testing.T) {
	r := gin.New()
	r.Use(AdminAuth("secret"))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r, "/admin", map[string]string{AdminKeyHeader: "secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuth_InvalidKey(t *testing.T) {
	r := gin.New()
	r.Use(AdminAuth("secret"))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r, "/admin", map[string]string{AdminKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doGet(r, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth_DisabledWithoutKey(t *testing.T) {
	r := gin.New()
	r.Use(AdminAuth(""))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := doGet(r, "/admin", map[string]string{AdminKeyHeader: "anything"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
