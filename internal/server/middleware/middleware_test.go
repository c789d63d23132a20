package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDeviceAuthAcceptsConfiguredToken(t *testing.T) {
	handler := DeviceAuth([]string{"tok-a", "tok-b"}, false)(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/readings/batch", nil)
	req.Header.Set("Authorization", "Bearer tok-b")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeviceAuthRejectsBadOrMissingToken(t *testing.T) {
	handler := DeviceAuth([]string{"tok-a"}, false)(okHandler())

	req := httptest.NewRequest("POST", "/api/v1/readings/batch", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Device auth never accepts query tokens.
	req = httptest.NewRequest("POST", "/api/v1/readings/batch?token=tok-a", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceAuthWithoutTokensRequiresAllowUnauth(t *testing.T) {
	closed := DeviceAuth(nil, false)(okHandler())
	req := httptest.NewRequest("POST", "/", nil)
	rec := httptest.NewRecorder()
	closed.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	open := DeviceAuth(nil, true)(okHandler())
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUIAuthAcceptsHeaderAndQueryToken(t *testing.T) {
	handler := UIAuth("ui-secret", false)(okHandler())

	req := httptest.NewRequest("GET", "/api/v1/items", nil)
	req.Header.Set("Authorization", "Bearer ui-secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// EventSource clients pass the token in the query string.
	req = httptest.NewRequest("GET", "/api/v1/stream?token=ui-secret", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/items?token=wrong", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCORSHandlesPreflightAndOrigins(t *testing.T) {
	handler := CORS([]string{"http://ui.local"})(okHandler())

	req := httptest.NewRequest("OPTIONS", "/api/v1/items", nil)
	req.Header.Set("Origin", "http://ui.local")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://ui.local", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest("GET", "/api/v1/items", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerPreservesStatus(t *testing.T) {
	handler := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
