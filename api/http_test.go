package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TiunovNN/video-compression-model/handlers"
)

func TestRouterHealthcheck(t *testing.T) {
	router := NewTranscodingAPIRouter(&handlers.TranscodingAPIHandlersCollection{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "OK", rec.Body.String())
}

func TestRouterMetrics(t *testing.T) {
	router := NewTranscodingAPIRouter(&handlers.TranscodingAPIHandlersCollection{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRouterUnknownRoute(t *testing.T) {
	router := NewTranscodingAPIRouter(&handlers.TranscodingAPIHandlersCollection{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
