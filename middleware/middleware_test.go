package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func TestLogRequestPassesThrough(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil), nil)
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestLogRequestRecoversPanics(t *testing.T) {
	handler := LogRequest()(func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		panic("handler exploded")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/tasks", nil), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)
	rw.WriteHeader(http.StatusBadRequest)
	rw.WriteHeader(http.StatusOK)
	require.Equal(t, http.StatusBadRequest, rw.status)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
