package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/apereo/persondir/pkg/logger"
	"github.com/apereo/persondir/pkg/middleware/requestid"
)

func TestMiddlewareLogsCompletedRequest(t *testing.T) {
	log, logs := logger.NewObserverLogger("info")

	handler := requestid.Middleware(Middleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/subjects/jdoe", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "http_req_complete", entries[0].Message)

	fields := entries[0].ContextMap()
	require.Equal(t, "GET", fields["http_method"])
	require.Equal(t, "/subjects/jdoe", fields["http_path"])
	require.EqualValues(t, http.StatusTeapot, fields["http_status"])
	require.Equal(t, resp.Header().Get(requestid.RequestIDHeader), fields["request_id"])
	require.NotEmpty(t, fields["query_duration_ms"])
}

func TestMiddlewareDefaultsToStatusOK(t *testing.T) {
	log, logs := logger.NewObserverLogger("info")

	handler := Middleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/subjects", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	require.EqualValues(t, http.StatusOK, entries[0].ContextMap()["http_status"])
}

func TestMiddlewareSkipsHealthChecks(t *testing.T) {
	log, logs := logger.NewObserverLogger("info")

	handler := Middleware(log, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	require.Empty(t, logs.All())
}
