package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volan/membership-engine/balance"
	"github.com/volan/membership-engine/cashbox"
	"github.com/volan/membership-engine/core/store"
	"github.com/volan/membership-engine/subscription"
)

func TestRequestLogger_WritesJSONThroughSlog(t *testing.T) {
	// GIVEN: A router whose handler logs JSON into a buffer
	// WHEN: Serving /health
	// THEN: One JSON access line carries method, path, status and request id

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	st := store.NewMemory()
	h := NewHandler(subscription.NewService(st, nil), balance.NewEngine(st, nil),
		cashbox.NewBook(st, nil), cashbox.NewReporter(st, nil), logger)
	router := NewRouter(h, RouterOptions{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line), buf.String())
	assert.Equal(t, "request", line["msg"])
	assert.Equal(t, "GET", line["method"])
	assert.Equal(t, "/health", line["path"])
	assert.EqualValues(t, http.StatusOK, line["status"])
	assert.NotEmpty(t, line["request_id"])
}
