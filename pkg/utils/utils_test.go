package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	resp := httptest.NewRecorder()

	RespondError(resp, http.StatusNotFound, "user not found")

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "application/json", resp.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "user not found", body["error"])
}

func TestSendSSEEvent(t *testing.T) {
	resp := httptest.NewRecorder()
	SetupSSEHeaders(resp)

	require.NoError(t, SendSSEEvent(resp, resp, "status", map[string]string{"message": "stream established"}))
	require.NoError(t, SendSSEData(resp, resp, "", []byte("a\nb")))

	assert.Equal(t, "text/event-stream", resp.Header().Get("Content-Type"))
	assert.Equal(t, "event: status\ndata: {\"message\":\"stream established\"}\n\ndata: a\ndata: b\n\n", resp.Body.String())
	assert.True(t, resp.Flushed)
}
