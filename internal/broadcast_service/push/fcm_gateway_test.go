package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFCMTestServer(t *testing.T, handler func(token string) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/medping-test/messages:send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req fcmSendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "new_request", req.Message.Data["type"])
		assert.Equal(t, "New Request", req.Message.Notification.Title)

		status, body := handler(req.Message.Token)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
}

func TestFCMGateway_SendMany(t *testing.T) {
	srv := newFCMTestServer(t, func(token string) (int, string) {
		switch token {
		case "live":
			return http.StatusOK, `{"name":"projects/medping-test/messages/1"}`
		case "dead":
			return http.StatusNotFound, `{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND",
				"details":[{"@type":"type.googleapis.com/google.firebase.fcm.v1.FcmError","errorCode":"UNREGISTERED"}]}}`
		case "malformed":
			return http.StatusBadRequest, `{"error":{"code":400,"message":"The registration token is not a valid FCM registration token","status":"INVALID_ARGUMENT"}}`
		case "throttled":
			return http.StatusTooManyRequests, `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED","details":[{"errorCode":"QUOTA_EXCEEDED"}]}}`
		default:
			return http.StatusInternalServerError, `{"error":{"code":500,"status":"INTERNAL"}}`
		}
	})
	defer srv.Close()

	gw := NewFCMGateway(slog.New(slog.NewTextHandler(io.Discard, nil)), srv.URL, "medping-test", srv.Client())
	msg := Message{Title: "New Request", Body: "Someone nearby needs 2 item(s)", Data: map[string]string{"type": "new_request", "request_id": "r1"}}

	results := gw.SendMany(context.Background(), []string{"live", "dead", "malformed", "throttled", "broken"}, msg)
	require.Len(t, results, 5)

	assert.True(t, results[0].OK())

	assert.True(t, results[1].Invalid)
	assert.False(t, results[1].Retryable)

	assert.True(t, results[2].Invalid)

	assert.False(t, results[3].Invalid)
	assert.True(t, results[3].Retryable)
	assert.True(t, strings.Contains(results[3].Err.Error(), "QUOTA_EXCEEDED"))

	assert.False(t, results[4].OK())
	assert.False(t, results[4].Invalid)
	assert.False(t, results[4].Retryable)
}

func TestLogGateway(t *testing.T) {
	gw := NewLogGateway(slog.New(slog.NewTextHandler(io.Discard, nil)))
	results := gw.SendMany(context.Background(), []string{"a", "b"}, Message{Title: "t"})
	require.Len(t, results, 2)
	assert.True(t, results[0].OK())
	assert.Equal(t, "b", results[1].Token)
	assert.Equal(t, "...cdefgh", tokenSuffix("abcdefgh"))
}
