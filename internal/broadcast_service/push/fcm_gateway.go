package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	fcmDefaultBaseURL = "https://fcm.googleapis.com"
	fcmScope          = "https://www.googleapis.com/auth/firebase.messaging"
)

// FCMGateway talks to the Firebase Cloud Messaging HTTP v1 API, one token per call.
type FCMGateway struct {
	logger     *slog.Logger
	httpClient *http.Client
	sendURL    string
}

// NewFCMGatewayFromCredentials builds a gateway whose HTTP client signs requests
// with the service account in credentialsFile.
func NewFCMGatewayFromCredentials(ctx context.Context, logger *slog.Logger, projectID, credentialsFile string, timeout time.Duration) (*FCMGateway, error) {
	raw, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("reading FCM credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("parsing FCM credentials: %w", err)
	}
	client := oauth2.NewClient(ctx, creds.TokenSource)
	client.Timeout = timeout
	return NewFCMGateway(logger, fcmDefaultBaseURL, projectID, client), nil
}

// NewFCMGateway uses httpClient as is; it must already carry authorization.
func NewFCMGateway(logger *slog.Logger, baseURL, projectID string, httpClient *http.Client) *FCMGateway {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FCMGateway{
		logger:     logger.With("gateway", "fcm"),
		httpClient: httpClient,
		sendURL:    fmt.Sprintf("%s/v1/projects/%s/messages:send", baseURL, projectID),
	}
}

func (g *FCMGateway) Name() string { return "fcm" }

type fcmSendRequest struct {
	Message fcmMessage `json:"message"`
}

type fcmMessage struct {
	Token        string            `json:"token"`
	Notification fcmNotification   `json:"notification"`
	Data         map[string]string `json:"data,omitempty"`
	Android      *fcmAndroid       `json:"android,omitempty"`
	APNS         *fcmAPNS          `json:"apns,omitempty"`
}

type fcmNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type fcmAndroid struct {
	Priority string `json:"priority"`
}

type fcmAPNS struct {
	Headers map[string]string `json:"headers"`
}

type fcmErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

func (e fcmErrorResponse) errorCode() string {
	for _, d := range e.Error.Details {
		if d.ErrorCode != "" {
			return d.ErrorCode
		}
	}
	return e.Error.Status
}

func (g *FCMGateway) SendOne(ctx context.Context, token string, msg Message) Result {
	body, err := json.Marshal(fcmSendRequest{Message: fcmMessage{
		Token:        token,
		Notification: fcmNotification{Title: msg.Title, Body: msg.Body},
		Data:         msg.Data,
		Android:      &fcmAndroid{Priority: "high"},
		APNS:         &fcmAPNS{Headers: map[string]string{"apns-priority": "10"}},
	}})
	if err != nil {
		return Result{Token: token, Err: fmt.Errorf("failed to marshal FCM request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return Result{Token: token, Err: fmt.Errorf("failed to create FCM request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	timer := prometheus.NewTimer(pushGatewayRequestDurationHist.WithLabelValues(g.Name()))
	httpResp, err := g.httpClient.Do(httpReq)
	timer.ObserveDuration()
	if err != nil {
		return Result{Token: token, Err: fmt.Errorf("failed to send FCM request: %w", err)}
	}
	defer httpResp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64<<10))
	if httpResp.StatusCode >= 200 && httpResp.StatusCode < 300 {
		return Result{Token: token}
	}

	var fcmErr fcmErrorResponse
	_ = json.Unmarshal(respBody, &fcmErr)
	code := fcmErr.errorCode()
	res := Result{
		Token: token,
		Err:   fmt.Errorf("FCM error: status %d, code %s, message: %s", httpResp.StatusCode, code, fcmErr.Error.Message),
	}

	switch {
	case code == "UNREGISTERED" || code == "SENDER_ID_MISMATCH":
		res.Invalid = true
	case httpResp.StatusCode == http.StatusNotFound:
		res.Invalid = true
	case httpResp.StatusCode == http.StatusBadRequest && code == "INVALID_ARGUMENT":
		// FCM answers INVALID_ARGUMENT for malformed registration tokens.
		res.Invalid = true
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode == http.StatusServiceUnavailable:
		res.Retryable = true
	}

	g.logger.DebugContext(ctx, "FCM send failed", "status_code", httpResp.StatusCode, "error_code", code,
		"invalid", res.Invalid, "retryable", res.Retryable)
	return res
}

func (g *FCMGateway) SendMany(ctx context.Context, tokens []string, msg Message) []Result {
	out := make([]Result, len(tokens))
	for i, t := range tokens {
		out[i] = g.SendOne(ctx, t, msg)
	}
	return out
}
