package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/medping/golang_services/internal/broadcast_service/domain"
	"github.com/medping/golang_services/internal/broadcast_service/fanout"
	"github.com/medping/golang_services/internal/broadcast_service/middleware"
)

const maxInboundFrameBytes = 4096

// LiveOptions tunes the live channel.
type LiveOptions struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	PingInterval  time.Duration
}

// LiveHandler upgrades authenticated callers to a websocket and binds the
// connection to the registry for as long as it stays open.
type LiveHandler struct {
	auth     *middleware.Authenticator
	registry *fanout.Registry
	opts     LiveOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewLiveHandler(auth *middleware.Authenticator, registry *fanout.Registry, opts LiveOptions, logger *slog.Logger) *LiveHandler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &LiveHandler{
		auth:     auth,
		registry: registry,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Mobile clients send no Origin header; browsers are authenticated by token.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "live_channel"),
	}
}

type inboundFrame struct {
	Type string `json:"type"`
}

type connectionFrame struct {
	Type        string      `json:"type"`
	RecipientID string      `json:"recipient_id"`
	Role        domain.Role `json:"role"`
}

var pongFrame = []byte(`{"type":"pong"}`)

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := h.auth.Authenticate(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Rejected live connection", "error", err)
		respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Invalid or missing token", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.WarnContext(r.Context(), "Websocket upgrade failed", "caller", id.Key(), "error", err)
		return
	}

	client := fanout.NewClient(id.Key(), h.opts.SendQueueSize)
	if replaced := h.registry.Register(client); replaced != nil {
		h.logger.Info("Replaced previous live connection", "caller", id.Key())
	}
	h.logger.Info("Live connection opened", "caller", id.Key())

	hello, _ := json.Marshal(connectionFrame{Type: "connection", RecipientID: id.ID, Role: id.Role})
	client.Enqueue(hello)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(conn, client)
	}()

	h.readPump(conn, client)

	h.registry.Unregister(client)
	<-writerDone
	h.logger.Info("Live connection closed", "caller", id.Key())
}

// readPump owns all reads. It returns when the peer goes away or the client is closed.
func (h *LiveHandler) readPump(conn *websocket.Conn, client *fanout.Client) {
	readWait := 2*h.opts.PingInterval + h.opts.WriteTimeout
	conn.SetReadLimit(maxInboundFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Live connection read failed", "caller", client.Key(), "error", err)
			}
			client.Close()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var in inboundFrame
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		if in.Type == "ping" {
			client.Enqueue(pongFrame)
		}
	}
}

// writePump is the only writer on conn.
func (h *LiveHandler) writePump(conn *websocket.Conn, client *fanout.Client) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer func() {
		ticker.Stop()
		// Unblocks the reader if the client was closed from the fanout side.
		conn.Close()
	}()

	for {
		select {
		case frame := <-client.Send():
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("Live write failed", "caller", client.Key(), "error", err)
				client.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				client.Close()
				return
			}
		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.opts.WriteTimeout))
			return
		}
	}
}
