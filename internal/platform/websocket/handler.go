package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medicheck/medicheck/internal/platform/apperr"
	"github.com/medicheck/medicheck/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Stream is a live view bound to one connection.
type Stream[T any] interface {
	// States yields the values to push. It is closed by Close.
	States() <-chan T
	Dispatch(msg ClientMessage) error
	Close()
}

// OpenFunc builds the stream for an authenticated request. It runs before the
// upgrade, so its errors are returned as ordinary HTTP responses.
type OpenFunc[T any] func(ctx context.Context) (Stream[T], error)

// errorFrame reports a rejected client message without closing the socket.
type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades HTTP requests and pumps one Stream per connection.
type Handler[T any] struct {
	hub    *Hub
	path   string
	open   OpenFunc[T]
	logger zerolog.Logger
}

func NewHandler[T any](hub *Hub, path string, open OpenFunc[T], logger zerolog.Logger) *Handler[T] {
	return &Handler[T]{hub: hub, path: path, open: open, logger: logger}
}

func (h *Handler[T]) RegisterRoutes(g *echo.Group) {
	g.GET(h.path, h.HandleConnect)
}

// HandleConnect blocks for the life of the connection. The stream context
// is detached from the request so hijacking does not cancel it.
func (h *Handler[T]) HandleConnect(c echo.Context) error {
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	stream, err := h.open(ctx)
	if err != nil {
		return apperr.ToHTTP(c, err)
	}
	defer stream.Close()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		return nil
	}

	client := newClient(auth.UserIDFromContext(ctx))
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	logger := h.logger.With().Str("client_id", client.ID).Str("user_id", client.UserID).Logger()
	logger.Debug().Msg("websocket connected")

	notices := make(chan []byte, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writePump(ws, stream, notices, logger)
	}()

	h.readPump(ws, stream, notices)

	stream.Close()
	<-writerDone
	logger.Debug().Msg("websocket disconnected")
	return nil
}

// readPump dispatches client messages until the socket fails.
func (h *Handler[T]) readPump(ws *gorillawebsocket.Conn, stream Stream[T], notices chan<- []byte) {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			notify(notices, "malformed message")
			continue
		}
		if err := stream.Dispatch(msg); err != nil {
			notify(notices, err.Error())
		}
	}
}

// writePump is the only writer on ws.
func (h *Handler[T]) writePump(ws *gorillawebsocket.Conn, stream Stream[T], notices <-chan []byte, logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case state, ok := <-stream.States():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(state)
			if err != nil {
				logger.Error().Err(err).Msg("encode websocket state")
				continue
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case data := <-notices:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func notify(notices chan<- []byte, message string) {
	data, _ := json.Marshal(errorFrame{Type: "error", Message: message})
	select {
	case notices <- data:
	default:
	}
}
