package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/hub"
	"servchat/internal/model"
	"servchat/internal/realtime"
	"servchat/internal/store"
)

const (
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendBuffer     = 256
	maxSubsPerConn = 64
	maxFrameBytes  = 64 * 1024
)

var (
	errConnClosed   = errors.New("connection closed")
	errSlowConsumer = errors.New("send buffer full")
)

// WebSocketHandler serves the change feed: clients subscribe to table scopes
// and receive a change frame per matching row event, plus notification
// frames pushed through the hub.
type WebSocketHandler struct {
	Hub         *hub.Hub
	Feed        realtime.Subscriber
	Store       store.Store
	TokenConfig auth.TokenConfig
	Logger      *zap.Logger
}

type clientFrame struct {
	Type   string         `json:"type"`
	ID     string         `json:"id,omitempty"`
	Table  realtime.Table `json:"table,omitempty"`
	Column string         `json:"column,omitempty"`
	Value  string         `json:"value,omitempty"`
}

type serverFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id,omitempty"`
	Event *realtime.Event `json:"event,omitempty"`
	Error string          `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn queues outgoing frames for a single writer goroutine. Write never
// blocks: a client that cannot keep up is disconnected.
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (w *wsConn) Write(message []byte) error {
	select {
	case <-w.done:
		return errConnClosed
	default:
	}
	select {
	case w.send <- message:
		return nil
	case <-w.done:
		return errConnClosed
	default:
		return errSlowConsumer
	}
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

func (w *wsConn) writeJSON(f serverFrame) {
	out, err := json.Marshal(f)
	if err != nil {
		return
	}
	if err := w.Write(out); err != nil {
		_ = w.Close()
	}
}

func (w *wsConn) writePump() {
	pingPeriod := (pongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = w.ws.Close()
	}()

	for {
		select {
		case <-w.done:
			deadline := time.Now().Add(writeWait)
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case msg := <-w.send:
			_ = w.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = w.Close()
				return
			}
		case <-ticker.C:
			if err := w.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = w.Close()
				return
			}
		}
	}
}

func (h *WebSocketHandler) Serve(c *gin.Context) {
	logger := loggerOrNop(h.Logger)

	tokenString := c.Query("token")
	if tokenString == "" {
		unauthorized(c)
		return
	}
	claims, err := auth.VerifyToken(tokenString, h.TokenConfig)
	if err != nil {
		unauthorized(c)
		return
	}
	user, err := h.Store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		unauthorized(c)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	conn := &wsConn{ws: ws, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	pumpDone := make(chan struct{})
	go func() {
		conn.writePump()
		close(pumpDone)
	}()

	hc := &hub.Connection{UserID: user.ID, Sector: user.Sector, Admin: user.Role == model.RoleAdmin, Writer: conn}
	h.Hub.Register(hc)

	subs := make(map[string]realtime.Subscription)
	defer func() {
		for _, s := range subs {
			s.Cancel()
		}
		h.Hub.Unregister(hc)
		_ = conn.Close()
		<-pumpDone
	}()

	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	logger.Debug("websocket connected", zap.String("user_id", user.ID))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			logger.Debug("websocket closed", zap.String("user_id", user.ID), zap.Error(err))
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.writeJSON(serverFrame{Type: "error", Error: "invalid frame"})
			continue
		}

		switch frame.Type {
		case "ping":
			conn.writeJSON(serverFrame{Type: "pong"})
		case "subscribe":
			if frame.ID == "" {
				conn.writeJSON(serverFrame{Type: "error", Error: "subscription id required"})
				continue
			}
			scope := realtime.Scope{Table: frame.Table, Column: frame.Column, Value: frame.Value}
			if err := authorizeScope(user, scope); err != nil {
				conn.writeJSON(serverFrame{Type: "error", ID: frame.ID, Error: err.Error()})
				continue
			}
			if old, ok := subs[frame.ID]; ok {
				old.Cancel()
				delete(subs, frame.ID)
			}
			if len(subs) >= maxSubsPerConn {
				conn.writeJSON(serverFrame{Type: "error", ID: frame.ID, Error: "too many subscriptions"})
				continue
			}
			id := frame.ID
			subs[id] = h.Feed.Subscribe(scope, func(ev realtime.Event) {
				ev, ok := visibleChange(user, ev, time.Now())
				if !ok {
					return
				}
				conn.writeJSON(serverFrame{Type: "change", ID: id, Event: &ev})
			})
			conn.writeJSON(serverFrame{Type: "subscribed", ID: id})
		case "unsubscribe":
			if s, ok := subs[frame.ID]; ok {
				s.Cancel()
				delete(subs, frame.ID)
			}
		default:
			conn.writeJSON(serverFrame{Type: "error", ID: frame.ID, Error: "unknown frame type"})
		}
	}
}
