// Package hub tracks live WebSocket connections per user and pushes
// notification frames to them.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"servchat/internal/model"
	"servchat/internal/realtime"
)

type Writer interface {
	Write(message []byte) error
	Close() error
}

type Connection struct {
	UserID string
	Sector string
	Admin  bool
	Writer Writer
}

type Hub struct {
	mu          sync.RWMutex
	connections map[string]map[*Connection]struct{}
	log         *zap.Logger
}

func New(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{connections: make(map[string]map[*Connection]struct{}), log: logger}
}

func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connections[conn.UserID] == nil {
		h.connections[conn.UserID] = make(map[*Connection]struct{})
	}
	h.connections[conn.UserID][conn] = struct{}{}
}

func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.connections[conn.UserID]
	if set == nil {
		return
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.connections, conn.UserID)
	}
}

// Connected reports whether userID has at least one live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

func (h *Hub) Broadcast(userID string, message []byte) {
	h.mu.RLock()
	set := h.connections[userID]
	conns := make([]*Connection, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	h.deliver(conns, message)
}

// BroadcastWhere sends message to every connection accepted by keep. A nil
// keep accepts all.
func (h *Hub) BroadcastWhere(keep func(*Connection) bool, message []byte) {
	h.mu.RLock()
	var conns []*Connection
	for _, set := range h.connections {
		for c := range set {
			if keep == nil || keep(c) {
				conns = append(conns, c)
			}
		}
	}
	h.mu.RUnlock()

	h.deliver(conns, message)
}

func (h *Hub) deliver(conns []*Connection, message []byte) {
	var failed []*Connection
	for _, c := range conns {
		if err := c.Writer.Write(message); err != nil {
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		h.log.Debug("dropping connection after failed write", zap.String("user_id", c.UserID))
		_ = c.Writer.Close()
		h.Unregister(c)
	}
}

const (
	KindDirectMessage = "direct_message"
	KindAnnouncement  = "announcement"
)

type Notification struct {
	Type string `json:"type"`
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	From string `json:"from,omitempty"`
}

// Follow pushes a notification frame to the recipient of every new direct
// message and, for every new announcement, to admins and the users it is
// visible to. The returned func
// stops following.
func (h *Hub) Follow(sub realtime.Subscriber) func() {
	dms := sub.Subscribe(realtime.Scope{Table: realtime.TableDirectMessages}, func(ev realtime.Event) {
		if ev.Op != realtime.OpInsert {
			return
		}
		m, ok := ev.New.(model.DirectMessage)
		if !ok {
			return
		}
		h.notify(m.RecipientID, Notification{Type: "notification", Kind: KindDirectMessage, ID: m.ID, From: m.SenderID})
	})
	anns := sub.Subscribe(realtime.Scope{Table: realtime.TableAnnouncements}, func(ev realtime.Event) {
		if ev.Op != realtime.OpInsert {
			return
		}
		a, ok := ev.New.(model.Announcement)
		if !ok {
			return
		}
		now := time.Now()
		out, err := json.Marshal(Notification{Type: "notification", Kind: KindAnnouncement, ID: a.ID, From: a.AuthorID})
		if err != nil {
			h.log.Error("encode notification", zap.Error(err))
			return
		}
		h.BroadcastWhere(func(c *Connection) bool {
			return c.Admin || a.VisibleTo(c.Sector, now)
		}, out)
	})
	return func() {
		dms.Cancel()
		anns.Cancel()
	}
}

func (h *Hub) notify(userID string, n Notification) {
	out, err := json.Marshal(n)
	if err != nil {
		h.log.Error("encode notification", zap.Error(err))
		return
	}
	h.Broadcast(userID, out)
}
