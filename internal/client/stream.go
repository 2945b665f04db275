package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"servchat/internal/hub"
	"servchat/internal/realtime"
)

const (
	streamWriteWait = 10 * time.Second
	streamPingEvery = 30 * time.Second
)

type streamFrame struct {
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Table  realtime.Table  `json:"table,omitempty"`
	Column string          `json:"column,omitempty"`
	Value  string          `json:"value,omitempty"`
	Event  *realtime.Event `json:"event,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	From   string          `json:"from,omitempty"`
}

type streamSub struct {
	scope realtime.Scope
	fn    func(realtime.Event)
}

// Stream is one change-feed connection. It implements realtime.Subscriber:
// every Subscribe becomes a server-side subscription and matching change
// frames are delivered to its callback on the read goroutine.
//
// When the server acknowledges a subscription the callback is invoked once
// with an event carrying only the table, so listeners resynchronise after
// the subscription went live.
type Stream struct {
	ws  *websocket.Conn
	log *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	subs     map[string]streamSub
	onNotify func(hub.Notification)

	done      chan struct{}
	closeOnce sync.Once
	err       error
}

var _ realtime.Subscriber = (*Stream)(nil)

// Dial opens the change feed with the client's token.
func (c *Client) Dial(ctx context.Context) (*Stream, error) {
	tok := c.Token()
	if tok == "" {
		return nil, ErrNoToken
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/ws"
	u.RawQuery = "token=" + tok

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dial change feed: %w", err)
	}

	s := &Stream{
		ws:   ws,
		log:  c.log,
		subs: make(map[string]streamSub),
		done: make(chan struct{}),
	}
	go s.readLoop()
	go s.pingLoop()
	return s, nil
}

// OnNotification sets the callback for hub notification frames.
func (s *Stream) OnNotification(fn func(hub.Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotify = fn
}

type streamSubscription struct {
	s    *Stream
	id   string
	once sync.Once
}

func (sub *streamSubscription) Cancel() {
	sub.once.Do(func() {
		sub.s.mu.Lock()
		delete(sub.s.subs, sub.id)
		sub.s.mu.Unlock()
		if err := sub.s.send(streamFrame{Type: "unsubscribe", ID: sub.id}); err != nil {
			sub.s.log.Debug("unsubscribe not sent", zap.String("id", sub.id), zap.Error(err))
		}
	})
}

func (s *Stream) Subscribe(scope realtime.Scope, fn func(realtime.Event)) realtime.Subscription {
	s.mu.Lock()
	s.nextID++
	id := "s" + strconv.FormatUint(s.nextID, 10)
	s.subs[id] = streamSub{scope: scope, fn: fn}
	s.mu.Unlock()

	err := s.send(streamFrame{Type: "subscribe", ID: id, Table: scope.Table, Column: scope.Column, Value: scope.Value})
	if err != nil {
		s.log.Warn("subscribe not sent",
			zap.String("table", string(scope.Table)),
			zap.String("value", scope.Value),
			zap.Error(err))
	}
	return &streamSubscription{s: s, id: id}
}

// Done is closed when the connection ends.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err reports why the connection ended.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

func (s *Stream) Close() error {
	s.writeMu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
	s.writeMu.Unlock()
	err := s.ws.Close()
	<-s.done
	return err
}

func (s *Stream) send(f streamFrame) error {
	select {
	case <-s.done:
		return websocket.ErrCloseSent
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return s.ws.WriteJSON(f)
}

func (s *Stream) pingLoop() {
	ticker := time.NewTicker(streamPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.send(streamFrame{Type: "ping"}); err != nil {
				return
			}
		}
	}
}

func (s *Stream) readLoop() {
	defer s.closeOnce.Do(func() { close(s.done) })
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.err = err
			}
			return
		}
		var f streamFrame
		if err := json.Unmarshal(data, &f); err != nil {
			s.log.Warn("invalid frame from server", zap.Error(err))
			continue
		}
		s.dispatch(f)
	}
}

func (s *Stream) dispatch(f streamFrame) {
	switch f.Type {
	case "change":
		if sub, ok := s.lookup(f.ID); ok && f.Event != nil {
			sub.fn(*f.Event)
		}
	case "subscribed":
		if sub, ok := s.lookup(f.ID); ok {
			sub.fn(realtime.Event{Table: sub.scope.Table})
		}
	case "notification":
		s.mu.Lock()
		fn := s.onNotify
		s.mu.Unlock()
		if fn != nil {
			fn(hub.Notification{Type: f.Type, Kind: f.Kind, ID: f.ID, From: f.From})
		}
	case "error":
		s.log.Warn("server rejected frame", zap.String("id", f.ID), zap.String("error", f.Error))
	case "pong":
	default:
		s.log.Debug("unknown frame type", zap.String("type", f.Type))
	}
}

func (s *Stream) lookup(id string) (streamSub, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	return sub, ok
}
