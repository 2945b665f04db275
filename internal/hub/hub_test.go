package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"servchat/internal/model"
	"servchat/internal/realtime"
)

type testWriter struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
	closed bool
}

func (w *testWriter) Write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, message)
	if w.fail {
		return errors.New("test")
	}
	return nil
}

func (w *testWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *testWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.writes)
}

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := New(nil)
	w1 := &testWriter{}
	c1 := &Connection{UserID: "u", Writer: w1}

	h.Register(c1)
	if !h.Connected("u") {
		t.Fatalf("expected u to be connected")
	}
	h.Broadcast("u", []byte("x"))
	if w1.count() != 1 {
		t.Fatalf("expected 1 write, got %d", w1.count())
	}

	h.Unregister(c1)
	h.Broadcast("u", []byte("x"))
	if w1.count() != 1 {
		t.Fatalf("expected no more writes, got %d", w1.count())
	}
	if h.Connected("u") {
		t.Fatalf("expected u to be gone")
	}
}

func TestHub_RemovesFailedConnections(t *testing.T) {
	h := New(nil)
	w1 := &testWriter{fail: true}
	c1 := &Connection{UserID: "u", Writer: w1}
	h.Register(c1)

	h.Broadcast("u", []byte("x"))
	h.Broadcast("u", []byte("x"))
	if w1.count() != 1 {
		t.Fatalf("expected only 1 write before removal, got %d", w1.count())
	}
	if !w1.closed {
		t.Fatalf("expected failed connection to be closed")
	}
}

func TestHub_FollowNotifiesRecipientAndAudience(t *testing.T) {
	h := New(nil)
	alice, bob := &testWriter{}, &testWriter{}
	root := &testWriter{}
	h.Register(&Connection{UserID: "alice", Sector: "ti", Writer: alice})
	h.Register(&Connection{UserID: "bob", Sector: "rh", Writer: bob})
	h.Register(&Connection{UserID: "root", Admin: true, Writer: root})

	feed := realtime.NewFeed()
	stop := h.Follow(feed)

	feed.Publish(realtime.Event{
		Table: realtime.TableDirectMessages,
		Op:    realtime.OpInsert,
		New:   model.DirectMessage{ID: "m1", SenderID: "alice", RecipientID: "bob"},
	})
	if alice.count() != 0 || bob.count() != 1 {
		t.Fatalf("expected only bob notified, got alice=%d bob=%d", alice.count(), bob.count())
	}
	var n Notification
	if err := json.Unmarshal(bob.writes[0], &n); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n.Kind != KindDirectMessage || n.From != "alice" || n.ID != "m1" {
		t.Fatalf("unexpected notification %+v", n)
	}

	feed.Publish(realtime.Event{
		Table: realtime.TableAnnouncements,
		Op:    realtime.OpInsert,
		New:   model.Announcement{ID: "a1", AuthorID: "alice"},
	})
	if alice.count() != 1 || bob.count() != 2 || root.count() != 1 {
		t.Fatalf("expected announcement to reach everyone, got alice=%d bob=%d root=%d", alice.count(), bob.count(), root.count())
	}

	feed.Publish(realtime.Event{
		Table: realtime.TableAnnouncements,
		Op:    realtime.OpInsert,
		New:   model.Announcement{ID: "a2", AuthorID: "root", Sector: "ti"},
	})
	if alice.count() != 2 || bob.count() != 2 || root.count() != 2 {
		t.Fatalf("expected ti announcement to reach ti and admins only, got alice=%d bob=%d root=%d", alice.count(), bob.count(), root.count())
	}

	stop()
	if feed.Len() != 0 {
		t.Fatalf("expected subscriptions cancelled, got %d", feed.Len())
	}
}
