package livesync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"servchat/internal/realtime"
)

type Category int

const (
	DirectMessages Category = iota
	Announcements
)

func (c Category) String() string {
	switch c {
	case DirectMessages:
		return "direct_messages"
	case Announcements:
		return "announcements"
	}
	return fmt.Sprintf("category(%d)", int(c))
}

type Counts struct {
	DirectMessages int `json:"directMessages"`
	Announcements  int `json:"announcements"`
}

func (c Counts) Get(cat Category) int {
	switch cat {
	case DirectMessages:
		return c.DirectMessages
	case Announcements:
		return c.Announcements
	}
	return 0
}

func (c *Counts) add(cat Category, n int) {
	switch cat {
	case DirectMessages:
		c.DirectMessages += n
	case Announcements:
		c.Announcements += n
	}
}

// UnreadSource reads the authoritative counts and performs the read
// mutations. target is the conversation partner for DirectMessages and the
// announcement id for Announcements.
type UnreadSource interface {
	Counts(ctx context.Context) (Counts, error)
	MarkRead(ctx context.Context, cat Category, target string) error
}

// Unread is the derived unread-count model.
type Unread struct {
	src UnreadSource
	log *zap.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	counts   Counts
	fetchSeq uint64
	applied  uint64
	subs     []realtime.Subscription
}

func NewUnread(src UnreadSource, logger *zap.Logger) *Unread {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, stop := context.WithCancel(context.Background())
	return &Unread{src: src, log: logger, base: base, stop: stop}
}

func (u *Unread) Counts() Counts {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts
}

// Refresh fetches the counts. A fetch that started before a newer fetch
// landed, or before a local mark-as-read, is discarded.
func (u *Unread) Refresh(ctx context.Context) error {
	u.mu.Lock()
	u.fetchSeq++
	seq := u.fetchSeq
	u.mu.Unlock()

	counts, err := u.src.Counts(ctx)

	u.mu.Lock()
	defer u.mu.Unlock()
	if seq <= u.applied {
		return nil
	}
	if err != nil {
		u.log.Warn("unread counts fetch failed", zap.Error(err))
		return err
	}
	u.applied = seq
	u.counts = counts
	return nil
}

// MarkRead lowers the count of cat by n at once, then performs the mutation.
// If the mutation fails the subtracted amount is restored, unless a fetch
// landed meanwhile and already replaced the counts.
func (u *Unread) MarkRead(ctx context.Context, cat Category, target string, n int) error {
	u.mu.Lock()
	dec := n
	if cur := u.counts.Get(cat); dec > cur {
		dec = cur
	}
	if dec < 0 {
		dec = 0
	}
	u.counts.add(cat, -dec)
	u.applied = u.fetchSeq
	mark := u.applied
	u.mu.Unlock()

	if err := u.src.MarkRead(ctx, cat, target); err != nil {
		u.mu.Lock()
		restored := u.applied == mark
		if restored {
			u.counts.add(cat, dec)
		}
		u.mu.Unlock()
		u.log.Warn("mark read failed",
			zap.Stringer("category", cat),
			zap.String("target", target),
			zap.Bool("restored", restored),
			zap.Error(err))
		return err
	}
	return nil
}

// Watch refreshes the counts whenever an event arrives on any of scopes.
// Watch after Close is a no-op.
func (u *Unread) Watch(sub realtime.Subscriber, scopes ...realtime.Scope) {
	for _, scope := range scopes {
		u.mu.Lock()
		closed := u.closed
		u.mu.Unlock()
		if closed {
			return
		}

		s := sub.Subscribe(scope, func(realtime.Event) { u.spawnRefresh() })
		u.mu.Lock()
		if u.closed {
			u.mu.Unlock()
			s.Cancel()
			return
		}
		u.subs = append(u.subs, s)
		u.mu.Unlock()
	}
}

func (u *Unread) spawnRefresh() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.wg.Add(1)
	u.mu.Unlock()

	go func() {
		defer u.wg.Done()
		_ = u.Refresh(u.base)
	}()
}

func (u *Unread) Close() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	subs := u.subs
	u.subs = nil
	u.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
	u.stop()
	u.wg.Wait()
}
