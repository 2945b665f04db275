// Package realtime implements the table-scoped change feed that backs push
// invalidation. Subscribers register a Scope and receive every Event whose
// table and filter column match.
package realtime

import (
	"sync"
)

type Table string

const (
	TableUsers             Table = "users"
	TableMessages          Table = "messages"
	TableDirectMessages    Table = "direct_messages"
	TableAnnouncements     Table = "announcements"
	TableAnnouncementReads Table = "announcement_reads"
	TableTasks             Table = "tasks"
	TablePresence          Table = "presence"
	TableFacialData        Table = "facial_data"
	TablePermissions       Table = "permissions"
)

func (t Table) Valid() bool {
	switch t {
	case TableUsers, TableMessages, TableDirectMessages, TableAnnouncements,
		TableAnnouncementReads, TableTasks, TablePresence, TableFacialData, TablePermissions:
		return true
	}
	return false
}

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Event is one row change. Columns carries the filterable column values of
// the affected row so scoped subscribers can be matched without decoding New
// or Old.
type Event struct {
	Table   Table             `json:"table"`
	Op      Operation         `json:"op"`
	New     any               `json:"new,omitempty"`
	Old     any               `json:"old,omitempty"`
	Columns map[string]string `json:"-"`
}

// Scope selects events of one table, optionally narrowed to rows whose
// Column equals Value.
type Scope struct {
	Table  Table  `json:"table"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
}

func (s Scope) Matches(ev Event) bool {
	if ev.Table != s.Table {
		return false
	}
	if s.Column == "" {
		return true
	}
	return ev.Columns[s.Column] == s.Value
}

// Subscriber is the capability the sync layer depends on.
type Subscriber interface {
	Subscribe(scope Scope, fn func(Event)) Subscription
}

// Subscription is a cancellable handle. Cancel is idempotent.
type Subscription interface {
	Cancel()
}

type Feed struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[*subscription]struct{})}
}

type subscription struct {
	feed  *Feed
	scope Scope
	fn    func(Event)
	once  sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
}

func (f *Feed) Subscribe(scope Scope, fn func(Event)) Subscription {
	sub := &subscription{feed: f, scope: scope, fn: fn}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

// Publish delivers ev to every matching subscriber on the caller's goroutine.
func (f *Feed) Publish(ev Event) {
	f.mu.RLock()
	targets := make([]*subscription, 0, len(f.subs))
	for s := range f.subs {
		if s.scope.Matches(ev) {
			targets = append(targets, s)
		}
	}
	f.mu.RUnlock()

	for _, s := range targets {
		s.fn(ev)
	}
}

// Len returns the number of live subscriptions.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
