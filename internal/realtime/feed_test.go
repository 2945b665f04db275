package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeed_ScopedDelivery(t *testing.T) {
	f := NewFeed()
	var ti, all int
	f.Subscribe(Scope{Table: TableMessages, Column: "sector", Value: "ti"}, func(Event) { ti++ })
	f.Subscribe(Scope{Table: TableMessages}, func(Event) { all++ })

	f.Publish(Event{Table: TableMessages, Op: OpInsert, Columns: map[string]string{"sector": "ti"}})
	f.Publish(Event{Table: TableMessages, Op: OpInsert, Columns: map[string]string{"sector": "rh"}})
	f.Publish(Event{Table: TableTasks, Op: OpInsert, Columns: map[string]string{"sector": "ti"}})

	assert.Equal(t, 1, ti)
	assert.Equal(t, 2, all)
}

func TestFeed_CancelStopsDelivery(t *testing.T) {
	f := NewFeed()
	calls := 0
	sub := f.Subscribe(Scope{Table: TablePresence}, func(Event) { calls++ })

	f.Publish(Event{Table: TablePresence, Op: OpUpdate})
	sub.Cancel()
	sub.Cancel()
	f.Publish(Event{Table: TablePresence, Op: OpUpdate})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, f.Len())
}

func TestTableValid(t *testing.T) {
	assert.True(t, TableDirectMessages.Valid())
	assert.False(t, Table("secrets").Valid())
}
