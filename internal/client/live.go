package client

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"servchat/internal/livesync"
	"servchat/internal/model"
	"servchat/internal/realtime"
)

// SectorChat builds a live sector chat list for the signed-in user. Sends
// are refused locally for sectors the user cannot post to.
func (c *Client) SectorChat(sub realtime.Subscriber, onChange func([]model.Message), logger *zap.Logger) *livesync.Controller[model.Message] {
	return livesync.NewController[model.Message](SectorMessages{C: c}, sub, livesync.Options[model.Message]{
		Provisional: func(m model.Message, id string) model.Message {
			m.ID = id
			if m.AuthorID == "" {
				m.AuthorID = c.Self().ID
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = time.Now().UTC()
			}
			return m
		},
		Authorize: func(scope realtime.Scope) bool {
			u := c.Self()
			return u.ID != "" && (u.Role == model.RoleAdmin || u.Sector == scope.Value)
		},
		OnChange: onChange,
		Logger:   logger,
	})
}

// Conversation builds a live direct message list for the signed-in user.
func (c *Client) Conversation(sub realtime.Subscriber, onChange func([]model.DirectMessage), logger *zap.Logger) *livesync.Controller[model.DirectMessage] {
	return livesync.NewController[model.DirectMessage](DirectMessages{C: c}, sub, livesync.Options[model.DirectMessage]{
		Provisional: func(m model.DirectMessage, id string) model.DirectMessage {
			m.ID = id
			if m.SenderID == "" {
				m.SenderID = c.Self().ID
			}
			if m.CreatedAt.IsZero() {
				m.CreatedAt = time.Now().UTC()
			}
			return m
		},
		Authorize: func(scope realtime.Scope) bool {
			self := c.Self().ID
			a, b, ok := strings.Cut(scope.Value, ":")
			return self != "" && ok && (a == self || b == self)
		},
		OnChange: onChange,
		Logger:   logger,
	})
}
