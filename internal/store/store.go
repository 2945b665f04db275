// Package store defines the relational data store behind the portal and its
// in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"servchat/internal/model"
	"servchat/internal/permission"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// DefaultListLimit bounds list reads when the caller passes limit <= 0.
const DefaultListLimit = 200

type Store interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CountAdmins(ctx context.Context) (int, error)

	GetPermissions(ctx context.Context, userID string) (permission.Set, error)
	SetPermissions(ctx context.Context, userID string, set permission.Set) error

	ListMessages(ctx context.Context, sector string, limit int) ([]model.Message, error)
	GetMessage(ctx context.Context, id string) (model.Message, error)
	InsertMessage(ctx context.Context, m model.Message) (model.Message, error)
	DeleteMessage(ctx context.Context, id string) (model.Message, error)

	ListConversation(ctx context.Context, a, b string, limit int) ([]model.DirectMessage, error)
	InsertDirectMessage(ctx context.Context, m model.DirectMessage) (model.DirectMessage, error)
	// MarkConversationRead flags every unread message sent by partnerID to
	// readerID as read and returns the rows it changed.
	MarkConversationRead(ctx context.Context, readerID, partnerID string) ([]model.DirectMessage, error)
	CountUnreadDirect(ctx context.Context, userID string) (int, error)

	ListAnnouncements(ctx context.Context) ([]model.Announcement, error)
	GetAnnouncement(ctx context.Context, id string) (model.Announcement, error)
	InsertAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error)
	DeleteAnnouncement(ctx context.Context, id string) (model.Announcement, error)
	// MarkAnnouncementRead reports whether the read receipt is new.
	MarkAnnouncementRead(ctx context.Context, announcementID, userID string, at time.Time) (bool, error)
	ReadAnnouncementIDs(ctx context.Context, userID string) (map[string]bool, error)

	ListTasks(ctx context.Context, board string) ([]model.Task, error)
	GetTask(ctx context.Context, id string) (model.Task, error)
	InsertTask(ctx context.Context, t model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, t model.Task) (model.Task, error)
	DeleteTask(ctx context.Context, id string) (model.Task, error)

	UpsertPresence(ctx context.Context, p model.Presence) error
	ListPresence(ctx context.Context) ([]model.Presence, error)

	UpsertFaceRecord(ctx context.Context, r model.FaceRecord) error
	ListFaceRecords(ctx context.Context) ([]model.FaceRecord, error)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > DefaultListLimit {
		return DefaultListLimit
	}
	return limit
}
