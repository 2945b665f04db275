package store

import (
	"context"
	"time"

	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/realtime"
)

// Publisher receives change events after successful writes.
type Publisher interface {
	Publish(ev realtime.Event)
}

// Notifying wraps a Store and publishes a change event for every mutation
// that succeeds. Reads pass through untouched.
type Notifying struct {
	Store
	pub Publisher
}

func NewNotifying(inner Store, pub Publisher) *Notifying {
	return &Notifying{Store: inner, pub: pub}
}

func messageColumns(m model.Message) map[string]string {
	return map[string]string{"sector": m.Sector, "author_id": m.AuthorID}
}

func directMessageColumns(m model.DirectMessage) map[string]string {
	return map[string]string{
		"conversation": model.ConversationKey(m.SenderID, m.RecipientID),
		"sender_id":    m.SenderID,
		"recipient_id": m.RecipientID,
	}
}

func announcementColumns(a model.Announcement) map[string]string {
	return map[string]string{"sector": a.Sector}
}

func taskColumns(t model.Task) map[string]string {
	return map[string]string{"board": t.Board, "assignee_id": t.AssigneeID}
}

func userColumns(u model.User) map[string]string {
	return map[string]string{"id": u.ID, "sector": u.Sector}
}

func (n *Notifying) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	created, err := n.Store.CreateUser(ctx, u)
	if err != nil {
		return created, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableUsers, Op: realtime.OpInsert, New: created, Columns: userColumns(created)})
	return created, nil
}

func (n *Notifying) SetPermissions(ctx context.Context, userID string, set permission.Set) error {
	if err := n.Store.SetPermissions(ctx, userID, set); err != nil {
		return err
	}
	n.pub.Publish(realtime.Event{
		Table:   realtime.TablePermissions,
		Op:      realtime.OpUpdate,
		New:     map[string]any{"userId": userID, "permissions": set.Names()},
		Columns: map[string]string{"user_id": userID},
	})
	return nil
}

func (n *Notifying) InsertMessage(ctx context.Context, m model.Message) (model.Message, error) {
	created, err := n.Store.InsertMessage(ctx, m)
	if err != nil {
		return created, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableMessages, Op: realtime.OpInsert, New: created, Columns: messageColumns(created)})
	return created, nil
}

func (n *Notifying) DeleteMessage(ctx context.Context, id string) (model.Message, error) {
	old, err := n.Store.DeleteMessage(ctx, id)
	if err != nil {
		return old, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableMessages, Op: realtime.OpDelete, Old: old, Columns: messageColumns(old)})
	return old, nil
}

func (n *Notifying) InsertDirectMessage(ctx context.Context, m model.DirectMessage) (model.DirectMessage, error) {
	created, err := n.Store.InsertDirectMessage(ctx, m)
	if err != nil {
		return created, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableDirectMessages, Op: realtime.OpInsert, New: created, Columns: directMessageColumns(created)})
	return created, nil
}

func (n *Notifying) MarkConversationRead(ctx context.Context, readerID, partnerID string) ([]model.DirectMessage, error) {
	changed, err := n.Store.MarkConversationRead(ctx, readerID, partnerID)
	if err != nil {
		return changed, err
	}
	for _, dm := range changed {
		n.pub.Publish(realtime.Event{Table: realtime.TableDirectMessages, Op: realtime.OpUpdate, New: dm, Columns: directMessageColumns(dm)})
	}
	return changed, nil
}

func (n *Notifying) InsertAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	created, err := n.Store.InsertAnnouncement(ctx, a)
	if err != nil {
		return created, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableAnnouncements, Op: realtime.OpInsert, New: created, Columns: announcementColumns(created)})
	return created, nil
}

func (n *Notifying) DeleteAnnouncement(ctx context.Context, id string) (model.Announcement, error) {
	old, err := n.Store.DeleteAnnouncement(ctx, id)
	if err != nil {
		return old, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableAnnouncements, Op: realtime.OpDelete, Old: old, Columns: announcementColumns(old)})
	return old, nil
}

func (n *Notifying) MarkAnnouncementRead(ctx context.Context, announcementID, userID string, at time.Time) (bool, error) {
	created, err := n.Store.MarkAnnouncementRead(ctx, announcementID, userID, at)
	if err != nil || !created {
		return created, err
	}
	n.pub.Publish(realtime.Event{
		Table:   realtime.TableAnnouncementReads,
		Op:      realtime.OpInsert,
		New:     map[string]any{"announcementId": announcementID, "userId": userID, "readAt": at},
		Columns: map[string]string{"user_id": userID, "announcement_id": announcementID},
	})
	return true, nil
}

func (n *Notifying) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	created, err := n.Store.InsertTask(ctx, t)
	if err != nil {
		return created, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableTasks, Op: realtime.OpInsert, New: created, Columns: taskColumns(created)})
	return created, nil
}

func (n *Notifying) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	old, err := n.Store.GetTask(ctx, t.ID)
	if err != nil {
		return model.Task{}, err
	}
	updated, err := n.Store.UpdateTask(ctx, t)
	if err != nil {
		return updated, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableTasks, Op: realtime.OpUpdate, New: updated, Old: old, Columns: taskColumns(updated)})
	return updated, nil
}

func (n *Notifying) DeleteTask(ctx context.Context, id string) (model.Task, error) {
	old, err := n.Store.DeleteTask(ctx, id)
	if err != nil {
		return old, err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TableTasks, Op: realtime.OpDelete, Old: old, Columns: taskColumns(old)})
	return old, nil
}

func (n *Notifying) UpsertPresence(ctx context.Context, p model.Presence) error {
	if err := n.Store.UpsertPresence(ctx, p); err != nil {
		return err
	}
	n.pub.Publish(realtime.Event{Table: realtime.TablePresence, Op: realtime.OpUpdate, New: p, Columns: map[string]string{"user_id": p.UserID}})
	return nil
}

func (n *Notifying) UpsertFaceRecord(ctx context.Context, r model.FaceRecord) error {
	if err := n.Store.UpsertFaceRecord(ctx, r); err != nil {
		return err
	}
	// Descriptors are biometric data; subscribers only learn that a user re-enrolled.
	n.pub.Publish(realtime.Event{
		Table:   realtime.TableFacialData,
		Op:      realtime.OpUpdate,
		New:     map[string]any{"userId": r.UserID, "updatedAt": r.UpdatedAt},
		Columns: map[string]string{"user_id": r.UserID},
	})
	return nil
}
