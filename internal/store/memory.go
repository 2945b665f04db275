package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"servchat/internal/model"
	"servchat/internal/permission"
)

type Memory struct {
	mu sync.RWMutex

	stateFile string
	persistMu sync.Mutex
	logger    *zap.Logger

	usersByID      map[string]model.User
	userIDByEmail  map[string]string
	permissions    map[string]permission.Set
	messages       map[string]model.Message
	directMessages map[string]model.DirectMessage
	announcements  map[string]model.Announcement
	reads          map[string]map[string]time.Time // announcementID -> userID -> readAt
	tasks          map[string]model.Task
	presence       map[string]model.Presence
	faces          map[string]model.FaceRecord
}

type Options struct {
	// StateFile, when set, receives a JSON snapshot after every mutation and
	// is loaded on startup.
	StateFile string
	Logger    *zap.Logger
}

func NewMemory() *Memory {
	return NewMemoryWithOptions(Options{})
}

func NewMemoryWithOptions(opts Options) *Memory {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Memory{
		stateFile:      opts.StateFile,
		logger:         logger,
		usersByID:      make(map[string]model.User),
		userIDByEmail:  make(map[string]string),
		permissions:    make(map[string]permission.Set),
		messages:       make(map[string]model.Message),
		directMessages: make(map[string]model.DirectMessage),
		announcements:  make(map[string]model.Announcement),
		reads:          make(map[string]map[string]time.Time),
		tasks:          make(map[string]model.Task),
		presence:       make(map[string]model.Presence),
		faces:          make(map[string]model.FaceRecord),
	}

	if m.stateFile != "" {
		if err := m.loadFromFile(m.stateFile); err != nil {
			m.logger.Warn("state load failed", zap.String("file", m.stateFile), zap.Error(err))
		}
	}
	return m
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// commitLocked snapshots state when persistence is enabled. Callers hold mu
// and must call persist with the result after releasing it.
func (m *Memory) commitLocked() *snapshot {
	if m.stateFile == "" {
		return nil
	}
	return m.snapshotLocked()
}

func (m *Memory) CreateUser(_ context.Context, u model.User) (model.User, error) {
	if u.Email == "" {
		return model.User{}, fmt.Errorf("missing email")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	m.mu.Lock()
	key := emailKey(u.Email)
	if _, ok := m.userIDByEmail[key]; ok {
		m.mu.Unlock()
		return model.User{}, ErrConflict
	}
	if _, ok := m.usersByID[u.ID]; ok {
		m.mu.Unlock()
		return model.User{}, ErrConflict
	}
	m.usersByID[u.ID] = u
	m.userIDByEmail[key] = u.ID
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return u, nil
}

func (m *Memory) GetUser(_ context.Context, id string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.usersByID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.userIDByEmail[emailKey(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.usersByID[id], nil
}

func (m *Memory) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.User, 0, len(m.usersByID))
	for _, u := range m.usersByID {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *Memory) CountAdmins(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, u := range m.usersByID {
		if u.Role == model.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func (m *Memory) GetPermissions(_ context.Context, userID string) (permission.Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.permissions[userID], nil
}

func (m *Memory) SetPermissions(_ context.Context, userID string, set permission.Set) error {
	m.mu.Lock()
	if _, ok := m.usersByID[userID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	m.permissions[userID] = set
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return nil
}

func (m *Memory) ListMessages(_ context.Context, sector string, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Message, 0)
	for _, msg := range m.messages {
		if msg.Sector == sector {
			result = append(result, msg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessByTime(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID) })
	return tail(result, clampLimit(limit)), nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.messages[id]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *Memory) InsertMessage(_ context.Context, msg model.Message) (model.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	m.mu.Lock()
	if _, ok := m.messages[msg.ID]; ok {
		m.mu.Unlock()
		return model.Message{}, ErrConflict
	}
	m.messages[msg.ID] = msg
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return msg, nil
}

func (m *Memory) DeleteMessage(_ context.Context, id string) (model.Message, error) {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if !ok {
		m.mu.Unlock()
		return model.Message{}, ErrNotFound
	}
	delete(m.messages, id)
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return msg, nil
}

func (m *Memory) ListConversation(_ context.Context, a, b string, limit int) ([]model.DirectMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := model.ConversationKey(a, b)
	result := make([]model.DirectMessage, 0)
	for _, dm := range m.directMessages {
		if model.ConversationKey(dm.SenderID, dm.RecipientID) == key {
			result = append(result, dm)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessByTime(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID) })
	return tail(result, clampLimit(limit)), nil
}

func (m *Memory) InsertDirectMessage(_ context.Context, dm model.DirectMessage) (model.DirectMessage, error) {
	if dm.ID == "" {
		dm.ID = uuid.NewString()
	}

	m.mu.Lock()
	if _, ok := m.directMessages[dm.ID]; ok {
		m.mu.Unlock()
		return model.DirectMessage{}, ErrConflict
	}
	m.directMessages[dm.ID] = dm
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return dm, nil
}

func (m *Memory) MarkConversationRead(_ context.Context, readerID, partnerID string) ([]model.DirectMessage, error) {
	m.mu.Lock()
	changed := make([]model.DirectMessage, 0)
	for id, dm := range m.directMessages {
		if dm.RecipientID == readerID && dm.SenderID == partnerID && !dm.Read {
			dm.Read = true
			m.directMessages[id] = dm
			changed = append(changed, dm)
		}
	}
	var snap *snapshot
	if len(changed) > 0 {
		snap = m.commitLocked()
	}
	m.mu.Unlock()

	m.persist(snap)
	sort.Slice(changed, func(i, j int) bool { return lessByTime(changed[i].CreatedAt, changed[j].CreatedAt, changed[i].ID, changed[j].ID) })
	return changed, nil
}

func (m *Memory) CountUnreadDirect(_ context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, dm := range m.directMessages {
		if dm.RecipientID == userID && !dm.Read {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListAnnouncements(_ context.Context) ([]model.Announcement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Announcement, 0, len(m.announcements))
	for _, a := range m.announcements {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return lessByTime(result[j].StartsAt, result[i].StartsAt, result[j].ID, result[i].ID)
	})
	return result, nil
}

func (m *Memory) GetAnnouncement(_ context.Context, id string) (model.Announcement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.announcements[id]
	if !ok {
		return model.Announcement{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) InsertAnnouncement(_ context.Context, a model.Announcement) (model.Announcement, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	m.mu.Lock()
	if _, ok := m.announcements[a.ID]; ok {
		m.mu.Unlock()
		return model.Announcement{}, ErrConflict
	}
	m.announcements[a.ID] = a
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return a, nil
}

func (m *Memory) DeleteAnnouncement(_ context.Context, id string) (model.Announcement, error) {
	m.mu.Lock()
	a, ok := m.announcements[id]
	if !ok {
		m.mu.Unlock()
		return model.Announcement{}, ErrNotFound
	}
	delete(m.announcements, id)
	delete(m.reads, id)
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return a, nil
}

func (m *Memory) MarkAnnouncementRead(_ context.Context, announcementID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	if _, ok := m.announcements[announcementID]; !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	readers := m.reads[announcementID]
	if readers == nil {
		readers = make(map[string]time.Time)
		m.reads[announcementID] = readers
	}
	if _, ok := readers[userID]; ok {
		m.mu.Unlock()
		return false, nil
	}
	readers[userID] = at
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return true, nil
}

func (m *Memory) ReadAnnouncementIDs(_ context.Context, userID string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool)
	for annID, readers := range m.reads {
		if _, ok := readers[userID]; ok {
			result[annID] = true
		}
	}
	return result, nil
}

func (m *Memory) ListTasks(_ context.Context, board string) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Task, 0)
	for _, t := range m.tasks {
		if t.Board == board {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessByTime(result[i].CreatedAt, result[j].CreatedAt, result[i].ID, result[j].ID) })
	return result, nil
}

func (m *Memory) GetTask(_ context.Context, id string) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) InsertTask(_ context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	m.mu.Lock()
	if _, ok := m.tasks[t.ID]; ok {
		m.mu.Unlock()
		return model.Task{}, ErrConflict
	}
	m.tasks[t.ID] = t
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return t, nil
}

func (m *Memory) UpdateTask(_ context.Context, t model.Task) (model.Task, error) {
	m.mu.Lock()
	existing, ok := m.tasks[t.ID]
	if !ok {
		m.mu.Unlock()
		return model.Task{}, ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.OwnerID = existing.OwnerID
	t.Board = existing.Board
	m.tasks[t.ID] = t
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return t, nil
}

func (m *Memory) DeleteTask(_ context.Context, id string) (model.Task, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return model.Task{}, ErrNotFound
	}
	delete(m.tasks, id)
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return t, nil
}

func (m *Memory) UpsertPresence(_ context.Context, p model.Presence) error {
	if p.UserID == "" {
		return fmt.Errorf("missing user id")
	}

	m.mu.Lock()
	m.presence[p.UserID] = p
	m.mu.Unlock()
	// Presence is not snapshotted.
	return nil
}

func (m *Memory) ListPresence(_ context.Context) ([]model.Presence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.Presence, 0, len(m.presence))
	for _, p := range m.presence {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func (m *Memory) UpsertFaceRecord(_ context.Context, r model.FaceRecord) error {
	if r.UserID == "" {
		return fmt.Errorf("missing user id")
	}
	descriptors := make([][]float64, 0, len(r.Descriptors))
	for _, d := range r.Descriptors {
		descriptors = append(descriptors, append([]float64(nil), d...))
	}
	r.Descriptors = descriptors

	m.mu.Lock()
	m.faces[r.UserID] = r
	snap := m.commitLocked()
	m.mu.Unlock()

	m.persist(snap)
	return nil
}

func (m *Memory) ListFaceRecords(_ context.Context) ([]model.FaceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]model.FaceRecord, 0, len(m.faces))
	for _, r := range m.faces {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

func lessByTime(a, b time.Time, idA, idB string) bool {
	if a.Equal(b) {
		return idA < idB
	}
	return a.Before(b)
}

func tail[T any](items []T, limit int) []T {
	if len(items) <= limit {
		return items
	}
	return items[len(items)-limit:]
}
