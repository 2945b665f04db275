package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"servchat/internal/model"
	"servchat/internal/permission"
)

const snapshotVersion = 1

type snapshot struct {
	Version        int                         `json:"version"`
	Users          []model.User                `json:"users"`
	PasswordHashes map[string]string           `json:"passwordHashes"`
	Permissions    map[string][]string         `json:"permissions"`
	Messages       []model.Message             `json:"messages"`
	DirectMessages []model.DirectMessage       `json:"directMessages"`
	Announcements  []model.Announcement        `json:"announcements"`
	Reads          map[string]map[string]int64 `json:"reads"`
	Tasks          []model.Task                `json:"tasks"`
	Faces          []model.FaceRecord          `json:"faces"`
	SavedAt        int64                       `json:"savedAt"`
}

func (m *Memory) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file snapshot
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	if file.Version != snapshotVersion {
		return errors.New("unsupported state version")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range file.Users {
		if u.ID == "" || u.Email == "" {
			continue
		}
		u.PasswordHash = file.PasswordHashes[u.ID]
		m.usersByID[u.ID] = u
		m.userIDByEmail[emailKey(u.Email)] = u.ID
	}
	for userID, names := range file.Permissions {
		set, err := permission.ParseNames(names)
		if err != nil {
			m.logger.Warn("state load: skipping permissions", zap.String("user", userID), zap.Error(err))
			continue
		}
		m.permissions[userID] = set
	}
	for _, msg := range file.Messages {
		m.messages[msg.ID] = msg
	}
	for _, dm := range file.DirectMessages {
		m.directMessages[dm.ID] = dm
	}
	for _, a := range file.Announcements {
		m.announcements[a.ID] = a
	}
	for annID, readers := range file.Reads {
		set := make(map[string]time.Time, len(readers))
		for userID, at := range readers {
			set[userID] = time.UnixMilli(at).UTC()
		}
		m.reads[annID] = set
	}
	for _, t := range file.Tasks {
		m.tasks[t.ID] = t
	}
	for _, r := range file.Faces {
		m.faces[r.UserID] = r
	}
	return nil
}

func (m *Memory) snapshotLocked() *snapshot {
	s := &snapshot{
		Version:        snapshotVersion,
		PasswordHashes: make(map[string]string, len(m.usersByID)),
		Permissions:    make(map[string][]string, len(m.permissions)),
		Reads:          make(map[string]map[string]int64, len(m.reads)),
	}
	for _, u := range m.usersByID {
		s.Users = append(s.Users, u)
		if u.PasswordHash != "" {
			s.PasswordHashes[u.ID] = u.PasswordHash
		}
	}
	sort.Slice(s.Users, func(i, j int) bool { return s.Users[i].ID < s.Users[j].ID })
	for userID, set := range m.permissions {
		s.Permissions[userID] = set.Names()
	}
	for _, msg := range m.messages {
		s.Messages = append(s.Messages, msg)
	}
	for _, dm := range m.directMessages {
		s.DirectMessages = append(s.DirectMessages, dm)
	}
	for _, a := range m.announcements {
		s.Announcements = append(s.Announcements, a)
	}
	for annID, readers := range m.reads {
		out := make(map[string]int64, len(readers))
		for userID, at := range readers {
			out[userID] = at.UnixMilli()
		}
		s.Reads[annID] = out
	}
	for _, t := range m.tasks {
		s.Tasks = append(s.Tasks, t)
	}
	for _, r := range m.faces {
		s.Faces = append(s.Faces, r)
	}
	return s
}

func (m *Memory) persist(s *snapshot) {
	path := m.stateFile
	if path == "" || s == nil {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	log := m.logger.With(zap.String("file", path))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		log.Error("state persistence: mkdir failed", zap.Error(err))
		return
	}

	s.SavedAt = time.Now().UnixMilli()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		log.Error("state persistence: marshal failed", zap.Error(err))
		return
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		log.Error("state persistence: create temp failed", zap.Error(err))
		return
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		log.Error("state persistence: chmod temp failed", zap.Error(err))
		return
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		log.Error("state persistence: write temp failed", zap.Error(err))
		return
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		log.Error("state persistence: sync temp failed", zap.Error(err))
		return
	}
	if err := tmp.Close(); err != nil {
		log.Error("state persistence: close temp failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmpName, path); err != nil {
		log.Error("state persistence: rename failed", zap.Error(err))
	}
}
