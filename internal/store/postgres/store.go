// Package postgres implements store.Store on PostgreSQL through the pgx
// database/sql driver. The schema is owned by the embedded goose migrations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/store"
	"servchat/internal/store/postgres/migrations"
)

// DBTX is the subset of database/sql used by the store.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db DBTX
}

var _ store.Store = (*Store)(nil)

func New(db DBTX) *Store {
	return &Store{db: db}
}

// Open connects to dsn and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, *sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migration error: %w", err)
	}
	return New(db), db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return store.ErrConflict
		case pgForeignKeyViolation:
			return store.ErrNotFound
		}
	}
	return fmt.Errorf("db error: %w", err)
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > store.DefaultListLimit {
		return store.DefaultListLimit
	}
	return limit
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

// users

const userColumns = `id, email, name, sector, role, birthday, password_hash, avatar_key, created_at`

func scanUser(row scanner) (model.User, error) {
	var u model.User
	var role string
	var birthday sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Sector, &role, &birthday, &u.PasswordHash, &u.AvatarKey, &u.CreatedAt); err != nil {
		return model.User{}, err
	}
	u.Role = model.Role(role)
	u.Birthday = timePtr(birthday)
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.Email == "" {
		return model.User{}, fmt.Errorf("missing email")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	query :=
		`INSERT INTO users (id, email, name, sector, role, birthday, password_hash, avatar_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING ` + userColumns

	created, err := scanUser(s.db.QueryRowContext(ctx, query,
		u.ID, u.Email, u.Name, u.Sector, string(u.Role), nullTime(u.Birthday), u.PasswordHash, u.AvatarKey, u.CreatedAt))
	if err != nil {
		return model.User{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return model.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower(trim($1))`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return model.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, u)
	}
	return result, mapError(rows.Err())
}

func (s *Store) CountAdmins(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users WHERE role = $1`, string(model.RoleAdmin)).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// permissions

func (s *Store) GetPermissions(ctx context.Context, userID string) (permission.Set, error) {
	var bits int64
	err := s.db.QueryRowContext(ctx, `SELECT bits FROM permissions WHERE user_id = $1`, userID).Scan(&bits)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, mapError(err)
	}
	return permission.Set(bits), nil
}

func (s *Store) SetPermissions(ctx context.Context, userID string, set permission.Set) error {
	query :=
		`INSERT INTO permissions (user_id, bits) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET bits = EXCLUDED.bits`
	_, err := s.db.ExecContext(ctx, query, userID, int64(set))
	return mapError(err)
}

// sector messages

const messageColumns = `id, sector, author_id, content, attachment_key, created_at`

func scanMessage(row scanner) (model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.Sector, &m.AuthorID, &m.Content, &m.AttachmentKey, &m.CreatedAt)
	return m, err
}

func (s *Store) ListMessages(ctx context.Context, sector string, limit int) ([]model.Message, error) {
	query :=
		`SELECT ` + messageColumns + ` FROM (
		   SELECT ` + messageColumns + ` FROM messages
		   WHERE sector = $1
		   ORDER BY created_at DESC, id DESC
		   LIMIT $2
		 ) latest
		 ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, sector, limitOrDefault(limit))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, m)
	}
	return result, mapError(rows.Err())
}

func (s *Store) GetMessage(ctx context.Context, id string) (model.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id))
	if err != nil {
		return model.Message{}, mapError(err)
	}
	return m, nil
}

func (s *Store) InsertMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	query :=
		`INSERT INTO messages (id, sector, author_id, content, attachment_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.Sector, m.AuthorID, m.Content, m.AttachmentKey, m.CreatedAt); err != nil {
		return model.Message{}, mapError(err)
	}
	return m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, id string) (model.Message, error) {
	m, err := scanMessage(s.db.QueryRowContext(ctx, `DELETE FROM messages WHERE id = $1 RETURNING `+messageColumns, id))
	if err != nil {
		return model.Message{}, mapError(err)
	}
	return m, nil
}

// direct messages

const directMessageColumns = `id, sender_id, recipient_id, content, read, created_at`

func scanDirectMessage(row scanner) (model.DirectMessage, error) {
	var m model.DirectMessage
	err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Read, &m.CreatedAt)
	return m, err
}

func (s *Store) queryDirectMessages(ctx context.Context, query string, args ...any) ([]model.DirectMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.DirectMessage, 0)
	for rows.Next() {
		m, err := scanDirectMessage(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, m)
	}
	return result, mapError(rows.Err())
}

func (s *Store) ListConversation(ctx context.Context, a, b string, limit int) ([]model.DirectMessage, error) {
	query :=
		`SELECT ` + directMessageColumns + ` FROM (
		   SELECT ` + directMessageColumns + ` FROM direct_messages
		   WHERE (sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1)
		   ORDER BY created_at DESC, id DESC
		   LIMIT $3
		 ) latest
		 ORDER BY created_at, id`
	return s.queryDirectMessages(ctx, query, a, b, limitOrDefault(limit))
}

func (s *Store) InsertDirectMessage(ctx context.Context, m model.DirectMessage) (model.DirectMessage, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	query :=
		`INSERT INTO direct_messages (id, sender_id, recipient_id, content, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.db.ExecContext(ctx, query, m.ID, m.SenderID, m.RecipientID, m.Content, m.Read, m.CreatedAt); err != nil {
		return model.DirectMessage{}, mapError(err)
	}
	return m, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, readerID, partnerID string) ([]model.DirectMessage, error) {
	query :=
		`UPDATE direct_messages SET read = true
		 WHERE recipient_id = $1 AND sender_id = $2 AND NOT read
		 RETURNING ` + directMessageColumns
	return s.queryDirectMessages(ctx, query, readerID, partnerID)
}

func (s *Store) CountUnreadDirect(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM direct_messages WHERE recipient_id = $1 AND NOT read`, userID).Scan(&n)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// announcements

const announcementColumns = `id, author_id, title, content, sector, starts_at, ends_at, created_at`

func scanAnnouncement(row scanner) (model.Announcement, error) {
	var a model.Announcement
	var endsAt sql.NullTime
	if err := row.Scan(&a.ID, &a.AuthorID, &a.Title, &a.Content, &a.Sector, &a.StartsAt, &endsAt, &a.CreatedAt); err != nil {
		return model.Announcement{}, err
	}
	a.EndsAt = timePtr(endsAt)
	return a, nil
}

func (s *Store) ListAnnouncements(ctx context.Context) ([]model.Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+announcementColumns+` FROM announcements ORDER BY starts_at DESC, id DESC`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.Announcement, 0)
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, a)
	}
	return result, mapError(rows.Err())
}

func (s *Store) GetAnnouncement(ctx context.Context, id string) (model.Announcement, error) {
	a, err := scanAnnouncement(s.db.QueryRowContext(ctx, `SELECT `+announcementColumns+` FROM announcements WHERE id = $1`, id))
	if err != nil {
		return model.Announcement{}, mapError(err)
	}
	return a, nil
}

func (s *Store) InsertAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query :=
		`INSERT INTO announcements (id, author_id, title, content, sector, starts_at, ends_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := s.db.ExecContext(ctx, query, a.ID, a.AuthorID, a.Title, a.Content, a.Sector, a.StartsAt, nullTime(a.EndsAt), a.CreatedAt); err != nil {
		return model.Announcement{}, mapError(err)
	}
	return a, nil
}

func (s *Store) DeleteAnnouncement(ctx context.Context, id string) (model.Announcement, error) {
	a, err := scanAnnouncement(s.db.QueryRowContext(ctx, `DELETE FROM announcements WHERE id = $1 RETURNING `+announcementColumns, id))
	if err != nil {
		return model.Announcement{}, mapError(err)
	}
	return a, nil
}

func (s *Store) MarkAnnouncementRead(ctx context.Context, announcementID, userID string, at time.Time) (bool, error) {
	query :=
		`INSERT INTO announcement_reads (announcement_id, user_id, read_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (announcement_id, user_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, announcementID, userID, at)
	if err != nil {
		return false, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

func (s *Store) ReadAnnouncementIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT announcement_id FROM announcement_reads WHERE user_id = $1`, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mapError(err)
		}
		result[id] = true
	}
	return result, mapError(rows.Err())
}

// tasks

const taskColumns = `id, board, title, description, status, owner_id, assignee_id, due_at, created_at, updated_at`

func scanTask(row scanner) (model.Task, error) {
	var t model.Task
	var status string
	var dueAt sql.NullTime
	if err := row.Scan(&t.ID, &t.Board, &t.Title, &t.Description, &status, &t.OwnerID, &t.AssigneeID, &dueAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return model.Task{}, err
	}
	t.Status = model.TaskStatus(status)
	t.DueAt = timePtr(dueAt)
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, board string) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE board = $1 ORDER BY created_at, id`, board)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, t)
	}
	return result, mapError(rows.Err())
}

func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return model.Task{}, mapError(err)
	}
	return t, nil
}

func (s *Store) InsertTask(ctx context.Context, t model.Task) (model.Task, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query :=
		`INSERT INTO tasks (id, board, title, description, status, owner_id, assignee_id, due_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.db.ExecContext(ctx, query,
		t.ID, t.Board, t.Title, t.Description, string(t.Status), t.OwnerID, t.AssigneeID, nullTime(t.DueAt), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return model.Task{}, mapError(err)
	}
	return t, nil
}

func (s *Store) UpdateTask(ctx context.Context, t model.Task) (model.Task, error) {
	query :=
		`UPDATE tasks
		 SET title = $2, description = $3, status = $4, assignee_id = $5, due_at = $6, updated_at = $7
		 WHERE id = $1
		 RETURNING ` + taskColumns
	updated, err := scanTask(s.db.QueryRowContext(ctx, query,
		t.ID, t.Title, t.Description, string(t.Status), t.AssigneeID, nullTime(t.DueAt), t.UpdatedAt))
	if err != nil {
		return model.Task{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) (model.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `DELETE FROM tasks WHERE id = $1 RETURNING `+taskColumns, id))
	if err != nil {
		return model.Task{}, mapError(err)
	}
	return t, nil
}

// presence

func (s *Store) UpsertPresence(ctx context.Context, p model.Presence) error {
	query :=
		`INSERT INTO presence (user_id, online, last_seen) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET online = EXCLUDED.online, last_seen = EXCLUDED.last_seen`
	_, err := s.db.ExecContext(ctx, query, p.UserID, p.Online, p.LastSeen)
	return mapError(err)
}

func (s *Store) ListPresence(ctx context.Context) ([]model.Presence, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, online, last_seen FROM presence ORDER BY user_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.Presence, 0)
	for rows.Next() {
		var p model.Presence
		if err := rows.Scan(&p.UserID, &p.Online, &p.LastSeen); err != nil {
			return nil, mapError(err)
		}
		result = append(result, p)
	}
	return result, mapError(rows.Err())
}

// facial data

func (s *Store) UpsertFaceRecord(ctx context.Context, r model.FaceRecord) error {
	payload, err := json.Marshal(r.Descriptors)
	if err != nil {
		return fmt.Errorf("encode descriptors: %w", err)
	}
	query :=
		`INSERT INTO facial_data (user_id, descriptors, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET descriptors = EXCLUDED.descriptors, updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, r.UserID, payload, r.UpdatedAt)
	return mapError(err)
}

func (s *Store) ListFaceRecords(ctx context.Context) ([]model.FaceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id, descriptors, updated_at FROM facial_data ORDER BY user_id`)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]model.FaceRecord, 0)
	for rows.Next() {
		var r model.FaceRecord
		var payload []byte
		if err := rows.Scan(&r.UserID, &payload, &r.UpdatedAt); err != nil {
			return nil, mapError(err)
		}
		if err := json.Unmarshal(payload, &r.Descriptors); err != nil {
			return nil, fmt.Errorf("decode descriptors for %s: %w", r.UserID, err)
		}
		result = append(result, r)
	}
	return result, mapError(rows.Err())
}
