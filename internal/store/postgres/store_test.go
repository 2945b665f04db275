package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/store"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return New(db), mock, db
}

func TestInsertMessage_Success(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+messages`).
		WithArgs("m1", "ti", "u1", "oi", "", t0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := s.InsertMessage(context.Background(), model.Message{ID: "m1", Sector: "ti", AuthorID: "u1", Content: "oi", CreatedAt: t0})
	if err != nil {
		t.Fatalf("InsertMessage error: %v", err)
	}
	if got.ID != "m1" {
		t.Fatalf("unexpected message: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUser_UniqueViolationIsConflict(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := s.CreateUser(context.Background(), model.User{Email: "a@corp.test", CreatedAt: t0})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := s.GetUser(context.Background(), "ghost")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetUserByEmail_ScansNullableBirthday(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "email", "name", "sector", "role", "birthday", "password_hash", "avatar_key", "created_at"}).
		AddRow("u1", "ana@corp.test", "Ana", "ti", "admin", nil, "hash", "", t0)
	mock.ExpectQuery(`lower\(email\)\s*=\s*lower\(trim\(\$1\)\)`).
		WithArgs("ANA@corp.test").
		WillReturnRows(rows)

	u, err := s.GetUserByEmail(context.Background(), "ANA@corp.test")
	if err != nil {
		t.Fatalf("GetUserByEmail error: %v", err)
	}
	if u.Role != model.RoleAdmin || u.Birthday != nil || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}
}

func TestGetPermissions_MissingRowIsEmptySet(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+bits\s+FROM\s+permissions`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"bits"}))

	set, err := s.GetPermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetPermissions error: %v", err)
	}
	if set != 0 {
		t.Fatalf("expected empty set, got %v", set)
	}
}

func TestSetPermissions_UnknownUserIsNotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+permissions`).
		WithArgs("ghost", int64(permission.NewSet(permission.SendEmail))).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	err := s.SetPermissions(context.Background(), "ghost", permission.NewSet(permission.SendEmail))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListConversation_BothDirections(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "sender_id", "recipient_id", "content", "read", "created_at"}).
		AddRow("d1", "a", "b", "oi", true, t0).
		AddRow("d2", "b", "a", "olá", false, t0.Add(time.Second))
	mock.ExpectQuery(`FROM\s+direct_messages`).
		WithArgs("a", "b", store.DefaultListLimit).
		WillReturnRows(rows)

	msgs, err := s.ListConversation(context.Background(), "a", "b", 0)
	if err != nil {
		t.Fatalf("ListConversation error: %v", err)
	}
	if len(msgs) != 2 || msgs[1].Content != "olá" || msgs[1].Read {
		t.Fatalf("unexpected messages: %+v", msgs)
	}
}

func TestMarkAnnouncementRead_AlreadyRead(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+announcement_reads`).
		WithArgs("a1", "u1", t0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := s.MarkAnnouncementRead(context.Background(), "a1", "u1", t0)
	if err != nil {
		t.Fatalf("MarkAnnouncementRead error: %v", err)
	}
	if created {
		t.Fatalf("expected no new receipt")
	}
}

func TestListFaceRecords_DecodesDescriptors(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"user_id", "descriptors", "updated_at"}).
		AddRow("u1", []byte(`[[0.25,0.5]]`), t0)
	mock.ExpectQuery(`FROM\s+facial_data`).WillReturnRows(rows)

	records, err := s.ListFaceRecords(context.Background())
	if err != nil {
		t.Fatalf("ListFaceRecords error: %v", err)
	}
	if len(records) != 1 || records[0].Descriptors[0][1] != 0.5 {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestDeleteTask_DBErrorIsWrapped(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`DELETE\s+FROM\s+tasks`).
		WithArgs("t1").
		WillReturnError(errors.New("db down"))

	_, err := s.DeleteTask(context.Background(), "t1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
