package model

import (
	"sort"
	"time"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEmployee Role = "employee"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleEmployee
}

type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Sector       string     `json:"sector"`
	Role         Role       `json:"role"`
	Birthday     *time.Time `json:"birthday,omitempty"`
	PasswordHash string     `json:"-"`
	AvatarKey    string     `json:"avatarKey,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

type Message struct {
	ID            string    `json:"id"`
	Sector        string    `json:"sector"`
	AuthorID      string    `json:"authorId"`
	Content       string    `json:"content"`
	AttachmentKey string    `json:"attachmentKey,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (m Message) EntityID() string { return m.ID }

type DirectMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (m DirectMessage) EntityID() string { return m.ID }

// ConversationKey returns the order-independent key shared by both
// participants of a direct conversation.
func ConversationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}

type Announcement struct {
	ID        string     `json:"id"`
	AuthorID  string     `json:"authorId"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Sector    string     `json:"sector,omitempty"`
	StartsAt  time.Time  `json:"startsAt"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (a Announcement) EntityID() string { return a.ID }

// VisibleTo reports whether the announcement is live at t for a user of the
// given sector. An empty announcement sector targets everyone.
func (a Announcement) VisibleTo(sector string, t time.Time) bool {
	if a.Sector != "" && a.Sector != sector {
		return false
	}
	if t.Before(a.StartsAt) {
		return false
	}
	return a.EndsAt == nil || t.Before(*a.EndsAt)
}

type TaskStatus string

const (
	TaskTodo  TaskStatus = "todo"
	TaskDoing TaskStatus = "doing"
	TaskDone  TaskStatus = "done"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case TaskTodo, TaskDoing, TaskDone:
		return true
	}
	return false
}

type Task struct {
	ID          string     `json:"id"`
	Board       string     `json:"board"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	OwnerID     string     `json:"ownerId"`
	AssigneeID  string     `json:"assigneeId,omitempty"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (t Task) EntityID() string { return t.ID }

type Presence struct {
	UserID   string    `json:"userId"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

type FaceRecord struct {
	UserID      string      `json:"userId"`
	Descriptors [][]float64 `json:"descriptors"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// NextBirthday returns the first occurrence of birthday's month and day on or
// after the calendar day of now. Feb 29 falls on Feb 28 in common years.
func NextBirthday(birthday, now time.Time) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := birthdayIn(birthday, today.Year(), now.Location())
	if next.Before(today) {
		next = birthdayIn(birthday, today.Year()+1, now.Location())
	}
	return next
}

func birthdayIn(birthday time.Time, year int, loc *time.Location) time.Time {
	month, day := birthday.Month(), birthday.Day()
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
