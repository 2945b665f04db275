package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/auth"
	appmail "servchat/internal/mail"
	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/store"
)

// AdminHandler serves the privileged operations. Route-level middleware
// enforces the role or permission each one needs.
type AdminHandler struct {
	Store       store.Store
	Mailer      appmail.Sender
	Concurrency int
	Logger      *zap.Logger
}

type createUserBody struct {
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Sector      string   `json:"sector"`
	Password    string   `json:"password"`
	Birthday    string   `json:"birthday"`
	Permissions []string `json:"permissions"`
}

type permissionsBody struct {
	Permissions []string `json:"permissions"`
}

type feedbackBody struct {
	Recipients []string `json:"recipients"`
	UserIDs    []string `json:"userIds"`
	All        bool     `json:"all"`
	Subject    string   `json:"subject"`
	Message    string   `json:"message"`
}

func (h *AdminHandler) CreateAdmin(c *gin.Context) {
	h.createUser(c, model.RoleAdmin)
}

func (h *AdminHandler) CreateUser(c *gin.Context) {
	h.createUser(c, model.RoleEmployee)
}

func (h *AdminHandler) createUser(c *gin.Context, role model.Role) {
	logger := loggerOrNop(h.Logger)

	var body createUserBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(body.Email))
	if err != nil {
		badRequest(c, "Invalid email")
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		badRequest(c, "Name is required")
		return
	}

	var birthday *time.Time
	if body.Birthday != "" {
		b, err := time.Parse("2006-01-02", body.Birthday)
		if err != nil {
			badRequest(c, "Invalid birthday, expected YYYY-MM-DD")
			return
		}
		birthday = &b
	}

	perms, err := permission.ParseNames(body.Permissions)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	hash, err := auth.HashPassword(body.Password)
	if errors.Is(err, auth.ErrWeakPassword) {
		badRequest(c, err.Error())
		return
	}
	if err != nil {
		logger.Error("hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	ctx := c.Request.Context()
	created, err := h.Store.CreateUser(ctx, model.User{
		Email:        addr.Address,
		Name:         name,
		Sector:       strings.TrimSpace(body.Sector),
		Role:         role,
		Birthday:     birthday,
		PasswordHash: hash,
		CreatedAt:    nowUTC(),
	})
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	if perms != 0 {
		if err := h.Store.SetPermissions(ctx, created.ID, perms); err != nil {
			storeError(c, logger, err, "User not found")
			return
		}
	}

	logger.Info("user created", zap.String("user_id", created.ID), zap.String("role", string(role)))
	c.JSON(http.StatusCreated, gin.H{"user": created, "permissions": perms.Names()})
}

func (h *AdminHandler) SetPermissions(c *gin.Context) {
	logger := loggerOrNop(h.Logger)

	var body permissionsBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Permissions == nil {
		badRequest(c, "Invalid request")
		return
	}
	set, err := permission.ParseNames(body.Permissions)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	userID := c.Param("id")
	if _, err := h.Store.GetUser(ctx, userID); err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	if err := h.Store.SetPermissions(ctx, userID, set); err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": userID, "permissions": set.Names()})
}

func (h *AdminHandler) mailer(c *gin.Context) (appmail.Sender, bool) {
	if h.Mailer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Email is not configured"})
		return nil, false
	}
	return h.Mailer, true
}

// Feedback mails one message to explicit addresses, to users by id, or to
// everyone. Partial delivery is still a 200 with per-recipient errors.
func (h *AdminHandler) Feedback(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	sender, ok := h.mailer(c)
	if !ok {
		return
	}

	var body feedbackBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	subject := strings.TrimSpace(body.Subject)
	text := strings.TrimSpace(body.Message)
	if subject == "" || text == "" {
		badRequest(c, "Subject and message are required")
		return
	}

	ctx := c.Request.Context()
	recipients := append([]string(nil), body.Recipients...)
	if body.All || len(body.UserIDs) > 0 {
		users, err := h.Store.ListUsers(ctx)
		if err != nil {
			storeError(c, logger, err, "User not found")
			return
		}
		wanted := make(map[string]bool, len(body.UserIDs))
		for _, id := range body.UserIDs {
			wanted[id] = true
		}
		for _, u := range users {
			if body.All || wanted[u.ID] {
				recipients = append(recipients, u.Email)
			}
		}
	}
	recipients = dedupeEmails(recipients)
	if len(recipients) == 0 {
		badRequest(c, "No recipients")
		return
	}

	msgs := make([]appmail.Message, 0, len(recipients))
	for _, to := range recipients {
		msgs = append(msgs, appmail.Message{To: to, Subject: subject, Body: text})
	}
	report := appmail.SendBulk(ctx, sender, msgs, h.Concurrency, logger)
	logger.Info("feedback sent", zap.Int("sent", report.Sent), zap.Int("failed", len(report.Errors)))
	c.JSON(http.StatusOK, report)
}

// AnnouncementEmail mails an announcement to every user of its sector, or to
// everyone when it targets all sectors.
func (h *AdminHandler) AnnouncementEmail(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	sender, ok := h.mailer(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	a, err := h.Store.GetAnnouncement(ctx, c.Param("id"))
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	users, err := h.Store.ListUsers(ctx)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}

	var msgs []appmail.Message
	for _, u := range users {
		if a.Sector != "" && u.Sector != a.Sector {
			continue
		}
		msgs = append(msgs, appmail.Message{
			To:      u.Email,
			Subject: fmt.Sprintf("[Announcement] %s", a.Title),
			Body:    a.Content,
		})
	}
	report := appmail.SendBulk(ctx, sender, msgs, h.Concurrency, logger)
	logger.Info("announcement emailed",
		zap.String("announcement_id", a.ID),
		zap.Int("sent", report.Sent),
		zap.Int("failed", len(report.Errors)))
	c.JSON(http.StatusOK, report)
}

func dedupeEmails(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.TrimSpace(e)
		key := strings.ToLower(e)
		if e == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}
