package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/livesync"
	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/store"
)

type AnnouncementHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

type announcementView struct {
	model.Announcement
	Read bool `json:"read"`
}

type createAnnouncementBody struct {
	Title    string     `json:"title"`
	Content  string     `json:"content"`
	Sector   string     `json:"sector"`
	StartsAt *time.Time `json:"startsAt"`
	EndsAt   *time.Time `json:"endsAt"`
}

// visible returns the announcements live for u now. Admins see every
// announcement regardless of sector.
func (h *AnnouncementHandler) visible(c *gin.Context, u model.User) ([]model.Announcement, error) {
	all, err := h.Store.ListAnnouncements(c.Request.Context())
	if err != nil {
		return nil, err
	}
	now := nowUTC()
	out := make([]model.Announcement, 0, len(all))
	for _, a := range all {
		sector := u.Sector
		if u.Role == model.RoleAdmin {
			sector = a.Sector
		}
		if a.VisibleTo(sector, now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (h *AnnouncementHandler) List(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	anns, err := h.visible(c, u)
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	read, err := h.Store.ReadAnnouncementIDs(c.Request.Context(), u.ID)
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	out := make([]announcementView, 0, len(anns))
	for _, a := range anns {
		out = append(out, announcementView{Announcement: a, Read: read[a.ID]})
	}
	c.JSON(http.StatusOK, gin.H{"announcements": out})
}

func (h *AnnouncementHandler) Create(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}

	var body createAnnouncementBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	title := strings.TrimSpace(body.Title)
	content, fits := cleanContent(body.Content)
	if title == "" || content == "" || !fits {
		badRequest(c, "Title and content are required")
		return
	}

	now := nowUTC()
	startsAt := now
	if body.StartsAt != nil {
		startsAt = body.StartsAt.UTC()
	}
	var endsAt *time.Time
	if body.EndsAt != nil {
		end := body.EndsAt.UTC()
		if !end.After(startsAt) {
			badRequest(c, "endsAt must be after startsAt")
			return
		}
		endsAt = &end
	}

	created, err := h.Store.InsertAnnouncement(c.Request.Context(), model.Announcement{
		AuthorID:  u.ID,
		Title:     title,
		Content:   content,
		Sector:    strings.TrimSpace(body.Sector),
		StartsAt:  startsAt,
		EndsAt:    endsAt,
		CreatedAt: now,
	})
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"announcement": created})
}

// Delete is allowed to the author, admins and holders of
// PublishAnnouncements.
func (h *AnnouncementHandler) Delete(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	a, err := h.Store.GetAnnouncement(ctx, c.Param("id"))
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	if a.AuthorID != u.ID {
		granted, err := h.Store.GetPermissions(ctx, u.ID)
		if err != nil {
			storeError(c, logger, err, "User not found")
			return
		}
		if !permission.Allowed(u.Role, granted, permission.PublishAnnouncements) {
			forbidden(c)
			return
		}
	}
	if _, err := h.Store.DeleteAnnouncement(ctx, a.ID); err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AnnouncementHandler) MarkRead(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	a, err := h.Store.GetAnnouncement(ctx, c.Param("id"))
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	fresh, err := h.Store.MarkAnnouncementRead(ctx, a.ID, u.ID, nowUTC())
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "new": fresh})
}

// Unread reports unread direct messages addressed to the caller and live
// announcements the caller has not acknowledged.
func (h *AnnouncementHandler) Unread(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	dms, err := h.Store.CountUnreadDirect(ctx, u.ID)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	anns, err := h.visible(c, u)
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	read, err := h.Store.ReadAnnouncementIDs(ctx, u.ID)
	if err != nil {
		storeError(c, logger, err, "Announcement not found")
		return
	}
	unreadAnns := 0
	for _, a := range anns {
		if !read[a.ID] {
			unreadAnns++
		}
	}
	c.JSON(http.StatusOK, livesync.Counts{DirectMessages: dms, Announcements: unreadAnns})
}
