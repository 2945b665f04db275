package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/model"
	"servchat/internal/store"
)

type MessageHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

type postMessageBody struct {
	Content       string `json:"content"`
	AttachmentKey string `json:"attachmentKey"`
}

func (h *MessageHandler) ListSector(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	sector := c.Param("sector")
	if !canReadSector(u, sector) {
		forbidden(c)
		return
	}

	msgs, err := h.Store.ListMessages(c.Request.Context(), sector, queryLimit(c))
	if err != nil {
		storeError(c, logger, err, "Sector not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h *MessageHandler) PostSector(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	sector := c.Param("sector")
	if !canReadSector(u, sector) {
		forbidden(c)
		return
	}

	var body postMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	content, fits := cleanContent(body.Content)
	if !fits || (content == "" && body.AttachmentKey == "") {
		badRequest(c, "Invalid message content")
		return
	}

	created, err := h.Store.InsertMessage(c.Request.Context(), model.Message{
		Sector:        sector,
		AuthorID:      u.ID,
		Content:       content,
		AttachmentKey: body.AttachmentKey,
		CreatedAt:     nowUTC(),
	})
	if err != nil {
		storeError(c, logger, err, "Sector not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": created})
}

// Delete removes a sector message. Only its author or an admin may.
func (h *MessageHandler) Delete(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	msg, err := h.Store.GetMessage(ctx, c.Param("id"))
	if err != nil {
		storeError(c, logger, err, "Message not found")
		return
	}
	if msg.AuthorID != u.ID && u.Role != model.RoleAdmin {
		forbidden(c)
		return
	}
	if _, err := h.Store.DeleteMessage(ctx, msg.ID); err != nil {
		storeError(c, logger, err, "Message not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *MessageHandler) partner(c *gin.Context, logger *zap.Logger) (model.User, model.User, bool) {
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return model.User{}, model.User{}, false
	}
	partnerID := c.Param("partner")
	if partnerID == u.ID {
		badRequest(c, "Cannot message yourself")
		return model.User{}, model.User{}, false
	}
	p, err := h.Store.GetUser(c.Request.Context(), partnerID)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return model.User{}, model.User{}, false
	}
	return u, p, true
}

func (h *MessageHandler) ListConversation(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, p, ok := h.partner(c, logger)
	if !ok {
		return
	}
	msgs, err := h.Store.ListConversation(c.Request.Context(), u.ID, p.ID, queryLimit(c))
	if err != nil {
		storeError(c, logger, err, "Conversation not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation": model.ConversationKey(u.ID, p.ID),
		"messages":     msgs,
	})
}

func (h *MessageHandler) PostConversation(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, p, ok := h.partner(c, logger)
	if !ok {
		return
	}

	var body postMessageBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	content, fits := cleanContent(body.Content)
	if !fits || content == "" {
		badRequest(c, "Invalid message content")
		return
	}

	created, err := h.Store.InsertDirectMessage(c.Request.Context(), model.DirectMessage{
		SenderID:    u.ID,
		RecipientID: p.ID,
		Content:     content,
		CreatedAt:   nowUTC(),
	})
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": created})
}

// MarkRead flags every message the partner sent to the caller as read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, p, ok := h.partner(c, logger)
	if !ok {
		return
	}
	changed, err := h.Store.MarkConversationRead(c.Request.Context(), u.ID, p.ID)
	if err != nil {
		storeError(c, logger, err, "Conversation not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(changed)})
}
