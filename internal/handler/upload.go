package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/blob"
	"servchat/internal/middleware"
)

type UploadHandler struct {
	Signer blob.Signer
	Logger *zap.Logger
}

type uploadBody struct {
	Filename string `json:"filename"`
}

func (h *UploadHandler) unavailable(c *gin.Context) bool {
	if h.Signer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Uploads are not configured"})
		return true
	}
	return false
}

// Create returns a presigned PUT URL and the object key to reference from a
// message or avatar.
func (h *UploadHandler) Create(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	var body uploadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}

	key, url, err := h.Signer.PresignPut(c.Request.Context(), userID, body.Filename)
	if err != nil {
		loggerOrNop(h.Logger).Error("presign upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload URL creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "url": url, "method": http.MethodPut})
}

func (h *UploadHandler) URL(c *gin.Context) {
	if h.unavailable(c) {
		return
	}
	url, err := h.Signer.PresignGet(c.Request.Context(), c.Query("key"))
	if errors.Is(err, blob.ErrInvalidKey) {
		badRequest(c, "Invalid key")
		return
	}
	if err != nil {
		loggerOrNop(h.Logger).Error("presign download", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Download URL creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
