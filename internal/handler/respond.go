package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/middleware"
	"servchat/internal/model"
	"servchat/internal/store"
)

const maxContentLength = 4000

func unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func forbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
}

// storeError maps a store failure to a response. Unexpected errors are
// logged and reported as 500 without detail.
func storeError(c *gin.Context, logger *zap.Logger, err error, notFound string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Already exists"})
	default:
		logger.Error("store failure",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

// currentUser loads the caller's user row.
func currentUser(c *gin.Context, st store.Store, logger *zap.Logger) (model.User, bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return model.User{}, false
	}
	u, err := st.GetUser(c.Request.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		unauthorized(c)
		return model.User{}, false
	}
	if err != nil {
		storeError(c, logger, err, "User not found")
		return model.User{}, false
	}
	return u, true
}

func queryLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return store.DefaultListLimit
	}
	return n
}

func cleanContent(s string) (string, bool) {
	s = strings.TrimSpace(s)
	return s, len(s) <= maxContentLength
}

func nowUTC() time.Time { return time.Now().UTC() }

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
