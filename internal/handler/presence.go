package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/middleware"
	"servchat/internal/model"
	"servchat/internal/presence"
	"servchat/internal/store"
)

type PresenceHandler struct {
	Store  store.Store
	Window time.Duration
	Logger *zap.Logger
}

func (h *PresenceHandler) report(c *gin.Context, online bool) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}
	p := model.Presence{UserID: userID, Online: online, LastSeen: nowUTC()}
	if err := h.Store.UpsertPresence(c.Request.Context(), p); err != nil {
		storeError(c, loggerOrNop(h.Logger), err, "User not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PresenceHandler) Heartbeat(c *gin.Context) { h.report(c, true) }

func (h *PresenceHandler) Offline(c *gin.Context) { h.report(c, false) }

// List returns every presence record with online resolved against the
// freshness window, so stale heartbeats read as offline.
func (h *PresenceHandler) List(c *gin.Context) {
	records, err := h.Store.ListPresence(c.Request.Context())
	if err != nil {
		storeError(c, loggerOrNop(h.Logger), err, "User not found")
		return
	}
	window := h.Window
	if window <= 0 {
		window = presence.DefaultWindow
	}
	now := nowUTC()
	out := make([]model.Presence, 0, len(records))
	for _, p := range records {
		p.Online = presence.Active(p, now, window)
		out = append(out, p)
	}
	c.JSON(http.StatusOK, gin.H{"presence": out})
}
