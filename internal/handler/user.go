package handler

import (
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/model"
	"servchat/internal/store"
)

type UserHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

func (h *UserHandler) Me(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	perms, err := h.Store.GetPermissions(c.Request.Context(), u.ID)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u, "permissions": perms.Names()})
}

func (h *UserHandler) List(c *gin.Context) {
	users, err := h.Store.ListUsers(c.Request.Context())
	if err != nil {
		storeError(c, loggerOrNop(h.Logger), err, "User not found")
		return
	}
	if sector := c.Query("sector"); sector != "" {
		filtered := users[:0:0]
		for _, u := range users {
			if u.Sector == sector {
				filtered = append(filtered, u)
			}
		}
		users = filtered
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type upcomingBirthday struct {
	User   model.User `json:"user"`
	Date   string     `json:"date"`
	InDays int        `json:"inDays"`
}

const maxBirthdayDays = 366

// Birthdays lists users whose birthday falls within the next days days,
// today included, soonest first.
func (h *UserHandler) Birthdays(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxBirthdayDays {
			badRequest(c, "Invalid days")
			return
		}
		days = n
	}

	users, err := h.Store.ListUsers(c.Request.Context())
	if err != nil {
		storeError(c, loggerOrNop(h.Logger), err, "User not found")
		return
	}

	now := nowUTC()
	today := now.Truncate(24 * time.Hour)
	out := make([]upcomingBirthday, 0)
	for _, u := range users {
		if u.Birthday == nil {
			continue
		}
		next := model.NextBirthday(*u.Birthday, now)
		in := int(next.Sub(today).Hours() / 24)
		if in > days {
			continue
		}
		out = append(out, upcomingBirthday{User: u, Date: next.Format("2006-01-02"), InDays: in})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InDays != out[j].InDays {
			return out[i].InDays < out[j].InDays
		}
		return out[i].User.Name < out[j].User.Name
	})
	c.JSON(http.StatusOK, gin.H{"birthdays": out})
}
