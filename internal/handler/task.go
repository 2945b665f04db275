package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/store"
)

type TaskHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

type taskBody struct {
	Title       *string           `json:"title"`
	Description *string           `json:"description"`
	Status      *model.TaskStatus `json:"status"`
	AssigneeID  *string           `json:"assigneeId"`
	DueAt       *time.Time        `json:"dueAt"`
}

func (h *TaskHandler) List(c *gin.Context) {
	tasks, err := h.Store.ListTasks(c.Request.Context(), c.Param("board"))
	if err != nil {
		storeError(c, loggerOrNop(h.Logger), err, "Board not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) Create(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}

	var body taskBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Title == nil || strings.TrimSpace(*body.Title) == "" {
		badRequest(c, "Title is required")
		return
	}

	now := nowUTC()
	t := model.Task{
		Board:     c.Param("board"),
		Title:     strings.TrimSpace(*body.Title),
		Status:    model.TaskTodo,
		OwnerID:   u.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !h.apply(c, &t, body) {
		return
	}

	created, err := h.Store.InsertTask(c.Request.Context(), t)
	if err != nil {
		storeError(c, logger, err, "Board not found")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"task": created})
}

// apply copies the set fields of body onto t and validates them.
func (h *TaskHandler) apply(c *gin.Context, t *model.Task, body taskBody) bool {
	if body.Title != nil {
		title := strings.TrimSpace(*body.Title)
		if title == "" {
			badRequest(c, "Title is required")
			return false
		}
		t.Title = title
	}
	if body.Description != nil {
		desc, fits := cleanContent(*body.Description)
		if !fits {
			badRequest(c, "Description too long")
			return false
		}
		t.Description = desc
	}
	if body.Status != nil {
		if !body.Status.Valid() {
			badRequest(c, "Invalid status")
			return false
		}
		t.Status = *body.Status
	}
	if body.AssigneeID != nil {
		if *body.AssigneeID != "" {
			if _, err := h.Store.GetUser(c.Request.Context(), *body.AssigneeID); err != nil {
				storeError(c, loggerOrNop(h.Logger), err, "Assignee not found")
				return false
			}
		}
		t.AssigneeID = *body.AssigneeID
	}
	if body.DueAt != nil {
		due := body.DueAt.UTC()
		t.DueAt = &due
	}
	return true
}

// canEdit allows the owner, the assignee, admins and ManageTasks holders.
func (h *TaskHandler) canEdit(c *gin.Context, u model.User, t model.Task, assigneeAllowed bool) (bool, error) {
	if t.OwnerID == u.ID || (assigneeAllowed && t.AssigneeID == u.ID) {
		return true, nil
	}
	granted, err := h.Store.GetPermissions(c.Request.Context(), u.ID)
	if err != nil {
		return false, err
	}
	return permission.Allowed(u.Role, granted, permission.ManageTasks), nil
}

func (h *TaskHandler) Update(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	t, err := h.Store.GetTask(ctx, c.Param("id"))
	if err != nil {
		storeError(c, logger, err, "Task not found")
		return
	}
	allowed, err := h.canEdit(c, u, t, true)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	if !allowed {
		forbidden(c)
		return
	}

	var body taskBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	if !h.apply(c, &t, body) {
		return
	}
	t.UpdatedAt = nowUTC()

	updated, err := h.Store.UpdateTask(ctx, t)
	if err != nil {
		storeError(c, logger, err, "Task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": updated})
}

func (h *TaskHandler) Delete(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	u, ok := currentUser(c, h.Store, logger)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	t, err := h.Store.GetTask(ctx, c.Param("id"))
	if err != nil {
		storeError(c, logger, err, "Task not found")
		return
	}
	allowed, err := h.canEdit(c, u, t, false)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	if !allowed {
		forbidden(c)
		return
	}
	if _, err := h.Store.DeleteTask(ctx, t.ID); err != nil {
		storeError(c, logger, err, "Task not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
