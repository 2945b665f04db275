package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/face"
	"servchat/internal/middleware"
	"servchat/internal/model"
	"servchat/internal/permission"
	"servchat/internal/store"
)

type FaceHandler struct {
	Store  store.Store
	Logger *zap.Logger
}

type faceReference struct {
	UserID     string    `json:"userId"`
	Descriptor []float64 `json:"descriptor"`
}

// Descriptors returns every enrolled reference so kiosk clients can match
// locally. It bypasses per-row filtering on purpose and is rate limited.
func (h *FaceHandler) Descriptors(c *gin.Context) {
	records, err := h.Store.ListFaceRecords(c.Request.Context())
	if err != nil {
		storeError(c, loggerOrNop(h.Logger), err, "No enrolled faces")
		return
	}
	refs := face.ReferencesFrom(records)
	out := make([]faceReference, 0, len(refs))
	for _, r := range refs {
		out = append(out, faceReference{UserID: r.UserID, Descriptor: r.Descriptor})
	}
	c.JSON(http.StatusOK, gin.H{"descriptors": out})
}

type registerFaceBody struct {
	UserID      string      `json:"userId"`
	Descriptors [][]float64 `json:"descriptors"`
}

// Register stores descriptors for a user. Users may enrol themselves;
// enrolling anyone else needs ManageFaces.
func (h *FaceHandler) Register(c *gin.Context) {
	logger := loggerOrNop(h.Logger)
	callerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		unauthorized(c)
		return
	}

	var body registerFaceBody
	if err := c.ShouldBindJSON(&body); err != nil || len(body.Descriptors) == 0 {
		badRequest(c, "Invalid request")
		return
	}
	if body.UserID == "" {
		body.UserID = callerID
	}
	for _, d := range body.Descriptors {
		if err := face.Descriptor(d).Validate(); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	ctx := c.Request.Context()
	if body.UserID != callerID {
		role := middleware.RoleFromContext(c)
		var granted permission.Set
		if role != model.RoleAdmin {
			set, err := h.Store.GetPermissions(ctx, callerID)
			if err != nil {
				storeError(c, logger, err, "User not found")
				return
			}
			granted = set
		}
		if !permission.Allowed(role, granted, permission.ManageFaces) {
			forbidden(c)
			return
		}
	}

	if _, err := h.Store.GetUser(ctx, body.UserID); err != nil {
		storeError(c, logger, err, "User not found")
		return
	}

	rec := model.FaceRecord{UserID: body.UserID, Descriptors: body.Descriptors, UpdatedAt: nowUTC()}
	if err := h.Store.UpsertFaceRecord(ctx, rec); err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "userId": body.UserID, "count": len(body.Descriptors)})
}
