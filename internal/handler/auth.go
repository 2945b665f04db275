package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"servchat/internal/auth"
	"servchat/internal/face"
	"servchat/internal/model"
	"servchat/internal/store"
)

type AuthHandler struct {
	Store       store.Store
	TokenConfig auth.TokenConfig
	Matcher     face.Matcher
	Logger      *zap.Logger
}

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type faceLoginBody struct {
	Descriptor []float64 `json:"descriptor"`
}

func (h *AuthHandler) Login(c *gin.Context) {
	logger := loggerOrNop(h.Logger)

	var body loginBody
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Email) == "" || body.Password == "" {
		badRequest(c, "Invalid request")
		return
	}

	u, err := h.Store.GetUserByEmail(c.Request.Context(), body.Email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		storeError(c, logger, err, "User not found")
		return
	}
	if err != nil || !auth.CheckPassword(u.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	h.issue(c, u, gin.H{})
}

// Face matches a probe descriptor against every enrolled reference and
// signs the matched user in.
func (h *AuthHandler) Face(c *gin.Context) {
	logger := loggerOrNop(h.Logger)

	var body faceLoginBody
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "Invalid request")
		return
	}
	probe := face.Descriptor(body.Descriptor)
	if err := probe.Validate(); err != nil {
		badRequest(c, err.Error())
		return
	}

	records, err := h.Store.ListFaceRecords(c.Request.Context())
	if err != nil {
		storeError(c, logger, err, "No enrolled faces")
		return
	}
	res := h.Matcher.Match(probe, face.ReferencesFrom(records))
	if res.Skipped > 0 {
		logger.Warn("face references with mismatched dimension", zap.Int("skipped", res.Skipped))
	}
	if !res.Matched {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Face not recognized"})
		return
	}

	u, err := h.Store.GetUser(c.Request.Context(), res.UserID)
	if err != nil {
		storeError(c, logger, err, "User not found")
		return
	}
	logger.Info("face login", zap.String("user_id", u.ID), zap.Float64("distance", res.Distance))
	h.issue(c, u, gin.H{"distance": res.Distance})
}

func (h *AuthHandler) issue(c *gin.Context, u model.User, extra gin.H) {
	token, err := auth.CreateToken(u.ID, u.Role, h.TokenConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	resp := gin.H{"success": true, "token": token, "user": u}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}
