package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/internal/service"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
	"github.com/presensia/presensia-api/pkg/response"
)

type tokenService interface {
	Issue(ctx context.Context, req service.IssueTokenRequest) (*models.IssuedToken, error)
	Validate(ctx context.Context, token string) (*models.ActiveToken, error)
	ListActive(ctx context.Context, teacherID string) ([]models.ActiveToken, error)
	Deactivate(ctx context.Context, tokenID, requestingTeacherID string) error
	Cleanup(ctx context.Context) (*service.CleanupResult, error)
	Stats(ctx context.Context, teacherID string) (*models.TokenStats, error)
}

// TokenHandler exposes the QR token lifecycle over HTTP.
type TokenHandler struct {
	service tokenService
	metrics *service.MetricsService
}

// NewTokenHandler creates a new handler. metrics may be nil.
func NewTokenHandler(svc tokenService, metrics *service.MetricsService) *TokenHandler {
	return &TokenHandler{service: svc, metrics: metrics}
}

// Issue generates a fresh token for a class owned by the caller. Any
// previously active token for the class is retired in the same operation.
func (h *TokenHandler) Issue(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req struct {
		ClassID string `json:"class_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid issue payload"))
		return
	}

	issued, err := h.service.Issue(c.Request.Context(), service.IssueTokenRequest{
		ClassID:   req.ClassID,
		TeacherID: claims.UserID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TokenIssued()
	}

	response.Created(c, issued)
}

// Validate resolves a scanned token without recording attendance. The
// lookup expires the token first when its window has passed, so a stale
// token reports expired exactly once and not-found afterwards.
func (h *TokenHandler) Validate(c *gin.Context) {
	var req struct {
		Token string `json:"qr_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "qr_token is required"))
		return
	}

	active, err := h.service.Validate(c.Request.Context(), req.Token)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, active, nil)
}

// ListActive returns the caller's live tokens with remaining minutes.
func (h *TokenHandler) ListActive(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	tokens, err := h.service.ListActive(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, tokens, nil)
}

// Deactivate retires a token ahead of its expiry.
func (h *TokenHandler) Deactivate(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Deactivate(c.Request.Context(), c.Param("id"), claims.UserID); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "QR code deactivated")
}

// Cleanup expires overdue tokens, prunes old images, and purges aged rows.
// Safe to call repeatedly.
func (h *TokenHandler) Cleanup(c *gin.Context) {
	result, err := h.service.Cleanup(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// Stats summarizes the caller's token counts.
func (h *TokenHandler) Stats(c *gin.Context) {
	claims, ok := currentClaims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, stats, nil)
}
