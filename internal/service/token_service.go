package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/pkg/config"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
)

const (
	settingQRExpiryMinutes = "qr_expiry_minutes"
)

type tokenRepository interface {
	Issue(ctx context.Context, token *models.QRToken) (*models.QRToken, error)
	ExpireDue(ctx context.Context, token string, now time.Time) (bool, error)
	FindActive(ctx context.Context, token string, now time.Time) (*models.ActiveToken, error)
	Deactivate(ctx context.Context, id, requestedBy string) (bool, error)
	ListActive(ctx context.Context, teacherID string, now time.Time) ([]models.ActiveToken, error)
	ExpireAllDue(ctx context.Context, now time.Time) (int64, error)
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	Stats(ctx context.Context, teacherID string, now time.Time) (*models.TokenStats, error)
}

type classDirectory interface {
	TeacherOwnsClass(ctx context.Context, teacherID, classID string) (bool, error)
	FindClass(ctx context.Context, id string) (*models.Class, error)
}

type settingsStore interface {
	GetInt(ctx context.Context, key string, fallback int) int
}

type imageStore interface {
	Save(filename string, data []byte) (string, error)
	Remove(filename string) error
	RemoveOlderThan(cutoff time.Time) (int, error)
}

type qrRenderer interface {
	RenderPNG(payload []byte) ([]byte, error)
}

// TokenService owns the QR token lifecycle: issuance, validation,
// deactivation and cleanup.
type TokenService struct {
	repo      tokenRepository
	directory classDirectory
	settings  settingsStore
	images    imageStore
	renderer  qrRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       config.AttendanceConfig
	now       func() time.Time
}

// NewTokenService constructs the service.
func NewTokenService(repo tokenRepository, directory classDirectory, settings settingsStore, images imageStore, renderer qrRenderer, validate *validator.Validate, logger *zap.Logger, cfg config.AttendanceConfig) *TokenService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenService{
		repo:      repo,
		directory: directory,
		settings:  settings,
		images:    images,
		renderer:  renderer,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// IssueTokenRequest describes a token issuance.
type IssueTokenRequest struct {
	ClassID   string `json:"class_id" validate:"required"`
	TeacherID string `json:"teacher_id" validate:"required"`
}

// qrPayload is the JSON embedded in the rendered QR image.
type qrPayload struct {
	Token     string `json:"token"`
	ClassID   string `json:"class_id"`
	ClassName string `json:"class_name"`
	Teacher   string `json:"teacher"`
	ExpiresAt string `json:"expires_at"`
	Timestamp int64  `json:"timestamp"`
}

// Issue retires any active token for the class and creates a fresh one.
// The supersede-and-insert runs inside a single repository transaction.
func (s *TokenService) Issue(ctx context.Context, req IssueTokenRequest) (*models.IssuedToken, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}

	owns, err := s.directory.TeacherOwnsClass(ctx, req.TeacherID, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, appErrors.ErrStorage.Message)
	}
	if !owns {
		return nil, appErrors.ErrNotAuthorized
	}

	class, err := s.directory.FindClass(ctx, req.ClassID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, appErrors.ErrStorage.Message)
	}

	now := s.now()
	window := time.Duration(s.settings.GetInt(ctx, settingQRExpiryMinutes, s.cfg.QRExpiryMinutes)) * time.Minute
	id := uuid.NewString()
	tokenValue, err := generateTokenValue(req.ClassID, req.TeacherID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to generate token")
	}
	expiresAt := now.Add(window)

	payload, err := json.Marshal(qrPayload{
		Token:     tokenValue,
		ClassID:   req.ClassID,
		ClassName: class.Name,
		Teacher:   class.TeacherName,
		ExpiresAt: expiresAt.Format(time.RFC3339),
		Timestamp: now.Unix(),
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to encode token payload")
	}

	// Rendering is auxiliary; a failed image never blocks issuance since
	// the token value itself is what the scan validates.
	var imagePath *string
	if s.renderer != nil && s.images != nil {
		if png, renderErr := s.renderer.RenderPNG(payload); renderErr != nil {
			s.logger.Warn("qr render failed", zap.String("class_id", req.ClassID), zap.Error(renderErr))
		} else {
			filename := fmt.Sprintf("qr_class_%s_%s.png", req.ClassID, id)
			if saved, saveErr := s.images.Save(filename, png); saveErr != nil {
				s.logger.Warn("qr image save failed", zap.String("class_id", req.ClassID), zap.Error(saveErr))
			} else {
				imagePath = &saved
			}
		}
	}

	stored, err := s.repo.Issue(ctx, &models.QRToken{
		ID:        id,
		ClassID:   req.ClassID,
		Token:     tokenValue,
		CreatedBy: req.TeacherID,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		ImagePath: imagePath,
	})
	if err != nil {
		s.logger.Error("token issue failed", zap.String("class_id", req.ClassID), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to generate QR code")
	}

	result := &models.IssuedToken{
		ActiveToken: models.ActiveToken{
			QRToken:          *stored,
			ClassName:        class.Name,
			TeacherName:      class.TeacherName,
			RemainingMinutes: remainingMinutes(stored.ExpiresAt, now),
		},
		QRPayload: string(payload),
	}
	s.logger.Info("token issued",
		zap.String("class_id", req.ClassID),
		zap.String("teacher_id", req.TeacherID),
		zap.Time("expires_at", stored.ExpiresAt),
	)
	return result, nil
}

// Validate resolves a scanned token to its class binding. An active token
// past its expiry is deactivated as part of the same check, so once one
// validator observes expiry no later validator can succeed.
func (s *TokenService) Validate(ctx context.Context, token string) (*models.ActiveToken, error) {
	if token == "" {
		return nil, appErrors.ErrTokenNotFound
	}
	now := s.now()

	expired, err := s.repo.ExpireDue(ctx, token, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "QR code validation failed")
	}
	if expired {
		return nil, appErrors.ErrTokenExpired
	}

	row, err := s.repo.FindActive(ctx, token, now)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrTokenNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "QR code validation failed")
	}
	row.RemainingMinutes = remainingMinutes(row.ExpiresAt, now)
	return row, nil
}

// Deactivate marks a token inactive on explicit teacher request.
func (s *TokenService) Deactivate(ctx context.Context, tokenID, requestingTeacherID string) error {
	if tokenID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "token id is required")
	}
	ok, err := s.repo.Deactivate(ctx, tokenID, requestingTeacherID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to deactivate QR code")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "QR code not found or access denied")
	}
	return nil
}

// ListActive returns active unexpired tokens annotated with remaining
// minutes, optionally filtered by the issuing teacher.
func (s *TokenService) ListActive(ctx context.Context, teacherID string) ([]models.ActiveToken, error) {
	now := s.now()
	rows, err := s.repo.ListActive(ctx, teacherID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to retrieve QR codes")
	}
	for i := range rows {
		rows[i].RemainingMinutes = remainingMinutes(rows[i].ExpiresAt, now)
	}
	return rows, nil
}

// CleanupResult summarises one cleanup pass.
type CleanupResult struct {
	Deactivated   int64 `json:"deactivated"`
	ImagesRemoved int   `json:"images_removed"`
	RowsPurged    int   `json:"rows_purged"`
}

// Cleanup deactivates expired tokens, removes aged image artifacts and
// purges rows past the retention window. Safe to run repeatedly and
// concurrently with issuance: it only touches expired or aged rows.
func (s *TokenService) Cleanup(ctx context.Context) (*CleanupResult, error) {
	now := s.now()
	result := &CleanupResult{}

	deactivated, err := s.repo.ExpireAllDue(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "cleanup failed")
	}
	result.Deactivated = deactivated

	if s.images != nil {
		removed, err := s.images.RemoveOlderThan(now.Add(-s.cfg.QRImageRetention))
		if err != nil {
			s.logger.Warn("image cleanup failed", zap.Error(err))
		}
		result.ImagesRemoved = removed
	}

	purgedImages, err := s.repo.PurgeCreatedBefore(ctx, now.Add(-s.cfg.TokenRetention))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "cleanup failed")
	}
	result.RowsPurged = len(purgedImages)
	if s.images != nil {
		for _, image := range purgedImages {
			if err := s.images.Remove(image); err != nil {
				s.logger.Warn("purged image removal failed", zap.String("image", image), zap.Error(err))
			}
		}
	}

	s.logger.Info("token cleanup completed",
		zap.Int64("deactivated", result.Deactivated),
		zap.Int("images_removed", result.ImagesRemoved),
		zap.Int("rows_purged", result.RowsPurged),
	)
	return result, nil
}

// Stats reports issuance counts for a teacher or the whole deployment.
func (s *TokenService) Stats(ctx context.Context, teacherID string) (*models.TokenStats, error) {
	stats, err := s.repo.Stats(ctx, teacherID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to get QR code statistics")
	}
	return stats, nil
}

// generateTokenValue hashes class, teacher, timestamp and fresh entropy so
// token values are unguessable and collision-free in practice.
func generateTokenValue(classID, teacherID string, now time.Time) (string, error) {
	entropy := make([]byte, 16)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	seed, err := json.Marshal(map[string]interface{}{
		"class_id":   classID,
		"teacher_id": teacherID,
		"timestamp":  now.UnixNano(),
		"random":     hex.EncodeToString(entropy),
	})
	if err != nil {
		return "", fmt.Errorf("encode token seed: %w", err)
	}
	sum := sha256.Sum256(seed)
	return hex.EncodeToString(sum[:]), nil
}

// remainingMinutes rounds up and never goes negative.
func remainingMinutes(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}
