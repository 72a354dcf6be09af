package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/pkg/config"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
)

type authDirectory interface {
	FindTeacherByEmail(ctx context.Context, email string) (*models.Teacher, error)
	FindActiveTeacher(ctx context.Context, id string) (*models.Teacher, error)
	FindActiveStudent(ctx context.Context, id string) (*models.Student, error)
}

// AuthService authenticates teachers for the HTTP surface and verifies
// principals for realtime connections.
type AuthService struct {
	directory authDirectory
	validator *validator.Validate
	logger    *zap.Logger
	cfg       config.JWTConfig
}

// NewAuthService constructs the service.
func NewAuthService(directory authDirectory, validate *validator.Validate, logger *zap.Logger, cfg config.JWTConfig) *AuthService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{directory: directory, validator: validate, logger: logger, cfg: cfg}
}

// Login authenticates a teacher and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	teacher, err := s.directory.FindTeacherByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCredentials
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, appErrors.ErrStorage.Message)
	}
	if !teacher.IsActive {
		return nil, appErrors.ErrInactiveAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(teacher.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.ErrInvalidCredentials
	}

	now := time.Now().UTC()
	claims := &models.JWTClaims{
		UserID:   teacher.ID,
		UserType: models.UserTypeTeacher,
		Name:     teacher.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   teacher.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.Expiration)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to sign token")
	}

	s.logger.Info("teacher logged in", zap.String("teacher_id", teacher.ID))
	return &models.LoginResponse{
		AccessToken: signed,
		ExpiresIn:   int64(s.cfg.Expiration.Seconds()),
		Teacher:     *teacher,
		IssuedAt:    now,
	}, nil
}

// ValidateToken parses and verifies an access token.
func (s *AuthService) ValidateToken(raw string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.Secret), nil
	})
	if err != nil || !token.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}
	return claims, nil
}

// VerifyPrincipal confirms the claimed realtime identity against the
// directory and returns the display name. Realtime auth trusts the id plus
// role the way the scan clients present them; transport security is the
// hosting environment's concern.
func (s *AuthService) VerifyPrincipal(ctx context.Context, userID string, userType models.UserType) (string, error) {
	if userID == "" || !userType.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, "missing authentication data")
	}

	switch userType {
	case models.UserTypeStudent:
		student, err := s.directory.FindActiveStudent(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid user")
			}
			return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, appErrors.ErrStorage.Message)
		}
		return student.Name, nil
	default:
		teacher, err := s.directory.FindActiveTeacher(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid user")
			}
			return "", appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, appErrors.ErrStorage.Message)
		}
		return teacher.Name, nil
	}
}
