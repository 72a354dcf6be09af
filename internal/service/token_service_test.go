package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/pkg/config"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
)

type tokenRepoStub struct {
	issued       *models.QRToken
	issueErr     error
	expireDue    bool
	active       *models.ActiveToken
	findErr      error
	deactivated  bool
	expiredAll   int64
	purgedImages []string
}

func (s *tokenRepoStub) Issue(_ context.Context, token *models.QRToken) (*models.QRToken, error) {
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	s.issued = token
	return token, nil
}

func (s *tokenRepoStub) ExpireDue(context.Context, string, time.Time) (bool, error) {
	return s.expireDue, nil
}

func (s *tokenRepoStub) FindActive(context.Context, string, time.Time) (*models.ActiveToken, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.active, nil
}

func (s *tokenRepoStub) Deactivate(context.Context, string, string) (bool, error) {
	return s.deactivated, nil
}

func (s *tokenRepoStub) ListActive(context.Context, string, time.Time) ([]models.ActiveToken, error) {
	if s.active == nil {
		return nil, nil
	}
	return []models.ActiveToken{*s.active}, nil
}

func (s *tokenRepoStub) ExpireAllDue(context.Context, time.Time) (int64, error) {
	return s.expiredAll, nil
}

func (s *tokenRepoStub) PurgeCreatedBefore(context.Context, time.Time) ([]string, error) {
	return s.purgedImages, nil
}

func (s *tokenRepoStub) Stats(context.Context, string, time.Time) (*models.TokenStats, error) {
	return &models.TokenStats{}, nil
}

type classDirectoryStub struct {
	owns  bool
	class *models.Class
}

func (s *classDirectoryStub) TeacherOwnsClass(context.Context, string, string) (bool, error) {
	return s.owns, nil
}

func (s *classDirectoryStub) FindClass(context.Context, string) (*models.Class, error) {
	if s.class == nil {
		return nil, sql.ErrNoRows
	}
	return s.class, nil
}

type settingsStub struct {
	values map[string]int
}

func (s *settingsStub) GetInt(_ context.Context, key string, fallback int) int {
	if v, ok := s.values[key]; ok {
		return v
	}
	return fallback
}

type imageStoreStub struct {
	saved       map[string][]byte
	saveErr     error
	removed     []string
	agedRemoved int
}

func (s *imageStoreStub) Save(filename string, data []byte) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[filename] = data
	return filename, nil
}

func (s *imageStoreStub) Remove(filename string) error {
	s.removed = append(s.removed, filename)
	return nil
}

func (s *imageStoreStub) RemoveOlderThan(time.Time) (int, error) {
	return s.agedRemoved, nil
}

type rendererStub struct {
	err error
}

func (s *rendererStub) RenderPNG(payload []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("png"), nil
}

func newTokenService(repo *tokenRepoStub, dir *classDirectoryStub, imageStub *imageStoreStub, rendererStubVal *rendererStub, at time.Time) *TokenService {
	var images imageStore
	if imageStub != nil {
		images = imageStub
	}
	var renderer qrRenderer
	if rendererStubVal != nil {
		renderer = rendererStubVal
	}
	svc := NewTokenService(repo, dir, &settingsStub{}, images, renderer, nil, nil, config.AttendanceConfig{
		QRExpiryMinutes:  15,
		QRImageRetention: 24 * time.Hour,
		TokenRetention:   7 * 24 * time.Hour,
	})
	svc.now = func() time.Time { return at }
	return svc
}

func TestIssueRejectsForeignClass(t *testing.T) {
	repo := &tokenRepoStub{}
	svc := newTokenService(repo, &classDirectoryStub{owns: false}, nil, nil, time.Now())

	_, err := svc.Issue(context.Background(), IssueTokenRequest{ClassID: "class-1", TeacherID: "teacher-2"})
	assert.ErrorIs(t, err, appErrors.ErrNotAuthorized)
	assert.Nil(t, repo.issued)
}

func TestIssueBuildsTokenAndImage(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	repo := &tokenRepoStub{}
	images := &imageStoreStub{}
	dir := &classDirectoryStub{owns: true, class: &models.Class{ID: "class-1", Name: "X IPA 1", TeacherName: "Ibu Sari"}}
	svc := newTokenService(repo, dir, images, &rendererStub{}, now)

	issued, err := svc.Issue(context.Background(), IssueTokenRequest{ClassID: "class-1", TeacherID: "teacher-1"})
	require.NoError(t, err)

	assert.Len(t, issued.Token, 64)
	assert.Equal(t, now.Add(15*time.Minute), issued.ExpiresAt)
	assert.Equal(t, 15, issued.RemainingMinutes)
	assert.Contains(t, issued.QRPayload, issued.Token)
	require.NotNil(t, issued.ImagePath)
	assert.Contains(t, *issued.ImagePath, "qr_class_class-1_")
	assert.Contains(t, images.saved, *issued.ImagePath)
}

func TestIssueSucceedsWhenRenderFails(t *testing.T) {
	repo := &tokenRepoStub{}
	dir := &classDirectoryStub{owns: true, class: &models.Class{ID: "class-1", Name: "X IPA 1"}}
	svc := newTokenService(repo, dir, &imageStoreStub{}, &rendererStub{err: errors.New("render boom")}, time.Now())

	issued, err := svc.Issue(context.Background(), IssueTokenRequest{ClassID: "class-1", TeacherID: "teacher-1"})
	require.NoError(t, err)
	assert.Nil(t, issued.ImagePath)
}

func TestIssuedTokensDiffer(t *testing.T) {
	now := time.Now()
	a, err := generateTokenValue("class-1", "teacher-1", now)
	require.NoError(t, err)
	b, err := generateTokenValue("class-1", "teacher-1", now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestValidateExpiredThenMissing(t *testing.T) {
	repo := &tokenRepoStub{expireDue: true}
	svc := newTokenService(repo, &classDirectoryStub{}, nil, nil, time.Now())

	// First observer flips the expired token and sees expired.
	_, err := svc.Validate(context.Background(), "stale")
	assert.ErrorIs(t, err, appErrors.ErrTokenExpired)

	// Later observers find no active row at all.
	repo.expireDue = false
	repo.findErr = sql.ErrNoRows
	_, err = svc.Validate(context.Background(), "stale")
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)
}

func TestValidateRoundsRemainingMinutesUp(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	repo := &tokenRepoStub{
		active: &models.ActiveToken{
			QRToken: models.QRToken{Token: "abc123", ExpiresAt: now.Add(5*time.Minute + 30*time.Second), IsActive: true},
		},
	}
	svc := newTokenService(repo, &classDirectoryStub{}, nil, nil, now)

	active, err := svc.Validate(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, 6, active.RemainingMinutes)
}

func TestValidateEmptyToken(t *testing.T) {
	svc := newTokenService(&tokenRepoStub{}, &classDirectoryStub{}, nil, nil, time.Now())

	_, err := svc.Validate(context.Background(), "")
	assert.ErrorIs(t, err, appErrors.ErrTokenNotFound)
}

func TestDeactivateNotFound(t *testing.T) {
	svc := newTokenService(&tokenRepoStub{deactivated: false}, &classDirectoryStub{}, nil, nil, time.Now())

	err := svc.Deactivate(context.Background(), "tok-1", "teacher-1")
	require.Error(t, err)
	assert.Equal(t, "QR code not found or access denied", appErrors.FromError(err).Message)
}

func TestCleanupCountsAllThreePhases(t *testing.T) {
	repo := &tokenRepoStub{expiredAll: 3, purgedImages: []string{"a.png", "b.png"}}
	images := &imageStoreStub{agedRemoved: 4}
	svc := newTokenService(repo, &classDirectoryStub{}, images, nil, time.Now())

	result, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Deactivated)
	assert.Equal(t, 4, result.ImagesRemoved)
	assert.Equal(t, 2, result.RowsPurged)
	assert.Equal(t, []string{"a.png", "b.png"}, images.removed)
}

func TestRemainingMinutesNeverNegative(t *testing.T) {
	now := time.Now()
	assert.Equal(t, 0, remainingMinutes(now.Add(-time.Minute), now))
	assert.Equal(t, 0, remainingMinutes(now, now))
	assert.Equal(t, 1, remainingMinutes(now.Add(time.Second), now))
}
