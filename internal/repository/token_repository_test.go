package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presensia/presensia-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

func TestIssueSupersedesActiveTokens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now().UTC()
	expires := now.Add(15 * time.Minute)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE qr_tokens SET is_active = false WHERE class_id = $1 AND is_active`)).
		WithArgs("class-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	rows := sqlmock.NewRows([]string{"id", "class_id", "token", "created_by", "created_at", "expires_at", "is_active", "image_path"}).
		AddRow("tok-1", "class-1", "abc123", "teacher-1", now, expires, true, nil)
	mock.ExpectQuery("INSERT INTO qr_tokens").
		WillReturnRows(rows)
	mock.ExpectCommit()

	stored, err := repo.Issue(context.Background(), &models.QRToken{
		ID:        "tok-1",
		ClassID:   "class-1",
		Token:     "abc123",
		CreatedBy: "teacher-1",
		CreatedAt: now,
		ExpiresAt: expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "abc123", stored.Token)
	assert.True(t, stored.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIssueRollsBackOnInsertFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE qr_tokens SET is_active = false WHERE class_id = $1 AND is_active`)).
		WithArgs("class-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("INSERT INTO qr_tokens").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	_, err := repo.Issue(context.Background(), &models.QRToken{
		ClassID:   "class-1",
		Token:     "abc123",
		CreatedBy: "teacher-1",
		ExpiresAt: time.Now().Add(15 * time.Minute),
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireDueOnlyFirstCallerWins(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now().UTC()
	query := regexp.QuoteMeta(`UPDATE qr_tokens SET is_active = false WHERE token = $1 AND is_active AND expires_at <= $2`)

	mock.ExpectExec(query).WithArgs("abc123", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs("abc123", now).WillReturnResult(sqlmock.NewResult(0, 0))

	expired, err := repo.ExpireDue(context.Background(), "abc123", now)
	require.NoError(t, err)
	assert.True(t, expired)

	expired, err = repo.ExpireDue(context.Background(), "abc123", now)
	require.NoError(t, err)
	assert.False(t, expired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectQuery("SELECT qt.id, qt.class_id").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActive(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateScopedToIssuer(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE qr_tokens SET is_active = false WHERE id = $1 AND created_by = $2`)).
		WithArgs("tok-1", "teacher-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.Deactivate(context.Background(), "tok-1", "teacher-2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeCreatedBeforeReturnsImagePaths(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	cutoff := time.Now().Add(-7 * 24 * time.Hour)
	rows := sqlmock.NewRows([]string{"image_path"}).
		AddRow("qr_class_c1_tok1.png").
		AddRow(nil).
		AddRow("qr_class_c2_tok2.png")
	mock.ExpectQuery(regexp.QuoteMeta(`DELETE FROM qr_tokens WHERE created_at < $1 RETURNING image_path`)).
		WithArgs(cutoff).
		WillReturnRows(rows)

	images, err := repo.PurgeCreatedBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, []string{"qr_class_c1_tok1.png", "qr_class_c2_tok2.png"}, images)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	rows := sqlmock.NewRows([]string{"total_generated", "active_count", "expired_count"}).
		AddRow(10, 2, 6)
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), "teacher-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 10, stats.TotalGenerated)
	assert.Equal(t, 2, stats.ActiveCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
