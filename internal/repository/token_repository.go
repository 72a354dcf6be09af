package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/presensia/presensia-api/internal/models"
)

// TokenRepository handles persistence for QR tokens.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository constructs the repository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Issue retires every active token for the class and inserts the new row in
// one transaction, so concurrent issuance for the same class cannot leave
// two active tokens behind.
func (r *TokenRepository) Issue(ctx context.Context, token *models.QRToken) (*models.QRToken, error) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	token.IsActive = true

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin token issue: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE qr_tokens SET is_active = false WHERE class_id = $1 AND is_active`,
		token.ClassID,
	); err != nil {
		return nil, fmt.Errorf("supersede class tokens: %w", err)
	}

	var stored models.QRToken
	if err := tx.GetContext(ctx, &stored,
		`INSERT INTO qr_tokens (id, class_id, token, created_by, created_at, expires_at, is_active, image_path)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, class_id, token, created_by, created_at, expires_at, is_active, image_path`,
		token.ID, token.ClassID, token.Token, token.CreatedBy, token.CreatedAt, token.ExpiresAt, token.IsActive, token.ImagePath,
	); err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit token issue: %w", err)
	}
	committed = true
	return &stored, nil
}

// ExpireDue flips an active-but-expired token to inactive. Exactly one
// concurrent caller observes true; the conditional update is the expiry
// side of the validate-and-expire read-modify step.
func (r *TokenRepository) ExpireDue(ctx context.Context, token string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE qr_tokens SET is_active = false WHERE token = $1 AND is_active AND expires_at <= $2`,
		token, now,
	)
	if err != nil {
		return false, fmt.Errorf("expire token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire token rows: %w", err)
	}
	return affected > 0, nil
}

// FindActive returns the token with class/teacher display data when it is
// active and unexpired; sql.ErrNoRows otherwise.
func (r *TokenRepository) FindActive(ctx context.Context, token string, now time.Time) (*models.ActiveToken, error) {
	var row models.ActiveToken
	err := r.db.GetContext(ctx, &row,
		`SELECT qt.id, qt.class_id, qt.token, qt.created_by, qt.created_at, qt.expires_at, qt.is_active, qt.image_path,
        c.class_name, t.name AS teacher_name
FROM qr_tokens qt
JOIN classes c ON c.id = qt.class_id
JOIN teachers t ON t.id = c.teacher_id
WHERE qt.token = $1 AND qt.is_active AND qt.expires_at > $2`,
		token, now,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active token: %w", err)
	}
	return &row, nil
}

// Deactivate marks a token inactive. When requestedBy is non-empty the
// token must have been issued by that teacher.
func (r *TokenRepository) Deactivate(ctx context.Context, id, requestedBy string) (bool, error) {
	query := `UPDATE qr_tokens SET is_active = false WHERE id = $1`
	args := []interface{}{id}
	if requestedBy != "" {
		query += ` AND created_by = $2`
		args = append(args, requestedBy)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("deactivate token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deactivate token rows: %w", err)
	}
	return affected > 0, nil
}

// ListActive returns active, unexpired tokens newest first, optionally
// filtered by the issuing teacher.
func (r *TokenRepository) ListActive(ctx context.Context, teacherID string, now time.Time) ([]models.ActiveToken, error) {
	query := `SELECT qt.id, qt.class_id, qt.token, qt.created_by, qt.created_at, qt.expires_at, qt.is_active, qt.image_path,
        c.class_name, t.name AS teacher_name
FROM qr_tokens qt
JOIN classes c ON c.id = qt.class_id
JOIN teachers t ON t.id = c.teacher_id
WHERE qt.is_active AND qt.expires_at > $1`
	args := []interface{}{now}
	if teacherID != "" {
		query += ` AND qt.created_by = $2`
		args = append(args, teacherID)
	}
	query += ` ORDER BY qt.created_at DESC`

	var rows []models.ActiveToken
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}
	return rows, nil
}

// ExpireAllDue deactivates every active token past its expiry.
func (r *TokenRepository) ExpireAllDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE qr_tokens SET is_active = false WHERE is_active AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire due tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire due tokens rows: %w", err)
	}
	return affected, nil
}

// PurgeCreatedBefore deletes token rows older than the cutoff and returns
// the image artifacts they referenced so the caller can remove them.
func (r *TokenRepository) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryxContext(ctx,
		`DELETE FROM qr_tokens WHERE created_at < $1 RETURNING image_path`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("purge tokens: %w", err)
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var path sql.NullString
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan purged token: %w", err)
		}
		if path.Valid && path.String != "" {
			images = append(images, path.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("purge tokens rows: %w", err)
	}
	return images, nil
}

// Stats counts generated, active and expired tokens, optionally scoped to
// an issuing teacher.
func (r *TokenRepository) Stats(ctx context.Context, teacherID string, now time.Time) (*models.TokenStats, error) {
	query := `SELECT COUNT(*) AS total_generated,
        COUNT(CASE WHEN is_active AND expires_at > $1 THEN 1 END) AS active_count,
        COUNT(CASE WHEN expires_at <= $1 THEN 1 END) AS expired_count
FROM qr_tokens`
	args := []interface{}{now}
	if teacherID != "" {
		query += ` WHERE created_by = $2`
		args = append(args, teacherID)
	}

	var stats models.TokenStats
	if err := r.db.GetContext(ctx, &stats, query, args...); err != nil {
		return nil, fmt.Errorf("token stats: %w", err)
	}
	return &stats, nil
}
