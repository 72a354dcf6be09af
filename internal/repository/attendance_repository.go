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

// AttendanceRepository handles persistence for attendance records.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

const attendanceColumns = `id, student_id, class_id, date, time_in, time_out, status, token_used, notes, created_at, updated_at`

// Insert writes a new record unless one already exists for the same
// (student, class, date). The second return value reports whether the row
// was inserted; when false the returned record is the pre-existing one, so
// a raced writer sees the winner's data instead of a constraint fault.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error) {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	var stored models.AttendanceRecord
	err := r.db.GetContext(ctx, &stored,
		`INSERT INTO attendance (id, student_id, class_id, date, time_in, status, token_used, notes, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (student_id, class_id, date) DO NOTHING
RETURNING `+attendanceColumns,
		record.ID, record.StudentID, record.ClassID, record.Date, record.TimeIn, record.Status, record.TokenUsed, record.Notes, record.CreatedAt, record.UpdatedAt,
	)
	if err == nil {
		return &stored, true, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("insert attendance: %w", err)
	}

	existing, err := r.FindForDay(ctx, record.StudentID, record.ClassID, record.Date)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindForDay returns the record for one (student, class, date) tuple.
func (r *AttendanceRepository) FindForDay(ctx context.Context, studentID, classID string, date time.Time) (*models.AttendanceRecord, error) {
	var row models.AttendanceRecord
	err := r.db.GetContext(ctx, &row,
		`SELECT `+attendanceColumns+` FROM attendance WHERE student_id = $1 AND class_id = $2 AND date = $3`,
		studentID, classID, date,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find attendance: %w", err)
	}
	return &row, nil
}

// FindOwnedForDay returns a record only when it belongs to the student and
// the given date.
func (r *AttendanceRepository) FindOwnedForDay(ctx context.Context, id, studentID string, date time.Time) (*models.AttendanceRecord, error) {
	var row models.AttendanceRecord
	err := r.db.GetContext(ctx, &row,
		`SELECT `+attendanceColumns+` FROM attendance WHERE id = $1 AND student_id = $2 AND date = $3`,
		id, studentID, date,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find owned attendance: %w", err)
	}
	return &row, nil
}

// SetTimeOut stamps time_out once; a second attempt affects no rows.
func (r *AttendanceRepository) SetTimeOut(ctx context.Context, id string, timeOut time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attendance SET time_out = $2, updated_at = $3 WHERE id = $1 AND time_out IS NULL`,
		id, timeOut, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("set time out: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set time out rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus applies a teacher correction.
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus, notes *string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE attendance SET status = $2, notes = COALESCE($3, notes), updated_at = $4 WHERE id = $1`,
		id, status, notes, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("update attendance status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update attendance status rows: %w", err)
	}
	return affected > 0, nil
}

// StudentHistory returns a student's records newest first with class and
// teacher display data.
func (r *AttendanceRepository) StudentHistory(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceDetail, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.AttendanceDetail
	err := r.db.SelectContext(ctx, &rows,
		`SELECT a.id, a.student_id, a.class_id, a.date, a.time_in, a.time_out, a.status, a.token_used, a.notes, a.created_at, a.updated_at,
        s.name AS student_name, s.nis AS student_nis, c.class_name, t.name AS teacher_name
FROM attendance a
JOIN students s ON s.id = a.student_id
JOIN classes c ON c.id = a.class_id
JOIN teachers t ON t.id = c.teacher_id
WHERE a.student_id = $1
ORDER BY a.date DESC, a.time_in DESC
LIMIT $2 OFFSET $3`,
		studentID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("student attendance history: %w", err)
	}
	return rows, nil
}

// StudentStats aggregates a student's attendance counts.
func (r *AttendanceRepository) StudentStats(ctx context.Context, studentID string) (*models.StudentAttendanceStats, error) {
	var stats models.StudentAttendanceStats
	err := r.db.GetContext(ctx, &stats,
		`SELECT COUNT(*) AS total_days,
        COUNT(CASE WHEN status = 'present' THEN 1 END) AS present_days,
        COUNT(CASE WHEN status = 'late' THEN 1 END) AS late_days,
        COUNT(CASE WHEN status = 'absent' THEN 1 END) AS absent_days,
        COALESCE(ROUND(COUNT(CASE WHEN status = 'present' THEN 1 END)::numeric / NULLIF(COUNT(*), 0) * 100, 2), 0) AS attendance_percentage
FROM attendance WHERE student_id = $1`,
		studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("student attendance stats: %w", err)
	}
	return &stats, nil
}

// ClassForDay returns records for one class on one date ordered by arrival.
func (r *AttendanceRepository) ClassForDay(ctx context.Context, classID string, date time.Time, limit, offset int) ([]models.AttendanceDetail, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.AttendanceDetail
	err := r.db.SelectContext(ctx, &rows,
		`SELECT a.id, a.student_id, a.class_id, a.date, a.time_in, a.time_out, a.status, a.token_used, a.notes, a.created_at, a.updated_at,
        s.name AS student_name, s.nis AS student_nis, c.class_name, t.name AS teacher_name
FROM attendance a
JOIN students s ON s.id = a.student_id
JOIN classes c ON c.id = a.class_id
JOIN teachers t ON t.id = c.teacher_id
WHERE a.class_id = $1 AND a.date = $2
ORDER BY a.time_in ASC
LIMIT $3 OFFSET $4`,
		classID, date, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("class attendance: %w", err)
	}
	return rows, nil
}

// ClassStats aggregates one class on one date.
func (r *AttendanceRepository) ClassStats(ctx context.Context, classID string, date time.Time) (*models.ClassAttendanceStats, error) {
	var stats models.ClassAttendanceStats
	err := r.db.GetContext(ctx, &stats,
		`SELECT COUNT(*) AS total_marked,
        COUNT(CASE WHEN status = 'present' THEN 1 END) AS present_count,
        COUNT(CASE WHEN status = 'late' THEN 1 END) AS late_count,
        COUNT(CASE WHEN status = 'absent' THEN 1 END) AS absent_count,
        COALESCE(ROUND(COUNT(CASE WHEN status IN ('present', 'late') THEN 1 END)::numeric / NULLIF(COUNT(*), 0) * 100, 2), 0) AS attendance_rate
FROM attendance WHERE class_id = $1 AND date = $2`,
		classID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("class attendance stats: %w", err)
	}
	return &stats, nil
}
