package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presensia/presensia-api/internal/models"
)

func attendanceRows(record models.AttendanceRecord) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "student_id", "class_id", "date", "time_in", "time_out",
		"status", "token_used", "notes", "created_at", "updated_at",
	}).AddRow(
		record.ID, record.StudentID, record.ClassID, record.Date, record.TimeIn, record.TimeOut,
		record.Status, record.TokenUsed, record.Notes, record.CreatedAt, record.UpdatedAt,
	)
}

func TestInsertNewRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	record := models.AttendanceRecord{
		ID:        "att-1",
		StudentID: "student-1",
		ClassID:   "class-1",
		Date:      today,
		TimeIn:    now,
		Status:    models.AttendanceStatusPresent,
		TokenUsed: "abc123",
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectQuery("INSERT INTO attendance").
		WillReturnRows(attendanceRows(record))

	stored, inserted, err := repo.Insert(context.Background(), &record)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "att-1", stored.ID)
	assert.Equal(t, models.AttendanceStatusPresent, stored.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDuplicateReturnsExistingRecord(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	now := time.Now().UTC()
	today := now.Truncate(24 * time.Hour)
	existing := models.AttendanceRecord{
		ID:        "att-winner",
		StudentID: "student-1",
		ClassID:   "class-1",
		Date:      today,
		TimeIn:    now.Add(-time.Minute),
		Status:    models.AttendanceStatusPresent,
		TokenUsed: "abc123",
		CreatedAt: now,
		UpdatedAt: now,
	}

	// ON CONFLICT DO NOTHING returns no row when the tuple already exists.
	mock.ExpectQuery("INSERT INTO attendance").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, student_id, class_id, date, time_in, time_out, status, token_used, notes, created_at, updated_at FROM attendance WHERE student_id = $1 AND class_id = $2 AND date = $3`)).
		WithArgs("student-1", "class-1", today).
		WillReturnRows(attendanceRows(existing))

	stored, inserted, err := repo.Insert(context.Background(), &models.AttendanceRecord{
		StudentID: "student-1",
		ClassID:   "class-1",
		Date:      today,
		TimeIn:    now,
		Status:    models.AttendanceStatusLate,
		TokenUsed: "abc123",
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "att-winner", stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTimeOutSecondAttemptFails(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	query := "UPDATE attendance SET time_out"
	out := time.Now().UTC()

	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetTimeOut(context.Background(), "att-1", out)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetTimeOut(context.Background(), "att-1", out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusKeepsNotesWhenNil(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE attendance SET status = $2, notes = COALESCE($3, notes), updated_at = $4 WHERE id = $1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.UpdateStatus(context.Background(), "att-1", models.AttendanceStatusAbsent, nil)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAttendanceRepository(db)

	rows := sqlmock.NewRows([]string{"total_days", "present_days", "late_days", "absent_days", "attendance_percentage"}).
		AddRow(20, 15, 3, 2, 75.0)
	mock.ExpectQuery("SELECT COUNT").WithArgs("student-1").WillReturnRows(rows)

	stats, err := repo.StudentStats(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, 20, stats.TotalDays)
	assert.Equal(t, 75.0, stats.Percentage)
	assert.NoError(t, mock.ExpectationsWereMet())
}
