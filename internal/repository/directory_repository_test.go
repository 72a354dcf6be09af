package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindActiveStudentResolvesClassName(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "nis", "name", "email", "class_name", "is_active", "created_at"}).
		AddRow("stu-1", "2024001", "Alya Putri", "alya@example.com", "XII IPA 1", true, now)
	mock.ExpectQuery(`SELECT s\.id, s\.nis, s\.name, s\.email, COALESCE\(c\.class_name, ''\) AS class_name, s\.is_active, s\.created_at\s+FROM students s\s+LEFT JOIN classes c ON c\.id = s\.class_id\s+WHERE s\.id = \$1 AND s\.is_active`).
		WithArgs("stu-1").
		WillReturnRows(rows)

	student, err := repo.FindActiveStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "XII IPA 1", student.ClassName)
	assert.Equal(t, "2024001", student.NIS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveStudentUnassignedClassIsEmpty(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	rows := sqlmock.NewRows([]string{"id", "nis", "name", "email", "class_name", "is_active", "created_at"}).
		AddRow("stu-2", "2024002", "Bima Santoso", "bima@example.com", "", true, time.Now().UTC())
	mock.ExpectQuery(`LEFT JOIN classes c ON c\.id = s\.class_id`).
		WithArgs("stu-2").
		WillReturnRows(rows)

	student, err := repo.FindActiveStudent(context.Background(), "stu-2")
	require.NoError(t, err)
	assert.Empty(t, student.ClassName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveStudentNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	mock.ExpectQuery(`FROM students s`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.FindActiveStudent(context.Background(), "missing")
	assert.Equal(t, sql.ErrNoRows, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindTeacherByEmailSelectsPasswordHash(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewDirectoryRepository(db)

	rows := sqlmock.NewRows([]string{"id", "name", "email", "password_hash", "is_active", "created_at"}).
		AddRow("tch-1", "Ibu Sari", "sari@example.com", "$2a$10$hash", true, time.Now().UTC())
	mock.ExpectQuery(`SELECT id, name, email, password_hash, is_active, created_at FROM teachers WHERE email = \$1`).
		WithArgs("sari@example.com").
		WillReturnRows(rows)

	teacher, err := repo.FindTeacherByEmail(context.Background(), "sari@example.com")
	require.NoError(t, err)
	assert.Equal(t, "$2a$10$hash", teacher.PasswordHash)
	assert.NoError(t, mock.ExpectationsWereMet())
}
