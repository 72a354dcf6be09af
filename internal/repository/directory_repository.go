package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/presensia/presensia-api/internal/models"
)

// DirectoryRepository backs the student/teacher directory contracts.
type DirectoryRepository struct {
	db *sqlx.DB
}

// NewDirectoryRepository constructs the repository.
func NewDirectoryRepository(db *sqlx.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

// FindActiveStudent returns a student only when active.
func (r *DirectoryRepository) FindActiveStudent(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	err := r.db.GetContext(ctx, &student,
		`SELECT s.id, s.nis, s.name, s.email, COALESCE(c.class_name, '') AS class_name, s.is_active, s.created_at
		 FROM students s
		 LEFT JOIN classes c ON c.id = s.class_id
		 WHERE s.id = $1 AND s.is_active`,
		id,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active student: %w", err)
	}
	return &student, nil
}

// FindTeacherByEmail returns a teacher row for login.
func (r *DirectoryRepository) FindTeacherByEmail(ctx context.Context, email string) (*models.Teacher, error) {
	var teacher models.Teacher
	err := r.db.GetContext(ctx, &teacher,
		`SELECT id, name, email, password_hash, is_active, created_at FROM teachers WHERE email = $1`,
		email,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find teacher by email: %w", err)
	}
	return &teacher, nil
}

// FindActiveTeacher returns a teacher only when active.
func (r *DirectoryRepository) FindActiveTeacher(ctx context.Context, id string) (*models.Teacher, error) {
	var teacher models.Teacher
	err := r.db.GetContext(ctx, &teacher,
		`SELECT id, name, email, password_hash, is_active, created_at FROM teachers WHERE id = $1 AND is_active`,
		id,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active teacher: %w", err)
	}
	return &teacher, nil
}

// TeacherOwnsClass reports whether the teacher is bound to the class.
func (r *DirectoryRepository) TeacherOwnsClass(ctx context.Context, teacherID, classID string) (bool, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM classes WHERE id = $1 AND teacher_id = $2`,
		classID, teacherID,
	)
	if err != nil {
		return false, fmt.Errorf("check class ownership: %w", err)
	}
	return count > 0, nil
}

// FindClass returns a class with its teacher's display name.
func (r *DirectoryRepository) FindClass(ctx context.Context, id string) (*models.Class, error) {
	var class models.Class
	err := r.db.GetContext(ctx, &class,
		`SELECT c.id, c.class_name, c.teacher_id, t.name AS teacher_name, c.start_time
FROM classes c
JOIN teachers t ON t.id = c.teacher_id
WHERE c.id = $1`,
		id,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find class: %w", err)
	}
	return &class, nil
}

// ClassTeacherIDs returns the teacher ids bound to a class. The schema
// binds one teacher per class today; the slice keeps fan-out callers
// agnostic to that.
func (r *DirectoryRepository) ClassTeacherIDs(ctx context.Context, classID string) ([]string, error) {
	var ids []string
	if err := r.db.SelectContext(ctx, &ids,
		`SELECT teacher_id FROM classes WHERE id = $1`,
		classID,
	); err != nil {
		return nil, fmt.Errorf("class teacher ids: %w", err)
	}
	return ids, nil
}
