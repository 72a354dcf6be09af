package models

import "time"

// Student is a directory row; only active students may record attendance.
type Student struct {
	ID        string    `db:"id" json:"id"`
	NIS       string    `db:"nis" json:"nis"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	ClassName string    `db:"class_name" json:"class_name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Teacher is a directory row; teachers own classes and issue tokens.
type Teacher struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Class binds a teacher to a name and an optional daily start time stored
// as HH:MM:SS. A missing start time falls back to the configured default.
type Class struct {
	ID          string  `db:"id" json:"id"`
	Name        string  `db:"class_name" json:"class_name"`
	TeacherID   string  `db:"teacher_id" json:"teacher_id"`
	TeacherName string  `db:"teacher_name" json:"teacher_name"`
	StartTime   *string `db:"start_time" json:"start_time,omitempty"`
}

// Notification logs a realtime push so disconnected recipients can be
// audited later; delivery itself stays best-effort.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	Message   string    `db:"message" json:"message"`
	Type      string    `db:"type" json:"type"`
	Status    string    `db:"status" json:"status"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
