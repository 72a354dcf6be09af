package models

import "time"

// QRToken is a single-window attendance token bound to one class. At most
// one row per class may have IsActive true at any instant; issuing a new
// token retires every prior active token for the class in the same
// transaction.
type QRToken struct {
	ID        string    `db:"id" json:"id"`
	ClassID   string    `db:"class_id" json:"class_id"`
	Token     string    `db:"token" json:"token"`
	CreatedBy string    `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	ImagePath *string   `db:"image_path" json:"image_path,omitempty"`
}

// ActiveToken extends a token row with class/teacher display data.
type ActiveToken struct {
	QRToken
	ClassName        string `db:"class_name" json:"class_name"`
	TeacherName      string `db:"teacher_name" json:"teacher_name"`
	RemainingMinutes int    `db:"-" json:"remaining_minutes"`
}

// IssuedToken is the result of issuing a new token, including the payload
// the QR image encodes.
type IssuedToken struct {
	ActiveToken
	QRPayload string `json:"qr_data"`
}

// TokenStats summarises token issuance for a teacher or the whole school.
type TokenStats struct {
	TotalGenerated int `db:"total_generated" json:"total_generated"`
	ActiveCount    int `db:"active_count" json:"active_count"`
	ExpiredCount   int `db:"expired_count" json:"expired_count"`
}
