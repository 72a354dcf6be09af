package models

import "time"

// AttendanceStatus classifies an attendance record. A live scan only ever
// produces present or late; absent enters through a teacher correction.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent:
		return true
	default:
		return false
	}
}

// AttendanceRecord is one student's attendance for one class on one
// calendar day. The (student_id, class_id, date) tuple is unique.
type AttendanceRecord struct {
	ID        string           `db:"id" json:"id"`
	StudentID string           `db:"student_id" json:"student_id"`
	ClassID   string           `db:"class_id" json:"class_id"`
	Date      time.Time        `db:"date" json:"date"`
	TimeIn    time.Time        `db:"time_in" json:"time_in"`
	TimeOut   *time.Time       `db:"time_out" json:"time_out,omitempty"`
	Status    AttendanceStatus `db:"status" json:"status"`
	TokenUsed string           `db:"token_used" json:"token_used"`
	Notes     *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceDetail extends a record with display metadata.
type AttendanceDetail struct {
	AttendanceRecord
	StudentName string  `db:"student_name" json:"student_name"`
	StudentNIS  string  `db:"student_nis" json:"student_nis"`
	ClassName   string  `db:"class_name" json:"class_name"`
	TeacherName *string `db:"teacher_name" json:"teacher_name,omitempty"`
}

// ScanResult is returned from a successful or soft-rejected scan.
type ScanResult struct {
	Record      *AttendanceRecord `json:"record"`
	StudentName string            `json:"student_name"`
	StudentNIS  string            `json:"student_nis"`
	ClassName   string            `json:"class_name"`
	Duplicate   bool              `json:"duplicate"`
}

// StudentAttendanceStats aggregates a student's history.
type StudentAttendanceStats struct {
	TotalDays   int     `db:"total_days" json:"total_days"`
	PresentDays int     `db:"present_days" json:"present_days"`
	LateDays    int     `db:"late_days" json:"late_days"`
	AbsentDays  int     `db:"absent_days" json:"absent_days"`
	Percentage  float64 `db:"attendance_percentage" json:"attendance_percentage"`
}

// ClassAttendanceStats aggregates one class on one day.
type ClassAttendanceStats struct {
	TotalMarked  int     `db:"total_marked" json:"total_marked"`
	PresentCount int     `db:"present_count" json:"present_count"`
	LateCount    int     `db:"late_count" json:"late_count"`
	AbsentCount  int     `db:"absent_count" json:"absent_count"`
	Rate         float64 `db:"attendance_rate" json:"attendance_rate"`
}
