package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/presensia/presensia-api/internal/models"
)

// Inbound message types accepted from clients.
const (
	TypeAuth          = "auth"
	TypeScan          = "attendance_scan"
	TypeGetAttendance = "get_attendance"
	TypePing          = "ping"
)

// Outbound message types pushed to clients.
const (
	TypeSystem            = "system"
	TypeAuthSuccess       = "auth_success"
	TypeAttendanceSuccess = "attendance_success"
	TypeNewAttendance     = "new_attendance"
	TypeAttendanceData    = "attendance_data"
	TypeError             = "error"
	TypePong              = "pong"
)

var (
	// ErrInvalidMessage covers payloads that are not JSON or lack a type.
	ErrInvalidMessage = errors.New("invalid message format")
	// ErrUnknownType covers well-formed frames with an unsupported type.
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is the closed set of client messages, decoded once at the
// transport boundary.
type Inbound interface {
	isInbound()
}

// AuthMessage claims a principal for the connection.
type AuthMessage struct {
	UserID   string
	UserType models.UserType
}

// ScanMessage records attendance from a QR scan.
type ScanMessage struct {
	StudentID string
	Token     string
}

// GetAttendanceMessage asks for a student's recent records.
type GetAttendanceMessage struct {
	StudentID string
	Limit     int
}

// PingMessage is a liveness probe.
type PingMessage struct{}

func (AuthMessage) isInbound()          {}
func (ScanMessage) isInbound()          {}
func (GetAttendanceMessage) isInbound() {}
func (PingMessage) isInbound()         {}

type rawInbound struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	UserType  string `json:"user_type"`
	QRToken   string `json:"qr_token"`
	StudentID string `json:"student_id"`
	Limit     int    `json:"limit"`
}

// ParseInbound decodes a wire frame into its typed variant.
func ParseInbound(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(data, &raw); err != nil || raw.Type == "" {
		return nil, ErrInvalidMessage
	}

	switch raw.Type {
	case TypeAuth:
		return AuthMessage{UserID: raw.UserID, UserType: models.UserType(raw.UserType)}, nil
	case TypeScan:
		return ScanMessage{StudentID: raw.StudentID, Token: raw.QRToken}, nil
	case TypeGetAttendance:
		return GetAttendanceMessage{StudentID: raw.StudentID, Limit: raw.Limit}, nil
	case TypePing:
		return PingMessage{}, nil
	default:
		return nil, ErrUnknownType
	}
}

// Outbound is the wire shape of every pushed frame. Every frame carries a
// timestamp; error frames carry only a human-readable message.
type Outbound struct {
	Type      string      `json:"type"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	User      interface{} `json:"user,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// NewOutbound stamps a frame with the given clock.
func NewOutbound(msgType string, now time.Time) Outbound {
	return Outbound{Type: msgType, Timestamp: now.Format("2006-01-02 15:04:05")}
}

// AttendanceEvent is the payload of attendance_success and new_attendance.
type AttendanceEvent struct {
	StudentName string `json:"student_name"`
	StudentNIS  string `json:"student_nis"`
	ClassName   string `json:"class_name"`
	Status      string `json:"status"`
	Time        string `json:"time"`
	Date        string `json:"date"`
}

// AuthenticatedUser is the payload of auth_success.
type AuthenticatedUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}
