package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/pkg/config"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
)

const (
	settingLateThresholdMinutes = "late_threshold_minutes"
)

type attendanceRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) (*models.AttendanceRecord, bool, error)
	FindOwnedForDay(ctx context.Context, id, studentID string, date time.Time) (*models.AttendanceRecord, error)
	SetTimeOut(ctx context.Context, id string, timeOut time.Time) (bool, error)
	UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus, notes *string) (bool, error)
	StudentHistory(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceDetail, error)
	StudentStats(ctx context.Context, studentID string) (*models.StudentAttendanceStats, error)
	ClassForDay(ctx context.Context, classID string, date time.Time, limit, offset int) ([]models.AttendanceDetail, error)
	ClassStats(ctx context.Context, classID string, date time.Time) (*models.ClassAttendanceStats, error)
}

type tokenValidator interface {
	Validate(ctx context.Context, token string) (*models.ActiveToken, error)
}

type studentDirectory interface {
	FindActiveStudent(ctx context.Context, id string) (*models.Student, error)
	FindClass(ctx context.Context, id string) (*models.Class, error)
}

// AttendanceService is the recording state machine: it turns a validated
// token plus a student identity into at most one attendance row per
// (student, class, day).
type AttendanceService struct {
	repo      attendanceRepository
	tokens    tokenValidator
	directory studentDirectory
	settings  settingsStore
	validator *validator.Validate
	logger    *zap.Logger
	cfg       config.AttendanceConfig
	now       func() time.Time
}

// NewAttendanceService constructs the service.
func NewAttendanceService(repo attendanceRepository, tokens tokenValidator, directory studentDirectory, settings settingsStore, validate *validator.Validate, logger *zap.Logger, cfg config.AttendanceConfig) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AttendanceService{
		repo:      repo,
		tokens:    tokens,
		directory: directory,
		settings:  settings,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(fl.Field().String()).Valid()
	})
	return svc
}

// ScanRequest is one student's scan of a class token.
type ScanRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Token     string `json:"qr_token" validate:"required"`
}

// UpdateStatusRequest is a teacher correction to an existing record.
type UpdateStatusRequest struct {
	RecordID string  `json:"record_id" validate:"required"`
	Status   string  `json:"status" validate:"required,attendance_status"`
	Notes    *string `json:"notes"`
}

// Record validates the token, confirms the student, and writes the
// attendance row. The uniqueness check and insert are one atomic statement
// in the repository; the loser of a concurrent scan gets the winner's
// record back under a soft AlreadyRecorded.
func (s *AttendanceService) Record(ctx context.Context, req ScanRequest) (*models.ScanResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid scan payload")
	}

	token, err := s.tokens.Validate(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	student, err := s.directory.FindActiveStudent(ctx, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to mark attendance")
	}

	now := s.now()
	classStart := s.classStartAt(ctx, token.ClassID, now)
	threshold := s.settings.GetInt(ctx, settingLateThresholdMinutes, s.cfg.LateThresholdMinutes)
	status := DetermineStatus(now, classStart, threshold)

	record := &models.AttendanceRecord{
		StudentID: student.ID,
		ClassID:   token.ClassID,
		Date:      dayOf(now),
		TimeIn:    now,
		Status:    status,
		TokenUsed: req.Token,
	}

	stored, inserted, err := s.repo.Insert(ctx, record)
	if err != nil {
		s.logger.Error("attendance insert failed",
			zap.String("student_id", student.ID),
			zap.String("class_id", token.ClassID),
			zap.Error(err),
		)
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to mark attendance")
	}

	result := &models.ScanResult{
		Record:      stored,
		StudentName: student.Name,
		StudentNIS:  student.NIS,
		ClassName:   token.ClassName,
		Duplicate:   !inserted,
	}
	if !inserted {
		return result, appErrors.ErrAlreadyRecorded
	}

	s.logger.Info("attendance marked",
		zap.String("student_id", student.ID),
		zap.String("class_id", token.ClassID),
		zap.String("status", string(stored.Status)),
	)
	return result, nil
}

// RecordTimeOut stamps time_out on today's record owned by the student.
func (s *AttendanceService) RecordTimeOut(ctx context.Context, recordID, studentID string) (*models.AttendanceRecord, error) {
	if recordID == "" || studentID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "record id and student id are required")
	}
	now := s.now()

	record, err := s.repo.FindOwnedForDay(ctx, recordID, studentID, dayOf(now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to mark time out")
	}
	if record.TimeOut != nil {
		return nil, appErrors.ErrAlreadyMarked
	}

	ok, err := s.repo.SetTimeOut(ctx, recordID, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to mark time out")
	}
	if !ok {
		// A concurrent caller won the conditional update.
		return nil, appErrors.ErrAlreadyMarked
	}

	record.TimeOut = &now
	return record, nil
}

// UpdateStatus applies a teacher correction; the only path that can set
// absent.
func (s *AttendanceService) UpdateStatus(ctx context.Context, req UpdateStatusRequest) error {
	if err := s.validator.Struct(req); err != nil {
		if req.Status != "" && !models.AttendanceStatus(req.Status).Valid() {
			return appErrors.ErrInvalidStatus
		}
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}

	ok, err := s.repo.UpdateStatus(ctx, req.RecordID, models.AttendanceStatus(req.Status), req.Notes)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to update attendance")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
	}
	return nil
}

// StudentHistory returns recent records plus aggregate stats.
func (s *AttendanceService) StudentHistory(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceDetail, *models.StudentAttendanceStats, error) {
	if studentID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "student id is required")
	}
	history, err := s.repo.StudentHistory(ctx, studentID, limit, offset)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to retrieve attendance")
	}
	stats, err := s.repo.StudentStats(ctx, studentID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to retrieve attendance")
	}
	return history, stats, nil
}

// ClassAttendance returns one class day with aggregate stats; a zero date
// means today.
func (s *AttendanceService) ClassAttendance(ctx context.Context, classID string, date time.Time, limit, offset int) ([]models.AttendanceDetail, *models.ClassAttendanceStats, error) {
	if classID == "" {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "class id is required")
	}
	if date.IsZero() {
		date = dayOf(s.now())
	}
	rows, err := s.repo.ClassForDay(ctx, classID, date, limit, offset)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to retrieve class attendance")
	}
	stats, err := s.repo.ClassStats(ctx, classID, date)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrStorage.Code, appErrors.ErrStorage.Status, "failed to retrieve class attendance")
	}
	return rows, stats, nil
}

// DetermineStatus classifies an arrival. On-time scans are present; every
// later scan is late regardless of how far past the threshold it lands,
// and a scan never produces absent; that only enters via UpdateStatus.
func DetermineStatus(now, classStart time.Time, lateThresholdMinutes int) models.AttendanceStatus {
	if !now.After(classStart) {
		return models.AttendanceStatusPresent
	}
	return models.AttendanceStatusLate
}

// classStartAt resolves the class start time on the scan's calendar day,
// falling back to the configured default when unset or malformed.
func (s *AttendanceService) classStartAt(ctx context.Context, classID string, now time.Time) time.Time {
	raw := s.cfg.ClassStartTime
	if class, err := s.directory.FindClass(ctx, classID); err == nil && class.StartTime != nil && *class.StartTime != "" {
		raw = *class.StartTime
	}

	var hour, minute, second int
	if _, err := fmt.Sscanf(raw, "%d:%d:%d", &hour, &minute, &second); err != nil {
		hour, minute, second = 8, 0, 0
	}
	return time.Date(now.Year(), now.Month(), now.Day(), hour, minute, second, 0, now.Location())
}

// dayOf truncates to the calendar day.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
