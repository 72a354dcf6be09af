package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/internal/service"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
	"github.com/presensia/presensia-api/pkg/response"
)

type attendanceService interface {
	Record(ctx context.Context, req service.ScanRequest) (*models.ScanResult, error)
	RecordTimeOut(ctx context.Context, recordID, studentID string) (*models.AttendanceRecord, error)
	UpdateStatus(ctx context.Context, req service.UpdateStatusRequest) error
	StudentHistory(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceDetail, *models.StudentAttendanceStats, error)
	ClassAttendance(ctx context.Context, classID string, date time.Time, limit, offset int) ([]models.AttendanceDetail, *models.ClassAttendanceStats, error)
}

// AttendanceHandler exposes scan recording and attendance queries.
type AttendanceHandler struct {
	service attendanceService
	metrics *service.MetricsService
}

// NewAttendanceHandler creates a new handler. metrics may be nil.
func NewAttendanceHandler(svc attendanceService, metrics *service.MetricsService) *AttendanceHandler {
	return &AttendanceHandler{service: svc, metrics: metrics}
}

// Scan records attendance from a QR scan. A duplicate scan is a soft
// rejection carrying the existing record, not a hard failure.
func (h *AttendanceHandler) Scan(c *gin.Context) {
	var req service.ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid scan payload"))
		return
	}

	result, err := h.service.Record(c.Request.Context(), req)
	if err != nil {
		if appErrors.IsSoft(err) && result != nil {
			h.observeScan("duplicate")
			response.ErrorWithData(c, err, result)
			return
		}
		h.observeScan("rejected")
		response.Error(c, err)
		return
	}
	h.observeScan("recorded")

	response.Created(c, result)
}

// TimeOut stamps the departure time on today's record.
func (h *AttendanceHandler) TimeOut(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.StudentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "student_id is required"))
		return
	}

	record, err := h.service.RecordTimeOut(c.Request.Context(), c.Param("id"), req.StudentID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, record, nil)
}

// UpdateStatus applies a teacher correction to a record.
func (h *AttendanceHandler) UpdateStatus(c *gin.Context) {
	if _, ok := currentClaims(c); !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid status payload"))
		return
	}
	req.RecordID = c.Param("id")

	if err := h.service.UpdateStatus(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}

	response.Message(c, http.StatusOK, "attendance updated")
}

// StudentHistory lists a student's recent records with aggregate stats.
func (h *AttendanceHandler) StudentHistory(c *gin.Context) {
	limit, offset := listParams(c)

	history, stats, err := h.service.StudentHistory(c.Request.Context(), c.Param("id"), limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"records": history, "stats": stats}, nil)
}

// ClassAttendance lists one class's records for a day with aggregate
// stats. The date query defaults to today.
func (h *AttendanceHandler) ClassAttendance(c *gin.Context) {
	limit, offset := listParams(c)

	var date time.Time
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "date must be YYYY-MM-DD"))
			return
		}
		date = parsed
	}

	records, stats, err := h.service.ClassAttendance(c.Request.Context(), c.Param("id"), date, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, gin.H{"records": records, "stats": stats}, nil)
}

func (h *AttendanceHandler) observeScan(outcome string) {
	if h.metrics != nil {
		h.metrics.ScanObserved(outcome)
	}
}

func listParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
