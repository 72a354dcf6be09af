package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/models"
	"github.com/presensia/presensia-api/internal/service"
	"github.com/presensia/presensia-api/pkg/config"
	appErrors "github.com/presensia/presensia-api/pkg/errors"
)

type principalVerifier interface {
	VerifyPrincipal(ctx context.Context, userID string, userType models.UserType) (string, error)
}

type attendanceRecorder interface {
	Record(ctx context.Context, req service.ScanRequest) (*models.ScanResult, error)
	StudentHistory(ctx context.Context, studentID string, limit, offset int) ([]models.AttendanceDetail, *models.StudentAttendanceStats, error)
}

type notificationSink interface {
	Insert(ctx context.Context, n *models.Notification) error
}

type gatewayMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
	ScanObserved(outcome string)
	EventPushed()
}

const defaultHistoryLimit = 30

// Gateway dispatches websocket frames onto the attendance services and
// pushes resulting events back through the registry.
type Gateway struct {
	registry      *Registry
	auth          principalVerifier
	attendance    attendanceRecorder
	notifications notificationSink
	metrics       gatewayMetrics
	cfg           config.RealtimeConfig
	upgrader      websocket.Upgrader
	logger        *zap.Logger
	now           func() time.Time
}

// NewGateway wires the gateway. notifications and metrics may be nil.
func NewGateway(
	registry *Registry,
	auth principalVerifier,
	attendance attendanceRecorder,
	notifications notificationSink,
	metrics gatewayMetrics,
	cfg config.RealtimeConfig,
	logger *zap.Logger,
) *Gateway {
	return &Gateway{
		registry:      registry,
		auth:          auth,
		attendance:    attendance,
		notifications: notifications,
		metrics:       metrics,
		cfg:           cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
		now:    time.Now,
	}
}

// HandleConnection upgrades the HTTP request and runs the connection until
// the peer disconnects.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(conn, g.cfg, g.logger)
	if g.metrics != nil {
		g.metrics.ConnectionOpened()
	}
	g.logger.Info("connection opened", zap.String("connection_id", client.ID()))

	welcome := NewOutbound(TypeSystem, g.now())
	welcome.Message = "Connected to attendance server"
	client.deliver(welcome)

	go client.writePump()
	client.readPump(r.Context(), g)
}

// disconnect tears down registry state after the read pump exits.
func (g *Gateway) disconnect(c *Client) {
	g.registry.Unregister(c)
	if g.metrics != nil {
		g.metrics.ConnectionClosed()
	}
	g.logger.Info("connection closed", zap.String("connection_id", c.ID()))
}

// HandleMessage decodes one inbound frame and dispatches it. Every failure
// surfaces to the client as an error frame; the connection stays open.
func (g *Gateway) HandleMessage(ctx context.Context, c *Client, data []byte) {
	msg, err := ParseInbound(data)
	if err != nil {
		g.sendError(c, err.Error())
		return
	}

	switch m := msg.(type) {
	case AuthMessage:
		g.handleAuth(ctx, c, m)
	case ScanMessage:
		g.handleScan(ctx, c, m)
	case GetAttendanceMessage:
		g.handleGetAttendance(ctx, c, m)
	case PingMessage:
		c.deliver(NewOutbound(TypePong, g.now()))
	}
}

func (g *Gateway) handleAuth(ctx context.Context, c *Client, m AuthMessage) {
	if m.UserID == "" || !m.UserType.Valid() {
		g.sendError(c, "user_id and a valid user_type are required")
		return
	}

	name, err := g.auth.VerifyPrincipal(ctx, m.UserID, m.UserType)
	if err != nil {
		g.sendError(c, appErrors.FromError(err).Message)
		return
	}

	c.authenticate(models.Principal{UserID: m.UserID, UserType: m.UserType}, name)
	g.registry.Register(c)

	ev := NewOutbound(TypeAuthSuccess, g.now())
	ev.Message = "Authentication successful"
	ev.User = AuthenticatedUser{ID: m.UserID, Name: name, Type: string(m.UserType)}
	c.deliver(ev)

	g.logger.Info("connection authenticated",
		zap.String("connection_id", c.ID()),
		zap.String("user_id", m.UserID),
		zap.String("user_type", string(m.UserType)))
}

// handleScan records attendance from a QR scan. Authentication is not
// required here; possession of a live token is the credential.
func (g *Gateway) handleScan(ctx context.Context, c *Client, m ScanMessage) {
	if m.StudentID == "" || m.Token == "" {
		g.sendError(c, "student_id and qr_token are required")
		return
	}

	result, err := g.attendance.Record(ctx, service.ScanRequest{StudentID: m.StudentID, Token: m.Token})
	if err != nil {
		outcome := "rejected"
		if appErrors.IsSoft(err) {
			outcome = "duplicate"
		}
		if g.metrics != nil {
			g.metrics.ScanObserved(outcome)
		}
		g.sendError(c, appErrors.FromError(err).Message)
		return
	}
	if g.metrics != nil {
		g.metrics.ScanObserved("recorded")
	}

	event := AttendanceEvent{
		StudentName: result.StudentName,
		StudentNIS:  result.StudentNIS,
		ClassName:   result.ClassName,
		Status:      string(result.Record.Status),
		Time:        result.Record.TimeIn.Format("15:04:05"),
		Date:        result.Record.Date.Format("2006-01-02"),
	}

	success := NewOutbound(TypeAttendanceSuccess, g.now())
	success.Message = "Attendance recorded"
	success.Data = event
	c.deliver(success)

	broadcast := NewOutbound(TypeNewAttendance, g.now())
	broadcast.Data = event
	delivered := g.registry.BroadcastToClassTeachers(ctx, result.Record.ClassID, broadcast)
	if g.metrics != nil {
		for i := 0; i < delivered; i++ {
			g.metrics.EventPushed()
		}
	}

	if g.notifications != nil {
		n := &models.Notification{
			StudentID: m.StudentID,
			Message:   result.StudentName + " marked " + string(result.Record.Status) + " in " + result.ClassName,
			Type:      "attendance",
			Status:    "sent",
		}
		if err := g.notifications.Insert(ctx, n); err != nil {
			g.logger.Warn("store notification failed", zap.Error(err))
		}
	}

	g.logger.Info("attendance recorded via websocket",
		zap.String("student_id", m.StudentID),
		zap.String("class_id", result.Record.ClassID),
		zap.String("status", string(result.Record.Status)))
}

func (g *Gateway) handleGetAttendance(ctx context.Context, c *Client, m GetAttendanceMessage) {
	if m.StudentID == "" {
		g.sendError(c, "student_id is required")
		return
	}

	limit := m.Limit
	if limit <= 0 || limit > 100 {
		limit = defaultHistoryLimit
	}

	history, stats, err := g.attendance.StudentHistory(ctx, m.StudentID, limit, 0)
	if err != nil {
		g.sendError(c, appErrors.FromError(err).Message)
		return
	}

	ev := NewOutbound(TypeAttendanceData, g.now())
	ev.Data = map[string]interface{}{
		"student_id": m.StudentID,
		"records":    history,
		"stats":      stats,
	}
	c.deliver(ev)
}

func (g *Gateway) sendError(c *Client, message string) {
	ev := NewOutbound(TypeError, g.now())
	ev.Message = message
	c.deliver(ev)
}
