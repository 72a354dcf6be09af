package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/models"
)

// classTeacherResolver reports the teacher IDs responsible for a class.
type classTeacherResolver func(ctx context.Context, classID string) ([]string, error)

// Registry tracks live connections keyed by principal. At most one
// connection is addressable per (userID, userType) pair; a newer
// registration supersedes the older handle without closing its transport.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	teachers classTeacherResolver
	logger   *zap.Logger
}

// NewRegistry builds an empty registry. teachers may be nil when
// class-scoped broadcasts are not needed.
func NewRegistry(teachers classTeacherResolver, logger *zap.Logger) *Registry {
	return &Registry{
		clients:  make(map[string]*Client),
		teachers: teachers,
		logger:   logger,
	}
}

func registryKey(userID string, userType models.UserType) string {
	return userID + "_" + string(userType)
}

// Register makes the client addressable under its principal, replacing any
// previous registration for the same principal.
func (r *Registry) Register(c *Client) {
	p := c.Principal()
	if p == nil {
		return
	}
	key := registryKey(p.UserID, p.UserType)

	r.mu.Lock()
	prev, replaced := r.clients[key]
	r.clients[key] = c
	r.mu.Unlock()

	if replaced && prev != c {
		r.logger.Info("connection superseded",
			zap.String("user_id", p.UserID),
			zap.String("user_type", string(p.UserType)))
	}
}

// Unregister removes the client if it is still the current registration
// for its principal. Superseded handles are a no-op.
func (r *Registry) Unregister(c *Client) {
	p := c.Principal()
	if p == nil {
		return
	}
	key := registryKey(p.UserID, p.UserType)

	r.mu.Lock()
	if r.clients[key] == c {
		delete(r.clients, key)
	}
	r.mu.Unlock()
}

// SendTo delivers a frame to the connection registered for the principal.
// It reports false when no such connection exists.
func (r *Registry) SendTo(userID string, userType models.UserType, ev Outbound) bool {
	r.mu.RLock()
	c, ok := r.clients[registryKey(userID, userType)]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.deliver(ev)
	return true
}

// BroadcastToRole pushes a frame to every authenticated connection of the
// given role. Delivery is best effort.
func (r *Registry) BroadcastToRole(role models.UserType, ev Outbound) int {
	r.mu.RLock()
	targets := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		if p := c.Principal(); p != nil && p.UserType == role {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range targets {
		c.deliver(ev)
	}
	return len(targets)
}

// BroadcastToClassTeachers pushes a frame to the teachers responsible for
// the class. Resolution failures are logged and swallowed; realtime
// delivery never fails the caller.
func (r *Registry) BroadcastToClassTeachers(ctx context.Context, classID string, ev Outbound) int {
	if r.teachers == nil {
		return 0
	}
	ids, err := r.teachers(ctx, classID)
	if err != nil {
		r.logger.Warn("resolve class teachers failed",
			zap.String("class_id", classID), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, id := range ids {
		if r.SendTo(id, models.UserTypeTeacher, ev) {
			delivered++
		}
	}
	return delivered
}

// Count reports the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
