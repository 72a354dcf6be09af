package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presensia/presensia-api/internal/models"
)

func newTestClient(userID string, userType models.UserType) *Client {
	c := &Client{
		id:     "conn-" + userID,
		send:   make(chan Outbound, 8),
		done:   make(chan struct{}),
		logger: zap.NewNop(),
	}
	if userID != "" {
		c.authenticate(models.Principal{UserID: userID, UserType: userType}, "Test "+userID)
	}
	return c
}

func receive(t *testing.T, c *Client) Outbound {
	t.Helper()
	select {
	case ev := <-c.send:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return Outbound{}
	}
}

func TestSendToRegisteredClient(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	c := newTestClient("t1", models.UserTypeTeacher)
	reg.Register(c)

	ok := reg.SendTo("t1", models.UserTypeTeacher, Outbound{Type: TypeSystem})
	require.True(t, ok)
	assert.Equal(t, TypeSystem, receive(t, c).Type)

	assert.False(t, reg.SendTo("t1", models.UserTypeStudent, Outbound{Type: TypeSystem}))
	assert.False(t, reg.SendTo("ghost", models.UserTypeTeacher, Outbound{Type: TypeSystem}))
}

func TestRegisterReplacesPreviousConnection(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	old := newTestClient("t1", models.UserTypeTeacher)
	replacement := newTestClient("t1", models.UserTypeTeacher)

	reg.Register(old)
	reg.Register(replacement)
	assert.Equal(t, 1, reg.Count())

	reg.SendTo("t1", models.UserTypeTeacher, Outbound{Type: TypePong})
	assert.Equal(t, TypePong, receive(t, replacement).Type)
	assert.Empty(t, old.send)

	// The superseded handle's unregister must not evict the replacement.
	reg.Unregister(old)
	assert.Equal(t, 1, reg.Count())

	reg.Unregister(replacement)
	assert.Equal(t, 0, reg.Count())
}

func TestUnregisterAnonymousClientIsNoop(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	c := newTestClient("", "")

	reg.Register(c)
	assert.Equal(t, 0, reg.Count())
	reg.Unregister(c)
}

func TestBroadcastToRole(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())
	teacher := newTestClient("t1", models.UserTypeTeacher)
	student := newTestClient("s1", models.UserTypeStudent)
	reg.Register(teacher)
	reg.Register(student)

	delivered := reg.BroadcastToRole(models.UserTypeTeacher, Outbound{Type: TypeNewAttendance})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, TypeNewAttendance, receive(t, teacher).Type)
	assert.Empty(t, student.send)
}

func TestBroadcastToClassTeachers(t *testing.T) {
	resolver := func(_ context.Context, classID string) ([]string, error) {
		if classID == "class-1" {
			return []string{"t1", "t-offline"}, nil
		}
		return nil, errors.New("unknown class")
	}
	reg := NewRegistry(resolver, zap.NewNop())

	owner := newTestClient("t1", models.UserTypeTeacher)
	other := newTestClient("t2", models.UserTypeTeacher)
	reg.Register(owner)
	reg.Register(other)

	delivered := reg.BroadcastToClassTeachers(context.Background(), "class-1", Outbound{Type: TypeNewAttendance})
	assert.Equal(t, 1, delivered)
	assert.Equal(t, TypeNewAttendance, receive(t, owner).Type)
	assert.Empty(t, other.send)

	// Resolution failure is swallowed, not fatal.
	assert.Equal(t, 0, reg.BroadcastToClassTeachers(context.Background(), "class-x", Outbound{Type: TypeNewAttendance}))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry(nil, zap.NewNop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c := newTestClient("t1", models.UserTypeTeacher)
			reg.Register(c)
			reg.Unregister(c)
		}
	}()

	for i := 0; i < 100; i++ {
		reg.SendTo("t1", models.UserTypeTeacher, Outbound{Type: TypePong})
		reg.BroadcastToRole(models.UserTypeTeacher, Outbound{Type: TypeSystem})
		reg.Count()
	}
	<-done
}

func TestDeliverDropsWhenBufferFull(t *testing.T) {
	c := &Client{
		id:     "conn-slow",
		send:   make(chan Outbound, 1),
		done:   make(chan struct{}),
		logger: zap.NewNop(),
	}

	c.deliver(Outbound{Type: TypeSystem})
	c.deliver(Outbound{Type: TypePong})

	assert.Len(t, c.send, 1)
	assert.Equal(t, TypeSystem, (<-c.send).Type)
}
