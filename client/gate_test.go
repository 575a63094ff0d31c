package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"receipts/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubProvider 手动触发回调的认证方
type stubProvider struct {
	mu        sync.Mutex
	listeners map[int]func(*models.AuthenticatedUser)
	next      int
}

func newStubProvider() *stubProvider {
	return &stubProvider{listeners: make(map[int]func(*models.AuthenticatedUser))}
}

func (p *stubProvider) SignUp(context.Context, string, string) (*models.AuthenticatedUser, error) {
	return nil, nil
}

func (p *stubProvider) SignIn(context.Context, string, string) (*models.AuthenticatedUser, error) {
	return nil, nil
}

func (p *stubProvider) SignOut(context.Context) error { return nil }

func (p *stubProvider) OnAuthStateChanged(fn func(*models.AuthenticatedUser)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

func (p *stubProvider) emit(user *models.AuthenticatedUser) {
	p.mu.Lock()
	fns := make([]func(*models.AuthenticatedUser), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(user)
	}
}

func (p *stubProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func TestSessionGate_Transitions(t *testing.T) {
	p := newStubProvider()
	g := NewSessionGate(p)
	defer g.Close()

	state, user := g.State()
	assert.Equal(t, StateUnknown, state)
	assert.Nil(t, user)
	assert.Equal(t, RouteLoading, g.Route(true))
	assert.Equal(t, RouteOnboarding, g.Route(false))

	p.emit(&models.AuthenticatedUser{ID: "u1", Email: "a@b.com"})
	state, user = g.State()
	assert.Equal(t, StateAuthenticated, state)
	require.NotNil(t, user)
	assert.Equal(t, "u1", user.ID)
	assert.Equal(t, RouteMain, g.Route(true))

	p.emit(nil)
	state, user = g.State()
	assert.Equal(t, StateUnauthenticated, state)
	assert.Nil(t, user)
	assert.Equal(t, RouteAuth, g.Route(true))
	assert.Equal(t, RouteOnboarding, g.Route(false))
}

func TestSessionGate_CloseUnsubscribes(t *testing.T) {
	p := newStubProvider()
	g := NewSessionGate(p)
	assert.Equal(t, 1, p.count())

	g.Close()
	assert.Equal(t, 0, p.count())

	p.emit(&models.AuthenticatedUser{ID: "u1"})
	state, _ := g.State()
	assert.Equal(t, StateUnknown, state)
}

func TestSessionGate_WaitResolved(t *testing.T) {
	p := newStubProvider()
	g := NewSessionGate(p)
	defer g.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.emit(nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	state, err := g.WaitResolved(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, state)
}

func TestSessionGate_WaitResolvedTimeout(t *testing.T) {
	g := NewSessionGate(newStubProvider())
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	state, err := g.WaitResolved(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateUnknown, state)
}

func TestSessionState_String(t *testing.T) {
	assert.Equal(t, "unknown", StateUnknown.String())
	assert.Equal(t, "authenticated", StateAuthenticated.String())
	assert.Equal(t, "unauthenticated", StateUnauthenticated.String())
}
