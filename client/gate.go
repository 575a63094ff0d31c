package client

import (
	"context"
	"sync"

	"receipts/models"
)

// SessionState 登录状态
type SessionState int

const (
	// StateUnknown 认证方尚未回调
	StateUnknown SessionState = iota
	StateAuthenticated
	StateUnauthenticated
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Route 启动后应进入的流程
type Route string

const (
	RouteOnboarding Route = "onboarding"
	RouteLoading    Route = "loading"
	RouteAuth       Route = "auth"
	RouteMain       Route = "main"
)

// SessionGate 根据认证方回调决定可进入的流程
// 状态只由回调改变
type SessionGate struct {
	mu      sync.RWMutex
	state   SessionState
	user    *models.AuthenticatedUser
	changed chan struct{}

	unsubscribe func()
}

// NewSessionGate 订阅 provider 的登录状态，Close 时取消订阅
func NewSessionGate(provider AuthProvider) *SessionGate {
	g := &SessionGate{changed: make(chan struct{})}
	g.unsubscribe = provider.OnAuthStateChanged(g.onAuthStateChanged)
	return g
}

func (g *SessionGate) onAuthStateChanged(user *models.AuthenticatedUser) {
	g.mu.Lock()
	if user != nil {
		u := *user
		g.state, g.user = StateAuthenticated, &u
	} else {
		g.state, g.user = StateUnauthenticated, nil
	}
	close(g.changed)
	g.changed = make(chan struct{})
	g.mu.Unlock()
}

// State 当前状态与用户（未登录时为 nil）
func (g *SessionGate) State() (SessionState, *models.AuthenticatedUser) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.user == nil {
		return g.state, nil
	}
	u := *g.user
	return g.state, &u
}

// Route 未完成引导时先进入引导，否则状态未知时显示加载
func (g *SessionGate) Route(onboarded bool) Route {
	if !onboarded {
		return RouteOnboarding
	}
	state, _ := g.State()
	switch state {
	case StateAuthenticated:
		return RouteMain
	case StateUnauthenticated:
		return RouteAuth
	default:
		return RouteLoading
	}
}

// WaitResolved 阻塞直到状态不再是 Unknown
func (g *SessionGate) WaitResolved(ctx context.Context) (SessionState, error) {
	for {
		g.mu.RLock()
		state, changed := g.state, g.changed
		g.mu.RUnlock()
		if state != StateUnknown {
			return state, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return StateUnknown, ctx.Err()
		}
	}
}

// Close 取消订阅，之后的回调不再改变状态
func (g *SessionGate) Close() {
	g.unsubscribe()
}
