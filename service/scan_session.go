package service

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"receipts/models"

	"github.com/google/uuid"
)

// ScanPhase 扫描会话阶段
type ScanPhase string

const (
	PhaseAnalyzing  ScanPhase = "analyzing"
	PhaseConfirming ScanPhase = "confirming"
	PhaseFailed     ScanPhase = "failed"
	PhaseCanceled   ScanPhase = "canceled"
)

// FailureKind 识别失败类型，决定给用户的提示
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureParse     FailureKind = "parse"
)

var ErrScanNotFound = errors.New("扫描会话不存在")

// ScanView 扫描会话的只读视图
type ScanView struct {
	ID      string        `json:"id"`
	Phase   ScanPhase     `json:"phase"`
	Failure FailureKind   `json:"failure,omitempty"`
	Message string        `json:"message,omitempty"`
	Flow    *FlowSnapshot `json:"flow,omitempty"`
}

// DraftPatch 表单修改，nil 字段保持不变
type DraftPatch struct {
	AmountText    *string    `json:"amount_text"`
	ShopName      *string    `json:"shop_name"`
	Date          *time.Time `json:"date"`
	CategoryID    *string    `json:"category_id"`
	Category      *string    `json:"category"`
	ClearCategory bool       `json:"clear_category"`
	Note          *string    `json:"note"`
}

type scanSession struct {
	id     string
	userID string

	mu        sync.Mutex
	phase     ScanPhase
	failure   FailureKind
	message   string
	flow      *ConfirmationFlow
	cancel    context.CancelFunc
	updatedAt time.Time
	done      chan struct{}
}

func (s *scanSession) view() ScanView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := ScanView{ID: s.id, Phase: s.phase, Failure: s.failure, Message: s.message}
	if s.flow != nil {
		snap := s.flow.State()
		v.Flow = &snap
	}
	return v
}

func (s *scanSession) touch() {
	s.updatedAt = time.Now()
}

// ScanManager 管理进行中的小票识别与确认流程
type ScanManager struct {
	analyzer DraftAnalyzer
	store    ExpenseWriter
	ttl      time.Duration

	mu       sync.Mutex
	sessions map[string]*scanSession
}

// NewScanManager 创建扫描会话管理器
func NewScanManager(analyzer DraftAnalyzer, store ExpenseWriter, ttl time.Duration) *ScanManager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &ScanManager{
		analyzer: analyzer,
		store:    store,
		ttl:      ttl,
		sessions: make(map[string]*scanSession),
	}
}

// Start 开始识别，立即返回 analyzing 状态的会话
func (m *ScanManager) Start(userID, base64Image string) ScanView {
	ctx, cancel := context.WithCancel(context.Background())
	s := &scanSession{
		id:        uuid.NewString(),
		userID:    userID,
		phase:     PhaseAnalyzing,
		cancel:    cancel,
		updatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	go m.run(ctx, s, base64Image)
	return s.view()
}

func (m *ScanManager) run(ctx context.Context, s *scanSession, image string) {
	defer close(s.done)

	draft, err := m.analyzer.Analyze(ctx, image)

	s.mu.Lock()
	defer s.mu.Unlock()
	// 已取消的会话丢弃迟到的结果
	if s.phase != PhaseAnalyzing {
		return
	}
	s.touch()

	var parseErr *ParseError
	switch {
	case err == nil:
		s.flow = NewConfirmationFlow(s.userID, draft, m.store, s.cancel)
		s.phase = PhaseConfirming
	case errors.Is(err, ErrExtractionCanceled) || ctx.Err() != nil:
		s.phase = PhaseCanceled
	case errors.As(err, &parseErr):
		log.Printf("小票识别结果无法解析 scan=%s: %v", s.id, err)
		s.phase = PhaseFailed
		s.failure = FailureParse
		s.message = "未能识别小票内容，请重新拍摄"
	default:
		log.Printf("小票识别失败 scan=%s: %v", s.id, err)
		s.phase = PhaseFailed
		s.failure = FailureTransport
		s.message = "识别失败，请稍后重试"
	}
}

// OpenEdit 为已有记录打开编辑流程
func (m *ScanManager) OpenEdit(userID string, expense models.Expense) ScanView {
	s := &scanSession{
		id:        uuid.NewString(),
		userID:    userID,
		phase:     PhaseConfirming,
		flow:      NewEditFlow(userID, expense, m.store),
		cancel:    func() {},
		updatedAt: time.Now(),
		done:      make(chan struct{}),
	}
	close(s.done)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s.view()
}

func (m *ScanManager) lookup(userID, id string) (*scanSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.userID != userID {
		return nil, ErrScanNotFound
	}
	return s, nil
}

// Get 查询会话
func (m *ScanManager) Get(userID, id string) (ScanView, error) {
	s, err := m.lookup(userID, id)
	if err != nil {
		return ScanView{}, err
	}
	return s.view(), nil
}

// Wait 等待识别阶段结束，主要供测试与长轮询使用
func (m *ScanManager) Wait(ctx context.Context, userID, id string) (ScanView, error) {
	s, err := m.lookup(userID, id)
	if err != nil {
		return ScanView{}, err
	}
	select {
	case <-s.done:
	case <-ctx.Done():
	}
	return s.view(), nil
}

// Edit 修改表单字段
func (m *ScanManager) Edit(userID, id string, patch DraftPatch) (ScanView, error) {
	s, err := m.lookup(userID, id)
	if err != nil {
		return ScanView{}, err
	}
	flow, err := s.confirmingFlow()
	if err != nil {
		return ScanView{}, err
	}

	if patch.AmountText != nil {
		if err := flow.SetAmountText(*patch.AmountText); err != nil {
			return ScanView{}, err
		}
	}
	if patch.ShopName != nil {
		if err := flow.SetShopName(*patch.ShopName); err != nil {
			return ScanView{}, err
		}
	}
	if patch.Date != nil {
		if err := flow.SetDate(*patch.Date); err != nil {
			return ScanView{}, err
		}
	}
	if patch.ClearCategory {
		if err := flow.SetCategory(nil, ""); err != nil {
			return ScanView{}, err
		}
	} else if patch.CategoryID != nil || patch.Category != nil {
		current := flow.State().Fields
		categoryID, label := current.CategoryID, current.Category
		if patch.CategoryID != nil {
			id := *patch.CategoryID
			categoryID = &id
		}
		if patch.Category != nil {
			label = *patch.Category
		}
		if err := flow.SetCategory(categoryID, label); err != nil {
			return ScanView{}, err
		}
	}
	if patch.Note != nil {
		if err := flow.SetNote(*patch.Note); err != nil {
			return ScanView{}, err
		}
	}

	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	return s.view(), nil
}

// Save 保存确认后的记录
func (m *ScanManager) Save(ctx context.Context, userID, id string) (ScanView, error) {
	s, err := m.lookup(userID, id)
	if err != nil {
		return ScanView{}, err
	}
	flow, err := s.confirmingFlow()
	if err != nil {
		return ScanView{}, err
	}

	_, err = flow.Save(ctx)

	s.mu.Lock()
	s.touch()
	s.mu.Unlock()
	return s.view(), err
}

// Cancel 取消识别或放弃确认，可重复调用
func (m *ScanManager) Cancel(userID, id string) (ScanView, error) {
	s, err := m.lookup(userID, id)
	if err != nil {
		return ScanView{}, err
	}

	s.mu.Lock()
	switch s.phase {
	case PhaseAnalyzing:
		s.phase = PhaseCanceled
		s.cancel()
	case PhaseConfirming:
		if err := s.flow.Abandon(); err != nil {
			s.mu.Unlock()
			return ScanView{}, err
		}
		s.phase = PhaseCanceled
	case PhaseFailed:
		s.phase = PhaseCanceled
	}
	s.touch()
	s.mu.Unlock()

	return s.view(), nil
}

func (s *scanSession) confirmingFlow() (*ConfirmationFlow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseConfirming || s.flow == nil {
		return nil, ErrNotEditable
	}
	return s.flow, nil
}

// Sweep 清理超过 TTL 未活动的会话
func (m *ScanManager) Sweep() int {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		expired := s.updatedAt.Before(cutoff)
		if expired && s.phase == PhaseAnalyzing {
			s.phase = PhaseCanceled
			s.cancel()
		}
		s.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// Run 定期清理过期会话，直到 ctx 结束
func (m *ScanManager) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				log.Printf("已清理 %d 个过期扫描会话", n)
			}
		}
	}
}
