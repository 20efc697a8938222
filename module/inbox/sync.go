package inbox

import (
	"context"
	"sync"
	"time"

	"HProject/logger"
	"HProject/service/stream"
	"HProject/tools/safe"
)

// 轮询节奏：推送活着时放慢，推送断了收紧。
// 最大陈旧窗口因此被 PollDisconnected 封顶，哪怕推送静默失效。
const (
	DefaultPollConnected    = 5 * time.Minute
	DefaultPollDisconnected = 15 * time.Second
)

// Snapshot 快照接口的应答
type Snapshot struct {
	UnreadCount int64            `json:"unreadCount"`
	TenantID    string           `json:"tenantId"`
	TenantName  string           `json:"tenantName"`
	Recent      []MessageSummary `json:"recentUnreadMessages"`
	Timestamp   string           `json:"timestamp"`
}

// TenantRef 兜底租户查询的一行
type TenantRef struct {
	TenantID   string `json:"tenantId"`
	TenantName string `json:"tenantName"`
}

// SnapshotClient 持久层命令接口（HTTP 实现见 httpclient.go）
type SnapshotClient interface {
	// FetchSnapshot 401/403 返回 ErrNoAccess，调用方清零不报错
	FetchSnapshot(ctx context.Context, tenantID string) (*Snapshot, error)
	FetchTenants(ctx context.Context) ([]TenantRef, error)
}

// Options 同步器参数；零值用默认
type Options struct {
	PollConnected    time.Duration
	PollDisconnected time.Duration
}

func (o *Options) norm() {
	if o.PollConnected <= 0 {
		o.PollConnected = DefaultPollConnected
	}
	if o.PollDisconnected <= 0 {
		o.PollDisconnected = DefaultPollDisconnected
	}
}

// Synchronizer 把推送增量和轮询快照捏成一个稳定的未读视图。
// 推送是快路径，快照是 ground truth：两路到达顺序不保证，
// 按“后到先赢”应用，每条规则自身幂等，所以乱序/重复都无害。
type Synchronizer struct {
	mu    sync.Mutex
	state *UnreadState

	self   string // 当前用户邮箱
	client SnapshotClient
	mgr    *SubscriptionManager
	opts   Options

	tenantID  string // 快照解析出的租户
	connected bool
	lastErr   error

	handle *Handle
	cancel context.CancelFunc
}

func NewSynchronizer(self string, client SnapshotClient, mgr *SubscriptionManager, opts Options) *Synchronizer {
	opts.norm()
	return &Synchronizer{
		state:  NewUnreadState(),
		self:   self,
		client: client,
		mgr:    mgr,
		opts:   opts,
	}
}

// View 当前视图：(未读数, 最近摘要, 推送是否在线)
func (s *Synchronizer) View() (int64, []MessageSummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Count(), s.state.Recent(), s.connected
}

// LastErr 最近一次快照失败（401/403 不算失败）
func (s *Synchronizer) LastErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Version 状态变更计数（测试观察用）
func (s *Synchronizer) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Version()
}

// Start 先拉一次快照，再挂订阅，最后启动轮询
func (s *Synchronizer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.FetchSnapshot(ctx)
	s.Attach(ctx)

	safe.Go("inbox.poll", func() { s.pollLoop(ctx) })
}

// Stop 摘订阅、停轮询。别的订阅者还在时连接不会断。
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	h := s.handle
	s.handle = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if h != nil {
		s.mgr.Detach(h)
	}
}

// FetchSnapshot 拉权威快照。
// 401/403 是预期空态：清零、不记错。其他失败保留旧值（宁可陈旧，不能闪零）。
func (s *Synchronizer) FetchSnapshot(ctx context.Context) {
	s.mu.Lock()
	tenantID := s.tenantID
	s.mu.Unlock()

	snap, err := s.client.FetchSnapshot(ctx, tenantID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		if err == ErrNoAccess {
			s.state.Reset()
			s.lastErr = nil
			return
		}
		s.lastErr = err
		logger.Warnf("[inbox] snapshot fetch failed, keeping stale state: %v", err)
		return
	}
	s.lastErr = nil
	s.state.ApplySnapshot(snap.UnreadCount, snap.Recent)
	if snap.TenantID != "" {
		s.tenantID = snap.TenantID
	}
}

// Attach 解析租户并挂共享订阅。
// 优先用快照带回的租户；没有就查“我的租户”取第一个；
// 还没有就留在纯轮询模式。
func (s *Synchronizer) Attach(ctx context.Context) {
	s.mu.Lock()
	tenantID := s.tenantID
	already := s.handle != nil
	s.mu.Unlock()
	if already {
		return
	}

	if tenantID == "" {
		tenants, err := s.client.FetchTenants(ctx)
		if err != nil {
			logger.Warnf("[inbox] tenant fallback lookup failed, polling only: %v", err)
			return
		}
		if len(tenants) == 0 {
			logger.Infof("[inbox] no tenant membership, polling only")
			return
		}
		tenantID = tenants[0].TenantID
		s.mu.Lock()
		s.tenantID = tenantID
		s.mu.Unlock()
	}

	h, err := s.mgr.Attach(tenantID)
	if err != nil {
		logger.Warnf("[inbox] attach tenant=%s failed, polling only: %v", tenantID, err)
		return
	}
	s.mu.Lock()
	s.handle = h
	s.mu.Unlock()

	safe.Go("inbox.events", func() { s.eventLoop(ctx, h) })
}

func (s *Synchronizer) eventLoop(ctx context.Context, h *Handle) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-h.Status():
			if !ok {
				return
			}
			s.mu.Lock()
			s.connected = v
			s.mu.Unlock()
		case ev, ok := <-h.Events():
			if !ok {
				return
			}
			s.OnEvent(ev)
		}
	}
}

// OnEvent 应用一条推送事件。未知类型忽略；坏载荷只打日志，不中断流。
func (s *Synchronizer) OnEvent(ev stream.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case stream.TypeConnEstablished:
		s.connected = true

	case stream.TypeMessageNew:
		var p stream.MessagePayload
		if err := ev.DecodeData(&p); err != nil {
			logger.Warnf("[inbox] bad message:new payload: %v", err)
			return
		}
		s.state.ApplyNew(p, s.self)

	case stream.TypeMessageRead:
		var p stream.ReadPayload
		if err := ev.DecodeData(&p); err != nil {
			logger.Warnf("[inbox] bad message:read payload: %v", err)
			return
		}
		s.state.ApplyRead(p, s.self)

	case stream.TypeMessageDelete:
		var p stream.MessagePayload
		if err := ev.DecodeData(&p); err != nil {
			logger.Warnf("[inbox] bad message:delete payload: %v", err)
			return
		}
		s.state.ApplyDelete(p.Id)

	case stream.TypeMessageUpdate:
		var p stream.MessagePayload
		if err := ev.DecodeData(&p); err != nil {
			logger.Warnf("[inbox] bad message:update payload: %v", err)
			return
		}
		s.state.ApplyUpdate(p)

	case stream.TypeAttachmentAdded, stream.TypeAttachmentRemoved:
		id, _ := ev.Data["messageId"].(string)
		s.state.ApplyAttachmentFlag(id, ev.Type == stream.TypeAttachmentAdded)

	case stream.TypeUnreadUpdate:
		var p stream.UnreadUpdatePayload
		if err := ev.DecodeData(&p); err != nil {
			logger.Warnf("[inbox] bad unread:update payload: %v", err)
			return
		}
		s.state.ApplyUnreadUpdate(p, s.self)

	default:
		// 未来的新事件类型：静默忽略
	}
}

// pollLoop 周期兜底轮询；间隔随连接状态切换
func (s *Synchronizer) pollLoop(ctx context.Context) {
	for {
		s.mu.Lock()
		connected := s.connected
		s.mu.Unlock()

		interval := s.opts.PollDisconnected
		if connected {
			interval = s.opts.PollConnected
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		s.FetchSnapshot(ctx)
		// 快照可能首次带回租户，补挂订阅
		s.Attach(ctx)
	}
}
