package inbox

import (
	"context"
	"sync"
	"time"

	"HProject/logger"
	"HProject/service/stream"
	errs "HProject/tools/errs"
)

// 同一进程里多个 UI 部件共享一条租户推送连接：
// 第一个 attach 建连，最后一个 detach 拆连，中间全部走引用计数。
// 换租户时旧连接直接替换掉。

// Conn 一条已建立的推送连接；Events 通道关闭即断线
type Conn interface {
	Events() <-chan stream.Event
	Close() error
}

// DialFunc 建连函数（默认 NDJSON HTTP，单测注入假连接）
type DialFunc func(ctx context.Context, tenantID string) (Conn, error)

// Handle 一个逻辑订阅者持有的句柄
type Handle struct {
	mgr      *SubscriptionManager
	tenantID string
	events   chan stream.Event
	status   chan bool // true=connected
	released bool
}

// Events 该订阅者的事件通道（慢消费者丢事件，不阻塞别人）
func (h *Handle) Events() <-chan stream.Event { return h.events }

// Status 连接状态变化通知
func (h *Handle) Status() <-chan bool { return h.status }

func (h *Handle) TenantID() string { return h.tenantID }

type SubscriptionManager struct {
	mu   sync.Mutex
	dial DialFunc

	retryDelay time.Duration

	tenantID string
	refs     int
	handles  map[*Handle]struct{}

	connected bool
	cancel    context.CancelFunc // 当前连接 loop 的取消
	gen       int                // loop 代数，换租户/拆连后旧 loop 自行退出
}

func NewSubscriptionManager(dial DialFunc) *SubscriptionManager {
	return &SubscriptionManager{
		dial:       dial,
		retryDelay: 3 * time.Second,
		handles:    make(map[*Handle]struct{}),
	}
}

// —— 进程级单例，首次 attach 惰性创建 ——

var (
	defaultMgrMu sync.Mutex
	defaultMgr   *SubscriptionManager
)

func DefaultManager(dial DialFunc) *SubscriptionManager {
	defaultMgrMu.Lock()
	defer defaultMgrMu.Unlock()
	if defaultMgr == nil {
		defaultMgr = NewSubscriptionManager(dial)
	}
	return defaultMgr
}

// Attach 挂一个订阅者。请求的租户与当前打开的不同则替换连接。
func (m *SubscriptionManager) Attach(tenantID string) (*Handle, error) {
	if tenantID == "" {
		return nil, errs.ErrBadRequest.WithDetail("tenantID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refs > 0 && m.tenantID != tenantID {
		// 换租户：旧连接整体替换
		m.stopLoopLocked()
	}

	h := &Handle{
		mgr:      m,
		tenantID: tenantID,
		events:   make(chan stream.Event, 64),
		status:   make(chan bool, 4),
	}
	m.handles[h] = struct{}{}
	m.refs++
	m.tenantID = tenantID

	if m.cancel == nil {
		m.startLoopLocked()
	} else if m.connected {
		// 连接已活着，新订阅者立刻拿到状态
		select {
		case h.status <- true:
		default:
		}
	}
	return h, nil
}

// Detach 摘一个订阅者；计数归零才真正断开传输
func (m *SubscriptionManager) Detach(h *Handle) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	delete(m.handles, h)
	close(h.events)
	close(h.status)
	if m.refs > 0 {
		m.refs--
	}
	if m.refs == 0 {
		m.stopLoopLocked()
	}
}

// Refs 当前引用数（测试观察用）
func (m *SubscriptionManager) Refs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refs
}

// Connected 是否有活跃传输连接
func (m *SubscriptionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// CurrentTenant 当前连接的租户
func (m *SubscriptionManager) CurrentTenant() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel == nil {
		return ""
	}
	return m.tenantID
}

func (m *SubscriptionManager) startLoopLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.gen++
	go m.run(ctx, m.gen, m.tenantID)
}

func (m *SubscriptionManager) stopLoopLocked() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.setConnectedLocked(false)
	m.gen++ // 作废在途 loop
}

// run 连接循环：固定间隔重试，直到被取消。长驻 UI 会话，永不放弃。
func (m *SubscriptionManager) run(ctx context.Context, gen int, tenantID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := m.dial(ctx, tenantID)
		if err != nil {
			logger.Warnf("[inbox] dial tenant=%s failed, retry in %v: %v", tenantID, m.retryDelay, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.retryDelay):
			}
			continue
		}

		if !m.adoptConn(gen, conn) {
			_ = conn.Close()
			return
		}

		m.pump(ctx, gen, conn)
		_ = conn.Close()
		m.setConnected(gen, false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.retryDelay):
		}
	}
}

// adoptConn loop 还是现任才接管连接
func (m *SubscriptionManager) adoptConn(gen int, _ Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.setConnectedLocked(true)
	return true
}

// pump 把连接上的事件扇出到所有句柄
func (m *SubscriptionManager) pump(ctx context.Context, gen int, conn Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			m.mu.Lock()
			if gen != m.gen {
				m.mu.Unlock()
				return
			}
			for h := range m.handles {
				select {
				case h.events <- ev:
				default:
					// 慢订阅者：丢弃本条；轮询兜底
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *SubscriptionManager) setConnected(gen int, v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.setConnectedLocked(v)
}

func (m *SubscriptionManager) setConnectedLocked(v bool) {
	if m.connected == v {
		return
	}
	m.connected = v
	for h := range m.handles {
		select {
		case h.status <- v:
		default:
		}
	}
}
