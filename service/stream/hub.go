package stream

import (
	"context"
	"strings"
	"sync"

	"HProject/logger"
	"HProject/service/natsx"
)

// ===== 订阅者 =====

const subscriberBuf = 64

// Subscriber 一条下游连接（SSE 或 WS）在 Hub 里的挂载点
type Subscriber struct {
	tenantID string
	ch       chan Event

	closeOnce sync.Once
	done      chan struct{}
}

// Events 只读事件通道
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Done 关闭通知
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) TenantID() string { return s.tenantID }

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// ===== Hub =====

// Hub 租户维度的事件扇出中心。网关不缓冲、不回放：
// 订阅者掉线期间的事件直接丢失，由消费端轮询补齐。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscriber]struct{} // tenantID -> set

	fanout *Fanout
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*Subscriber]struct{}),
		fanout: NewFanout(4, 1024),
	}
}

// Subscribe 挂载一个租户订阅者
func (h *Hub) Subscribe(tenantID string) *Subscriber {
	s := &Subscriber{
		tenantID: tenantID,
		ch:       make(chan Event, subscriberBuf),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	set := h.subs[tenantID]
	if set == nil {
		set = make(map[*Subscriber]struct{})
		h.subs[tenantID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Unsubscribe 摘除订阅者并关闭其通道
func (h *Hub) Unsubscribe(s *Subscriber) {
	if s == nil {
		return
	}
	h.mu.Lock()
	if set := h.subs[s.tenantID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.tenantID)
		}
	}
	h.mu.Unlock()
	s.close()
}

// SubscriberCount 某租户当前在线订阅数
func (h *Hub) SubscriberCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[tenantID])
}

// Publish 把事件发给该租户的所有订阅者。
// 网关是租户粒度：按收件人过滤在消费端做。
func (h *Hub) Publish(tenantID string, ev Event) {
	h.mu.RLock()
	set := h.subs[tenantID]
	if len(set) == 0 {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Subscriber, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.fanout.Submit(targets, ev)
}

// ===== 扇出工作池 =====

type fanoutJob struct {
	subs []*Subscriber
	ev   Event
}

type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, s := range job.subs {
					select {
					case <-s.done:
					case s.ch <- job.ev:
					default:
						// 慢订阅者：丢弃本条，不阻塞其他人；轮询会补齐
					}
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Submit(subs []*Subscriber, ev Event) {
	select {
	case f.jobs <- fanoutJob{subs: subs, ev: ev}:
	default:
		logger.Warnf("[stream] fanout queue full, dropping event type=%s", ev.Type)
	}
}

// ===== 总线接入 =====

// StartBusFeed 订阅 NATS 事件总线，把每条事件路由进 Hub。
// 单条坏载荷只打日志，绝不中断订阅。
func (h *Hub) StartBusFeed() error {
	return natsx.Manager().SubscribeEvents(func(_ context.Context, msg natsx.NatsxMessage) error {
		tenantID := strings.TrimPrefix(msg.Subject, natsx.EventSubjectPrefix)
		if tenantID == "" || tenantID == msg.Subject {
			logger.Warnf("[stream] unexpected subject: %s", msg.Subject)
			return nil
		}
		ev, err := ParseEvent(msg.Data)
		if err != nil {
			logger.Warnf("[stream] bad event payload on %s: %v", msg.Subject, err)
			return nil
		}
		h.Publish(tenantID, ev)
		return nil
	})
}
