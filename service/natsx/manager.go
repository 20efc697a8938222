package natsx

import (
	"fmt"
	"sync"
)

// 事件总线 subject 约定：harbor.events.<tenantID>
const (
	EventSubjectPrefix = "harbor.events."
	EventSubjectAll    = "harbor.events.*"
)

func EventSubject(tenantID string) string { return EventSubjectPrefix + tenantID }

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client *NatsxClient
}

var (
	globalOnce sync.Once
	globalMgr  *NatsManager
)

// Init 初始化全局单例
func Init(cfg NatsxConfig) error {
	var initErr error
	globalOnce.Do(func() {
		c, err := NewNatsxClient(cfg)
		if err != nil {
			initErr = err
			return
		}
		globalMgr = &NatsManager{client: c}
	})
	return initErr
}

// Manager 获取全局实例
func Manager() *NatsManager {
	if globalMgr == nil {
		panic("natsx not initialized, call Init first")
	}
	return globalMgr
}

// Initialized 是否已初始化（发布方好做降级）
func Initialized() bool { return globalMgr != nil }

// Close 释放资源
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// PublishEvent 把序列化好的事件发到租户 subject
func (m *NatsManager) PublishEvent(tenantID string, payload []byte) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.Publish(EventSubject(tenantID), payload, nil)
}

// SubscribeEvents 订阅全部租户的事件（网关进程内 fan-out，不走 queue，广播语义）
func (m *NatsManager) SubscribeEvents(h NatsxHandler) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.Subscribe(EventSubjectAll, "", h)
}
