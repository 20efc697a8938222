package coord

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// 实体类型
const (
	EntityWorkflow      = "workflow"
	EntityNotifications = "notifications"
)

// AddressOf (entityType, entityName) 的确定性地址。
// 同样的输入在部署生命周期内永远落到同一个协调单元——
// 这就是按实体串行化的全部来源，不需要显式锁。
func AddressOf(entityType, entityName string) string {
	h := sha256.Sum256([]byte(entityType + "/" + entityName))
	return hex.EncodeToString(h[:])
}

// Registry 地址 -> 唯一活跃 actor。进程内每个地址只有一个实例。
type Registry struct {
	mu     sync.Mutex
	actors map[string]*Actor
}

func NewRegistry() *Registry {
	return &Registry{actors: make(map[string]*Actor)}
}

// GetOrCreate 取地址对应的 actor，不存在则创建并拉起其主循环
func (r *Registry) GetOrCreate(entityType, entityName string) *Actor {
	addr := AddressOf(entityType, entityName)

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.actors[addr]; ok {
		return a
	}

	var h EntityHandler
	switch entityType {
	case EntityWorkflow:
		h = newWorkflowEntity(entityName)
	case EntityNotifications:
		h = newNotifyEntity(entityName)
	}
	a := newActor(addr, entityType, entityName, h)
	r.actors[addr] = a
	a.start()
	return a
}

// Len 活跃 actor 数（测试观察用）
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actors)
}
