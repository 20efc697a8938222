package inbox

import (
	"HProject/service/stream"
)

const (
	recentCap     = 10
	appliedSetCap = 512 // 已应用 read/delete 的消息 id 上限，防止长会话无界增长
)

// MessageSummary 最近未读摘要（与快照接口的 recentUnreadMessages 同构）
type MessageSummary struct {
	Id              string `json:"Id"`
	Subject         string `json:"Subject"`
	SenderEmail     string `json:"SenderEmail"`
	SenderName      string `json:"SenderName"`
	CreatedAt       string `json:"CreatedAt"`
	HasAttachments  bool   `json:"HasAttachments"`
	AttachmentCount int    `json:"AttachmentCount"`
}

// UnreadState 单用户单租户的未读视图。
// 本身不做并发控制，由 Synchronizer 持锁调用。
//
// 所有变更规则都写成“任意顺序、可能应用两次”也安全的形态：
// 推送增量只是快路径，权威值靠周期快照覆盖回来。
type UnreadState struct {
	count  int64
	recent []MessageSummary

	// 已经应用过 read/delete 的消息 id，保证减一至多发生一次
	applied      map[string]bool
	appliedOrder []string

	version uint64 // 变更计数；no-op 不递增（测试观察用）
}

func NewUnreadState() *UnreadState {
	return &UnreadState{applied: make(map[string]bool)}
}

func (s *UnreadState) Count() int64 { return s.count }

func (s *UnreadState) Version() uint64 { return s.version }

// Recent 返回摘要副本
func (s *UnreadState) Recent() []MessageSummary {
	out := make([]MessageSummary, len(s.recent))
	copy(out, s.recent)
	return out
}

func (s *UnreadState) hasRecent(id string) bool {
	for _, m := range s.recent {
		if m.Id == id {
			return true
		}
	}
	return false
}

func (s *UnreadState) removeRecent(id string) bool {
	for i, m := range s.recent {
		if m.Id == id {
			s.recent = append(s.recent[:i], s.recent[i+1:]...)
			return true
		}
	}
	return false
}

func (s *UnreadState) markApplied(id string) {
	if s.applied[id] {
		return
	}
	s.applied[id] = true
	s.appliedOrder = append(s.appliedOrder, id)
	if len(s.appliedOrder) > appliedSetCap {
		old := s.appliedOrder[0]
		s.appliedOrder = s.appliedOrder[1:]
		delete(s.applied, old)
	}
}

// ApplyNew message:new：是收件人且不是发件人才计数；按 Id 去重，重复投递只插一次
func (s *UnreadState) ApplyNew(p stream.MessagePayload, self string) {
	if p.SenderEmail == self {
		return
	}
	recipient := false
	for _, r := range p.RecipientEmails {
		if r == self {
			recipient = true
			break
		}
	}
	if !recipient {
		return
	}
	if s.hasRecent(p.Id) || s.applied[p.Id] {
		return // 重复投递或先到的 read 已处理过
	}

	s.count++
	s.recent = append([]MessageSummary{{
		Id:              p.Id,
		Subject:         p.Subject,
		SenderEmail:     p.SenderEmail,
		SenderName:      p.SenderName,
		CreatedAt:       p.CreatedAt,
		HasAttachments:  p.HasAttachments,
		AttachmentCount: p.AttachmentCount,
	}}, s.recent...)
	if len(s.recent) > recentCap {
		s.recent = s.recent[:recentCap]
	}
	s.version++
}

// ApplyRead message:read：只处理自己的已读，减一至多一次，地板 0
func (s *UnreadState) ApplyRead(p stream.ReadPayload, self string) {
	if p.ReaderEmail != self || p.MessageID == "" {
		return
	}
	if s.applied[p.MessageID] {
		return
	}
	s.markApplied(p.MessageID)
	s.removeRecent(p.MessageID)
	if s.count > 0 {
		s.count--
	}
	s.version++
}

// ApplyDelete message:delete：同 read 的幂等纪律；删除对所有收件人生效
func (s *UnreadState) ApplyDelete(messageID string) {
	if messageID == "" || s.applied[messageID] {
		return
	}
	// 只有这条消息真在本地计过数，才回退计数
	counted := s.removeRecent(messageID)
	s.markApplied(messageID)
	if counted && s.count > 0 {
		s.count--
	}
	if counted {
		s.version++
	}
}

// ApplyUpdate message:update：只刷新摘要字段，不动计数
func (s *UnreadState) ApplyUpdate(p stream.MessagePayload) {
	for i, m := range s.recent {
		if m.Id == p.Id {
			if p.Subject != "" {
				s.recent[i].Subject = p.Subject
			}
			s.recent[i].HasAttachments = p.HasAttachments
			s.recent[i].AttachmentCount = p.AttachmentCount
			s.version++
			return
		}
	}
}

// ApplyAttachmentFlag attachment added/removed：只翻摘要上的附件标记
func (s *UnreadState) ApplyAttachmentFlag(messageID string, added bool) {
	for i, m := range s.recent {
		if m.Id == messageID {
			if added {
				s.recent[i].AttachmentCount++
			} else if s.recent[i].AttachmentCount > 0 {
				s.recent[i].AttachmentCount--
			}
			s.recent[i].HasAttachments = s.recent[i].AttachmentCount > 0
			s.version++
			return
		}
	}
}

// ApplyUnreadUpdate unread:update：服务端权威值，值没变就不动（避免无谓重渲染）
func (s *UnreadState) ApplyUnreadUpdate(p stream.UnreadUpdatePayload, self string) {
	if p.UserEmail != self {
		return
	}
	n := p.UnreadCount
	if n < 0 {
		n = 0
	}
	if s.count == n {
		return // no-op
	}
	s.count = n
	s.version++
}

// ApplySnapshot 快照整体覆盖：轮询是 ground truth，推送漂移到这里归零
func (s *UnreadState) ApplySnapshot(count int64, recent []MessageSummary) {
	if count < 0 {
		count = 0
	}
	s.count = count
	s.recent = append([]MessageSummary(nil), recent...)
	if len(s.recent) > recentCap {
		s.recent = s.recent[:recentCap]
	}
	// 快照之前的增量历史不再相关
	s.applied = make(map[string]bool)
	s.appliedOrder = nil
	s.version++
}

// Reset 401/403 的“预期空态”：清零，不记错误
func (s *UnreadState) Reset() {
	changed := s.count != 0 || len(s.recent) != 0
	s.count = 0
	s.recent = nil
	s.applied = make(map[string]bool)
	s.appliedOrder = nil
	if changed {
		s.version++
	}
}
