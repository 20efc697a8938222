package stream

import (
	"encoding/json"
	"time"

	"HProject/tools/decode"
)

// Type 事件判别标签。未知标签不是错误：消费端一律忽略，留给未来扩展。
type Type string

const (
	TypeMessageNew        Type = "message:new"
	TypeMessageRead       Type = "message:read"
	TypeMessageDelete     Type = "message:delete"
	TypeMessageUpdate     Type = "message:update"
	TypeAttachmentAdded   Type = "message:attachment:added"
	TypeAttachmentRemoved Type = "message:attachment:removed"
	TypeLinkAdded         Type = "message:link:added"
	TypeLinkRemoved       Type = "message:link:removed"
	TypeConnEstablished   Type = "connection:established"
	TypeUnreadUpdate      Type = "unread:update"
)

// Event 推送事件信封。Data 保持 map 形态原样转发，
// 网关不理解载荷内容；消费端按 Type 用 decode.Map 还原成具体结构。
type Event struct {
	Type Type           `json:"type"`
	Data map[string]any `json:"data"`
}

func (e Event) Marshal() ([]byte, error) { return json.Marshal(e) }

// ParseEvent 反序列化一条事件；data 缺失时补空 map，避免下游判 nil
func ParseEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e, nil
}

// —— 载荷结构 ——

// MessagePayload message:new / message:update / message:delete 的载荷
type MessagePayload struct {
	Id              string   `json:"Id"`
	TenantID        string   `json:"tenantId"`
	Subject         string   `json:"Subject"`
	SenderEmail     string   `json:"SenderEmail"`
	SenderName      string   `json:"SenderName"`
	RecipientEmails []string `json:"recipientEmails"`
	CreatedAt       string   `json:"CreatedAt"`
	HasAttachments  bool     `json:"HasAttachments"`
	AttachmentCount int      `json:"AttachmentCount"`
}

// ReadPayload message:read 的载荷
type ReadPayload struct {
	MessageID   string `json:"messageId"`
	TenantID    string `json:"tenantId"`
	ReaderEmail string `json:"readerEmail"`
}

// UnreadUpdatePayload unread:update 的载荷，count 是服务端权威值
type UnreadUpdatePayload struct {
	TenantID    string `json:"tenantId"`
	UserEmail   string `json:"userEmail"`
	UnreadCount int64  `json:"unreadCount"`
}

// DecodeData 按需把 Data 还原成具体载荷
func (e Event) DecodeData(dst any) error { return decode.Map(e.Data, dst) }

// —— 构造函数 ——

func NewEvent(t Type, data any) Event {
	m := map[string]any{}
	if data != nil {
		b, err := json.Marshal(data)
		if err == nil {
			_ = json.Unmarshal(b, &m)
		}
	}
	return Event{Type: t, Data: m}
}

// ConnEstablished 每条连接的首个事件
func ConnEstablished(tenantID string) Event {
	return Event{Type: TypeConnEstablished, Data: map[string]any{
		"tenantId":  tenantID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}}
}
