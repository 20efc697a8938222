package flow

import (
	"context"
	"time"

	"HProject/logger"
	"HProject/module/message/model"
	kafka "HProject/service/kafka"
	"HProject/service/natsx"
	online "HProject/service/storage"
	"HProject/service/stream"
	"HProject/tools/decode"
)

// 消息投递管道：API 节点把发信命令丢进 kafka，
// 本消费器负责落库、记未读、再把实时事件推上 NATS 总线。

// Register 把 ingest handler 挂到 kafka 路由表
func Register() {
	kafka.RegisterHandler(kafka.TopicMessageIngest, handleIngest)
}

func handleIngest(topic string, key, value []byte) error {
	var p stream.MessagePayload
	if err := decode.JSON(value, &p); err != nil {
		// 坏消息打日志后吞掉：投递管道不能因一条脏数据停转
		logger.Errorf("[flow] bad ingest payload topic=%s: %v", topic, err)
		return nil
	}
	if p.TenantID == "" || p.Id == "" {
		logger.Errorf("[flow] ingest payload missing tenantId or Id")
		return nil
	}
	return Apply(context.Background(), &p)
}

// Apply 落库 + 未读计数 + 实时事件。kafka 缺位时 API 节点直接调用。
func Apply(ctx context.Context, p *stream.MessagePayload) error {
	createdAt := p.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
		p.CreatedAt = createdAt
	}
	ts, _ := time.Parse(time.RFC3339, createdAt)

	doc := &model.Message{
		TenantID:        p.TenantID,
		MsgID:           p.Id,
		Subject:         p.Subject,
		SenderEmail:     p.SenderEmail,
		SenderName:      p.SenderName,
		RecipientEmails: p.RecipientEmails,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	inserted, err := doc.Insert(ctx)
	if err != nil {
		return err
	}
	if !inserted {
		// kafka 重投：库里已有这条，不能再记一次未读
		logger.Infof("[flow] duplicate ingest skipped tenant=%s id=%s", p.TenantID, p.Id)
		return nil
	}

	summary := online.RecentMessage{
		Id:              p.Id,
		Subject:         p.Subject,
		SenderEmail:     p.SenderEmail,
		SenderName:      p.SenderName,
		CreatedAt:       createdAt,
		HasAttachments:  p.HasAttachments,
		AttachmentCount: p.AttachmentCount,
	}
	for _, rcpt := range p.RecipientEmails {
		if rcpt == p.SenderEmail {
			continue // 发给自己的抄送不计未读
		}
		n, err := online.IncrUnread(ctx, p.TenantID, rcpt)
		if err != nil {
			logger.Errorf("[flow] incr unread failed tenant=%s user=%s: %v", p.TenantID, rcpt, err)
			continue
		}
		if err := online.PushRecent(ctx, p.TenantID, rcpt, summary); err != nil {
			logger.Errorf("[flow] push recent failed tenant=%s user=%s: %v", p.TenantID, rcpt, err)
		}
		PublishEvent(p.TenantID, stream.NewEvent(stream.TypeUnreadUpdate, stream.UnreadUpdatePayload{
			TenantID:    p.TenantID,
			UserEmail:   rcpt,
			UnreadCount: n,
		}))
	}

	PublishEvent(p.TenantID, stream.NewEvent(stream.TypeMessageNew, p))
	return nil
}

// PublishEvent 事件上 NATS 总线；总线缺位时降级为只打日志
func PublishEvent(tenantID string, ev stream.Event) {
	if !natsx.Initialized() {
		logger.Debugf("[flow] nats not ready, drop event type=%s tenant=%s", ev.Type, tenantID)
		return
	}
	b, err := ev.Marshal()
	if err != nil {
		logger.Errorf("[flow] marshal event failed type=%s: %v", ev.Type, err)
		return
	}
	if err := natsx.Manager().PublishEvent(tenantID, b); err != nil {
		logger.Errorf("[flow] publish event failed type=%s tenant=%s: %v", ev.Type, tenantID, err)
	}
}
