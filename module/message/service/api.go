package service

import (
	"net/http"
	"time"

	"HProject/logger"
	mid "HProject/middleware"
	midsec "HProject/middleware/security"
	"HProject/module/message/flow"
	"HProject/module/message/model"
	kafka "HProject/service/kafka"
	"HProject/service/pgstore"
	online "HProject/service/storage"
	"HProject/service/stream"
	errs "HProject/tools/errs"
	ids "HProject/tools/ids"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 挂载消息命令面
func RegisterRoutes(r gin.IRoutes) {
	auth := mid.RouteOpt{IsAuth: true}
	mid.POST(r, "/api/messages/send", SendMessage, auth)
	mid.POST(r, "/api/messages/read", MarkRead, auth)
	mid.POST(r, "/api/messages/delete", DeleteMessage, auth)
	mid.POST(r, "/api/messages/attachments/add", AddAttachment, auth)
	mid.POST(r, "/api/messages/attachments/remove", RemoveAttachment, auth)
	mid.POST(r, "/api/messages/links/add", AddLink, auth)
	mid.POST(r, "/api/messages/links/remove", RemoveLink, auth)
	mid.GET(r, "/api/messages/unread", UnreadSnapshot, auth)
	mid.GET(r, "/api/tenants", TenantsForCaller, auth)
}

type sendReq struct {
	TenantID        string   `json:"tenantId" binding:"required"`
	Subject         string   `json:"subject" binding:"required"`
	Body            string   `json:"body"`
	SenderName      string   `json:"senderName"`
	RecipientEmails []string `json:"recipientEmails" binding:"required,min=1"`
}

// SendMessage POST /api/messages/send
// 命令只进 kafka 管道，落库和事件都由 flow 消费器做；
// kafka 缺位（单机部署）时退化为同步直写。
func SendMessage(c *gin.Context) {
	sender := midsec.IdentityFrom(c)

	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	ok, err := pgstore.IsMember(c.Request.Context(), req.TenantID, sender)
	if err != nil {
		internalError(c, "membership lookup failed", err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of tenant"})
		return
	}

	payload := stream.MessagePayload{
		Id:              ids.GenerateString(),
		TenantID:        req.TenantID,
		Subject:         req.Subject,
		SenderEmail:     sender,
		SenderName:      req.SenderName,
		RecipientEmails: req.RecipientEmails,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}

	if kafka.Initialized() {
		ev := stream.NewEvent(stream.TypeMessageNew, payload)
		b, _ := ev.Marshal()
		if err := kafka.SendSync(kafka.TopicMessageIngest, req.TenantID, b); err != nil {
			internalError(c, "kafka send failed", err)
			return
		}
	} else if err := flow.Apply(c.Request.Context(), &payload); err != nil {
		internalError(c, "message apply failed", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messageId": payload.Id})
}

type readReq struct {
	TenantID  string `json:"tenantId" binding:"required"`
	MessageID string `json:"messageId" binding:"required"`
}

// MarkRead POST /api/messages/read
// 幂等：重复标已读既不再减计数，也不再发事件。
func MarkRead(c *gin.Context) {
	reader := midsec.IdentityFrom(c)

	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	ctx := c.Request.Context()

	first, err := model.MarkRead(ctx, req.TenantID, req.MessageID, reader)
	if err != nil {
		internalError(c, "mark read failed", err)
		return
	}
	if !first {
		c.JSON(http.StatusOK, gin.H{"changed": false})
		return
	}

	n, err := online.DecrUnread(ctx, req.TenantID, reader)
	if err != nil {
		logger.Errorf("[message] decr unread failed tenant=%s user=%s: %v", req.TenantID, reader, err)
		n = 0
	}
	if err := online.RemoveRecent(ctx, req.TenantID, reader, req.MessageID); err != nil {
		logger.Errorf("[message] remove recent failed: %v", err)
	}

	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeMessageRead, stream.ReadPayload{
		MessageID:   req.MessageID,
		TenantID:    req.TenantID,
		ReaderEmail: reader,
	}))
	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeUnreadUpdate, stream.UnreadUpdatePayload{
		TenantID:    req.TenantID,
		UserEmail:   reader,
		UnreadCount: n,
	}))

	c.JSON(http.StatusOK, gin.H{"changed": true, "unreadCount": n})
}

// DeleteMessage POST /api/messages/delete（仅发件人）
func DeleteMessage(c *gin.Context) {
	caller := midsec.IdentityFrom(c)

	var req readReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	ctx := c.Request.Context()

	prev, err := model.Tombstone(ctx, req.TenantID, req.MessageID, caller)
	if err != nil {
		internalError(c, "tombstone failed", err)
		return
	}
	if prev == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found or not the sender"})
		return
	}

	// 未读过这条的收件人要回退计数
	read := make(map[string]bool, len(prev.ReadBy))
	for _, r := range prev.ReadBy {
		read[r] = true
	}
	for _, rcpt := range prev.RecipientEmails {
		if rcpt == prev.SenderEmail || read[rcpt] {
			continue
		}
		n, err := online.DecrUnread(ctx, req.TenantID, rcpt)
		if err != nil {
			logger.Errorf("[message] decr unread on delete failed user=%s: %v", rcpt, err)
			continue
		}
		_ = online.RemoveRecent(ctx, req.TenantID, rcpt, req.MessageID)
		flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeUnreadUpdate, stream.UnreadUpdatePayload{
			TenantID:    req.TenantID,
			UserEmail:   rcpt,
			UnreadCount: n,
		}))
	}

	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeMessageDelete, stream.MessagePayload{
		Id:       req.MessageID,
		TenantID: req.TenantID,
	}))

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type attachmentReq struct {
	TenantID  string `json:"tenantId" binding:"required"`
	MessageID string `json:"messageId" binding:"required"`
	FileID    string `json:"fileId" binding:"required"`
	FileName  string `json:"fileName"`
	Size      int64  `json:"size"`
}

// AddAttachment POST /api/messages/attachments/add
func AddAttachment(c *gin.Context) {
	var req attachmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	ctx := c.Request.Context()
	att := model.Attachment{FileID: req.FileID, FileName: req.FileName, Size: req.Size}
	if err := model.AddAttachment(ctx, req.TenantID, req.MessageID, att); err != nil {
		internalError(c, "add attachment failed", err)
		return
	}
	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeAttachmentAdded, gin.H{
		"tenantId": req.TenantID, "messageId": req.MessageID, "fileId": req.FileID,
	}))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RemoveAttachment POST /api/messages/attachments/remove
func RemoveAttachment(c *gin.Context) {
	var req attachmentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	ctx := c.Request.Context()
	if err := model.RemoveAttachment(ctx, req.TenantID, req.MessageID, req.FileID); err != nil {
		internalError(c, "remove attachment failed", err)
		return
	}
	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeAttachmentRemoved, gin.H{
		"tenantId": req.TenantID, "messageId": req.MessageID, "fileId": req.FileID,
	}))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type linkReq struct {
	TenantID  string `json:"tenantId" binding:"required"`
	MessageID string `json:"messageId" binding:"required"`
	Url       string `json:"url" binding:"required"`
}

// AddLink POST /api/messages/links/add
func AddLink(c *gin.Context) {
	var req linkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	if err := model.AddLink(c.Request.Context(), req.TenantID, req.MessageID, req.Url); err != nil {
		internalError(c, "add link failed", err)
		return
	}
	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeLinkAdded, gin.H{
		"tenantId": req.TenantID, "messageId": req.MessageID, "url": req.Url,
	}))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// RemoveLink POST /api/messages/links/remove
func RemoveLink(c *gin.Context) {
	var req linkReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	if err := model.RemoveLink(c.Request.Context(), req.TenantID, req.MessageID, req.Url); err != nil {
		internalError(c, "remove link failed", err)
		return
	}
	flow.PublishEvent(req.TenantID, stream.NewEvent(stream.TypeLinkRemoved, gin.H{
		"tenantId": req.TenantID, "messageId": req.MessageID, "url": req.Url,
	}))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// UnreadSnapshot GET /api/messages/unread?tenantId=
// 权威快照。调用方没有任何租户时给 403——对消费端这是“无数据”，不是故障。
func UnreadSnapshot(c *gin.Context) {
	user := midsec.IdentityFrom(c)
	ctx := c.Request.Context()

	tenantID := c.Query("tenantId")
	tenantName := ""
	if tenantID == "" {
		tenants, err := pgstore.TenantsForUser(ctx, user)
		if err != nil {
			internalError(c, "tenant lookup failed", err)
			return
		}
		if len(tenants) == 0 {
			c.JSON(http.StatusForbidden, gin.H{"error": "no tenant membership"})
			return
		}
		tenantID = tenants[0].ID
		tenantName = tenants[0].Name
	} else {
		ok, err := pgstore.IsMember(ctx, tenantID, user)
		if err != nil {
			internalError(c, "membership lookup failed", err)
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a member of tenant"})
			return
		}
		if t, err := pgstore.TenantByID(ctx, tenantID); err == nil && t != nil {
			tenantName = t.Name
		}
	}

	count, err := online.GetUnread(ctx, tenantID, user)
	if err != nil {
		internalError(c, "unread lookup failed", err)
		return
	}
	recent, err := online.ListRecent(ctx, tenantID, user)
	if err != nil {
		internalError(c, "recent lookup failed", err)
		return
	}
	if recent == nil {
		recent = []online.RecentMessage{}
	}

	c.JSON(http.StatusOK, gin.H{
		"unreadCount":          count,
		"tenantId":             tenantID,
		"tenantName":           tenantName,
		"recentUnreadMessages": recent,
		"timestamp":            time.Now().UTC().Format(time.RFC3339),
	})
}

// TenantsForCaller GET /api/tenants —— 同步器的兜底租户查询
func TenantsForCaller(c *gin.Context) {
	user := midsec.IdentityFrom(c)
	tenants, err := pgstore.TenantsForUser(c.Request.Context(), user)
	if err != nil {
		internalError(c, "tenant lookup failed", err)
		return
	}
	out := make([]gin.H, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, gin.H{"tenantId": t.ID, "tenantName": t.Name})
	}
	c.JSON(http.StatusOK, gin.H{"tenants": out})
}

// 内部错误统一出口：细节只进日志，响应只给笼统消息
func internalError(c *gin.Context, msg string, err error) {
	logger.Errorf("[message] %s: %v", msg, err)
	c.JSON(http.StatusInternalServerError, errs.ErrInternal)
}
