package coord

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"HProject/logger"
	online "HProject/service/storage"
	ids "HProject/tools/ids"
)

// notifyEntity 一个用户（按邮箱寻址）的通知 feed。
// 内存态是权威，redis 只做重启后的恢复底。
type notifyEntity struct {
	email string

	loaded bool
	items  []online.Notification
}

func newNotifyEntity(email string) *notifyEntity {
	return &notifyEntity{email: email}
}

func (n *notifyEntity) Handle(ctx context.Context, req *Request) Response {
	n.ensureLoaded(ctx)

	switch req.Action {
	case "notification":
		return n.handlePush(ctx, req)
	case "check", "":
		return n.handleCheck(req)
	case "clear":
		return n.handleClear(ctx, req)
	default:
		return Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "unknown action: " + req.Action}}
	}
}

// 首次访问时从 redis 恢复
func (n *notifyEntity) ensureLoaded(ctx context.Context) {
	if n.loaded {
		return
	}
	n.loaded = true
	if !online.Ready() {
		return
	}
	items, err := online.ListNotifications(ctx, n.email)
	if err != nil {
		logger.Warnf("[coord] restore notifications for %s failed: %v", n.email, err)
		return
	}
	n.items = items
}

func (n *notifyEntity) handlePush(ctx context.Context, req *Request) Response {
	if req.Method != http.MethodPost {
		return Response{Status: http.StatusMethodNotAllowed, Body: map[string]string{"error": "method not allowed"}}
	}
	var body struct {
		Kind    string         `json:"kind"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil || body.Kind == "" {
		return Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "kind is required"}}
	}

	item := online.Notification{
		ID:        ids.GenerateString(),
		Kind:      body.Kind,
		Payload:   body.Payload,
		CreatedAt: time.Now().UnixMilli(),
	}
	n.items = append([]online.Notification{item}, n.items...)
	if !online.Ready() {
		return Response{Status: http.StatusOK, Body: map[string]any{"id": item.ID}}
	}
	if err := online.PushNotification(ctx, n.email, item); err != nil {
		// 持久化失败不影响内存态，重启才会丢
		logger.Warnf("[coord] persist notification for %s failed: %v", n.email, err)
	}
	return Response{Status: http.StatusOK, Body: map[string]any{"id": item.ID}}
}

func (n *notifyEntity) handleCheck(req *Request) Response {
	if req.Method != http.MethodGet {
		return Response{Status: http.StatusMethodNotAllowed, Body: map[string]string{"error": "method not allowed"}}
	}
	items := n.items
	if items == nil {
		items = []online.Notification{}
	}
	return Response{Status: http.StatusOK, Body: map[string]any{
		"count":         len(items),
		"notifications": items,
	}}
}

func (n *notifyEntity) handleClear(ctx context.Context, req *Request) Response {
	if req.Method != http.MethodPost {
		return Response{Status: http.StatusMethodNotAllowed, Body: map[string]string{"error": "method not allowed"}}
	}
	n.items = nil
	if !online.Ready() {
		return Response{Status: http.StatusOK, Body: map[string]any{"cleared": true}}
	}
	if err := online.ClearNotifications(ctx, n.email); err != nil {
		logger.Warnf("[coord] clear notifications for %s failed: %v", n.email, err)
	}
	return Response{Status: http.StatusOK, Body: map[string]any{"cleared": true}}
}
