package coord

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"HProject/logger"
	ids "HProject/tools/ids"

	"github.com/gorilla/websocket"
)

// workflowEntity 一个工作流实例的权威内存态。
// 同名请求全部串行过本实体的 actor，字段不需要锁。
type workflowEntity struct {
	workflowID string

	status    string
	tenantID  string
	messages  []WorkflowMessage
	updatedAt time.Time

	// websocket 旁路：挂在这个工作流上的实况连接
	socks map[*websocket.Conn]bool
}

type WorkflowMessage struct {
	ID        string         `json:"id"`
	Sender    string         `json:"sender"`
	Text      string         `json:"text"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt string         `json:"createdAt"`
}

func newWorkflowEntity(workflowID string) *workflowEntity {
	return &workflowEntity{
		workflowID: workflowID,
		status:     "pending",
		socks:      make(map[*websocket.Conn]bool),
	}
}

func (w *workflowEntity) Handle(_ context.Context, req *Request) Response {
	if w.tenantID == "" {
		w.tenantID = req.TenantID
	}

	switch req.Action {
	case "":
		return w.handleRoot(req)
	case "messages":
		return w.handleMessages(req)
	case "websocket":
		return w.handleWebsocket(req)
	default:
		return Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "unknown action: " + req.Action}}
	}
}

// 默认子路由：GET 读状态，POST 改状态
func (w *workflowEntity) handleRoot(req *Request) Response {
	switch req.Method {
	case http.MethodGet:
		return Response{Status: http.StatusOK, Body: map[string]any{
			"workflowId":   w.workflowID,
			"tenantId":     w.tenantID,
			"status":       w.status,
			"messageCount": len(w.messages),
			"updatedAt":    w.updatedAt.UTC().Format(time.RFC3339),
		}}
	case http.MethodPost:
		var body struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil || body.Status == "" {
			return Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "status is required"}}
		}
		w.status = body.Status
		w.updatedAt = time.Now()
		return Response{Status: http.StatusOK, Body: map[string]any{"status": w.status}}
	default:
		return Response{Status: http.StatusMethodNotAllowed, Body: map[string]string{"error": "method not allowed"}}
	}
}

func (w *workflowEntity) handleMessages(req *Request) Response {
	switch req.Method {
	case http.MethodGet:
		msgs := w.messages
		if msgs == nil {
			msgs = []WorkflowMessage{}
		}
		return Response{Status: http.StatusOK, Body: map[string]any{"messages": msgs}}
	case http.MethodPost:
		var body struct {
			Text string         `json:"text"`
			Meta map[string]any `json:"meta"`
		}
		if err := json.Unmarshal(req.Body, &body); err != nil || body.Text == "" {
			return Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "text is required"}}
		}
		msg := WorkflowMessage{
			ID:        ids.GenerateString(),
			Sender:    req.Identity,
			Text:      body.Text,
			Meta:      body.Meta,
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		w.messages = append(w.messages, msg)
		w.updatedAt = time.Now()
		w.broadcast(msg)
		return Response{Status: http.StatusOK, Body: map[string]any{"message": msg}}
	default:
		return Response{Status: http.StatusMethodNotAllowed, Body: map[string]string{"error": "method not allowed"}}
	}
}

// websocket：路由层升级完成后把连接交进来，actor 主循环里登记
func (w *workflowEntity) handleWebsocket(req *Request) Response {
	if req.WS == nil {
		return Response{Status: http.StatusBadRequest, Body: map[string]string{"error": "websocket upgrade required"}}
	}
	w.socks[req.WS] = true
	return Response{Status: http.StatusSwitchingProtocols}
}

// 死连接在 broadcast 写失败时摘除，不单独跑读协程
func (w *workflowEntity) broadcast(msg WorkflowMessage) {
	for ws := range w.socks {
		_ = ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := ws.WriteJSON(msg); err != nil {
			logger.Infof("[coord] workflow %s ws write failed, dropping conn: %v", w.workflowID, err)
			delete(w.socks, ws)
			_ = ws.Close()
		}
	}
}
