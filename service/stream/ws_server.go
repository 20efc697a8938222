package stream

import (
	"net/http"
	"time"

	"HProject/logger"
	midsec "HProject/middleware/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(r *http.Request) bool { return true }}

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = 25 * time.Second
)

// HandleWS GET /api/realtime/:tenantID/ws
// 和 SSE 同一份租户 feed，给 websocket 客户端用。
func (s *Server) HandleWS(c *gin.Context) {
	tenantID := c.Param("tenantID")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenantID is required"})
		return
	}
	identity := midsec.IdentityFrom(c)
	if identity == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[stream] upgrade websocket error: %v", err)
		return
	}

	sub := s.hub.Subscribe(tenantID)
	done := make(chan struct{})

	// 读循环只负责探测对端关闭与 pong，入站数据一律丢弃
	go func() {
		defer close(done)
		ws.SetReadLimit(1024)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// 写循环
	ping := time.NewTicker(wsPingEvery)
	defer func() {
		ping.Stop()
		s.hub.Unsubscribe(sub)
		_ = ws.Close()
		logger.Infof("[stream] ws detached tenant=%s user=%s", tenantID, identity)
	}()

	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := ws.WriteJSON(ConnEstablished(tenantID)); err != nil {
		return
	}
	logger.Infof("[stream] ws attached tenant=%s user=%s", tenantID, identity)

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev := <-sub.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
