package stream

import (
	"net/http"

	"HProject/logger"
	midsec "HProject/middleware/security"

	"github.com/gin-gonic/gin"
)

// Server 事件流网关的 HTTP 侧
type Server struct {
	hub *Hub
}

func NewServer(hub *Hub) *Server { return &Server{hub: hub} }

func (s *Server) Hub() *Hub { return s.hub }

// HandleSSE GET /api/realtime/:tenantID
// 持续写换行分隔的 JSON 事件，首条固定 connection:established。
// 身份只做准入，不做过滤：网关是租户粒度，收件人过滤在消费端。
func (s *Server) HandleSSE(c *gin.Context) {
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

	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sub := s.hub.Subscribe(tenantID)
	defer s.hub.Unsubscribe(sub)

	writeEvent := func(ev Event) bool {
		b, err := ev.Marshal()
		if err != nil {
			// 单条事件序列化失败只跳过，不断流
			logger.Warnf("[stream] marshal event failed type=%s: %v", ev.Type, err)
			return true
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// 首条：让消费端把“刚连上、无积压”和静默区分开
	if !writeEvent(ConnEstablished(tenantID)) {
		return
	}
	logger.Infof("[stream] sse attached tenant=%s user=%s", tenantID, identity)

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Infof("[stream] sse detached tenant=%s user=%s", tenantID, identity)
			return
		case ev := <-sub.Events():
			if !writeEvent(ev) {
				return
			}
		}
	}
}
