package coord

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"HProject/logger"
	midsec "HProject/middleware/security"
	errs "HProject/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Router 协调对象路由层：
// 把 /{entityType}/{entityName}/{action} 解析成确定性地址，
// 转发给该地址唯一的 actor。路由层只保证“同名 ⇒ 同主”，没有事务语义。
type Router struct {
	reg *Registry
}

func NewRouter(reg *Registry) *Router { return &Router{reg: reg} }

func (r *Router) Registry() *Registry { return r.reg }

var coordUpgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }}

// RegisterRoutes 挂载 /api/coordination 路由
func (r *Router) RegisterRoutes(g gin.IRoutes) {
	g.Any("/api/coordination/:entityType/:entityName", r.Route)
	g.Any("/api/coordination/:entityType/:entityName/*action", r.Route)
	// 段数不够是客户端错误，不丢给 404
	g.Any("/api/coordination/:entityType", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("path must be /{entityType}/{entityName}/{action?}"))
	})
	g.Any("/api/coordination", func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("path must be /{entityType}/{entityName}/{action?}"))
	})
}

// Route 入口处理
func (r *Router) Route(c *gin.Context) {
	entityType := c.Param("entityType")
	entityName := c.Param("entityName")
	action := strings.Trim(c.Param("action"), "/")

	if entityType == "" || entityName == "" {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("entityType and entityName are required"))
		return
	}
	if entityType != EntityWorkflow && entityType != EntityNotifications {
		c.JSON(http.StatusBadRequest, errs.ErrUnknownEntity.WithDetail(entityType))
		return
	}

	var body []byte
	if c.Request.Body != nil {
		body, _ = io.ReadAll(c.Request.Body)
	}

	req := &Request{
		Method: c.Request.Method,
		Action: action,
		Query:  c.Request.URL.Query(),
		Header: c.Request.Header,
		Body:   body,
	}

	// workflow 路由的两道门：先凭证，后租户。都挡在寻址之前。
	if entityType == EntityWorkflow {
		identity, ok := r.workflowIdentity(c)
		if !ok {
			return // 已应答 401
		}
		req.Identity = identity

		tenantID := r.resolveTenant(c, body)
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, errs.ErrMissingTenant)
			return
		}
		req.TenantID = tenantID
	} else {
		// notifications 按邮箱寻址，身份即实体名
		req.Identity = entityName
	}

	// websocket 子路由先升级，连接交给 actor 接管
	if action == "websocket" {
		ws, err := coordUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Infof("[coord] websocket upgrade failed: %v", err)
			return
		}
		req.WS = ws
	}

	actor := r.reg.GetOrCreate(entityType, entityName)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	resp, err := actor.Forward(ctx, req)
	if err != nil {
		// 转发失败：细节只进日志，响应给笼统消息
		logger.Errorf("[coord] forward %s/%s action=%s failed: %v", entityType, entityName, action, err)
		if req.WS != nil {
			_ = req.WS.Close()
			return
		}
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}

	if req.WS != nil {
		// 升级成功后 HTTP 应答已经写过了，这里不再写
		return
	}
	c.JSON(resp.Status, resp.Body)
}

// workflowIdentity 凭证门：没有 bearer 或解不出身份都直接 401
func (r *Router) workflowIdentity(c *gin.Context) (string, bool) {
	token := midsec.BearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return "", false
	}
	// 路由层不强制 JWT：bearer 原文就是调用方标识，
	// 已走认证中间件的链路会把解好的身份放在 context 里
	if id := midsec.IdentityFrom(c); id != "" {
		return id, true
	}
	return token, true
}

// resolveTenant 查询串优先；写方法再翻 JSON body。缺失是客户端错误，不默认。
func (r *Router) resolveTenant(c *gin.Context, body []byte) string {
	if v := c.Query("tenantId"); v != "" {
		return v
	}
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		var m map[string]any
		if err := json.Unmarshal(body, &m); err == nil {
			if v, ok := m["tenantId"].(string); ok {
				return v
			}
		}
	}
	return ""
}
