package coord

import (
	"context"
	"net/http"
	"net/url"

	"HProject/logger"

	"github.com/gorilla/websocket"
)

// Request 路由层转发给协调单元的请求（方法/头/体 + 派生的身份与租户）
type Request struct {
	Method   string
	Action   string // 子路由：messages / websocket / notification / clear / check / 空
	Query    url.Values
	Header   http.Header
	Body     []byte
	Identity string // 调用方（bearer 解出的邮箱）
	TenantID string

	// websocket action 专用：升级完成的连接由 actor 接管
	WS *websocket.Conn
}

// Response 协调单元的应答
type Response struct {
	Status int
	Body   any
}

// EntityHandler 一种实体类型的业务逻辑。
// 只会被所属 actor 的主循环调用，天然串行，不需要自己加锁。
type EntityHandler interface {
	Handle(ctx context.Context, req *Request) Response
}

type envelope struct {
	req   *Request
	reply chan Response
}

// Actor 一个 (entityType, entityName) 的唯一拥有者。
// 所有请求排队过同一条 mailbox，串行处理。
type Actor struct {
	addr       string
	entityType string
	entityName string

	handler EntityHandler
	mailbox chan envelope
}

func newActor(addr, entityType, entityName string, h EntityHandler) *Actor {
	return &Actor{
		addr:       addr,
		entityType: entityType,
		entityName: entityName,
		handler:    h,
		mailbox:    make(chan envelope, 32),
	}
}

func (a *Actor) Addr() string { return a.addr }

func (a *Actor) start() {
	go a.run()
}

func (a *Actor) run() {
	for env := range a.mailbox {
		env.reply <- a.handleOne(env.req)
	}
}

func (a *Actor) handleOne(req *Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[coord] actor %s/%s panic: %v", a.entityType, a.entityName, r)
			resp = Response{Status: http.StatusInternalServerError, Body: map[string]string{"error": "internal error"}}
		}
	}()
	return a.handler.Handle(context.Background(), req)
}

// Forward 把请求送进 mailbox 并等待应答
func (a *Actor) Forward(ctx context.Context, req *Request) (Response, error) {
	env := envelope{req: req, reply: make(chan Response, 1)}
	select {
	case a.mailbox <- env:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	select {
	case resp := <-env.reply:
		return resp, nil
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}
