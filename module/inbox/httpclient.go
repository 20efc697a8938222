package inbox

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"HProject/logger"
	"HProject/service/stream"
	"HProject/tools/safe"

	"github.com/pkg/errors"
)

// ErrNoAccess 401/403：没有会话或没有租户。预期空态，不是故障。
var ErrNoAccess = errors.New("no access")

// HTTPClient Harbor API 的快照/租户客户端 + NDJSON 推送拨号器
type HTTPClient struct {
	BaseURL string
	Token   string // bearer
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrNoAccess
	default:
		return errors.Errorf("unexpected status %d from %s", resp.StatusCode, path)
	}
	return errors.WithStack(json.NewDecoder(resp.Body).Decode(out))
}

// FetchSnapshot GET /api/messages/unread
func (c *HTTPClient) FetchSnapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	path := "/api/messages/unread"
	if tenantID != "" {
		path += "?tenantId=" + url.QueryEscape(tenantID)
	}
	var snap Snapshot
	if err := c.get(ctx, path, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// FetchTenants GET /api/tenants
func (c *HTTPClient) FetchTenants(ctx context.Context) ([]TenantRef, error) {
	var out struct {
		Tenants []TenantRef `json:"tenants"`
	}
	if err := c.get(ctx, "/api/tenants", &out); err != nil {
		return nil, err
	}
	return out.Tenants, nil
}

// —— NDJSON 推送连接 ——

type ndjsonConn struct {
	resp   *http.Response
	events chan stream.Event
}

func (c *ndjsonConn) Events() <-chan stream.Event { return c.events }

func (c *ndjsonConn) Close() error { return c.resp.Body.Close() }

// Dial 打开租户事件流：GET /api/realtime/{tenantID}
// 每行一个 JSON 事件；坏行跳过，整条流只在传输层出错时结束。
func (c *HTTPClient) Dial(ctx context.Context, tenantID string) (Conn, error) {
	u := fmt.Sprintf("%s/api/realtime/%s", c.BaseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/x-ndjson")

	// 流式请求不能带整体超时
	httpc := &http.Client{Transport: c.HTTP.Transport}
	resp, err := httpc.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Errorf("subscribe failed with status %d", resp.StatusCode)
	}

	conn := &ndjsonConn{resp: resp, events: make(chan stream.Event, 64)}
	safe.Go("inbox.ndjson", func() {
		defer close(conn.events)
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			ev, err := stream.ParseEvent([]byte(line))
			if err != nil {
				// 单条坏事件不终止订阅
				logger.Warnf("[inbox] skip malformed event line: %v", err)
				continue
			}
			select {
			case conn.events <- ev:
			default:
				// 消费端不拉了：丢弃，避免把解析协程卡死
			}
		}
		if err := sc.Err(); err != nil && err != io.EOF {
			logger.Infof("[inbox] event stream closed: %v", err)
		}
	})
	return conn, nil
}
