package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	midsec "HProject/middleware/security"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newSSETestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	srv := NewServer(hub)

	e := gin.New()
	e.GET("/api/realtime/:tenantID", func(c *gin.Context) {
		// 测试里直接注入身份，跳过 JWT 校验
		if c.Query("anon") == "" {
			c.Set(midsec.HBCtxIdentityKey, "alice@example.com")
		}
		srv.HandleSSE(c)
	})
	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return hub, ts
}

func TestSSERejectsAnonymous(t *testing.T) {
	_, ts := newSSETestServer(t)

	resp, err := http.Get(ts.URL + "/api/realtime/t1?anon=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSSEStreamsNewlineDelimitedJSON(t *testing.T) {
	hub, ts := newSSETestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/realtime/t1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)

	// 首条固定 connection:established
	require.True(t, sc.Scan(), "expected first line")
	first, err := ParseEvent(sc.Bytes())
	require.NoError(t, err)
	require.Equal(t, TypeConnEstablished, first.Type)
	require.Equal(t, "t1", first.Data["tenantId"])

	require.Eventually(t, func() bool { return hub.SubscriberCount("t1") == 1 },
		2*time.Second, 10*time.Millisecond, "subscriber should be registered")

	hub.Publish("t1", NewEvent(TypeUnreadUpdate, UnreadUpdatePayload{
		TenantID: "t1", UserEmail: "alice@example.com", UnreadCount: 3,
	}))

	require.True(t, sc.Scan(), "expected pushed event")
	second, err := ParseEvent(sc.Bytes())
	require.NoError(t, err)
	require.Equal(t, TypeUnreadUpdate, second.Type)

	var p UnreadUpdatePayload
	require.NoError(t, second.DecodeData(&p))
	require.EqualValues(t, 3, p.UnreadCount)

	// 客户端断开后订阅者应被摘除
	cancel()
	require.Eventually(t, func() bool { return hub.SubscriberCount("t1") == 0 },
		2*time.Second, 10*time.Millisecond, "subscriber should be removed on disconnect")
}
