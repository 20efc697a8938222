package coord

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	NewRouter(NewRegistry()).RegisterRoutes(e)
	return e
}

func do(e *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body != "" {
		rd = strings.NewReader(body)
	} else {
		rd = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestWorkflowRequiresBearer(t *testing.T) {
	e := newTestRouter()

	// 凭证门在寻址之前：没 bearer 直接 401
	w := do(e, http.MethodPost, "/api/coordination/workflow/wf-1/messages?tenantId=t1", "", `{"text":"hi"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWorkflowRequiresTenant(t *testing.T) {
	e := newTestRouter()

	// 有凭证但查不出租户：400，不给默认值
	w := do(e, http.MethodPost, "/api/coordination/workflow/wf-1/messages", "tok-alice", `{"text":"hi"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWorkflowTenantFromBody(t *testing.T) {
	e := newTestRouter()

	w := do(e, http.MethodPost, "/api/coordination/workflow/wf-1/messages", "tok-alice",
		`{"text":"hi","tenantId":"t1"}`)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestUnknownEntityTypeRejected(t *testing.T) {
	e := newTestRouter()

	w := do(e, http.MethodGet, "/api/coordination/banana/b-1", "tok", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTooFewPathSegmentsRejected(t *testing.T) {
	e := newTestRouter()

	require.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/coordination/workflow", "tok", "").Code)
	require.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/coordination", "tok", "").Code)
}

func TestWorkflowMessageRoundtrip(t *testing.T) {
	e := newTestRouter()

	w := do(e, http.MethodPost, "/api/coordination/workflow/wf-1/messages?tenantId=t1", "tok-alice", `{"text":"first"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodGet, "/api/coordination/workflow/wf-1/messages?tenantId=t1", "tok-alice", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Messages []WorkflowMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Messages, 1)
	require.Equal(t, "first", got.Messages[0].Text)
	require.Equal(t, "tok-alice", got.Messages[0].Sender)
	require.NotEmpty(t, got.Messages[0].ID)
}

func TestWorkflowStatusUpdate(t *testing.T) {
	e := newTestRouter()

	w := do(e, http.MethodGet, "/api/coordination/workflow/wf-s/?tenantId=t1", "tok", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"pending"`)

	w = do(e, http.MethodPost, "/api/coordination/workflow/wf-s/?tenantId=t1", "tok", `{"status":"running"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodGet, "/api/coordination/workflow/wf-s/?tenantId=t1", "tok", "")
	require.Contains(t, w.Body.String(), `"running"`)
}

func TestNotificationsFeedWithoutAuth(t *testing.T) {
	e := newTestRouter()

	// notifications 按邮箱寻址，不走凭证门
	w := do(e, http.MethodPost, "/api/coordination/notifications/alice@example.com/notification", "",
		`{"kind":"mention","payload":{"by":"bob"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodGet, "/api/coordination/notifications/alice@example.com/check", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Count         int `json:"count"`
		Notifications []struct {
			Kind string `json:"kind"`
		} `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, 1, got.Count)
	require.Equal(t, "mention", got.Notifications[0].Kind)

	w = do(e, http.MethodPost, "/api/coordination/notifications/alice@example.com/clear", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(e, http.MethodGet, "/api/coordination/notifications/alice@example.com/check", "", "")
	require.Contains(t, w.Body.String(), `"count":0`)
}

func TestNotificationRequiresKind(t *testing.T) {
	e := newTestRouter()

	w := do(e, http.MethodPost, "/api/coordination/notifications/alice@example.com/notification", "", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConcurrentAppendsAllLand(t *testing.T) {
	e := newTestRouter()

	// 同名工作流的并发写全部过同一个 actor，不会互相覆盖丢更新
	const n = 32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			w := do(e, http.MethodPost, "/api/coordination/workflow/wf-c/messages?tenantId=t1", "tok", `{"text":"m"}`)
			require.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()

	w := do(e, http.MethodGet, "/api/coordination/workflow/wf-c/messages?tenantId=t1", "tok", "")
	var got struct {
		Messages []WorkflowMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Messages, n)
}
