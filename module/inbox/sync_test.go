package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"HProject/service/stream"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu      sync.Mutex
	snap    *Snapshot
	err     error
	tenants []TenantRef
}

func (f *fakeClient) FetchSnapshot(context.Context, string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.snap, nil
}

func (f *fakeClient) FetchTenants(context.Context) ([]TenantRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenants, nil
}

func (f *fakeClient) set(snap *Snapshot, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap, f.err = snap, err
}

func newSyncForTest(c SnapshotClient) (*Synchronizer, *fakeDialer) {
	d := &fakeDialer{}
	m := NewSubscriptionManager(d.dial)
	s := NewSynchronizer(self, c, m, Options{})
	return s, d
}

func TestSnapshotSuccessReplacesState(t *testing.T) {
	c := &fakeClient{snap: &Snapshot{
		UnreadCount: 4,
		TenantID:    "t1",
		TenantName:  "Acme",
		Recent:      []MessageSummary{{Id: "m1", Subject: "hi"}},
	}}
	s, _ := newSyncForTest(c)

	s.FetchSnapshot(context.Background())

	count, recent, _ := s.View()
	require.EqualValues(t, 4, count)
	require.Len(t, recent, 1)
	require.NoError(t, s.LastErr())
}

func TestSnapshotAuthFailureResetsWithoutError(t *testing.T) {
	c := &fakeClient{snap: &Snapshot{UnreadCount: 4, TenantID: "t1"}}
	s, _ := newSyncForTest(c)
	s.FetchSnapshot(context.Background())

	// 401/403：预期空态，清零且不算错误
	c.set(nil, ErrNoAccess)
	s.FetchSnapshot(context.Background())

	count, recent, _ := s.View()
	require.EqualValues(t, 0, count)
	require.Empty(t, recent)
	require.NoError(t, s.LastErr())
}

func TestSnapshotServerErrorKeepsStaleState(t *testing.T) {
	c := &fakeClient{snap: &Snapshot{UnreadCount: 4, TenantID: "t1"}}
	s, _ := newSyncForTest(c)
	s.FetchSnapshot(context.Background())

	// 500：旧值保留（宁可陈旧，不能闪零），错误记下来
	c.set(nil, errors.New("unexpected status 500"))
	s.FetchSnapshot(context.Background())

	count, _, _ := s.View()
	require.EqualValues(t, 4, count)
	require.Error(t, s.LastErr())
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	c := &fakeClient{}
	s, _ := newSyncForTest(c)
	v := s.Version()

	s.OnEvent(stream.Event{Type: "message:reacted", Data: map[string]any{"x": 1}})
	require.Equal(t, v, s.Version())
}

func TestMalformedPayloadDoesNotPoison(t *testing.T) {
	c := &fakeClient{}
	s, _ := newSyncForTest(c)

	// 载荷不成形：要么 decode 失败被跳过，要么按“与我无关”处理，总之不计数
	s.OnEvent(stream.Event{Type: stream.TypeMessageNew, Data: map[string]any{
		"Id": "m1", "recipientEmails": 42,
	}})

	// 同步器还能继续处理好事件
	s.OnEvent(stream.NewEvent(stream.TypeMessageNew, newMsg("m2", "bob@example.com", self)))
	count, _, _ := s.View()
	require.EqualValues(t, 1, count)
}

func TestAttachFallsBackToTenantLookup(t *testing.T) {
	// 快照没带租户（比如还没登录成功过），用“我的租户”第一条
	c := &fakeClient{tenants: []TenantRef{{TenantID: "t9", TenantName: "Fallback"}}}
	s, d := newSyncForTest(c)

	s.Attach(context.Background())

	waitFor(t, func() bool {
		open := d.openConns()
		return len(open) == 1 && open[0].tenantID == "t9"
	}, "subscription should use fallback tenant")
	s.Stop()
}

func TestAttachSkipsWithoutAnyTenant(t *testing.T) {
	c := &fakeClient{} // 没有快照租户，也没有成员关系
	s, d := newSyncForTest(c)

	s.Attach(context.Background())

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, d.openConns(), "no tenant resolvable: stay in polling-only mode")
}

func TestEndToEndPushUpdatesView(t *testing.T) {
	c := &fakeClient{snap: &Snapshot{UnreadCount: 1, TenantID: "t1"}}
	s, d := newSyncForTest(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	waitFor(t, func() bool { return len(d.openConns()) == 1 }, "subscription up")
	conn := d.openConns()[0]

	conn.push(stream.ConnEstablished("t1"))
	waitFor(t, func() bool { _, _, connected := s.View(); return connected }, "connected after first event")

	conn.push(stream.NewEvent(stream.TypeMessageNew, newMsg("m5", "bob@example.com", self)))
	waitFor(t, func() bool { count, _, _ := s.View(); return count == 2 }, "message:new increments")

	conn.push(stream.NewEvent(stream.TypeMessageRead, stream.ReadPayload{
		MessageID: "m5", TenantID: "t1", ReaderEmail: self,
	}))
	waitFor(t, func() bool { count, _, _ := s.View(); return count == 1 }, "message:read decrements")

	conn.push(stream.NewEvent(stream.TypeUnreadUpdate, stream.UnreadUpdatePayload{
		TenantID: "t1", UserEmail: self, UnreadCount: 0,
	}))
	waitFor(t, func() bool { count, _, _ := s.View(); return count == 0 }, "unread:update is authoritative")
}
