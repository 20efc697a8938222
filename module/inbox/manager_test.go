package inbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"HProject/service/stream"

	"github.com/stretchr/testify/require"
)

// fakeConn 可控的假推送连接
type fakeConn struct {
	tenantID string
	events   chan stream.Event

	mu     sync.Mutex
	closed bool
}

func (f *fakeConn) Events() <-chan stream.Event { return f.events }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) push(ev stream.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.events <- ev
	}
}

// fakeDialer 记录所有建立过的连接
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) dial(_ context.Context, tenantID string) (Conn, error) {
	c := &fakeConn{tenantID: tenantID, events: make(chan stream.Event, 16)}
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) openConns() []*fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*fakeConn
	for _, c := range d.conns {
		if !c.isClosed() {
			out = append(out, c)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 10*time.Millisecond, msg)
}

func TestRefCountingKeepsConnectionOpen(t *testing.T) {
	d := &fakeDialer{}
	m := NewSubscriptionManager(d.dial)

	// attach ×3
	h1, err := m.Attach("tenant-a")
	require.NoError(t, err)
	h2, err := m.Attach("tenant-a")
	require.NoError(t, err)
	h3, err := m.Attach("tenant-a")
	require.NoError(t, err)

	waitFor(t, m.Connected, "connection should come up")
	require.Equal(t, 3, m.Refs())
	require.Len(t, d.openConns(), 1, "one shared transport for all subscribers")

	// detach ×2：连接必须还活着
	m.Detach(h1)
	m.Detach(h2)
	require.Equal(t, 1, m.Refs())
	require.True(t, m.Connected())
	require.Len(t, d.openConns(), 1)

	// 第 3 次 detach 才真正断开
	m.Detach(h3)
	require.Equal(t, 0, m.Refs())
	waitFor(t, func() bool { return len(d.openConns()) == 0 }, "last detach closes transport")
	require.False(t, m.Connected())
}

func TestDetachTwiceIsNoop(t *testing.T) {
	d := &fakeDialer{}
	m := NewSubscriptionManager(d.dial)

	h1, _ := m.Attach("tenant-a")
	h2, _ := m.Attach("tenant-a")
	m.Detach(h1)
	m.Detach(h1) // 重复释放同一句柄

	require.Equal(t, 1, m.Refs())
	require.Len(t, d.openConns(), 1)
	m.Detach(h2)
}

func TestTenantSwitchReplacesConnection(t *testing.T) {
	d := &fakeDialer{}
	m := NewSubscriptionManager(d.dial)

	hA, _ := m.Attach("tenant-a")
	waitFor(t, m.Connected, "tenant-a connection up")

	hB, err := m.Attach("tenant-b")
	require.NoError(t, err)

	waitFor(t, func() bool {
		open := d.openConns()
		return len(open) == 1 && open[0].tenantID == "tenant-b"
	}, "exactly one open connection, to tenant-b")
	require.Equal(t, "tenant-b", m.CurrentTenant())

	m.Detach(hA)
	m.Detach(hB)
	waitFor(t, func() bool { return len(d.openConns()) == 0 }, "all closed")
}

func TestEventsFanOutToAllHandles(t *testing.T) {
	d := &fakeDialer{}
	m := NewSubscriptionManager(d.dial)

	h1, _ := m.Attach("tenant-a")
	h2, _ := m.Attach("tenant-a")
	waitFor(t, m.Connected, "connection up")

	ev := stream.NewEvent(stream.TypeUnreadUpdate, stream.UnreadUpdatePayload{UserEmail: "a@b.c", UnreadCount: 2})
	d.openConns()[0].push(ev)

	for _, h := range []*Handle{h1, h2} {
		select {
		case got := <-h.Events():
			require.Equal(t, stream.TypeUnreadUpdate, got.Type)
		case <-time.After(2 * time.Second):
			t.Fatal("handle did not receive event")
		}
	}

	m.Detach(h1)
	m.Detach(h2)
}

func TestReconnectAfterDrop(t *testing.T) {
	d := &fakeDialer{}
	m := NewSubscriptionManager(d.dial)
	m.retryDelay = 20 * time.Millisecond

	h, _ := m.Attach("tenant-a")
	waitFor(t, m.Connected, "initial connection")

	// 模拟传输断开
	d.openConns()[0].Close()

	waitFor(t, func() bool {
		return m.Connected() && len(d.openConns()) == 1
	}, "manager must keep retrying and reconnect")

	m.Detach(h)
}
