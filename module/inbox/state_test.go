package inbox

import (
	"testing"

	"HProject/service/stream"

	"github.com/stretchr/testify/require"
)

const self = "alice@example.com"

func newMsg(id, sender string, recipients ...string) stream.MessagePayload {
	return stream.MessagePayload{
		Id:              id,
		TenantID:        "t1",
		Subject:         "hello",
		SenderEmail:     sender,
		SenderName:      "Sender",
		RecipientEmails: recipients,
		CreatedAt:       "2026-08-01T10:00:00Z",
	}
}

func TestApplyNewIncrementsForRecipient(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", self), self)

	require.EqualValues(t, 1, s.Count())
	require.Len(t, s.Recent(), 1)
	require.Equal(t, "m1", s.Recent()[0].Id)
}

func TestApplyNewIgnoresOwnMessages(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", self, self, "bob@example.com"), self)

	require.EqualValues(t, 0, s.Count())
	require.Empty(t, s.Recent())
}

func TestApplyNewIgnoresWhenNotRecipient(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", "carol@example.com"), self)

	require.EqualValues(t, 0, s.Count())
}

func TestDuplicateNewInsertsOnce(t *testing.T) {
	s := NewUnreadState()
	msg := newMsg("m1", "bob@example.com", self)
	s.ApplyNew(msg, self)
	s.ApplyNew(msg, self) // 重复投递

	require.EqualValues(t, 1, s.Count())
	require.Len(t, s.Recent(), 1)
}

func TestDuplicateReadDecrementsOnce(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", self), self)
	s.ApplyNew(newMsg("m2", "bob@example.com", self), self)

	read := stream.ReadPayload{MessageID: "m1", TenantID: "t1", ReaderEmail: self}
	s.ApplyRead(read, self)
	s.ApplyRead(read, self) // 同一事件再来一次

	require.EqualValues(t, 1, s.Count())
	require.Len(t, s.Recent(), 1)
	require.Equal(t, "m2", s.Recent()[0].Id)
}

func TestReadFloorsAtZero(t *testing.T) {
	s := NewUnreadState()
	s.ApplyRead(stream.ReadPayload{MessageID: "mx", ReaderEmail: self}, self)
	require.EqualValues(t, 0, s.Count())

	s.ApplyRead(stream.ReadPayload{MessageID: "my", ReaderEmail: self}, self)
	require.EqualValues(t, 0, s.Count())
}

func TestReadIgnoresOtherReaders(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", self, "carol@example.com"), self)
	s.ApplyRead(stream.ReadPayload{MessageID: "m1", ReaderEmail: "carol@example.com"}, self)

	require.EqualValues(t, 1, s.Count())
}

func TestReadBeforeNewDoesNotRecount(t *testing.T) {
	// 乱序：read 先到，new 后到，这条消息不应再被计入
	s := NewUnreadState()
	s.ApplyRead(stream.ReadPayload{MessageID: "m1", ReaderEmail: self}, self)
	s.ApplyNew(newMsg("m1", "bob@example.com", self), self)

	require.EqualValues(t, 0, s.Count())
	require.Empty(t, s.Recent())
}

func TestUnreadUpdateNoopWhenUnchanged(t *testing.T) {
	s := NewUnreadState()
	s.ApplyUnreadUpdate(stream.UnreadUpdatePayload{UserEmail: self, UnreadCount: 3}, self)
	v := s.Version()

	s.ApplyUnreadUpdate(stream.UnreadUpdatePayload{UserEmail: self, UnreadCount: 3}, self)
	require.Equal(t, v, s.Version(), "unchanged count must not mutate state")

	s.ApplyUnreadUpdate(stream.UnreadUpdatePayload{UserEmail: self, UnreadCount: 5}, self)
	require.Equal(t, v+1, s.Version())
	require.EqualValues(t, 5, s.Count())
}

func TestUnreadUpdateIgnoresOtherUsers(t *testing.T) {
	s := NewUnreadState()
	s.ApplyUnreadUpdate(stream.UnreadUpdatePayload{UserEmail: "bob@example.com", UnreadCount: 9}, self)
	require.EqualValues(t, 0, s.Count())
}

func TestUnreadUpdateFloorsNegative(t *testing.T) {
	s := NewUnreadState()
	s.ApplyUnreadUpdate(stream.UnreadUpdatePayload{UserEmail: self, UnreadCount: -2}, self)
	require.EqualValues(t, 0, s.Count())
}

func TestDeleteRemovesAndDecrements(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", self), self)

	s.ApplyDelete("m1")
	require.EqualValues(t, 0, s.Count())
	require.Empty(t, s.Recent())

	// 重复 delete 不再动计数
	s.ApplyNew(newMsg("m2", "bob@example.com", self), self)
	s.ApplyDelete("m1")
	require.EqualValues(t, 1, s.Count())
}

func TestRecentListBounded(t *testing.T) {
	s := NewUnreadState()
	for i := 0; i < recentCap+5; i++ {
		s.ApplyNew(newMsg(string(rune('a'+i)), "bob@example.com", self), self)
	}
	require.Len(t, s.Recent(), recentCap)
	require.EqualValues(t, recentCap+5, s.Count(), "count keeps growing past list cap")
}

func TestSnapshotOverwritesDrift(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", self), self)
	s.ApplyNew(newMsg("m2", "bob@example.com", self), self)

	s.ApplySnapshot(7, []MessageSummary{{Id: "m9", Subject: "snap"}})
	require.EqualValues(t, 7, s.Count())
	require.Len(t, s.Recent(), 1)
	require.Equal(t, "m9", s.Recent()[0].Id)

	// 快照后，快照前的已读去重历史清空，新的增量正常生效
	s.ApplyRead(stream.ReadPayload{MessageID: "m9", ReaderEmail: self}, self)
	require.EqualValues(t, 6, s.Count())
}

func TestResetClearsEverything(t *testing.T) {
	s := NewUnreadState()
	s.ApplyNew(newMsg("m1", "bob@example.com", self), self)
	s.Reset()

	require.EqualValues(t, 0, s.Count())
	require.Empty(t, s.Recent())
}
