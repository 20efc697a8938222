package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseEventFillsMissingData(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"message:read"}`))
	require.NoError(t, err)
	require.Equal(t, TypeMessageRead, ev.Type)
	require.NotNil(t, ev.Data, "missing data becomes empty map")
}

func TestParseEventRejectsGarbage(t *testing.T) {
	_, err := ParseEvent([]byte(`{not json`))
	require.Error(t, err)
}

func TestNewEventRoundtrip(t *testing.T) {
	src := MessagePayload{
		Id:              "m1",
		TenantID:        "t1",
		Subject:         "hello",
		SenderEmail:     "bob@example.com",
		RecipientEmails: []string{"alice@example.com"},
		AttachmentCount: 2,
		HasAttachments:  true,
	}
	ev := NewEvent(TypeMessageNew, src)

	raw, err := ev.Marshal()
	require.NoError(t, err)
	back, err := ParseEvent(raw)
	require.NoError(t, err)
	require.Equal(t, TypeMessageNew, back.Type)

	var got MessagePayload
	require.NoError(t, back.DecodeData(&got))
	require.Equal(t, src, got)
}

func TestUnknownTypeStillParses(t *testing.T) {
	// 判别标签开放演进：网关原样转发没见过的类型
	ev, err := ParseEvent([]byte(`{"type":"message:reacted","data":{"emoji":"+1"}}`))
	require.NoError(t, err)
	require.Equal(t, Type("message:reacted"), ev.Type)
	require.Equal(t, "+1", ev.Data["emoji"])
}

func TestConnEstablishedShape(t *testing.T) {
	ev := ConnEstablished("t1")
	require.Equal(t, TypeConnEstablished, ev.Type)
	require.Equal(t, "t1", ev.Data["tenantId"])
	require.NotEmpty(t, ev.Data["timestamp"])
}
