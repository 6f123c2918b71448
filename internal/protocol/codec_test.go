package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/VideoSync/internal/domain"
)

func TestPeekType(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{name: "ping", in: `{"type":"ping","timestamp":1}`, want: TypePing},
		{name: "missing type", in: `{"timestamp":1}`, wantErr: true},
		{name: "not json", in: `hello`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PeekType([]byte(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrBadPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTargetOf(t *testing.T) {
	id, err := TargetOf([]byte(`{"targetUserId":"user_b","currentTime":12.5}`))
	require.NoError(t, err)
	assert.Equal(t, domain.MemberID("user_b"), id)

	_, err = TargetOf([]byte(`{"currentTime":12.5}`))
	assert.ErrorIs(t, err, domain.ErrBadPayload)
}

func TestSyncEventKeepsDataOpaque(t *testing.T) {
	in := []byte(`{"type":"sync-event","roomId":"ABC123","userId":"u1","data":{"action":"PLAY","currentTime":100,"timestamp":5,"extra":true}}`)
	var ev SyncEvent
	require.NoError(t, Decode(in, &ev))

	out, err := Encode(RemoteEvent{Type: TypeRemoteEvent, Data: ev.Data})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"remote-event","data":{"action":"PLAY","currentTime":100,"timestamp":5,"extra":true}}`, string(out))
}

func TestInbound(t *testing.T) {
	for _, typ := range []string{TypeAuthenticate, TypeJoinRoom, TypeLeaveRoom, TypeSyncEvent, TypeRequestSync, TypeSyncResponse, TypePing} {
		assert.True(t, Inbound(typ), typ)
	}
	for _, typ := range []string{TypeRoomJoined, TypeRemoteEvent, TypePong, TypeError, "junk", ""} {
		assert.False(t, Inbound(typ), typ)
	}
}
