package signal

import (
	"testing"
	"time"

	"github.com/dkeye/meet/internal/core"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecsCarryPayloads(t *testing.T) {
	idx := uint16(1)
	mid := "0"
	cand := core.ICECandidatePayload{To: "b", From: "a", Candidate: "candidate:1 1 udp 1 10.0.0.1 5000 typ host", SDPMLineIndex: &idx, SDPMid: &mid}
	joined := core.ParticipantPayload{ID: "a", DisplayName: "Ann", AudioEnabled: true, JoinedAt: time.Unix(1700000000, 0).UTC()}

	for _, codec := range []Codec{JSONCodec{}, MsgpackCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Encode(core.EventICECandidate, cand)
			require.NoError(t, err)
			ev, err := codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, core.EventICECandidate, ev.Name)
			var gotCand core.ICECandidatePayload
			require.NoError(t, ev.Decode(&gotCand))
			assert.Equal(t, cand, gotCand)

			data, err = codec.Encode(core.EventPeerJoined, joined)
			require.NoError(t, err)
			ev, err = codec.Decode(data)
			require.NoError(t, err)
			var gotJoined core.ParticipantPayload
			require.NoError(t, ev.Decode(&gotJoined))
			assert.Equal(t, joined.ID, gotJoined.ID)
			assert.True(t, joined.JoinedAt.Equal(gotJoined.JoinedAt))
			assert.True(t, gotJoined.AudioEnabled)

			data, err = codec.Encode(core.EventResyncRequired, nil)
			require.NoError(t, err)
			ev, err = codec.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, core.EventResyncRequired, ev.Name)
		})
	}
}

func TestJSONEnvelopeShape(t *testing.T) {
	data, err := JSONCodec{}.Encode(core.EventPeerLeft, core.PeerLeftPayload{ID: "x"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"peer-left","payload":{"id":"x"}}`, string(data))
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := JSONCodec{}.Decode([]byte("{"))
	assert.Error(t, err)
	_, err = JSONCodec{}.Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
	_, err = MsgpackCodec{}.Decode([]byte{0xc1})
	assert.Error(t, err)
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("msgpack")
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, c.MessageType())

	c, err = CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, c.MessageType())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}

func TestEventWithoutDecoder(t *testing.T) {
	ev := core.NewEvent(core.EventResyncRequired, nil, nil)
	assert.ErrorIs(t, ev.Decode(&struct{}{}), core.ErrNoDecoder)
}
