package rtc

import (
	"testing"

	"github.com/dkeye/meet/internal/core"
	"github.com/dkeye/meet/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionOfferAnswerRoundTrip(t *testing.T) {
	factory, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)

	caller, err := factory("b")
	require.NoError(t, err)
	defer caller.Close()
	callee, err := factory("a")
	require.NoError(t, err)
	defer callee.Close()

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", "a")
	require.NoError(t, err)
	sender, err := caller.AddTrack(track)
	require.NoError(t, err)
	assert.Equal(t, track, sender.Track())

	offer, err := caller.CreateOffer(false)
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "msid:a audio")

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, caller.SetRemoteDescription(answer))

	require.NoError(t, caller.RemoveTrack(sender))
}

func TestConnectionRollback(t *testing.T) {
	factory, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)
	pc, err := factory("b")
	require.NoError(t, err)
	defer pc.Close()

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, "video", "b")
	require.NoError(t, err)
	_, err = pc.AddTrack(track)
	require.NoError(t, err)

	require.ErrorIs(t, pc.Rollback(), ErrNoLocalOffer)

	_, err = pc.CreateOffer(false)
	require.NoError(t, err)
	require.NoError(t, pc.Rollback())
	require.ErrorIs(t, pc.Rollback(), ErrNoLocalOffer)
}

func TestConnectionGlareRollbackThenAnswer(t *testing.T) {
	factory, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)

	open := func(id string) core.PeerConnection {
		pc, err := factory(domain.ParticipantID(id))
		require.NoError(t, err)
		t.Cleanup(func() { _ = pc.Close() })
		track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", id)
		require.NoError(t, err)
		_, err = pc.AddTrack(track)
		require.NoError(t, err)
		return pc
	}
	a, b := open("a"), open("b")

	// Both sides offer at once; a holds the smaller id and yields.
	_, err = a.CreateOffer(false)
	require.NoError(t, err)
	offerB, err := b.CreateOffer(false)
	require.NoError(t, err)

	require.NoError(t, a.Rollback())
	require.NoError(t, a.SetRemoteDescription(offerB))
	answer, err := a.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, b.SetRemoteDescription(answer))
}
