package core

import (
	"testing"

	"github.com/dkeye/meet/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerUpdatedDomainPatches(t *testing.T) {
	off, name := false, "new name"
	p := PeerUpdatedPayload{ID: "p1", Patches: []ParticipantPatchWire{
		{Field: "audioEnabled", Enabled: &off},
		{Field: "displayName", Text: &name},
	}}

	got, err := p.DomainPatches()
	require.NoError(t, err)
	assert.Equal(t, []domain.ParticipantPatch{
		{Field: domain.PatchAudio, Enabled: false},
		{Field: domain.PatchDisplayName, Text: "new name"},
	}, got)

	for _, p := range []domain.ParticipantPatch{got[0], got[1], {Field: domain.PatchHost, Enabled: true}} {
		back := PeerUpdatedPayload{ID: "p1", Patches: []ParticipantPatchWire{ParticipantPatchWireOf(p)}}
		conv, err := back.DomainPatches()
		require.NoError(t, err)
		assert.Equal(t, []domain.ParticipantPatch{p}, conv)
	}
}

func TestPeerUpdatedDomainPatchesMalformed(t *testing.T) {
	on, text := true, "x"
	tests := []struct {
		name  string
		patch ParticipantPatchWire
	}{
		{"flag without enabled", ParticipantPatchWire{Field: "isHost", Text: &text}},
		{"text without text", ParticipantPatchWire{Field: "avatar", Enabled: &on}},
		{"unknown field", ParticipantPatchWire{Field: "mood", Enabled: &on}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PeerUpdatedPayload{ID: "p1", Patches: []ParticipantPatchWire{tt.patch}}.DomainPatches()
			assert.Error(t, err)
		})
	}
}
