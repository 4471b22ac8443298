package peers

import (
	"strings"

	"github.com/dkeye/meet/internal/core"
	"github.com/pion/sdp/v3"
)

// sentTrackIDs lists the msid track ids of every media section the remote
// side still sends on.
func sentTrackIDs(raw string) (map[string]struct{}, error) {
	var sd sdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, err
	}
	ids := make(map[string]struct{})
	for _, md := range sd.MediaDescriptions {
		if md.MediaName.Port.Value == 0 || !sends(md) {
			continue
		}
		msid, ok := md.Attribute("msid")
		if !ok {
			continue
		}
		fields := strings.Fields(msid)
		if len(fields) < 2 {
			continue
		}
		ids[fields[1]] = struct{}{}
	}
	return ids, nil
}

func sends(md *sdp.MediaDescription) bool {
	for _, a := range md.Attributes {
		switch a.Key {
		case "recvonly", "inactive":
			return false
		case "sendonly", "sendrecv":
			return true
		}
	}
	return true
}

// pruneTracks drops tracks missing from the latest remote description. An
// unparsable description leaves the tracks untouched.
func (m *Manager) pruneTracks(e *entry, raw string) {
	if len(e.tracks) == 0 {
		return
	}
	sent, err := sentTrackIDs(raw)
	if err != nil {
		m.logger.Debug().Err(err).Str("peer", string(e.id)).Msg("remote sdp not parsed, skipping prune")
		return
	}
	pruned := false
	for id := range e.tracks {
		if _, ok := sent[id]; !ok {
			delete(e.tracks, id)
			pruned = true
		}
	}
	if !pruned {
		return
	}
	if len(e.tracks) == 0 {
		m.events.Emit(core.PeerEvent{Kind: core.StreamRemoved, PeerID: e.id})
		return
	}
	m.events.Emit(core.PeerEvent{Kind: core.StreamAdded, PeerID: e.id, Stream: e.stream()})
}
