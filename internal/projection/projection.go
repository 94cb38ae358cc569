// Package projection filters committed events and snapshots per viewer,
// the concrete mechanism behind the "each player exposes role only if
// id == r or isRevealed" rule: nothing here mutates state, it only decides
// what a given viewer's socket is allowed to see.
package projection

import (
	"encoding/json"

	"github.com/qingchang/werewolf-core/internal/engine"
	"github.com/qingchang/werewolf-core/internal/game"
	"github.com/qingchang/werewolf-core/internal/types"
)

// Project filters one committed event for viewer, returning nil if it
// should not be delivered to them at all.
func Project(event types.Event, state engine.State, viewer types.Viewer) *types.ProjectedEvent {
	if !allowed(event, state, viewer) {
		return nil
	}
	return &types.ProjectedEvent{
		RoomID:      event.RoomID,
		Seq:         event.Seq,
		EventType:   event.EventType,
		ActorUserID: event.ActorUserID,
		Data:        sanitizePayload(event, viewer),
		ServerTS:    event.ServerTimestampMs,
	}
}

func allowed(event types.Event, state engine.State, viewer types.Viewer) bool {
	switch event.EventType {
	case "night.ability_consumed", "night.guard_target_recorded":
		// Internal bookkeeping, never surfaced to any socket.
		return false
	case "night.action_recorded":
		var payload map[string]string
		_ = json.Unmarshal(event.Payload, &payload)
		return viewer.UserID == event.ActorUserID || viewer.UserID == payload["performer_id"]
	case "investigation.recorded":
		var payload map[string]string
		_ = json.Unmarshal(event.Payload, &payload)
		// Private to the Seer. A Talkative Seer's result is additionally
		// broadcast to the whole room as a separate talkative_seer_result
		// event, handled below.
		return viewer.UserID == payload["seer_id"]
	case "talkative_seer_result":
		return true
	case "evil_team.chat":
		p, ok := state.Players[viewer.UserID]
		if !ok || p.State != engine.PlayerAlive {
			return false
		}
		role, found := game.GetRole(p.Role)
		return (found && game.WerewolfTeamRoles[role.ID]) || spyAccess(state, viewer.UserID)
	case "whisper.sent":
		var payload map[string]string
		_ = json.Unmarshal(event.Payload, &payload)
		return viewer.UserID == event.ActorUserID || viewer.UserID == payload["to_user_id"]
	case "player.metadata_set":
		var payload map[string]string
		_ = json.Unmarshal(event.Payload, &payload)
		return viewer.UserID == payload["user_id"] || viewer.UserID == payload["heir_id"]
	case "vote.mercenary_reminder":
		for _, p := range state.Players {
			if p.Role == game.RoleMercenary && p.UserID == viewer.UserID {
				return true
			}
		}
		return viewer.UserID != ""
	default:
		return true
	}
}

// spyAccess reports whether userID is a living Little Girl, who has read
// access to the werewolf channel. A Little Girl caught by her spying roll
// is already dead; the current phase is not checked.
func spyAccess(state engine.State, userID string) bool {
	p, ok := state.Players[userID]
	return ok && p.Role == game.RoleLittleGirl && p.State == engine.PlayerAlive
}

// sanitizePayload redacts a "role.assigned" or "role.changed" event's role
// for anyone but the player it concerns; every other event type is left
// as-is since allowed() already gated who receives it.
func sanitizePayload(event types.Event, viewer types.Viewer) json.RawMessage {
	if event.EventType == "role.assigned" || event.EventType == "role.changed" {
		var payload map[string]string
		_ = json.Unmarshal(event.Payload, &payload)
		if viewer.UserID != payload["user_id"] {
			return []byte(`{}`)
		}
	}
	return event.Payload
}

// ProjectedState returns a copy of state with every player's role blanked
// out except the viewer's own and any isRevealed player's — the shape
// behind the game:state snapshot's per-player role field.
func ProjectedState(state engine.State, viewer types.Viewer) engine.State {
	cp := state.Copy()
	for id, p := range cp.Players {
		if id != viewer.UserID && !p.IsRevealed {
			p.Role = ""
		}
		cp.Players[id] = p
	}
	return cp
}
