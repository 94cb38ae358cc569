package engine

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/qingchang/werewolf-core/internal/game"
	"github.com/qingchang/werewolf-core/internal/types"
)

// apply runs cmd against state, reduces every returned event into state
// (mirroring what the room actor does around HandleCommand), and returns
// the raw events for inspection.
func apply(t *testing.T, state *State, cmd types.CommandEnvelope) []types.Event {
	t.Helper()
	events, result, err := HandleCommand(*state, cmd)
	if err != nil {
		t.Fatalf("command %s failed: %v", cmd.Type, err)
	}
	if result == nil || result.Status != types.StatusAccepted {
		t.Fatalf("command %s was not accepted: %+v", cmd.Type, result)
	}
	seq := state.LastSeq
	for _, e := range events {
		var p map[string]string
		_ = json.Unmarshal(e.Payload, &p)
		seq++
		state.Reduce(EventPayload{Seq: seq, Type: e.EventType, Actor: e.ActorUserID, Payload: p})
	}
	return events
}

func cmd(roomID, actorID, cmdType string, payload interface{}) types.CommandEnvelope {
	b, _ := json.Marshal(payload)
	return types.CommandEnvelope{CommandID: actorID + "-" + cmdType, RoomID: roomID, Type: cmdType, ActorUserID: actorID, Payload: b}
}

func TestHandleJoinAssignsSeatAndHost(t *testing.T) {
	s := NewState("room1", "ABCD", "alice")
	apply(t, &s, cmd("room1", "alice", "game:join", map[string]string{"name": "Alice"}))
	p, ok := s.Players["alice"]
	if !ok {
		t.Fatalf("expected alice to be joined")
	}
	if !p.IsHost {
		t.Errorf("expected alice (the configured host) to be marked host")
	}
	if p.Position != 1 {
		t.Errorf("expected first joiner at seat 1, got %d", p.Position)
	}
}

func TestHandleJoinRejectsDuplicate(t *testing.T) {
	s := NewState("room1", "ABCD", "alice")
	apply(t, &s, cmd("room1", "alice", "game:join", nil))
	_, _, err := HandleCommand(s, cmd("room1", "alice", "game:join", nil))
	if err == nil {
		t.Fatalf("expected an error re-joining an already-joined player")
	}
}

func TestHandleLeaveReassignsHost(t *testing.T) {
	s := NewState("room1", "ABCD", "alice")
	apply(t, &s, cmd("room1", "alice", "game:join", nil))
	apply(t, &s, cmd("room1", "bob", "game:join", nil))
	apply(t, &s, cmd("room1", "alice", "game:leave", nil))

	if _, ok := s.Players["alice"]; ok {
		t.Fatalf("expected alice to be removed from the room")
	}
	if s.HostUserID != "bob" {
		t.Errorf("expected bob to inherit host, got %s", s.HostUserID)
	}
}

func TestHandleLeaveCancelsRoomWhenLastPlayerLeaves(t *testing.T) {
	s := NewState("room1", "ABCD", "alice")
	apply(t, &s, cmd("room1", "alice", "game:join", nil))
	apply(t, &s, cmd("room1", "alice", "game:leave", nil))
	if s.Status != StatusCancelled {
		t.Errorf("expected room cancelled once the last player leaves, got %s", s.Status)
	}
}

func sevenPlayerLobby(t *testing.T) State {
	t.Helper()
	return nPlayerLobby(t, 7)
}

// nPlayerLobby joins n players into a fresh lobby, p1 as host.
func nPlayerLobby(t *testing.T, n int) State {
	t.Helper()
	s := NewState("room1", "ABCD", "p1")
	for i := 1; i <= n; i++ {
		uid := fmt.Sprintf("p%d", i)
		apply(t, &s, cmd("room1", uid, "game:join", map[string]string{"name": uid}))
	}
	return s
}

func TestHandleStartGameOnlyHost(t *testing.T) {
	s := sevenPlayerLobby(t)
	_, _, err := HandleCommand(s, cmd("room1", "p2", "game:start", nil))
	if err == nil {
		t.Fatalf("expected only the host to be able to start the game")
	}
}

func TestHandleStartGameAssignsRolesAndEntersNight(t *testing.T) {
	s := sevenPlayerLobby(t)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))

	if s.Phase != PhaseNight {
		t.Fatalf("expected the game to enter NIGHT_PHASE after start, got %s", s.Phase)
	}
	if s.Status != StatusNight {
		t.Errorf("expected status NIGHT to follow NIGHT_PHASE, got %s", s.Status)
	}
	if s.DayNumber != 1 {
		t.Errorf("expected the first night to be day 1, got %d", s.DayNumber)
	}
	seen := map[game.RoleID]int{}
	for _, p := range s.Players {
		if p.Role == "" {
			t.Errorf("player %s was never assigned a role", p.UserID)
		}
		seen[p.Role]++
	}
	if seen[game.RoleWerewolf] == 0 {
		t.Errorf("expected at least one werewolf among 7 players, got %+v", seen)
	}
}

func TestHandleStartGameRejectsBelowMinPlayers(t *testing.T) {
	s := NewState("room1", "ABCD", "p1")
	apply(t, &s, cmd("room1", "p1", "game:join", nil))
	_, _, err := HandleCommand(s, cmd("room1", "p1", "game:start", nil))
	if err == nil {
		t.Fatalf("expected rejection below the minimum player count")
	}
}

func findRoleHolder(s State, role game.RoleID) string {
	for uid, p := range s.Players {
		if p.Role == role {
			return uid
		}
	}
	return ""
}

func TestHandleNightActionRejectsAbilityNotOwned(t *testing.T) {
	s := sevenPlayerLobby(t)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))

	villager := ""
	for uid, p := range s.Players {
		if p.Role == game.RoleVillager {
			villager = uid
			break
		}
	}
	if villager == "" {
		t.Skip("no plain villager in this 7-player distribution")
	}
	_, _, err := HandleCommand(s, cmd("room1", villager, "action:night", map[string]string{
		"ability": string(game.AbilityGuardProtect), "target_id": "p1",
	}))
	if err == nil {
		t.Fatalf("expected a villager without GUARD_PROTECT to be rejected")
	}
}

func TestHandleNightActionRecordsGuardProtect(t *testing.T) {
	// 11 players is the threshold at which BaseDistribution includes a
	// guard naturally (see game.BaseDistribution).
	s := nPlayerLobby(t, 11)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	guard := findRoleHolder(s, game.RoleGuard)
	if guard == "" {
		t.Fatalf("expected a guard among 11 players")
	}
	target := ""
	for uid := range s.Players {
		if uid != guard {
			target = uid
			break
		}
	}
	events := apply(t, &s, cmd("room1", guard, "action:night", map[string]string{
		"ability": string(game.AbilityGuardProtect), "target_id": target,
	}))
	if len(events) != 1 || events[0].EventType != "night.action_recorded" {
		t.Fatalf("expected a single night.action_recorded event, got %+v", events)
	}
}

func TestHandleVoteCastFinalizesOnceAllAliveHaveVoted(t *testing.T) {
	s := sevenPlayerLobby(t)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	s.Phase = PhaseDayVoting
	s.Status = StatusVoting

	uids := make([]string, 0, len(s.Players))
	for uid := range s.Players {
		uids = append(uids, uid)
	}
	target := uids[0]
	var lastEvents []types.Event
	for _, voter := range uids {
		lastEvents = apply(t, &s, cmd("room1", voter, "vote:cast", map[string]string{"target_id": target}))
	}

	var sawResults bool
	for _, e := range lastEvents {
		if e.EventType == "vote.results" {
			sawResults = true
		}
	}
	if !sawResults {
		t.Fatalf("expected the final vote to trigger tallying, got %+v", lastEvents)
	}
}

func TestHandlePublicChatClosedDuringNight(t *testing.T) {
	s := sevenPlayerLobby(t)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	_, _, err := HandleCommand(s, cmd("room1", "p1", "public:chat", map[string]string{"message": "hi"}))
	if err == nil {
		t.Fatalf("expected public chat to be rejected during NIGHT_PHASE")
	}
}

func TestHandleHunterRevengeRejectsOutsideGraceWindow(t *testing.T) {
	// 9 players is the threshold at which BaseDistribution includes a
	// hunter naturally (see game.BaseDistribution).
	s := nPlayerLobby(t, 9)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	hunter := findRoleHolder(s, game.RoleHunter)
	if hunter == "" {
		t.Fatalf("expected a hunter among 9 players")
	}
	s.Players[hunter].State = PlayerDead
	s.Players[hunter].DiedAt = 0 // far in the past relative to time.Now()

	var target string
	for uid, p := range s.Players {
		if uid != hunter && p.State == PlayerAlive {
			target = uid
			break
		}
	}
	_, _, err := HandleCommand(s, cmd("room1", hunter, "hunter:revenge", map[string]string{"target_id": target}))
	if err != ErrOutsideGrace {
		t.Fatalf("expected ErrOutsideGrace, got %v", err)
	}
}

func TestHandleDictatorCoupFailsAgainstNonWerewolf(t *testing.T) {
	s := sevenPlayerLobby(t)
	s.Config.CustomRoles = []game.RoleID{game.RoleDictator}
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	dictator := findRoleHolder(s, game.RoleDictator)
	if dictator == "" {
		t.Fatalf("expected a dictator after requesting it as a custom role")
	}
	s.Phase = PhaseDayDiscussion
	s.Status = StatusDay

	var target string
	for uid, p := range s.Players {
		if uid != dictator && !game.WerewolfTeamRoles[p.Role] {
			target = uid
			break
		}
	}
	events := apply(t, &s, cmd("room1", dictator, "dictator:coup", map[string]string{"target_id": target}))

	var sawFailure, sawReveal bool
	for _, e := range events {
		if e.EventType == "dictator.coup_failed" {
			sawFailure = true
		}
		if e.EventType == "player.revealed" {
			sawReveal = true
		}
	}
	if !sawFailure || !sawReveal {
		t.Fatalf("expected coup against a non-werewolf to fail and reveal the dictator, got %+v", events)
	}
	if s.Players[target].State != PlayerAlive {
		t.Errorf("expected the coup target to remain alive on a failed coup")
	}
}

func TestHandleDictatorCoupSucceedsAgainstWerewolf(t *testing.T) {
	s := sevenPlayerLobby(t)
	s.Config.CustomRoles = []game.RoleID{game.RoleDictator}
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	dictator := findRoleHolder(s, game.RoleDictator)
	werewolf := findRoleHolder(s, game.RoleWerewolf)
	if dictator == "" || werewolf == "" {
		t.Fatalf("expected both a dictator and a plain werewolf in this distribution")
	}
	s.Phase = PhaseDayDiscussion
	s.Status = StatusDay

	events := apply(t, &s, cmd("room1", dictator, "dictator:coup", map[string]string{"target_id": werewolf}))
	var sawDeath bool
	for _, e := range events {
		if e.EventType == "player_died" {
			sawDeath = true
		}
	}
	if !sawDeath {
		t.Fatalf("expected the werewolf target to die on a successful coup, got %+v", events)
	}
	if s.Players[werewolf].State != PlayerDead {
		t.Errorf("expected werewolf to be marked dead")
	}
}

func TestTalkativeSeerResultIsBroadcastPublicly(t *testing.T) {
	s := nPlayerLobby(t, 5)
	s.Config.CustomRoles = []game.RoleID{game.RoleTalkativeSeer}
	apply(t, &s, cmd("room1", "p1", "game:start", nil))

	seer := findRoleHolder(s, game.RoleTalkativeSeer)
	if seer == "" {
		t.Fatalf("expected a talkative seer after requesting it as a custom role")
	}
	var target string
	for uid := range s.Players {
		if uid != seer {
			target = uid
			break
		}
	}
	apply(t, &s, cmd("room1", seer, "action:night", map[string]string{
		"ability": string(game.AbilityTalkativeSeer), "target_id": target,
	}))

	events := apply(t, &s, cmd("room1", seer, "phase:timeout", nil))

	var sawPublicResult, sawPrivateOnly bool
	for _, e := range events {
		if e.EventType == "talkative_seer_result" {
			sawPublicResult = true
		}
		if e.EventType == "investigation.recorded" {
			sawPrivateOnly = true
		}
	}
	if !sawPublicResult {
		t.Fatalf("expected a talkative_seer_result event at the end of the night, got %+v", events)
	}
	if !sawPrivateOnly {
		t.Fatalf("expected the private investigation.recorded event to still be emitted, got %+v", events)
	}
}

func TestHandleCommandRejectsAfterGameEnd(t *testing.T) {
	s := sevenPlayerLobby(t)
	apply(t, &s, cmd("room1", "p1", "game:start", nil))
	s.Phase = PhaseGameEnd
	_, _, err := HandleCommand(s, cmd("room1", "p1", "public:chat", map[string]string{"message": "hi"}))
	if err != ErrGameEnded {
		t.Fatalf("expected ErrGameEnded, got %v", err)
	}
}
