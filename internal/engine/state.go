package engine

import (
	"encoding/json"

	"github.com/qingchang/werewolf-core/internal/game"
)

// Phase is the room's phase. RoomStatus is kept in lock-step
// with it via the coupling table below — they are never set independently.
type Phase string

const (
	PhaseLobby          Phase = "LOBBY"
	PhaseRoleAssignment Phase = "ROLE_ASSIGNMENT"
	PhaseNight          Phase = "NIGHT_PHASE"
	PhaseDayDiscussion  Phase = "DAY_DISCUSSION"
	PhaseDayVoting      Phase = "DAY_VOTING"
	PhaseGameEnd        Phase = "GAME_END"
)

// RoomStatus is the `state` field reported to clients.
type RoomStatus string

const (
	StatusWaiting   RoomStatus = "WAITING"
	StatusStarting  RoomStatus = "STARTING"
	StatusNight     RoomStatus = "NIGHT"
	StatusDay       RoomStatus = "DAY"
	StatusVoting    RoomStatus = "VOTING"
	StatusEnded     RoomStatus = "ENDED"
	StatusCancelled RoomStatus = "CANCELLED"
)

// PhaseStatus is the exhaustive phase/state coupling table.
var PhaseStatus = map[Phase]RoomStatus{
	PhaseLobby:          StatusWaiting,
	PhaseRoleAssignment: StatusStarting,
	PhaseNight:          StatusNight,
	PhaseDayDiscussion:  StatusDay,
	PhaseDayVoting:      StatusVoting,
	PhaseGameEnd:        StatusEnded,
}

// PhaseDuration reports whether a phase is timed, and the configured
// duration in seconds.
func PhaseDuration(p Phase, cfg GameConfig) (timed bool, seconds int) {
	switch p {
	case PhaseRoleAssignment:
		return true, 5
	case PhaseNight:
		return true, cfg.NightDurationSec
	case PhaseDayDiscussion:
		return true, cfg.DayDurationSec
	case PhaseDayVoting:
		return true, cfg.VoteDurationSec
	default:
		return false, 0
	}
}

// Player belongs to exactly one room.
type Player struct {
	UserID       string       `json:"user_id"`
	Name         string       `json:"name"`
	Position     int          `json:"position"`
	Role         game.RoleID  `json:"role"`
	State        PlayerState  `json:"state"`
	DiedAt       int64        `json:"died_at,omitempty"`
	DiedCause    string       `json:"died_cause,omitempty"`
	LinkedTo     string       `json:"linked_to,omitempty"`
	IsRevealed   bool         `json:"is_revealed"`
	IsHost       bool         `json:"is_host"`
	HasMayorVote bool         `json:"has_mayor_vote"`
	MercenaryTgt string       `json:"mercenary_target,omitempty"`
	HeirTestator string       `json:"heir_testator,omitempty"`
}

// PlayerState is the alive/dead/disconnected state.
type PlayerState string

const (
	PlayerAlive        PlayerState = "ALIVE"
	PlayerDead         PlayerState = "DEAD"
	PlayerDisconnected PlayerState = "DISCONNECTED"
)

// Ability is the per-player consumable record. Keyed by
// (PlayerID, AbilityType).
type Ability struct {
	PlayerID     string          `json:"player_id"`
	Type         game.AbilityType `json:"type"`
	UsesLeft     int             `json:"uses_left"`
	MaxUses      int             `json:"max_uses"`
	CooldownDays int             `json:"cooldown_days"`
	LastUsedDay  int64           `json:"last_used_day,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// GameAction is the submitted-action record. The composite key
// (PerformerID, ActionType, DayNumber, Phase) is the upsert target —
// resubmission overwrites, it never creates a duplicate.
type GameAction struct {
	PerformerID string            `json:"performer_id"`
	ActionType  string            `json:"action_type"`
	DayNumber   int64             `json:"day_number"`
	Phase       Phase             `json:"phase"`
	TargetID    string            `json:"target_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Result      map[string]string `json:"result,omitempty"`
	CreatedAt   int64             `json:"created_at"`
}

func actionKey(performerID, actionType string, day int64, phase Phase) string {
	return performerID + "|" + actionType + "|" + phaseDayKey(day, phase)
}

func phaseDayKey(day int64, phase Phase) string {
	return string(phase) + "|" + itoa(day)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// PendingDeath is a death computed by the night resolver but not yet
// announced; the whole batch is announced together at DAY_DISCUSSION start.
type PendingDeath struct {
	PlayerID string `json:"player_id"`
	Cause    string `json:"cause"`
	RoleID   game.RoleID `json:"role_id"`
}

// GameConfig is the per-room configuration.
type GameConfig struct {
	Name                       string        `json:"name"`
	MinPlayers                 int           `json:"min_players"`
	MaxPlayers                 int           `json:"max_players"`
	IsPrivate                  bool          `json:"is_private"`
	Password                   string        `json:"-"`
	NightDurationSec           int           `json:"night_duration_sec"`
	DayDurationSec             int           `json:"day_duration_sec"`
	VoteDurationSec            int           `json:"vote_duration_sec"`
	CustomRoles                []game.RoleID `json:"custom_roles,omitempty"`
	LittleGirlCatchProbability float64       `json:"little_girl_catch_probability"`
	HunterGraceSeconds         int           `json:"hunter_grace_seconds"`
}

// DefaultGameConfig returns the process-wide fallback defaults.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		MinPlayers: 5, MaxPlayers: 15,
		NightDurationSec: 90, DayDurationSec: 180, VoteDurationSec: 60,
		LittleGirlCatchProbability: 0.1, // surfaced as config rather than hard-coded
		HunterGraceSeconds:         30,  // bounded grace period for the revenge shot
	}
}

// State is the full in-memory state of one room — the fold of its event
// log. It is never mutated outside Reduce.
type State struct {
	RoomID         string
	Code           string
	HostUserID     string
	Phase          Phase
	Status         RoomStatus
	DayNumber      int64
	PhaseStartedAt int64
	PhaseEndsAt    int64
	Config         GameConfig
	Players        map[string]*Player // userID -> player
	SeatOrder      []string           // userIDs by seat position ascending
	Abilities      map[string]map[game.AbilityType]*Ability
	Actions        map[string]*GameAction
	PendingDeaths  []PendingDeath
	LastGuardTgt   map[string]string // guard userID -> previous night's target
	WinningTeam    game.Team
	EndReason      string
	AnyDeathOccurred bool
	ChatSeq        int64
	LastSeq        int64
}

// NewState constructs a room in LOBBY/WAITING.
func NewState(roomID, code, hostUserID string) State {
	cfg := DefaultGameConfig()
	return State{
		RoomID: roomID, Code: code, HostUserID: hostUserID,
		Phase: PhaseLobby, Status: StatusWaiting,
		Config:       cfg,
		Players:      map[string]*Player{},
		Abilities:    map[string]map[game.AbilityType]*Ability{},
		Actions:      map[string]*GameAction{},
		LastGuardTgt: map[string]string{},
	}
}

// Copy returns a deep copy so handlers can mutate a working copy and only
// the room actor's committed result replaces the canonical state.
func (s State) Copy() State {
	cp := s
	cp.Players = make(map[string]*Player, len(s.Players))
	for k, v := range s.Players {
		p := *v
		cp.Players[k] = &p
	}
	cp.SeatOrder = append([]string(nil), s.SeatOrder...)
	cp.Abilities = make(map[string]map[game.AbilityType]*Ability, len(s.Abilities))
	for pid, byType := range s.Abilities {
		inner := make(map[game.AbilityType]*Ability, len(byType))
		for t, a := range byType {
			na := *a
			if a.Metadata != nil {
				na.Metadata = make(map[string]string, len(a.Metadata))
				for k, v := range a.Metadata {
					na.Metadata[k] = v
				}
			}
			inner[t] = &na
		}
		cp.Abilities[pid] = inner
	}
	cp.Actions = make(map[string]*GameAction, len(s.Actions))
	for k, v := range s.Actions {
		na := *v
		if v.Metadata != nil {
			na.Metadata = cloneMap(v.Metadata)
		}
		if v.Result != nil {
			na.Result = cloneMap(v.Result)
		}
		cp.Actions[k] = &na
	}
	cp.PendingDeaths = append([]PendingDeath(nil), s.PendingDeaths...)
	cp.LastGuardTgt = cloneMap(s.LastGuardTgt)
	return cp
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AliveCount returns the number of ALIVE players.
func (s *State) AliveCount() int {
	n := 0
	for _, p := range s.Players {
		if p.State == PlayerAlive {
			n++
		}
	}
	return n
}

// NextPosition is the gap-filling smallest-available seat number.
func (s *State) NextPosition() int {
	taken := map[int]bool{}
	for _, p := range s.Players {
		taken[p.Position] = true
	}
	for i := 1; i <= s.Config.MaxPlayers; i++ {
		if !taken[i] {
			return i
		}
	}
	return len(s.Players) + 1
}

// EventPayload is the reducer's input: a committed event's essential
// shape, independent of the wire-level types.Event envelope.
type EventPayload struct {
	Seq     int64
	Type    string
	Actor   string
	Payload map[string]string
}

// Reduce folds one committed event into the state. It is the only place
// State is mutated; HandleCommand never mutates State directly, only
// returns events for the caller to reduce and commit (mirrors the
// command/event split of the room actor).
func (s *State) Reduce(ev EventPayload) {
	p := ev.Payload
	switch ev.Type {
	case "room.player_joined":
		pos := atoiDefault(p["position"], 0)
		s.Players[ev.Actor] = &Player{
			UserID: ev.Actor, Name: p["name"], Position: pos, State: PlayerAlive,
			IsHost: ev.Actor == s.HostUserID,
		}
		s.SeatOrder = insertSorted(s.SeatOrder, s.Players, ev.Actor)
	case "room.player_left":
		delete(s.Players, p["user_id"])
		s.SeatOrder = removeFromSlice(s.SeatOrder, p["user_id"])
		if p["user_id"] == s.HostUserID && p["new_host"] != "" {
			s.HostUserID = p["new_host"]
			if np, ok := s.Players[s.HostUserID]; ok {
				np.IsHost = true
			}
		}
	case "room.cancelled":
		s.Status = StatusCancelled
	case "game.started":
		s.DayNumber = 0
	case "role.assigned":
		if pl, ok := s.Players[p["user_id"]]; ok {
			pl.Role = game.RoleID(p["role"])
			if role, ok := game.GetRole(pl.Role); ok {
				for _, ab := range role.Abilities {
					if ab == game.AbilityMayorVote {
						pl.HasMayorVote = true
					}
				}
			}
		}
	case "ability.initialized":
		s.setAbility(p["user_id"], game.AbilityType(p["ability_type"]), atoiDefault(p["max_uses"], 0), atoiDefault(p["cooldown_days"], 0))
	case "player.metadata_set":
		if pl, ok := s.Players[p["user_id"]]; ok {
			switch p["key"] {
			case "mercenary_target":
				pl.MercenaryTgt = p["value"]
			case "heir_testator":
				pl.HeirTestator = p["value"]
			}
		}
	case "phase.changed":
		s.Phase = Phase(p["phase"])
		s.Status = PhaseStatus[s.Phase]
		s.PhaseStartedAt = atoi64Default(p["started_at"], 0)
		s.PhaseEndsAt = atoi64Default(p["ends_at"], 0)
		if s.Phase == PhaseNight {
			s.DayNumber++
		}
	case "night.action_recorded":
		s.recordAction(ev, p)
	case "night.ability_consumed":
		a := s.abilityFor(p["user_id"], game.AbilityType(p["ability_type"]))
		a.UsesLeft--
		a.LastUsedDay = s.DayNumber
	case "night.guard_target_recorded":
		s.LastGuardTgt[p["guard_id"]] = p["target_id"]
	case "lovers.linked":
		if a, ok := s.Players[p["player1"]]; ok {
			a.LinkedTo = p["player2"]
		}
		if b, ok := s.Players[p["player2"]]; ok {
			b.LinkedTo = p["player1"]
		}
	case "role.changed":
		if pl, ok := s.Players[p["user_id"]]; ok {
			pl.Role = game.RoleID(p["role"])
		}
	case "investigation.recorded":
		for _, a := range s.Actions {
			if a.PerformerID == p["seer_id"] && a.DayNumber == s.DayNumber && a.TargetID == p["target_id"] {
				if a.Result == nil {
					a.Result = map[string]string{}
				}
				a.Result["role"] = p["target_role"]
			}
		}
	case "deaths.pending_recorded":
		s.PendingDeaths = append(s.PendingDeaths, PendingDeath{
			PlayerID: p["player_id"], Cause: p["cause"], RoleID: game.RoleID(p["role"]),
		})
	case "player_died":
		s.applyDeath(p["user_id"], p["cause"])
	case "vote.cast":
		s.recordVote(ev, p)
	case "vote.results":
		s.clearVotes()
	case "mercenary.resolved":
		if pl, ok := s.Players[p["user_id"]]; ok {
			pl.Role = game.RoleID(p["role"])
		}
	case "player.revealed":
		if pl, ok := s.Players[p["user_id"]]; ok {
			pl.IsRevealed = true
		}
	case "game.ended":
		s.Phase = PhaseGameEnd
		s.Status = StatusEnded
		s.WinningTeam = game.Team(p["winning_team"])
		s.EndReason = p["reason"]
		s.PhaseEndsAt = 0
	case "public.chat", "whisper.sent", "evil_team.chat":
		s.ChatSeq++
	}
	if ev.Seq > s.LastSeq {
		s.LastSeq = ev.Seq
	}
}

func (s *State) setAbility(userID string, t game.AbilityType, maxUses, cooldown int) {
	if s.Abilities[userID] == nil {
		s.Abilities[userID] = map[game.AbilityType]*Ability{}
	}
	s.Abilities[userID][t] = &Ability{PlayerID: userID, Type: t, UsesLeft: maxUses, MaxUses: maxUses, CooldownDays: cooldown}
}

func (s *State) abilityFor(userID string, t game.AbilityType) *Ability {
	if s.Abilities[userID] == nil {
		s.Abilities[userID] = map[game.AbilityType]*Ability{}
	}
	a, ok := s.Abilities[userID][t]
	if !ok {
		a = &Ability{PlayerID: userID, Type: t}
		s.Abilities[userID][t] = a
	}
	return a
}

func (s *State) recordAction(ev EventPayload, p map[string]string) {
	day := atoi64Default(p["day"], s.DayNumber)
	phase := Phase(p["phase"])
	key := actionKey(ev.Actor, p["action_type"], day, phase)
	s.Actions[key] = &GameAction{
		PerformerID: ev.Actor, ActionType: p["action_type"], DayNumber: day, Phase: phase,
		TargetID: p["target_id"], CreatedAt: ev.Seq,
	}
}

func (s *State) recordVote(ev EventPayload, p map[string]string) {
	key := actionKey(ev.Actor, "DAY_VOTE", s.DayNumber, PhaseDayVoting)
	s.Actions[key] = &GameAction{
		PerformerID: ev.Actor, ActionType: "DAY_VOTE", DayNumber: s.DayNumber, Phase: PhaseDayVoting,
		TargetID: p["target_id"], CreatedAt: ev.Seq,
	}
}

func (s *State) clearVotes() {
	for key, a := range s.Actions {
		if a.ActionType == "DAY_VOTE" && a.DayNumber == s.DayNumber {
			delete(s.Actions, key)
		}
	}
}

func (s *State) applyDeath(userID, cause string) {
	pl, ok := s.Players[userID]
	if !ok || pl.State != PlayerAlive {
		return
	}
	pl.State = PlayerDead
	pl.DiedCause = cause
	pl.IsRevealed = true
	s.AnyDeathOccurred = true
	out := s.PendingDeaths[:0]
	for _, d := range s.PendingDeaths {
		if d.PlayerID != userID {
			out = append(out, d)
		}
	}
	s.PendingDeaths = out
}

func insertSorted(order []string, players map[string]*Player, userID string) []string {
	pos := players[userID].Position
	idx := len(order)
	for i, id := range order {
		if players[id].Position > pos {
			idx = i
			break
		}
	}
	out := append(order[:idx:idx], userID)
	return append(out, order[idx:]...)
}

func removeFromSlice(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return def
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	return n
}

func atoi64Default(s string, def int64) int64 {
	return int64(atoiDefault(s, int(def)))
}

// MarshalState / UnmarshalState implement snapshotting.
func MarshalState(s State) ([]byte, error) { return json.Marshal(s) }
func UnmarshalState(b []byte) (State, error) {
	var s State
	err := json.Unmarshal(b, &s)
	return s, err
}
