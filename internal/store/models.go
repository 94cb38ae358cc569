package store

import "time"

// Room is the denormalized projection of engine.State's room-level
// fields, kept in sync with the event log inside WithRoomTransaction so
// it can be queried directly (listRoomsInPhase, lobby browsing) without
// replaying events.
type Room struct {
	ID               string
	Code             string
	HostUserID       string
	Phase            string
	Status           string
	DayNumber        int64
	PhaseStartedAt   int64
	PhaseEndsAt      int64
	MinPlayers       int
	MaxPlayers       int
	NightDurationSec int
	DayDurationSec   int
	VoteDurationSec  int
	WinningTeam      string
	EndReason        string
	CreatedAt        time.Time
}

// Player is the denormalized projection of one engine.Player.
type Player struct {
	RoomID     string
	UserID     string
	Name       string
	Position   int
	Role       string
	State      string
	DiedAt     int64
	DiedCause  string
	LinkedTo   string
	IsRevealed bool
	IsHost     bool
}

// Ability is the denormalized projection of one engine.Ability.
type Ability struct {
	RoomID       string
	PlayerID     string
	AbilityType  string
	UsesLeft     int
	MaxUses      int
	CooldownDays int
	LastUsedDay  int64
}

// GameAction is the denormalized projection of one engine.GameAction.
// (RoomID, PerformerID, ActionType, DayNumber, Phase) is the upsert key.
type GameAction struct {
	RoomID      string
	PerformerID string
	ActionType  string
	DayNumber   int64
	Phase       string
	TargetID    string
	CreatedAt   int64
}

// ActionFilter narrows findActions; zero fields are wildcards except
// RoomID, which is always required.
type ActionFilter struct {
	RoomID      string
	PerformerID string
	ActionType  string
	DayNumber   int64
	Phase       string
}

// UserStats is the minimal per-user win/loss counter this core owns.
// Account creation and auth are out of scope; incrementing stats for an
// externally-managed user ID is not.
type UserStats struct {
	UserID      string
	GamesPlayed int64
	GamesWon    int64
}

type DedupRecord struct {
	RoomID         string
	ActorUserID    string
	IdempotencyKey string
	CommandType    string
	CommandID      string
	Status         string
	ResultJSON     string
	CreatedAt      time.Time
}

type Snapshot struct {
	RoomID    string
	LastSeq   int64
	StateJSON []byte
	CreatedAt time.Time
}
