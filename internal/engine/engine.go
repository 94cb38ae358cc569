package engine

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/qingchang/werewolf-core/internal/game"
	"github.com/qingchang/werewolf-core/internal/types"
)

var (
	ErrGameEnded       = errors.New("game already ended")
	ErrInvalidPhase    = errors.New("invalid phase for this action")
	ErrPlayerNotFound  = errors.New("player not found")
	ErrInvalidTarget   = errors.New("invalid target")
	ErrAlreadyVoted    = errors.New("already voted this cycle")
	ErrNotAlive        = errors.New("actor is not alive")
	ErrAbilityNotOwned = errors.New("actor does not hold this ability")
	ErrNoUsesLeft      = errors.New("ability has no uses remaining")
	ErrOutsideGrace    = errors.New("outside the allowed response window")
)

// HandleCommand is the single pure entry point: state in, events out. It
// never mutates state — the caller (the room actor) assigns each
// returned event its Seq/EventID via the store's sequence allocator and
// folds it back with Reduce before the next command is accepted. This
// keeps HandleCommand safely retriable and makes replay exact.
func HandleCommand(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if state.Phase == PhaseGameEnd {
		return nil, nil, ErrGameEnded
	}
	switch cmd.Type {
	case "game:join":
		return handleJoin(state, cmd)
	case "game:leave":
		return handleLeave(state, cmd)
	case "game:start":
		return handleStartGame(state, cmd)
	case "action:night":
		return handleNightAction(state, cmd)
	case "cupid:link":
		return handleCupidLink(state, cmd)
	case "witch:potion":
		return handleWitchPotion(state, cmd)
	case "vote:cast":
		return handleVoteCast(state, cmd)
	case "hunter:revenge":
		return handleHunterRevenge(state, cmd)
	case "dictator:coup":
		return handleDictatorCoup(state, cmd)
	case "public:chat":
		return handlePublicChat(state, cmd)
	case "player:disconnect":
		return handleDisconnect(state, cmd)
	case "player:reconnect":
		return handleReconnect(state, cmd)
	case "phase:timeout":
		return handlePhaseTimeout(state, cmd)
	default:
		return nil, nil, fmt.Errorf("unknown command type: %s", cmd.Type)
	}
}

func handleJoin(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if _, exists := state.Players[cmd.ActorUserID]; exists {
		return nil, nil, types.ConflictError("player already joined")
	}
	if state.Phase != PhaseLobby {
		return nil, nil, types.PreconditionError("cannot join after the game has started")
	}
	if len(state.Players) >= state.Config.MaxPlayers {
		return nil, nil, types.PreconditionError("room is full")
	}

	var payload struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(cmd.Payload, &payload)
	name := payload.Name
	if name == "" {
		name = fmt.Sprintf("Player%d", len(state.Players)+1)
	}

	ev := newEvent(cmd, "room.player_joined", map[string]string{
		"name":     name,
		"position": itoa(int64(state.NextPosition())),
	})
	return []types.Event{ev}, acceptedResult(cmd.CommandID), nil
}

func handleLeave(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if _, exists := state.Players[cmd.ActorUserID]; !exists {
		return nil, nil, types.NotFoundError("player not in room")
	}
	if state.Phase != PhaseLobby {
		return nil, nil, types.PreconditionError("cannot leave after the game has started")
	}

	payload := map[string]string{"user_id": cmd.ActorUserID}
	if cmd.ActorUserID == state.HostUserID {
		for _, uid := range state.SeatOrder {
			if uid != cmd.ActorUserID {
				payload["new_host"] = uid
				break
			}
		}
		if payload["new_host"] == "" {
			return []types.Event{newEvent(cmd, "room.player_left", payload), newEvent(cmd, "room.cancelled", nil)}, acceptedResult(cmd.CommandID), nil
		}
	}
	return []types.Event{newEvent(cmd, "room.player_left", payload)}, acceptedResult(cmd.CommandID), nil
}

func handleDisconnect(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	p, ok := state.Players[cmd.ActorUserID]
	if !ok || p.State != PlayerAlive {
		return nil, nil, types.PreconditionError("player is not connected")
	}
	return []types.Event{newEvent(cmd, "player.disconnected", map[string]string{"user_id": cmd.ActorUserID})}, acceptedResult(cmd.CommandID), nil
}

func handleReconnect(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	p, ok := state.Players[cmd.ActorUserID]
	if !ok || p.State != PlayerDisconnected {
		return nil, nil, types.PreconditionError("player is not disconnected")
	}
	return []types.Event{newEvent(cmd, "player.reconnected", map[string]string{"user_id": cmd.ActorUserID})}, acceptedResult(cmd.CommandID), nil
}

func handleStartGame(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if cmd.ActorUserID != state.HostUserID {
		return nil, nil, types.AuthError("only the host can start the game")
	}
	if state.Phase != PhaseLobby {
		return nil, nil, types.PreconditionError("game already started")
	}
	n := len(state.Players)
	if n < state.Config.MinPlayers {
		return nil, nil, types.ValidationError(fmt.Sprintf("need at least %d players, have %d", state.Config.MinPlayers, n))
	}
	if n > state.Config.MaxPlayers {
		return nil, nil, types.ValidationError(fmt.Sprintf("too many players, max %d", state.Config.MaxPlayers))
	}

	userIDs := append([]string(nil), state.SeatOrder...)
	setup, err := game.BuildAssignments(game.SetupConfig{PlayerCount: n, CustomRoles: state.Config.CustomRoles}, userIDs)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	events := []types.Event{newEvent(cmd, "game.started", nil)}
	for uid, a := range setup.Assignments {
		events = append(events, newEvent(cmd, "role.assigned", map[string]string{"user_id": uid, "role": string(a.Role)}))
		role, _ := game.GetRole(a.Role)
		for _, ab := range role.Abilities {
			if ab == game.AbilityMayorVote {
				continue // passive bonus, never submitted or consumed
			}
			maxUses := role.MaxUses
			events = append(events, newEvent(cmd, "ability.initialized", map[string]string{
				"user_id": uid, "ability_type": string(ab),
				"max_uses": itoa(int64(maxUses)), "cooldown_days": itoa(int64(role.CooldownDays)),
			}))
		}
		if a.MercenaryTgt != "" {
			events = append(events, newEvent(cmd, "player.metadata_set", map[string]string{
				"user_id": uid, "key": "mercenary_target", "value": a.MercenaryTgt,
			}))
		}
	}

	events = append(events, phaseChangeEvents(cmd, state, PhaseNight, now)...)
	return events, acceptedResult(cmd.CommandID), nil
}

// handleNightAction covers the generic single-target night abilities:
// GUARD_PROTECT, WEREWOLF_VOTE, WHITE_WOLF_DEVOUR, BLACK_WOLF_CONVERT,
// SEER_INVESTIGATE / TALKATIVE_SEER.
func handleNightAction(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if state.Phase != PhaseNight {
		return nil, nil, types.PreconditionError("night abilities are only usable during NIGHT_PHASE")
	}
	actor, ok := state.Players[cmd.ActorUserID]
	if !ok {
		return nil, nil, ErrPlayerNotFound
	}
	if actor.State != PlayerAlive {
		return nil, nil, ErrNotAlive
	}

	var payload struct {
		Ability  string `json:"ability"`
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return nil, nil, types.ValidationError("invalid action:night payload")
	}
	ability := game.AbilityType(payload.Ability)

	if err := validateAbilityOwnership(state, cmd.ActorUserID, ability); err != nil {
		return nil, nil, err
	}
	if payload.TargetID != "" {
		if _, ok := state.Players[payload.TargetID]; !ok {
			return nil, nil, ErrInvalidTarget
		}
	}

	return []types.Event{newEvent(cmd, "night.action_recorded", map[string]string{
		"action_type": string(ability), "target_id": payload.TargetID,
		"day": itoa(state.DayNumber), "phase": string(PhaseNight),
	})}, acceptedResult(cmd.CommandID), nil
}

func handleCupidLink(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if state.Phase != PhaseNight || state.DayNumber != 1 {
		return nil, nil, types.PreconditionError("cupid may only link on the first night")
	}
	if err := validateAbilityOwnership(state, cmd.ActorUserID, game.AbilityCupidLink); err != nil {
		return nil, nil, err
	}
	var payload struct {
		Player1 string `json:"player1_id"`
		Player2 string `json:"player2_id"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.Player1 == "" || payload.Player2 == "" {
		return nil, nil, types.ValidationError("player1_id and player2_id are required")
	}
	if _, ok := state.Players[payload.Player1]; !ok {
		return nil, nil, ErrInvalidTarget
	}
	if _, ok := state.Players[payload.Player2]; !ok {
		return nil, nil, ErrInvalidTarget
	}
	return []types.Event{newEvent(cmd, "night.action_recorded", map[string]string{
		"action_type": string(game.AbilityCupidLink), "target_id": payload.Player1 + "," + payload.Player2,
		"day": itoa(state.DayNumber), "phase": string(PhaseNight),
	})}, acceptedResult(cmd.CommandID), nil
}

func handleWitchPotion(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if state.Phase != PhaseNight {
		return nil, nil, types.PreconditionError("the witch only acts during NIGHT_PHASE")
	}
	var payload struct {
		Potion   string `json:"potion"` // "heal" | "poison"
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return nil, nil, types.ValidationError("invalid witch:potion payload")
	}
	var ability game.AbilityType
	switch payload.Potion {
	case "heal":
		ability = game.AbilityWitchHeal
	case "poison":
		ability = game.AbilityWitchPoison
	default:
		return nil, nil, types.ValidationError("potion must be heal or poison")
	}
	if err := validateAbilityOwnership(state, cmd.ActorUserID, ability); err != nil {
		return nil, nil, err
	}
	if payload.TargetID != "" {
		if _, ok := state.Players[payload.TargetID]; !ok {
			return nil, nil, ErrInvalidTarget
		}
	}
	return []types.Event{newEvent(cmd, "night.action_recorded", map[string]string{
		"action_type": string(ability), "target_id": payload.TargetID,
		"day": itoa(state.DayNumber), "phase": string(PhaseNight),
	})}, acceptedResult(cmd.CommandID), nil
}

func validateAbilityOwnership(state State, userID string, ability game.AbilityType) error {
	abilities, ok := state.Abilities[userID]
	if !ok {
		return types.PreconditionError("actor has no abilities")
	}
	a, ok := abilities[ability]
	if !ok {
		return ErrAbilityNotOwned
	}
	if a.UsesLeft <= 0 && a.MaxUses > 0 {
		return ErrNoUsesLeft
	}
	if a.CooldownDays > 0 && a.LastUsedDay != 0 && state.DayNumber-a.LastUsedDay < int64(a.CooldownDays) {
		return types.PreconditionError("ability is on cooldown")
	}
	return nil
}

func handleVoteCast(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	if state.Phase != PhaseDayVoting {
		return nil, nil, types.PreconditionError("voting is only open during DAY_VOTING")
	}
	voter, ok := state.Players[cmd.ActorUserID]
	if !ok || voter.State != PlayerAlive {
		return nil, nil, ErrNotAlive
	}
	var payload struct {
		TargetID string `json:"target_id"`
	}
	_ = json.Unmarshal(cmd.Payload, &payload)
	if payload.TargetID != "" {
		if t, ok := state.Players[payload.TargetID]; !ok || t.State != PlayerAlive {
			return nil, nil, ErrInvalidTarget
		}
	}

	events := []types.Event{newEvent(cmd, "vote.cast", map[string]string{"target_id": payload.TargetID})}

	votes := collectVotes(state)
	votes[cmd.ActorUserID] = game.Vote{VoterID: cmd.ActorUserID, TargetID: payload.TargetID}
	alive := aliveSet(state)
	if game.AllVoted(alive, votes) {
		events = append(events, finalizeVotes(cmd, state, votes)...)
	}
	return events, acceptedResult(cmd.CommandID), nil
}

func collectVotes(state State) map[string]game.Vote {
	votes := map[string]game.Vote{}
	for _, a := range state.Actions {
		if a.ActionType == "DAY_VOTE" && a.DayNumber == state.DayNumber {
			votes[a.PerformerID] = game.Vote{VoterID: a.PerformerID, TargetID: a.TargetID, CreatedAt: a.CreatedAt}
		}
	}
	return votes
}

func aliveSet(state State) map[string]bool {
	out := make(map[string]bool, len(state.Players))
	for uid, p := range state.Players {
		out[uid] = p.State == PlayerAlive
	}
	return out
}

func finalizeVotes(cmd types.CommandEnvelope, state State, votes map[string]game.Vote) []types.Event {
	ctx := game.TallyContext{Alive: aliveSet(state), MayorVote: map[string]bool{}, Positions: map[string]int{}}
	for uid, p := range state.Players {
		ctx.Positions[uid] = p.Position
		if p.HasMayorVote {
			ctx.MayorVote[uid] = true
		}
	}
	voteList := make([]game.Vote, 0, len(votes))
	for _, v := range votes {
		voteList = append(voteList, v)
	}
	result := game.Tally(ctx, voteList)

	events := []types.Event{newEvent(cmd, "vote.results", map[string]string{"eliminated": result.Eliminated})}

	var deaths []DeathOutcome
	if result.Eliminated != "" {
		deaths = runKill(&state, result.Eliminated, game.CauseVotedOut)
	}
	events = append(events, deathEvents(cmd, deaths)...)
	applyDeathsLocally(&state, deaths)

	if winner := evaluateWin(state); winner != "" {
		return append(events, endGameEvent(cmd, winner, "win_condition"))
	}
	if state.DayNumber == 1 {
		if ev, ok := checkMercenaryWin(state, result.Eliminated); ok {
			return append(events, ev)
		}
		for uid, p := range state.Players {
			if p.Role == game.RoleMercenary && p.State == PlayerAlive {
				events = append(events, newEvent(cmd, "mercenary.resolved", map[string]string{"user_id": uid, "role": string(game.RoleVillager)}))
			}
		}
	}
	return append(events, phaseChangeEvents(cmd, state, PhaseNight, time.Now())...)
}

func handleHunterRevenge(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	hunter, ok := state.Players[cmd.ActorUserID]
	if !ok || hunter.Role != game.RoleHunter || hunter.State != PlayerDead {
		return nil, nil, types.PreconditionError("only a freshly-killed hunter may take revenge")
	}
	graceMs := int64(state.Config.HunterGraceSeconds) * 1000
	if time.Now().UnixMilli()-hunter.DiedAt > graceMs {
		return nil, nil, ErrOutsideGrace
	}
	var payload struct {
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.TargetID == "" {
		return nil, nil, types.ValidationError("target_id is required")
	}
	target, ok := state.Players[payload.TargetID]
	if !ok || target.State != PlayerAlive {
		return nil, nil, ErrInvalidTarget
	}

	deaths := runKill(&state, payload.TargetID, game.CauseHunterRevenge)
	events := deathEvents(cmd, deaths)
	applyDeathsLocally(&state, deaths)
	if winner := evaluateWin(state); winner != "" {
		events = append(events, endGameEvent(cmd, winner, "win_condition"))
	}
	return events, acceptedResult(cmd.CommandID), nil
}

// handleDictatorCoup resolves the Dictator's off-cycle elimination
// attempt. It succeeds only against a Werewolf-team target; against any
// other target it fails and publicly burns the Dictator's cover instead.
func handleDictatorCoup(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	dictator, ok := state.Players[cmd.ActorUserID]
	if !ok || dictator.Role != game.RoleDictator || dictator.State != PlayerAlive {
		return nil, nil, types.PreconditionError("only a living dictator may attempt a coup")
	}
	if state.Phase != PhaseDayDiscussion && state.Phase != PhaseDayVoting {
		return nil, nil, types.PreconditionError("a coup may only be attempted during the day")
	}
	if err := validateAbilityOwnership(state, cmd.ActorUserID, game.AbilityDictatorCoup); err != nil {
		return nil, nil, err
	}
	var payload struct {
		TargetID string `json:"target_id"`
	}
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil || payload.TargetID == "" {
		return nil, nil, types.ValidationError("target_id is required")
	}
	target, ok := state.Players[payload.TargetID]
	if !ok || target.State != PlayerAlive {
		return nil, nil, ErrInvalidTarget
	}

	events := []types.Event{newEvent(cmd, "night.ability_consumed", map[string]string{
		"user_id": cmd.ActorUserID, "ability_type": string(game.AbilityDictatorCoup),
	})}

	if game.WerewolfTeamRoles[target.Role] {
		deaths := runKill(&state, payload.TargetID, game.CauseVotedOut)
		events = append(events, deathEvents(cmd, deaths)...)
		applyDeathsLocally(&state, deaths)
		if winner := evaluateWin(state); winner != "" {
			events = append(events, endGameEvent(cmd, winner, "win_condition"))
		}
		return events, acceptedResult(cmd.CommandID), nil
	}

	events = append(events,
		newEvent(cmd, "player.revealed", map[string]string{"user_id": cmd.ActorUserID}),
		newEvent(cmd, "dictator.coup_failed", map[string]string{
			"user_id": cmd.ActorUserID, "target_id": payload.TargetID, "cause": game.CauseFailedCoup,
		}),
	)
	return events, acceptedResult(cmd.CommandID), nil
}

func handlePublicChat(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	actor, ok := state.Players[cmd.ActorUserID]
	if !ok || actor.State != PlayerAlive {
		return nil, nil, ErrNotAlive
	}
	if state.Phase == PhaseNight {
		return nil, nil, types.PreconditionError("public chat is closed during NIGHT_PHASE")
	}
	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(cmd.Payload, &payload)
	if payload.Message == "" {
		return nil, nil, types.ValidationError("message is required")
	}
	return []types.Event{newEvent(cmd, "public.chat", map[string]string{"message": payload.Message})}, acceptedResult(cmd.CommandID), nil
}

// handlePhaseTimeout is issued by the timer dispatcher when a timed
// phase's deadline elapses with no earlier transition.
func handlePhaseTimeout(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	switch state.Phase {
	case PhaseRoleAssignment:
		return []types.Event{}, acceptedResult(cmd.CommandID), nil // role assignment auto-advances on its own write, timeout is a no-op safety net
	case PhaseNight:
		return resolveNightEndOfPhase(state, cmd)
	case PhaseDayDiscussion:
		return phaseChangeEvents(cmd, state, PhaseDayVoting, time.Now()), acceptedResult(cmd.CommandID), nil
	case PhaseDayVoting:
		votes := collectVotes(state)
		return finalizeVotes(cmd, state, votes), acceptedResult(cmd.CommandID), nil
	default:
		return nil, nil, ErrInvalidPhase
	}
}

// resolveNightEndOfPhase is the NIGHT_PHASE phase-end hook: it runs
// the NightResolver over the night's recorded actions, cascades any kills
// through DeathPipeline, and queues the result as PendingDeaths to be
// announced at DAY_DISCUSSION start — then transitions.
func resolveNightEndOfPhase(state State, cmd types.CommandEnvelope) ([]types.Event, *types.CommandResult, error) {
	ctx := game.NightContext{
		Roles: map[string]game.RoleID{}, Alive: aliveSet(state),
		LastGuardTarget: state.LastGuardTgt, CurrentDay: state.DayNumber,
		Positions: map[string]int{}, WitchHealUsed: map[string]bool{}, WitchPoisonUsed: map[string]bool{},
		WhiteWolfUsed: map[string]int64{},
	}
	for uid, p := range state.Players {
		ctx.Roles[uid] = p.Role
		ctx.Positions[uid] = p.Position
	}
	for uid, byType := range state.Abilities {
		if a, ok := byType[game.AbilityWitchHeal]; ok {
			ctx.WitchHealUsed[uid] = a.UsesLeft <= 0
		}
		if a, ok := byType[game.AbilityWitchPoison]; ok {
			ctx.WitchPoisonUsed[uid] = a.UsesLeft <= 0
		}
		if a, ok := byType[game.AbilityWhiteWolfDevour]; ok {
			ctx.WhiteWolfUsed[uid] = a.LastUsedDay
		}
	}

	var actions []game.NightAction
	for _, a := range state.Actions {
		if a.Phase != PhaseNight || a.DayNumber != state.DayNumber {
			continue
		}
		if a.ActionType == string(game.AbilityCupidLink) {
			parts := splitPair(a.TargetID)
			if len(parts) == 2 {
				actions = append(actions, game.NightAction{PerformerID: a.PerformerID, Ability: game.AbilityCupidLink, TargetID: parts[0], CreatedAt: a.CreatedAt})
			}
			continue
		}
		actions = append(actions, game.NightAction{PerformerID: a.PerformerID, Ability: game.AbilityType(a.ActionType), TargetID: a.TargetID, CreatedAt: a.CreatedAt})
	}

	result := game.ResolveNight(ctx, actions)
	events := []types.Event{}

	for _, link := range result.NewLinks {
		events = append(events, newEvent(cmd, "lovers.linked", map[string]string{"player1": link[0], "player2": link[1]}))
	}
	for heir, testator := range result.HeirTargets {
		events = append(events, newEvent(cmd, "player.metadata_set", map[string]string{
			"user_id": heir, "key": "heir_testator", "value": testator,
		}))
	}
	for uid, role := range result.RoleChanges {
		events = append(events, newEvent(cmd, "role.changed", map[string]string{"user_id": uid, "role": string(role)}))
	}
	for guard, target := range result.GuardTargets {
		events = append(events, newEvent(cmd, "night.guard_target_recorded", map[string]string{"guard_id": guard, "target_id": target}))
	}
	for _, inv := range result.Investigations {
		payload := map[string]string{"seer_id": inv.SeerID, "target_id": inv.TargetID, "target_role": string(inv.TargetRole)}
		events = append(events, newEvent(cmd, "investigation.recorded", payload))
		if inv.Talkative {
			events = append(events, newEvent(cmd, "talkative_seer_result", payload))
		}
	}
	for uid, ab := range result.ConsumedUses {
		events = append(events, newEvent(cmd, "night.ability_consumed", map[string]string{"user_id": uid, "ability_type": string(ab)}))
	}

	deathCtx := &game.DeathCtx{
		Alive: ctx.Alive, Roles: ctx.Roles, LinkedTo: map[string]string{}, HeirTarget: result.HeirTargets,
		IsFirstKill: !state.AnyDeathOccurred,
	}
	for uid, p := range state.Players {
		if p.LinkedTo != "" {
			deathCtx.LinkedTo[uid] = p.LinkedTo
		}
		if p.HeirTestator != "" {
			deathCtx.HeirTarget[uid] = p.HeirTestator
		}
	}
	var deaths []DeathOutcome
	for _, d := range result.Deaths {
		steps := game.Kill(deathCtx, d.PlayerID, d.Cause)
		deaths = append(deaths, toDeathOutcomes(steps)...)
	}
	pending := append([]PendingDeath(nil), state.PendingDeaths...)
	for _, d := range deaths {
		if d.Kind != game.EventPlayerDied {
			continue
		}
		events = append(events, newEvent(cmd, "deaths.pending_recorded", map[string]string{
			"player_id": d.PlayerID, "cause": d.Cause, "role": string(d.RoleID),
		}))
		pending = append(pending, PendingDeath{PlayerID: d.PlayerID, Cause: d.Cause, RoleID: d.RoleID})
	}
	state.PendingDeaths = pending
	for pid, role := range deathCtx.Roles {
		if !state.Players[pid].IsRevealed && role != state.Players[pid].Role {
			events = append(events, newEvent(cmd, "role.changed", map[string]string{"user_id": pid, "role": string(role)}))
		}
	}

	events = append(events, phaseChangeEvents(cmd, state, PhaseDayDiscussion, time.Now())...)
	return events, acceptedResult(cmd.CommandID), nil
}

func splitPair(s string) []string {
	for i := range s {
		if s[i] == ',' {
			return []string{s[:i], s[i+1:]}
		}
	}
	return []string{s}
}

// DeathOutcome flattens the DeathPipeline's event stream into the subset
// the engine announces as wire events.
type DeathOutcome struct {
	PlayerID string
	Cause    string
	RoleID   game.RoleID
	Kind     game.DeathEventKind
}

func toDeathOutcomes(steps []game.DeathStep) []DeathOutcome {
	out := make([]DeathOutcome, 0, len(steps))
	for _, s := range steps {
		out = append(out, DeathOutcome{PlayerID: s.PlayerID, Cause: s.Cause, RoleID: s.RoleID, Kind: s.Kind})
	}
	return out
}

// runKill invokes DeathPipeline for an immediate (non-night) kill, such
// as an execution, hunter revenge, or a successful coup.
func runKill(state *State, playerID, cause string) []DeathOutcome {
	ctx := &game.DeathCtx{
		Alive: aliveSet(*state), Roles: map[string]game.RoleID{}, LinkedTo: map[string]string{},
		HeirTarget: map[string]string{}, IsFirstKill: !state.AnyDeathOccurred,
	}
	for uid, p := range state.Players {
		ctx.Roles[uid] = p.Role
		if p.LinkedTo != "" {
			ctx.LinkedTo[uid] = p.LinkedTo
		}
		if p.HeirTestator != "" {
			ctx.HeirTarget[uid] = p.HeirTestator
		}
	}
	return toDeathOutcomes(game.Kill(ctx, playerID, cause))
}

func deathEvents(cmd types.CommandEnvelope, deaths []DeathOutcome) []types.Event {
	events := make([]types.Event, 0, len(deaths))
	for _, d := range deaths {
		switch d.Kind {
		case game.EventPlayerDied:
			events = append(events, newEvent(cmd, "player_died", map[string]string{"user_id": d.PlayerID, "cause": d.Cause}))
		case game.EventHunterRevenge:
			events = append(events, newEvent(cmd, "hunter.revenge_available", map[string]string{"user_id": d.PlayerID}))
		case game.EventRoleInherited:
			events = append(events, newEvent(cmd, "role.changed", map[string]string{"user_id": d.PlayerID, "role": string(d.RoleID)}))
		case game.EventRoleStolen:
			events = append(events, newEvent(cmd, "role.changed", map[string]string{"user_id": d.PlayerID, "role": string(d.RoleID)}))
		case game.EventProtectionLost:
			events = append(events, newEvent(cmd, "player.revealed", map[string]string{"user_id": d.PlayerID}))
		}
	}
	return events
}

// applyDeathsLocally updates a throwaway State copy used only to decide
// whether the win condition is already met before the caller's events
// are committed — the committed Reduce pass is the source of truth.
func applyDeathsLocally(state *State, deaths []DeathOutcome) {
	*state = state.Copy()
	for _, d := range deaths {
		if d.Kind == game.EventPlayerDied {
			if p, ok := state.Players[d.PlayerID]; ok {
				p.State = PlayerDead
			}
		}
		if d.Kind == game.EventRoleInherited || d.Kind == game.EventRoleStolen {
			if p, ok := state.Players[d.PlayerID]; ok {
				p.Role = d.RoleID
			}
		}
	}
}

func evaluateWin(state State) game.Team {
	ctx := game.WinCtx{Alive: aliveSet(state), Roles: map[string]game.RoleID{}, LinkedTo: map[string]string{}}
	for uid, p := range state.Players {
		ctx.Roles[uid] = p.Role
		if p.LinkedTo != "" {
			ctx.LinkedTo[uid] = p.LinkedTo
		}
	}
	return game.EvaluateWin(ctx)
}

func endGameEvent(cmd types.CommandEnvelope, winner game.Team, reason string) types.Event {
	return newEvent(cmd, "game.ended", map[string]string{"winning_team": string(winner), "reason": reason})
}

// checkMercenaryWin implements the day-1 Mercenary side-win: if the
// Mercenary survives day 1 and their assigned target was the one voted
// out, the Mercenary instantly wins alone; otherwise they are folded
// back into the Villager team for the rest of the game.
func checkMercenaryWin(state State, eliminatedID string) (types.Event, bool) {
	for uid, p := range state.Players {
		if p.Role != game.RoleMercenary || p.State != PlayerAlive {
			continue
		}
		if p.MercenaryTgt != "" && p.MercenaryTgt == eliminatedID {
			return types.Event{
				RoomID: state.RoomID, EventType: "game.ended", ActorUserID: uid,
				Payload:           mustMarshal(map[string]string{"winning_team": string(game.TeamSolo), "reason": "mercenary_day1"}),
				ServerTimestampMs: time.Now().UnixMilli(),
				EventID:           uuid.NewString(),
			}, true
		}
	}
	return types.Event{}, false
}

// phaseChangeEvents implements the transitionTo contract:
// phase-start hooks are emitted as part of the same batch as phase_change
// since HandleCommand is pure and cannot schedule a follow-up itself —
// the room actor enqueues the returned TimerService deadline once these
// events are committed.
func phaseChangeEvents(cmd types.CommandEnvelope, state State, next Phase, now time.Time) []types.Event {
	_, seconds := PhaseDuration(next, state.Config)
	startedAt := now.UnixMilli()
	endsAt := int64(0)
	if seconds > 0 {
		endsAt = now.Add(time.Duration(seconds) * time.Second).UnixMilli()
	}
	events := []types.Event{newEvent(cmd, "phase.changed", map[string]string{
		"phase": string(next), "started_at": itoa(startedAt), "ends_at": itoa(endsAt),
	})}

	switch next {
	case PhaseDayDiscussion:
		for _, d := range state.PendingDeaths {
			events = append(events, newEvent(cmd, "player_died", map[string]string{"user_id": d.PlayerID, "cause": d.Cause}))
		}
	case PhaseDayVoting:
		if state.DayNumber == 1 {
			events = append(events, newEvent(cmd, "vote.mercenary_reminder", nil))
		}
		events = append(events, newEvent(cmd, "vote.started", nil))
	case PhaseNight:
		events = append(events, newEvent(cmd, "night.ability_available", nil))
		if state.DayNumber+1 == 1 {
			for uid, p := range state.Players {
				if p.Role == game.RoleCupid || p.Role == game.RoleHeir {
					events = append(events, newEvent(cmd, "night.first_night_action", map[string]string{"user_id": uid}))
				}
			}
		}
		events = append(events, littleGirlPassiveEvents(cmd, state)...)
	}
	return events
}

// littleGirlPassiveEvents resolves the Little Girl's passive at the start
// of NIGHT_PHASE: with LittleGirlCatchProbability she is caught
// spying on the werewolf channel and dies; otherwise she is granted
// read access to that channel for the night.
func littleGirlPassiveEvents(cmd types.CommandEnvelope, state State) []types.Event {
	for uid, p := range state.Players {
		if p.Role != game.RoleLittleGirl || p.State != PlayerAlive {
			continue
		}
		if rollProbability(state.Config.LittleGirlCatchProbability) {
			localState := state
			deaths := runKill(&localState, uid, game.CauseCaughtSpying)
			return deathEvents(cmd, deaths)
		}
		return []types.Event{newEvent(cmd, "night.spy_access_granted", map[string]string{"user_id": uid})}
	}
	return nil
}

// rollProbability reports true with probability p, sampled from
// crypto/rand the same way role assignment shuffles rather than
// math/rand's seeded PRNG.
func rollProbability(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	const precision = 1_000_000
	threshold := int64(p * precision)
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return false
	}
	return n.Int64() < threshold
}

func newEvent(cmd types.CommandEnvelope, eventType string, payload map[string]string) types.Event {
	b, _ := json.Marshal(payload)
	return types.Event{
		RoomID:            cmd.RoomID,
		Seq:               0,
		EventID:           uuid.NewString(),
		EventType:         eventType,
		ActorUserID:       cmd.ActorUserID,
		CausationCommand:  cmd.CommandID,
		Payload:           b,
		ServerTimestampMs: time.Now().UnixMilli(),
	}
}

func acceptedResult(commandID string) *types.CommandResult {
	return &types.CommandResult{CommandID: commandID, Status: types.StatusAccepted}
}

func mustMarshal(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}
