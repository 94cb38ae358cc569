package game

import "sort"

// Death causes used across NightResolver, VoteTally and DeathPipeline.
const (
	CauseWerewolfAttack  = "werewolf_attack"
	CauseWhiteWolfDevour = "white_wolf_devour"
	CauseWitchPoison     = "witch_poison"
	CauseGrief           = "grief"
	CauseHunterRevenge   = "hunter_revenge"
	CauseVotedOut        = "voted_out"
	CauseFailedCoup      = "failed_coup"
	CauseCaughtSpying    = "caught_spying"
)

// NightAction is one submitted GameAction restricted to NIGHT_PHASE.
type NightAction struct {
	PerformerID string
	Ability     AbilityType
	TargetID    string
	CreatedAt   int64 // event Seq of the submission; ties broken ascending
}

// NightContext is the minimal slice of Room/Player state the resolver
// needs. It is built fresh from engine.State for each resolution so this
// package stays free of any dependency on internal/engine.
type NightContext struct {
	Roles           map[string]RoleID // userID -> current role
	Alive           map[string]bool
	LastGuardTarget map[string]string // guard userID -> target protected previous night
	WitchHealUsed   map[string]bool
	WitchPoisonUsed map[string]bool
	WhiteWolfUsed   map[string]int64 // userID -> day number last used (0 = never)
	CurrentDay      int64
	Positions       map[string]int // userID -> seat position, for werewolf-vote tie-break
}

// Investigation is the private (and, for the Talkative Seer, next-day
// public) result of a SEER_INVESTIGATE / TALKATIVE_SEER action.
type Investigation struct {
	SeerID     string
	TargetID   string
	TargetRole RoleID
	Talkative  bool
}

// PendingDeath is a death the resolver wants to hand to the DeathPipeline,
// subject to protection/immunity checks at commit time.
type PendingDeath struct {
	PlayerID string
	Cause    string
}

// NightResult is everything the phase-end hook needs to turn into events.
type NightResult struct {
	Deaths         []PendingDeath
	Saved          []string // player_saved: a pending death was protected/healed away
	Protected      map[string]bool
	NewLinks       [][2]string // became_lover pairs
	HeirTargets    map[string]string
	RoleChanges    map[string]RoleID // BLACK_WOLF_CONVERT victims
	Investigations []Investigation
	GuardTargets   map[string]string // this night's guard target, remembered for next night
	ConsumedUses   map[string]AbilityType
	WhiteWolfUsed  map[string]int64
}

func newNightResult() *NightResult {
	return &NightResult{
		Protected:     map[string]bool{},
		HeirTargets:   map[string]string{},
		RoleChanges:   map[string]RoleID{},
		GuardTargets:  map[string]string{},
		ConsumedUses:  map[string]AbilityType{},
		WhiteWolfUsed: map[string]int64{},
	}
}

// groupByAbility buckets actions by ability type, sorted within each bucket
// by CreatedAt ascending.
func groupByAbility(actions []NightAction) map[AbilityType][]NightAction {
	buckets := make(map[AbilityType][]NightAction)
	for _, a := range actions {
		buckets[a.Ability] = append(buckets[a.Ability], a)
	}
	for _, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].CreatedAt < bucket[j].CreatedAt })
	}
	return buckets
}

// ResolveNight runs the strict priority-ordered resolution algorithm over
// one night's committed GameActions. It is a pure function: given the same
// ctx and actions it always produces the same NightResult — a crash between
// resolver start and phase-update completion is recovered by simply
// re-running it.
func ResolveNight(ctx NightContext, actions []NightAction) *NightResult {
	res := newNightResult()
	buckets := groupByAbility(actions)

	var pendingWerewolfTarget string
	var pendingDeaths []PendingDeath
	addPending := func(playerID, cause string) {
		for _, d := range pendingDeaths {
			if d.PlayerID == playerID {
				return
			}
		}
		pendingDeaths = append(pendingDeaths, PendingDeath{PlayerID: playerID, Cause: cause})
	}
	cancelPending := func(playerID string) {
		out := pendingDeaths[:0]
		for _, d := range pendingDeaths {
			if d.PlayerID != playerID {
				out = append(out, d)
			}
		}
		pendingDeaths = out
	}

	// 1. GUARD_PROTECT
	for _, a := range buckets[AbilityGuardProtect] {
		if a.TargetID == a.PerformerID {
			continue // rejected: cannot protect self
		}
		if ctx.LastGuardTarget[a.PerformerID] == a.TargetID {
			continue // rejected: cannot repeat previous night's target
		}
		res.Protected[a.TargetID] = true
		res.GuardTargets[a.PerformerID] = a.TargetID
	}

	// 2. CUPID_LINK (day 1 only)
	if ctx.CurrentDay == 1 {
		for _, a := range buckets[AbilityCupidLink] {
			res.NewLinks = append(res.NewLinks, [2]string{a.PerformerID, a.TargetID})
			res.ConsumedUses[a.PerformerID] = AbilityCupidLink
		}
	}

	// 3. HEIR_CHOOSE (day 1 only)
	if ctx.CurrentDay == 1 {
		for _, a := range buckets[AbilityHeirChoose] {
			res.HeirTargets[a.PerformerID] = a.TargetID
			res.ConsumedUses[a.PerformerID] = AbilityHeirChoose
		}
	}

	// 4. WEREWOLF_VOTE — most-voted target wins; ties broken by lowest seat position.
	if votes := buckets[AbilityWerewolfVote]; len(votes) > 0 {
		tally := map[string]int{}
		for _, a := range votes {
			tally[a.TargetID]++
		}
		top, topCount := "", -1
		for target, count := range tally {
			if count > topCount || (count == topCount && ctx.Positions[target] < ctx.Positions[top]) {
				top, topCount = target, count
			}
		}
		pendingWerewolfTarget = top
		addPending(top, CauseWerewolfAttack)
	}

	// 5. WHITE_WOLF_DEVOUR — requires cooldown >= 2 days since lastUsedDay.
	for _, a := range buckets[AbilityWhiteWolfDevour] {
		last := ctx.WhiteWolfUsed[a.PerformerID]
		if last != 0 && ctx.CurrentDay-last < 2 {
			continue // still on cooldown: no-op, no use consumed
		}
		addPending(a.TargetID, CauseWhiteWolfDevour)
		res.ConsumedUses[a.PerformerID] = AbilityWhiteWolfDevour
		res.WhiteWolfUsed[a.PerformerID] = ctx.CurrentDay
	}

	// 6. BLACK_WOLF_CONVERT — only affects the current werewolf-attack target.
	for _, a := range buckets[AbilityBlackWolfConvert] {
		if pendingWerewolfTarget == "" || a.TargetID != pendingWerewolfTarget {
			continue // no-op: not this night's pack target, no use consumed
		}
		cancelPending(a.TargetID)
		res.RoleChanges[a.TargetID] = RoleWerewolf
		res.ConsumedUses[a.PerformerID] = AbilityBlackWolfConvert
	}

	// 7. WITCH_HEAL — only effective against the werewolf-attack target.
	// The heal potion is a single-use-per-game item: submitting it spends
	// it even if it misses the pack's actual target, unlike
	// BLACK_WOLF_CONVERT above which only spends on a hit.
	for _, a := range buckets[AbilityWitchHeal] {
		if ctx.WitchHealUsed[a.PerformerID] {
			continue
		}
		if pendingWerewolfTarget != "" && a.TargetID == pendingWerewolfTarget {
			res.Protected[a.TargetID] = true
		}
		res.ConsumedUses[a.PerformerID] = AbilityWitchHeal
	}

	// 8. WITCH_POISON
	for _, a := range buckets[AbilityWitchPoison] {
		if ctx.WitchPoisonUsed[a.PerformerID] {
			continue
		}
		addPending(a.TargetID, CauseWitchPoison)
		res.ConsumedUses[a.PerformerID] = AbilityWitchPoison
	}

	// 9. SEER_INVESTIGATE / TALKATIVE_SEER
	for _, a := range buckets[AbilitySeerInvestigate] {
		res.Investigations = append(res.Investigations, Investigation{
			SeerID: a.PerformerID, TargetID: a.TargetID, TargetRole: ctx.Roles[a.TargetID],
		})
	}
	for _, a := range buckets[AbilityTalkativeSeer] {
		res.Investigations = append(res.Investigations, Investigation{
			SeerID: a.PerformerID, TargetID: a.TargetID, TargetRole: ctx.Roles[a.TargetID], Talkative: true,
		})
	}

	// Commit phase: protection and passive immunity filter the pending set.
	for _, d := range pendingDeaths {
		if res.Protected[d.PlayerID] {
			res.Saved = append(res.Saved, d.PlayerID)
			continue
		}
		if passiveImmune(ctx, d.PlayerID, d.Cause) {
			res.Saved = append(res.Saved, d.PlayerID)
			continue
		}
		res.Deaths = append(res.Deaths, d)
	}

	return res
}

// passiveImmune implements the conditional immunities in the glossary:
// RED_RIDING_HOOD is immune to werewolf_attack while a HUNTER is alive;
// BLUE_RIDING_HOOD is immune to werewolf_attack while a basic VILLAGER is
// alive; WOLF_RIDING_HOOD is immune to voted_out while a BLACK_WOLF is
// alive.
func passiveImmune(ctx NightContext, playerID, cause string) bool {
	role := ctx.Roles[playerID]
	switch {
	case role == RoleRedRidingHood && cause == CauseWerewolfAttack:
		return anyAliveWithRole(ctx, RoleHunter)
	case role == RoleBlueRidingHood && cause == CauseWerewolfAttack:
		return anyAliveWithRole(ctx, RoleVillager)
	case role == RoleWolfRidingHood && cause == CauseVotedOut:
		return anyAliveWithRole(ctx, RoleBlackWolf)
	default:
		return false
	}
}

func anyAliveWithRole(ctx NightContext, want RoleID) bool {
	for userID, alive := range ctx.Alive {
		if alive && ctx.Roles[userID] == want {
			return true
		}
	}
	return false
}

// ConditionRoleFor reports which role's death lapses the passive immunity
// `immune`, and against which cause. Used by DeathPipeline to decide
// whether to emit protection_lost after a kill.
func ConditionRoleFor(immune RoleID) (conditionRole RoleID, cause string, ok bool) {
	switch immune {
	case RoleRedRidingHood:
		return RoleHunter, CauseWerewolfAttack, true
	case RoleBlueRidingHood:
		return RoleVillager, CauseWerewolfAttack, true
	case RoleWolfRidingHood:
		return RoleBlackWolf, CauseVotedOut, true
	default:
		return "", "", false
	}
}
