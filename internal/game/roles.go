// Package game implements the role catalog, role assignment, night
// resolution, vote tallying, death cascade and win evaluation that make up
// the werewolf rules engine consumed by internal/engine.
package game

// Team is one of the three victory factions named in the glossary, plus
// the no-survivors draw outcome.
type Team string

const (
	TeamVillagers  Team = "VILLAGERS"
	TeamWerewolves Team = "WEREWOLVES"
	TeamSolo       Team = "SOLO"
	TeamDraw       Team = "DRAW"
)

// AbilityType is the closed set of night/day action kinds a role can submit
// or receive. The NightResolver dispatches on these in strict priority
// order; it is a single switch, not a hierarchy of role subtypes.
type AbilityType string

const (
	AbilityGuardProtect     AbilityType = "GUARD_PROTECT"
	AbilityCupidLink        AbilityType = "CUPID_LINK"
	AbilityHeirChoose       AbilityType = "HEIR_CHOOSE"
	AbilityWerewolfVote     AbilityType = "WEREWOLF_VOTE"
	AbilityWhiteWolfDevour  AbilityType = "WHITE_WOLF_DEVOUR"
	AbilityBlackWolfConvert AbilityType = "BLACK_WOLF_CONVERT"
	AbilityWitchHeal        AbilityType = "WITCH_HEAL"
	AbilityWitchPoison      AbilityType = "WITCH_POISON"
	AbilitySeerInvestigate  AbilityType = "SEER_INVESTIGATE"
	AbilityTalkativeSeer    AbilityType = "TALKATIVE_SEER"
	AbilityHunterShoot      AbilityType = "HUNTER_SHOOT"
	AbilityDictatorCoup     AbilityType = "DICTATOR_COUP"
	AbilityMayorVote        AbilityType = "MAYOR_VOTE" // granted passively, never submitted
)

// NightPriority is the strict resolution order. Index in this
// slice is tie-break precedence across ability types; within one entry,
// ties are broken by the action's CreatedAt ascending.
var NightPriority = []AbilityType{
	AbilityGuardProtect,
	AbilityCupidLink,
	AbilityHeirChoose,
	AbilityWerewolfVote,
	AbilityWhiteWolfDevour,
	AbilityBlackWolfConvert,
	AbilityWitchHeal,
	AbilityWitchPoison,
	AbilitySeerInvestigate,
	AbilityTalkativeSeer,
}

// RoleID identifies a role definition in the catalog.
type RoleID string

const (
	RoleVillager       RoleID = "VILLAGER"
	RoleSeer           RoleID = "SEER"
	RoleTalkativeSeer  RoleID = "TALKATIVE_SEER"
	RoleWitch          RoleID = "WITCH"
	RoleGuard          RoleID = "GUARD"
	RoleCupid          RoleID = "CUPID"
	RoleHeir           RoleID = "HEIR"
	RoleHunter         RoleID = "HUNTER"
	RoleWerewolf       RoleID = "WEREWOLF"
	RoleBlackWolf      RoleID = "BLACK_WOLF"
	RoleWolfRidingHood RoleID = "WOLF_RIDING_HOOD"
	RoleWhiteWolf      RoleID = "WHITE_WOLF"
	RoleMercenary      RoleID = "MERCENARY"
	RoleDictator       RoleID = "DICTATOR"
	RoleRedRidingHood  RoleID = "RED_RIDING_HOOD"
	RoleBlueRidingHood RoleID = "BLUE_RIDING_HOOD"
	RolePlunderer      RoleID = "PLUNDERER"
	RoleLittleGirl     RoleID = "LITTLE_GIRL"
)

// Role is a catalog entry: its team, the abilities it holds (night
// actions as well as day and passive ones), and the base-distribution slot it displaces when selected
// as a custom/optional role at room creation.
type Role struct {
	ID             RoleID
	Team           Team
	NightCapable   bool
	FirstNightOnly bool // CUPID, HEIR: day-1 only
	Abilities      []AbilityType
	MaxUses        int // 0 = unlimited for the life of the game
	CooldownDays   int // WHITE_WOLF_DEVOUR: 2
	BaseSlot       RoleID
}

// Catalog is every role this implementation knows how to assign and
// resolve. New roles are added here and to the NightResolver switch; no
// role gets its own subclass.
var Catalog = map[RoleID]Role{
	RoleVillager: {ID: RoleVillager, Team: TeamVillagers},
	RoleSeer: {
		ID: RoleSeer, Team: TeamVillagers, NightCapable: true,
		Abilities: []AbilityType{AbilitySeerInvestigate}, BaseSlot: RoleSeer,
	},
	RoleTalkativeSeer: {
		ID: RoleTalkativeSeer, Team: TeamVillagers, NightCapable: true,
		Abilities: []AbilityType{AbilityTalkativeSeer}, BaseSlot: RoleSeer,
	},
	RoleWitch: {
		ID: RoleWitch, Team: TeamVillagers, NightCapable: true,
		Abilities: []AbilityType{AbilityWitchHeal, AbilityWitchPoison},
		MaxUses:   1, BaseSlot: RoleWitch,
	},
	RoleGuard: {
		ID: RoleGuard, Team: TeamVillagers, NightCapable: true,
		Abilities: []AbilityType{AbilityGuardProtect}, BaseSlot: RoleGuard,
	},
	RoleCupid: {
		ID: RoleCupid, Team: TeamVillagers, NightCapable: true, FirstNightOnly: true,
		Abilities: []AbilityType{AbilityCupidLink}, MaxUses: 1, BaseSlot: RoleCupid,
	},
	RoleHeir: {
		ID: RoleHeir, Team: TeamVillagers, NightCapable: true, FirstNightOnly: true,
		Abilities: []AbilityType{AbilityHeirChoose}, MaxUses: 1, BaseSlot: RoleVillager,
	},
	RoleHunter: {
		ID: RoleHunter, Team: TeamVillagers,
		Abilities: []AbilityType{AbilityHunterShoot}, MaxUses: 1, BaseSlot: RoleHunter,
	},
	RoleWerewolf: {
		ID: RoleWerewolf, Team: TeamWerewolves, NightCapable: true,
		Abilities: []AbilityType{AbilityWerewolfVote}, BaseSlot: RoleWerewolf,
	},
	RoleBlackWolf: {
		ID: RoleBlackWolf, Team: TeamWerewolves, NightCapable: true,
		Abilities: []AbilityType{AbilityWerewolfVote, AbilityBlackWolfConvert},
		MaxUses:   1, BaseSlot: RoleWerewolf,
	},
	RoleWolfRidingHood: {
		ID: RoleWolfRidingHood, Team: TeamWerewolves, NightCapable: true,
		Abilities: []AbilityType{AbilityWerewolfVote}, BaseSlot: RoleWerewolf,
	},
	RoleWhiteWolf: {
		ID: RoleWhiteWolf, Team: TeamSolo, NightCapable: true,
		Abilities: []AbilityType{AbilityWhiteWolfDevour}, CooldownDays: 2,
		BaseSlot: RoleVillager,
	},
	RoleMercenary: {ID: RoleMercenary, Team: TeamSolo, BaseSlot: RoleVillager},
	RoleDictator: {
		ID: RoleDictator, Team: TeamVillagers,
		Abilities: []AbilityType{AbilityDictatorCoup, AbilityMayorVote}, MaxUses: 1,
		BaseSlot: RoleVillager,
	},
	RoleRedRidingHood:  {ID: RoleRedRidingHood, Team: TeamVillagers, BaseSlot: RoleVillager},
	RoleBlueRidingHood: {ID: RoleBlueRidingHood, Team: TeamVillagers, BaseSlot: RoleVillager},
	RolePlunderer:      {ID: RolePlunderer, Team: TeamVillagers, BaseSlot: RoleVillager},
	RoleLittleGirl:     {ID: RoleLittleGirl, Team: TeamVillagers, BaseSlot: RoleVillager},
}

// WerewolfTeamRoles is the werewolf team named in the glossary.
var WerewolfTeamRoles = map[RoleID]bool{
	RoleWerewolf:       true,
	RoleBlackWolf:      true,
	RoleWolfRidingHood: true,
}

// GetRole looks up a catalog entry.
func GetRole(id RoleID) (Role, bool) {
	r, ok := Catalog[id]
	return r, ok
}

// Distribution is a role-count breakdown for a given player count.
type Distribution map[RoleID]int

// BaseDistribution computes the baseline distribution for n players from
// a fallback formula, applied uniformly across the supported player-count
// range (see DESIGN.md).
func BaseDistribution(n int) Distribution {
	werewolves := n / 4
	if werewolves < 1 {
		werewolves = 1
	}
	d := Distribution{RoleWerewolf: werewolves}
	used := werewolves
	if n >= 5 {
		d[RoleSeer] = 1
		used++
	}
	if n >= 7 {
		d[RoleWitch] = 1
		used++
	}
	if n >= 9 {
		d[RoleHunter] = 1
		used++
	}
	if n >= 11 {
		d[RoleGuard] = 1
		used++
	}
	if n >= 13 {
		d[RoleCupid] = 1
		used++
	}
	if rest := n - used; rest > 0 {
		d[RoleVillager] = rest
	}
	return d
}
