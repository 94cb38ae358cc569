package game

import "testing"

func baseCtx() NightContext {
	return NightContext{
		Roles: map[string]RoleID{
			"wolf1": RoleWerewolf, "wolf2": RoleWerewolf,
			"guard": RoleGuard, "witch": RoleWitch, "seer": RoleSeer,
			"villager1": RoleVillager, "villager2": RoleVillager,
		},
		Alive: map[string]bool{
			"wolf1": true, "wolf2": true, "guard": true, "witch": true,
			"seer": true, "villager1": true, "villager2": true,
		},
		LastGuardTarget: map[string]string{},
		WitchHealUsed:   map[string]bool{},
		WitchPoisonUsed: map[string]bool{},
		WhiteWolfUsed:   map[string]int64{},
		CurrentDay:      2,
		Positions:       map[string]int{"villager1": 1, "villager2": 2},
	}
}

func TestResolveNightWerewolfVoteMajority(t *testing.T) {
	ctx := baseCtx()
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 1},
		{PerformerID: "wolf2", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager1" {
		t.Fatalf("expected villager1 to die, got %+v", res.Deaths)
	}
	if res.Deaths[0].Cause != CauseWerewolfAttack {
		t.Errorf("expected cause %s, got %s", CauseWerewolfAttack, res.Deaths[0].Cause)
	}
}

func TestResolveNightWerewolfVoteTieBreaksOnSeatPosition(t *testing.T) {
	ctx := baseCtx()
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager2", CreatedAt: 1},
		{PerformerID: "wolf2", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager1" {
		t.Fatalf("expected lowest-seat villager1 to win the tie, got %+v", res.Deaths)
	}
}

func TestResolveNightGuardProtectSavesTarget(t *testing.T) {
	ctx := baseCtx()
	actions := []NightAction{
		{PerformerID: "guard", Ability: AbilityGuardProtect, TargetID: "villager1", CreatedAt: 1},
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 0 {
		t.Fatalf("expected no deaths, got %+v", res.Deaths)
	}
	if len(res.Saved) != 1 || res.Saved[0] != "villager1" {
		t.Errorf("expected villager1 to be recorded as saved, got %+v", res.Saved)
	}
	if res.GuardTargets["guard"] != "villager1" {
		t.Errorf("expected guard target remembered for next night")
	}
}

func TestResolveNightGuardCannotProtectSelfOrRepeatTarget(t *testing.T) {
	ctx := baseCtx()
	ctx.LastGuardTarget["guard"] = "villager1"
	actions := []NightAction{
		{PerformerID: "guard", Ability: AbilityGuardProtect, TargetID: "guard", CreatedAt: 1},
		{PerformerID: "guard", Ability: AbilityGuardProtect, TargetID: "villager1", CreatedAt: 2},
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 3},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager1" {
		t.Fatalf("expected villager1 to die since neither guard action should take effect, got %+v", res.Deaths)
	}
}

func TestResolveNightWitchHealOnlyAffectsWerewolfTarget(t *testing.T) {
	ctx := baseCtx()
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 1},
		{PerformerID: "witch", Ability: AbilityWitchHeal, TargetID: "villager1", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 0 {
		t.Fatalf("expected witch heal to save the werewolf target, got %+v", res.Deaths)
	}
	if res.ConsumedUses["witch"] != AbilityWitchHeal {
		t.Errorf("expected witch heal use to be consumed")
	}
}

func TestResolveNightWitchHealIgnoredWhenAlreadyUsed(t *testing.T) {
	ctx := baseCtx()
	ctx.WitchHealUsed["witch"] = true
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 1},
		{PerformerID: "witch", Ability: AbilityWitchHeal, TargetID: "villager1", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager1" {
		t.Fatalf("expected heal to be a no-op once used, villager1 should die, got %+v", res.Deaths)
	}
}

func TestResolveNightWitchPoisonIsIndependentDeath(t *testing.T) {
	ctx := baseCtx()
	actions := []NightAction{
		{PerformerID: "witch", Ability: AbilityWitchPoison, TargetID: "villager2", CreatedAt: 1},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager2" || res.Deaths[0].Cause != CauseWitchPoison {
		t.Fatalf("expected villager2 poisoned, got %+v", res.Deaths)
	}
}

func TestResolveNightBlackWolfConvertOnlyAffectsPackTarget(t *testing.T) {
	ctx := baseCtx()
	ctx.Roles["wolf2"] = RoleBlackWolf
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 1},
		{PerformerID: "wolf2", Ability: AbilityBlackWolfConvert, TargetID: "villager2", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager1" {
		t.Fatalf("expected villager1 (pack target) to still die, got %+v", res.Deaths)
	}
	if len(res.RoleChanges) != 0 {
		t.Errorf("expected no conversion since villager2 was not the pack target, got %+v", res.RoleChanges)
	}
}

func TestResolveNightBlackWolfConvertCancelsPackDeath(t *testing.T) {
	ctx := baseCtx()
	ctx.Roles["wolf2"] = RoleBlackWolf
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 1},
		{PerformerID: "wolf2", Ability: AbilityBlackWolfConvert, TargetID: "villager1", CreatedAt: 2},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 0 {
		t.Fatalf("expected conversion to cancel the pending death, got %+v", res.Deaths)
	}
	if res.RoleChanges["villager1"] != RoleWerewolf {
		t.Errorf("expected villager1 converted to werewolf, got %+v", res.RoleChanges)
	}
}

func TestResolveNightWhiteWolfCooldown(t *testing.T) {
	ctx := baseCtx()
	ctx.Roles["seer"] = RoleWhiteWolf
	ctx.WhiteWolfUsed["seer"] = 1
	ctx.CurrentDay = 2
	actions := []NightAction{
		{PerformerID: "seer", Ability: AbilityWhiteWolfDevour, TargetID: "villager1", CreatedAt: 1},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 0 {
		t.Fatalf("expected devour blocked by cooldown (used day 1, now day 2), got %+v", res.Deaths)
	}

	ctx.CurrentDay = 3
	res = ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].Cause != CauseWhiteWolfDevour {
		t.Fatalf("expected devour to succeed once cooldown elapsed, got %+v", res.Deaths)
	}
}

func TestResolveNightCupidAndHeirOnlyFirstNight(t *testing.T) {
	ctx := baseCtx()
	ctx.CurrentDay = 1
	actions := []NightAction{
		{PerformerID: "guard", Ability: AbilityCupidLink, TargetID: "witch", CreatedAt: 1},
		{PerformerID: "seer", Ability: AbilityHeirChoose, TargetID: "villager1", CreatedAt: 1},
	}
	res := ResolveNight(ctx, actions)
	if len(res.NewLinks) != 1 || res.NewLinks[0] != ([2]string{"guard", "witch"}) {
		t.Fatalf("expected guard/witch linked, got %+v", res.NewLinks)
	}
	if res.HeirTargets["seer"] != "villager1" {
		t.Errorf("expected heir target recorded, got %+v", res.HeirTargets)
	}

	ctx.CurrentDay = 2
	res = ResolveNight(ctx, actions)
	if len(res.NewLinks) != 0 || len(res.HeirTargets) != 0 {
		t.Fatalf("expected cupid/heir to be no-ops after night 1, got links=%+v heirs=%+v", res.NewLinks, res.HeirTargets)
	}
}

func TestResolveNightSeerInvestigationRecorded(t *testing.T) {
	ctx := baseCtx()
	actions := []NightAction{
		{PerformerID: "seer", Ability: AbilitySeerInvestigate, TargetID: "wolf1", CreatedAt: 1},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Investigations) != 1 || res.Investigations[0].TargetRole != RoleWerewolf {
		t.Fatalf("expected seer to learn wolf1 is a werewolf, got %+v", res.Investigations)
	}
	if res.Investigations[0].Talkative {
		t.Errorf("plain seer investigation should not be talkative")
	}
}

func TestPassiveImmunityRedRidingHoodWhileHunterAlive(t *testing.T) {
	ctx := baseCtx()
	ctx.Roles["villager1"] = RoleRedRidingHood
	ctx.Roles["villager2"] = RoleHunter
	actions := []NightAction{
		{PerformerID: "wolf1", Ability: AbilityWerewolfVote, TargetID: "villager1", CreatedAt: 1},
	}
	res := ResolveNight(ctx, actions)
	if len(res.Deaths) != 0 {
		t.Fatalf("expected red riding hood immune while a hunter is alive, got %+v", res.Deaths)
	}
	if len(res.Saved) != 1 || res.Saved[0] != "villager1" {
		t.Errorf("expected villager1 recorded as saved via passive immunity")
	}

	ctx.Alive["villager2"] = false
	res = ResolveNight(ctx, actions)
	if len(res.Deaths) != 1 || res.Deaths[0].PlayerID != "villager1" {
		t.Fatalf("expected immunity to lapse once the hunter dies, got %+v", res.Deaths)
	}
}

func TestConditionRoleForMapsImmunityLapse(t *testing.T) {
	role, cause, ok := ConditionRoleFor(RoleWolfRidingHood)
	if !ok || role != RoleBlackWolf || cause != CauseVotedOut {
		t.Fatalf("expected wolf riding hood immunity to lapse on black wolf death, got role=%s cause=%s ok=%v", role, cause, ok)
	}
	if _, _, ok := ConditionRoleFor(RoleVillager); ok {
		t.Errorf("expected no conditional immunity for a plain villager")
	}
}
