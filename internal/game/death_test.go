package game

import "testing"

func baseDeathCtx() *DeathCtx {
	return &DeathCtx{
		Alive: map[string]bool{
			"a": true, "b": true, "c": true, "d": true,
		},
		Roles: map[string]RoleID{
			"a": RoleVillager, "b": RoleVillager, "c": RoleHunter, "d": RoleVillager,
		},
		LinkedTo:    map[string]string{},
		HeirTarget:  map[string]string{},
		IsFirstKill: true,
	}
}

func TestKillSimpleDeath(t *testing.T) {
	ctx := baseDeathCtx()
	steps := Kill(ctx, "a", CauseWerewolfAttack)
	if len(steps) == 0 || steps[0].Kind != EventPlayerDied || steps[0].PlayerID != "a" {
		t.Fatalf("expected a player_died step for a, got %+v", steps)
	}
}

func TestKillAlreadyDeadIsNoop(t *testing.T) {
	ctx := baseDeathCtx()
	ctx.Alive["a"] = false
	steps := Kill(ctx, "a", CauseWerewolfAttack)
	if len(steps) != 0 {
		t.Fatalf("expected no steps for an already-dead player, got %+v", steps)
	}
}

func TestKillLoversGriefChain(t *testing.T) {
	ctx := baseDeathCtx()
	ctx.LinkedTo["a"] = "b"
	ctx.LinkedTo["b"] = "a"
	steps := Kill(ctx, "a", CauseWerewolfAttack)

	var sawA, sawBGrief bool
	for _, s := range steps {
		if s.Kind == EventPlayerDied && s.PlayerID == "a" {
			sawA = true
		}
		if s.Kind == EventPlayerDied && s.PlayerID == "b" && s.Cause == CauseGrief {
			sawBGrief = true
		}
	}
	if !sawA || !sawBGrief {
		t.Fatalf("expected both lovers to die, a directly and b from grief, got %+v", steps)
	}
}

func TestKillHeirInheritance(t *testing.T) {
	ctx := baseDeathCtx()
	ctx.HeirTarget["d"] = "a" // d is the heir, a is the testator
	steps := Kill(ctx, "a", CauseWerewolfAttack)

	var inherited bool
	for _, s := range steps {
		if s.Kind == EventRoleInherited && s.PlayerID == "d" {
			inherited = true
		}
	}
	if !inherited {
		t.Fatalf("expected d to inherit a's role, got %+v", steps)
	}
}

func TestKillPlundererOnlyOnFirstDeath(t *testing.T) {
	ctx := baseDeathCtx()
	ctx.Roles["d"] = RolePlunderer
	ctx.IsFirstKill = true
	steps := Kill(ctx, "a", CauseWerewolfAttack)

	var stole bool
	for _, s := range steps {
		if s.Kind == EventRoleStolen {
			stole = true
		}
	}
	if !stole {
		t.Fatalf("expected plunderer to steal the role on the first death of the game, got %+v", steps)
	}

	ctx2 := baseDeathCtx()
	ctx2.Roles["d"] = RolePlunderer
	ctx2.IsFirstKill = false
	steps2 := Kill(ctx2, "a", CauseWerewolfAttack)
	for _, s := range steps2 {
		if s.Kind == EventRoleStolen {
			t.Fatalf("expected no plunderer theft on a later death, got %+v", steps2)
		}
	}
}

func TestKillRidingHoodProtectionLapse(t *testing.T) {
	ctx := baseDeathCtx()
	ctx.Roles["a"] = RoleRedRidingHood
	ctx.Roles["c"] = RoleHunter

	steps := Kill(ctx, "c", CauseWerewolfAttack)

	var lapsed bool
	for _, s := range steps {
		if s.Kind == EventProtectionLost && s.PlayerID == "a" {
			lapsed = true
		}
	}
	if !lapsed {
		t.Fatalf("expected red riding hood's protection-lapse step once the hunter dies, got %+v", steps)
	}
}
