package game

import "testing"

func TestEvaluateWinDrawWhenNoOneAlive(t *testing.T) {
	ctx := WinCtx{Alive: map[string]bool{}}
	if got := EvaluateWin(ctx); got != TeamDraw {
		t.Errorf("expected a draw with zero alive players, got %q", got)
	}
}

func TestEvaluateWinLoversWinTogether(t *testing.T) {
	ctx := WinCtx{
		Alive: map[string]bool{"a": true, "b": true},
		Roles: map[string]RoleID{"a": RoleVillager, "b": RoleWerewolf},
		LinkedTo: map[string]string{"a": "b", "b": "a"},
	}
	if got := EvaluateWin(ctx); got != TeamVillagers {
		t.Errorf("expected mutually linked lovers to win regardless of team, got %q", got)
	}
}

func TestEvaluateWinLoneWhiteWolfWins(t *testing.T) {
	ctx := WinCtx{
		Alive: map[string]bool{"a": true},
		Roles: map[string]RoleID{"a": RoleWhiteWolf},
	}
	if got := EvaluateWin(ctx); got != TeamSolo {
		t.Errorf("expected lone white wolf to win as solo, got %q", got)
	}
}

func TestEvaluateWinWerewolvesWinOnParity(t *testing.T) {
	ctx := WinCtx{
		Alive: map[string]bool{"w1": true, "w2": true, "v1": true},
		Roles: map[string]RoleID{"w1": RoleWerewolf, "w2": RoleWerewolf, "v1": RoleVillager},
	}
	if got := EvaluateWin(ctx); got != TeamWerewolves {
		t.Errorf("expected werewolves to win once they reach parity, got %q", got)
	}
}

func TestEvaluateWinVillagersWinWhenNoWerewolvesLeft(t *testing.T) {
	ctx := WinCtx{
		Alive: map[string]bool{"v1": true, "v2": true},
		Roles: map[string]RoleID{"v1": RoleVillager, "v2": RoleSeer},
	}
	if got := EvaluateWin(ctx); got != TeamVillagers {
		t.Errorf("expected villagers to win once no werewolves remain, got %q", got)
	}
}

func TestEvaluateWinGameContinues(t *testing.T) {
	ctx := WinCtx{
		Alive: map[string]bool{"w1": true, "v1": true, "v2": true, "v3": true},
		Roles: map[string]RoleID{"w1": RoleWerewolf, "v1": RoleVillager, "v2": RoleVillager, "v3": RoleVillager},
	}
	if got := EvaluateWin(ctx); got != "" {
		t.Errorf("expected game to continue with neither side at parity, got %q", got)
	}
}

func TestEvaluateWinWhiteWolfAliveAmongOthersBlocksVillagerWin(t *testing.T) {
	ctx := WinCtx{
		Alive: map[string]bool{"solo": true, "v1": true},
		Roles: map[string]RoleID{"solo": RoleWhiteWolf, "v1": RoleVillager},
	}
	if got := EvaluateWin(ctx); got != "" {
		t.Errorf("expected a live white wolf alongside another survivor to block the villager win, got %q", got)
	}
}
