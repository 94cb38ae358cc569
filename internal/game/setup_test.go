package game

import "testing"

func samplePlayers(n int) []string {
	players := make([]string, n)
	for i := range players {
		players[i] = string(rune('a' + i))
	}
	return players
}

func TestBuildAssignmentsRejectsOutOfRangePlayerCount(t *testing.T) {
	_, err := BuildAssignments(SetupConfig{PlayerCount: 4}, samplePlayers(4))
	if err == nil {
		t.Fatalf("expected rejection of a 4-player game (below the 5-player minimum)")
	}
	_, err = BuildAssignments(SetupConfig{PlayerCount: 16}, samplePlayers(16))
	if err == nil {
		t.Fatalf("expected rejection of a 16-player game (above the 15-player maximum)")
	}
}

func TestBuildAssignmentsRejectsMismatchedPlayerList(t *testing.T) {
	_, err := BuildAssignments(SetupConfig{PlayerCount: 5}, samplePlayers(6))
	if err == nil {
		t.Fatalf("expected rejection when the player list does not match PlayerCount")
	}
}

func TestBuildAssignmentsAssignsEveryPlayerExactlyOneRole(t *testing.T) {
	players := samplePlayers(9)
	res, err := BuildAssignments(SetupConfig{PlayerCount: 9}, players)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Assignments) != 9 {
		t.Fatalf("expected 9 assignments, got %d", len(res.Assignments))
	}
	for _, p := range players {
		a, ok := res.Assignments[p]
		if !ok {
			t.Fatalf("player %s was not assigned a role", p)
		}
		if _, ok := GetRole(a.Role); !ok {
			t.Errorf("player %s assigned unknown role %s", p, a.Role)
		}
	}
}

func TestBuildAssignmentsCustomRoleDisplacesBaseSlot(t *testing.T) {
	players := samplePlayers(9)
	res, err := BuildAssignments(SetupConfig{PlayerCount: 9, CustomRoles: []RoleID{RoleHeir}}, players)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sawHeir bool
	for _, a := range res.Assignments {
		if a.Role == RoleHeir {
			sawHeir = true
		}
	}
	if !sawHeir {
		t.Fatalf("expected a HEIR to be present after requesting it as a custom role")
	}
}

func TestBuildAssignmentsRejectsCustomRoleWithNoSlotToDisplace(t *testing.T) {
	players := samplePlayers(5)
	// At 5 players the base distribution has no WITCH slot (needs >=7), and
	// WITCH's BaseSlot is itself, so there is nothing to swap it in for.
	_, err := BuildAssignments(SetupConfig{PlayerCount: 5, CustomRoles: []RoleID{RoleWitch}}, players)
	if err == nil {
		t.Fatalf("expected rejection when the custom role has no base slot to displace")
	}
}

func TestBuildAssignmentsMercenaryGetsTargetExcludingSelf(t *testing.T) {
	players := samplePlayers(5)
	res, err := BuildAssignments(SetupConfig{PlayerCount: 5, CustomRoles: []RoleID{RoleMercenary}}, players)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var mercenaryID string
	for id, a := range res.Assignments {
		if a.Role == RoleMercenary {
			mercenaryID = id
		}
	}
	if mercenaryID == "" {
		t.Fatalf("expected a MERCENARY to be present")
	}
	target := res.Assignments[mercenaryID].MercenaryTgt
	if target == "" {
		t.Fatalf("expected the mercenary to have a target")
	}
	if target == mercenaryID {
		t.Errorf("mercenary target must not be itself")
	}
}

func TestBaseDistributionScalesRolesWithPlayerCount(t *testing.T) {
	d5 := BaseDistribution(5)
	if d5[RoleSeer] != 1 {
		t.Errorf("expected a seer at 5 players, got %+v", d5)
	}
	if _, ok := d5[RoleWitch]; ok {
		t.Errorf("did not expect a witch below 7 players, got %+v", d5)
	}

	d13 := BaseDistribution(13)
	for _, role := range []RoleID{RoleSeer, RoleWitch, RoleHunter, RoleGuard, RoleCupid} {
		if d13[role] < 1 {
			t.Errorf("expected a %s at 13 players, got %+v", role, d13)
		}
	}

	total := 0
	for _, c := range d13 {
		total += c
	}
	if total != 13 {
		t.Errorf("expected distribution to sum to player count 13, got %d", total)
	}
}
