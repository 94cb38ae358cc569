package game

import "testing"

func TestTallySimpleMajority(t *testing.T) {
	ctx := TallyContext{Alive: map[string]bool{"a": true, "b": true, "c": true}}
	votes := []Vote{
		{VoterID: "a", TargetID: "c", CreatedAt: 1},
		{VoterID: "b", TargetID: "c", CreatedAt: 2},
	}
	res := Tally(ctx, votes)
	if res.Eliminated != "c" || res.Tie {
		t.Fatalf("expected c eliminated with no tie, got %+v", res)
	}
}

func TestTallyAbstentionsDoNotCount(t *testing.T) {
	ctx := TallyContext{Alive: map[string]bool{"a": true, "b": true}}
	votes := []Vote{
		{VoterID: "a", TargetID: ""},
		{VoterID: "b", TargetID: "a"},
	}
	res := Tally(ctx, votes)
	if res.Eliminated != "a" {
		t.Fatalf("expected a eliminated, abstention should not contribute tally weight, got %+v", res)
	}
}

func TestTallyMayorDoubleVote(t *testing.T) {
	ctx := TallyContext{
		Alive:     map[string]bool{"mayor": true, "b": true, "c": true},
		MayorVote: map[string]bool{"mayor": true},
	}
	votes := []Vote{
		{VoterID: "mayor", TargetID: "c"},
		{VoterID: "b", TargetID: "c"},
	}
	res := Tally(ctx, votes)
	if res.Counts["c"] != 3 {
		t.Fatalf("expected mayor's vote to count twice (2+1=3), got counts=%+v", res.Counts)
	}
	if res.Eliminated != "c" {
		t.Errorf("expected c eliminated, got %+v", res)
	}
}

func TestTallyTieResolvedByMayorSeatPosition(t *testing.T) {
	ctx := TallyContext{
		Alive:     map[string]bool{"mayor": true, "x": true, "y": true},
		MayorVote: map[string]bool{"mayor": true},
		Positions: map[string]int{"x": 3, "y": 1},
	}
	votes := []Vote{
		{VoterID: "mayor", TargetID: ""}, // mayor abstains, still breaks the tie by being alive
		{VoterID: "x", TargetID: "y"},
		{VoterID: "y", TargetID: "x"},
	}
	res := Tally(ctx, votes)
	if res.Tie {
		t.Errorf("expected the mayor to resolve the tie, not leave it marked as a tie")
	}
	if res.Eliminated != "y" {
		t.Fatalf("expected lowest-seat candidate y eliminated, got %+v", res)
	}
}

func TestTallyTieWithNoLiveMayorEliminatesNoOne(t *testing.T) {
	ctx := TallyContext{
		Alive: map[string]bool{"x": true, "y": true},
	}
	votes := []Vote{
		{VoterID: "x", TargetID: "y"},
		{VoterID: "y", TargetID: "x"},
	}
	res := Tally(ctx, votes)
	if res.Eliminated != "" {
		t.Fatalf("expected no elimination on an unresolved tie, got %+v", res)
	}
	if !res.Tie {
		t.Errorf("expected Tie to be reported")
	}
}

func TestAllVotedRequiresEveryAlivePlayer(t *testing.T) {
	alive := map[string]bool{"a": true, "b": true, "c": false}
	votes := map[string]Vote{"a": {VoterID: "a", TargetID: "b"}}
	if AllVoted(alive, votes) {
		t.Fatalf("expected false since b has not voted")
	}
	votes["b"] = Vote{VoterID: "b", TargetID: ""}
	if !AllVoted(alive, votes) {
		t.Fatalf("expected true once every alive player has voted, including abstentions")
	}
}
