package game

import "sort"

// Vote is one player's cast (or changed) DAY_VOTE action. The engine
// upserts these so only the latest vote per voter survives to Tally.
type Vote struct {
	VoterID   string
	TargetID  string // empty = abstain
	CreatedAt int64
}

// TallyContext carries the ability flags Tally needs.
type TallyContext struct {
	Alive     map[string]bool
	MayorVote map[string]bool // userID -> has unconsumable mayor_vote ability
	Positions map[string]int
}

// TallyResult is the outcome of finalizing one day's vote.
type TallyResult struct {
	Eliminated string // empty if no elimination
	Tie        bool
	Counts     map[string]int
}

// Tally sums votes, applies the Mayor double-vote, and resolves the
// elected candidate. Abstentions and null votes never receive
// tally weight but do count toward the "all alive have voted" early
// termination check performed by the caller.
func Tally(ctx TallyContext, votes []Vote) TallyResult {
	counts := map[string]int{}
	for _, v := range votes {
		if v.TargetID == "" {
			continue
		}
		counts[v.TargetID]++
	}
	for _, v := range votes {
		if v.TargetID == "" {
			continue
		}
		if ctx.MayorVote[v.VoterID] {
			counts[v.TargetID]++
		}
	}

	result := TallyResult{Counts: counts}
	if len(counts) == 0 {
		return result
	}

	topVotes := 0
	var candidates []string
	for _, c := range counts {
		if c > topVotes {
			topVotes = c
		}
	}
	if topVotes == 0 {
		return result
	}
	for target, c := range counts {
		if c == topVotes {
			candidates = append(candidates, target)
		}
	}
	sort.Strings(candidates)

	if len(candidates) == 1 {
		result.Eliminated = candidates[0]
		return result
	}

	// Tie: a live Mayor breaks it deterministically by picking the lowest
	// seat position among the tied candidates.
	result.Tie = true
	hasMayor := false
	for voter := range ctx.MayorVote {
		if ctx.Alive[voter] {
			hasMayor = true
			break
		}
	}
	if !hasMayor {
		return result // no elimination
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if ctx.Positions[c] < ctx.Positions[best] {
			best = c
		}
	}
	result.Eliminated = best
	result.Tie = false
	return result
}

// AllVoted reports whether every alive player has cast a vote (including
// explicit abstention), which triggers early termination of DAY_VOTING
// to close voting as soon as it can be, without waiting out the timer.
func AllVoted(alive map[string]bool, votes map[string]Vote) bool {
	for userID, isAlive := range alive {
		if !isAlive {
			continue
		}
		if _, voted := votes[userID]; !voted {
			return false
		}
	}
	return true
}
