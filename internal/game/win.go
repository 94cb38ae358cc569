package game

// WinCtx is the alive-players slice WinEvaluator checks.
type WinCtx struct {
	Alive    map[string]bool
	Roles    map[string]RoleID
	LinkedTo map[string]string
}

// EvaluateWin returns the first matching team, or "" if the game
// continues.
func EvaluateWin(ctx WinCtx) Team {
	var alive []string
	for userID, isAlive := range ctx.Alive {
		if isAlive {
			alive = append(alive, userID)
		}
	}

	if len(alive) == 0 {
		return TeamDraw
	}

	if len(alive) == 2 {
		a, b := alive[0], alive[1]
		if ctx.LinkedTo[a] == b && ctx.LinkedTo[b] == a {
			return TeamVillagers
		}
	}

	if len(alive) == 1 && ctx.Roles[alive[0]] == RoleWhiteWolf {
		return TeamSolo
	}

	werewolfCount, villagerCount, soloAlive := 0, 0, false
	for _, userID := range alive {
		role := ctx.Roles[userID]
		switch {
		case WerewolfTeamRoles[role]:
			werewolfCount++
		case role == RoleWhiteWolf:
			soloAlive = true
		default:
			villagerCount++
		}
	}

	if werewolfCount > 0 && werewolfCount >= villagerCount && !soloAlive {
		return TeamWerewolves
	}
	if werewolfCount == 0 && !soloAlive {
		return TeamVillagers
	}

	return ""
}
