package game

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/qingchang/werewolf-core/internal/types"
)

// SetupConfig drives role assignment for one game.
type SetupConfig struct {
	PlayerCount int
	CustomRoles []RoleID // optional roles requested at room creation
}

// Assignment is one player's assigned role and derived ability state.
type Assignment struct {
	UserID       string
	SeatNumber   int
	Role         RoleID
	Team         Team
	MercenaryTgt string // only set on the MERCENARY assignment
}

// SetupResult is the outcome of BuildAssignments.
type SetupResult struct {
	Assignments map[string]Assignment // userID -> Assignment
}

// resolveDistribution swaps custom roles into the base distribution,
// displacing one unit from each custom role's BaseSlot. Returns a
// ValidationError if a custom role has no slot left to displace.
func resolveDistribution(cfg SetupConfig) (Distribution, error) {
	d := BaseDistribution(cfg.PlayerCount)
	for _, roleID := range cfg.CustomRoles {
		role, ok := GetRole(roleID)
		if !ok {
			return nil, types.ValidationError(fmt.Sprintf("unknown custom role %q", roleID))
		}
		if d[role.BaseSlot] < 1 {
			return nil, types.ValidationError(fmt.Sprintf("no %s slot available to swap in %s", role.BaseSlot, roleID))
		}
		d[role.BaseSlot]--
		d[roleID]++
	}
	return d, nil
}

// buildRolePool flattens a Distribution into one role-per-slot slice ready
// for shuffling.
func buildRolePool(d Distribution) []RoleID {
	var pool []RoleID
	for roleID, count := range d {
		for i := 0; i < count; i++ {
			pool = append(pool, roleID)
		}
	}
	return pool
}

// shuffleRoles performs a Fisher-Yates shuffle using crypto/rand so role
// assignment cannot be predicted or biased by a weak PRNG seed.
func shuffleRoles(pool []RoleID) error {
	for i := len(pool) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return err
		}
		pool[i], pool[j] = pool[j], pool[i]
	}
	return nil
}

func randInt(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, types.InternalError("crypto/rand failure during role assignment", err)
	}
	return int(v.Int64()), nil
}

// BuildAssignments assigns roles to players in seat order: validate
// the player count, resolve the distribution (with any custom-role swaps),
// shuffle the pool, deal by seat, then — if a Mercenary is present — pick a
// uniformly random non-Mercenary target.
//
// players must be ordered by seat/position ascending.
func BuildAssignments(cfg SetupConfig, players []string) (*SetupResult, error) {
	if cfg.PlayerCount < 5 || cfg.PlayerCount > 15 {
		return nil, types.ValidationError("player count must be between 5 and 15")
	}
	if len(players) != cfg.PlayerCount {
		return nil, types.ValidationError("player list length does not match configured player count")
	}

	dist, err := resolveDistribution(cfg)
	if err != nil {
		return nil, err
	}
	pool := buildRolePool(dist)
	if len(pool) != cfg.PlayerCount {
		return nil, types.InternalError("role pool size mismatch", fmt.Errorf("pool=%d players=%d", len(pool), cfg.PlayerCount))
	}
	if err := shuffleRoles(pool); err != nil {
		return nil, err
	}

	result := &SetupResult{Assignments: make(map[string]Assignment, cfg.PlayerCount)}
	var mercenaryID string
	for i, userID := range players {
		roleID := pool[i]
		role, _ := GetRole(roleID)
		result.Assignments[userID] = Assignment{
			UserID: userID, SeatNumber: i + 1, Role: roleID, Team: role.Team,
		}
		if roleID == RoleMercenary {
			mercenaryID = userID
		}
	}

	if mercenaryID != "" {
		target, err := pickMercenaryTarget(mercenaryID, players)
		if err != nil {
			return nil, err
		}
		a := result.Assignments[mercenaryID]
		a.MercenaryTgt = target
		result.Assignments[mercenaryID] = a
	}

	return result, nil
}

// pickMercenaryTarget chooses a uniformly random non-Mercenary player as
// the Mercenary's day-1 win target. With a single game Mercenary the
// candidate pool can never be empty because the Mercenary itself is
// always excluded and at least 4 other players exist at the minimum room
// size.
func pickMercenaryTarget(mercenaryID string, players []string) (string, error) {
	var eligible []string
	for _, p := range players {
		if p != mercenaryID {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		return "", types.InternalError("no eligible mercenary target", fmt.Errorf("room too small"))
	}
	idx, err := randInt(len(eligible))
	if err != nil {
		return "", err
	}
	return eligible[idx], nil
}
