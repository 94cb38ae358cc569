package store

import (
	"context"
	"database/sql"
)

func (s *Store) CreateRoom(ctx context.Context, r Room) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rooms[r.ID] = r
		if _, ok := s.playersByRoom[r.ID]; !ok {
			s.playersByRoom[r.ID] = make(map[string]Player)
		}
		s.seqCounter[r.ID] = 1
		return nil
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO rooms (id,code,host_user_id,phase,status,day_number,phase_started_at,phase_ends_at,min_players,max_players,night_duration_sec,day_duration_sec,vote_duration_sec,winning_team,end_reason,created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Code, r.HostUserID, r.Phase, r.Status, r.DayNumber, r.PhaseStartedAt, r.PhaseEndsAt,
		r.MinPlayers, r.MaxPlayers, r.NightDurationSec, r.DayDurationSec, r.VoteDurationSec,
		r.WinningTeam, r.EndReason, r.CreatedAt,
	)
	if err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, `INSERT INTO room_sequences (room_id,next_seq) VALUES (?,1) ON DUPLICATE KEY UPDATE next_seq=next_seq`, r.ID)
	return nil
}

func (s *Store) FindRoomByID(ctx context.Context, id string) (*Room, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		r, ok := s.rooms[id]
		if !ok {
			return nil, nil
		}
		return &r, nil
	}
	row := s.DB.QueryRowContext(ctx, roomSelectCols+` FROM rooms WHERE id=?`, id)
	return scanRoom(row)
}

func (s *Store) FindRoomByCode(ctx context.Context, code string) (*Room, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, r := range s.rooms {
			if r.Code == code {
				return &r, nil
			}
		}
		return nil, nil
	}
	row := s.DB.QueryRowContext(ctx, roomSelectCols+` FROM rooms WHERE code=?`, code)
	return scanRoom(row)
}

// ListRoomsInPhase returns every room currently in the named phase — the
// lobby browser's "joinable rooms" query uses phase=LOBBY.
func (s *Store) ListRoomsInPhase(ctx context.Context, phase string) ([]Room, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var res []Room
		for _, r := range s.rooms {
			if r.Phase == phase {
				res = append(res, r)
			}
		}
		return res, nil
	}
	rows, err := s.DB.QueryContext(ctx, roomSelectCols+` FROM rooms WHERE phase=?`, phase)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Room
	for rows.Next() {
		r, err := scanRoomRows(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}
	return res, rows.Err()
}

func (s *Store) UpdateRoom(ctx context.Context, tx *sql.Tx, r Room) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.rooms[r.ID] = r
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE rooms SET code=?,host_user_id=?,phase=?,status=?,day_number=?,phase_started_at=?,phase_ends_at=?,
		 min_players=?,max_players=?,night_duration_sec=?,day_duration_sec=?,vote_duration_sec=?,winning_team=?,end_reason=?
		 WHERE id=?`,
		r.Code, r.HostUserID, r.Phase, r.Status, r.DayNumber, r.PhaseStartedAt, r.PhaseEndsAt,
		r.MinPlayers, r.MaxPlayers, r.NightDurationSec, r.DayDurationSec, r.VoteDurationSec,
		r.WinningTeam, r.EndReason, r.ID,
	)
	return err
}

const roomSelectCols = `SELECT id,code,host_user_id,phase,status,day_number,phase_started_at,phase_ends_at,min_players,max_players,night_duration_sec,day_duration_sec,vote_duration_sec,winning_team,end_reason,created_at`

func scanRoom(row *sql.Row) (*Room, error) {
	var r Room
	if err := row.Scan(&r.ID, &r.Code, &r.HostUserID, &r.Phase, &r.Status, &r.DayNumber, &r.PhaseStartedAt, &r.PhaseEndsAt,
		&r.MinPlayers, &r.MaxPlayers, &r.NightDurationSec, &r.DayDurationSec, &r.VoteDurationSec,
		&r.WinningTeam, &r.EndReason, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func scanRoomRows(rows *sql.Rows) (*Room, error) {
	var r Room
	if err := rows.Scan(&r.ID, &r.Code, &r.HostUserID, &r.Phase, &r.Status, &r.DayNumber, &r.PhaseStartedAt, &r.PhaseEndsAt,
		&r.MinPlayers, &r.MaxPlayers, &r.NightDurationSec, &r.DayDurationSec, &r.VoteDurationSec,
		&r.WinningTeam, &r.EndReason, &r.CreatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreatePlayer(ctx context.Context, tx *sql.Tx, p Player) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.playersByRoom[p.RoomID]; !ok {
			s.playersByRoom[p.RoomID] = make(map[string]Player)
		}
		s.playersByRoom[p.RoomID][p.UserID] = p
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO players (room_id,user_id,name,position,role,state,died_at,died_cause,linked_to,is_revealed,is_host)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.RoomID, p.UserID, p.Name, p.Position, p.Role, p.State, p.DiedAt, p.DiedCause, p.LinkedTo, p.IsRevealed, p.IsHost,
	)
	return err
}

func (s *Store) UpdatePlayer(ctx context.Context, tx *sql.Tx, p Player) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.playersByRoom[p.RoomID]; !ok {
			s.playersByRoom[p.RoomID] = make(map[string]Player)
		}
		s.playersByRoom[p.RoomID][p.UserID] = p
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE players SET name=?,position=?,role=?,state=?,died_at=?,died_cause=?,linked_to=?,is_revealed=?,is_host=?
		 WHERE room_id=? AND user_id=?`,
		p.Name, p.Position, p.Role, p.State, p.DiedAt, p.DiedCause, p.LinkedTo, p.IsRevealed, p.IsHost,
		p.RoomID, p.UserID,
	)
	return err
}

func (s *Store) DeletePlayer(ctx context.Context, tx *sql.Tx, roomID, userID string) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.playersByRoom[roomID], userID)
		return nil
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM players WHERE room_id=? AND user_id=?`, roomID, userID)
	return err
}

func (s *Store) ListPlayers(ctx context.Context, roomID string) ([]Player, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var res []Player
		for _, p := range s.playersByRoom[roomID] {
			res = append(res, p)
		}
		return res, nil
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT room_id,user_id,name,position,role,state,died_at,died_cause,linked_to,is_revealed,is_host FROM players WHERE room_id=?`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Player
	for rows.Next() {
		var p Player
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Name, &p.Position, &p.Role, &p.State, &p.DiedAt, &p.DiedCause, &p.LinkedTo, &p.IsRevealed, &p.IsHost); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpsertAbility writes the latest known state of one player's ability —
// called whenever night.ability_consumed or ability.initialized commits, so
// the relational projection matches engine.State.Abilities without a replay.
func (s *Store) UpsertAbility(ctx context.Context, tx *sql.Tx, a Ability) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.abilitiesByRoom[a.RoomID]; !ok {
			s.abilitiesByRoom[a.RoomID] = make(map[string]map[string]Ability)
		}
		if _, ok := s.abilitiesByRoom[a.RoomID][a.PlayerID]; !ok {
			s.abilitiesByRoom[a.RoomID][a.PlayerID] = make(map[string]Ability)
		}
		s.abilitiesByRoom[a.RoomID][a.PlayerID][a.AbilityType] = a
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO abilities (room_id,player_id,ability_type,uses_left,max_uses,cooldown_days,last_used_day)
		 VALUES (?,?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE uses_left=VALUES(uses_left),last_used_day=VALUES(last_used_day)`,
		a.RoomID, a.PlayerID, a.AbilityType, a.UsesLeft, a.MaxUses, a.CooldownDays, a.LastUsedDay,
	)
	return err
}

func (s *Store) FindAbility(ctx context.Context, roomID, playerID, abilityType string) (*Ability, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		a, ok := s.abilitiesByRoom[roomID][playerID][abilityType]
		if !ok {
			return nil, nil
		}
		return &a, nil
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT room_id,player_id,ability_type,uses_left,max_uses,cooldown_days,last_used_day FROM abilities WHERE room_id=? AND player_id=? AND ability_type=?`,
		roomID, playerID, abilityType)
	var a Ability
	if err := row.Scan(&a.RoomID, &a.PlayerID, &a.AbilityType, &a.UsesLeft, &a.MaxUses, &a.CooldownDays, &a.LastUsedDay); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func actionUpsertKey(a GameAction) string {
	return a.PerformerID + "|" + a.ActionType + "|" + a.Phase + "|" + itoa64(a.DayNumber)
}

func itoa64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// UpsertAction records the latest submission for (performer, action type,
// phase, day) — matching the night-action and vote "latest submission wins"
// semantics the engine itself already enforces on State.Actions.
func (s *Store) UpsertAction(ctx context.Context, tx *sql.Tx, a GameAction) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.actionsByRoom[a.RoomID]; !ok {
			s.actionsByRoom[a.RoomID] = make(map[string]GameAction)
		}
		s.actionsByRoom[a.RoomID][actionUpsertKey(a)] = a
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO game_actions (room_id,performer_id,action_type,day_number,phase,target_id,created_at)
		 VALUES (?,?,?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE target_id=VALUES(target_id),created_at=VALUES(created_at)`,
		a.RoomID, a.PerformerID, a.ActionType, a.DayNumber, a.Phase, a.TargetID, a.CreatedAt,
	)
	return err
}

// FindActions returns every GameAction in roomID matching the non-zero
// fields of f.
func (s *Store) FindActions(ctx context.Context, f ActionFilter) ([]GameAction, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var res []GameAction
		for _, a := range s.actionsByRoom[f.RoomID] {
			if f.PerformerID != "" && a.PerformerID != f.PerformerID {
				continue
			}
			if f.ActionType != "" && a.ActionType != f.ActionType {
				continue
			}
			if f.Phase != "" && a.Phase != f.Phase {
				continue
			}
			if f.DayNumber != 0 && a.DayNumber != f.DayNumber {
				continue
			}
			res = append(res, a)
		}
		return res, nil
	}
	query := `SELECT room_id,performer_id,action_type,day_number,phase,target_id,created_at FROM game_actions WHERE room_id=?`
	args := []interface{}{f.RoomID}
	if f.PerformerID != "" {
		query += ` AND performer_id=?`
		args = append(args, f.PerformerID)
	}
	if f.ActionType != "" {
		query += ` AND action_type=?`
		args = append(args, f.ActionType)
	}
	if f.Phase != "" {
		query += ` AND phase=?`
		args = append(args, f.Phase)
	}
	if f.DayNumber != 0 {
		query += ` AND day_number=?`
		args = append(args, f.DayNumber)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []GameAction
	for rows.Next() {
		var a GameAction
		if err := rows.Scan(&a.RoomID, &a.PerformerID, &a.ActionType, &a.DayNumber, &a.Phase, &a.TargetID, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// WithRoomTransaction runs fn inside a transaction scoped to one room's
// write path — event append, relational projection upserts (rooms,
// players, abilities, actions) and the dedup/snapshot writes all commit
// together or not at all.
func (s *Store) WithRoomTransaction(ctx context.Context, roomID string, fn func(tx *sql.Tx) error) error {
	return s.WithTx(ctx, fn)
}
