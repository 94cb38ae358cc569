package store

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx, letting IncrementUserStats run
// either standalone (the queue worker's case) or inside a caller's
// transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// GetUserStats returns the win/loss counter for userID, or a zero-value
// UserStats if none has been recorded yet. Account identity itself is
// managed outside this core — userID is trusted as-is.
func (s *Store) GetUserStats(ctx context.Context, userID string) (UserStats, error) {
	if s.MemoryMode {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if st, ok := s.userStats[userID]; ok {
			return st, nil
		}
		return UserStats{UserID: userID}, nil
	}
	row := s.DB.QueryRowContext(ctx, `SELECT user_id,games_played,games_won FROM user_stats WHERE user_id=?`, userID)
	var st UserStats
	if err := row.Scan(&st.UserID, &st.GamesPlayed, &st.GamesWon); err != nil {
		if err == sql.ErrNoRows {
			return UserStats{UserID: userID}, nil
		}
		return UserStats{}, err
	}
	return st, nil
}

// IncrementUserStats bumps games_played for one participant of a finished
// game, and games_won if they were on the winning team. This runs outside
// the room actor's own commit transaction — it is dispatched as a
// best-effort async task (internal/queue) once a "game.ended" event
// commits, so a stats-write hiccup never holds up the room actor's hot
// path. tx may be nil, in which case the Store's own *sql.DB is used.
func (s *Store) IncrementUserStats(ctx context.Context, tx DBTX, userID string, won bool) error {
	if s.MemoryMode {
		s.mu.Lock()
		defer s.mu.Unlock()
		st := s.userStats[userID]
		st.UserID = userID
		st.GamesPlayed++
		if won {
			st.GamesWon++
		}
		s.userStats[userID] = st
		return nil
	}
	if tx == nil {
		tx = s.DB
	}
	won64 := int64(0)
	if won {
		won64 = 1
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO user_stats (user_id,games_played,games_won) VALUES (?,1,?)
		 ON DUPLICATE KEY UPDATE games_played=games_played+1, games_won=games_won+VALUES(games_won)`,
		userID, won64)
	return err
}
