// Package timer is a durable phase-deadline scheduler: a globally
// sorted-by-deadline queue backed by a Redis sorted set, so a missed
// deadline survives a process restart instead of being lost with
// in-memory state.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const timerSetKey = "werewolf:phase_timers"

// Callback fires once per expired room, with the deadline that elapsed.
// The caller is expected to translate this into a "phase:timeout"
// command dispatched to that room's actor.
type Callback func(ctx context.Context, roomID string, deadlineMs int64)

// Service polls a Redis sorted set (member=roomID, score=deadline in
// unix millis) and invokes Callback for every entry whose deadline has
// passed.
type Service struct {
	rdb      *redis.Client
	logger   *zap.Logger
	interval time.Duration
	onFire   Callback
}

// New constructs a Service against an already-connected Redis client.
// interval bounds how stale a fired timer can be; the dispatcher loop
// wakes at least once per second.
func New(rdb *redis.Client, logger *zap.Logger, interval time.Duration, onFire Callback) *Service {
	if interval <= 0 || interval > time.Second {
		interval = time.Second
	}
	return &Service{rdb: rdb, logger: logger, interval: interval, onFire: onFire}
}

// Schedule overwrites any existing deadline for roomID — a room has at
// most one outstanding timer at a time, matching transitionTo's "clear
// the prior timer" step.
func (s *Service) Schedule(ctx context.Context, roomID string, deadlineMs int64) error {
	if deadlineMs <= 0 {
		return s.Cancel(ctx, roomID)
	}
	return s.rdb.ZAdd(ctx, timerSetKey, redis.Z{Score: float64(deadlineMs), Member: roomID}).Err()
}

// Cancel removes roomID's outstanding timer, if any.
func (s *Service) Cancel(ctx context.Context, roomID string) error {
	return s.rdb.ZRem(ctx, timerSetKey, roomID).Err()
}

// Run drives the dispatch loop until ctx is cancelled. It also drains
// any deadlines that already elapsed while the process was down, which
// is the point of backing this with Redis rather than an in-memory heap.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.drainExpired(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.drainExpired(ctx)
		}
	}
}

func (s *Service) drainExpired(ctx context.Context) {
	now := time.Now().UnixMilli()
	results, err := s.rdb.ZRangeByScoreWithScores(ctx, timerSetKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		s.logger.Error("timer: scan expired deadlines", zap.Error(err))
		return
	}
	for _, z := range results {
		roomID, ok := z.Member.(string)
		if !ok {
			continue
		}
		// Remove before firing: if onFire reschedules (the next phase is
		// also timed), the new deadline must not be clobbered by a
		// late-arriving remove of the old one.
		removed, err := s.rdb.ZRem(ctx, timerSetKey, roomID).Result()
		if err != nil || removed == 0 {
			continue // another dispatcher instance already claimed this room
		}
		deadlineMs := int64(z.Score)
		s.logger.Debug("timer fired", zap.String("room_id", roomID), zap.Int64("lag_ms", now-deadlineMs))
		s.onFire(ctx, roomID, deadlineMs)
	}
}
