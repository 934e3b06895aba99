package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/eleven-am/product-lens/internal/detection"
	"github.com/redis/go-redis/v9"
)

const maxHistoryEntries = 500

// HistoryStore keeps the recent live prediction sets of each stream session
// in a sorted set scored by sequence.
type HistoryStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewHistoryStore(redisClient *redis.Client, ttl time.Duration) *HistoryStore {
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &HistoryStore{
		redis: redisClient,
		ttl:   ttl,
	}
}

func (s *HistoryStore) Append(ctx context.Context, sessionID string, set detection.PredictionSet) error {
	entry := HistoryEntry{
		SessionID:   sessionID,
		Sequence:    set.Sequence,
		Predictions: set.Predictions,
		ReceivedAt:  set.ReceivedAt,
	}
	if entry.Predictions == nil {
		entry.Predictions = []detection.Prediction{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := historyKey(sessionID)
	pipe := s.redis.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(set.Sequence),
		Member: data,
	})
	pipe.ZRemRangeByRank(ctx, key, 0, -maxHistoryEntries-1)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *HistoryStore) Latest(ctx context.Context, sessionID string) (*HistoryEntry, error) {
	entries, err := s.Recent(ctx, sessionID, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// Recent returns up to limit entries, highest sequence first.
func (s *HistoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]*HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	results, err := s.redis.ZRevRange(ctx, historyKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	return decodeEntries(results)
}

// Range returns entries with minSeq <= sequence <= maxSeq in ascending order.
func (s *HistoryStore) Range(ctx context.Context, sessionID string, minSeq, maxSeq uint64, limit int) ([]*HistoryEntry, error) {
	opt := &redis.ZRangeBy{
		Min:   strconv.FormatUint(minSeq, 10),
		Max:   strconv.FormatUint(maxSeq, 10),
		Count: int64(limit),
	}
	results, err := s.redis.ZRangeByScore(ctx, historyKey(sessionID), opt).Result()
	if err != nil {
		return nil, err
	}
	return decodeEntries(results)
}

func (s *HistoryStore) Delete(ctx context.Context, sessionID string) error {
	return s.redis.Del(ctx, historyKey(sessionID)).Err()
}

func decodeEntries(members []string) ([]*HistoryEntry, error) {
	entries := make([]*HistoryEntry, 0, len(members))
	for _, m := range members {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(m), &entry); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}
