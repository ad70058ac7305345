// Package redisindex implements the priority index as a Redis sorted set,
// so several server replicas can share one ranking.
package redisindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"
	"github.com/phrazzld/scry-swarm/internal/store"
	"github.com/redis/go-redis/v9"
)

// replaceBatch bounds members per ZADD while building a new snapshot.
const replaceBatch = 500

// PriorityIndex is a store.PriorityIndex backed by a ZSET at key.
type PriorityIndex struct {
	rdb    redis.UniversalClient
	key    string
	logger *slog.Logger
}

var _ store.PriorityIndex = (*PriorityIndex)(nil)

// New wraps an existing client.
func New(rdb redis.UniversalClient, key string, logger *slog.Logger) *PriorityIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PriorityIndex{
		rdb:    rdb,
		key:    key,
		logger: logger.With(slog.String("component", "redis_priority_index")),
	}
}

// Open parses url, connects and pings. The caller owns the returned client.
func Open(ctx context.Context, url, key string, logger *slog.Logger) (*PriorityIndex, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return New(rdb, key, logger), rdb, nil
}

// Replace writes the new ranking to a scratch key and renames it over the
// live key, so readers never see a partial ranking.
func (p *PriorityIndex) Replace(ctx context.Context, scores []store.ScoredSubject) error {
	if len(scores) == 0 {
		if err := p.rdb.Del(ctx, p.key).Err(); err != nil {
			return fmt.Errorf("failed to clear priority index: %w", err)
		}
		return nil
	}

	tmp := fmt.Sprintf("%s:build:%s", p.key, uuid.NewString())
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for start := 0; start < len(scores); start += replaceBatch {
			end := start + replaceBatch
			if end > len(scores) {
				end = len(scores)
			}
			members := make([]redis.Z, 0, end-start)
			for _, s := range scores[start:end] {
				members = append(members, redis.Z{Score: s.Score, Member: s.SubjectID})
			}
			pipe.ZAdd(ctx, tmp, members...)
		}
		pipe.Rename(ctx, tmp, p.key)
		return nil
	})
	if err != nil {
		_ = p.rdb.Del(ctx, tmp).Err()
		return fmt.Errorf("failed to replace priority index: %w", err)
	}

	p.logger.Debug("priority index replaced", slog.Int("entries", len(scores)))
	return nil
}

// Set implements store.PriorityIndex.Set.
func (p *PriorityIndex) Set(ctx context.Context, subjectID string, score float64) error {
	if err := p.rdb.ZAdd(ctx, p.key, redis.Z{Score: score, Member: subjectID}).Err(); err != nil {
		return fmt.Errorf("failed to set priority for %s: %w", subjectID, err)
	}
	return nil
}

// Remove implements store.PriorityIndex.Remove.
func (p *PriorityIndex) Remove(ctx context.Context, subjectID string) error {
	if err := p.rdb.ZRem(ctx, p.key, subjectID).Err(); err != nil {
		return fmt.Errorf("failed to remove priority for %s: %w", subjectID, err)
	}
	return nil
}

// Score implements store.PriorityIndex.Score.
func (p *PriorityIndex) Score(ctx context.Context, subjectID string) (float64, bool, error) {
	score, err := p.rdb.ZScore(ctx, p.key, subjectID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read priority for %s: %w", subjectID, err)
	}
	return score, true, nil
}

// Top implements store.PriorityIndex.Top. Redis orders equal scores by
// member descending in reverse ranges; entries tied with the cut-off score
// are fetched as well so the ascending-ID tie-break holds.
func (p *PriorityIndex) Top(ctx context.Context, n int) ([]store.ScoredSubject, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	zs, err := p.rdb.ZRevRangeWithScores(ctx, p.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read priority index: %w", err)
	}

	if n > 0 && len(zs) == n {
		last := strconv.FormatFloat(zs[len(zs)-1].Score, 'g', -1, 64)
		tied, err := p.rdb.ZRangeByScoreWithScores(ctx, p.key, &redis.ZRangeBy{Min: last, Max: last}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read tied priorities: %w", err)
		}
		zs = append(zs, tied...)
	}

	seen := make(map[string]struct{}, len(zs))
	out := make([]store.ScoredSubject, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, store.ScoredSubject{SubjectID: id, Score: z.Score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SubjectID < out[j].SubjectID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// Len implements store.PriorityIndex.Len.
func (p *PriorityIndex) Len(ctx context.Context) (int64, error) {
	n, err := p.rdb.ZCard(ctx, p.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count priority index: %w", err)
	}
	return n, nil
}
