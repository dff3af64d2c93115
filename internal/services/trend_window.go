package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ahmetk3436/tidewatch/internal/evaluator"
	"github.com/go-redis/redis/v8"
)

// TrendWindowStore keeps the sliding sample window per (device, parameter).
// Push inserts a sample, evicts everything older than horizon relative to it,
// and returns the window oldest first. Callers serialize pushes per key.
type TrendWindowStore interface {
	Push(ctx context.Context, key string, s evaluator.Sample, horizon time.Duration) ([]evaluator.Sample, error)
}

type MemoryTrendWindows struct {
	mu      sync.Mutex
	windows map[string][]evaluator.Sample
}

func NewMemoryTrendWindows() *MemoryTrendWindows {
	return &MemoryTrendWindows{windows: make(map[string][]evaluator.Sample)}
}

func (m *MemoryTrendWindows) Push(_ context.Context, key string, s evaluator.Sample, horizon time.Duration) ([]evaluator.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := evaluator.Slide(m.windows[key], s, horizon)
	m.windows[key] = w

	out := make([]evaluator.Sample, len(w))
	copy(out, w)
	return out, nil
}

// RedisTrendWindows stores each window as a sorted set scored by sample time in
// milliseconds, so several engine instances can share windows across restarts.
type RedisTrendWindows struct {
	client *redis.Client
	prefix string
}

func NewRedisTrendWindows(ctx context.Context, addr, password string, db int) (*RedisTrendWindows, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisTrendWindows{client: client, prefix: "trend:"}, nil
}

func (r *RedisTrendWindows) Push(ctx context.Context, key string, s evaluator.Sample, horizon time.Duration) ([]evaluator.Sample, error) {
	rkey := r.prefix + key
	cutoff := s.Timestamp.Add(-horizon).UnixMilli()

	var rangeCmd *redis.ZSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, rkey, &redis.Z{
			Score:  float64(s.Timestamp.UnixMilli()),
			Member: encodeSample(s),
		})
		pipe.ZRemRangeByScore(ctx, rkey, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, rkey, 2*horizon)
		rangeCmd = pipe.ZRangeWithScores(ctx, rkey, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("push trend sample %s: %w", key, err)
	}

	zs, err := rangeCmd.Result()
	if err != nil {
		return nil, err
	}
	out := make([]evaluator.Sample, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		sample, err := decodeSample(member)
		if err != nil {
			continue
		}
		out = append(out, sample)
	}
	return out, nil
}

func (r *RedisTrendWindows) Close() error {
	return r.client.Close()
}

// Members carry the timestamp so equal values at different times stay distinct.
func encodeSample(s evaluator.Sample) string {
	return strconv.FormatInt(s.Timestamp.UnixNano(), 10) + ":" + strconv.FormatFloat(s.Value, 'g', -1, 64)
}

func decodeSample(member string) (evaluator.Sample, error) {
	i := strings.IndexByte(member, ':')
	if i < 0 {
		return evaluator.Sample{}, fmt.Errorf("malformed trend member %q", member)
	}
	ns, err := strconv.ParseInt(member[:i], 10, 64)
	if err != nil {
		return evaluator.Sample{}, fmt.Errorf("malformed trend member %q: %w", member, err)
	}
	v, err := strconv.ParseFloat(member[i+1:], 64)
	if err != nil {
		return evaluator.Sample{}, fmt.Errorf("malformed trend member %q: %w", member, err)
	}
	return evaluator.Sample{Value: v, Timestamp: time.Unix(0, ns).UTC()}, nil
}
