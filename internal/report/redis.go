package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/deixis/runbox/internal/pipeline"
)

// ResultKeyPrefix namespaces result keys in Redis.
const ResultKeyPrefix = "runbox:result:"

// RedisStore keeps results in Redis so that several server instances
// behind one endpoint can answer get_run for each other's runs.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects to addr. Results expire after ttl; zero keeps
// them forever.
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	return NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: addr}), ttl)
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func resultKey(runID string) string { return ResultKeyPrefix + runID }

// Save stores result as JSON.
func (s *RedisStore) Save(ctx context.Context, result *pipeline.Result) error {
	if err := checkID(result.RunID); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshalling result %s: %w", result.RunID, err)
	}
	if err := s.client.Set(ctx, resultKey(result.RunID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing result %s: %w", result.RunID, err)
	}
	return nil
}

// Load fetches the result for runID.
func (s *RedisStore) Load(ctx context.Context, runID string) (*pipeline.Result, error) {
	if err := checkID(runID); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, resultKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading result %s: %w", runID, err)
	}
	var result pipeline.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling result %s: %w", runID, err)
	}
	return &result, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client's connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
