package casestore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/caseforge/attackmap/mapper"
)

// Redis key layout: one list of match entries per case plus a set of known
// case ids.
const (
	redisCaseSetKey    = "attackmap:cases"
	redisCaseKeyPrefix = "attackmap:case:"
)

func redisMatchesKey(caseID string) string {
	return redisCaseKeyPrefix + caseID + ":matches"
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379").
	URL string

	// TLS configuration for secure connections.
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment.
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations.
	WriteTimeout time.Duration
}

// Redis is a Store backed by a Redis server, for deployments where several
// workers feed matches into the same cases.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a Redis-backed case store and verifies the connection.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.TLSConfig = opts.TLS
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing go-redis client. The caller keeps
// ownership decisions simple: Close still closes the client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Append implements Store.
func (s *Redis) Append(ctx context.Context, caseID string, matches []mapper.TechniqueMatch) error {
	if err := ValidateCaseID(caseID); err != nil {
		return err
	}
	if len(matches) == 0 {
		return nil
	}

	now := time.Now().UTC()
	lines := make([]interface{}, 0, len(matches))
	for _, m := range matches {
		data, err := json.Marshal(entry{ID: uuid.NewString(), RecordedAt: now, Match: m})
		if err != nil {
			return fmt.Errorf("failed to marshal match for case %s: %w", caseID, err)
		}
		lines = append(lines, data)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, redisMatchesKey(caseID), lines...)
	pipe.SAdd(ctx, redisCaseSetKey, caseID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append matches for case %s: %w", caseID, err)
	}
	return nil
}

// Matches implements Store.
func (s *Redis) Matches(ctx context.Context, caseID string) ([]mapper.TechniqueMatch, error) {
	if err := ValidateCaseID(caseID); err != nil {
		return nil, err
	}

	lines, err := s.client.LRange(ctx, redisMatchesKey(caseID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read matches for case %s: %w", caseID, err)
	}

	matches := make([]mapper.TechniqueMatch, 0, len(lines))
	for _, line := range lines {
		var e entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		matches = append(matches, e.Match)
	}
	return matches, nil
}

// Clear implements Store.
func (s *Redis) Clear(ctx context.Context, caseID string) error {
	if err := ValidateCaseID(caseID); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisMatchesKey(caseID))
	pipe.SRem(ctx, redisCaseSetKey, caseID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear case %s: %w", caseID, err)
	}
	return nil
}

// Cases implements Store.
func (s *Redis) Cases(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, redisCaseSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close implements Store.
func (s *Redis) Close() error {
	return s.client.Close()
}
