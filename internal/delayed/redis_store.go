package delayed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisOpTimeout = 5 * time.Second

// RedisStore keeps each entry under its own key so deployments with more
// than one bot instance share pending deliveries. Keys are
// "<prefix><taskID>" with JSON values.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "songbot:delayed:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(taskID string) string { return s.prefix + taskID }

func (s *RedisStore) Put(taskID string, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := s.client.Set(ctx, s.key(taskID), data, 0).Err(); err != nil {
		return fmt.Errorf("delayed redis put: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(taskID string) (Entry, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.GetDel(ctx, s.key(taskID)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("delayed redis remove: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Printf("delayed: dropping malformed redis entry %s", taskID)
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (s *RedisStore) Get(taskID string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if err != nil {
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (s *RedisStore) LoadAll() map[string]Entry {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	out := map[string]Entry{}
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			log.Printf("delayed: skipping malformed redis entry %s", key)
			continue
		}
		out[strings.TrimPrefix(key, s.prefix)] = e
	}
	if err := iter.Err(); err != nil {
		log.Printf("delayed: redis scan failed: %v", err)
	}
	return out
}
