package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	goredis "github.com/redis/go-redis/v9"
	"github.com/upb/pulse/services/providers"
)

// NewClient configures a Redis client and verifies connectivity.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	if url == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// SessionStore keeps one adapter's sessions in a Redis hash keyed by user ID
type SessionStore struct {
	client goredis.Cmdable
	key    string
}

var _ providers.SessionStore = (*SessionStore)(nil)

// NewSessionStore returns a store writing to the hash "<prefix>:<namespace>".
// Use a distinct namespace per adapter instance.
func NewSessionStore(client goredis.Cmdable, prefix, namespace string) *SessionStore {
	return &SessionStore{client: client, key: prefix + ":" + namespace}
}

// Key returns the hash the store writes to
func (s *SessionStore) Key() string {
	return s.key
}

func (s *SessionStore) Get(ctx context.Context, userID string) (string, error) {
	token, err := s.client.HGet(ctx, s.key, userID).Result()
	if errors.Is(err, goredis.Nil) {
		return "", providers.ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get session: %w", err)
	}
	return token, nil
}

func (s *SessionStore) Set(ctx context.Context, userID, token string) error {
	if err := s.client.HSet(ctx, s.key, userID, token).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.HDel(ctx, s.key, userID).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (s *SessionStore) List(ctx context.Context) ([]string, error) {
	users, err := s.client.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	sort.Strings(users)
	return users, nil
}
