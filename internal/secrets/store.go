// Package secrets provides the per-source secret bundles and the
// single-slot PKCE challenge store, both backed by redis.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

// Store holds secret bundles keyed by source id. Values are JSON-encoded
// so non-string secrets (token bundles, cookie jars) survive round-trips.
// Writes merge into the existing bundle; last writer wins per key
type Store struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

var (
	ErrEncodeSecret = errors.New("failed to encode secret value")
	ErrDecodeSecret = errors.New("failed to decode secret value")
)

// NewStore creates a secrets store using the given redis client and key
// prefix
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		clock:  time.Now,
	}
}

// WithClock overrides the store's time source
func (s *Store) WithClock(clock func() time.Time) *Store {
	res := *s
	res.clock = clock
	return &res
}

// GetAll returns the full secret bundle for a source. A missing bundle
// yields an empty map, not an error
func (s *Store) GetAll(
	ctx context.Context, id api.SourceID,
) (map[api.Name]any, error) {
	raw, err := s.client.HGetAll(ctx, s.bundleKey(id)).Result()
	if err != nil {
		return nil, err
	}

	res := make(map[api.Name]any, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecodeSecret, k)
		}
		res[api.Name(k)] = val
	}
	return res, nil
}

// Get returns a single secret value and whether it was present
func (s *Store) Get(
	ctx context.Context, id api.SourceID, key api.Name,
) (any, bool, error) {
	raw, err := s.client.HGet(ctx, s.bundleKey(id), string(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var val any
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrDecodeSecret, key)
	}
	return val, true, nil
}

// SetAll merges the partial bundle into the source's stored secrets
func (s *Store) SetAll(
	ctx context.Context, id api.SourceID, partial map[api.Name]any,
) error {
	if len(partial) == 0 {
		return nil
	}

	fields := make([]any, 0, len(partial)*2)
	for k, v := range partial {
		enc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrEncodeSecret, k)
		}
		fields = append(fields, string(k), string(enc))
	}
	return s.client.HSet(ctx, s.bundleKey(id), fields...).Err()
}

// Set stores a single secret value
func (s *Store) Set(
	ctx context.Context, id api.SourceID, key api.Name, value any,
) error {
	return s.SetAll(ctx, id, map[api.Name]any{key: value})
}

// Delete removes a single secret key
func (s *Store) Delete(
	ctx context.Context, id api.SourceID, key api.Name,
) error {
	return s.client.HDel(ctx, s.bundleKey(id), string(key)).Err()
}

// DeleteAll removes the entire bundle for a source
func (s *Store) DeleteAll(ctx context.Context, id api.SourceID) error {
	return s.client.Del(ctx, s.bundleKey(id)).Err()
}

func (s *Store) bundleKey(id api.SourceID) string {
	return fmt.Sprintf("%s:secrets:%s", s.prefix, id)
}
