// Package store implements the persistence sink for latest source data
// and mirrored runtime state. All operations are best-effort from the
// engine's perspective; callers log and swallow failures, and in-memory
// state remains authoritative.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

// Store keeps one latest record per source id
type Store struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

var ErrDecodeRecord = errors.New("failed to decode latest record")

// NewStore creates a persistence sink using the given redis client and
// key prefix
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

// UpsertData replaces the source's latest record with a fresh data
// payload, clearing any previously stored error or mirrored state
func (s *Store) UpsertData(
	ctx context.Context, id api.SourceID, data map[api.Name]any,
) error {
	record := &api.LatestRecord{
		SourceID:  id,
		Data:      data,
		UpdatedAt: api.Epoch(s.clock()),
	}
	return s.write(ctx, id, record)
}

// SetError records a fetch error for the source, dropping the stale data
// payload
func (s *Store) SetError(
	ctx context.Context, id api.SourceID, message string,
) error {
	record, err := s.Latest(ctx, id)
	if err != nil || record == nil {
		record = &api.LatestRecord{SourceID: id}
	}
	record.Data = nil
	record.Error = message
	record.UpdatedAt = api.Epoch(s.clock())
	return s.write(ctx, id, record)
}

// SetState mirrors a runtime state transition into the record, keeping
// the existing data payload
func (s *Store) SetState(
	ctx context.Context, id api.SourceID, status api.SourceStatus,
	message string, interaction *api.InteractionRequest,
) error {
	record, err := s.Latest(ctx, id)
	if err != nil || record == nil {
		record = &api.LatestRecord{SourceID: id}
	}
	record.Status = status
	record.Message = message
	record.Interaction = interaction
	record.UpdatedAt = api.Epoch(s.clock())
	return s.write(ctx, id, record)
}

// Latest returns the source's latest record, or nil if none exists
func (s *Store) Latest(
	ctx context.Context, id api.SourceID,
) (*api.LatestRecord, error) {
	raw, err := s.client.Get(ctx, s.recordKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record api.LatestRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecodeRecord, id)
	}
	return &record, nil
}

// AllLatest returns the latest records for every source
func (s *Store) AllLatest(ctx context.Context) ([]*api.LatestRecord, error) {
	var res []*api.LatestRecord
	iter := s.client.Scan(
		ctx, 0, fmt.Sprintf("%s:latest:*", s.prefix), 0,
	).Iterator()

	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var record api.LatestRecord
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrDecodeRecord, iter.Val())
		}
		res = append(res, &record)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// Clear removes the source's latest record
func (s *Store) Clear(ctx context.Context, id api.SourceID) error {
	return s.client.Del(ctx, s.recordKey(id)).Err()
}

func (s *Store) write(
	ctx context.Context, id api.SourceID, record *api.LatestRecord,
) error {
	enc, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.recordKey(id), enc, 0).Err()
}

func (s *Store) recordKey(id api.SourceID) string {
	return fmt.Sprintf("%s:latest:%s", s.prefix, id)
}
