package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Evoltonnac/quota-board/pkg/api"
)

// The PKCE challenge is a single-slot resource per source id, stored
// apart from the general secret bundle so its read-once semantics stay
// explicit. Starting a new authorization overwrites any pending
// challenge; a successful take consumes it.

var ErrDecodeChallenge = errors.New("failed to decode pkce challenge")

// PutChallenge stores the challenge for a source, replacing any pending
// one. The key carries a TTL matching the challenge lifetime
func (s *Store) PutChallenge(
	ctx context.Context, id api.SourceID, ch *api.PKCEChallenge,
) error {
	enc, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return s.client.Set(
		ctx, s.challengeKey(id), enc, api.ChallengeTTL,
	).Err()
}

// TakeChallenge destructively reads the pending challenge. It returns
// nil both when no challenge is stored and when the stored one is older
// than the challenge lifetime
func (s *Store) TakeChallenge(
	ctx context.Context, id api.SourceID,
) (*api.PKCEChallenge, error) {
	raw, err := s.client.GetDel(ctx, s.challengeKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ch api.PKCEChallenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecodeChallenge, id)
	}

	if ch.Expired(s.clock()) {
		return nil, nil
	}
	return &ch, nil
}

func (s *Store) challengeKey(id api.SourceID) string {
	return fmt.Sprintf("%s:pkce:%s", s.prefix, id)
}
