package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when a state is unknown, expired or consumed.
var ErrStateNotFound = errors.New("oauth: state not found")

// State is the pending handshake persisted between Begin and Complete.
type State struct {
	CSRFToken    string    `json:"csrf_token"`
	Nonce        string    `json:"nonce"`
	PKCEVerifier string    `json:"pkce_verifier"`
	CreatedAt    time.Time `json:"created_at"`
}

// StateStore keeps pending states in Redis at oauthstate:{csrfToken}.
type StateStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStateStore creates a [StateStore]. prefix namespaces keys and may be empty.
func NewStateStore(rdb redis.UniversalClient, prefix string) *StateStore {
	return &StateStore{redis: rdb, prefix: prefix}
}

func (s *StateStore) key(csrf string) string {
	return s.prefix + "oauthstate:" + csrf
}

// Save stores st for ttl. A colliding token is rejected.
func (s *StateStore) Save(ctx context.Context, st State, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	ok, err := s.redis.SetNX(ctx, s.key(st.CSRFToken), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateStorage, err)
	}
	if !ok {
		return fmt.Errorf("%w: state collision", ErrStateStorage)
	}
	return nil
}

// Consume atomically reads and deletes the state for csrf. A second call
// for the same token always returns ErrStateNotFound.
func (s *StateStore) Consume(ctx context.Context, csrf string) (*State, error) {
	data, err := s.redis.GetDel(ctx, s.key(csrf)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStateStorage, err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: corrupt state: %v", ErrStateStorage, err)
	}
	return &st, nil
}
