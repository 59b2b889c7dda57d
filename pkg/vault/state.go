package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/loki-platform/loki/pkg/models"
)

const defaultStateTTL = 10 * time.Minute

// StateData ties an in-flight OAuth authorize redirect back to the owner
// and integration type that started it.
type StateData struct {
	OwnerID         string                 `json:"owner_id"`
	IntegrationType models.IntegrationType `json:"integration_type"`
	CreatedAt       time.Time              `json:"created_at"`
}

// StateStore keeps one-shot OAuth state tokens in Redis. Entries expire
// on their own after the TTL; consuming deletes them so a state can
// never be replayed.
type StateStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewStateStore(client redis.UniversalClient, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}

	return &StateStore{client: client, ttl: ttl}
}

func stateKey(state string) string {
	return "oauth:state:" + state
}

func (s *StateStore) Create(ctx context.Context, ownerID string, integrationType models.IntegrationType) (string, error) {
	state := uuid.NewString()

	data, err := json.Marshal(StateData{
		OwnerID:         ownerID,
		IntegrationType: integrationType,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal oauth state: %w", err)
	}

	err = s.client.Set(ctx, stateKey(state), data, s.ttl).Err()
	if err != nil {
		return "", fmt.Errorf("failed to store oauth state: %w", err)
	}

	return state, nil
}

// Consume validates and deletes the state in one round trip.
func (s *StateStore) Consume(ctx context.Context, state string) (*StateData, error) {
	raw, err := s.client.GetDel(ctx, stateKey(state)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}

		return nil, fmt.Errorf("failed to consume oauth state: %w", err)
	}

	var data StateData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal oauth state: %w", err)
	}

	return &data, nil
}
