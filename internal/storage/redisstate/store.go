package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tollgrid/smarttoll/internal/domain/toll"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

const keyPrefix = "vehicle_state:"

// Store keeps per-vehicle traversal state in Redis with a TTL refreshed on
// every write, so abandoned sojourns age out instead of accumulating.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

// New creates a vehicle state store.
func New(client *redis.Client, ttl time.Duration, log *logger.Logger) *Store {
	return &Store{
		client: client,
		ttl:    ttl,
		logger: log.Named("state"),
	}
}

// Get returns the state for a vehicle, or nil when absent. A value that no
// longer parses is deleted and treated as absent: stale garbage must not
// wedge the vehicle's partition.
func (s *Store) Get(ctx context.Context, vehicleID string) (*toll.VehicleState, error) {
	data, err := s.client.Get(ctx, stateKey(vehicleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state get %s: %w", vehicleID, err)
	}

	state, err := decodeState(data)
	if err != nil {
		s.logger.Warn("dropping corrupt vehicle state",
			logger.String("vehicle_id", vehicleID),
			logger.Err(err),
		)
		if delErr := s.client.Del(ctx, stateKey(vehicleID)).Err(); delErr != nil {
			return nil, fmt.Errorf("state delete corrupt %s: %w", vehicleID, delErr)
		}
		return nil, nil
	}
	return state, nil
}

// Put stores the state and refreshes its TTL.
func (s *Store) Put(ctx context.Context, vehicleID string, state *toll.VehicleState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("state marshal %s: %w", vehicleID, err)
	}
	if err := s.client.Set(ctx, stateKey(vehicleID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("state put %s: %w", vehicleID, err)
	}
	return nil
}

// Delete removes the state. Deleting absent state is not an error.
func (s *Store) Delete(ctx context.Context, vehicleID string) error {
	if err := s.client.Del(ctx, stateKey(vehicleID)).Err(); err != nil {
		return fmt.Errorf("state delete %s: %w", vehicleID, err)
	}
	return nil
}

func stateKey(vehicleID string) string {
	return keyPrefix + vehicleID
}

func decodeState(data []byte) (*toll.VehicleState, error) {
	var state toll.VehicleState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", toll.ErrCorruptState, err)
	}
	if state.InZone && state.ZoneID == "" {
		return nil, fmt.Errorf("%w: in_zone set without zone_id", toll.ErrCorruptState)
	}
	return &state, nil
}
