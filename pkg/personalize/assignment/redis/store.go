// Package redis provides a Redis-backed sticky-assignment store. SETNX gives
// the atomic insert-if-absent the bucketing contract requires, which makes
// the store safe to share across process instances serving the same session.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/tendwell/personalize/pkg/personalize"
)

const keyPrefix = "personalize:assignment"

// Store implements personalize.AssignmentStore on top of a Redis client.
type Store struct {
	client *redis.Client
}

// New creates a new Redis assignment store
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

func assignmentKey(experimentID uuid.UUID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, experimentID, sessionID)
}

func countsKey(experimentID uuid.UUID) string {
	return fmt.Sprintf("%s:counts:%s", keyPrefix, experimentID)
}

// InsertAssignmentIfAbsent records the assignment unless one exists for the
// pair. The SETNX result decides the winner; a losing insert re-reads the
// winning row. The per-variant tally is only incremented by the winner.
func (s *Store) InsertAssignmentIfAbsent(ctx context.Context, assignment *personalize.Assignment) (*personalize.Assignment, bool, error) {
	payload, err := json.Marshal(assignment)
	if err != nil {
		return nil, false, fmt.Errorf("encode assignment: %w", err)
	}

	key := assignmentKey(assignment.ExperimentID, assignment.SessionID)
	inserted, err := s.client.SetNX(ctx, key, payload, 0).Result()
	if err != nil {
		return nil, false, fmt.Errorf("insert assignment: %w", err)
	}

	if !inserted {
		winner, err := s.GetAssignment(ctx, assignment.ExperimentID, assignment.SessionID)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}

	if err := s.client.HIncrBy(ctx, countsKey(assignment.ExperimentID), assignment.VariantID.String(), 1).Err(); err != nil {
		return nil, false, fmt.Errorf("increment assignment count: %w", err)
	}

	winner := *assignment
	return &winner, true, nil
}

func (s *Store) GetAssignment(ctx context.Context, experimentID uuid.UUID, sessionID string) (*personalize.Assignment, error) {
	payload, err := s.client.Get(ctx, assignmentKey(experimentID, sessionID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, personalize.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("get assignment: %w", err)
	}

	var assignment personalize.Assignment
	if err := json.Unmarshal(payload, &assignment); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}

	return &assignment, nil
}

func (s *Store) CountAssignments(ctx context.Context, experimentID uuid.UUID) ([]personalize.AssignmentCount, error) {
	tallies, err := s.client.HGetAll(ctx, countsKey(experimentID)).Result()
	if err != nil {
		return nil, fmt.Errorf("count assignments: %w", err)
	}

	counts := make([]personalize.AssignmentCount, 0, len(tallies))
	for field, value := range tallies {
		variantID, err := uuid.Parse(field)
		if err != nil {
			return nil, fmt.Errorf("decode variant id %q: %w", field, err)
		}
		var count int64
		if _, err := fmt.Sscan(value, &count); err != nil {
			return nil, fmt.Errorf("decode count for variant %s: %w", variantID, err)
		}
		counts = append(counts, personalize.AssignmentCount{
			ExperimentID: experimentID,
			VariantID:    variantID,
			Count:        count,
		})
	}

	sort.Slice(counts, func(i, j int) bool {
		return counts[i].VariantID.String() < counts[j].VariantID.String()
	})

	return counts, nil
}
