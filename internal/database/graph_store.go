package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/temcen/affinity/pkg/models"
)

// GraphInteractionStore keeps user-to-user interactions as
// (:User)-[:INTERACTED {action, at}]->(:User) relationships. Timestamps are
// stored as unix milliseconds.
type GraphInteractionStore struct {
	driver neo4j.DriverWithContext
	logger *logrus.Logger
}

func NewGraphInteractionStore(driver neo4j.DriverWithContext, logger *logrus.Logger) *GraphInteractionStore {
	return &GraphInteractionStore{driver: driver, logger: logger}
}

func interactionParams(event models.InteractionEvent) map[string]interface{} {
	return map[string]interface{}{
		"user_id":   event.UserID.String(),
		"target_id": event.TargetID.String(),
		"action":    string(event.Action),
		"at":        event.Timestamp.UnixMilli(),
	}
}

func (g *GraphInteractionStore) RecordInteraction(ctx context.Context, event models.InteractionEvent) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	cypher := `
		MERGE (u:User {id: $user_id})
		MERGE (t:User {id: $target_id})
		CREATE (u)-[:INTERACTED {action: $action, at: $at}]->(t)`

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, interactionParams(event))
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		g.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":   event.UserID,
			"target_id": event.TargetID,
		}).Error("Failed to record interaction in graph")
		return fmt.Errorf("failed to record interaction: %w", err)
	}
	return nil
}

func (g *GraphInteractionStore) exists(ctx context.Context, cypher string, params map[string]interface{}) (bool, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	found, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		value, _ := record.Get("found")
		b, _ := value.(bool)
		return b, nil
	})
	if err != nil {
		return false, err
	}
	return found.(bool), nil
}

func (g *GraphInteractionStore) HasRecentInteraction(ctx context.Context, userID, targetID uuid.UUID, since time.Time) (bool, error) {
	cypher := `
		MATCH (:User {id: $user_id})-[r:INTERACTED]->(:User {id: $target_id})
		WHERE r.at > $since
		RETURN count(r) > 0 AS found`

	found, err := g.exists(ctx, cypher, map[string]interface{}{
		"user_id":   userID.String(),
		"target_id": targetID.String(),
		"since":     since.UnixMilli(),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check recent interaction: %w", err)
	}
	return found, nil
}

func (g *GraphInteractionStore) RecentTargets(ctx context.Context, userID uuid.UUID, since time.Time) ([]uuid.UUID, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	cypher := `
		MATCH (:User {id: $user_id})-[r:INTERACTED]->(t:User)
		WHERE r.at > $since
		RETURN DISTINCT t.id AS id`

	ids, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		result, err := tx.Run(ctx, cypher, map[string]interface{}{
			"user_id": userID.String(),
			"since":   since.UnixMilli(),
		})
		if err != nil {
			return nil, err
		}
		var out []uuid.UUID
		for result.Next(ctx) {
			value, _ := result.Record().Get("id")
			raw, _ := value.(string)
			id, err := uuid.Parse(raw)
			if err != nil {
				g.logger.WithField("id", raw).Warn("Skipping interaction target with malformed id")
				continue
			}
			out = append(out, id)
		}
		return out, result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query recent targets: %w", err)
	}
	return ids.([]uuid.UUID), nil
}

func (g *GraphInteractionStore) HasPositiveInteraction(ctx context.Context, userID, targetID uuid.UUID) (bool, error) {
	cypher := `
		MATCH (:User {id: $user_id})-[r:INTERACTED]->(:User {id: $target_id})
		WHERE r.action IN $actions
		RETURN count(r) > 0 AS found`

	actions := make([]interface{}, len(positiveActions))
	for i, a := range positiveActions {
		actions[i] = a
	}

	found, err := g.exists(ctx, cypher, map[string]interface{}{
		"user_id":   userID.String(),
		"target_id": targetID.String(),
		"actions":   actions,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check positive interaction: %w", err)
	}
	return found, nil
}
