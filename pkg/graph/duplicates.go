package graph

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const writeGroupCypher = `
	MERGE (c:Record {id: $canonical_id})
	SET c.canonical = true
	WITH c
	UNWIND $duplicate_ids AS dup_id
	MERGE (d:Record {id: dup_id})
	SET d.canonical = false
	MERGE (d)-[r:DUPLICATE_OF]->(c)
	SET r.group_id = $group_id, r.created_at = $created_at
`

type writeExecutor interface {
	ExecuteWrite(ctx context.Context, work func(tx neo4j.ManagedTransaction) (any, error)) (any, error)
}

// DuplicateWriter stores each duplicate group as DUPLICATE_OF edges onto its canonical record
type DuplicateWriter struct {
	client writeExecutor
	logger ectologger.Logger
}

// NewDuplicateWriter creates a new duplicate writer
func NewDuplicateWriter(client *Client, logger ectologger.Logger) *DuplicateWriter {
	return &DuplicateWriter{
		client: client,
		logger: logger,
	}
}

// WriteGroup merges the group's nodes and edges. Writing the same group twice is a no-op.
func (w *DuplicateWriter) WriteGroup(ctx context.Context, group models.DuplicateGroup) error {
	ctx, span := tracing.StartSpan(ctx, "graph.DuplicateWriter.WriteGroup")
	defer span.End()

	log := w.logger.WithContext(ctx).WithFields(map[string]any{
		"group_id":     group.ID,
		"canonical_id": group.CanonicalID,
	})

	params := groupParams(group)
	if len(params["duplicate_ids"].([]string)) == 0 {
		return nil
	}

	_, err := w.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, writeGroupCypher, params)
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		log.WithError(err).Error("Failed to write duplicate group to graph")
		return err
	}

	log.WithField("duplicates", len(params["duplicate_ids"].([]string))).Debug("Wrote duplicate group to graph")
	return nil
}

func groupParams(group models.DuplicateGroup) map[string]any {
	duplicates := make([]string, 0, len(group.MemberIDs))
	for _, id := range group.MemberIDs {
		if id != group.CanonicalID {
			duplicates = append(duplicates, id)
		}
	}
	createdAt := group.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return map[string]any{
		"group_id":      group.ID,
		"canonical_id":  group.CanonicalID,
		"duplicate_ids": duplicates,
		"created_at":    createdAt.UTC().Format(time.RFC3339),
	}
}
