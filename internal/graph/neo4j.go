package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/devlens/devlens/internal/models"
	"github.com/devlens/devlens/internal/vector"
)

// Neo4j implements Store on a Neo4j cluster using parameterized Cypher.
// Relationship type names are interpolated into queries, so they are always
// validated against the known enum first — never taken from input untouched.
type Neo4j struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4j connects and verifies connectivity (fail fast on startup)
func NewNeo4j(ctx context.Context, uri, user, password, database string) (*Neo4j, error) {
	if uri == "" || user == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", uri, user)
	}
	if database == "" {
		database = "neo4j"
	}

	driver, err := neo4j.NewDriverWithContext(uri,
		neo4j.BasicAuth(user, password, ""),
		func(config *neo4j.Config) {
			config.MaxConnectionPoolSize = 50
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = time.Hour
			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", uri, err)
	}

	logger := slog.Default().With("component", "graph")
	logger.Info("neo4j store connected", "uri", uri, "database", database)

	return &Neo4j{driver: driver, database: database, logger: logger}, nil
}

// relLabel maps a validated relation type to its Cypher relationship label
func relLabel(t models.RelationType) (string, error) {
	if !t.Validate() {
		return "", fmt.Errorf("relation type %q is not known", t)
	}
	return strings.ToUpper(string(t)), nil
}

// relLabels builds the `:A|B|C` filter fragment; empty input matches all
func relLabels(types []models.RelationType) (string, error) {
	if len(types) == 0 {
		return "", nil
	}
	labels := make([]string, 0, len(types))
	for _, t := range types {
		label, err := relLabel(t)
		if err != nil {
			return "", err
		}
		labels = append(labels, label)
	}
	return ":" + strings.Join(labels, "|"), nil
}

func (n *Neo4j) run(ctx context.Context, cypher string, params map[string]any) (*neo4j.EagerResult, error) {
	return neo4j.ExecuteQuery(ctx, n.driver, cypher, params,
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database))
}

// UpsertEntity merges one entity by (project_id, id)
func (n *Neo4j) UpsertEntity(ctx context.Context, e Entity) error {
	return n.UpsertEntities(ctx, []Entity{e})
}

// UpsertEntities merges a batch with a single UNWIND statement
func (n *Neo4j) UpsertEntities(ctx context.Context, es []Entity) error {
	if len(es) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(es))
	for _, e := range es {
		if e.ProjectID == "" {
			return models.ErrMissingProject
		}
		if e.ID == "" {
			return fmt.Errorf("entity id is required")
		}
		embedding := make([]float64, len(e.Embedding))
		for i, v := range e.Embedding {
			embedding[i] = float64(v)
		}
		rows = append(rows, map[string]any{
			"id":         e.ID,
			"project_id": e.ProjectID,
			"type":       e.Type,
			"properties": e.Properties,
			"embedding":  embedding,
		})
	}

	_, err := n.run(ctx, `
		UNWIND $rows AS row
		MERGE (e:Entity {id: row.id, project_id: row.project_id})
		SET e.type = row.type,
		    e.embedding = row.embedding,
		    e += row.properties
	`, map[string]any{"rows": rows})
	if err != nil {
		return fmt.Errorf("failed to upsert %d entities: %w", len(es), err)
	}
	return nil
}

// AddRelationship validates endpoints, then merges keeping max confidence
func (n *Neo4j) AddRelationship(ctx context.Context, r Relationship) error {
	label, err := relLabel(r.Type)
	if err != nil {
		return err
	}

	// Endpoint check first: both nodes must exist within r.ProjectID. A node
	// found only under another project makes this a cross-project edge.
	result, err := n.run(ctx, `
		OPTIONAL MATCH (src:Entity {id: $src, project_id: $project})
		OPTIONAL MATCH (dst:Entity {id: $dst, project_id: $project})
		OPTIONAL MATCH (other:Entity) WHERE other.id IN [$src, $dst] AND other.project_id <> $project
		RETURN src IS NOT NULL AS src_ok, dst IS NOT NULL AS dst_ok, count(other) > 0 AS elsewhere
	`, map[string]any{"src": r.SourceID, "dst": r.TargetID, "project": r.ProjectID})
	if err != nil {
		return fmt.Errorf("failed to validate relationship endpoints: %w", err)
	}
	if len(result.Records) == 0 {
		return fmt.Errorf("%s→%s: %w", r.SourceID, r.TargetID, ErrMissingEndpoint)
	}
	record := result.Records[0]
	srcOK, _ := record.Get("src_ok")
	dstOK, _ := record.Get("dst_ok")
	elsewhere, _ := record.Get("elsewhere")
	if srcOK != true || dstOK != true {
		if elsewhere == true {
			return fmt.Errorf("%s→%s: %w", r.SourceID, r.TargetID, ErrCrossProject)
		}
		return fmt.Errorf("%s→%s: %w", r.SourceID, r.TargetID, ErrMissingEndpoint)
	}

	cypher := fmt.Sprintf(`
		MATCH (src:Entity {id: $src, project_id: $project})
		MATCH (dst:Entity {id: $dst, project_id: $project})
		MERGE (src)-[r:%s]->(dst)
		ON CREATE SET r.confidence = $confidence, r.metadata = $metadata
		ON MATCH SET r.confidence = CASE WHEN $confidence > r.confidence THEN $confidence ELSE r.confidence END,
		             r.metadata = CASE WHEN $confidence > r.confidence THEN $metadata ELSE r.metadata END
	`, label)

	_, err = n.run(ctx, cypher, map[string]any{
		"src":        r.SourceID,
		"dst":        r.TargetID,
		"project":    r.ProjectID,
		"confidence": r.Confidence,
		"metadata":   encodeMetadata(r.Metadata),
	})
	if err != nil {
		return fmt.Errorf("failed to add relationship %s: %w", r.key(), err)
	}
	return nil
}

// AddRelationships adds edges one statement each; relationship labels differ
// per edge so a single UNWIND cannot cover the batch.
func (n *Neo4j) AddRelationships(ctx context.Context, rs []Relationship) error {
	for _, r := range rs {
		if err := n.AddRelationship(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// GetEntity looks up one entity
func (n *Neo4j) GetEntity(ctx context.Context, projectID, id string) (Entity, error) {
	result, err := n.run(ctx, `
		MATCH (e:Entity {id: $id, project_id: $project})
		RETURN e
	`, map[string]any{"id": id, "project": projectID})
	if err != nil {
		return Entity{}, fmt.Errorf("failed to get entity %s: %w", id, err)
	}
	if len(result.Records) == 0 {
		return Entity{}, fmt.Errorf("%s/%s: %w", projectID, id, ErrNotFound)
	}
	node, ok := result.Records[0].Get("e")
	if !ok {
		return Entity{}, fmt.Errorf("%s/%s: %w", projectID, id, ErrNotFound)
	}
	return nodeToEntity(node.(neo4j.Node)), nil
}

// GetRelationships returns edges touching the entity, inbound and outbound
func (n *Neo4j) GetRelationships(ctx context.Context, projectID, entityID string, types ...models.RelationType) ([]Relationship, error) {
	filter, err := relLabels(types)
	if err != nil {
		return nil, err
	}
	cypher := fmt.Sprintf(`
		MATCH (a:Entity {id: $id, project_id: $project})-[r%s]-(b:Entity)
		RETURN startNode(r).id AS src, endNode(r).id AS dst, type(r) AS type,
		       r.confidence AS confidence, r.metadata AS metadata
	`, filter)

	result, err := n.run(ctx, cypher, map[string]any{"id": entityID, "project": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships for %s: %w", entityID, err)
	}

	out := make([]Relationship, 0, len(result.Records))
	for _, record := range result.Records {
		out = append(out, recordToRelationship(record, projectID))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].key() < out[j].key()
	})
	return out, nil
}

// FindRelated uses shortestPath so path length matches breadth-first
// semantics; strength is computed client-side as the mean edge confidence.
func (n *Neo4j) FindRelated(ctx context.Context, projectID, entityID string, types []models.RelationType, maxDepth int, minStrength float64) ([]Related, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	filter, err := relLabels(types)
	if err != nil {
		return nil, err
	}

	cypher := fmt.Sprintf(`
		MATCH (a:Entity {id: $id, project_id: $project}), (b:Entity {project_id: $project})
		WHERE a <> b
		MATCH path = shortestPath((a)-[%s*1..%d]-(b))
		RETURN b, length(path) AS depth,
		       [rel IN relationships(path) | rel.confidence] AS confidences
	`, filter, maxDepth)

	result, err := n.run(ctx, cypher, map[string]any{"id": entityID, "project": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to traverse from %s: %w", entityID, err)
	}

	var results []Related
	for _, record := range result.Records {
		nodeVal, _ := record.Get("b")
		depthVal, _ := record.Get("depth")
		confVal, _ := record.Get("confidences")

		depth := int(depthVal.(int64))
		var sum float64
		confidences, _ := confVal.([]any)
		for _, c := range confidences {
			if f, ok := c.(float64); ok {
				sum += f
			}
		}
		strength := 0.0
		if depth > 0 {
			strength = sum / float64(depth)
		}
		if strength < minStrength {
			continue
		}
		results = append(results, Related{
			Entity:       nodeToEntity(nodeVal.(neo4j.Node)),
			PathLength:   depth,
			PathStrength: strength,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].PathStrength != results[j].PathStrength {
			return results[i].PathStrength > results[j].PathStrength
		}
		return results[i].Entity.ID < results[j].Entity.ID
	})
	return results, nil
}

// SearchByVector pulls project embeddings and scores client-side. Entity
// counts per project stay small enough that shipping vectors beats
// maintaining a server-side index the deployment may not have.
func (n *Neo4j) SearchByVector(ctx context.Context, projectID string, vec []float32, topK int) ([]VectorMatch, error) {
	result, err := n.run(ctx, `
		MATCH (e:Entity {project_id: $project})
		WHERE e.embedding IS NOT NULL AND size(e.embedding) > 0
		RETURN e
	`, map[string]any{"project": projectID})
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings for %s: %w", projectID, err)
	}

	var matches []VectorMatch
	for _, record := range result.Records {
		nodeVal, _ := record.Get("e")
		entity := nodeToEntity(nodeVal.(neo4j.Node))
		matches = append(matches, VectorMatch{
			Entity: entity,
			Score:  vector.Cosine(vec, entity.Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entity.ID < matches[j].Entity.ID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteEntity removes the entity and every edge touching it
func (n *Neo4j) DeleteEntity(ctx context.Context, projectID, id string) error {
	if _, err := n.run(ctx, `
		MATCH (e:Entity {id: $id, project_id: $project})
		DETACH DELETE e
	`, map[string]any{"id": id, "project": projectID}); err != nil {
		return fmt.Errorf("failed to delete entity %s/%s: %w", projectID, id, err)
	}
	return nil
}

// DeleteProject removes relationships first, then entities
func (n *Neo4j) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := n.run(ctx, `
		MATCH (e:Entity {project_id: $project})-[r]-()
		DELETE r
	`, map[string]any{"project": projectID}); err != nil {
		return fmt.Errorf("failed to delete relationships for %s: %w", projectID, err)
	}
	if _, err := n.run(ctx, `
		MATCH (e:Entity {project_id: $project})
		DELETE e
	`, map[string]any{"project": projectID}); err != nil {
		return fmt.Errorf("failed to delete entities for %s: %w", projectID, err)
	}
	n.logger.Info("project deleted from graph", "project_id", projectID)
	return nil
}

// Close closes the driver
func (n *Neo4j) Close(ctx context.Context) error {
	if err := n.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	return nil
}

// nodeToEntity converts a Neo4j node back into an Entity
func nodeToEntity(node neo4j.Node) Entity {
	e := Entity{Properties: make(map[string]any)}
	for k, v := range node.Props {
		switch k {
		case "id":
			e.ID, _ = v.(string)
		case "project_id":
			e.ProjectID, _ = v.(string)
		case "type":
			e.Type, _ = v.(string)
		case "embedding":
			if raw, ok := v.([]any); ok {
				e.Embedding = make([]float32, 0, len(raw))
				for _, item := range raw {
					if f, ok := item.(float64); ok {
						e.Embedding = append(e.Embedding, float32(f))
					}
				}
			}
		default:
			e.Properties[k] = v
		}
	}
	return e
}

func recordToRelationship(record *neo4j.Record, projectID string) Relationship {
	r := Relationship{ProjectID: projectID}
	if v, ok := record.Get("src"); ok {
		r.SourceID, _ = v.(string)
	}
	if v, ok := record.Get("dst"); ok {
		r.TargetID, _ = v.(string)
	}
	if v, ok := record.Get("type"); ok {
		if s, ok := v.(string); ok {
			r.Type = models.RelationType(strings.ToLower(s))
		}
	}
	if v, ok := record.Get("confidence"); ok {
		r.Confidence, _ = v.(float64)
	}
	if v, ok := record.Get("metadata"); ok {
		if s, ok := v.(string); ok {
			r.Metadata = decodeMetadata(s)
		}
	}
	return r
}
