package neo4j

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/biokg/backend/internal/graph"
	"github.com/biokg/backend/pkg/circuitbreaker"
	"github.com/biokg/backend/pkg/config"
	"github.com/biokg/backend/pkg/logger"
	"github.com/biokg/backend/pkg/retry"
)

// Client mirrors graph changes into Neo4j. The JSON document stays the
// source of truth; nothing is ever read back from here.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg config.Neo4jConfig) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}

	logger.Info("Neo4j mirror initialized", zap.String("uri", cfg.URI), zap.String("database", database))

	return &Client{
		driver:   driver,
		database: database,
		cb: circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          20 * time.Second,
			FailureThreshold: 5,
			Logger:           logger.GetLogger(),
		}),
		retryConfig: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       3 * time.Second,
			Multiplier:     2.0,
			JitterFraction: 0.1,
			Logger:         logger.GetLogger(),
		},
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWrite(ctx context.Context, work neo4j.ManagedTransactionWork) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{
				DatabaseName: c.database,
				AccessMode:   neo4j.AccessModeWrite,
			})
			defer session.Close(ctx)
			_, err := session.ExecuteWrite(ctx, work)
			return err
		})
	})
}

const mergeNodesQuery = `
	UNWIND $nodes AS n
	MERGE (e:Entity {id: n.id})
	SET e.entity_type = n.entity_type,
	    e.primary_name = n.primary_name,
	    e.alternative_names = n.alternative_names,
	    e.external_ids = n.external_ids,
	    e.description = n.description,
	    e.last_updated = n.last_updated
`

const mergeEdgesQuery = `
	UNWIND $edges AS r
	MATCH (s:Entity {id: r.source})
	MATCH (t:Entity {id: r.target})
	MERGE (s)-[e:RELATES {key: r.key}]->(t)
	SET e.relationship_type = r.relationship_type,
	    e.total_papers = r.total_papers,
	    e.evidence_strength = r.evidence_strength,
	    e.earliest_evidence = r.earliest_evidence,
	    e.latest_evidence = r.latest_evidence,
	    e.papers = r.papers
`

// Export upserts the given nodes and edges in one write transaction.
func (c *Client) Export(ctx context.Context, nodes []*graph.Node, edges []*graph.Edge) error {
	if len(nodes) == 0 && len(edges) == 0 {
		return nil
	}

	nodeRows := make([]any, 0, len(nodes))
	for _, n := range nodes {
		nodeRows = append(nodeRows, nodeParams(n))
	}
	edgeRows := make([]any, 0, len(edges))
	for _, e := range edges {
		edgeRows = append(edgeRows, edgeParams(e))
	}

	err := c.executeWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if len(nodeRows) > 0 {
			if _, err := tx.Run(ctx, mergeNodesQuery, map[string]any{"nodes": nodeRows}); err != nil {
				return nil, fmt.Errorf("failed to merge nodes: %w", err)
			}
		}
		if len(edgeRows) > 0 {
			if _, err := tx.Run(ctx, mergeEdgesQuery, map[string]any{"edges": edgeRows}); err != nil {
				return nil, fmt.Errorf("failed to merge edges: %w", err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Graph mirrored to Neo4j", zap.Int("nodes", len(nodes)), zap.Int("edges", len(edges)))
	return nil
}

// nodeParams flattens a node into Neo4j-storable properties. Nested maps
// are not allowed as property values, so external ids become "key:value".
func nodeParams(n *graph.Node) map[string]any {
	keys := make([]string, 0, len(n.ExternalIDs))
	for k := range n.ExternalIDs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ext := make([]string, 0, len(keys))
	for _, k := range keys {
		ext = append(ext, k+":"+n.ExternalIDs[k])
	}

	alt := n.AlternativeNames
	if alt == nil {
		alt = []string{}
	}

	return map[string]any{
		"id":                n.ID,
		"entity_type":       string(n.EntityType),
		"primary_name":      n.PrimaryName,
		"alternative_names": alt,
		"external_ids":      ext,
		"description":       n.Description,
		"last_updated":      n.LastUpdated,
	}
}

func edgeParams(e *graph.Edge) map[string]any {
	papers := make([]string, 0, len(e.Evidence))
	for _, ev := range e.Evidence {
		papers = append(papers, ev.PaperID)
	}

	return map[string]any{
		"key":               e.Key().String(),
		"source":            e.SourceNode,
		"target":            e.TargetNode,
		"relationship_type": string(e.RelationshipType),
		"total_papers":      int64(e.AggregatedMetadata.TotalPapers),
		"evidence_strength": e.AggregatedMetadata.EvidenceStrength,
		"earliest_evidence": optionalInt(e.AggregatedMetadata.EarliestEvidence),
		"latest_evidence":   optionalInt(e.AggregatedMetadata.LatestEvidence),
		"papers":            papers,
	}
}

func optionalInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
