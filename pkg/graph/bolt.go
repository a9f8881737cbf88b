package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"go.uber.org/zap"

	"github.com/orneryd/cnpjgraph/pkg/receita"
)

const codeConstraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

// BoltOptions configures a connection to a Bolt graph server.
type BoltOptions struct {
	URI      string
	Username string // empty means no authentication
	Password string
	Database string // empty selects the server default

	MaxConnectionPoolSize int
	Logger                *zap.Logger
}

// BoltStore is a Store over a Neo4j-compatible server reached via Bolt.
//
// Uniqueness of LegalEntity.cnpj and of the Address natural key is enforced by
// server-side constraints created on Connect, so concurrent MERGEs of one key
// cannot both create a node. The loser sees a constraint violation and is
// retried once, which then matches the winner's node.
type BoltStore struct {
	driver   neo4j.DriverWithContext
	database string
	log      *zap.Logger
}

// ConnectBolt opens a driver, verifies the server is reachable and ensures
// the uniqueness constraints exist. Any failure here is fatal for a run.
func ConnectBolt(ctx context.Context, opts BoltOptions) (*BoltStore, error) {
	if opts.URI == "" {
		return nil, errors.New("bolt: uri is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	auth := neo4j.NoAuth()
	if opts.Username != "" {
		auth = neo4j.BasicAuth(opts.Username, opts.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(opts.URI, auth, func(c *config.Config) {
		if opts.MaxConnectionPoolSize > 0 {
			c.MaxConnectionPoolSize = opts.MaxConnectionPoolSize
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: creating driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("bolt: connecting to %s: %w", opts.URI, err)
	}

	s := &BoltStore{driver: driver, database: opts.Database, log: opts.Logger}
	if err := s.ensureConstraints(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, err
	}
	s.log.Info("connected to graph server",
		zap.String("uri", opts.URI),
		zap.String("database", opts.Database))
	return s, nil
}

// constraintStatements returns the schema statements run on connect.
func constraintStatements() []string {
	addrKey := receita.AddressKey{}.Properties()
	names := sortedNames(addrKey)
	props := make([]string, len(names))
	for i, name := range names {
		props[i] = "n." + quote(name)
	}

	return []string{
		fmt.Sprintf("CREATE CONSTRAINT legal_entity_cnpj IF NOT EXISTS FOR (n:%s) REQUIRE n.cnpj IS UNIQUE",
			quote(LabelLegalEntity)),
		fmt.Sprintf("CREATE CONSTRAINT address_natural_key IF NOT EXISTS FOR (n:%s) REQUIRE (%s) IS UNIQUE",
			quote(LabelAddress), strings.Join(props, ", ")),
	}
}

func (s *BoltStore) ensureConstraints(ctx context.Context) error {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range constraintStatements() {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, stmt, nil)
			if err != nil {
				return nil, err
			}
			return res.Consume(ctx)
		})
		if err != nil {
			return fmt.Errorf("bolt: creating constraint: %w", err)
		}
	}
	return nil
}

func (s *BoltStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// MergeNode runs MERGE on the key with ON CREATE SET for the attributes.
func (s *BoltStore) MergeNode(ctx context.Context, label string, key, props map[string]any) (bool, error) {
	query, params := mergeNodeQuery(label, key)
	params["props"] = props

	created, err := s.writeCounting(ctx, query, params, func(c neo4j.Counters) bool {
		return c.NodesCreated() > 0
	})
	if isConstraintViolation(err) {
		// Lost a create race; the node exists now.
		created, err = s.writeCounting(ctx, query, params, func(c neo4j.Counters) bool {
			return c.NodesCreated() > 0
		})
	}
	return created, err
}

// MergeRelationship matches both endpoints and merges the relationship.
func (s *BoltStore) MergeRelationship(ctx context.Context, from NodeRef, relType string, to NodeRef) (bool, error) {
	query, params := mergeRelationshipQuery(from, relType, to)

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		matched, _ := record.Get("matched")
		if n, ok := matched.(int64); !ok || n == 0 {
			return nil, ErrEndpointMissing
		}
		return summary.Counters().RelationshipsCreated() > 0, nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func (s *BoltStore) writeCounting(ctx context.Context, query string, params map[string]any, created func(neo4j.Counters) bool) (bool, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		summary, err := res.Consume(ctx)
		if err != nil {
			return nil, err
		}
		return created(summary.Counters()), nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

// Counts reads node and relationship totals.
func (s *BoltStore) Counts(ctx context.Context) (Counts, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	var c Counts
	targets := []struct {
		query string
		dst   *int64
	}{
		{fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS n", quote(LabelLegalEntity)), &c.LegalEntities},
		{fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS n", quote(LabelAddress)), &c.Addresses},
		{fmt.Sprintf("MATCH ()-[r:%s]->() RETURN count(r) AS n", quote(RelLocatedAt)), &c.LocatedAt},
	}
	for _, target := range targets {
		out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, target.query, nil)
			if err != nil {
				return nil, err
			}
			record, err := res.Single(ctx)
			if err != nil {
				return nil, err
			}
			n, _ := record.Get("n")
			return n, nil
		})
		if err != nil {
			return c, fmt.Errorf("bolt: counting: %w", err)
		}
		if n, ok := out.(int64); ok {
			*target.dst = n
		}
	}
	return c, nil
}

// Close releases the driver's connection pool.
func (s *BoltStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

var _ Store = (*BoltStore)(nil)

// ============================================================================
// Query construction
// ============================================================================

// mergeNodeQuery renders a MERGE for label and key. Labels and property names
// cannot be parameters, so they are backtick-quoted; values are parameters.
func mergeNodeQuery(label string, key map[string]any) (string, map[string]any) {
	params := make(map[string]any, len(key)+1)
	pattern := nodePattern("n", label, key, "k", params)
	return "MERGE " + pattern + "\nON CREATE SET n += $props", params
}

func mergeRelationshipQuery(from NodeRef, relType string, to NodeRef) (string, map[string]any) {
	params := make(map[string]any, len(from.Key)+len(to.Key))
	var b strings.Builder
	b.WriteString("MATCH " + nodePattern("a", from.Label, from.Key, "a", params) + "\n")
	b.WriteString("MATCH " + nodePattern("b", to.Label, to.Key, "b", params) + "\n")
	b.WriteString("MERGE (a)-[r:" + quote(relType) + "]->(b)\n")
	b.WriteString("RETURN count(r) AS matched")
	return b.String(), params
}

func nodePattern(variable, label string, key map[string]any, paramPrefix string, params map[string]any) string {
	names := sortedNames(key)
	fields := make([]string, len(names))
	for i, name := range names {
		param := fmt.Sprintf("%s%d", paramPrefix, i)
		params[param] = key[name]
		fields[i] = quote(name) + ": $" + param
	}
	return fmt.Sprintf("(%s:%s {%s})", variable, quote(label), strings.Join(fields, ", "))
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// quote backtick-quotes a Cypher identifier.
func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func isConstraintViolation(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == codeConstraintViolation
}
