package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/cnpjgraph/pkg/receita"
)

func TestMergeNodeQuery(t *testing.T) {
	query, params := mergeNodeQuery(LabelLegalEntity, map[string]any{"cnpj": "12345678000199"})

	assert.Equal(t, "MERGE (n:`LegalEntity` {`cnpj`: $k0})\nON CREATE SET n += $props", query)
	assert.Equal(t, map[string]any{"k0": "12345678000199"}, params)
}

func TestMergeNodeQuery_AddressKeyIsSorted(t *testing.T) {
	key := receita.AddressKey{
		MunicipalityCode: "7107",
		Neighborhood:     "CENTRO",
		Number:           "100",
		Street:           "DAS FLORES",
		StreetType:       "RUA",
	}
	query, params := mergeNodeQuery(LabelAddress, key.Properties())

	assert.Equal(t, "MERGE (n:`Address` {`bairro`: $k0, `codigoMunicipio`: $k1, `complemento`: $k2, "+
		"`logradouro`: $k3, `numero`: $k4, `tipoLogradouro`: $k5})\nON CREATE SET n += $props", query)
	assert.Equal(t, "CENTRO", params["k0"])
	assert.Equal(t, "", params["k2"])
	assert.Len(t, params, 6)
}

func TestMergeRelationshipQuery(t *testing.T) {
	query, params := mergeRelationshipQuery(
		LegalEntityRef("1"),
		RelLocatedAt,
		NodeRef{Label: LabelAddress, Key: map[string]any{"bairro": "CENTRO"}},
	)

	assert.Equal(t, "MATCH (a:`LegalEntity` {`cnpj`: $a0})\n"+
		"MATCH (b:`Address` {`bairro`: $b0})\n"+
		"MERGE (a)-[r:`LOCATED_AT`]->(b)\n"+
		"RETURN count(r) AS matched", query)
	assert.Equal(t, map[string]any{"a0": "1", "b0": "CENTRO"}, params)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "`cnpj`", quote("cnpj"))
	assert.Equal(t, "`we``ird`", quote("we`ird"))
}

func TestConstraintStatements(t *testing.T) {
	stmts := constraintStatements()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "FOR (n:`LegalEntity`) REQUIRE n.cnpj IS UNIQUE")
	assert.Contains(t, stmts[1], "FOR (n:`Address`) REQUIRE (n.`bairro`, n.`codigoMunicipio`, n.`complemento`, "+
		"n.`logradouro`, n.`numero`, n.`tipoLogradouro`) IS UNIQUE")
	for _, stmt := range stmts {
		assert.Contains(t, stmt, "IF NOT EXISTS")
	}
}

func TestIsConstraintViolation(t *testing.T) {
	violation := &neo4j.Neo4jError{Code: "Neo.ClientError.Schema.ConstraintValidationFailed"}
	other := &neo4j.Neo4jError{Code: "Neo.ClientError.Statement.SyntaxError"}

	assert.True(t, isConstraintViolation(violation))
	assert.True(t, isConstraintViolation(fmt.Errorf("wrapped: %w", violation)))
	assert.False(t, isConstraintViolation(other))
	assert.False(t, isConstraintViolation(errors.New("plain")))
	assert.False(t, isConstraintViolation(nil))
}

func TestConnectBolt_RequiresURI(t *testing.T) {
	_, err := ConnectBolt(context.Background(), BoltOptions{})
	assert.Error(t, err)
}
