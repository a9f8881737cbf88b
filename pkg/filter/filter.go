// Package filter selects which registry records are loaded.
//
// A Predicate holds up to four independent criteria. Criteria that are set
// combine with AND; a blank criterion always passes. Records that fail the
// predicate are dropped before any write is attempted.
//
// Example:
//
//	p := filter.Predicate{State: "sp", Municipality: "Sao Paulo"}
//	if p.Match(rec) {
//		// load it
//	}
package filter

import (
	"fmt"
	"strings"

	"github.com/orneryd/cnpjgraph/pkg/receita"
)

// Predicate is a conjunction of optional match rules.
type Predicate struct {
	// State is the UF (e.g. "SP").
	State string `yaml:"uf"`
	// Municipality is the municipality name (e.g. "SAO PAULO").
	Municipality string `yaml:"municipio"`
	// Neighborhood is the bairro name.
	Neighborhood string `yaml:"bairro"`
	// IncludeClosed keeps entities with status 08 (BAIXADA).
	IncludeClosed bool `yaml:"include_baixadas"`
}

// Match reports whether rec satisfies every configured criterion.
func (p Predicate) Match(rec *receita.Record) bool {
	if rec == nil {
		return false
	}
	if !p.IncludeClosed && rec.Closed() {
		return false
	}
	return equalIfSet(p.State, rec.Address.State) &&
		equalIfSet(p.Municipality, rec.Address.Municipality) &&
		equalIfSet(p.Neighborhood, rec.Address.Neighborhood)
}

// IsZero reports whether the predicate only applies the default closed-entity
// exclusion.
func (p Predicate) IsZero() bool {
	return strings.TrimSpace(p.State) == "" &&
		strings.TrimSpace(p.Municipality) == "" &&
		strings.TrimSpace(p.Neighborhood) == ""
}

func (p Predicate) String() string {
	var parts []string
	if v := strings.TrimSpace(p.State); v != "" {
		parts = append(parts, fmt.Sprintf("uf=%s", strings.ToUpper(v)))
	}
	if v := strings.TrimSpace(p.Municipality); v != "" {
		parts = append(parts, fmt.Sprintf("municipio=%s", strings.ToUpper(v)))
	}
	if v := strings.TrimSpace(p.Neighborhood); v != "" {
		parts = append(parts, fmt.Sprintf("bairro=%s", strings.ToUpper(v)))
	}
	parts = append(parts, fmt.Sprintf("baixadas=%t", p.IncludeClosed))
	return strings.Join(parts, " ")
}

func equalIfSet(want, got string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return true
	}
	return strings.EqualFold(want, strings.TrimSpace(got))
}
