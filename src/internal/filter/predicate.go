package filter

import (
	"fmt"
	"strings"
	"sync/atomic"

	"logmux/src/internal/core"
)

// A single field equality requirement
type Constraint struct {
	Field string
	Value string
}

// Compiled subscription filter. Constraints AND together; an empty
// predicate matches every record.
type Predicate struct {
	constraints []Constraint

	// Statistics
	totalProcessed atomic.Uint64
	totalMatched   atomic.Uint64
}

// Compile parses a comma separated list of key=value terms, e.g.
// "level=ERROR,component=mcp-server". Keys and values are trimmed,
// values may contain '=', empty segments are skipped. A term without
// '=' or with an empty key is an error.
func Compile(expr string) (*Predicate, error) {
	p := &Predicate{}
	for _, seg := range strings.Split(expr, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		idx := strings.Index(seg, "=")
		if idx < 0 {
			return nil, fmt.Errorf("invalid filter term %q: missing '='", seg)
		}
		key := strings.TrimSpace(seg[:idx])
		if key == "" {
			return nil, fmt.Errorf("invalid filter term %q: empty key", seg)
		}
		p.constraints = append(p.constraints, Constraint{
			Field: key,
			Value: strings.TrimSpace(seg[idx+1:]),
		})
	}
	return p, nil
}

// Reports whether the record satisfies every constraint. Comparison is
// exact and case sensitive against the stringified field value; a
// missing field never matches.
func (p *Predicate) Matches(rec core.LogRecord) bool {
	p.totalProcessed.Add(1)
	for _, c := range p.constraints {
		v, ok := rec.Field(c.Field)
		if !ok || v != c.Value {
			return false
		}
	}
	p.totalMatched.Add(1)
	return true
}

func (p *Predicate) Empty() bool {
	return len(p.constraints) == 0
}

func (p *Predicate) Len() int {
	return len(p.constraints)
}

// Canonical rendering of the expression
func (p *Predicate) String() string {
	if len(p.constraints) == 0 {
		return ""
	}
	parts := make([]string, len(p.constraints))
	for i, c := range p.constraints {
		parts[i] = c.Field + "=" + c.Value
	}
	return strings.Join(parts, ",")
}

type Stats struct {
	Expression     string `json:"expression"`
	Constraints    int    `json:"constraints"`
	TotalProcessed uint64 `json:"total_processed"`
	TotalMatched   uint64 `json:"total_matched"`
}

func (p *Predicate) GetStats() Stats {
	return Stats{
		Expression:     p.String(),
		Constraints:    len(p.constraints),
		TotalProcessed: p.totalProcessed.Load(),
		TotalMatched:   p.totalMatched.Load(),
	}
}
