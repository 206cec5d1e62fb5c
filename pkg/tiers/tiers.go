package tiers

import (
	"fmt"
)

// Tier identifies a subscription plan
type Tier string

const (
	Starter      Tier = "starter"
	Professional Tier = "professional"
	Team         Tier = "team"
)

// Limits are the per-period entitlements granted by a tier
type Limits struct {
	Executions int64 `json:"executions" yaml:"executions"`
	Files      int64 `json:"files" yaml:"files"`
}

// Table maps tiers to limits. Entries are ordered by increasing entitlement;
// the first entry is the fallback for any tier the table does not know.
type Table struct {
	order  []Tier
	limits map[Tier]Limits
}

// Entry is a single tier definition used to build a Table
type Entry struct {
	Name   Tier
	Limits Limits
}

// DefaultTable returns the built-in plan table
func DefaultTable() *Table {
	t, err := NewTable([]Entry{
		{Name: Starter, Limits: Limits{Executions: 50, Files: 50}},
		{Name: Professional, Limits: Limits{Executions: 700, Files: 1000}},
		{Name: Team, Limits: Limits{Executions: 1500, Files: 2000}},
	})
	if err != nil {
		panic(err)
	}
	return t
}

// NewTable builds a table from entries listed lowest tier first
func NewTable(entries []Entry) (*Table, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("tier table must define at least one tier")
	}

	t := &Table{
		order:  make([]Tier, 0, len(entries)),
		limits: make(map[Tier]Limits, len(entries)),
	}
	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("tier name is required")
		}
		if _, dup := t.limits[e.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", e.Name)
		}
		if e.Limits.Executions < 0 || e.Limits.Files < 0 {
			return nil, fmt.Errorf("tier %q: limits must be non-negative", e.Name)
		}
		t.order = append(t.order, e.Name)
		t.limits[e.Name] = e.Limits
	}
	return t, nil
}

// Lowest returns the least-entitled tier
func (t *Table) Lowest() Tier {
	return t.order[0]
}

// Known reports whether the tier is defined in the table
func (t *Table) Known(tier Tier) bool {
	_, ok := t.limits[tier]
	return ok
}

// Normalize maps unknown tiers to the lowest tier
func (t *Table) Normalize(tier Tier) Tier {
	if t.Known(tier) {
		return tier
	}
	return t.Lowest()
}

// LimitsFor returns the limits of a tier. Unknown tiers get the lowest
// tier's limits; this never errors.
func (t *Table) LimitsFor(tier Tier) Limits {
	if l, ok := t.limits[tier]; ok {
		return l
	}
	return t.limits[t.Lowest()]
}

// Rank returns the position of the tier in entitlement order, or -1
func (t *Table) Rank(tier Tier) int {
	for i, name := range t.order {
		if name == tier {
			return i
		}
	}
	return -1
}

// Tiers returns the tier names in entitlement order
func (t *Table) Tiers() []Tier {
	out := make([]Tier, len(t.order))
	copy(out, t.order)
	return out
}

// Entries returns the table contents in entitlement order
func (t *Table) Entries() []Entry {
	out := make([]Entry, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, Entry{Name: name, Limits: t.limits[name]})
	}
	return out
}
