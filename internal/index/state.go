// Package index tracks the lifecycle of logical search indices and the
// primary/shadow pair of physical indices behind each one.
package index

import (
	"slices"
	"time"

	"github.com/listenupapp/indexbridge/internal/schema"
)

// State is the lifecycle state of a logical index.
type State string

// Lifecycle states.
const (
	StateUninitialized State = "uninitialized"
	StatePopulating    State = "populating"
	StateSwapping      State = "swapping"
	StateReady         State = "ready"
	StateFailed        State = "failed"
)

// transitions lists the allowed targets of each state. Any state may move to
// StateFailed.
var transitions = map[State][]State{
	StateUninitialized: {StatePopulating},
	StatePopulating:    {StateSwapping},
	StateSwapping:      {StateReady},
	StateReady:         {StatePopulating},
	StateFailed:        {StatePopulating},
}

// CanTransition reports whether moving from s to next is allowed.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return true
	}
	return slices.Contains(transitions[s], next)
}

// Rebuilding reports whether a rebuild currently owns the index.
func (s State) Rebuilding() bool {
	return s == StatePopulating || s == StateSwapping
}

// Descriptor describes one logical index. Primary serves reads through the
// alias; Shadow receives rebuilds.
type Descriptor struct {
	Name          string        `json:"name"`
	Alias         string        `json:"alias"`
	Primary       string        `json:"primary"`
	Shadow        string        `json:"shadow"`
	Schema        schema.Schema `json:"schema"`
	KeywordFields []string      `json:"keyword_fields,omitempty"`
	Analyzer      string        `json:"analyzer,omitempty"`
	State         State         `json:"state"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// clone returns a deep copy safe to hand to callers.
func (d *Descriptor) clone() Descriptor {
	c := *d
	c.Schema = slices.Clone(d.Schema)
	c.KeywordFields = slices.Clone(d.KeywordFields)
	return c
}
