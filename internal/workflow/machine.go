// Package workflow implements the role-gated transition engine shared by all
// document kinds. A Machine holds the allowed edges for one kind; stepping it
// is pure: the caller receives the next status and a stamped signature and is
// responsible for persisting both.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/jinsi-erp/jinsi-erp/internal/shared"
)

// Status is a document lifecycle state. Each document kind defines its own set.
type Status string

// Signature records who advanced a document through a transition.
type Signature struct {
	Name        string    `json:"name"`
	Designation string    `json:"designation"`
	Date        time.Time `json:"date"`
}

// Signatures maps slot names to stamped signatures.
type Signatures map[string]Signature

// Clone returns a copy so rejected transitions never leak partial stamps.
func (s Signatures) Clone() Signatures {
	out := make(Signatures, len(s)+1)
	for slot, sig := range s {
		out[slot] = sig
	}
	return out
}

// Transition is one allowed edge of a machine.
type Transition struct {
	From  Status
	To    Status
	Roles []shared.Role
	// Slot is the signature slot owned by this edge.
	Slot string
}

func (t Transition) allows(role shared.Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Machine is the transition table for one document kind.
type Machine struct {
	Kind        string
	Transitions []Transition
}

// StepResult describes an accepted transition.
type StepResult struct {
	Next      Status
	Slot      string
	Signature Signature
}

var (
	// ErrInvalidTransition indicates the requested edge does not exist.
	ErrInvalidTransition = errors.New("workflow: invalid state transition")
	// ErrRoleNotAllowed indicates the actor's role is not in the edge's set.
	ErrRoleNotAllowed = errors.New("workflow: role not allowed for transition")
)

// Find returns the edge from->to when defined.
func (m Machine) Find(from, to Status) (Transition, bool) {
	for _, t := range m.Transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// Step validates the edge and the actor's role and stamps a signature dated at.
// On error the document must be left untouched by the caller.
func (m Machine) Step(from, to Status, actor shared.Actor, at time.Time) (StepResult, error) {
	edge, ok := m.Find(from, to)
	if !ok {
		return StepResult{}, fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, m.Kind, from, to)
	}
	if !actor.Valid() {
		return StepResult{}, shared.ErrActorMissing
	}
	if !edge.allows(actor.Role) {
		return StepResult{}, fmt.Errorf("%w: %s may not move %s to %s", ErrRoleNotAllowed, actor.Role, m.Kind, to)
	}
	if at.IsZero() {
		at = time.Now()
	}
	return StepResult{
		Next: edge.To,
		Slot: edge.Slot,
		Signature: Signature{
			Name:        actor.FullName,
			Designation: actor.Designation,
			Date:        at,
		},
	}, nil
}

// Stamp applies a step result to a signature set, returning the updated copy.
func Stamp(sigs Signatures, res StepResult) Signatures {
	out := sigs.Clone()
	if res.Slot != "" {
		out[res.Slot] = res.Signature
	}
	return out
}
