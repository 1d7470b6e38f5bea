package catalog

import (
	"time"
)

// State is a repository lifecycle state.
type State string

const (
	// StateActive marks the repository currently written to; never archived.
	StateActive State = "active"
	// StateFrozen marks an archived repository: cold storage, unmounted.
	StateFrozen State = "frozen"
	// StateThawing marks a repository with a restore in flight.
	StateThawing State = "thawing"
	// StateThawed marks a repository whose restore completed and is mounted.
	StateThawed State = "thawed"
	// StateExpired marks a repository whose restore window elapsed.
	StateExpired State = "expired"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateActive, StateFrozen, StateThawing, StateThawed, StateExpired:
		return true
	}
	return false
}

// transitions defines the forward edges of the lifecycle state machine.
// frozen is reachable again from expired (cleanup) and from thawed
// (refreeze before expiry).
var transitions = map[State][]State{
	StateActive:  {StateFrozen},
	StateFrozen:  {StateThawing},
	StateThawing: {StateThawed},
	StateThawed:  {StateExpired, StateFrozen},
	StateExpired: {StateFrozen},
}

// CanTransition reports whether moving from s to next is defined.
// Transitioning to the current state is allowed as a no-op.
func (s State) CanTransition(next State) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// transition validates and applies a state change, returning the new
// snapshot. Same-state transitions succeed without touching bookkeeping.
func (r Repository) transition(next State) (Repository, error) {
	if !r.State.CanTransition(next) {
		return r, NewError(ErrInvalidTransition, "repository "+r.Name,
			"state "+string(r.State)+" cannot transition to "+string(next))
	}
	r.State = next
	return r, nil
}

// MarkFrozen transitions to frozen, clearing thaw bookkeeping and the
// mount flag. Used by rotation (archival), refreeze, and cleanup.
func (r Repository) MarkFrozen() (Repository, error) {
	next, err := r.transition(StateFrozen)
	if err != nil {
		return r, err
	}
	next.Mounted = false
	next.ThawedAt = nil
	next.ExpiresAt = nil
	return next, nil
}

// MarkThawing transitions to thawing, recording when the restore window
// will lapse.
func (r Repository) MarkThawing(expiresAt time.Time) (Repository, error) {
	next, err := r.transition(StateThawing)
	if err != nil {
		return r, err
	}
	next.ExpiresAt = &expiresAt
	return next, nil
}

// MarkThawed transitions to thawed, recording completion time and setting
// the mount flag.
func (r Repository) MarkThawed(now time.Time) (Repository, error) {
	next, err := r.transition(StateThawed)
	if err != nil {
		return r, err
	}
	next.ThawedAt = &now
	next.Mounted = true
	return next, nil
}

// MarkExpired transitions to expired. Thaw bookkeeping is kept for history
// until the repository returns to frozen.
func (r Repository) MarkExpired() (Repository, error) {
	return r.transition(StateExpired)
}

// ThawLapsed reports whether a thawed repository's restore window has
// elapsed as of now.
func (r Repository) ThawLapsed(now time.Time) bool {
	return r.State == StateThawed && r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}
