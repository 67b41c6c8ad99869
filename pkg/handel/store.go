// Copyright 2025 Albatross Validators
//
// Contribution Store
// Per-level bests and verified individuals under a single RWMutex.
//
package handel

import "sync"

// LevelState is the per-level record the store maintains: the best
// aggregate seen so far, the set of individually-verified contributors, and
// their raw individual signatures (kept so a better aggregate can later be
// rebuilt from a wider set of individuals without re-verifying them).
type LevelState struct {
	Level               int
	Allowed             Identity
	Best                *Contribution
	IndividualsVerified Identity
	Individuals         map[ValidatorIndex]IndividualContribution
	ReceiveStarted      bool
	SendStarted         bool
	NextPeerIdx         int
}

// Store is the contribution store's read/write surface: per-level bests and
// verified individuals, queried by the evaluator and updated by the driver
// after a successful crypto verification.
type Store interface {
	Best(level int) (Contribution, bool)
	IndividualVerified(level int) Identity
	IndividualSignature(level int, origin ValidatorIndex) (IndividualContribution, bool)
	PutBest(level int, c Contribution) error
	PutIndividual(level int, ic IndividualContribution) error
	LevelState(level int) (LevelState, bool)
}

// RWStore is the concrete Store: one sync.RWMutex guarding per-level state,
// readers (Best, IndividualVerified, IndividualSignature) taking RLock,
// writers (PutBest, PutIndividual) taking Lock.
//
// Progression is monotonic: PutBest only accepts a contribution that is a
// strict superset of the current best's Contributors (invariant I1); an
// equal-or-narrower contribution is silently ignored rather than erroring,
// since a narrower update reaching the store after a wider one already has
// is an ordinary race, not a protocol violation.
type RWStore struct {
	mu     sync.RWMutex
	levels map[int]*LevelState
}

// NewRWStore builds an empty store over levels 1..=totalLevels, each
// initialized with the given Partitioner's Allowed identity.
func NewRWStore(part Partitioner) *RWStore {
	levels := make(map[int]*LevelState, part.Levels())
	for l := 1; l <= part.Levels(); l++ {
		allowed, _ := part.IdentitiesOn(l)
		levels[l] = &LevelState{
			Level:               l,
			Allowed:             allowed,
			IndividualsVerified: NewIdentity(allowed.Universe()),
			Individuals:         make(map[ValidatorIndex]IndividualContribution),
		}
	}
	return &RWStore{levels: levels}
}

func (s *RWStore) state(level int) (*LevelState, bool) {
	st, ok := s.levels[level]
	return st, ok
}

// Best implements Store.
func (s *RWStore) Best(level int) (Contribution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state(level)
	if !ok || st.Best == nil {
		return Contribution{}, false
	}
	return *st.Best, true
}

// IndividualVerified implements Store.
func (s *RWStore) IndividualVerified(level int) Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state(level)
	if !ok {
		return Identity{}
	}
	return st.IndividualsVerified.Clone()
}

// IndividualSignature implements Store.
func (s *RWStore) IndividualSignature(level int, origin ValidatorIndex) (IndividualContribution, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state(level)
	if !ok {
		return IndividualContribution{}, false
	}
	ic, ok := st.Individuals[origin]
	return ic, ok
}

// LevelState implements Store; returns a shallow copy for inspection (tests,
// metrics) without exposing the store's internal pointer.
func (s *RWStore) LevelState(level int) (LevelState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state(level)
	if !ok {
		return LevelState{}, false
	}
	return *st, true
}

// PutBest implements Store. Only a strict superset of the current best's
// Contributors is accepted (I1: monotonic progression); anything else is a
// silent no-op, matching the "older/narrower overwrite is a no-op" policy
// spec'd for the store.
func (s *RWStore) PutBest(level int, c Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state(level)
	if !ok {
		return &InvalidLevel{Level: uint8(level)}
	}
	if c.Contributors.IsEmpty() {
		return &InvalidContributors{}
	}
	if st.Best != nil && !c.Contributors.IsSupersetOf(st.Best.Contributors) {
		return nil
	}
	if st.Best != nil && st.Best.Contributors.IsSupersetOf(c.Contributors) {
		return nil
	}
	cc := c
	st.Best = &cc
	return nil
}

// PutIndividual implements Store (I2: individuals only ever accumulate, I3:
// an individual's signature is retained once verified even after a better
// aggregate supersedes its direct usefulness, so a future wider aggregate
// rebuild can still draw on it).
func (s *RWStore) PutIndividual(level int, ic IndividualContribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state(level)
	if !ok {
		return &InvalidLevel{Level: uint8(level)}
	}
	if ic.Contributors.Len() != 1 {
		return &InvalidIndividualContribution{Origin: ic.Origin}
	}
	if _, exists := st.Individuals[ic.Origin]; exists {
		return nil
	}
	st.Individuals[ic.Origin] = ic
	if err := st.IndividualsVerified.Combine(ic.Contributors, false); err != nil {
		return err
	}
	return nil
}
