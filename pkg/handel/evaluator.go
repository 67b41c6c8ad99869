// Copyright 2025 Albatross Validators
//
// Contribution Evaluator
// Scoring and well-formedness verification for incoming level updates.
//
package handel

import (
	"log"
	"math"
)

// Scoring constants for WeightedVote, grounded line-for-line on the
// reference evaluator's scoring table.
const (
	completesLevelBaseScore   = 1_000_000
	completesLevelLevelPenalty = 10
	improvementBaseScore      = 100_000
	improvementLevelPenalty   = 100
	improvementAddedSigBonus  = 10
)

// maxScore is returned for updates at the final level, which always take
// priority: a full aggregate's well-formedness is cheap to check, and its
// cryptographic verification is deferred to the crypto-verify stage exactly
// like any other score-selected update.
const maxScore = math.MaxInt64

// Evaluator scores unverified contributions for crypto-verification
// priority, and checks a LevelUpdate's local well-formedness before it is
// scored at all.
type Evaluator interface {
	Evaluate(update LevelUpdate, store Store, registry Registry, partitioner Partitioner) int64
	Verify(update LevelUpdate, registry Registry, partitioner Partitioner) error
}

// WeightedVote is the reference Evaluator: it rewards updates that complete
// a level outright, then updates that add the most new signatures for the
// fewest individual-fill-ins, and scores everything else to zero so it never
// reaches the crypto-verification queue.
type WeightedVote struct{}

// NewWeightedVote returns the WeightedVote evaluator. It holds no state —
// every input it needs is passed explicitly.
func NewWeightedVote() WeightedVote { return WeightedVote{} }

// Evaluate implements Evaluator, scoring update.Aggregate at update.Level.
func (WeightedVote) Evaluate(update LevelUpdate, store Store, registry Registry, partitioner Partitioner) int64 {
	level := int(update.Level)

	if level == partitioner.Levels() {
		return maxScore
	}

	identity := registry.SignersIdentity(update.Aggregate.Contributors)
	if identity.IsEmpty() {
		return 0
	}

	if identity.Len() == 1 {
		origin := identity.Indices()[0]
		if _, ok := store.IndividualSignature(level, ValidatorIndex(origin)); ok {
			return 0
		}
	}

	levelSize := partitioner.LevelSize(level)
	best, hasBest := store.Best(level)
	if hasBest {
		if best.Contributors.Len() == levelSize {
			return 0
		}
		if best.Contributors.IsSupersetOf(identity) {
			return 0
		}
	}

	verifiedIndividuals := store.IndividualVerified(level)
	withIndividuals, err := identity.Union(verifiedIndividuals, true)
	if err != nil {
		return 0
	}

	var newTotal, addedSigs, combinedSigs int

	switch {
	case !hasBest:
		newTotal = withIndividuals.Len()
		addedSigs = newTotal
		combinedSigs = newTotal - identity.Len()
		if combinedSigs != 0 {
			log.Printf("handel: level %d has verified individuals but no best aggregate", level)
		}

	case identity.IntersectionSize(best.Contributors) > 0:
		newTotal = withIndividuals.Len()
		addedSigs = newTotal - best.Contributors.Len()
		combinedSigs = newTotal - identity.Len()

	default:
		// identity and best.Contributors are disjoint (handled above), so both
		// unions below are guaranteed not to error.
		final, _ := withIndividuals.Union(best.Contributors, true)
		withoutIndividuals, _ := best.Contributors.Union(identity, false)
		newTotal = final.Len()
		addedSigs = newTotal - best.Contributors.Len()
		combinedSigs = final.SymmetricDifference(withoutIndividuals).Len()
	}

	if addedSigs <= 0 {
		if identity.Len() == 1 {
			weight, ok := registry.SignatureWeight(update.Aggregate)
			if !ok {
				return 0
			}
			return int64(weight)
		}
		return 0
	}

	if newTotal == levelSize {
		return int64(completesLevelBaseScore) - int64(level)*completesLevelLevelPenalty - int64(combinedSigs)
	}
	return int64(improvementBaseScore) - int64(level)*improvementLevelPenalty +
		int64(addedSigs)*improvementAddedSigBonus - int64(combinedSigs)
}

// Verify implements Evaluator: local, context-free well-formedness checks
// against the registry and partitioner. It never touches BLS; crypto
// verification happens downstream only for updates the scorer deems
// non-zero.
func (WeightedVote) Verify(update LevelUpdate, registry Registry, partitioner Partitioner) error {
	level := int(update.Level)
	if level < 1 || level > partitioner.Levels() {
		return &InvalidLevel{Level: update.Level, MaxLevel: partitioner.Levels()}
	}

	contributors := registry.SignersIdentity(update.Aggregate.Contributors)

	if level == partitioner.Levels() {
		if contributors.Len() != partitioner.Size() {
			return &InvalidFullAggregate{Level: level}
		}
		return nil
	}

	allowed, ok := partitioner.IdentitiesOn(level)
	if !ok {
		return &InvalidLevel{Level: update.Level, MaxLevel: partitioner.Levels()}
	}

	if !allowed.Contains(int(update.Origin)) {
		return &InvalidOrigin{Origin: update.Origin, Level: level}
	}

	if update.Individual != nil {
		ind := registry.SignersIdentity(update.Individual.Contributors)
		if ind.Len() != 1 || !ind.Contains(int(update.Origin)) {
			return &InvalidIndividualContribution{Origin: update.Origin}
		}
	}

	if !allowed.IsSupersetOf(contributors) {
		return &InvalidContributors{}
	}

	return nil
}
