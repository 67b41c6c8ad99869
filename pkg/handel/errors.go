// Copyright 2025 Albatross Validators
//
// Verification Errors
// Typed local verification failures the evaluator and driver raise.
//
package handel

import "fmt"

// VerificationError is the interface every local, per-update validation
// failure implements. Receiving one never aborts an aggregation — the
// driver logs it and drops the offending update, per spec.
type VerificationError interface {
	error
	verificationError()
}

// InvalidLevel reports a LevelUpdate whose Level falls outside the
// partitioner's [1, Levels()] range.
type InvalidLevel struct {
	Level    uint8
	MaxLevel int
}

func (e *InvalidLevel) Error() string {
	return fmt.Sprintf("handel: invalid level %d, expected 1..=%d", e.Level, e.MaxLevel)
}
func (*InvalidLevel) verificationError() {}

// InvalidFullAggregate reports a final-level Aggregate whose Contributors do
// not cover every validator in the universe.
type InvalidFullAggregate struct {
	Level int
}

func (e *InvalidFullAggregate) Error() string {
	return fmt.Sprintf("handel: final-level aggregate at level %d does not cover every validator", e.Level)
}
func (*InvalidFullAggregate) verificationError() {}

// InvalidOrigin reports a LevelUpdate whose Origin validator does not belong
// to the level's Allowed identity.
type InvalidOrigin struct {
	Origin ValidatorIndex
	Level  int
}

func (e *InvalidOrigin) Error() string {
	return fmt.Sprintf("handel: origin %d not allowed at level %d", e.Origin, e.Level)
}
func (*InvalidOrigin) verificationError() {}

// InvalidIndividualContribution reports a LevelUpdate.Individual whose
// Contributors is not exactly {Origin}.
type InvalidIndividualContribution struct {
	Origin ValidatorIndex
}

func (e *InvalidIndividualContribution) Error() string {
	return fmt.Sprintf("handel: individual contribution does not match origin %d", e.Origin)
}
func (*InvalidIndividualContribution) verificationError() {}

// InvalidContributors reports a Contribution whose Contributors bitset is
// empty, violating |Contributors| >= 1, or (from Verify) names validators
// outside the level's Allowed identity.
type InvalidContributors struct{}

func (e *InvalidContributors) Error() string {
	return "handel: contribution contributors are empty or outside the allowed set"
}
func (*InvalidContributors) verificationError() {}

// CryptoVerifyFailed reports that a well-formed update failed BLS pairing
// verification. Unlike the other VerificationError kinds this is only ever
// raised after a worker has actually run the cryptographic check.
type CryptoVerifyFailed struct {
	Level  int
	Origin ValidatorIndex
}

func (e *CryptoVerifyFailed) Error() string {
	return fmt.Sprintf("handel: signature verification failed at level %d origin %d", e.Level, e.Origin)
}
func (*CryptoVerifyFailed) verificationError() {}

// InvalidValidatorIndex reports a Validator whose Index is out of bounds for
// the set being constructed.
type InvalidValidatorIndex struct {
	Index    ValidatorIndex
	Universe int
}

func (e *InvalidValidatorIndex) Error() string {
	return fmt.Sprintf("handel: validator index %d out of bounds for universe of size %d", e.Index, e.Universe)
}

// DuplicateValidatorIndex reports two validators registered under the same
// Index in a ValidatorSet.
type DuplicateValidatorIndex struct {
	Index ValidatorIndex
}

func (e *DuplicateValidatorIndex) Error() string {
	return fmt.Sprintf("handel: duplicate validator index %d", e.Index)
}
