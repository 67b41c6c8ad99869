// Copyright 2025 Albatross Validators
//
// Validator Registry
// Maps a contributor bitset onto Identity and resolves signer weights/keys.
//
package handel

// Registry maps a contributor bitset onto the aggregation's Identity space
// and assigns weights to signers and contributions. Implementations are
// immutable after construction; the aggregation driver and evaluator only
// ever read from one.
type Registry interface {
	// SignersIdentity projects a raw contributor bitset onto the registry's
	// allowed universe. A registry is free to reject unknown indices by
	// excluding them from the result rather than erroring.
	SignersIdentity(contributors Identity) Identity

	// SignatureWeight sums the per-signer weight of every contributor in c.
	// ok is false if any signer is unknown to the registry.
	SignatureWeight(c Contribution) (weight uint64, ok bool)
}

// Validator describes one member of the validator universe: its fixed
// ValidatorIndex, BLS public key, and voting weight.
type Validator struct {
	Index     ValidatorIndex
	PublicKey PublicKey
	Weight    uint64
}

// ValidatorSet is the ordered roster a WeightedRegistry is built from,
// fixing N and each index's weight/public key. Partitioners are not built
// from it; they take the universe size N directly.
type ValidatorSet struct {
	validators []Validator
	byIndex    map[ValidatorIndex]Validator
}

// NewValidatorSet builds a roster from an ordered validator list. Indices
// must be unique and in [0, len(validators)).
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	n := len(validators)
	byIndex := make(map[ValidatorIndex]Validator, n)
	for _, v := range validators {
		if int(v.Index) < 0 || int(v.Index) >= n {
			return nil, &InvalidValidatorIndex{Index: v.Index, Universe: n}
		}
		if _, dup := byIndex[v.Index]; dup {
			return nil, &DuplicateValidatorIndex{Index: v.Index}
		}
		byIndex[v.Index] = v
	}
	return &ValidatorSet{validators: append([]Validator(nil), validators...), byIndex: byIndex}, nil
}

// Size returns N, the size of the validator universe.
func (vs *ValidatorSet) Size() int {
	return len(vs.validators)
}

// Get returns the validator at the given index.
func (vs *ValidatorSet) Get(i ValidatorIndex) (Validator, bool) {
	v, ok := vs.byIndex[i]
	return v, ok
}

// PublicKeys returns the BLS public keys for the given contributor identity,
// in ValidatorIndex order, suitable for BLS aggregate verification.
func (vs *ValidatorSet) PublicKeys(contributors Identity) []PublicKey {
	indices := contributors.Indices()
	out := make([]PublicKey, 0, len(indices))
	for _, i := range indices {
		if v, ok := vs.byIndex[ValidatorIndex(i)]; ok {
			out = append(out, v.PublicKey)
		}
	}
	return out
}

// WeightedRegistry is the concrete Registry used in production: a uniform or
// stake-weighted mapping built directly from a ValidatorSet.
type WeightedRegistry struct {
	set *ValidatorSet
}

// NewWeightedRegistry builds a Registry over the given validator set, using
// each validator's own Weight field.
func NewWeightedRegistry(set *ValidatorSet) *WeightedRegistry {
	return &WeightedRegistry{set: set}
}

// NewUniformRegistry builds a Registry where every validator counts as
// weight 1 — convenient for tests and for chains that vote by headcount
// rather than stake.
func NewUniformRegistry(n int) (*WeightedRegistry, error) {
	validators := make([]Validator, n)
	for i := 0; i < n; i++ {
		validators[i] = Validator{Index: ValidatorIndex(i), Weight: 1}
	}
	set, err := NewValidatorSet(validators)
	if err != nil {
		return nil, err
	}
	return NewWeightedRegistry(set), nil
}

// SignersIdentity implements Registry. Indices outside the registry's
// universe are silently dropped rather than erroring, matching the source
// protocol's "reject unknown indices by producing an empty set for that
// slot" behavior.
func (r *WeightedRegistry) SignersIdentity(contributors Identity) Identity {
	out := NewIdentity(r.set.Size())
	for _, i := range contributors.Indices() {
		if _, ok := r.set.byIndex[ValidatorIndex(i)]; ok && i < r.set.Size() {
			_ = out.add(i)
		}
	}
	return out
}

// PublicKeys returns the BLS public keys for the given contributor identity,
// for the BLS adapter to verify an aggregate against. Not part of the
// Registry interface itself — the driver type-asserts for it via
// KeyedRegistry, so a Registry that has no notion of public keys (a test
// double, say) remains a valid Registry.
func (r *WeightedRegistry) PublicKeys(contributors Identity) []PublicKey {
	return r.set.PublicKeys(contributors)
}

// SignatureWeight implements Registry.
func (r *WeightedRegistry) SignatureWeight(c Contribution) (uint64, bool) {
	var total uint64
	for _, i := range c.Contributors.Indices() {
		v, ok := r.set.byIndex[ValidatorIndex(i)]
		if !ok {
			return 0, false
		}
		total += v.Weight
	}
	return total, true
}
