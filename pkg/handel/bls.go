// Copyright 2025 Albatross Validators
//
// BLS Adapter
// Adapts pkg/crypto/bls to the aggregation driver's narrow Sign/Verify/Aggregate surface.
//
package handel

import (
	"fmt"

	"github.com/albatross-validator/handel/pkg/crypto/bls"
)

// BLS is the cryptographic verification surface the aggregation driver
// needs. It is kept narrow and swappable so the driver and evaluator never
// import the curve library directly — only this package's adapter does.
type BLS interface {
	// Verify checks that aggregate.Signature is a valid BLS aggregate
	// signature over message by exactly the public keys of signers.
	Verify(aggregate Contribution, signers []PublicKey, message []byte) bool
	// Aggregate combines two signatures (individual or aggregate) into one.
	Aggregate(a, b Signature) (Signature, error)
	// Sign produces an individual signature over message under sk.
	Sign(sk *PrivateKey, message []byte) Signature
}

// blsAdapter implements BLS on top of pkg/crypto/bls's gnark-crypto
// BLS12-381 implementation, using the HANDEL_LEVEL_UPDATE_V1 domain
// separation tag for every signature it produces or checks.
type blsAdapter struct{}

// NewBLS returns the production BLS adapter.
func NewBLS() BLS {
	return blsAdapter{}
}

// Verify implements BLS.
func (blsAdapter) Verify(aggregate Contribution, signers []PublicKey, message []byte) bool {
	pkPtrs := make([]*bls.PublicKey, len(signers))
	for i := range signers {
		pk := signers[i]
		pkPtrs[i] = &pk
	}
	sig := aggregate.Signature
	return bls.VerifyAggregateSignatureWithDomain(&sig, pkPtrs, message, bls.DomainHandelUpdate)
}

// Aggregate implements BLS.
func (blsAdapter) Aggregate(a, b Signature) (Signature, error) {
	combined, err := bls.AggregateSignatures([]*bls.Signature{&a, &b})
	if err != nil {
		return Signature{}, fmt.Errorf("aggregate signatures: %w", err)
	}
	return *combined, nil
}

// Sign implements BLS.
func (blsAdapter) Sign(sk *PrivateKey, message []byte) Signature {
	return *sk.SignWithDomain(message, bls.DomainHandelUpdate)
}
