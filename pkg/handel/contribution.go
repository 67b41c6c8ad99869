// Copyright 2025 Albatross Validators
//
// Contribution Wire Types
// Contribution, IndividualContribution, and the LevelUpdate wire envelope.
//
package handel

import (
	"encoding/binary"
	"fmt"

	"github.com/albatross-validator/handel/pkg/crypto/bls"
)

// Contribution is a BLS signature — individual or aggregate — together with
// the bitset of validators whose individual signatures it combines.
// Invariant: len(Contributors) >= 1, and Contributors must equal exactly the
// signers folded into Signature.
type Contribution struct {
	Signature    Signature
	Contributors Identity
}

// NewContribution builds a Contribution, rejecting an empty Contributors set.
func NewContribution(sig Signature, contributors Identity) (Contribution, error) {
	if contributors.IsEmpty() {
		return Contribution{}, &InvalidContributors{}
	}
	return Contribution{Signature: sig, Contributors: contributors}, nil
}

// IndividualContribution is a Contribution with exactly one contributor.
type IndividualContribution struct {
	Contribution
	Origin ValidatorIndex
}

// NewIndividualContribution builds an IndividualContribution whose
// Contributors is exactly {origin}.
func NewIndividualContribution(sig Signature, origin ValidatorIndex, universe int) (IndividualContribution, error) {
	id, err := IdentityFromIndices(universe, int(origin))
	if err != nil {
		return IndividualContribution{}, err
	}
	c, err := NewContribution(sig, id)
	if err != nil {
		return IndividualContribution{}, err
	}
	return IndividualContribution{Contribution: c, Origin: origin}, nil
}

// LevelUpdate is the wire message exchanged between peers: the sender's best
// aggregate at Level, optionally paired with the sender's own individual
// signature so a receiver seeing this level for the first time can bootstrap
// its IndividualsVerified set from a single message.
//
// Invariant: if Individual is non-nil, its sole contributor equals Origin.
type LevelUpdate struct {
	Aggregate  Contribution
	Individual *IndividualContribution
	Level      uint8
	Origin     ValidatorIndex
}

// Validate checks the LevelUpdate's local, context-free invariants (not
// against any Registry or Partitioner — that happens in the evaluator).
func (u *LevelUpdate) Validate() error {
	if u.Aggregate.Contributors.IsEmpty() {
		return &InvalidContributors{}
	}
	if u.Individual != nil {
		if u.Individual.Origin != u.Origin {
			return &InvalidIndividualContribution{Origin: u.Origin}
		}
		if u.Individual.Contributors.Len() != 1 || !u.Individual.Contributors.Contains(int(u.Origin)) {
			return &InvalidIndividualContribution{Origin: u.Origin}
		}
	}
	return nil
}

// MarshalBinary encodes the LevelUpdate as:
//
//	level(1) origin(4) hasIndividual(1) aggregateLen(4) aggregate(aggregateLen)
//	[individualLen(4) individual(individualLen)]
//
// Each contribution is encoded as a 4-byte signature length, the signature
// bytes, the 4-byte universe size N, a 4-byte word count, and that many
// big-endian uint64 bitset words. UnmarshalBinary rejects a contribution
// whose encoded N differs from the universe the caller supplies.
func (u *LevelUpdate) MarshalBinary() ([]byte, error) {
	aggBytes, err := marshalContribution(u.Aggregate)
	if err != nil {
		return nil, fmt.Errorf("marshal level update aggregate: %w", err)
	}

	hasIndividual := byte(0)
	var indBytes []byte
	if u.Individual != nil {
		hasIndividual = 1
		indBytes, err = marshalContribution(u.Individual.Contribution)
		if err != nil {
			return nil, fmt.Errorf("marshal level update individual: %w", err)
		}
	}

	buf := make([]byte, 0, 1+4+1+len(aggBytes)+4+len(indBytes))
	buf = append(buf, u.Level)
	buf = appendUint32(buf, uint32(u.Origin))
	buf = append(buf, hasIndividual)
	buf = appendUint32(buf, uint32(len(aggBytes)))
	buf = append(buf, aggBytes...)
	if hasIndividual == 1 {
		buf = appendUint32(buf, uint32(len(indBytes)))
		buf = append(buf, indBytes...)
	}
	return buf, nil
}

// UnmarshalBinary decodes a LevelUpdate encoded by MarshalBinary. universe
// must be supplied by the caller (the codec layer knows it from the
// aggregation's ValidatorSet) so Contributors bitsets decode with the right
// word count.
func (u *LevelUpdate) UnmarshalBinary(data []byte, universe int) error {
	if len(data) < 6 {
		return fmt.Errorf("handel: level update too short: %d bytes", len(data))
	}
	u.Level = data[0]
	u.Origin = ValidatorIndex(readUint32(data[1:5]))
	hasIndividual := data[5] != 0
	offset := 6

	aggLen, err := readLenPrefixed(data, offset)
	if err != nil {
		return err
	}
	offset += 4
	if int(aggLen) > len(data)-offset {
		return fmt.Errorf("handel: level update aggregate truncated")
	}
	agg, err := unmarshalContribution(data[offset:offset+int(aggLen)], universe)
	if err != nil {
		return fmt.Errorf("unmarshal level update aggregate: %w", err)
	}
	u.Aggregate = agg
	offset += int(aggLen)

	if hasIndividual {
		indLen, err := readLenPrefixed(data, offset)
		if err != nil {
			return err
		}
		offset += 4
		if int(indLen) > len(data)-offset {
			return fmt.Errorf("handel: level update individual truncated")
		}
		indContribution, err := unmarshalContribution(data[offset:offset+int(indLen)], universe)
		if err != nil {
			return fmt.Errorf("unmarshal level update individual: %w", err)
		}
		u.Individual = &IndividualContribution{Contribution: indContribution, Origin: u.Origin}
	} else {
		u.Individual = nil
	}

	return u.Validate()
}

func marshalContribution(c Contribution) ([]byte, error) {
	sigBytes := c.Signature.Bytes()
	words := c.Contributors.words
	buf := make([]byte, 0, 4+len(sigBytes)+4+4+len(words)*8)
	buf = appendUint32(buf, uint32(len(sigBytes)))
	buf = append(buf, sigBytes...)
	buf = appendUint32(buf, uint32(c.Contributors.n))
	buf = appendUint32(buf, uint32(len(words)))
	for _, w := range words {
		buf = binary.BigEndian.AppendUint64(buf, w)
	}
	return buf, nil
}

func unmarshalContribution(data []byte, universe int) (Contribution, error) {
	if len(data) < 4 {
		return Contribution{}, fmt.Errorf("handel: contribution too short")
	}
	sigLen := readUint32(data[0:4])
	offset := 4
	if offset+int(sigLen) > len(data) {
		return Contribution{}, fmt.Errorf("handel: contribution signature truncated")
	}
	sigPtr, err := bls.SignatureFromBytes(data[offset : offset+int(sigLen)])
	if err != nil {
		return Contribution{}, err
	}
	sig := *sigPtr
	offset += int(sigLen)

	if offset+8 > len(data) {
		return Contribution{}, fmt.Errorf("handel: contribution identity header truncated")
	}
	n := int(readUint32(data[offset : offset+4]))
	wordCount := int(readUint32(data[offset+4 : offset+8]))
	offset += 8

	if n != universe {
		return Contribution{}, fmt.Errorf("handel: contribution universe mismatch: wire=%d local=%d", n, universe)
	}
	if offset+wordCount*8 > len(data) {
		return Contribution{}, fmt.Errorf("handel: contribution words truncated")
	}
	words := make([]uint64, wordCount)
	for i := 0; i < wordCount; i++ {
		words[i] = binary.BigEndian.Uint64(data[offset+i*8 : offset+i*8+8])
	}
	offset += wordCount * 8

	id := Identity{n: n, words: words}
	return Contribution{Signature: sig, Contributors: id}, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(buf, v)
}

func readUint32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func readLenPrefixed(data []byte, offset int) (uint32, error) {
	if offset+4 > len(data) {
		return 0, fmt.Errorf("handel: level update length prefix truncated")
	}
	return readUint32(data[offset : offset+4]), nil
}
