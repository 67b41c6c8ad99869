// Copyright 2025 Albatross Validators
//
// Package handel
// Core validator-index and key-material aliases for the aggregation protocol.
//
// Package handel implements a Handel-style weighted BLS signature
// aggregation protocol: a level-partitioned, scoring-driven gossip
// algorithm that lets a fixed validator universe converge on a single
// aggregate signature in O(log N) communication rounds.
package handel

import (
	"github.com/albatross-validator/handel/pkg/crypto/bls"
)

// ValidatorIndex identifies one member of the fixed, aggregation-wide
// validator universe [0, N).
type ValidatorIndex int

// PublicKey is a validator's BLS12-381 public key.
type PublicKey = bls.PublicKey

// PrivateKey is a validator's BLS12-381 private signing key.
type PrivateKey = bls.PrivateKey

// Signature is a BLS12-381 signature, individual or aggregate — the two are
// bit-for-bit indistinguishable, only the accompanying Contributors bitset
// tells them apart.
type Signature = bls.Signature
