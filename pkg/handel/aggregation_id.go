// Copyright 2025 Albatross Validators
//
// Aggregation Identifier
// Keccak256-derived identifier for one aggregation round.
//
package handel

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
)

// AggregationID opaquely identifies one aggregation instance for logging and
// metrics correlation. It never influences any verification or scoring
// decision.
type AggregationID [32]byte

// NewAggregationID derives an AggregationID from the block hash the
// aggregation is attesting to, its consensus round, and a view-change
// counter, the same triple the outer consensus loop uses to distinguish
// concurrent aggregation attempts after a round is skipped.
func NewAggregationID(blockHash []byte, round uint32, viewChange uint32) AggregationID {
	buf := make([]byte, 0, len(blockHash)+8)
	buf = append(buf, blockHash...)
	buf = binary.BigEndian.AppendUint32(buf, round)
	buf = binary.BigEndian.AppendUint32(buf, viewChange)
	return AggregationID(crypto.Keccak256(buf))
}

// String renders the AggregationID as a hex-prefixed string for log lines.
func (id AggregationID) String() string {
	return "0x" + hex.EncodeToString(id[:])
}
