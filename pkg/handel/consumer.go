// Copyright 2025 Albatross Validators
//
// Aggregation Consumer
// Minimal interface the outer consensus loop implements to observe completed aggregates.
//
package handel

// Consumer is the minimal interface the outer consensus loop implements to
// receive a finished aggregation. In production this is the
// Tendermint/CometBFT round that requested the signature aggregation; the
// driver never imports that engine directly, it only calls this interface
// exactly once per aggregation, when it resolves.
type Consumer interface {
	OnAggregateComplete(id AggregationID, agg Contribution)
}
