// Copyright 2025 Albatross Validators
//
// Outer Consensus Collaborator
// Reference handel.Consumer logging completed aggregates through CometBFT's logging facade.
//
package consensus

import (
	"os"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/albatross-validator/handel/pkg/handel"
)

// LoggingConsumer is a reference handel.Consumer that logs completion
// through CometBFT's logging facade, the same one the production ABCI
// application uses for its own consensus engine. It gives the
// demonstration node harness a real consumer without pulling in a full
// CometBFT ABCI application; the driver tests use their own recording
// consumer instead.
type LoggingConsumer struct {
	logger cmtlog.Logger
}

// NewLoggingConsumer builds a LoggingConsumer writing to stdout.
func NewLoggingConsumer() *LoggingConsumer {
	return &LoggingConsumer{
		logger: cmtlog.NewTMLogger(cmtlog.NewSyncWriter(os.Stdout)),
	}
}

// OnAggregateComplete implements handel.Consumer.
func (c *LoggingConsumer) OnAggregateComplete(id handel.AggregationID, agg handel.Contribution) {
	c.logger.Info("aggregation complete", "id", id.String(), "contributors", agg.Contributors.Len())
}
