// Copyright 2025 Albatross Validators
//
// Aggregation Driver
// The receive/verify/activate/send/terminate main loop and its AggregationHandle.
//
package handel

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/albatross-validator/handel/pkg/metrics"
)

// Driver runs one aggregation to completion: receive, crypto-verify,
// level-activation, round-robin send, and termination, all driven from a
// single goroutine that owns the level timers and I/O, per the protocol's
// single-threaded-cooperative-task-per-aggregation concurrency model. The
// contribution store is the only state shared with the verification worker
// pool, guarded by its own sync.RWMutex.
type Driver struct {
	id          AggregationID
	store       Store
	evaluator   Evaluator
	registry    Registry
	partitioner Partitioner
	bls         BLS
	net         Network
	consumer    Consumer
	own         IndividualContribution
	message     []byte
	cfg         Config
	logger      *log.Logger
	metrics     *metrics.Collectors

	queue *verifyQueue
	seq   uint64

	activeLevels  map[int]bool
	levelOpenedAt map[int]time.Time
	sendCursor    map[int]int

	resultsCh chan verifyResult
	nextBest  chan Contribution
	result    chan Contribution
	resolved  bool

	progressMu       sync.Mutex
	highestCompleted int
	activeLevel      int
}

// LevelProgress is a point-in-time snapshot of a running aggregation's level
// activity, read by an external health monitor without touching any of the
// driver's internal, single-goroutine-owned state.
type LevelProgress struct {
	HighestCompletedLevel int
	ActiveLevel           int
	TotalLevels           int
}

type verifyResult struct {
	update *LevelUpdate
	ok     bool
}

// AggregationHandle is the external control surface for a running
// aggregation: a monotone stream of improving best aggregates, a single
// terminal result, and cancellation.
type AggregationHandle struct {
	driver *Driver
	cancel context.CancelFunc
}

// NextBest returns a channel delivering a level's best aggregate each time a
// verified update widens it, at any level. A value is dropped rather than
// blocking the driver when the channel's buffer is full.
func (h *AggregationHandle) NextBest() <-chan Contribution { return h.driver.nextBest }

// Result returns a channel that delivers exactly once: the final full
// aggregate, or nothing if the aggregation is cancelled first.
func (h *AggregationHandle) Result() <-chan Contribution { return h.driver.result }

// Cancel aborts the aggregation: pending sends/receives are dropped and the
// store is torn down. Partial results are not persisted.
func (h *AggregationHandle) Cancel() { h.cancel() }

// Progress reports a snapshot of level-activation progress, safe to call
// from any goroutine; a health monitor polls this to detect a stalled
// aggregation without depending on handel internals.
func (h *AggregationHandle) Progress() LevelProgress { return h.driver.Progress() }

// Progress implements the read side of LevelProgress for Driver.
func (d *Driver) Progress() LevelProgress {
	d.progressMu.Lock()
	defer d.progressMu.Unlock()
	return LevelProgress{
		HighestCompletedLevel: d.highestCompleted,
		ActiveLevel:           d.activeLevel,
		TotalLevels:           d.partitioner.Levels(),
	}
}

// StartAggregation constructs a Driver and launches its run loop in a new
// goroutine, returning a handle to observe and control it.
func StartAggregation(
	ctx context.Context,
	id AggregationID,
	registry Registry,
	partitioner Partitioner,
	store Store,
	bls BLS,
	net Network,
	own IndividualContribution,
	signedMessage []byte,
	consumer Consumer,
	cfg Config,
) *AggregationHandle {
	runCtx, cancel := context.WithCancel(ctx)

	d := &Driver{
		id:            id,
		store:         store,
		evaluator:     NewWeightedVote(),
		registry:      registry,
		partitioner:   partitioner,
		bls:           bls,
		net:           net,
		consumer:      consumer,
		own:           own,
		message:       signedMessage,
		cfg:           cfg,
		logger:        log.New(os.Stderr, fmt.Sprintf("[handel %s] ", id.String()), log.LstdFlags),
		queue:         newVerifyQueue(cfg.VerifyQueueSize),
		activeLevels:  map[int]bool{1: true},
		levelOpenedAt: map[int]time.Time{1: time.Now()},
		sendCursor:    map[int]int{},
		resultsCh:     make(chan verifyResult, cfg.VerifyWorkers*2),
		nextBest:      make(chan Contribution, 32),
		result:        make(chan Contribution, 1),
	}

	go d.run(runCtx)

	return &AggregationHandle{driver: d, cancel: cancel}
}

// WithMetrics attaches a metrics collector set; wired by the caller after
// construction so driver tests can run without a Prometheus registry.
func (h *AggregationHandle) WithMetrics(m *metrics.Collectors) *AggregationHandle {
	h.driver.metrics = m
	return h
}

func (d *Driver) run(ctx context.Context) {
	sendTicker := time.NewTicker(d.cfg.SendInterval)
	defer sendTicker.Stop()
	levelCheckTicker := time.NewTicker(d.cfg.LevelTimeout / 4)
	defer levelCheckTicker.Stop()

	jobs := make(chan *verifyEntry, d.cfg.VerifyWorkers)
	for i := 0; i < d.cfg.VerifyWorkers; i++ {
		go d.verifyWorker(ctx, jobs)
	}
	defer close(jobs)

	for {
		select {
		case <-ctx.Done():
			d.logger.Printf("aggregation cancelled")
			return

		case update, ok := <-d.net.Receive():
			if !ok {
				return
			}
			d.handleReceive(update)

		case res := <-d.resultsCh:
			d.handleVerifyResult(res)

		case <-levelCheckTicker.C:
			d.activateDueLevels()

		case <-sendTicker.C:
			d.sendRound()
		}

		if d.dispatchPending(jobs) {
			continue
		}

		if d.checkTermination() {
			return
		}
	}
}

// handleReceive verifies well-formedness, scores the update, and either
// drops it (score zero) or enqueues it for crypto verification.
func (d *Driver) handleReceive(update *LevelUpdate) {
	if d.metrics != nil {
		d.metrics.ContributionsReceived.WithLabelValues(d.id.String()).Inc()
	}

	if err := d.evaluator.Verify(*update, d.registry, d.partitioner); err != nil {
		d.logger.Printf("dropping invalid update from %d: %v", update.Origin, err)
		d.drop("invalid")
		return
	}

	scoreStart := time.Now()
	score := d.evaluator.Evaluate(*update, d.store, d.registry, d.partitioner)
	if d.metrics != nil {
		d.metrics.ScoringLatency.Observe(time.Since(scoreStart).Seconds())
	}
	if score == 0 {
		d.drop("zero_score")
		return
	}

	d.seq++
	if !d.queue.Offer(&verifyEntry{update: update, score: score, seq: d.seq}) {
		d.drop("queue_full")
	}
}

func (d *Driver) drop(reason string) {
	if d.metrics != nil {
		d.metrics.ContributionsDropped.WithLabelValues(d.id.String(), reason).Inc()
	}
}

// dispatchPending feeds the highest-score queued entry to a verification
// worker if one can accept it without blocking. Returns true if it dispatched
// something, so the caller can loop back around for more without waiting on
// the next external event.
func (d *Driver) dispatchPending(jobs chan<- *verifyEntry) bool {
	if d.metrics != nil {
		d.metrics.VerifyQueueDepth.WithLabelValues(d.id.String()).Set(float64(d.queue.Len()))
	}
	entry := d.queue.PopBest()
	if entry == nil {
		return false
	}
	select {
	case jobs <- entry:
		return true
	default:
		// all workers busy; put it back and try again on the next loop tick
		d.queue.Offer(entry)
		return false
	}
}

func (d *Driver) verifyWorker(ctx context.Context, jobs <-chan *verifyEntry) {
	for entry := range jobs {
		level := int(entry.update.Level)
		contributors := d.registry.SignersIdentity(entry.update.Aggregate.Contributors)
		signers := d.signerKeys(contributors)

		ok := d.bls.Verify(entry.update.Aggregate, signers, d.message)
		if ok && entry.update.Individual != nil {
			indSigners := d.signerKeys(d.registry.SignersIdentity(entry.update.Individual.Contributors))
			ok = d.bls.Verify(entry.update.Individual.Contribution, indSigners, d.message)
		}
		_ = level

		select {
		case d.resultsCh <- verifyResult{update: entry.update, ok: ok}:
		case <-ctx.Done():
			return
		}
	}
}

// KeyedRegistry is a Registry that can also resolve contributor public keys,
// needed to verify a BLS aggregate. Not every Registry (e.g. test doubles)
// carries key material, so the driver type-asserts for it rather than
// requiring it on Registry itself.
type KeyedRegistry interface {
	Registry
	PublicKeys(contributors Identity) []PublicKey
}

func (d *Driver) signerKeys(contributors Identity) []PublicKey {
	if kr, ok := d.registry.(KeyedRegistry); ok {
		return kr.PublicKeys(contributors)
	}
	return nil
}

func (d *Driver) handleVerifyResult(res verifyResult) {
	level := int(res.update.Level)
	if !res.ok {
		d.logger.Printf("crypto verification failed: level=%d origin=%d", level, res.update.Origin)
		d.drop("crypto_verify_failed")
		return
	}

	prevSize := 0
	if prev, ok := d.store.Best(level); ok {
		prevSize = prev.Contributors.Len()
	}
	if err := d.store.PutBest(level, res.update.Aggregate); err != nil {
		d.logger.Printf("store rejected aggregate at level=%d: %v", level, err)
	}
	if res.update.Individual != nil {
		if err := d.store.PutIndividual(level, *res.update.Individual); err != nil {
			d.logger.Printf("store rejected individual at level=%d: %v", level, err)
		}
	}

	if best, ok := d.store.Best(level); ok {
		if d.metrics != nil {
			d.metrics.BestContributionSize.WithLabelValues(d.id.String(), fmt.Sprintf("%d", level)).Set(float64(best.Contributors.Len()))
		}
		if best.Contributors.Len() > prevSize {
			select {
			case d.nextBest <- best:
			default:
			}
		}
		if best.Contributors.Len() == d.partitioner.LevelSize(level) {
			if d.metrics != nil {
				d.metrics.LevelsCompleted.WithLabelValues(d.id.String()).Inc()
			}
			d.progressMu.Lock()
			if level > d.highestCompleted {
				d.highestCompleted = level
			}
			d.progressMu.Unlock()
		}
	}
}

// activateDueLevels opens level l+1 once level l is complete or its
// per-level timeout has elapsed.
func (d *Driver) activateDueLevels() {
	topBinaryLevel := d.partitioner.Levels() - 1
	for l := 1; l <= topBinaryLevel; l++ {
		if !d.activeLevels[l] {
			continue
		}
		if d.activeLevels[l+1] {
			continue
		}
		complete := false
		if best, ok := d.store.Best(l); ok {
			complete = best.Contributors.Len() == d.partitioner.LevelSize(l)
		}
		timedOut := time.Since(d.levelOpenedAt[l]) >= d.cfg.LevelTimeout
		if (complete || timedOut) && l+1 <= topBinaryLevel {
			d.activeLevels[l+1] = true
			d.levelOpenedAt[l+1] = time.Now()
			d.progressMu.Lock()
			d.activeLevel = l + 1
			d.progressMu.Unlock()
		}
	}
}

// sendRound advances the round-robin cursor for every active level and
// transmits the current best known aggregate, paired with our own individual
// contribution, to the next peer in sequence. Sends advance even when
// nothing new is known, to keep peers in sync.
func (d *Driver) sendRound() {
	for l := range d.activeLevels {
		if !d.activeLevels[l] {
			continue
		}
		allowed, ok := d.partitioner.IdentitiesOn(l)
		if !ok || allowed.IsEmpty() {
			continue
		}
		peers := allowed.Indices()
		idx := d.sendCursor[l] % len(peers)
		d.sendCursor[l] = (idx + 1) % len(peers)
		peer := ValidatorIndex(peers[idx])

		best, hasBest := d.store.Best(l)
		if !hasBest {
			best = d.own.Contribution
		}
		update := &LevelUpdate{
			Aggregate:  best,
			Individual: &d.own,
			Level:      uint8(l),
			Origin:     d.own.Origin,
		}
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
		if err := d.net.SendTo(ctx, peer, update); err != nil {
			d.logger.Printf("send to peer %d at level %d failed: %v", peer, l, err)
		}
		cancel()
	}
}

// checkTermination resolves the aggregation once the highest real binary
// level's best aggregate covers every other validator: combined with our own
// individual contribution, that is a full-validator aggregate, emitted as
// the level-L final update.
func (d *Driver) checkTermination() bool {
	if d.resolved {
		return true
	}

	finalLevel := d.partitioner.Levels()
	if received, ok := d.store.Best(finalLevel); ok && received.Contributors.Len() == d.partitioner.Size() {
		d.resolved = true
		if d.consumer != nil {
			d.consumer.OnAggregateComplete(d.id, received)
		}
		select {
		case d.result <- received:
		default:
		}
		return true
	}

	topBinaryLevel := finalLevel - 1
	best, ok := d.store.Best(topBinaryLevel)
	if !ok || best.Contributors.Len() != d.partitioner.LevelSize(topBinaryLevel) {
		return false
	}

	finalSig, err := d.bls.Aggregate(best.Signature, d.own.Signature)
	if err != nil {
		d.logger.Printf("failed to combine final aggregate: %v", err)
		return false
	}
	finalContributors, err := best.Contributors.Union(d.own.Contributors, false)
	if err != nil {
		d.logger.Printf("own contribution already present in top-level best: %v", err)
		return false
	}
	final := Contribution{Signature: finalSig, Contributors: finalContributors}

	d.resolved = true
	d.broadcastFinal(final)
	if d.consumer != nil {
		d.consumer.OnAggregateComplete(d.id, final)
	}
	select {
	case d.result <- final:
	default:
	}
	return true
}

// broadcastFinal disseminates the completed full-validator aggregate as a
// level-L update so every peer converges on the same terminal result,
// rather than each independently combining its own individual contribution.
func (d *Driver) broadcastFinal(final Contribution) {
	allowed, ok := d.partitioner.IdentitiesOn(d.partitioner.Levels())
	if !ok {
		return
	}
	update := &LevelUpdate{
		Aggregate: final,
		Level:     uint8(d.partitioner.Levels()),
		Origin:    d.own.Origin,
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeout)
	defer cancel()
	for _, peer := range allowed.Indices() {
		if ValidatorIndex(peer) == d.own.Origin {
			continue
		}
		if err := d.net.SendTo(ctx, ValidatorIndex(peer), update); err != nil {
			d.logger.Printf("broadcast final to peer %d failed: %v", peer, err)
		}
	}
}
