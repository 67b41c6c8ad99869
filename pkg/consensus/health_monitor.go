// Copyright 2025 Albatross Validators
//
// Aggregation Health Monitor
// Watches an aggregation's level-activation progress for stalls.
//
// Package consensus provides the thin collaborator surface the outer
// consensus loop (Tendermint/CometBFT in production) needs from a Handel
// aggregation: a Consumer that receives completed aggregates, and a health
// monitor that watches an aggregation's level-activation progress for
// stalls the way a block-production health monitor watches chain height.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

var (
	// ErrAggregationStalled indicates no level has completed for longer than
	// the configured stall threshold.
	ErrAggregationStalled = errors.New("aggregation stalled: no level progress")
)

// ProgressFetcher reports how far an aggregation has progressed. The Handel
// driver does not implement it itself; cmd/handel-node adapts
// AggregationHandle.Progress to it, so the driver does not depend on this
// package.
type ProgressFetcher interface {
	Progress(ctx context.Context) (AggregationProgress, error)
}

// AggregationProgress is a point-in-time snapshot of an aggregation's level
// activity.
type AggregationProgress struct {
	HighestCompletedLevel int
	ActiveLevel           int
	TotalLevels           int
}

// HealthMonitorConfig configures the stall monitor.
type HealthMonitorConfig struct {
	StallThreshold time.Duration // alert if no level completes for this long
	CheckInterval  time.Duration // how often to poll ProgressFetcher
}

// DefaultHealthMonitorConfig returns sane defaults for a per-level timeout in
// the few-hundred-millisecond range.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		StallThreshold: 10 * time.Second,
		CheckInterval:  1 * time.Second,
	}
}

// StallMonitor watches an aggregation's level-completion progress and fires
// a callback when it appears stuck.
type StallMonitor struct {
	mu sync.RWMutex

	stallThreshold time.Duration
	checkInterval  time.Duration

	lastCompletedLevel int
	lastProgressTime   time.Time
	isStalled          bool
	consecutiveStalls  int

	onStallDetected func(level int, stallDuration time.Duration)
	onRecovery      func(level int)

	fetcher ProgressFetcher
	logger  *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewStallMonitor creates a stall monitor for the given progress source.
func NewStallMonitor(cfg HealthMonitorConfig, fetcher ProgressFetcher) *StallMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &StallMonitor{
		stallThreshold:   cfg.StallThreshold,
		checkInterval:    cfg.CheckInterval,
		fetcher:          fetcher,
		lastProgressTime: time.Now(),
		logger:           log.New(log.Writer(), "[StallMonitor] ", log.LstdFlags),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// SetOnStallDetected sets the callback invoked the moment a stall is first observed.
func (m *StallMonitor) SetOnStallDetected(fn func(level int, stallDuration time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStallDetected = fn
}

// SetOnRecovery sets the callback invoked when progress resumes after a stall.
func (m *StallMonitor) SetOnRecovery(fn func(level int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onRecovery = fn
}

// Start begins the monitoring loop in a background goroutine.
func (m *StallMonitor) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("stall monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	go m.monitorLoop()
	return nil
}

// Stop halts the monitoring loop.
func (m *StallMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.running = false
}

// Check performs a single progress check and returns ErrAggregationStalled if
// the aggregation has not completed a new level within the stall threshold.
func (m *StallMonitor) Check() error {
	if m.fetcher == nil {
		return fmt.Errorf("progress fetcher not configured")
	}

	ctx, cancel := context.WithTimeout(m.ctx, 2*time.Second)
	defer cancel()

	progress, err := m.fetcher.Progress(ctx)
	if err != nil {
		return fmt.Errorf("fetch aggregation progress: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	if progress.HighestCompletedLevel == m.lastCompletedLevel {
		stallDuration := now.Sub(m.lastProgressTime)
		if stallDuration > m.stallThreshold {
			if !m.isStalled {
				m.isStalled = true
				m.consecutiveStalls++
				m.logger.Printf("aggregation stalled at level=%d duration=%v consecutive=%d",
					m.lastCompletedLevel, stallDuration, m.consecutiveStalls)
				if m.onStallDetected != nil {
					go m.onStallDetected(m.lastCompletedLevel, stallDuration)
				}
			}
			return ErrAggregationStalled
		}
		return nil
	}

	wasStalled := m.isStalled
	m.lastCompletedLevel = progress.HighestCompletedLevel
	m.lastProgressTime = now
	m.isStalled = false

	if wasStalled {
		m.logger.Printf("aggregation resumed progress at level=%d", progress.HighestCompletedLevel)
		if m.onRecovery != nil {
			go m.onRecovery(progress.HighestCompletedLevel)
		}
	}
	return nil
}

func (m *StallMonitor) monitorLoop() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			_ = m.Check()
		}
	}
}
