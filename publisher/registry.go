package publisher

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/viewsync/cfg"
	"github.com/maxpert/viewsync/reconcile"
	"github.com/maxpert/viewsync/telemetry"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the decision journal
type RegistryConfig struct {
	DataDir     string                  // For PublishLog path
	NodeID      uint64                  // Stamped on every event
	Self        reconcile.Address       // Stamped on every event
	SinkConfigs []cfg.SinkConfiguration // From config
}

// Registry owns the journal and the lifecycle of every sink worker
type Registry struct {
	log     *PublishLog
	workers []*Worker
	nodeID  uint64
	self    reconcile.Address
	now     func() time.Time
	running atomic.Bool
	stopped bool
	mu      sync.Mutex
}

// NewRegistry opens the journal at {dataDir}/journal and builds one worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if config.Self == "" {
		return nil, fmt.Errorf("self address is required")
	}

	pubLog, err := NewPublishLog(filepath.Join(config.DataDir, "journal"))
	if err != nil {
		return nil, fmt.Errorf("failed to create publish log: %w", err)
	}

	registry := &Registry{
		log:     pubLog,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
		nodeID:  config.NodeID,
		self:    config.Self,
		now:     time.Now,
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			for _, worker := range registry.workers {
				worker.config.Sink.Close()
			}
			pubLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Uint64("last_seq", pubLog.LastSeq()).
		Msg("Decision journal initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := NewSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	enc, err := createEncoder(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	filter, err := NewOutcomeFilter(config.FilterOutcomes)
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:         config.Name,
		Log:          r.log,
		Sink:         snk,
		Encoder:      enc,
		Filter:       filter,
		TopicPrefix:  config.TopicPrefix,
		BatchSize:    config.BatchSize,
		PollInterval: time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial: time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:     time.Duration(config.RetryMaxMS) * time.Millisecond,
		MaxRetries:   config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("format", config.Format).
		Msg("Added journal sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}
	if r.stopped {
		return fmt.Errorf("registry stopped")
	}

	for _, worker := range r.workers {
		worker.Start()
	}
	r.running.Store(true)

	return nil
}

// Stop stops all workers, closes their sinks and the journal
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return
	}
	r.stopped = true
	r.running.Store(false)

	for _, worker := range r.workers {
		worker.Stop()
		if err := worker.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", worker.config.Name).Msg("Failed to close sink")
		}
	}

	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}

	log.Info().Msg("Decision journal stopped")
}

// Record appends one reconciliation decision to the journal
func (r *Registry) Record(state reconcile.ClusterState, view reconcile.View) error {
	if !r.running.Load() {
		return fmt.Errorf("registry not running")
	}

	events := []DecisionEvent{NewDecisionEvent(r.nodeID, r.self, state, view, r.now())}
	if err := r.log.Append(events); err != nil {
		return err
	}

	telemetry.JournalEventsTotal.Inc()
	log.Debug().
		Uint64("seq", events[0].SeqNum).
		Uint64("view_id", view.ID).
		Str("outcome", events[0].Outcome).
		Msg("Recorded decision")
	return nil
}

// Recent returns up to limit of the newest retained events, oldest first
func (r *Registry) Recent(limit int) ([]DecisionEvent, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}

	last := r.log.LastSeq()
	var from uint64
	if last > uint64(limit) {
		from = last - uint64(limit)
	}
	return r.log.ReadFrom(from, limit)
}

// Cursors returns each sink's consumed position
func (r *Registry) Cursors() map[string]uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]uint64, len(r.workers))
	for _, w := range r.workers {
		out[w.config.Name] = w.Cursor()
	}
	return out
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// EncoderFactory is a function that creates an Encoder
type EncoderFactory func() Encoder

var (
	sinkFactories    = make(map[string]SinkFactory)
	encoderFactories = make(map[string]EncoderFactory)
	factoryMu        sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterEncoder registers an encoder factory for a format
func RegisterEncoder(format string, factory EncoderFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	encoderFactories[format] = factory
}

// NewSink builds a sink with the factory registered for config.Type
func NewSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createEncoder(format string) (Encoder, error) {
	factoryMu.RLock()
	factory, exists := encoderFactories[strings.ToLower(format)]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
