// Package scheduler drives the sampling cadence.
//
// One goroutine collects a snapshot every update interval and records it in
// the store; a second fires the age-based consolidation check so a slow
// cadence still produces consolidated entries. Both stop on shutdown with a
// drain timeout.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nvalkyr/vigil/internal/collector"
	"github.com/nvalkyr/vigil/internal/errors"
	"github.com/nvalkyr/vigil/internal/logging"
	"github.com/nvalkyr/vigil/internal/store"
)

var log = logging.Component("scheduler")

// Config holds scheduler configuration.
type Config struct {
	// UpdateInterval is the sampling cadence.
	UpdateInterval time.Duration

	// CollectTimeout bounds a single collection. Zero derives it from the
	// update interval (half the interval, at least one second).
	CollectTimeout time.Duration

	// ConsolidationMaxAge bounds how long a partial window may accumulate
	// before it is consolidated regardless of size. Zero disables the
	// age-based check.
	ConsolidationMaxAge time.Duration

	// DrainTimeout is how long Stop waits for an in-flight collection.
	DrainTimeout time.Duration
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:      10 * time.Second,
		ConsolidationMaxAge: time.Minute,
		DrainTimeout:        10 * time.Second,
	}
}

func (c *Config) collectTimeout() time.Duration {
	if c.CollectTimeout > 0 {
		return c.CollectTimeout
	}
	t := c.UpdateInterval / 2
	if t < time.Second {
		t = time.Second
	}
	return t
}

// Sampler runs the collection loop.
//
// Sampler is safe for concurrent use.
type Sampler struct {
	source collector.Source
	store  *store.TieredStore
	cfg    Config

	shutdown chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Metrics
	ticks        atomic.Int64
	failures     atomic.Int64
	consecutive  atomic.Int64
	panicsCaught atomic.Int64
}

// New creates a Sampler feeding snapshots from source into st.
func New(source collector.Source, st *store.TieredStore, cfg Config) *Sampler {
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultConfig().UpdateInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultConfig().DrainTimeout
	}
	return &Sampler{
		source:   source,
		store:    st,
		cfg:      cfg,
		shutdown: make(chan struct{}),
	}
}

// Start launches the sampling and consolidation loops. The first collection
// runs immediately so the live snapshot is available without waiting a full
// interval.
func (s *Sampler) Start() {
	s.wg.Add(1)
	go s.sampleLoop()

	if s.cfg.ConsolidationMaxAge > 0 {
		s.wg.Add(1)
		go s.consolidationLoop()
	}

	log.Info("sampler started",
		"interval", s.cfg.UpdateInterval,
		"collect_timeout", s.cfg.collectTimeout())
}

// Stop stops the loops, waiting up to the drain timeout for an in-flight
// collection. Safe to call more than once.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() {
		log.Info("sampler stopping")
		close(s.shutdown)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Info("sampler stopped")
		case <-time.After(s.cfg.DrainTimeout):
			log.Warn("sampler drain timeout")
		}
	})
}

func (s *Sampler) sampleLoop() {
	defer s.wg.Done()

	s.collectOnce()

	ticker := time.NewTicker(s.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.collectOnce()
		case <-s.shutdown:
			return
		}
	}
}

func (s *Sampler) consolidationLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ConsolidationMaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.store.ConsolidateIfDue(s.cfg.ConsolidationMaxAge)
		case <-s.shutdown:
			return
		}
	}
}

// collectOnce runs a single collection with timeout and panic recovery.
// A failed tick leaves a gap; nothing synthetic enters the store.
func (s *Sampler) collectOnce() {
	s.ticks.Add(1)

	defer func() {
		if r := recover(); r != nil {
			s.panicsCaught.Add(1)
			s.failures.Add(1)
			s.consecutive.Add(1)
			log.Error("panic in collection", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.collectTimeout())
	defer cancel()

	snapshot, err := s.source.Collect(ctx)
	if err != nil {
		s.failures.Add(1)
		n := s.consecutive.Add(1)
		if errors.Is(err, errors.ErrCollectionTimeout) {
			log.Warn("collection timed out", "consecutive_failures", n)
		} else {
			log.Warn("collection failed", "error", err, "consecutive_failures", n)
		}
		return
	}
	s.consecutive.Store(0)

	s.store.Record(snapshot)
}

// Stats holds sampler counters.
type Stats struct {
	Ticks               int64 `json:"ticks"`
	Failures            int64 `json:"failures"`
	ConsecutiveFailures int64 `json:"consecutiveFailures"`
	PanicsCaught        int64 `json:"panicsCaught"`
}

// Stats returns sampler statistics.
func (s *Sampler) Stats() Stats {
	return Stats{
		Ticks:               s.ticks.Load(),
		Failures:            s.failures.Load(),
		ConsecutiveFailures: s.consecutive.Load(),
		PanicsCaught:        s.panicsCaught.Load(),
	}
}
