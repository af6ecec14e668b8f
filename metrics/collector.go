// Package metrics batches hook events in memory and fans them out to
// sinks. A hook process must never stall a git operation on metrics
// I/O, so events queue locally and flush at a size threshold, on an
// interval, and unconditionally in the runner's deferred cleanup.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/telemetry"
)

// Event is one measurement. Value is 1 for plain occurrences; scores
// and durations carry their measured value.
type Event struct {
	Name      string            `json:"name"`
	Timestamp time.Time         `json:"ts"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Sink receives flushed batches. Write errors are logged by the
// collector and never propagate to the hook decision.
type Sink interface {
	Write(ctx context.Context, batch []Event) error
	Close() error
}

// Collector buffers events for one hook invocation.
type Collector struct {
	mu     sync.Mutex
	buffer []Event

	sinks     []Sink
	batchSize int
	logger    *telemetry.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCollector builds a collector over the given sinks. A positive
// flush interval starts the background loop; the hook runner's
// deferred Close covers processes too short for the loop to tick.
func NewCollector(cfg config.MetricsConfig, logger *telemetry.Logger, sinks ...Sink) *Collector {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 20
	}

	c := &Collector{
		buffer:    make([]Event, 0, batchSize),
		sinks:     sinks,
		batchSize: batchSize,
		logger:    logger,
	}

	if interval := time.Duration(cfg.FlushIntervalMs) * time.Millisecond; interval > 0 && len(sinks) > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.wg.Add(1)
		go c.flushLoop(ctx, interval)
	}

	return c
}

// FromConfig wires the sinks the config asks for. Disabled metrics
// yield a collector with no sinks; Record stays cheap and Flush is a
// no-op.
func FromConfig(cfg config.MetricsConfig, logger *telemetry.Logger) *Collector {
	if !cfg.Enabled {
		return NewCollector(cfg, logger)
	}

	var sinks []Sink
	if cfg.Dir != "" {
		sinks = append(sinks, NewFileSink(cfg.Dir))
	}
	if cfg.PushgatewayURL != "" {
		sinks = append(sinks, NewPushgatewaySink(cfg.PushgatewayURL, "vahti"))
	}
	return NewCollector(cfg, logger, sinks...)
}

// Record queues one event, flushing if the batch is full.
func (c *Collector) Record(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, Event{
		Name:      name,
		Timestamp: time.Now().UTC(),
		Value:     value,
		Labels:    labels,
	})

	if len(c.buffer) >= c.batchSize {
		c.flushLocked(context.Background())
	}
}

// Count records an occurrence event with value 1.
func (c *Collector) Count(name string, labels map[string]string) {
	c.Record(name, 1, labels)
}

// Flush drains the buffer to every sink.
func (c *Collector) Flush(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(ctx)
}

// flushLocked writes to all sinks, continuing past individual sink
// failures so one dead backend cannot starve the others.
func (c *Collector) flushLocked(ctx context.Context) {
	if len(c.buffer) == 0 || len(c.sinks) == 0 {
		c.buffer = c.buffer[:0]
		return
	}

	batch := make([]Event, len(c.buffer))
	copy(batch, c.buffer)
	c.buffer = c.buffer[:0]

	for _, sink := range c.sinks {
		if err := sink.Write(ctx, batch); err != nil {
			c.logger.WithContext(ctx).Warn().Err(err).Int("events", len(batch)).Msg("metrics sink write failed")
		}
	}
}

func (c *Collector) flushLoop(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the flush loop, drains the buffer, and closes sinks.
func (c *Collector) Close() error {
	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
	}

	c.Flush(context.Background())

	var firstErr error
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
