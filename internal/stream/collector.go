package stream

import (
	"sync"

	"geowatch/internal/logging"
	"geowatch/internal/provider"
)

const collectorBuffer = 256

// Collector funnels raw SSE payloads from browser network callbacks
// into a session accumulator. Callbacks fire on chromedp's event
// goroutines, so payloads go through a bounded channel drained by a
// single consumer; the accumulator itself never needs locking.
type Collector struct {
	payloads chan string
	acc      *Accumulator
	logger   *logging.Logger

	closeOnce sync.Once
	done      chan struct{}

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewCollector(logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Collector{
		payloads: make(chan string, collectorBuffer),
		acc:      NewAccumulator(),
		logger:   logger,
		done:     make(chan struct{}),
	}
	go c.consume()
	return c
}

func (c *Collector) consume() {
	defer close(c.done)
	for payload := range c.payloads {
		events := Events(payload)
		if len(events) == 0 {
			// Not SSE-framed; some endpoints answer with a plain
			// JSON body.
			Decode(payload, c.acc)
			continue
		}
		for _, event := range events {
			Decode(event, c.acc)
		}
	}
}

// Submit hands one intercepted response body (or body chunk) to the
// consumer. It never blocks the caller: if the buffer is full the
// payload is counted as dropped and skipped. Body fetches can outlive
// the session, so submissions after Close are silently discarded.
func (c *Collector) Submit(payload string) {
	if payload == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.payloads <- payload:
	default:
		c.dropped++
		c.logger.Warn("stream payload dropped, collector buffer full", "dropped_total", c.dropped)
	}
}

// Close stops the consumer and waits for queued payloads to drain.
// Safe to call more than once.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.payloads)
	})
	<-c.done
}

// Result closes the collector and returns the accumulated session
// snapshot.
func (c *Collector) Result() *provider.Result {
	c.Close()
	return c.acc.Snapshot()
}

// Dropped reports how many payloads were discarded due to backpressure.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
