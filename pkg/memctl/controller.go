package memctl

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/coriolis-mq/coriolis/pkg/events"
	"github.com/coriolis-mq/coriolis/pkg/log"
	"github.com/coriolis-mq/coriolis/pkg/metrics"
	"github.com/google/uuid"
)

// ErrNotRegistered is returned by ReportQueueDuration for a pid that
// was never Register()ed. The spec treats this as caller error; the
// controller refuses rather than silently fabricating an entry.
var ErrNotRegistered = errors.New("memctl: pid not registered")

// ErrStopped is returned by any call made after Stop.
var ErrStopped = errors.New("memctl: controller stopped")

// MemoryUsageFunc reports the process's or node's currently-used
// memory in bytes, the numerator of spec §4.5's memory ratio.
type MemoryUsageFunc func(ctx context.Context) int64

// Controller is the Memory-Pressure Feedback Controller of spec §4.5:
// a single-threaded actor (spec §5) draining a request channel from
// one goroutine, so Register/Deregister/ReportQueueDuration/Update
// never race each other regardless of caller concurrency.
type Controller struct {
	reqCh  chan func()
	stopCh chan struct{}
	doneCh chan struct{}
	stopOnce sync.Once

	vmm          VMMonitor
	usedFn       MemoryUsageFunc
	tickInterval time.Duration

	entries map[string]*ProcessEntry
	sum     float64
	count   int
	desired float64

	events *events.Broker
}

// NewController wires a Controller. tickInterval <= 0 defaults to
// DefaultTickMS (spec §4.5 TICK_MS).
func NewController(vmm VMMonitor, usedFn MemoryUsageFunc, tickInterval time.Duration) *Controller {
	if tickInterval <= 0 {
		tickInterval = DefaultTickMS * time.Millisecond
	}
	return &Controller{
		reqCh:        make(chan func()),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		vmm:          vmm,
		usedFn:       usedFn,
		tickInterval: tickInterval,
		entries:      make(map[string]*ProcessEntry),
		desired:      Inf,
	}
}

// WithEvents attaches an events.Broker that Register, Deregister, and
// push-back publish to; a nil broker (the default) skips publishing.
func (c *Controller) WithEvents(broker *events.Broker) *Controller {
	c.events = broker
	return c
}

func (c *Controller) publish(typ events.EventType, message string, metadata map[string]string) {
	if c.events == nil {
		return
	}
	c.events.Publish(&events.Event{ID: uuid.NewString(), Type: typ, Message: message, Metadata: metadata})
}

// Start launches the actor goroutine. ctx cancellation stops it; Stop
// also stops it and is safe to call regardless of ctx's state.
func (c *Controller) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop requests the actor goroutine to exit and waits for it to do so.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	clog := log.WithComponent("memctl")
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case req := <-c.reqCh:
			req()
		case <-ticker.C:
			c.updateLocked(ctx)
			clog.Debug().Float64("desired_duration", c.desired).Int("registered", len(c.entries)).Msg("memctl tick")
		}
	}
}

func (c *Controller) enqueue(ctx context.Context, fn func()) error {
	select {
	case c.reqCh <- fn:
		return nil
	case <-c.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register adds a new queue with reported=sent=∞ (spec §4.5 Register).
func (c *Controller) Register(ctx context.Context, pid string, cb Callback) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, func() {
		c.entries[pid] = &ProcessEntry{PID: pid, Reported: Inf, Sent: Inf, Callback: cb}
		metrics.MemctlRegisteredQueues.Set(float64(len(c.entries)))
		c.publish(events.EventQueueRegistered, fmt.Sprintf("queue %q registered", pid), map[string]string{"pid": pid})
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deregister removes pid, retiring its contribution to sum/count.
// Idempotent: deregistering an unknown pid is a no-op.
func (c *Controller) Deregister(ctx context.Context, pid string) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, func() {
		if e, ok := c.entries[pid]; ok {
			if e.Reported != Inf {
				c.sum = zeroClamp(c.sum - e.Reported)
				c.count--
			}
			delete(c.entries, pid)
			metrics.MemctlRegisteredQueues.Set(float64(len(c.entries)))
			c.publish(events.EventQueueDeregistered, fmt.Sprintf("queue %q deregistered", pid), map[string]string{"pid": pid})
		}
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportQueueDuration applies spec §4.5's ReportQueueDuration
// transition and returns the immediate reply synchronously.
func (c *Controller) ReportQueueDuration(ctx context.Context, pid string, d float64) (float64, error) {
	type outcome struct {
		reply float64
		err   error
	}
	resCh := make(chan outcome, 1)
	if err := c.enqueue(ctx, func() {
		reply, err := c.reportLocked(pid, d)
		resCh <- outcome{reply, err}
	}); err != nil {
		return 0, err
	}
	select {
	case o := <-resCh:
		return o.reply, o.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (c *Controller) reportLocked(pid string, d float64) (float64, error) {
	e, ok := c.entries[pid]
	if !ok {
		return 0, ErrNotRegistered
	}

	prev := e.Reported
	var reply float64
	if d != Inf && e.Sent == Inf && d < OscGuard {
		reply = Inf
	} else {
		reply = c.desired
	}

	switch {
	case prev == Inf && d == Inf:
		// unchanged
	case prev == Inf && d != Inf:
		c.sum += d
		c.count++
	case prev != Inf && d == Inf:
		c.sum -= prev
		c.count--
	default:
		c.sum += d - prev
	}
	c.sum = zeroClamp(c.sum)

	e.Reported = d
	e.Sent = reply
	return reply, nil
}

// Update runs one periodic tick synchronously; production code relies
// on the ticker inside run, tests call Update directly for determinism.
func (c *Controller) Update(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, func() {
		c.updateLocked(ctx)
		close(done)
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) updateLocked(ctx context.Context) {
	limit := c.workingLimit(ctx)
	used := c.usedFn(ctx)
	ratio := float64(used) / limit
	metrics.MemctlMemoryRatio.Set(ratio)

	var desiredPrime float64
	if ratio < LimitThreshold || c.count == 0 {
		desiredPrime = Inf
	} else {
		sumPrime := c.sum
		if ratio < SumIncThreshold {
			sumPrime += SumIncAmount
		}
		desiredPrime = (sumPrime / float64(c.count)) / ratio
	}

	shouldPush := desiredPrime != Inf && (c.desired == Inf || desiredPrime < c.desired)
	if shouldPush {
		for _, e := range c.entries {
			if !c.shouldPushEntry(e, desiredPrime) {
				continue
			}
			if e.Callback == nil {
				continue
			}
			if err := e.Callback(ctx, desiredPrime); err != nil {
				log.WithComponent("memctl").Warn().Str("pid", e.PID).Err(err).Msg("push-back callback failed")
				continue
			}
			e.Sent = desiredPrime
			metrics.MemctlPushesTotal.Inc()
			c.publish(events.EventPushBack, fmt.Sprintf("pushed queue %q to %.3fs", e.PID, desiredPrime), map[string]string{"pid": e.PID})
		}
	}

	c.desired = desiredPrime
	metrics.MemctlDesiredDuration.Set(desiredPrime)
}

// shouldPushEntry applies spec §4.5's per-entry push-back table.
func (c *Controller) shouldPushEntry(e *ProcessEntry, desiredPrime float64) bool {
	switch {
	case e.Reported == Inf && e.Sent == Inf:
		return true
	case e.Reported == Inf && e.Sent != Inf:
		return desiredPrime < e.Sent
	case e.Reported != Inf && e.Sent == Inf:
		return desiredPrime < e.Reported && e.Reported >= OscGuard
	default:
		return desiredPrime < math.Min(e.Reported, e.Sent)
	}
}

func (c *Controller) workingLimit(ctx context.Context) float64 {
	raw, ok := c.vmm.Limit(ctx)
	if !ok || raw <= 0 {
		raw = DefaultVMMBytes
	}
	return float64(raw) * MemScale
}
