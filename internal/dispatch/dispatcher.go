package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/events"
	"github.com/ent0n29/imsgrelay/internal/observability"
	"github.com/ent0n29/imsgrelay/internal/reply"
)

var ErrClosed = errors.New("dispatcher closed")

type Options struct {
	Destination string
	PartDelay   time.Duration
	SendTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Bus         *events.Bus
}

type job struct {
	dispatchID string
	recordID   int64
	part       reply.Part
}

// Dispatcher sends reply parts on a single worker in enqueue order, keeping
// at least PartDelay between consecutive sends. Dispatch only enqueues, so
// the poll loop never waits on delayed parts.
type Dispatcher struct {
	sender Sender
	opts   Options
	logger *zap.Logger

	mu     sync.Mutex
	queue  []job
	closed bool

	notify chan struct{}
	done   chan struct{}

	// base is cancelled only when Close runs out of time.
	base   context.Context
	cancel context.CancelFunc

	lastSend time.Time
}

func New(sender Sender, opts Options) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.PartDelay < 0 {
		opts.PartDelay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		sender: sender,
		opts:   opts,
		logger: logger.With(zap.String("component", "dispatch")),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		base:   base,
		cancel: cancel,
	}
	go d.run()
	return d
}

// Dispatch queues the parts of one reply and returns its dispatch id.
// Blank parts are not sent.
func (d *Dispatcher) Dispatch(recordID int64, parts []reply.Part) (string, error) {
	id := uuid.NewString()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	queued := 0
	for _, p := range parts {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		d.queue = append(d.queue, job{dispatchID: id, recordID: recordID, part: p})
		queued++
	}
	depth := len(d.queue)
	d.mu.Unlock()

	d.opts.Metrics.SetQueueDepth(depth)
	d.opts.Metrics.ObserveParts(queued)
	d.wake()
	return id, nil
}

// Pending returns the number of parts not yet handed to the sender.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Close stops accepting replies and waits for queued parts to be sent.
// If ctx ends first, in-flight and queued sends are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wake()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
	}

	d.cancel()
	<-d.done
	d.mu.Lock()
	dropped := len(d.queue)
	d.queue = nil
	d.mu.Unlock()
	d.opts.Metrics.SetQueueDepth(0)
	if dropped > 0 {
		d.logger.Warn("dispatch queue abandoned at shutdown", zap.Int("parts", dropped))
	}
	return fmt.Errorf("drain dispatch queue: %w", ctx.Err())
}

func (d *Dispatcher) wake() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		j, ok := d.next()
		if !ok {
			return
		}
		if !d.waitSpacing() {
			return
		}
		d.send(j)
	}
}

func (d *Dispatcher) next() (job, bool) {
	for {
		d.mu.Lock()
		if len(d.queue) > 0 {
			j := d.queue[0]
			d.queue[0] = job{}
			d.queue = d.queue[1:]
			depth := len(d.queue)
			d.mu.Unlock()
			d.opts.Metrics.SetQueueDepth(depth)
			return j, true
		}
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return job{}, false
		}

		select {
		case <-d.notify:
		case <-d.base.Done():
			return job{}, false
		}
	}
}

func (d *Dispatcher) waitSpacing() bool {
	if d.lastSend.IsZero() || d.opts.PartDelay <= 0 {
		return d.base.Err() == nil
	}
	wait := time.Until(d.lastSend.Add(d.opts.PartDelay))
	if wait <= 0 {
		return d.base.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-d.base.Done():
		return false
	}
}

func (d *Dispatcher) send(j job) {
	ctx, cancel := context.WithTimeout(d.base, d.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	err := d.sender.Send(ctx, d.opts.Destination, j.part.Text)
	d.lastSend = time.Now()
	d.opts.Metrics.ObserveStage(observability.StageSend, time.Since(start))

	evt := events.Event{
		DispatchID: j.dispatchID,
		RecordID:   j.recordID,
		Part:       j.part.Index,
		Total:      j.part.Total,
	}
	if err != nil {
		serr := &SendError{
			DispatchID: j.dispatchID,
			RecordID:   j.recordID,
			Part:       j.part.Index,
			Total:      j.part.Total,
			Err:        err,
		}
		d.logger.Warn("send failed",
			zap.String("dispatch_id", j.dispatchID),
			zap.Int64("record_id", j.recordID),
			zap.Int("part", j.part.Index),
			zap.Int("total", j.part.Total),
			zap.Error(serr),
		)
		d.opts.Metrics.Part("failed")
		evt.Type = events.TypePartFailed
		evt.Detail = err.Error()
		d.opts.Bus.Publish(evt)
		return
	}

	d.logger.Debug("part sent",
		zap.String("dispatch_id", j.dispatchID),
		zap.Int64("record_id", j.recordID),
		zap.Int("part", j.part.Index),
		zap.Int("total", j.part.Total),
		zap.Int("chars", len([]rune(j.part.Text))),
	)
	d.opts.Metrics.Part("sent")
	evt.Type = events.TypePartSent
	d.opts.Bus.Publish(evt)
}
