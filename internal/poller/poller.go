package poller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/cursor"
	"github.com/ent0n29/imsgrelay/internal/events"
	"github.com/ent0n29/imsgrelay/internal/observability"
	"github.com/ent0n29/imsgrelay/internal/policy"
	"github.com/ent0n29/imsgrelay/internal/reply"
	"github.com/ent0n29/imsgrelay/internal/transcript"
)

type State int32

const (
	StateIdle State = iota
	StateProcessing
)

func (s State) String() string {
	if s == StateProcessing {
		return "processing"
	}
	return "idle"
}

// Router turns inbound text into reply text. It must always return a
// usable reply; a non-nil error only explains a substitution.
type Router interface {
	Route(ctx context.Context, text string) (string, error)
}

// Dispatcher accepts the parts of one reply for ordered delivery.
type Dispatcher interface {
	Dispatch(recordID int64, parts []reply.Part) (string, error)
}

type Options struct {
	Interval    time.Duration
	Window      int
	MaxWindow   int
	MaxPartSize int
	SaveTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Bus         *events.Bus
}

// TickReport summarizes one cycle.
type TickReport struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Outcome    string        `json:"outcome"`
	Window     int           `json:"window"`
	Fetched    int           `json:"fetched"`
	Selected   int           `json:"selected"`
	Dispatched int           `json:"dispatched"`
	Dropped    int           `json:"dropped"`
	Error      string        `json:"error,omitempty"`
}

type Status struct {
	State              string      `json:"state"`
	Cursor             int64       `json:"cursor"`
	CursorSet          bool        `json:"cursor_set"`
	PersistenceHealthy bool        `json:"persistence_healthy"`
	SkippedTicks       int64       `json:"skipped_ticks"`
	LastTick           *TickReport `json:"last_tick,omitempty"`
}

// Poller turns a periodic tick into an ordered, at-most-once pass over new
// transcript records. Only one cycle runs at a time; a tick that fires
// while a cycle is in flight is dropped.
type Poller struct {
	fetcher    transcript.Fetcher
	store      cursor.Store
	router     Router
	dispatcher Dispatcher
	opts       Options
	logger     *zap.Logger

	state   atomic.Int32
	skipped atomic.Int64
	wake    chan struct{}
	wg      sync.WaitGroup

	mu         sync.RWMutex
	cursor     int64
	cursorSet  bool
	scanned    int64
	persistOK  bool
	lastReport *TickReport
}

func New(fetcher transcript.Fetcher, store cursor.Store, router Router, dispatcher Dispatcher, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 3 * time.Second
	}
	if opts.Window <= 0 {
		opts.Window = 3
	}
	if opts.MaxWindow < opts.Window {
		opts.MaxWindow = opts.Window
	}
	if opts.MaxPartSize <= 0 {
		opts.MaxPartSize = 1600
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		fetcher:    fetcher,
		store:      store,
		router:     router,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With(zap.String("component", "poller")),
		wake:       make(chan struct{}, 1),
		persistOK:  true,
	}
}

// Init loads the persisted cursor. On error the poller stays usable and
// establishes a baseline on its first tick.
func (p *Poller) Init(ctx context.Context) error {
	st, ok, err := p.store.Load(ctx)
	if err != nil {
		p.logger.Warn("cursor load failed; will baseline from newest record", zap.Error(err))
		return err
	}
	if !ok {
		p.logger.Info("no persisted cursor; will baseline from newest record")
		return nil
	}
	p.mu.Lock()
	p.cursor = st.ID
	p.cursorSet = true
	p.mu.Unlock()
	p.opts.Metrics.SetCursor(st.ID)
	p.logger.Info("cursor loaded", zap.Int64("cursor", st.ID), zap.Time("updated_at", st.UpdatedAt))
	return nil
}

// Run ticks until ctx is cancelled, then waits for the in-flight cycle to
// finish its current record.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started",
		zap.Duration("interval", p.opts.Interval),
		zap.Int("window", p.opts.Window),
		zap.Int("max_window", p.opts.MaxWindow),
	)
	p.startCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			p.logger.Info("poller stopped")
			return nil
		case <-ticker.C:
			p.startCycle(ctx)
		case <-p.wake:
			p.startCycle(ctx)
		}
	}
}

// Trigger requests an early tick. It never blocks; repeated triggers
// before the loop wakes collapse into one.
func (p *Poller) Trigger() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Tick runs one cycle synchronously. It reports false when a cycle was
// already in flight and this tick was skipped.
func (p *Poller) Tick(ctx context.Context) (TickReport, bool) {
	if !p.tryAcquire() {
		return TickReport{}, false
	}
	defer p.state.Store(int32(StateIdle))
	return p.cycle(ctx), true
}

func (p *Poller) startCycle(ctx context.Context) {
	if ctx.Err() != nil || !p.tryAcquire() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.state.Store(int32(StateIdle))
		p.cycle(ctx)
	}()
}

func (p *Poller) tryAcquire() bool {
	if p.state.CompareAndSwap(int32(StateIdle), int32(StateProcessing)) {
		return true
	}
	p.skipped.Add(1)
	p.opts.Metrics.Tick("skipped")
	p.logger.Debug("tick skipped; previous cycle still processing")
	return false
}

// cycle runs fetch, select and per-record route, chunk, dispatch, advance.
// ctx only gates starting the next record; in-flight calls run on a
// context detached from cancellation and bounded by their own timeouts.
func (p *Poller) cycle(ctx context.Context) TickReport {
	start := time.Now()
	work := context.WithoutCancel(ctx)
	report := TickReport{ID: uuid.NewString(), StartedAt: start.UTC()}
	log := p.logger.With(zap.String("tick_id", report.ID))

	defer func() {
		report.Duration = time.Since(start)
		p.opts.Metrics.Tick(report.Outcome)
		p.opts.Metrics.ObserveCycle(report.Duration)
		p.opts.Metrics.ObserveStage(observability.StageCycle, report.Duration)
		p.opts.Bus.Publish(events.Event{
			Type:    events.TypeTick,
			TickID:  report.ID,
			Cursor:  p.Cursor(),
			Outcome: report.Outcome,
			Detail:  report.Error,
		})
		p.mu.Lock()
		r := report
		p.lastReport = &r
		p.mu.Unlock()
	}()

	p.mu.RLock()
	cur, set, scanned := p.cursor, p.cursorSet, p.scanned
	p.mu.RUnlock()

	if !set {
		p.baseline(work, log, &report)
		return report
	}

	batch, err := p.fetch(work, log, cur, scanned, &report)
	if err != nil {
		report.Outcome = "fetch_error"
		report.Error = err.Error()
		log.Warn("fetch failed; skipping tick", zap.Error(err))
		return report
	}

	report.Fetched = len(batch.Records)
	report.Dropped = len(batch.Dropped) + batch.ContentFree
	p.opts.Metrics.Record("dropped_parse", len(batch.Dropped))
	p.opts.Metrics.Record("dropped_empty", batch.ContentFree)
	for _, perr := range batch.Dropped {
		log.Debug("record dropped", zap.Error(perr))
	}
	self := 0
	for _, rec := range batch.Records {
		if rec.FromMe && rec.ID > cur {
			self++
		}
	}
	p.opts.Metrics.Record("self", self)

	if batch.NewestID > scanned {
		p.mu.Lock()
		p.scanned = batch.NewestID
		p.mu.Unlock()
	}

	backlog := transcript.Select(batch.Records, cur)
	report.Selected = len(backlog)
	if len(backlog) == 0 {
		report.Outcome = "idle"
		return report
	}

	for _, rec := range backlog {
		if ctx.Err() != nil {
			log.Info("shutdown requested; leaving remaining records for next start",
				zap.Int("remaining", len(backlog)-report.Dispatched))
			break
		}
		if err := p.process(work, log, rec); err != nil {
			report.Error = err.Error()
			break
		}
		report.Dispatched++
	}

	report.Outcome = "processed"
	if report.Dispatched == 0 {
		report.Outcome = "idle"
	}
	return report
}

func (p *Poller) baseline(ctx context.Context, log *zap.Logger, report *TickReport) {
	report.Window = 1
	fetchStart := time.Now()
	raw, err := p.fetcher.Fetch(ctx, 1)
	p.opts.Metrics.ObserveStage(observability.StageFetch, time.Since(fetchStart))
	if err != nil {
		report.Outcome = "fetch_error"
		report.Error = err.Error()
		log.Warn("baseline fetch failed; retrying next tick", zap.Error(err))
		return
	}

	batch := transcript.Normalize(raw)
	if len(raw) > 0 && batch.NewestID == 0 {
		report.Outcome = "fetch_error"
		report.Error = "baseline record unreadable"
		log.Warn("baseline record unreadable; retrying next tick")
		return
	}

	report.Outcome = "baseline"
	log.Info("baseline established", zap.Int64("cursor", batch.NewestID))
	p.advance(ctx, log, batch.NewestID)
}

// fetch reads the newest window. When the window comes back full and even
// its oldest record is newer than anything seen before, records may have
// been missed, so the window is doubled up to MaxWindow.
func (p *Poller) fetch(ctx context.Context, log *zap.Logger, cur, scanned int64, report *TickReport) (transcript.Batch, error) {
	floor := max(cur, scanned)
	window := p.opts.Window
	for {
		report.Window = window
		fetchStart := time.Now()
		raw, err := p.fetcher.Fetch(ctx, window)
		p.opts.Metrics.ObserveStage(observability.StageFetch, time.Since(fetchStart))
		if err != nil {
			return transcript.Batch{}, err
		}

		batch := transcript.Normalize(raw)
		if len(raw) < window || batch.OldestID == 0 || batch.OldestID <= floor {
			return batch, nil
		}
		if window >= p.opts.MaxWindow {
			log.Warn("fetch window exhausted; records between cursor and window may be skipped",
				zap.Int64("cursor", cur),
				zap.Int64("oldest_fetched", batch.OldestID),
				zap.Int("window", window),
			)
			return batch, nil
		}
		window = min(window*2, p.opts.MaxWindow)
		log.Debug("widening fetch window", zap.Int("window", window))
	}
}

func (p *Poller) process(ctx context.Context, log *zap.Logger, rec transcript.Record) error {
	log = log.With(zap.Int64("record_id", rec.ID))

	text, err := p.router.Route(ctx, rec.Text)
	if err != nil {
		var perr *policy.PolicyError
		if errors.As(err, &perr) {
			log.Warn("reply substituted", zap.String("kind", perr.Kind))
		}
	}

	parts := reply.Chunk(text, p.opts.MaxPartSize)
	dispatchID, err := p.dispatcher.Dispatch(rec.ID, parts)
	if err != nil {
		log.Error("dispatch rejected; cursor not advanced", zap.Error(err))
		return err
	}

	p.opts.Metrics.Record("dispatched", 1)
	p.opts.Bus.Publish(events.Event{
		Type:       events.TypeRecord,
		DispatchID: dispatchID,
		RecordID:   rec.ID,
		Total:      len(parts),
	})
	log.Info("reply dispatched",
		zap.String("dispatch_id", dispatchID),
		zap.Int("parts", len(parts)),
		zap.String("input_preview", policy.Preview(rec.Text, 60)),
	)

	p.advance(ctx, log, rec.ID)
	return nil
}

// advance moves the in-memory cursor and writes it through. The in-memory
// value stays authoritative when the write fails.
func (p *Poller) advance(ctx context.Context, log *zap.Logger, id int64) {
	p.mu.Lock()
	if p.cursorSet && id < p.cursor {
		p.mu.Unlock()
		return
	}
	p.cursor = id
	p.cursorSet = true
	p.mu.Unlock()
	p.opts.Metrics.SetCursor(id)

	saveCtx, cancel := context.WithTimeout(ctx, p.opts.SaveTimeout)
	defer cancel()
	if err := p.store.Save(saveCtx, id); err != nil {
		p.mu.Lock()
		p.persistOK = false
		p.mu.Unlock()
		p.opts.Metrics.PersistFailed()
		p.opts.Bus.Publish(events.Event{Type: events.TypePersistFailed, Cursor: id, Detail: err.Error()})
		log.Warn("cursor write failed; continuing with in-memory cursor, a restart may reprocess records",
			zap.Int64("cursor", id), zap.Error(err))
		return
	}

	p.mu.Lock()
	p.persistOK = true
	p.mu.Unlock()
	p.opts.Bus.Publish(events.Event{Type: events.TypeCursorSaved, Cursor: id})
}

func (p *Poller) Cursor() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursor
}

// Ready reports whether a cursor has been established.
func (p *Poller) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cursorSet
}

func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		State:              State(p.state.Load()).String(),
		Cursor:             p.cursor,
		CursorSet:          p.cursorSet,
		PersistenceHealthy: p.persistOK,
		SkippedTicks:       p.skipped.Load(),
	}
	if p.lastReport != nil {
		r := *p.lastReport
		st.LastTick = &r
	}
	return st
}
