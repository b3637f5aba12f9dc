// Package engine is the core control loop: poll the catalog for new
// waiting transfers, dispatch them across per-datanode host slots
// without exceeding per-host or global concurrency caps, drain the
// worker event bus, and reflect every outcome back into the catalog.
// It runs as a single goroutine mediating a ticker, an event channel,
// and a cancellation signal through one select loop, generalized from
// "one min-heap of scheduled downloads" to "poll catalog, dispatch
// across hosts, drain events, apply updates."
package engine

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/esgfetch/internal/catalog"
	"github.com/warpdl/esgfetch/internal/hostpool"
	"github.com/warpdl/esgfetch/internal/worker"
	"github.com/warpdl/esgfetch/internal/writer"
	"github.com/warpdl/esgfetch/pkg/logger"
)

// Config controls dispatch pacing and per-transfer worker behavior.
type Config struct {
	Username   string
	Password   string
	AuthServer string

	BasePath  string
	BlockSize int

	GlobalMax    int
	TickInterval time.Duration
	RampDelay    time.Duration

	MetadataPollInterval time.Duration
	ShutdownGrace        time.Duration
}

func (c Config) withDefaults() Config {
	if c.GlobalMax <= 0 {
		c.GlobalMax = 100
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.RampDelay <= 0 {
		c.RampDelay = 200 * time.Millisecond
	}
	if c.MetadataPollInterval <= 0 {
		c.MetadataPollInterval = 60 * time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 10 * time.Second
	}
	return c
}

type activeTransfer struct {
	id        int64
	datanode  string
	path      string
	worker    *worker.Worker
	startTime time.Time
}

// Engine owns one run of the catalog-driven dispatch loop.
type Engine struct {
	store  *catalog.Store
	pool   *hostpool.Pool
	writer *writer.Writer
	auth   Authenticator
	log    logger.Logger
	cfg    Config

	eventBus chan worker.Event

	activeMu sync.Mutex
	active   map[int64]*activeTransfer

	subMu sync.Mutex
	subs  []chan Event

	stopNow  atomic.Bool
	forceCh  chan struct{}
	forceOne sync.Once
	// cancelRun is set once per Run call and is only ever read or
	// called from the dispatch loop's own goroutine, so it needs no
	// lock of its own.
	cancelRun context.CancelFunc
}

// New constructs an Engine. The caller retains ownership of store, pool,
// and w and must not use them concurrently from another goroutine while
// Run is executing.
func New(store *catalog.Store, pool *hostpool.Pool, w *writer.Writer, auth Authenticator, log logger.Logger, cfg Config) *Engine {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Engine{
		store:    store,
		pool:     pool,
		writer:   w,
		auth:     auth,
		log:      log,
		cfg:      cfg.withDefaults(),
		eventBus: make(chan worker.Event, 4*cfg.withDefaults().GlobalMax),
		active:   make(map[int64]*activeTransfer),
		forceCh:  make(chan struct{}),
	}
}

// StopNow arms urgent shutdown: it aborts every in-flight transfer and
// resets them to waiting instead of letting them finish, interrupting a
// quiescent drain already in progress if one is running. Callers
// typically call this from a second SIGINT/SIGTERM after a first one
// requested a graceful drain. Safe to call more than once.
func (e *Engine) StopNow() {
	e.stopNow.Store(true)
	e.forceOne.Do(func() { close(e.forceCh) })
	if e.cancelRun != nil {
		e.cancelRun()
	}
}

// Subscribe returns a fan-out channel of every event the engine applies,
// for a CLI progress display. It is a tee: events are also delivered to
// the engine's own catalog-updating path regardless of whether anyone
// is subscribed. The returned channel is never closed by Engine; it
// receives no further events once Run returns.
func (e *Engine) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	e.subMu.Lock()
	e.subs = append(e.subs, ch)
	e.subMu.Unlock()
	return ch
}

func (e *Engine) broadcast(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Run authenticates, starts the writer and metadata reader, and blocks
// in the dispatch loop until ctx is done. On a graceful cancellation it
// drains in-flight transfers to completion before returning; if StopNow
// was called first, it aborts them instead.
func (e *Engine) Run(ctx context.Context) error {
	e.writer.Start(ctx)

	if err := e.auth.Logon(ctx, e.cfg.Username, e.cfg.Password, e.cfg.AuthServer); err != nil {
		e.log.Warning("logon failed: %v", err)
	}
	if !e.auth.IsLoggedOn() {
		return ErrNoAuth
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	e.cancelRun = cancelRun

	metadataCh := make(chan []catalog.Transfer, 1)
	go e.runMetadataReader(runCtx, metadataCh, cancelRun)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			if e.stopNow.Load() {
				e.urgentShutdown(runCtx)
			} else {
				e.quiescentShutdown()
			}
			return nil

		case transfers := <-metadataCh:
			for _, t := range transfers {
				if err := e.pool.Enqueue(t); err != nil {
					e.log.Error("enqueue transfer %d: %v", t.TransferID, err)
				}
			}

		case ev := <-e.eventBus:
			e.applyEvent(runCtx, ev)
			e.broadcast(ev)

		case <-ticker.C:
			e.dispatchTick(runCtx)
		}
	}
}

// dispatchTick implements one scheduling pass: drain pending work for
// every host slot that has spare capacity, respecting both the slot's
// own cap and the global cap, pacing new dispatches with RampDelay so a
// burst of newly-waiting transfers doesn't open hundreds of connections
// in the same instant.
func (e *Engine) dispatchTick(ctx context.Context) {
	for _, slot := range e.pool.Dispatchable() {
		for len(slot.Pending) > 0 &&
			slot.InFlight < slot.MaxConcurrent &&
			e.pool.TotalInFlight() < e.cfg.GlobalMax {

			t := slot.Pending[0]
			slot.Pending = slot.Pending[1:]
			slot.InFlight++
			e.pool.MarkDispatched(slot)

			e.dispatch(ctx, slot, t)

			e.drainEventsNonBlocking(ctx)
			time.Sleep(e.cfg.RampDelay)
		}
		e.pool.SetCap(slot.Datanode, slot.MaxConcurrent)
	}
}

func (e *Engine) dispatch(ctx context.Context, slot *hostpool.HostSlot, t catalog.Transfer) {
	wk := worker.New(worker.Config{
		Client:    slot.Session.Client,
		Writer:    e.writer,
		BasePath:  e.cfg.BasePath,
		BlockSize: e.cfg.BlockSize,
		EventBus:  e.eventBus,
	}, t)

	e.activeMu.Lock()
	e.active[t.TransferID] = &activeTransfer{
		id:        t.TransferID,
		datanode:  t.Datanode,
		path:      wk.TargetPath(),
		worker:    wk,
		startTime: time.Now(),
	}
	e.activeMu.Unlock()

	go wk.Run(ctx)
}

// drainEventsNonBlocking applies any events already queued without
// waiting for more, called between dispatch steps so a slot's InFlight
// count reflects completions that happened moments ago rather than
// overcommitting the global cap.
func (e *Engine) drainEventsNonBlocking(ctx context.Context) {
	for {
		select {
		case ev := <-e.eventBus:
			e.applyEvent(ctx, ev)
			e.broadcast(ev)
		default:
			return
		}
	}
}

// applyEvent reflects one worker event into the catalog and releases
// the dispatch slot it occupied. EventSpeed is logged only — it never
// causes a catalog write.
func (e *Engine) applyEvent(ctx context.Context, ev worker.Event) {
	id, _ := ev.TransferInfo()

	switch v := ev.(type) {
	case worker.EventLength:
		status := catalog.StatusRunning
		if err := e.store.Update(ctx, id, catalog.UpdateFields{Status: &status, Size: &v.ContentLength}); err != nil {
			e.handleCatalogError(err)
		}

	case worker.EventSpeed:
		e.log.Info("transfer %d: %.1f KB/s", id, v.KBps)

	case worker.EventDone:
		status := catalog.StatusDone
		rate := v.RateKBps
		e.finalize(ctx, id, catalog.UpdateFields{Status: &status, RateKBps: &rate})

	case worker.EventAborted:
		status := catalog.StatusWaiting
		e.finalize(ctx, id, catalog.UpdateFields{Status: &status})

	case worker.EventError:
		status := catalog.StatusError
		msg := v.Msg
		e.finalize(ctx, id, catalog.UpdateFields{Status: &status, ErrorMsg: &msg})
	}
}

// finalize stamps start/end timestamps and duration from the engine's
// own bookkeeping (a worker never writes timing columns itself), sets
// the rate from the worker's byte count over that duration when the
// caller supplied none, merges in the caller's fields, writes the row,
// and releases the transfer's dispatch slot.
func (e *Engine) finalize(ctx context.Context, id int64, f catalog.UpdateFields) {
	e.activeMu.Lock()
	at, ok := e.active[id]
	if ok {
		delete(e.active, id)
	}
	e.activeMu.Unlock()

	if ok {
		end := time.Now()
		duration := end.Sub(at.startTime)
		f.StartDate = &at.startTime
		f.EndDate = &end
		f.Duration = &duration
		if f.RateKBps == nil && duration > 0 {
			rate := float64(at.worker.DataSize()) / 1024.0 / duration.Seconds()
			f.RateKBps = &rate
		}

		if slot, err := e.pool.Slot(at.datanode); err == nil && slot.InFlight > 0 {
			slot.InFlight--
		}
	}

	if err := e.store.Update(ctx, id, f); err != nil {
		e.handleCatalogError(err)
	}
}

// handleCatalogError treats a failed catalog write as fatal: a pending
// write that never lands means the source of truth has drifted from
// reality, so it calls StopNow, which aborts every in-flight transfer
// and resets it to waiting instead of letting it finish.
func (e *Engine) handleCatalogError(err error) {
	e.log.Error("catalog write failed, forcing shutdown: %v", err)
	e.StopNow()
}

// runMetadataReader polls the catalog for newly-waiting transfers once
// per MetadataPollInterval and forwards batches to out. It only ever
// sees rows with transfer_id greater than the highest one it has
// already forwarded — an operator resetting an error row back to
// waiting via the CLI's requeue command will not be picked up here
// until the engine restarts with a fresh cursor. A catalog read error
// calls stop, which cancels the run, and ends the reader.
func (e *Engine) runMetadataReader(ctx context.Context, out chan<- []catalog.Transfer, stop context.CancelFunc) {
	var lastSeen int64
	ticker := time.NewTicker(e.cfg.MetadataPollInterval)
	defer ticker.Stop()

	poll := func() bool {
		transfers, err := e.store.ListNewWaiting(ctx, lastSeen)
		if err != nil {
			e.log.Error("metadata reader: %v", err)
			stop()
			return false
		}
		for _, t := range transfers {
			if t.TransferID > lastSeen {
				lastSeen = t.TransferID
			}
		}
		if len(transfers) > 0 {
			select {
			case out <- transfers:
			case <-ctx.Done():
				return false
			}
		}
		return true
	}

	if !poll() {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !poll() {
				return
			}
		}
	}
}

// urgentShutdown aborts every in-flight transfer rather than letting it
// finish. When Run calls it, ctx is already canceled, so if writes are
// still queued the writer Shutdown call below returns ctx's error at
// once, without draining them or stopping the writer. When
// quiescentShutdown calls it after StopNow, ctx is not canceled and
// Shutdown waits for the queued writes to drain. In both cases the
// aborted transfers' target files are removed at the end.
func (e *Engine) urgentShutdown(ctx context.Context) {
	if err := e.writer.Shutdown(ctx); err != nil {
		e.log.Warning("writer shutdown: %v", err)
	}

	e.activeMu.Lock()
	active := make([]*activeTransfer, 0, len(e.active))
	for _, at := range e.active {
		active = append(active, at)
	}
	e.activeMu.Unlock()

	bg := context.Background()
	for _, at := range active {
		at.worker.Abort()
		if err := e.store.MarkWaiting(bg, at.id); err != nil {
			e.log.Error("mark waiting %d: %v", at.id, err)
		}
	}

	time.Sleep(e.cfg.ShutdownGrace)

	for _, at := range active {
		_ = os.Remove(at.path)
	}
}

// quiescentShutdown waits for every in-flight transfer to reach a
// terminal event, applying each as it arrives, then shuts the writer
// down cleanly.
func (e *Engine) quiescentShutdown() {
	bg := context.Background()
	for e.pool.TotalInFlight() > 0 {
		select {
		case ev := <-e.eventBus:
			e.applyEvent(bg, ev)
			e.broadcast(ev)
		case <-time.After(time.Second):
		case <-e.forceCh:
			e.urgentShutdown(bg)
			return
		}
	}
	if err := e.writer.Shutdown(bg); err != nil {
		e.log.Warning("writer shutdown: %v", err)
	}
}
