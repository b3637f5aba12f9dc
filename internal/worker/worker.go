// Package worker implements the per-transfer download task: one GET,
// one streaming MD5, one file on disk, for a whole file fetched from an
// ESGF data node rather than one segment of a larger one — explicit
// typed state instead of a loose attribute bag, a context for
// cooperative cancellation instead of a bare boolean polled under a
// lock, and a typed Event channel instead of a tuple-shaped queue.
package worker

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/warpdl/esgfetch/internal/catalog"
	"github.com/warpdl/esgfetch/internal/writer"
)

// DefaultBlockSize is the chunk size workers read the response body in.
const DefaultBlockSize = 1 << 20

// rollingWindow keeps the last N chunk-rate samples. It exists as a
// placeholder hook for future per-host auto-tuning and is not read
// anywhere in this package today.
type rollingWindow struct {
	mu      sync.Mutex
	samples []float64
	max     int
}

func newRollingWindow(n int) *rollingWindow {
	return &rollingWindow{max: n}
}

func (r *rollingWindow) add(kbps float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, kbps)
	if len(r.samples) > r.max {
		r.samples = r.samples[1:]
	}
}

// Config carries the pieces of a Worker's task that don't change
// between transfers on the same host.
type Config struct {
	Client      *http.Client
	Writer      *writer.Writer
	BasePath    string
	BlockSize   int
	EventBus    chan<- Event
	NumRecords  int // rolling window size, default 5 per the source
	RequestOpts func(*http.Request)
}

// Worker downloads a single transfer. The zero value is not usable; use
// New.
type Worker struct {
	cfg      Config
	transfer catalog.Transfer

	dataSize  atomic.Int64
	startTime time.Time
	endTime   time.Time

	openMu sync.Mutex
	abort  atomic.Bool

	perf *rollingWindow
}

// New constructs a Worker for one catalog Transfer.
func New(cfg Config, t catalog.Transfer) *Worker {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.NumRecords <= 0 {
		cfg.NumRecords = 5
	}
	return &Worker{
		cfg:      cfg,
		transfer: t,
		perf:     newRollingWindow(cfg.NumRecords),
	}
}

// Abort requests cooperative cancellation. The worker observes this
// after the current chunk. Safe to call from another goroutine; it is
// guarded against racing the file-open critical section in Run via
// openMu, so a late abort can never race a just-opened descriptor.
func (w *Worker) Abort() {
	w.openMu.Lock()
	defer w.openMu.Unlock()
	w.abort.Store(true)
}

// DataSize returns bytes received so far.
func (w *Worker) DataSize() int64 { return w.dataSize.Load() }

// TargetPath returns the absolute path the worker writes to.
func (w *Worker) TargetPath() string {
	return filepath.Join(w.cfg.BasePath, w.transfer.LocalImage)
}

// Run executes the download to completion, emitting exactly one
// terminal event (EventDone, EventError, or EventAborted) plus zero or
// more EventLength/EventSpeed events along the way. Run never returns
// an error itself — all outcomes are reported through the event bus, so
// a failed transfer never crashes the caller's goroutine pool.
func (w *Worker) Run(ctx context.Context) {
	id, host := w.transfer.TransferID, w.transfer.Datanode
	w.startTime = time.Now()

	if ct := w.transfer.ChecksumType; ct != string(catalog.ChecksumMD5) && ct != "md5" {
		w.endTime = time.Now()
		w.emit(newError(id, host, ErrorUnsupportedChecksumType, string(ErrorUnsupportedChecksumType)))
		return
	}

	hash := md5.New()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.transfer.Location, nil)
	if err != nil {
		w.endTime = time.Now()
		w.emit(newError(id, host, ErrorTransport, err.Error()))
		return
	}
	if w.cfg.RequestOpts != nil {
		w.cfg.RequestOpts(req)
	}

	resp, err := w.cfg.Client.Do(req)
	if err != nil {
		w.endTime = time.Now()
		w.emit(newError(id, host, ErrorTransport, err.Error()))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.endTime = time.Now()
		tag := classifyStatus(resp.StatusCode)
		w.emit(newError(id, host, ErrorKind(tag), tag))
		return
	}

	w.emit(newLength(id, host, resp.ContentLength))

	path := w.TargetPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		w.endTime = time.Now()
		w.emit(newError(id, host, ErrorFileCreation, string(ErrorFileCreation)))
		return
	}

	w.openMu.Lock()
	var fd *os.File
	if !w.abort.Load() {
		fd, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	w.openMu.Unlock()
	if err != nil || fd == nil {
		w.endTime = time.Now()
		w.emit(newError(id, host, ErrorFileCreation, string(ErrorFileCreation)))
		return
	}

	if abortReason := w.readLoop(ctx, resp.Body, fd, hash); abortReason != "" {
		_ = os.Remove(path)
		w.endTime = time.Now()
		w.emit(newAborted(id, host, abortReason))
		return
	}

	if err := w.cfg.Writer.Enqueue(fd, nil, true); err != nil {
		w.endTime = time.Now()
		w.emit(newAborted(id, host, err.Error()))
		return
	}
	w.endTime = time.Now()

	sum := hex.EncodeToString(hash.Sum(nil))
	if sum != w.transfer.Checksum {
		_ = os.Remove(path)
		w.emit(newError(id, host, ErrorChecksumMismatch, string(ErrorChecksumMismatch)))
		return
	}

	w.emit(newDone(id, host, w.averageRateKBps()))
}

// readLoop streams resp.Body in cfg.BlockSize chunks, enqueueing each
// to the writer and folding it into hash. It returns a non-empty reason
// string if the loop was aborted (by context cancellation, a read
// error, or the cooperative abort flag) and empty string on a clean EOF.
func (w *Worker) readLoop(ctx context.Context, body io.Reader, fd *os.File, hash io.Writer) string {
	id, host := w.transfer.TransferID, w.transfer.Datanode
	buf := make([]byte, w.cfg.BlockSize)
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err().Error()
		default:
		}

		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			if werr := w.cfg.Writer.Enqueue(fd, chunk, false); werr != nil {
				return werr.Error()
			}
			hash.Write(chunk)
			w.dataSize.Add(int64(n))

			now := time.Now()
			elapsed := now.Sub(lastTime).Seconds()
			if elapsed > 0 {
				kbps := float64(n) / 1024.0 / elapsed
				w.perf.add(kbps)
				w.emit(newSpeed(id, host, n, kbps))
			}
			lastTime = now
		}
		if w.abort.Load() {
			return "cooperative abort requested"
		}
		if err != nil {
			if err == io.EOF {
				return ""
			}
			return err.Error()
		}
	}
}

func (w *Worker) averageRateKBps() float64 {
	secs := w.endTime.Sub(w.startTime).Seconds()
	if secs <= 0 {
		return 0
	}
	// Rate is bytes moved over elapsed wall time, end minus start.
	return float64(w.dataSize.Load()) / 1024.0 / secs
}

func (w *Worker) emit(e Event) {
	if w.cfg.EventBus == nil {
		return
	}
	w.cfg.EventBus <- e
}
