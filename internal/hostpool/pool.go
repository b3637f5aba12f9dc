// Package hostpool tracks per-datanode dispatch state: how many
// transfers are queued for a host, how many are currently in flight,
// and the authenticated HTTP session that host's workers share. It
// plays the role host.py's Host class plays in the source, reshaped
// into a per-resource state-plus-counters style: a lazily-populated
// map of per-host queues and counters guarded by one mutex, with a
// session built the first time a host is seen.
package hostpool

import (
	"sort"
	"sync"

	"github.com/warpdl/esgfetch/internal/catalog"
	"github.com/warpdl/esgfetch/internal/httpsession"
)

// HostSlot holds one datanode's pending queue, in-flight count, and
// session. All fields except Session and the FIFO queue are owned by
// the scheduler goroutine; Pool only synchronizes map access.
type HostSlot struct {
	Datanode      string
	MaxConcurrent int
	InFlight      int
	Pending       []catalog.Transfer
	Session       *httpsession.Session

	lastDispatch int64 // monotonic tick counter, for round-robin fairness
}

// SessionFactory builds a Session for a newly-seen datanode. Pool calls
// it at most once per datanode.
type SessionFactory func(datanode string) (*httpsession.Session, error)

// Pool is the lazily-populated map of datanode to HostSlot. The zero
// value is not usable; construct with New.
type Pool struct {
	mu         sync.Mutex
	slots      map[string]*HostSlot
	defaultCap int
	newSession SessionFactory
	tick       int64
}

// New creates an empty Pool. defaultCap seeds MaxConcurrent for every
// newly-created slot (initial_threads_per_host); newSession builds each
// slot's Session the first time a transfer for that datanode is seen.
func New(defaultCap int, newSession SessionFactory) *Pool {
	return &Pool{
		slots:      make(map[string]*HostSlot),
		defaultCap: defaultCap,
		newSession: newSession,
	}
}

// Slot returns the slot for datanode, creating it (and its Session) on
// first sighting. Returns an error only if session construction fails;
// the slot is not created in that case.
func (p *Pool) Slot(datanode string) (*HostSlot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slotLocked(datanode)
}

func (p *Pool) slotLocked(datanode string) (*HostSlot, error) {
	if s, ok := p.slots[datanode]; ok {
		return s, nil
	}
	sess, err := p.newSession(datanode)
	if err != nil {
		return nil, err
	}
	s := &HostSlot{
		Datanode:      datanode,
		MaxConcurrent: p.defaultCap,
		Session:       sess,
	}
	p.slots[datanode] = s
	return s, nil
}

// Enqueue appends t to the right slot's Pending queue, creating the
// slot if this is the first transfer seen for t.Datanode.
func (p *Pool) Enqueue(t catalog.Transfer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, err := p.slotLocked(t.Datanode)
	if err != nil {
		return err
	}
	s.Pending = append(s.Pending, t)
	return nil
}

// Dispatchable returns every slot with a non-empty Pending queue,
// ordered so the slot least recently given a dispatch turn comes first
// — a stable round robin that keeps any one host from starving the
// others during a scheduler tick.
func (p *Pool) Dispatchable() []*HostSlot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*HostSlot
	for _, s := range p.slots {
		if len(s.Pending) > 0 {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].lastDispatch < out[j].lastDispatch
	})
	return out
}

// MarkDispatched records that slot just received a dispatch turn, for
// Dispatchable's fairness ordering.
func (p *Pool) MarkDispatched(s *HostSlot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick++
	s.lastDispatch = p.tick
}

// SetCap sets datanode's MaxConcurrent to n; a datanode with no slot is
// ignored. The scheduler calls it once per tick with the slot's current
// MaxConcurrent, so during a run it leaves every cap unchanged.
func (p *Pool) SetCap(datanode string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.slots[datanode]; ok {
		s.MaxConcurrent = n
	}
}

// TotalInFlight sums InFlight across every slot, for the global
// dispatch cap.
func (p *Pool) TotalInFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, s := range p.slots {
		total += s.InFlight
	}
	return total
}
