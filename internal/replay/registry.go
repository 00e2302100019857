package replay

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/studiowebux/replay-client/internal/intern"
	"github.com/studiowebux/replay-client/internal/rules"
	"github.com/studiowebux/replay-client/internal/types"
)

// Registry is the run state shared by every loader and, once frozen, by every
// replay worker.
//
// While loading, loadMu serializes each transaction's open→populate→close
// span (it guards the global rule template and the interning writes made for
// that transaction) and mu guards the session list. After Freeze nothing in
// the registry is written again and reads take no lock.
type Registry struct {
	loadMu sync.Mutex
	mu     sync.Mutex

	names       *intern.Table
	globalRules *rules.Fields
	sessions    []*types.Session
	frozen      atomic.Bool
}

// NewRegistry creates a registry in the loading phase
func NewRegistry(names *intern.Table) *Registry {
	if names == nil {
		names = intern.NewTable()
	}
	return &Registry{
		names:       names,
		globalRules: rules.NewFields(),
	}
}

// Names returns the interning table
func (r *Registry) Names() *intern.Table {
	return r.names
}

// MergeGlobalRules adds rules to the global template applied to every
// expected response
func (r *Registry) MergeGlobalRules(fields *rules.Fields) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.mustBeLoading("merge global rules")
	r.globalRules.Merge(fields)
}

// globalRulesCopy returns a copy of the global template. The caller holds loadMu.
func (r *Registry) globalRulesCopy() *rules.Fields {
	return r.globalRules.Clone()
}

// add appends a session that has at least one transaction
func (r *Registry) add(ssn *types.Session) bool {
	if len(ssn.Transactions) == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeLoading("add session")
	r.sessions = append(r.sessions, ssn)
	return true
}

// Sessions returns the registered sessions. Before Prepare the order is
// discovery order; after it the sessions are sorted by start time.
func (r *Registry) Sessions() []*types.Session {
	if r.frozen.Load() {
		return r.sessions
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	if r.frozen.Load() {
		return len(r.sessions)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Freeze ends the loading phase. The interning table becomes read-only and
// any further write to the registry panics. Freeze must be called once, after
// every loader has returned.
func (r *Registry) Freeze() {
	r.loadMu.Lock()
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.loadMu.Unlock()

	r.mustBeLoading("freeze")
	r.names.Freeze()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

func (r *Registry) mustBeLoading(op string) {
	if r.frozen.Load() {
		panic(fmt.Errorf("%w: cannot %s", intern.ErrFrozen, op))
	}
}

// Batch is the prepared, time-normalized session set handed to the scheduler
type Batch struct {
	Sessions         []*types.Session
	Transactions     int
	Span             uint64 // Normalized start of the last session, microseconds
	Offset           uint64 // Start time subtracted from every session
	MaxContentLength int
}

// Prepare sorts the registered sessions by start time (stable with respect to
// discovery order), normalizes them so the earliest starts at 0 and computes
// the batch totals. It is called once, after loading and before Freeze.
func (r *Registry) Prepare() *Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustBeLoading("prepare")

	SortSessions(r.sessions)
	b := &Batch{Sessions: r.sessions}
	b.Offset = Normalize(r.sessions)
	b.Transactions, b.Span = Totals(r.sessions)
	for _, ssn := range r.sessions {
		for _, txn := range ssn.Transactions {
			if size := txn.RequestSize(); size > b.MaxContentLength {
				b.MaxContentLength = size
			}
		}
	}
	return b
}

// SortSessions orders sessions by recorded start time, keeping discovery
// order for equal start times
func SortSessions(sessions []*types.Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].Start < sessions[j].Start
	})
}

// Normalize subtracts the first session's start time from every session and
// returns the subtracted offset. sessions must already be sorted.
func Normalize(sessions []*types.Session) uint64 {
	if len(sessions) == 0 {
		return 0
	}
	offset := sessions[0].Start
	for _, ssn := range sessions {
		ssn.Start -= offset
	}
	return offset
}

// Totals returns the transaction count and the time span of a sorted,
// normalized batch
func Totals(sessions []*types.Session) (transactions int, span uint64) {
	for _, ssn := range sessions {
		transactions += len(ssn.Transactions)
	}
	if len(sessions) > 0 {
		span = sessions[len(sessions)-1].Start
	}
	return transactions, span
}
