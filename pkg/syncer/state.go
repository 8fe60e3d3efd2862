package syncer

import (
	"sync"
	"time"

	"github.com/Sternrassler/cve-sync/pkg/pagination"
)

// State is a phase of one sync run.
type State string

// Run states. A run moves Idle -> SeedFetch -> (Fanout -> Collecting)* and
// ends in Success or Failed.
const (
	StateIdle       State = "idle"
	StateSeedFetch  State = "seed_fetch"
	StateFanout     State = "fanout"
	StateCollecting State = "collecting"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

// Mode distinguishes full loads from incremental syncs.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Report describes a sync run. It is returned even when the run fails.
type Report struct {
	Mode         Mode
	State        State
	Transitions  []Transition
	Windows      []Window
	TotalResults int
	Pages        int
	Records      int // records delivered by the source
	Persisted    int // records accepted by the store
	// WriteFailures holds non-fatal store and checkpoint errors.
	WriteFailures []error
	SnapshotPath  string
	Duration      time.Duration
}

// run guards the report while workers hand pages to the store.
type run struct {
	mu     sync.Mutex
	now    func() time.Time
	report *Report
}

func newRun(mode Mode, now func() time.Time) *run {
	return &run{
		now:    now,
		report: &Report{Mode: mode, State: StateIdle},
	}
}

func (r *run) enter(to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	from := r.report.State
	if from == to || from.Terminal() {
		return
	}
	r.report.Transitions = append(r.report.Transitions, Transition{From: from, To: to, At: r.now()})
	r.report.State = to
}

func (r *run) persisted(n int) {
	r.mu.Lock()
	r.report.Persisted += n
	r.mu.Unlock()
}

func (r *run) writeFailure(err error) {
	r.mu.Lock()
	r.report.WriteFailures = append(r.report.WriteFailures, err)
	r.mu.Unlock()
}

func (r *run) addSummary(s *pagination.Summary) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.report.TotalResults += s.TotalResults
	r.report.Pages += s.Pages
	r.report.Records += s.Records
	r.mu.Unlock()
}

// phaseProgress moves the run to Fanout once a seed page is in and to
// Collecting on the first delivered page, then forwards to the sink.
type phaseProgress struct {
	run   *run
	inner pagination.Progress
}

func (p phaseProgress) Start(totalResults int) {
	p.run.enter(StateFanout)
	p.inner.Start(totalResults)
}

func (p phaseProgress) Add(records int) {
	p.run.enter(StateCollecting)
	p.inner.Add(records)
}

func (p phaseProgress) Finish() {
	p.inner.Finish()
}
