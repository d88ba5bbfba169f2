package runner

import (
	"context"
	"sync"
	"time"

	"github.com/osbits/statuswatch/internal/change"
	"github.com/osbits/statuswatch/internal/notifier"
	"github.com/osbits/statuswatch/internal/watch"
)

// State is the scheduler's position in its loop.
type State string

const (
	StateIdle      State = "idle"
	StateChecking  State = "checking"
	StateNotifying State = "notifying"
	StateSleeping  State = "sleeping"
	StateStopped   State = "stopped"
)

// Snapshot is a read-only copy of the scheduler state.
type Snapshot struct {
	State                State     `json:"state"`
	Cycles               int64     `json:"cycles"`
	Successes            int64     `json:"successes"`
	Failures             int64     `json:"failures"`
	Changes              int64     `json:"changes"`
	NotificationFailures int64     `json:"notification_failures"`
	InMaintenance        bool      `json:"in_maintenance"`
	LastRunID            string    `json:"last_run_id,omitempty"`
	LastSuccess          bool      `json:"last_success"`
	LastStatus           string    `json:"last_status,omitempty"`
	LastEvent            string    `json:"last_event,omitempty"`
	LastReason           string    `json:"last_reason,omitempty"`
	LastAttempts         int       `json:"last_attempts"`
	LastCheckAt          time.Time `json:"last_check_at,omitempty"`
	NextRunAt            time.Time `json:"next_run_at,omitempty"`

	LastOutcome *watch.Outcome `json:"-"`
}

// Tracker holds the state shared between the loop and readers such as the
// status API. It is created before the executor so notification dispatch can
// be observed through Dispatcher.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{State: StateIdle}}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.snap
	if snap.LastOutcome != nil {
		out := *snap.LastOutcome
		snap.LastOutcome = &out
	}
	return snap
}

// Dispatcher wraps d so that the tracker reports StateNotifying while a
// notification is in flight.
func (t *Tracker) Dispatcher(d watch.Dispatcher) watch.Dispatcher {
	if d == nil {
		return nil
	}
	return trackedDispatcher{tracker: t, next: d}
}

type trackedDispatcher struct {
	tracker *Tracker
	next    watch.Dispatcher
}

func (d trackedDispatcher) Dispatch(ctx context.Context, event notifier.Event) notifier.Result {
	d.tracker.set(StateNotifying)
	defer d.tracker.set(StateChecking)
	return d.next.Dispatch(ctx, event)
}

func (t *Tracker) set(state State) {
	t.mu.Lock()
	t.snap.State = state
	t.mu.Unlock()
}

func (t *Tracker) beginCycle(inMaintenance bool) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Cycles++
	t.snap.InMaintenance = inMaintenance
	if !inMaintenance {
		t.snap.State = StateChecking
	}
	return t.snap.Cycles
}

func (t *Tracker) finish(out watch.Outcome, ok bool, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ok {
		t.snap.Successes++
		if out.Event.Kind == change.Changed {
			t.snap.Changes++
			if out.NotifyErr != nil {
				t.snap.NotificationFailures++
			}
		}
	} else {
		t.snap.Failures++
	}
	t.snap.LastRunID = out.RunID
	t.snap.LastSuccess = ok
	t.snap.LastStatus = out.Status
	t.snap.LastReason = out.Reason
	t.snap.LastAttempts = out.Attempt
	t.snap.LastEvent = ""
	if ok {
		t.snap.LastEvent = out.Event.Kind.String()
	}
	t.snap.LastCheckAt = at
	t.snap.LastOutcome = &out
}

func (t *Tracker) sleeping(next time.Time) {
	t.mu.Lock()
	t.snap.State = StateSleeping
	t.snap.NextRunAt = next
	t.mu.Unlock()
}
