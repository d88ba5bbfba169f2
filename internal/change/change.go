package change

import "fmt"

// Kind classifies a status observation against the stored one.
type Kind int

const (
	FirstObservation Kind = iota + 1
	Unchanged
	Changed
)

func (k Kind) String() string {
	switch k {
	case FirstObservation:
		return "first_observation"
	case Unchanged:
		return "unchanged"
	case Changed:
		return "changed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is the result of comparing a fresh status with the stored one.
// Previous is empty unless Kind is Changed or Unchanged.
type Event struct {
	Kind     Kind
	Previous string
	Current  string
}

// Detect compares current with the previously recorded status. Equality is
// exact; no normalisation is applied.
func Detect(previous string, hasPrevious bool, current string) Event {
	switch {
	case !hasPrevious:
		return Event{Kind: FirstObservation, Current: current}
	case previous == current:
		return Event{Kind: Unchanged, Previous: previous, Current: current}
	default:
		return Event{Kind: Changed, Previous: previous, Current: current}
	}
}

// ShouldNotify reports whether the event warrants a notification.
func (e Event) ShouldNotify() bool {
	return e.Kind == Changed
}
