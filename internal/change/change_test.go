package change

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name        string
		previous    string
		hasPrevious bool
		current     string
		want        Event
		notify      bool
	}{
		{
			name:    "first observation",
			current: "X",
			want:    Event{Kind: FirstObservation, Current: "X"},
		},
		{
			name:        "unchanged",
			previous:    "X",
			hasPrevious: true,
			current:     "X",
			want:        Event{Kind: Unchanged, Previous: "X", Current: "X"},
		},
		{
			name:        "changed",
			previous:    "X",
			hasPrevious: true,
			current:     "Y",
			want:        Event{Kind: Changed, Previous: "X", Current: "Y"},
			notify:      true,
		},
		{
			name:        "case difference is a change",
			previous:    "approved",
			hasPrevious: true,
			current:     "Approved",
			want:        Event{Kind: Changed, Previous: "approved", Current: "Approved"},
			notify:      true,
		},
		{
			name:        "empty previous still counts as recorded",
			previous:    "",
			hasPrevious: true,
			current:     "In Review",
			want:        Event{Kind: Changed, Previous: "", Current: "In Review"},
			notify:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Detect(tt.previous, tt.hasPrevious, tt.current)
			if got != tt.want {
				t.Fatalf("Detect() = %+v, want %+v", got, tt.want)
			}
			if got.ShouldNotify() != tt.notify {
				t.Fatalf("ShouldNotify() = %v, want %v", got.ShouldNotify(), tt.notify)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if Changed.String() != "changed" {
		t.Fatalf("unexpected string %q", Changed.String())
	}
	if Kind(42).String() != "kind(42)" {
		t.Fatalf("unexpected string %q", Kind(42).String())
	}
}
