package store

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"call", "waiting", true},
		{"call", "serving", false},
		{"call", "done", false},
		{"call", "skipped", false},
		{"complete", "serving", true},
		{"complete", "waiting", false},
		{"complete", "done", false},
		{"complete", "skipped", false},
		{"skip", "waiting", true},
		{"skip", "serving", true},
		{"skip", "done", false},
		{"skip", "skipped", false},
		{"unknown", "waiting", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestTargetStatus(t *testing.T) {
	for action, want := range map[string]string{"call": "serving", "complete": "done", "skip": "skipped"} {
		got, ok := TargetStatus(action)
		if !ok || got != want {
			t.Fatalf("TargetStatus(%q)=%q,%v, want %q", action, got, ok, want)
		}
	}
	if _, ok := TargetStatus("hold"); ok {
		t.Fatal("expected unknown action to have no target")
	}
}
