package domain

import "testing"

func TestStatusTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		from    ApplicationStatus
		to      ApplicationStatus
		allowed bool
	}{
		{"first upload", StatusDraft, StatusDocumentsUploaded, true},
		{"start analysis", StatusDocumentsUploaded, StatusAnalyzing, true},
		{"analysis ready", StatusAnalyzing, StatusGenerating, true},
		{"analysis revert", StatusAnalyzing, StatusDocumentsUploaded, true},
		{"generation done", StatusGenerating, StatusCompleted, true},
		{"generation exhausted", StatusGenerating, StatusFailed, true},
		{"operator reset", StatusFailed, StatusDocumentsUploaded, true},
		{"skip analysis", StatusDocumentsUploaded, StatusGenerating, false},
		{"skip upload", StatusDraft, StatusAnalyzing, false},
		{"abandon generation", StatusGenerating, StatusDocumentsUploaded, false},
		{"revive completed", StatusCompleted, StatusDocumentsUploaded, false},
		{"reenter analysis from generating", StatusGenerating, StatusAnalyzing, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := tc.from.Transition(tc.to)
			if tc.allowed {
				if err != nil {
					t.Fatalf("Transition(%s -> %s) error = %v", tc.from, tc.to, err)
				}
				if next != tc.to {
					t.Fatalf("next = %s, want %s", next, tc.to)
				}
				return
			}
			if !IsKind(err, ErrStateTransition) {
				t.Fatalf("Transition(%s -> %s) err = %v, want state transition kind", tc.from, tc.to, err)
			}
			if next != tc.from {
				t.Fatalf("rejected transition must keep %s, got %s", tc.from, next)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, status := range []ApplicationStatus{StatusDraft, StatusDocumentsUploaded, StatusAnalyzing, StatusGenerating} {
		if status.Terminal() {
			t.Fatalf("%s must not be terminal", status)
		}
	}
	for _, status := range []ApplicationStatus{StatusCompleted, StatusFailed} {
		if !status.Terminal() {
			t.Fatalf("%s must be terminal", status)
		}
	}
}
