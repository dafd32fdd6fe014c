package conductor

import (
	"strings"
	"testing"
)

func TestParseCollapsedOutput_ExactMatch(t *testing.T) {
	out := "R1\n---STEP_BOUNDARY---\nR2\n---STEP_BOUNDARY---\nR3"
	got := ParseCollapsedOutput(out, 3)

	want := []string{"R1", "R2", "R3"}
	if len(got) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestParseCollapsedOutput_PadsByRepeatingLast(t *testing.T) {
	got := ParseCollapsedOutput("R1\n---STEP_BOUNDARY---\nR2", 3)

	if len(got) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(got))
	}
	if got[0] != "R1" || got[1] != "R2" || got[2] != "R2" {
		t.Errorf("expected [R1 R2 R2], got %v", got)
	}
}

func TestParseCollapsedOutput_TruncatesExtra(t *testing.T) {
	out := strings.Join([]string{"A", "B", "C", "D"}, "\n---STEP_BOUNDARY---\n")
	got := ParseCollapsedOutput(out, 2)

	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("expected first 2 segments [A B], got %v", got)
	}
}

func TestParseCollapsedOutput_NoBoundaries(t *testing.T) {
	got := ParseCollapsedOutput("one big answer", 3)

	if len(got) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(got))
	}
	for i, s := range got {
		if s != "one big answer" {
			t.Errorf("segment[%d] = %q, want full text repeated", i, s)
		}
	}
}

func TestParseCollapsedOutput_EmptyOutput(t *testing.T) {
	got := ParseCollapsedOutput("", 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 segments even for empty output, got %d", len(got))
	}
	// Zero segments survived, so the whole raw output is the filler.
	if got[0] != "" || got[1] != "" {
		t.Errorf("expected raw empty fillers, got %q", got)
	}
}

func TestParseCollapsedOutput_DropsEmptySegments(t *testing.T) {
	out := "R1\n---STEP_BOUNDARY---\n\n---STEP_BOUNDARY---\nR2"
	got := ParseCollapsedOutput(out, 2)

	if len(got) != 2 || got[0] != "R1" || got[1] != "R2" {
		t.Errorf("empty middle segment should be dropped, got %v", got)
	}
}

func TestParseCollapsedOutput_ZeroExpected(t *testing.T) {
	if got := ParseCollapsedOutput("anything", 0); len(got) != 0 {
		t.Errorf("expectedCount 0 should return empty slice, got %v", got)
	}
}
