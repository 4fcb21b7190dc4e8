package simhash

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	if Fingerprint(text) != Fingerprint(text) {
		t.Errorf("identical texts produced different fingerprints")
	}
}

func TestFingerprint_CaseInsensitive(t *testing.T) {
	a := Fingerprint("The Quick Brown Fox")
	b := Fingerprint("the quick brown fox")
	if a != b {
		t.Errorf("case variants produced different fingerprints: %064b vs %064b", a, b)
	}
}

func TestFingerprint_SimilarTexts(t *testing.T) {
	fp1 := Fingerprint("the quick brown fox jumps over the lazy dog")
	fp2 := Fingerprint("the quick brown fox leaps over the lazy dog")

	if dist := Distance(fp1, fp2); dist > 16 {
		t.Errorf("similar texts have too large distance: %d", dist)
	}
}

func TestFingerprint_DifferentTexts(t *testing.T) {
	fp1 := Fingerprint("the quick brown fox jumps over the lazy dog")
	fp2 := Fingerprint("completely unrelated content about quantum physics and mathematics")

	if dist := Distance(fp1, fp2); dist < 5 {
		t.Errorf("very different texts have too small distance: %d", dist)
	}
}

func TestFingerprint_EmptyAndWhitespace(t *testing.T) {
	for _, input := range []string{"", "   \t\n  "} {
		if fp := Fingerprint(input); fp != 0 {
			t.Errorf("Fingerprint(%q) = %064b, want 0", input, fp)
		}
	}
}

func TestFingerprint_SingleWord(t *testing.T) {
	if Fingerprint("hello") == 0 {
		t.Error("single word should produce a non-zero fingerprint")
	}
	if Fingerprint("hello") != Fingerprint("hello") {
		t.Error("single word fingerprint is not deterministic")
	}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b uint64
		want int
	}{
		{"identical", 0xFF, 0xFF, 0},
		{"all bits", 0, ^uint64(0), 64},
		{"one bit", 0, 1, 1},
		{"two bits", 0, 3, 2},
	}
	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Distance = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSimilar(t *testing.T) {
	if !Similar(0, 3, 2) {
		t.Error("distance 2 should be similar at threshold 2")
	}
	if Similar(0, 7, 2) {
		t.Error("distance 3 should not be similar at threshold 2")
	}
}
