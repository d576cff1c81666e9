package symbol

import (
	"errors"
	"testing"
)

func TestNormalize_Valid(t *testing.T) {
	tests := map[string]string{
		"aapl":   "AAPL",
		" msft ": "MSFT",
		"brk.b":  "BRK.B",
		"RDS-A":  "RDS-A",
		"7203.T": "7203.T",
		"Goog":   "GOOG",
	}
	for in, want := range tests {
		got, err := Normalize(in)
		if err != nil {
			t.Errorf("Normalize(%q): unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []string{
		"AA PL",
		"$AAPL",
		".AAPL",
		"ABCDEFGHIJKLMN",
		"AAPL;DROP",
	}
	for _, in := range tests {
		_, err := Normalize(in)
		if !errors.Is(err, ErrInvalidSymbol) {
			t.Errorf("Normalize(%q): expected ErrInvalidSymbol, got %v", in, err)
		}
	}
}

func TestNormalize_Empty(t *testing.T) {
	if _, err := Normalize("   "); !errors.Is(err, ErrEmptySymbol) {
		t.Errorf("expected ErrEmptySymbol, got %v", err)
	}
}

func TestNormalizeAll_Dedupes(t *testing.T) {
	got, err := NormalizeAll([]string{"aapl", "MSFT", "AAPL", "tsla"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"AAPL", "MSFT", "TSLA"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestNormalizeAll_PropagatesError(t *testing.T) {
	if _, err := NormalizeAll([]string{"AAPL", "bad symbol"}); err == nil {
		t.Error("expected error for invalid entry")
	}
}
