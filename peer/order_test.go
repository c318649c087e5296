package peer

import "testing"

func TestLessDigitOnlyComparesNumerically(t *testing.T) {
	if !Less("2", "10") {
		t.Fatal(`expected "2" to sort before "10"`)
	}
	if Less("10", "2") {
		t.Fatal(`expected "10" to not sort before "2"`)
	}
}

func TestLessMixedFallsBackToByteOrder(t *testing.T) {
	if !Less("2", "A") {
		t.Fatal(`expected "2" to sort before "A" by byte order`)
	}
}

func TestLessNumericEqualityFallsBackToLexicographic(t *testing.T) {
	if !Less("02", "2") {
		t.Fatal(`expected "02" to sort before "2" on numeric equality`)
	}
}

func TestMinReturnsSmallestByTotalOrder(t *testing.T) {
	got, ok := Min([]string{"10", "2", "A", "02"})
	if !ok || got != "02" {
		t.Fatalf("expected min to be %q, got %q (ok=%v)", "02", got, ok)
	}
}

func TestMinEmptyReportsNotOk(t *testing.T) {
	_, ok := Min(nil)
	if ok {
		t.Fatal("expected Min of an empty slice to report not-ok")
	}
}
