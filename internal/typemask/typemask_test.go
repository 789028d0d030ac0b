package typemask

import "testing"

func TestSubsetAndEquality(t *testing.T) {
	if !MaskInt.IsSubsetOf(MaskNumber) {
		t.Error("int should be a subset of number")
	}
	if MaskNumber.IsSubsetOf(MaskInt) {
		t.Error("number should not be a subset of int")
	}
	if !MaskInt.IsStrictSubsetOf(MaskNumber) {
		t.Error("int should be a strict subset of number")
	}
	if MaskNumber.IsStrictSubsetOf(MaskNumber) {
		t.Error("a mask is never a strict subset of itself")
	}
	if !Mask(MaskTop).Equals(Top()) {
		t.Error("MaskTop and Top() should be equal")
	}
}

func TestIsSingleton(t *testing.T) {
	if !Mask(MaskInt).IsSingleton() {
		t.Error("int should be a singleton primitive")
	}
	if Mask(MaskNumber).IsSingleton() {
		t.Error("number is a union, not a singleton")
	}
}

func TestIsExactlyDoubleNotNaN(t *testing.T) {
	if !Mask(MaskDoubleNotNaN).IsExactlyDoubleNotNaN() {
		t.Error("expected exact double-not-nan match")
	}
	if Mask(MaskDouble).IsExactlyDoubleNotNaN() {
		t.Error("the double union should not match exactly double-not-nan")
	}
}

func TestMaximalIn(t *testing.T) {
	candidates := []Mask{MaskInt, MaskNumber, MaskString}
	maximal := MaximalIn(candidates)
	if len(maximal) != 2 {
		t.Fatalf("expected 2 maximal masks, got %d: %v", len(maximal), maximal)
	}
	found := map[Mask]bool{}
	for _, m := range maximal {
		found[m] = true
	}
	if !found[Mask(MaskNumber)] || !found[Mask(MaskString)] {
		t.Errorf("expected number and string to be maximal, got %v", maximal)
	}
	if found[Mask(MaskInt)] {
		t.Error("int has a strict superset present (number), should not be maximal")
	}
}

func TestCanonicalPrimitivesOrderIsStable(t *testing.T) {
	a := CanonicalPrimitives()
	b := CanonicalPrimitives()
	if len(a) != len(b) {
		t.Fatal("canonical primitive list length changed between calls")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("canonical primitive order is not stable at index %d", i)
		}
	}
}

func TestName(t *testing.T) {
	if Mask(MaskInt).Name() != "int" {
		t.Errorf("expected name %q, got %q", "int", Mask(MaskInt).Name())
	}
	if Mask(MaskTop).Name() != "top" {
		t.Errorf("expected name %q, got %q", "top", Mask(MaskTop).Name())
	}
}
