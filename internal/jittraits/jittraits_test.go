package jittraits

import "testing"

func TestTraitsValidateRejectsOversizedAlignment(t *testing.T) {
	tr := Traits{DataSectionAlignment: 32}
	if err := tr.Validate(); err == nil {
		t.Fatal("expected an error for alignment exceeding the cap")
	}
}

func TestTraitsValidateAcceptsCapAlignment(t *testing.T) {
	tr := Traits{DataSectionAlignment: MaxDataSectionAlignment}
	if err := tr.Validate(); err != nil {
		t.Errorf("alignment at the cap should be valid: %v", err)
	}
}

func TestPatchKindString(t *testing.T) {
	cases := map[PatchKind]string{
		PatchInt32:        "Int32",
		PatchSlowPathData: "SlowPathData",
		PatchInt64:        "Int64",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("PatchKind(%d).String() = %q, want %q", k, got, want)
		}
	}
}

func TestSizeClassForPicksSmallestFit(t *testing.T) {
	cases := []struct {
		want  int
		class AllocationSizeClass
	}{
		{1, 0},
		{64, 0},
		{65, 1},
		{4096, 6},
	}
	for _, tc := range cases {
		got, err := SizeClassFor(tc.want)
		if err != nil {
			t.Fatalf("SizeClassFor(%d): %v", tc.want, err)
		}
		if got != tc.class {
			t.Errorf("SizeClassFor(%d) = %d, want %d", tc.want, got, tc.class)
		}
	}
}

func TestSizeClassForRejectsOversized(t *testing.T) {
	if _, err := SizeClassFor(1 << 20); err == nil {
		t.Fatal("expected an error: no size class fits a 1MB request")
	}
}

func TestCallICTraitValidateRejectsOutOfBoundsPatch(t *testing.T) {
	trait := CallICTrait{
		SizeClass: 0, // 64 bytes
		Patches:   []CodePointerPatch{{Offset: 60, Is64Bit: true}},
	}
	if err := trait.Validate(); err == nil {
		t.Fatal("expected an error: patch at offset 60 width 8 overruns a 64-byte block")
	}
}

func TestCallICTraitValidateAcceptsInBoundsPatch(t *testing.T) {
	trait := CallICTrait{
		SizeClass: 0,
		Patches:   []CodePointerPatch{{Offset: 56, Is64Bit: true}},
	}
	if err := trait.Validate(); err != nil {
		t.Errorf("patch ending exactly at the block boundary should be valid: %v", err)
	}
}

func TestTraitTableAppendRejectsInvalidTrait(t *testing.T) {
	var tt TraitTable
	bad := CallICTrait{SizeClass: 0, Patches: []CodePointerPatch{{Offset: 100, Is64Bit: false}}}
	if _, err := tt.Append(bad); err == nil {
		t.Fatal("expected Append to reject an invalid trait")
	}
	if len(tt.Entries()) != 0 {
		t.Error("a rejected trait must not be recorded")
	}
}

func TestTraitTableAppendOrdersByRegistration(t *testing.T) {
	var tt TraitTable
	first, err := tt.Append(CallICTrait{SizeClass: 0})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := tt.Append(CallICTrait{SizeClass: 1, IsDirectCall: true})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if first != 0 || second != 1 {
		t.Fatalf("expected ordinals 0, 1, got %d, %d", first, second)
	}
	entries := tt.Entries()
	if len(entries) != 2 || entries[1].IsDirectCall != true {
		t.Errorf("unexpected entries: %+v", entries)
	}
}
