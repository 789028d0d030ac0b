package metadata

import (
	"testing"

	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/variant"
)

func TestReserveCallICSkipsWhenOptedOut(t *testing.T) {
	info := &component.Info{
		Variant: &variant.Variant{},
		Main:    &component.BytecodeIrComponent{Impl: ir.NewFunction("f")},
	}
	if err := ReserveCallIC(info, true); err != nil {
		t.Fatalf("ReserveCallIC: %v", err)
	}
	if info.Variant.Metadata != nil {
		t.Error("opted-out variant must not gain a metadata struct")
	}
}

func TestReserveCallICSkipsWhenNoMakeCall(t *testing.T) {
	info := &component.Info{
		Variant: &variant.Variant{},
		Main:    &component.BytecodeIrComponent{Impl: ir.NewFunction("f")},
	}
	if err := ReserveCallIC(info, false); err != nil {
		t.Fatalf("ReserveCallIC: %v", err)
	}
	if info.Variant.Metadata != nil {
		t.Error("a Main with no MakeCall site must not gain a call-IC field")
	}
}

func TestReserveCallICAddsFieldWhenMakeCallPresent(t *testing.T) {
	impl := ir.NewFunction("f")
	impl.Entry().AppendInst(&ir.Instruction{
		Call: &ir.CallInfo{Callee: ir.MetaMakeCall.String(), Meta: ir.MetaMakeCall},
	})
	info := &component.Info{
		Variant: &variant.Variant{},
		Main:    &component.BytecodeIrComponent{Impl: impl},
	}
	if err := ReserveCallIC(info, false); err != nil {
		t.Fatalf("ReserveCallIC: %v", err)
	}
	if info.Variant.Metadata == nil || len(info.Variant.Metadata.Fields) != 1 {
		t.Fatalf("expected one metadata field, got %+v", info.Variant.Metadata)
	}
	if info.Variant.Metadata.Fields[0].Name != CallICFieldName {
		t.Errorf("field name = %q, want %q", info.Variant.Metadata.Fields[0].Name, CallICFieldName)
	}
}

func TestReserveCallICIsIdempotent(t *testing.T) {
	impl := ir.NewFunction("f")
	impl.Entry().AppendInst(&ir.Instruction{
		Call: &ir.CallInfo{Callee: ir.MetaMakeCall.String(), Meta: ir.MetaMakeCall},
	})
	info := &component.Info{
		Variant: &variant.Variant{},
		Main:    &component.BytecodeIrComponent{Impl: impl},
	}
	if err := ReserveCallIC(info, false); err != nil {
		t.Fatalf("ReserveCallIC (1st): %v", err)
	}
	if err := ReserveCallIC(info, false); err != nil {
		t.Fatalf("ReserveCallIC (2nd): %v", err)
	}
	if len(info.Variant.Metadata.Fields) != 1 {
		t.Errorf("calling ReserveCallIC twice should not duplicate the field, got %d fields",
			len(info.Variant.Metadata.Fields))
	}
}

func TestLayoutFieldsAssignsOffsets(t *testing.T) {
	ms := &variant.MetadataStruct{
		Fields: []variant.MetadataField{
			{Name: "a", Alignment: 1, Size: 1},
			{Name: "b", Alignment: 4, Size: 4},
			{Name: "c", Alignment: 2, Size: 2},
		},
	}
	if err := LayoutFields(ms); err != nil {
		t.Fatalf("LayoutFields: %v", err)
	}
	if ms.Fields[0].Offset != 0 {
		t.Errorf("a.Offset = %d, want 0", ms.Fields[0].Offset)
	}
	if ms.Fields[1].Offset != 4 {
		t.Errorf("b.Offset = %d, want 4 (rounded up from 1)", ms.Fields[1].Offset)
	}
	if ms.Fields[2].Offset != 8 {
		t.Errorf("c.Offset = %d, want 8", ms.Fields[2].Offset)
	}
	if ms.Alignment != 4 {
		t.Errorf("Alignment = %d, want 4 (max field alignment)", ms.Alignment)
	}
	if ms.Size != 12 {
		t.Errorf("Size = %d, want 12 (10 rounded up to 4)", ms.Size)
	}
}

func TestLayoutFieldsRejectsOversizedAlignment(t *testing.T) {
	ms := &variant.MetadataStruct{Alignment: 32}
	if err := LayoutFields(ms); err == nil {
		t.Fatal("expected an error for alignment exceeding the cap")
	}
}

func TestFinalizeAppliesSameLengthConstraint(t *testing.T) {
	short := &variant.Variant{BytecodeName: "Add", VariantOrd: 0}
	long := &variant.Variant{
		BytecodeName: "Add",
		VariantOrd:   1,
		Operands: []variant.Operand{
			{Ordinal: 0, Kind: variant.OperandConstant, Width: variant.Width4},
		},
	}
	short.SameLengthConstraintList = []*variant.Variant{long}
	long.SameLengthConstraintList = []*variant.Variant{short}

	longLen, err := Finalize(long, variant.Width1)
	if err != nil {
		t.Fatalf("Finalize(long): %v", err)
	}
	shortLen, err := Finalize(short, variant.Width1)
	if err != nil {
		t.Fatalf("Finalize(short): %v", err)
	}
	if longLen != shortLen {
		t.Errorf("same-length-constraint siblings finalized to %d and %d, want equal", longLen, shortLen)
	}
	if shortLen != 5 {
		t.Errorf("finalized length = %d, want 5 (1-byte opcode + 4-byte constant operand)", shortLen)
	}
}

func TestFinalizeLayoutsMetadataFirst(t *testing.T) {
	v := &variant.Variant{
		BytecodeName: "Foo",
		Metadata: &variant.MetadataStruct{
			Inlined: true,
			Fields:  []variant.MetadataField{{Name: "x", Alignment: 8, Size: 3}},
		},
	}
	length, err := Finalize(v, variant.Width1)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if v.Metadata.Size != 8 {
		t.Fatalf("metadata Size = %d, want 8 (3 rounded up to 8-byte alignment)", v.Metadata.Size)
	}
	if length != 1+8 {
		t.Errorf("length = %d, want 9 (1-byte opcode + inlined 8-byte metadata)", length)
	}
}

func TestOutOfLineOffsetOperandShape(t *testing.T) {
	op := OutOfLineOffsetOperand(2)
	if op.Ordinal != 2 || op.Kind != variant.OperandLiteral || op.Width != variant.Width4 || op.Signed {
		t.Errorf("unexpected operand shape: %+v", op)
	}
}
