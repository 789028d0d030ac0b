// Package metadata implements Metadata Layout Finalization:
// after inline-cache lowering and the Call-IC reservation decision, the
// variant's bytecode-struct length is tentatively finalized, then
// equalized with same-length-constraint siblings. Field offset assignment
// follows internal/bytecode/object_layout.go alignment
// helpers, generalized from a fixed object shape to an arbitrary metadata
// field list.
package metadata

import (
	"fmt"

	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/variant"
)

const passName = "metadata-layout-finalization"

// MaxAlignment is the layout-violation cap: a metadata struct whose overall
// alignment exceeds this must be rejected rather than silently truncated.
const MaxAlignment = 16

// CallICFieldName is the metadata field reserved for Call-IC state when
// MakeCall is reachable in Main and the variant does not opt out.
const CallICFieldName = "__deegen_call_ic_state"

// ReserveCallIC implements the open-question resolution recorded in
// DESIGN.md: the decision runs AFTER per-component optimization (so a
// dead-coded MakeCall correctly suppresses the reservation), and BEFORE
// tentative length computation.
func ReserveCallIC(info *component.Info, optOut bool) error {
	if optOut {
		return nil
	}
	if len(info.Main.Impl.MakeCallSites()) == 0 {
		return nil
	}
	if info.Variant.Metadata == nil {
		info.Variant.Metadata = &variant.MetadataStruct{Alignment: 8}
	}
	for _, f := range info.Variant.Metadata.Fields {
		if f.Name == CallICFieldName {
			return nil // already reserved (e.g. re-entrant call in tests)
		}
	}
	_, err := info.Variant.Metadata.AddField(variant.MetadataField{
		Name:      CallICFieldName,
		Alignment: 8,
		Size:      16, // code pointer + closure/direct flag, 8-byte aligned pair
		InitData:  make([]byte, 16),
	})
	return err
}

// LayoutFields assigns byte offsets to every metadata field in declaration
// order, rounding each field up to its own alignment, and computes the
// struct's overall size and alignment (the max of all field alignments).
// Fields come out sorted by offset for header emission by construction,
// since fields are laid out in increasing-offset order already.
func LayoutFields(ms *variant.MetadataStruct) error {
	offset := 0
	maxAlign := 1
	for i := range ms.Fields {
		f := &ms.Fields[i]
		align := f.Alignment
		if align <= 0 {
			align = 1
		}
		offset = roundUp(offset, align)
		f.Offset = offset
		offset += f.Size
		if align > maxAlign {
			maxAlign = align
		}
	}
	ms.Size = roundUp(offset, maxAlign)
	if ms.Alignment == 0 {
		ms.Alignment = maxAlign
	}
	if ms.Alignment > MaxAlignment {
		return &diag.Fatal{
			Code: diag.CodeMetadataAlignmentTooLarge, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("metadata-struct alignment %d exceeds the %d-byte cap", ms.Alignment, MaxAlignment),
		}
	}
	return nil
}

func roundUp(v, align int) int {
	if align <= 1 {
		return v
	}
	return (v + align - 1) / align * align
}

// LayoutAndTentativeLength lays out v's metadata fields, if any, and
// computes its tentative length. Idempotent and safe to call more than
// once, so a caller processing many variants can run this over every
// variant in a group before any of them commits a final length — necessary
// because FinalizeLength reads each sibling's tentative length as it
// currently stands, and a same-length-constraint sibling processed later in
// variant order must not still be missing its own Call-IC field or IC
// metadata contribution when an earlier sibling commits.
func LayoutAndTentativeLength(v *variant.Variant, opcodeWidth variant.Width) error {
	if v.Metadata != nil {
		if err := LayoutFields(v.Metadata); err != nil {
			return err
		}
	}
	v.TentativeLength(opcodeWidth)
	return nil
}

// FinalizeLength commits v's final bytecode length: finalLength = max(v's
// own tentative length, every same-length-constraint sibling's tentative
// length). Callers must have already run LayoutAndTentativeLength on v and
// on every variant in v.SameLengthConstraintList.
func FinalizeLength(v *variant.Variant) int {
	return v.FinalizeLength()
}

// Finalize is the single-variant convenience form of LayoutAndTentativeLength
// + FinalizeLength: it lays out and tentatively lengths v and every variant
// in its SameLengthConstraintList, then commits v's final length. Callers
// processing more than one variant in a group should instead run
// LayoutAndTentativeLength over the whole group before calling FinalizeLength
// on any of them, so a same-length sibling processed later never undercounts
// an earlier sibling's commit.
func Finalize(v *variant.Variant, opcodeWidth variant.Width) (int, error) {
	if err := LayoutAndTentativeLength(v, opcodeWidth); err != nil {
		return 0, err
	}
	for _, sib := range v.SameLengthConstraintList {
		if err := LayoutAndTentativeLength(sib, opcodeWidth); err != nil {
			return 0, err
		}
	}
	return FinalizeLength(v), nil
}

// OutOfLineOffsetOperand returns the metadata-ptr operand description for
// an out-of-line metadata struct: a 32-bit field named "metadataPtrOffset".
func OutOfLineOffsetOperand(ord int) variant.Operand {
	return variant.Operand{
		Ordinal: ord,
		Kind:    variant.OperandLiteral,
		Width:   variant.Width4,
		Signed:  false,
	}
}

// touchesMakeCall reports whether fn contains any MakeCall site. It is
// unexported and currently has no callers.
func touchesMakeCall(fn *ir.Function) bool {
	return len(fn.MakeCallSites()) > 0
}
