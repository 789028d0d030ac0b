// Package variant implements the Bytecode Variant Definition data model:
// one logical opcode may have multiple variants distinguished by operand
// specializations, each carrying its own operand list, optional
// quickening, and optional metadata-struct layout.
//
// Operand encode/decode follows internal/bytecode.Chunk's convention:
// big-endian, unaligned, fixed-width fields.
package variant

import (
	"encoding/binary"
	"fmt"

	"github.com/deegen/deegen-core/internal/typemask"
)

// OperandKind is the closed set of operand kinds a bytecode variant names.
type OperandKind int

const (
	OperandSlot OperandKind = iota
	OperandConstant
	OperandBytecodeRangeRO
	OperandBytecodeRangeRW
	OperandLiteral
	OperandSpecializedLiteral
	// OperandSlotOrConstant is the dispatcher-only kind for
	// "BytecodeSlotOrConstant": at the data-model level it
	// is simply an operand that may be encoded as either a Slot or a
	// Constant depending on the call-site argument, resolved at Create
	// time by the generated dispatcher.
	OperandSlotOrConstant
)

func (k OperandKind) String() string {
	switch k {
	case OperandSlot:
		return "Slot"
	case OperandConstant:
		return "Constant"
	case OperandBytecodeRangeRO:
		return "BytecodeRangeRO"
	case OperandBytecodeRangeRW:
		return "BytecodeRangeRW"
	case OperandLiteral:
		return "Literal"
	case OperandSpecializedLiteral:
		return "SpecializedLiteral"
	case OperandSlotOrConstant:
		return "BytecodeSlotOrConstant"
	default:
		return fmt.Sprintf("OperandKind(%d)", int(k))
	}
}

// Width is the declared storage width of an operand, in bytes.
type Width int

const (
	Width1 Width = 1
	Width2 Width = 2
	Width4 Width = 4
	Width8 Width = 8
)

// Operand is one declared operand of a variant.
type Operand struct {
	Ordinal                int
	Kind                   OperandKind
	Width                  Width
	Signed                 bool
	IsElidedFromBytecodeStruct bool

	// SpecializedValue is set when Kind == OperandSpecializedLiteral: the
	// concrete literal value this variant specializes on.
	SpecializedValue int64
	HasSpecializedValue bool

	// SpeculatedTypeMask is the constant-specialization mask this operand
	// carries when Kind == OperandConstant and the variant specializes on
	// a type.
	SpeculatedTypeMask typemask.Mask
	HasSpeculatedTypeMask bool
}

// Quickening is one (operand, speculated-type) fast-path entry.
type Quickening struct {
	OperandOrd     int
	SpeculatedType typemask.Mask
}

// MetadataField is one field of a metadata struct.
type MetadataField struct {
	Name      string
	Alignment int
	Size      int
	InitData  []byte // initial-value bytes, length == Size
	Offset    int    // computed during layout (internal/metadata)
}

// MetadataStruct is a variant's metadata-struct layout. Either Inlined (the
// bytes are embedded in the bytecode struct) or out-of-line, referenced by
// a 32-bit offset whose byte position is Variant.MetadataPtrOffset.
type MetadataStruct struct {
	Fields    []MetadataField
	Inlined   bool
	Alignment int // overall struct alignment; must be <= 16
	Size      int // computed during layout finalization
}

// AddField appends a field and returns its index. Duplicate names are
// rejected: no metadata field may be added twice for a fused-IC variant.
func (m *MetadataStruct) AddField(f MetadataField) (int, error) {
	for _, existing := range m.Fields {
		if existing.Name == f.Name {
			return -1, fmt.Errorf("variant: metadata field %q added twice", f.Name)
		}
	}
	m.Fields = append(m.Fields, f)
	return len(m.Fields) - 1, nil
}

// Variant is one bytecode variant: a named opcode with fixed operand kinds
// and possibly-specialized constant/literal conditions.
type Variant struct {
	BytecodeName     string
	VariantOrd       int
	ImplFunctionName string

	Operands []Operand

	OutputSlot    *Operand // always a Slot when present
	HasCondBrTarget bool
	// CondBrTarget is a signed 32-bit relative offset, encoded at
	// CondBrOffset within the struct once known (builder generator fills
	// this in via a BranchTargetPopulator).
	CondBrOffset int

	Quickening []Quickening

	Metadata           *MetadataStruct
	MetadataPtrOffset  int // byte offset of the 32-bit out-of-line pointer, if Metadata != nil && !Metadata.Inlined

	SameLengthConstraintList []*Variant

	// FuseICIntoInterpreterOpcode mirrors the per-IC flag;
	// mutually exclusive with a non-empty Quickening list.
	FuseICIntoInterpreterOpcode bool

	// tentativeLength/finalLength: set by internal/metadata.
	tentativeLength int
	finalLength     int
	lengthFinalized bool
}

// Validate checks the invariants: operand ordinals are
// 0..n-1, and quickening/fused-IC are mutually exclusive.
func (v *Variant) Validate() error {
	for i, op := range v.Operands {
		if op.Ordinal != i {
			return fmt.Errorf("variant %s#%d: operand %d has ordinal %d, want %d",
				v.BytecodeName, v.VariantOrd, i, op.Ordinal, i)
		}
	}
	if len(v.Quickening) > 0 && v.FuseICIntoInterpreterOpcode {
		return fmt.Errorf("variant %s#%d: quickening and FuseICIntoInterpreterOpcode are mutually exclusive",
			v.BytecodeName, v.VariantOrd)
	}
	return nil
}

// NonElidedOperands returns operands that contribute bytes to the encoded
// struct, in ordinal order.
func (v *Variant) NonElidedOperands() []Operand {
	var out []Operand
	for _, op := range v.Operands {
		if !op.IsElidedFromBytecodeStruct {
			out = append(out, op)
		}
	}
	return out
}

// TentativeLength computes the struct length before same-length
// equalization: opcodeWidth + sum of non-elided operand widths + optional
// output slot (its declared width) + optional cond-br target (4 bytes) +
// optional inlined metadata size, or the 4-byte out-of-line pointer.
func (v *Variant) TentativeLength(opcodeWidth Width) int {
	length := int(opcodeWidth)
	for _, op := range v.NonElidedOperands() {
		length += int(op.Width)
	}
	if v.OutputSlot != nil {
		length += int(v.OutputSlot.Width)
	}
	if v.HasCondBrTarget {
		length += 4
	}
	if v.Metadata != nil {
		if v.Metadata.Inlined {
			length += v.Metadata.Size
		} else {
			length += 4 // metadataPtrOffset operand
		}
	}
	v.tentativeLength = length
	return length
}

// FinalizeLength computes finalLength = max(tentative length, max over
// SameLengthConstraintList) and commits it.
// It must be called after TentativeLength on v and on every sibling.
func (v *Variant) FinalizeLength() int {
	max := v.tentativeLength
	for _, sib := range v.SameLengthConstraintList {
		if sib.tentativeLength > max {
			max = sib.tentativeLength
		}
	}
	v.finalLength = max
	v.lengthFinalized = true
	return max
}

// FinalLength returns the committed length; panics if FinalizeLength has
// not run, since using it earlier is a pipeline bug.
func (v *Variant) FinalLength() int {
	if !v.lengthFinalized {
		panic(fmt.Sprintf("variant %s#%d: FinalLength read before FinalizeLength", v.BytecodeName, v.VariantOrd))
	}
	return v.finalLength
}

// EncodeOperand writes an operand's value into dst at its declared width,
// big-endian and unaligned, mirroring bytecode.Chunk.WriteU16/ReadU16.
func EncodeOperand(dst []byte, op Operand, value uint64) {
	switch op.Width {
	case Width1:
		dst[0] = byte(value)
	case Width2:
		binary.BigEndian.PutUint16(dst, uint16(value))
	case Width4:
		binary.BigEndian.PutUint32(dst, uint32(value))
	case Width8:
		binary.BigEndian.PutUint64(dst, value)
	default:
		panic(fmt.Sprintf("variant: unsupported operand width %d", op.Width))
	}
}

// DecodeOperand reads an operand's value back out of src.
func DecodeOperand(src []byte, op Operand) uint64 {
	switch op.Width {
	case Width1:
		return uint64(src[0])
	case Width2:
		return uint64(binary.BigEndian.Uint16(src))
	case Width4:
		return uint64(binary.BigEndian.Uint32(src))
	case Width8:
		return binary.BigEndian.Uint64(src)
	default:
		panic(fmt.Sprintf("variant: unsupported operand width %d", op.Width))
	}
}
