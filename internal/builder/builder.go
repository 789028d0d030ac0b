// Package builder implements the Builder Generator: for
// each opcode, it partitions the opcode's variant set into a dispatch tree
// over operand positions and emits both (a) Go source text for a
// DeegenGenerated_BytecodeBuilder_<Name> type exposing Create<Name>, and
// (b) a directly-evaluable form of the same tree so the dispatch logic is
// exercised and testable without compiling generated text.
//
// Grounded on internal/jvmgen/codegen.go's Generator (deterministic,
// ordered emission into a constant pool) and internal/jvmgen/writer.go's
// ByteWriter (this package's own writer.go adapts the same WriteU8/U16/U32
// idiom to the bytecode struct's unaligned big-endian layout).
package builder

import (
	"fmt"
	"sort"
	"strings"

	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/pipelinecfg"
	"github.com/deegen/deegen-core/internal/typemask"
	"github.com/deegen/deegen-core/internal/variant"
)

const passName = "builder-generator"

// Arg is one call-site argument to a generated Create<Opcode> call. The
// dispatcher inspects these fields — never the declared operand Kind — to
// pick a variant, mirroring the AsLocal/AsConstant/m_value/raw projections
// a call site actually passes.
type Arg struct {
	IsLocal  bool
	LocalOrd uint16

	IsConstant bool
	ConstIdx   uint16
	ConstMask  typemask.Mask

	HasLiteral   bool
	LiteralValue int64

	RangeStart uint16
	RangeLen   uint16
}

// EncodedInstruction is the result of a successful Create<Opcode> dispatch.
type EncodedInstruction struct {
	Variant   *variant.Variant
	Bytes     []byte
	BranchPop *BranchTargetPopulator
}

// node is one level of the generated dispatch tree.
type node struct {
	leaf *variant.Variant

	isLocalTest   bool
	pos           int
	slotNode      *node
	constNode     *node

	typeCheckMask typemask.Mask
	typeCheckThen *node
	typeCheckElse *node

	literalValue int64
	literalThen  *node
	literalElse  *node
}

// Tree is a built dispatch tree for one opcode's variant set.
type Tree struct {
	OpcodeName string
	root       *node
	variants   []*variant.Variant
}

// Build constructs the dispatch tree for vs, which must all share
// OpcodeName and have Validate()-clean operand lists.
func Build(opcodeName string, vs []*variant.Variant) (*Tree, error) {
	if len(vs) == 0 {
		return nil, fmt.Errorf("builder: %s has no variants", opcodeName)
	}
	for _, v := range vs {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	root, err := buildNode(vs, 0)
	if err != nil {
		return nil, err
	}
	return &Tree{OpcodeName: opcodeName, root: root, variants: vs}, nil
}

// buildNode partitions vs by the Kind each variant declares at pos,
// recursing with a fixed, ordered partition priority: slot-vs-constant
// split first, then constant type specialization, then specialized
// literal, then direct descent.
func buildNode(vs []*variant.Variant, pos int) (*node, error) {
	if len(vs) == 0 {
		return nil, nil // no variant matches here: asserts unreachable
	}
	if len(vs) == 1 {
		return &node{leaf: vs[0]}, nil
	}
	if pos >= len(vs[0].Operands) {
		return nil, &diag.Fatal{
			Code: diag.CodeAmbiguousVariantDispatch, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("%d variants of %q remain indistinguishable after all operand positions",
				len(vs), vs[0].BytecodeName),
		}
	}

	var slotVs, constVs, specLitVs, otherVs []*variant.Variant
	for _, v := range vs {
		switch v.Operands[pos].Kind {
		case variant.OperandSlot:
			slotVs = append(slotVs, v)
		case variant.OperandConstant:
			constVs = append(constVs, v)
		case variant.OperandSpecializedLiteral:
			specLitVs = append(specLitVs, v)
		default:
			otherVs = append(otherVs, v)
		}
	}

	switch {
	case len(slotVs) > 0 && len(constVs) > 0:
		// Slot-vs-Constant: a single isLocal test, slot subtree in the true
		// branch.
		slotNode, err := buildNode(append(append([]*variant.Variant{}, slotVs...), otherVs...), pos+1)
		if err != nil {
			return nil, err
		}
		constNode, err := buildConstTypeDispatch(constVs, specLitVs, pos)
		if err != nil {
			return nil, err
		}
		return &node{isLocalTest: true, pos: pos, slotNode: slotNode, constNode: constNode}, nil

	case len(constVs) > 0:
		return buildConstTypeDispatch(constVs, append(otherVs, specLitVs...), pos)

	case len(specLitVs) > 0:
		return buildLiteralDispatch(specLitVs, append(slotVs, otherVs...), pos)

	default:
		// Range/Slot kinds: no specialization possible at this position.
		return buildNode(vs, pos+1)
	}
}

// buildConstTypeDispatch implements "constant type specialization": it
// repeatedly selects a maximal type mask among candidates, emits a check,
// recurses on strict subsets before handling the exact-mask variants, then
// continues with the remaining masks. fallback holds variants that match
// whenever no type check here succeeds.
func buildConstTypeDispatch(candidates, fallback []*variant.Variant, pos int) (*node, error) {
	var specialized []*variant.Variant
	generic := append([]*variant.Variant{}, fallback...)
	for _, v := range candidates {
		if v.Operands[pos].HasSpeculatedTypeMask {
			specialized = append(specialized, v)
		} else {
			generic = append(generic, v)
		}
	}
	if len(specialized) == 0 {
		return buildNode(generic, pos+1)
	}

	byMask := map[typemask.Mask][]*variant.Variant{}
	var masks []typemask.Mask
	for _, v := range specialized {
		m := v.Operands[pos].SpeculatedTypeMask
		if _, ok := byMask[m]; !ok {
			masks = append(masks, m)
		}
		byMask[m] = append(byMask[m], v)
	}

	maximal := typemask.MaximalIn(masks)
	m := maximal[0]
	exact := byMask[m]

	var subset, rest []*variant.Variant
	for _, mm := range masks {
		if mm == m {
			continue
		}
		if mm.IsStrictSubsetOf(m) {
			subset = append(subset, byMask[mm]...)
		} else {
			rest = append(rest, byMask[mm]...)
		}
	}

	thenNode, err := buildConstTypeDispatch(subset, exact, pos)
	if err != nil {
		return nil, err
	}
	elseNode, err := buildConstTypeDispatch(rest, generic, pos)
	if err != nil {
		return nil, err
	}
	return &node{typeCheckMask: m, pos: pos, typeCheckThen: thenNode, typeCheckElse: elseNode}, nil
}

// buildLiteralDispatch implements "specialized literal value": an ordered
// equality chain sorted by signed value for determinism, with a fallback
// branch for unspecialized variants if any exist.
func buildLiteralDispatch(specVs, fallbackVs []*variant.Variant, pos int) (*node, error) {
	sorted := append([]*variant.Variant{}, specVs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Operands[pos].SpecializedValue < sorted[j].Operands[pos].SpecializedValue
	})

	var chain *node
	if len(fallbackVs) > 0 {
		n, err := buildNode(fallbackVs, pos+1)
		if err != nil {
			return nil, err
		}
		chain = n
	}

	for i := len(sorted) - 1; i >= 0; i-- {
		v := sorted[i]
		thenNode, err := buildNode([]*variant.Variant{v}, pos+1)
		if err != nil {
			return nil, err
		}
		chain = &node{pos: pos, literalValue: v.Operands[pos].SpecializedValue, literalThen: thenNode, literalElse: chain}
	}
	return chain, nil
}

// Dispatch walks the tree against args, selecting the single matching
// variant: running the dispatcher on operand values derived from any
// variant's encoder must re-select that same variant. Returns the
// assert-unreachable fatal if nothing matches.
func (t *Tree) Dispatch(args []Arg) (*variant.Variant, error) {
	return evalNode(t.root, args, t.OpcodeName)
}

func evalNode(n *node, args []Arg, opcodeName string) (*variant.Variant, error) {
	if n == nil {
		return nil, &diag.Fatal{
			Code: diag.CodeAmbiguousVariantDispatch, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("Create%s: no variant matched call-site arguments (assert unreachable)", opcodeName),
		}
	}
	if n.leaf != nil {
		return n.leaf, nil
	}
	switch {
	case n.isLocalTest:
		if args[n.pos].IsLocal {
			return evalNode(n.slotNode, args, opcodeName)
		}
		return evalNode(n.constNode, args, opcodeName)
	case n.typeCheckMask != 0:
		if args[n.pos].ConstMask.IsSubsetOf(n.typeCheckMask) {
			return evalNode(n.typeCheckThen, args, opcodeName)
		}
		return evalNode(n.typeCheckElse, args, opcodeName)
	default:
		a := args[n.pos]
		if a.HasLiteral && a.LiteralValue == n.literalValue {
			return evalNode(n.literalThen, args, opcodeName)
		}
		return evalNode(n.literalElse, args, opcodeName)
	}
}

// EncodeVariant writes v's packed bytecode bytes for the given call-site
// args, in the bytecode struct's layout: opcode field, then each
// non-elided operand at its sequential offset, then the optional
// output slot, with the struct padded up to v.FinalLength() for
// same-length-constraint siblings.
func EncodeVariant(v *variant.Variant, args []Arg, outputSlot uint16, opcodeWidth pipelinecfg.OpcodeWidth) (*EncodedInstruction, error) {
	w := NewByteWriter()
	writeOpcodeField(w, v.VariantOrd, opcodeWidth)

	var pop *BranchTargetPopulator
	for _, op := range v.NonElidedOperands() {
		val, err := projectArg(args, op)
		if err != nil {
			return nil, err
		}
		field := make([]byte, int(op.Width))
		variant.EncodeOperand(field, op, val)
		w.WriteBytes(field)
	}

	if v.OutputSlot != nil {
		field := make([]byte, int(v.OutputSlot.Width))
		variant.EncodeOperand(field, *v.OutputSlot, uint64(outputSlot))
		w.WriteBytes(field)
	}

	if v.HasCondBrTarget {
		pop = NewBranchTargetPopulator(w)
		w.WriteU32(0) // placeholder, back-patched by pop.Populate
	}

	out := w.Bytes()
	final := v.FinalLength()
	if len(out) < final {
		out = append(out, make([]byte, final-len(out))...)
	}
	return &EncodedInstruction{Variant: v, Bytes: out, BranchPop: pop}, nil
}

func writeOpcodeField(w *ByteWriter, variantOrd int, width pipelinecfg.OpcodeWidth) {
	switch width {
	case pipelinecfg.OpcodeWidth1:
		w.WriteU8(uint8(variantOrd))
	case pipelinecfg.OpcodeWidth2:
		w.WriteU16(uint16(variantOrd))
	case pipelinecfg.OpcodeWidth4:
		w.WriteU32(uint32(variantOrd))
	case pipelinecfg.OpcodeWidth8:
		w.WriteU64(uint64(variantOrd))
	}
}

// projectArg resolves one operand's encoded value from the call-site Arg at
// op.Ordinal, applying the source-kind projection (AsLocal/AsConstant/
// m_value/raw) the operand's Kind names.
func projectArg(args []Arg, op variant.Operand) (uint64, error) {
	if op.Ordinal >= len(args) {
		return 0, fmt.Errorf("builder: missing call-site argument for operand %d", op.Ordinal)
	}
	a := args[op.Ordinal]
	switch op.Kind {
	case variant.OperandSlot:
		return uint64(a.LocalOrd), nil
	case variant.OperandConstant:
		return uint64(a.ConstIdx), nil
	case variant.OperandSpecializedLiteral, variant.OperandLiteral:
		return uint64(a.LiteralValue), nil
	case variant.OperandBytecodeRangeRO, variant.OperandBytecodeRangeRW:
		return uint64(a.RangeStart), nil
	default:
		return 0, fmt.Errorf("builder: unsupported operand kind %s at call site", op.Kind)
	}
}

// GenerateHeaderText renders t as Go source text for a
// DeegenGenerated_BytecodeBuilder_<Name> type exposing Create<Name>.
// Emission uses strings.Builder/fmt.Fprintf directly, the way jvmgen's
// codegen and bytecode.Chunk.Disassemble build text, rather than
// text/template.
func (t *Tree) GenerateHeaderText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "// Code generated by the Deegen builder generator. DO NOT EDIT.\n\n")
	fmt.Fprintf(&sb, "type DeegenGenerated_BytecodeBuilder_%s struct{}\n\n", t.OpcodeName)
	fmt.Fprintf(&sb, "func (DeegenGenerated_BytecodeBuilder_%s) Create%s(args []builder.Arg, outputSlot uint16, opcodeWidth pipelinecfg.OpcodeWidth) (*builder.EncodedInstruction, error) {\n",
		t.OpcodeName, t.OpcodeName)
	fmt.Fprintf(&sb, "\tv, err := dispatch_%s(args)\n", t.OpcodeName)
	sb.WriteString("\tif err != nil {\n\t\treturn nil, err\n\t}\n")
	sb.WriteString("\treturn builder.EncodeVariant(v, args, outputSlot, opcodeWidth)\n}\n\n")

	fmt.Fprintf(&sb, "func dispatch_%s(args []builder.Arg) (*variant.Variant, error) {\n", t.OpcodeName)
	renderNode(&sb, t.root, 1, t.OpcodeName)
	sb.WriteString("}\n")
	return sb.String()
}

func renderNode(sb *strings.Builder, n *node, indent int, opcodeName string) {
	tab := strings.Repeat("\t", indent)
	if n == nil {
		fmt.Fprintf(sb, "%sreturn nil, builderUnreachable(%q)\n", tab, opcodeName)
		return
	}
	if n.leaf != nil {
		fmt.Fprintf(sb, "%sreturn variantByOrd(%q, %d), nil\n", tab, n.leaf.BytecodeName, n.leaf.VariantOrd)
		return
	}
	switch {
	case n.isLocalTest:
		fmt.Fprintf(sb, "%sif args[%d].IsLocal {\n", tab, n.pos)
		renderNode(sb, n.slotNode, indent+1, opcodeName)
		fmt.Fprintf(sb, "%s} else {\n", tab)
		renderNode(sb, n.constNode, indent+1, opcodeName)
		fmt.Fprintf(sb, "%s}\n", tab)
	case n.typeCheckMask != 0:
		fmt.Fprintf(sb, "%sif args[%d].ConstMask.IsSubsetOf(%#x) {\n", tab, n.pos, uint32(n.typeCheckMask))
		renderNode(sb, n.typeCheckThen, indent+1, opcodeName)
		fmt.Fprintf(sb, "%s} else {\n", tab)
		renderNode(sb, n.typeCheckElse, indent+1, opcodeName)
		fmt.Fprintf(sb, "%s}\n", tab)
	default:
		fmt.Fprintf(sb, "%sif args[%d].HasLiteral && args[%d].LiteralValue == %d {\n", tab, n.pos, n.pos, n.literalValue)
		renderNode(sb, n.literalThen, indent+1, opcodeName)
		fmt.Fprintf(sb, "%s} else {\n", tab)
		renderNode(sb, n.literalElse, indent+1, opcodeName)
		fmt.Fprintf(sb, "%s}\n", tab)
	}
}
