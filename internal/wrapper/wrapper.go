// Package wrapper implements Wrapper Synthesis: for each
// component, build the interpreter dispatch-shape wrapper that decodes
// operands, decodes the metadata pointer, optionally emits quickening type
// guards, and tail-calls the always-inlined implementation.
//
// The register pools used to re-materialize pre-decoded quickening
// operands for a slow-path call are calling-convention
// register classes (internal/jit/calling_convention.go's ArgRegs/
// FloatArgRegs), generalized into a small "additional-arg convention" with
// two free-register pools (GPR then FPR), popped in reverse order.
package wrapper

import (
	"fmt"

	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/variant"
)

// DispatchSlots is the fixed-width interpreter dispatch ABI shape: 16
// argument slots, generalized from the existing bytecode register window.
const DispatchSlots = 16

// DispatchArgNames names the fixed-shape ABI's primary slots, in order.
var DispatchArgNames = [DispatchSlots]string{
	"coroutineCtx", "stackBase", "curBytecode", "codeBlock",
	"slot4", "slot5", "slot6", "slot7",
	"slot8", "slot9", "slot10", "slot11",
	"retStart", "numRet", "slot14", "slot15",
}

// additionalArgGPRPool / additionalArgFPRPool mirror SystemVConv.ArgRegs /
// FloatArgRegs, trimmed to the registers free after the four primary ABI
// values occupy their slots.
var additionalArgGPRPool = []string{"r10", "r11", "r12", "r13", "r14", "r15"}
var additionalArgFPRPool = []string{"xmm4", "xmm5", "xmm6", "xmm7"}

// RegisterAssignment records where one quickening-speculated operand was
// pre-decoded into, for re-materialization on guard failure.
type RegisterAssignment struct {
	OperandOrd int
	Register   string
	IsFloat    bool
}

// AssignQuickeningRegisters assigns quickening operands registers in
// reverse-order pop from two free-register pools (GPR then FPR), FPR chosen only for an
// operand whose speculated type is exactly "double, not NaN". Falls back
// to GPR when the FPR pool is exhausted.
func AssignQuickeningRegisters(q []variant.Quickening) []RegisterAssignment {
	gpr := append([]string(nil), additionalArgGPRPool...)
	fpr := append([]string(nil), additionalArgFPRPool...)

	out := make([]RegisterAssignment, len(q))
	for i := len(q) - 1; i >= 0; i-- {
		spec := q[i]
		wantFloat := spec.SpeculatedType.IsExactlyDoubleNotNaN()
		if wantFloat && len(fpr) > 0 {
			reg := fpr[len(fpr)-1]
			fpr = fpr[:len(fpr)-1]
			out[i] = RegisterAssignment{OperandOrd: spec.OperandOrd, Register: reg, IsFloat: true}
			continue
		}
		if len(gpr) == 0 {
			panic("wrapper: exhausted GPR pool assigning quickening registers")
		}
		reg := gpr[len(gpr)-1]
		gpr = gpr[:len(gpr)-1]
		out[i] = RegisterAssignment{OperandOrd: spec.OperandOrd, Register: reg, IsFloat: false}
	}
	return out
}

// Synthesize builds the wrapper function for one component, through the
// seven steps below, and attaches it to c.Wrapper.
func Synthesize(c *component.BytecodeIrComponent, slowPathWrapperName string) *ir.Function {
	w := ir.NewFunction(wrapperName(c))
	w.Linkage = ir.LinkageExternal
	w.Attrs.NoUnwind = true
	w.Attrs.NoReturn = true
	if c.Kind == component.KindQuickeningSlowPath || c.Kind == component.KindSlowPath {
		w.Attrs.NoInline = true
	}

	for _, name := range DispatchArgNames {
		w.Params = append(w.Params, w.NewValue(name))
	}

	entry := w.Entry()

	// Step 1: bind the four named pseudo-values via a value-preserver so
	// optimizers will not dead-store them before Final Lowering replaces
	// the value-preserver call.
	for _, name := range DispatchArgNames[:4] {
		entry.AppendInst(&ir.Instruction{
			Mnemonic: "value-preserve:" + name,
			Call:     &ir.CallInfo{Callee: ir.MetaValuePreserver.String(), Meta: ir.MetaValuePreserver},
		})
	}

	// Return-continuation wrappers reconstruct stackBase/codeBlock/
	// curBytecode from the caller's frame header instead of receiving
	// them positionally.
	if c.Kind == component.KindReturnContinuation {
		entry.AppendInst(&ir.Instruction{Mnemonic: "reconstruct-frame-from-return-address"})
	}

	// Step 2: decode each declared operand, skipping only ones already
	// pre-decoded on a QuickeningSlowPath entry.
	preDecoded := map[int]bool{}
	if c.Kind == component.KindQuickeningSlowPath {
		for _, q := range c.Variant.Quickening {
			preDecoded[q.OperandOrd] = true
		}
	}
	for _, op := range c.Variant.Operands {
		if preDecoded[op.Ordinal] {
			continue
		}
		entry.AppendInst(&ir.Instruction{
			Mnemonic: fmt.Sprintf("decode-operand[%d]:%s", op.Ordinal, op.Kind),
			Result:   w.NewValue(fmt.Sprintf("op%d", op.Ordinal)),
		})
	}

	// Step 3: decode outputSlot / condBrDest if declared.
	if c.Variant.OutputSlot != nil {
		entry.AppendInst(&ir.Instruction{Mnemonic: "decode-output-slot", Result: w.NewValue("outSlot")})
	}
	if c.Variant.HasCondBrTarget {
		entry.AppendInst(&ir.Instruction{Mnemonic: "decode-cond-br-dest", Result: w.NewValue("condBrDest")})
	}

	// Step 4: materialize metadata pointer.
	if c.Variant.Metadata != nil {
		if c.Variant.Metadata.Inlined {
			entry.AppendInst(&ir.Instruction{Mnemonic: "materialize-metadata-inline", Result: w.NewValue("metadataPtr")})
		} else {
			entry.AppendInst(&ir.Instruction{
				Mnemonic: fmt.Sprintf("metadataPtr = codeBlock + zext32to64(%d)", c.Variant.MetadataPtrOffset),
				Result:   w.NewValue("metadataPtr"),
			})
		}
	}

	// Step 5: QuickeningSlowPath re-materializes pre-decoded registers.
	if c.Kind == component.KindQuickeningSlowPath {
		for _, ra := range AssignQuickeningRegisters(c.Variant.Quickening) {
			entry.AppendInst(&ir.Instruction{
				Mnemonic: fmt.Sprintf("rematerialize-from-register op%d <- %s (float=%v)", ra.OperandOrd, ra.Register, ra.IsFloat),
			})
		}
	}

	// Step 6: Main+quickening guard chain.
	if c.Kind == component.KindMain && len(c.Variant.Quickening) > 0 {
		emitGuardChain(w, entry, c.Variant.Quickening, slowPathWrapperName)
	}

	// Step 7: call impl, terminate with unreachable (impl has void return
	// type so no value plumbing is needed).
	callArgs := make([]*ir.Value, 0, len(c.Variant.Operands))
	for _, op := range c.Variant.Operands {
		callArgs = append(callArgs, w.NewValue(fmt.Sprintf("op%d", op.Ordinal)))
	}
	entry.AppendInst(&ir.Instruction{
		Mnemonic: "tailcall impl",
		Call:     &ir.CallInfo{Callee: c.Impl.Name, Meta: ir.NotMetaAPI, CC: c.Impl.CC},
		Args:     callArgs,
	})
	entry.AppendInst(&ir.Instruction{Mnemonic: "unreachable"})

	c.Wrapper = w
	return w
}

// emitGuardChain emits, for each speculation, a call to the chosen
// type-check function with llvm.expect(true) weighting; on failure it
// tail-calls the quickening-slow-path wrapper with the already-decoded
// operands pre-loaded into their designated registers; on success it falls
// through.
func emitGuardChain(w *ir.Function, entry *ir.BasicBlock, q []variant.Quickening, slowPathWrapperName string) {
	assignments := AssignQuickeningRegisters(q)
	regByOrd := make(map[int]RegisterAssignment, len(assignments))
	for _, a := range assignments {
		regByOrd[a.OperandOrd] = a
	}
	for _, spec := range q {
		entry.AppendInst(&ir.Instruction{
			Mnemonic: fmt.Sprintf("guard op%d is %s [expect=true]", spec.OperandOrd, spec.SpeculatedType.Name()),
			Call:     &ir.CallInfo{Callee: ir.MetaTypeCheck.String(), Meta: ir.MetaTypeCheck},
		})
		ra := regByOrd[spec.OperandOrd]
		entry.AppendInst(&ir.Instruction{
			Mnemonic: fmt.Sprintf("on-guard-fail: preload op%d into %s, tailcall %s", spec.OperandOrd, ra.Register, slowPathWrapperName),
		})
	}
}

func wrapperName(c *component.BytecodeIrComponent) string {
	return fmt.Sprintf("%s_wrapper", c.Impl.Name)
}
