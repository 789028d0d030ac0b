// Package component implements the Component Factory: clone
// the input module once per discovered function, rename implementations to
// stable `<final>_impl` names, and wrap each in a BytecodeIrComponent
// tagged with its Kind. Lifecycle mirrors
// internal/jit/function_table.go's FunctionState progression (None -> Pending
// -> Compiling -> Compiled -> Failed), reused here as the component's own
// lifecycle.
package component

import (
	"fmt"
	"sort"

	"github.com/deegen/deegen-core/internal/cfgdiscovery"
	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/variant"
)

const passName = "component-factory"

// Kind tags what role a component's wrapper plays in the final module.
type Kind int

const (
	KindMain Kind = iota
	KindReturnContinuation
	KindQuickeningSlowPath
	KindSlowPath
	KindFusedInInlineCacheEffect
)

func (k Kind) String() string {
	switch k {
	case KindMain:
		return "Main"
	case KindReturnContinuation:
		return "ReturnContinuation"
	case KindQuickeningSlowPath:
		return "QuickeningSlowPath"
	case KindSlowPath:
		return "SlowPath"
	case KindFusedInInlineCacheEffect:
		return "FusedInInlineCacheEffect"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State mirrors jit.FunctionState, repurposed as the component lifecycle.
type State int32

const (
	StateNone State = iota
	StatePending
	StateLowering
	StateLowered
	StateFailed
)

// BytecodeIrComponent is one unit of lowering: its own cloned module, the
// variant it belongs to, the impl function handle, and the eventual
// external symbol name.
type BytecodeIrComponent struct {
	Kind    Kind
	Variant *variant.Variant
	Module  *ir.Module
	Impl    *ir.Function // the <final>_impl function inside Module

	// OriginalName is Impl's name before the Component Factory's rename to
	// <bytecodeName>_<ord>_<fn>_impl. cfgdiscovery/Link & Prune's pointer-
	// graph walks still see this name on every sibling clone's copy of the
	// same function (each component clones the whole input module
	// separately and renames only its own target), so reachability checks
	// must correlate against OriginalName rather than Impl.Name.
	OriginalName string

	// FusedEffectOrdinal is set only for KindFusedInInlineCacheEffect
	// components: which IC effect kind this specialized Main implements.
	FusedEffectOrdinal int
	HasFusedEffect     bool

	Wrapper    *ir.Function // populated by internal/wrapper
	SymbolName string       // final external symbol name, populated by internal/link

	State State
}

// Info is the aggregate for one variant.
type Info struct {
	Variant *variant.Variant

	Main                *BytecodeIrComponent
	ReturnContinuations []*BytecodeIrComponent // ordered by original name, ascending
	SlowPaths           []*BytecodeIrComponent
	QuickeningSlowPath  *BytecodeIrComponent
	FusedICEffects      []*BytecodeIrComponent

	ICBodyNames             []string
	AffiliatedBytecodeFnNames []string
}

// AllComponents returns every component owned by this Info, Main first,
// then return-continuations, slow-paths, quickening-slow-path, fused-IC
// effects — a fixed, deterministic order used by Link & Prune.
func (inf *Info) AllComponents() []*BytecodeIrComponent {
	out := []*BytecodeIrComponent{inf.Main}
	out = append(out, inf.ReturnContinuations...)
	out = append(out, inf.SlowPaths...)
	if inf.QuickeningSlowPath != nil {
		out = append(out, inf.QuickeningSlowPath)
	}
	out = append(out, inf.FusedICEffects...)
	return out
}

// Build runs the Component Factory over one variant's implementation
// module: discovers the control-flow graph from v.ImplFunctionName, clones
// the module once per discovered function (plus once for the root itself),
// and wraps each clone in a BytecodeIrComponent.
//
// ignoreSlowPaths is forwarded to cfgdiscovery and should be false except
// when the caller is deliberately building a quickening-slow-path-only
// view (internal/iclowering never needs this; it is exposed for callers
// that want Main's hot-reachability subgraph without slow-path edges).
func Build(input *ir.Module, v *variant.Variant, ignoreSlowPaths bool) (*Info, error) {
	root := input.Lookup(v.ImplFunctionName)
	if root == nil {
		return nil, fmt.Errorf("component: module %q has no function %q", input.Name, v.ImplFunctionName)
	}
	if root.Linkage != ir.LinkageInternal {
		return nil, &diag.Fatal{
			Code: diag.CodeNonInternalImpl, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("root implementation %q must have internal linkage", root.Name),
		}
	}

	discovery, err := cfgdiscovery.Discover(root, ignoreSlowPaths)
	if err != nil {
		return nil, err
	}

	info := &Info{Variant: v}

	info.Main, err = clone(input, root, v, KindMain, 0)
	if err != nil {
		return nil, err
	}

	for _, fn := range discovery.ReturnContinuations {
		c, err := clone(input, fn, v, KindReturnContinuation, 0)
		if err != nil {
			return nil, err
		}
		info.ReturnContinuations = append(info.ReturnContinuations, c)
	}
	sort.Slice(info.ReturnContinuations, func(i, j int) bool {
		return info.ReturnContinuations[i].OriginalName < info.ReturnContinuations[j].OriginalName
	})

	for _, fn := range discovery.SlowPaths {
		c, err := clone(input, fn, v, KindSlowPath, 0)
		if err != nil {
			return nil, err
		}
		info.SlowPaths = append(info.SlowPaths, c)
	}

	if len(v.Quickening) > 0 {
		// The quickening slow path is a dedicated root discovered the
		// same way, by convention named "<impl>_quickening_slowpath" in
		// the input IR.
		qspName := v.ImplFunctionName + "_quickening_slowpath"
		if qspFn := input.Lookup(qspName); qspFn != nil {
			c, err := clone(input, qspFn, v, KindQuickeningSlowPath, 0)
			if err != nil {
				return nil, err
			}
			info.QuickeningSlowPath = c
		}
	}

	return info, nil
}

// clone clones the whole module, locates the homonymous function in the
// clone, renames it to `<final>_impl`, wraps it, and applies the
// kind-specific postconditions.
func clone(input *ir.Module, fn *ir.Function, v *variant.Variant, kind Kind, fusedOrdinal int) (*BytecodeIrComponent, error) {
	finalName := fmt.Sprintf("%s_%d_%s_impl", v.BytecodeName, v.VariantOrd, fn.Name)
	cloned := input.Clone(finalName)

	clonedFn := cloned.Lookup(fn.Name)
	if clonedFn == nil {
		return nil, fmt.Errorf("component: clone of %q lost function %q", input.Name, fn.Name)
	}
	cloned.Rename(fn.Name, finalName)

	// Temporarily promote impl to external linkage so downstream passes
	// can reason about it as a normal root; internal/lowering.Run restores
	// internal linkage once the wrapper captures a call to impl.
	clonedFn.Linkage = ir.LinkageExternal

	// Drop the used-attribute on bytecode-definition globals so nothing
	// here keeps them alive. internal/optimize's dead-global-elimination
	// pass does not remove anything; pruning happens in internal/link.
	for name := range cloned.UsedGlobals {
		cloned.UsedGlobals[name] = false
	}

	switch kind {
	case KindReturnContinuation, KindSlowPath, KindQuickeningSlowPath:
		if err := assertNoICUse(clonedFn, passName); err != nil {
			return nil, err
		}
	}

	c := &BytecodeIrComponent{
		Kind:         kind,
		Variant:      v,
		Module:       cloned,
		Impl:         clonedFn,
		OriginalName: fn.Name,
		State:        StatePending,
	}

	if kind == KindFusedInInlineCacheEffect {
		c.HasFusedEffect = true
		c.FusedEffectOrdinal = fusedOrdinal
		instantiateICAdaptionPlaceholders(cloned, fusedOrdinal)
	}

	return c, nil
}

// assertNoICUse enforces the "inline-cache API uses are forbidden"
// postcondition for ReturnContinuation/SlowPath/QuickeningSlowPath
// components.
func assertNoICUse(fn *ir.Function, pass string) error {
	for _, inst := range fn.AllInsts() {
		if inst.IsMetaAPI(ir.MetaICPointerGetter) {
			return &diag.Fatal{
				Code: diag.CodeForbiddenICUse, Level: diag.LevelError, Pass: pass,
				Message: fmt.Sprintf("function %q uses the inline-cache API, which is forbidden for its component kind", fn.Name),
			}
		}
	}
	return nil
}

// instantiateICAdaptionPlaceholders creates the two always-inline, internal
// IC-adaption placeholders for a FusedInInlineCacheEffect component: the
// hit-check returns its input unchanged (always-false after the fused IC's
// override), and the effect-ordinal getter returns the constant effect
// ordinal.
func instantiateICAdaptionPlaceholders(m *ir.Module, effectOrdinal int) {
	hitCheck := ir.NewFunction("__deegen_ic_hitcheck_placeholder")
	hitCheck.Attrs.AlwaysInline = true
	hitCheck.Linkage = ir.LinkageInternal
	arg := hitCheck.NewValue("in")
	hitCheck.Params = []*ir.Value{arg}
	hitCheck.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret", Args: []*ir.Value{arg}})
	m.AddFunction(hitCheck)

	effectGetter := ir.NewFunction("__deegen_ic_effect_ordinal_placeholder")
	effectGetter.Attrs.AlwaysInline = true
	effectGetter.Linkage = ir.LinkageInternal
	result := effectGetter.NewValue("ordinal")
	effectGetter.Entry().AppendInst(&ir.Instruction{
		Result:   result,
		Mnemonic: fmt.Sprintf("const.i64 %d", effectOrdinal),
	})
	effectGetter.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret", Args: []*ir.Value{result}})
	m.AddFunction(effectGetter)
}
