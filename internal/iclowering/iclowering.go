// Package iclowering implements Inline-Cache Lowering: on
// the Main component, each inline-cache call site is split into a body
// function (cache-miss path, PreserveMost convention) and an
// always-inlined effect dispatcher, the IC's metadata contribution is
// appended to the variant's metadata-struct layout, and the pointer-getter
// call is rewritten to target a metadata-ptr placeholder. A
// FuseICIntoInterpreterOpcode IC additionally spawns one specialized Main
// component per effect kind.
//
// The deferred metadata-pointer call-site marker is modeled the same way
// the JIT tracks call-site fixups: internal/jit/function_table.go's
// PatchSite{CodeAddr, PatchType, CallerFunc}, generalized from a runtime
// machine-code offset to an IR-level call-site reference.
package iclowering

import (
	"fmt"

	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/variant"
)

const passName = "inline-cache-lowering"

// EffectKind is one possible adapted behavior of an inline cache (e.g. a
// property access IC's "found in own properties" vs "found on prototype").
type EffectKind struct {
	Ordinal int
	Name    string
}

// Site is an inline-cache call site captured before lowering.
type Site struct {
	BodyFunc           *ir.Function
	PointerGetterInst  *ir.Instruction // the call this IC's effect reads its state through
	Effects            []EffectKind
	MetadataContribution []variant.MetadataField
	FuseIntoInterpreterOpcode bool
}

// CallSiteMarker is the deferred metadata-pointer call-site marker left
// behind after an IC site is lowered, modeled after jit.PatchSite.
type CallSiteMarker struct {
	CallerFunc string
	PatchKind  string // "metadata-ptr"
}

// LoweredIC is the result of lowering one Site.
type LoweredIC struct {
	Body            *ir.Function
	EffectDispatcher *ir.Function
	Marker          CallSiteMarker
	FieldIndices    []int // indices into the variant's Metadata.Fields this IC contributed
}

// Lower lowers every inline-cache site on the Main component, in source
// order, mutating info.Variant.Metadata and (if exactly one site is fused)
// producing one FusedInInlineCacheEffect component per effect kind.
//
// Uniqueness invariant: at most one fused IC per variant.
func Lower(info *component.Info, sites []Site) ([]LoweredIC, []*component.BytecodeIrComponent, error) {
	if info.Variant.Metadata == nil {
		info.Variant.Metadata = &variant.MetadataStruct{Alignment: 8}
	}

	fusedCount := 0
	for _, s := range sites {
		if s.FuseIntoInterpreterOpcode {
			fusedCount++
		}
	}
	if fusedCount > 1 {
		return nil, nil, &diag.Fatal{
			Code: diag.CodeMultipleFusedIC, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("variant %s#%d has %d fused inline caches, at most one is allowed",
				info.Variant.BytecodeName, info.Variant.VariantOrd, fusedCount),
		}
	}
	if fusedCount == 1 && len(info.Variant.Quickening) > 0 {
		return nil, nil, &diag.Fatal{
			Code: diag.CodeFusedICWithQuickening, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("variant %s#%d has a fused inline cache together with quickening; mutually exclusive",
				info.Variant.BytecodeName, info.Variant.VariantOrd),
		}
	}

	var lowered []LoweredIC
	var fusedComponents []*component.BytecodeIrComponent

	for i, s := range sites {
		l, err := lowerOne(info, s, i)
		if err != nil {
			return nil, nil, err
		}
		lowered = append(lowered, l)

		if s.FuseIntoInterpreterOpcode {
			for _, effect := range s.Effects {
				fc, err := specializeFusedMain(info, effect)
				if err != nil {
					return nil, nil, err
				}
				fusedComponents = append(fusedComponents, fc)
			}
		}
	}

	return lowered, fusedComponents, nil
}

// lowerOne implements the five lowering steps for one site.
func lowerOne(info *component.Info, s Site, index int) (LoweredIC, error) {
	// Step 1 + 4: rename the body function and set its calling convention.
	bodyName := fmt.Sprintf("%s_icbody_%d", info.Main.Impl.Name, index)
	info.Main.Module.Rename(s.BodyFunc.Name, bodyName)
	s.BodyFunc.CC = ir.CCPreserveMost
	for _, inst := range s.BodyFunc.AllInsts() {
		if inst.Call != nil {
			inst.Call.CC = ir.CCPreserveMost
		}
	}

	// The effect dispatcher always-inlines; built here as a thin wrapper
	// that the per-component optimizer (internal/optimize) will fold away.
	dispatcher := ir.NewFunction(fmt.Sprintf("%s_icdispatch_%d", info.Main.Impl.Name, index))
	dispatcher.Attrs.AlwaysInline = true
	dispatcher.Linkage = ir.LinkageInternal
	info.Main.Module.AddFunction(dispatcher)

	// Step 2: append the metadata contribution.
	var indices []int
	for _, f := range s.MetadataContribution {
		idx, err := info.Variant.Metadata.AddField(f)
		if err != nil {
			return LoweredIC{}, fmt.Errorf("%s: %w", passName, err)
		}
		indices = append(indices, idx)
	}

	// Step 3: rewrite the pointer-getter call to target the metadata-ptr
	// placeholder function (a unique, zero-arg external decl; its real
	// definition is supplied during Wrapper Synthesis).
	placeholderName := fmt.Sprintf("__deegen_metadata_ptr_placeholder_%d", index)
	placeholder := ir.NewFunction(placeholderName)
	placeholder.Linkage = ir.LinkageExternal
	if info.Main.Module.Lookup(placeholderName) == nil {
		info.Main.Module.AddFunction(placeholder)
	}
	if s.PointerGetterInst != nil && s.PointerGetterInst.Call != nil {
		s.PointerGetterInst.Call.Callee = placeholderName
		s.PointerGetterInst.Call.Meta = ir.MetaMetadataPtr
	}

	// Step 5: no-inline + external linkage for a fused IC body (shared
	// across specialized opcodes); otherwise leave it eligible to inline
	// again after lowering.
	if s.FuseIntoInterpreterOpcode {
		s.BodyFunc.Attrs.NoInline = true
		s.BodyFunc.Linkage = ir.LinkageExternal
	} else {
		s.BodyFunc.Attrs.NoInline = false
	}

	return LoweredIC{
		Body:             s.BodyFunc,
		EffectDispatcher: dispatcher,
		Marker:           CallSiteMarker{CallerFunc: info.Main.Impl.Name, PatchKind: "metadata-ptr"},
		FieldIndices:     indices,
	}, nil
}

// specializeFusedMain instantiates one FusedInInlineCacheEffect component
// per effect kind: the component
// overrides the IC-adaption placeholders so hit-check is always false and
// effect-ordinal is the caller-supplied argument.
func specializeFusedMain(info *component.Info, effect EffectKind) (*component.BytecodeIrComponent, error) {
	cloned := info.Main.Module.Clone(fmt.Sprintf("%s_fused_%s", info.Main.Module.Name, effect.Name))
	implClone := cloned.Lookup(info.Main.Impl.Name)
	if implClone == nil {
		return nil, fmt.Errorf("%s: fused clone lost impl function %q", passName, info.Main.Impl.Name)
	}

	if hc := cloned.Lookup("__deegen_ic_hitcheck_placeholder"); hc != nil {
		hc.Blocks = []*ir.BasicBlock{{Name: "entry", Insts: []*ir.Instruction{
			{Result: hc.NewValue("always_false"), Mnemonic: "const.bool false"},
		}}}
	}
	if eg := cloned.Lookup("__deegen_ic_effect_ordinal_placeholder"); eg != nil {
		v := eg.NewValue("ordinal")
		eg.Blocks = []*ir.BasicBlock{{Name: "entry", Insts: []*ir.Instruction{
			{Result: v, Mnemonic: fmt.Sprintf("const.i64 %d", effect.Ordinal)},
			{Mnemonic: "ret", Args: []*ir.Value{v}},
		}}}
	}

	return &component.BytecodeIrComponent{
		Kind:               component.KindFusedInInlineCacheEffect,
		Variant:            info.Variant,
		Module:             cloned,
		Impl:               implClone,
		HasFusedEffect:      true,
		FusedEffectOrdinal: effect.Ordinal,
		State:              component.StatePending,
	}, nil
}
