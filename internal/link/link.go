// Package link implements Link & Prune: link every
// component module into Main, assign hot/cold sections by reachability,
// determine which slow-paths/return-continuations are actually reachable
// (dead ones are dropped outright, along with every other component's
// leftover never-renamed sibling copies), then restore external linkage
// with globally-unique names.
//
// Name reservation is a set checked free before insertion,
// grounded on internal/compiler/symbol_table.go's map-based symbol table.
package link

import (
	"fmt"
	"sort"

	"github.com/deegen/deegen-core/internal/cfgdiscovery"
	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
)

const passName = "link-and-prune"

// SymbolTable is the set of globally reserved names, grounded on
// compiler.SymbolTable's map-based registry.
type SymbolTable struct {
	reserved map[string]bool
}

func NewSymbolTable() *SymbolTable {
	return &SymbolTable{reserved: make(map[string]bool)}
}

// Reserve inserts name if free; otherwise returns a Linker conflict error.
func (s *SymbolTable) Reserve(name string) error {
	if s.reserved[name] {
		return &diag.Fatal{
			Code: diag.CodeSymbolAlreadyExists, Level: diag.LevelError, Pass: passName,
			Message: fmt.Sprintf("symbol %q already exists", name),
		}
	}
	s.reserved[name] = true
	return nil
}

// Result is the outcome of linking one variant's Info into its Main
// module.
type Result struct {
	Main          *ir.Module
	HotFunctions  []string
	ColdFunctions []string
	SlowPathNames map[string]string // original impl name -> final <main>_slow_path_<k> name

	// ReturnContinuationNames lists the final Impl names of every
	// return-continuation that survived linking, for callers that want to
	// de-duplicate structurally identical continuations across variants.
	ReturnContinuationNames []string
}

// Link implements Link & Prune end to end.
func Link(info *component.Info, syms *SymbolTable) (*Result, error) {
	main := info.Main.Module

	// Link in, in order: fused-IC specializations (hot), quickening-slow-
	// path (cold), all return-continuations, all slow-paths.
	var toLink []*component.BytecodeIrComponent
	toLink = append(toLink, info.FusedICEffects...)
	if info.QuickeningSlowPath != nil {
		toLink = append(toLink, info.QuickeningSlowPath)
	}
	toLink = append(toLink, info.ReturnContinuations...)
	toLink = append(toLink, info.SlowPaths...)

	for _, c := range toLink {
		if err := linkModuleInto(main, c.Module); err != nil {
			return nil, err
		}
	}

	// Section assignment: Main's wrapper and every return-continuation
	// reachable from Main's MakeCall graph (ignoring slow paths) are hot;
	// everything else is cold.
	hotSet := reachableFromMain(info)
	info.Main.Impl.Section = ir.SectionHot
	if info.Main.Wrapper != nil {
		info.Main.Wrapper.Section = ir.SectionHot
	}
	for _, c := range info.FusedICEffects {
		c.Impl.Section = ir.SectionHot
		if c.Wrapper != nil {
			c.Wrapper.Section = ir.SectionHot
		}
	}
	for _, c := range info.ReturnContinuations {
		sec := ir.SectionCold
		if hotSet[c.OriginalName] {
			sec = ir.SectionHot
		}
		c.Impl.Section = sec
		if c.Wrapper != nil {
			c.Wrapper.Section = sec
		}
	}
	for _, c := range info.SlowPaths {
		c.Impl.Section = ir.SectionCold
		if c.Wrapper != nil {
			c.Wrapper.Section = ir.SectionCold
		}
	}
	if info.QuickeningSlowPath != nil {
		info.QuickeningSlowPath.Impl.Section = ir.SectionCold
		if info.QuickeningSlowPath.Wrapper != nil {
			info.QuickeningSlowPath.Wrapper.Section = ir.SectionCold
		}
	}

	// Liveness: a return-continuation/slow-path/quickening-slow-path
	// survives only if its OriginalName — the name every not-yet-renamed
	// sibling clone still carries — turns up in Main's own reachable set.
	// Survivors are re-externalized directly; everything else, including
	// every leftover sibling ghost left behind by component.Build's
	// per-function whole-module cloning, is pruned from main outright.
	reachable := deadCodeEliminate(info)
	survives := func(c *component.BytecodeIrComponent) bool {
		return reachable[c.OriginalName]
	}
	externalize := func(c *component.BytecodeIrComponent) {
		c.Impl.Linkage = ir.LinkageExternal
		if c.Wrapper != nil {
			c.Wrapper.Linkage = ir.LinkageExternal
		}
	}

	var survivingReturnContinuations []*component.BytecodeIrComponent
	for _, c := range info.ReturnContinuations {
		if !survives(c) {
			continue
		}
		externalize(c)
		survivingReturnContinuations = append(survivingReturnContinuations, c)
	}

	var survivingSlowPaths []*component.BytecodeIrComponent
	for _, c := range info.SlowPaths {
		if !survives(c) {
			continue
		}
		externalize(c)
		survivingSlowPaths = append(survivingSlowPaths, c)
	}

	if info.QuickeningSlowPath != nil {
		if survives(info.QuickeningSlowPath) {
			externalize(info.QuickeningSlowPath)
		} else {
			info.QuickeningSlowPath = nil
		}
	}

	// Sweep main for everything not kept: dead components' impls and every
	// ghost sibling copy, identified the same way (neither's name is any
	// surviving component's final Impl.Name).
	keepNames := map[string]bool{}
	keep := func(c *component.BytecodeIrComponent) {
		keepNames[c.Impl.Name] = true
		if c.Wrapper != nil {
			keepNames[c.Wrapper.Name] = true
		}
	}
	keep(info.Main)
	for _, c := range info.FusedICEffects {
		keep(c)
	}
	for _, c := range survivingReturnContinuations {
		keep(c)
	}
	for _, c := range survivingSlowPaths {
		keep(c)
	}
	if info.QuickeningSlowPath != nil {
		keep(info.QuickeningSlowPath)
	}
	for _, name := range main.SortedFunctionNames() {
		if keepNames[name] {
			continue
		}
		fn := main.Functions[name]
		if fn.Linkage == ir.LinkageExternal && fn.Attrs.NoInline {
			continue // shared fused-IC body or other cross-variant placeholder
		}
		main.Remove(name)
	}

	// Slow-path names are not unique across translation units; rename
	// survivors to <main>_slow_path_<k>, dense k, in deterministic order.
	slowPathNames := make(map[string]string)
	sort.Slice(survivingSlowPaths, func(i, j int) bool {
		return survivingSlowPaths[i].Impl.Name < survivingSlowPaths[j].Impl.Name
	})
	for k, c := range survivingSlowPaths {
		finalName := fmt.Sprintf("%s_slow_path_%d", info.Main.Impl.Name, k)
		if err := syms.Reserve(finalName); err != nil {
			return nil, err
		}
		original := c.Impl.Name
		main.Rename(original, finalName)
		c.SymbolName = finalName
		slowPathNames[original] = finalName
	}

	var returnContinuationNames []string
	for _, c := range survivingReturnContinuations {
		if err := syms.Reserve(c.Impl.Name); err != nil {
			return nil, err
		}
		c.SymbolName = c.Impl.Name
		returnContinuationNames = append(returnContinuationNames, c.Impl.Name)
	}
	if err := syms.Reserve(info.Main.Impl.Name); err != nil {
		return nil, err
	}
	info.Main.SymbolName = info.Main.Impl.Name

	var hot, cold []string
	for _, name := range main.SortedFunctionNames() {
		fn := main.Functions[name]
		switch fn.Section {
		case ir.SectionHot:
			hot = append(hot, name)
		case ir.SectionCold:
			cold = append(cold, name)
		}
	}

	return &Result{
		Main:                    main,
		HotFunctions:            hot,
		ColdFunctions:           cold,
		SlowPathNames:           slowPathNames,
		ReturnContinuationNames: returnContinuationNames,
	}, nil
}

// linkModuleInto merges src's functions into dst, skipping any name dst
// already holds; it reserves no names itself (global uniqueness across
// variants is enforced later by SymbolTable.Reserve during the rename
// step, matching "symbol already exists on insert" being an
// assertion-only path by construction).
func linkModuleInto(dst, src *ir.Module) error {
	for _, name := range src.SortedFunctionNames() {
		if dst.Lookup(name) != nil {
			continue // already present (e.g. shared IC body or placeholder)
		}
		dst.AddFunction(src.Functions[name])
	}
	return nil
}

// reachableFromMain computes the set of return-continuation OriginalNames
// reachable from Main's MakeCall graph, ignoring slow paths, reusing
// cfgdiscovery with ignoreSlowPaths=true. component.Build clones the whole
// input module once per discovered function and renames only that one
// clone's own target, so every edge out of Main's impl lands on a sibling
// still carrying its pre-rename name — cfgdiscovery reports exactly that
// name, which is what BytecodeIrComponent.OriginalName records.
func reachableFromMain(info *component.Info) map[string]bool {
	out := make(map[string]bool)
	res, err := cfgdiscovery.Discover(info.Main.Impl, true)
	if err != nil {
		return out
	}
	for _, fn := range res.ReturnContinuations {
		out[fn.Name] = true
	}
	return out
}

// deadCodeEliminate computes which OriginalNames are still reachable from
// Main's impl, ignoring nothing (MakeCall AND EnterSlowPath edges both count
// for overall liveness — only section placement ignores slow paths). Since
// Main's own clone carries every sibling under its pre-rename name, this is
// exactly cfgdiscovery's walk over info.Main.Impl, not a walk over the
// merged main module (whose function names mix final and ghost names from
// many independent clones and so cannot be walked by name consistently).
func deadCodeEliminate(info *component.Info) map[string]bool {
	reachable := make(map[string]bool)
	if res, err := cfgdiscovery.Discover(info.Main.Impl, false); err == nil {
		for _, fn := range res.All {
			reachable[fn.Name] = true
		}
	}
	// Fused-IC effects always survive: they are reachable from a
	// specialized opcode, not from this Main's own call graph.
	for _, c := range info.FusedICEffects {
		reachable[c.OriginalName] = true
	}
	return reachable
}
