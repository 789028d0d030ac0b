// Package pipeline implements the single entry point:
// ProcessBytecode, invoked once per opcode module, runs stages 1-8 over
// every variant in order and stage 9 (the Builder Generator) independently,
// consuming only the variant table's dependency note.
//
// Content hashing for the determinism round-trip test and for
// return-continuation de-duplication follows
// internal/compiler/cache.go's ComputeContentHash pattern: sha256 over
// serialized content, hex-encoded.
package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/deegen/deegen-core/internal/builder"
	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/iclowering"
	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/link"
	"github.com/deegen/deegen-core/internal/lowering"
	"github.com/deegen/deegen-core/internal/metadata"
	"github.com/deegen/deegen-core/internal/optimize"
	"github.com/deegen/deegen-core/internal/pipelinecfg"
	"github.com/deegen/deegen-core/internal/variant"
	"github.com/deegen/deegen-core/internal/wrapper"
)

// VariantGroup bundles one opcode's variants, their shared input module, and
// the inline-cache sites a front-end collaborator has already recognized in
// that module.
type VariantGroup struct {
	OpcodeName string
	Module     *ir.Module
	Variants   []*variant.Variant

	// ICSites maps a variant's ImplFunctionName to the IC sites discovered
	// in its impl function, if any.
	ICSites map[string][]iclowering.Site

	// CallICOptOut maps a variant's ImplFunctionName to true when that
	// variant opts out of automatic Call-IC metadata reservation (see
	// DESIGN.md for the resolution).
	CallICOptOut map[string]bool
}

// Config is the pipeline-wide configuration for one ProcessBytecode call.
type Config struct {
	Build pipelinecfg.BuildConfig
}

// Result is the entry point's output: the linked module, the
// generated builder header text, the external symbols it declares, and a
// diagnostic audit-files map (original slow-path name -> final renamed
// name, and dropped duplicate return-continuation -> surviving one; purely
// informational).
type Result struct {
	ProcessedModule        *ir.Module
	GeneratedHeaderFile     string
	AllExternCDeclarations []string
	AuditFiles              map[string]string
	ContentHash             string
}

// ProcessBytecode runs the full lowering pipeline for one opcode's variant
// group.
func ProcessBytecode(job VariantGroup, cfg Config) (Result, error) {
	if len(job.Variants) == 0 {
		return Result{}, fmt.Errorf("pipeline: %q has no variants", job.OpcodeName)
	}

	// Stage 9 runs independently, needing only the variant table.
	tree, err := builder.Build(job.OpcodeName, job.Variants)
	if err != nil {
		return Result{}, err
	}
	headerText := tree.GenerateHeaderText()

	syms := link.NewSymbolTable()
	out := ir.NewModule(job.OpcodeName)
	audits := map[string]string{}
	var externs []string
	var returnContinuations []string

	opcodeWidth := variant.Width(cfg.Build.OpcodeWidth)

	// Pass 1 (stages 1-5a): build every variant's components, run IC
	// lowering, and reserve Call-IC metadata. Done for the whole group
	// before any variant's length is tentatively computed, since Call-IC
	// reservation can add a metadata field that TentativeLength must see.
	infos := make([]*component.Info, len(job.Variants))
	for i, v := range job.Variants {
		info, err := component.Build(job.Module, v, false)
		if err != nil {
			return Result{}, err
		}

		for _, c := range info.AllComponents() {
			optimize.Run(c)
		}

		if sites := job.ICSites[v.ImplFunctionName]; len(sites) > 0 {
			_, fused, err := iclowering.Lower(info, sites)
			if err != nil {
				return Result{}, err
			}
			info.FusedICEffects = append(info.FusedICEffects, fused...)
			for _, fc := range fused {
				optimize.Run(fc)
			}
		}

		if err := metadata.ReserveCallIC(info, job.CallICOptOut[v.ImplFunctionName]); err != nil {
			return Result{}, err
		}

		infos[i] = info
	}

	// Pass 2 (stage 5b): lay out metadata and compute every variant's
	// tentative length, across the whole group, before any variant commits
	// a final length — a same-length-constraint sibling appearing later in
	// job.Variants must already have its own tentative length on the books
	// when an earlier sibling's FinalizeLength reads it, or the earlier
	// commit can undercount the true max.
	for _, v := range job.Variants {
		if err := metadata.LayoutAndTentativeLength(v, opcodeWidth); err != nil {
			return Result{}, err
		}
	}

	// Pass 3 (stages 5c-8): commit each variant's final length, then
	// wrapper synthesis, final lowering, and link & prune.
	for _, v := range job.Variants {
		metadata.FinalizeLength(v)
	}

	for i := range job.Variants {
		info := infos[i]

		// Stage 6: wrapper synthesis for every component, the quickening
		// slow path first so its wrapper name is known when Main's guard
		// chain is emitted.
		slowPathWrapperName := ""
		if info.QuickeningSlowPath != nil {
			wrapper.Synthesize(info.QuickeningSlowPath, "")
			slowPathWrapperName = info.QuickeningSlowPath.Wrapper.Name
		}
		for _, c := range info.AllComponents() {
			if c == info.QuickeningSlowPath {
				continue
			}
			wrapper.Synthesize(c, slowPathWrapperName)
		}

		// Stage 7: final lowering of every component.
		for _, c := range info.AllComponents() {
			lowering.Run(c)
		}

		// Stage 8: link & prune.
		result, err := link.Link(info, syms)
		if err != nil {
			return Result{}, err
		}
		for _, name := range result.Main.SortedFunctionNames() {
			if out.Lookup(name) == nil {
				out.AddFunction(result.Main.Functions[name])
			}
		}
		externs = append(externs, info.Main.SymbolName)
		for orig, final := range result.SlowPathNames {
			audits[orig] = final
		}
		returnContinuations = append(returnContinuations, result.ReturnContinuationNames...)
	}

	// Stage 8 continued: de-duplicate return-continuations that turned out
	// structurally identical across variants, now that every variant's is
	// merged into out. A dropped name's callers already point at it by
	// pointer within out, so DeduplicateReturnContinuations retargets them
	// to the survivor before removing it.
	if survivor, dropped := DeduplicateReturnContinuations(out, returnContinuations); len(dropped) > 0 {
		for _, d := range dropped {
			audits[d] = survivor
		}
	}

	sort.Strings(externs)

	res := Result{
		ProcessedModule:        out,
		GeneratedHeaderFile:     headerText,
		AllExternCDeclarations: externs,
		AuditFiles:              audits,
	}
	res.ContentHash = ContentHash(res)
	return res, nil
}

// ContentHash computes a deterministic digest of a Result's observable
// content, used by the determinism round-trip test, grounded on
// compiler.ComputeContentHash.
func ContentHash(r Result) string {
	var sb strings.Builder
	sb.WriteString(r.GeneratedHeaderFile)
	for _, name := range r.ProcessedModule.SortedFunctionNames() {
		fn := r.ProcessedModule.Functions[name]
		sb.WriteString(fn.Disassemble())
	}
	for _, e := range r.AllExternCDeclarations {
		sb.WriteString(e)
		sb.WriteByte('\n')
	}
	h := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(h[:])
}

// retarget rewrites every Continuation/SlowPathTarget/Call.Callee reference
// to oldName across every function in m so it instead names replacement,
// then removes oldName from m.
func retarget(m *ir.Module, oldName string, replacement *ir.Function) {
	for _, fn := range m.Functions {
		for _, inst := range fn.AllInsts() {
			if inst.Continuation != nil && inst.Continuation.Name == oldName {
				inst.Continuation = replacement
			}
			if inst.SlowPathTarget != nil && inst.SlowPathTarget.Name == oldName {
				inst.SlowPathTarget = replacement
			}
			if inst.Call != nil && inst.Call.Callee == oldName {
				inst.Call.Callee = replacement.Name
			}
		}
	}
	m.Remove(oldName)
}

// DeduplicateReturnContinuations merges return-continuations whose IR is
// structurally identical: two return-continuations with identical IR, produced by distinct
// variants, are collapsed to one surviving body, with every reference
// retargeted onto the survivor and the dropped body deleted from m.
// Structural identity is decided by comparing the sha256 hash of each
// candidate function's Disassemble() text with its own name taken out of
// the header line. Merging happens only when every candidate found in m
// shares one hash; when the candidates hash to more than one value,
// nothing is merged, even among the candidates that are identical.
func DeduplicateReturnContinuations(m *ir.Module, candidates []string) (survivor string, dropped []string) {
	type entry struct {
		name string
		hash string
	}
	var entries []entry
	for _, name := range candidates {
		fn := m.Lookup(name)
		if fn == nil {
			continue
		}
		body := strings.Replace(fn.Disassemble(), "=== "+name+" ", "=== ", 1)
		h := sha256.Sum256([]byte(body))
		entries = append(entries, entry{name: name, hash: hex.EncodeToString(h[:])})
	}
	if len(entries) == 0 {
		return "", nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	byHash := map[string][]string{}
	var order []string
	for _, e := range entries {
		if _, ok := byHash[e.hash]; !ok {
			order = append(order, e.hash)
		}
		byHash[e.hash] = append(byHash[e.hash], e.name)
	}

	// Every candidate must share one hash for this to be a true
	// duplicate group; otherwise report the lexicographically-first name
	// as the nominal survivor and leave the rest untouched.
	if len(order) == 1 {
		group := byHash[order[0]]
		survivor = group[0]
		dropped = append(dropped, group[1:]...)
		survivorFn := m.Lookup(survivor)
		for _, name := range dropped {
			retarget(m, name, survivorFn)
		}
		return survivor, dropped
	}
	return entries[0].name, nil
}
