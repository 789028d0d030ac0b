package pipeline

import (
	"testing"

	"github.com/deegen/deegen-core/internal/ir"
	"github.com/deegen/deegen-core/internal/pipelinecfg"
	"github.com/deegen/deegen-core/internal/variant"
)

func newAddJob() VariantGroup {
	mod := ir.NewModule("Add")
	impl := ir.NewFunction("add_impl")
	mod.AddFunction(impl)
	v := &variant.Variant{BytecodeName: "Add", VariantOrd: 0, ImplFunctionName: "add_impl"}
	return VariantGroup{OpcodeName: "Add", Module: mod, Variants: []*variant.Variant{v}}
}

func TestProcessBytecodeRejectsEmptyVariantList(t *testing.T) {
	_, err := ProcessBytecode(VariantGroup{OpcodeName: "Empty"}, Config{})
	if err == nil {
		t.Fatal("expected an error: no variants to process")
	}
}

func TestProcessBytecodeProducesOneExternSymbol(t *testing.T) {
	job := newAddJob()
	cfg := Config{Build: pipelinecfg.DefaultConfig().Build}

	res, err := ProcessBytecode(job, cfg)
	if err != nil {
		t.Fatalf("ProcessBytecode: %v", err)
	}
	if len(res.AllExternCDeclarations) != 1 {
		t.Fatalf("AllExternCDeclarations = %v, want exactly 1 entry", res.AllExternCDeclarations)
	}
	want := "Add_0_add_impl_impl"
	if res.AllExternCDeclarations[0] != want {
		t.Errorf("extern symbol = %q, want %q", res.AllExternCDeclarations[0], want)
	}
	if res.GeneratedHeaderFile == "" {
		t.Error("expected non-empty generated header text")
	}
	if len(res.ContentHash) != 64 {
		t.Errorf("ContentHash = %q, want a 64-char hex sha256 digest", res.ContentHash)
	}
}

func TestProcessBytecodeIsDeterministic(t *testing.T) {
	cfg := Config{Build: pipelinecfg.DefaultConfig().Build}

	res1, err := ProcessBytecode(newAddJob(), cfg)
	if err != nil {
		t.Fatalf("first ProcessBytecode: %v", err)
	}
	res2, err := ProcessBytecode(newAddJob(), cfg)
	if err != nil {
		t.Fatalf("second ProcessBytecode: %v", err)
	}
	if res1.ContentHash != res2.ContentHash {
		t.Errorf("ContentHash differs across identical runs: %q vs %q", res1.ContentHash, res2.ContentHash)
	}
}

func TestContentHashChangesWithHeaderText(t *testing.T) {
	mod := ir.NewModule("m")
	base := Result{ProcessedModule: mod, GeneratedHeaderFile: "header-a", AllExternCDeclarations: []string{"sym"}}
	changed := base
	changed.GeneratedHeaderFile = "header-b"

	if ContentHash(base) == ContentHash(changed) {
		t.Error("ContentHash must change when the generated header text changes")
	}
}

func TestDeduplicateReturnContinuationsMergesIdenticalIR(t *testing.T) {
	m := ir.NewModule("m")
	a := ir.NewFunction("contA")
	a.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret"})
	b := ir.NewFunction("contB")
	b.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret"})
	m.AddFunction(a)
	m.AddFunction(b)

	survivor, dropped := DeduplicateReturnContinuations(m, []string{"contA", "contB"})
	if survivor != "contA" {
		t.Errorf("survivor = %q, want contA (lexicographically first)", survivor)
	}
	if len(dropped) != 1 || dropped[0] != "contB" {
		t.Errorf("dropped = %v, want [contB]", dropped)
	}
}

func TestDeduplicateReturnContinuationsLeavesDistinctIRUntouched(t *testing.T) {
	m := ir.NewModule("m")
	a := ir.NewFunction("contA")
	a.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret"})
	c := ir.NewFunction("contC")
	c.Entry().AppendInst(&ir.Instruction{Mnemonic: "other"})
	m.AddFunction(a)
	m.AddFunction(c)

	survivor, dropped := DeduplicateReturnContinuations(m, []string{"contA", "contC"})
	if survivor != "contA" {
		t.Errorf("survivor = %q, want contA", survivor)
	}
	if len(dropped) != 0 {
		t.Errorf("dropped = %v, want none: the two candidates are structurally distinct", dropped)
	}
}

func TestDeduplicateReturnContinuationsRetargetsReferencesAndDeletesDropped(t *testing.T) {
	m := ir.NewModule("m")
	a := ir.NewFunction("contA")
	a.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret"})
	b := ir.NewFunction("contB")
	b.Entry().AppendInst(&ir.Instruction{Mnemonic: "ret"})
	caller := ir.NewFunction("caller")
	caller.Entry().AppendInst(&ir.Instruction{
		Call:         &ir.CallInfo{Callee: ir.MetaMakeCall.String(), Meta: ir.MetaMakeCall},
		Continuation: b,
	})
	m.AddFunction(a)
	m.AddFunction(b)
	m.AddFunction(caller)

	survivor, dropped := DeduplicateReturnContinuations(m, []string{"contA", "contB"})
	if survivor != "contA" || len(dropped) != 1 || dropped[0] != "contB" {
		t.Fatalf("survivor/dropped = %q, %v, want contA, [contB]", survivor, dropped)
	}
	if m.Lookup("contB") != nil {
		t.Error("dropped return-continuation must be deleted from the module")
	}
	if caller.Entry().Insts[0].Continuation != m.Lookup("contA") {
		t.Error("caller's Continuation must be retargeted onto the survivor")
	}
}

func TestDeduplicateReturnContinuationsSkipsMissingCandidates(t *testing.T) {
	m := ir.NewModule("m")
	a := ir.NewFunction("contA")
	m.AddFunction(a)

	survivor, dropped := DeduplicateReturnContinuations(m, []string{"contA", "ghost"})
	if survivor != "contA" {
		t.Errorf("survivor = %q, want contA", survivor)
	}
	if len(dropped) != 0 {
		t.Errorf("dropped = %v, want none", dropped)
	}
}

func TestDeduplicateReturnContinuationsNoCandidates(t *testing.T) {
	m := ir.NewModule("m")
	survivor, dropped := DeduplicateReturnContinuations(m, nil)
	if survivor != "" || dropped != nil {
		t.Errorf("expected empty result for no candidates, got (%q, %v)", survivor, dropped)
	}
}
