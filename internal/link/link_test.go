package link

import (
	"testing"

	"github.com/deegen/deegen-core/internal/component"
	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
)

func TestSymbolTableReserveRejectsDuplicate(t *testing.T) {
	syms := NewSymbolTable()
	if err := syms.Reserve("Foo_impl"); err != nil {
		t.Fatalf("first Reserve: %v", err)
	}
	err := syms.Reserve("Foo_impl")
	if err == nil {
		t.Fatal("expected an error reserving an already-reserved name")
	}
	fatal, ok := err.(*diag.Fatal)
	if !ok || fatal.Code != diag.CodeSymbolAlreadyExists {
		t.Errorf("expected CodeSymbolAlreadyExists, got %v", err)
	}
}

func TestLinkModuleIntoSkipsExistingNames(t *testing.T) {
	dst := ir.NewModule("dst")
	shared := ir.NewFunction("shared")
	dst.AddFunction(shared)

	src := ir.NewModule("src")
	src.AddFunction(ir.NewFunction("shared"))
	src.AddFunction(ir.NewFunction("onlyInSrc"))

	if err := linkModuleInto(dst, src); err != nil {
		t.Fatalf("linkModuleInto: %v", err)
	}
	if dst.Lookup("shared") != shared {
		t.Error("an already-present function must not be replaced")
	}
	if dst.Lookup("onlyInSrc") == nil {
		t.Error("a function absent from dst must be merged in")
	}
}

// buildMainWithOneContAndOneSlowPath builds a minimal Info: Main calls one
// return-continuation via MakeCall (reachable) and enters one slow-path via
// EnterSlowPath (reachable for liveness, but never hot), plus a second
// slow-path that nothing reaches.
func buildMainWithOneContAndOneSlowPath(t *testing.T) *component.Info {
	t.Helper()
	mainMod := ir.NewModule("Foo_main")
	mainImpl := ir.NewFunction("Foo_impl")
	mainWrapper := ir.NewFunction("Foo_wrapper")
	mainWrapper.Linkage = ir.LinkageExternal
	mainMod.AddFunction(mainImpl)
	mainMod.AddFunction(mainWrapper)

	contMod := ir.NewModule("Foo_cont0_mod")
	contImpl := ir.NewFunction("Foo_cont0_impl")
	contWrapper := ir.NewFunction("Foo_cont0_wrapper")
	contWrapper.Linkage = ir.LinkageExternal
	contMod.AddFunction(contImpl)
	contMod.AddFunction(contWrapper)

	liveSPMod := ir.NewModule("Foo_sp0_mod")
	liveSPImpl := ir.NewFunction("Foo_sp0_impl")
	liveSPWrapper := ir.NewFunction("Foo_sp0_wrapper")
	liveSPWrapper.Linkage = ir.LinkageExternal
	liveSPMod.AddFunction(liveSPImpl)
	liveSPMod.AddFunction(liveSPWrapper)

	deadSPMod := ir.NewModule("Foo_sp1_mod")
	deadSPImpl := ir.NewFunction("Foo_sp1_impl")
	deadSPWrapper := ir.NewFunction("Foo_sp1_wrapper")
	deadSPWrapper.Linkage = ir.LinkageExternal
	deadSPMod.AddFunction(deadSPImpl)
	deadSPMod.AddFunction(deadSPWrapper)

	mainImpl.Entry().AppendInst(&ir.Instruction{
		Call:         &ir.CallInfo{Callee: ir.MetaMakeCall.String(), Meta: ir.MetaMakeCall},
		Continuation: contImpl,
	})
	mainImpl.Entry().AppendInst(&ir.Instruction{
		Call:           &ir.CallInfo{Callee: ir.MetaEnterSlowPath.String(), Meta: ir.MetaEnterSlowPath},
		SlowPathTarget: liveSPImpl,
	})

	// This fixture hand-builds components directly, so each Impl already
	// carries what would be its pre-rename name in a real component.Build
	// clone — OriginalName equals Impl.Name here, unlike a real pipeline
	// run where every sibling clone keeps its own copy under the original
	// name until the one clone that renames it to <final>_impl.
	return &component.Info{
		Main: &component.BytecodeIrComponent{Impl: mainImpl, Wrapper: mainWrapper, Module: mainMod, OriginalName: mainImpl.Name},
		ReturnContinuations: []*component.BytecodeIrComponent{
			{Impl: contImpl, Wrapper: contWrapper, Module: contMod, OriginalName: contImpl.Name},
		},
		SlowPaths: []*component.BytecodeIrComponent{
			{Impl: liveSPImpl, Wrapper: liveSPWrapper, Module: liveSPMod, OriginalName: liveSPImpl.Name},
			{Impl: deadSPImpl, Wrapper: deadSPWrapper, Module: deadSPMod, OriginalName: deadSPImpl.Name},
		},
	}
}

func TestLinkAssignsSectionsByMakeCallReachability(t *testing.T) {
	info := buildMainWithOneContAndOneSlowPath(t)
	res, err := Link(info, NewSymbolTable())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	hot := map[string]bool{}
	for _, n := range res.HotFunctions {
		hot[n] = true
	}
	cold := map[string]bool{}
	for _, n := range res.ColdFunctions {
		cold[n] = true
	}

	for _, want := range []string{"Foo_impl", "Foo_wrapper", "Foo_cont0_impl", "Foo_cont0_wrapper"} {
		if !hot[want] {
			t.Errorf("%s should be hot, hot set = %v", want, res.HotFunctions)
		}
	}
	for _, want := range []string{"Foo_impl_slow_path_0", "Foo_sp0_wrapper"} {
		if !cold[want] {
			t.Errorf("%s should be cold (slow paths are never hot), cold set = %v", want, res.ColdFunctions)
		}
	}
	for _, unreachable := range []string{"Foo_sp1_impl", "Foo_sp1_wrapper"} {
		if hot[unreachable] || cold[unreachable] {
			t.Errorf("%s is unreachable and should have been pruned, hot=%v cold=%v", unreachable, res.HotFunctions, res.ColdFunctions)
		}
	}
}

func TestLinkRenamesOnlySurvivingSlowPathsDensely(t *testing.T) {
	info := buildMainWithOneContAndOneSlowPath(t)
	res, err := Link(info, NewSymbolTable())
	if err != nil {
		t.Fatalf("Link: %v", err)
	}

	if len(res.SlowPathNames) != 1 {
		t.Fatalf("SlowPathNames = %+v, want exactly the one reachable slow-path", res.SlowPathNames)
	}
	finalName, ok := res.SlowPathNames["Foo_sp0_impl"]
	if !ok {
		t.Fatalf("expected Foo_sp0_impl (reachable via EnterSlowPath) to be renamed, got %+v", res.SlowPathNames)
	}
	if finalName != "Foo_impl_slow_path_0" {
		t.Errorf("final name = %q, want Foo_impl_slow_path_0", finalName)
	}
	if _, stillDead := res.SlowPathNames["Foo_sp1_impl"]; stillDead {
		t.Error("an unreachable slow-path must not be renamed or reserved")
	}
}

func TestLinkReservesMainAndReturnContinuationSymbolNames(t *testing.T) {
	info := buildMainWithOneContAndOneSlowPath(t)
	syms := NewSymbolTable()
	if _, err := Link(info, syms); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if info.Main.SymbolName != "Foo_impl" {
		t.Errorf("Main.SymbolName = %q, want Foo_impl", info.Main.SymbolName)
	}
	if info.ReturnContinuations[0].SymbolName != "Foo_cont0_impl" {
		t.Errorf("return-continuation SymbolName = %q, want Foo_cont0_impl", info.ReturnContinuations[0].SymbolName)
	}
	// Reserving any of the names Link just committed must now fail.
	if err := syms.Reserve("Foo_impl"); err == nil {
		t.Error("Foo_impl should already be reserved by Link")
	}
}

func TestLinkReturnsConflictErrorWhenMainNameAlreadyReserved(t *testing.T) {
	info := buildMainWithOneContAndOneSlowPath(t)
	syms := NewSymbolTable()
	if err := syms.Reserve("Foo_impl"); err != nil {
		t.Fatalf("pre-reserve: %v", err)
	}
	_, err := Link(info, syms)
	if err == nil {
		t.Fatal("expected a conflict error: Foo_impl was already reserved")
	}
	fatal, ok := err.(*diag.Fatal)
	if !ok || fatal.Code != diag.CodeSymbolAlreadyExists {
		t.Errorf("expected CodeSymbolAlreadyExists, got %v", err)
	}
}
