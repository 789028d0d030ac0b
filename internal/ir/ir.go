// Package ir implements the owned, cloneable IR module that the lowering
// pipeline mutates: modules own functions, functions own basic blocks, basic
// blocks own instructions. Meta-API calls (Return, MakeCall, EnterSlowPath,
// TypeCheck, ...) are modeled as a distinguished instruction kind so that
// later stages can find and replace them without a side-table.
package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Linkage mirrors the two linkages the pipeline cares about. Everything
// else (weak, linkonce, ...) is out of scope for this core.
type Linkage int

const (
	LinkageInternal Linkage = iota
	LinkageExternal
)

func (l Linkage) String() string {
	if l == LinkageExternal {
		return "external"
	}
	return "internal"
}

// CallingConvention is the small, closed set of conventions the pipeline
// assigns. PreserveMost is used for IC bodies; everything
// else uses Default.
type CallingConvention int

const (
	CCDefault CallingConvention = iota
	CCPreserveMost
)

func (cc CallingConvention) String() string {
	if cc == CCPreserveMost {
		return "preserve_most"
	}
	return "default"
}

// MetaAPI enumerates the fixed set of meta-API intrinsics the input IR may
// call. Their textual names are part of the ABI.
type MetaAPI int

const (
	NotMetaAPI MetaAPI = iota
	MetaReturn
	MetaMakeCall
	MetaEnterSlowPath
	MetaTypeCheck
	MetaReturnValueAccessor
	MetaThrowError
	MetaMetadataPtr
	MetaGetBytecodePtrInternal
	MetaSlowPathDispatch
	MetaValuePreserver
	MetaICPointerGetter
)

var metaAPINames = map[MetaAPI]string{
	MetaReturn:                 "DeegenApi_Return",
	MetaMakeCall:                "DeegenApi_MakeCall",
	MetaEnterSlowPath:           "DeegenApi_EnterSlowPath",
	MetaTypeCheck:               "DeegenApi_TypeCheck",
	MetaReturnValueAccessor:     "DeegenApi_ReturnValueAccessor",
	MetaThrowError:              "DeegenApi_ThrowError",
	MetaMetadataPtr:             "DeegenApi_MetadataPtr",
	MetaGetBytecodePtrInternal:  "DeegenApi_GetBytecodePtrInternal",
	MetaSlowPathDispatch:        "DeegenApi_SlowPathDispatch",
	MetaValuePreserver:          "DeegenApi_ValuePreserver",
	MetaICPointerGetter:         "DeegenApi_ICPointerGetter",
}

func (m MetaAPI) String() string {
	if n, ok := metaAPINames[m]; ok {
		return n
	}
	return "<not-meta-api>"
}

// metaAPIByName inverts metaAPINames for recognizing calls in the input IR.
var metaAPIByName = func() map[string]MetaAPI {
	m := make(map[string]MetaAPI, len(metaAPINames))
	for k, v := range metaAPINames {
		m[v] = k
	}
	return m
}()

// LookupMetaAPI returns the MetaAPI a callee name denotes, or NotMetaAPI.
func LookupMetaAPI(calleeName string) MetaAPI {
	if m, ok := metaAPIByName[calleeName]; ok {
		return m
	}
	return NotMetaAPI
}

// Value is an SSA value: either an instruction result or a function
// parameter. Values never change identity once created.
type Value struct {
	ID   int
	Name string
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}
	if v.Name != "" {
		return "%" + v.Name
	}
	return fmt.Sprintf("%%%d", v.ID)
}

// Instruction is one IR instruction. Call is non-nil for call instructions;
// Meta is set when Call's callee is a recognized meta-API.
type Instruction struct {
	Result   *Value
	Mnemonic string // e.g. "add", "br", "ret", "call" — used for disassembly/audit only
	Args     []*Value

	Call *CallInfo // non-nil iff this is a call instruction

	// Continuation is set on MakeCall instructions: the function the
	// caller transfers to once the call returns.
	Continuation *Function

	// SlowPathTarget is set on EnterSlowPath instructions.
	SlowPathTarget *Function
}

// CallInfo captures a call site: who is called, and whether it is a
// recognized meta-API.
type CallInfo struct {
	Callee string
	Meta   MetaAPI
	CC     CallingConvention
}

func (i *Instruction) IsMetaAPI(which MetaAPI) bool {
	return i.Call != nil && i.Call.Meta == which
}

// BasicBlock is a straight-line sequence of instructions.
type BasicBlock struct {
	Name  string
	Insts []*Instruction
}

func (b *BasicBlock) AppendInst(inst *Instruction) {
	b.Insts = append(b.Insts, inst)
}

// FunctionAttrs are the boolean function attributes the pipeline tracks
// explicitly.
type FunctionAttrs struct {
	NoReturn     bool
	NoUnwind     bool
	NoInline     bool
	AlwaysInline bool
	Used         bool // llvm.used-equivalent: survives dead-global elimination
}

// Section is the hot/cold placement assigned during Link & Prune.
type Section int

const (
	SectionUnassigned Section = iota
	SectionHot
	SectionCold
)

func (s Section) String() string {
	switch s {
	case SectionHot:
		return "hot"
	case SectionCold:
		return "cold"
	default:
		return "unassigned"
	}
}

// Function is one IR function, owned by exactly one Module at a time.
type Function struct {
	Name    string
	Linkage Linkage
	CC      CallingConvention
	Attrs   FunctionAttrs
	Section Section
	Params  []*Value
	Blocks  []*BasicBlock

	nextValueID int
}

// NewFunction creates an empty internal-linkage function with one entry
// block.
func NewFunction(name string) *Function {
	f := &Function{Name: name, Linkage: LinkageInternal}
	f.Blocks = []*BasicBlock{{Name: "entry"}}
	return f
}

// NewValue allocates a fresh SSA value owned by this function.
func (f *Function) NewValue(name string) *Value {
	v := &Value{ID: f.nextValueID, Name: name}
	f.nextValueID++
	return v
}

// Entry returns the function's entry block.
func (f *Function) Entry() *BasicBlock {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AllInsts iterates every instruction across every block, in block order.
func (f *Function) AllInsts() []*Instruction {
	var out []*Instruction
	for _, b := range f.Blocks {
		out = append(out, b.Insts...)
	}
	return out
}

// MakeCallSites returns every MakeCall instruction in the function.
func (f *Function) MakeCallSites() []*Instruction {
	var out []*Instruction
	for _, inst := range f.AllInsts() {
		if inst.IsMetaAPI(MetaMakeCall) {
			out = append(out, inst)
		}
	}
	return out
}

// SlowPathSites returns every EnterSlowPath instruction in the function.
func (f *Function) SlowPathSites() []*Instruction {
	var out []*Instruction
	for _, inst := range f.AllInsts() {
		if inst.IsMetaAPI(MetaEnterSlowPath) {
			out = append(out, inst)
		}
	}
	return out
}

// Clone performs a deep, structural copy of the function. Continuation/
// SlowPathTarget pointers are copied verbatim (still pointing at the
// source function's siblings) — Module.Clone fixes them up by name once
// every sibling in the module has been cloned.
func (f *Function) Clone(newName string) *Function {
	clone := &Function{
		Name:        newName,
		Linkage:     f.Linkage,
		CC:          f.CC,
		Attrs:       f.Attrs,
		Section:     f.Section,
		nextValueID: f.nextValueID,
	}
	valueMap := make(map[*Value]*Value)
	cloneValue := func(v *Value) *Value {
		if v == nil {
			return nil
		}
		if cv, ok := valueMap[v]; ok {
			return cv
		}
		cv := &Value{ID: v.ID, Name: v.Name}
		valueMap[v] = cv
		return cv
	}
	for _, p := range f.Params {
		clone.Params = append(clone.Params, cloneValue(p))
	}
	for _, b := range f.Blocks {
		nb := &BasicBlock{Name: b.Name}
		for _, inst := range b.Insts {
			ni := &Instruction{
				Result:         cloneValue(inst.Result),
				Mnemonic:       inst.Mnemonic,
				Continuation:   inst.Continuation,
				SlowPathTarget: inst.SlowPathTarget,
			}
			for _, a := range inst.Args {
				ni.Args = append(ni.Args, cloneValue(a))
			}
			if inst.Call != nil {
				ci := *inst.Call
				ni.Call = &ci
			}
			nb.Insts = append(nb.Insts, ni)
		}
		clone.Blocks = append(clone.Blocks, nb)
	}
	return clone
}

// Disassemble renders a human-readable listing, in the
// Chunk.Disassemble style (strings.Builder, one line per instruction).
func (f *Function) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s (%s, %s) ===\n", f.Name, f.Linkage, f.CC)
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Name)
		for _, inst := range b.Insts {
			if inst.Call != nil {
				fmt.Fprintf(&sb, "    call %s\n", inst.Call.Callee)
				continue
			}
			fmt.Fprintf(&sb, "    %s\n", inst.Mnemonic)
		}
	}
	return sb.String()
}

// Module owns a set of functions plus the set of "used" globals that must
// survive dead-global elimination until the Component Factory explicitly
// drops the attribute.
type Module struct {
	Name        string
	Functions   map[string]*Function
	UsedGlobals map[string]bool
}

// NewModule creates an empty module.
func NewModule(name string) *Module {
	return &Module{
		Name:        name,
		Functions:   make(map[string]*Function),
		UsedGlobals: make(map[string]bool),
	}
}

// AddFunction inserts f, keyed by its current name. Panics on a duplicate
// name — within one owned module, names must already be unique by
// construction; this is a bug in the caller, not a user error.
func (m *Module) AddFunction(f *Function) {
	if _, exists := m.Functions[f.Name]; exists {
		panic(fmt.Sprintf("ir: duplicate function %q in module %q", f.Name, m.Name))
	}
	m.Functions[f.Name] = f
}

// Lookup returns the function named name, or nil.
func (m *Module) Lookup(name string) *Function {
	return m.Functions[name]
}

// Rename moves a function from oldName to newName within the module,
// updating both the map key and the function's own Name field.
func (m *Module) Rename(oldName, newName string) {
	f, ok := m.Functions[oldName]
	if !ok {
		panic(fmt.Sprintf("ir: rename: no such function %q", oldName))
	}
	if _, clash := m.Functions[newName]; clash && newName != oldName {
		panic(fmt.Sprintf("ir: rename: target name %q already exists", newName))
	}
	delete(m.Functions, oldName)
	f.Name = newName
	m.Functions[newName] = f
}

// Clone performs a whole-module deep copy: every function is cloned under
// its current name, and every cloned instruction's Continuation/
// SlowPathTarget is repointed from the source module's function to the
// corresponding sibling in the clone (matched by name, since cloning
// precedes renaming). Without this fixup, every clone's call-graph edges
// would keep pointing at the pre-clone source module's functions instead
// of at the clone's own copies, silently aliasing mutations across
// independently-cloned modules.
func (m *Module) Clone(newName string) *Module {
	clone := NewModule(newName)
	for name, used := range m.UsedGlobals {
		clone.UsedGlobals[name] = used
	}
	for name, fn := range m.Functions {
		clone.Functions[name] = fn.Clone(name)
	}
	for _, fn := range clone.Functions {
		for _, inst := range fn.AllInsts() {
			if inst.Continuation != nil {
				if sib, ok := clone.Functions[inst.Continuation.Name]; ok {
					inst.Continuation = sib
				}
			}
			if inst.SlowPathTarget != nil {
				if sib, ok := clone.Functions[inst.SlowPathTarget.Name]; ok {
					inst.SlowPathTarget = sib
				}
			}
		}
	}
	return clone
}

// Remove deletes the function named name from the module, if present. Used
// by Link & Prune to drop dead components and by return-continuation
// de-duplication to drop a merged-away duplicate.
func (m *Module) Remove(name string) {
	delete(m.Functions, name)
}

// SortedFunctionNames returns function names in lexicographic order, for
// the deterministic traversal every stage requires wherever set iteration
// would otherwise occur.
func (m *Module) SortedFunctionNames() []string {
	names := make([]string, 0, len(m.Functions))
	for n := range m.Functions {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
