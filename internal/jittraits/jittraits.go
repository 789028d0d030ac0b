// Package jittraits models the Baseline-JIT Stencil Boundary: the types
// consumed/produced at the edge between this core and
// the external stencil parser and JIT codegen collaborators. No stencil
// extraction or codegen algorithm lives here — only the trait records the
// collaborator hands back and forth.
package jittraits

import "fmt"

// MaxDataSectionAlignment is the alignment cap a trait record's data
// section must not exceed.
const MaxDataSectionAlignment = 16

// Traits is BytecodeBaselineJitTraits, a 16-byte record, power-of-two sized
// for cheap indexing.
type Traits struct {
	FastPathCodeLen      uint16
	SlowPathCodeLen      uint16
	DataSectionCodeLen   uint16
	DataSectionAlignment uint8
	NumCondBrLatePatches uint16
	SlowPathDataLen      uint16
	BytecodeLength       uint16
	_unused              uint16 // padding to reach 16 bytes
}

// Validate enforces the layout-violation invariant:
// metadata/data-section alignment must not exceed 16.
func (t Traits) Validate() error {
	if t.DataSectionAlignment > MaxDataSectionAlignment {
		return fmt.Errorf("jittraits: data-section alignment %d exceeds %d-byte cap", t.DataSectionAlignment, MaxDataSectionAlignment)
	}
	return nil
}

// PatchKind is the cond-branch late-patch kind enum.
type PatchKind int

const (
	PatchInt32 PatchKind = iota // add low32 to a u32
	PatchSlowPathData           // write low32 then u32 bytecode ordinal
	PatchInt64                  // add full address to a u64
)

func (k PatchKind) String() string {
	switch k {
	case PatchInt32:
		return "Int32"
	case PatchSlowPathData:
		return "SlowPathData"
	case PatchInt64:
		return "Int64"
	default:
		return fmt.Sprintf("PatchKind(%d)", int(k))
	}
}

// CondBrLatePatch is the cond-branch late-patch record: where in the
// generated code the branch target needs to be filled in once it's known.
type CondBrLatePatch struct {
	Ptr               uintptr
	DstBytecodePtrLow uint32
	Kind              PatchKind
}

// AllocationSizeClass is one stepping index into the JIT memory
// allocator's fixed size classes, grounded
// on page-granularity allocation constants
// (internal/jit/memory.go / memory_windows.go / mem_linux.go).
type AllocationSizeClass int

// sizeClasses mirrors a typical fixed-size-class allocator stepping: powers
// of two from 64 bytes (smallest plausible IC) up to one page.
var sizeClasses = []int{64, 128, 256, 512, 1024, 2048, 4096}

// SizeClassFor returns the smallest size-class index whose byte size is >=
// want, or an error if want exceeds the largest class.
func SizeClassFor(want int) (AllocationSizeClass, error) {
	for i, sz := range sizeClasses {
		if want <= sz {
			return AllocationSizeClass(i), nil
		}
	}
	return 0, fmt.Errorf("jittraits: no size class fits %d bytes", want)
}

// SizeClassBytes returns the byte size of a size class.
func SizeClassBytes(c AllocationSizeClass) int {
	return sizeClasses[c]
}

// CodePointerPatch is one patch record within a Call-IC trait:
// offset plus 32-vs-64-bit width.
type CodePointerPatch struct {
	Offset    int
	Is64Bit   bool
}

// CallICTrait is one IC layout's trait record: the
// allocation-size-class stepping, direct-call vs closure-call flag, and
// patch records. Variable-length in the real ABI (fixed header + N patch
// records); represented here as a struct with a slice, which is the Go
// analogue.
type CallICTrait struct {
	SizeClass    AllocationSizeClass
	IsDirectCall bool
	Patches      []CodePointerPatch
}

// Validate enforces "every patch lies wholly inside the allocated block".
func (t CallICTrait) Validate() error {
	blockSize := SizeClassBytes(t.SizeClass)
	for _, p := range t.Patches {
		width := 4
		if p.Is64Bit {
			width = 8
		}
		if p.Offset < 0 || p.Offset+width > blockSize {
			return fmt.Errorf("jittraits: patch at offset %d (width %d) falls outside %d-byte allocated block",
				p.Offset, width, blockSize)
		}
	}
	return nil
}

// TraitTable is deegen_jit_call_inline_cache_trait_table[]: a
// globally-published, ordered array of trait records, one per distinct IC
// layout. Ordered by first-registration to stay deterministic.
type TraitTable struct {
	entries []CallICTrait
}

func (tt *TraitTable) Append(t CallICTrait) (int, error) {
	if err := t.Validate(); err != nil {
		return -1, err
	}
	tt.entries = append(tt.entries, t)
	return len(tt.entries) - 1, nil
}

func (tt *TraitTable) Entries() []CallICTrait {
	return tt.entries
}
