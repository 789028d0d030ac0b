//go:build windows

// Windows allocation granularity for the JIT memory allocator's fixed size
// classes, mirroring internal/jit/memory_windows.go's VirtualAlloc-based
// page accounting. The core itself never allocates executable memory (that
// is the JIT memory allocator collaborator's job); it only needs to round
// a requested Call-IC block up to what that allocator will actually hand
// back on this platform, so size-class validation (CallICTrait.Validate)
// matches reality on Windows hosts.
package jittraits

import "golang.org/x/sys/windows"

// windowsAllocationGranularity is VirtualAlloc's minimum reservation
// granularity (64KiB on every supported Windows version); queried once, from
// init below, via GetSystemInfo the way memory_windows.go resolves page size.
func windowsAllocationGranularity() int {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	if info.AllocationGranularity == 0 {
		return 65536
	}
	return int(info.AllocationGranularity)
}

// init appends one extra, Windows-only size-class step sized to
// VirtualAlloc's allocation granularity, above the platform-independent
// {64, ..., 4096} ladder — a Call-IC block that needs more than 4096 bytes
// rounds up to what VirtualAlloc will actually reserve on this host, rather
// than to the next power of two the generic ladder would otherwise lack.
func init() {
	sizeClasses = append(sizeClasses, windowsAllocationGranularity())
}
