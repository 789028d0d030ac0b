// Package cfgdiscovery implements control-flow discovery:
// from a root implementation function, walk MakeCall continuations and
// EnterSlowPath targets transitively, partitioning reached functions into
// return-continuations and slow-paths. The walk is recursion-guarded the
// same way the inliner guards against inlining a function into
// itself (internal/jit/inliner.go's inlineStack), here repurposed to refuse
// expanding any function twice.
package cfgdiscovery

import (
	"sort"

	"github.com/deegen/deegen-core/internal/diag"
	"github.com/deegen/deegen-core/internal/ir"
)

const passName = "control-flow-discovery"

// Result is the discovery output: two disjoint sets plus their union, all
// exposed in canonical (lexicographic-by-name) order for determinism.
type Result struct {
	ReturnContinuations []*ir.Function
	SlowPaths           []*ir.Function
	All                 []*ir.Function
}

// Discover walks root's reachable continuations and slow-path targets.
// ignoreSlowPaths suppresses following EnterSlowPath edges, for callers
// building a quickening-slow-path-only component.
func Discover(root *ir.Function, ignoreSlowPaths bool) (Result, error) {
	visited := make(map[string]bool)
	retConts := make(map[string]*ir.Function)
	slowPaths := make(map[string]*ir.Function)

	visited[root.Name] = true

	var walk func(fn *ir.Function, via string) error
	walk = func(fn *ir.Function, via string) error {
		for _, inst := range fn.MakeCallSites() {
			cont := inst.Continuation
			if cont == nil {
				continue
			}
			already := visited[cont.Name]
			if err := expand(cont, retConts, visited, "return-continuation"); err != nil {
				return err
			}
			if already {
				continue
			}
			if err := walk(cont, "makecall-continuation"); err != nil {
				return err
			}
		}
		if !ignoreSlowPaths {
			for _, inst := range fn.SlowPathSites() {
				sp := inst.SlowPathTarget
				if sp == nil {
					continue
				}
				already := visited[sp.Name]
				if err := expand(sp, slowPaths, visited, "slow-path"); err != nil {
					return err
				}
				if already {
					continue
				}
				if err := walk(sp, "enterslowpath-target"); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(root, "root"); err != nil {
		return Result{}, err
	}

	var res Result
	res.ReturnContinuations = sortedValues(retConts)
	res.SlowPaths = sortedValues(slowPaths)

	seen := make(map[string]bool)
	for _, fn := range res.ReturnContinuations {
		res.All = append(res.All, fn)
		seen[fn.Name] = true
	}
	for _, fn := range res.SlowPaths {
		if !seen[fn.Name] {
			res.All = append(res.All, fn)
			seen[fn.Name] = true
		}
	}
	sort.Slice(res.All, func(i, j int) bool { return res.All[i].Name < res.All[j].Name })

	return res, nil
}

// expand records fn into dest the first time it is reached. A function
// reached twice from different sets, or equal to the root, is a malformed
// input.
func expand(fn *ir.Function, dest map[string]*ir.Function, visited map[string]bool, kind string) error {
	if visited[fn.Name] {
		if _, already := dest[fn.Name]; already {
			return nil // re-reached from another path into the SAME set: fine, expand-once still holds
		}
		return &discoveryError{fn.Name, kind}
	}
	visited[fn.Name] = true
	dest[fn.Name] = fn
	return nil
}

type discoveryError struct {
	fnName string
	kind   string
}

func (e *discoveryError) Error() string {
	f := diag.NewFatal(diag.CodeCycleAmongContinuations, passName,
		"function %q reached as %s after already being reached as a different kind, or is the root itself", e.fnName, e.kind)
	return f.Error()
}

func sortedValues(m map[string]*ir.Function) []*ir.Function {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*ir.Function, len(names))
	for i, n := range names {
		out[i] = m[n]
	}
	return out
}
