package trigger

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind classifies a validation finding.
type Kind uint8

const (
	KindMissingDefault Kind = iota + 1
	KindDanglingPass
	KindDanglingFail
	KindDuplicateTest
	KindPassEqualsFail
	KindPassLoop
	KindFailChain
)

var kindNames = map[Kind]string{
	KindMissingDefault: "missing-default",
	KindDanglingPass:   "dangling-pass",
	KindDanglingFail:   "dangling-fail",
	KindDuplicateTest:  "duplicate-test",
	KindPassEqualsFail: "pass-equals-fail",
	KindPassLoop:       "pass-loop",
	KindFailChain:      "fail-chain",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ValidationError is a single structural problem in a trigger table.
type ValidationError struct {
	Index   uint8   // state the problem was found from
	Kind    Kind
	Path    []uint8 // chain walked, for loop findings
	Message string
}

func (e ValidationError) Error() string {
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d trigger errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Has reports whether any finding is of kind k.
func (e ValidationErrors) Has(k Kind) bool {
	for _, v := range e {
		if v.Kind == k {
			return true
		}
	}
	return false
}

// Validate checks g for tables that can stall or mis-trigger the device.
// It never modifies g and reports every finding; a nil return means the
// table is well formed. The error, when non-nil, is a ValidationErrors.
func Validate(g Graph) error {
	var errs ValidationErrors
	add := func(index uint8, kind Kind, path []uint8, format string, args ...any) {
		errs = append(errs, ValidationError{
			Index:   index,
			Kind:    kind,
			Path:    path,
			Message: fmt.Sprintf(format, args...),
		})
	}

	if !g.Has(0) {
		add(0, KindMissingDefault, nil, "trigger table has no state 0")
	}

	defined := g.Indices()
	for _, s := range g.States() {
		if !g.Has(s.Pass) {
			add(s.Index, KindDanglingPass, nil,
				"trigger %s: pass %d isn't in triggers %v", s.Definition(), s.Pass, defined)
		}
		if !g.Has(s.Fail) {
			add(s.Index, KindDanglingFail, nil,
				"trigger %s: fail %d isn't in triggers %v", s.Definition(), s.Fail, defined)
		}

		if s.Mask != 0 {
			if next, ok := g.Lookup(s.Pass); ok && s.Pass != s.Index && next.Test() == s.Test() {
				add(s.Index, KindDuplicateTest, nil,
					"trigger %s: pass -> %d has same test (%s)", s.Definition(), s.Pass, s.Test())
			}
			if next, ok := g.Lookup(s.Fail); ok && s.Fail != s.Index && next.Test() == s.Test() {
				add(s.Index, KindDuplicateTest, nil,
					"trigger %s: fail -> %d has same test (%s)", s.Definition(), s.Fail, s.Test())
			}
		}

		if s.Index != 0 && s.Pass == s.Fail && s.Fail != 0 && s.Mask != 0 {
			add(s.Index, KindPassEqualsFail, nil,
				"trigger %s: pass same as fail (%d) not allowed", s.Definition(), s.Pass)
		}
	}

	for _, start := range defined {
		if path, loop := walkPass(g, start); loop {
			add(start, KindPassLoop, path,
				"infinite triggers \"pass\" loop: %s", formatPath(path))
		}
	}

	for _, start := range defined {
		if path, bad := walkFail(g, start); bad {
			add(start, KindFailChain, path,
				"bad triggers fail chain, doesn't end at start or at \"xxxxxxxx-X-Y\": %s", formatPath(path))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// walkPass follows pass targets from start until state 0, an undefined
// target, or a revisit. Dangling targets are reported separately.
func walkPass(g Graph, start uint8) ([]uint8, bool) {
	path := []uint8{start}
	check := start
	for {
		s, _ := g.Lookup(check)
		next := s.Pass
		if !g.Has(next) || next == 0 {
			return path, false
		}
		if contains(path, next) {
			return append(path, next), true
		}
		path = append(path, next)
		check = next
	}
}

// walkFail follows fail targets while the current state tests at least one
// line. Returning to start closes a retry loop; revisiting any other state
// is malformed. Wildcard termination is only checked at the top of a step.
func walkFail(g Graph, start uint8) ([]uint8, bool) {
	var path []uint8
	check := start
	for {
		s, _ := g.Lookup(check)
		if s.Mask == 0 {
			return path, false
		}
		path = append(path, check)
		next := s.Fail
		if !g.Has(next) {
			return path, false
		}
		if contains(path, next) {
			if next == start {
				return path, false
			}
			return append(path, next), true
		}
		check = next
	}
}

func contains(path []uint8, v uint8) bool {
	for _, p := range path {
		if p == v {
			return true
		}
	}
	return false
}

func formatPath(path []uint8) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(int(p))
	}
	return strings.Join(parts, " -> ")
}
