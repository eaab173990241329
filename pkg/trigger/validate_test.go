package trigger

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func mustGraph(t *testing.T, defs ...string) Graph {
	t.Helper()
	states := make([]State, 0, len(defs))
	for _, def := range defs {
		s, err := ParseDefinition(def)
		if err != nil {
			t.Fatalf("ParseDefinition(%q) error: %v", def, err)
		}
		states = append(states, s)
	}
	return FromStates(states...)
}

func validationErrors(t *testing.T, g Graph) ValidationErrors {
	t.Helper()
	err := Validate(g)
	if err == nil {
		return nil
	}
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("Validate() error type = %T, want ValidationErrors", err)
	}
	return errs
}

func TestValidateDefaultGraph(t *testing.T) {
	if err := Validate(NewGraph()); err != nil {
		t.Fatalf("Validate(default) = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		defs  []string
		kinds []Kind // exact multiset of findings, in report order
	}{
		{
			name:  "missing state zero",
			defs:  []string{"1=xxxxxxx1-0-1"},
			kinds: []Kind{KindMissingDefault, KindDanglingPass},
		},
		{
			name:  "dangling pass",
			defs:  []string{"0=xxxxxxxx-5-0"},
			kinds: []Kind{KindDanglingPass},
		},
		{
			name:  "dangling fail",
			defs:  []string{"0=xxxxxxx1-0-9"},
			kinds: []Kind{KindDanglingFail},
		},
		{
			name: "duplicate test on pass neighbour",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=xx1xxxxx-2-1",
				"2=xx1xxxxx-0-2",
			},
			kinds: []Kind{KindDuplicateTest},
		},
		{
			name: "duplicate test ignores ones and zeros spelling",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=..i.....-2-1",
				"2=XX1XXXXX-0-2",
			},
			kinds: []Kind{KindDuplicateTest},
		},
		{
			name: "duplicate test is not transitive",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=xxxxxxx1-2-1",
				"2=xxxxxxxx-3-2",
				"3=xxxxxxx1-0-3",
			},
		},
		{
			name: "pass equals fail",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=xx1xxxxx-2-2",
				"2=xxxxxxxx-0-0",
			},
			kinds: []Kind{KindPassEqualsFail},
		},
		{
			name: "pass equals fail to zero is allowed",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=xx1xxxxx-0-0",
			},
		},
		{
			name: "bad fail chain",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=xxxxxxx1-0-2",
				"2=xxxxxx1x-0-3",
				"3=xxxxx1xx-0-2",
			},
			kinds: []Kind{KindFailChain},
		},
		{
			name: "fail chain closing on start",
			defs: []string{
				"0=xxxxxxxx-1-0",
				"1=xxxx0011-0-2",
				"2=xxxx0100-0-3",
				"3=xxxx1010-0-1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validationErrors(t, mustGraph(t, tt.defs...))
			var got []Kind
			for _, e := range errs {
				got = append(got, e.Kind)
			}
			if !reflect.DeepEqual(got, tt.kinds) {
				t.Fatalf("Validate() kinds = %v, want %v\n%v", got, tt.kinds, errs)
			}
		})
	}
}

func TestValidatePassLoop(t *testing.T) {
	// "never trigger" table: 1 and 2 pass to each other forever
	g := mustGraph(t,
		"0=xxxxxxxx-1-0",
		"1=00000000-2-1",
		"2=11111111-1-2",
	)
	errs := validationErrors(t, g)
	if !errs.Has(KindPassLoop) {
		t.Fatalf("Validate() = %v, want pass loop", errs)
	}
	for _, e := range errs {
		if e.Kind == KindPassLoop && e.Index == 0 {
			if want := []uint8{0, 1, 2, 1}; !reflect.DeepEqual(e.Path, want) {
				t.Fatalf("loop path = %v, want %v", e.Path, want)
			}
			if !strings.Contains(e.Message, "0 -> 1 -> 2 -> 1") {
				t.Fatalf("loop message = %q", e.Message)
			}
			return
		}
	}
	t.Fatalf("no pass loop reported from state 0: %v", errs)
}

func TestValidateFailChainPath(t *testing.T) {
	g := mustGraph(t,
		"0=xxxxxxxx-1-0",
		"1=xxxxxxx1-0-2",
		"2=xxxxxx1x-0-3",
		"3=xxxxx1xx-0-2",
	)
	errs := validationErrors(t, g)
	if len(errs) != 1 {
		t.Fatalf("Validate() = %v, want one error", errs)
	}
	if want := []uint8{1, 2, 3, 2}; !reflect.DeepEqual(errs[0].Path, want) {
		t.Fatalf("fail chain path = %v, want %v", errs[0].Path, want)
	}
}

func TestValidateDoesNotModifyGraph(t *testing.T) {
	g := mustGraph(t, "0=xxxxxxxx-7-0", "1=xx1xxxxx-2-2")
	before := g.States()
	_ = Validate(g)
	if !reflect.DeepEqual(g.States(), before) {
		t.Fatalf("graph changed by Validate")
	}
}

func TestValidationErrorsMessage(t *testing.T) {
	errs := validationErrors(t, mustGraph(t, "1=xxxxxxxx-3-4"))
	msg := errs.Error()
	if !strings.HasPrefix(msg, "3 trigger errors:") {
		t.Fatalf("Error() = %q", msg)
	}
	for _, want := range []string{"no state 0", "pass 3 isn't in triggers [1]", "fail 4 isn't in triggers [1]"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() missing %q:\n%s", want, msg)
		}
	}
}
