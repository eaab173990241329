package trigger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const serialTable = `# serial 1-0-1 on line 2, clocked on line 4
t 0=xxxxxxxx-1-0 start state machine
t 1=xxx0xxxx-2-1 wait until clock low
t 2=xxx1xxxx-3-2 wait until clock high
t 3=xxx1x1xx-4-0 continue if bit is 1, else restart
trigger 4=xxx0xxxx-5-4
5=xxx1xxxx-6-5
t 6=xxx1x0xx-7-0
t 7=xxx0xxxx-8-7
t 8=xxx1xxxx-9-8
t 9=xxx1x1xx-0-0 trigger if bit is 1, else restart
`

func TestParseTable(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatalf("NewParser() error: %v", err)
	}

	table, err := p.ParseString(serialTable)
	if err != nil {
		t.Fatalf("ParseString() error: %v", err)
	}
	if got := len(table.Lines); got != 10 {
		t.Fatalf("parsed %d lines, want 10", got)
	}

	g, err := table.Apply(NewGraph())
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if g.Len() != 10 {
		t.Fatalf("graph has %d states, want 10", g.Len())
	}

	s, _ := g.Lookup(3)
	if s.String() != "xxx1x1xx-4-0" || s.Comment != "continue if bit is 1, else restart" {
		t.Fatalf("state 3 = %q %q", s.String(), s.Comment)
	}
	if s, _ := g.Lookup(5); s.Comment != "" {
		t.Fatalf("state 5 comment = %q, want empty", s.Comment)
	}

	if err := Validate(g); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestParseTableDelete(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatal(err)
	}
	table, err := p.ParseString("t 1=xxxxxxx1-0-1\nt 2=xxxxxx1x-0-2\nt 3=xxxxx1xx-0-3\nt 7=xxxxxxxx-0-0\ndelete 2-3 7\n")
	if err != nil {
		t.Fatalf("ParseString() error: %v", err)
	}
	g, err := table.Apply(NewGraph())
	if err != nil {
		t.Fatalf("Apply() error: %v", err)
	}
	if got := g.Indices(); len(got) != 2 || got[1] != 1 {
		t.Fatalf("Indices() = %v, want [0 1]", got)
	}
}

func TestParseTableErrors(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
		isDef bool
	}{
		{name: "bad test char", input: "t 1=xxxxxxxq-0-1\n"},
		{name: "delete default", input: "d 0\n", isDef: true},
		{name: "index out of range", input: "t 300=xxxxxxxx-0-0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := p.ParseString(tt.input)
			if err != nil {
				t.Fatalf("ParseString() error: %v", err)
			}
			_, err = table.Apply(NewGraph())
			if err == nil {
				t.Fatalf("Apply() succeeded, want error")
			}
			if tt.isDef && !errors.Is(err, ErrDeleteDefault) {
				t.Fatalf("Apply() error = %v, want ErrDeleteDefault", err)
			}
		})
	}

}

func TestParserErrorPrefix(t *testing.T) {
	p, err := NewParser()
	if err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(t.TempDir(), "missing.b50")

	tests := []struct {
		name string
		run  func() error
		want string
	}{
		{"keyword only", func() error { _, err := p.ParseString("trigger\n"); return err }, "trigger: could not parse table: "},
		{"reader", func() error { _, err := p.Parse("r.b50", strings.NewReader("delete\n")); return err }, "trigger: could not parse table: "},
		{"missing file", func() error { _, err := p.ParseFile(missing); return err }, "trigger: could not open table: "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			if err == nil {
				t.Fatalf("succeeded, want error")
			}
			if !strings.HasPrefix(err.Error(), tt.want) {
				t.Fatalf("error = %q, want prefix %q", err, tt.want)
			}
		})
	}

	if _, err := LoadFile(missing); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("LoadFile(missing) = %v, want os.ErrNotExist", err)
	}
}

func TestWriteTableRoundTrip(t *testing.T) {
	g := NewGraph().With(
		State{Index: 1, Mask: 0x20, Pass: 2, Fail: 1, Comment: "wait low"},
		State{Index: 2, Mask: 0x20, Bits: 0x20, Fail: 2},
	)

	var buf bytes.Buffer
	if err := WriteTable(&buf, g); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "trigger 1=xx0xxxxx-2-1 wait low\n") {
		t.Fatalf("WriteTable output:\n%s", buf.String())
	}

	path := filepath.Join(t.TempDir(), "edge.b50")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	for _, want := range g.States() {
		got, ok := loaded.Lookup(want.Index)
		if !ok || got != want {
			t.Fatalf("state %d = %+v, want %+v", want.Index, got, want)
		}
	}
}
