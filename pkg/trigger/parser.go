package trigger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// Parser reads trigger table scripts. One Parser may be reused for any
// number of tables.
type Parser struct {
	grammar *participle.Parser[TableFile]
}

// NewParser builds the table grammar.
func NewParser() (*Parser, error) {
	grammar, err := participle.Build[TableFile](
		participle.Lexer(TableLexer),
		participle.Elide("Comment", "Whitespace"),
	)
	if err != nil {
		return nil, fmt.Errorf("trigger: could not build table grammar: %w", err)
	}
	return &Parser{grammar: grammar}, nil
}

// Parse reads a table script from r. name labels positions in errors.
func (p *Parser) Parse(name string, r io.Reader) (*TableFile, error) {
	table, err := p.grammar.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("trigger: could not parse table: %w", err)
	}
	return table, nil
}

// ParseString reads a table script held in memory.
func (p *Parser) ParseString(script string) (*TableFile, error) {
	table, err := p.grammar.ParseString("", script)
	if err != nil {
		return nil, fmt.Errorf("trigger: could not parse table: %w", err)
	}
	return table, nil
}

// ParseFile reads the table script stored at path.
func (p *Parser) ParseFile(path string) (*TableFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("trigger: could not open table: %w", err)
	}
	defer f.Close()
	return p.Parse(path, f)
}

// Apply runs the script's statements against g in order and returns the
// resulting graph. g itself is not modified.
func (t *TableFile) Apply(g Graph) (Graph, error) {
	for _, line := range t.Lines {
		switch {
		case line.Define != nil:
			s, err := ParseDefinition(line.Define.Entry)
			if err != nil {
				return g, fmt.Errorf("%s: %w", line.Define.Pos, err)
			}
			s.Comment = strings.TrimSpace(line.Define.Remark)
			g = g.With(s)
		case line.Delete != nil:
			for _, target := range line.Delete.Targets {
				lo, hi, err := parseRange(target)
				if err != nil {
					return g, fmt.Errorf("%s: %w", line.Delete.Pos, err)
				}
				next, err := g.WithoutRange(lo, hi)
				if err != nil {
					return g, fmt.Errorf("%s: %w", line.Delete.Pos, err)
				}
				g = next
			}
		}
	}
	return g, nil
}

// LoadFile parses filename and applies it on top of the default table.
func LoadFile(filename string) (Graph, error) {
	p, err := NewParser()
	if err != nil {
		return Graph{}, err
	}
	table, err := p.ParseFile(filename)
	if err != nil {
		return Graph{}, err
	}
	return table.Apply(NewGraph())
}

// WriteTable writes g in the script form accepted by Parser.
func WriteTable(w io.Writer, g Graph) error {
	for _, s := range g.States() {
		if _, err := fmt.Fprintf(w, "trigger %s\n", s.Definition()); err != nil {
			return err
		}
	}
	return nil
}

func parseRange(target string) (uint8, uint8, error) {
	first, last, isRange := strings.Cut(target, "-")
	lo, err := parseTarget("index", first)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := parseTarget("index", last)
	if err != nil {
		return 0, 0, err
	}
	if hi < lo {
		return 0, 0, fmt.Errorf("trigger: bad range %q", target)
	}
	return lo, hi, nil
}
