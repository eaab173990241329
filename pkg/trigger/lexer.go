package trigger

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// TableLexer tokenizes trigger table files:
//
//	# rising edge on line 5
//	trigger 0=xx0xxxxx-1-0 wait until low
//	t 1=xx1xxxxx-0-1 trigger when high
//	delete 3-5 7
//
// Everything after a definition up to the end of the line is its comment.
var TableLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{Name: "Comment", Pattern: `#[^\n]*`},
		{Name: "EOL", Pattern: `\r?\n`},
		{Name: "Whitespace", Pattern: `[ \t]+`},

		{Name: "KwTrigger", Pattern: `(?i)(trigger|t)\b`},
		{Name: "KwDelete", Pattern: `(?i)(delete|d)\b`},

		// index=test-pass-fail, validated after parsing so errors name the field
		{Name: "Entry", Pattern: `[0-9]+=[^\s]+`, Action: lexer.Push("Remark")},

		{Name: "Range", Pattern: `[0-9]+-[0-9]+`},
		{Name: "Int", Pattern: `[0-9]+`},
	},
	"Remark": {
		{Name: "RemarkEnd", Pattern: `\r?\n`, Action: lexer.Pop()},
		{Name: "Remark", Pattern: `[^\r\n]+`},
	},
})
