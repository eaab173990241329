package trigger

import "github.com/alecthomas/participle/v2/lexer"

// TableFile is a parsed trigger table script.
type TableFile struct {
	Lines []*Line `( @@ | EOL )*`
}

// Line is one statement of a table script.
type Line struct {
	Define *Define `  @@`
	Delete *Delete `| @@`
}

// Define sets one state, e.g. "t 17=11001111-23-15 comment".
type Define struct {
	Pos    lexer.Position
	Entry  string `KwTrigger? @Entry`
	Remark string `@Remark? RemarkEnd?`
}

// Delete removes states by index or inclusive range, e.g. "delete 3-5 7".
type Delete struct {
	Pos     lexer.Position
	Targets []string `KwDelete @( Range | Int )+`
}
