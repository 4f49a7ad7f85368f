package compiler

import "fmt"

// TokenType identifies the category of a lexed token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	IDENT   // variable / procedure / target name, possibly dotted (Target.member)
	NUMBER  // decimal numeric literal, point-leading forms allowed (.5)
	STRING  // string literal "..."
	KEYWORD // reserved word, matched case-insensitively, stored lowercased

	OP // + - * / % = == != < <= > >= !

	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]
	COMMA    // ,

	NEWLINE // statement separator
)

// tokenNames is indexed by TokenType.
var tokenNames = [...]string{
	EOF:      "EOF",
	IDENT:    "IDENT",
	NUMBER:   "NUMBER",
	STRING:   "STRING",
	KEYWORD:  "KEYWORD",
	OP:       "OP",
	LPAREN:   "LPAREN",
	RPAREN:   "RPAREN",
	LBRACKET: "LBRACKET",
	RBRACKET: "RBRACKET",
	COMMA:    "COMMA",
	NEWLINE:  "NEWLINE",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Position is a 1-based line/column location in the merged source.
type Position struct {
	Line int
	Col  int
}

// Token is a single lexical unit produced by the Lexer.
//
// For KEYWORD tokens Text holds the lowercased word; for STRING tokens it
// holds the unescaped value. Every other kind keeps the exact source text.
type Token struct {
	Type TokenType
	Text string
	Pos  Position
}

func (t Token) String() string {
	return fmt.Sprintf("%-8s %-14q  line %d col %d", t.Type, t.Text, t.Pos.Line, t.Pos.Col)
}

// keywords is the reserved word set. Membership is decided on the lowercased
// spelling, so "Repeat" and "REPEAT" lex as the same keyword.
var keywords = map[string]bool{
	"add": true, "all": true, "and": true, "answer": true, "ask": true,
	"at": true, "backdrop": true, "bounce": true, "brightness": true,
	"broadcast": true, "by": true, "change": true, "clicked": true,
	"color": true, "contains": true, "costume": true, "define": true,
	"delete": true, "direction": true, "down": true, "each": true,
	"edge": true, "else": true, "end": true, "erase": true, "flag": true,
	"floor": true, "for": true, "forever": true, "from": true, "go": true,
	"hide": true, "i": true, "if": true, "import": true, "in": true,
	"insert": true, "item": true, "key": true, "left": true, "length": true,
	"list": true, "mouse": true, "move": true, "next": true, "not": true,
	"of": true, "on": true, "or": true, "pen": true, "pick": true,
	"point": true, "pressed": true, "random": true, "receive": true,
	"repeat": true, "replace": true, "reset": true, "right": true,
	"round": true, "saturation": true, "say": true, "seconds": true,
	"set": true, "show": true, "size": true, "sprite": true, "stage": true,
	"stamp": true, "steps": true, "stop": true, "then": true, "think": true,
	"this": true, "timer": true, "to": true, "transparency": true,
	"turn": true, "until": true, "up": true, "var": true, "wait": true,
	"when": true, "while": true, "with": true, "x": true, "y": true,
}
