package compiler

import (
	"fmt"
	"strings"
	"unicode"
)

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src  []rune
	pos  int // index of the next rune to consume
	line int // current 1-based source line
	col  int // current 1-based source column
}

func newLexer(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1, col: 1}
}

// Lex scans the whole source and returns its token stream. The stream always
// ends with a single EOF token; consecutive newlines collapse into one
// NEWLINE token.
func Lex(src string) ([]Token, error) {
	l := newLexer(src)
	var tokens []Token

	lastWasNewline := true // suppress leading newlines
	for l.pos < len(l.src) {
		r := l.peek()
		switch {
		case r == '\uFEFF' || unicode.Is(unicode.Cf, r):
			// BOM and zero-width format characters carry no meaning.
			l.advance()
		case r == ' ' || r == '\t' || r == '\r':
			l.advance()
		case r == '#':
			l.skipLineComment()
		case r == '\n':
			pos := l.position()
			l.advance()
			if !lastWasNewline {
				tokens = append(tokens, Token{Type: NEWLINE, Text: "\n", Pos: pos})
				lastWasNewline = true
			}
		default:
			tok, err := l.scanToken()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			lastWasNewline = false
		}
	}

	tokens = append(tokens, Token{Type: EOF, Pos: l.position()})
	return tokens, nil
}

func (l *Lexer) position() Position {
	return Position{Line: l.line, Col: l.col}
}

// peek returns the rune at the current position without advancing.
func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

// peek2 returns the rune one position ahead of the current position.
func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

// advance consumes one rune and returns it.
func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

// skipLineComment discards everything from the current position to end-of-line.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

func (l *Lexer) scanToken() (Token, error) {
	pos := l.position()
	r := l.peek()

	if unicode.IsLetter(r) || r == '_' {
		return l.scanIdent(), nil
	}
	if unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peek2())) {
		return l.scanNumber(), nil
	}
	if r == '"' {
		return l.scanString()
	}

	switch r {
	case '(':
		l.advance()
		return Token{Type: LPAREN, Text: "(", Pos: pos}, nil
	case ')':
		l.advance()
		return Token{Type: RPAREN, Text: ")", Pos: pos}, nil
	case '[':
		l.advance()
		return Token{Type: LBRACKET, Text: "[", Pos: pos}, nil
	case ']':
		l.advance()
		return Token{Type: RBRACKET, Text: "]", Pos: pos}, nil
	case ',':
		l.advance()
		return Token{Type: COMMA, Text: ",", Pos: pos}, nil
	case '+', '-', '*', '/', '%':
		l.advance()
		return Token{Type: OP, Text: string(r), Pos: pos}, nil
	case '=', '!', '<', '>':
		l.advance()
		if l.peek() == '=' {
			l.advance()
			return Token{Type: OP, Text: string(r) + "=", Pos: pos}, nil
		}
		return Token{Type: OP, Text: string(r), Pos: pos}, nil
	}

	return Token{}, &Diagnostic{
		Stage: StageLex,
		Msg:   fmt.Sprintf("unexpected character %q", r),
		Pos:   pos,
	}
}

// scanIdent collects an identifier or keyword. The dot continues an
// identifier so qualified Target.member names lex as one token; whitespace
// around the dot therefore splits the name, which is intentional.
func (l *Lexer) scanIdent() Token {
	pos := l.position()
	start := l.pos
	for l.pos < len(l.src) {
		r := l.peek()
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '?' && r != '.' {
			break
		}
		l.advance()
	}
	text := string(l.src[start:l.pos])
	lowered := strings.ToLower(text)
	if keywords[lowered] {
		return Token{Type: KEYWORD, Text: lowered, Pos: pos}
	}
	return Token{Type: IDENT, Text: text, Pos: pos}
}

// scanNumber collects an ASCII digit run with at most one decimal point.
func (l *Lexer) scanNumber() Token {
	pos := l.position()
	start := l.pos
	seenDot := false
	for l.pos < len(l.src) {
		r := l.peek()
		if r == '.' && !seenDot && unicode.IsDigit(l.peek2()) {
			seenDot = true
			l.advance()
			continue
		}
		if !unicode.IsDigit(r) {
			break
		}
		l.advance()
	}
	return Token{Type: NUMBER, Text: string(l.src[start:l.pos]), Pos: pos}
}

// scanString collects a double-quoted literal, resolving escapes. The token
// text is the unescaped value.
func (l *Lexer) scanString() (Token, error) {
	pos := l.position()
	l.advance() // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		r := l.advance()
		switch r {
		case '"':
			return Token{Type: STRING, Text: sb.String(), Pos: pos}, nil
		case '\\':
			esc := l.advance()
			switch esc {
			case '"':
				sb.WriteRune('"')
			case '\\':
				sb.WriteRune('\\')
			case 'n':
				sb.WriteRune('\n')
			case 'r':
				sb.WriteRune('\r')
			case 't':
				sb.WriteRune('\t')
			default:
				return Token{}, &Diagnostic{
					Stage: StageLex,
					Msg:   "invalid escape sequence \\" + string(esc),
					Pos:   pos,
				}
			}
		case '\n':
			return Token{}, &Diagnostic{
				Stage: StageLex,
				Msg:   "unterminated string literal",
				Pos:   pos,
			}
		default:
			sb.WriteRune(r)
		}
	}
	return Token{}, &Diagnostic{
		Stage: StageLex,
		Msg:   "unterminated string literal",
		Pos:   pos,
	}
}
