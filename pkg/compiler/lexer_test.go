package compiler

import (
	"strings"
	"testing"
)

// kinds strips positions so cases stay readable.
func kinds(tokens []Token) []Token {
	out := make([]Token, len(tokens))
	for i, tok := range tokens {
		out[i] = Token{Type: tok.Type, Text: tok.Text}
	}
	return out
}

func sameTokens(a, b []Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLex(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []Token
		wantErr  string
	}{
		{
			name:     "Empty",
			input:    "",
			expected: []Token{{Type: EOF}},
		},
		{
			name:  "Keywords lowercase regardless of spelling",
			input: "Set X TO",
			expected: []Token{
				{Type: KEYWORD, Text: "set"},
				{Type: KEYWORD, Text: "x"},
				{Type: KEYWORD, Text: "to"},
				{Type: EOF},
			},
		},
		{
			name:  "BOM and format runes skipped",
			input: "\uFEFFset ​x",
			expected: []Token{
				{Type: KEYWORD, Text: "set"},
				{Type: KEYWORD, Text: "x"},
				{Type: EOF},
			},
		},
		{
			name:  "Identifiers keep case and dots",
			input: "score Player.hp _tmp done?",
			expected: []Token{
				{Type: IDENT, Text: "score"},
				{Type: IDENT, Text: "Player.hp"},
				{Type: IDENT, Text: "_tmp"},
				{Type: IDENT, Text: "done?"},
				{Type: EOF},
			},
		},
		{
			name:  "Numbers",
			input: "0 42 3.14 .5",
			expected: []Token{
				{Type: NUMBER, Text: "0"},
				{Type: NUMBER, Text: "42"},
				{Type: NUMBER, Text: "3.14"},
				{Type: NUMBER, Text: ".5"},
				{Type: EOF},
			},
		},
		{
			name:  "Operators",
			input: "+ - * / % = == != < <= > >=",
			expected: []Token{
				{Type: OP, Text: "+"},
				{Type: OP, Text: "-"},
				{Type: OP, Text: "*"},
				{Type: OP, Text: "/"},
				{Type: OP, Text: "%"},
				{Type: OP, Text: "="},
				{Type: OP, Text: "=="},
				{Type: OP, Text: "!="},
				{Type: OP, Text: "<"},
				{Type: OP, Text: "<="},
				{Type: OP, Text: ">"},
				{Type: OP, Text: ">="},
				{Type: EOF},
			},
		},
		{
			name:  "String escapes are resolved",
			input: `say ("a\"b\\c\n")`,
			expected: []Token{
				{Type: KEYWORD, Text: "say"},
				{Type: LPAREN, Text: "("},
				{Type: STRING, Text: "a\"b\\c\n"},
				{Type: RPAREN, Text: ")"},
				{Type: EOF},
			},
		},
		{
			name:  "Consecutive newlines collapse",
			input: "show\n\n\nhide\n",
			expected: []Token{
				{Type: KEYWORD, Text: "show"},
				{Type: NEWLINE, Text: "\n"},
				{Type: KEYWORD, Text: "hide"},
				{Type: NEWLINE, Text: "\n"},
				{Type: EOF},
			},
		},
		{
			name:  "Comments run to end of line",
			input: "show # the whole sprite\nhide",
			expected: []Token{
				{Type: KEYWORD, Text: "show"},
				{Type: NEWLINE, Text: "\n"},
				{Type: KEYWORD, Text: "hide"},
				{Type: EOF},
			},
		},
		{
			name:  "Brackets and commas",
			input: "list inv = [1, \"two\"]",
			expected: []Token{
				{Type: KEYWORD, Text: "list"},
				{Type: IDENT, Text: "inv"},
				{Type: OP, Text: "="},
				{Type: LBRACKET, Text: "["},
				{Type: NUMBER, Text: "1"},
				{Type: COMMA, Text: ","},
				{Type: STRING, Text: "two"},
				{Type: RBRACKET, Text: "]"},
				{Type: EOF},
			},
		},
		{
			name:    "Unexpected character",
			input:   "set x to @",
			wantErr: "unexpected character",
		},
		{
			name:    "Unterminated string",
			input:   `say ("oops`,
			wantErr: "unterminated string",
		},
		{
			name:    "Invalid escape",
			input:   `say ("\q")`,
			wantErr: "invalid escape",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens, err := Lex(tt.input)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got tokens %v", tt.wantErr, tokens)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %q", tt.wantErr, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Lex failed: %v", err)
			}
			if got := kinds(tokens); !sameTokens(got, tt.expected) {
				t.Errorf("token mismatch\n got: %v\nwant: %v", got, tt.expected)
			}
		})
	}
}

func TestLexPositions(t *testing.T) {
	tokens, err := Lex("show\n  hide")
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	if tokens[0].Pos != (Position{Line: 1, Col: 1}) {
		t.Errorf("show at %v, want 1:1", tokens[0].Pos)
	}
	// tokens[1] is the newline
	if tokens[2].Pos != (Position{Line: 2, Col: 3}) {
		t.Errorf("hide at %v, want 2:3", tokens[2].Pos)
	}
}

func TestLexErrorIsDiagnostic(t *testing.T) {
	_, err := Lex("~")
	diag, ok := err.(*Diagnostic)
	if !ok {
		t.Fatalf("expected *Diagnostic, got %T", err)
	}
	if diag.Stage != StageLex {
		t.Errorf("stage = %v, want lex", diag.Stage)
	}
}
