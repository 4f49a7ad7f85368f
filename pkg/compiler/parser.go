package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// Parser consumes the flat token slice produced by the Lexer and builds a
// Project AST.
//
// Grammar summary:
//
//	project   = (target NEWLINE*)+ EOF
//	target    = ("sprite" name | "stage" name?) NEWLINE body "end"
//	body      = (varDecl | listDecl | costumeDecl | procedure | script)*
//	varDecl   = "var" name ("=" literal)?
//	listDecl  = "list" name ("=" "[" literal ("," literal)* "]")?
//	procedure = "define" "!"? name ("(" name ")")* NEWLINE stmts "end"
//	script    = "when" header NEWLINE stmts "end"?
//	header    = "flag clicked" | "this sprite clicked"
//	          | "i receive" bracket | bracket "key pressed"
//
// Expression parsing climbs precedence (low to high): or < and < comparisons
// < additive < multiplicative; unary '-' and 'not' bind tightest. An 'if'
// condition is scanned only up to the 'then' on the same line; 'wait until'
// and 'repeat until' conditions are scanned to end of line.
type Parser struct {
	tokens      []Token
	pos         int
	sourceLines []string
}

// NewParser wires the token stream together with the raw source used for
// error snippets.
func NewParser(tokens []Token, rawSource string) *Parser {
	return &Parser{tokens: tokens, sourceLines: strings.Split(rawSource, "\n")}
}

// Parse runs the parser over a full project source.
func Parse(tokens []Token, rawSource string) (*Project, error) {
	return NewParser(tokens, rawSource).ParseProject()
}

// errorf wraps a parse error with the source line where the token appears.
func (p *Parser) errorf(tok Token, format string, args ...any) error {
	d := &Diagnostic{Stage: StageParse, Msg: fmt.Sprintf(format, args...), Pos: tok.Pos}
	lineIdx := tok.Pos.Line - 1
	if lineIdx >= 0 && lineIdx < len(p.sourceLines) {
		d.Snippet = strings.TrimSpace(p.sourceLines[lineIdx])
	}
	return d
}

func (p *Parser) ParseProject() (*Project, error) {
	p.skipNewlines()
	start := p.peek().Pos
	project := &Project{Pos: start}
	for !p.atEnd() {
		tok := p.peek()
		switch {
		case p.matchKeyword("sprite"):
			target, err := p.parseSprite(tok.Pos)
			if err != nil {
				return nil, err
			}
			project.Targets = append(project.Targets, target)
		case p.matchKeyword("stage"):
			target, err := p.parseStage(tok.Pos)
			if err != nil {
				return nil, err
			}
			project.Targets = append(project.Targets, target)
		default:
			return nil, p.errorf(tok, "expected 'sprite' or 'stage'")
		}
		p.skipNewlines()
	}
	if len(project.Targets) == 0 {
		return nil, p.errorf(p.peek(), "expected at least one 'stage' or 'sprite' block")
	}
	return project, nil
}

func (p *Parser) parseSprite(pos Position) (*Target, error) {
	var name string
	if p.checkKeyword("stage") {
		p.advance()
		name = "Stage"
	} else {
		n, err := p.parseName()
		if err != nil {
			return nil, err
		}
		name = n
	}
	p.skipNewlines()
	return p.parseTargetBody(name, false, pos)
}

func (p *Parser) parseStage(pos Position) (*Target, error) {
	name := "Stage"
	if tok := p.peek(); tok.Type == IDENT || tok.Type == STRING {
		name = p.advance().Text
	}
	p.skipNewlines()
	return p.parseTargetBody(name, true, pos)
}

func (p *Parser) parseTargetBody(name string, isStage bool, pos Position) (*Target, error) {
	target := &Target{Pos: pos, Name: name, IsStage: isStage}
	for {
		p.skipNewlines()
		if p.atEnd() {
			return nil, p.errorf(p.peek(), "unterminated target block for '%s', expected 'end'", target.Name)
		}
		if p.matchKeyword("end") {
			break
		}
		switch {
		case p.checkKeyword("var"):
			decl, err := p.parseVarDecl()
			if err != nil {
				return nil, err
			}
			target.Variables = append(target.Variables, decl)
		case p.checkKeyword("list"):
			decl, err := p.parseListDecl()
			if err != nil {
				return nil, err
			}
			target.Lists = append(target.Lists, decl)
		case p.checkKeyword("costume"):
			start := p.advance().Pos
			path, err := p.expectType(STRING, "expected costume path string")
			if err != nil {
				return nil, err
			}
			target.Costumes = append(target.Costumes, &CostumeDecl{Pos: start, Path: path.Text})
		case p.checkKeyword("define"):
			start := p.advance().Pos
			proc, err := p.parseProcedure(start)
			if err != nil {
				return nil, err
			}
			target.Procedures = append(target.Procedures, proc)
		case p.checkKeyword("when"):
			start := p.advance().Pos
			script, err := p.parseEventScript(start)
			if err != nil {
				return nil, err
			}
			target.Scripts = append(target.Scripts, script)
		default:
			return nil, p.errorf(p.peek(), "expected 'var', 'list', 'costume', 'define', 'when', or 'end' inside target")
		}
	}
	return target, nil
}

func (p *Parser) parseVarDecl() (*VarDecl, error) {
	start := p.advance().Pos // "var"
	name, err := p.parseDeclName()
	if err != nil {
		return nil, err
	}
	decl := &VarDecl{Pos: start, Name: name}
	if p.matchOp("=") {
		lit, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		decl.Init = &lit
	}
	return decl, nil
}

func (p *Parser) parseListDecl() (*ListDecl, error) {
	start := p.advance().Pos // "list"
	name, err := p.parseDeclName()
	if err != nil {
		return nil, err
	}
	decl := &ListDecl{Pos: start, Name: name}
	if p.matchOp("=") {
		if _, err := p.expectType(LBRACKET, "expected '[' to open list initializer"); err != nil {
			return nil, err
		}
		decl.Init = []Literal{}
		for !p.check(RBRACKET) {
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			decl.Init = append(decl.Init, lit)
			if !p.matchType(COMMA) {
				break
			}
		}
		if _, err := p.expectType(RBRACKET, "expected ']' to close list initializer"); err != nil {
			return nil, err
		}
	}
	return decl, nil
}

// parseLiteral reads one initializer value. A bare identifier (or keyword)
// is treated as a string literal, never resolved as a reference.
func (p *Parser) parseLiteral() (Literal, error) {
	neg := false
	if p.checkOp("-") {
		p.advance()
		neg = true
	}
	tok := p.peek()
	switch tok.Type {
	case NUMBER:
		p.advance()
		n, _ := strconv.ParseFloat(tok.Text, 64)
		if neg {
			n = -n
		}
		return Literal{IsNumber: true, Num: n}, nil
	case STRING, IDENT, KEYWORD:
		if neg {
			return Literal{}, p.errorf(tok, "'-' must be followed by a number in an initializer")
		}
		p.advance()
		return Literal{Str: tok.Text}, nil
	}
	return Literal{}, p.errorf(tok, "expected literal initializer value")
}

func (p *Parser) parseProcedure(pos Position) (*Procedure, error) {
	warp := false
	if p.checkOp("!") {
		p.advance()
		warp = true
	}
	name, err := p.parseName()
	if err != nil {
		return nil, err
	}
	proc := &Procedure{Pos: pos, Name: name, Warp: warp}
	for p.check(LPAREN) {
		p.advance()
		if p.check(RPAREN) {
			return nil, p.errorf(p.peek(), "empty parameter declaration is not allowed")
		}
		param, err := p.parseDeclName()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(RPAREN, "expected ')' after parameter name"); err != nil {
			return nil, err
		}
		proc.Params = append(proc.Params, param)
	}
	p.skipNewlines()
	body, err := p.parseStatementBlock("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end", "expected 'end' to close procedure definition"); err != nil {
		return nil, err
	}
	proc.Body = body
	return proc, nil
}

func (p *Parser) parseEventScript(pos Position) (*EventScript, error) {
	script := &EventScript{Pos: pos}
	switch {
	case p.matchKeyword("flag"):
		if err := p.expectKeyword("clicked", "expected 'clicked' after 'when flag'"); err != nil {
			return nil, err
		}
		script.Kind = EventFlagClicked
	case p.matchKeyword("this"):
		if err := p.expectKeyword("sprite", "expected 'sprite' in 'when this sprite clicked'"); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("clicked", "expected 'clicked' in 'when this sprite clicked'"); err != nil {
			return nil, err
		}
		script.Kind = EventSpriteClicked
	case p.matchKeyword("i"):
		if err := p.expectKeyword("receive", "expected 'receive' after 'when I'"); err != nil {
			return nil, err
		}
		msg, err := p.parseBracketText()
		if err != nil {
			return nil, err
		}
		if msg == "" {
			return nil, p.errorf(p.peek(), "broadcast message cannot be empty")
		}
		script.Kind = EventMessage
		script.Name = msg
	case p.check(LBRACKET):
		key, err := p.parseBracketText()
		if err != nil {
			return nil, err
		}
		if key == "" {
			return nil, p.errorf(p.peek(), "key name cannot be empty")
		}
		if err := p.expectKeyword("key", "expected 'key' in 'when [key] key pressed'"); err != nil {
			return nil, err
		}
		if !p.matchWord("pressed") && !p.matchWord("pressed?") {
			return nil, p.errorf(p.peek(), "expected 'pressed' in 'when [key] key pressed'")
		}
		script.Kind = EventKeyPressed
		script.Name = key
	default:
		return nil, p.errorf(p.peek(), "unknown event header after 'when'")
	}
	p.skipNewlines()
	body, err := p.parseStatementBlock("when", "define", "var", "list", "costume", "end")
	if err != nil {
		return nil, err
	}
	script.Body = body
	if p.checkKeyword("end") && p.endBelongsToScript() {
		p.advance()
	}
	return script, nil
}

// endBelongsToScript decides whether an 'end' after a script body closes the
// script or the enclosing target. The target keeps it when the next
// meaningful token starts another target or is EOF.
func (p *Parser) endBelongsToScript() bool {
	idx := p.pos + 1
	for idx < len(p.tokens) && p.tokens[idx].Type == NEWLINE {
		idx++
	}
	if idx >= len(p.tokens) {
		return false
	}
	tok := p.tokens[idx]
	if tok.Type == EOF {
		return false
	}
	if tok.Type == KEYWORD && (tok.Text == "sprite" || tok.Text == "stage") {
		return false
	}
	return true
}

func (p *Parser) parseStatementBlock(untilKeywords ...string) ([]Stmt, error) {
	stop := make(map[string]bool, len(untilKeywords))
	for _, kw := range untilKeywords {
		stop[kw] = true
	}
	var stmts []Stmt
	for {
		p.skipNewlines()
		if p.atEnd() {
			break
		}
		tok := p.peek()
		if tok.Type == KEYWORD && stop[tok.Text] {
			break
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func (p *Parser) parseStatement() (Stmt, error) {
	tok := p.peek()
	if tok.Type == KEYWORD {
		switch tok.Text {
		case "broadcast":
			return p.parseBroadcastStmt()
		case "set":
			return p.parseSetStmt()
		case "change":
			return p.parseChangeStmt()
		case "move":
			return p.parseMoveStmt()
		case "say":
			return p.parseSayStmt()
		case "think":
			return p.parseUnaryCmd(CmdThink, "think")
		case "repeat":
			return p.parseRepeatStmt()
		case "while":
			return p.parseWhileStmt()
		case "for":
			return p.parseForEachStmt()
		case "forever":
			return p.parseForeverStmt()
		case "if":
			if p.wordAt(1) == "on" && p.wordAt(2) == "edge" && p.wordAt(3) == "bounce" {
				pos := p.advance().Pos
				p.advance() // on
				p.advance() // edge
				p.advance() // bounce
				return &Command{Pos: pos, Op: CmdIfOnEdgeBounce}, nil
			}
			return p.parseIfStmt()
		case "turn":
			return p.parseTurnStmt()
		case "go":
			return p.parseGoStmt()
		case "point":
			pos := p.advance().Pos
			if err := p.expectKeyword("in", "expected 'in' after 'point'"); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("direction", "expected 'direction' after 'point in'"); err != nil {
				return nil, err
			}
			dir, err := p.parseWrappedExpression()
			if err != nil {
				return nil, err
			}
			return &Command{Pos: pos, Op: CmdPointDirection, Args: []Expr{dir}}, nil
		case "show":
			return &Command{Pos: p.advance().Pos, Op: CmdShow}, nil
		case "hide":
			return &Command{Pos: p.advance().Pos, Op: CmdHide}, nil
		case "next":
			pos := p.advance().Pos
			if p.matchKeyword("costume") {
				return &Command{Pos: pos, Op: CmdNextCostume}, nil
			}
			if p.matchKeyword("backdrop") {
				return &Command{Pos: pos, Op: CmdNextBackdrop}, nil
			}
			return nil, p.errorf(p.peek(), "expected 'costume' or 'backdrop' after 'next'")
		case "wait":
			return p.parseWaitStmt()
		case "stop":
			pos := p.advance().Pos
			option, err := p.parseWrappedExpression()
			if err != nil {
				return nil, err
			}
			return &Stop{Pos: pos, Option: option}, nil
		case "ask":
			return p.parseUnaryCmd(CmdAsk, "ask")
		case "reset":
			pos := p.advance().Pos
			if err := p.expectKeyword("timer", "expected 'timer' after 'reset'"); err != nil {
				return nil, err
			}
			return &Command{Pos: pos, Op: CmdResetTimer}, nil
		case "pen":
			pos := p.advance().Pos
			if p.matchKeyword("down") {
				return &Command{Pos: pos, Op: CmdPenDown}, nil
			}
			if p.matchKeyword("up") {
				return &Command{Pos: pos, Op: CmdPenUp}, nil
			}
			return nil, p.errorf(p.peek(), "expected 'down' or 'up' after 'pen'")
		case "erase":
			pos := p.advance().Pos
			if err := p.expectKeyword("all", "expected 'all' after 'erase'"); err != nil {
				return nil, err
			}
			return &Command{Pos: pos, Op: CmdPenClear}, nil
		case "stamp":
			return &Command{Pos: p.advance().Pos, Op: CmdPenStamp}, nil
		case "add":
			return p.parseAddToListStmt()
		case "delete":
			return p.parseDeleteListStmt()
		case "insert":
			return p.parseInsertListStmt()
		case "replace":
			return p.parseReplaceListStmt()
		}
	}
	if tok.Type == IDENT {
		return p.parseCallStmt()
	}
	return nil, p.errorf(tok, "unknown statement")
}

func (p *Parser) parseBroadcastStmt() (Stmt, error) {
	pos := p.advance().Pos
	wait := false
	if p.matchKeyword("and") {
		if err := p.expectKeyword("wait", "expected 'wait' after 'broadcast and'"); err != nil {
			return nil, err
		}
		wait = true
	}
	msg, err := p.parseBracketText()
	if err != nil {
		return nil, err
	}
	if msg == "" {
		return nil, p.errorf(p.peek(), "broadcast message cannot be empty")
	}
	return &Broadcast{Pos: pos, Message: msg, Wait: wait}, nil
}

func (p *Parser) parseSetStmt() (Stmt, error) {
	pos := p.advance().Pos
	switch {
	case p.matchKeyword("x"):
		return p.finishKeywordCmd(pos, CmdSetX, "to", "expected 'to' in 'set x to'")
	case p.matchKeyword("y"):
		return p.finishKeywordCmd(pos, CmdSetY, "to", "expected 'to' in 'set y to'")
	case p.matchKeyword("size"):
		return p.finishKeywordCmd(pos, CmdSetSize, "to", "expected 'to' in 'set size to'")
	case p.matchKeyword("pen"):
		return p.parsePenValueStmt(pos, false)
	}
	name, err := p.parseVariableField()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("to", "expected 'to' in set statement"); err != nil {
		return nil, err
	}
	value, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &SetVar{Pos: pos, Name: name, Value: value}, nil
}

func (p *Parser) parseChangeStmt() (Stmt, error) {
	pos := p.advance().Pos
	switch {
	case p.matchKeyword("x"):
		return p.finishKeywordCmd(pos, CmdChangeX, "by", "expected 'by' in 'change x by'")
	case p.matchKeyword("y"):
		return p.finishKeywordCmd(pos, CmdChangeY, "by", "expected 'by' in 'change y by'")
	case p.matchKeyword("size"):
		return p.finishKeywordCmd(pos, CmdChangeSize, "by", "expected 'by' in 'change size by'")
	case p.matchKeyword("pen"):
		return p.parsePenValueStmt(pos, true)
	}
	name, err := p.parseVariableField()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("by", "expected 'by' in change statement"); err != nil {
		return nil, err
	}
	delta, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &ChangeVar{Pos: pos, Name: name, Delta: delta}, nil
}

func (p *Parser) finishKeywordCmd(pos Position, op CmdOp, kw, msg string) (Stmt, error) {
	if err := p.expectKeyword(kw, msg); err != nil {
		return nil, err
	}
	value, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &Command{Pos: pos, Op: op, Args: []Expr{value}}, nil
}

func (p *Parser) parsePenValueStmt(pos Position, change bool) (Stmt, error) {
	param, err := p.parsePenParamName()
	if err != nil {
		return nil, err
	}
	connective, msg := "to", "expected 'to' in 'set pen "+param+" to'"
	if change {
		connective, msg = "by", "expected 'by' in 'change pen "+param+" by'"
	}
	if param == "size" {
		if err := p.expectKeyword(connective, msg); err != nil {
			return nil, err
		}
		value, err := p.parseWrappedExpression()
		if err != nil {
			return nil, err
		}
		op := CmdSetPenSize
		if change {
			op = CmdChangePenSize
		}
		return &Command{Pos: pos, Op: op, Args: []Expr{value}}, nil
	}
	if !isPenColorParam(param) {
		return nil, p.errorf(p.peek(), "unknown pen parameter, use size/color/saturation/brightness/transparency")
	}
	if err := p.expectKeyword(connective, msg); err != nil {
		return nil, err
	}
	value, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &PenParam{Pos: pos, Param: param, Change: change, Value: value}, nil
}

func (p *Parser) parsePenParamName() (string, error) {
	tok := p.peek()
	if tok.Type == KEYWORD {
		p.advance()
		return tok.Text, nil
	}
	if tok.Type == IDENT {
		p.advance()
		return strings.ToLower(tok.Text), nil
	}
	return "", p.errorf(tok, "expected pen parameter name")
}

func isPenColorParam(name string) bool {
	switch name {
	case "color", "saturation", "brightness", "transparency":
		return true
	}
	return false
}

func (p *Parser) parseMoveStmt() (Stmt, error) {
	pos := p.advance().Pos
	steps, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if !p.matchKeyword("steps") && p.check(LBRACKET) {
		unit, err := p.parseBracketText()
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(unit, "steps") {
			return nil, p.errorf(p.peek(), "expected 'steps' or '[steps]' after move amount")
		}
	}
	return &Command{Pos: pos, Op: CmdMove, Args: []Expr{steps}}, nil
}

func (p *Parser) parseSayStmt() (Stmt, error) {
	pos := p.advance().Pos
	message, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if p.matchKeyword("for") {
		duration, err := p.parseWrappedExpression()
		if err != nil {
			return nil, err
		}
		if !p.matchKeyword("seconds") && p.check(LBRACKET) {
			unit, err := p.parseBracketText()
			if err != nil {
				return nil, err
			}
			if !strings.EqualFold(unit, "seconds") {
				return nil, p.errorf(p.peek(), "expected 'seconds' or '[seconds]' after say duration")
			}
		}
		return &Command{Pos: pos, Op: CmdSayFor, Args: []Expr{message, duration}}, nil
	}
	return &Command{Pos: pos, Op: CmdSay, Args: []Expr{message}}, nil
}

func (p *Parser) parseUnaryCmd(op CmdOp, kw string) (Stmt, error) {
	pos := p.advance().Pos
	arg, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &Command{Pos: pos, Op: op, Args: []Expr{arg}}, nil
}

func (p *Parser) parseTurnStmt() (Stmt, error) {
	pos := p.advance().Pos
	if p.matchKeyword("right") {
		degrees, err := p.parseWrappedExpression()
		if err != nil {
			return nil, err
		}
		return &Command{Pos: pos, Op: CmdTurnRight, Args: []Expr{degrees}}, nil
	}
	if p.matchKeyword("left") {
		degrees, err := p.parseWrappedExpression()
		if err != nil {
			return nil, err
		}
		return &Command{Pos: pos, Op: CmdTurnLeft, Args: []Expr{degrees}}, nil
	}
	return nil, p.errorf(p.peek(), "expected 'right' or 'left' after 'turn'")
}

func (p *Parser) parseGoStmt() (Stmt, error) {
	pos := p.advance().Pos
	if err := p.expectKeyword("to", "expected 'to' after 'go'"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("x", "expected 'x' in 'go to x ... y ...'"); err != nil {
		return nil, err
	}
	x, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("y", "expected 'y' in 'go to x ... y ...'"); err != nil {
		return nil, err
	}
	y, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &Command{Pos: pos, Op: CmdGoToXY, Args: []Expr{x, y}}, nil
}

func (p *Parser) parseRepeatStmt() (Stmt, error) {
	pos := p.advance().Pos
	if p.matchKeyword("until") {
		cond, err := p.parseConditionUntilNewline(pos, "repeat until")
		if err != nil {
			return nil, err
		}
		p.skipNewlines()
		body, err := p.parseStatementBlock("end")
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("end", "expected 'end' to close repeat-until block"); err != nil {
			return nil, err
		}
		return &RepeatUntil{Pos: pos, Cond: cond, Body: body}, nil
	}
	times, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	body, err := p.parseStatementBlock("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end", "expected 'end' to close repeat block"); err != nil {
		return nil, err
	}
	return &Repeat{Pos: pos, Times: times, Body: body}, nil
}

func (p *Parser) parseWhileStmt() (Stmt, error) {
	pos := p.advance().Pos
	cond, err := p.parseConditionUntilNewline(pos, "while")
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	body, err := p.parseStatementBlock("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end", "expected 'end' to close while block"); err != nil {
		return nil, err
	}
	return &While{Pos: pos, Cond: cond, Body: body}, nil
}

func (p *Parser) parseForEachStmt() (Stmt, error) {
	pos := p.advance().Pos
	if err := p.expectKeyword("each", "expected 'each' after 'for'"); err != nil {
		return nil, err
	}
	name, err := p.parseVariableField()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("in", "expected 'in' in 'for each [var] in (...)'"); err != nil {
		return nil, err
	}
	value, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	body, err := p.parseStatementBlock("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end", "expected 'end' to close for-each block"); err != nil {
		return nil, err
	}
	return &ForEach{Pos: pos, Var: name, Value: value, Body: body}, nil
}

func (p *Parser) parseForeverStmt() (Stmt, error) {
	pos := p.advance().Pos
	p.skipNewlines()
	body, err := p.parseStatementBlock("end")
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("end", "expected 'end' to close forever block"); err != nil {
		return nil, err
	}
	return &Forever{Pos: pos, Body: body}, nil
}

func (p *Parser) parseWaitStmt() (Stmt, error) {
	pos := p.advance().Pos
	if p.matchKeyword("until") {
		cond, err := p.parseConditionUntilNewline(pos, "wait until")
		if err != nil {
			return nil, err
		}
		return &WaitUntil{Pos: pos, Cond: cond}, nil
	}
	duration, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &Command{Pos: pos, Op: CmdWait, Args: []Expr{duration}}, nil
}

// parseIfStmt scans the condition only up to the 'then' on the same logical
// line; a condition cannot span lines. A '<...>' wrapper around the
// condition is allowed and stripped.
func (p *Parser) parseIfStmt() (Stmt, error) {
	pos := p.advance().Pos
	condTokens, err := p.collectUntilKeyword("then")
	if err != nil {
		return nil, err
	}
	if len(condTokens) == 0 {
		return nil, p.errorf(p.peek(), "expected condition after 'if'")
	}
	condTokens, err = p.stripAngleWrapper(condTokens, true)
	if err != nil {
		return nil, err
	}
	cond, err := p.parseExpressionFromTokens(condTokens)
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("then", "expected 'then' in if statement"); err != nil {
		return nil, err
	}
	p.skipNewlines()
	thenBody, err := p.parseStatementBlock("else", "end")
	if err != nil {
		return nil, err
	}
	var elseBody []Stmt
	if p.matchKeyword("else") {
		p.skipNewlines()
		elseBody, err = p.parseStatementBlock("end")
		if err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("end", "expected 'end' to close if statement"); err != nil {
		return nil, err
	}
	return &If{Pos: pos, Cond: cond, Then: thenBody, Else: elseBody}, nil
}

func (p *Parser) parseConditionUntilNewline(pos Position, context string) (Expr, error) {
	condTokens, err := p.collectUntilNewline()
	if err != nil {
		return nil, err
	}
	if len(condTokens) == 0 {
		return nil, &Diagnostic{Stage: StageParse, Msg: "expected condition after '" + context + "'", Pos: pos}
	}
	condTokens, err = p.stripAngleWrapper(condTokens, false)
	if err != nil {
		return nil, err
	}
	return p.parseExpressionFromTokens(condTokens)
}

// stripAngleWrapper removes a '<...>' pair around a collected condition.
// When required is set a lone opening '<' without its closer is an error.
func (p *Parser) stripAngleWrapper(tokens []Token, required bool) ([]Token, error) {
	if len(tokens) < 2 || tokens[0].Type != OP || tokens[0].Text != "<" {
		return tokens, nil
	}
	last := tokens[len(tokens)-1]
	if last.Type == OP && last.Text == ">" {
		return tokens[1 : len(tokens)-1], nil
	}
	if required {
		return nil, p.errorf(tokens[0], "expected condition enclosed in '<...>' before 'then'")
	}
	return tokens, nil
}

func (p *Parser) parseAddToListStmt() (Stmt, error) {
	pos := p.advance().Pos
	item, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("to", "expected 'to' in list add statement"); err != nil {
		return nil, err
	}
	list, err := p.parseListField()
	if err != nil {
		return nil, err
	}
	return &AddToList{Pos: pos, List: list, Item: item}, nil
}

func (p *Parser) parseDeleteListStmt() (Stmt, error) {
	pos := p.advance().Pos
	if p.matchKeyword("all") {
		if err := p.expectKeyword("of", "expected 'of' in 'delete all of [list]'"); err != nil {
			return nil, err
		}
		list, err := p.parseListField()
		if err != nil {
			return nil, err
		}
		return &DeleteAllOfList{Pos: pos, List: list}, nil
	}
	index, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("of", "expected 'of' in list delete statement"); err != nil {
		return nil, err
	}
	list, err := p.parseListField()
	if err != nil {
		return nil, err
	}
	return &DeleteOfList{Pos: pos, List: list, Index: index}, nil
}

func (p *Parser) parseInsertListStmt() (Stmt, error) {
	pos := p.advance().Pos
	item, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("at", "expected 'at' in list insert statement"); err != nil {
		return nil, err
	}
	index, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("of", "expected 'of' in list insert statement"); err != nil {
		return nil, err
	}
	list, err := p.parseListField()
	if err != nil {
		return nil, err
	}
	return &InsertAtList{Pos: pos, List: list, Item: item, Index: index}, nil
}

func (p *Parser) parseReplaceListStmt() (Stmt, error) {
	pos := p.advance().Pos
	if err := p.expectKeyword("item", "expected 'item' after 'replace'"); err != nil {
		return nil, err
	}
	index, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("of", "expected 'of' in list replace statement"); err != nil {
		return nil, err
	}
	list, err := p.parseListField()
	if err != nil {
		return nil, err
	}
	p.skipNewlines()
	if err := p.expectKeyword("with", "expected 'with' in list replace statement"); err != nil {
		return nil, err
	}
	item, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &ReplaceItemOfList{Pos: pos, List: list, Index: index, Item: item}, nil
}

func (p *Parser) parseCallStmt() (Stmt, error) {
	tok := p.advance()
	call := &Call{Pos: tok.Pos, Name: tok.Text}
	for p.check(LPAREN) {
		arg, err := p.parseWrappedExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	return call, nil
}

// parseWrappedExpression reads a mandatory '(expr)' operand.
func (p *Parser) parseWrappedExpression() (Expr, error) {
	if _, err := p.expectType(LPAREN, "expected '('"); err != nil {
		return nil, err
	}
	expr, err := p.parseExpression([]TokenType{RPAREN}, 1)
	if err != nil {
		return nil, err
	}
	if _, err := p.expectType(RPAREN, "expected ')' after expression"); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseExpressionFromTokens parses a detached token run (a collected
// condition) with a fresh sub-parser.
func (p *Parser) parseExpressionFromTokens(tokens []Token) (Expr, error) {
	pos := Position{Line: 1, Col: 1}
	if len(tokens) > 0 {
		pos = tokens[len(tokens)-1].Pos
	}
	tokens = append(append([]Token{}, tokens...), Token{Type: EOF, Pos: pos})
	sub := &Parser{tokens: tokens, sourceLines: p.sourceLines}
	expr, err := sub.parseExpression([]TokenType{EOF}, 1)
	if err != nil {
		return nil, err
	}
	if _, err := sub.expectType(EOF, "unexpected trailing tokens in expression"); err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Parser) parseExpression(stops []TokenType, minPrec int) (Expr, error) {
	left, err := p.parseUnary(stops)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tokenTypeIn(tok.Type, stops) {
			break
		}
		op, ok := p.asOperator(tok)
		if !ok {
			break
		}
		prec := precedenceOf(op)
		if prec == 0 || prec < minPrec {
			break
		}
		p.advance()
		right, err := p.parseExpression(stops, prec+1)
		if err != nil {
			return nil, err
		}
		left = &Binary{Pos: tok.Pos, Op: op, L: left, R: right}
	}
	return left, nil
}

func (p *Parser) parseUnary(stops []TokenType) (Expr, error) {
	tok := p.peek()
	if tok.Type == OP && tok.Text == "-" {
		p.advance()
		operand, err := p.parseUnary(stops)
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: tok.Pos, Op: "-", X: operand}, nil
	}
	if tok.Type == KEYWORD && tok.Text == "not" {
		p.advance()
		operand, err := p.parseUnary(stops)
		if err != nil {
			return nil, err
		}
		return &Unary{Pos: tok.Pos, Op: "not", X: operand}, nil
	}
	return p.parsePrimary(stops)
}

func (p *Parser) parsePrimary(stops []TokenType) (Expr, error) {
	tok := p.peek()
	if tokenTypeIn(tok.Type, stops) {
		return nil, p.errorf(tok, "expected expression")
	}
	if tok.Type == KEYWORD {
		switch tok.Text {
		case "pick":
			return p.parsePickRandom()
		case "item":
			return p.parseItemOfList()
		case "length":
			return p.parseListLengthExpr()
		case "key":
			return p.parseKeyPressedExpr()
		case "floor", "round":
			pos := p.advance().Pos
			x, err := p.parseWrappedExpression()
			if err != nil {
				return nil, err
			}
			return &MathFunc{Pos: pos, Op: tok.Text, X: x}, nil
		case "answer":
			return &Reporter{Pos: p.advance().Pos, Kind: "answer"}, nil
		case "timer":
			return &Reporter{Pos: p.advance().Pos, Kind: "timer"}, nil
		case "mouse":
			pos := p.advance().Pos
			if p.matchKeyword("x") {
				return &Reporter{Pos: pos, Kind: "mouse_x"}, nil
			}
			if p.matchKeyword("y") {
				return &Reporter{Pos: pos, Kind: "mouse_y"}, nil
			}
			return nil, p.errorf(p.peek(), "expected 'x' or 'y' after 'mouse'")
		}
	}
	switch tok.Type {
	case NUMBER:
		p.advance()
		n, _ := strconv.ParseFloat(tok.Text, 64)
		return &NumberLit{Pos: tok.Pos, Value: n}, nil
	case STRING:
		p.advance()
		return &StringLit{Pos: tok.Pos, Value: tok.Text}, nil
	case IDENT:
		if p.peekAt(1).Type == LPAREN {
			return nil, p.errorf(tok, "procedure call '%s' cannot appear inside an expression", tok.Text)
		}
		p.advance()
		return &VarRef{Pos: tok.Pos, Name: tok.Text}, nil
	case KEYWORD:
		// A stray keyword in expression position reads as a variable name;
		// semantic analysis decides whether it resolves.
		p.advance()
		return &VarRef{Pos: tok.Pos, Name: tok.Text}, nil
	case LPAREN:
		p.advance()
		inner, err := p.parseExpression([]TokenType{RPAREN}, 1)
		if err != nil {
			return nil, err
		}
		if _, err := p.expectType(RPAREN, "expected ')' after grouped expression"); err != nil {
			return nil, err
		}
		return &Grouping{Pos: tok.Pos, X: inner}, nil
	case LBRACKET:
		name, err := p.parseVariableField()
		if err != nil {
			return nil, err
		}
		if p.matchKeyword("contains") {
			item, err := p.parseWrappedExpression()
			if err != nil {
				return nil, err
			}
			return &ListContains{Pos: tok.Pos, List: name, Item: item}, nil
		}
		return &VarRef{Pos: tok.Pos, Name: name}, nil
	}
	return nil, p.errorf(tok, "expected expression")
}

func (p *Parser) parsePickRandom() (Expr, error) {
	pos := p.advance().Pos
	if err := p.expectKeyword("random", "expected 'random' after 'pick'"); err != nil {
		return nil, err
	}
	from, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("to", "expected 'to' in 'pick random ... to ...'"); err != nil {
		return nil, err
	}
	to, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	return &PickRandom{Pos: pos, From: from, To: to}, nil
}

func (p *Parser) parseItemOfList() (Expr, error) {
	pos := p.advance().Pos
	index, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("of", "expected 'of' in 'item (...) of [list]'"); err != nil {
		return nil, err
	}
	list, err := p.parseListField()
	if err != nil {
		return nil, err
	}
	return &ListItem{Pos: pos, List: list, Index: index}, nil
}

func (p *Parser) parseListLengthExpr() (Expr, error) {
	pos := p.advance().Pos
	if err := p.expectKeyword("of", "expected 'of' in 'length of ...'"); err != nil {
		return nil, err
	}
	if !p.check(LBRACKET) {
		return nil, p.errorf(p.peek(), "expected list reference after 'length of'")
	}
	list, err := p.parseListField()
	if err != nil {
		return nil, err
	}
	return &ListLength{Pos: pos, List: list}, nil
}

func (p *Parser) parseKeyPressedExpr() (Expr, error) {
	pos := p.advance().Pos
	key, err := p.parseWrappedExpression()
	if err != nil {
		return nil, err
	}
	if !p.matchWord("pressed") && !p.matchWord("pressed?") {
		return nil, p.errorf(p.peek(), "expected 'pressed?' in key sensing expression")
	}
	return &KeyPressed{Pos: pos, Key: key}, nil
}

// parseVariableField reads a '[...]' field naming a variable. Interior
// tokens join with single spaces; a leading 'var' word is stripped.
func (p *Parser) parseVariableField() (string, error) {
	contents, err := p.parseBracketTokens()
	if err != nil {
		return "", err
	}
	if len(contents) > 0 && strings.EqualFold(contents[0].Text, "var") {
		contents = contents[1:]
	}
	name := joinTokenText(contents)
	if name == "" {
		return "", p.errorf(p.peek(), "variable name cannot be empty")
	}
	return name, nil
}

// parseListField reads a '[...]' field naming a list.
func (p *Parser) parseListField() (string, error) {
	contents, err := p.parseBracketTokens()
	if err != nil {
		return "", err
	}
	name := joinTokenText(contents)
	if name == "" {
		return "", p.errorf(p.peek(), "list name cannot be empty")
	}
	return name, nil
}

func (p *Parser) parseBracketText() (string, error) {
	contents, err := p.parseBracketTokens()
	if err != nil {
		return "", err
	}
	return joinTokenText(contents), nil
}

func (p *Parser) parseBracketTokens() ([]Token, error) {
	if _, err := p.expectType(LBRACKET, "expected '['"); err != nil {
		return nil, err
	}
	var tokens []Token
	for !p.atEnd() && !p.check(RBRACKET) {
		if p.check(NEWLINE) {
			return nil, p.errorf(p.peek(), "unexpected newline in bracket expression")
		}
		tokens = append(tokens, p.advance())
	}
	if _, err := p.expectType(RBRACKET, "expected ']'"); err != nil {
		return nil, err
	}
	return tokens, nil
}

func joinTokenText(tokens []Token) string {
	parts := make([]string, 0, len(tokens))
	for _, t := range tokens {
		parts = append(parts, t.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func (p *Parser) collectUntilKeyword(keyword string) ([]Token, error) {
	var out []Token
	parens, brackets := 0, 0
	for !p.atEnd() {
		tok := p.peek()
		if tok.Type == KEYWORD && tok.Text == keyword && parens == 0 && brackets == 0 {
			break
		}
		switch tok.Type {
		case LPAREN:
			parens++
		case RPAREN:
			parens--
		case LBRACKET:
			brackets++
		case RBRACKET:
			brackets--
		}
		out = append(out, p.advance())
	}
	if parens != 0 || brackets != 0 {
		return nil, p.errorf(p.peek(), "unbalanced delimiters while reading condition")
	}
	return out, nil
}

func (p *Parser) collectUntilNewline() ([]Token, error) {
	var out []Token
	parens, brackets := 0, 0
	for !p.atEnd() {
		tok := p.peek()
		if tok.Type == NEWLINE && parens == 0 && brackets == 0 {
			break
		}
		switch tok.Type {
		case LPAREN:
			parens++
		case RPAREN:
			parens--
		case LBRACKET:
			brackets++
		case RBRACKET:
			brackets--
		}
		out = append(out, p.advance())
	}
	if parens != 0 || brackets != 0 {
		return nil, p.errorf(p.peek(), "unbalanced delimiters while reading condition")
	}
	return out, nil
}

func (p *Parser) parseName() (string, error) {
	tok := p.peek()
	if tok.Type == IDENT || tok.Type == STRING {
		p.advance()
		return tok.Text, nil
	}
	return "", p.errorf(tok, "expected name")
}

// parseDeclName also accepts keywords, so declarations may reuse reserved
// words as variable names.
func (p *Parser) parseDeclName() (string, error) {
	tok := p.peek()
	if tok.Type == IDENT || tok.Type == STRING || tok.Type == KEYWORD {
		p.advance()
		return tok.Text, nil
	}
	return "", p.errorf(tok, "expected name")
}

func (p *Parser) asOperator(tok Token) (string, bool) {
	if tok.Type == OP {
		return tok.Text, true
	}
	if tok.Type == KEYWORD && (tok.Text == "and" || tok.Text == "or") {
		return tok.Text, true
	}
	return "", false
}

func precedenceOf(op string) int {
	switch op {
	case "or":
		return 1
	case "and":
		return 2
	case "=", "==", "!=", "<", "<=", ">", ">=":
		return 3
	case "+", "-":
		return 4
	case "*", "/", "%":
		return 5
	}
	return 0
}

func tokenTypeIn(tt TokenType, set []TokenType) bool {
	for _, s := range set {
		if tt == s {
			return true
		}
	}
	return false
}

// peek returns the current token without consuming it.
func (p *Parser) peek() Token {
	if p.pos >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos]
}

// peekAt returns the token at the given offset from the current position.
func (p *Parser) peekAt(offset int) Token {
	if p.pos+offset >= len(p.tokens) {
		return Token{Type: EOF}
	}
	return p.tokens[p.pos+offset]
}

// wordAt returns the lowercased word at the given offset, or "" for tokens
// that have no word form.
func (p *Parser) wordAt(offset int) string {
	tok := p.peekAt(offset)
	switch tok.Type {
	case KEYWORD:
		return tok.Text
	case IDENT:
		return strings.ToLower(tok.Text)
	}
	return ""
}

// advance consumes and returns the current token.
func (p *Parser) advance() Token {
	tok := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return tok
}

func (p *Parser) check(tt TokenType) bool {
	return p.peek().Type == tt
}

func (p *Parser) checkKeyword(kw string) bool {
	tok := p.peek()
	return tok.Type == KEYWORD && tok.Text == kw
}

func (p *Parser) checkOp(op string) bool {
	tok := p.peek()
	return tok.Type == OP && tok.Text == op
}

func (p *Parser) matchType(tt TokenType) bool {
	if p.check(tt) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) matchKeyword(kw string) bool {
	if p.checkKeyword(kw) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) matchOp(op string) bool {
	if p.checkOp(op) {
		p.advance()
		return true
	}
	return false
}

// matchWord consumes the current token when its lowercased word form equals
// word ('pressed' lexes as a keyword, 'pressed?' as an identifier).
func (p *Parser) matchWord(word string) bool {
	if p.wordAt(0) == word {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectType(tt TokenType, msg string) (Token, error) {
	tok := p.peek()
	if tok.Type != tt {
		return Token{}, p.errorf(tok, "%s", msg)
	}
	p.advance()
	return tok, nil
}

func (p *Parser) expectKeyword(kw, msg string) error {
	tok := p.peek()
	if tok.Type != KEYWORD || tok.Text != kw {
		return p.errorf(tok, "%s", msg)
	}
	p.advance()
	return nil
}

func (p *Parser) skipNewlines() {
	for p.check(NEWLINE) {
		p.advance()
	}
}

func (p *Parser) atEnd() bool {
	return p.peek().Type == EOF
}
