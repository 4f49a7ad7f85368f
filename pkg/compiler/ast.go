package compiler

import "strings"

// Project is the AST root: an ordered list of targets.
type Project struct {
	Pos     Position
	Targets []*Target
}

// Target is a sprite or the stage, the unit owning declarations, procedures
// and event scripts.
type Target struct {
	Pos        Position
	Name       string
	IsStage    bool
	Variables  []*VarDecl
	Lists      []*ListDecl
	Costumes   []*CostumeDecl
	Procedures []*Procedure
	Scripts    []*EventScript
}

// Literal is a declaration initializer value. Bare identifiers in
// initializers become string literals, never references.
type Literal struct {
	IsNumber bool
	Num      float64
	Str      string
}

type VarDecl struct {
	Pos  Position
	Name string
	Init *Literal // nil: runtime default (zero)
}

type ListDecl struct {
	Pos  Position
	Name string
	Init []Literal // nil: empty list
}

type CostumeDecl struct {
	Pos  Position
	Path string
}

type Procedure struct {
	Pos    Position
	Name   string
	Params []string
	Warp   bool // run without screen refresh
	Body   []Stmt
}

// EventKind enumerates the closed set of script headers.
type EventKind int

const (
	EventFlagClicked EventKind = iota
	EventSpriteClicked
	EventMessage    // when I receive [msg]; Name holds the message
	EventKeyPressed // when [key] key pressed; Name holds the key
)

type EventScript struct {
	Pos  Position
	Kind EventKind
	Name string
	Body []Stmt
}

// Stmt is implemented by every statement node.
type Stmt interface {
	stmtNode()
	StmtPos() Position
}

// Expr is implemented by every expression node.
type Expr interface {
	exprNode()
	ExprPos() Position
}

// CmdOp tags a Command statement. Commands cover the fixed-arity opcode
// statements that carry no name fields; statements that reference a
// variable, list or procedure have dedicated node types below.
type CmdOp int

const (
	CmdMove CmdOp = iota
	CmdTurnRight
	CmdTurnLeft
	CmdGoToXY
	CmdSetX
	CmdChangeX
	CmdSetY
	CmdChangeY
	CmdPointDirection
	CmdIfOnEdgeBounce
	CmdSay
	CmdSayFor
	CmdThink
	CmdShow
	CmdHide
	CmdNextCostume
	CmdNextBackdrop
	CmdChangeSize
	CmdSetSize
	CmdWait
	CmdAsk
	CmdResetTimer
	CmdPenDown
	CmdPenUp
	CmdPenClear
	CmdPenStamp
	CmdSetPenSize
	CmdChangePenSize
)

type (
	// Command is a fixed-arity opcode statement (motion, looks, pen, timing).
	Command struct {
		Pos  Position
		Op   CmdOp
		Args []Expr
	}

	Broadcast struct {
		Pos     Position
		Message string
		Wait    bool
	}

	SetVar struct {
		Pos   Position
		Name  string // may be qualified Target.var
		Value Expr
	}

	ChangeVar struct {
		Pos   Position
		Name  string
		Delta Expr
	}

	// PenParam is set/change of a pen color parameter
	// (color, saturation, brightness, transparency).
	PenParam struct {
		Pos    Position
		Param  string
		Change bool // true: "change ... by", false: "set ... to"
		Value  Expr
	}

	Repeat struct {
		Pos   Position
		Times Expr
		Body  []Stmt
	}

	RepeatUntil struct {
		Pos  Position
		Cond Expr
		Body []Stmt
	}

	While struct {
		Pos  Position
		Cond Expr
		Body []Stmt
	}

	ForEach struct {
		Pos   Position
		Var   string
		Value Expr
		Body  []Stmt
	}

	Forever struct {
		Pos  Position
		Body []Stmt
	}

	If struct {
		Pos  Position
		Cond Expr
		Then []Stmt
		Else []Stmt
	}

	WaitUntil struct {
		Pos  Position
		Cond Expr
	}

	Stop struct {
		Pos    Position
		Option Expr
	}

	// Call is a procedure call statement, local or qualified Target.proc.
	Call struct {
		Pos  Position
		Name string
		Args []Expr
	}

	AddToList struct {
		Pos  Position
		List string
		Item Expr
	}

	DeleteOfList struct {
		Pos   Position
		List  string
		Index Expr
	}

	DeleteAllOfList struct {
		Pos  Position
		List string
	}

	InsertAtList struct {
		Pos   Position
		List  string
		Item  Expr
		Index Expr
	}

	ReplaceItemOfList struct {
		Pos   Position
		List  string
		Index Expr
		Item  Expr
	}
)

func (*Command) stmtNode()           {}
func (*Broadcast) stmtNode()         {}
func (*SetVar) stmtNode()            {}
func (*ChangeVar) stmtNode()         {}
func (*PenParam) stmtNode()          {}
func (*Repeat) stmtNode()            {}
func (*RepeatUntil) stmtNode()       {}
func (*While) stmtNode()             {}
func (*ForEach) stmtNode()           {}
func (*Forever) stmtNode()           {}
func (*If) stmtNode()                {}
func (*WaitUntil) stmtNode()         {}
func (*Stop) stmtNode()              {}
func (*Call) stmtNode()              {}
func (*AddToList) stmtNode()         {}
func (*DeleteOfList) stmtNode()      {}
func (*DeleteAllOfList) stmtNode()   {}
func (*InsertAtList) stmtNode()      {}
func (*ReplaceItemOfList) stmtNode() {}

func (s *Command) StmtPos() Position           { return s.Pos }
func (s *Broadcast) StmtPos() Position         { return s.Pos }
func (s *SetVar) StmtPos() Position            { return s.Pos }
func (s *ChangeVar) StmtPos() Position         { return s.Pos }
func (s *PenParam) StmtPos() Position          { return s.Pos }
func (s *Repeat) StmtPos() Position            { return s.Pos }
func (s *RepeatUntil) StmtPos() Position       { return s.Pos }
func (s *While) StmtPos() Position             { return s.Pos }
func (s *ForEach) StmtPos() Position           { return s.Pos }
func (s *Forever) StmtPos() Position           { return s.Pos }
func (s *If) StmtPos() Position                { return s.Pos }
func (s *WaitUntil) StmtPos() Position         { return s.Pos }
func (s *Stop) StmtPos() Position              { return s.Pos }
func (s *Call) StmtPos() Position              { return s.Pos }
func (s *AddToList) StmtPos() Position         { return s.Pos }
func (s *DeleteOfList) StmtPos() Position      { return s.Pos }
func (s *DeleteAllOfList) StmtPos() Position   { return s.Pos }
func (s *InsertAtList) StmtPos() Position      { return s.Pos }
func (s *ReplaceItemOfList) StmtPos() Position { return s.Pos }

type (
	NumberLit struct {
		Pos   Position
		Value float64
	}

	StringLit struct {
		Pos   Position
		Value string
	}

	// VarRef names a variable or procedure parameter; a dotted name is a
	// cross-target read (Target.var).
	VarRef struct {
		Pos  Position
		Name string
	}

	Grouping struct {
		Pos Position
		X   Expr
	}

	Unary struct {
		Pos Position
		Op  string // "-" or "not"
		X   Expr
	}

	Binary struct {
		Pos Position
		Op  string
		L   Expr
		R   Expr
	}

	PickRandom struct {
		Pos  Position
		From Expr
		To   Expr
	}

	ListItem struct {
		Pos   Position
		List  string
		Index Expr
	}

	ListLength struct {
		Pos  Position
		List string
	}

	ListContains struct {
		Pos  Position
		List string
		Item Expr
	}

	KeyPressed struct {
		Pos Position
		Key Expr
	}

	// Reporter is a zero-argument builtin: answer, timer, mouse_x, mouse_y.
	Reporter struct {
		Pos  Position
		Kind string
	}

	// MathFunc is a one-argument math builtin: floor, round.
	MathFunc struct {
		Pos Position
		Op  string
		X   Expr
	}
)

func (*NumberLit) exprNode()    {}
func (*StringLit) exprNode()    {}
func (*VarRef) exprNode()       {}
func (*Grouping) exprNode()     {}
func (*Unary) exprNode()        {}
func (*Binary) exprNode()       {}
func (*PickRandom) exprNode()   {}
func (*ListItem) exprNode()     {}
func (*ListLength) exprNode()   {}
func (*ListContains) exprNode() {}
func (*KeyPressed) exprNode()   {}
func (*Reporter) exprNode()     {}
func (*MathFunc) exprNode()     {}

func (e *NumberLit) ExprPos() Position    { return e.Pos }
func (e *StringLit) ExprPos() Position    { return e.Pos }
func (e *VarRef) ExprPos() Position       { return e.Pos }
func (e *Grouping) ExprPos() Position     { return e.Pos }
func (e *Unary) ExprPos() Position        { return e.Pos }
func (e *Binary) ExprPos() Position       { return e.Pos }
func (e *PickRandom) ExprPos() Position   { return e.Pos }
func (e *ListItem) ExprPos() Position     { return e.Pos }
func (e *ListLength) ExprPos() Position   { return e.Pos }
func (e *ListContains) ExprPos() Position { return e.Pos }
func (e *KeyPressed) ExprPos() Position   { return e.Pos }
func (e *Reporter) ExprPos() Position     { return e.Pos }
func (e *MathFunc) ExprPos() Position     { return e.Pos }

// SplitQualified splits a single-dotted Target.member name. Names with no
// dot, an empty side, or more than one dot are not qualified references.
func SplitQualified(name string) (targetName, member string, ok bool) {
	i := strings.IndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	rest := name[i+1:]
	if strings.ContainsRune(rest, '.') {
		return "", "", false
	}
	return name[:i], rest, true
}
