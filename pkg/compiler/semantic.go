package compiler

import (
	"fmt"
	"strings"
)

// Analyzer validates a parsed Project before code generation: name
// collisions, reference resolution, procedure call shapes, and the
// assignment rules around parameters and cross-sprite variables.
type Analyzer struct {
	project  *Project
	relaxed  bool
	warnings []Warning

	targets map[string]*Target // lowercased name
	scopes  map[*Target]*targetScope
}

type targetScope struct {
	vars  map[string]*VarDecl  // lowercased name
	lists map[string]*ListDecl // lowercased name
	procs map[string]*procInfo // lowercased name
}

type procInfo struct {
	decl *Procedure
	line int
}

// Analyze runs all semantic passes. The first error stops analysis;
// warnings accumulate and are returned alongside a nil error on success.
func Analyze(project *Project, relaxed bool) ([]Warning, error) {
	a := &Analyzer{
		project: project,
		relaxed: relaxed,
		targets: map[string]*Target{},
		scopes:  map[*Target]*targetScope{},
	}
	if err := a.collectTargets(); err != nil {
		return nil, err
	}
	for _, target := range project.Targets {
		if err := a.collectScope(target); err != nil {
			return nil, err
		}
	}
	for _, target := range project.Targets {
		if err := a.checkTarget(target); err != nil {
			return nil, err
		}
	}
	return a.warnings, nil
}

func semErr(pos Position, format string, args ...any) error {
	return &Diagnostic{Stage: StageSemantic, Msg: fmt.Sprintf(format, args...), Pos: pos}
}

func (a *Analyzer) collectTargets() error {
	stageCount := 0
	for _, target := range a.project.Targets {
		key := strings.ToLower(target.Name)
		if prev, ok := a.targets[key]; ok {
			return semErr(target.Pos, "duplicate target name '%s' (already declared as '%s')", target.Name, prev.Name)
		}
		a.targets[key] = target
		if target.IsStage {
			stageCount++
		}
	}
	if stageCount > 1 {
		return semErr(a.project.Pos, "project can declare at most one stage")
	}
	return nil
}

func (a *Analyzer) collectScope(target *Target) error {
	scope := &targetScope{
		vars:  map[string]*VarDecl{},
		lists: map[string]*ListDecl{},
		procs: map[string]*procInfo{},
	}
	a.scopes[target] = scope
	for _, decl := range target.Variables {
		key := strings.ToLower(decl.Name)
		if _, ok := scope.vars[key]; ok {
			return semErr(decl.Pos, "duplicate variable '%s' in %s", decl.Name, target.Name)
		}
		scope.vars[key] = decl
	}
	for _, decl := range target.Lists {
		key := strings.ToLower(decl.Name)
		if _, ok := scope.lists[key]; ok {
			return semErr(decl.Pos, "duplicate list '%s' in %s", decl.Name, target.Name)
		}
		if _, ok := scope.vars[key]; ok {
			return semErr(decl.Pos, "'%s' is declared as both a variable and a list in %s", decl.Name, target.Name)
		}
		scope.lists[key] = decl
	}
	for _, proc := range target.Procedures {
		key := strings.ToLower(proc.Name)
		if prev, ok := scope.procs[key]; ok {
			return semErr(proc.Pos, "duplicate procedure '%s' in %s (first defined on line %d)", proc.Name, target.Name, prev.line)
		}
		seen := map[string]bool{}
		for _, param := range proc.Params {
			pkey := strings.ToLower(param)
			if seen[pkey] {
				return semErr(proc.Pos, "duplicate parameter '%s' in procedure '%s'", param, proc.Name)
			}
			seen[pkey] = true
		}
		scope.procs[key] = &procInfo{decl: proc, line: proc.Pos.Line}
	}
	return nil
}

func (a *Analyzer) checkTarget(target *Target) error {
	for _, proc := range target.Procedures {
		params := map[string]bool{}
		for _, param := range proc.Params {
			params[strings.ToLower(param)] = true
		}
		if err := a.checkBody(target, proc.Body, params); err != nil {
			return err
		}
	}
	for _, script := range target.Scripts {
		if err := a.checkBody(target, script.Body, nil); err != nil {
			return err
		}
	}
	return nil
}

// checkBody walks statements. params holds the lowercased parameter names of
// the enclosing procedure, nil inside event scripts.
func (a *Analyzer) checkBody(target *Target, body []Stmt, params map[string]bool) error {
	for _, stmt := range body {
		if err := a.checkStmt(target, stmt, params); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) checkStmt(target *Target, stmt Stmt, params map[string]bool) error {
	switch s := stmt.(type) {
	case *Command:
		return a.checkExprs(target, s.Args, params)
	case *Broadcast:
		return nil
	case *SetVar:
		if err := a.checkAssignable(target, s.Name, s.Pos, params); err != nil {
			return err
		}
		return a.checkExpr(target, s.Value, params)
	case *ChangeVar:
		if err := a.checkAssignable(target, s.Name, s.Pos, params); err != nil {
			return err
		}
		return a.checkExpr(target, s.Delta, params)
	case *PenParam:
		return a.checkExpr(target, s.Value, params)
	case *Repeat:
		if err := a.checkExpr(target, s.Times, params); err != nil {
			return err
		}
		return a.checkBody(target, s.Body, params)
	case *RepeatUntil:
		if err := a.checkExpr(target, s.Cond, params); err != nil {
			return err
		}
		return a.checkBody(target, s.Body, params)
	case *While:
		if err := a.checkExpr(target, s.Cond, params); err != nil {
			return err
		}
		return a.checkBody(target, s.Body, params)
	case *ForEach:
		if err := a.checkAssignable(target, s.Var, s.Pos, params); err != nil {
			return err
		}
		if err := a.checkExpr(target, s.Value, params); err != nil {
			return err
		}
		return a.checkBody(target, s.Body, params)
	case *Forever:
		return a.checkBody(target, s.Body, params)
	case *If:
		if err := a.checkExpr(target, s.Cond, params); err != nil {
			return err
		}
		if err := a.checkBody(target, s.Then, params); err != nil {
			return err
		}
		return a.checkBody(target, s.Else, params)
	case *WaitUntil:
		return a.checkExpr(target, s.Cond, params)
	case *Stop:
		return a.checkExpr(target, s.Option, params)
	case *Call:
		return a.checkCall(target, s, params)
	case *AddToList:
		if err := a.checkListRef(target, s.List, s.Pos); err != nil {
			return err
		}
		return a.checkExpr(target, s.Item, params)
	case *DeleteOfList:
		if err := a.checkListRef(target, s.List, s.Pos); err != nil {
			return err
		}
		return a.checkExpr(target, s.Index, params)
	case *DeleteAllOfList:
		return a.checkListRef(target, s.List, s.Pos)
	case *InsertAtList:
		if err := a.checkListRef(target, s.List, s.Pos); err != nil {
			return err
		}
		if err := a.checkExpr(target, s.Item, params); err != nil {
			return err
		}
		return a.checkExpr(target, s.Index, params)
	case *ReplaceItemOfList:
		if err := a.checkListRef(target, s.List, s.Pos); err != nil {
			return err
		}
		if err := a.checkExpr(target, s.Index, params); err != nil {
			return err
		}
		return a.checkExpr(target, s.Item, params)
	}
	return nil
}

func (a *Analyzer) checkCall(target *Target, call *Call, params map[string]bool) error {
	if owner, member, ok := SplitQualified(call.Name); ok {
		other, found := a.targets[strings.ToLower(owner)]
		if !found {
			return semErr(call.Pos, "unknown sprite '%s' in call '%s'", owner, call.Name)
		}
		info, found := a.scopes[other].procs[strings.ToLower(member)]
		if !found {
			return semErr(call.Pos, "sprite '%s' has no procedure '%s'", other.Name, member)
		}
		if len(call.Args) != len(info.decl.Params) {
			return semErr(call.Pos, "procedure '%s' takes %d argument(s), got %d", call.Name, len(info.decl.Params), len(call.Args))
		}
		return a.checkExprs(target, call.Args, params)
	}
	info, found := a.scopes[target].procs[strings.ToLower(call.Name)]
	if !found {
		if a.relaxed {
			a.warnings = append(a.warnings, Warning{
				Msg: fmt.Sprintf("line %d: unknown procedure '%s' compiled as a no-op", call.Pos.Line, call.Name),
			})
			return a.checkExprs(target, call.Args, params)
		}
		return semErr(call.Pos, "unknown procedure '%s' in %s", call.Name, target.Name)
	}
	// Local calls may only reach procedures already defined above the call
	// site, whether the call sits in a procedure body or an event script.
	if call.Pos.Line > 0 && call.Pos.Line < info.line {
		return semErr(call.Pos, "procedure '%s' is called before its definition on line %d", call.Name, info.line)
	}
	if len(call.Args) != len(info.decl.Params) {
		return semErr(call.Pos, "procedure '%s' takes %d argument(s), got %d", call.Name, len(info.decl.Params), len(call.Args))
	}
	return a.checkExprs(target, call.Args, params)
}

// checkAssignable enforces the write rules: parameters are read-only and a
// sprite can only assign its own variables.
func (a *Analyzer) checkAssignable(target *Target, name string, pos Position, params map[string]bool) error {
	key := strings.ToLower(name)
	if params[key] {
		return semErr(pos, "cannot modify procedure parameter '%s'", name)
	}
	if _, ok := a.scopes[target].vars[key]; ok {
		return nil
	}
	if owner, member, qualified := SplitQualified(name); qualified {
		if other, found := a.targets[strings.ToLower(owner)]; found {
			if _, hasVar := a.scopes[other].vars[strings.ToLower(member)]; hasVar {
				return semErr(pos, "cannot assign to '%s', another sprite's variables are read-only", name)
			}
		}
	}
	if a.variableAnywhere(key) {
		return nil
	}
	return semErr(pos, "unknown variable '%s'", name)
}

func (a *Analyzer) checkExprs(target *Target, exprs []Expr, params map[string]bool) error {
	for _, expr := range exprs {
		if err := a.checkExpr(target, expr, params); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analyzer) checkExpr(target *Target, expr Expr, params map[string]bool) error {
	switch e := expr.(type) {
	case *NumberLit, *StringLit, *Reporter:
		return nil
	case *VarRef:
		return a.checkVarRef(target, e, params)
	case *Grouping:
		return a.checkExpr(target, e.X, params)
	case *Unary:
		return a.checkExpr(target, e.X, params)
	case *Binary:
		if err := a.checkExpr(target, e.L, params); err != nil {
			return err
		}
		return a.checkExpr(target, e.R, params)
	case *PickRandom:
		if err := a.checkExpr(target, e.From, params); err != nil {
			return err
		}
		return a.checkExpr(target, e.To, params)
	case *ListItem:
		if err := a.checkListRef(target, e.List, e.Pos); err != nil {
			return err
		}
		return a.checkExpr(target, e.Index, params)
	case *ListLength:
		return a.checkListRef(target, e.List, e.Pos)
	case *ListContains:
		if err := a.checkListRef(target, e.List, e.Pos); err != nil {
			return err
		}
		return a.checkExpr(target, e.Item, params)
	case *KeyPressed:
		return a.checkExpr(target, e.Key, params)
	case *MathFunc:
		return a.checkExpr(target, e.X, params)
	}
	return nil
}

func (a *Analyzer) checkVarRef(target *Target, ref *VarRef, params map[string]bool) error {
	key := strings.ToLower(ref.Name)
	if params[key] {
		return nil
	}
	if _, ok := a.scopes[target].vars[key]; ok {
		return nil
	}
	if owner, member, qualified := SplitQualified(ref.Name); qualified {
		other, found := a.targets[strings.ToLower(owner)]
		if !found {
			return semErr(ref.Pos, "unknown sprite '%s' in '%s'", owner, ref.Name)
		}
		if _, hasVar := a.scopes[other].vars[strings.ToLower(member)]; !hasVar {
			return semErr(ref.Pos, "sprite '%s' has no variable '%s'", other.Name, member)
		}
		return nil
	}
	if a.variableAnywhere(key) {
		return nil
	}
	return semErr(ref.Pos, "unknown variable '%s'", ref.Name)
}

func (a *Analyzer) checkListRef(target *Target, name string, pos Position) error {
	key := strings.ToLower(name)
	if _, ok := a.scopes[target].lists[key]; ok {
		return nil
	}
	for _, other := range a.project.Targets {
		if _, ok := a.scopes[other].lists[key]; ok {
			return nil
		}
	}
	return semErr(pos, "unknown list '%s'", name)
}

// variableAnywhere reports whether any target declares the variable. Stage
// variables read as globals, and the compiler extends the same courtesy to
// every target's declarations when a local lookup misses.
func (a *Analyzer) variableAnywhere(lowerName string) bool {
	for _, target := range a.project.Targets {
		if _, ok := a.scopes[target].vars[lowerName]; ok {
			return true
		}
	}
	return false
}
