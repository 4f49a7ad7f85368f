package compiler

import (
	"strings"
	"testing"
)

func parseSource(t *testing.T, src string) *Project {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	project, err := Parse(tokens, src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return project
}

func parseError(t *testing.T, src, want string) {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	_, err = Parse(tokens, src)
	if err == nil {
		t.Fatalf("expected parse error containing %q, got none", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("expected error containing %q, got %q", want, err.Error())
	}
}

func TestParseDeclarations(t *testing.T) {
	project := parseSource(t, `
sprite Player
  var hp = 100
  var name = "Alex"
  var offset = -4
  list inventory = [1, "sword", 2.5]
  list empty
  costume "player.svg"
end
`)
	if len(project.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(project.Targets))
	}
	target := project.Targets[0]
	if target.Name != "Player" || target.IsStage {
		t.Fatalf("unexpected target %+v", target)
	}
	if len(target.Variables) != 3 {
		t.Fatalf("expected 3 variables, got %d", len(target.Variables))
	}
	if hp := target.Variables[0]; hp.Init == nil || !hp.Init.IsNumber || hp.Init.Num != 100 {
		t.Errorf("hp initializer = %+v, want 100", hp.Init)
	}
	if name := target.Variables[1]; name.Init == nil || name.Init.IsNumber || name.Init.Str != "Alex" {
		t.Errorf("name initializer = %+v, want \"Alex\"", name.Init)
	}
	if offset := target.Variables[2]; offset.Init == nil || offset.Init.Num != -4 {
		t.Errorf("offset initializer = %+v, want -4", offset.Init)
	}
	if len(target.Lists) != 2 {
		t.Fatalf("expected 2 lists, got %d", len(target.Lists))
	}
	inv := target.Lists[0]
	if len(inv.Init) != 3 || inv.Init[1].Str != "sword" || inv.Init[2].Num != 2.5 {
		t.Errorf("inventory initializer = %+v", inv.Init)
	}
	if target.Lists[1].Init != nil {
		t.Errorf("empty list should have nil initializer, got %+v", target.Lists[1].Init)
	}
	if len(target.Costumes) != 1 || target.Costumes[0].Path != "player.svg" {
		t.Errorf("costumes = %+v", target.Costumes)
	}
}

func TestParseProcedureHeader(t *testing.T) {
	project := parseSource(t, `
sprite Bot
  define !attack (target) (power)
    say (target)
  end
end
`)
	procs := project.Targets[0].Procedures
	if len(procs) != 1 {
		t.Fatalf("expected 1 procedure, got %d", len(procs))
	}
	proc := procs[0]
	if proc.Name != "attack" || !proc.Warp {
		t.Errorf("procedure = %+v, want warp attack", proc)
	}
	if len(proc.Params) != 2 || proc.Params[0] != "target" || proc.Params[1] != "power" {
		t.Errorf("params = %v", proc.Params)
	}
	if len(proc.Body) != 1 {
		t.Errorf("body length = %d, want 1", len(proc.Body))
	}
}

func TestParseEventHeaders(t *testing.T) {
	project := parseSource(t, `
sprite Cat
  when flag clicked
    show
  end

  when this sprite clicked
    hide
  end

  when I receive [game over]
    hide
  end

  when [space] key pressed
    show
  end
end
`)
	scripts := project.Targets[0].Scripts
	if len(scripts) != 4 {
		t.Fatalf("expected 4 scripts, got %d", len(scripts))
	}
	wantKinds := []EventKind{EventFlagClicked, EventSpriteClicked, EventMessage, EventKeyPressed}
	for i, kind := range wantKinds {
		if scripts[i].Kind != kind {
			t.Errorf("script %d kind = %v, want %v", i, scripts[i].Kind, kind)
		}
	}
	if scripts[2].Name != "game over" {
		t.Errorf("message name = %q", scripts[2].Name)
	}
	if scripts[3].Name != "space" {
		t.Errorf("key name = %q", scripts[3].Name)
	}
}

func TestParseControlFlow(t *testing.T) {
	project := parseSource(t, `
sprite Cat
  var score = 0

  when flag clicked
    if <(score) > (10)> then
      say ("big")
    else
      say ("small")
    end
    repeat (4)
      move (10) [steps]
    end
    repeat until <(score) = (0)>
      change [score] by (-1)
    end
    while <(score) < (5)>
      change [score] by (1)
    end
    for each [score] in (3)
      say (score)
    end
    forever
      wait (0.1)
    end
  end
end
`)
	body := project.Targets[0].Scripts[0].Body
	if len(body) != 6 {
		t.Fatalf("expected 6 statements, got %d", len(body))
	}
	ifStmt, ok := body[0].(*If)
	if !ok {
		t.Fatalf("statement 0 is %T, want *If", body[0])
	}
	if len(ifStmt.Then) != 1 || len(ifStmt.Else) != 1 {
		t.Errorf("if bodies = %d/%d, want 1/1", len(ifStmt.Then), len(ifStmt.Else))
	}
	if _, ok := body[1].(*Repeat); !ok {
		t.Errorf("statement 1 is %T, want *Repeat", body[1])
	}
	if _, ok := body[2].(*RepeatUntil); !ok {
		t.Errorf("statement 2 is %T, want *RepeatUntil", body[2])
	}
	if _, ok := body[3].(*While); !ok {
		t.Errorf("statement 3 is %T, want *While", body[3])
	}
	forEach, ok := body[4].(*ForEach)
	if !ok {
		t.Fatalf("statement 4 is %T, want *ForEach", body[4])
	}
	if forEach.Var != "score" {
		t.Errorf("for-each var = %q", forEach.Var)
	}
	if _, ok := body[5].(*Forever); !ok {
		t.Errorf("statement 5 is %T, want *Forever", body[5])
	}
}

func TestParsePrecedence(t *testing.T) {
	project := parseSource(t, `
sprite Cat
  var x = 0
  when flag clicked
    set [x] to ((1) + (2) * (3))
  end
end
`)
	set := project.Targets[0].Scripts[0].Body[0].(*SetVar)
	add, ok := set.Value.(*Binary)
	if !ok || add.Op != "+" {
		t.Fatalf("top operator = %+v, want +", set.Value)
	}
	mul, ok := add.R.(*Binary)
	if !ok || mul.Op != "*" {
		t.Fatalf("right operand = %+v, want * node", add.R)
	}
}

func TestParseQualifiedCall(t *testing.T) {
	project := parseSource(t, `
sprite Cat
  when flag clicked
    Enemy.spawn (3) ("fast")
  end
end
`)
	call, ok := project.Targets[0].Scripts[0].Body[0].(*Call)
	if !ok {
		t.Fatalf("statement is %T, want *Call", project.Targets[0].Scripts[0].Body[0])
	}
	if call.Name != "Enemy.spawn" || len(call.Args) != 2 {
		t.Errorf("call = %+v", call)
	}
}

func TestParseStageAndSprite(t *testing.T) {
	project := parseSource(t, `
stage
  var level = 1
end

sprite Cat
  when flag clicked
    show
  end
end
`)
	if len(project.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(project.Targets))
	}
	if !project.Targets[0].IsStage {
		t.Errorf("first target should be the stage")
	}
	if project.Targets[1].Name != "Cat" {
		t.Errorf("second target = %q", project.Targets[1].Name)
	}
}

func TestParseListStatements(t *testing.T) {
	project := parseSource(t, `
sprite Cat
  list inv
  when flag clicked
    add ("sword") to [inv]
    delete (1) of [inv]
    delete all of [inv]
    insert ("shield") at (1) of [inv]
    replace item (1) of [inv] with ("axe")
  end
end
`)
	body := project.Targets[0].Scripts[0].Body
	if _, ok := body[0].(*AddToList); !ok {
		t.Errorf("statement 0 is %T", body[0])
	}
	if _, ok := body[1].(*DeleteOfList); !ok {
		t.Errorf("statement 1 is %T", body[1])
	}
	if _, ok := body[2].(*DeleteAllOfList); !ok {
		t.Errorf("statement 2 is %T", body[2])
	}
	if _, ok := body[3].(*InsertAtList); !ok {
		t.Errorf("statement 3 is %T", body[3])
	}
	replace, ok := body[4].(*ReplaceItemOfList)
	if !ok {
		t.Fatalf("statement 4 is %T", body[4])
	}
	if replace.List != "inv" {
		t.Errorf("replace list = %q", replace.List)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "call inside expression",
			src:  "sprite A\n  when flag clicked\n    say (helper (1))\n  end\nend\n",
			want: "cannot appear inside an expression",
		},
		{
			name: "missing then",
			src:  "sprite A\n  when flag clicked\n    if <(1) = (1)>\n      show\n    end\n  end\nend\n",
			want: "then",
		},
		{
			name: "empty parameter",
			src:  "sprite A\n  define f ()\n  end\nend\n",
			want: "empty parameter",
		},
		{
			name: "empty broadcast message",
			src:  "sprite A\n  when flag clicked\n    broadcast []\n  end\nend\n",
			want: "cannot be empty",
		},
		{
			name: "junk in target body",
			src:  "sprite A\n  banana\nend\n",
			want: "expected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parseError(t, tt.src, tt.want)
		})
	}
}
