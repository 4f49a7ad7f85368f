package compiler

import (
	"strings"
	"testing"
)

func analyzeSource(t *testing.T, src string, relaxed bool) ([]Warning, error) {
	t.Helper()
	tokens, err := Lex(src)
	if err != nil {
		t.Fatalf("Lex failed: %v", err)
	}
	project, err := Parse(tokens, src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return Analyze(project, relaxed)
}

func TestAnalyzeAccepts(t *testing.T) {
	src := `
stage
  var level = 1
end

sprite Cat
  var hp = 10
  list inv

  define heal (amount)
    change [hp] by (amount)
  end

  when flag clicked
    heal (5)
    set [hp] to ((hp) + (level))
    add ("fish") to [inv]
    say (Dog.mood)
  end
end

sprite Dog
  var mood = "calm"
end
`
	warnings, err := analyzeSource(t, src, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("unexpected warnings: %v", warnings)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "duplicate target",
			src:  "sprite Cat\nend\nsprite cat\nend\n",
			want: "duplicate target name",
		},
		{
			name: "two stages",
			src:  "stage\nend\nstage\nend\n",
			want: "duplicate target name",
		},
		{
			name: "duplicate variable",
			src:  "sprite Cat\n  var hp\n  var HP\nend\n",
			want: "duplicate variable",
		},
		{
			name: "variable and list share a name",
			src:  "sprite Cat\n  var hp\n  list hp\nend\n",
			want: "both a variable and a list",
		},
		{
			name: "duplicate procedure",
			src:  "sprite Cat\n  define f\n  end\n  define f\n  end\nend\n",
			want: "duplicate procedure",
		},
		{
			name: "duplicate parameter",
			src:  "sprite Cat\n  define f (a) (a)\n  end\nend\n",
			want: "duplicate parameter",
		},
		{
			name: "unknown procedure",
			src:  "sprite Cat\n  when flag clicked\n    jump (1)\n  end\nend\n",
			want: "unknown procedure 'jump'",
		},
		{
			name: "forward reference inside procedure",
			src:  "sprite Cat\n  define f\n    g\n  end\n  define g\n  end\nend\n",
			want: "called before its definition",
		},
		{
			name: "forward reference inside event script",
			src:  "sprite Cat\n  when flag clicked\n    g\n  end\n  define g\n  end\nend\n",
			want: "called before its definition",
		},
		{
			name: "arity mismatch",
			src:  "sprite Cat\n  define f (a)\n  end\n  when flag clicked\n    f (1) (2)\n  end\nend\n",
			want: "takes 1 argument(s), got 2",
		},
		{
			name: "assign to parameter",
			src:  "sprite Cat\n  define f (a)\n    set [a] to (1)\n  end\nend\n",
			want: "cannot modify procedure parameter",
		},
		{
			name: "assign to another sprite's variable",
			src:  "sprite Cat\n  when flag clicked\n    set [Dog.mood] to (1)\n  end\nend\nsprite Dog\n  var mood\nend\n",
			want: "read-only",
		},
		{
			name: "unknown variable",
			src:  "sprite Cat\n  when flag clicked\n    say (score)\n  end\nend\n",
			want: "unknown variable 'score'",
		},
		{
			name: "unknown sprite in qualified read",
			src:  "sprite Cat\n  when flag clicked\n    say (Dog.mood)\n  end\nend\n",
			want: "unknown sprite 'Dog'",
		},
		{
			name: "unknown list",
			src:  "sprite Cat\n  when flag clicked\n    add (1) to [inv]\n  end\nend\n",
			want: "unknown list 'inv'",
		},
		{
			name: "qualified call to missing procedure",
			src:  "sprite Cat\n  when flag clicked\n    Dog.bark\n  end\nend\nsprite Dog\nend\n",
			want: "has no procedure 'bark'",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := analyzeSource(t, tt.src, false)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestAnalyzeRelaxedUnknownCall(t *testing.T) {
	src := "sprite Cat\n  when flag clicked\n    jump (1)\n  end\nend\n"
	warnings, err := analyzeSource(t, src, true)
	if err != nil {
		t.Fatalf("relaxed mode should not fail on unknown calls: %v", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
	if !strings.Contains(warnings[0].Msg, "unknown procedure 'jump'") {
		t.Errorf("warning = %q", warnings[0].Msg)
	}
}

func TestAnalyzeStageVariableReadsAsGlobal(t *testing.T) {
	src := `
stage
  var score
end

sprite Cat
  when flag clicked
    say (score)
  end
end
`
	if _, err := analyzeSource(t, src, false); err != nil {
		t.Fatalf("stage variable should be readable from sprites: %v", err)
	}
}
