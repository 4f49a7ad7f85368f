package compiler

import (
	"strings"
	"testing"

	"sbtext/pkg/sb3"
	"sbtext/pkg/vfs"
)

func compileSrc(t *testing.T, src string) *Result {
	t.Helper()
	result, err := CompileSource(vfs.NewMem(), src, ".", DefaultOptions())
	if err != nil {
		t.Fatalf("CompileSource failed: %v", err)
	}
	return result
}

func findTarget(t *testing.T, project *sb3.Project, name string) *sb3.Target {
	t.Helper()
	for _, target := range project.Targets {
		if target.Name == name {
			return target
		}
	}
	t.Fatalf("target %q not found", name)
	return nil
}

func blocksByOpcode(target *sb3.Target, opcode string) []*sb3.Block {
	var out []*sb3.Block
	for _, block := range target.Blocks {
		if block.Opcode == opcode {
			out = append(out, block)
		}
	}
	return out
}

func oneBlock(t *testing.T, target *sb3.Target, opcode string) *sb3.Block {
	t.Helper()
	found := blocksByOpcode(target, opcode)
	if len(found) != 1 {
		t.Fatalf("expected exactly one %s block in %s, got %d", opcode, target.Name, len(found))
	}
	return found[0]
}

func hasVariable(target *sb3.Target, name string) (any, bool) {
	for _, entry := range target.Variables {
		if len(entry) == 2 && entry[0] == name {
			return entry[1], true
		}
	}
	return nil, false
}

func TestGenerateSynthesizesStage(t *testing.T) {
	result := compileSrc(t, "sprite Cat\n  when flag clicked\n    show\n  end\nend\n")
	if len(result.Project.Targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(result.Project.Targets))
	}
	stage := result.Project.Targets[0]
	if !stage.IsStage || stage.Name != "Stage" {
		t.Errorf("first target = %q isStage=%v, want synthesized Stage", stage.Name, stage.IsStage)
	}
	if len(stage.Costumes) != 1 || stage.Costumes[0].Name != "backdrop1" {
		t.Errorf("stage costumes = %+v, want default backdrop", stage.Costumes)
	}
}

func TestGenerateHatLayout(t *testing.T) {
	result := compileSrc(t, `
sprite Cat
  define greet
    say ("hi")
  end

  when flag clicked
    greet
  end
end
`)
	cat := findTarget(t, result.Project, "Cat")
	def := oneBlock(t, cat, "procedures_definition")
	if !def.TopLevel || def.X == nil || *def.X != 30 {
		t.Errorf("definition placement = %+v, want topLevel at x=30", def)
	}
	hat := oneBlock(t, cat, "event_whenflagclicked")
	if !hat.TopLevel || hat.X == nil || *hat.X != 320 {
		t.Errorf("hat placement = %+v, want topLevel at x=320", hat)
	}
	if def.Y == nil || hat.Y == nil || *hat.Y <= *def.Y {
		t.Errorf("scripts should stack downward: def y=%v hat y=%v", def.Y, hat.Y)
	}
}

func TestGenerateProcedurePrototype(t *testing.T) {
	result := compileSrc(t, `
sprite Cat
  define !attack (target) (power)
    say (target)
  end

  when flag clicked
    attack (1) (2)
  end
end
`)
	cat := findTarget(t, result.Project, "Cat")
	proto := oneBlock(t, cat, "procedures_prototype")
	if !proto.Shadow {
		t.Error("prototype must be a shadow block")
	}
	m := proto.Mutation
	if m == nil {
		t.Fatal("prototype has no mutation")
	}
	if m.Proccode != "attack %s %s" {
		t.Errorf("proccode = %q", m.Proccode)
	}
	if m.ArgumentNames != `["target","power"]` {
		t.Errorf("argumentnames = %q", m.ArgumentNames)
	}
	if m.Warp != "true" {
		t.Errorf("warp = %q, want \"true\"", m.Warp)
	}
	call := oneBlock(t, cat, "procedures_call")
	if call.Mutation == nil || call.Mutation.Proccode != "attack %s %s" {
		t.Errorf("call mutation = %+v", call.Mutation)
	}
}

func TestGenerateVariableInitializers(t *testing.T) {
	result := compileSrc(t, `
stage
  var score = 42
  var motto = "go"
  var blank
  list names = ["ann", 7]
end
`)
	stage := findTarget(t, result.Project, "Stage")
	if v, ok := hasVariable(stage, "score"); !ok || v != 42.0 {
		t.Errorf("score init = %v (%v)", v, ok)
	}
	if v, ok := hasVariable(stage, "motto"); !ok || v != "go" {
		t.Errorf("motto init = %v (%v)", v, ok)
	}
	if v, ok := hasVariable(stage, "blank"); !ok || v != 0 {
		t.Errorf("blank init = %v (%v), want zero default", v, ok)
	}
	foundList := false
	for _, entry := range stage.Lists {
		if len(entry) == 2 && entry[0] == "names" {
			foundList = true
			items, ok := entry[1].([]any)
			if !ok || len(items) != 2 || items[0] != "ann" || items[1] != 7.0 {
				t.Errorf("names items = %v", entry[1])
			}
		}
	}
	if !foundList {
		t.Error("list 'names' not emitted")
	}
}

func TestGenerateComparisonRewrites(t *testing.T) {
	result := compileSrc(t, `
sprite Cat
  var hp = 1
  when flag clicked
    wait until <(hp) <= (0)>
    wait until <(hp) != (5)>
  end
end
`)
	cat := findTarget(t, result.Project, "Cat")
	if n := len(blocksByOpcode(cat, "operator_or")); n != 1 {
		t.Errorf("operator_or count = %d, want 1", n)
	}
	if n := len(blocksByOpcode(cat, "operator_lt")); n != 1 {
		t.Errorf("operator_lt count = %d, want 1", n)
	}
	if n := len(blocksByOpcode(cat, "operator_not")); n != 1 {
		t.Errorf("operator_not count = %d, want 1", n)
	}
	if n := len(blocksByOpcode(cat, "operator_equals")); n != 2 {
		t.Errorf("operator_equals count = %d, want 2", n)
	}
}

func TestGenerateStop(t *testing.T) {
	result := compileSrc(t, `
sprite Cat
  when flag clicked
    stop ("all")
  end
end
`)
	cat := findTarget(t, result.Project, "Cat")
	stop := oneBlock(t, cat, "control_stop")
	field := stop.Fields["STOP_OPTION"]
	if len(field) == 0 || field[0] != "all" {
		t.Errorf("STOP_OPTION = %v", field)
	}
	if stop.Mutation == nil || stop.Mutation.HasNext != "false" {
		t.Errorf("stop mutation = %+v, want hasnext false", stop.Mutation)
	}
}

func TestGeneratePenExtension(t *testing.T) {
	result := compileSrc(t, `
sprite Cat
  when flag clicked
    pen down
  end
end
`)
	found := false
	for _, ext := range result.Project.Extensions {
		if ext == "pen" {
			found = true
		}
	}
	if !found {
		t.Errorf("extensions = %v, want pen", result.Project.Extensions)
	}
	plain := compileSrc(t, "sprite Cat\n  when flag clicked\n    show\n  end\nend\n")
	if len(plain.Project.Extensions) != 0 {
		t.Errorf("extensions = %v, want none", plain.Project.Extensions)
	}
}

func TestGenerateRemoteCall(t *testing.T) {
	result := compileSrc(t, `
sprite Cat
  when flag clicked
    Dog.bark (3) ("loud")
  end
end

sprite Dog
  define bark (times) (volume)
    say (volume)
  end
end
`)
	stage := findTarget(t, result.Project, "Stage")

	for _, name := range []string{"__rpc__dog__bark__arg1", "__rpc__dog__bark__arg2"} {
		v, ok := hasVariable(stage, name)
		if !ok {
			t.Errorf("stage missing rpc variable %q", name)
			continue
		}
		if v != 0 {
			t.Errorf("%s value = %v, want 0", name, v)
		}
	}
	foundMsg := false
	for _, msg := range stage.Broadcasts {
		if msg == "__rpc__dog__bark" {
			foundMsg = true
		}
	}
	if !foundMsg {
		t.Errorf("stage broadcasts = %v, missing rpc message", stage.Broadcasts)
	}

	cat := findTarget(t, result.Project, "Cat")
	setters := blocksByOpcode(cat, "data_setvariableto")
	if len(setters) != 2 {
		t.Fatalf("caller setter count = %d, want 2", len(setters))
	}
	wait := oneBlock(t, cat, "event_broadcastandwait")
	if wait.TopLevel {
		t.Error("broadcast-and-wait must be part of the caller chain")
	}

	dog := findTarget(t, result.Project, "Dog")
	handler := oneBlock(t, dog, "event_whenbroadcastreceived")
	if !handler.TopLevel || handler.X == nil || *handler.X != 580 {
		t.Errorf("handler placement = %+v, want topLevel at x=580", handler)
	}
	if handler.Next == nil {
		t.Fatal("handler has no body")
	}
	call := dog.Blocks[*handler.Next]
	if call == nil || call.Opcode != "procedures_call" {
		t.Fatalf("handler body = %+v, want procedures_call", call)
	}
	if call.Mutation == nil || call.Mutation.Proccode != "bark %s %s" {
		t.Errorf("handler call mutation = %+v", call.Mutation)
	}
}

func TestGenerateRelaxedUnknownCall(t *testing.T) {
	opts := DefaultOptions()
	opts.Relaxed = true
	result, err := CompileSource(vfs.NewMem(), "sprite Cat\n  when flag clicked\n    jump\n  end\nend\n", ".", opts)
	if err != nil {
		t.Fatalf("relaxed compile failed: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0].Msg, "jump") {
		t.Errorf("warnings = %v", result.Warnings)
	}
	cat := findTarget(t, result.Project, "Cat")
	wait := oneBlock(t, cat, "control_wait")
	input := wait.Inputs["DURATION"]
	if len(input) != 2 {
		t.Fatalf("DURATION input = %v", input)
	}
	shadow, ok := input[1].([]any)
	if !ok || len(shadow) != 2 || shadow[1] != "0" {
		t.Errorf("DURATION shadow = %v, want literal 0", input[1])
	}
}

func TestGenerateDefaultCostume(t *testing.T) {
	result := compileSrc(t, "sprite Cat\nend\n")
	cat := findTarget(t, result.Project, "Cat")
	if len(cat.Costumes) != 1 {
		t.Fatalf("costume count = %d, want 1", len(cat.Costumes))
	}
	costume := cat.Costumes[0]
	if costume.Name != "costume1" || costume.DataFormat != "svg" {
		t.Errorf("costume = %+v", costume)
	}
	if !strings.HasSuffix(costume.MD5Ext, ".svg") || costume.AssetID == "" {
		t.Errorf("asset naming = %+v", costume)
	}
	found := false
	for _, asset := range result.Assets {
		if asset.Name == costume.MD5Ext {
			found = true
		}
	}
	if !found {
		t.Errorf("no asset registered for %s", costume.MD5Ext)
	}
}
