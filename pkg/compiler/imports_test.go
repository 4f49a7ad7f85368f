package compiler

import (
	"errors"
	"strings"
	"testing"

	"sbtext/pkg/vfs"
)

func TestMergeSourceInlinesImports(t *testing.T) {
	fsys := vfs.NewMem()
	fsys.Write("game/main.sbtext", []byte("import [Cat] from \"cat.sbtext\"\n\nstage\nend\n"))
	fsys.Write("game/cat.sbtext", []byte("sprite Cat\nend\n"))

	unit, err := MergeSourceFS(fsys, "game/main.sbtext")
	if err != nil {
		t.Fatalf("MergeSourceFS failed: %v", err)
	}
	text := unit.Text()
	if !strings.Contains(text, "sprite Cat") {
		t.Errorf("merged text missing imported sprite:\n%s", text)
	}
	if strings.Contains(text, "import [") {
		t.Errorf("merged text still contains an import statement:\n%s", text)
	}

	// The inlined sprite header must map back to the imported file.
	lines := strings.Split(text, "\n")
	for i, ln := range lines {
		if strings.HasPrefix(strings.TrimSpace(ln), "sprite Cat") {
			file, origin := unit.Origin(i + 1)
			if file != "game/cat.sbtext" || origin != 1 {
				t.Errorf("origin of sprite header = %s:%d, want game/cat.sbtext:1", file, origin)
			}
		}
	}
}

func TestMergeSourceNestedImports(t *testing.T) {
	fsys := vfs.NewMem()
	fsys.Write("main.sbtext", []byte("import [Cat] from \"cat.sbtext\"\nstage\nend\n"))
	fsys.Write("cat.sbtext", []byte("import [Dog] from \"dog.sbtext\"\nsprite Cat\nend\n"))
	fsys.Write("dog.sbtext", []byte("sprite Dog\nend\n"))

	unit, err := MergeSourceFS(fsys, "main.sbtext")
	if err != nil {
		t.Fatalf("MergeSourceFS failed: %v", err)
	}
	text := unit.Text()
	if !strings.Contains(text, "sprite Dog") || !strings.Contains(text, "sprite Cat") {
		t.Errorf("nested import not inlined:\n%s", text)
	}
}

func TestMergeSourceCycle(t *testing.T) {
	fsys := vfs.NewMem()
	fsys.Write("a.sbtext", []byte("import [B] from \"b.sbtext\"\nsprite A\nend\n"))
	fsys.Write("b.sbtext", []byte("import [A] from \"a.sbtext\"\nsprite B\nend\n"))

	_, err := MergeSourceFS(fsys, "a.sbtext")
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !strings.Contains(err.Error(), "import cycle detected") {
		t.Errorf("error = %q, want cycle message", err.Error())
	}
	if !strings.Contains(err.Error(), "a.sbtext -> b.sbtext -> a.sbtext") {
		t.Errorf("error = %q, want full chain", err.Error())
	}
}

func TestMergeSourceImportAfterCode(t *testing.T) {
	fsys := vfs.NewMem()
	fsys.Write("main.sbtext", []byte("stage\nend\nimport [Cat] from \"cat.sbtext\"\n"))
	fsys.Write("cat.sbtext", []byte("sprite Cat\nend\n"))

	_, err := MergeSourceFS(fsys, "main.sbtext")
	if err == nil {
		t.Fatal("expected error for import after code")
	}
	if !strings.Contains(err.Error(), "before any code") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestMergeSourceImportChecks(t *testing.T) {
	tests := []struct {
		name     string
		imported string
		want     string
	}{
		{
			name:     "wrong sprite name",
			imported: "sprite Dog\nend\n",
			want:     "declares sprite 'Dog', expected 'Cat'",
		},
		{
			name:     "two sprites",
			imported: "sprite Cat\nend\nsprite Dog\nend\n",
			want:     "exactly one sprite",
		},
		{
			name:     "stage in imported file",
			imported: "stage\nend\n",
			want:     "exactly one sprite",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fsys := vfs.NewMem()
			fsys.Write("main.sbtext", []byte("import [Cat] from \"cat.sbtext\"\nstage\nend\n"))
			fsys.Write("cat.sbtext", []byte(tt.imported))
			_, err := MergeSourceFS(fsys, "main.sbtext")
			if err == nil {
				t.Fatal("expected import check error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err.Error(), tt.want)
			}
		})
	}
}

func TestMergeSourceMissingFile(t *testing.T) {
	fsys := vfs.NewMem()
	fsys.Write("main.sbtext", []byte("import [Cat] from \"cat.sbtext\"\nstage\nend\n"))
	_, err := MergeSourceFS(fsys, "main.sbtext")
	if err == nil {
		t.Fatal("expected error for missing import target")
	}
	if !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("error = %q", err.Error())
	}
	var diag *Diagnostic
	if !errors.As(err, &diag) {
		t.Fatalf("error is %T, want *Diagnostic", err)
	}
	if diag.Stage != StageImport {
		t.Errorf("stage = %v, want StageImport", diag.Stage)
	}
}

func TestImportNameMatchIsCaseInsensitive(t *testing.T) {
	fsys := vfs.NewMem()
	fsys.Write("main.sbtext", []byte("import [cat] from \"cat.sbtext\"\nstage\nend\n"))
	fsys.Write("cat.sbtext", []byte("sprite Cat\nend\n"))
	if _, err := MergeSourceFS(fsys, "main.sbtext"); err != nil {
		t.Fatalf("case-insensitive name match failed: %v", err)
	}
}
