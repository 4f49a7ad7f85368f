package sb3

import (
	"archive/zip"
	"bytes"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	project := NewProject()
	stage := NewStage("Stage")
	stage.Variables["v1"] = []any{"score", 10.0}
	sprite := NewSprite("Cat", 1)
	blockID := "b1"
	sprite.Blocks[blockID] = &Block{
		Opcode:   "event_whenflagclicked",
		Inputs:   map[string][]any{},
		Fields:   map[string][]any{},
		TopLevel: true,
	}
	project.Targets = []*Target{stage, sprite}

	assets := []Asset{
		{Name: "aa.svg", Data: []byte("<svg/>")},
		{Name: "aa.svg", Data: []byte("<svg/>")},
		{Name: "bb.svg", Data: []byte("<svg></svg>")},
	}

	var buf bytes.Buffer
	if err := Write(&buf, project, assets); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, gotAssets, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got.Targets) != 2 || got.Targets[0].Name != "Stage" || got.Targets[1].Name != "Cat" {
		t.Errorf("targets = %+v", got.Targets)
	}
	if !got.Targets[0].IsStage || got.Targets[1].IsStage {
		t.Error("isStage flags lost in round trip")
	}
	block := got.Targets[1].Blocks[blockID]
	if block == nil || block.Opcode != "event_whenflagclicked" || !block.TopLevel {
		t.Errorf("block = %+v", block)
	}
	if len(gotAssets) != 2 {
		t.Errorf("asset count = %d, want deduplicated 2", len(gotAssets))
	}
	if string(gotAssets["bb.svg"]) != "<svg></svg>" {
		t.Errorf("bb.svg = %q", gotAssets["bb.svg"])
	}
}

func TestWriteProjectJSONFirst(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, NewProject(), []Asset{{Name: "aa.svg", Data: []byte("x")}}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	if len(zr.File) == 0 || zr.File[0].Name != "project.json" {
		t.Errorf("first archive entry = %v, want project.json", zr.File)
	}
}

func TestReadMissingProjectJSON(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("aa.svg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Read(bytes.NewReader(buf.Bytes()), int64(buf.Len())); err == nil {
		t.Fatal("expected error for missing project.json")
	}
}

func TestInputBuilders(t *testing.T) {
	if got := NumberInput("10"); got[0] != InputSameBlockShadow {
		t.Errorf("NumberInput = %v", got)
	}
	shadow := StringInput("hi")
	obscured := ObscuredInput("id1", shadow)
	if obscured[0] != InputDiffBlockShadow || obscured[1] != "id1" {
		t.Errorf("ObscuredInput = %v", obscured)
	}
	field := FieldWithID("score", "v1")
	if field[0] != "score" || field[1] != "v1" {
		t.Errorf("FieldWithID = %v", field)
	}
}
