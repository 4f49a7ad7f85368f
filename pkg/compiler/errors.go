package compiler

import "fmt"

// Stage names the pipeline phase that produced a diagnostic.
type Stage int

const (
	StageConfig Stage = iota
	StageImport
	StageLex
	StageParse
	StageSemantic
	StageCodegen
)

var stageNames = [...]string{
	StageConfig:   "config",
	StageImport:   "import",
	StageLex:      "lex",
	StageParse:    "parse",
	StageSemantic: "semantic",
	StageCodegen:  "codegen",
}

func (s Stage) String() string {
	if int(s) >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// Diagnostic is an error raised by one pipeline stage. Pos locates it in the
// merged source; File/OriginLine are filled in once the position has been
// mapped back through the origin map, so user-facing messages always name the
// file the author actually wrote.
type Diagnostic struct {
	Stage      Stage
	Msg        string
	Pos        Position
	Snippet    string // trimmed source line, when available
	File       string // origin file after mapping
	OriginLine int    // origin line after mapping
}

func (d *Diagnostic) Error() string {
	loc := ""
	switch {
	case d.File != "":
		loc = fmt.Sprintf(" (file '%s', line %d, column %d)", d.File, d.OriginLine, d.Pos.Col)
	case d.Pos.Line > 0:
		loc = fmt.Sprintf(" (line %d, column %d)", d.Pos.Line, d.Pos.Col)
	}
	msg := fmt.Sprintf("%s error: %s%s", d.Stage, d.Msg, loc)
	if d.Snippet != "" {
		msg += fmt.Sprintf("\n  |> %s", d.Snippet)
	}
	return msg
}

// Warning is a non-fatal finding surfaced alongside a successful compile.
type Warning struct {
	Msg string
}

func (w Warning) String() string { return w.Msg }
