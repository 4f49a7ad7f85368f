package compiler

import (
	"fmt"
	"path/filepath"
	"strings"

	"sbtext/pkg/sb3"
	"sbtext/pkg/vfs"
)

func splitLines(src string) []string {
	return strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
}

// Options controls a compile run.
type Options struct {
	// Relaxed downgrades unknown local procedure calls from errors to
	// warnings and compiles them as zero-second waits.
	Relaxed bool
	// ScaleSVGs normalizes SVG costumes to a 64x64 canvas.
	ScaleSVGs bool
	// Progress, when set, receives coarse stage callbacks.
	Progress Progress
}

// DefaultOptions enables SVG scaling and strict call checking.
func DefaultOptions() Options {
	return Options{ScaleSVGs: true}
}

// Progress receives pipeline stage callbacks during a compile.
type Progress interface {
	Stage(name string)
	Step(stage string, step, total int)
}

// Result is the output of a successful compile: the project document, its
// binary assets, and any warnings raised along the way.
type Result struct {
	Project  *sb3.Project
	Assets   []sb3.Asset
	Warnings []Warning
}

// Compile merges the entry file and its imports from the real filesystem and
// compiles them.
func Compile(entry string, opts Options) (*Result, error) {
	return CompileFS(vfs.OS{}, entry, opts)
}

// CompileFS is Compile over an explicit filesystem.
func CompileFS(fsys vfs.FS, entry string, opts Options) (*Result, error) {
	stage(opts, "merge")
	unit, err := MergeSourceFS(fsys, entry)
	if err != nil {
		return nil, err
	}
	return CompileUnit(fsys, unit, filepath.Dir(entry), opts)
}

// CompileSource compiles a single in-memory source with no import
// resolution. Costume paths resolve against sourceDir.
func CompileSource(fsys vfs.FS, src, sourceDir string, opts Options) (*Result, error) {
	unit := &SourceUnit{}
	for i, line := range splitLines(src) {
		unit.Lines = append(unit.Lines, SourceLine{Text: line, File: "<source>", Line: i + 1})
	}
	return CompileUnit(fsys, unit, sourceDir, opts)
}

// CompileUnit runs the lex, parse, analyze and generate stages over a merged
// source unit. Diagnostics are mapped back to the origin file and line of
// the merged line that raised them.
func CompileUnit(fsys vfs.FS, unit *SourceUnit, sourceDir string, opts Options) (*Result, error) {
	src := unit.Text()

	stage(opts, "lex")
	tokens, err := Lex(src)
	if err != nil {
		return nil, remapOrigin(unit, err)
	}

	stage(opts, "parse")
	project, err := Parse(tokens, src)
	if err != nil {
		return nil, remapOrigin(unit, err)
	}

	stage(opts, "analyze")
	warnings, err := Analyze(project, opts.Relaxed)
	if err != nil {
		return nil, remapOrigin(unit, err)
	}

	stage(opts, "generate")
	doc, assets, genWarnings, err := Generate(project, fsys, sourceDir, opts)
	warnings = append(warnings, genWarnings...)
	if err != nil {
		return nil, remapOrigin(unit, wrapCodegen(err))
	}

	return &Result{Project: doc, Assets: assets, Warnings: warnings}, nil
}

func stage(opts Options, name string) {
	if opts.Progress != nil {
		opts.Progress.Stage(name)
	}
}

func wrapCodegen(err error) error {
	if _, ok := err.(*Diagnostic); ok {
		return err
	}
	return &Diagnostic{Stage: StageCodegen, Msg: err.Error()}
}

// remapOrigin fills a diagnostic's File and OriginLine from the merged
// source unit so the message points at the file the author wrote.
func remapOrigin(unit *SourceUnit, err error) error {
	diag, ok := err.(*Diagnostic)
	if !ok || diag.Pos.Line <= 0 {
		return err
	}
	file, line := unit.Origin(diag.Pos.Line)
	if file != "" && file != "<source>" {
		diag.File = file
		diag.OriginLine = line
	}
	return diag
}

// ConfigurationError reports an invalid option or flag combination.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Msg)
}
